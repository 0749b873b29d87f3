package file

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const locationXML = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/">us-east-1</LocationConstraint>`

// fakeS3 answers the handful of S3 calls a Bucket makes and records object operations.
type fakeS3 struct {
	bucket string

	mu      sync.Mutex
	exists  bool
	objects map[string]int // object name -> size
	calls   []string
}

func newFakeS3(t *testing.T, bucket string, exists bool) (*fakeS3, string) {
	t.Helper()

	f := &fakeS3{bucket: bucket, exists: exists, objects: make(map[string]int)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	return f, u.Host
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, object, _ := strings.Cut(path, "/")

	if bucket != f.bucket {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if object == "" {
		switch {
		case r.Method == http.MethodGet && r.URL.Query().Has("location"):
			w.Header().Set("Content-Type", "application/xml")
			_, _ = io.WriteString(w, locationXML)
		case r.Method == http.MethodHead:
			if !f.exists {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPut:
			f.exists = true
			f.calls = append(f.calls, "create "+bucket)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
		return
	}

	switch r.Method {
	case http.MethodPut:
		f.objects[object] = len(body)
		f.calls = append(f.calls, "put "+object)
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, object)
		f.calls = append(f.calls, "delete "+object)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (f *fakeS3) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeS3) has(object string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[object]
	return ok
}

func TestBucketMirrorsAndDeletes(t *testing.T) {
	s3, endpoint := newFakeS3(t, "mirror", true)
	ctx := context.Background()

	b, err := NewBucket(ctx, endpoint, "key", "secret", "mirror", false)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "abc_thumb.png")
	require.NoError(t, os.WriteFile(src, []byte("thumbnail bytes"), 0o644))

	name, err := b.Save(ctx, "thumbnails", "abc_thumb.png", src)
	require.NoError(t, err)
	assert.Equal(t, "thumbnails/abc_thumb.png", name)
	assert.True(t, s3.has(name))

	require.NoError(t, b.Delete(ctx, name))
	assert.False(t, s3.has(name))

	assert.Equal(t, []string{"put thumbnails/abc_thumb.png", "delete thumbnails/abc_thumb.png"}, s3.recorded())
}

func TestNewBucketCreatesMissingBucket(t *testing.T) {
	s3, endpoint := newFakeS3(t, "mirror", false)

	_, err := NewBucket(context.Background(), endpoint, "key", "secret", "mirror", false)

	require.NoError(t, err)
	assert.Equal(t, []string{"create mirror"}, s3.recorded())
}
