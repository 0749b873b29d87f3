package upload_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/thumbnailer/internal/api/handlers/upload"
	"github.com/aliskhannn/thumbnailer/internal/api/router"
	"github.com/aliskhannn/thumbnailer/internal/model"
	"github.com/aliskhannn/thumbnailer/internal/queue"
	filerepo "github.com/aliskhannn/thumbnailer/internal/repository/file"
)

type fakeService struct {
	uploads []string
	err     error
	errFrom int // uploads before this one succeed; 0 fails every upload when err is set
	files   map[uint64]model.File
	deleted []uint64
}

func (s *fakeService) Upload(_ context.Context, originalName, ext string, src io.Reader) (model.Job, error) {
	if s.err != nil && len(s.uploads) >= s.errFrom {
		return model.Job{}, s.err
	}
	if _, err := io.ReadAll(src); err != nil {
		return model.Job{}, err
	}
	s.uploads = append(s.uploads, originalName)
	id := uint64(len(s.uploads))
	return model.NewJob(id, fmt.Sprintf("stored-%d.%s", id, ext), "uploads"), nil
}

func (s *fakeService) Delete(_ context.Context, id uint64) error {
	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("delete: %w", filerepo.ErrFileNotFound)
	}
	delete(s.files, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeService) Get(_ context.Context, id uint64) (model.File, error) {
	f, ok := s.files[id]
	if !ok {
		return model.File{}, fmt.Errorf("get: %w", filerepo.ErrFileNotFound)
	}
	return f, nil
}

type part struct {
	field, filename, contentType string
	data                         []byte
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, imaging.New(20, 10, color.Black)))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		h.Set("Content-Type", p.contentType)
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(h *upload.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.Setup(h).ServeHTTP(rec, req)
	return rec
}

type uploadResponse struct {
	Result upload.UploadResult `json:"result"`
}

func TestUploadAcceptsImages(t *testing.T) {
	svc := &fakeService{}
	img := pngBytes(t)

	rec := serve(upload.NewHandler(svc, 1), multipartRequest(t,
		part{"b", "second.PNG", "image/png", img},
		part{"a", "first.png", "image/png", img},
	))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Result.Accepted, 2)
	assert.Empty(t, resp.Result.Skipped)

	// Fields are handled in name order.
	assert.Equal(t, []string{"first.png", "second.PNG"}, svc.uploads)
	assert.Equal(t, "stored-2.png", resp.Result.Accepted[1].FileName)
}

func TestUploadSkipsNonImages(t *testing.T) {
	svc := &fakeService{}
	img := pngBytes(t)

	rec := serve(upload.NewHandler(svc, 1), multipartRequest(t,
		part{"a", "ok.png", "image/png", img},
		part{"b", "notes.txt", "text/plain", []byte("hello")},
		part{"c", "script.sh", "image/png", img},
		part{"d", "fake.png", "image/png", []byte("not really a png")},
	))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Result.Accepted, 1)
	assert.Equal(t, "ok.png", resp.Result.Accepted[0].OriginalName)

	require.Len(t, resp.Result.Skipped, 3)
	assert.Equal(t, "notes.txt", resp.Result.Skipped[0].OriginalName)
	assert.Contains(t, resp.Result.Skipped[0].Reason, "content type")
	assert.Contains(t, resp.Result.Skipped[1].Reason, "extension")
	assert.Contains(t, resp.Result.Skipped[2].Reason, "decodable")
	assert.Equal(t, []string{"ok.png"}, svc.uploads)
}

func TestUploadWithoutImages(t *testing.T) {
	svc := &fakeService{}

	rec := serve(upload.NewHandler(svc, 1), multipartRequest(t,
		part{"a", "notes.txt", "text/plain", []byte("hello")},
	))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.uploads)
}

func TestUploadRejectsNonMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")

	rec := serve(upload.NewHandler(&fakeService{}, 1), req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadServiceFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"storage failure", errors.New("disk full"), http.StatusInternalServerError},
		{"queue closed", fmt.Errorf("upload: failed to enqueue job 1: %w", queue.ErrClosed), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(upload.NewHandler(&fakeService{err: tt.err}, 1), multipartRequest(t,
				part{"a", "ok.png", "image/png", pngBytes(t)},
			))

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHealth(t *testing.T) {
	rec := serve(upload.NewHandler(&fakeService{}, 1), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"ok"}`, rec.Body.String())
}

func TestGetMeta(t *testing.T) {
	svc := &fakeService{files: map[uint64]model.File{
		7: {ID: 7, FileName: "abc.png", Directory: "uploads", Type: model.FileTypeImage, Origin: model.OriginWeb},
	}}
	h := upload.NewHandler(svc, 1)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/files/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Result model.File `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc.png", resp.Result.FileName)

	assert.Equal(t, http.StatusNotFound, serve(h, httptest.NewRequest(http.MethodGet, "/files/8", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, httptest.NewRequest(http.MethodGet, "/files/abc", nil)).Code)
}

func TestUploadFailureKeepsAcceptedFiles(t *testing.T) {
	svc := &fakeService{err: errors.New("disk full"), errFrom: 1}
	img := pngBytes(t)

	rec := serve(upload.NewHandler(svc, 1), multipartRequest(t,
		part{"a", "first.png", "image/png", img},
		part{"b", "second.png", "image/png", img},
	))

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp struct {
		Message string              `json:"message"`
		Details upload.UploadResult `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Message, "second.png")
	require.Len(t, resp.Details.Accepted, 1)
	assert.Equal(t, "first.png", resp.Details.Accepted[0].OriginalName)
	assert.Equal(t, uint64(1), resp.Details.Accepted[0].ID)
}

func TestDelete(t *testing.T) {
	svc := &fakeService{files: map[uint64]model.File{
		7: {ID: 7, FileName: "abc.png", Directory: "uploads"},
	}}
	h := upload.NewHandler(svc, 1)

	rec := serve(h, httptest.NewRequest(http.MethodDelete, "/files/7", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uint64{7}, svc.deleted)

	assert.Equal(t, http.StatusNotFound, serve(h, httptest.NewRequest(http.MethodDelete, "/files/7", nil)).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, httptest.NewRequest(http.MethodGet, "/files/7", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, httptest.NewRequest(http.MethodDelete, "/files/abc", nil)).Code)
}
