package file

import (
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Bucket mirrors generated thumbnails to an S3-compatible bucket using MinIO.
type Bucket struct {
	client     *minio.Client
	bucketName string
}

// NewBucket creates a new Bucket connected to the specified MinIO server.
// If the bucket does not exist, it will be created automatically.
func NewBucket(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*Bucket, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Bucket{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Save uploads the local file at src to subdir/filename in the bucket.
// Returns the object name within the bucket.
func (b *Bucket) Save(ctx context.Context, subdir, filename, src string) (string, error) {
	objectName := path.Join(subdir, filename)

	_, err := b.client.FPutObject(ctx, b.bucketName, objectName, src, minio.PutObjectOptions{
		ContentType: contentType(filename),
	})
	if err != nil {
		return "", fmt.Errorf("failed to mirror file: %w", err)
	}

	return objectName, nil
}

// Delete removes the specified object from the bucket.
func (b *Bucket) Delete(ctx context.Context, objectName string) error {
	return b.client.RemoveObject(ctx, b.bucketName, objectName, minio.RemoveObjectOptions{})
}
