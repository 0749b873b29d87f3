package upload

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/thumbnailer/internal/model"
	"github.com/aliskhannn/thumbnailer/internal/processor"
)

// fileStorage defines the interface for storing uploaded originals.
type fileStorage interface {
	Save(filename string, src io.Reader) (string, error)
	Remove(filename string) error
	Dir() string
}

// repository records stored files and assigns their ids.
type repository interface {
	Insert(ctx context.Context, f model.File) (uint64, error)
	Get(ctx context.Context, id uint64) (model.File, error)
	Delete(ctx context.Context, id uint64) error
}

// producer enqueues thumbnail jobs.
type producer interface {
	Push(ctx context.Context, job model.Job) error
}

// mirror holds the bucket copies of thumbnails.
type mirror interface {
	Delete(ctx context.Context, objectName string) error
}

// Service stores uploaded images and hands them to the thumbnail workers.
type Service struct {
	fileStorage fileStorage
	repo        repository
	producer    producer
	mirror      mirror
}

// NewService creates a new Service with the given storage, repository and queue.
// m may be nil when thumbnails are not mirrored.
func NewService(fs fileStorage, r repository, p producer, m mirror) *Service {
	return &Service{fileStorage: fs, repo: r, producer: p, mirror: m}
}

// Upload saves src under a fresh collision-resistant name with extension ext,
// records it and enqueues its thumbnail job. The job is pushed only after the
// file has been synced to disk and the row inserted.
func (s *Service) Upload(ctx context.Context, originalName, ext string, src io.Reader) (model.Job, error) {
	filename := uuid.NewString() + "." + strings.ToLower(strings.TrimPrefix(ext, "."))

	if _, err := s.fileStorage.Save(filename, src); err != nil {
		return model.Job{}, fmt.Errorf("upload: failed to save file: %w", err)
	}

	id, err := s.repo.Insert(ctx, model.File{
		FileName:     filename,
		Directory:    s.fileStorage.Dir(),
		Type:         model.FileTypeImage,
		OriginalName: originalName,
		Origin:       model.OriginWeb,
	})
	if err != nil {
		// Nothing references the file yet.
		if rmErr := s.fileStorage.Remove(filename); rmErr != nil {
			zlog.Logger.Err(rmErr).Str("file", filename).Msg("failed to remove orphaned upload")
		}
		return model.Job{}, fmt.Errorf("upload: failed to record file: %w", err)
	}

	job := model.NewJob(id, filename, s.fileStorage.Dir())
	if err := s.producer.Push(ctx, job); err != nil {
		return model.Job{}, fmt.Errorf("upload: failed to enqueue job %d: %w", id, err)
	}

	return job, nil
}

// Get returns the stored row of an uploaded file.
func (s *Service) Get(ctx context.Context, id uint64) (model.File, error) {
	f, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.File{}, fmt.Errorf("get: %w", err)
	}

	return f, nil
}

// Delete removes the row of an upload, then its original, its thumbnail and
// the mirrored copy. File removal failures are logged and do not fail the call.
func (s *Service) Delete(ctx context.Context, id uint64) error {
	f, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	thumb := processor.ThumbnailName(f.FileName)

	for _, name := range []string{f.FileName, filepath.Join(processor.ThumbnailDir, thumb)} {
		if err := s.fileStorage.Remove(name); err != nil {
			zlog.Logger.Warn().Err(err).Uint64("id", id).Str("file", name).Msg("failed to remove file")
		}
	}

	if s.mirror != nil {
		object := path.Join(processor.ThumbnailDir, thumb)
		if err := s.mirror.Delete(ctx, object); err != nil {
			zlog.Logger.Warn().Err(err).Uint64("id", id).Str("object", object).Msg("failed to remove mirrored thumbnail")
		}
	}

	return nil
}
