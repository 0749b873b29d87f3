package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // registers gif for DecodeConfig
	_ "image/jpeg" // registers jpeg for DecodeConfig
	_ "image/png"  // registers png for DecodeConfig
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"
	_ "golang.org/x/image/bmp"  // registers bmp for DecodeConfig
	_ "golang.org/x/image/webp" // registers webp for DecodeConfig

	"github.com/aliskhannn/thumbnailer/internal/api/respond"
	"github.com/aliskhannn/thumbnailer/internal/model"
	"github.com/aliskhannn/thumbnailer/internal/queue"
	filerepo "github.com/aliskhannn/thumbnailer/internal/repository/file"
)

// DefaultMaxUploadMB bounds the request body when no limit is configured.
const DefaultMaxUploadMB = 10

// allowedExtensions lists the accepted image extensions, lower case and without the dot.
var allowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"bmp":  {},
	"webp": {},
}

// service defines the interface for upload-related operations.
type service interface {
	Upload(ctx context.Context, originalName, ext string, src io.Reader) (model.Job, error)
	Get(ctx context.Context, id uint64) (model.File, error)
	Delete(ctx context.Context, id uint64) error
}

// Handler provides HTTP handlers for the upload endpoints.
type Handler struct {
	service  service
	maxBytes int64
}

// NewHandler creates a new Handler. maxUploadMB limits the whole request body.
func NewHandler(s service, maxUploadMB int64) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = DefaultMaxUploadMB
	}

	return &Handler{service: s, maxBytes: maxUploadMB << 20}
}

// Accepted describes a stored upload.
type Accepted struct {
	ID           uint64 `json:"id"`
	FileName     string `json:"file_name"`
	OriginalName string `json:"original_name"`
}

// Skipped describes a multipart file that was not stored.
type Skipped struct {
	Field        string `json:"field"`
	OriginalName string `json:"original_name"`
	Reason       string `json:"reason"`
}

// UploadResult is the body of a successful upload response.
type UploadResult struct {
	Accepted []Accepted `json:"accepted"`
	Skipped  []Skipped  `json:"skipped"`
}

// Health answers liveness checks.
func (h *Handler) Health(c *ginext.Context) {
	respond.OK(c, "ok")
}

// Upload handles a multipart request carrying one or more images.
// Every file field is checked; images are stored and queued for thumbnailing,
// anything else is reported as skipped.
func (h *Handler) Upload(c *ginext.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)

	if err := c.Request.ParseMultipartForm(h.maxBytes); err != nil {
		zlog.Logger.Err(err).Msg("failed to parse multipart form")

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", h.maxBytes))
			return
		}
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("parse multipart form failed: %v", err))
		return
	}
	defer func() {
		_ = c.Request.MultipartForm.RemoveAll()
	}()

	result := UploadResult{Accepted: []Accepted{}, Skipped: []Skipped{}}

	fields := make([]string, 0, len(c.Request.MultipartForm.File))
	for field := range c.Request.MultipartForm.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		for _, header := range c.Request.MultipartForm.File[field] {
			data, ext, reason := readImage(header)
			if reason != "" {
				zlog.Logger.Warn().Str("field", field).Str("file", header.Filename).Str("reason", reason).Msg("skipping upload")
				result.Skipped = append(result.Skipped, Skipped{Field: field, OriginalName: header.Filename, Reason: reason})
				continue
			}

			job, err := h.service.Upload(c.Request.Context(), header.Filename, ext, bytes.NewReader(data))
			if err != nil {
				zlog.Logger.Err(err).Str("file", header.Filename).Msg("failed to store upload")
				// Files accepted before the failure are stored and queued.
				status, msg := http.StatusInternalServerError, fmt.Sprintf("failed to store %s", header.Filename)
				if errors.Is(err, queue.ErrClosed) {
					status, msg = http.StatusServiceUnavailable, "server is shutting down"
				}
				respond.JSON(c, status, respond.Error{Message: msg, Details: result})
				return
			}

			zlog.Logger.Info().Uint64("job_id", job.ID).Str("file", job.FileName).Str("original", header.Filename).Msg("upload queued")
			result.Accepted = append(result.Accepted, Accepted{ID: job.ID, FileName: job.FileName, OriginalName: header.Filename})
		}
	}

	if len(result.Accepted) == 0 {
		respond.JSON(c, http.StatusBadRequest, respond.Error{Message: "no acceptable image in request", Details: result.Skipped})
		return
	}

	respond.OK(c, result)
}

// GetMeta returns the stored row of an upload without serving the file itself.
func (h *Handler) GetMeta(c *ginext.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return
	}

	f, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, filerepo.ErrFileNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("file not found"))
			return
		}

		zlog.Logger.Err(err).Uint64("id", id).Msg("failed to get file")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to get file"))
		return
	}

	respond.OK(c, f)
}

// Delete removes an upload, its thumbnail and its row.
func (h *Handler) Delete(c *ginext.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, filerepo.ErrFileNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("file not found"))
			return
		}

		zlog.Logger.Err(err).Uint64("id", id).Msg("failed to delete file")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to delete file"))
		return
	}

	zlog.Logger.Info().Uint64("id", id).Msg("upload deleted")
	c.Status(http.StatusNoContent)
}

// readImage returns the bytes and normalized extension of an acceptable image,
// or the reason it was rejected.
func readImage(header *multipart.FileHeader) ([]byte, string, string) {
	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Sprintf("content type %q is not an image", contentType)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if _, ok := allowedExtensions[ext]; !ok {
		return nil, "", fmt.Sprintf("extension %q is not allowed", ext)
	}

	f, err := header.Open()
	if err != nil {
		return nil, "", fmt.Sprintf("failed to open part: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Sprintf("failed to read part: %v", err)
	}

	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, "", fmt.Sprintf("not a decodable image: %v", err)
	}

	return data, ext, ""
}
