package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/image/font/basicfont"
	_ "golang.org/x/image/webp" // registers the webp decoder for imaging.Open

	"github.com/aliskhannn/thumbnailer/internal/model"
)

const (
	// ThumbnailDir is the subdirectory of the job directory receiving thumbnails.
	ThumbnailDir = "thumbnails"

	// DefaultWidth and DefaultHeight bound the thumbnail box.
	DefaultWidth  = 200
	DefaultHeight = 200
)

// ErrSourceMissing is wrapped when the original file does not exist.
var ErrSourceMissing = errors.New("source image missing")

// Error describes a failed thumbnail computation.
type Error struct {
	Op   string // open, decode, mkdir, save
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("thumbnail %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// mirror receives a copy of every thumbnail, e.g. an S3 bucket.
type mirror interface {
	Save(ctx context.Context, subdir, filename, path string) (string, error)
}

// Options tune the generated thumbnails.
type Options struct {
	Width     int
	Height    int
	Watermark string
}

// Thumbnailer turns an uploaded image into a bounded, aspect-preserving thumbnail.
// It is safe for concurrent use.
type Thumbnailer struct {
	width     int
	height    int
	watermark string
	mirror    mirror
}

// New creates a Thumbnailer. m may be nil to disable mirroring.
func New(opts Options, m mirror) *Thumbnailer {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}

	return &Thumbnailer{
		width:     opts.Width,
		height:    opts.Height,
		watermark: opts.Watermark,
		mirror:    m,
	}
}

// ThumbnailName returns "<stem>_thumb.<ext>" for a stored file name.
// A name without a stem, such as ".png", becomes "<name>_thumb".
func ThumbnailName(fileName string) string {
	ext := filepath.Ext(fileName)
	stem := strings.TrimSuffix(fileName, ext)
	if stem == "" {
		return fileName + "_thumb"
	}
	if ext == "" {
		ext = ".jpg"
	}

	return stem + "_thumb" + ext
}

// ThumbnailPath returns where the thumbnail of job is written.
func ThumbnailPath(job model.Job) string {
	return filepath.Join(job.Dir, ThumbnailDir, ThumbnailName(job.FileName))
}

// Generate reads the job's original, fits it inside the configured box and
// writes it to Dir/thumbnails. It returns the thumbnail path. A failed mirror
// copy is logged and does not fail the job: the local thumbnail is the result.
func (t *Thumbnailer) Generate(ctx context.Context, job model.Job) (string, error) {
	src := job.SourcePath()

	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &Error{Op: "open", Path: src, Err: ErrSourceMissing}
		}
		return "", &Error{Op: "open", Path: src, Err: err}
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", &Error{Op: "decode", Path: src, Err: err}
	}

	// Fit keeps the aspect ratio and never upscales or crops.
	thumb := image.Image(imaging.Fit(img, t.width, t.height, imaging.Lanczos))

	if t.watermark != "" {
		thumb = t.drawWatermark(thumb)
	}

	dst := ThumbnailPath(job)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", &Error{Op: "mkdir", Path: filepath.Dir(dst), Err: err}
	}

	if err := imaging.Save(thumb, dst); err != nil {
		return "", &Error{Op: "save", Path: dst, Err: err}
	}

	if t.mirror != nil {
		if _, err := t.mirror.Save(ctx, ThumbnailDir, filepath.Base(dst), dst); err != nil {
			zlog.Logger.Warn().Err(err).Uint64("job_id", job.ID).Str("thumbnail", dst).Msg("failed to mirror thumbnail")
		}
	}

	return dst, nil
}

// drawWatermark adds the watermark text to the bottom-right corner.
func (t *Thumbnailer) drawWatermark(img image.Image) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetFontFace(basicfont.Face7x13)

	margin := 4.0
	x := float64(dc.Width()) - margin
	y := float64(dc.Height()) - margin

	// Dark offset copy under the text.
	dc.SetColor(color.RGBA{A: 160})
	dc.DrawStringAnchored(t.watermark, x+1, y+1, 1, 0)
	dc.SetColor(color.White)
	dc.DrawStringAnchored(t.watermark, x, y, 1, 0)

	return dc.Image()
}
