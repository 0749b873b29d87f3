package file

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aliskhannn/thumbnailer/internal/config"
	"github.com/aliskhannn/thumbnailer/internal/model"
)

var ErrFileNotFound = errors.New("file not found")

// querier is satisfied by both *dbpg.DB and *sql.DB.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Repository stores one row per uploaded file.
type Repository struct {
	db      querier
	driver  string
	closeFn func() error
}

// NewRepository creates a new Repository over db. Queries are written with
// "?" placeholders and rebound for postgres.
func NewRepository(db querier, driver string) *Repository {
	return &Repository{db: db, driver: driver, closeFn: func() error { return nil }}
}

// Insert stores f and returns the id assigned by the database.
func (r *Repository) Insert(ctx context.Context, f model.File) (uint64, error) {
	query := `
		INSERT INTO files (file_name, directory, type, original_name, origin, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	var id int64
	err := r.db.QueryRowContext(
		ctx, r.rebind(query), f.FileName, f.Directory, f.Type, f.OriginalName, f.Origin, f.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert: failed to save file: %w", err)
	}

	return uint64(id), nil
}

// Get retrieves a file row by id.
func (r *Repository) Get(ctx context.Context, id uint64) (model.File, error) {
	query := `
		SELECT file_name, directory, type, original_name, origin, created_at
		FROM files
		WHERE id = ?
	`

	f := model.File{ID: id}
	err := r.db.QueryRowContext(ctx, r.rebind(query), int64(id)).
		Scan(&f.FileName, &f.Directory, &f.Type, &f.OriginalName, &f.Origin, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.File{}, ErrFileNotFound
		}

		return model.File{}, fmt.Errorf("get: failed to get file: %w", err)
	}

	return f, nil
}

// Delete removes a file row by id.
func (r *Repository) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM files WHERE id = ?`), int64(id))
	if err != nil {
		return fmt.Errorf("delete: failed to delete file: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete: failed to get number of rows affected: %w", err)
	}

	if n == 0 {
		return ErrFileNotFound
	}

	return nil
}

// Close releases the underlying connections when the repository owns them.
func (r *Repository) Close() error {
	return r.closeFn()
}

// rebind turns "?" placeholders into "$1".."$n" for postgres.
func (r *Repository) rebind(query string) string {
	if r.driver != config.DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}

	return b.String()
}
