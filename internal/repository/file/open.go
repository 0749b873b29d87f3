package file

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
	_ "modernc.org/sqlite"

	"github.com/aliskhannn/thumbnailer/internal/config"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// Open connects to the configured database, applies the migrations and returns
// a Repository owning the connections.
func Open(ctx context.Context, cfg config.Database, s retry.Strategy) (*Repository, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return openSQLite(cfg.Path)
	case config.DriverPostgres:
		return openPostgres(ctx, cfg, s)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func openSQLite(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer connection for SQLite.
	db.SetMaxOpenConns(1)

	if err := migrate(db, "sqlite3", "migrations/sqlite"); err != nil {
		_ = db.Close()
		return nil, err
	}

	r := NewRepository(db, config.DriverSQLite)
	r.closeFn = db.Close

	return r, nil
}

func openPostgres(ctx context.Context, cfg config.Database, s retry.Strategy) (*Repository, error) {
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	// Collect slave DSNs for replica connections.
	slaveDSNs := make([]string, 0, len(cfg.Slaves))
	for _, n := range cfg.Slaves {
		slaveDSNs = append(slaveDSNs, n.DSN())
	}

	db, err := dbpg.New(cfg.MasterDSN(), slaveDSNs, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	err = retry.Do(func() error {
		return db.Master.PingContext(ctx)
	}, s)
	if err != nil {
		_ = closeAll(db)
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(db.Master, "postgres", "migrations/postgres"); err != nil {
		_ = closeAll(db)
		return nil, err
	}

	r := NewRepository(db, config.DriverPostgres)
	r.closeFn = func() error { return closeAll(db) }

	return r, nil
}

func migrate(db *sql.DB, dialect, dir string) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.Up(db, dir); err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			zlog.Logger.Info().Msg("no migrations to apply")
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// closeAll closes master and slave databases.
func closeAll(db *dbpg.DB) error {
	errs := []error{db.Master.Close()}
	for _, s := range db.Slaves {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
