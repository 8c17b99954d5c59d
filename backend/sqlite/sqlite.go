package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/core"
	_ "modernc.org/sqlite"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

// NewInMemoryBackend returns a backend using a private in-memory database.
func NewInMemoryBackend(opts ...option) *sqliteBackend {
	b := newSqliteBackend("file::memory:?_txlock=immediate", opts...)

	// An in-memory database exists per connection
	b.db.SetMaxOpenConns(1)

	if b.options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

// NewSqliteBackend returns a backend using the database file at path.
func NewSqliteBackend(path string, opts ...option) *sqliteBackend {
	b := newSqliteBackend(fmt.Sprintf(
		"file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path), opts...)

	if b.options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

func newSqliteBackend(dsn string, opts ...option) *sqliteBackend {
	bo := backend.ApplyOptions()
	options := &options{
		Options:         &bo,
		ApplyMigrations: true,
	}

	for _, opt := range opts {
		opt(options)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		panic(err)
	}

	return &sqliteBackend{
		db:      db,
		options: options,
	}
}

type sqliteBackend struct {
	db      *sql.DB
	options *options
}

var _ backend.Backend = (*sqliteBackend)(nil)

// Migrate applies any pending database migrations.
func (sb *sqliteBackend) Migrate() error {
	dbi, err := sqlite.WithInstance(sb.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "sqlite", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	return nil
}

func (sb *sqliteBackend) Options() *backend.Options {
	return sb.options.Options
}

func (sb *sqliteBackend) Close() error {
	return sb.db.Close()
}

func (sb *sqliteBackend) CreateInstance(ctx context.Context, instance *core.OrchestrationInstance) error {
	res, err := sb.db.ExecContext(
		ctx,
		"INSERT OR IGNORE INTO `instances` (id, name, input, created_at) VALUES (?, ?, ?, ?)",
		instance.InstanceID,
		instance.Name,
		[]byte(instance.Input),
		instance.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting instance: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		return backend.ErrInstanceAlreadyExists
	}

	return nil
}

func (sb *sqliteBackend) GetInstance(ctx context.Context, instanceID string) (*core.OrchestrationInstance, error) {
	row := sb.db.QueryRowContext(ctx, "SELECT id, name, input, created_at FROM `instances` WHERE id = ?", instanceID)

	i, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("getting instance: %w", err)
	}

	return i, nil
}

func (sb *sqliteBackend) ListInstances(ctx context.Context) ([]*core.OrchestrationInstance, error) {
	rows, err := sb.db.QueryContext(ctx, "SELECT id, name, input, created_at FROM `instances` ORDER BY created_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}
	defer rows.Close()

	var instances []*core.OrchestrationInstance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning instance: %w", err)
		}

		instances = append(instances, i)
	}

	return instances, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(s scanner) (*core.OrchestrationInstance, error) {
	var id, name string
	var input []byte
	var createdAt int64

	if err := s.Scan(&id, &name, &input, &createdAt); err != nil {
		return nil, err
	}

	return core.NewOrchestrationInstance(id, name, input, time.Unix(0, createdAt).UTC()), nil
}
