package mysql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	mysqlmigrate "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/core"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

func NewMysqlBackend(host string, port int, user, password, database string, opts ...option) *mysqlBackend {
	bo := backend.ApplyOptions()
	options := &options{
		Options:         &bo,
		ApplyMigrations: true,
	}

	for _, opt := range opts {
		opt(options)
	}

	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = database
	cfg.ParseTime = true
	cfg.InterpolateParams = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		panic(err)
	}

	if options.MySQLOptions != nil {
		options.MySQLOptions(db)
	}

	b := &mysqlBackend{
		cfg:     cfg,
		db:      db,
		options: options,
	}

	if options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

type mysqlBackend struct {
	cfg     *mysql.Config
	db      *sql.DB
	options *options
}

var _ backend.Backend = (*mysqlBackend)(nil)

// Migrate applies any pending database migrations.
func (b *mysqlBackend) Migrate() error {
	schemaCfg := b.cfg.Clone()
	schemaCfg.MultiStatements = true

	db, err := sql.Open("mysql", schemaCfg.FormatDSN())
	if err != nil {
		return fmt.Errorf("opening schema database: %w", err)
	}

	dbi, err := mysqlmigrate.WithInstance(db, &mysqlmigrate.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, b.cfg.DBName, dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	if err := db.Close(); err != nil {
		return fmt.Errorf("closing schema database: %w", err)
	}

	return nil
}

func (b *mysqlBackend) Options() *backend.Options {
	return b.options.Options
}

func (b *mysqlBackend) Close() error {
	return b.db.Close()
}

func (b *mysqlBackend) CreateInstance(ctx context.Context, instance *core.OrchestrationInstance) error {
	_, err := b.db.ExecContext(
		ctx,
		"INSERT INTO `instances` (id, name, input, created_at) VALUES (?, ?, ?, ?)",
		instance.InstanceID,
		instance.Name,
		[]byte(instance.Input),
		instance.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return backend.ErrInstanceAlreadyExists
		}

		return fmt.Errorf("inserting instance: %w", err)
	}

	return nil
}

func (b *mysqlBackend) GetInstance(ctx context.Context, instanceID string) (*core.OrchestrationInstance, error) {
	row := b.db.QueryRowContext(ctx, "SELECT id, name, input, created_at FROM `instances` WHERE id = ?", instanceID)

	i, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("getting instance: %w", err)
	}

	return i, nil
}

func (b *mysqlBackend) ListInstances(ctx context.Context) ([]*core.OrchestrationInstance, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT id, name, input, created_at FROM `instances` ORDER BY created_at, id")
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
	i := &core.OrchestrationInstance{Status: core.InstanceStatusPending}

	var input []byte
	if err := s.Scan(&i.InstanceID, &i.Name, &input, &i.CreatedAt); err != nil {
		return nil, err
	}

	i.Input = input
	i.CreatedAt = i.CreatedAt.UTC()
	i.LastUpdatedAt = i.CreatedAt

	return i, nil
}

// MySQL error numbers
const (
	errDuplicateEntry = 1062
	errLockDeadlock   = 1213
)

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry
}

func isDeadlock(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == errLockDeadlock
}
