package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/diskv"
	"github.com/itixo/durabletask/backend/memory"
	"github.com/itixo/durabletask/backend/mysql"
	"github.com/itixo/durabletask/backend/redis"
	"github.com/itixo/durabletask/backend/sqlite"
	"github.com/itixo/durabletask/client"
	"github.com/itixo/durabletask/samples/licensing"
	"github.com/itixo/durabletask/scheduler"
	"github.com/itixo/durabletask/worker"
	redisv9 "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

type config struct {
	backend string

	sqlitePath string
	diskvPath  string

	redisAddr     string
	redisPassword string

	mysqlHost     string
	mysqlPort     int
	mysqlUser     string
	mysqlPassword string
	mysqlDatabase string

	licences string
	email    string
	product  int

	tracing      string
	otlpEndpoint string

	timeout time.Duration
	debug   bool
}

func env(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}

	return fallback
}

func envInt(name string, fallback int) int {
	if v, ok := os.LookupEnv(name); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}

	return fallback
}

func parseFlags() *config {
	c := &config{}

	flag.StringVar(&c.backend, "backend", env("DURABLETASK_BACKEND", "memory"), "backend to use: memory, sqlite, diskv, redis, mysql")
	flag.StringVar(&c.sqlitePath, "sqlite-path", env("DURABLETASK_SQLITE_PATH", "licensing.sqlite"), "sqlite database file")
	flag.StringVar(&c.diskvPath, "diskv-path", env("DURABLETASK_DISKV_PATH", "licensing-history"), "diskv history directory")
	flag.StringVar(&c.redisAddr, "redis-addr", env("DURABLETASK_REDIS_ADDR", "localhost:6379"), "redis address")
	flag.StringVar(&c.redisPassword, "redis-password", env("DURABLETASK_REDIS_PASSWORD", ""), "redis password")
	flag.StringVar(&c.mysqlHost, "mysql-host", env("DURABLETASK_MYSQL_HOST", "localhost"), "mysql host")
	flag.IntVar(&c.mysqlPort, "mysql-port", envInt("DURABLETASK_MYSQL_PORT", 3306), "mysql port")
	flag.StringVar(&c.mysqlUser, "mysql-user", env("DURABLETASK_MYSQL_USER", "root"), "mysql user")
	flag.StringVar(&c.mysqlPassword, "mysql-password", env("DURABLETASK_MYSQL_PASSWORD", "root"), "mysql password")
	flag.StringVar(&c.mysqlDatabase, "mysql-database", env("DURABLETASK_MYSQL_DATABASE", "licensing"), "mysql database")
	flag.StringVar(&c.licences, "licences", env("DURABLETASK_LICENCE_DIR", "licences"), "directory licence files are written to")
	flag.StringVar(&c.email, "email", "customer@example.com", "email of the paying customer")
	flag.IntVar(&c.product, "product", 456, "id of the purchased product")
	flag.StringVar(&c.tracing, "tracing", env("DURABLETASK_TRACING", "none"), "trace exporter: none, stdout, otlp")
	flag.StringVar(&c.otlpEndpoint, "otlp-endpoint", env("DURABLETASK_OTLP_ENDPOINT", "localhost:4318"), "otlp http endpoint")
	flag.DurationVar(&c.timeout, "timeout", 30*time.Second, "time to wait for the orchestration to finish")
	flag.BoolVar(&c.debug, "debug", false, "enable debug logging")
	flag.Parse()

	return c
}

func main() {
	c := parseFlags()

	level := slog.LevelInfo
	if c.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(c, logger); err != nil {
		logger.Error("Licensing failed", "error", err)
		os.Exit(1)
	}
}

func run(c *config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tp, err := newTracerProvider(ctx, c)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("Shutting down tracer provider", "error", err)
		}
	}()

	b, queue, err := newBackend(c, backend.WithLogger(logger), backend.WithTracerProvider(tp))
	if err != nil {
		return fmt.Errorf("creating backend: %w", err)
	}
	defer b.Close()

	options := worker.DefaultOptions
	options.ActivityQueue = queue

	h := worker.NewHost(b, &options)

	if err := h.RegisterOrchestration(licensing.LicenceOrchestration); err != nil {
		return err
	}

	delivery := licensing.NewFileDelivery(c.licences, logger)
	if err := h.RegisterActivity(licensing.NewActivities(delivery, clock.New())); err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := h.Start(wctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	instanceID, err := h.StartOrchestration(ctx, client.StartOptions{}, licensing.LicenceOrchestration, licensing.Payment{
		Email:     c.email,
		ProductID: c.product,
	})
	if err != nil {
		return fmt.Errorf("starting orchestration: %w", err)
	}

	logger.Info("Started orchestration", "instance_id", instanceID)

	result, err := client.GetResult[licensing.Result](ctx, h.Client, instanceID, c.timeout)
	if err != nil && !errors.Is(err, client.ErrOrchestrationTerminated) {
		logger.Error("Orchestration failed", "instance_id", instanceID, "error", err)
	}

	instance, serr := h.Client.GetStatus(ctx, instanceID)
	if serr != nil {
		return fmt.Errorf("getting status: %w", serr)
	}

	fmt.Printf("Instance:  %s\n", instance.InstanceID)
	fmt.Printf("Status:    %s\n", instance.Status)
	if instance.Error != "" {
		fmt.Printf("Error:     %s\n", instance.Error)
	}
	if err == nil {
		fmt.Printf("Order:     %d\n", result.Order.OrderID)
		fmt.Printf("Licence:   %s\n", result.LicenceFile)
	}

	cancel()
	if werr := h.WaitForCompletion(); werr != nil {
		return fmt.Errorf("stopping worker: %w", werr)
	}

	return err
}

func newBackend(c *config, opts ...backend.BackendOption) (backend.Backend, scheduler.Queue, error) {
	switch c.backend {
	case "memory":
		return memory.NewMemoryBackend(opts...), nil, nil

	case "sqlite":
		return sqlite.NewSqliteBackend(c.sqlitePath, sqlite.WithBackendOptions(opts...)), nil, nil

	case "diskv":
		return diskv.New(c.diskvPath, opts...), nil, nil

	case "mysql":
		b := mysql.NewMysqlBackend(c.mysqlHost, c.mysqlPort, c.mysqlUser, c.mysqlPassword, c.mysqlDatabase,
			mysql.WithBackendOptions(opts...))
		return b, nil, nil

	case "redis":
		rclient := redisv9.NewUniversalClient(&redisv9.UniversalOptions{
			Addrs:        []string{c.redisAddr},
			Password:     c.redisPassword,
			DB:           0,
			WriteTimeout: time.Second * 30,
			ReadTimeout:  time.Second * 30,
		})

		b, err := redis.NewRedisBackend(rclient, redis.WithBackendOptions(opts...))
		if err != nil {
			return nil, nil, err
		}

		return b, b.NewQueue(), nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", c.backend)
	}
}

func newTracerProvider(ctx context.Context, c *config) (*trace.TracerProvider, error) {
	r := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String("licensing"),
		attribute.String("backend", c.backend),
	)

	opts := []trace.TracerProviderOption{trace.WithResource(r)}

	switch c.tracing {
	case "none", "":

	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, trace.WithSyncer(exp))

	case "otlp":
		oclient := otlptracehttp.NewClient(otlptracehttp.WithEndpoint(c.otlpEndpoint), otlptracehttp.WithInsecure())
		exp, err := otlptrace.New(ctx, oclient)
		if err != nil {
			return nil, err
		}
		opts = append(opts, trace.WithBatcher(exp))

	default:
		return nil, fmt.Errorf("unknown trace exporter %q", c.tracing)
	}

	return trace.NewTracerProvider(opts...), nil
}
