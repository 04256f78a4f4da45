// Command wikibag is a personal TiddlyWiki sync server backed by SQLite.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/wikibag/wikibag/attachment"
	"github.com/wikibag/wikibag/objstore"
	"github.com/wikibag/wikibag/server"
	"github.com/wikibag/wikibag/snapshot"
	"github.com/wikibag/wikibag/store"
	"github.com/wikibag/wikibag/telemetry"
)

var version = "dev"

type s3Flags struct {
	Endpoint  string `help:"S3-compatible endpoint URL. Empty disables uploads." env:"S3_ENDPOINT"`
	Region    string `help:"S3 region." default:"us-east-1" env:"S3_REGION"`
	Bucket    string `help:"Bucket presigned uploads land in." env:"S3_BUCKET"`
	AccessKey string `help:"S3 access key." env:"S3_ACCESS_KEY"`
	SecretKey string `help:"S3 secret key." env:"S3_SECRET_KEY"`
	Name      string `help:"Display name reported in sign-upload responses." default:"s3" env:"S3_NAME"`
	PublicURL string `help:"Public base URL objects are served from." env:"S3_PUBLIC_URL"`
}

type cli struct {
	Bind     string `help:"Address to listen on." default:":8080" env:"WIKIBAG_BIND"`
	DBPath   string `help:"SQLite database path." default:"./wiki.db" env:"WIKIBAG_DB"`
	FilesDir string `help:"Directory offloaded binaries are stored in." default:"./files" env:"WIKIBAG_FILES"`
	Template string `help:"Path to the TiddlyWiki carrier HTML." default:"./empty.html" env:"WIKIBAG_TEMPLATE"`
	SeedDir  string `help:"Directory of tiddler JSON files loaded into a fresh database." env:"WIKIBAG_SEED"`

	AuthUsername string `help:"Basic auth username. Empty disables auth." env:"WIKIBAG_USERNAME"`
	AuthPassword string `help:"Basic auth password." env:"WIKIBAG_PASSWORD"`

	StatusUsername string `help:"Username reported on /status." default:"anonymous" env:"WIKIBAG_STATUS_USERNAME"`
	ReadOnly       bool   `help:"Report the wiki as read-only on /status."`

	S3 s3Flags `embed:"" prefix:"s3-"`

	OrphanLog string `help:"Path of the bolt database recording failed attachment cleanups." default:"./orphans.db" env:"WIKIBAG_ORPHAN_LOG"`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error" env:"WIKIBAG_LOG_LEVEL"`
	LogFormat string `help:"Log format (text, json)." default:"text" enum:"text,json" env:"WIKIBAG_LOG_FORMAT"`

	Metrics      bool   `help:"Expose Prometheus metrics on /metrics."`
	OTLPEndpoint string `name:"otlp-endpoint" help:"OTLP gRPC endpoint for metric export." env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var flags cli
	kong.Parse(&flags,
		kong.Name("wikibag"),
		kong.Description("Single-user TiddlyWiki sync server."),
		kong.Vars{"version": version},
	)

	logger, err := newLogger(flags.LogLevel, flags.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "wikibag",
		ServiceVersion:   version,
		OTLPEndpoint:     flags.OTLPEndpoint,
		EnablePrometheus: flags.Metrics,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		_ = shutdownMetrics(flushCtx)
	}()

	st, err := store.Open(flags.DBPath, store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if st.Created() && flags.SeedDir != "" {
		if err := st.Seed(ctx, flags.SeedDir); err != nil {
			return fmt.Errorf("seeding store from %s: %w", flags.SeedDir, err)
		}
		logger.Info("seeded fresh database", "dir", flags.SeedDir)
	}

	files, err := attachment.NewFilesDir(flags.FilesDir)
	if err != nil {
		return fmt.Errorf("preparing files directory: %w", err)
	}

	raw, err := os.ReadFile(flags.Template)
	if err != nil {
		return fmt.Errorf("reading template: %w", err)
	}
	tmpl, err := snapshot.Parse(string(raw))
	if err != nil {
		return fmt.Errorf("parsing template %s: %w", flags.Template, err)
	}

	var objects *objstore.Client
	if flags.S3.Endpoint != "" {
		objects, err = objstore.New(objstore.Config{
			Endpoint:  flags.S3.Endpoint,
			Region:    flags.S3.Region,
			AccessKey: flags.S3.AccessKey,
			SecretKey: flags.S3.SecretKey,
		})
		if err != nil {
			return fmt.Errorf("creating object storage client: %w", err)
		}
	}

	orphans, err := attachment.OpenOrphanLog(flags.OrphanLog)
	if err != nil {
		return fmt.Errorf("opening orphan log: %w", err)
	}
	defer orphans.Close()

	var deleter attachment.ObjectDeleter
	if objects != nil {
		deleter = objects
	}
	cleaner := attachment.NewCleaner(files, deleter, flags.S3.Bucket, flags.S3.PublicURL, orphans, logger)
	offloader := attachment.NewOffloader(files, logger)

	srv, err := server.New(server.Config{
		Address:       flags.Bind,
		Store:         st,
		Files:         files,
		Template:      tmpl,
		Offloader:     offloader,
		Cleaner:       cleaner,
		Objects:       objects,
		S3Name:        flags.S3.Name,
		Bucket:        flags.S3.Bucket,
		PublicURLBase: flags.S3.PublicURL,
		Status: server.Status{
			Username: flags.StatusUsername,
			ReadOnly: flags.ReadOnly,
		},
		AuthUsername: flags.AuthUsername,
		AuthPassword: flags.AuthPassword,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"address", srv.Address(),
		"db", flags.DBPath,
		"files", files.Root(),
		"uploads", objects != nil,
	)

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
	case "text":
		return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		})), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}
