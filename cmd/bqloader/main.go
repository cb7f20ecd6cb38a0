package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	gojson "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/bqloader/internal/pipeline"
	"github.com/ajitpratap0/bqloader/internal/trigger"
	"github.com/ajitpratap0/bqloader/pkg/config"
	"github.com/ajitpratap0/bqloader/pkg/logger"
	"github.com/ajitpratap0/bqloader/pkg/observability"
	"github.com/ajitpratap0/bqloader/pkg/schema"
	"github.com/ajitpratap0/bqloader/pkg/warehouse"
)

var version = "1.0.0"

// errRunFailed makes the process exit 1 after the failure was already logged.
var errRunFailed = errors.New("pipeline run failed")

func main() {
	_ = godotenv.Load() // .env is optional

	var configFile string

	root := &cobra.Command{
		Use:   "bqloader",
		Short: "bqloader - load a REST API snapshot into BigQuery",
		Long: `bqloader fetches JSON from a REST API (by default the IBGE states endpoint),
flattens it into a table with normalised column names and loads it into a
BigQuery table with a blocking load job.

Settings come from environment variables (and .env); --config adds a YAML file
underneath them.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file (optional)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bqloader v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), configFile)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger",
		Long: `Serve the HTTP trigger. Every request to / or /run runs the pipeline once
and answers with its JSON result. /healthz and /metrics are also served.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configFile)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "query <sql>",
		Short: "Run a query against BigQuery and print the rows as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return query(cmd.Context(), configFile, args[0])
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "schema [name|file]",
		Short: "Print a table schema as BigQuery JSON",
		Long: `Print a table schema as BigQuery JSON. The argument is the built-in
"ibge_state" schema (the default) or a path to a YAML schema file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := schema.BuiltinState
			if len(args) == 1 {
				ref = args[0]
			}
			return printSchema(ref)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

// settings reads configuration without validating it, so logging and the
// server can start even when pipeline settings are missing.
func settings(configFile string) *config.Config {
	v := config.NewViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
		_ = v.ReadInConfig()
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return &config.Config{}
	}
	return cfg
}

// setup builds the process logger and tracer provider.
func setup(cfg *config.Config) (*zap.Logger, func()) {
	log := logger.MustNew(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogEncoding,
	})

	tracing := observability.DefaultTracingConfig()
	tracing.Enabled = cfg.Observability.EnableTracing
	tracing.ServiceVersion = version
	if cfg.Observability.TracingSampleRate > 0 {
		tracing.SamplingRate = cfg.Observability.TracingSampleRate
	}
	shutdown, err := observability.InitTracing(tracing)
	if err != nil {
		log.Warn("tracing_init_error", zap.Error(err))
		shutdown = func(context.Context) error { return nil }
	}

	return log, func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("tracing_shutdown_error", zap.Error(err))
		}
		_ = log.Sync()
	}
}

func runOnce(ctx context.Context, configFile string) error {
	log, cleanup := setup(settings(configFile))
	defer cleanup()

	result := pipeline.Execute(ctx, func() (*config.Config, error) {
		return config.Load(configFile)
	}, log)
	if !result.OK() {
		return errRunFailed
	}
	return nil
}

func serve(ctx context.Context, configFile string) error {
	cfg := settings(configFile)
	log, cleanup := setup(cfg)
	defer cleanup()

	handler := trigger.NewHandler(trigger.ConfigRunner(configFile, log), trigger.Options{
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
	}, log)

	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	return trigger.NewServer(handler, port, log).Serve(ctx)
}

func query(ctx context.Context, configFile, sql string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	log, cleanup := setup(cfg)
	defer cleanup()

	backend, err := warehouse.NewBigQueryBackend(ctx, cfg.Destination.ProjectID, pipeline.ClientOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to create BigQuery client: %w", err)
	}
	service := warehouse.NewService(backend, cfg.Destination.ProjectID, cfg.Destination.Location, log)
	defer func() { _ = service.Close() }()

	rows, err := service.Query(ctx, sql)
	if err != nil {
		return err
	}

	out, err := gojson.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode rows: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func printSchema(ref string) error {
	tableSchema, err := schema.Resolve(ref)
	if err != nil {
		return err
	}
	out, err := tableSchema.ToJSONFields()
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
