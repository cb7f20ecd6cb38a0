package pipeline

import (
	"context"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/bqloader/pkg/clients"
	"github.com/ajitpratap0/bqloader/pkg/config"
	"github.com/ajitpratap0/bqloader/pkg/etlerrors"
	"github.com/ajitpratap0/bqloader/pkg/logger"
	"github.com/ajitpratap0/bqloader/pkg/schema"
	"github.com/ajitpratap0/bqloader/pkg/secrets"
	"github.com/ajitpratap0/bqloader/pkg/transform"
	"github.com/ajitpratap0/bqloader/pkg/warehouse"
)

var (
	_ Extractor   = (*clients.Extractor)(nil)
	_ Transformer = (*transform.Transformer)(nil)
	_ Loader      = (*warehouse.Service)(nil)
)

// stagingPrefix is the object prefix for staged load files.
const stagingPrefix = "bqloader"

// Build validates cfg and constructs fresh clients for one run: the fetch
// client (with a bearer token from Secret Manager when configured), the
// transformer and the BigQuery service (staging through GCS when a bucket is
// configured). runID names the run; a random one is generated when it is
// empty. The caller must Close the pipeline.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, runID string) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	if runID == "" {
		runID = uuid.NewString()
	}
	runLog := logger.WithRun(log, runID)
	opts := ClientOptions(cfg)

	tableSchema, err := schema.Resolve(cfg.Load.TableSchema)
	if err != nil {
		return nil, etlerrors.Config(err, "failed to resolve table schema").
			WithDetail("schema", cfg.Load.TableSchema)
	}

	httpConfig := &clients.HTTPConfig{
		BaseURL:       cfg.Source.BaseURL,
		Timeout:       cfg.Source.Timeout,
		MaxRetries:    cfg.Source.MaxRetries,
		BackoffFactor: cfg.Source.BackoffFactor,
	}
	if cfg.Source.TokenSecret != "" {
		token, err := accessToken(ctx, cfg, runLog, opts)
		if err != nil {
			return nil, err
		}
		httpConfig.Transport = clients.BearerTransport(token, nil)
	}
	httpClient := clients.NewHTTPClient(httpConfig, runLog)

	backend, err := warehouse.NewBigQueryBackend(ctx, cfg.Destination.ProjectID, opts...)
	if err != nil {
		return nil, etlerrors.Load(err, "failed to create BigQuery client").
			WithDetail("project", cfg.Destination.ProjectID)
	}

	serviceOpts := []warehouse.Option{
		warehouse.WithDatasetDescription("Loaded by bqloader from " + cfg.Source.BaseURL),
	}
	if cfg.Load.StagingBucket != "" {
		stager, err := warehouse.NewGCSStager(ctx, cfg.Load.StagingBucket, stagingPrefix, opts...)
		if err != nil {
			_ = backend.Close()
			return nil, etlerrors.Load(err, "failed to create staging client").
				WithDetail("bucket", cfg.Load.StagingBucket)
		}
		serviceOpts = append(serviceOpts, warehouse.WithStager(stager))
	}
	// run_id reaches the service through the run context
	service := warehouse.NewService(backend, cfg.Destination.ProjectID, cfg.Destination.Location, log, serviceOpts...)

	return New(cfg, Components{
		Extractor:   clients.NewExtractor(httpClient, cfg.Source.Endpoint, nil, runLog),
		Transformer: transform.NewTransformer(runLog),
		Loader:      service,
		Schema:      tableSchema,
		RunID:       runID,
		Closers:     []io.Closer{service},
	}, log), nil
}

func accessToken(ctx context.Context, cfg *config.Config, log *zap.Logger, opts []option.ClientOption) (string, error) {
	svc, err := secrets.NewService(ctx, cfg.Destination.ProjectID, log, opts...)
	if err != nil {
		return "", err
	}
	defer func() { _ = svc.Close() }()

	return svc.Access(ctx, cfg.Source.TokenSecret, secrets.LatestVersion)
}

// ClientOptions are the Google API client options for cfg.
func ClientOptions(cfg *config.Config) []option.ClientOption {
	if cfg.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
}
