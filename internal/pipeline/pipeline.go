// Package pipeline runs one extract, transform and load pass: it fetches JSON
// from the source API, flattens it into a table and loads it into BigQuery.
//
// # Overview
//
// A run moves through NotStarted, Fetching, Transforming, Loading and
// Succeeded. A failure in any working state short-circuits the rest of the
// run and leaves it Failed. Configuration is checked before Fetching, so a
// misconfigured run never calls the source API.
//
// Every failure reaching the orchestrator is one of the four domain kinds
// (config, extract, transform, load) and is reported as a pipeline error.
// Anything else, including a recovered panic, is reported as an unexpected
// error. Nothing is retried at this level.
//
// # Basic Usage
//
//	p, err := pipeline.Build(ctx, cfg, log, "")
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	result := p.Run(ctx)
//	// result.StatusCode is 200 on success, 500 on failure
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/bqloader/pkg/config"
	"github.com/ajitpratap0/bqloader/pkg/etlerrors"
	"github.com/ajitpratap0/bqloader/pkg/logger"
	"github.com/ajitpratap0/bqloader/pkg/metrics"
	"github.com/ajitpratap0/bqloader/pkg/observability"
	"github.com/ajitpratap0/bqloader/pkg/transform"
	"github.com/ajitpratap0/bqloader/pkg/warehouse"
)

// Extractor fetches the raw payload.
type Extractor interface {
	Extract(ctx context.Context) (any, error)
}

// Transformer turns the raw payload into a table.
type Transformer interface {
	ToTable(raw any) (*transform.Table, error)
}

// Loader loads a table into the warehouse.
type Loader interface {
	Load(ctx context.Context, table *transform.Table, req *warehouse.LoadRequest) (*warehouse.LoadResult, error)
}

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the outcome of one run.
type Result struct {
	RunID      string                `json:"run_id"`
	Status     string                `json:"status"`
	Stage      string                `json:"stage,omitempty"`
	Message    string                `json:"message,omitempty"`
	LoadResult *warehouse.LoadResult `json:"load_result,omitempty"`

	// StatusCode is the HTTP status a request-triggered adapter should return
	StatusCode int `json:"-"`
	// State is Succeeded or Failed
	State State `json:"-"`
	// Err is the failure cause
	Err error `json:"-"`
}

// OK reports a successful run.
func (r *Result) OK() bool {
	return r.Status == StatusSuccess
}

// Components are the stage implementations of a pipeline.
type Components struct {
	Extractor   Extractor
	Transformer Transformer
	Loader      Loader
	// Schema is the explicit destination schema; nil infers it on load
	Schema bigquery.Schema
	// RunID identifies the run; generated when empty
	RunID string
	// Closers are released by Pipeline.Close
	Closers []io.Closer
}

// Pipeline is a single-use fetch, transform and load run.
type Pipeline struct {
	cfg        *config.Config
	components Components
	runID      string
	logger     *zap.Logger
	state      State
}

// New creates a pipeline over components. It does not validate cfg; Run does.
func New(cfg *config.Config, components Components, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	runID := components.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Pipeline{
		cfg:        cfg,
		components: components,
		runID:      runID,
		logger:     logger.WithRun(log, runID),
		state:      NotStarted,
	}
}

// RunID returns the run identifier.
func (p *Pipeline) RunID() string {
	return p.runID
}

// State returns the current state.
func (p *Pipeline) State() State {
	return p.state
}

// Run executes the stages in order and never returns nil.
func (p *Pipeline) Run(ctx context.Context) (result *Result) {
	ctx = logger.ContextWithRun(ctx, p.runID)
	timer := metrics.NewTimer()
	ctx, span := observability.StartSpan(ctx, "pipeline.run")
	span.SetAttribute("run_id", p.runID)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			result = p.fail(stageOf(p.state), etlerrors.New(etlerrors.ErrorTypeInternal, fmt.Sprintf("panic: %v", r)))
		}
		if result.Err != nil {
			span.RecordError(result.Err)
		}
	}()

	if err := p.cfg.Validate(); err != nil {
		return p.fail(StageConfig, err)
	}
	mode, err := warehouse.ParseWriteMode(p.cfg.Load.WriteDisposition)
	if err != nil {
		return p.fail(StageConfig, etlerrors.Config(err, "invalid write disposition"))
	}

	p.logger.Info("etl_start",
		zap.String("url", p.cfg.Source.BaseURL+p.cfg.Source.Endpoint),
		zap.String("table", p.cfg.Destination.TableRef()),
		zap.String("region", p.cfg.FunctionRegion),
		zap.Strings("labels", p.cfg.Load.LabelKeys()))

	p.state = Fetching
	var raw any
	if err := p.stage(ctx, StageFetch, func(ctx context.Context) (err error) {
		raw, err = p.components.Extractor.Extract(ctx)
		return err
	}); err != nil {
		return p.fail(StageFetch, err)
	}

	p.state = Transforming
	var table *transform.Table
	if err := p.stage(ctx, StageTransform, func(context.Context) (err error) {
		table, err = p.components.Transformer.ToTable(raw)
		return err
	}); err != nil {
		return p.fail(StageTransform, err)
	}

	p.state = Loading
	req := &warehouse.LoadRequest{
		DatasetID:     p.cfg.Destination.DatasetID,
		TableID:       p.cfg.Destination.TableID,
		WriteMode:     mode,
		CreateDataset: p.cfg.Load.CreateDataset,
		CreateTable:   p.cfg.Load.CreateTable,
		Schema:        p.components.Schema,
		Labels:        p.cfg.Load.JobLabels,
		Location:      p.cfg.Destination.Location,
		RunID:         p.runID,
	}
	var loadResult *warehouse.LoadResult
	if err := p.stage(ctx, StageLoad, func(ctx context.Context) (err error) {
		loadResult, err = p.components.Loader.Load(ctx, table, req)
		return err
	}); err != nil {
		return p.fail(StageLoad, err)
	}

	p.state = Succeeded
	metrics.PipelineRuns.WithLabelValues(StatusSuccess, "").Inc()
	p.logger.Info("etl_finished",
		zap.String("status", loadResult.Status),
		zap.String("job_id", loadResult.JobID),
		zap.Uint64("total_rows", loadResult.TotalRows),
		zap.Duration("duration", timer.Elapsed()))

	return &Result{
		RunID:      p.runID,
		Status:     StatusSuccess,
		LoadResult: loadResult,
		StatusCode: http.StatusOK,
		State:      Succeeded,
	}
}

// stage runs fn inside a span and records its duration.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, "pipeline."+name)
	defer span.End()

	timer := metrics.NewTimer()
	err := fn(ctx)
	metrics.StageDuration.WithLabelValues(name).Observe(timer.Seconds())
	span.RecordError(err)
	return err
}

func (p *Pipeline) fail(stage string, err error) *Result {
	p.state = Failed
	return failure(p.logger, p.runID, stage, err)
}

// Close releases the clients created for the run.
func (p *Pipeline) Close() error {
	var errs []error
	for _, c := range p.components.Closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// failure logs err and builds a failed result for stage.
func failure(log *zap.Logger, runID, stage string, err error) *Result {
	metrics.PipelineRuns.WithLabelValues(StatusError, stage).Inc()

	message := err.Error()
	if etlerrors.IsDomain(err) {
		log.Error("etl_error", zap.String("stage", stage), zap.Error(err))
	} else {
		message = "unexpected error: " + message
		log.Error("etl_unexpected_error", zap.String("stage", stage), zap.Error(err))
	}

	return &Result{
		RunID:      runID,
		Status:     StatusError,
		Stage:      stage,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		State:      Failed,
		Err:        err,
	}
}

// build constructs the pipeline for Execute.
var build = Build

// ConfigSource produces the configuration of one run.
type ConfigSource func() (*config.Config, error)

// Execute loads configuration, builds a pipeline and runs it once. Failures
// before the run starts are reported as failed results for the stage their
// error kind belongs to.
func Execute(ctx context.Context, source ConfigSource, log *zap.Logger) *Result {
	if log == nil {
		log = zap.NewNop()
	}
	runID := uuid.NewString()
	runLog := logger.WithRun(log, runID)

	cfg, err := source()
	if err != nil {
		return failure(runLog, runID, StageConfig, err)
	}

	p, err := build(ctx, cfg, log, runID)
	if err != nil {
		return failure(runLog, runID, setupStage(err), err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			runLog.Warn("client_close_error", zap.Error(err))
		}
	}()

	return p.Run(ctx)
}

// setupStage maps a Build error to the stage whose client failed.
func setupStage(err error) string {
	kind, _ := etlerrors.StageOf(err)
	switch kind {
	case etlerrors.ErrorTypeExtract:
		return StageFetch
	case etlerrors.ErrorTypeTransform:
		return StageTransform
	case etlerrors.ErrorTypeLoad:
		return StageLoad
	default:
		return StageConfig
	}
}
