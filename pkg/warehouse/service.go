// Package warehouse provisions BigQuery datasets and tables and loads tables
// into them with blocking load jobs.
package warehouse

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/bqloader/pkg/etlerrors"
	"github.com/ajitpratap0/bqloader/pkg/logger"
	"github.com/ajitpratap0/bqloader/pkg/metrics"
	"github.com/ajitpratap0/bqloader/pkg/schema"
	"github.com/ajitpratap0/bqloader/pkg/transform"
)

// WriteMode is how loaded rows interact with existing rows.
type WriteMode string

const (
	WriteAppend   WriteMode = "WRITE_APPEND"
	WriteTruncate WriteMode = "WRITE_TRUNCATE"
	// WriteEmpty fails the job when the table already has data.
	WriteEmpty WriteMode = "WRITE_EMPTY"
)

// ParseWriteMode accepts the BigQuery names and the short forms append,
// truncate, empty and fail-if-nonempty. Empty input is WriteAppend.
func ParseWriteMode(raw string) (WriteMode, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "APPEND", "WRITE_APPEND":
		return WriteAppend, nil
	case "TRUNCATE", "WRITE_TRUNCATE":
		return WriteTruncate, nil
	case "EMPTY", "FAIL-IF-NONEMPTY", "WRITE_EMPTY":
		return WriteEmpty, nil
	default:
		return "", fmt.Errorf("unknown write mode %q", raw)
	}
}

// Load result statuses and skip reasons.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"

	ReasonEmptyDataset = "empty_dataset"
)

// LoadRequest describes where and how a table is loaded.
type LoadRequest struct {
	DatasetID     string
	TableID       string
	WriteMode     WriteMode
	CreateDataset bool
	// CreateTable creates a missing table only when Schema is set.
	CreateTable bool
	Schema      bigquery.Schema
	Labels      map[string]string
	// Location overrides the service location when set.
	Location string
	// RunID seeds the job id; a random id is used when empty.
	RunID string
}

// LoadResult summarises a load. It is not modified after Load returns.
type LoadResult struct {
	Status        string `json:"status"`
	Table         string `json:"table"`
	JobID         string `json:"job_id,omitempty"`
	TotalRows     uint64 `json:"total_rows"`
	RowsSubmitted int    `json:"rows_submitted"`
	Reason        string `json:"reason,omitempty"`
}

// Service provisions and loads BigQuery tables in one project.
type Service struct {
	backend     Backend
	stager      Stager
	projectID   string
	location    string
	description string
	logger      *zap.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithStager loads through object storage instead of inline media uploads.
func WithStager(s Stager) Option {
	return func(svc *Service) { svc.stager = s }
}

// WithDatasetDescription sets the description of datasets created by the
// service.
func WithDatasetDescription(d string) Option {
	return func(svc *Service) { svc.description = d }
}

// NewService creates a service over backend.
func NewService(backend Backend, projectID, location string, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if location == "" {
		location = "US"
	}
	svc := &Service{
		backend:   backend,
		projectID: projectID,
		location:  location,
		logger:    log.With(zap.String("component", "warehouse")),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *Service) datasetRef(datasetID string) string {
	return s.projectID + "." + datasetID
}

func (s *Service) tableRef(datasetID, tableID string) string {
	return s.projectID + "." + datasetID + "." + tableID
}

// EnsureDataset creates datasetID when it does not exist. A concurrent
// creator winning the race is not an error.
func (s *Service) EnsureDataset(ctx context.Context, datasetID string) error {
	ref := s.datasetRef(datasetID)
	log := logger.WithContext(ctx, s.logger)

	found, err := s.backend.DatasetExists(ctx, datasetID)
	if err != nil {
		log.Error("bigquery_dataset_create_error", zap.String("dataset", ref), zap.Error(err))
		return etlerrors.Load(err, "failed to look up dataset").WithDetail("dataset", ref)
	}
	if found {
		log.Info("bigquery_dataset_exists", zap.String("dataset", ref))
		return nil
	}

	md := &bigquery.DatasetMetadata{Location: s.location, Description: s.description}
	if err := s.backend.CreateDataset(ctx, datasetID, md); err != nil {
		if IsConflict(err) {
			log.Info("bigquery_dataset_conflict", zap.String("dataset", ref))
			return nil
		}
		log.Error("bigquery_dataset_create_error", zap.String("dataset", ref), zap.Error(err))
		return etlerrors.Load(err, "failed to create dataset").WithDetail("dataset", ref)
	}

	log.Info("bigquery_dataset_created", zap.String("dataset", ref), zap.String("location", s.location))
	return nil
}

// EnsureTable creates datasetID.tableID with tableSchema when it does not
// exist. A nil schema creates a schemaless table.
func (s *Service) EnsureTable(ctx context.Context, datasetID, tableID string, tableSchema bigquery.Schema) error {
	ref := s.tableRef(datasetID, tableID)
	log := logger.WithContext(ctx, s.logger)

	found, err := s.backend.TableExists(ctx, datasetID, tableID)
	if err != nil {
		log.Error("bigquery_table_create_error", zap.String("table", ref), zap.Error(err))
		return etlerrors.Load(err, "failed to look up table").WithDetail("table", ref)
	}
	if found {
		log.Info("bigquery_table_exists", zap.String("table", ref))
		return nil
	}

	if err := s.backend.CreateTable(ctx, datasetID, tableID, &bigquery.TableMetadata{Schema: tableSchema}); err != nil {
		if IsConflict(err) {
			log.Info("bigquery_table_conflict", zap.String("table", ref))
			return nil
		}
		log.Error("bigquery_table_create_error", zap.String("table", ref), zap.Error(err))
		return etlerrors.Load(err, "failed to create table").WithDetail("table", ref)
	}

	log.Info("bigquery_table_created", zap.String("table", ref))
	return nil
}

// Load appends, truncates into or fills an empty destination with table and
// blocks until the job finishes. An empty table is skipped without a job.
func (s *Service) Load(ctx context.Context, table *transform.Table, req *LoadRequest) (*LoadResult, error) {
	ref := s.tableRef(req.DatasetID, req.TableID)

	if table.Empty() {
		logger.WithContext(ctx, s.logger).Info("bigquery_load_skipped", zap.String("table", ref), zap.String("reason", ReasonEmptyDataset))
		metrics.LoadsSkipped.Inc()
		return &LoadResult{Status: StatusSkipped, Table: ref, Reason: ReasonEmptyDataset}, nil
	}

	if req.CreateDataset {
		if err := s.EnsureDataset(ctx, req.DatasetID); err != nil {
			return nil, err
		}
	}
	if req.CreateTable && len(req.Schema) > 0 {
		if err := s.EnsureTable(ctx, req.DatasetID, req.TableID, req.Schema); err != nil {
			return nil, err
		}
	}

	rows := table.Records()
	if len(req.Schema) > 0 {
		for i, row := range rows {
			rows[i] = schema.Conform(req.Schema, row)
		}
	}

	body, err := EncodeNDJSON(rows)
	if err != nil {
		return nil, etlerrors.Load(err, "failed to encode rows").WithDetail("table", ref)
	}

	mode := req.WriteMode
	if mode == "" {
		mode = WriteAppend
	}
	location := req.Location
	if location == "" {
		location = s.location
	}

	runID := req.RunID
	if runID == "" {
		runID = logger.RunID(ctx)
	}
	spec := &LoadSpec{
		Schema:           req.Schema,
		WriteDisposition: bigquery.TableWriteDisposition(mode),
		Labels:           req.Labels,
		JobID:            JobID(runID),
		Location:         location,
	}
	ctx = logger.ContextWithJob(ctx, spec.JobID)
	log := logger.WithContext(ctx, s.logger)

	if s.stager != nil {
		uri, err := s.stager.Stage(ctx, spec.JobID, bytes.NewReader(body))
		if err != nil {
			log.Error("bigquery_load_error", zap.String("table", ref), zap.Error(err))
			return nil, etlerrors.Load(err, "failed to stage rows").WithDetail("table", ref)
		}
		defer s.removeStaged(ctx, log, uri)
		spec.GCSURI = uri
		spec.Gzip = true
	} else {
		spec.Source = bytes.NewReader(body)
	}

	log.Info("bigquery_load_start",
		zap.String("table", ref),
		zap.Int("records", len(rows)),
		zap.String("write_disposition", string(mode)))

	job, err := s.backend.RunLoad(ctx, req.DatasetID, req.TableID, spec)
	if err != nil {
		log.Error("bigquery_load_error", zap.String("table", ref), zap.Error(err))
		if IsConflict(err) {
			err = etlerrors.Wrap(err, etlerrors.ErrorTypeConflict, "load job id already used")
		}
		return nil, etlerrors.Load(err, "load job failed").
			WithDetail("table", ref).
			WithDetail("job_id", spec.JobID)
	}

	total, err := s.backend.NumRows(ctx, req.DatasetID, req.TableID)
	if err != nil {
		log.Error("bigquery_load_error", zap.String("table", ref), zap.Error(err))
		if IsNotFound(err) {
			err = etlerrors.Wrap(err, etlerrors.ErrorTypeNotFound, "table not found after load")
		}
		return nil, etlerrors.Load(err, "failed to read table row count").
			WithDetail("table", ref).
			WithDetail("job_id", job.JobID)
	}

	metrics.RowsLoaded.WithLabelValues(ref).Add(float64(len(rows)))
	log.Info("bigquery_load_success",
		zap.String("table", ref),
		zap.Uint64("total_rows", total),
		zap.Int64("output_rows", job.OutputRows),
		zap.String("load_job_id", job.JobID))

	return &LoadResult{
		Status:        StatusSuccess,
		Table:         ref,
		JobID:         job.JobID,
		TotalRows:     total,
		RowsSubmitted: len(rows),
	}, nil
}

func (s *Service) removeStaged(ctx context.Context, log *zap.Logger, uri string) {
	if err := s.stager.Remove(context.WithoutCancel(ctx), uri); err != nil {
		log.Warn("staging_cleanup_error", zap.String("uri", uri), zap.Error(err))
	}
}

// Query runs sql and returns every result row.
func (s *Service) Query(ctx context.Context, sql string) ([]map[string]bigquery.Value, error) {
	preview := sql
	if len(preview) > 200 {
		preview = preview[:200]
	}
	log := logger.WithContext(ctx, s.logger)
	log.Info("bigquery_query_start", zap.String("query", preview))

	rows, err := s.backend.Query(ctx, sql, s.location)
	if err != nil {
		log.Error("bigquery_query_error", zap.Error(err))
		return nil, etlerrors.Load(err, "query failed")
	}

	log.Info("bigquery_query_success", zap.Int("rows", len(rows)))
	return rows, nil
}

// Close releases the backend and the stager.
func (s *Service) Close() error {
	var firstErr error
	if s.stager != nil {
		firstErr = s.stager.Close()
	}
	if err := s.backend.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// JobID derives a load job id from runID, or a random one.
func JobID(runID string) string {
	if runID == "" {
		runID = uuid.NewString()
	}
	return "bqloader_" + strings.ReplaceAll(runID, "-", "_")
}

// EncodeNDJSON writes one JSON object per line.
func EncodeNDJSON(rows []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gojson.NewEncoder(&buf)
	for i, row := range rows {
		if err := enc.Encode(row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
