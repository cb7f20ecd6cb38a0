package warehouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// LoadSpec describes one load job. Exactly one of Source and GCSURI is set.
type LoadSpec struct {
	Source           io.Reader
	GCSURI           string
	Gzip             bool
	Schema           bigquery.Schema
	WriteDisposition bigquery.TableWriteDisposition
	Labels           map[string]string
	JobID            string
	Location         string
}

// JobResult is the outcome of a finished load job.
type JobResult struct {
	JobID      string
	OutputRows int64
}

// Backend is the BigQuery surface used by Service.
type Backend interface {
	// DatasetExists reports false, nil when the dataset is not found.
	DatasetExists(ctx context.Context, datasetID string) (bool, error)
	CreateDataset(ctx context.Context, datasetID string, md *bigquery.DatasetMetadata) error
	// TableExists reports false, nil when the table is not found.
	TableExists(ctx context.Context, datasetID, tableID string) (bool, error)
	CreateTable(ctx context.Context, datasetID, tableID string, md *bigquery.TableMetadata) error
	// RunLoad submits a load job and blocks until it finishes.
	RunLoad(ctx context.Context, datasetID, tableID string, spec *LoadSpec) (*JobResult, error)
	NumRows(ctx context.Context, datasetID, tableID string) (uint64, error)
	Query(ctx context.Context, sql, location string) ([]map[string]bigquery.Value, error)
	Close() error
}

// BigQueryBackend implements Backend with the BigQuery client.
type BigQueryBackend struct {
	client *bigquery.Client
}

// NewBigQueryBackend creates a BigQuery client for projectID.
func NewBigQueryBackend(ctx context.Context, projectID string, opts ...option.ClientOption) (*BigQueryBackend, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
	}
	return &BigQueryBackend{client: client}, nil
}

func (b *BigQueryBackend) DatasetExists(ctx context.Context, datasetID string) (bool, error) {
	_, err := b.client.Dataset(datasetID).Metadata(ctx)
	return exists(err)
}

func (b *BigQueryBackend) CreateDataset(ctx context.Context, datasetID string, md *bigquery.DatasetMetadata) error {
	return b.client.Dataset(datasetID).Create(ctx, md)
}

func (b *BigQueryBackend) TableExists(ctx context.Context, datasetID, tableID string) (bool, error) {
	_, err := b.client.Dataset(datasetID).Table(tableID).Metadata(ctx)
	return exists(err)
}

func (b *BigQueryBackend) CreateTable(ctx context.Context, datasetID, tableID string, md *bigquery.TableMetadata) error {
	return b.client.Dataset(datasetID).Table(tableID).Create(ctx, md)
}

func (b *BigQueryBackend) RunLoad(ctx context.Context, datasetID, tableID string, spec *LoadSpec) (*JobResult, error) {
	var source bigquery.LoadSource
	if spec.GCSURI != "" {
		ref := bigquery.NewGCSReference(spec.GCSURI)
		ref.SourceFormat = bigquery.JSON
		if spec.Gzip {
			ref.Compression = bigquery.Gzip
		}
		applySchema(&ref.FileConfig, spec.Schema)
		source = ref
	} else {
		rs := bigquery.NewReaderSource(spec.Source)
		rs.SourceFormat = bigquery.JSON
		applySchema(&rs.FileConfig, spec.Schema)
		source = rs
	}

	loader := b.client.Dataset(datasetID).Table(tableID).LoaderFrom(source)
	loader.WriteDisposition = spec.WriteDisposition
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.Labels = spec.Labels
	loader.JobID = spec.JobID
	loader.Location = spec.Location

	job, err := loader.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to submit load job: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("load job %s failed or was cancelled: %w", job.ID(), err)
	}
	if status.Err() != nil {
		return nil, &JobError{JobID: job.ID(), Err: status.Err(), Details: status.Errors}
	}

	result := &JobResult{JobID: job.ID()}
	if status.Statistics != nil {
		if stats, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
			result.OutputRows = stats.OutputRows
		}
	}
	return result, nil
}

func (b *BigQueryBackend) NumRows(ctx context.Context, datasetID, tableID string) (uint64, error) {
	md, err := b.client.Dataset(datasetID).Table(tableID).Metadata(ctx)
	if err != nil {
		return 0, err
	}
	return md.NumRows, nil
}

func (b *BigQueryBackend) Query(ctx context.Context, sql, location string) ([]map[string]bigquery.Value, error) {
	q := b.client.Query(sql)
	q.Location = location

	it, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}

	var rows []map[string]bigquery.Value
	for {
		row := make(map[string]bigquery.Value)
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (b *BigQueryBackend) Close() error {
	return b.client.Close()
}

// JobError is a load job that finished with errors.
type JobError struct {
	JobID   string
	Err     error
	Details []*bigquery.Error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("load job %s failed: %v", e.JobID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func applySchema(fc *bigquery.FileConfig, schema bigquery.Schema) {
	if len(schema) > 0 {
		fc.Schema = schema
		return
	}
	fc.AutoDetect = true
}

func exists(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// IsNotFound reports a 404 from the BigQuery API.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsConflict reports a 409 "already exists" from the BigQuery API.
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

func hasStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
