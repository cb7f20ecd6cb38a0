package clients

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/ajitpratap0/bqloader/pkg/etlerrors"
)

// Extractor is the extract stage: it fetches one endpoint through an
// HTTPClient and reports record counts.
type Extractor struct {
	client   *HTTPClient
	endpoint string
	params   url.Values
	logger   *zap.Logger
}

// NewExtractor creates an extractor for a fixed endpoint and query.
func NewExtractor(client *HTTPClient, endpoint string, params url.Values, logger *zap.Logger) *Extractor {
	return &Extractor{
		client:   client,
		endpoint: endpoint,
		params:   params,
		logger:   logger,
	}
}

// Extract fetches the configured endpoint. Every failure is an ExtractFailure.
func (e *Extractor) Extract(ctx context.Context) (any, error) {
	e.logger.Info("extract_start",
		zap.String("url", e.client.config.BaseURL),
		zap.String("endpoint", e.endpoint))

	data, err := e.client.Get(ctx, e.endpoint, e.params)
	if err != nil {
		e.logger.Error("extract_error", zap.Error(err))
		if !etlerrors.IsType(err, etlerrors.ErrorTypeExtract) {
			return nil, etlerrors.Extract(err, "unexpected extraction failure")
		}
		return nil, err
	}

	e.logger.Info("extract_success", zap.Int("records", RecordCount(data)))
	return data, nil
}

// RecordCount is the array length for arrays and 1 for anything else.
func RecordCount(data any) int {
	if items, ok := data.([]any); ok {
		return len(items)
	}
	return 1
}
