package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(DefaultTracingConfig())
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	ctx, span := StartSpan(context.Background(), "noop")
	span.SetAttribute("rows", 3)
	span.RecordError(errors.New("ignored by the no-op tracer"))
	span.End()

	assert.NotNil(t, ctx)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Environment = "test"
	cfg.Writer = &buf

	shutdown, err := InitTracing(cfg)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "pipeline.load")
	span.SetAttribute("table", "p.ibge.estados")
	span.SetAttribute("rows", int64(27))
	span.SetAttribute("ratio", 0.5)
	span.SetAttribute("staged", false)
	span.SetAttribute("labels", map[string]string{"a": "b"})
	span.RecordError(errors.New("load job failed"))
	span.End()

	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "pipeline.load")
	assert.Contains(t, out, "p.ibge.estados")
	assert.Contains(t, out, "load job failed")
}

func TestTracingMiddleware(t *testing.T) {
	var called bool
	handler := TracingMiddleware("bqloader")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
