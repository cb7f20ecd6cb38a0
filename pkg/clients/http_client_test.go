package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/bqloader/pkg/etlerrors"
)

// recordingSleeper captures backoff waits without sleeping.
type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func newTestClient(t *testing.T, baseURL string, retries int, sleeper *recordingSleeper) *HTTPClient {
	t.Helper()
	return NewHTTPClient(&HTTPConfig{
		BaseURL:       baseURL,
		Timeout:       2 * time.Second,
		MaxRetries:    retries,
		BackoffFactor: 1.5,
	}, zap.NewNop(), WithSleeper(sleeper.sleep))
}

func TestHTTPClient_Success(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "/estados", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	client := newTestClient(t, server.URL, 3, sleeper)

	data, err := client.Get(context.Background(), "/estados", nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"ok": true}, data)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, sleeper.waits)
}

func TestHTTPClient_AlwaysFailing(t *testing.T) {
	for _, retries := range []int{1, 2, 3, 5} {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}))

		sleeper := &recordingSleeper{}
		client := newTestClient(t, server.URL, retries, sleeper)

		_, err := client.Get(context.Background(), "", nil)
		server.Close()

		require.Error(t, err)
		assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeExtract))
		assert.Equal(t, int32(retries), atomic.LoadInt32(&calls))
		assert.Len(t, sleeper.waits, retries-1)

		var httpErr *HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	}
}

func TestHTTPClient_SucceedsOnAttemptK(t *testing.T) {
	const k = 3
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < k {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[{"id": 1}]`))
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	client := newTestClient(t, server.URL, 4, sleeper)

	data, err := client.Get(context.Background(), "", nil)
	require.NoError(t, err)

	items, ok := data.([]any)
	require.True(t, ok)
	assert.Len(t, items, 1)
	assert.Equal(t, int32(k), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 2250 * time.Millisecond}, sleeper.waits)
}

func TestHTTPClient_DecodeFailureIsRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2, &recordingSleeper{})

	_, err := client.Get(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeExtract))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPClient_MalformedURLNotRetried(t *testing.T) {
	sleeper := &recordingSleeper{}
	client := newTestClient(t, "://missing-scheme", 3, sleeper)

	_, err := client.Get(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeExtract))
	assert.Empty(t, sleeper.waits)
}

func TestHTTPClient_QueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "nome", r.URL.Query().Get("orderBy"))
		assert.Equal(t, "1", r.URL.Query().Get("v"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/api?v=1", 1, &recordingSleeper{})

	data, err := client.Get(context.Background(), "", url.Values{"orderBy": {"nome"}})
	require.NoError(t, err)
	items, ok := data.([]any)
	require.True(t, ok)
	assert.Empty(t, items)
}

func TestHTTPClient_RequestHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewHTTPClient(&HTTPConfig{
		BaseURL: server.URL,
		Headers: map[string]string{"Authorization": "Bearer secret"},
	}, zap.NewNop())

	_, err := client.Get(context.Background(), "", nil)
	require.NoError(t, err)
}

func TestHTTPClient_CancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewHTTPClient(&HTTPConfig{BaseURL: server.URL, MaxRetries: 3}, zap.NewNop(),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return sleepContext(ctx, d)
		}))

	_, err := client.Get(ctx, "", nil)
	require.Error(t, err)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeExtract))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPClient_Defaults(t *testing.T) {
	client := NewHTTPClient(&HTTPConfig{BaseURL: "https://example.com"}, zap.NewNop())
	cfg := client.Config()

	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1.5, cfg.BackoffFactor)
	assert.Equal(t, 1500*time.Millisecond, client.Backoff(1))
	assert.Equal(t, 2250*time.Millisecond, client.Backoff(2))
}

func TestExtractor_RecordCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 1, "nome": "A"}, {"id": 2, "nome": "B"}]`))
	}))
	defer server.Close()

	extractor := NewExtractor(newTestClient(t, server.URL, 1, &recordingSleeper{}), "", nil, zap.NewNop())

	data, err := extractor.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, RecordCount(data))
	assert.Equal(t, 1, RecordCount(map[string]any{}))
}

func TestExtractor_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	extractor := NewExtractor(newTestClient(t, server.URL, 2, &recordingSleeper{}), "", nil, zap.NewNop())

	_, err := extractor.Extract(context.Background())
	require.Error(t, err)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeExtract))
}
