// Package trigger exposes a pipeline run over HTTP.
//
// Every request to the trigger route runs the pipeline once. The request body
// is ignored. A successful run answers 200 with
//
//	{"status": "success", "load_result": {...}}
//
// and any failure, including configuration errors, answers 500 with
//
//	{"status": "error", "message": "..."}
package trigger

import (
	"context"
	"net/http"
	"strconv"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/bqloader/internal/pipeline"
	"github.com/ajitpratap0/bqloader/pkg/config"
	"github.com/ajitpratap0/bqloader/pkg/metrics"
	"github.com/ajitpratap0/bqloader/pkg/observability"
	"github.com/ajitpratap0/bqloader/pkg/warehouse"
)

// Runner runs the pipeline once.
type Runner func(ctx context.Context) *pipeline.Result

// ConfigRunner returns a Runner that reloads configuration from the
// environment (and configFile when set) on every invocation.
func ConfigRunner(configFile string, log *zap.Logger) Runner {
	return func(ctx context.Context) *pipeline.Result {
		return pipeline.Execute(ctx, func() (*config.Config, error) {
			return config.Load(configFile)
		}, log)
	}
}

// Options configure a Handler.
type Options struct {
	// RateLimit is trigger requests per second; zero or less disables limiting
	RateLimit float64
	RateBurst int
	// ServiceName labels request spans
	ServiceName string
}

// Handler routes trigger, health and metrics requests.
type Handler struct {
	runner  Runner
	limiter *rate.Limiter
	logger  *zap.Logger
	router  *mux.Router
}

// Response is the JSON body of a trigger response.
type Response struct {
	Status     string                `json:"status"`
	LoadResult *warehouse.LoadResult `json:"load_result,omitempty"`
	Message    string                `json:"message,omitempty"`
}

// NewHandler creates a handler serving "/" and "/run" (the trigger),
// "/healthz" and "/metrics".
func NewHandler(runner Runner, opts Options, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "bqloader"
	}

	h := &Handler{
		runner: runner,
		logger: log.With(zap.String("component", "trigger")),
		router: mux.NewRouter(),
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	h.router.Use(observability.TracingMiddleware(opts.ServiceName))
	h.router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	h.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	h.router.HandleFunc("/run", h.Trigger).Methods(http.MethodGet, http.MethodPost)
	h.router.HandleFunc("/", h.Trigger).Methods(http.MethodGet, http.MethodPost)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Trigger runs the pipeline for one request.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		h.logger.Warn("trigger_rate_limited", zap.String("remote_addr", r.RemoteAddr))
		h.write(w, http.StatusTooManyRequests, Response{
			Status:  pipeline.StatusError,
			Message: "rate limit exceeded",
		})
		return
	}

	result := h.runner(r.Context())
	if result.OK() {
		h.write(w, result.StatusCode, Response{
			Status:     result.Status,
			LoadResult: result.LoadResult,
		})
		return
	}
	h.write(w, result.StatusCode, Response{
		Status:  result.Status,
		Message: result.Message,
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.write(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) write(w http.ResponseWriter, code int, body any) {
	if code == 0 {
		code = http.StatusInternalServerError
	}
	metrics.TriggerRequests.WithLabelValues(strconv.Itoa(code)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := gojson.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("trigger_response_error", zap.Error(err))
	}
}
