package bqloader

import (
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"go.uber.org/zap"

	"github.com/ajitpratap0/bqloader/internal/trigger"
	"github.com/ajitpratap0/bqloader/pkg/config"
	"github.com/ajitpratap0/bqloader/pkg/logger"
)

func init() {
	functions.HTTP("RunPipeline", RunPipeline)
}

var (
	handlerOnce sync.Once
	handler     *trigger.Handler
)

// RunPipeline is the Cloud Functions HTTP entry point. Configuration is read
// from the environment on every invocation; the body is ignored.
func RunPipeline(w http.ResponseWriter, r *http.Request) {
	handlerOnce.Do(func() {
		handler = trigger.NewHandler(trigger.ConfigRunner(os.Getenv(config.KeyConfigFile), functionLogger()), trigger.Options{}, nil)
	})
	handler.Trigger(w, r)
}

func functionLogger() *zap.Logger {
	cfg := logger.DefaultConfig()
	if level := os.Getenv(config.KeyLogLevel); level != "" {
		cfg.Level = level
	}
	return logger.MustNew(cfg)
}
