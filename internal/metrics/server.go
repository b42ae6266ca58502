package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/actual-software/connpool/internal/constants"
	poolerr "github.com/actual-software/connpool/pkg/common/errors"
	"github.com/actual-software/connpool/pkg/common/logging"
)

// HealthFunc reports a status string and, when unhealthy, the error behind it.
// A pool error sets the response code and Retry-After from its registered ErrorInfo.
type HealthFunc func() (status string, err error)

// Exporter serves /metrics and /health on its own HTTP server.
type Exporter struct {
	logger *zap.Logger
	server *http.Server
	health HealthFunc

	mu       sync.RWMutex
	listener net.Listener
}

// NewExporter creates an exporter for gatherer on endpoint. An empty path
// defaults to /metrics.
func NewExporter(endpoint, path string, gatherer prometheus.Gatherer, health HealthFunc, logger *zap.Logger) *Exporter {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()

	e := &Exporter{
		logger: logger,
		health: health,
		server: &http.Server{
			Addr:         endpoint,
			Handler:      mux,
			ReadTimeout:  constants.MetricsServerReadTimeout,
			WriteTimeout: constants.MetricsServerWriteTimeout,
		},
	}

	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(logger),
	}))
	mux.HandleFunc("/health", e.healthHandler)

	return e
}

// Handler returns the HTTP handler, for mounting or testing.
func (e *Exporter) Handler() http.Handler {
	return e.server.Handler
}

// Endpoint returns the listening address once started, the configured one before.
func (e *Exporter) Endpoint() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.listener != nil {
		return e.listener.Addr().String()
	}

	return e.server.Addr
}

// Start serves until ctx is cancelled.
func (e *Exporter) Start(ctx context.Context) error {
	lc := &net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", e.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	e.mu.Lock()
	e.listener = listener
	e.mu.Unlock()

	e.logger.Info("Starting Prometheus metrics exporter",
		zap.String(logging.FieldEndpoint, listener.Addr().String()),
	)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.MetricsShutdownTimeout)
		defer cancel()

		if err := e.server.Shutdown(shutdownCtx); err != nil {
			e.logger.Error("Failed to shutdown metrics server", zap.Error(err))
		}
	}()

	if err := e.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server error: %w", err)
	}

	return nil
}

func (e *Exporter) healthHandler(w http.ResponseWriter, _ *http.Request) {
	status, err := "healthy", error(nil)
	if e.health != nil {
		status, err = e.health()
	}

	code := http.StatusOK
	body := map[string]string{"status": status}

	if err != nil {
		code = http.StatusServiceUnavailable

		var poolErr *poolerr.PoolError
		if errors.As(err, &poolErr) {
			info := poolErr.Info()
			if info.HTTPStatus != 0 {
				code = info.HTTPStatus
			}

			if info.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(info.RetryAfter))
			}

			body["error_code"] = string(poolErr.Code)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		e.logger.Error("Failed to write health response", zap.Error(err))
	}
}
