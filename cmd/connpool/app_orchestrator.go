package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/actual-software/connpool/internal/config"
	"github.com/actual-software/connpool/internal/dialer"
	"github.com/actual-software/connpool/internal/metrics"
	"github.com/actual-software/connpool/internal/monitor"
	"github.com/actual-software/connpool/internal/pool"
	"github.com/actual-software/connpool/internal/tracing"
	poolerr "github.com/actual-software/connpool/pkg/common/errors"
	"github.com/actual-software/connpool/pkg/common/logging"
)

// ApplicationOrchestrator manages the application lifecycle with proper separation of concerns.
type ApplicationOrchestrator struct {
	cmd       *cobra.Command
	cfg       *config.Config
	logger    *zap.Logger
	tracer    *tracing.Tracer
	registry  *prometheus.Registry
	collector *metrics.Collector
	factory   dialer.Factory
	pool      *pool.Pool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// InitializeApplicationOrchestrator creates a new application orchestrator.
func InitializeApplicationOrchestrator(cmd *cobra.Command) *ApplicationOrchestrator {
	return &ApplicationOrchestrator{
		cmd: cmd,
	}
}

// ExecuteApplication runs the complete application lifecycle.
func (o *ApplicationOrchestrator) ExecuteApplication(args []string) error {
	if shouldShowVersion, err := o.handleVersionDisplay(); shouldShowVersion || err != nil {
		return err
	}

	if err := o.initializeConfiguration(); err != nil {
		return err
	}

	if err := o.initializeLogging(); err != nil {
		return err
	}

	defer func() {
		// Logger sync errors are typically not critical at shutdown.
		_ = o.logger.Sync()
	}()

	o.setupApplicationContext()
	defer o.cancel()

	if err := o.initializeTracing(); err != nil {
		return err
	}

	defer o.shutdownTracing()

	if err := o.createPool(); err != nil {
		return err
	}

	defer o.closePool()

	o.startMetricsCollection()
	o.startMonitor()

	return o.runApplication()
}

// handleVersionDisplay checks and handles version flag.
func (o *ApplicationOrchestrator) handleVersionDisplay() (bool, error) {
	showVersion, err := o.cmd.Flags().GetBool("version")
	if err != nil {
		return false, fmt.Errorf("failed to get version flag: %w", err)
	}

	if showVersion {
		displayVersionInformation(o.cmd.OutOrStdout())

		return true, nil
	}

	return false, nil
}

// initializeConfiguration loads the application configuration.
func (o *ApplicationOrchestrator) initializeConfiguration() error {
	configPath, err := o.cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	o.cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	return nil
}

// initializeLogging sets up the logger with proper precedence.
func (o *ApplicationOrchestrator) initializeLogging() error {
	logConfig, err := o.determineLoggingConfiguration()
	if err != nil {
		return err
	}

	logger, err := initLogger(logConfig.level, logConfig.quiet, &o.cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	o.logger = logger.With(
		zap.String(logging.FieldService, logging.ServiceName),
		zap.String(logging.FieldVersion, Version),
	)

	return nil
}

// LoggingConfiguration holds logging setup parameters.
type LoggingConfiguration struct {
	level string
	quiet bool
}

// determineLoggingConfiguration determines the logging configuration to use.
func (o *ApplicationOrchestrator) determineLoggingConfiguration() (*LoggingConfiguration, error) {
	quiet, err := o.cmd.Flags().GetBool("quiet")
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}

	logLevel, err := o.cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	// Use config file log level if CLI flag not explicitly changed.
	if !o.cmd.Flags().Changed("log-level") {
		logLevel = o.cfg.Logging.Level
	}

	return &LoggingConfiguration{
		level: logLevel,
		quiet: quiet,
	}, nil
}

// setupApplicationContext creates context and signal handling.
func (o *ApplicationOrchestrator) setupApplicationContext() {
	parent := o.cmd.Context()
	if parent == nil {
		parent = context.Background()
	}

	o.ctx, o.cancel = context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go o.handleShutdownSignals(sigChan)
}

// handleShutdownSignals processes shutdown signals.
func (o *ApplicationOrchestrator) handleShutdownSignals(sigChan chan os.Signal) {
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		o.logger.Info("Received shutdown signal")
		o.cancel()
	case <-o.ctx.Done():
	}
}

// initializeTracing installs the OpenTelemetry provider.
func (o *ApplicationOrchestrator) initializeTracing() error {
	tracingConfig := o.cfg.Tracing
	if tracingConfig.ServiceVersion == "" {
		tracingConfig.ServiceVersion = Version
	}

	tracer, err := tracing.Init(tracingConfig, o.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	o.tracer = tracer

	return nil
}

// shutdownTracing flushes pending spans.
func (o *ApplicationOrchestrator) shutdownTracing() {
	if err := o.tracer.Shutdown(context.Background()); err != nil {
		o.logger.Error("Failed to shutdown tracing", zap.Error(err))
	}
}

// createPool builds the dialer, the metrics collector and the pool itself.
func (o *ApplicationOrchestrator) createPool() error {
	settings, err := o.cfg.PoolSettings()
	if err != nil {
		return err
	}

	o.factory, err = dialer.New(o.cfg, o.logger)
	if err != nil {
		return fmt.Errorf("failed to create dialer: %w", err)
	}

	o.registry = prometheus.NewRegistry()
	o.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	o.collector = metrics.NewCollector(o.registry, prometheus.Labels(o.cfg.Metrics.Labels))

	opts := []pool.Option{
		pool.WithLogger(o.logger),
		pool.WithObserver(o.collector),
		pool.WithStalenessPolicy(o.cfg.StalenessPolicy()),
	}

	if o.tracer.IsEnabled() {
		opts = append(opts, pool.WithTracer(o.tracer.Provider().Tracer(tracerName)))
	}

	// The monitor marks the pool ready after its first successful heartbeat.
	if o.cfg.Monitor.Enabled {
		opts = append(opts, pool.WithStartPaused())
	}

	o.pool, err = pool.New(o.cfg.Target.Address, settings, o.factory, opts...)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}

	if err := o.collector.Watch(o.pool); err != nil {
		return fmt.Errorf("failed to register pool metrics: %w", err)
	}

	return nil
}

// closePool closes the pool and every connection it holds.
func (o *ApplicationOrchestrator) closePool() {
	if err := o.pool.Close(); err != nil {
		o.logger.Warn("Errors while closing pool connections", zap.Error(err))
	}
}

// startMetricsCollection launches the metrics exporter if enabled.
func (o *ApplicationOrchestrator) startMetricsCollection() {
	if !o.shouldEnableMetrics() {
		return
	}

	exporter := metrics.NewExporter(o.cfg.Metrics.Endpoint, o.cfg.Metrics.Path, o.registry, o.poolHealth, o.logger)

	o.wg.Add(1)

	go func() {
		defer o.wg.Done()

		if err := exporter.Start(o.ctx); err != nil {
			o.logger.Error("Metrics server error", zap.Error(err))
		}
	}()
}

// shouldEnableMetrics checks if metrics should be enabled.
func (o *ApplicationOrchestrator) shouldEnableMetrics() bool {
	return o.cfg.Metrics.Enabled && o.cfg.Metrics.Endpoint != ""
}

// poolHealth reports the pool as healthy only while it is ready.
func (o *ApplicationOrchestrator) poolHealth() (string, error) {
	state := o.pool.State()

	switch state {
	case pool.StateReady:
		return state.String(), nil
	case pool.StatePaused:
		return state.String(), pool.ErrPoolPaused
	default:
		return state.String(), pool.ErrPoolClosed
	}
}

// startMonitor launches the heartbeat monitor if enabled.
func (o *ApplicationOrchestrator) startMonitor() {
	if !o.cfg.Monitor.Enabled {
		return
	}

	m := monitor.New(o.pool, o.factory, monitor.Config{
		Interval:         o.cfg.HeartbeatInterval(),
		Timeout:          o.cfg.HeartbeatTimeout(),
		FailureThreshold: o.cfg.Monitor.FailureThreshold,
	}, monitor.WithLogger(o.logger), monitor.WithRecorder(o.collector))

	o.wg.Add(1)

	go func() {
		defer o.wg.Done()
		m.Run(o.ctx)
	}()
}

// runApplication drives the workload until it finishes or a signal arrives.
func (o *ApplicationOrchestrator) runApplication() error {
	o.logStartupInformation()

	ctx := o.ctx

	if d := o.cfg.WorkloadDuration(); d > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	retry := poolerr.NewRetryManager(
		poolerr.NewExponentialBackoffPolicy(poolerr.DefaultRetryConfig(), o.logger),
		o.logger,
	)

	workload := NewWorkload(o.pool, o.cfg.Workload.Workers, o.cfg.HoldTime(), retry, o.tracer, o.logger)
	result := workload.Run(ctx)

	o.cancel()
	o.wg.Wait()

	o.logShutdownSummary(result)

	return nil
}

// logStartupInformation logs pool startup details.
func (o *ApplicationOrchestrator) logStartupInformation() {
	settings := o.pool.Settings()

	o.logger.Info("Starting connpool",
		zap.String(logging.FieldAddress, o.cfg.Target.Address),
		zap.String(logging.FieldDialer, o.factory.Kind()),
		zap.Int(logging.FieldPoolMax, settings.MaxConnections()),
		zap.Int(logging.FieldPoolMin, settings.MinConnections()),
		zap.Bool("monitor", o.cfg.Monitor.Enabled),
		zap.Int("workers", o.cfg.Workload.Workers),
	)
}

// logShutdownSummary logs the workload result and the final pool stats.
func (o *ApplicationOrchestrator) logShutdownSummary(result WorkloadResult) {
	stats := o.pool.Stats()

	fields := []zap.Field{
		zap.Int64("iterations", result.Iterations),
		zap.Int64("failures", result.FailureCount()),
		zap.Duration("checkout_p50", result.CheckOutLatency.P50),
		zap.Duration("checkout_p99", result.CheckOutLatency.P99),
		zap.Duration("checkout_max", result.CheckOutLatency.Max),
		zap.Stringer(logging.FieldState, stats.State),
		zap.Uint64(logging.FieldGeneration, stats.Generation),
		zap.Int(logging.FieldAvailable, stats.Available),
		zap.Int(logging.FieldInUse, stats.InUse),
		zap.Int(logging.FieldPending, stats.Pending),
		zap.Int(logging.FieldWaitQueueLen, stats.WaitQueueLength),
		zap.Int64("connections_created", stats.CreatedCount),
		zap.Int64(logging.FieldDropped, stats.DroppedEvents),
	}

	for kind, n := range result.Failures {
		fields = append(fields, zap.Int64("failures_"+string(kind), n))
	}

	o.logger.Info("connpool shutdown complete", fields...)
}

const tracerName = "github.com/actual-software/connpool/cmd/connpool"
