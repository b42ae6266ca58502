// Package config loads connpool configuration from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/actual-software/connpool/internal/constants"
	"github.com/actual-software/connpool/internal/pool"
	"github.com/actual-software/connpool/internal/tracing"
	common "github.com/actual-software/connpool/pkg/common/config"
	poolerr "github.com/actual-software/connpool/pkg/common/errors"
)

// Dialer kinds.
const (
	DialerTCP       = "tcp"
	DialerRedis     = "redis"
	DialerWebSocket = "websocket"
)

// InfiniteMS marks a millisecond duration as unbounded.
const InfiniteMS = -1

const (
	defaultWorkers         = 8
	defaultWorkloadSeconds = 30
	defaultHoldTimeMS      = 5
	defaultFailureThresh   = 1
	redactedSecret         = "********"
)

type Config struct {
	Target   TargetConfig         `mapstructure:"target"   yaml:"target"`
	Pool     PoolConfig           `mapstructure:"pool"     yaml:"pool"`
	Monitor  MonitorConfig        `mapstructure:"monitor"  yaml:"monitor"`
	Workload WorkloadConfig       `mapstructure:"workload" yaml:"workload"`
	Logging  common.LoggingConfig `mapstructure:"logging"  yaml:"logging"`
	Metrics  common.MetricsConfig `mapstructure:"metrics"  yaml:"metrics"`
	Tracing  common.TracingConfig `mapstructure:"tracing"  yaml:"tracing"`
}

// TargetConfig describes the server the pool connects to.
type TargetConfig struct {
	Address          string          `mapstructure:"address"            yaml:"address"`
	Dialer           string          `mapstructure:"dialer"             yaml:"dialer"` // tcp, redis, websocket
	ConnectTimeoutMS int             `mapstructure:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	Redis            RedisConfig     `mapstructure:"redis"              yaml:"redis"`
	WebSocket        WebSocketConfig `mapstructure:"websocket"          yaml:"websocket"`
}

type RedisConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db"       yaml:"db"`
}

type WebSocketConfig struct {
	Scheme string `mapstructure:"scheme" yaml:"scheme"` // ws or wss
	Path   string `mapstructure:"path"   yaml:"path"`
}

// PoolConfig mirrors pool.Settings. Durations are in milliseconds and
// InfiniteMS disables maintenance or removes the wait bound.
type PoolConfig struct {
	MaintenanceIntervalMS int  `mapstructure:"maintenance_interval_ms" yaml:"maintenance_interval_ms"`
	MaxConnections        int  `mapstructure:"max_connections"         yaml:"max_connections"`
	MinConnections        int  `mapstructure:"min_connections"         yaml:"min_connections"`
	MaxConnecting         int  `mapstructure:"max_connecting"          yaml:"max_connecting"`
	WaitQueueTimeoutMS    int  `mapstructure:"wait_queue_timeout_ms"   yaml:"wait_queue_timeout_ms"`
	WaitQueueSize         *int `mapstructure:"wait_queue_size"         yaml:"wait_queue_size,omitempty"` // Derived from max_connections when unset
	Pausable              bool `mapstructure:"pausable"                yaml:"pausable"`
	MaxIdleTimeMS         int  `mapstructure:"max_idle_time_ms"        yaml:"max_idle_time_ms"` // 0 disables
	MaxLifetimeMS         int  `mapstructure:"max_lifetime_ms"         yaml:"max_lifetime_ms"`  // 0 disables
}

// MonitorConfig controls the heartbeat monitor.
type MonitorConfig struct {
	Enabled             bool `mapstructure:"enabled"               yaml:"enabled"`
	HeartbeatIntervalMS int  `mapstructure:"heartbeat_interval_ms" yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS  int  `mapstructure:"heartbeat_timeout_ms"  yaml:"heartbeat_timeout_ms"`
	FailureThreshold    int  `mapstructure:"failure_threshold"     yaml:"failure_threshold"`
}

// WorkloadConfig drives the checkout workload of the run command.
type WorkloadConfig struct {
	Workers    int `mapstructure:"workers"      yaml:"workers"`
	DurationMS int `mapstructure:"duration_ms"  yaml:"duration_ms"`
	HoldTimeMS int `mapstructure:"hold_time_ms" yaml:"hold_time_ms"`
}

// Load reads configuration from configPath, or from the default search paths
// when it is empty, overlaid with CONNPOOL_ environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	setupViperConfig(v, configPath)
	setupViperEnvironment(v)

	if err := bindEnvironmentVariables(v); err != nil {
		return nil, err
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	return unmarshalAndValidateConfig(v)
}

func setupViperConfig(v *viper.Viper, configPath string) {
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)

		return
	}

	v.SetConfigName("connpool")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/connpool")
	v.AddConfigPath("/etc/connpool")
}

func setupViperEnvironment(v *viper.Viper) {
	v.SetEnvPrefix("CONNPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// bindEnvironmentVariables binds keys that have no default and would
// otherwise be invisible to AutomaticEnv during Unmarshal.
func bindEnvironmentVariables(v *viper.Viper) error {
	envBindings := map[string]string{
		"pool.wait_queue_size":  "CONNPOOL_POOL_WAIT_QUEUE_SIZE",
		"target.redis.password": "CONNPOOL_TARGET_REDIS_PASSWORD",
		"target.redis.username": "CONNPOOL_TARGET_REDIS_USERNAME",
	}

	for key, envVar := range envBindings {
		if err := v.BindEnv(key, envVar); err != nil {
			return fmt.Errorf("failed to bind environment variable %s: %w", envVar, err)
		}
	}

	return nil
}

// readConfigFile reads the config file. A missing file is only an error when
// an explicit path was given.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}

		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

func unmarshalAndValidateConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	setTargetDefaults(v)
	setPoolDefaults(v)
	setMonitorDefaults(v)
	setWorkloadDefaults(v)
	setLoggingDefaults(v)
	setMetricsDefaults(v)
	setTracingDefaults(v)
}

func setTargetDefaults(v *viper.Viper) {
	v.SetDefault("target.address", "localhost:6379")
	v.SetDefault("target.dialer", DialerTCP)
	v.SetDefault("target.connect_timeout_ms", constants.ConnectionEstablishTimeout.Milliseconds())
	v.SetDefault("target.redis.db", 0)
	v.SetDefault("target.websocket.scheme", "ws")
	v.SetDefault("target.websocket.path", "/")
}

func setPoolDefaults(v *viper.Viper) {
	v.SetDefault("pool.maintenance_interval_ms", pool.DefaultMaintenanceInterval.Milliseconds())
	v.SetDefault("pool.max_connections", pool.DefaultMaxConnections)
	v.SetDefault("pool.min_connections", pool.DefaultMinConnections)
	v.SetDefault("pool.max_connecting", pool.DefaultMaxConnecting)
	v.SetDefault("pool.wait_queue_timeout_ms", pool.DefaultWaitQueueTimeout.Milliseconds())
	v.SetDefault("pool.pausable", pool.DefaultIsPausable)
	v.SetDefault("pool.max_idle_time_ms", 0)
	v.SetDefault("pool.max_lifetime_ms", 0)
}

func setMonitorDefaults(v *viper.Viper) {
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.heartbeat_interval_ms", constants.DefaultHeartbeatInterval.Milliseconds())
	v.SetDefault("monitor.heartbeat_timeout_ms", constants.DefaultHeartbeatTimeout.Milliseconds())
	v.SetDefault("monitor.failure_threshold", defaultFailureThresh)
}

func setWorkloadDefaults(v *viper.Viper) {
	v.SetDefault("workload.workers", defaultWorkers)
	v.SetDefault("workload.duration_ms", (defaultWorkloadSeconds * time.Second).Milliseconds())
	v.SetDefault("workload.hold_time_ms", defaultHoldTimeMS)
}

func setLoggingDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.include_caller", false)
	v.SetDefault("logging.sampling.enabled", false)
	v.SetDefault("logging.sampling.initial", 100)
	v.SetDefault("logging.sampling.thereafter", 100)
}

func setMetricsDefaults(v *viper.Viper) {
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", "localhost:9091")
	v.SetDefault("metrics.path", "/metrics")
}

func setTracingDefaults(v *viper.Viper) {
	defaults := tracing.DefaultConfig()

	v.SetDefault("tracing.enabled", defaults.Enabled)
	v.SetDefault("tracing.service_name", defaults.ServiceName)
	v.SetDefault("tracing.environment", defaults.Environment)
	v.SetDefault("tracing.sampler_type", defaults.SamplerType)
	v.SetDefault("tracing.sampler_param", defaults.SamplerParam)
	v.SetDefault("tracing.exporter_type", defaults.ExporterType)
	v.SetDefault("tracing.otlp_endpoint", defaults.OTLPEndpoint)
	v.SetDefault("tracing.otlp_insecure", defaults.OTLPInsecure)
}

// Validate checks the configuration. Failures are configuration errors.
func (c *Config) Validate() error {
	if c.Target.Address == "" {
		return configError("target.address is required")
	}

	switch c.Target.Dialer {
	case DialerTCP, DialerRedis, DialerWebSocket:
	default:
		return configError("unsupported target.dialer %q", c.Target.Dialer)
	}

	if c.Target.ConnectTimeoutMS <= 0 {
		return configError("target.connect_timeout_ms must be > 0, got %d", c.Target.ConnectTimeoutMS)
	}

	if c.Pool.MaxIdleTimeMS < 0 || c.Pool.MaxLifetimeMS < 0 {
		return configError("pool.max_idle_time_ms and pool.max_lifetime_ms must be >= 0")
	}

	if _, err := c.PoolSettings(); err != nil {
		return err
	}

	if c.Monitor.Enabled {
		if c.Monitor.HeartbeatIntervalMS <= 0 || c.Monitor.HeartbeatTimeoutMS <= 0 {
			return configError("monitor heartbeat interval and timeout must be > 0")
		}

		if c.Monitor.FailureThreshold < 1 {
			return configError("monitor.failure_threshold must be >= 1, got %d", c.Monitor.FailureThreshold)
		}
	}

	if c.Workload.Workers <= 0 {
		return configError("workload.workers must be > 0, got %d", c.Workload.Workers)
	}

	return nil
}

func configError(format string, args ...interface{}) error {
	return poolerr.Newf(poolerr.KindConfiguration, format, args...)
}

// PoolSettings converts the pool section to validated pool.Settings.
func (c *Config) PoolSettings() (pool.Settings, error) {
	opts := []pool.SettingsOption{
		pool.WithMaintenanceInterval(Milliseconds(c.Pool.MaintenanceIntervalMS)),
		pool.WithMaxConnections(c.Pool.MaxConnections),
		pool.WithMinConnections(c.Pool.MinConnections),
		pool.WithMaxConnecting(c.Pool.MaxConnecting),
		pool.WithWaitQueueTimeout(Milliseconds(c.Pool.WaitQueueTimeoutMS)),
		pool.WithPausable(c.Pool.Pausable),
	}

	if c.Pool.WaitQueueSize != nil {
		opts = append(opts, pool.WithWaitQueueSize(*c.Pool.WaitQueueSize))
	}

	return pool.NewSettings(opts...)
}

// StalenessPolicy returns the idle pruning policy, or nil when none is configured.
func (c *Config) StalenessPolicy() pool.StalenessPolicy {
	var policies []pool.StalenessPolicy

	if c.Pool.MaxIdleTimeMS > 0 {
		policies = append(policies, pool.MaxIdleTime(Milliseconds(c.Pool.MaxIdleTimeMS)))
	}

	if c.Pool.MaxLifetimeMS > 0 {
		policies = append(policies, pool.MaxLifetime(Milliseconds(c.Pool.MaxLifetimeMS)))
	}

	switch len(policies) {
	case 0:
		return nil
	case 1:
		return policies[0]
	default:
		return pool.AnyOf(policies...)
	}
}

// ConnectTimeout returns the per-connection establishment timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return Milliseconds(c.Target.ConnectTimeoutMS)
}

// HeartbeatInterval returns the monitor heartbeat period.
func (c *Config) HeartbeatInterval() time.Duration {
	return Milliseconds(c.Monitor.HeartbeatIntervalMS)
}

// HeartbeatTimeout returns the monitor heartbeat deadline.
func (c *Config) HeartbeatTimeout() time.Duration {
	return Milliseconds(c.Monitor.HeartbeatTimeoutMS)
}

// WorkloadDuration returns how long the run command drives load. Zero or
// InfiniteMS runs until interrupted.
func (c *Config) WorkloadDuration() time.Duration {
	return Milliseconds(c.Workload.DurationMS)
}

// HoldTime returns how long each worker keeps a connection checked out.
func (c *Config) HoldTime() time.Duration {
	return Milliseconds(c.Workload.HoldTimeMS)
}

// Milliseconds converts a configured millisecond value, mapping InfiniteMS to pool.Infinite.
func Milliseconds(ms int) time.Duration {
	if ms == InfiniteMS {
		return pool.Infinite
	}

	return time.Duration(ms) * time.Millisecond
}

// YAML renders the effective configuration with secrets redacted.
func (c *Config) YAML() ([]byte, error) {
	redacted := *c
	if redacted.Target.Redis.Password != "" {
		redacted.Target.Redis.Password = redactedSecret
	}

	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	return out, nil
}
