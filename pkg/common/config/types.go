// Package config provides configuration types shared across connpool components.
package config

// MetricsConfig represents standardized metrics configuration.
type MetricsConfig struct {
	Enabled  bool              `mapstructure:"enabled"  yaml:"enabled"`
	Endpoint string            `mapstructure:"endpoint" yaml:"endpoint"` // Host:port for metrics endpoint
	Path     string            `mapstructure:"path"     yaml:"path"`     // URL path for metrics (default: /metrics)
	Labels   map[string]string `mapstructure:"labels"   yaml:"labels"`   // Constant labels added to every series
}

// LoggingConfig represents standardized logging configuration.
type LoggingConfig struct {
	Level         string         `mapstructure:"level"          yaml:"level"`  // debug, info, warn, error
	Format        string         `mapstructure:"format"         yaml:"format"` // json, console
	Output        string         `mapstructure:"output"         yaml:"output"` // stdout, stderr, file path
	IncludeCaller bool           `mapstructure:"include_caller" yaml:"include_caller"`
	Sampling      SamplingConfig `mapstructure:"sampling"       yaml:"sampling"`
}

// SamplingConfig represents standardized log sampling configuration.
type SamplingConfig struct {
	Enabled    bool `mapstructure:"enabled"    yaml:"enabled"`
	Initial    int  `mapstructure:"initial"    yaml:"initial"`
	Thereafter int  `mapstructure:"thereafter" yaml:"thereafter"`
}

// TracingConfig represents standardized distributed tracing configuration.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"         yaml:"enabled"`
	ServiceName    string  `mapstructure:"service_name"    yaml:"service_name"`
	ServiceVersion string  `mapstructure:"service_version" yaml:"service_version"`
	Environment    string  `mapstructure:"environment"     yaml:"environment"`
	SamplerType    string  `mapstructure:"sampler_type"    yaml:"sampler_type"`  // "always_on", "always_off", "traceidratio"
	SamplerParam   float64 `mapstructure:"sampler_param"   yaml:"sampler_param"` // For traceidratio sampler
	ExporterType   string  `mapstructure:"exporter_type"   yaml:"exporter_type"` // "otlp", "stdout"
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"   yaml:"otlp_endpoint"`
	OTLPInsecure   bool    `mapstructure:"otlp_insecure"   yaml:"otlp_insecure"`
}
