package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	common "github.com/actual-software/connpool/pkg/common/config"
)

// Test variables.
var (
	testVersion   = "v1.0.0"
	testBuildTime = "2024-01-01T00:00:00Z"
	testGitCommit = "abc123"
)

func TestMain(m *testing.M) {
	Version = testVersion
	BuildTime = testBuildTime
	GitCommit = testGitCommit

	os.Exit(m.Run())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "connpool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()

	out := new(bytes.Buffer)

	rootCmd := newRootCmd()
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()

	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	output, err := executeRoot(t, "version")
	require.NoError(t, err)

	assert.Contains(t, output, "connpool")
	assert.Contains(t, output, "Version: "+testVersion)
	assert.Contains(t, output, "Build Time: "+testBuildTime)
	assert.Contains(t, output, "Git Commit: "+testGitCommit)
}

func TestVersionFlag(t *testing.T) {
	output, err := executeRoot(t, "--version")
	require.NoError(t, err)

	assert.Contains(t, output, testVersion)
}

func TestConfigCommand(t *testing.T) {
	path := writeConfig(t, `
target:
  address: cache.internal:6379
  dialer: redis
  redis:
    password: hunter2
pool:
  max_connections: 12
`)

	output, err := executeRoot(t, "config", "--config", path)
	require.NoError(t, err)

	assert.Contains(t, output, "cache.internal:6379")
	assert.Contains(t, output, "max_connections: 12")
	assert.NotContains(t, output, "hunter2")
}

func TestConfigCommandInvalid(t *testing.T) {
	path := writeConfig(t, `
target:
  address: localhost:6379
pool:
  max_connecting: 0
`)

	_, err := executeRoot(t, "config", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		quiet     bool
		config    common.LoggingConfig
		expectErr bool
	}{
		{name: "info json", level: "info", config: common.LoggingConfig{Format: "json", Output: "stderr"}},
		{name: "debug console", level: "debug", config: common.LoggingConfig{Format: "console", Output: "stderr"}},
		{name: "default output", level: "warn", config: common.LoggingConfig{}},
		{
			name:  "caller and sampling",
			level: "error",
			config: common.LoggingConfig{
				Output:        "stderr",
				IncludeCaller: true,
				Sampling:      common.SamplingConfig{Enabled: true, Initial: 10, Thereafter: 10},
			},
		},
		{name: "quiet ignores level", level: "bogus", quiet: true},
		{name: "invalid level", level: "bogus", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := initLogger(tt.level, tt.quiet, &tt.config)
			if tt.expectErr {
				require.Error(t, err)
				assert.Nil(t, logger)

				return
			}

			require.NoError(t, err)
			require.NotNil(t, logger)

			if tt.quiet {
				assert.False(t, logger.Core().Enabled(zapcore.ErrorLevel))
			}
		})
	}
}

func TestRunAgainstRedis(t *testing.T) {
	srv := miniredis.RunT(t)

	path := writeConfig(t, fmt.Sprintf(`
target:
  address: %s
  dialer: redis
pool:
  max_connections: 2
  min_connections: 1
  maintenance_interval_ms: 20
  wait_queue_timeout_ms: 500
monitor:
  enabled: true
  heartbeat_interval_ms: 20
  heartbeat_timeout_ms: 500
workload:
  workers: 4
  duration_ms: 200
  hold_time_ms: 1
metrics:
  enabled: true
  endpoint: 127.0.0.1:0
tracing:
  enabled: false
`, srv.Addr()))

	_, err := executeRoot(t, "--config", path, "--quiet")
	require.NoError(t, err)

	assert.Positive(t, srv.TotalConnectionCount())
	require.Eventually(t, func() bool {
		return srv.CurrentConnectionCount() == 0
	}, time.Second, 10*time.Millisecond, "every connection is closed on shutdown")
}

func TestRunRejectsUnknownDialer(t *testing.T) {
	path := writeConfig(t, `
target:
  address: localhost:1
  dialer: carrier-pigeon
`)

	_, err := executeRoot(t, "--config", path, "--quiet")
	require.Error(t, err)
}
