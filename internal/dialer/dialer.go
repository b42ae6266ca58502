// Package dialer provides pool.ConnectionFactory implementations for TCP,
// Redis and WebSocket servers.
//
// Every factory also implements Probe, a single out-of-band round trip used by
// the heartbeat monitor. Connections returned by the factories implement
// pool.AliveChecker by tracking I/O failures, so the pool can discard them
// without doing any I/O itself.
package dialer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/actual-software/connpool/internal/config"
	"github.com/actual-software/connpool/internal/pool"
	poolerr "github.com/actual-software/connpool/pkg/common/errors"
	"github.com/actual-software/connpool/pkg/common/logging"
)

// Factory opens pooled connections and probes the server out of band.
type Factory interface {
	pool.ConnectionFactory
	Probe(ctx context.Context) error
	Kind() string
}

// New builds the factory selected by cfg.Target.Dialer.
//
//nolint:ireturn // the dialer kind is chosen at runtime
func New(cfg *config.Config, logger *zap.Logger) (Factory, error) {
	target := cfg.Target
	timeout := cfg.ConnectTimeout()

	logger = logger.With(zap.String(logging.FieldDialer, target.Dialer))

	switch target.Dialer {
	case config.DialerTCP:
		return NewTCPFactory(target.Address, timeout, logger), nil
	case config.DialerRedis:
		return NewRedisFactory(target.Address, target.Redis, timeout, logger), nil
	case config.DialerWebSocket:
		return NewWebSocketFactory(websocketURL(target), timeout, logger), nil
	default:
		return nil, poolerr.Newf(poolerr.KindConfiguration, "unsupported dialer %q", target.Dialer)
	}
}

func websocketURL(target config.TargetConfig) string {
	scheme := target.WebSocket.Scheme
	if scheme == "" {
		scheme = "ws"
	}

	return fmt.Sprintf("%s://%s%s", scheme, target.Address, target.WebSocket.Path)
}

// withTimeout bounds ctx by timeout unless ctx already has an earlier deadline.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}
