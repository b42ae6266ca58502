package dialer

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/actual-software/connpool/internal/config"
	"github.com/actual-software/connpool/internal/pool"
	poolerr "github.com/actual-software/connpool/pkg/common/errors"
)

const testTimeout = 2 * time.Second

// startTCPServer accepts connections and echoes until the test ends.
func startTCPServer(t *testing.T) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup

	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})

	wg.Add(1)

	go func() {
		defer wg.Done()

		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			wg.Add(1)

			go func() {
				defer wg.Done()
				defer func() { _ = conn.Close() }()

				_, _ = io.Copy(conn, conn)
			}()
		}
	}()

	return ln
}

func startWebSocketServer(t *testing.T) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if err := conn.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestTCPFactory(t *testing.T) {
	t.Parallel()

	ln := startTCPServer(t)
	factory := NewTCPFactory(ln.Addr().String(), testTimeout, zaptest.NewLogger(t))
	assert.Equal(t, "tcp", factory.Kind())

	raw, err := factory.Open(context.Background())
	require.NoError(t, err)

	conn, ok := raw.(*TCPConn)
	require.True(t, ok)
	assert.True(t, conn.IsAlive())

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Millisecond)))
	_, err = conn.Read(buf)
	require.Error(t, err)
	assert.True(t, conn.IsAlive(), "a deadline expiry does not kill the connection")

	require.NoError(t, conn.Close())
	assert.False(t, conn.IsAlive())

	require.NoError(t, factory.Probe(context.Background()))
}

func TestTCPFactoryUnreachable(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	address := ln.Addr().String()
	require.NoError(t, ln.Close())

	factory := NewTCPFactory(address, testTimeout, zaptest.NewLogger(t))

	_, err = factory.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), address)
	assert.Error(t, factory.Probe(context.Background()))
}

func TestTCPConnMarkedDeadOnPeerClose(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	raw, err := NewTCPFactory(ln.Addr().String(), testTimeout, zaptest.NewLogger(t)).Open(context.Background())
	require.NoError(t, err)

	conn := raw.(*TCPConn)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Read(make([]byte, 1))
	require.Error(t, err)
	assert.False(t, conn.IsAlive())
}

func TestRedisFactory(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	factory := NewRedisFactory(srv.Addr(), config.RedisConfig{}, testTimeout, zaptest.NewLogger(t))
	assert.Equal(t, "redis", factory.Kind())

	raw, err := factory.Open(context.Background())
	require.NoError(t, err)

	conn, ok := raw.(*RedisConn)
	require.True(t, ok)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Do(context.Background(), "SET", "greeting", "hello")
	require.NoError(t, err)

	value, err := conn.Do(context.Background(), "GET", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	missing, err := conn.Do(context.Background(), "GET", "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Equal(t, "hello", conn.Client().Get(context.Background(), "greeting").Val())
	require.NoError(t, factory.Probe(context.Background()))
}

func TestRedisCommandError(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)

	raw, err := NewRedisFactory(srv.Addr(), config.RedisConfig{}, testTimeout, zaptest.NewLogger(t)).
		Open(context.Background())
	require.NoError(t, err)

	conn := raw.(*RedisConn)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Do(context.Background(), "SET", "counter", "abc")
	require.NoError(t, err)

	_, err = conn.Do(context.Background(), "INCR", "counter")
	require.Error(t, err)
	assert.True(t, poolerr.IsKind(err, poolerr.KindCommand))
	assert.True(t, conn.IsAlive(), "a reply error leaves the connection usable")

	var cmdErr *poolerr.PoolError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, cmdErr.Message, "not an integer")
	assert.Equal(t, []interface{}{"INCR", "counter"}, cmdErr.Command["args"])
}

func TestRedisAuthentication(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	srv.RequireAuth("s3cret")

	logger := zaptest.NewLogger(t)

	_, err := NewRedisFactory(srv.Addr(), config.RedisConfig{Password: "wrong"}, testTimeout, logger).
		Open(context.Background())
	require.Error(t, err)

	raw, err := NewRedisFactory(srv.Addr(), config.RedisConfig{Password: "s3cret"}, testTimeout, logger).
		Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, raw.Close())
}

func TestRedisConnMarkedDeadWhenServerStops(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	factory := NewRedisFactory(srv.Addr(), config.RedisConfig{}, testTimeout, zaptest.NewLogger(t))

	raw, err := factory.Open(context.Background())
	require.NoError(t, err)

	conn := raw.(*RedisConn)
	t.Cleanup(func() { _ = conn.Close() })

	srv.Close()

	_, err = conn.Do(context.Background(), "PING")
	require.Error(t, err)
	assert.False(t, poolerr.IsKind(err, poolerr.KindCommand))
	assert.False(t, conn.IsAlive())
	assert.Error(t, factory.Probe(context.Background()))
}

func TestWebSocketFactory(t *testing.T) {
	t.Parallel()

	srv := startWebSocketServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	factory := NewWebSocketFactory(url, testTimeout, zaptest.NewLogger(t))
	assert.Equal(t, "websocket", factory.Kind())

	raw, err := factory.Open(context.Background())
	require.NoError(t, err)

	conn, ok := raw.(*WebSocketConn)
	require.True(t, ok)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))

	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, conn.Close())
	assert.False(t, conn.IsAlive())

	require.NoError(t, factory.Probe(context.Background()))
}

func TestWebSocketFactoryRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	factory := NewWebSocketFactory("ws"+strings.TrimPrefix(srv.URL, "http"), testTimeout, zaptest.NewLogger(t))

	_, err := factory.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, websocket.ErrBadHandshake))
}

func TestNew(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)

	tests := []struct {
		dialer string
		kind   string
	}{
		{dialer: config.DialerTCP, kind: "tcp"},
		{dialer: config.DialerRedis, kind: "redis"},
		{dialer: config.DialerWebSocket, kind: "websocket"},
	}

	for _, tt := range tests {
		cfg := &config.Config{Target: config.TargetConfig{
			Address:          "localhost:1",
			Dialer:           tt.dialer,
			ConnectTimeoutMS: 100,
		}}

		factory, err := New(cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, tt.kind, factory.Kind())
	}

	_, err := New(&config.Config{Target: config.TargetConfig{Dialer: "udp"}}, logger)
	assert.ErrorIs(t, err, pool.ErrConfiguration)
}

func TestWebSocketURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ws://example.com:80/socket", websocketURL(config.TargetConfig{
		Address:   "example.com:80",
		WebSocket: config.WebSocketConfig{Path: "/socket"},
	}))
	assert.Equal(t, "wss://example.com:443/", websocketURL(config.TargetConfig{
		Address:   "example.com:443",
		WebSocket: config.WebSocketConfig{Scheme: "wss", Path: "/"},
	}))
}

// TestPoolOverRedis runs the pool end to end against a Redis server.
func TestPoolOverRedis(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	factory := NewRedisFactory(srv.Addr(), config.RedisConfig{}, testTimeout, zaptest.NewLogger(t))

	settings, err := pool.NewSettings(
		pool.WithMaintenanceInterval(pool.Infinite),
		pool.WithMaxConnections(2),
	)
	require.NoError(t, err)

	p, err := pool.New(srv.Addr(), settings, factory, pool.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			conn, err := p.CheckOut(context.Background())
			if !assert.NoError(t, err) {
				return
			}

			redisConn := conn.Conn().(*RedisConn)
			_, err = redisConn.Do(context.Background(), "INCR", "hits")
			assert.NoError(t, err)

			if i == 0 {
				_, err = redisConn.Do(context.Background(), "SET", "worker", i)
				assert.NoError(t, err)
			}

			assert.NoError(t, p.CheckIn(conn))
		}()
	}

	wg.Wait()

	hits, err := srv.Get("hits")
	require.NoError(t, err)
	assert.Equal(t, "10", hits)
	assert.LessOrEqual(t, p.Stats().CreatedCount, int64(2))

	srv.Close()
	p.Clear(errors.New("server stopped"))
	assert.Equal(t, 0, p.Stats().Available)
}
