package endpoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guseggert/maestro/internal/fakebrowser"
	inet "github.com/guseggert/maestro/internal/net"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var logger *zap.Logger

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	logger = l
}

func fakeServer(t *testing.T) *fakebrowser.Server {
	t.Helper()
	srv := fakebrowser.NewServer(fakebrowser.WithLogger(logger))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestVersionAndWebSocketURL(t *testing.T) {
	srv := fakeServer(t)
	c := NewClient(srv.BaseURL()+"/", WithLogger(logger))
	ctx := context.Background()

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.3", v.ProtocolVersion)
	assert.Contains(t, v.Browser, "HeadlessChrome")

	url, err := c.WebSocketURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL(), url)
}

func TestTargets(t *testing.T) {
	srv := fakeServer(t)
	c := NewClient(srv.BaseURL(), WithLogger(logger))

	targets, err := c.Targets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestStatusErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		errMsg  string
	}{
		{
			name:    "not found",
			handler: func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
			errMsg:  "unexpected status code 404",
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("{"))
			},
			errMsg: "decoding /json/version",
		},
		{
			name: "no websocket url",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"Browser":"x"}`))
			},
			errMsg: "did not report a WebSocket URL",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(c.handler)
			defer srv.Close()

			_, err := NewClient(srv.URL, WithLogger(logger)).WebSocketURL(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.errMsg)
		})
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"webSocketDebuggerUrl":"ws://127.0.0.1:1/devtools/browser/x"}`))
	}))
	defer srv.Close()

	url, err := NewClient(srv.URL, WithLogger(logger)).WebSocketURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:1/devtools/browser/x", url)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWaitForServer(t *testing.T) {
	addr, err := inet.EphemeralAddr("127.0.0.1")
	require.NoError(t, err)
	c := NewClient("http://"+addr,
		WithLogger(logger),
		WithWaitInterval(10*time.Millisecond),
		WithCustomizeRetryableClient(func(r *retryablehttp.Client) { r.RetryMax = 0 }),
	)

	t.Run("gives up when ctx ends", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, c.WaitForServer(ctx), context.DeadlineExceeded)
	})

	t.Run("returns once the server is up", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		srv := fakebrowser.NewServer(fakebrowser.WithLogger(logger), fakebrowser.WithListenAddr(addr))
		started := make(chan error, 1)
		go func() {
			time.Sleep(50 * time.Millisecond)
			started <- srv.Start()
		}()

		require.NoError(t, c.WaitForServer(ctx))
		require.NoError(t, <-started)
		require.NoError(t, srv.Close())
	})
}
