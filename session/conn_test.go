package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/guseggert/maestro/protocol"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// fakeConn is an in-memory Conn. Frames pushed with inject are returned by Read,
// frames written by the session show up on written.
type fakeConn struct {
	in      chan []byte
	errs    chan error
	written chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 64),
		errs:    make(chan error, 64),
		written: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case b := <-c.in:
		return websocket.MessageText, b, nil
	case err := <-c.errs:
		return 0, nil, err
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	b := append([]byte(nil), p...)
	select {
	case c.written <- b:
		return nil
	case <-c.closed:
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) inject(s string) {
	c.in <- []byte(s)
}

// next returns the next frame written by the session.
func (c *fakeConn) next(t *testing.T) []byte {
	t.Helper()
	select {
	case b := <-c.written:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a written frame")
		return nil
	}
}

// nextID returns the correlation id of the next frame written by the session.
func (c *fakeConn) nextID(t *testing.T) int64 {
	t.Helper()
	env, err := protocol.Peek(c.next(t))
	require.NoError(t, err)
	require.NotNil(t, env.ID)
	return *env.ID
}

type fakeLauncher struct {
	url       string
	launchErr error

	mut    sync.Mutex
	closed int
	exited chan struct{}
}

func newFakeLauncher(url string) *fakeLauncher {
	return &fakeLauncher{url: url, exited: make(chan struct{})}
}

func (l *fakeLauncher) Launch(ctx context.Context) (string, error) {
	if l.launchErr != nil {
		return "", l.launchErr
	}
	return l.url, nil
}

func (l *fakeLauncher) Close(ctx context.Context) error {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.closed++
	return nil
}

func (l *fakeLauncher) Exited() <-chan struct{} { return l.exited }

func (l *fakeLauncher) closeCount() int {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.closed
}
