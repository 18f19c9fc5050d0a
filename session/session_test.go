package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/guseggert/maestro/protocol"
	"github.com/guseggert/maestro/protocol/page"
	"github.com/guseggert/maestro/protocol/target"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var logger *zap.Logger

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	logger = l
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func connected(t *testing.T, opts ...Option) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := New(append([]Option{
		WithLogger(logger),
		WithDialer(func(ctx context.Context, url string) (Conn, error) { return conn, nil }),
	}, opts...)...)
	require.NoError(t, s.Connect(context.Background(), "ws://fake/devtools/browser/1"))
	t.Cleanup(func() {
		require.NoError(t, s.Close(context.Background()))
	})
	return s, conn
}

type sendResult struct {
	res *page.NavigateResult
	err error
}

func navigate(s *Session) <-chan sendResult {
	ch := make(chan sendResult, 1)
	go func() {
		res, err := Call[page.NavigateResult](context.Background(), s, page.NavigateCommand{URL: "about:blank"})
		ch <- sendResult{res: res, err: err}
	}()
	return ch
}

func wait(t *testing.T, ch <-chan sendResult) sendResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for send to return")
		return sendResult{}
	}
}

func TestRoundTrip(t *testing.T) {
	s, conn := connected(t)
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, "ws://fake/devtools/browser/1", s.URL())

	ch := navigate(s)
	assert.Equal(t, `{"id":1,"method":"Page.navigate","params":{"url":"about:blank"}}`, string(conn.next(t)))
	conn.inject(`{"id":1,"result":{"frameId":"X"}}`)

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, page.FrameID("X"), r.res.FrameID)
}

func TestSendToSession(t *testing.T) {
	s, conn := connected(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Send(context.Background(), page.EnableCommand{}, nil, ToSession("S1"))
	}()
	assert.Equal(t, `{"id":1,"method":"Page.enable","params":{},"sessionId":"S1"}`, string(conn.next(t)))
	conn.inject(`{"id":1,"sessionId":"S1","result":{}}`)
	require.NoError(t, <-errCh)
}

func TestProtocolErrorSurfaces(t *testing.T) {
	cases := []struct {
		name   string
		result any
	}{
		{name: "typed result", result: &page.NavigateResult{}},
		{name: "acknowledgement", result: nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s, conn := connected(t)
			before := testutil.ToFloat64(metricCommandErrors.WithLabelValues("Page.navigate"))

			errCh := make(chan error, 1)
			go func() {
				errCh <- s.Send(context.Background(), page.NavigateCommand{URL: "about:blank"}, c.result)
			}()
			id := conn.nextID(t)
			conn.inject(fmt.Sprintf(`{"id":%d,"error":{"code":-1,"message":"boom"}}`, id))

			err := <-errCh
			perr, ok := protocol.IsProtocolError(err)
			require.True(t, ok, "expected a protocol error, got %v", err)
			assert.Equal(t, -1, perr.Code)
			assert.Equal(t, "boom", perr.Message)
			assert.Equal(t, before+1, testutil.ToFloat64(metricCommandErrors.WithLabelValues("Page.navigate")))
		})
	}
}

func TestMissingResult(t *testing.T) {
	s, conn := connected(t)

	ch := navigate(s)
	id := conn.nextID(t)
	conn.inject(fmt.Sprintf(`{"id":%d}`, id))

	r := wait(t, ch)
	require.ErrorIs(t, r.err, protocol.ErrMissingResult)
	var decErr *protocol.DecodeError
	require.ErrorAs(t, r.err, &decErr)
}

func TestConcurrentSendsGetDistinctIDs(t *testing.T) {
	const n = 50
	s, conn := connected(t)

	ids := make(chan int64, n)
	go func() {
		for i := 0; i < n; i++ {
			env, err := protocol.Peek(<-conn.written)
			if err != nil || env.ID == nil {
				return
			}
			ids <- *env.ID
			conn.inject(fmt.Sprintf(`{"id":%d,"result":{}}`, *env.ID))
		}
		close(ids)
	}()

	var group errgroup.Group
	for i := 0; i < n; i++ {
		group.Go(func() error {
			return s.Send(context.Background(), target.GetTargetsCommand{}, nil)
		})
	}
	require.NoError(t, group.Wait())

	var got []int64
	for id := range ids {
		got = append(got, id)
	}
	require.Len(t, got, n)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, id := range got {
		assert.Equal(t, int64(i+1), id)
	}
}

func TestSequentialIDsIncrease(t *testing.T) {
	s, conn := connected(t)

	var last int64
	for i := 0; i < 5; i++ {
		errCh := make(chan error, 1)
		go func() { errCh <- s.Send(context.Background(), target.GetTargetsCommand{}, nil) }()
		id := conn.nextID(t)
		assert.Greater(t, id, last)
		last = id
		conn.inject(fmt.Sprintf(`{"id":%d,"result":{"targetInfos":[]}}`, id))
		require.NoError(t, <-errCh)
	}
}

func TestEventFanOut(t *testing.T) {
	s, conn := connected(t)

	var wg sync.WaitGroup
	wg.Add(2)
	got := make(chan target.TargetCreatedEvent, 2)
	for i := 0; i < 2; i++ {
		OnEvent(s, func(sessionID string, ev target.TargetCreatedEvent) {
			defer wg.Done()
			got <- ev
		})
	}

	conn.inject(`{"method":"Target.targetCreated","params":{"targetInfo":{"targetId":"T1","type":"page","title":"","url":"about:blank","attached":false,"canAccessOpener":false}}}`)
	wg.Wait()
	close(got)

	for ev := range got {
		assert.Equal(t, target.ID("T1"), ev.TargetInfo.TargetID)
		assert.Equal(t, "about:blank", ev.TargetInfo.URL)
	}
}

func TestRawHandlerAndSessionID(t *testing.T) {
	s, conn := connected(t)

	got := make(chan Event, 1)
	s.RegisterHandler(HandlerFunc(func(ev Event) { got <- ev }), "Network.requestWillBeSent")

	conn.inject(`{"method":"Network.requestWillBeSent","params":{"requestId":"R"},"sessionId":"S9"}`)
	ev := <-got
	assert.Equal(t, "Network.requestWillBeSent", ev.Name)
	assert.Equal(t, "S9", ev.SessionID)
	assert.JSONEq(t, `{"requestId":"R"}`, string(ev.Params.(json.RawMessage)))
}

func TestTypeRegisteredAfterHandler(t *testing.T) {
	s, conn := connected(t)

	got := make(chan Event, 1)
	s.RegisterHandler(HandlerFunc(func(ev Event) { got <- ev }), target.EventTargetDestroyed)
	RegisterEvent[target.TargetDestroyedEvent](s)

	conn.inject(`{"method":"Target.targetDestroyed","params":{"targetId":"T"}}`)
	ev := <-got
	assert.Equal(t, target.TargetDestroyedEvent{TargetID: "T"}, ev.Params)
}

func TestDuplicateRegistrationIsIgnored(t *testing.T) {
	s, conn := connected(t)

	s.RegisterEventType(target.EventTargetDestroyed, protocol.DecoderFor[target.TargetDestroyedEvent]())
	// the second decoder would fail every event if it replaced the first
	s.RegisterEventType(target.EventTargetDestroyed, func(json.RawMessage) (any, error) {
		return nil, errors.New("should not be used")
	})

	got := make(chan Event, 1)
	s.RegisterHandler(HandlerFunc(func(ev Event) { got <- ev }), target.EventTargetDestroyed)
	conn.inject(`{"method":"Target.targetDestroyed","params":{"targetId":"T"}}`)
	assert.Equal(t, target.TargetDestroyedEvent{TargetID: "T"}, (<-got).Params)
}

func TestLoopSurvivesBadFrames(t *testing.T) {
	s, conn := connected(t)

	unknownBefore := testutil.ToFloat64(metricFramesDropped.WithLabelValues(dropUnregistered))
	unmatchedBefore := testutil.ToFloat64(metricFramesDropped.WithLabelValues(dropUnmatched))

	var called int
	var mut sync.Mutex
	s.RegisterHandler(HandlerFunc(func(ev Event) {
		mut.Lock()
		called++
		mut.Unlock()
	}), "Target.targetCreated")

	// unknown event, a response nobody asked for, garbage, an unrecognized object, and an undecodable event
	conn.inject(`{"method":"Unknown.event","params":{}}`)
	conn.inject(`{"id":42,"result":{}}`)
	conn.inject(`not json`)
	conn.inject(`{"foo":"bar"}`)
	conn.inject(``)
	RegisterEvent[target.TargetInfoChangedEvent](s)
	conn.inject(`{"method":"Target.targetInfoChanged","params":{"targetInfo":"nope"}}`)

	ch := navigate(s)
	id := conn.nextID(t)
	conn.inject(fmt.Sprintf(`{"id":%d,"result":{"frameId":"F"}}`, id))
	r := wait(t, ch)
	require.NoError(t, r.err)

	assert.Equal(t, unknownBefore+1, testutil.ToFloat64(metricFramesDropped.WithLabelValues(dropUnregistered)))
	assert.Equal(t, unmatchedBefore+1, testutil.ToFloat64(metricFramesDropped.WithLabelValues(dropUnmatched)))
	mut.Lock()
	assert.Zero(t, called)
	mut.Unlock()
}

func TestLateResponseIsDropped(t *testing.T) {
	s, conn := connected(t)

	ch := navigate(s)
	id := conn.nextID(t)
	conn.inject(fmt.Sprintf(`{"id":%d,"result":{"frameId":"A"}}`, id))
	conn.inject(fmt.Sprintf(`{"id":%d,"result":{"frameId":"B"}}`, id))
	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, page.FrameID("A"), r.res.FrameID)

	// still serving
	ch = navigate(s)
	id = conn.nextID(t)
	conn.inject(fmt.Sprintf(`{"id":%d,"result":{"frameId":"C"}}`, id))
	r = wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, page.FrameID("C"), r.res.FrameID)
}

func TestHandlerPanicDoesNotAffectOthers(t *testing.T) {
	s, conn := connected(t)

	got := make(chan struct{}, 1)
	s.RegisterHandler(HandlerFunc(func(ev Event) { panic("boom") }), "Page.loadEventFired")
	s.RegisterHandler(HandlerFunc(func(ev Event) { got <- struct{}{} }), "Page.loadEventFired")

	conn.inject(`{"method":"Page.loadEventFired","params":{"timestamp":1}}`)
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("second handler was not called")
	}
}

func TestCloseDrainsPending(t *testing.T) {
	conn := newFakeConn()
	s := New(WithLogger(logger), WithDialer(func(ctx context.Context, url string) (Conn, error) { return conn, nil }))
	require.NoError(t, s.Connect(context.Background(), "ws://fake"))

	first := navigate(s)
	second := navigate(s)
	conn.next(t)
	conn.next(t)

	require.NoError(t, s.Close(context.Background()))
	assert.ErrorIs(t, wait(t, first).err, ErrConnectionClosed)
	assert.ErrorIs(t, wait(t, second).err, ErrConnectionClosed)
	assert.Equal(t, StateStopped, s.State())

	// closing again is a no-op
	require.NoError(t, s.Close(context.Background()))
	assert.ErrorIs(t, s.Send(context.Background(), page.EnableCommand{}, nil), ErrNotConnected)
}

func TestNotConnected(t *testing.T) {
	s := New(WithLogger(logger))
	err := s.Send(context.Background(), page.EnableCommand{}, nil)
	require.ErrorIs(t, err, ErrNotConnected)
	require.NoError(t, s.Close(context.Background()))
}

func TestSendContextCanceled(t *testing.T) {
	s, conn := connected(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Send(ctx, page.EnableCommand{}, nil) }()
	id := conn.nextID(t)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	// the slot is gone, so the late answer is dropped
	before := testutil.ToFloat64(metricFramesDropped.WithLabelValues(dropUnmatched))
	conn.inject(fmt.Sprintf(`{"id":%d,"result":{}}`, id))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metricFramesDropped.WithLabelValues(dropUnmatched)) == before+1
	}, time.Second, 10*time.Millisecond)
}

func TestConnectionLossFailsPending(t *testing.T) {
	s, conn := connected(t)

	ch := navigate(s)
	conn.next(t)
	conn.Close(0, "")

	assert.ErrorIs(t, wait(t, ch).err, ErrConnectionClosed)
	assert.Equal(t, StateStopped, s.State())
	assert.ErrorIs(t, s.Send(context.Background(), page.EnableCommand{}, nil), ErrNotConnected)
}

func TestConsecutiveReadErrors(t *testing.T) {
	cases := []struct {
		name     string
		errs     int
		stopping bool
	}{
		{name: "below the limit the loop keeps reading", errs: maxConsecutiveReadErrors - 1},
		{name: "at the limit the connection is dropped", errs: maxConsecutiveReadErrors, stopping: true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s, conn := connected(t)

			ch := navigate(s)
			id := conn.nextID(t)
			for i := 0; i < c.errs; i++ {
				conn.errs <- errors.New("corrupt frame")
			}
			if !c.stopping {
				conn.inject(fmt.Sprintf(`{"id":%d,"result":{"frameId":"F"}}`, id))
			}

			r := wait(t, ch)
			if !c.stopping {
				require.NoError(t, r.err)
				assert.Equal(t, StateConnected, s.State())
				return
			}
			assert.ErrorIs(t, r.err, ErrConnectionClosed)
			assert.Equal(t, StateStopped, s.State())
			select {
			case <-conn.closed:
			case <-time.After(5 * time.Second):
				t.Fatal("connection was not closed")
			}
		})
	}
}

func TestCloseWithCanceledContext(t *testing.T) {
	l := newFakeLauncher("ws://127.0.0.1:1234/devtools/browser/x")
	conn := newFakeConn()
	s := New(
		WithLogger(logger),
		WithLauncher(l),
		WithDialer(func(ctx context.Context, url string) (Conn, error) { return conn, nil }),
	)
	require.NoError(t, s.Launch(context.Background()))
	ch := navigate(s)
	conn.next(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Close(ctx); err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, 1, l.closeCount())
	assert.ErrorIs(t, wait(t, ch).err, ErrConnectionClosed)
	assert.Equal(t, StateStopped, s.State())

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 1, l.closeCount())
}

func TestLaunch(t *testing.T) {
	t.Run("dials the launched endpoint and closes the launcher", func(t *testing.T) {
		l := newFakeLauncher("ws://127.0.0.1:1234/devtools/browser/x")
		conn := newFakeConn()
		var dialed string
		s := New(
			WithLogger(logger),
			WithLauncher(l),
			WithDialer(func(ctx context.Context, url string) (Conn, error) {
				dialed = url
				return conn, nil
			}),
		)
		require.NoError(t, s.Launch(context.Background()))
		assert.Equal(t, l.url, dialed)
		assert.Equal(t, StateConnected, s.State())
		require.ErrorIs(t, s.Launch(context.Background()), ErrAlreadyStarted)

		require.NoError(t, s.Close(context.Background()))
		assert.Equal(t, 1, l.closeCount())
	})

	t.Run("launch failure stops the session", func(t *testing.T) {
		l := newFakeLauncher("")
		l.launchErr = errors.New("no browser")
		s := New(WithLogger(logger), WithLauncher(l))

		err := s.Launch(context.Background())
		require.ErrorContains(t, err, "no browser")
		assert.Equal(t, StateStopped, s.State())
		assert.Equal(t, 1, l.closeCount())
	})

	t.Run("dial failure closes the launcher", func(t *testing.T) {
		l := newFakeLauncher("ws://127.0.0.1:1/devtools/browser/x")
		s := New(
			WithLogger(logger),
			WithLauncher(l),
			WithDialer(func(ctx context.Context, url string) (Conn, error) { return nil, errors.New("refused") }),
		)
		require.ErrorContains(t, s.Launch(context.Background()), "refused")
		assert.Equal(t, StateStopped, s.State())
		assert.Equal(t, 1, l.closeCount())
	})

	t.Run("browser exit fails pending commands", func(t *testing.T) {
		l := newFakeLauncher("ws://127.0.0.1:1234/devtools/browser/x")
		conn := newFakeConn()
		s := New(
			WithLogger(logger),
			WithLauncher(l),
			WithDialer(func(ctx context.Context, url string) (Conn, error) { return conn, nil }),
		)
		require.NoError(t, s.Launch(context.Background()))

		ch := navigate(s)
		conn.next(t)
		close(l.exited)

		assert.ErrorIs(t, wait(t, ch).err, ErrConnectionClosed)
		assert.Equal(t, StateStopped, s.State())
		assert.Equal(t, 0, l.closeCount())

		// the session is stopped but the launcher still has to be closed
		require.NoError(t, s.Close(context.Background()))
		assert.Equal(t, 1, l.closeCount())
	})

	t.Run("without a launcher", func(t *testing.T) {
		s := New(WithLogger(logger))
		require.ErrorIs(t, s.Launch(context.Background()), ErrNoLauncher)
	})
}
