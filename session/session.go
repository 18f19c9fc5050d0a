package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/guseggert/maestro/internal/httpclient"
	"github.com/guseggert/maestro/protocol"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"nhooyr.io/websocket"
)

const (
	tracerName = "github.com/guseggert/maestro/session"

	// DefaultReadLimit allows for large results such as printed PDFs and screenshots.
	DefaultReadLimit = 256 << 20

	maxConsecutiveReadErrors = 16
)

var (
	attrMethod    = attribute.Key("maestro.command.method")
	attrCommandID = attribute.Key("maestro.command.id")
	attrSessionID = attribute.Key("maestro.session.id")
)

type State int

const (
	StateInitial State = iota
	StateLaunching
	StateConnecting
	StateConnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateLaunching:
		return "launching"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Launcher starts the browser process a Session connects to.
// *launcher.Launcher satisfies it.
type Launcher interface {
	Launch(ctx context.Context) (string, error)
	Close(ctx context.Context) error
	// Exited is closed when the browser process exits.
	Exited() <-chan struct{}
}

type callResult struct {
	resp *protocol.Response
	err  error
}

// call is a single-use result slot for one command.
type call struct {
	id       int64
	method   string
	ch       chan callResult
	resolved atomic.Bool
}

// resolve delivers res, reporting false if the slot was already resolved.
func (c *call) resolve(res callResult) bool {
	if !c.resolved.CompareAndSwap(false, true) {
		return false
	}
	c.ch <- res
	return true
}

type Session struct {
	log        *zap.SugaredLogger
	launcher   Launcher
	dial       Dialer
	httpClient *http.Client
	readLimit  int64
	tracer     trace.Tracer

	mut     sync.Mutex
	state   State
	url     string
	conn    Conn
	nextID  int64
	pending map[int64]*call
	events  map[string]*registration
	// closed is set by the first Close or a failed start; the launcher has been asked to stop by then.
	closed bool

	cancel   context.CancelFunc
	loopDone chan struct{}
}

type Option func(s *Session)

func WithLauncher(l Launcher) Option {
	return func(s *Session) {
		s.launcher = l
	}
}

// WithDialer replaces the WebSocket dialer, mostly for tests.
func WithDialer(d Dialer) Option {
	return func(s *Session) {
		s.dial = d
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) {
		s.httpClient = c
	}
}

// WithReadLimit sets the maximum size of an inbound frame.
func WithReadLimit(n int64) Option {
	return func(s *Session) {
		s.readLimit = n
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.log = l.Named("session").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Session) {
		s.log = s.log.WithOptions(zap.IncreaseLevel(l))
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Session) {
		s.tracer = tp.Tracer(tracerName)
	}
}

func New(opts ...Option) *Session {
	s := &Session{
		log:       zap.NewNop().Sugar(),
		readLimit: DefaultReadLimit,
		tracer:    otel.Tracer(tracerName),
		pending:   map[int64]*call{},
		events:    map[string]*registration{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.httpClient == nil {
		s.httpClient = httpclient.New(s.log, func(c *retryablehttp.Client) {
			c.RetryMax = 3
		})
	}
	if s.dial == nil {
		s.dial = s.dialWebSocket
	}
	return s
}

func (s *Session) State() State {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.state
}

// URL returns the endpoint the session connected to.
func (s *Session) URL() string {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.url
}

// Launch starts the browser with the session's launcher and connects to it.
// If anything fails the launcher is closed and the session is stopped.
func (s *Session) Launch(ctx context.Context) error {
	s.mut.Lock()
	if s.launcher == nil {
		s.mut.Unlock()
		return ErrNoLauncher
	}
	if s.state != StateInitial {
		s.mut.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateLaunching
	s.mut.Unlock()

	url, err := s.launcher.Launch(ctx)
	if err != nil {
		s.abort(ctx)
		return fmt.Errorf("launching browser: %w", err)
	}
	return s.connect(ctx, url)
}

// Connect attaches to an already running browser at url.
func (s *Session) Connect(ctx context.Context, url string) error {
	s.mut.Lock()
	if s.state != StateInitial {
		s.mut.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateConnecting
	s.mut.Unlock()

	return s.connect(ctx, url)
}

func (s *Session) connect(ctx context.Context, url string) error {
	s.mut.Lock()
	if s.state == StateStopped {
		s.mut.Unlock()
		return ErrConnectionClosed
	}
	s.state = StateConnecting
	s.url = url
	s.mut.Unlock()

	conn, err := s.dial(ctx, url)
	if err != nil {
		s.abort(ctx)
		return fmt.Errorf("connecting to %s: %w", url, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})

	s.mut.Lock()
	if s.state != StateConnecting {
		// closed while dialing
		s.mut.Unlock()
		cancel()
		s.closeConn(conn, websocket.StatusNormalClosure, "")
		return ErrConnectionClosed
	}
	s.conn = conn
	s.cancel = cancel
	s.loopDone = loopDone
	s.state = StateConnected
	s.mut.Unlock()

	s.log.Debugw("connected", "URL", url)
	go s.readLoop(loopCtx, cancel, conn, loopDone)
	if s.launcher != nil {
		go s.watchLauncher(loopCtx, conn)
	}
	return nil
}

func (s *Session) abort(ctx context.Context) {
	s.mut.Lock()
	s.state = StateStopped
	s.closed = true
	s.mut.Unlock()
	if s.launcher != nil {
		if err := s.launcher.Close(ctx); err != nil {
			s.log.Debugf("error closing launcher: %s", err)
		}
	}
}

// watchLauncher closes the connection when the browser process goes away, which ends the receive loop.
func (s *Session) watchLauncher(ctx context.Context, conn Conn) {
	select {
	case <-ctx.Done():
	case <-s.launcher.Exited():
		s.log.Errorw("browser process exited, closing connection", "URL", s.URL())
		s.closeConn(conn, websocket.StatusGoingAway, "browser exited")
	}
}

func (s *Session) closeConn(conn Conn, code websocket.StatusCode, reason string) {
	if err := conn.Close(code, reason); err != nil {
		s.log.Debugf("error closing conn: %s", err)
	}
}

type sendOptions struct {
	sessionID string
}

type SendOption func(o *sendOptions)

// ToSession targets the command at an attached debugging session rather than the browser.
func ToSession(id string) SendOption {
	return func(o *sendOptions) {
		o.sessionID = id
	}
}

// Send writes cmd and waits for its response.
// A nil result only waits for the acknowledgement, otherwise the result is decoded into it.
// A browser-reported failure is returned as *protocol.ProtocolError.
// If the connection goes away first, ErrConnectionClosed is returned. Once it is gone, ErrNotConnected is.
func (s *Session) Send(ctx context.Context, cmd protocol.Command, result any, opts ...SendOption) error {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}
	method := cmd.Method()

	ctx, span := s.tracer.Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrMethod.String(method)),
	)
	defer span.End()
	if o.sessionID != "" {
		span.SetAttributes(attrSessionID.String(o.sessionID))
	}

	err := s.roundTrip(ctx, span, cmd, o.sessionID, result)
	if err != nil {
		metricCommandErrors.WithLabelValues(method).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Session) roundTrip(ctx context.Context, span trace.Span, cmd protocol.Command, sessionID string, result any) error {
	method := cmd.Method()

	s.mut.Lock()
	if s.state != StateConnected {
		s.mut.Unlock()
		return ErrNotConnected
	}
	s.nextID++
	c := &call{id: s.nextID, method: method, ch: make(chan callResult, 1)}
	s.pending[c.id] = c
	metricPendingCommands.Inc()
	conn := s.conn
	s.mut.Unlock()

	span.SetAttributes(attrCommandID.Int64(c.id))

	data, err := protocol.EncodeCommand(c.id, sessionID, cmd)
	if err != nil {
		s.removePending(c.id)
		return err
	}

	s.log.Debugw("send", "Message", string(data))
	// a canceled write context closes the connection, so writes are bound to the connection instead
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		if s.removePending(c.id) {
			return fmt.Errorf("writing %s: %w", method, err)
		}
		// the receive loop already failed the call
		return (<-c.ch).err
	}
	metricCommandsSent.WithLabelValues(method).Inc()

	select {
	case res := <-c.ch:
		if res.err != nil {
			return res.err
		}
		return res.resp.Decode(result)
	case <-ctx.Done():
		s.removePending(c.id)
		return ctx.Err()
	}
}

// Call sends cmd and decodes its result into a new R.
func Call[R any](ctx context.Context, s *Session, cmd protocol.Command, opts ...SendOption) (*R, error) {
	var r R
	if err := s.Send(ctx, cmd, &r, opts...); err != nil {
		return nil, err
	}
	return &r, nil
}

// takePending removes and returns the slot for id, or nil if there is none.
func (s *Session) takePending(id int64) *call {
	s.mut.Lock()
	defer s.mut.Unlock()
	c, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	metricPendingCommands.Dec()
	return c
}

func (s *Session) removePending(id int64) bool {
	return s.takePending(id) != nil
}

// failPending resolves every outstanding slot with err.
// The state must already be Stopped so that no new slots are added.
func (s *Session) failPending(err error) {
	s.mut.Lock()
	pending := s.pending
	s.pending = map[int64]*call{}
	metricPendingCommands.Sub(float64(len(pending)))
	s.mut.Unlock()

	for _, c := range pending {
		s.log.Debugw("failing pending command", "ID", c.id, "Method", c.method, "Error", err)
		c.resolve(callResult{err: err})
	}
}

func (s *Session) readLoop(ctx context.Context, cancel context.CancelFunc, conn Conn, done chan struct{}) {
	defer close(done)
	defer s.failPending(ErrConnectionClosed)
	defer s.stop(conn)
	defer cancel()

	readErrors := 0
	for {
		typ, b, err := conn.Read(ctx)
		if err != nil {
			if isDisconnect(ctx, err) {
				s.log.Debugf("receive loop stopping: %s", err)
				return
			}
			readErrors++
			s.log.Errorw("error reading frame", "Error", err, "ConsecutiveErrors", readErrors)
			if readErrors >= maxConsecutiveReadErrors {
				s.log.Errorw("too many consecutive read errors, stopping receive loop")
				s.closeConn(conn, websocket.StatusInternalError, "too many read errors")
				return
			}
			continue
		}
		readErrors = 0
		s.dispatch(payload(typ, b))
	}
}

// stop moves a session whose connection went away to Stopped.
func (s *Session) stop(conn Conn) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.state == StateConnected && s.conn == conn {
		s.log.Debugw("connection lost", "URL", s.url)
		s.state = StateStopped
	}
}

func isDisconnect(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		websocket.CloseStatus(err) != -1 ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func (s *Session) dispatch(data []byte) {
	s.log.Debugw("recv", "Message", string(data))

	env, err := protocol.Peek(data)
	if err != nil {
		metricFramesDropped.WithLabelValues(dropMalformed).Inc()
		s.log.Errorw("dropping malformed frame", "Error", err)
		return
	}

	switch {
	case env.IsResponse():
		s.handleResponse(*env.ID, data)
	case env.IsEvent():
		s.handleEvent(env.Method, data)
	default:
		metricFramesDropped.WithLabelValues(dropUnrecognized).Inc()
		s.log.Errorw("dropping unrecognized frame", "Message", string(data))
	}
}

func (s *Session) handleResponse(id int64, data []byte) {
	c := s.takePending(id)
	if c == nil {
		metricFramesDropped.WithLabelValues(dropUnmatched).Inc()
		s.log.Errorw("dropping response with no pending command", "ID", id)
		return
	}
	resp, err := protocol.DecodeResponse(data)
	if !c.resolve(callResult{resp: resp, err: err}) {
		s.log.Errorw("command already resolved", "ID", id, "Method", c.method)
	}
}

// Close stops the receive loop, closes the connection, fails any commands still waiting with
// ErrConnectionClosed, and closes the launcher. It is safe to call more than once.
// The launcher is closed even if ctx ends while waiting for the receive loop; ctx.Err() is returned then.
func (s *Session) Close(ctx context.Context) error {
	s.mut.Lock()
	if s.closed || s.state == StateInitial {
		s.mut.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateStopped
	conn := s.conn
	cancel := s.cancel
	loopDone := s.loopDone
	s.mut.Unlock()

	s.log.Debugw("closing session", "URL", s.URL())
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		s.closeConn(conn, websocket.StatusNormalClosure, "")
	}
	var waitErr error
	if loopDone != nil {
		select {
		case <-loopDone:
		case <-ctx.Done():
			waitErr = ctx.Err()
			s.log.Debugf("stopped waiting for the receive loop: %s", waitErr)
		}
	}
	s.failPending(ErrConnectionClosed)

	if s.launcher != nil {
		if err := s.launcher.Close(ctx); err != nil {
			return fmt.Errorf("closing launcher: %w", err)
		}
	}
	return waitErr
}
