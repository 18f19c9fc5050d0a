// Package fakebrowser is an in-memory stand-in for a browser's remote-debugging server.
// It serves the /json discovery endpoints and a WebSocket endpoint that answers the
// Browser, Target and Page commands used by maestro, emitting the matching target events.
package fakebrowser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	inet "github.com/guseggert/maestro/internal/net"
	"github.com/guseggert/maestro/protocol"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	readLimit    = 16 << 20
	writeTimeout = 5 * time.Second

	codeMethodNotFound = -32601
	codeServerError    = -32000
)

// Request is a command as received by the server.
type Request struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// HandlerFunc answers a command. Returning a *protocol.ProtocolError sends it as is,
// any other error is sent as a generic server error.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

type response struct {
	ID        int64                   `json:"id"`
	SessionID string                  `json:"sessionId,omitempty"`
	Result    json.RawMessage         `json:"result,omitempty"`
	Error     *protocol.ProtocolError `json:"error,omitempty"`
}

type event struct {
	Method    string `json:"method"`
	Params    any    `json:"params"`
	SessionID string `json:"sessionId,omitempty"`
}

type Server struct {
	log        *zap.SugaredLogger
	listenAddr string
	product    string

	httpServer *http.Server
	listener   net.Listener
	browserID  string

	mut      sync.Mutex
	handlers map[string]HandlerFunc
	conns    map[*websocket.Conn]struct{}
	requests []Request
	state    *browserState

	closeOnce sync.Once
	closed    chan struct{}
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = l.Named("fakebrowser").Sugar()
	}
}

// WithProduct sets the product reported by Browser.getVersion and /json/version.
func WithProduct(p string) Option {
	return func(s *Server) {
		s.product = p
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		log:       zap.NewNop().Sugar(),
		product:   "HeadlessChrome/120.0.6099.109",
		browserID: uuid.NewString(),
		handlers:  map[string]HandlerFunc{},
		conns:     map[*websocket.Conn]struct{}{},
		state:     newBrowserState(),
		closed:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.registerDefaults()
	return s
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	if s.listenAddr == "" {
		addr, err := inet.EphemeralAddr("127.0.0.1")
		if err != nil {
			return fmt.Errorf("picking listen addr: %w", err)
		}
		s.listenAddr = addr
	}
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	s.listener = listener

	router := httprouter.New()
	router.GET("/json/version", s.version)
	router.GET("/json/list", s.list)
	router.GET("/json", s.list)
	router.GET("/devtools/browser/:id", s.browserWS)

	s.httpServer = &http.Server{Handler: router}
	go func() {
		err := s.httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Debugf("HTTP server error: %s", err)
		}
	}()
	s.log.Debugw("listening", "Addr", listener.Addr().String())
	return nil
}

// Addr returns host:port once started.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// BaseURL is the HTTP discovery base URL.
func (s *Server) BaseURL() string {
	return "http://" + s.Addr()
}

// URL is the browser's WebSocket debugging endpoint.
func (s *Server) URL() string {
	return fmt.Sprintf("ws://%s/devtools/browser/%s", s.Addr(), s.browserID)
}

// Done is closed after Browser.close has been answered or Close was called.
func (s *Server) Done() <-chan struct{} {
	return s.closed
}

// Handle installs or replaces the handler for method.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.handlers[method] = fn
}

// Requests returns every command received so far, in order.
func (s *Server) Requests() []Request {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]Request(nil), s.requests...)
}

// Emit sends an event to every connected client.
func (s *Server) Emit(method string, params any, sessionID string) {
	b, err := json.Marshal(event{Method: method, Params: params, SessionID: sessionID})
	if err != nil {
		s.log.Errorw("error marshaling event", "Method", method, "Error", err)
		return
	}
	s.broadcast(b)
}

// Send writes a raw frame to every connected client.
func (s *Server) Send(frame string) {
	s.broadcast([]byte(frame))
}

func (s *Server) broadcast(b []byte) {
	s.mut.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mut.Unlock()

	for _, c := range conns {
		s.write(c, b)
	}
}

func (s *Server) write(conn *websocket.Conn, b []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	s.log.Debugw("send", "Message", string(b))
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		s.log.Debugf("write error: %s", err)
	}
}

// CloseConns drops every WebSocket connection without stopping the HTTP server.
func (s *Server) CloseConns() {
	s.mut.Lock()
	conns := s.conns
	s.conns = map[*websocket.Conn]struct{}{}
	s.mut.Unlock()
	for c := range conns {
		c.Close(websocket.StatusGoingAway, "browser closing")
	}
}

// Close stops the server and drops all connections.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	s.CloseConns()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

type versionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	V8Version            string `json:"V8-Version"`
	WebKitVersion        string `json:"WebKit-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

func (s *Server) version(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.writeJSON(w, versionInfo{
		Browser:              s.product,
		ProtocolVersion:      protocolVersion,
		UserAgent:            s.userAgent(),
		V8Version:            jsVersion,
		WebKitVersion:        "537.36",
		WebSocketDebuggerURL: s.URL(),
	})
}

type listEntry struct {
	Description          string `json:"description"`
	DevtoolsFrontendURL  string `json:"devtoolsFrontendUrl"`
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	entries := []listEntry{}
	for _, info := range s.state.infos() {
		entries = append(entries, listEntry{
			ID:                   string(info.TargetID),
			Title:                info.Title,
			Type:                 info.Type,
			URL:                  info.URL,
			WebSocketDebuggerURL: fmt.Sprintf("ws://%s/devtools/page/%s", s.Addr(), info.TargetID),
		})
	}
	s.writeJSON(w, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

func (s *Server) browserWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if params.ByName("id") != s.browserID {
		http.Error(w, "unknown browser id", http.StatusNotFound)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		s.log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	conn.SetReadLimit(readLimit)
	s.log.Debug("accepted WebSocket conn")

	s.mut.Lock()
	s.conns[conn] = struct{}{}
	s.mut.Unlock()
	defer func() {
		s.mut.Lock()
		delete(s.conns, conn)
		s.mut.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			s.log.Debugf("read error: %s", err)
			return
		}
		s.log.Debugw("recv", "Message", string(b))

		var req Request
		if err := json.Unmarshal(b, &req); err != nil {
			s.log.Debugf("ignoring malformed request: %s", err)
			continue
		}
		s.mut.Lock()
		s.requests = append(s.requests, req)
		s.mut.Unlock()

		s.write(conn, s.answer(ctx, req))
		if req.Method == browserClose {
			s.closeOnce.Do(func() { close(s.closed) })
			s.CloseConns()
			return
		}
	}
}

func (s *Server) answer(ctx context.Context, req Request) []byte {
	resp := response{ID: req.ID, SessionID: req.SessionID}

	s.mut.Lock()
	handler, ok := s.handlers[req.Method]
	s.mut.Unlock()

	var (
		result any
		err    error
	)
	if !ok {
		err = &protocol.ProtocolError{Code: codeMethodNotFound, Message: fmt.Sprintf("'%s' wasn't found", req.Method)}
	} else {
		result, err = handler(ctx, req)
	}

	if err == nil {
		if result == nil {
			result = struct{}{}
		}
		resp.Result, err = json.Marshal(result)
	}
	if err != nil {
		var perr *protocol.ProtocolError
		if !errors.As(err, &perr) {
			perr = &protocol.ProtocolError{Code: codeServerError, Message: err.Error()}
		}
		resp.Result = nil
		resp.Error = perr
	}

	b, err := json.Marshal(resp)
	if err != nil {
		s.log.Errorw("error marshaling response", "ID", req.ID, "Error", err)
		return nil
	}
	return b
}
