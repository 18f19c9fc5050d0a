package fakebrowser

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/maestro/protocol"
	"github.com/guseggert/maestro/protocol/browser"
	"github.com/guseggert/maestro/protocol/page"
	"github.com/guseggert/maestro/protocol/target"
)

const (
	protocolVersion = "1.3"
	jsVersion       = "12.0.267.8"
	revision        = "@a0e6fe3c0e9a0a3a8fcb4a1b3b3dc8b51d2a91d4"

	// FailingHost makes Page.navigate report a DNS failure.
	FailingHost = "unresolvable.invalid"

	// PDF is what Page.printToPDF returns.
	PDF = "%PDF-1.4\n%fake\n%%EOF\n"
)

var (
	browserClose                    = browser.CloseCommand{}.Method()
	methodGetVersion                = browser.GetVersionCommand{}.Method()
	methodSetDiscoverTargets        = target.SetDiscoverTargetsCommand{}.Method()
	methodCreateBrowserContext      = target.CreateBrowserContextCommand{}.Method()
	methodDisposeBrowserContext     = target.DisposeBrowserContextCommand{}.Method()
	methodGetBrowserContexts        = target.GetBrowserContextsCommand{}.Method()
	methodCreateTarget              = target.CreateTargetCommand{}.Method()
	methodAttachToTarget            = target.AttachToTargetCommand{}.Method()
	methodCloseTarget               = target.CloseTargetCommand{}.Method()
	methodGetTargets                = target.GetTargetsCommand{}.Method()
	methodPageEnable                = page.EnableCommand{}.Method()
	methodPageNavigate              = page.NavigateCommand{}.Method()
	methodPageReload                = page.ReloadCommand{}.Method()
	methodPagePrintToPDF            = page.PrintToPDFCommand{}.Method()
	methodSetLifecycleEventsEnabled = page.SetLifecycleEventsEnabledCommand{}.Method()
)

type fakeTarget struct {
	info      target.Info
	lifecycle bool
}

// browserState is the in-memory model of targets, contexts and attached sessions.
type browserState struct {
	mut      sync.Mutex
	discover bool
	contexts map[target.BrowserContextID]struct{}
	targets  map[target.ID]*fakeTarget
	order    []target.ID
	sessions map[target.SessionID]target.ID
}

func newBrowserState() *browserState {
	return &browserState{
		contexts: map[target.BrowserContextID]struct{}{},
		targets:  map[target.ID]*fakeTarget{},
		sessions: map[target.SessionID]target.ID{},
	}
}

func (b *browserState) infos() []target.Info {
	b.mut.Lock()
	defer b.mut.Unlock()
	infos := make([]target.Info, 0, len(b.order))
	for _, id := range b.order {
		infos = append(infos, b.targets[id].info)
	}
	return infos
}

// newID returns an id in the style of a browser: 32 upper-case hex digits.
func newID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func decode[T any](req Request) (T, error) {
	var v T
	if len(req.Params) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(req.Params, &v); err != nil {
		return v, &protocol.ProtocolError{Code: -32602, Message: "Invalid parameters", Data: err.Error()}
	}
	return v, nil
}

func (s *Server) registerDefaults() {
	s.handlers[methodGetVersion] = s.getVersion
	s.handlers[browserClose] = func(ctx context.Context, req Request) (any, error) { return nil, nil }
	s.handlers[methodSetDiscoverTargets] = s.setDiscoverTargets
	s.handlers[methodCreateBrowserContext] = s.createBrowserContext
	s.handlers[methodDisposeBrowserContext] = s.disposeBrowserContext
	s.handlers[methodGetBrowserContexts] = s.getBrowserContexts
	s.handlers[methodCreateTarget] = s.createTarget
	s.handlers[methodAttachToTarget] = s.attachToTarget
	s.handlers[methodCloseTarget] = s.closeTarget
	s.handlers[methodGetTargets] = s.getTargets
	s.handlers[methodPageEnable] = s.pageCommand(nil)
	s.handlers[methodPageReload] = s.pageCommand(nil)
	s.handlers[methodSetLifecycleEventsEnabled] = s.pageCommand(s.setLifecycleEventsEnabled)
	s.handlers[methodPageNavigate] = s.pageCommand(s.navigate)
	s.handlers[methodPagePrintToPDF] = s.pageCommand(func(ctx context.Context, req Request, t *fakeTarget) (any, error) {
		return page.PrintToPDFResult{Data: []byte(PDF)}, nil
	})
}

func (s *Server) userAgent() string {
	return fmt.Sprintf("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) %s Safari/537.36", s.product)
}

func (s *Server) getVersion(ctx context.Context, req Request) (any, error) {
	return browser.GetVersionResult{
		ProtocolVersion: protocolVersion,
		Product:         s.product,
		Revision:        revision,
		UserAgent:       s.userAgent(),
		JSVersion:       jsVersion,
	}, nil
}

func (s *Server) setDiscoverTargets(ctx context.Context, req Request) (any, error) {
	cmd, err := decode[target.SetDiscoverTargetsCommand](req)
	if err != nil {
		return nil, err
	}
	s.state.mut.Lock()
	s.state.discover = cmd.Discover
	s.state.mut.Unlock()
	return nil, nil
}

func (s *Server) createBrowserContext(ctx context.Context, req Request) (any, error) {
	id := target.BrowserContextID(newID())
	s.state.mut.Lock()
	s.state.contexts[id] = struct{}{}
	s.state.mut.Unlock()
	return target.CreateBrowserContextResult{BrowserContextID: id}, nil
}

func (s *Server) getBrowserContexts(ctx context.Context, req Request) (any, error) {
	s.state.mut.Lock()
	ids := []target.BrowserContextID{}
	for id := range s.state.contexts {
		ids = append(ids, id)
	}
	s.state.mut.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return target.GetBrowserContextsResult{BrowserContextIDs: ids}, nil
}

func (s *Server) disposeBrowserContext(ctx context.Context, req Request) (any, error) {
	cmd, err := decode[target.DisposeBrowserContextCommand](req)
	if err != nil {
		return nil, err
	}
	s.state.mut.Lock()
	if _, ok := s.state.contexts[cmd.BrowserContextID]; !ok {
		s.state.mut.Unlock()
		return nil, &protocol.ProtocolError{Code: codeServerError, Message: "Failed to find context with id " + string(cmd.BrowserContextID)}
	}
	delete(s.state.contexts, cmd.BrowserContextID)
	var doomed []target.ID
	for _, id := range s.state.order {
		if s.state.targets[id].info.BrowserContextID == cmd.BrowserContextID {
			doomed = append(doomed, id)
		}
	}
	s.state.mut.Unlock()

	for _, id := range doomed {
		s.destroyTarget(id)
	}
	return nil, nil
}

func (s *Server) createTarget(ctx context.Context, req Request) (any, error) {
	cmd, err := decode[target.CreateTargetCommand](req)
	if err != nil {
		return nil, err
	}
	s.state.mut.Lock()
	if cmd.BrowserContextID != "" {
		if _, ok := s.state.contexts[cmd.BrowserContextID]; !ok {
			s.state.mut.Unlock()
			return nil, &protocol.ProtocolError{Code: codeServerError, Message: "Failed to find browser context with id " + string(cmd.BrowserContextID)}
		}
	}
	id := target.ID(newID())
	t := &fakeTarget{info: target.Info{
		TargetID:         id,
		Type:             "page",
		URL:              cmd.URL,
		BrowserContextID: cmd.BrowserContextID,
	}}
	s.state.targets[id] = t
	s.state.order = append(s.state.order, id)
	discover := s.state.discover
	info := t.info
	s.state.mut.Unlock()

	if discover {
		s.Emit(target.EventTargetCreated, target.TargetCreatedEvent{TargetInfo: info}, "")
	}
	return target.CreateTargetResult{TargetID: id}, nil
}

func (s *Server) attachToTarget(ctx context.Context, req Request) (any, error) {
	cmd, err := decode[target.AttachToTargetCommand](req)
	if err != nil {
		return nil, err
	}
	s.state.mut.Lock()
	t, ok := s.state.targets[cmd.TargetID]
	if !ok {
		s.state.mut.Unlock()
		return nil, &protocol.ProtocolError{Code: codeServerError, Message: "No target with given id found"}
	}
	sessionID := target.SessionID(newID())
	s.state.sessions[sessionID] = cmd.TargetID
	t.info.Attached = true
	info := t.info
	s.state.mut.Unlock()

	s.Emit(target.EventAttachedToTarget, target.AttachedToTargetEvent{SessionID: sessionID, TargetInfo: info}, "")
	return target.AttachToTargetResult{SessionID: sessionID}, nil
}

func (s *Server) closeTarget(ctx context.Context, req Request) (any, error) {
	cmd, err := decode[target.CloseTargetCommand](req)
	if err != nil {
		return nil, err
	}
	if !s.destroyTarget(cmd.TargetID) {
		return nil, &protocol.ProtocolError{Code: codeServerError, Message: "No target with given id found"}
	}
	return target.CloseTargetResult{Success: true}, nil
}

// destroyTarget detaches all sessions of id, removes it and emits the matching events.
func (s *Server) destroyTarget(id target.ID) bool {
	s.state.mut.Lock()
	if _, ok := s.state.targets[id]; !ok {
		s.state.mut.Unlock()
		return false
	}
	delete(s.state.targets, id)
	for i, tid := range s.state.order {
		if tid == id {
			s.state.order = append(s.state.order[:i], s.state.order[i+1:]...)
			break
		}
	}
	var detached []target.SessionID
	for sid, tid := range s.state.sessions {
		if tid == id {
			detached = append(detached, sid)
			delete(s.state.sessions, sid)
		}
	}
	discover := s.state.discover
	s.state.mut.Unlock()

	for _, sid := range detached {
		s.Emit(target.EventDetachedFromTarget, target.DetachedFromTargetEvent{SessionID: sid, TargetID: id}, "")
	}
	if discover {
		s.Emit(target.EventTargetDestroyed, target.TargetDestroyedEvent{TargetID: id}, "")
	}
	return true
}

func (s *Server) getTargets(ctx context.Context, req Request) (any, error) {
	return target.GetTargetsResult{TargetInfos: s.state.infos()}, nil
}

type pageHandler func(ctx context.Context, req Request, t *fakeTarget) (any, error)

// pageCommand resolves the target behind the request's session, failing the way a browser does
// when a page command is sent to the browser endpoint itself.
func (s *Server) pageCommand(fn pageHandler) HandlerFunc {
	return func(ctx context.Context, req Request) (any, error) {
		s.state.mut.Lock()
		tid, ok := s.state.sessions[target.SessionID(req.SessionID)]
		var t *fakeTarget
		if ok {
			t = s.state.targets[tid]
		}
		s.state.mut.Unlock()
		if t == nil {
			return nil, &protocol.ProtocolError{Code: codeMethodNotFound, Message: fmt.Sprintf("'%s' wasn't found", req.Method)}
		}
		if fn == nil {
			return nil, nil
		}
		return fn(ctx, req, t)
	}
}

func (s *Server) setLifecycleEventsEnabled(ctx context.Context, req Request, t *fakeTarget) (any, error) {
	cmd, err := decode[page.SetLifecycleEventsEnabledCommand](req)
	if err != nil {
		return nil, err
	}
	s.state.mut.Lock()
	t.lifecycle = cmd.Enabled
	s.state.mut.Unlock()
	return nil, nil
}

func (s *Server) navigate(ctx context.Context, req Request, t *fakeTarget) (any, error) {
	cmd, err := decode[page.NavigateCommand](req)
	if err != nil {
		return nil, err
	}
	frameID := page.FrameID(t.info.TargetID)
	loaderID := page.LoaderID(newID())
	if strings.Contains(cmd.URL, FailingHost) {
		return page.NavigateResult{FrameID: frameID, LoaderID: loaderID, ErrorText: "net::ERR_NAME_NOT_RESOLVED"}, nil
	}

	s.state.mut.Lock()
	t.info.URL = cmd.URL
	info := t.info
	lifecycle := t.lifecycle
	discover := s.state.discover
	s.state.mut.Unlock()

	if discover {
		s.Emit(target.EventTargetInfoChanged, target.TargetInfoChangedEvent{TargetInfo: info}, "")
	}
	if lifecycle {
		now := float64(time.Now().UnixNano()) / float64(time.Second)
		for _, name := range []string{"init", "DOMContentLoaded", "load", "networkIdle"} {
			s.Emit(page.EventLifecycle, page.LifecycleEvent{FrameID: frameID, LoaderID: loaderID, Name: name, Timestamp: now}, req.SessionID)
		}
	}
	return page.NavigateResult{FrameID: frameID, LoaderID: loaderID}, nil
}
