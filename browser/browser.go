// Package browser is a small high-level API over a Session: browsers, browser contexts and pages.
//
//	b, err := browser.New(ctx, browser.WithLauncherOptions(launcher.WithExecutable(path)))
//	...
//	defer b.Close(ctx)
//	p, err := b.NewPage(ctx)
//	_, err = p.Navigate(ctx, "https://example.com")
//	pdf, err := p.PrintToPDF(ctx, page.PrintToPDFCommand{})
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/guseggert/maestro/launcher"
	pbrowser "github.com/guseggert/maestro/protocol/browser"
	"github.com/guseggert/maestro/protocol/page"
	"github.com/guseggert/maestro/protocol/target"
	"github.com/guseggert/maestro/session"
	"go.uber.org/zap"
)

type options struct {
	logger       *zap.Logger
	launcherOpts []launcher.Option
	sessionOpts  []session.Option
}

type Option func(o *options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithLauncherOptions(opts ...launcher.Option) Option {
	return func(o *options) {
		o.launcherOpts = append(o.launcherOpts, opts...)
	}
}

func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

func buildOptions(opts []Option) *options {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type Browser struct {
	log            *zap.SugaredLogger
	session        *session.Session
	targets        *TargetManager
	defaultContext *Context

	mut   sync.Mutex
	pages map[target.SessionID]*Page
}

// New launches a browser and prepares it for use.
func New(ctx context.Context, opts ...Option) (*Browser, error) {
	o := buildOptions(opts)
	l := launcher.New(append([]launcher.Option{launcher.WithLogger(o.logger)}, o.launcherOpts...)...)
	s := session.New(append([]session.Option{session.WithLogger(o.logger), session.WithLauncher(l)}, o.sessionOpts...)...)

	b := newBrowser(s, o.logger)
	if err := s.Launch(ctx); err != nil {
		return nil, err
	}
	if err := b.init(ctx); err != nil {
		b.closeSession(ctx)
		return nil, err
	}
	return b, nil
}

// Connect attaches to a browser that is already running. Closing the returned Browser
// closes the remote browser too.
func Connect(ctx context.Context, url string, opts ...Option) (*Browser, error) {
	o := buildOptions(opts)
	s := session.New(append([]session.Option{session.WithLogger(o.logger)}, o.sessionOpts...)...)

	b := newBrowser(s, o.logger)
	if err := s.Connect(ctx, url); err != nil {
		return nil, err
	}
	if err := b.init(ctx); err != nil {
		b.closeSession(ctx)
		return nil, err
	}
	return b, nil
}

func newBrowser(s *session.Session, logger *zap.Logger) *Browser {
	b := &Browser{
		log:     logger.Named("browser").Sugar(),
		session: s,
		targets: NewTargetManager(s, logger),
		pages:   map[target.SessionID]*Page{},
	}
	session.OnEvent(s, b.routeLifecycleEvent)
	return b
}

func (b *Browser) init(ctx context.Context) error {
	if err := b.session.Send(ctx, target.SetDiscoverTargetsCommand{Discover: true}, nil); err != nil {
		return fmt.Errorf("enabling target discovery: %w", err)
	}
	c, err := b.NewContext(ctx)
	if err != nil {
		return fmt.Errorf("creating default browser context: %w", err)
	}
	b.defaultContext = c
	return nil
}

func (b *Browser) Session() *session.Session {
	return b.session
}

func (b *Browser) TargetManager() *TargetManager {
	return b.targets
}

// DefaultContext is the browser context created when the browser was opened.
func (b *Browser) DefaultContext() *Context {
	return b.defaultContext
}

func (b *Browser) Version(ctx context.Context) (*pbrowser.GetVersionResult, error) {
	return session.Call[pbrowser.GetVersionResult](ctx, b.session, pbrowser.GetVersionCommand{})
}

// Targets asks the browser for all of its targets.
func (b *Browser) Targets(ctx context.Context) ([]target.Info, error) {
	res, err := session.Call[target.GetTargetsResult](ctx, b.session, target.GetTargetsCommand{})
	if err != nil {
		return nil, err
	}
	return res.TargetInfos, nil
}

// NewContext creates an isolated browser context, similar to an incognito profile.
func (b *Browser) NewContext(ctx context.Context) (*Context, error) {
	res, err := session.Call[target.CreateBrowserContextResult](ctx, b.session, target.CreateBrowserContextCommand{})
	if err != nil {
		return nil, err
	}
	return &Context{browser: b, id: res.BrowserContextID}, nil
}

// NewPage opens a blank page in the default context.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	return b.defaultContext.NewPage(ctx)
}

// Close asks the browser to shut down and then closes the session, which also stops a launched process.
func (b *Browser) Close(ctx context.Context) error {
	err := b.session.Send(ctx, pbrowser.CloseCommand{}, nil)
	switch {
	case err == nil,
		errors.Is(err, session.ErrConnectionClosed),
		errors.Is(err, session.ErrNotConnected):
	default:
		b.log.Debugf("error sending Browser.close: %s", err)
	}
	return b.session.Close(ctx)
}

func (b *Browser) closeSession(ctx context.Context) {
	if err := b.session.Close(ctx); err != nil {
		b.log.Debugf("error closing session: %s", err)
	}
}

func (b *Browser) addPage(p *Page) {
	b.mut.Lock()
	defer b.mut.Unlock()
	b.pages[p.sessionID] = p
}

func (b *Browser) removePage(p *Page) {
	b.mut.Lock()
	defer b.mut.Unlock()
	delete(b.pages, p.sessionID)
}

func (b *Browser) removeContextPages(id target.BrowserContextID) {
	b.mut.Lock()
	defer b.mut.Unlock()
	for sid, p := range b.pages {
		if p.contextID == id {
			delete(b.pages, sid)
		}
	}
}

func (b *Browser) routeLifecycleEvent(sessionID string, ev page.LifecycleEvent) {
	b.mut.Lock()
	p, ok := b.pages[target.SessionID(sessionID)]
	b.mut.Unlock()
	if !ok {
		b.log.Debugw("lifecycle event for unknown page", "SessionID", sessionID, "Name", ev.Name)
		return
	}
	p.dispatchLifecycleEvent(ev)
}
