package browser

import (
	"context"
	"sync"

	"github.com/guseggert/maestro/protocol"
	"github.com/guseggert/maestro/protocol/page"
	"github.com/guseggert/maestro/protocol/target"
	"github.com/guseggert/maestro/session"
)

// Context is a browser context. Pages in different contexts share no cookies or storage.
type Context struct {
	browser *Browser
	id      target.BrowserContextID
}

func (c *Context) ID() target.BrowserContextID {
	return c.id
}

// NewPage creates a blank page in the context and attaches a debugging session to it.
func (c *Context) NewPage(ctx context.Context) (*Page, error) {
	s := c.browser.session
	created, err := session.Call[target.CreateTargetResult](ctx, s, target.CreateTargetCommand{
		URL:              "about:blank",
		BrowserContextID: c.id,
	})
	if err != nil {
		return nil, err
	}
	attached, err := session.Call[target.AttachToTargetResult](ctx, s, target.AttachToTarget(created.TargetID))
	if err != nil {
		return nil, err
	}

	p := &Page{
		browser:   c.browser,
		contextID: c.id,
		targetID:  created.TargetID,
		sessionID: attached.SessionID,
	}
	c.browser.addPage(p)
	return p, nil
}

// Close disposes the context and every page in it.
func (c *Context) Close(ctx context.Context) error {
	if err := c.browser.session.Send(ctx, target.DisposeBrowserContextCommand{BrowserContextID: c.id}, nil); err != nil {
		return err
	}
	c.browser.removeContextPages(c.id)
	return nil
}

type lifecycleWaiter struct {
	name string
	ch   chan page.LifecycleEvent
}

// Page is a page target with an attached debugging session.
type Page struct {
	browser   *Browser
	contextID target.BrowserContextID
	targetID  target.ID
	sessionID target.SessionID

	mut       sync.Mutex
	listeners []func(page.LifecycleEvent)
	waiters   []*lifecycleWaiter
}

func (p *Page) TargetID() target.ID {
	return p.targetID
}

func (p *Page) SessionID() target.SessionID {
	return p.sessionID
}

// Info returns the latest known target info for the page.
func (p *Page) Info() (target.Info, bool) {
	return p.browser.targets.Lookup(p.targetID)
}

func (p *Page) send(ctx context.Context, cmd protocol.Command, result any) error {
	return p.browser.session.Send(ctx, cmd, result, session.ToSession(string(p.sessionID)))
}

func (p *Page) Enable(ctx context.Context) error {
	return p.send(ctx, page.EnableCommand{}, nil)
}

// Navigate loads url and returns once the navigation is committed.
// Failed navigations are returned as *NavigationError.
func (p *Page) Navigate(ctx context.Context, url string) (*page.NavigateResult, error) {
	var res page.NavigateResult
	if err := p.send(ctx, page.NavigateCommand{URL: url}, &res); err != nil {
		return nil, err
	}
	if res.ErrorText != "" {
		return &res, &NavigationError{URL: url, Text: res.ErrorText}
	}
	return &res, nil
}

func (p *Page) Reload(ctx context.Context, ignoreCache bool) error {
	return p.send(ctx, page.ReloadCommand{IgnoreCache: ignoreCache}, nil)
}

// PrintToPDF renders the page as a PDF document.
func (p *Page) PrintToPDF(ctx context.Context, opts page.PrintToPDFCommand) ([]byte, error) {
	var res page.PrintToPDFResult
	if err := p.send(ctx, opts, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (p *Page) SetLifecycleEventsEnabled(ctx context.Context, enabled bool) error {
	return p.send(ctx, page.SetLifecycleEventsEnabledCommand{Enabled: enabled}, nil)
}

// OnLifecycleEvent calls fn for each lifecycle event of the page.
// Events are only sent after SetLifecycleEventsEnabled(ctx, true).
func (p *Page) OnLifecycleEvent(fn func(ev page.LifecycleEvent)) {
	p.mut.Lock()
	defer p.mut.Unlock()
	p.listeners = append(p.listeners, fn)
}

// WaitForLifecycleEvent returns a function that blocks until the named lifecycle event,
// such as "load" or "networkIdle", is received. Call it before triggering the navigation.
func (p *Page) WaitForLifecycleEvent(name string) func(ctx context.Context) (page.LifecycleEvent, error) {
	w := &lifecycleWaiter{name: name, ch: make(chan page.LifecycleEvent, 1)}
	p.mut.Lock()
	p.waiters = append(p.waiters, w)
	p.mut.Unlock()

	return func(ctx context.Context) (page.LifecycleEvent, error) {
		select {
		case ev := <-w.ch:
			return ev, nil
		case <-ctx.Done():
			p.removeWaiter(w)
			return page.LifecycleEvent{}, ctx.Err()
		}
	}
}

func (p *Page) removeWaiter(w *lifecycleWaiter) {
	p.mut.Lock()
	defer p.mut.Unlock()
	for i, other := range p.waiters {
		if other == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *Page) dispatchLifecycleEvent(ev page.LifecycleEvent) {
	p.mut.Lock()
	listeners := append([]func(page.LifecycleEvent){}, p.listeners...)
	var remaining []*lifecycleWaiter
	for _, w := range p.waiters {
		if w.name == ev.Name {
			w.ch <- ev
			continue
		}
		remaining = append(remaining, w)
	}
	p.waiters = remaining
	p.mut.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Close closes the page target.
func (p *Page) Close(ctx context.Context) error {
	defer p.browser.removePage(p)
	_, err := session.Call[target.CloseTargetResult](ctx, p.browser.session, target.CloseTargetCommand{TargetID: p.targetID})
	return err
}
