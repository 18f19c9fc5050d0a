// Package target holds the Target domain: creating, attaching to and tracking debuggable targets and browser contexts.
package target

import (
	"github.com/guseggert/maestro/protocol"
)

var domain = protocol.Domain("Target")

var (
	methodAttachToTarget        = domain.Command("AttachToTargetCommand")
	methodCreateTarget          = domain.Command("CreateTargetCommand")
	methodCloseTarget           = domain.Command("CloseTargetCommand")
	methodCreateBrowserContext  = domain.Command("CreateBrowserContextCommand")
	methodDisposeBrowserContext = domain.Command("DisposeBrowserContextCommand")
	methodGetBrowserContexts    = domain.Command("GetBrowserContextsCommand")
	methodGetTargets            = domain.Command("GetTargetsCommand")
	methodSetDiscoverTargets    = domain.Command("SetDiscoverTargetsCommand")
)

// Event names.
var (
	EventTargetCreated      = domain.Event("TargetCreatedEvent")
	EventAttachedToTarget   = domain.Event("AttachedToTargetEvent")
	EventDetachedFromTarget = domain.Event("DetachedFromTargetEvent")
	EventTargetInfoChanged  = domain.Event("TargetInfoChangedEvent")
	EventTargetDestroyed    = domain.Event("TargetDestroyedEvent")
)

type ID string

// SessionID identifies a debugging session attached to a target.
type SessionID string

type BrowserContextID string

// Info describes a target. URL is empty for targets that have not loaded anything.
type Info struct {
	TargetID         ID               `json:"targetId"`
	Type             string           `json:"type"`
	Title            string           `json:"title"`
	URL              string           `json:"url"`
	Attached         bool             `json:"attached"`
	CanAccessOpener  bool             `json:"canAccessOpener"`
	OpenerID         ID               `json:"openerId,omitempty"`
	BrowserContextID BrowserContextID `json:"browserContextId,omitempty"`
}

// Commands

// AttachToTargetCommand attaches to a target. Flatten must be true for the session id to be usable
// in the sessionId field of later commands.
type AttachToTargetCommand struct {
	TargetID ID   `json:"targetId"`
	Flatten  bool `json:"flatten"`
}

func AttachToTarget(id ID) AttachToTargetCommand {
	return AttachToTargetCommand{TargetID: id, Flatten: true}
}

func (AttachToTargetCommand) Method() string { return methodAttachToTarget }

type AttachToTargetResult struct {
	SessionID SessionID `json:"sessionId"`
}

type CreateTargetCommand struct {
	URL              string           `json:"url"`
	BrowserContextID BrowserContextID `json:"browserContextId,omitempty"`
}

func (CreateTargetCommand) Method() string { return methodCreateTarget }

type CreateTargetResult struct {
	TargetID ID `json:"targetId"`
}

type CloseTargetCommand struct {
	TargetID ID `json:"targetId"`
}

func (CloseTargetCommand) Method() string { return methodCloseTarget }

type CloseTargetResult struct {
	Success bool `json:"success"`
}

type CreateBrowserContextCommand struct {
	DisposeOnDetach bool `json:"disposeOnDetach,omitempty"`
}

func (CreateBrowserContextCommand) Method() string { return methodCreateBrowserContext }

type CreateBrowserContextResult struct {
	BrowserContextID BrowserContextID `json:"browserContextId"`
}

type DisposeBrowserContextCommand struct {
	BrowserContextID BrowserContextID `json:"browserContextId"`
}

func (DisposeBrowserContextCommand) Method() string { return methodDisposeBrowserContext }

type GetBrowserContextsCommand struct{}

func (GetBrowserContextsCommand) Method() string { return methodGetBrowserContexts }

type GetBrowserContextsResult struct {
	BrowserContextIDs []BrowserContextID `json:"browserContextIds"`
}

type GetTargetsCommand struct{}

func (GetTargetsCommand) Method() string { return methodGetTargets }

type GetTargetsResult struct {
	TargetInfos []Info `json:"targetInfos"`
}

// SetDiscoverTargetsCommand turns targetCreated/targetInfoChanged/targetDestroyed events on or off.
type SetDiscoverTargetsCommand struct {
	Discover bool `json:"discover"`
}

func (SetDiscoverTargetsCommand) Method() string { return methodSetDiscoverTargets }

// Events

type TargetCreatedEvent struct {
	TargetInfo Info `json:"targetInfo"`
}

func (TargetCreatedEvent) EventName() string { return EventTargetCreated }

type AttachedToTargetEvent struct {
	SessionID          SessionID `json:"sessionId"`
	TargetInfo         Info      `json:"targetInfo"`
	WaitingForDebugger bool      `json:"waitingForDebugger"`
}

func (AttachedToTargetEvent) EventName() string { return EventAttachedToTarget }

type DetachedFromTargetEvent struct {
	SessionID SessionID `json:"sessionId"`
	TargetID  ID        `json:"targetId,omitempty"`
}

func (DetachedFromTargetEvent) EventName() string { return EventDetachedFromTarget }

type TargetInfoChangedEvent struct {
	TargetInfo Info `json:"targetInfo"`
}

func (TargetInfoChangedEvent) EventName() string { return EventTargetInfoChanged }

type TargetDestroyedEvent struct {
	TargetID ID `json:"targetId"`
}

func (TargetDestroyedEvent) EventName() string { return EventTargetDestroyed }
