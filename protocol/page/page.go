// Package page holds the Page domain. Page commands are sent to a debugging session attached to a page target.
package page

import (
	"github.com/guseggert/maestro/protocol"
)

var domain = protocol.Domain("Page")

var (
	methodEnable                    = domain.Command("EnableCommand")
	methodNavigate                  = domain.Command("NavigateCommand")
	methodReload                    = domain.Command("ReloadCommand")
	methodPrintToPDF                = domain.Command("PrintToPDFCommand")
	methodSetLifecycleEventsEnabled = domain.Command("SetLifecycleEventsEnabledCommand")
)

// EventLifecycle keeps its "Event" suffix on the wire, so it is spelled out rather than derived.
const EventLifecycle = "Page.lifecycleEvent"

type FrameID string

type LoaderID string

type EnableCommand struct{}

func (EnableCommand) Method() string { return methodEnable }

type NavigateCommand struct {
	URL      string `json:"url"`
	Referrer string `json:"referrer,omitempty"`
}

func (NavigateCommand) Method() string { return methodNavigate }

// NavigateResult is returned once navigation has been committed or has failed.
// ErrorText is set when the navigation failed, e.g. "net::ERR_NAME_NOT_RESOLVED".
type NavigateResult struct {
	FrameID   FrameID  `json:"frameId"`
	LoaderID  LoaderID `json:"loaderId,omitempty"`
	ErrorText string   `json:"errorText,omitempty"`
}

type ReloadCommand struct {
	IgnoreCache bool `json:"ignoreCache,omitempty"`
}

func (ReloadCommand) Method() string { return methodReload }

// PrintToPDFCommand prints the page. Zero values are left out so the browser defaults apply.
type PrintToPDFCommand struct {
	Landscape         bool    `json:"landscape,omitempty"`
	PrintBackground   bool    `json:"printBackground,omitempty"`
	Scale             float64 `json:"scale,omitempty"`
	PaperWidth        float64 `json:"paperWidth,omitempty"`
	PaperHeight       float64 `json:"paperHeight,omitempty"`
	PageRanges        string  `json:"pageRanges,omitempty"`
	PreferCSSPageSize bool    `json:"preferCSSPageSize,omitempty"`
}

func (PrintToPDFCommand) Method() string { return methodPrintToPDF }

// PrintToPDFResult carries the document bytes, base64-encoded on the wire.
type PrintToPDFResult struct {
	Data []byte `json:"data"`
}

type SetLifecycleEventsEnabledCommand struct {
	Enabled bool `json:"enabled"`
}

func (SetLifecycleEventsEnabledCommand) Method() string { return methodSetLifecycleEventsEnabled }

// LifecycleEvent reports a load milestone of a frame, e.g. "DOMContentLoaded" or "networkIdle".
type LifecycleEvent struct {
	FrameID   FrameID  `json:"frameId"`
	LoaderID  LoaderID `json:"loaderId"`
	Name      string   `json:"name"`
	Timestamp float64  `json:"timestamp"`
}

func (LifecycleEvent) EventName() string { return EventLifecycle }
