// Package browser holds the Browser domain.
package browser

import (
	"github.com/guseggert/maestro/protocol"
)

var domain = protocol.Domain("Browser")

var (
	methodClose      = domain.Command("CloseCommand")
	methodGetVersion = domain.Command("GetVersionCommand")
)

// CloseCommand closes the browser gracefully. The browser usually drops the connection
// before or right after answering it.
type CloseCommand struct{}

func (CloseCommand) Method() string { return methodClose }

type GetVersionCommand struct{}

func (GetVersionCommand) Method() string { return methodGetVersion }

type GetVersionResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	Product         string `json:"product"`
	Revision        string `json:"revision"`
	UserAgent       string `json:"userAgent"`
	JSVersion       string `json:"jsVersion"`
}
