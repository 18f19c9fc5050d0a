package protocol

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	commandSuffix = "Command"
	eventSuffix   = "Event"
)

// CanonicalName builds the wire name for a definition called typeName in the given domain.
// The suffix is stripped from typeName and the first letter of what remains is lowered,
// so ("Page", "NavigateCommand", "Command") becomes "Page.navigate".
func CanonicalName(domain, typeName, suffix string) string {
	name := strings.TrimSuffix(typeName, suffix)
	if name == "" {
		name = typeName
	}
	return domain + "." + lowerFirst(name)
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

// Domain is a protocol namespace such as "Page" or "Target".
// Vocabulary packages declare one and derive their method and event names from it at package init.
type Domain string

// Command returns the canonical method name for a command type name ending in "Command".
func (d Domain) Command(typeName string) string {
	return CanonicalName(string(d), typeName, commandSuffix)
}

// Event returns the canonical event name for an event type name ending in "Event".
func (d Domain) Event(typeName string) string {
	return CanonicalName(string(d), typeName, eventSuffix)
}
