// Package session owns the WebSocket connection to a browser's debugging endpoint.
//
// A Session assigns correlation ids to outgoing commands, matches responses to the callers
// waiting on them, and fans events out to registered handlers. A single receive loop reads
// frames in order; handlers for an event run concurrently with the loop and with each other.
//
// Commands are sent with Send or Call:
//
//	res, err := session.Call[target.CreateTargetResult](ctx, s, target.CreateTargetCommand{URL: "about:blank"})
//
// Events are decoded by type once registered:
//
//	session.OnEvent(s, func(sessionID string, ev target.TargetCreatedEvent) { ... })
package session
