// Package launcher starts a headless browser and discovers its remote-debugging endpoint.
//
// The browser is started with an ephemeral debugging port and announces the endpoint on stderr
// with a line such as:
//
//	DevTools listening on ws://127.0.0.1:38123/devtools/browser/5b0d...
//
// Launch reads stderr incrementally until that line shows up or the launch timeout fires.
// A Launcher is single-use: once it has been launched and closed it cannot be launched again.
package launcher
