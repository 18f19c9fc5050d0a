package net

import (
	"fmt"
	"net"
	"strconv"
)

// GetEphemeralTCPPort asks the kernel for a free TCP port on host.
// The port is released before returning, so a racing process could still take it.
func GetEphemeralTCPPort(host string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("resolving %s:0: %w", host, err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// EphemeralAddr returns host joined with a free port, suitable for a listen address.
func EphemeralAddr(host string) (string, error) {
	port, err := GetEphemeralTCPPort(host)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
