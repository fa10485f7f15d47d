// Package transport resolves a cache locator URI into a dialable
// endpoint and runs the plugin's stdin control loop. The byte framing of
// the external-plugin RPC itself is out of scope (per the specification's
// non-goals); this package only owns the two things every transport
// variant needs regardless of framing: picking a network family from the
// locator scheme, and watching stdin for the release signal cvmfs sends a
// running plugin.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
)

// Listener wraps a net.Listener bound from a locator URI such as
// "unix:///var/run/ramcached.sock" or "tcp://127.0.0.1:9000".
type Listener struct {
	net.Listener
	Locator string
}

// Listen parses locator and binds a listener for it. Supported schemes
// are "unix" and "tcp", matching the two transports the original plugin
// demo itself supports.
func Listen(locator string) (*Listener, error) {
	network, address, err := parseLocator(locator)
	if err != nil {
		return nil, err
	}
	l, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", locator, err)
	}
	return &Listener{Listener: l, Locator: locator}, nil
}

func parseLocator(locator string) (network, address string, err error) {
	scheme, rest, found := strings.Cut(locator, "://")
	if !found {
		return "", "", fmt.Errorf("transport: locator %q has no scheme", locator)
	}
	switch scheme {
	case "unix":
		return "unix", rest, nil
	case "tcp":
		return "tcp", rest, nil
	default:
		return "", "", fmt.Errorf("transport: unsupported locator scheme %q", scheme)
	}
}

// RunControlLoop reads single bytes from stdin until ctx is canceled or
// EOF. A 'R' byte invokes onRelease, forwarding cvmfs's nested-catalog
// release signal to the façade's host; any other byte is ignored. EOF
// returns nil so the caller can shut the plugin down cleanly; a read
// error other than EOF is returned to the caller.
func RunControlLoop(ctx context.Context, stdin io.Reader, onRelease func()) error {
	r := bufio.NewReader(stdin)
	done := make(chan error, 1)

	go func() {
		for {
			b, err := r.ReadByte()
			if err != nil {
				if err == io.EOF {
					done <- nil
					return
				}
				done <- fmt.Errorf("transport: control loop read: %w", err)
				return
			}
			if b == 'R' && onRelease != nil {
				onRelease()
			}
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
