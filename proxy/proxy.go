/*
Package proxy defines the provider contract every net implements, the
process-wide registry of net/server creators, and the reference types the
resolver uses to wire nets together from configuration.

A Net is an abstract endpoint factory: Dial gives an ordered byte stream to a
target, ListenPacket gives a datagram socket. Only the built-in direct net
touches the OS network; every other net reaches the outside world through a
referenced Net, which is what makes arbitrary chaining possible.
*/
package proxy

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/meshproxy/meshproxy/netLayer"
)

var (
	ErrAddressInvalid    = errors.New("address invalid")
	ErrUnreachable       = errors.New("unreachable")
	ErrConnectionRefused = errors.New("connection refused")
	ErrTimeout           = errors.New("timeout")
	ErrUnsupported       = errors.New("unsupported")
)

// Net is the capability contract of a provider.
type Net interface {
	Name() string

	// Dial opens an ordered, reliable byte stream to target.
	Dial(ctx context.Context, target netLayer.Addr) (net.Conn, error)

	// ListenPacket binds an unordered, message-oriented socket.
	ListenPacket(ctx context.Context, laddr netLayer.Addr) (net.PacketConn, error)

	// Stop releases whatever the net holds. Called once, when the owning
	// generation is torn down.
	Stop()
}

// Server is an inbound listener bound to a Net. Start binds and begins
// accepting in the background; Close stops accepting. Connections already
// being served are not interrupted by Close.
type Server interface {
	Name() string
	AddrStr() string
	Start() error
	Close() error
}

// Base implements the optional parts of Net. Every net embeds it; nets that
// do not support a capability inherit the ErrUnsupported behavior, matching
// a provider refusing TCP or UDP entirely.
type Base struct {
	Tag string
}

func (b *Base) Stop() {}

func (b *Base) Dial(_ context.Context, _ netLayer.Addr) (net.Conn, error) {
	return nil, ErrUnsupported
}

func (b *Base) ListenPacket(_ context.Context, _ netLayer.Addr) (net.PacketConn, error) {
	return nil, ErrUnsupported
}

// MapDialError folds an OS dial error into one of the sentinel kinds while
// keeping the original reachable through Unwrap.
func MapDialError(err error) error {
	if err == nil {
		return nil
	}
	var nerr net.Error
	switch {
	case errors.As(err, &nerr) && nerr.Timeout():
		return dialError{kind: ErrTimeout, cause: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return dialError{kind: ErrConnectionRefused, cause: err}
	case errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH):
		return dialError{kind: ErrUnreachable, cause: err}
	}
	var aerr *net.AddrError
	if errors.As(err, &aerr) {
		return dialError{kind: ErrAddressInvalid, cause: err}
	}
	return err
}

type dialError struct {
	kind  error
	cause error
}

func (e dialError) Error() string { return e.kind.Error() + ": " + e.cause.Error() }

func (e dialError) Is(target error) bool { return target == e.kind }

func (e dialError) Unwrap() error { return e.cause }
