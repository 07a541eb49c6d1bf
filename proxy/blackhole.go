package proxy

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/meshproxy/meshproxy/netLayer"
)

const BlackholeName = "blackhole"

func init() {
	RegisterNet(BlackholeName, BlackholeCreator{})
}

type BlackholeConfig struct{}

type BlackholeCreator struct{}

func (BlackholeCreator) NewNetConfig() any { return &BlackholeConfig{} }

func (BlackholeCreator) NewNet(any) (Net, error) {
	return &BlackholeNet{}, nil
}

// BlackholeNet accepts connections and silently discards all data. Unlike
// reject it never errors; reads block until the peer gives up.
type BlackholeNet struct {
	Base
}

func (*BlackholeNet) Name() string { return BlackholeName }

func (*BlackholeNet) Dial(_ context.Context, _ netLayer.Addr) (net.Conn, error) {
	return newDiscardConn(), nil
}

type discardConn struct {
	closeOnce sync.Once
	closed    chan struct{}
}

func newDiscardConn() *discardConn {
	return &discardConn{closed: make(chan struct{})}
}

func (c *discardConn) Read(_ []byte) (int, error) {
	<-c.closed
	return 0, net.ErrClosed
}

func (c *discardConn) Write(b []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
		return len(b), nil
	}
}

func (c *discardConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *discardConn) LocalAddr() net.Addr                { return blackholeAddr{} }
func (c *discardConn) RemoteAddr() net.Addr               { return blackholeAddr{} }
func (c *discardConn) SetDeadline(time.Time) error        { return nil }
func (c *discardConn) SetReadDeadline(time.Time) error    { return nil }
func (c *discardConn) SetWriteDeadline(time.Time) error   { return nil }

type blackholeAddr struct{}

func (blackholeAddr) Network() string { return "blackhole" }
func (blackholeAddr) String() string  { return "blackhole" }
