package proxy

import (
	"context"
	"net"

	"github.com/meshproxy/meshproxy/netLayer"
)

const RejectName = "reject"

func init() {
	RegisterNet(RejectName, RejectCreator{})
}

type RejectConfig struct{}

type RejectCreator struct{}

func (RejectCreator) NewNetConfig() any { return &RejectConfig{} }

func (RejectCreator) NewNet(any) (Net, error) {
	return &RejectNet{}, nil
}

// RejectNet refuses everything immediately. Useful as a rule target for
// blocked destinations.
type RejectNet struct {
	Base
}

func (*RejectNet) Name() string { return RejectName }

func (*RejectNet) Dial(_ context.Context, _ netLayer.Addr) (net.Conn, error) {
	return nil, ErrConnectionRefused
}

func (*RejectNet) ListenPacket(_ context.Context, _ netLayer.Addr) (net.PacketConn, error) {
	return nil, ErrConnectionRefused
}
