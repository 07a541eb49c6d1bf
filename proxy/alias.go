package proxy

import (
	"context"
	"net"

	"github.com/meshproxy/meshproxy/netLayer"
	"github.com/meshproxy/meshproxy/utils"
)

const AliasName = "alias"

func init() {
	RegisterNet(AliasName, AliasCreator{})
}

// AliasConfig gives another net a second logical name.
type AliasConfig struct {
	Net NetRef `yaml:"net"`
}

func (c *AliasConfig) Visit(v Visitor) error {
	return v.VisitNetRef(&c.Net)
}

type AliasCreator struct{}

func (AliasCreator) NewNetConfig() any { return &AliasConfig{} }

func (AliasCreator) NewNet(cfg any) (Net, error) {
	c, ok := cfg.(*AliasConfig)
	if !ok {
		return nil, utils.ErrInErr{ErrDesc: "alias: bad config type", Data: cfg}
	}
	return &AliasNet{inner: c.Net.Net()}, nil
}

type AliasNet struct {
	Base
	inner Net
}

func (*AliasNet) Name() string { return AliasName }

func (a *AliasNet) Dial(ctx context.Context, target netLayer.Addr) (net.Conn, error) {
	return a.inner.Dial(ctx, target)
}

func (a *AliasNet) ListenPacket(ctx context.Context, laddr netLayer.Addr) (net.PacketConn, error) {
	return a.inner.ListenPacket(ctx, laddr)
}
