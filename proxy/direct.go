package proxy

import (
	"context"
	"net"
	"time"

	"github.com/meshproxy/meshproxy/netLayer"
	"github.com/meshproxy/meshproxy/utils"
)

const DirectName = "direct"

const defaultDialTimeout = 16 * time.Second

func init() {
	RegisterNet(DirectName, DirectCreator{})
}

// DirectConfig configures the only net allowed to touch the OS dialer.
type DirectConfig struct {
	// DNSServer, when set, bypasses the OS resolver and queries this server
	// directly for domain targets.
	DNSServer   string         `yaml:"dns_server,omitempty"`
	DialTimeout utils.Duration `yaml:"dial_timeout,omitempty"`
}

type DirectCreator struct{}

func (DirectCreator) NewNetConfig() any { return &DirectConfig{} }

func (DirectCreator) NewNet(cfg any) (Net, error) {
	c, ok := cfg.(*DirectConfig)
	if !ok {
		return nil, utils.ErrInErr{ErrDesc: "direct: bad config type", Data: cfg}
	}
	d := &DirectNet{}
	d.dialer.Timeout = defaultDialTimeout
	if c.DialTimeout != 0 {
		d.dialer.Timeout = c.DialTimeout.Value()
	}
	if c.DNSServer != "" {
		d.dm = netLayer.NewDNSMachine(c.DNSServer)
	}
	return d, nil
}

type DirectNet struct {
	Base
	dialer net.Dialer
	dm     *netLayer.DNSMachine
}

func (*DirectNet) Name() string { return DirectName }

func (d *DirectNet) Dial(ctx context.Context, target netLayer.Addr) (net.Conn, error) {
	if target.Port <= 0 {
		return nil, ErrAddressInvalid
	}
	addrStr := target.String()
	if target.Name != "" && d.dm != nil {
		ip, err := d.dm.Lookup(target.Name)
		if err != nil {
			return nil, utils.ErrInErr{ErrDesc: "direct: resolve failed", ErrDetail: err, Data: target.Name}
		}
		resolved := target
		resolved.Name = ""
		resolved.IP = ip
		addrStr = resolved.String()
	}
	conn, err := d.dialer.DialContext(ctx, target.GetNetwork(), addrStr)
	if err != nil {
		return nil, MapDialError(err)
	}
	return conn, nil
}

func (d *DirectNet) ListenPacket(ctx context.Context, laddr netLayer.Addr) (net.PacketConn, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", laddr.String())
	if err != nil {
		return nil, MapDialError(err)
	}
	return pc, nil
}
