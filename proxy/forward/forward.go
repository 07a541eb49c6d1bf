// Package forward implements a static TCP port forward: every accepted
// connection is relayed to a fixed target through the configured net.
package forward

import (
	"context"
	"net"

	"github.com/meshproxy/meshproxy/netLayer"
	"github.com/meshproxy/meshproxy/proxy"
	"github.com/meshproxy/meshproxy/utils"
	"go.uber.org/zap"
)

const Name = "forward"

func init() {
	proxy.RegisterServer(Name, Creator{})
}

type Config struct {
	Target string `yaml:"target"`
}

type Creator struct{}

func (Creator) NewServerConfig() any { return &Config{} }

func (Creator) NewServer(bind string, cfg any, dialer proxy.Net) (proxy.Server, error) {
	c, ok := cfg.(*Config)
	if !ok {
		return nil, utils.ErrInErr{ErrDesc: "forward: bad config type", Data: cfg}
	}
	target, err := netLayer.NewAddr(c.Target)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "forward: bad target", ErrDetail: err, Data: c.Target}
	}
	s := &Server{target: target}
	s.Bind = bind
	s.Dialer = dialer
	s.Handle = s.handle
	return s, nil
}

type Server struct {
	proxy.TCPServerBase
	target netLayer.Addr
}

func (*Server) Name() string { return Name }

func (s *Server) handle(conn net.Conn) {
	out, err := s.Dialer.Dial(context.Background(), s.target)
	if err != nil {
		if ce := utils.CanLogWarn("forward: dial target failed"); ce != nil {
			ce.Write(zap.String("target", s.target.String()), zap.Error(err))
		}
		conn.Close()
		return
	}
	netLayer.Relay(conn, out)
}
