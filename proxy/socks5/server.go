// Package socks5 implements the CONNECT subset of a SOCKS5 inbound listener.
// It is an example protocol adapter; the full codec lives outside the engine.
package socks5

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/meshproxy/meshproxy/netLayer"
	"github.com/meshproxy/meshproxy/proxy"
	"github.com/meshproxy/meshproxy/utils"
	"go.uber.org/zap"
)

const Name = "socks5"

const (
	version5 = 0x05

	cmdConnect = 0x01

	atypIP4    = 0x01
	atypDomain = 0x03
	atypIP6    = 0x04

	repSuccess             = 0x00
	repGeneralFailure      = 0x01
	repCommandNotSupported = 0x07
)

func init() {
	proxy.RegisterServer(Name, Creator{})
}

type Config struct{}

type Creator struct{}

func (Creator) NewServerConfig() any { return &Config{} }

func (Creator) NewServer(bind string, _ any, dialer proxy.Net) (proxy.Server, error) {
	s := &Server{}
	s.Bind = bind
	s.Dialer = dialer
	s.Handle = s.handle
	return s, nil
}

type Server struct {
	proxy.TCPServerBase
}

func (*Server) Name() string { return Name }

func (s *Server) handle(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	target, err := handshake(conn)
	if err != nil {
		if ce := utils.CanLogDebug("socks5: handshake failed"); ce != nil {
			ce.Write(zap.Error(err))
		}
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	out, err := s.Dialer.Dial(context.Background(), target)
	if err != nil {
		reply(conn, repGeneralFailure)
		conn.Close()
		return
	}
	if err := reply(conn, repSuccess); err != nil {
		out.Close()
		conn.Close()
		return
	}
	netLayer.Relay(conn, out)
}

// handshake performs the no-auth negotiation and reads the CONNECT request,
// returning the requested destination.
func handshake(conn net.Conn) (netLayer.Addr, error) {
	var a netLayer.Addr

	var head [2]byte
	if _, err := io.ReadFull(conn, head[:]); err != nil {
		return a, err
	}
	if head[0] != version5 {
		return a, utils.ErrInErr{ErrDesc: "socks5: bad version", Data: head[0]}
	}
	methods := make([]byte, head[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return a, err
	}
	if _, err := conn.Write([]byte{version5, 0x00}); err != nil {
		return a, err
	}

	var req [4]byte
	if _, err := io.ReadFull(conn, req[:]); err != nil {
		return a, err
	}
	if req[1] != cmdConnect {
		reply(conn, repCommandNotSupported)
		return a, utils.ErrInErr{ErrDesc: "socks5: unsupported command", Data: req[1]}
	}

	switch req[3] {
	case atypIP4:
		var buf [4]byte
		if _, err := io.ReadFull(conn, buf[:]); err != nil {
			return a, err
		}
		a.IP = net.IP(buf[:]).To4()
	case atypIP6:
		var buf [16]byte
		if _, err := io.ReadFull(conn, buf[:]); err != nil {
			return a, err
		}
		a.IP = append(net.IP(nil), buf[:]...)
	case atypDomain:
		var l [1]byte
		if _, err := io.ReadFull(conn, l[:]); err != nil {
			return a, err
		}
		name := make([]byte, l[0])
		if _, err := io.ReadFull(conn, name); err != nil {
			return a, err
		}
		a.Name = string(name)
	default:
		return a, utils.ErrInErr{ErrDesc: "socks5: bad address type", Data: req[3]}
	}

	var portBuf [2]byte
	if _, err := io.ReadFull(conn, portBuf[:]); err != nil {
		return a, err
	}
	a.Port = int(binary.BigEndian.Uint16(portBuf[:]))
	return a, nil
}

func reply(conn net.Conn, rep byte) error {
	_, err := conn.Write([]byte{version5, rep, 0x00, atypIP4, 0, 0, 0, 0, 0, 0})
	return err
}
