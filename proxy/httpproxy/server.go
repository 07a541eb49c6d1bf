// Package httpproxy implements an HTTP proxy inbound listener: CONNECT
// tunnels plus plain absolute-form requests.
package httpproxy

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meshproxy/meshproxy/netLayer"
	"github.com/meshproxy/meshproxy/proxy"
	"github.com/meshproxy/meshproxy/utils"
	"go.uber.org/zap"
)

const Name = "http"

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
	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	target, err := targetOfRequest(req)
	if err != nil {
		if ce := utils.CanLogDebug("http: bad request target"); ce != nil {
			ce.Write(zap.Error(err))
		}
		conn.Close()
		return
	}

	out, err := s.Dialer.Dial(context.Background(), target)
	if err != nil {
		conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		conn.Close()
		return
	}

	if req.Method == http.MethodConnect {
		if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
			out.Close()
			conn.Close()
			return
		}
	} else {
		// replay the request we already consumed
		if err := req.Write(out); err != nil {
			out.Close()
			conn.Close()
			return
		}
	}
	netLayer.Relay(conn, out)
}

func targetOfRequest(req *http.Request) (netLayer.Addr, error) {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	if host == "" {
		return netLayer.Addr{}, utils.ErrInErr{ErrDesc: "http: no host in request"}
	}
	if !strings.Contains(host, ":") {
		if req.Method == http.MethodConnect {
			host = net.JoinHostPort(host, "443")
		} else {
			host = net.JoinHostPort(host, "80")
		}
	}
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		return netLayer.Addr{}, utils.ErrInErr{ErrDesc: "http: bad host", ErrDetail: err, Data: host}
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return netLayer.Addr{}, utils.ErrInErr{ErrDesc: "http: bad port", ErrDetail: err, Data: host}
	}
	return netLayer.NewAddrFromHostPort(h, port, "tcp"), nil
}
