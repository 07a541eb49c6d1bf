package proxy

import (
	"errors"
	"net"
	"sync"

	"github.com/meshproxy/meshproxy/utils"
	"go.uber.org/zap"
)

// TCPServerBase carries the accept loop every stream listener shares.
// Implementations embed it and supply Handle.
type TCPServerBase struct {
	Tag    string
	Bind   string
	Dialer Net

	// Handle serves one accepted connection and is responsible for closing it.
	Handle func(conn net.Conn)

	wrapConn  func(net.Conn) net.Conn
	listener  net.Listener
	closeOnce sync.Once
	closed    chan struct{}
}

// ConnWrapSetter is implemented by listeners whose accepted connections can
// be wrapped by the owner, e.g. to count them against a generation's drain
// group the moment they are accepted.
type ConnWrapSetter interface {
	SetConnWrapper(func(net.Conn) net.Conn)
}

func (s *TCPServerBase) SetConnWrapper(f func(net.Conn) net.Conn) {
	s.wrapConn = f
}

func (s *TCPServerBase) AddrStr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.Bind
}

// Start binds the listen address and begins accepting in the background.
// A bind failure is returned directly so the caller can fail the generation.
func (s *TCPServerBase) Start() error {
	ln, err := net.Listen("tcp", s.Bind)
	if err != nil {
		return utils.ErrInErr{ErrDesc: "listen failed", ErrDetail: err, Data: s.Bind}
	}
	s.listener = ln
	s.closed = make(chan struct{})
	go s.acceptLoop()
	return nil
}

func (s *TCPServerBase) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if ce := utils.CanLogWarn("accept failed"); ce != nil {
				ce.Write(zap.String("bind", s.Bind), zap.Error(err))
			}
			continue
		}
		if s.wrapConn != nil {
			conn = s.wrapConn(conn)
		}
		go s.Handle(conn)
	}
}

func (s *TCPServerBase) Close() error {
	s.closeOnce.Do(func() {
		if s.closed != nil {
			close(s.closed)
		}
		if s.listener != nil {
			s.listener.Close()
		}
	})
	return nil
}
