package socks5_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/meshproxy/meshproxy/netLayer"
	"github.com/meshproxy/meshproxy/proxy"
	"github.com/meshproxy/meshproxy/proxy/socks5"
)

// echoDialer records the requested target and hands back an in-memory echo
// connection instead of touching the network.
type echoDialer struct {
	proxy.Base
	targets chan netLayer.Addr
}

func (*echoDialer) Name() string { return "echo" }

func (d *echoDialer) Dial(_ context.Context, target netLayer.Addr) (net.Conn, error) {
	d.targets <- target
	left, right := net.Pipe()
	go func() {
		defer right.Close()
		io.Copy(right, right)
	}()
	return left, nil
}

func startServer(t *testing.T, dialer proxy.Net) string {
	t.Helper()
	creator, ok := proxy.GetServerCreator(socks5.Name)
	if !ok {
		t.Fatal("socks5 not registered")
	}
	srv, err := creator.NewServer("127.0.0.1:0", creator.NewServerConfig(), dialer)
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv.AddrStr()
}

func TestConnectDomain(t *testing.T) {
	dialer := &echoDialer{targets: make(chan netLayer.Addr, 1)}
	addr := startServer(t, dialer)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	// greeting: no auth
	conn.Write([]byte{0x05, 0x01, 0x00})
	var resp [2]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		t.Fatal(err)
	}
	if resp != [2]byte{0x05, 0x00} {
		t.Fatal("bad method selection:", resp)
	}

	// CONNECT example.com:80
	req := []byte{0x05, 0x01, 0x00, 0x03, byte(len("example.com"))}
	req = append(req, "example.com"...)
	req = append(req, 0x00, 0x50)
	conn.Write(req)

	reply := make([]byte, 10)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	if reply[1] != 0x00 {
		t.Fatal("connect refused:", reply[1])
	}

	target := <-dialer.targets
	if target.Name != "example.com" || target.Port != 80 {
		t.Fatal("wrong target:", target)
	}

	// tunnel carries data both ways
	conn.Write([]byte("ping"))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Fail()
	}
}

func TestConnectIPv4(t *testing.T) {
	dialer := &echoDialer{targets: make(chan netLayer.Addr, 1)}
	addr := startServer(t, dialer)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	conn.Write([]byte{0x05, 0x01, 0x00})
	io.ReadFull(conn, make([]byte, 2))

	conn.Write([]byte{0x05, 0x01, 0x00, 0x01, 10, 0, 0, 1, 0x01, 0xBB})
	if _, err := io.ReadFull(conn, make([]byte, 10)); err != nil {
		t.Fatal(err)
	}

	target := <-dialer.targets
	if !target.IP.Equal(net.IPv4(10, 0, 0, 1)) || target.Port != 443 {
		t.Fatal("wrong target:", target)
	}
}

func TestUnsupportedCommand(t *testing.T) {
	dialer := &echoDialer{targets: make(chan netLayer.Addr, 1)}
	addr := startServer(t, dialer)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	conn.Write([]byte{0x05, 0x01, 0x00})
	io.ReadFull(conn, make([]byte, 2))

	// UDP ASSOCIATE is not served
	conn.Write([]byte{0x05, 0x03, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	reply := make([]byte, 10)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	if reply[1] != 0x07 {
		t.Fatal("want command not supported, got", reply[1])
	}
}

func TestDialFailureReported(t *testing.T) {
	addr := startServer(t, &refusingDialer{})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	conn.Write([]byte{0x05, 0x01, 0x00})
	io.ReadFull(conn, make([]byte, 2))
	conn.Write([]byte{0x05, 0x01, 0x00, 0x01, 10, 0, 0, 1, 0x00, 0x50})

	reply := make([]byte, 10)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	if reply[1] != 0x01 {
		t.Fatal("want general failure, got", reply[1])
	}
}

type refusingDialer struct {
	proxy.Base
}

func (*refusingDialer) Name() string { return "refuse" }

func (*refusingDialer) Dial(_ context.Context, _ netLayer.Addr) (net.Conn, error) {
	return nil, proxy.ErrConnectionRefused
}
