package machine

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/meshproxy/meshproxy/netLayer"
	"github.com/meshproxy/meshproxy/proxy"
	"github.com/meshproxy/meshproxy/utils"
	"go.uber.org/zap"
)

// generation is one complete, atomically swappable build of the net/listener
// graph. At most two exist at once: the one serving and the one being built.
type generation struct {
	id      int64
	nets    map[string]proxy.Net
	servers []serverEntry
	tracker *Tracker

	conns       sync.WaitGroup
	releaseOnce sync.Once
}

type serverEntry struct {
	name   string
	server proxy.Server
}

func newGeneration(id int64, tracker *Tracker) *generation {
	return &generation{id: id, tracker: tracker}
}

// startServers binds and starts every listener. A single bind failure rolls
// back the listeners already started and fails the generation.
func (g *generation) startServers() error {
	for i, e := range g.servers {
		if err := e.server.Start(); err != nil {
			for j := 0; j < i; j++ {
				g.servers[j].server.Close()
			}
			return utils.ErrInErr{ErrDesc: "start listener failed", ErrDetail: ErrListenerBindFailed, Data: e.name}
		}
		if ce := utils.CanLogInfo("listener started"); ce != nil {
			ce.Write(zap.Int64("generation", g.id), zap.String("name", e.name), zap.String("addr", e.server.AddrStr()))
		}
	}
	return nil
}

// stopListeners stops accepting new connections. In-flight connections keep
// running; they belong to this generation until they finish.
func (g *generation) stopListeners() {
	for _, e := range g.servers {
		e.server.Close()
	}
}

// release tears the generation down lazily: wait for in-flight connections
// (bounded by grace when grace >= 0), then stop nets and drop tracker
// entries. Runs at most once.
func (g *generation) release(grace time.Duration) {
	g.releaseOnce.Do(func() {
		drained := make(chan struct{})
		go func() {
			g.conns.Wait()
			close(drained)
		}()
		if grace >= 0 {
			select {
			case <-drained:
			case <-time.After(grace):
				if ce := utils.CanLogWarn("generation teardown grace expired"); ce != nil {
					ce.Write(zap.Int64("generation", g.id))
				}
			}
		} else {
			<-drained
		}
		for _, n := range g.nets {
			n.Stop()
		}
		if g.tracker != nil {
			g.tracker.Release(g.id)
		}
		if ce := utils.CanLogInfo("generation released"); ce != nil {
			ce.Write(zap.Int64("generation", g.id))
		}
	})
}

// trackConn counts an accepted connection against the drain group from the
// moment it is accepted, so the generation can never be released under a
// connection whose outbound dial is still in progress.
func (g *generation) trackConn(c net.Conn) net.Conn {
	g.conns.Add(1)
	return &trackedConn{Conn: c, gen: g}
}

// trackNet wraps a dialer so every connection it opens is counted against
// this generation's drain group.
func (g *generation) trackNet(inner proxy.Net) proxy.Net {
	return &trackedNet{inner: inner, gen: g}
}

type trackedNet struct {
	inner proxy.Net
	gen   *generation
}

func (t *trackedNet) Name() string { return t.inner.Name() }

// Stop is a no-op: the wrapped net's lifetime belongs to the generation.
func (t *trackedNet) Stop() {}

func (t *trackedNet) Dial(ctx context.Context, target netLayer.Addr) (net.Conn, error) {
	conn, err := t.inner.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	t.gen.conns.Add(1)
	return &trackedConn{Conn: conn, gen: t.gen}, nil
}

func (t *trackedNet) ListenPacket(ctx context.Context, laddr netLayer.Addr) (net.PacketConn, error) {
	pc, err := t.inner.ListenPacket(ctx, laddr)
	if err != nil {
		return nil, err
	}
	t.gen.conns.Add(1)
	return &trackedPacketConn{PacketConn: pc, gen: t.gen}, nil
}

type trackedConn struct {
	net.Conn
	gen  *generation
	once sync.Once
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.gen.conns.Done)
	return err
}

type trackedPacketConn struct {
	net.PacketConn
	gen  *generation
	once sync.Once
}

func (c *trackedPacketConn) Close() error {
	err := c.PacketConn.Close()
	c.once.Do(c.gen.conns.Done)
	return err
}
