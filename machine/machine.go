/*
Package machine wires the whole runtime together: it resolves the declarative
config into a generation of live nets and listeners, serves it, watches the
config's external files, and hot-swaps in a freshly built generation when
something changes.

The state machine is Idle -> Building -> Running | Failed. A failed rebuild
leaves the running generation serving; only the very first build is fatal.
*/
package machine

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	stdatomic "sync/atomic"
	"time"

	"github.com/meshproxy/meshproxy/config"
	"github.com/meshproxy/meshproxy/proxy"
	"github.com/meshproxy/meshproxy/utils"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	StateIdle int32 = iota
	StateBuilding
	StateRunning
	StateFailed
)

const shutdownGrace = 5 * time.Second

type M struct {
	confPath string

	tracker    *Tracker
	state      atomic.Int32
	genCounter atomic.Int64
	cur        stdatomic.Pointer[generation]

	reloadCh chan struct{}
}

func New(confPath string) (*M, error) {
	tracker, err := NewTracker(defaultDebounce)
	if err != nil {
		return nil, err
	}
	m := &M{
		confPath: confPath,
		tracker:  tracker,
		reloadCh: make(chan struct{}, 1),
	}
	return m, nil
}

func (m *M) State() int32 {
	return m.state.Load()
}

// CurrentGeneration returns the id of the serving generation, 0 before the
// first successful build.
func (m *M) CurrentGeneration() int64 {
	if g := m.cur.Load(); g != nil {
		return g.id
	}
	return 0
}

// Reload requests an explicit rebuild, same as a tracked-file change.
func (m *M) Reload() {
	select {
	case m.reloadCh <- struct{}{}:
	default:
	}
}

// Run performs the initial build (fatal on error) and then serves until ctx
// is done, rebuilding on dirty signals and explicit reloads.
func (m *M) Run(ctx context.Context) error {
	if err := m.rebuild(); err != nil {
		m.tracker.Close()
		return utils.ErrInErr{ErrDesc: "initial build failed", ErrDetail: err}
	}

	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return nil
		case <-m.tracker.Dirty():
			if err := m.rebuild(); err != nil {
				if ce := utils.CanLogErr("rebuild after config change failed, keeping old generation"); ce != nil {
					ce.Write(zap.Error(err))
				}
			}
		case <-m.reloadCh:
			if err := m.rebuild(); err != nil {
				if ce := utils.CanLogErr("requested reload failed, keeping old generation"); ce != nil {
					ce.Write(zap.Error(err))
				}
			}
		}
	}
}

// rebuild runs one full generation build and, on success, atomically swaps it
// in. On failure the previous generation, if any, keeps serving untouched.
func (m *M) rebuild() error {
	m.state.Store(StateBuilding)
	gid := m.genCounter.Inc()

	fail := func(err error) error {
		m.tracker.Release(gid)
		if m.cur.Load() != nil {
			m.state.Store(StateRunning)
		} else {
			m.state.Store(StateFailed)
		}
		return err
	}

	doc, err := m.loadDocument(gid)
	if err != nil {
		return fail(err)
	}

	gen, err := buildGeneration(doc, m.tracker, gid)
	if err != nil {
		return fail(err)
	}

	if err := gen.startServers(); err != nil {
		gen.release(0)
		return fail(err)
	}

	old := m.cur.Swap(gen)
	m.state.Store(StateRunning)
	if ce := utils.CanLogInfo("generation swapped in"); ce != nil {
		ce.Write(zap.Int64("generation", gid), zap.Int("nets", len(gen.nets)), zap.Int("servers", len(gen.servers)))
	}

	if old != nil {
		old.stopListeners()
		go old.release(-1)
	}
	return nil
}

// buildGeneration is the all-or-nothing resolve step: nets first, then
// listeners, nothing started yet.
func buildGeneration(doc config.Document, tracker *Tracker, gid int64) (*generation, error) {
	gen := newGeneration(gid, tracker)
	nets, err := resolveNets(doc, tracker, gid)
	if err != nil {
		return nil, err
	}
	gen.nets = nets
	if err := resolveServers(doc, gen, tracker); err != nil {
		for _, n := range nets {
			n.Stop()
		}
		return nil, err
	}
	return gen, nil
}

// loadDocument loads the main config file, tracks it, then fetches, merges
// and tracks every import bundle in order.
func (m *M) loadDocument(gid int64) (config.Document, error) {
	doc, err := config.Load(m.confPath)
	if err != nil {
		return doc, err
	}
	if err := m.tracker.Track(gid, proxy.FileRef{Path: m.confPath, Watch: true}); err != nil {
		return doc, err
	}

	for _, imp := range doc.Import {
		if imp.Format != "" && imp.Format != "merge" {
			return doc, utils.ErrInErr{ErrDesc: "unknown import format", ErrDetail: ErrUnknownTypeTag, Data: imp.Format}
		}
		var content []byte
		var format string
		if imp.IsURL() {
			var hash, etag string
			content, hash, etag, err = utils.FetchURL(imp.URL)
			if err != nil {
				return doc, utils.ErrInErr{ErrDesc: "import fetch failed", ErrDetail: ErrFileUnavailable, Data: imp.URL}
			}
			format = formatOfSource(imp.URL)
			// the fetch above is the poller's baseline
			if err := m.tracker.TrackFetched(gid, imp.FileRef, hash, etag); err != nil {
				return doc, err
			}
		} else {
			content, err = os.ReadFile(imp.Path)
			if err != nil {
				return doc, utils.ErrInErr{ErrDesc: "import read failed", ErrDetail: ErrFileUnavailable, Data: imp.Path}
			}
			format = formatOfSource(imp.Path)
			if err := m.tracker.Track(gid, imp.FileRef); err != nil {
				return doc, err
			}
		}
		sub, err := config.Parse(content, format)
		if err != nil {
			return doc, utils.ErrInErr{ErrDesc: "import parse failed", ErrDetail: err, Data: imp.FileRef.Key()}
		}
		doc.Merge(sub)
	}
	return doc, nil
}

// formatOfSource derives the parse format from a path or URL by extension;
// for URLs the query string is not part of the name.
func formatOfSource(src string) string {
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		src = u.Path
	}
	return strings.TrimPrefix(filepath.Ext(src), ".")
}

// Shutdown stops the serving generation and drains it within the shutdown
// grace period.
func (m *M) Shutdown() {
	if g := m.cur.Swap(nil); g != nil {
		g.stopListeners()
		g.release(shutdownGrace)
	}
	m.tracker.Close()
	m.state.Store(StateIdle)
}
