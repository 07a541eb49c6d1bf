package machine

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/meshproxy/meshproxy/proxy"
	"github.com/meshproxy/meshproxy/utils"
	"go.uber.org/zap"
)

const (
	defaultDebounce     = time.Second
	defaultPollInterval = 10 * time.Minute

	// consecutive poll failures double the wait, up to interval << maxPollBackoffShift
	maxPollBackoffShift = 6
)

// Tracker owns the set of external files and URLs referenced by the current
// generations. Watched local files go through one fsnotify watcher shared
// across generations (reference counted); URLs get a poller goroutine per
// generation entry. All changes collapse into a single debounced dirty
// signal.
type Tracker struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	watched  map[string]int            // abs path -> refcount across generations
	gens     map[int64]map[string]item // generation -> ref key -> item
	dirtyCh  chan struct{}
	debounce time.Duration
	pending  bool
	closed   chan struct{}
}

type item struct {
	ref  proxy.FileRef
	stop chan struct{} // poller stop, nil for local entries
	path string        // abs path for watched entries
}

func NewTracker(debounce time.Duration) (*Tracker, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "can not create fs watcher", ErrDetail: err}
	}
	t := &Tracker{
		watcher:  w,
		watched:  make(map[string]int),
		gens:     make(map[int64]map[string]item),
		dirtyCh:  make(chan struct{}, 1),
		debounce: debounce,
		closed:   make(chan struct{}),
	}
	go t.watchLoop()
	return t, nil
}

// Dirty delivers one coalesced signal per debounce window after any tracked
// item changed.
func (t *Tracker) Dirty() <-chan struct{} {
	return t.dirtyCh
}

// Track registers ref for the given generation. Registering the same
// path/URL twice within one generation is a no-op.
func (t *Tracker) Track(gen int64, ref proxy.FileRef) error {
	return t.track(gen, ref, "", "")
}

// TrackFetched is Track for a URL whose content was already fetched by the
// caller: hash and etag seed the poller's baseline, so a change between the
// build-time fetch and the first poll is not missed and the first poll is
// never mistaken for a change.
func (t *Tracker) TrackFetched(gen int64, ref proxy.FileRef, hash, etag string) error {
	return t.track(gen, ref, hash, etag)
}

func (t *Tracker) track(gen int64, ref proxy.FileRef, hash, etag string) error {
	if ref.Empty() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.gens[gen]
	if entries == nil {
		entries = make(map[string]item)
		t.gens[gen] = entries
	}
	if _, dup := entries[ref.Key()]; dup {
		return nil
	}

	it := item{ref: ref}
	switch {
	case ref.IsURL():
		it.stop = make(chan struct{})
		go t.poll(ref, it.stop, hash, etag)
	case ref.Watch:
		abs, err := filepath.Abs(ref.Path)
		if err != nil {
			return utils.ErrInErr{ErrDesc: "bad tracked path", ErrDetail: err, Data: ref.Path}
		}
		if _, err := os.Stat(abs); err != nil {
			return utils.ErrInErr{ErrDesc: "tracked file unavailable", ErrDetail: ErrFileUnavailable, Data: abs}
		}
		it.path = abs
		if t.watched[abs] == 0 {
			if err := t.watcher.Add(abs); err != nil {
				return utils.ErrInErr{ErrDesc: "can not watch file", ErrDetail: err, Data: abs}
			}
		}
		t.watched[abs]++
	}
	entries[ref.Key()] = it
	return nil
}

// TrackedCount reports how many entries the generation holds.
func (t *Tracker) TrackedCount(gen int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.gens[gen])
}

// Release drops every entry belonging to gen: watches are unsubscribed when
// their refcount reaches zero, pollers are stopped. Safe to call more than
// once; the second call finds nothing.
func (t *Tracker) Release(gen int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, it := range t.gens[gen] {
		if it.stop != nil {
			close(it.stop)
		}
		if it.path != "" {
			t.watched[it.path]--
			if t.watched[it.path] <= 0 {
				delete(t.watched, it.path)
				t.watcher.Remove(it.path)
			}
		}
	}
	delete(t.gens, gen)
}

func (t *Tracker) Close() {
	t.mu.Lock()
	select {
	case <-t.closed:
		t.mu.Unlock()
		return
	default:
	}
	close(t.closed)
	for gen := range t.gens {
		for _, it := range t.gens[gen] {
			if it.stop != nil {
				close(it.stop)
			}
		}
		delete(t.gens, gen)
	}
	t.mu.Unlock()
	t.watcher.Close()
}

func (t *Tracker) watchLoop() {
	for {
		select {
		case <-t.closed:
			return
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				// editors often replace the file; re-add so future writes
				// keep being seen
				if ev.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
					t.rewatch(ev.Name)
				}
				t.markDirty()
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			if ce := utils.CanLogWarn("file watcher error"); ce != nil {
				ce.Write(zap.Error(err))
			}
		}
	}
}

func (t *Tracker) rewatch(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watched[path] > 0 {
		t.watcher.Add(path)
	}
}

// markDirty starts the debounce window on first change; changes landing
// inside an open window are absorbed into the pending signal.
func (t *Tracker) markDirty() {
	t.mu.Lock()
	if t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = true
	t.mu.Unlock()

	time.AfterFunc(t.debounce, func() {
		t.mu.Lock()
		t.pending = false
		t.mu.Unlock()
		select {
		case t.dirtyCh <- struct{}{}:
		default:
		}
	})
}

// poll fetches the URL on its interval and marks dirty only on a confirmed
// content change: without a known baseline a successful fetch just records
// one, and fetch errors are retried with exponential backoff, never
// triggering a rebuild by themselves.
func (t *Tracker) poll(ref proxy.FileRef, stop chan struct{}, lastHash, lastEtag string) {
	interval := ref.Interval.Value()
	if interval <= 0 {
		interval = defaultPollInterval
	}

	if lastHash == "" {
		if _, hash, etag, err := utils.FetchURL(ref.URL); err == nil {
			lastHash, lastEtag = hash, etag
		}
	}

	failures := 0
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.closed:
			return
		case <-timer.C:
		}

		_, hash, etag, err := utils.FetchURL(ref.URL)
		switch {
		case err != nil:
			failures++
			if ce := utils.CanLogWarn("poll fetch failed"); ce != nil {
				ce.Write(zap.String("url", ref.URL), zap.Int("failures", failures), zap.Error(err))
			}
		case lastHash == "":
			// first fetch that ever succeeded is the baseline, not a change
			lastHash, lastEtag = hash, etag
			failures = 0
		case lastEtag != "" && etag == lastEtag:
			failures = 0
		case hash != lastHash:
			lastHash, lastEtag = hash, etag
			failures = 0
			t.markDirty()
		default:
			failures = 0
		}

		shift := failures
		if shift > maxPollBackoffShift {
			shift = maxPollBackoffShift
		}
		timer.Reset(interval << shift)
	}
}
