package machine

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/meshproxy/meshproxy/proxy"
	"github.com/meshproxy/meshproxy/utils"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func expectDirty(t *testing.T, tr *Tracker, within time.Duration) {
	t.Helper()
	select {
	case <-tr.Dirty():
	case <-time.After(within):
		t.Fatal("no dirty signal")
	}
}

func expectQuiet(t *testing.T, tr *Tracker, during time.Duration) {
	t.Helper()
	select {
	case <-tr.Dirty():
		t.Fatal("unexpected dirty signal")
	case <-time.After(during):
	}
}

func TestTrackerDebounce(t *testing.T) {
	tr, err := NewTracker(100 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	path := filepath.Join(t.TempDir(), "conf.yaml")
	writeTestFile(t, path, "a: 1\n")
	if err := tr.Track(1, proxy.FileRef{Path: path, Watch: true}); err != nil {
		t.Fatal(err)
	}

	// a burst of writes must collapse into one signal
	for i := 0; i < 5; i++ {
		writeTestFile(t, path, "a: 2\n")
		time.Sleep(10 * time.Millisecond)
	}
	expectDirty(t, tr, 3*time.Second)
	expectQuiet(t, tr, 300*time.Millisecond)
}

func TestTrackerReleaseStopsWatching(t *testing.T) {
	tr, err := NewTracker(50 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	path := filepath.Join(t.TempDir(), "conf.yaml")
	writeTestFile(t, path, "a: 1\n")

	// two generations share the watch
	if err := tr.Track(1, proxy.FileRef{Path: path, Watch: true}); err != nil {
		t.Fatal(err)
	}
	if err := tr.Track(2, proxy.FileRef{Path: path, Watch: true}); err != nil {
		t.Fatal(err)
	}

	tr.Release(1)
	writeTestFile(t, path, "a: 2\n")
	expectDirty(t, tr, 3*time.Second) // generation 2 still holds it

	tr.Release(2)
	tr.Release(2) // releasing twice is harmless
	time.Sleep(100 * time.Millisecond)
	writeTestFile(t, path, "a: 3\n")
	expectQuiet(t, tr, 500*time.Millisecond)
}

func TestTrackerMissingFile(t *testing.T) {
	tr := newTestTracker(t)
	err := tr.Track(1, proxy.FileRef{Path: filepath.Join(t.TempDir(), "nope.yaml"), Watch: true})
	if !errors.Is(err, ErrFileUnavailable) {
		t.Fatal("want file unavailable, got", err)
	}
}

func TestTrackerDedupWithinGeneration(t *testing.T) {
	tr := newTestTracker(t)
	path := filepath.Join(t.TempDir(), "conf.yaml")
	writeTestFile(t, path, "a: 1\n")

	ref := proxy.FileRef{Path: path, Watch: true}
	if err := tr.Track(3, ref); err != nil {
		t.Fatal(err)
	}
	if err := tr.Track(3, ref); err != nil {
		t.Fatal(err)
	}
	if tr.TrackedCount(3) != 1 {
		t.Fail()
	}
}

func TestTrackerUnwatchedFileIsRecordedOnly(t *testing.T) {
	tr := newTestTracker(t)
	if err := tr.Track(1, proxy.FileRef{Path: "whatever.dat"}); err != nil {
		t.Fatal(err)
	}
	if tr.TrackedCount(1) != 1 {
		t.Fail()
	}
}

// pollSource is an http server whose body the test mutates; it can also fail
// a fixed number of leading requests.
type pollSource struct {
	mu       sync.Mutex
	body     string
	failNext int

	srv *httptest.Server
}

func newPollSource(t *testing.T, body string) *pollSource {
	t.Helper()
	s := &pollSource{body: body}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failNext > 0 {
			s.failNext--
			http.Error(w, "not yet", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(s.body))
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *pollSource) set(body string) {
	s.mu.Lock()
	s.body = body
	s.mu.Unlock()
}

func pollRef(s *pollSource) proxy.FileRef {
	return proxy.FileRef{URL: s.srv.URL, Interval: utils.Duration(40 * time.Millisecond)}
}

func TestTrackerPollDetectsChange(t *testing.T) {
	src := newPollSource(t, "v1")
	tr, err := NewTracker(50 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := tr.Track(1, pollRef(src)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond) // baseline recorded, a few quiet polls

	src.set("v2")
	expectDirty(t, tr, 3*time.Second)
	// a single change yields a single signal
	expectQuiet(t, tr, 300*time.Millisecond)
}

func TestTrackerPollUnchangedQuiet(t *testing.T) {
	src := newPollSource(t, "steady")
	tr, err := NewTracker(50 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := tr.Track(1, pollRef(src)); err != nil {
		t.Fatal(err)
	}
	expectQuiet(t, tr, 500*time.Millisecond)
}

func TestTrackerPollTransientErrorQuiet(t *testing.T) {
	// the baseline fetch fails; the first poll that succeeds must record the
	// baseline silently, and identical content after that must stay silent
	src := newPollSource(t, "stable")
	src.mu.Lock()
	src.failNext = 1
	src.mu.Unlock()

	tr, err := NewTracker(50 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := tr.Track(1, pollRef(src)); err != nil {
		t.Fatal(err)
	}
	expectQuiet(t, tr, 600*time.Millisecond)
}

func TestTrackerPollSeededBaseline(t *testing.T) {
	src := newPollSource(t, "v1")
	tr, err := NewTracker(50 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	// the caller already fetched the content; the poller must reuse that
	// baseline instead of treating its own first fetch as a change
	_, hash, etag, err := utils.FetchURL(src.srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.TrackFetched(1, pollRef(src), hash, etag); err != nil {
		t.Fatal(err)
	}
	expectQuiet(t, tr, 300*time.Millisecond)

	src.set("v2")
	expectDirty(t, tr, 3*time.Second)
}
