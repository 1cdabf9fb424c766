package internal

import (
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/source"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var (
	lg *log.Logger
)

func TestMain(m *testing.M) {
	lg = log.New(os.Stdout, "test --> ", 1|4)
	m.Run()
}

type running struct {
	batches chan source.Batch
	stop    chan struct{}
	done    chan error
}

func start(s source.Stream) *running {
	r := &running{
		batches: make(chan source.Batch, 128),
		stop:    make(chan struct{}),
		done:    make(chan error, 1),
	}
	go func() {
		r.done <- s.Run(r.stop, func(b source.Batch) { r.batches <- b })
	}()
	return r
}

func (r *running) halt(t *testing.T) {
	close(r.stop)
	select {
	case err := <-r.done:
		require.NoError(t, err, "stream run.")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
}

// await returns the first event matching path and flags and the cursor of its batch.
func (r *running) await(t *testing.T, path string, flags source.Flags) (source.RawEvent, uint64) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case b := <-r.batches:
			for _, e := range b.Events {
				if e.Path == path && e.Flags.Has(flags) {
					return e, b.Cursor
				}
			}
		case <-timeout:
			t.Fatalf("no event %#x for %s", flags, path)
			return source.RawEvent{}, 0
		}
	}
}

func TestWatcher_CreateDirectory(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()

	w, err := NewWatcher(WithLogger(lg))
	require.NoError(t, err, "create watcher.")
	defer w.Close()

	s, err := w.Subscribe([]string{dir}, w.CurrentCursor())
	require.NoError(t, err, "subscribe.")
	r := start(s)

	child := filepath.Join(dir, "child")
	require.NoError(t, os.Mkdir(child, 0o755))

	e, cursor := r.await(t, child, source.FlagItemCreated|source.FlagItemIsDir)
	assert.LessOrEqual(t, e.ID, cursor)

	// new directories are watched right away
	file := filepath.Join(child, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o644))
	r.await(t, file, source.FlagItemCreated|source.FlagItemIsFile)

	r.halt(t)
	require.NoError(t, s.Close())
}

func TestWatcher_ResumeFromCursor(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()

	w, err := NewWatcher(WithLogger(lg), WithRetention(time.Minute))
	require.NoError(t, err, "create watcher.")
	defer w.Close()

	s, err := w.Subscribe([]string{dir}, w.CurrentCursor())
	require.NoError(t, err, "subscribe.")
	r := start(s)

	first := filepath.Join(dir, "first")
	require.NoError(t, os.WriteFile(first, nil, 0o644))
	_, cursor := r.await(t, first, source.FlagItemCreated)
	r.halt(t)
	require.NoError(t, s.Close())

	// nothing observes the directory now, the retained kernel watch journals it
	gap := filepath.Join(dir, "gap")
	require.NoError(t, os.WriteFile(gap, nil, 0o644))
	require.Eventually(t, func() bool { return w.CurrentCursor() > cursor }, 2*time.Second, 10*time.Millisecond)

	s, err = w.Subscribe([]string{dir}, cursor)
	require.NoError(t, err, "resubscribe.")
	r = start(s)
	r.await(t, gap, source.FlagItemCreated)
	r.halt(t)
	require.NoError(t, s.Close())
}

func TestWatcher_NewRootDoesNotReplay(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := t.TempDir()
	b := t.TempDir()

	w, err := NewWatcher(WithLogger(lg), WithRetention(time.Minute))
	require.NoError(t, err, "create watcher.")
	defer w.Close()

	s, err := w.Subscribe([]string{a, b}, w.CurrentCursor())
	require.NoError(t, err, "subscribe a and b.")
	require.NoError(t, s.Close())

	old := filepath.Join(b, "old")
	require.NoError(t, os.WriteFile(old, nil, 0o644))
	require.Eventually(t, func() bool { return w.CurrentCursor() > 0 }, 2*time.Second, 10*time.Millisecond)

	// b is dropped, then comes back later
	s, err = w.Subscribe([]string{a}, 0)
	require.NoError(t, err, "subscribe a.")
	require.NoError(t, s.Close())
	s, err = w.Subscribe([]string{a, b}, 0)
	require.NoError(t, err, "subscribe a and b again.")
	r := start(s)

	fresh := filepath.Join(b, "fresh")
	require.NoError(t, os.WriteFile(fresh, nil, 0o644))
	r.await(t, fresh, source.FlagItemCreated)

	r.halt(t)
	for len(r.batches) > 0 {
		for _, e := range (<-r.batches).Events {
			assert.NotEqual(t, old, e.Path, "history of a re-added root replayed")
		}
	}
	require.NoError(t, s.Close())
}

func TestWatcher_SubscribeErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	w, err := NewWatcher()
	require.NoError(t, err, "create watcher.")

	_, err = w.Subscribe(nil, 0)
	assert.ErrorIs(t, err, ErrNoPaths)

	_, err = w.Subscribe([]string{"/tmp/bad\x00path"}, 0)
	assert.ErrorIs(t, err, ErrWatchPath, "no root can be watched")

	s, err := w.Subscribe([]string{t.TempDir(), "/tmp/bad\x00path"}, 0)
	require.NoError(t, err, "one bad root does not fail the others")
	require.NoError(t, s.Close())

	require.NoError(t, w.Close())
	_, err = w.Subscribe([]string{t.TempDir()}, 0)
	assert.ErrorIs(t, err, ErrWatcherClosed)
}

func TestWatcher_MissingRoot(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	later := filepath.Join(dir, "later")
	nested := filepath.Join(dir, "deep", "later")

	w, err := NewWatcher(WithLogger(lg))
	require.NoError(t, err, "create watcher.")
	defer w.Close()

	s, err := w.Subscribe([]string{later, nested}, w.CurrentCursor())
	require.NoError(t, err, "roots that do not exist yet are accepted.")
	r := start(s)

	require.NoError(t, os.Mkdir(later, 0o755))
	r.await(t, later, source.FlagItemCreated|source.FlagItemIsDir)

	file := filepath.Join(later, "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	r.await(t, file, source.FlagItemCreated|source.FlagItemIsFile)

	// directories on the way to a missing root are followed as well
	deep := filepath.Dir(nested)
	require.NoError(t, os.Mkdir(deep, 0o755))
	require.Eventually(t, func() bool {
		w.mutex.Lock()
		defer w.mutex.Unlock()
		return w.kernel[deep]
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, os.Mkdir(nested, 0o755))
	r.await(t, nested, source.FlagItemCreated|source.FlagItemIsDir)

	r.halt(t)
	require.NoError(t, s.Close())
}

func TestWatcher_RemovedRoot(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := t.TempDir()
	b := t.TempDir()

	w, err := NewWatcher(WithLogger(lg))
	require.NoError(t, err, "create watcher.")
	defer w.Close()

	s, err := w.Subscribe([]string{a, b}, w.CurrentCursor())
	require.NoError(t, err, "subscribe.")
	r := start(s)

	require.NoError(t, os.Remove(b))
	_, cursor := r.await(t, b, source.FlagItemRemoved|source.FlagRootChanged)
	r.halt(t)
	require.NoError(t, s.Close())

	s, err = w.Subscribe([]string{a, b}, cursor)
	require.NoError(t, err, "a removed root does not fail the subscription.")
	r = start(s)

	file := filepath.Join(a, "x")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	r.await(t, file, source.FlagItemCreated)

	require.NoError(t, os.Mkdir(b, 0o755))
	r.await(t, b, source.FlagItemCreated|source.FlagItemIsDir)

	r.halt(t)
	require.NoError(t, s.Close())
}

func TestWatcher_FailedSubscribeForgetsParked(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := t.TempDir()
	b := t.TempDir()

	w, err := NewWatcher(WithLogger(lg), WithRetention(time.Minute))
	require.NoError(t, err, "create watcher.")
	defer w.Close()

	s, err := w.Subscribe([]string{a, b}, w.CurrentCursor())
	require.NoError(t, err, "subscribe a and b.")
	require.NoError(t, s.Close())

	// b is parked, its retained watch still journals
	old := filepath.Join(b, "old")
	require.NoError(t, os.WriteFile(old, nil, 0o644))
	require.Eventually(t, func() bool { return w.CurrentCursor() > 0 }, 2*time.Second, 10*time.Millisecond)

	_, err = w.Subscribe([]string{"/tmp/bad\x00path"}, 0)
	require.ErrorIs(t, err, ErrWatchPath)

	s, err = w.Subscribe([]string{a, b}, 0)
	require.NoError(t, err, "subscribe a and b again.")
	r := start(s)

	fresh := filepath.Join(b, "fresh")
	require.NoError(t, os.WriteFile(fresh, nil, 0o644))
	r.await(t, fresh, source.FlagItemCreated)

	r.halt(t)
	for len(r.batches) > 0 {
		for _, e := range (<-r.batches).Events {
			assert.NotEqual(t, old, e.Path, "history of b replayed after a failed subscribe")
		}
	}
	require.NoError(t, s.Close())
}

func TestWatcher_CloseStopsStreams(t *testing.T) {
	defer goleak.VerifyNone(t)

	w, err := NewWatcher()
	require.NoError(t, err, "create watcher.")

	s, err := w.Subscribe([]string{t.TempDir()}, 0)
	require.NoError(t, err, "subscribe.")
	r := start(s)

	require.NoError(t, w.Close())
	select {
	case err := <-r.done:
		assert.ErrorIs(t, err, ErrWatcherClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("stream kept running after close")
	}
	require.NoError(t, s.Close())
}

func TestStream_LostHistory(t *testing.T) {
	w := &Watcher{closed: make(chan struct{}), journal: newJournal(2), batchSize: defaultBatchSize}
	for i := 0; i < 4; i++ {
		w.journal.append("/tmp/a/x", source.FlagItemModified)
	}

	s := &stream{w: w, since: 0, roots: []streamRoot{{path: "/tmp/a"}}}
	r := start(s)

	b := <-r.batches
	require.Len(t, b.Events, 1)
	assert.Equal(t, "/tmp/a", b.Events[0].Path)
	assert.True(t, b.Events[0].Flags.Has(source.FlagMustScanSubDirs|source.FlagUserDropped))
	assert.Equal(t, uint64(2), b.Cursor)

	b = <-r.batches
	require.Len(t, b.Events, 2)
	assert.Equal(t, uint64(4), b.Cursor)
	r.halt(t)
}

func TestTranslate(t *testing.T) {
	assert.Equal(t, source.FlagItemCreated, translate(fsnotify.Create))
	assert.Equal(t, source.FlagItemModified|source.FlagItemInodeMetaMod, translate(fsnotify.Write|fsnotify.Chmod))
	assert.Equal(t, source.FlagItemRemoved, translate(fsnotify.Remove))
	assert.Equal(t, source.FlagItemRenamed, translate(fsnotify.Rename))
	assert.Equal(t, source.FlagNone, translate(0))
}

func TestItemType(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	flags, ok := itemType(dir)
	require.True(t, ok)
	assert.Equal(t, source.FlagItemIsDir, flags)

	flags, ok = itemType(file)
	require.True(t, ok)
	assert.Equal(t, source.FlagItemIsFile, flags)

	_, ok = itemType(filepath.Join(dir, "missing"))
	assert.False(t, ok)
}
