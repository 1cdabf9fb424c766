package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/internal"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/event"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func awaitEvent(t *testing.T, rec *recorder, match func(e event.FileEvent) bool) event.FileEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-rec.events:
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return event.FileEvent{}
		}
	}
}

func TestIntegration(t *testing.T) {
	defer goleak.VerifyNone(t)
	folder := t.TempDir()

	w, err := internal.NewWatcher(internal.WithLogger(lg))
	require.NoError(t, err, "create watcher.")
	defer w.Close()

	started := make(chan uint64, 8)
	stopping := make(chan uint64, 8)
	rec := newRecorder()
	m := newTestMonitor(w, rec, WithHooks(Hooks{
		Started:  func(generation uint64, _ []string) { started <- generation },
		Stopping: func(generation uint64) { stopping <- generation },
	}))
	defer m.Close()

	// start observing folder
	require.NoError(t, m.Attach(folder))
	<-started

	// create child folder
	child := filepath.Join(folder, "child")
	require.NoError(t, os.Mkdir(child, 0o755))
	awaitEvent(t, rec, func(e event.FileEvent) bool {
		return e.Path == child && e.Flags.Contains(event.NewFlagSet(event.ItemCreated, event.ItemIsDir))
	})

	// start observing child folder as well
	require.NoError(t, m.Attach(child))
	<-stopping
	<-started

	// modify child folder
	now := time.Now()
	require.NoError(t, os.Chtimes(child, now, now))
	awaitEvent(t, rec, func(e event.FileEvent) bool {
		return e.Path == child && e.Has(event.ItemInodeMetaMod)
	})

	// stop observing child folder, folder is still observed
	require.NoError(t, m.Detach(child))
	<-stopping
	<-started

	// remove child folder
	require.NoError(t, os.Remove(child))
	awaitEvent(t, rec, func(e event.FileEvent) bool {
		return e.Path == child && e.Has(event.ItemRemoved)
	})

	// stop observing
	require.NoError(t, m.Detach(folder))
	<-stopping
	require.False(t, m.Watching())
}

func TestIntegration_NoLossAcrossRestart(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := t.TempDir()
	b := t.TempDir()

	w, err := internal.NewWatcher(internal.WithLogger(lg))
	require.NoError(t, err, "create watcher.")
	defer w.Close()

	rec := newRecorder()
	m := newTestMonitor(w, rec)
	defer m.Close()

	require.NoError(t, m.Attach(a))

	// every file written to a while b is attached and detached must arrive exactly once
	const files = 20
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < files; i++ {
			_ = os.WriteFile(filepath.Join(a, "f"+string(rune('a'+i))), nil, 0o644)
			time.Sleep(2 * time.Millisecond)
		}
	}()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Attach(b))
		require.NoError(t, m.Detach(b))
	}
	<-done

	seen := make(map[string]int)
	timeout := time.After(2 * time.Second)
	for len(seen) < files {
		select {
		case e := <-rec.events:
			if e.Has(event.ItemCreated) && filepath.Dir(e.Path) == a {
				seen[e.Path]++
			}
		case <-timeout:
			t.Fatalf("saw %d of %d created files", len(seen), files)
		}
	}
	for path, n := range seen {
		require.Equal(t, 1, n, "duplicate create for %s", path)
	}
}

func TestIntegration_RemovedRootKeepsOthers(t *testing.T) {
	defer goleak.VerifyNone(t)
	parent := t.TempDir()
	a := filepath.Join(parent, "a")
	b := filepath.Join(parent, "b")
	c := filepath.Join(parent, "c")
	require.NoError(t, os.Mkdir(a, 0o755))
	require.NoError(t, os.Mkdir(b, 0o755))

	w, err := internal.NewWatcher(internal.WithLogger(lg))
	require.NoError(t, err, "create watcher.")
	defer w.Close()

	rec := newRecorder()
	m := newTestMonitor(w, rec)
	defer m.Close()

	require.NoError(t, m.Attach(a))
	require.NoError(t, m.Attach(b))

	// removing an attached root is reported as a root change
	require.NoError(t, os.Remove(b))
	awaitEvent(t, rec, func(e event.FileEvent) bool {
		return e.Path == b && e.Flags.Contains(event.NewFlagSet(event.ItemRemoved, event.RootChanged))
	})

	// reconfiguring with a removed root and a missing one keeps a observed
	require.NoError(t, m.Attach(c), "a missing path is accepted.")
	require.True(t, m.Watching())

	x := filepath.Join(a, "x")
	require.NoError(t, os.WriteFile(x, nil, 0o644))
	awaitEvent(t, rec, func(e event.FileEvent) bool {
		return e.Path == x && e.Has(event.ItemCreated)
	})

	// the missing path is picked up once it exists
	require.NoError(t, os.Mkdir(c, 0o755))
	awaitEvent(t, rec, func(e event.FileEvent) bool {
		return e.Path == c && e.Flags.Contains(event.NewFlagSet(event.ItemCreated, event.ItemIsDir))
	})

	require.NoError(t, m.Detach(c))
	y := filepath.Join(a, "y")
	require.NoError(t, os.WriteFile(y, nil, 0o644))
	awaitEvent(t, rec, func(e event.FileEvent) bool {
		return e.Path == y && e.Has(event.ItemCreated)
	})

	require.NoError(t, m.Detach(a))
	require.NoError(t, m.Detach(b))
	require.False(t, m.Watching())
}
