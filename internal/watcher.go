package internal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/source"
	"github.com/fsnotify/fsnotify"
)

const (
	defaultBatchSize  = 256
	defaultBufferSize = 1024
	defaultRetention  = time.Second
)

var (
	ErrWatcherClosed = errors.New("watcher is closed")
	ErrNoPaths       = errors.New("no paths to watch")
	ErrWatchPath     = errors.New("failed to watch path")
)

type Option func(w *Watcher)

// WithBufferSize sets the fsnotify event buffer.
func WithBufferSize(size uint) Option {
	return func(w *Watcher) {
		w.bufferSize = size
	}
}

// WithBatchSize limits the number of journal entries handed over per batch.
func WithBatchSize(size int32) Option {
	return func(w *Watcher) {
		w.batchSize = size
	}
}

// WithJournalSize sets how many events are kept for resuming streams.
func WithJournalSize(size int) Option {
	return func(w *Watcher) {
		w.journalSize = size
	}
}

// WithRetention sets how long kernel watches of unsubscribed paths are kept.
func WithRetention(d time.Duration) Option {
	return func(w *Watcher) {
		w.retain = d
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// Watcher is the fsnotify backed implementation of source.Source. Every
// kernel event is journaled with an increasing id, and streams read the
// journal, so a stream opened at an older cursor picks up where a previous
// one stopped.
type Watcher struct {
	fw          *fsnotify.Watcher
	journal     *journal
	closed      chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	bufferSize  uint
	batchSize   int32
	journalSize int
	retain      time.Duration
	logger      *log.Logger

	mutex   sync.Mutex
	kernel  map[string]bool // kernel watched path -> is directory
	streams map[*stream]struct{}
	floors  map[string]uint64 // live roots
	parked  map[string]uint64 // roots of streams closed since the last Subscribe
	pruner  *time.Timer
}

var _ source.Source = (*Watcher)(nil)

func NewWatcher(options ...Option) (*Watcher, error) {
	w := Watcher{
		closed:     make(chan struct{}),
		bufferSize: defaultBufferSize,
		batchSize:  defaultBatchSize,
		retain:     defaultRetention,
		logger:     log.New(io.Discard, "", 0),
		kernel:     make(map[string]bool),
		streams:    make(map[*stream]struct{}),
		floors:     make(map[string]uint64),
		parked:     make(map[string]uint64),
	}

	for _, op := range options {
		op(&w)
	}

	fw, err := fsnotify.NewBufferedWatcher(w.bufferSize)
	if err != nil {
		return nil, err
	}
	w.fw = fw
	w.journal = newJournal(w.journalSize)

	w.wg.Add(1)
	go w.run()

	return &w, nil
}

func (w *Watcher) CurrentCursor() uint64 {
	return w.journal.head()
}

// Subscribe installs kernel watches for paths (directories recursively) and
// returns a stream of journaled events newer than since. A path that was not
// live or parked before this call only sees events journaled after this call.
// A path that does not exist is watched through its nearest existing
// ancestor until it is created. Subscribe fails only when none of paths can
// be watched.
func (w *Watcher) Subscribe(paths []string, since uint64) (_ source.Stream, err error) {
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	select {
	case <-w.closed:
		return nil, ErrWatcherClosed
	default:
	}

	defer func() {
		if err != nil {
			w.keepParkedLocked(paths)
			w.pruner = time.AfterFunc(w.retain, w.prune)
		}
	}()

	if w.pruner != nil {
		w.pruner.Stop()
		w.pruner = nil
	}

	desired := make(map[string]bool)
	var errs error
	failed := 0
	for _, path := range paths {
		if rerr := w.expandRoot(path, desired); rerr != nil {
			w.logger.Printf("watcher error :: root %s can not be watched: %v\n", path, rerr)
			errs = errors.Join(errs, fmt.Errorf("%s: %w", path, rerr))
			failed++
		}
	}
	if failed == len(paths) {
		return nil, errors.Join(ErrWatchPath, errs)
	}
	for root := range w.floors {
		if rerr := w.expandRoot(root, desired); rerr != nil {
			w.logger.Printf("watcher error :: live root %s can not be expanded: %v\n", root, rerr)
		}
	}
	coalesce(desired)

	added := make([]string, 0)
	for path, isDir := range desired {
		if _, ok := w.kernel[path]; ok {
			continue
		}
		if aerr := w.fw.Add(path); aerr != nil {
			if errors.Is(aerr, fs.ErrNotExist) {
				// removed since it was walked, its parent reports the removal
				continue
			}
			for _, p := range added {
				_ = w.fw.Remove(p)
				delete(w.kernel, p)
			}
			return nil, errors.Join(ErrWatchPath, fmt.Errorf("%s: %w", path, aerr))
		}
		w.kernel[path] = isDir
		added = append(added, path)
	}
	w.pruneLocked(desired)

	head := w.journal.head()
	s := &stream{w: w, since: since, roots: make([]streamRoot, 0, len(paths))}
	for _, path := range paths {
		floor, ok := w.floors[path]
		if !ok {
			floor, ok = w.parked[path]
		}
		if !ok {
			floor = head
		}
		s.roots = append(s.roots, streamRoot{path: path, floor: floor})
	}
	w.parked = make(map[string]uint64)
	w.streams[s] = struct{}{}
	w.refreshFloorsLocked()

	w.logger.Printf("watcher :: subscribe %d path(s) since %d, %d kernel watch(es)\n", len(paths), since, len(w.kernel))
	return s, nil
}

// keepParkedLocked forgets parked roots that are not in paths.
func (w *Watcher) keepParkedLocked(paths []string) {
	keep := make(map[string]uint64)
	for _, path := range paths {
		if floor, ok := w.parked[path]; ok {
			keep[path] = floor
		}
	}
	w.parked = keep
}

func (w *Watcher) unsubscribe(s *stream) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if _, ok := w.streams[s]; !ok {
		return
	}
	delete(w.streams, s)
	for _, r := range s.roots {
		if floor, ok := w.parked[r.path]; !ok || r.floor < floor {
			w.parked[r.path] = r.floor
		}
	}
	w.refreshFloorsLocked()

	select {
	case <-w.closed:
		return
	default:
	}
	if w.pruner != nil {
		w.pruner.Stop()
	}
	w.pruner = time.AfterFunc(w.retain, w.prune)
}

// prune drops kernel watches and parked roots no live stream needs anymore.
func (w *Watcher) prune() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	select {
	case <-w.closed:
		return
	default:
	}

	desired := make(map[string]bool)
	for root := range w.floors {
		if err := w.expandRoot(root, desired); err != nil {
			w.logger.Printf("watcher error :: live root %s can not be expanded: %v\n", root, err)
		}
	}
	coalesce(desired)
	w.pruneLocked(desired)
	w.parked = make(map[string]uint64)
	w.pruner = nil
}

func (w *Watcher) pruneLocked(desired map[string]bool) {
	for path := range w.kernel {
		if _, ok := desired[path]; ok {
			continue
		}
		// the watch is already gone when the path was removed
		_ = w.fw.Remove(path)
		delete(w.kernel, path)
	}
}

func (w *Watcher) refreshFloorsLocked() {
	w.floors = make(map[string]uint64)
	for s := range w.streams {
		for _, r := range s.roots {
			if floor, ok := w.floors[r.path]; !ok || r.floor < floor {
				w.floors[r.path] = r.floor
			}
		}
	}
}

// expandRoot is expand for a subscribed root. A missing root is replaced by
// its nearest existing ancestor directory, so the creation of the root is
// journaled and record can watch it.
func (w *Watcher) expandRoot(root string, desired map[string]bool) error {
	err := w.expand(root, desired)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	for dir := filepath.Dir(root); ; dir = filepath.Dir(dir) {
		if fi, serr := os.Stat(dir); serr == nil && fi.IsDir() {
			desired[dir] = true
			w.logger.Printf("watcher :: root %s does not exist, waiting for it in %s\n", root, dir)
			return nil
		}
		if dir == filepath.Dir(dir) {
			return err
		}
	}
}

// expand adds root and, for directories, every directory below it.
func (w *Watcher) expand(root string, desired map[string]bool) error {
	fi, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		if _, ok := desired[root]; !ok {
			desired[root] = false
		}
		return nil
	}

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			w.logger.Printf("watcher error :: skip %s: %v\n", p, err)
			return nil
		}
		if d.IsDir() {
			desired[p] = true
		}
		return nil
	})
}

// coalesce drops file watches already covered by a watch on their directory.
func coalesce(desired map[string]bool) {
	for path, isDir := range desired {
		if !isDir && desired[filepath.Dir(path)] {
			delete(desired, path)
		}
	}
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.record(e)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.recordError(err)
		case <-w.closed:
			return
		}
	}
}

func (w *Watcher) record(e fsnotify.Event) {
	if len(e.Name) == 0 { // no event !
		return
	}

	path := filepath.Clean(e.Name)
	flags := translate(e.Op)
	kind, ok := itemType(path)

	w.mutex.Lock()
	isDir, known := w.kernel[path]
	if !ok {
		kind = source.FlagItemIsFile
		if known && isDir {
			kind = source.FlagItemIsDir
		}
	}
	if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
		if w.isRootLocked(path) {
			flags |= source.FlagRootChanged
		}
		if known {
			delete(w.kernel, path)
		}
	}
	if e.Has(fsnotify.Create) && kind.Has(source.FlagItemIsDir) && w.kernel[filepath.Dir(path)] && w.wantedLocked(path) {
		w.watchTreeLocked(path)
	}
	w.mutex.Unlock()

	w.journal.append(path, flags|kind)
}

func (w *Watcher) watchTreeLocked(root string) {
	desired := make(map[string]bool)
	if err := w.expand(root, desired); err != nil {
		w.logger.Printf("watcher error :: new directory %s: %v\n", root, err)
		return
	}
	for path := range desired {
		if _, ok := w.kernel[path]; ok {
			continue
		}
		if err := w.fw.Add(path); err != nil {
			w.logger.Printf("watcher error :: add %s: %v\n", path, err)
			continue
		}
		w.kernel[path] = true
	}
}

// wantedLocked reports whether a new directory lies below a root, or is on
// the way to a root that does not exist yet.
func (w *Watcher) wantedLocked(dir string) bool {
	for _, roots := range []map[string]uint64{w.floors, w.parked} {
		for root := range roots {
			if source.Covers(root, dir) || source.Covers(dir, root) {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) isRootLocked(path string) bool {
	if _, ok := w.floors[path]; ok {
		return true
	}
	_, ok := w.parked[path]
	return ok
}

func (w *Watcher) recordError(err error) {
	if !errors.Is(err, fsnotify.ErrEventOverflow) {
		w.logger.Printf("watcher error :: %v\n", err)
		return
	}

	w.mutex.Lock()
	roots := make([]string, 0, len(w.floors))
	for root := range w.floors {
		roots = append(roots, root)
	}
	w.mutex.Unlock()

	w.logger.Printf("watcher error :: kernel queue overflow, %d root(s) need a rescan\n", len(roots))
	for _, root := range roots {
		w.journal.append(root, source.FlagMustScanSubDirs|source.FlagKernelDropped)
	}
}

// Close stops every stream and releases the kernel watches.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		err = w.fw.Close()
		w.wg.Wait()

		w.mutex.Lock()
		if w.pruner != nil {
			w.pruner.Stop()
			w.pruner = nil
		}
		w.kernel = make(map[string]bool)
		w.mutex.Unlock()
	})
	return err
}
