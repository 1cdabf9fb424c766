// Package monitor multiplexes path interest from many callers onto a single
// native change subscription.
//
// Callers Attach and Detach absolute paths. The monitor keeps a reference
// count per path and, whenever the set of distinct paths changes, stops the
// running observation and starts a new one over the full set, resuming from
// the cursor of the last delivered batch so nothing is lost or replayed at the
// boundary.
package monitor

import (
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/source"
)

type delegateBox struct {
	d Delegate
}

type Monitor struct {
	source          source.Source
	logger          *log.Logger
	hooks           Hooks
	teardownTimeout time.Duration
	delegate        atomic.Pointer[delegateBox]

	// cursor is written by the observation goroutine and read under mutex
	// once that goroutine has stopped.
	cursor atomic.Uint64

	mutex      sync.Mutex
	paths      *registry
	hasCursor  bool
	current    *observation
	generation uint64
	closed     bool
}

func New(src source.Source, delegate Delegate, options ...Option) *Monitor {
	m := Monitor{
		source:          src,
		logger:          log.New(io.Discard, "", 0),
		teardownTimeout: defaultTeardownTimeout,
		paths:           newRegistry(),
	}
	m.SetDelegate(delegate)

	for _, op := range options {
		op(&m)
	}

	return &m
}

// SetDelegate replaces the delegate. A nil delegate makes deliveries skip it.
func (m *Monitor) SetDelegate(d Delegate) {
	m.delegate.Store(&delegateBox{d: d})
}

func (m *Monitor) currentDelegate() Delegate {
	if box := m.delegate.Load(); box != nil {
		return box.d
	}
	return nil
}

// Attach registers interest in path. The first registration of a path
// restarts the observation over the new set of distinct paths.
func (m *Monitor) Attach(path string) error {
	if path == "" || !filepath.IsAbs(path) {
		return errors.Join(ErrInvalidPath, fmt.Errorf("%q", path))
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return ErrClosed
	}

	var errs error
	if m.paths.count(path) == 0 {
		if m.paths.len() == 0 {
			m.cursor.Store(m.source.CurrentCursor())
			m.hasCursor = true
		} else {
			errs = m.suspend()
		}
	}

	if m.paths.add(path) == 1 {
		m.logger.Printf("monitor :: attach %s, %d path(s) registered\n", path, m.paths.len())
		errs = errors.Join(errs, m.resume("attach"))
	}
	return errs
}

// Detach drops one registration of path. Detaching a path that is not
// attached is a caller error and leaves the monitor unchanged.
func (m *Monitor) Detach(path string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return ErrClosed
	}

	count := m.paths.count(path)
	if count == 0 {
		return errors.Join(ErrNotAttached, fmt.Errorf("%q", path))
	}

	var errs error
	if count == 1 {
		errs = m.suspend()
	}

	if m.paths.remove(path) > 0 {
		return errs
	}

	m.logger.Printf("monitor :: detach %s, %d path(s) registered\n", path, m.paths.len())
	if m.paths.len() == 0 {
		m.hasCursor = false
		m.cursor.Store(0)
		return errs
	}
	return errors.Join(errs, m.resume("detach"))
}

// Close stops the observation and forgets every registration.
func (m *Monitor) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	err := m.suspend()
	m.paths.reset()
	m.hasCursor = false
	m.cursor.Store(0)
	return err
}

// Paths returns the distinct registered paths, sorted.
func (m *Monitor) Paths() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.paths.list()
}

// Count returns the number of registrations of path.
func (m *Monitor) Count(path string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.paths.count(path)
}

// Cursor returns the last position the monitor has seen, and false when idle.
func (m *Monitor) Cursor() (uint64, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.cursor.Load(), m.hasCursor
}

// Watching reports whether an observation is running.
func (m *Monitor) Watching() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.current != nil
}

// resume starts a new observation over the registered paths from the stored
// cursor. Called with mutex held and no observation running.
func (m *Monitor) resume(op string) error {
	paths := m.paths.list()
	since := m.cursor.Load()

	stream, err := m.source.Subscribe(paths, since)
	if err != nil {
		m.logger.Printf("monitor error :: %s: subscribe %d path(s) since %d: %v\n", op, len(paths), since, err)
		return &ObserveError{Op: op, Paths: paths, Err: err}
	}

	m.generation++
	o := &observation{
		generation: m.generation,
		paths:      paths,
		stream:     stream,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	o.id = observations.add(m)
	m.current = o

	go o.run(m)

	m.logger.Printf("monitor :: observation %d started on %d path(s) since %d\n", o.generation, len(paths), since)
	return nil
}

// suspend stops the running observation, if any, and waits for it to exit.
// Called with mutex held. The cursor is left untouched.
func (m *Monitor) suspend() error {
	o := m.current
	if o == nil {
		return nil
	}
	m.current = nil

	if m.hooks.Stopping != nil {
		m.hooks.Stopping(o.generation)
	}
	close(o.stop)

	timer := time.NewTimer(m.teardownTimeout)
	defer timer.Stop()

	select {
	case <-o.done:
		observations.delete(o.id)
		m.logger.Printf("monitor :: observation %d stopped at %d\n", o.generation, m.cursor.Load())
		return nil
	case <-timer.C:
		observations.delete(o.id)
		m.logger.Printf("monitor error :: observation %d did not stop within %v\n", o.generation, m.teardownTimeout)
		return errors.Join(ErrTeardownTimeout, fmt.Errorf("observation %d", o.generation))
	}
}

// advance moves the cursor forward. It never moves it back.
func (m *Monitor) advance(cursor uint64) {
	for {
		current := m.cursor.Load()
		if cursor <= current {
			return
		}
		if m.cursor.CompareAndSwap(current, cursor) {
			return
		}
	}
}
