package monitor

import (
	"path/filepath"
	"sync"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/event"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/source"
)

// observationTable resolves the integer handle carried by a running stream
// callback back to its monitor. Only live observations are present.
type observationTable struct {
	sync.Mutex
	m      map[uintptr]*Monitor
	lastID uintptr
}

var observations = observationTable{m: map[uintptr]*Monitor{}}

func (t *observationTable) add(m *Monitor) uintptr {
	t.Lock()
	defer t.Unlock()

	t.lastID++
	t.m[t.lastID] = m
	return t.lastID
}

func (t *observationTable) get(id uintptr) (*Monitor, bool) {
	t.Lock()
	defer t.Unlock()

	m, ok := t.m[id]
	return m, ok
}

func (t *observationTable) delete(id uintptr) {
	t.Lock()
	defer t.Unlock()

	delete(t.m, id)
}

// observation is one generation of the background watch.
type observation struct {
	id         uintptr
	generation uint64
	paths      []string
	stream     source.Stream
	stop       chan struct{}
	done       chan struct{}
}

func (o *observation) run(m *Monitor) {
	defer close(o.done)

	if m.hooks.Started != nil {
		m.hooks.Started(o.generation, o.paths)
	}

	if err := o.stream.Run(o.stop, o.deliver); err != nil {
		m.logger.Printf("monitor error :: observation %d ended: %v\n", o.generation, err)
	}
	if err := o.stream.Close(); err != nil {
		m.logger.Printf("monitor error :: observation %d close: %v\n", o.generation, err)
	}
}

// advance moves the cursor of the monitor behind id. It holds the table
// lock, so once suspend has fenced an observation off it can no longer move
// the cursor.
func (t *observationTable) advance(id uintptr, cursor uint64) bool {
	t.Lock()
	defer t.Unlock()

	m, ok := t.m[id]
	if ok {
		m.advance(cursor)
	}
	return ok
}

// deliver is the native callback. It only trusts the handle it was given and
// checks it again before every event.
func (o *observation) deliver(batch source.Batch) {
	m, ok := observations.get(o.id)
	if !ok {
		// fenced off after a teardown timeout
		return
	}

	for _, raw := range batch.Events {
		if _, ok := observations.get(o.id); !ok {
			m.logger.Printf("monitor error :: observation %d fenced off in the middle of a batch\n", o.generation)
			return
		}
		d := m.currentDelegate()
		if d == nil {
			break
		}
		d.OnEvent(event.FileEvent{
			Path:  filepath.Clean(raw.Path),
			Flags: event.Decode(raw.Flags),
		})
	}
	observations.advance(o.id, batch.Cursor)
}
