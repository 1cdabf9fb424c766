package monitor

import (
	"errors"
	"sync"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/event"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/source"
)

var errFakeSubscribe = errors.New("fake subscribe failure")

type subscribeCall struct {
	paths []string
	since uint64
}

// fakeSource hands out streams that deliver whatever the test pushes.
type fakeSource struct {
	mutex   sync.Mutex
	now     uint64
	calls   []subscribeCall
	streams []*fakeStream
	fail    int // number of upcoming Subscribe calls that fail
	stuck   bool
}

func (f *fakeSource) CurrentCursor() uint64 {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.now
}

func (f *fakeSource) setNow(now uint64) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.now = now
}

func (f *fakeSource) Subscribe(paths []string, since uint64) (source.Stream, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.calls = append(f.calls, subscribeCall{paths: append([]string(nil), paths...), since: since})
	if f.fail > 0 {
		f.fail--
		return nil, errFakeSubscribe
	}
	s := &fakeStream{batches: make(chan source.Batch), closed: make(chan struct{}), stuck: f.stuck}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeSource) subscribes() []subscribeCall {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]subscribeCall(nil), f.calls...)
}

func (f *fakeSource) last() *fakeStream {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

// open counts streams that were not closed yet.
func (f *fakeSource) open() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	n := 0
	for _, s := range f.streams {
		select {
		case <-s.closed:
		default:
			n++
		}
	}
	return n
}

type fakeStream struct {
	batches   chan source.Batch
	closed    chan struct{}
	closeOnce sync.Once
	stuck     bool // ignores stop, like a native layer that never returns
}

func (s *fakeStream) Run(stop <-chan struct{}, handle func(source.Batch)) error {
	if s.stuck {
		stop = nil
	}
	for {
		select {
		case <-stop:
			return nil
		case <-s.closed:
			return nil
		case b := <-s.batches:
			handle(b)
		}
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// recorder is a delegate collecting events on a channel.
type recorder struct {
	events chan event.FileEvent
}

func newRecorder() *recorder {
	return &recorder{events: make(chan event.FileEvent, 128)}
}

func (r *recorder) OnEvent(e event.FileEvent) {
	r.events <- e
}
