package monitor

import "github.com/ManouchehrRasoulli/fsmonitor/pkg/event"

// Delegate receives every decoded event. It is called from the observation
// goroutine, one event at a time and in native order. OnEvent must not call
// Attach or Detach synchronously: those wait for the observation to stop.
type Delegate interface {
	OnEvent(e event.FileEvent)
}

type DelegateFunc func(e event.FileEvent)

func (f DelegateFunc) OnEvent(e event.FileEvent) { f(e) }

type fanout []Delegate

func (f fanout) OnEvent(e event.FileEvent) {
	for _, d := range f {
		d.OnEvent(e)
	}
}

// Fanout hands each event to every non-nil delegate in order.
func Fanout(delegates ...Delegate) Delegate {
	f := make(fanout, 0, len(delegates))
	for _, d := range delegates {
		if d != nil {
			f = append(f, d)
		}
	}
	return f
}
