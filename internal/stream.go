package internal

import (
	"sync"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/source"
)

type streamRoot struct {
	path  string
	floor uint64 // events at or below floor predate interest in path
}

type stream struct {
	w         *Watcher
	roots     []streamRoot
	since     uint64
	closeOnce sync.Once
}

func (s *stream) matches(e source.RawEvent) bool {
	for _, r := range s.roots {
		if e.ID > r.floor && source.Covers(r.path, e.Path) {
			return true
		}
	}
	return false
}

func (s *stream) dropped(cursor uint64) []source.RawEvent {
	events := make([]source.RawEvent, 0, len(s.roots))
	for _, r := range s.roots {
		events = append(events, source.RawEvent{
			ID:    cursor,
			Path:  r.path,
			Flags: source.FlagMustScanSubDirs | source.FlagUserDropped,
		})
	}
	return events
}

// Run reads the journal from since onwards and hands matching entries to
// handle until stop is closed or the watcher shuts down.
func (s *stream) Run(stop <-chan struct{}, handle func(source.Batch)) error {
	cursor := s.since
	for {
		select {
		case <-stop:
			return nil
		case <-s.w.closed:
			return ErrWatcherClosed
		default:
		}

		wait := s.w.journal.wait()
		entries, lost := s.w.journal.since(cursor, int(s.w.batchSize))
		if lost {
			cursor = entries[0].ID - 1
			handle(source.Batch{Events: s.dropped(cursor), Cursor: cursor})
			continue
		}

		if len(entries) > 0 {
			batch := source.Batch{Cursor: entries[len(entries)-1].ID}
			for _, e := range entries {
				if s.matches(e) {
					batch.Events = append(batch.Events, e)
				}
			}
			handle(batch)
			cursor = batch.Cursor
			continue
		}

		select {
		case <-stop:
			return nil
		case <-s.w.closed:
			return ErrWatcherClosed
		case <-wait:
		}
	}
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.w.unsubscribe(s)
	})
	return nil
}
