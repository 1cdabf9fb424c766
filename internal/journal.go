package internal

import (
	"sync"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/source"
)

const defaultJournalSize = 4096

// journal is a bounded ring of raw events. Ids start at 1 and never repeat.
type journal struct {
	mutex   sync.Mutex
	entries []source.RawEvent
	start   int    // ring index of the oldest entry
	size    int    // number of live entries
	last    uint64 // id of the newest entry, 0 when nothing was appended yet
	changed chan struct{}
}

func newJournal(capacity int) *journal {
	if capacity <= 0 {
		capacity = defaultJournalSize
	}
	return &journal{
		entries: make([]source.RawEvent, capacity),
		changed: make(chan struct{}),
	}
}

// append stores an event and wakes every waiter.
func (j *journal) append(path string, flags source.Flags) uint64 {
	j.mutex.Lock()
	j.last++
	e := source.RawEvent{ID: j.last, Path: path, Flags: flags}
	if j.size < len(j.entries) {
		j.entries[(j.start+j.size)%len(j.entries)] = e
		j.size++
	} else {
		j.entries[j.start] = e
		j.start = (j.start + 1) % len(j.entries)
	}
	changed := j.changed
	j.changed = make(chan struct{})
	j.mutex.Unlock()

	close(changed)
	return e.ID
}

func (j *journal) head() uint64 {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	return j.last
}

// wait returns a channel closed by the next append.
func (j *journal) wait() <-chan struct{} {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	return j.changed
}

// since copies at most limit entries newer than cursor. lost is true when
// entries newer than cursor were already overwritten; the returned entries
// then start at the oldest retained one.
func (j *journal) since(cursor uint64, limit int) (entries []source.RawEvent, lost bool) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if cursor >= j.last || j.size == 0 {
		return nil, false
	}
	oldest := j.last - uint64(j.size) + 1
	if cursor+1 < oldest {
		lost = true
		cursor = oldest - 1
	}

	skip := int(cursor + 1 - oldest)
	n := j.size - skip
	if limit > 0 && n > limit {
		n = limit
	}
	entries = make([]source.RawEvent, n)
	for i := 0; i < n; i++ {
		entries[i] = j.entries[(j.start+skip+i)%len(j.entries)]
	}
	return entries, lost
}
