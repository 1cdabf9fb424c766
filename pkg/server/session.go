package server

import (
	"net"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/event"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/protocol"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/source"
	"github.com/google/uuid"
)

const writeTimeout = 10 * time.Second

// dropNotice tells a client that it missed events below a root.
var dropNotice = event.NewFlagSet(event.MustScanSubDirs, event.UserDropped)

type session struct {
	id       string
	username string
	conn     net.Conn

	queue    chan protocol.ChangeNotifyPayload
	overflow chan struct{}
	done     chan struct{}
	sec      atomic.Uint64

	mutex sync.Mutex
	paths map[string]int // multiset of subscribed roots

	writeMutex sync.Mutex
}

func newSession(conn net.Conn, queueLength int) *session {
	return &session{
		id:       uuid.NewString(),
		conn:     conn,
		queue:    make(chan protocol.ChangeNotifyPayload, queueLength),
		overflow: make(chan struct{}, 1),
		done:     make(chan struct{}),
		paths:    make(map[string]int),
	}
}

func (sess *session) covers(path string) bool {
	sess.mutex.Lock()
	defer sess.mutex.Unlock()
	for root := range sess.paths {
		if source.Covers(root, path) {
			return true
		}
	}
	return false
}

func (sess *session) add(path string) int {
	sess.mutex.Lock()
	defer sess.mutex.Unlock()
	sess.paths[path]++
	return sess.paths[path]
}

// remove drops one subscription of path and reports false when there was none.
func (sess *session) remove(path string) (int, bool) {
	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	count, ok := sess.paths[path]
	if !ok {
		return 0, false
	}
	if count == 1 {
		delete(sess.paths, path)
		return 0, true
	}
	sess.paths[path] = count - 1
	return count - 1, true
}

// drain empties the multiset and returns every subscription it held.
func (sess *session) drain() []string {
	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	list := make([]string, 0, len(sess.paths))
	for path, count := range sess.paths {
		for i := 0; i < count; i++ {
			list = append(list, path)
		}
	}
	sess.paths = make(map[string]int)
	sort.Strings(list)
	return list
}

func (sess *session) roots() []string {
	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	list := make([]string, 0, len(sess.paths))
	for path := range sess.paths {
		list = append(list, path)
	}
	sort.Strings(list)
	return list
}

func (sess *session) enqueue(p protocol.ChangeNotifyPayload) bool {
	select {
	case sess.queue <- p:
		return true
	default:
	}

	select {
	case sess.overflow <- struct{}{}:
	default:
	}
	return false
}

func (sess *session) write(t protocol.Type, payload interface{}) error {
	d, err := protocol.NewData(sess.sec.Add(1), t, payload)
	if err != nil {
		return err
	}

	sess.writeMutex.Lock()
	defer sess.writeMutex.Unlock()

	_ = sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return protocol.WriteFrame(sess.conn, d)
}

// writer sends queued notifications until the session ends. After an
// overflow every subscribed root gets a rescan notice.
func (sess *session) writer(s *Server) {
	defer s.wg.Done()

	for {
		select {
		case p := <-sess.queue:
			if err := sess.write(protocol.ChangeNotify, p); err != nil {
				s.log.Printf("server error :: session %s: %v\n", sess.id, err)
				_ = sess.conn.Close()
				return
			}
		case <-sess.overflow:
			for _, root := range sess.roots() {
				notice := protocol.ChangeNotifyPayload{Path: root, Flags: dropNotice}
				if err := sess.write(protocol.ChangeNotify, notice); err != nil {
					s.log.Printf("server error :: session %s: %v\n", sess.id, err)
					_ = sess.conn.Close()
					return
				}
			}
		case <-sess.done:
			return
		}
	}
}

func cleanPath(path string) string {
	if path == "" {
		return path
	}
	return filepath.Clean(path)
}
