package server

import (
	"crypto/tls"
	"errors"
	"io"
	"log"
	"net"
	"sync"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/event"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/filehandler"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/filter"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/protocol"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/user"
)

const defaultQueueLength = 256

var (
	ErrServerClosed     = errors.New("server is closed")
	ErrServerNotListen  = errors.New("server is not listening")
	ErrServerLoadTLSKey = errors.New("failed to load tls key pair")
)

// Monitor is the part of monitor.Monitor the server drives.
type Monitor interface {
	Attach(path string) error
	Detach(path string) error
}

type ServerTLS struct {
	Cert string
	Key  string
}

type Option func(s *Server)

func WithTLS(t *ServerTLS) Option {
	return func(s *Server) {
		s.tls = t
	}
}

// WithUserManager turns on authentication of the join frame.
func WithUserManager(um *user.UserManager) Option {
	return func(s *Server) {
		s.um = um
	}
}

// WithFileHandler attaches size and modification time to notifications and
// keeps the handler tracking every subscribed root.
func WithFileHandler(f *filehandler.Handler) Option {
	return func(s *Server) {
		s.f = f
	}
}

func WithFilter(f *filter.Filter) Option {
	return func(s *Server) {
		s.ignore = f
	}
}

func WithQueueLength(n int) Option {
	return func(s *Server) {
		s.queueLength = n
	}
}

func WithLogger(lg *log.Logger) Option {
	return func(s *Server) {
		s.log = lg
	}
}

// Server exposes one Monitor over tcp. Every connection is an independent
// caller: its subscriptions are reference counted on the shared Monitor and
// released when the connection goes away.
type Server struct {
	address     string
	m           Monitor
	tls         *ServerTLS
	um          *user.UserManager
	f           *filehandler.Handler
	ignore      *filter.Filter
	queueLength int
	l           net.Listener
	log         *log.Logger

	exit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mutex    sync.RWMutex
	sessions map[string]*session
}

func NewServer(address string, m Monitor, options ...Option) *Server {
	s := Server{
		address:     address,
		m:           m,
		queueLength: defaultQueueLength,
		log:         log.New(io.Discard, "", 0),
		exit:        make(chan struct{}),
		sessions:    make(map[string]*session),
	}

	for _, op := range options {
		op(&s)
	}

	return &s
}

func (s *Server) Listen() error {
	var (
		l   net.Listener
		err error
	)

	if s.tls != nil {
		cert, lerr := tls.LoadX509KeyPair(s.tls.Cert, s.tls.Key)
		if lerr != nil {
			return errors.Join(ErrServerLoadTLSKey, lerr)
		}
		l, err = tls.Listen("tcp", s.address, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	} else {
		l, err = net.Listen("tcp", s.address)
	}
	if err != nil {
		return err
	}

	s.l = l
	s.log.Printf("server :: listening on %s (tls: %t, auth: %t)\n", l.Addr(), s.tls != nil, s.um != nil)
	return nil
}

// Addr is the address the server listens on, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.l == nil {
		return nil
	}
	return s.l.Addr()
}

// Run accepts connections until Close. It always returns an error,
// ErrServerClosed after a Close.
func (s *Server) Run() error {
	if s.l == nil {
		return ErrServerNotListen
	}

	for {
		c, err := s.l.Accept()
		if err != nil {
			select {
			case <-s.exit:
				return ErrServerClosed
			default:
			}
			s.log.Printf("server error :: got error (%v) on accepting connection !!\n", err)
			return err
		}

		s.log.Printf("server :: accept handle connection --> {remote-address: %s, network: %s}\n", c.RemoteAddr().String(), c.RemoteAddr().Network())
		s.wg.Add(1)
		go s.serve(c)
	}
}

// Close stops accepting, ends every session and waits for their
// subscriptions to be released.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.exit)
		if s.l != nil {
			err = s.l.Close()
		}

		s.mutex.RLock()
		for _, sess := range s.sessions {
			_ = sess.conn.Close()
		}
		s.mutex.RUnlock()

		s.wg.Wait()
	})
	return err
}

// Sessions returns the number of open connections.
func (s *Server) Sessions() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}

// OnEvent queues e to every session subscribed to a path covering it. It
// never blocks on a slow connection.
func (s *Server) OnEvent(e event.FileEvent) {
	if s.ignore.Ignored(e.Path) {
		return
	}

	s.mutex.RLock()
	targets := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.covers(e.Path) {
			targets = append(targets, sess)
		}
	}
	s.mutex.RUnlock()

	if len(targets) == 0 {
		return
	}

	p := protocol.ChangeNotifyPayload{Path: e.Path, Flags: e.Flags}
	if s.f != nil {
		if meta := s.f.GetMeta(e.Path); meta != nil {
			p.Size = meta.Size
			p.ModTime = meta.ModifyTime
		}
	}

	for _, sess := range targets {
		if !sess.enqueue(p) {
			s.log.Printf("server error :: session %s queue is full, dropped %s\n", sess.id, e)
		}
	}
}

// register fails once Close has started, so no session outlives it.
func (s *Server) register(sess *session) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	select {
	case <-s.exit:
		return false
	default:
	}
	s.sessions[sess.id] = sess
	return true
}

func (s *Server) unregister(sess *session) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.sessions, sess.id)
}
