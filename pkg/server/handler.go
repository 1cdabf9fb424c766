package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/monitor"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/protocol"
)

const joinTimeout = 30 * time.Second

var (
	ErrServerAuthenticationFailed = errors.New("authentication failed")
	ErrServerInvalidPacketType    = errors.New("invalid packet type received")
)

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()

	sess := newSession(conn, s.queueLength)
	if !s.register(sess) {
		_ = conn.Close()
		return
	}

	defer func() {
		close(sess.done)
		s.release(sess)
		s.unregister(sess)
		_ = conn.Close()

		if s.um != nil && sess.username != "" {
			s.um.UnsetAuthenticatedUser(sess.username)
		}
		s.log.Printf("server :: session %s closed\n", sess.id)
	}()

	r := bufio.NewReader(conn)

	_ = conn.SetReadDeadline(time.Now().Add(joinTimeout))
	username, err := s.joinHandler(sess, r)
	if err != nil {
		s.log.Printf("server error :: session %s: %v\n", sess.id, err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	sess.username = username
	s.log.Printf("server :: session %s joined (user: %q)\n", sess.id, username)

	s.wg.Add(1)
	go sess.writer(s)

	for {
		req, err := protocol.ReadFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Printf("server error :: session %s: %v\n", sess.id, err)
			}
			return
		}

		switch req.Type {
		case protocol.SubscribePath:
			err = s.handleSubscription(sess, req)
		case protocol.UnsubscribePath:
			err = s.handleUnsubscription(sess, req)
		default:
			s.log.Printf("server error :: session %s: %v\n", sess.id, errors.Join(ErrServerInvalidPacketType, fmt.Errorf("%s", req.Type)))
			return
		}
		if err != nil {
			s.log.Printf("server error :: session %s: %v\n", sess.id, err)
			return
		}
	}
}

func (s *Server) joinHandler(sess *session, r *bufio.Reader) (string, error) {
	req, err := protocol.ReadFrame(r)
	if err != nil {
		return "", err
	}

	var username string
	ackJoinPayload := protocol.AckJoinPayload{Ok: false, Session: sess.id}

	joinPayload := protocol.JoinPayload{}
	if err := req.Decode(protocol.Join, &joinPayload); err != nil {
		ackJoinPayload.Msg = fmt.Sprintf("invalid join. %v", err)
	} else if s.um == nil {
		ackJoinPayload.Ok = true
	} else if s.um.CheckUserPassword(joinPayload.Username, joinPayload.Password) {
		host, _, _ := net.SplitHostPort(sess.conn.RemoteAddr().String())

		if s.um.SetAuthenticatedUser(joinPayload.Username, host) {
			ackJoinPayload.Ok = true
			username = joinPayload.Username
		} else {
			if ip, ok := s.um.AuthenticatedIP(joinPayload.Username); ok {
				s.log.Printf("server error :: user %s is already logged in from %s, refused %s\n", joinPayload.Username, ip, host)
			}
			ackJoinPayload.Msg = "another system has logged in. if something is wrong call the server admin."
		}
	}

	if !ackJoinPayload.Ok {
		ackJoinPayload.Session = ""
	}
	if err := sess.write(protocol.AckJoin, ackJoinPayload); err != nil {
		if username != "" {
			s.um.UnsetAuthenticatedUser(username)
		}
		return "", err
	}

	if !ackJoinPayload.Ok {
		subErr := fmt.Errorf("username: %q, msg: %q", joinPayload.Username, ackJoinPayload.Msg)
		return "", errors.Join(ErrServerAuthenticationFailed, subErr)
	}
	return username, nil
}

// registered reports whether the monitor kept the change behind err.
func registered(err error) bool {
	return err == nil ||
		!(errors.Is(err, monitor.ErrInvalidPath) ||
			errors.Is(err, monitor.ErrClosed) ||
			errors.Is(err, monitor.ErrNotAttached))
}

func (s *Server) handleSubscription(sess *session, req *protocol.Data) error {
	p := protocol.PathPayload{}
	if err := req.Decode(protocol.SubscribePath, &p); err != nil {
		return err
	}
	path := cleanPath(p.Path)
	ack := protocol.AckPathPayload{Path: p.Path}

	err := s.m.Attach(path)
	if registered(err) {
		ack.Ok = true
		ack.Count = sess.add(path)
		if s.f != nil {
			if terr := s.f.Track(path); terr != nil {
				s.log.Printf("server error :: session %s: inventory of %s: %v\n", sess.id, path, terr)
			}
		}
	}
	if err != nil {
		// observation problems leave the subscription in place
		ack.Msg = err.Error()
		s.log.Printf("server error :: session %s: subscribe %s: %v\n", sess.id, path, err)
	} else {
		s.log.Printf("server :: session %s subscribed %s (%d)\n", sess.id, path, ack.Count)
	}

	return sess.write(protocol.AckPath, ack)
}

func (s *Server) handleUnsubscription(sess *session, req *protocol.Data) error {
	p := protocol.PathPayload{}
	if err := req.Decode(protocol.UnsubscribePath, &p); err != nil {
		return err
	}
	path := cleanPath(p.Path)
	ack := protocol.AckPathPayload{Path: p.Path}

	count, ok := sess.remove(path)
	if !ok {
		ack.Msg = "path is not subscribed by this session"
		return sess.write(protocol.AckPath, ack)
	}

	s.detach(sess, path)
	ack.Ok = true
	ack.Count = count
	return sess.write(protocol.AckPath, ack)
}

// release gives back every subscription the session still holds.
func (s *Server) release(sess *session) {
	for _, path := range sess.drain() {
		s.detach(sess, path)
	}
}

func (s *Server) detach(sess *session, path string) {
	if err := s.m.Detach(path); err != nil {
		s.log.Printf("server error :: session %s: unsubscribe %s: %v\n", sess.id, path, err)
	}
	if s.f != nil {
		if err := s.f.Untrack(path); err != nil {
			s.log.Printf("server error :: session %s: inventory of %s: %v\n", sess.id, path, err)
		}
	}
}
