package client

import (
	"bufio"
	"crypto/tls"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/protocol"
)

const (
	dialTimeout = 10 * time.Second
	ackTimeout  = 30 * time.Second
)

var (
	ErrClientNotConnected         = errors.New("client is not connected")
	ErrClientReadDeadline         = errors.New("failed to set read deadline")
	ErrClientInvalidPacketType    = errors.New("invalid packet type received")
	ErrClientAuthenticationFailed = errors.New("authentication failed")
	ErrClientAckTimeout           = errors.New("no acknowledge from server")
	ErrClientPathRejected         = errors.New("server rejected path")
)

type Option func(c *Client)

// WithTLS dials with the given tls configuration.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tls = cfg
	}
}

func WithCredential(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Handler receives change notifications in the order the server sent them.
type Handler func(p protocol.ChangeNotifyPayload)

type Client struct {
	address  string
	tls      *tls.Config
	username string
	password string
	logger   *log.Logger

	conn    net.Conn
	r       *bufio.Reader
	session string
	sec     atomic.Uint64

	writeMutex sync.Mutex
	acks       chan protocol.AckPathPayload
	exit       chan struct{}
	exitOnce   sync.Once
}

func NewClient(address string, options ...Option) *Client {
	c := Client{
		address: address,
		logger:  log.New(io.Discard, "", 0),
		acks:    make(chan protocol.AckPathPayload, 16),
		exit:    make(chan struct{}),
	}

	for _, op := range options {
		op(&c)
	}

	return &c
}

// Dial connects and joins the server.
func (c *Client) Dial() error {
	dialer := &net.Dialer{Timeout: dialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if c.tls != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", c.address, c.tls)
	} else {
		conn, err = dialer.Dial("tcp", c.address)
	}
	if err != nil {
		return err
	}

	c.conn = conn
	c.r = bufio.NewReader(conn)
	c.logger.Printf("client :: connected to host %s ...\n", c.address)

	if err := c.Auth(c.username, c.password); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// Session is the id the server gave this connection.
func (c *Client) Session() string {
	return c.session
}

// Subscribe asks the server to attach path and waits for the answer. Run
// must be reading for the answer to arrive.
func (c *Client) Subscribe(path string) (int, error) {
	return c.request(protocol.SubscribePath, path)
}

func (c *Client) Unsubscribe(path string) (int, error) {
	return c.request(protocol.UnsubscribePath, path)
}

func (c *Client) request(t protocol.Type, path string) (int, error) {
	if c.conn == nil {
		return 0, ErrClientNotConnected
	}
	if err := c.write(t, protocol.PathPayload{Path: path}); err != nil {
		return 0, err
	}

	timer := time.NewTimer(ackTimeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.acks:
			if ack.Path != path {
				c.logger.Printf("client error :: stale acknowledge for %s\n", ack.Path)
				continue
			}
			if !ack.Ok {
				return ack.Count, errors.Join(ErrClientPathRejected, errors.New(ack.Msg))
			}
			if ack.Msg != "" {
				c.logger.Printf("client :: %s %s: %s\n", t, path, ack.Msg)
			}
			return ack.Count, nil
		case <-timer.C:
			return 0, ErrClientAckTimeout
		case <-c.exit:
			return 0, ErrClientNotConnected
		}
	}
}

// Run reads frames until Exit or until the connection breaks. It returns nil
// after Exit.
func (c *Client) Run(handler Handler) error {
	if c.conn == nil {
		return ErrClientNotConnected
	}

	for {
		d, err := protocol.ReadFrame(c.r)
		if err != nil {
			select {
			case <-c.exit:
				return nil
			default:
			}
			return err
		}

		switch d.Type {
		case protocol.ChangeNotify:
			p := protocol.ChangeNotifyPayload{}
			if err := d.Decode(protocol.ChangeNotify, &p); err != nil {
				c.logger.Printf("client error :: %v\n", err)
				continue
			}
			if handler != nil {
				handler(p)
			}
		case protocol.AckPath:
			p := protocol.AckPathPayload{}
			if err := d.Decode(protocol.AckPath, &p); err != nil {
				c.logger.Printf("client error :: %v\n", err)
				continue
			}
			select {
			case c.acks <- p:
			default:
				c.logger.Printf("client error :: nobody waits for acknowledge of %s\n", p.Path)
			}
		default:
			c.logger.Printf("client error :: %v\n", errors.Join(ErrClientInvalidPacketType, errors.New(d.Type.String())))
		}
	}
}

func (c *Client) Exit() error {
	var err error
	c.exitOnce.Do(func() {
		close(c.exit)
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Client) write(t protocol.Type, payload interface{}) error {
	d, err := protocol.NewData(c.sec.Add(1), t, payload)
	if err != nil {
		return err
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return protocol.WriteFrame(c.conn, d)
}
