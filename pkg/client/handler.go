package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/protocol"
)

// Auth logs into the server (sends the join packet). An empty username joins
// a server that runs without authentication.
func (c *Client) Auth(username string, password string) error {
	err := c.write(protocol.Join, protocol.JoinPayload{
		Username: username,
		Password: password,
	})
	if err != nil {
		return err
	}

	err = c.conn.SetReadDeadline(time.Now().Add(time.Second * 30))
	if err != nil {
		return errors.Join(ErrClientReadDeadline, err)
	}
	defer c.conn.SetReadDeadline(time.Time{})

	response, err := protocol.ReadFrame(c.r)
	if err != nil {
		return err
	}

	if response.Type != protocol.AckJoin {
		subErr := fmt.Errorf("expect %s but received %s", protocol.AckJoin, response.Type)
		return errors.Join(ErrClientInvalidPacketType, subErr)
	}

	ackJoinPayload := protocol.AckJoinPayload{}
	if err := response.Decode(protocol.AckJoin, &ackJoinPayload); err != nil {
		return err
	}

	if !ackJoinPayload.Ok {
		var subErr error
		if ackJoinPayload.Msg != "" {
			subErr = errors.New(ackJoinPayload.Msg)
		}
		return errors.Join(ErrClientAuthenticationFailed, subErr)
	}

	c.session = ackJoinPayload.Session
	c.logger.Printf("client :: joined as %q, session %s\n", username, c.session)
	return nil
}
