package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/event"
)

type Type int64

const (
	Join Type = iota + 1
	AckJoin
	SubscribePath
	UnsubscribePath
	AckPath
	ChangeNotify
)

func (t Type) String() string {
	switch t {
	case Join:
		return "join"
	case AckJoin:
		return "ack-join"
	case SubscribePath:
		return "subscribe-path"
	case UnsubscribePath:
		return "unsubscribe-path"
	case AckPath:
		return "ack-path"
	case ChangeNotify:
		return "change-notify"
	default:
		return fmt.Sprintf("type(%d)", int64(t))
	}
}

/*
	client                                 server
	  Join ---------------------------------> 
	       <------------------------- AckJoin
	  SubscribePath(p) ---------------------> Monitor.Attach(p)
	       <------------------------- AckPath
	       <-------------------- ChangeNotify ...
	  UnsubscribePath(p) -------------------> Monitor.Detach(p)
	       <------------------------- AckPath

	every frame is one json object followed by '\n'.
*/

const frameDelimiter = '\n'

var (
	ErrReadFrame      = errors.New("failed to read frame")
	ErrWriteFrame     = errors.New("failed to write frame")
	ErrMarshalFrame   = errors.New("failed to marshal frame")
	ErrUnmarshalFrame = errors.New("failed to unmarshal frame")
	ErrFrameType      = errors.New("unexpected frame type")
)

// Data
// General communication frame in given protocol
type Data struct {
	Sec     uint64                 `json:"sc"`
	Time    time.Time              `json:"t"`
	Type    Type                   `json:"tp"`
	Heading map[string]interface{} `json:"h,omitempty"`
	Payload json.RawMessage        `json:"p,omitempty"`
}

type JoinPayload struct {
	Username string `json:"u"`
	Password string `json:"pw"`
}

type AckJoinPayload struct {
	Ok      bool   `json:"ok"`
	Msg     string `json:"m,omitempty"`
	Session string `json:"s,omitempty"`
}

type PathPayload struct {
	Path string `json:"p"`
}

type AckPathPayload struct {
	Path  string `json:"p"`
	Ok    bool   `json:"ok"`
	Msg   string `json:"m,omitempty"`
	Count int    `json:"c"`
}

type ChangeNotifyPayload struct {
	Path    string        `json:"p"`
	Flags   event.FlagSet `json:"f"`
	Size    int64         `json:"sz,omitempty"`
	ModTime time.Time     `json:"mt,omitempty"`
}

// Event returns the notification as a FileEvent.
func (p ChangeNotifyPayload) Event() event.FileEvent {
	return event.FileEvent{Path: p.Path, Flags: p.Flags}
}

// NewData builds a frame with payload marshalled into it.
func NewData(sec uint64, t Type, payload interface{}) (*Data, error) {
	d := Data{
		Sec:  sec,
		Time: time.Now(),
		Type: t,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Join(ErrMarshalFrame, err)
		}
		d.Payload = raw
	}
	return &d, nil
}

// Decode unmarshals the payload into v after checking the frame type.
func (d *Data) Decode(t Type, v interface{}) error {
	if d.Type != t {
		return errors.Join(ErrFrameType, fmt.Errorf("expect %s but received %s", t, d.Type))
	}
	if err := json.Unmarshal(d.Payload, v); err != nil {
		return errors.Join(ErrUnmarshalFrame, err)
	}
	return nil
}

func WriteFrame(w io.Writer, d *Data) error {
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Join(ErrMarshalFrame, err)
	}
	data = append(data, frameDelimiter)

	if _, err := w.Write(data); err != nil {
		return errors.Join(ErrWriteFrame, err)
	}
	return nil
}

func ReadFrame(r *bufio.Reader) (*Data, error) {
	data, err := r.ReadBytes(frameDelimiter)
	if err != nil {
		return nil, errors.Join(ErrReadFrame, err)
	}

	d := Data{}
	if err := json.Unmarshal(data[:len(data)-1], &d); err != nil {
		return nil, errors.Join(ErrUnmarshalFrame, err)
	}
	return &d, nil
}
