// Package protocol implements the clinic-chat wire format: the inbound
// envelope carrying connect/disconnect/message frames, and the flat outbound
// message shape. The two directions are intentionally asymmetric on the wire
// and must stay byte-compatible with the existing server.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType identifies the kind of an inbound frame.
type FrameType string

const (
	FrameTypeConnect    FrameType = "connect"
	FrameTypeDisconnect FrameType = "disconnect"
	FrameTypeMessage    FrameType = "message"
)

// Decode failure kinds, matched with errors.Is.
var (
	// ErrInvalidJSON means the envelope or the frame body was not valid JSON.
	ErrInvalidJSON = errors.New("invalid json")
	// ErrUnknownType means the envelope carried an unrecognized frame type tag.
	ErrUnknownType = errors.New("unknown frame type")
	// ErrMalformedBody means a required envelope or body field was missing.
	ErrMalformedBody = errors.New("malformed frame body")
)

// DecodeError describes why an inbound frame was rejected. It is always
// recoverable: callers drop the frame and keep reading.
type DecodeError struct {
	Kind   error
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("decode frame: %v", e.Kind)
	}
	return fmt.Sprintf("decode frame: %v: %s", e.Kind, e.Detail)
}

func (e *DecodeError) Unwrap() error { return e.Kind }

// Frame is one decoded inbound protocol message. The set of implementations
// is closed: ConnectFrame, DisconnectFrame and MessageFrame.
type Frame interface {
	Type() FrameType
	isFrame()
}

// ConnectFrame announces that a peer came online.
type ConnectFrame struct {
	ID string
}

// DisconnectFrame announces that a peer went offline.
type DisconnectFrame struct {
	ID string
}

// MessageFrame carries one chat message from a peer.
type MessageFrame struct {
	Msg      string
	SenderID string
}

func (ConnectFrame) Type() FrameType    { return FrameTypeConnect }
func (DisconnectFrame) Type() FrameType { return FrameTypeDisconnect }
func (MessageFrame) Type() FrameType    { return FrameTypeMessage }

func (ConnectFrame) isFrame()    {}
func (DisconnectFrame) isFrame() {}
func (MessageFrame) isFrame()    {}

// envelope is the outer wire wrapper: a type tag plus the type-specific body
// as a JSON-encoded string.
type envelope struct {
	Type *string `json:"type"`
	Data *string `json:"data"`
}

// Decode parses a raw inbound envelope into a typed Frame. Decoding is
// two-phase: the envelope is parsed and its tag validated first, then the
// body is parsed and checked for the fields that tag requires. Decode has no
// side effects.
func Decode(raw string) (Frame, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, &DecodeError{Kind: ErrInvalidJSON, Detail: err.Error()}
	}
	if env.Type == nil {
		return nil, &DecodeError{Kind: ErrUnknownType, Detail: "envelope missing type"}
	}
	if env.Data == nil {
		return nil, &DecodeError{Kind: ErrMalformedBody, Detail: "envelope missing data"}
	}

	switch FrameType(*env.Type) {
	case FrameTypeConnect:
		body, err := decodeIDBody(*env.Data)
		if err != nil {
			return nil, err
		}
		return ConnectFrame{ID: body}, nil
	case FrameTypeDisconnect:
		body, err := decodeIDBody(*env.Data)
		if err != nil {
			return nil, err
		}
		return DisconnectFrame{ID: body}, nil
	case FrameTypeMessage:
		var body struct {
			Msg      *string `json:"msg"`
			SenderID *string `json:"sender_id"`
		}
		if err := json.Unmarshal([]byte(*env.Data), &body); err != nil {
			return nil, &DecodeError{Kind: ErrInvalidJSON, Detail: err.Error()}
		}
		if body.Msg == nil || body.SenderID == nil {
			return nil, &DecodeError{Kind: ErrMalformedBody, Detail: "message body requires msg and sender_id"}
		}
		return MessageFrame{Msg: *body.Msg, SenderID: *body.SenderID}, nil
	default:
		return nil, &DecodeError{Kind: ErrUnknownType, Detail: *env.Type}
	}
}

func decodeIDBody(data string) (string, error) {
	var body struct {
		ID *string `json:"id"`
	}
	if err := json.Unmarshal([]byte(data), &body); err != nil {
		return "", &DecodeError{Kind: ErrInvalidJSON, Detail: err.Error()}
	}
	if body.ID == nil {
		return "", &DecodeError{Kind: ErrMalformedBody, Detail: "body requires id"}
	}
	return *body.ID, nil
}

// Outbound is the single frame shape the client produces: a flat JSON object
// sent directly over the transport, without the inbound envelope wrapper.
type Outbound struct {
	Msg    string `json:"msg"`
	RecvID string `json:"recvid"`
}

// Encode serializes the outbound message for the transport.
func (o Outbound) Encode() (string, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("encode outbound message: %w", err)
	}
	return string(data), nil
}
