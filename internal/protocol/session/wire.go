package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/danmuck/relaychat/internal/transport"
)

var (
	ErrInvalidMessage    = errors.New("session: invalid link message")
	ErrUnexpectedMessage = errors.New("session: unexpected link message")
	ErrRemote            = errors.New("session: remote error")
)

// OpenInit starts a handshake. Channel is the initiator's view with the
// counterparty channel id still empty.
type OpenInit struct {
	NodeID  string            `json:"node_id"`
	Network chat.NetworkID    `json:"network"`
	Channel transport.Channel `json:"channel"`
}

func (m OpenInit) Validate() error {
	if strings.TrimSpace(m.NodeID) == "" {
		return fmt.Errorf("%w: open_init missing node_id", ErrInvalidMessage)
	}
	if !m.Network.Valid() {
		return fmt.Errorf("%w: open_init invalid network", ErrInvalidMessage)
	}
	if m.Channel.Endpoint.PortID == "" || m.Channel.Endpoint.ChannelID == "" {
		return fmt.Errorf("%w: open_init missing endpoint", ErrInvalidMessage)
	}
	if m.Channel.ConnectionID == "" {
		return fmt.Errorf("%w: open_init missing connection_id", ErrInvalidMessage)
	}
	return nil
}

// OpenTry answers OpenInit with the responder's view of the channel.
type OpenTry struct {
	NodeID  string            `json:"node_id"`
	Channel transport.Channel `json:"channel"`
}

func (m OpenTry) Validate() error {
	if m.Channel.Endpoint.PortID == "" || m.Channel.Endpoint.ChannelID == "" {
		return fmt.Errorf("%w: open_try missing endpoint", ErrInvalidMessage)
	}
	return nil
}

// OpenAck tells the responder the initiator has connected.
type OpenAck struct {
	ChannelID string `json:"channel_id"`
	Version   string `json:"version"`
}

func (m OpenAck) Validate() error {
	if m.ChannelID == "" {
		return fmt.Errorf("%w: open_ack missing channel_id", ErrInvalidMessage)
	}
	return nil
}

// OpenConfirm completes the handshake on the responder.
type OpenConfirm struct {
	ChannelID string `json:"channel_id"`
}

type PacketMessage struct {
	Packet transport.Packet `json:"packet"`
}

func (m PacketMessage) Validate() error {
	if m.Packet.Sequence == 0 {
		return fmt.Errorf("%w: packet missing sequence", ErrInvalidMessage)
	}
	return nil
}

// AckMessage carries the receiver's acknowledgement for Sequence.
type AckMessage struct {
	Sequence uint64          `json:"sequence"`
	Ack      json.RawMessage `json:"ack"`
}

func (m AckMessage) Validate() error {
	if m.Sequence == 0 {
		return fmt.Errorf("%w: ack missing sequence", ErrInvalidMessage)
	}
	if len(m.Ack) == 0 {
		return fmt.Errorf("%w: ack missing body", ErrInvalidMessage)
	}
	return nil
}

type CloseMessage struct {
	ChannelID string `json:"channel_id"`
}

// ErrorMessage reports a failed step. Class is a protocol.ErrorClass label
// or a link-level label such as "auth".
type ErrorMessage struct {
	Class   string `json:"class"`
	Message string `json:"message"`
}

func (m ErrorMessage) Error() string {
	return fmt.Sprintf("%s: %s", m.Class, m.Message)
}

type validator interface {
	Validate() error
}

// Encode marshals v into a frame of messageType.
func Encode(messageType frame.MessageType, messageID uint64, v any) (frame.Frame, error) {
	if val, ok := v.(validator); ok {
		if err := val.Validate(); err != nil {
			return frame.Frame{}, err
		}
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return frame.New(messageType, messageID, payload), nil
}

// EncodeResponse is Encode with the response flag set.
func EncodeResponse(messageType frame.MessageType, messageID uint64, v any) (frame.Frame, error) {
	f, err := Encode(messageType, messageID, v)
	if err != nil {
		return frame.Frame{}, err
	}
	f.Header.Flags |= frame.FlagIsResponse
	return f, nil
}

// EncodeError builds the error response for request messageID.
func EncodeError(messageID uint64, class string, cause error) frame.Frame {
	msg := ErrorMessage{Class: class, Message: "unknown error"}
	if cause != nil {
		msg.Message = cause.Error()
	}
	payload, _ := json.Marshal(msg)
	f := frame.New(frame.TypeError, messageID, payload)
	f.Header.Flags |= frame.FlagIsResponse | frame.FlagIsError
	return f
}

// Decode checks f carries want and unmarshals its payload into v. An error
// frame decodes into an error wrapping ErrRemote.
func Decode(f frame.Frame, want frame.MessageType, v any) error {
	if f.Header.MessageType == frame.TypeError {
		return DecodeError(f)
	}
	if f.Header.MessageType != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedMessage, want, f.Header.MessageType)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidMessage, want, err)
	}
	if val, ok := v.(validator); ok {
		return val.Validate()
	}
	return nil
}

func DecodeError(f frame.Frame) error {
	var msg ErrorMessage
	if err := json.Unmarshal(f.Payload, &msg); err != nil {
		return fmt.Errorf("%w: undecodable error frame", ErrRemote)
	}
	return fmt.Errorf("%w: %w", ErrRemote, msg)
}

// WriteMessage encodes v and writes it as one frame.
func WriteMessage(w io.Writer, messageType frame.MessageType, messageID uint64, v any) error {
	f, err := Encode(messageType, messageID, v)
	if err != nil {
		return err
	}
	return frame.WriteFrame(w, f, frame.DefaultLimits())
}

// ReadMessage reads one frame and decodes it as want.
func ReadMessage(r io.Reader, want frame.MessageType, v any) (frame.Frame, error) {
	f, err := frame.ReadFrame(r, frame.DefaultLimits())
	if err != nil {
		return frame.Frame{}, err
	}
	return f, Decode(f, want, v)
}
