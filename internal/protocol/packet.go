package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danmuck/relaychat/internal/chat"
)

// PacketTimeout is how long any emitted packet stays deliverable.
const PacketTimeout = 120 * time.Second

const (
	tagToHub   = "to_hub"
	tagToSpoke = "to_spoke"
)

// Kind is the closed set of packet variants.
type Kind int

const (
	KindToHub Kind = iota + 1
	KindToSpoke
)

func (k Kind) String() string {
	switch k {
	case KindToHub:
		return tagToHub
	case KindToSpoke:
		return tagToSpoke
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Packet is a decoded relay payload. LocalID is only set on ToHub and
// carries the sender's log index for observability.
type Packet struct {
	Kind    Kind
	Message chat.ChatMessage
	LocalID uint64
}

type toHubBody struct {
	Message *chat.ChatMessage `json:"message"`
	LocalID uint64            `json:"local_id,omitempty"`
}

type toSpokeBody struct {
	Message *chat.ChatMessage `json:"message"`
}

type packetEnvelope struct {
	ToHub   *toHubBody   `json:"to_hub,omitempty"`
	ToSpoke *toSpokeBody `json:"to_spoke,omitempty"`
}

func EncodeToHub(msg chat.ChatMessage, localID uint64) ([]byte, error) {
	return encodePacket(packetEnvelope{ToHub: &toHubBody{Message: &msg, LocalID: localID}})
}

func EncodeToSpoke(msg chat.ChatMessage) ([]byte, error) {
	return encodePacket(packetEnvelope{ToSpoke: &toSpokeBody{Message: &msg}})
}

// Encode writes p in its wire form.
func Encode(p Packet) ([]byte, error) {
	switch p.Kind {
	case KindToHub:
		return EncodeToHub(p.Message, p.LocalID)
	case KindToSpoke:
		return EncodeToSpoke(p.Message)
	default:
		return nil, fmt.Errorf("%w: cannot encode %s", ErrUnsupportedMessageType, p.Kind)
	}
}

func encodePacket(env packetEnvelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return payload, nil
}

// DecodePacket parses a wire payload. Every failure wraps ErrProtocolViolation.
func DecodePacket(data []byte) (Packet, error) {
	var tags map[string]json.RawMessage
	if err := json.Unmarshal(data, &tags); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if len(tags) != 1 {
		return Packet{}, fmt.Errorf("%w: expected exactly one tag, got %d", ErrProtocolViolation, len(tags))
	}
	for tag, raw := range tags {
		switch tag {
		case tagToHub:
			var body toHubBody
			if err := decodeBody(raw, &body); err != nil {
				return Packet{}, err
			}
			if body.Message == nil {
				return Packet{}, fmt.Errorf("%w: %s missing message", ErrProtocolViolation, tag)
			}
			return Packet{Kind: KindToHub, Message: *body.Message, LocalID: body.LocalID}, nil
		case tagToSpoke:
			var body toSpokeBody
			if err := decodeBody(raw, &body); err != nil {
				return Packet{}, err
			}
			if body.Message == nil {
				return Packet{}, fmt.Errorf("%w: %s missing message", ErrProtocolViolation, tag)
			}
			return Packet{Kind: KindToSpoke, Message: *body.Message}, nil
		default:
			return Packet{}, fmt.Errorf("%w: unknown tag %q", ErrProtocolViolation, tag)
		}
	}
	return Packet{}, fmt.Errorf("%w: empty payload", ErrProtocolViolation)
}

func decodeBody(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return nil
}
