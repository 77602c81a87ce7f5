package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidAck = errors.New("protocol: invalid acknowledgement")

// Ack is the acknowledgement a receiver writes back for one packet.
// Exactly one of Result or Error is set.
type Ack struct {
	Result []byte `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (a Ack) Success() bool {
	return a.Error == ""
}

// AckSuccess is the acknowledgement for a processed packet.
func AckSuccess() []byte {
	raw, _ := json.Marshal(Ack{Result: []byte{0x01}})
	return raw
}

// AckError is the acknowledgement for a packet whose processing failed.
func AckError(err error) []byte {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	raw, _ := json.Marshal(Ack{Error: msg})
	return raw
}

func DecodeAck(raw []byte) (Ack, error) {
	var ack Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return Ack{}, fmt.Errorf("%w: %v", ErrInvalidAck, err)
	}
	if len(ack.Result) == 0 && ack.Error == "" {
		return Ack{}, fmt.Errorf("%w: neither result nor error set", ErrInvalidAck)
	}
	return ack, nil
}
