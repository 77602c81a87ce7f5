package transport

import "time"

// Packet is one delivered payload. Src is the sender's endpoint.
type Packet struct {
	Data      []byte    `json:"data"`
	Src       Endpoint  `json:"src"`
	Dst       Endpoint  `json:"dst"`
	Sequence  uint64    `json:"sequence"`
	TimeoutAt time.Time `json:"timeout_at"`
}

// Expired reports whether the packet can no longer be delivered at now.
func (p Packet) Expired(now time.Time) bool {
	return !p.TimeoutAt.IsZero() && !now.Before(p.TimeoutAt)
}

// OutboundPacket is a packet a callback asks the transport to send on the
// local channel ChannelID.
type OutboundPacket struct {
	ChannelID string
	Data      []byte
	TimeoutAt time.Time
}

// Env is the per-callback execution context supplied by the transport.
type Env struct {
	Time time.Time
}
