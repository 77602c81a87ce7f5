package session

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/relaychat/internal/transport"
)

// PendingPacket is one sent packet still waiting for its ack.
type PendingPacket struct {
	Packet transport.Packet
	SentAt time.Time
}

// Outbox tracks in-flight packets of one channel by sequence.
type Outbox struct {
	mu    sync.Mutex
	items map[uint64]PendingPacket
}

func NewOutbox() *Outbox {
	return &Outbox{items: make(map[uint64]PendingPacket)}
}

func (o *Outbox) Add(packet transport.Packet, sentAt time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[packet.Sequence] = PendingPacket{Packet: packet, SentAt: sentAt}
}

// Resolve removes and returns the packet acked under sequence. ok is false
// when the packet already timed out or was never sent.
func (o *Outbox) Resolve(sequence uint64) (PendingPacket, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[sequence]
	if ok {
		delete(o.items, sequence)
	}
	return item, ok
}

// Expire removes and returns every packet whose deadline has passed at now,
// in sequence order.
func (o *Outbox) Expire(now time.Time) []PendingPacket {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []PendingPacket
	for seq, item := range o.items {
		if item.Packet.Expired(now) {
			out = append(out, item)
			delete(o.items, seq)
		}
	}
	sortPending(out)
	return out
}

// Drain removes and returns everything still pending.
func (o *Outbox) Drain() []PendingPacket {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PendingPacket, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	o.items = make(map[uint64]PendingPacket)
	sortPending(out)
	return out
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

func sortPending(items []PendingPacket) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Packet.Sequence < items[j].Packet.Sequence
	})
}
