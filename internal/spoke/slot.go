package spoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/relaychat/internal/store"
	"github.com/danmuck/relaychat/internal/transport"
)

const (
	bucketServer = "server"
	keyChannel   = "channel"
)

// Slot holds at most one channel to the hub.
type Slot struct {
	store store.Store
}

func NewSlot(st store.Store) *Slot {
	return &Slot{store: st}
}

// Load returns the current channel and whether one is set.
func (s *Slot) Load(ctx context.Context) (transport.Channel, bool, error) {
	raw, err := s.store.Get(ctx, bucketServer, keyChannel)
	if errors.Is(err, store.ErrNotFound) {
		return transport.Channel{}, false, nil
	}
	if err != nil {
		return transport.Channel{}, false, err
	}
	var channel transport.Channel
	if err := json.Unmarshal(raw, &channel); err != nil {
		return transport.Channel{}, false, fmt.Errorf("spoke: decode channel: %w", err)
	}
	return channel, true, nil
}

// Save replaces whatever the slot held.
func (s *Slot) Save(ctx context.Context, channel transport.Channel) error {
	raw, err := json.Marshal(channel)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, bucketServer, keyChannel, raw)
}

func (s *Slot) Clear(ctx context.Context) error {
	return s.store.Delete(ctx, bucketServer, keyChannel)
}
