package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/store"
	"github.com/danmuck/relaychat/internal/transport"
)

const bucketClients = "clients"

// ChannelKey derives the registry key from the channel's remote endpoint.
func ChannelKey(channel transport.Channel) string {
	return channel.CounterpartyEndpoint.Key()
}

// Registry stores one open channel per connected spoke.
type Registry struct {
	store store.Store
}

func NewRegistry(st store.Store) *Registry {
	return &Registry{store: st}
}

// Has reports whether key is occupied.
func (r *Registry) Has(ctx context.Context, key string) (bool, error) {
	_, err := r.store.Get(ctx, bucketClients, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Insert adds channel. An occupied key fails with protocol.ErrDuplicateChannel.
func (r *Registry) Insert(ctx context.Context, channel transport.Channel) error {
	key := ChannelKey(channel)
	exists, err := r.Has(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", protocol.ErrDuplicateChannel, key)
	}
	raw, err := json.Marshal(channel)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, bucketClients, key, raw)
}

// Remove deletes the entry for channel. Absent entries are not an error.
func (r *Registry) Remove(ctx context.Context, channel transport.Channel) error {
	return r.store.Delete(ctx, bucketClients, ChannelKey(channel))
}

// List returns every open channel ordered by key.
func (r *Registry) List(ctx context.Context) ([]transport.Channel, error) {
	entries, err := r.store.Range(ctx, bucketClients, store.RangeOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]transport.Channel, 0, len(entries))
	for _, entry := range entries {
		var channel transport.Channel
		if err := json.Unmarshal(entry.Value, &channel); err != nil {
			return nil, fmt.Errorf("hub: decode channel %q: %w", entry.Key, err)
		}
		out = append(out, channel)
	}
	return out, nil
}
