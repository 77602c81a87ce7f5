package spoke

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/store"
)

const bucketChatMessages = "chat_messages"

// MessageLog is the append-only, locally indexed message store.
type MessageLog struct {
	store store.Store
}

func NewMessageLog(st store.Store) *MessageLog {
	return &MessageLog{store: st}
}

// LastID returns the highest local id, or 0 for an empty log.
func (l *MessageLog) LastID(ctx context.Context) (uint64, error) {
	entries, err := l.store.Range(ctx, bucketChatMessages, store.RangeOptions{Descending: true, Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return store.ParseSequenceKey(entries[0].Key)
}

// Append stores msg under the next local id.
func (l *MessageLog) Append(ctx context.Context, msg chat.ChatMessage) (chat.LoggedMessage, error) {
	last, err := l.LastID(ctx)
	if err != nil {
		return chat.LoggedMessage{}, err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return chat.LoggedMessage{}, err
	}
	next := last + 1
	if err := l.store.Put(ctx, bucketChatMessages, store.SequenceKey(next), raw); err != nil {
		return chat.LoggedMessage{}, err
	}
	return chat.LoggedMessage{Msg: msg, LocalID: next}, nil
}

// List returns every entry with local id greater than after (0 means all)
// in the requested order.
func (l *MessageLog) List(ctx context.Context, after uint64, order chat.Order) ([]chat.LoggedMessage, error) {
	opts := store.RangeOptions{Descending: order == chat.Descending}
	if after > 0 {
		opts.After = store.SequenceKey(after)
	}
	entries, err := l.store.Range(ctx, bucketChatMessages, opts)
	if err != nil {
		return nil, err
	}
	out := make([]chat.LoggedMessage, 0, len(entries))
	for _, entry := range entries {
		id, err := store.ParseSequenceKey(entry.Key)
		if err != nil {
			return nil, err
		}
		var msg chat.ChatMessage
		if err := json.Unmarshal(entry.Value, &msg); err != nil {
			return nil, fmt.Errorf("spoke: decode message %d: %w", id, err)
		}
		out = append(out, chat.LoggedMessage{Msg: msg, LocalID: id})
	}
	return out, nil
}
