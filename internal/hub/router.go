package hub

import (
	"time"

	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/transport"
)

// Route builds one ToSpoke packet per channel whose remote endpoint is not
// src. Every packet expires at now + protocol.PacketTimeout.
func Route(channels []transport.Channel, src transport.Endpoint, msg chat.ChatMessage, now time.Time) ([]transport.OutboundPacket, error) {
	data, err := protocol.EncodeToSpoke(msg)
	if err != nil {
		return nil, err
	}
	timeoutAt := now.Add(protocol.PacketTimeout)
	out := make([]transport.OutboundPacket, 0, len(channels))
	for _, channel := range channels {
		if channel.CounterpartyEndpoint == src {
			continue
		}
		out = append(out, transport.OutboundPacket{
			ChannelID: channel.Endpoint.ChannelID,
			Data:      data,
			TimeoutAt: timeoutAt,
		})
	}
	return out, nil
}
