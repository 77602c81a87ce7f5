package contract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/transport"
)

const (
	EventChannelConnect = "ibc-channel-connect"
	EventChannelClose   = "ibc-channel-close"
	EventChatMessage    = "chat-message"
)

var ErrEventMismatch = errors.New("contract: unexpected event")

func ChannelConnectEvent(channel transport.Channel) transport.Event {
	return withChannel(transport.NewEvent(EventChannelConnect), channel)
}

func ChannelCloseEvent(channel transport.Channel) transport.Event {
	return withChannel(transport.NewEvent(EventChannelClose), channel)
}

func withChannel(event transport.Event, channel transport.Channel) transport.Event {
	return event.
		With("endpoint-id", channel.Endpoint.ChannelID).
		With("endpoint-port-id", channel.Endpoint.PortID).
		With("counterparty-endpoint-id", channel.CounterpartyEndpoint.ChannelID).
		With("counterparty-endpoint-port-id", channel.CounterpartyEndpoint.PortID).
		With("order", channel.Order.String()).
		With("version", channel.Version).
		With("connection-id", channel.ConnectionID)
}

// ChatMessageEvent records a message with the index it has on the emitting
// instance (the sender's index when emitted by the hub).
func ChatMessageEvent(message chat.LoggedMessage) transport.Event {
	return transport.NewEvent(EventChatMessage).
		With("index", strconv.FormatUint(message.LocalID, 10)).
		With("user", message.Msg.Author).
		With("network-id", message.Msg.Origin.String()).
		With("message", message.Msg.Text)
}

// ParseChatMessageEvent reverses ChatMessageEvent. Suffixed types such as
// "chat-message-2" are accepted.
func ParseChatMessageEvent(event transport.Event) (chat.LoggedMessage, error) {
	if event.Type != EventChatMessage && !strings.HasPrefix(event.Type, EventChatMessage+"-") {
		return chat.LoggedMessage{}, fmt.Errorf("%w: type %q, want %q", ErrEventMismatch, event.Type, EventChatMessage)
	}
	attr := func(key string) (string, error) {
		v, ok := event.Attr(key)
		if !ok {
			return "", fmt.Errorf("%w: missing attribute %q", ErrEventMismatch, key)
		}
		return v, nil
	}
	rawIndex, err := attr("index")
	if err != nil {
		return chat.LoggedMessage{}, err
	}
	index, err := strconv.ParseUint(rawIndex, 10, 64)
	if err != nil {
		return chat.LoggedMessage{}, fmt.Errorf("%w: index %q", ErrEventMismatch, rawIndex)
	}
	user, err := attr("user")
	if err != nil {
		return chat.LoggedMessage{}, err
	}
	rawNetwork, err := attr("network-id")
	if err != nil {
		return chat.LoggedMessage{}, err
	}
	network, err := chat.ParseNetworkID(rawNetwork)
	if err != nil {
		return chat.LoggedMessage{}, err
	}
	text, err := attr("message")
	if err != nil {
		return chat.LoggedMessage{}, err
	}
	return chat.LoggedMessage{
		Msg:     chat.ChatMessage{Author: user, Origin: network, Text: text},
		LocalID: index,
	}, nil
}
