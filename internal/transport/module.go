package transport

import "context"

// ChannelOpenMsg proposes a channel. CounterpartyVersion is empty when the
// counterparty has not announced one yet.
type ChannelOpenMsg struct {
	Channel             Channel
	CounterpartyVersion string
}

// ChannelConnectMsg confirms a channel on one side.
type ChannelConnectMsg struct {
	Channel             Channel
	CounterpartyVersion string
}

type ChannelCloseMsg struct {
	Channel Channel
}

type PacketReceiveMsg struct {
	Packet Packet
}

type PacketAckMsg struct {
	Packet Packet
	Ack    []byte
}

type PacketTimeoutMsg struct {
	Packet Packet
}

// Module is the callback surface a transport drives for one instance.
// Implementations run callbacks one at a time.
type Module interface {
	ChannelOpen(ctx context.Context, env Env, msg ChannelOpenMsg) error
	ChannelConnect(ctx context.Context, env Env, msg ChannelConnectMsg) (Response, error)
	ChannelClose(ctx context.Context, env Env, msg ChannelCloseMsg) (Response, error)
	PacketReceive(ctx context.Context, env Env, msg PacketReceiveMsg) (Response, error)
	PacketAck(ctx context.Context, env Env, msg PacketAckMsg) (Response, error)
	PacketTimeout(ctx context.Context, env Env, msg PacketTimeoutMsg) (Response, error)
}
