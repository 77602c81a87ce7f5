package hub

import (
	"context"
	"sync"

	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/contract"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/store"
	"github.com/danmuck/relaychat/internal/transport"
	"github.com/rs/zerolog/log"
)

// Info is the hub's general information query result.
type Info struct {
	ClientChannels []transport.Channel `json:"client_channels"`
}

// Contract is one hub instance. Callbacks are serialized.
type Contract struct {
	mu       sync.Mutex
	info     contract.Info
	registry *Registry
}

var _ transport.Module = (*Contract)(nil)

// New instantiates (or reopens) a hub on st.
func New(ctx context.Context, st store.Store) (*Contract, error) {
	info, err := contract.Instantiate(ctx, st, contract.KindHub)
	if err != nil {
		return nil, err
	}
	return &Contract{info: info, registry: NewRegistry(st)}, nil
}

func (c *Contract) ContractInfo() contract.Info {
	return c.info
}

func (c *Contract) ChannelOpen(_ context.Context, _ transport.Env, msg transport.ChannelOpenMsg) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.ValidateHandshake(msg.Channel, msg.CounterpartyVersion)
}

func (c *Contract) ChannelConnect(ctx context.Context, _ transport.Env, msg transport.ChannelConnectMsg) (transport.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := protocol.ValidateHandshake(msg.Channel, msg.CounterpartyVersion); err != nil {
		return transport.Response{}, err
	}
	if err := c.registry.Insert(ctx, msg.Channel); err != nil {
		log.Warn().Err(err).Str("key", ChannelKey(msg.Channel)).Msg("hub.Contract.ChannelConnect rejected")
		return transport.Response{}, err
	}
	log.Info().
		Str("key", ChannelKey(msg.Channel)).
		Str("channel", msg.Channel.Endpoint.ChannelID).
		Msg("hub.Contract.ChannelConnect registered")

	b := contract.NewResponseBuilder(c.info)
	b.AddEvent(contract.ChannelConnectEvent(msg.Channel))
	return b.Response(), nil
}

func (c *Contract) ChannelClose(ctx context.Context, _ transport.Env, msg transport.ChannelCloseMsg) (transport.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.registry.Remove(ctx, msg.Channel); err != nil {
		return transport.Response{}, err
	}
	log.Info().Str("key", ChannelKey(msg.Channel)).Msg("hub.Contract.ChannelClose removed")

	b := contract.NewResponseBuilder(c.info)
	b.AddEvent(contract.ChannelCloseEvent(msg.Channel))
	return b.Response(), nil
}

func (c *Contract) PacketReceive(ctx context.Context, env transport.Env, msg transport.PacketReceiveMsg) (transport.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pkt, err := protocol.DecodePacket(msg.Packet.Data)
	if err != nil {
		return transport.Response{}, err
	}
	if pkt.Kind != protocol.KindToHub {
		return transport.Response{}, protocol.ErrUnsupportedMessageType
	}

	channels, err := c.registry.List(ctx)
	if err != nil {
		return transport.Response{}, err
	}
	packets, err := Route(channels, msg.Packet.Src, pkt.Message, env.Time)
	if err != nil {
		return transport.Response{}, err
	}
	log.Debug().
		Str("src", msg.Packet.Src.Key()).
		Int("fanout", len(packets)).
		Msg("hub.Contract.PacketReceive relaying")

	b := contract.NewResponseBuilder(c.info)
	b.AddEvent(contract.ChatMessageEvent(chat.LoggedMessage{Msg: pkt.Message, LocalID: pkt.LocalID}))
	for _, packet := range packets {
		b.AddPacket(packet)
	}
	return b.Response(), nil
}

// PacketAck is a no-op: the hub keeps no record of in-flight packets.
func (c *Contract) PacketAck(_ context.Context, _ transport.Env, _ transport.PacketAckMsg) (transport.Response, error) {
	return transport.Response{}, nil
}

// PacketTimeout is a no-op: lost packets are not retried.
func (c *Contract) PacketTimeout(_ context.Context, _ transport.Env, _ transport.PacketTimeoutMsg) (transport.Response, error) {
	return transport.Response{}, nil
}

// Channels returns every registered channel ordered by key.
func (c *Contract) Channels(ctx context.Context) ([]transport.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.List(ctx)
}

func (c *Contract) Info(ctx context.Context) (Info, error) {
	channels, err := c.Channels(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{ClientChannels: channels}, nil
}

// OpenChannels lets a link server close channels persisted by an earlier run.
func (c *Contract) OpenChannels(ctx context.Context) ([]transport.Channel, error) {
	return c.Channels(ctx)
}
