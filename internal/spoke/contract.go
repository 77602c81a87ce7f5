package spoke

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/contract"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/store"
	"github.com/danmuck/relaychat/internal/transport"
	"github.com/rs/zerolog/log"
)

const (
	bucketMeta   = "meta"
	keyNetworkID = "network_id"
)

var ErrNetworkMismatch = errors.New("spoke: stored network id mismatch")

// Info is the spoke's general information query result.
type Info struct {
	ServerChannel *transport.Channel `json:"server_channel"`
	NetworkID     chat.NetworkID     `json:"network_id"`
}

// Contract is one spoke instance. Callbacks and actions are serialized.
type Contract struct {
	mu      sync.Mutex
	info    contract.Info
	network chat.NetworkID
	slot    *Slot
	log     *MessageLog
}

var _ transport.Module = (*Contract)(nil)

// New instantiates (or reopens) a spoke for network on st. A store that was
// instantiated for another network is rejected.
func New(ctx context.Context, st store.Store, network chat.NetworkID) (*Contract, error) {
	if !network.Valid() {
		return nil, fmt.Errorf("%w: %d", chat.ErrUnknownNetwork, uint8(network))
	}
	info, err := contract.Instantiate(ctx, st, contract.KindSpoke)
	if err != nil {
		return nil, err
	}
	raw, err := st.Get(ctx, bucketMeta, keyNetworkID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := st.Put(ctx, bucketMeta, keyNetworkID, []byte(network.String())); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		stored, err := chat.ParseNetworkID(string(raw))
		if err != nil {
			return nil, err
		}
		if stored != network {
			return nil, fmt.Errorf("%w: stored %s, want %s", ErrNetworkMismatch, stored, network)
		}
	}
	return &Contract{
		info:    info,
		network: network,
		slot:    NewSlot(st),
		log:     NewMessageLog(st),
	}, nil
}

func (c *Contract) ContractInfo() contract.Info {
	return c.info
}

func (c *Contract) NetworkID() chat.NetworkID {
	return c.network
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
	previous, ok, err := c.slot.Load(ctx)
	if err != nil {
		return transport.Response{}, err
	}
	if err := c.slot.Save(ctx, msg.Channel); err != nil {
		return transport.Response{}, err
	}
	if ok && previous != msg.Channel {
		log.Warn().
			Str("previous", previous.Endpoint.ChannelID).
			Str("channel", msg.Channel.Endpoint.ChannelID).
			Msg("spoke.Contract.ChannelConnect replaced channel without close")
	} else {
		log.Info().Str("channel", msg.Channel.Endpoint.ChannelID).Msg("spoke.Contract.ChannelConnect stored")
	}

	b := contract.NewResponseBuilder(c.info)
	b.AddEvent(contract.ChannelConnectEvent(msg.Channel))
	return b.Response(), nil
}

func (c *Contract) ChannelClose(ctx context.Context, _ transport.Env, msg transport.ChannelCloseMsg) (transport.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.slot.Clear(ctx); err != nil {
		return transport.Response{}, err
	}
	log.Info().Str("channel", msg.Channel.Endpoint.ChannelID).Msg("spoke.Contract.ChannelClose cleared")

	b := contract.NewResponseBuilder(c.info)
	b.AddEvent(contract.ChannelCloseEvent(msg.Channel))
	return b.Response(), nil
}

func (c *Contract) PacketReceive(ctx context.Context, _ transport.Env, msg transport.PacketReceiveMsg) (transport.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pkt, err := protocol.DecodePacket(msg.Packet.Data)
	if err != nil {
		return transport.Response{}, err
	}
	if pkt.Kind != protocol.KindToSpoke {
		return transport.Response{}, protocol.ErrUnsupportedMessageType
	}
	logged, err := c.log.Append(ctx, pkt.Message)
	if err != nil {
		return transport.Response{}, err
	}
	log.Debug().Uint64("local_id", logged.LocalID).Str("author", logged.Msg.Author).Msg("spoke.Contract.PacketReceive logged")

	b := contract.NewResponseBuilder(c.info)
	b.AddEvent(contract.ChatMessageEvent(logged))
	return b.Response(), nil
}

// PacketAck is a no-op: the spoke keeps no record of in-flight packets.
func (c *Contract) PacketAck(_ context.Context, _ transport.Env, _ transport.PacketAckMsg) (transport.Response, error) {
	return transport.Response{}, nil
}

// PacketTimeout is a no-op: the local log entry stays even if the hub
// never saw the packet.
func (c *Contract) PacketTimeout(_ context.Context, _ transport.Env, _ transport.PacketTimeoutMsg) (transport.Response, error) {
	return transport.Response{}, nil
}

// SendMessage appends a locally authored message and returns the ToHub
// packet for the transport. Without a hub channel nothing is written and
// protocol.ErrNoChannel is returned.
func (c *Contract) SendMessage(ctx context.Context, env transport.Env, author, text string) (chat.LoggedMessage, transport.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	channel, ok, err := c.slot.Load(ctx)
	if err != nil {
		return chat.LoggedMessage{}, transport.Response{}, err
	}
	if !ok {
		return chat.LoggedMessage{}, transport.Response{}, protocol.ErrNoChannel
	}

	msg := chat.ChatMessage{Author: author, Origin: c.network, Text: text}
	logged, err := c.log.Append(ctx, msg)
	if err != nil {
		return chat.LoggedMessage{}, transport.Response{}, err
	}
	data, err := protocol.EncodeToHub(msg, logged.LocalID)
	if err != nil {
		return chat.LoggedMessage{}, transport.Response{}, err
	}

	b := contract.NewResponseBuilder(c.info)
	b.AddEvent(contract.ChatMessageEvent(logged))
	b.AddPacket(transport.OutboundPacket{
		ChannelID: channel.Endpoint.ChannelID,
		Data:      data,
		TimeoutAt: env.Time.Add(protocol.PacketTimeout),
	})
	return logged, b.Response(), nil
}

// Channel returns the current hub channel, if any.
func (c *Contract) Channel(ctx context.Context) (transport.Channel, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot.Load(ctx)
}

// Messages pages the log. after is exclusive; 0 starts from the beginning.
func (c *Contract) Messages(ctx context.Context, after uint64, order chat.Order) ([]chat.LoggedMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.List(ctx, after, order)
}

func (c *Contract) Info(ctx context.Context) (Info, error) {
	channel, ok, err := c.Channel(ctx)
	if err != nil {
		return Info{}, err
	}
	info := Info{NetworkID: c.network}
	if ok {
		info.ServerChannel = &channel
	}
	return info, nil
}

func (c *Contract) OpenChannels(ctx context.Context) ([]transport.Channel, error) {
	channel, ok, err := c.Channel(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return []transport.Channel{channel}, nil
}
