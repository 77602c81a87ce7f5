package link

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/observability"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/danmuck/relaychat/internal/protocol/session"
	"github.com/danmuck/relaychat/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired = errors.New("link: hub address required")
	ErrNodeIDRequired  = errors.New("link: node id required")
)

// ClientConfig configures the dialing side of a link, normally a spoke.
type ClientConfig struct {
	NodeID             string
	PortID             string
	Network            chat.NetworkID
	Address            string
	Token              string
	Session            session.Config
	MaxConnectAttempts int
}

// Client keeps one channel to the hub open, reconnecting when it drops.
type Client struct {
	cfg    ClientConfig
	module transport.Module
	opts   options
	rng    *rand.Rand

	mu          sync.Mutex
	link        *Link
	nextChannel uint64
}

func NewClient(cfg ClientConfig, module transport.Module, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, ErrNodeIDRequired
	}
	if !cfg.Network.Valid() {
		return nil, fmt.Errorf("%w: %d", chat.ErrUnknownNetwork, uint8(cfg.Network))
	}
	if strings.TrimSpace(cfg.PortID) == "" {
		cfg.PortID = "wasm." + cfg.NodeID
	}
	cfg.Session = cfg.Session.WithDefaults()
	o := buildOptions(opts)
	if o.dialer == nil {
		if strings.TrimSpace(cfg.Address) == "" {
			return nil, ErrAddressRequired
		}
		o.dialer = NetworkDialer(cfg.Session, cfg.Address)
	}
	return &Client{
		cfg:    cfg,
		module: module,
		opts:   o,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Link returns the live link, or nil while disconnected.
func (c *Client) Link() *Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

func (c *Client) Connected() bool {
	return c.Link() != nil
}

// Submit sends the packets of an action response, such as a SendMessage
// result, and forwards its events.
func (c *Client) Submit(resp transport.Response) error {
	c.opts.emit(resp.Events)
	if len(resp.Packets) == 0 {
		return nil
	}
	l := c.Link()
	if l == nil {
		return ErrNotConnected
	}
	var errs []error
	for _, out := range resp.Packets {
		if err := l.Send(out); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run connects, serves the link until it drops, and reconnects with
// backoff until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	if err := closeStale(ctx, c.cfg.NodeID, c.module, c.opts.now); err != nil {
		return err
	}
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		l, err := c.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			log.Warn().Err(err).Int("attempt", attempt).Str("addr", c.cfg.Address).Msg("link.Client.Run connect failed")
			if c.cfg.MaxConnectAttempts > 0 && attempt >= c.cfg.MaxConnectAttempts {
				return err
			}
			if err := session.SleepBackoff(ctx, c.cfg.Session.Backoff, attempt, c.rng); err != nil {
				return nil
			}
			continue
		}
		attempt = 0
		if err := c.serve(ctx, l); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("link.Client.Run link lost")
		}
	}
}

// Connect dials once and runs the handshake. The returned link is not yet
// serving; Run does that, or the caller via Serve.
func (c *Client) Connect(ctx context.Context) (*Link, error) {
	conn, err := c.opts.dialer(ctx)
	if err != nil {
		return nil, err
	}
	l, err := c.handshake(ctx, conn)
	observability.RecordHandshake(c.cfg.NodeID, err)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return l, nil
}

// Serve runs an established link until it ends.
func (c *Client) Serve(ctx context.Context, l *Link) error {
	return c.serve(ctx, l)
}

func (c *Client) serve(ctx context.Context, l *Link) error {
	c.mu.Lock()
	c.link = l
	c.mu.Unlock()
	observability.SetOpenChannels(c.cfg.NodeID, 1)
	defer func() {
		c.mu.Lock()
		if c.link == l {
			c.link = nil
		}
		c.mu.Unlock()
		observability.SetOpenChannels(c.cfg.NodeID, 0)
	}()
	return l.serve(ctx)
}

func (c *Client) handshake(ctx context.Context, conn Conn) (*Link, error) {
	_ = conn.SetDeadline(time.Now().Add(c.cfg.Session.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	c.mu.Lock()
	channelID := fmt.Sprintf("channel-%d", c.nextChannel)
	c.nextChannel++
	c.mu.Unlock()
	channel := transport.Channel{
		Endpoint:     transport.Endpoint{PortID: c.cfg.PortID, ChannelID: channelID},
		Order:        transport.OrderUnordered,
		Version:      protocol.ChannelVersion,
		ConnectionID: "connection-" + uuid.NewString(),
	}

	err := c.module.ChannelOpen(ctx, transport.Env{Time: c.opts.now()}, transport.ChannelOpenMsg{Channel: channel})
	observability.RecordCallback(c.cfg.NodeID, "channel_open", err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	f, err := session.Encode(frame.TypeChanOpenInit, 1, session.OpenInit{
		NodeID:  c.cfg.NodeID,
		Network: c.cfg.Network,
		Channel: channel,
	})
	if err != nil {
		return nil, err
	}
	f.Auth = []byte(c.cfg.Token)
	if err := frame.WriteFrame(conn, f, frame.DefaultLimits()); err != nil {
		return nil, err
	}

	var try session.OpenTry
	if _, err := session.ReadMessage(conn, frame.TypeChanOpenTry, &try); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	channel.CounterpartyEndpoint = try.Channel.Endpoint

	resp, err := c.module.ChannelConnect(ctx, transport.Env{Time: c.opts.now()}, transport.ChannelConnectMsg{
		Channel:             channel,
		CounterpartyVersion: try.Channel.Version,
	})
	observability.RecordCallback(c.cfg.NodeID, "channel_connect", err)
	if err != nil {
		_ = frame.WriteFrame(conn, session.EncodeError(2, string(protocol.Classify(err)), err), frame.DefaultLimits())
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	l := newLink(c.cfg.NodeID, conn, c.module, channel, c.cfg.Session, c.opts.now, c.dispatch)
	if err := session.WriteMessage(conn, frame.TypeChanOpenAck, 2, session.OpenAck{
		ChannelID: try.Channel.Endpoint.ChannelID,
		Version:   channel.Version,
	}); err != nil {
		l.teardown(ctx)
		return nil, err
	}
	var confirm session.OpenConfirm
	if _, err := session.ReadMessage(conn, frame.TypeChanOpenConfirm, &confirm); err != nil {
		l.teardown(ctx)
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	c.opts.emit(resp.Events)
	log.Info().
		Str("channel", channel.Endpoint.ChannelID).
		Str("counterparty", channel.CounterpartyEndpoint.Key()).
		Str("remote", conn.RemoteAddr()).
		Msg("link.Client channel open")
	return l, nil
}

func (c *Client) dispatch(_ context.Context, resp transport.Response) {
	if err := c.Submit(resp); err != nil {
		log.Warn().Err(err).Msg("link.Client dispatch failed")
	}
}
