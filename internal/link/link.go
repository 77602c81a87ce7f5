package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/relaychat/internal/observability"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/danmuck/relaychat/internal/protocol/session"
	"github.com/danmuck/relaychat/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrLinkClosed      = errors.New("link: closed")
	ErrWrongChannel    = errors.New("link: packet addressed to another channel")
	ErrWriteQueueFull  = errors.New("link: write queue full")
	ErrNotConnected    = errors.New("link: not connected")
	ErrHandshake       = errors.New("link: handshake failed")
	ErrUnexpectedFrame = errors.New("link: unexpected frame")
)

const writeQueueSize = 256

// EventSink receives the events of every callback a link drives.
type EventSink interface {
	HandleEvents(events []transport.Event)
}

// dispatchFunc routes the outbound packets of a callback response.
type dispatchFunc func(ctx context.Context, resp transport.Response)

// Link is one established channel over one Conn.
type Link struct {
	node     string
	conn     Conn
	module   transport.Module
	channel  transport.Channel
	cfg      session.Config
	now      func() time.Time
	dispatch dispatchFunc

	outbox  *session.Outbox
	writes  chan frame.Frame
	seq     atomic.Uint64
	done    chan struct{}
	closing atomic.Bool

	teardownOnce sync.Once
}

func newLink(node string, conn Conn, module transport.Module, channel transport.Channel, cfg session.Config, now func() time.Time, dispatch dispatchFunc) *Link {
	return &Link{
		node:     node,
		conn:     conn,
		module:   module,
		channel:  channel,
		cfg:      cfg,
		now:      now,
		dispatch: dispatch,
		outbox:   session.NewOutbox(),
		writes:   make(chan frame.Frame, writeQueueSize),
		done:     make(chan struct{}),
	}
}

// Channel returns the local view of the channel.
func (l *Link) Channel() transport.Channel {
	return l.channel
}

func (l *Link) RemoteAddr() string {
	return l.conn.RemoteAddr()
}

// Pending returns the number of sent packets awaiting an ack.
func (l *Link) Pending() int {
	return l.outbox.Len()
}

// Done is closed once the link has torn down.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Send queues one outbound packet. The packet is tracked for timeout even
// when it cannot be queued, so the module always hears back.
func (l *Link) Send(out transport.OutboundPacket) error {
	if out.ChannelID != l.channel.Endpoint.ChannelID {
		return fmt.Errorf("%w: %s on %s", ErrWrongChannel, out.ChannelID, l.channel.Endpoint.ChannelID)
	}
	packet := transport.Packet{
		Data:      append([]byte(nil), out.Data...),
		Src:       l.channel.Endpoint,
		Dst:       l.channel.CounterpartyEndpoint,
		Sequence:  l.seq.Add(1),
		TimeoutAt: out.TimeoutAt,
	}
	l.outbox.Add(packet, l.now())
	f, err := session.Encode(frame.TypePacket, packet.Sequence, session.PacketMessage{Packet: packet})
	if err != nil {
		return err
	}
	if err := l.enqueue(f); err != nil {
		return err
	}
	observability.RecordPacket(l.node, "sent", "queued")
	return nil
}

// Close asks the peer to close the channel and then drops the connection.
func (l *Link) Close() error {
	if !l.closing.CompareAndSwap(false, true) {
		return nil
	}
	f, err := session.Encode(frame.TypeChanClose, 0, session.CloseMessage{ChannelID: l.channel.Endpoint.ChannelID})
	if err == nil && l.enqueue(f) == nil {
		return nil
	}
	return l.conn.Close()
}

func (l *Link) enqueue(f frame.Frame) error {
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}
	select {
	case l.writes <- f:
		return nil
	case <-l.done:
		return ErrLinkClosed
	default:
		return ErrWriteQueueFull
	}
}

// serve runs the link until the connection ends, then closes the channel
// on the local module. The returned error is nil for an orderly close.
func (l *Link) serve(ctx context.Context) error {
	linkCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.writeLoop(linkCtx)
	go l.sweepLoop(linkCtx)
	go func() {
		<-linkCtx.Done()
		_ = l.conn.Close()
	}()

	err := l.readLoop(linkCtx)
	cancel()
	l.teardown(context.WithoutCancel(ctx))
	if err != nil && (isClosedErr(err) || ctx.Err() != nil) {
		return nil
	}
	return err
}

func (l *Link) readLoop(ctx context.Context) error {
	for {
		f, err := frame.ReadFrame(l.conn, frame.DefaultLimits())
		if err != nil {
			return err
		}
		switch f.Header.MessageType {
		case frame.TypePacket:
			var msg session.PacketMessage
			if err := session.Decode(f, frame.TypePacket, &msg); err != nil {
				return err
			}
			l.handlePacket(ctx, msg.Packet)
		case frame.TypeAck:
			var msg session.AckMessage
			if err := session.Decode(f, frame.TypeAck, &msg); err != nil {
				return err
			}
			l.handleAck(ctx, msg)
		case frame.TypeChanClose:
			log.Info().Str("channel", l.channel.Endpoint.ChannelID).Msg("link.Link peer closed channel")
			return nil
		case frame.TypeError:
			log.Warn().Err(session.DecodeError(f)).Str("channel", l.channel.Endpoint.ChannelID).Msg("link.Link peer error")
		default:
			return fmt.Errorf("%w: %s", ErrUnexpectedFrame, f.Header.MessageType)
		}
	}
}

func (l *Link) handlePacket(ctx context.Context, packet transport.Packet) {
	now := l.now()
	if packet.Expired(now) {
		observability.RecordPacket(l.node, "received", "expired")
		log.Debug().Uint64("sequence", packet.Sequence).Msg("link.Link dropped expired packet")
		return
	}
	resp, err := l.module.PacketReceive(ctx, transport.Env{Time: now}, transport.PacketReceiveMsg{Packet: packet})
	observability.RecordCallback(l.node, "packet_receive", err)
	ack := protocol.AckSuccess()
	if err != nil {
		ack = protocol.AckError(err)
		observability.RecordPacket(l.node, "received", "error")
		log.Warn().
			Err(err).
			Str("class", string(protocol.Classify(err))).
			Uint64("sequence", packet.Sequence).
			Msg("link.Link packet rejected")
	} else {
		observability.RecordPacket(l.node, "received", "ok")
	}

	f, encErr := session.EncodeResponse(frame.TypeAck, packet.Sequence, session.AckMessage{
		Sequence: packet.Sequence,
		Ack:      json.RawMessage(ack),
	})
	if encErr == nil {
		if qErr := l.enqueue(f); qErr != nil {
			log.Warn().Err(qErr).Uint64("sequence", packet.Sequence).Msg("link.Link ack not queued")
		}
	}
	if err == nil {
		l.dispatch(ctx, resp)
	}
}

func (l *Link) handleAck(ctx context.Context, msg session.AckMessage) {
	pending, ok := l.outbox.Resolve(msg.Sequence)
	if !ok {
		log.Debug().Uint64("sequence", msg.Sequence).Msg("link.Link late ack ignored")
		return
	}
	result := "ok"
	if ack, err := protocol.DecodeAck(msg.Ack); err != nil || !ack.Success() {
		result = "error"
	}
	observability.RecordPacket(l.node, "sent", result)
	resp, err := l.module.PacketAck(ctx, transport.Env{Time: l.now()}, transport.PacketAckMsg{
		Packet: pending.Packet,
		Ack:    []byte(msg.Ack),
	})
	observability.RecordCallback(l.node, "packet_ack", err)
	if err != nil {
		log.Warn().Err(err).Uint64("sequence", msg.Sequence).Msg("link.Link ack callback failed")
		return
	}
	l.dispatch(ctx, resp)
}

func (l *Link) timeout(ctx context.Context, pending []session.PendingPacket) {
	for _, item := range pending {
		observability.RecordPacket(l.node, "sent", "timeout")
		resp, err := l.module.PacketTimeout(ctx, transport.Env{Time: l.now()}, transport.PacketTimeoutMsg{Packet: item.Packet})
		observability.RecordCallback(l.node, "packet_timeout", err)
		if err != nil {
			log.Warn().Err(err).Uint64("sequence", item.Packet.Sequence).Msg("link.Link timeout callback failed")
			continue
		}
		l.dispatch(ctx, resp)
	}
}

func (l *Link) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-l.writes:
			_ = l.conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
			err := frame.WriteFrame(l.conn, f, frame.DefaultLimits())
			if err != nil {
				log.Warn().Err(err).Str("channel", l.channel.Endpoint.ChannelID).Msg("link.Link write failed")
				_ = l.conn.Close()
				return
			}
			if f.Header.MessageType == frame.TypeChanClose {
				_ = l.conn.Close()
				return
			}
		}
	}
}

func (l *Link) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if expired := l.outbox.Expire(l.now()); len(expired) > 0 {
				l.timeout(ctx, expired)
			}
		}
	}
}

// teardown times out everything still pending and closes the channel on
// the local module.
func (l *Link) teardown(ctx context.Context) {
	l.teardownOnce.Do(func() {
		close(l.done)
		_ = l.conn.Close()
		l.timeout(ctx, l.outbox.Drain())
		resp, err := l.module.ChannelClose(ctx, transport.Env{Time: l.now()}, transport.ChannelCloseMsg{Channel: l.channel})
		observability.RecordCallback(l.node, "channel_close", err)
		if err != nil {
			log.Warn().Err(err).Str("channel", l.channel.Endpoint.ChannelID).Msg("link.Link close callback failed")
			return
		}
		l.dispatch(ctx, resp)
		log.Info().
			Str("channel", l.channel.Endpoint.ChannelID).
			Str("remote", l.conn.RemoteAddr()).
			Msg("link.Link closed")
	})
}
