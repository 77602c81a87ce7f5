package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownChain    = errors.New("relay: unknown chain")
	ErrDuplicateChain  = errors.New("relay: chain already registered")
	ErrUnknownChannel  = errors.New("relay: unknown channel")
	ErrChannelClosed   = errors.New("relay: channel closed")
	ErrHandshakeFailed = errors.New("relay: handshake failed")
	ErrFlushLimit      = errors.New("relay: flush step limit reached")
)

// DefaultFlushLimit bounds how many packets one Flush may process.
const DefaultFlushLimit = 10000

// RecordedEvent is an event emitted by the module on ChainID.
type RecordedEvent struct {
	ChainID string
	Event   transport.Event
}

type chain struct {
	id          string
	portID      string
	module      transport.Module
	nextChannel int
}

type channelKey struct {
	chain   string
	channel string
}

type channelState struct {
	channel   transport.Channel
	peerChain string
	open      bool
	nextSeq   uint64
}

type queued struct {
	srcChain string
	dstChain string
	packet   transport.Packet
}

// Relayer owns a set of chains and the channels between them.
type Relayer struct {
	mu             sync.Mutex
	now            time.Time
	chains         map[string]*chain
	channels       map[channelKey]*channelState
	queue          []queued
	events         []RecordedEvent
	nextConnection int
	flushLimit     int
}

func New(start time.Time) *Relayer {
	return &Relayer{
		now:        start,
		chains:     make(map[string]*chain),
		channels:   make(map[channelKey]*channelState),
		flushLimit: DefaultFlushLimit,
	}
}

// AddChain registers module under id, bound to portID.
func (r *Relayer) AddChain(id, portID string, module transport.Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" || portID == "" || module == nil {
		return fmt.Errorf("relay: chain id, port and module are required")
	}
	if _, ok := r.chains[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateChain, id)
	}
	r.chains[id] = &chain{id: id, portID: portID, module: module}
	return nil
}

func (r *Relayer) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now
}

// Env returns the callback environment at the relayer's current time.
func (r *Relayer) Env() transport.Env {
	return transport.Env{Time: r.Now()}
}

// AdvanceTime moves the clock forward. Expiry is only acted on by Flush.
func (r *Relayer) AdvanceTime(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = r.now.Add(d)
}

// Pending returns the number of queued packets.
func (r *Relayer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Events returns every event recorded so far.
func (r *Relayer) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedEvent(nil), r.events...)
}

// Channels returns the open channels of chainID as seen by that chain.
func (r *Relayer) Channels(chainID string) []transport.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []transport.Channel
	for key, state := range r.channels {
		if key.chain == chainID && state.open {
			out = append(out, state.channel)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Endpoint.ChannelID < out[j].Endpoint.ChannelID
	})
	return out
}

// ChannelRequest describes one handshake. Init starts it and Try answers.
// Empty versions default to protocol.ChannelVersion.
type ChannelRequest struct {
	Init        string
	Try         string
	Order       transport.ChannelOrder
	InitVersion string
	TryVersion  string
}

// ChannelPair is an established channel seen from both ends.
type ChannelPair struct {
	Init transport.Channel
	Try  transport.Channel
}

// OpenChannel runs init, try, ack and confirm. When a step fails no side
// keeps the channel: a failed confirm closes the init side again.
func (r *Relayer) OpenChannel(ctx context.Context, req ChannelRequest) (ChannelPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.chains[req.Init]
	if !ok {
		return ChannelPair{}, fmt.Errorf("%w: %s", ErrUnknownChain, req.Init)
	}
	b, ok := r.chains[req.Try]
	if !ok {
		return ChannelPair{}, fmt.Errorf("%w: %s", ErrUnknownChain, req.Try)
	}
	initVersion := req.InitVersion
	if initVersion == "" {
		initVersion = protocol.ChannelVersion
	}
	tryVersion := req.TryVersion
	if tryVersion == "" {
		tryVersion = protocol.ChannelVersion
	}

	connectionID := fmt.Sprintf("connection-%d", r.nextConnection)
	aEnd := transport.Endpoint{PortID: a.portID, ChannelID: fmt.Sprintf("channel-%d", a.nextChannel)}
	bEnd := transport.Endpoint{PortID: b.portID, ChannelID: fmt.Sprintf("channel-%d", b.nextChannel)}
	if a == b {
		bEnd.ChannelID = fmt.Sprintf("channel-%d", a.nextChannel+1)
	}
	aCh := transport.Channel{
		Endpoint:             aEnd,
		CounterpartyEndpoint: bEnd,
		Order:                req.Order,
		Version:              initVersion,
		ConnectionID:         connectionID,
	}
	bCh := transport.Channel{
		Endpoint:             bEnd,
		CounterpartyEndpoint: aEnd,
		Order:                req.Order,
		Version:              tryVersion,
		ConnectionID:         connectionID,
	}
	env := transport.Env{Time: r.now}

	if err := a.module.ChannelOpen(ctx, env, transport.ChannelOpenMsg{Channel: aCh}); err != nil {
		return ChannelPair{}, fmt.Errorf("%w: open init on %s: %w", ErrHandshakeFailed, a.id, err)
	}
	if err := b.module.ChannelOpen(ctx, env, transport.ChannelOpenMsg{Channel: bCh, CounterpartyVersion: initVersion}); err != nil {
		return ChannelPair{}, fmt.Errorf("%w: open try on %s: %w", ErrHandshakeFailed, b.id, err)
	}
	resp, err := a.module.ChannelConnect(ctx, env, transport.ChannelConnectMsg{Channel: aCh, CounterpartyVersion: tryVersion})
	if err != nil {
		return ChannelPair{}, fmt.Errorf("%w: open ack on %s: %w", ErrHandshakeFailed, a.id, err)
	}
	r.record(a.id, resp.Events)
	resp, err = b.module.ChannelConnect(ctx, env, transport.ChannelConnectMsg{Channel: bCh})
	if err != nil {
		if rollback, cerr := a.module.ChannelClose(ctx, env, transport.ChannelCloseMsg{Channel: aCh}); cerr != nil {
			log.Warn().Err(cerr).Str("chain", a.id).Msg("relay.Relayer.OpenChannel rollback failed")
		} else {
			r.record(a.id, rollback.Events)
		}
		return ChannelPair{}, fmt.Errorf("%w: open confirm on %s: %w", ErrHandshakeFailed, b.id, err)
	}
	r.record(b.id, resp.Events)

	if a == b {
		a.nextChannel += 2
	} else {
		a.nextChannel++
		b.nextChannel++
	}
	r.nextConnection++
	r.channels[channelKey{a.id, aEnd.ChannelID}] = &channelState{channel: aCh, peerChain: b.id, open: true, nextSeq: 1}
	r.channels[channelKey{b.id, bEnd.ChannelID}] = &channelState{channel: bCh, peerChain: a.id, open: true, nextSeq: 1}
	log.Info().
		Str("init", a.id+"/"+aEnd.ChannelID).
		Str("try", b.id+"/"+bEnd.ChannelID).
		Str("connection", connectionID).
		Msg("relay.Relayer.OpenChannel connected")
	return ChannelPair{Init: aCh, Try: bCh}, nil
}

// CloseChannel closes channelID on chainID and then its counterparty.
func (r *Relayer) CloseChannel(ctx context.Context, chainID, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.channels[channelKey{chainID, channelID}]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownChannel, chainID, channelID)
	}
	if !state.open {
		return fmt.Errorf("%w: %s/%s", ErrChannelClosed, chainID, channelID)
	}
	peer := r.channels[channelKey{state.peerChain, state.channel.CounterpartyEndpoint.ChannelID}]
	env := transport.Env{Time: r.now}

	resp, err := r.chains[chainID].module.ChannelClose(ctx, env, transport.ChannelCloseMsg{Channel: state.channel})
	if err != nil {
		return fmt.Errorf("relay: close init on %s: %w", chainID, err)
	}
	r.record(chainID, resp.Events)
	state.open = false

	resp, err = r.chains[state.peerChain].module.ChannelClose(ctx, env, transport.ChannelCloseMsg{Channel: peer.channel})
	if err != nil {
		return fmt.Errorf("relay: close confirm on %s: %w", state.peerChain, err)
	}
	r.record(state.peerChain, resp.Events)
	peer.open = false
	log.Info().Str("chain", chainID).Str("channel", channelID).Msg("relay.Relayer.CloseChannel closed")
	return nil
}

// Submit records the events of an action response from chainID and queues
// its packets.
func (r *Relayer) Submit(chainID string, resp transport.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chains[chainID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChain, chainID)
	}
	return r.apply(chainID, resp)
}

// apply records events and queues packets. All packets are checked first
// so a bad channel id queues nothing.
func (r *Relayer) apply(chainID string, resp transport.Response) error {
	states := make([]*channelState, len(resp.Packets))
	for i, out := range resp.Packets {
		state, ok := r.channels[channelKey{chainID, out.ChannelID}]
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrUnknownChannel, chainID, out.ChannelID)
		}
		if !state.open {
			return fmt.Errorf("%w: %s/%s", ErrChannelClosed, chainID, out.ChannelID)
		}
		states[i] = state
	}
	r.record(chainID, resp.Events)
	for i, out := range resp.Packets {
		state := states[i]
		r.queue = append(r.queue, queued{
			srcChain: chainID,
			dstChain: state.peerChain,
			packet: transport.Packet{
				Data:      append([]byte(nil), out.Data...),
				Src:       state.channel.Endpoint,
				Dst:       state.channel.CounterpartyEndpoint,
				Sequence:  state.nextSeq,
				TimeoutAt: out.TimeoutAt,
			},
		})
		state.nextSeq++
	}
	return nil
}

func (r *Relayer) record(chainID string, events []transport.Event) {
	for _, event := range events {
		r.events = append(r.events, RecordedEvent{ChainID: chainID, Event: event})
	}
}

// Report summarizes one Flush.
type Report struct {
	Delivered int
	Failed    int
	TimedOut  int
	Acks      []Ack
	Events    []RecordedEvent
}

// Ack is the acknowledgement written for one delivered packet.
type Ack struct {
	SrcChain string
	DstChain string
	Packet   transport.Packet
	Ack      protocol.Ack
}

// Flush delivers queued packets, and any packets their handling produces,
// until the queue is empty. Packets past their deadline, or whose channel
// has closed, are timed out on the sender instead.
func (r *Relayer) Flush(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var report Report
	firstEvent := len(r.events)
	steps := 0
	for len(r.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if steps >= r.flushLimit {
			return report, fmt.Errorf("%w: %d", ErrFlushLimit, r.flushLimit)
		}
		steps++
		item := r.queue[0]
		r.queue = r.queue[1:]
		if err := r.deliver(ctx, item, &report); err != nil {
			return report, err
		}
	}
	report.Events = append([]RecordedEvent(nil), r.events[firstEvent:]...)
	return report, nil
}

func (r *Relayer) deliver(ctx context.Context, item queued, report *Report) error {
	env := transport.Env{Time: r.now}
	src := r.chains[item.srcChain]
	dst := r.chains[item.dstChain]
	dstState := r.channels[channelKey{item.dstChain, item.packet.Dst.ChannelID}]

	if item.packet.Expired(r.now) || dstState == nil || !dstState.open {
		resp, err := src.module.PacketTimeout(ctx, env, transport.PacketTimeoutMsg{Packet: item.packet})
		if err != nil {
			return fmt.Errorf("relay: timeout on %s: %w", src.id, err)
		}
		report.TimedOut++
		log.Debug().
			Str("src", item.srcChain).
			Uint64("sequence", item.packet.Sequence).
			Msg("relay.Relayer.Flush packet timed out")
		return r.applyLogged(src.id, resp)
	}

	var ack []byte
	resp, err := dst.module.PacketReceive(ctx, env, transport.PacketReceiveMsg{Packet: item.packet})
	if err != nil {
		report.Failed++
		ack = protocol.AckError(err)
		log.Debug().
			Err(err).
			Str("class", string(protocol.Classify(err))).
			Str("dst", item.dstChain).
			Msg("relay.Relayer.Flush receive failed")
	} else {
		report.Delivered++
		ack = protocol.AckSuccess()
		if err := r.applyLogged(dst.id, resp); err != nil {
			return err
		}
	}

	decoded, _ := protocol.DecodeAck(ack)
	report.Acks = append(report.Acks, Ack{
		SrcChain: item.srcChain,
		DstChain: item.dstChain,
		Packet:   item.packet,
		Ack:      decoded,
	})
	resp, err = src.module.PacketAck(ctx, env, transport.PacketAckMsg{Packet: item.packet, Ack: ack})
	if err != nil {
		return fmt.Errorf("relay: ack on %s: %w", src.id, err)
	}
	return r.applyLogged(src.id, resp)
}

// applyLogged applies a callback response. A packet addressed to a channel
// that closed meanwhile is dropped with a warning rather than failing the flush.
func (r *Relayer) applyLogged(chainID string, resp transport.Response) error {
	if err := r.apply(chainID, resp); err != nil {
		if errors.Is(err, ErrChannelClosed) || errors.Is(err, ErrUnknownChannel) {
			log.Warn().Err(err).Str("chain", chainID).Msg("relay.Relayer.Flush dropped response packets")
			r.record(chainID, resp.Events)
			return nil
		}
		return err
	}
	return nil
}
