package link

import (
	"context"
	"time"

	"github.com/danmuck/relaychat/internal/transport"
	"github.com/rs/zerolog/log"
)

// ChannelLister is implemented by modules that persist their channels.
// Channels left over from a previous run have no connection behind them
// and are closed before a server or client starts.
type ChannelLister interface {
	OpenChannels(ctx context.Context) ([]transport.Channel, error)
}

type options struct {
	now    func() time.Time
	sink   EventSink
	dialer Dialer
}

type Option func(*options)

// WithClock overrides the callback clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithEventSink forwards every callback's events to sink.
func WithEventSink(sink EventSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithDialer replaces the network dialer of a Client.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) emit(events []transport.Event) {
	if o.sink != nil && len(events) > 0 {
		o.sink.HandleEvents(events)
	}
}

// closeStale closes every channel module still holds from a previous run.
func closeStale(ctx context.Context, node string, module transport.Module, now func() time.Time) error {
	lister, ok := module.(ChannelLister)
	if !ok {
		return nil
	}
	channels, err := lister.OpenChannels(ctx)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if _, err := module.ChannelClose(ctx, transport.Env{Time: now()}, transport.ChannelCloseMsg{Channel: ch}); err != nil {
			return err
		}
		log.Info().Str("node", node).Str("channel", ch.Endpoint.ChannelID).Msg("link closed stale channel")
	}
	return nil
}
