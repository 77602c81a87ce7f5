package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/hub"
	"github.com/danmuck/relaychat/internal/logging"
	"github.com/danmuck/relaychat/internal/relay"
	"github.com/danmuck/relaychat/internal/spoke"
	"github.com/danmuck/relaychat/internal/store"
	"github.com/rs/zerolog/log"
)

type options struct {
	networks []chat.NetworkID
	from     chat.NetworkID
	author   string
	text     string
}

func main() {
	spokes := flag.String("spokes", "neutron,stargaze,kujira,nois", "comma separated spoke networks")
	from := flag.String("from", "neutron", "network that sends the demo message")
	author := flag.String("author", "neutron1devnet", "author of the demo message")
	text := flag.String("text", "gm from the devnet", "demo message text")
	flag.Parse()

	logging.ConfigureRuntime()

	opts, err := parseOptions(*spokes, *from, *author, *text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devnetctl: %v\n", err)
		os.Exit(2)
	}
	logs, err := run(context.Background(), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devnetctl: %v\n", err)
		os.Exit(1)
	}
	for _, network := range opts.networks {
		for _, msg := range logs[network] {
			fmt.Printf("%-9s #%d <%s@%s> %s\n", network, msg.LocalID, msg.Msg.Author, msg.Msg.Origin, msg.Msg.Text)
		}
	}
}

func parseOptions(spokes, from, author, text string) (options, error) {
	opts := options{author: author, text: text}
	seen := make(map[chat.NetworkID]bool)
	for _, raw := range strings.Split(spokes, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		network, err := chat.ParseNetworkID(raw)
		if err != nil {
			return options{}, err
		}
		if seen[network] {
			return options{}, fmt.Errorf("duplicate spoke network %s", network)
		}
		seen[network] = true
		opts.networks = append(opts.networks, network)
	}
	sender, err := chat.ParseNetworkID(from)
	if err != nil {
		return options{}, err
	}
	if !seen[sender] {
		return options{}, fmt.Errorf("sender %s is not one of the spokes", sender)
	}
	opts.from = sender
	return opts, nil
}

// run brings up an in-process hub and spokes, connects them, relays one
// message and returns every spoke's log.
func run(ctx context.Context, opts options) (map[chat.NetworkID][]chat.LoggedMessage, error) {
	r := relay.New(time.Now())
	h, err := hub.New(ctx, store.NewMemory())
	if err != nil {
		return nil, err
	}
	if err := r.AddChain("hub", "wasm.hub", h); err != nil {
		return nil, err
	}
	spokes := make(map[chat.NetworkID]*spoke.Contract, len(opts.networks))
	for _, network := range opts.networks {
		s, err := spoke.New(ctx, store.NewMemory(), network)
		if err != nil {
			return nil, err
		}
		if err := r.AddChain(network.String(), "wasm."+network.String(), s); err != nil {
			return nil, err
		}
		pair, err := r.OpenChannel(ctx, relay.ChannelRequest{Init: network.String(), Try: "hub"})
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("spoke", network.String()).
			Str("spoke_channel", pair.Init.Endpoint.ChannelID).
			Str("hub_channel", pair.Try.Endpoint.ChannelID).
			Msg("devnetctl channel open")
		spokes[network] = s
	}

	_, resp, err := spokes[opts.from].SendMessage(ctx, r.Env(), opts.author, opts.text)
	if err != nil {
		return nil, err
	}
	if err := r.Submit(opts.from.String(), resp); err != nil {
		return nil, err
	}
	report, err := r.Flush(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("delivered", report.Delivered).
		Int("failed", report.Failed).
		Int("timed_out", report.TimedOut).
		Msg("devnetctl flushed")

	logs := make(map[chat.NetworkID][]chat.LoggedMessage, len(spokes))
	for network, s := range spokes {
		msgs, err := s.Messages(ctx, 0, chat.Ascending)
		if err != nil {
			return nil, err
		}
		logs[network] = msgs
	}
	return logs, nil
}
