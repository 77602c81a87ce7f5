// Package discovery finds a hub on the local network over mDNS.
//
// Ownership boundary:
// - publishing the hub's link listener as a zeroconf service
//
// - browsing for hubs from a spoke and resolving one to a dial address
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	"github.com/betamos/zeroconf"
	"github.com/rs/zerolog/log"
)

const (
	ServiceType = "_relaychat._udp"
	Domain      = "local."
)

var ErrInvalidPort = errors.New("discovery: invalid port")

// Peer is one hub seen on the local network.
type Peer struct {
	Name string
	Addr string
	Port int
}

// Discovery owns a running zeroconf client.
type Discovery struct {
	client *zeroconf.Client
}

// Publish announces a hub listening on port under name.
func Publish(name string, port int) (*Discovery, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	svcType := zeroconf.NewType(ServiceType)
	self := zeroconf.NewService(svcType, name, uint16(port))
	client, err := zeroconf.New().Publish(self).Open()
	if err != nil {
		return nil, fmt.Errorf("zeroconf: %w", err)
	}
	log.Info().Str("name", name).Int("port", port).Msg("discovery.Publish announced hub")
	return &Discovery{client: client}, nil
}

// Browse reports every hub seen until Close.
func Browse(onPeer func(Peer)) (*Discovery, error) {
	svcType := zeroconf.NewType(ServiceType)
	client, err := zeroconf.New().
		Browse(func(e zeroconf.Event) {
			peer, ok := peerFrom(e.Name, e.Addrs, e.Port)
			if ok && onPeer != nil {
				onPeer(peer)
			}
		}, svcType).
		Open()
	if err != nil {
		return nil, fmt.Errorf("zeroconf: %w", err)
	}
	return &Discovery{client: client}, nil
}

func (d *Discovery) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

// Lookup browses until a hub named name appears, or any hub when name is
// empty, and returns its dial address.
func Lookup(ctx context.Context, name string) (Peer, error) {
	w := newWaiter(name)
	d, err := Browse(w.offer)
	if err != nil {
		return Peer{}, err
	}
	defer d.Close()
	peer, err := w.wait(ctx)
	if err != nil {
		return Peer{}, err
	}
	log.Info().Str("name", peer.Name).Str("addr", peer.Addr).Msg("discovery.Lookup found hub")
	return peer, nil
}

// peerFrom picks one dial address, preferring IPv4.
func peerFrom(name string, addrs []netip.Addr, port uint16) (Peer, bool) {
	var chosen netip.Addr
	for _, a := range addrs {
		if !a.IsValid() {
			continue
		}
		if !chosen.IsValid() || (a.Is4() && !chosen.Is4()) {
			chosen = a
		}
	}
	if !chosen.IsValid() || port == 0 {
		return Peer{}, false
	}
	return Peer{
		Name: name,
		Addr: net.JoinHostPort(chosen.Unmap().String(), strconv.Itoa(int(port))),
		Port: int(port),
	}, true
}

// waiter hands the first matching peer to wait.
type waiter struct {
	name  string
	once  sync.Once
	found chan Peer
}

func newWaiter(name string) *waiter {
	return &waiter{name: strings.TrimSpace(name), found: make(chan Peer, 1)}
}

func (w *waiter) offer(p Peer) {
	if w.name != "" && !strings.EqualFold(p.Name, w.name) {
		return
	}
	w.once.Do(func() { w.found <- p })
}

func (w *waiter) wait(ctx context.Context) (Peer, error) {
	select {
	case p := <-w.found:
		return p, nil
	case <-ctx.Done():
		return Peer{}, ctx.Err()
	}
}
