package link

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/relaychat/internal/auth"
	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/hub"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/protocol/session"
	"github.com/danmuck/relaychat/internal/spoke"
	"github.com/danmuck/relaychat/internal/store"
	"github.com/danmuck/relaychat/internal/testutil/testlog"
	"github.com/danmuck/relaychat/internal/transport"
)

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

// pipeListener hands out the server half of in-memory pipes.
type pipeListener struct {
	conns     chan Conn
	done      chan struct{}
	closeOnce sync.Once
}

func newPipeListener() *pipeListener {
	return &pipeListener{conns: make(chan Conn), done: make(chan struct{})}
}

func (l *pipeListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *pipeListener) Addr() net.Addr { return pipeAddr{} }

func (l *pipeListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *pipeListener) dialer() Dialer {
	return func(ctx context.Context) (Conn, error) {
		server, client := net.Pipe()
		select {
		case l.conns <- WrapNetConn(server):
			return WrapNetConn(client), nil
		case <-l.done:
			return nil, net.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type testHub struct {
	contract *hub.Contract
	server   *Server
	ln       *pipeListener
}

func startHub(t *testing.T, validator auth.Validator, opts ...Option) *testHub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h, err := hub.New(ctx, store.NewMemory())
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	cfg := DefaultServerConfig()
	cfg.Session.SweepInterval = 10 * time.Millisecond
	srv := NewServer(cfg, h, validator, opts...)
	ln := newPipeListener()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ctx, ln); err != nil {
			t.Errorf("serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &testHub{contract: h, server: srv, ln: ln}
}

type testSpoke struct {
	contract *spoke.Contract
	client   *Client
	link     *Link
}

func clientConfig(network chat.NetworkID, token string) ClientConfig {
	cfg := ClientConfig{
		NodeID:  network.String(),
		Network: network,
		Token:   token,
		Session: session.DefaultConfig(),
	}
	cfg.Session.SweepInterval = 10 * time.Millisecond
	return cfg
}

func newSpoke(t *testing.T, h *testHub, network chat.NetworkID, module transport.Module, token string, opts ...Option) (*Client, error) {
	t.Helper()
	opts = append(opts, WithDialer(h.ln.dialer()))
	return NewClient(clientConfig(network, token), module, opts...)
}

func startSpoke(t *testing.T, h *testHub, network chat.NetworkID) *testSpoke {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s, err := spoke.New(ctx, store.NewMemory(), network)
	if err != nil {
		t.Fatalf("new spoke: %v", err)
	}
	client, err := newSpoke(t, h, network, s, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	l, err := client.Connect(ctx)
	if err != nil {
		t.Fatalf("connect %s: %v", network, err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Serve(ctx, l)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitFor(t, "client link", client.Connected)
	return &testSpoke{contract: s, client: client, link: l}
}

func (s *testSpoke) send(t *testing.T, author, text string) {
	t.Helper()
	_, resp, err := s.contract.SendMessage(context.Background(), transport.Env{Time: time.Now()}, author, text)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.client.Submit(resp); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func messageCount(s *spoke.Contract) int {
	msgs, err := s.Messages(context.Background(), 0, chat.Ascending)
	if err != nil {
		return -1
	}
	return len(msgs)
}

func TestHandshakeConnectsBothSides(t *testing.T) {
	testlog.Start(t)
	h := startHub(t, nil)
	s := startSpoke(t, h, chat.NetworkNeutron)

	waitFor(t, "hub registry", func() bool {
		channels, err := h.contract.Channels(context.Background())
		return err == nil && len(channels) == 1
	})
	channels, _ := h.contract.Channels(context.Background())
	spokeChannel, ok, err := s.contract.Channel(context.Background())
	if err != nil || !ok {
		t.Fatalf("spoke slot empty: ok=%v err=%v", ok, err)
	}
	if channels[0].CounterpartyEndpoint != spokeChannel.Endpoint {
		t.Fatalf("hub counterparty %v, spoke endpoint %v", channels[0].CounterpartyEndpoint, spokeChannel.Endpoint)
	}
	if spokeChannel.CounterpartyEndpoint != channels[0].Endpoint {
		t.Fatalf("spoke counterparty %v, hub endpoint %v", spokeChannel.CounterpartyEndpoint, channels[0].Endpoint)
	}
	if spokeChannel.Endpoint.PortID != "wasm.neutron" {
		t.Fatalf("unexpected spoke port %q", spokeChannel.Endpoint.PortID)
	}
	if got := len(h.server.Channels()); got != 1 {
		t.Fatalf("expected one live link, got %d", got)
	}
}

func TestMessagesFanOutAcrossSpokes(t *testing.T) {
	testlog.Start(t)
	h := startHub(t, nil)
	a := startSpoke(t, h, chat.NetworkNeutron)
	b := startSpoke(t, h, chat.NetworkStargaze)
	c := startSpoke(t, h, chat.NetworkKujira)
	waitFor(t, "three links", func() bool { return len(h.server.Channels()) == 3 })

	a.send(t, "neutron1alice", "gm")

	waitFor(t, "fan-out", func() bool {
		return messageCount(b.contract) == 1 && messageCount(c.contract) == 1
	})
	if got := messageCount(a.contract); got != 1 {
		t.Fatalf("sender should only hold its own copy, got %d", got)
	}
	msgs, _ := b.contract.Messages(context.Background(), 0, chat.Ascending)
	if msgs[0].Msg.Origin != chat.NetworkNeutron || msgs[0].Msg.Text != "gm" {
		t.Fatalf("unexpected relayed message %+v", msgs[0])
	}
	waitFor(t, "acks", func() bool { return a.link.Pending() == 0 })
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	testlog.Start(t)
	h := startHub(t, auth.StaticToken{Token: "secret"})
	s, err := spoke.New(context.Background(), store.NewMemory(), chat.NetworkNois)
	if err != nil {
		t.Fatalf("new spoke: %v", err)
	}
	client, err := newSpoke(t, h, chat.NetworkNois, s, "wrong")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Connect(context.Background())
	if !errors.Is(err, ErrHandshake) || !errors.Is(err, session.ErrRemote) {
		t.Fatalf("expected remote handshake rejection, got %v", err)
	}
	var remote session.ErrorMessage
	if !errors.As(err, &remote) || remote.Class != classAuth {
		t.Fatalf("expected auth class, got %v", err)
	}
	if _, ok, _ := s.Channel(context.Background()); ok {
		t.Fatalf("rejected spoke must not hold a channel")
	}
	channels, _ := h.contract.Channels(context.Background())
	if len(channels) != 0 {
		t.Fatalf("rejected spoke must not be registered: %+v", channels)
	}
}

func TestClosingLinkClosesBothSides(t *testing.T) {
	testlog.Start(t)
	h := startHub(t, nil)
	s := startSpoke(t, h, chat.NetworkStargaze)
	waitFor(t, "hub registry", func() bool { return len(h.server.Channels()) == 1 })

	if err := s.link.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitFor(t, "hub close", func() bool {
		channels, err := h.contract.Channels(context.Background())
		return err == nil && len(channels) == 0 && len(h.server.Channels()) == 0
	})
	waitFor(t, "spoke close", func() bool {
		_, ok, err := s.contract.Channel(context.Background())
		return err == nil && !ok
	})
	if _, _, err := s.contract.SendMessage(context.Background(), transport.Env{Time: time.Now()}, "a", "b"); !errors.Is(err, protocol.ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
}

// countingModule counts timeouts delivered to the wrapped module.
type countingModule struct {
	transport.Module
	timeouts atomic.Int32
}

func (m *countingModule) PacketTimeout(ctx context.Context, env transport.Env, msg transport.PacketTimeoutMsg) (transport.Response, error) {
	m.timeouts.Add(1)
	return m.Module.PacketTimeout(ctx, env, msg)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestExpiredPacketTimesOutAtSender(t *testing.T) {
	testlog.Start(t)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	hubClock := &clock{now: start.Add(2 * protocol.PacketTimeout)}
	h := startHub(t, nil, WithClock(hubClock.Now))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := spoke.New(ctx, store.NewMemory(), chat.NetworkKujira)
	if err != nil {
		t.Fatalf("new spoke: %v", err)
	}
	module := &countingModule{Module: s}
	spokeClock := &clock{now: start}
	client, err := newSpoke(t, h, chat.NetworkKujira, module, "", WithClock(spokeClock.Now))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	l, err := client.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Serve(ctx, l)
	}()
	defer func() {
		cancel()
		<-done
	}()
	waitFor(t, "client link", client.Connected)

	_, resp, err := s.SendMessage(ctx, transport.Env{Time: spokeClock.Now()}, "kujira1dan", "late")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := client.Submit(resp); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// The hub sees the packet as already expired and never acks it.
	time.Sleep(50 * time.Millisecond)
	if l.Pending() != 1 {
		t.Fatalf("expected the packet to stay pending, got %d", l.Pending())
	}
	spokeClock.Advance(2 * protocol.PacketTimeout)
	waitFor(t, "timeout", func() bool { return module.timeouts.Load() == 1 })
	if l.Pending() != 0 {
		t.Fatalf("expected empty outbox after timeout, got %d", l.Pending())
	}
}

func TestSubmitWithoutLinkFails(t *testing.T) {
	testlog.Start(t)
	h := startHub(t, nil)
	s, err := spoke.New(context.Background(), store.NewMemory(), chat.NetworkNeutron)
	if err != nil {
		t.Fatalf("new spoke: %v", err)
	}
	client, err := newSpoke(t, h, chat.NetworkNeutron, s, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.Submit(transport.Response{Packets: []transport.OutboundPacket{{ChannelID: "channel-0"}}})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestNewClientRequiresNetworkAndAddress(t *testing.T) {
	testlog.Start(t)
	if _, err := NewClient(ClientConfig{NodeID: "x"}, nil); !errors.Is(err, chat.ErrUnknownNetwork) {
		t.Fatalf("expected ErrUnknownNetwork, got %v", err)
	}
	if _, err := NewClient(ClientConfig{NodeID: "x", Network: chat.NetworkNois}, nil); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
	if _, err := NewClient(ClientConfig{Network: chat.NetworkNois}, nil); !errors.Is(err, ErrNodeIDRequired) {
		t.Fatalf("expected ErrNodeIDRequired, got %v", err)
	}
}
