package spoke

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/contract"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/store"
	"github.com/danmuck/relaychat/internal/testutil/testlog"
	"github.com/danmuck/relaychat/internal/transport"
)

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestSpoke(t *testing.T, st store.Store) *Contract {
	t.Helper()
	c, err := New(context.Background(), st, chat.NetworkStargaze)
	if err != nil {
		t.Fatalf("new spoke: %v", err)
	}
	return c
}

func hubChannel(local, remote string) transport.Channel {
	return transport.Channel{
		Endpoint:             transport.Endpoint{PortID: "wasm.spoke", ChannelID: local},
		CounterpartyEndpoint: transport.Endpoint{PortID: "wasm.hub", ChannelID: remote},
		Order:                transport.OrderUnordered,
		Version:              protocol.ChannelVersion,
		ConnectionID:         "connection-" + local,
	}
}

func connect(t *testing.T, c *Contract, ch transport.Channel) {
	t.Helper()
	env := transport.Env{Time: testNow}
	if err := c.ChannelOpen(context.Background(), env, transport.ChannelOpenMsg{Channel: ch}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := c.ChannelConnect(context.Background(), env, transport.ChannelConnectMsg{Channel: ch, CounterpartyVersion: ch.Version}); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

func receive(c *Contract, data []byte) (transport.Response, error) {
	return c.PacketReceive(context.Background(), transport.Env{Time: testNow}, transport.PacketReceiveMsg{
		Packet: transport.Packet{Data: data, Sequence: 1},
	})
}

func toSpoke(t *testing.T, author string, origin chat.NetworkID, text string) []byte {
	t.Helper()
	data, err := protocol.EncodeToSpoke(chat.ChatMessage{Author: author, Origin: origin, Text: text})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestSendMessageAppendsAndEmitsToHub(t *testing.T) {
	testlog.Start(t)
	c := newTestSpoke(t, store.NewMemory())
	ch := hubChannel("channel-7", "channel-0")
	connect(t, c, ch)

	logged, resp, err := c.SendMessage(context.Background(), transport.Env{Time: testNow}, "stars1alice", "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if logged.LocalID != 1 {
		t.Fatalf("expected local_id 1, got %d", logged.LocalID)
	}
	if logged.Msg.Origin != chat.NetworkStargaze {
		t.Fatalf("expected origin stargaze, got %s", logged.Msg.Origin)
	}
	if len(resp.Packets) != 1 {
		t.Fatalf("expected one packet, got %d", len(resp.Packets))
	}
	out := resp.Packets[0]
	if out.ChannelID != "channel-7" {
		t.Fatalf("expected packet on channel-7, got %s", out.ChannelID)
	}
	if want := testNow.Add(protocol.PacketTimeout); !out.TimeoutAt.Equal(want) {
		t.Fatalf("expected timeout %v, got %v", want, out.TimeoutAt)
	}
	pkt, err := protocol.DecodePacket(out.Data)
	if err != nil {
		t.Fatalf("decode emitted packet: %v", err)
	}
	if pkt.Kind != protocol.KindToHub || pkt.Message.Text != "hi" || pkt.LocalID != 1 {
		t.Fatalf("unexpected emitted packet: %+v", pkt)
	}
	if len(resp.Events) != 1 {
		t.Fatalf("expected one event, got %+v", resp.Events)
	}
	parsed, err := contract.ParseChatMessageEvent(resp.Events[0])
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if parsed.LocalID != 1 || parsed.Msg.Author != "stars1alice" {
		t.Fatalf("unexpected event message: %+v", parsed)
	}

	msgs, err := c.Messages(context.Background(), 0, chat.Ascending)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0] != logged {
		t.Fatalf("expected log to hold sent message, got %+v", msgs)
	}
}

func TestSendMessageWithoutChannelFails(t *testing.T) {
	testlog.Start(t)
	c := newTestSpoke(t, store.NewMemory())

	_, resp, err := c.SendMessage(context.Background(), transport.Env{Time: testNow}, "stars1alice", "hi")
	if !errors.Is(err, protocol.ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
	if len(resp.Packets) != 0 {
		t.Fatalf("expected no packets, got %d", len(resp.Packets))
	}
	msgs, _ := c.Messages(context.Background(), 0, chat.Ascending)
	if len(msgs) != 0 {
		t.Fatalf("expected empty log, got %+v", msgs)
	}
}

func TestChannelConnectOverwritesSlot(t *testing.T) {
	testlog.Start(t)
	c := newTestSpoke(t, store.NewMemory())
	a := hubChannel("channel-1", "channel-0")
	b := hubChannel("channel-2", "channel-5")
	connect(t, c, a)
	connect(t, c, b)

	got, ok, err := c.Channel(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected channel set, ok=%v err=%v", ok, err)
	}
	if got != b {
		t.Fatalf("expected slot to hold %+v, got %+v", b, got)
	}
}

func TestChannelConnectRejectsBadHandshake(t *testing.T) {
	testlog.Start(t)
	c := newTestSpoke(t, store.NewMemory())
	ch := hubChannel("channel-1", "channel-0")
	ch.Order = transport.OrderOrdered

	if _, err := c.ChannelConnect(context.Background(), transport.Env{Time: testNow}, transport.ChannelConnectMsg{Channel: ch}); !errors.Is(err, protocol.ErrOrderingNotSupported) {
		t.Fatalf("expected ErrOrderingNotSupported, got %v", err)
	}
	ch.Order = transport.OrderUnordered
	_, err := c.ChannelConnect(context.Background(), transport.Env{Time: testNow}, transport.ChannelConnectMsg{Channel: ch, CounterpartyVersion: "v2"})
	if !errors.Is(err, protocol.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	if _, ok, _ := c.Channel(context.Background()); ok {
		t.Fatalf("expected empty slot after rejected handshake")
	}
}

func TestChannelCloseClearsSlot(t *testing.T) {
	testlog.Start(t)
	c := newTestSpoke(t, store.NewMemory())
	ch := hubChannel("channel-1", "channel-0")
	connect(t, c, ch)

	resp, err := c.ChannelClose(context.Background(), transport.Env{Time: testNow}, transport.ChannelCloseMsg{Channel: ch})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Type != contract.EventChannelClose {
		t.Fatalf("expected close event, got %+v", resp.Events)
	}
	if _, ok, _ := c.Channel(context.Background()); ok {
		t.Fatalf("expected empty slot after close")
	}
	if _, _, err := c.SendMessage(context.Background(), transport.Env{Time: testNow}, "a", "b"); !errors.Is(err, protocol.ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel after close, got %v", err)
	}
}

func TestPacketReceiveLogsToSpoke(t *testing.T) {
	testlog.Start(t)
	c := newTestSpoke(t, store.NewMemory())
	connect(t, c, hubChannel("channel-1", "channel-0"))

	resp, err := receive(c, toSpoke(t, "kujira1carol", chat.NetworkKujira, "gm"))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(resp.Packets) != 0 {
		t.Fatalf("expected no outbound packets, got %d", len(resp.Packets))
	}
	if len(resp.Events) != 1 || resp.Events[0].Type != contract.EventChatMessage {
		t.Fatalf("expected chat-message event, got %+v", resp.Events)
	}
	msgs, _ := c.Messages(context.Background(), 0, chat.Ascending)
	if len(msgs) != 1 || msgs[0].LocalID != 1 || msgs[0].Msg.Origin != chat.NetworkKujira {
		t.Fatalf("unexpected log: %+v", msgs)
	}
}

func TestPacketReceiveRejectsWithoutMutation(t *testing.T) {
	testlog.Start(t)
	c := newTestSpoke(t, store.NewMemory())
	connect(t, c, hubChannel("channel-1", "channel-0"))

	toHub, err := protocol.EncodeToHub(chat.ChatMessage{Author: "a", Origin: chat.NetworkNois, Text: "x"}, 3)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cases := []struct {
		name string
		data []byte
		want error
	}{
		{name: "wrong direction", data: toHub, want: protocol.ErrUnsupportedMessageType},
		{name: "unknown tag", data: []byte(`{"broadcast":{"message":{}}}`), want: protocol.ErrProtocolViolation},
		{name: "not json", data: []byte("hello"), want: protocol.ErrProtocolViolation},
		{name: "two tags", data: []byte(`{"to_hub":{},"to_spoke":{}}`), want: protocol.ErrProtocolViolation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := receive(c, tc.data)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(resp.Packets) != 0 || len(resp.Events) != 0 {
				t.Fatalf("expected empty response, got %+v", resp)
			}
		})
	}
	msgs, _ := c.Messages(context.Background(), 0, chat.Ascending)
	if len(msgs) != 0 {
		t.Fatalf("expected empty log, got %+v", msgs)
	}
}

func TestAckAndTimeoutAreNoOps(t *testing.T) {
	testlog.Start(t)
	c := newTestSpoke(t, store.NewMemory())
	ch := hubChannel("channel-1", "channel-0")
	connect(t, c, ch)
	_, resp, err := c.SendMessage(context.Background(), transport.Env{Time: testNow}, "stars1alice", "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	pkt := transport.Packet{Data: resp.Packets[0].Data, Src: ch.Endpoint, Dst: ch.CounterpartyEndpoint, Sequence: 1}
	env := transport.Env{Time: testNow.Add(time.Hour)}

	for _, data := range [][]byte{pkt.Data, []byte("garbage")} {
		p := pkt
		p.Data = data
		if r, err := c.PacketTimeout(context.Background(), env, transport.PacketTimeoutMsg{Packet: p}); err != nil || len(r.Packets) != 0 || len(r.Events) != 0 {
			t.Fatalf("expected timeout no-op, got %+v %v", r, err)
		}
		if r, err := c.PacketAck(context.Background(), env, transport.PacketAckMsg{Packet: p, Ack: []byte("x")}); err != nil || len(r.Packets) != 0 || len(r.Events) != 0 {
			t.Fatalf("expected ack no-op, got %+v %v", r, err)
		}
	}
	msgs, _ := c.Messages(context.Background(), 0, chat.Ascending)
	if len(msgs) != 1 {
		t.Fatalf("expected log unchanged, got %+v", msgs)
	}
}

func TestMessagesPaginationAndOrder(t *testing.T) {
	testlog.Start(t)
	c := newTestSpoke(t, store.NewMemory())
	connect(t, c, hubChannel("channel-1", "channel-0"))
	for i := 0; i < 12; i++ {
		if _, _, err := c.SendMessage(context.Background(), transport.Env{Time: testNow}, "stars1alice", "m"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	asc, err := c.Messages(context.Background(), 0, chat.Ascending)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(asc) != 12 {
		t.Fatalf("expected 12 messages, got %d", len(asc))
	}
	for i, m := range asc {
		if m.LocalID != uint64(i+1) {
			t.Fatalf("expected local_id %d at %d, got %d", i+1, i, m.LocalID)
		}
	}

	after, _ := c.Messages(context.Background(), 9, chat.Ascending)
	if len(after) != 3 || after[0].LocalID != 10 || after[2].LocalID != 12 {
		t.Fatalf("unexpected page after 9: %+v", after)
	}

	desc, _ := c.Messages(context.Background(), 9, chat.Descending)
	if len(desc) != 3 || desc[0].LocalID != 12 || desc[2].LocalID != 10 {
		t.Fatalf("unexpected descending page after 9: %+v", desc)
	}
}

func TestReopenKeepsLogAndRejectsOtherNetwork(t *testing.T) {
	testlog.Start(t)
	st := store.NewMemory()
	c := newTestSpoke(t, st)
	ch := hubChannel("channel-1", "channel-0")
	connect(t, c, ch)
	if _, _, err := c.SendMessage(context.Background(), transport.Env{Time: testNow}, "stars1alice", "one"); err != nil {
		t.Fatalf("send: %v", err)
	}

	reopened := newTestSpoke(t, st)
	logged, _, err := reopened.SendMessage(context.Background(), transport.Env{Time: testNow}, "stars1alice", "two")
	if err != nil {
		t.Fatalf("send after reopen: %v", err)
	}
	if logged.LocalID != 2 {
		t.Fatalf("expected local_id 2 after reopen, got %d", logged.LocalID)
	}
	info, err := reopened.Info(context.Background())
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.ServerChannel == nil || *info.ServerChannel != ch || info.NetworkID != chat.NetworkStargaze {
		t.Fatalf("unexpected info: %+v", info)
	}

	if _, err := New(context.Background(), st, chat.NetworkNeutron); !errors.Is(err, ErrNetworkMismatch) {
		t.Fatalf("expected ErrNetworkMismatch, got %v", err)
	}
	if _, err := New(context.Background(), store.NewMemory(), chat.NetworkUnknown); !errors.Is(err, chat.ErrUnknownNetwork) {
		t.Fatalf("expected ErrUnknownNetwork, got %v", err)
	}
}

func TestOpenChannelsReflectsSlot(t *testing.T) {
	testlog.Start(t)
	c := newTestSpoke(t, store.NewMemory())
	channels, err := c.OpenChannels(context.Background())
	if err != nil || len(channels) != 0 {
		t.Fatalf("expected no channels, got %v err=%v", channels, err)
	}
	ch := hubChannel("channel-3", "channel-9")
	connect(t, c, ch)
	channels, err = c.OpenChannels(context.Background())
	if err != nil {
		t.Fatalf("open channels: %v", err)
	}
	if len(channels) != 1 || channels[0].Endpoint.ChannelID != "channel-3" {
		t.Fatalf("unexpected channels: %+v", channels)
	}
}
