package contract

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/store"
	"github.com/danmuck/relaychat/internal/testutil/testlog"
	"github.com/danmuck/relaychat/internal/transport"
)

func TestInstantiatePersistsAndRejectsOtherKind(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	st := store.NewMemory()

	info, err := Instantiate(ctx, st, KindHub)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if info.Kind != KindHub || info.Version != Version {
		t.Fatalf("unexpected info: %+v", info)
	}
	again, err := Instantiate(ctx, st, KindHub)
	if err != nil || again != info {
		t.Fatalf("expected stable info, got %+v err=%v", again, err)
	}
	if _, err := Instantiate(ctx, st, KindSpoke); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("expected ErrKindMismatch, got %v", err)
	}
}

func TestInstantiateUpgradesVersion(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.Put(ctx, bucketContractInfo, keyContractInfo, []byte(`{"contract":"spoke","version":"0.0.1"}`)); err != nil {
		t.Fatalf("seed info: %v", err)
	}
	info, err := Instantiate(ctx, st, KindSpoke)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if info.Version != Version {
		t.Fatalf("expected version upgraded to %q, got %q", Version, info.Version)
	}
}

func TestResponseBuilderStampsAndSuffixesEvents(t *testing.T) {
	testlog.Start(t)
	b := NewResponseBuilder(Info{Kind: KindHub, Version: "9.9.9"})
	b.AddEvent(transport.NewEvent(EventChatMessage))
	b.AddEvent(transport.NewEvent(EventChatMessage))
	b.AddEvent(transport.NewEvent(EventChannelClose))
	b.AddPacket(transport.OutboundPacket{ChannelID: "channel-1"})

	resp := b.Response()
	types := []string{resp.Events[0].Type, resp.Events[1].Type, resp.Events[2].Type}
	want := []string{"chat-message", "chat-message-1", "ibc-channel-close"}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected event types %v, got %v", want, types)
		}
	}
	if v, _ := resp.Events[1].Attr(AttrContractKind); v != "hub" {
		t.Fatalf("expected contract_kind=hub, got %q", v)
	}
	if v, _ := resp.Events[1].Attr(AttrContractVersion); v != "9.9.9" {
		t.Fatalf("expected contract_version=9.9.9, got %q", v)
	}
	if len(resp.Packets) != 1 {
		t.Fatalf("expected one packet, got %d", len(resp.Packets))
	}

	muted := NewMutedResponseBuilder()
	muted.AddEvent(transport.NewEvent(EventChatMessage))
	if len(muted.Response().Events) != 0 {
		t.Fatalf("expected muted builder to drop events")
	}
}

func TestChatMessageEventRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := chat.LoggedMessage{
		Msg:     chat.ChatMessage{Author: "stars1bob", Origin: chat.NetworkStargaze, Text: "hello there"},
		LocalID: 42,
	}
	b := NewResponseBuilder(Info{Kind: KindSpoke, Version: Version})
	b.AddEvent(ChatMessageEvent(in))
	b.AddEvent(ChatMessageEvent(in))
	for _, event := range b.Response().Events {
		out, err := ParseChatMessageEvent(event)
		if err != nil {
			t.Fatalf("parse %q: %v", event.Type, err)
		}
		if out != in {
			t.Fatalf("expected %+v, got %+v", in, out)
		}
	}
	if _, err := ParseChatMessageEvent(transport.NewEvent(EventChannelConnect)); !errors.Is(err, ErrEventMismatch) {
		t.Fatalf("expected ErrEventMismatch, got %v", err)
	}
	if _, err := ParseChatMessageEvent(transport.NewEvent(EventChatMessage).With("index", "1")); !errors.Is(err, ErrEventMismatch) {
		t.Fatalf("expected ErrEventMismatch for missing attributes, got %v", err)
	}
}

func TestChannelEventAttributes(t *testing.T) {
	testlog.Start(t)
	ch := transport.Channel{
		Endpoint:             transport.Endpoint{PortID: "wasm.hub", ChannelID: "channel-2"},
		CounterpartyEndpoint: transport.Endpoint{PortID: "wasm.spoke", ChannelID: "channel-5"},
		Order:                transport.OrderUnordered,
		Version:              "relaychat-1",
		ConnectionID:         "connection-3",
	}
	event := ChannelConnectEvent(ch)
	want := map[string]string{
		"endpoint-id":                   "channel-2",
		"endpoint-port-id":              "wasm.hub",
		"counterparty-endpoint-id":      "channel-5",
		"counterparty-endpoint-port-id": "wasm.spoke",
		"order":                         "unordered",
		"version":                       "relaychat-1",
		"connection-id":                 "connection-3",
	}
	for key, value := range want {
		if got, ok := event.Attr(key); !ok || got != value {
			t.Fatalf("attribute %q: expected %q, got %q (ok=%v)", key, value, got, ok)
		}
	}
	if ChannelCloseEvent(ch).Type != EventChannelClose {
		t.Fatalf("unexpected close event type")
	}
}
