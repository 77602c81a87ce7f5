package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/relaychat/internal/auth"
	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/contract"
	"github.com/danmuck/relaychat/internal/hub"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/spoke"
	"github.com/danmuck/relaychat/internal/store"
	"github.com/danmuck/relaychat/internal/testutil/testlog"
	"github.com/danmuck/relaychat/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type recordingSubmitter struct {
	mu    sync.Mutex
	resps []transport.Response
	err   error
}

func (r *recordingSubmitter) Submit(resp transport.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resps = append(r.resps, resp)
	return r.err
}

func connectSpoke(t *testing.T, s *spoke.Contract) {
	t.Helper()
	ch := transport.Channel{
		Endpoint:             transport.Endpoint{PortID: "wasm.neutron", ChannelID: "channel-0"},
		CounterpartyEndpoint: transport.Endpoint{PortID: "wasm.hub", ChannelID: "channel-4"},
		Order:                transport.OrderUnordered,
		Version:              protocol.ChannelVersion,
		ConnectionID:         "connection-0",
	}
	env := transport.Env{Time: testNow}
	if err := s.ChannelOpen(context.Background(), env, transport.ChannelOpenMsg{Channel: ch}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.ChannelConnect(context.Background(), env, transport.ChannelConnectMsg{Channel: ch, CounterpartyVersion: ch.Version}); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

func newSpokeRouter(t *testing.T, validator auth.Validator, sub Submitter, feed *Feed) (*gin.Engine, *spoke.Contract) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s, err := spoke.New(context.Background(), store.NewMemory(), chat.NetworkNeutron)
	if err != nil {
		t.Fatalf("new spoke: %v", err)
	}
	r := NewRouter("neutron", nil)
	a := NewSpokeAPI("neutron", s, sub, validator, feed)
	a.now = func() time.Time { return testNow }
	a.RegisterRoutes(r)
	return r, s
}

func do(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHubRoutes(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	h, err := hub.New(context.Background(), store.NewMemory())
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	ch := transport.Channel{
		Endpoint:             transport.Endpoint{PortID: "wasm.hub", ChannelID: "channel-0"},
		CounterpartyEndpoint: transport.Endpoint{PortID: "wasm.kujira", ChannelID: "channel-7"},
		Order:                transport.OrderUnordered,
		Version:              protocol.ChannelVersion,
		ConnectionID:         "connection-0",
	}
	env := transport.Env{Time: testNow}
	if err := h.ChannelOpen(context.Background(), env, transport.ChannelOpenMsg{Channel: ch}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := h.ChannelConnect(context.Background(), env, transport.ChannelConnectMsg{Channel: ch, CounterpartyVersion: ch.Version}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	r := NewRouter("hub", nil)
	NewHubAPI("hub", h, nil).RegisterRoutes(r)

	rec := do(r, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"kind":"hub"`) {
		t.Fatalf("unexpected health: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(r, http.MethodGet, "/info", "", nil)
	var info hub.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if len(info.ClientChannels) != 1 || info.ClientChannels[0].CounterpartyEndpoint.PortID != "wasm.kujira" {
		t.Fatalf("unexpected info: %s", rec.Body.String())
	}

	rec = do(r, http.MethodGet, "/channels", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"live":[]`) {
		t.Fatalf("unexpected channels: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(r, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", rec.Code)
	}
}

func TestSpokeReadyTracksChannel(t *testing.T) {
	testlog.Start(t)
	r, s := newSpokeRouter(t, nil, nil, nil)
	if rec := do(r, http.MethodGet, "/ready", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without channel, got %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/channel", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without channel, got %d", rec.Code)
	}
	connectSpoke(t, s)
	if rec := do(r, http.MethodGet, "/ready", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with channel, got %d", rec.Code)
	}
	rec := do(r, http.MethodGet, "/channel", "", nil)
	var ch transport.Channel
	if err := json.Unmarshal(rec.Body.Bytes(), &ch); err != nil {
		t.Fatalf("decode channel: %v", err)
	}
	if ch.CounterpartyEndpoint.ChannelID != "channel-4" {
		t.Fatalf("unexpected channel %+v", ch)
	}
	rec = do(r, http.MethodGet, "/info", "", nil)
	if !strings.Contains(rec.Body.String(), `"network_id":"neutron"`) {
		t.Fatalf("unexpected info: %s", rec.Body.String())
	}
}

func TestSpokeSendRelaysAndLogs(t *testing.T) {
	testlog.Start(t)
	sub := &recordingSubmitter{}
	r, s := newSpokeRouter(t, nil, sub, nil)
	connectSpoke(t, s)

	rec := do(r, http.MethodPost, "/messages", "", SendRequest{Author: "neutron1alice", Text: "gm"})
	if rec.Code != http.StatusOK {
		t.Fatalf("send: %d %s", rec.Code, rec.Body.String())
	}
	var out SendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode send: %v", err)
	}
	if !out.Relayed || out.Message.LocalID != 1 || out.Message.Msg.Origin != chat.NetworkNeutron {
		t.Fatalf("unexpected send response %+v", out)
	}
	if len(sub.resps) != 1 || len(sub.resps[0].Packets) != 1 {
		t.Fatalf("expected one packet submitted, got %+v", sub.resps)
	}
	if got := sub.resps[0].Packets[0].TimeoutAt; !got.Equal(testNow.Add(protocol.PacketTimeout)) {
		t.Fatalf("unexpected timeout %v", got)
	}

	do(r, http.MethodPost, "/messages", "", SendRequest{Author: "neutron1bob", Text: "gn"})
	rec = do(r, http.MethodGet, "/messages?after=0&order=desc", "", nil)
	var page struct {
		Messages []chat.LoggedMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].LocalID != 2 || page.Messages[1].Msg.Text != "gm" {
		t.Fatalf("unexpected page %+v", page.Messages)
	}
	rec = do(r, http.MethodGet, "/messages?after=1", "", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].LocalID != 2 {
		t.Fatalf("unexpected page after 1: %+v", page.Messages)
	}
}

func TestSpokeSendReportsRelayFailure(t *testing.T) {
	testlog.Start(t)
	sub := &recordingSubmitter{err: errors.New("link: not connected")}
	r, s := newSpokeRouter(t, nil, sub, nil)
	connectSpoke(t, s)
	rec := do(r, http.MethodPost, "/messages", "", SendRequest{Author: "a", Text: "b"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"relayed":false`) {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSpokeSendErrors(t *testing.T) {
	testlog.Start(t)
	r, s := newSpokeRouter(t, auth.StaticToken{Token: "secret"}, nil, nil)

	if rec := do(r, http.MethodPost, "/messages", "", SendRequest{Author: "a", Text: "b"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, "/messages", "wrong", SendRequest{Author: "a", Text: "b"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, "/messages", "secret", SendRequest{Author: "a", Text: "b"}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 without channel, got %d", rec.Code)
	}
	connectSpoke(t, s)
	if rec := do(r, http.MethodPost, "/messages", "secret", map[string]string{"author": "a"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without text, got %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/messages?order=sideways", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad order, got %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/messages?after=-1", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", rec.Code)
	}
}

func TestFeedStreamsChatMessages(t *testing.T) {
	testlog.Start(t)
	feed := NewFeed()
	r, _ := newSpokeRouter(t, nil, nil, feed)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for feed.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if feed.Clients() != 1 {
		t.Fatalf("expected one feed client, got %d", feed.Clients())
	}

	want := chat.LoggedMessage{Msg: chat.ChatMessage{Author: "stars1bob", Origin: chat.NetworkStargaze, Text: "hello"}, LocalID: 3}
	feed.HandleEvents([]transport.Event{
		contract.ChannelCloseEvent(transport.Channel{}),
		contract.ChatMessageEvent(want),
	})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got chat.LoggedMessage
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}
