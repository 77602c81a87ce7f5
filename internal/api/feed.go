package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/contract"
	"github.com/danmuck/relaychat/internal/link"
	"github.com/danmuck/relaychat/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	feedBuffer     = 64
	feedWriteWait  = 5 * time.Second
	feedPingPeriod = 30 * time.Second
)

// Feed pushes every logged chat message to connected websocket clients.
// Slow clients are dropped rather than blocking the link.
type Feed struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
}

var _ link.EventSink = (*Feed)(nil)

type feedClient struct {
	conn *websocket.Conn
	send chan chat.LoggedMessage
	once sync.Once
}

func (c *feedClient) close() {
	c.once.Do(func() { close(c.send) })
}

func NewFeed() *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*feedClient]struct{}),
	}
}

// HandleEvents forwards chat-message events. Other events are ignored.
func (f *Feed) HandleEvents(events []transport.Event) {
	for _, event := range events {
		msg, err := contract.ParseChatMessageEvent(event)
		if err != nil {
			continue
		}
		f.broadcast(msg)
	}
}

func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) broadcast(msg chat.LoggedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- msg:
		default:
			log.Warn().Msg("api.Feed dropped slow client")
			delete(f.clients, c)
			c.close()
		}
	}
}

func (f *Feed) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		conn, err := f.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("api.Feed upgrade failed")
			return
		}
		c := &feedClient{conn: conn, send: make(chan chat.LoggedMessage, feedBuffer)}
		f.mu.Lock()
		f.clients[c] = struct{}{}
		f.mu.Unlock()

		go f.readLoop(c)
		f.writeLoop(c)
	}
}

// readLoop only watches for the client going away.
func (f *Feed) readLoop(c *feedClient) {
	defer f.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writeLoop(c *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				f.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.remove(c)
				return
			}
		}
	}
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		c.close()
	}
	f.mu.Unlock()
}
