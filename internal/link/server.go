package link

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/relaychat/internal/auth"
	"github.com/danmuck/relaychat/internal/observability"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/danmuck/relaychat/internal/protocol/session"
	"github.com/danmuck/relaychat/internal/transport"
	"github.com/rs/zerolog/log"
)

const classAuth = "auth"

// ServerConfig configures the accepting side of a link, normally the hub.
type ServerConfig struct {
	NodeID  string
	PortID  string
	Session session.Config
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		NodeID:  "hub",
		PortID:  "wasm.hub",
		Session: session.DefaultConfig(),
	}
}

// Server answers handshakes and routes packets between accepted channels.
type Server struct {
	cfg    ServerConfig
	module transport.Module
	auth   auth.Validator
	opts   options

	mu          sync.Mutex
	links       map[string]*Link
	nextChannel uint64
	wg          sync.WaitGroup
}

func NewServer(cfg ServerConfig, module transport.Module, validator auth.Validator, opts ...Option) *Server {
	def := DefaultServerConfig()
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = def.NodeID
	}
	if strings.TrimSpace(cfg.PortID) == "" {
		cfg.PortID = def.PortID
	}
	cfg.Session = cfg.Session.WithDefaults()
	if validator == nil {
		validator = auth.AllowAll{}
	}
	return &Server{
		cfg:    cfg,
		module: module,
		auth:   validator,
		opts:   buildOptions(opts),
		links:  make(map[string]*Link),
	}
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln Listener) error {
	if err := closeStale(ctx, s.cfg.NodeID, s.module, s.opts.now); err != nil {
		return err
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.closeAll()
	}()
	log.Info().Str("node", s.cfg.NodeID).Str("addr", ln.Addr().String()).Msg("link.Server.Serve listening")

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || isClosedErr(err) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Channels returns the channels with a live connection, by channel id.
func (s *Server) Channels() []transport.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Channel, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l.Channel())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Endpoint.ChannelID < out[j].Endpoint.ChannelID
	})
	return out
}

func (s *Server) handleConn(ctx context.Context, conn Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr()
	link, err := s.handshake(ctx, conn)
	observability.RecordHandshake(s.cfg.NodeID, err)
	if err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("link.Server handshake failed")
		return
	}
	s.register(link)
	defer s.unregister(link)
	log.Info().
		Str("remote", remote).
		Str("channel", link.Channel().Endpoint.ChannelID).
		Str("counterparty", link.Channel().CounterpartyEndpoint.Key()).
		Msg("link.Server channel open")

	if err := link.serve(ctx); err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("link.Server link ended")
	}
}

func (s *Server) handshake(ctx context.Context, conn Conn) (*Link, error) {
	_ = conn.SetDeadline(time.Now().Add(s.cfg.Session.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	f, err := frame.ReadFrame(conn, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	id := f.Header.MessageID
	if err := s.auth.Validate(string(f.Auth)); err != nil {
		s.reject(conn, id, classAuth, err)
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	var init session.OpenInit
	if err := session.Decode(f, frame.TypeChanOpenInit, &init); err != nil {
		s.reject(conn, id, string(protocol.ClassViolation), err)
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	channel := transport.Channel{
		Endpoint:             transport.Endpoint{PortID: s.cfg.PortID, ChannelID: s.allocChannelID()},
		CounterpartyEndpoint: init.Channel.Endpoint,
		Order:                init.Channel.Order,
		Version:              protocol.ChannelVersion,
		ConnectionID:         init.Channel.ConnectionID,
	}
	env := transport.Env{Time: s.opts.now()}
	err = s.module.ChannelOpen(ctx, env, transport.ChannelOpenMsg{Channel: channel, CounterpartyVersion: init.Channel.Version})
	observability.RecordCallback(s.cfg.NodeID, "channel_open", err)
	if err != nil {
		s.reject(conn, id, string(protocol.Classify(err)), err)
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if err := s.write(conn, frame.TypeChanOpenTry, id, session.OpenTry{NodeID: s.cfg.NodeID, Channel: channel}); err != nil {
		return nil, err
	}

	var ack session.OpenAck
	f, err = session.ReadMessage(conn, frame.TypeChanOpenAck, &ack)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	id = f.Header.MessageID
	if ack.ChannelID != channel.Endpoint.ChannelID {
		err := fmt.Errorf("%w: open_ack for %s, expected %s", session.ErrInvalidMessage, ack.ChannelID, channel.Endpoint.ChannelID)
		s.reject(conn, id, string(protocol.ClassViolation), err)
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	resp, err := s.module.ChannelConnect(ctx, transport.Env{Time: s.opts.now()}, transport.ChannelConnectMsg{Channel: channel})
	observability.RecordCallback(s.cfg.NodeID, "channel_connect", err)
	if err != nil {
		s.reject(conn, id, string(protocol.Classify(err)), err)
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	link := newLink(s.cfg.NodeID, conn, s.module, channel, s.cfg.Session, s.opts.now, s.dispatch)
	if err := s.write(conn, frame.TypeChanOpenConfirm, id, session.OpenConfirm{ChannelID: channel.Endpoint.ChannelID}); err != nil {
		link.teardown(ctx)
		return nil, err
	}
	s.opts.emit(resp.Events)
	return link, nil
}

func (s *Server) write(conn Conn, t frame.MessageType, id uint64, v any) error {
	f, err := session.EncodeResponse(t, id, v)
	if err != nil {
		return err
	}
	return frame.WriteFrame(conn, f, frame.DefaultLimits())
}

func (s *Server) reject(conn Conn, id uint64, class string, cause error) {
	if err := frame.WriteFrame(conn, session.EncodeError(id, class, cause), frame.DefaultLimits()); err != nil {
		log.Debug().Err(err).Msg("link.Server reject write failed")
	}
}

func (s *Server) allocChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("channel-%d", s.nextChannel)
	s.nextChannel++
	return id
}

// dispatch sends each outbound packet on the link owning its channel id.
func (s *Server) dispatch(_ context.Context, resp transport.Response) {
	s.opts.emit(resp.Events)
	for _, out := range resp.Packets {
		s.mu.Lock()
		l, ok := s.links[out.ChannelID]
		s.mu.Unlock()
		if !ok {
			log.Warn().Str("channel", out.ChannelID).Msg("link.Server packet for unknown channel dropped")
			continue
		}
		if err := l.Send(out); err != nil && !errors.Is(err, ErrWriteQueueFull) {
			log.Warn().Err(err).Str("channel", out.ChannelID).Msg("link.Server send failed")
		}
	}
}

func (s *Server) register(l *Link) {
	s.mu.Lock()
	s.links[l.Channel().Endpoint.ChannelID] = l
	n := len(s.links)
	s.mu.Unlock()
	observability.SetOpenChannels(s.cfg.NodeID, n)
}

func (s *Server) unregister(l *Link) {
	s.mu.Lock()
	delete(s.links, l.Channel().Endpoint.ChannelID)
	n := len(s.links)
	s.mu.Unlock()
	observability.SetOpenChannels(s.cfg.NodeID, n)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	links := make([]*Link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	s.mu.Unlock()
	for _, l := range links {
		_ = l.Close()
	}
}
