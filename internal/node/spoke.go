package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/relaychat/internal/api"
	"github.com/danmuck/relaychat/internal/auth"
	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/discovery"
	"github.com/danmuck/relaychat/internal/link"
	"github.com/danmuck/relaychat/internal/protocol/session"
	"github.com/danmuck/relaychat/internal/spoke"
	"github.com/danmuck/relaychat/internal/store"
	"github.com/danmuck/relaychat/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var ErrHubAddressRequired = errors.New("node: hub address required unless discovery is enabled")

// SpokeConfig configures a spoke daemon.
type SpokeConfig struct {
	NodeID             string
	Network            string
	PortID             string
	HubAddr            string
	Discover           bool
	HubName            string
	DiscoverTimeout    time.Duration
	HTTPAddr           string
	CORSOrigins        []string
	JoinToken          string
	APIToken           string
	APITokenHash       string
	MaxConnectAttempts int
	Store              store.Config
	Session            session.Config
}

func DefaultSpokeConfig() SpokeConfig {
	return SpokeConfig{
		NodeID:          "",
		Network:         chat.NetworkNeutron.String(),
		HubAddr:         "127.0.0.1:7443",
		Discover:        false,
		DiscoverTimeout: 10 * time.Second,
		HTTPAddr:        ":8081",
		Store:           store.DefaultConfig(),
		Session:         session.DefaultConfig(),
	}
}

// Spoke is a running spoke contract with its link client and HTTP surface.
type Spoke struct {
	cfg      SpokeConfig
	network  chat.NetworkID
	store    store.Store
	contract *spoke.Contract
	feed     *api.Feed
	api      *api.SpokeAPI
	router   *gin.Engine
	client   *link.Client
	linkOpts []link.Option

	mu      sync.Mutex
	started bool
	httpSrv *http.Server
	httpLn  net.Listener
	errs    chan error
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

var _ Node = (*Spoke)(nil)

// NewSpoke opens the store and instantiates (or reopens) the spoke contract.
// Link options are passed through to the link client.
func NewSpoke(ctx context.Context, cfg SpokeConfig, opts ...link.Option) (*Spoke, error) {
	network, err := chat.ParseNetworkID(cfg.Network)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = network.String()
	}
	if strings.TrimSpace(cfg.PortID) == "" {
		cfg.PortID = "wasm." + network.String()
	}
	if cfg.DiscoverTimeout <= 0 {
		cfg.DiscoverTimeout = DefaultSpokeConfig().DiscoverTimeout
	}
	if strings.TrimSpace(cfg.HubAddr) == "" && !cfg.Discover && len(opts) == 0 {
		return nil, ErrHubAddressRequired
	}
	cfg.Session = cfg.Session.WithDefaults()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}
	contract, err := spoke.New(ctx, st, network)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	s := &Spoke{
		cfg:      cfg,
		network:  network,
		store:    st,
		contract: contract,
		feed:     api.NewFeed(),
		router:   api.NewRouter(cfg.NodeID, cfg.CORSOrigins),
	}
	s.linkOpts = append([]link.Option{link.WithEventSink(s.feed)}, opts...)
	s.api = api.NewSpokeAPI(cfg.NodeID, contract, s, auth.New(cfg.APIToken, cfg.APITokenHash), s.feed)
	s.api.RegisterRoutes(s.router)
	return s, nil
}

func (s *Spoke) NodeID() string {
	return s.cfg.NodeID
}

func (s *Spoke) Kind() string {
	return "spoke"
}

func (s *Spoke) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Spoke) Contract() *spoke.Contract {
	return s.contract
}

func (s *Spoke) Network() chat.NetworkID {
	return s.network
}

// Connected reports whether a link to the hub is up.
func (s *Spoke) Connected() bool {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	return client != nil && client.Connected()
}

// Submit forwards an action response to the hub link.
func (s *Spoke) Submit(resp transport.Response) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		s.feed.HandleEvents(resp.Events)
		return link.ErrNotConnected
	}
	return client.Submit(resp)
}

// HTTPAddr is the bound HTTP address, once started.
func (s *Spoke) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// Run blocks until SIGINT or SIGTERM.
func (s *Spoke) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

func (s *Spoke) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Wait()
}

// Start resolves the hub, then runs the link client and HTTP server in the
// background.
func (s *Spoke) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	addr := strings.TrimSpace(s.cfg.HubAddr)
	if s.cfg.Discover {
		lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.DiscoverTimeout)
		peer, err := discovery.Lookup(lookupCtx, s.cfg.HubName)
		cancel()
		if err != nil && addr == "" {
			return fmt.Errorf("node: discover hub: %w", err)
		}
		if err == nil {
			addr = peer.Addr
		}
	}
	client, err := link.NewClient(link.ClientConfig{
		NodeID:             s.cfg.NodeID,
		PortID:             s.cfg.PortID,
		Network:            s.network,
		Address:            addr,
		Token:              s.cfg.JoinToken,
		Session:            s.cfg.Session,
		MaxConnectAttempts: s.cfg.MaxConnectAttempts,
	}, s.contract, s.linkOpts...)
	if err != nil {
		return err
	}

	var httpSrv *http.Server
	var httpLn net.Listener
	if strings.TrimSpace(s.cfg.HTTPAddr) != "" {
		httpSrv, httpLn, err = listenHTTP(s.cfg.HTTPAddr, s.router)
		if err != nil {
			return fmt.Errorf("node: http listen: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.started = true
	s.cancel = cancel
	s.client = client
	s.httpSrv = httpSrv
	s.httpLn = httpLn
	s.errs = make(chan error, 2)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := client.Run(runCtx); err != nil {
			s.errs <- fmt.Errorf("node: link: %w", err)
		}
		cancel()
	}()
	if httpSrv != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.errs <- fmt.Errorf("node: http serve: %w", err)
				cancel()
			}
		}()
		go func() {
			<-runCtx.Done()
			shutdownHTTP(httpSrv)
		}()
	}

	log.Info().
		Str("node", s.cfg.NodeID).
		Str("network", s.network.String()).
		Str("hub", addr).
		Str("http", s.cfg.HTTPAddr).
		Msg("node.Spoke.Start serving")
	return nil
}

func (s *Spoke) Wait() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.mu.Unlock()

	s.wg.Wait()
	closeErr := s.store.Close()
	close(s.errs)
	var errs []error
	for err := range s.errs {
		errs = append(errs, err)
	}
	if closeErr != nil {
		errs = append(errs, closeErr)
	}
	log.Info().Str("node", s.cfg.NodeID).Msg("node.Spoke stopped")
	return errors.Join(errs...)
}

func (s *Spoke) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
