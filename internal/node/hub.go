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

	"github.com/danmuck/relaychat/internal/api"
	"github.com/danmuck/relaychat/internal/auth"
	"github.com/danmuck/relaychat/internal/discovery"
	"github.com/danmuck/relaychat/internal/hub"
	"github.com/danmuck/relaychat/internal/link"
	"github.com/danmuck/relaychat/internal/protocol/session"
	"github.com/danmuck/relaychat/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// HubConfig configures a hub daemon.
type HubConfig struct {
	NodeID        string
	PortID        string
	ListenAddr    string
	HTTPAddr      string
	CORSOrigins   []string
	JoinToken     string
	JoinTokenHash string
	Advertise     bool
	Store         store.Config
	Session       session.Config
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		NodeID:     "hub",
		PortID:     "wasm.hub",
		ListenAddr: ":7443",
		HTTPAddr:   ":8080",
		Advertise:  false,
		Store:      store.DefaultConfig(),
		Session:    session.DefaultConfig(),
	}
}

// Hub is a running hub contract with its link server and HTTP surface.
type Hub struct {
	cfg      HubConfig
	store    store.Store
	contract *hub.Contract
	server   *link.Server
	router   *gin.Engine

	mu       sync.Mutex
	started  bool
	linkLn   link.Listener
	httpSrv  *http.Server
	httpLn   net.Listener
	mdns     *discovery.Discovery
	errs     chan error
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

var _ Node = (*Hub)(nil)

// NewHub opens the store and instantiates (or reopens) the hub contract.
func NewHub(ctx context.Context, cfg HubConfig) (*Hub, error) {
	def := DefaultHubConfig()
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = defaultNodeID("hub")
	}
	if strings.TrimSpace(cfg.PortID) == "" {
		cfg.PortID = def.PortID
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	cfg.Session = cfg.Session.WithDefaults()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}
	contract, err := hub.New(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	server := link.NewServer(link.ServerConfig{
		NodeID:  cfg.NodeID,
		PortID:  cfg.PortID,
		Session: cfg.Session,
	}, contract, auth.New(cfg.JoinToken, cfg.JoinTokenHash))

	router := api.NewRouter(cfg.NodeID, cfg.CORSOrigins)
	api.NewHubAPI(cfg.NodeID, contract, server).RegisterRoutes(router)

	return &Hub{
		cfg:      cfg,
		store:    st,
		contract: contract,
		server:   server,
		router:   router,
	}, nil
}

func (h *Hub) NodeID() string {
	return h.cfg.NodeID
}

func (h *Hub) Kind() string {
	return "hub"
}

func (h *Hub) HTTPRouter() *gin.Engine {
	return h.router
}

func (h *Hub) Contract() *hub.Contract {
	return h.contract
}

func (h *Hub) Server() *link.Server {
	return h.server
}

// LinkAddr is the bound link listener address, once started.
func (h *Hub) LinkAddr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.linkLn == nil {
		return ""
	}
	return h.linkLn.Addr().String()
}

// HTTPAddr is the bound HTTP address, once started.
func (h *Hub) HTTPAddr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.httpLn == nil {
		return ""
	}
	return h.httpLn.Addr().String()
}

// Run blocks until SIGINT or SIGTERM.
func (h *Hub) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return h.Serve(ctx)
}

// Serve starts the hub and blocks until ctx is done or a listener fails.
func (h *Hub) Serve(ctx context.Context) error {
	if err := h.Start(ctx); err != nil {
		return err
	}
	return h.Wait()
}

// Start binds the link and HTTP listeners and serves them in the background.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return ErrAlreadyStarted
	}

	linkLn, err := link.Listen(h.cfg.Session, h.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("node: link listen: %w", err)
	}
	var httpSrv *http.Server
	var httpLn net.Listener
	if strings.TrimSpace(h.cfg.HTTPAddr) != "" {
		httpSrv, httpLn, err = listenHTTP(h.cfg.HTTPAddr, h.router)
		if err != nil {
			_ = linkLn.Close()
			return fmt.Errorf("node: http listen: %w", err)
		}
	}
	if h.cfg.Advertise {
		port, err := portOf(linkLn.Addr())
		if err == nil {
			h.mdns, err = discovery.Publish(h.cfg.NodeID, port)
		}
		if err != nil {
			log.Warn().Err(err).Msg("node.Hub.Start advertise skipped")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.started = true
	h.cancel = cancel
	h.linkLn = linkLn
	h.httpSrv = httpSrv
	h.httpLn = httpLn
	h.errs = make(chan error, 2)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.server.Serve(runCtx, linkLn); err != nil {
			h.errs <- fmt.Errorf("node: link serve: %w", err)
		}
		cancel()
	}()
	if httpSrv != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.errs <- fmt.Errorf("node: http serve: %w", err)
				cancel()
			}
		}()
		go func() {
			<-runCtx.Done()
			shutdownHTTP(httpSrv)
		}()
	}

	log.Info().
		Str("node", h.cfg.NodeID).
		Str("link", linkLn.Addr().String()).
		Str("http", h.cfg.HTTPAddr).
		Str("transport", string(h.cfg.Session.Transport)).
		Msg("node.Hub.Start serving")
	return nil
}

// Wait blocks until the hub stops and releases its resources.
func (h *Hub) Wait() error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return ErrNotStarted
	}
	h.mu.Unlock()

	h.wg.Wait()
	_ = h.mdns.Close()
	closeErr := h.store.Close()
	close(h.errs)
	var errs []error
	for err := range h.errs {
		errs = append(errs, err)
	}
	if closeErr != nil {
		errs = append(errs, closeErr)
	}
	log.Info().Str("node", h.cfg.NodeID).Msg("node.Hub stopped")
	return errors.Join(errs...)
}

// Stop cancels a started hub. Wait still has to be called.
func (h *Hub) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
