package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/nametransfer/internal/api"
	"github.com/danmuck/nametransfer/internal/auth"
	"github.com/danmuck/nametransfer/internal/host"
	"github.com/danmuck/nametransfer/internal/store"
	"github.com/danmuck/nametransfer/internal/voucher"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("node: invalid heartbeat interval")
	ErrListenAddrRequired       = errors.New("node: listen address required")
)

var _ Node = (*api.Server)(nil)

// ServiceConfig configures a standalone chain node.
type ServiceConfig struct {
	NodeID            string
	ChainID           string
	ListenAddr        string
	HeartbeatInterval time.Duration
	PortID            string
	ModuleAddress     string
	VoucherCollection string
	VoucherScheme     string
	PacketTimeout     time.Duration
	Store             store.Config
	// APIToken guards mutating routes. Empty leaves them open.
	APIToken    string
	CORSOrigins []string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:            "nametransferd.local",
		ChainID:           "chain-a",
		ListenAddr:        "127.0.0.1:9400",
		HeartbeatInterval: 30 * time.Second,
		PortID:            host.DefaultPortID,
		ModuleAddress:     host.DefaultModuleAddress,
		VoucherCollection: host.DefaultVoucherCollection,
		VoucherScheme:     string(voucher.SchemePath),
		PacketTimeout:     host.DefaultPacketTimeout,
		Store:             store.Config{Driver: store.DriverMemory},
	}
}

// Service runs one chain and its HTTP API until shutdown.
type Service struct {
	cfg    ServiceConfig
	store  store.Store
	chain  *host.Chain
	server *api.Server
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	return &Service{cfg: cfg}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	defer s.closeStore()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("node: listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.serve(ctx, ln)
}

// Server is nil until bootstrap has run.
func (s *Service) Server() *api.Server {
	return s.server
}

func (s *Service) Chain() *host.Chain {
	return s.chain
}

func (s *Service) bootstrap(ctx context.Context) error {
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if strings.TrimSpace(s.cfg.ListenAddr) == "" {
		return ErrListenAddrRequired
	}
	scheme, err := voucher.ParseScheme(s.cfg.VoucherScheme)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, s.cfg.Store)
	if err != nil {
		return err
	}
	chain, err := host.NewChain(host.Config{
		ChainID:           s.cfg.ChainID,
		PortID:            s.cfg.PortID,
		ModuleAddress:     s.cfg.ModuleAddress,
		VoucherCollection: s.cfg.VoucherCollection,
		VoucherScheme:     scheme,
		PacketTimeout:     s.cfg.PacketTimeout,
		Store:             st,
	})
	if err != nil {
		if c, ok := st.(io.Closer); ok {
			_ = c.Close()
		}
		return err
	}

	opts := api.Options{CORSOrigins: s.cfg.CORSOrigins}
	if s.cfg.APIToken != "" {
		opts.Validator = auth.StaticToken{Token: s.cfg.APIToken}
	} else {
		log.Warn().Str("node", s.cfg.NodeID).Msg("node.Service.bootstrap api token unset, mutating routes are open")
	}
	s.store = st
	s.chain = chain
	s.server = api.New(s.cfg.NodeID, s.cfg.ListenAddr, chain, opts)
	s.server.RegisterRoutes()

	log.Info().
		Str("node", s.cfg.NodeID).
		Str("chain", chain.ChainID()).
		Str("port", chain.PortID()).
		Str("store", s.cfg.Store.Driver).
		Str("voucher_collection", chain.VoucherCollection()).
		Msg("node.Service.bootstrap ready")
	return nil
}

func (s *Service) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.server.HTTPRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	log.Info().Str("node", s.cfg.NodeID).Str("addr", ln.Addr().String()).Msg("node.Service.serve listening")

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("node", s.cfg.NodeID).Msg("node.Service.serve shutdown")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return nil
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ticker.C:
			s.heartbeat(ctx)
		}
	}
}

func (s *Service) heartbeat(ctx context.Context) {
	channels, err := s.chain.Channels().List(ctx)
	if err != nil {
		log.Warn().Err(err).Str("node", s.cfg.NodeID).Msg("node.Service.heartbeat channel list failed")
		return
	}
	log.Info().
		Str("node", s.cfg.NodeID).
		Str("chain", s.chain.ChainID()).
		Int("channels", len(channels)).
		Int("pending_packets", len(s.chain.PendingPackets())).
		Int("events", len(s.chain.Events())).
		Msg("node.Service.heartbeat")
}

func (s *Service) closeStore() {
	if c, ok := s.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("node.Service store close failed")
		}
	}
}
