// Package api exposes one host chain over HTTP.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/nametransfer/internal/auth"
	"github.com/danmuck/nametransfer/internal/channel"
	"github.com/danmuck/nametransfer/internal/host"
	"github.com/danmuck/nametransfer/internal/nametransfer"
	"github.com/danmuck/nametransfer/internal/observability"
	"github.com/danmuck/nametransfer/internal/protocol"
	"github.com/danmuck/nametransfer/internal/voucher"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins []string
	// Validator guards mutating routes. Nil leaves them open.
	Validator auth.Validator
}

type Server struct {
	ID      string
	Addr    string
	Started time.Time

	chain     *host.Chain
	validator auth.Validator
	router    *gin.Engine
}

func New(id, addr string, chain *host.Chain, opts Options) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, id))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Server{
		ID:        id,
		Addr:      addr,
		Started:   time.Now(),
		chain:     chain,
		validator: opts.Validator,
		router:    r,
	}
}

func (s *Server) NodeID() string {
	return s.ID
}

func (s *Server) Kind() string {
	return "nametransferd"
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) Chain() *host.Chain {
	return s.chain
}

func (s *Server) RegisterRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": s.ID,
			"chain":   s.chain.ChainID(),
			"version": Version,
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		_, err := s.chain.Channels().List(c.Request.Context())
		status := http.StatusOK
		if err != nil {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   err == nil,
			"uptime":  time.Since(s.Started).String(),
			"service": s.ID,
			"version": Version,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/channels", s.listChannels)
	r.GET("/channels/:channel", s.getChannel)
	r.GET("/collections", s.listCollections)
	r.GET("/collections/:contract/tokens", s.listTokens)
	r.GET("/collections/:contract/tokens/:token", s.getToken)
	r.GET("/packets/pending", s.pendingPackets)
	r.GET("/events", s.listEvents)
	r.GET("/vouchers/derive", s.deriveVoucher)

	guarded := r.Group("/")
	if s.validator != nil {
		guarded.Use(auth.RequireBearer(s.validator))
	}
	guarded.POST("/collections", s.createCollection)
	guarded.POST("/collections/:contract/mint", s.mintToken)
	guarded.POST("/collections/:contract/transfer", s.transferToken)
	guarded.POST("/channels/open", s.openChannel)
	guarded.POST("/channels/connect", s.connectChannel)
	guarded.POST("/channels/:channel/close", s.closeChannel)
	guarded.POST("/transfers", s.sendTransfer)
	guarded.POST("/returns", s.sendReturn)
	guarded.POST("/packets/receive", s.receivePacket)
	guarded.POST("/packets/acknowledge", s.acknowledgePacket)
	guarded.POST("/packets/timeout", s.timeoutPacket)
}

func (s *Server) Serve() error {
	s.RegisterRoutes()
	return s.router.Run(s.Addr)
}

// errorStatus maps domain errors onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, channel.ErrUnknownChannel),
		errors.Is(err, host.ErrUnknownCollection),
		errors.Is(err, host.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, host.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, channel.ErrChannelAlreadyExists),
		errors.Is(err, channel.ErrChannelClosingNotAllowed),
		errors.Is(err, host.ErrCollectionExists),
		errors.Is(err, host.ErrTokenExists),
		errors.Is(err, host.ErrAlreadyReceived),
		errors.Is(err, host.ErrNoCommitment),
		errors.Is(err, host.ErrCommitmentMismatch):
		return http.StatusConflict
	case errors.Is(err, channel.ErrInvalidIbcVersion),
		errors.Is(err, channel.ErrOrderedChannel),
		errors.Is(err, channel.ErrMissingChannelID),
		errors.Is(err, channel.ErrInvalidChannelID),
		errors.Is(err, protocol.ErrInvalidPayload),
		errors.Is(err, protocol.ErrUnknownVariant),
		errors.Is(err, protocol.ErrMissingField),
		errors.Is(err, host.ErrInvalidRequest),
		errors.Is(err, host.ErrPacketTimedOut),
		errors.Is(err, host.ErrTimeoutNotReached),
		errors.Is(err, voucher.ErrUnknownScheme),
		errors.Is(err, nametransfer.ErrVoucherCollectionUnset):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
