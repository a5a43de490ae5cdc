package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"x402arcade/internal/arcade"
	"x402arcade/internal/config"
	"x402arcade/internal/prizepool"
	"x402arcade/internal/settlement"
	"x402arcade/internal/storage"
	"x402arcade/internal/x402"
)

// PayoutHistory lists past prize payouts. Implemented by the storage
// package; nil when running without a database.
type PayoutHistory interface {
	ListPayoutHistory(ctx context.Context, limit int) ([]storage.PayoutRow, error)
}

// Deps carries the wired components the server routes to.
type Deps struct {
	Coordinator *settlement.Coordinator
	Verifier    *settlement.Verifier
	Refunds     *settlement.Processor
	Sessions    *arcade.Sessions
	Boards      *arcade.Leaderboard
	Games       []arcade.Game
	Pools       *prizepool.Manager
	Sink        prizepool.PayoutSink
	History     PayoutHistory
}

// Server exposes the facilitator surface and the arcade API.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger
	engine *gin.Engine

	coordinator *settlement.Coordinator
	verifier    *settlement.Verifier
	refunds     *settlement.Processor
	sessions    *arcade.Sessions
	boards      *arcade.Leaderboard
	games       []arcade.Game
	pools       *prizepool.Manager
	sink        prizepool.PayoutSink
	history     PayoutHistory

	requirements x402.Requirements
	metrics      *Metrics
	pending      *PendingPayments
	started      time.Time
}

// New wires the HTTP layer over the settlement and arcade components.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Server {
	if cfg.App.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:         cfg,
		logger:      logger.With().Str("component", "server").Logger(),
		coordinator: deps.Coordinator,
		verifier:    deps.Verifier,
		refunds:     deps.Refunds,
		sessions:    deps.Sessions,
		boards:      deps.Boards,
		games:       deps.Games,
		pools:       deps.Pools,
		sink:        deps.Sink,
		history:     deps.History,
		requirements: x402.Requirements{
			Token:     cfg.Payment.Token,
			Recipient: cfg.Payment.Recipient,
			Amount:    cfg.Payment.Amount,
			Network:   cfg.Payment.Network,
		},
		metrics: NewMetrics(),
		pending: NewPendingPayments(),
		started: time.Now().UTC(),
	}

	s.engine = s.buildEngine()
	return s
}

func (s *Server) buildEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(RequestID())
	engine.Use(RequestLogger(s.logger))
	engine.Use(recoverPanics(s.logger))

	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", s.metrics.Handler())
	engine.GET("/supported", s.handleSupported)

	paymentRoutes := engine.Group("")
	if s.cfg.RateLimit.Enabled {
		limiter := NewAddressLimiter(s.cfg.RateLimit.Requests, s.cfg.RateLimit.Window)
		paymentRoutes.Use(limiter.Middleware())
	}
	paymentRoutes.POST("/settle", s.handleSettle)
	paymentRoutes.POST("/verify", s.handleVerify)
	paymentRoutes.POST("/refund", s.handleRefund)
	paymentRoutes.POST("/api/games/:game/session", s.guardGame, s.requireGamePayment(), s.handleStartSession)

	api := engine.Group("/api")
	api.GET("/games", s.handleListGames)
	api.GET("/session/:id", s.handleGetSession)
	api.POST("/session/:id/score", s.handleSubmitScore)
	api.GET("/leaderboard/:game", s.handleLeaderboard)
	api.GET("/prizes/history", s.handlePrizeHistory)

	return engine
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until ctx is cancelled, then drains within the shutdown
// timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info().Msg("draining http server")
	return srv.Shutdown(shutdownCtx)
}
