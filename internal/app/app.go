package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"x402arcade/internal/arcade"
	"x402arcade/internal/chain"
	"x402arcade/internal/config"
	"x402arcade/internal/ledger"
	"x402arcade/internal/notify"
	"x402arcade/internal/prizepool"
	"x402arcade/internal/scheduler"
	"x402arcade/internal/server"
	"x402arcade/internal/settlement"
	"x402arcade/internal/storage"
	"x402arcade/internal/x402"
)

// noncePruneAge bounds how long consumed nonces are retained. Expired
// authorizations cannot be replayed, so pairs older than any plausible
// validity window are safe to drop.
const noncePruneAge = 48 * time.Hour

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newNotifier() notify.Notifier {
	if a.Config.Notify.Telegram.Enabled {
		cfg := a.Config.Notify.Telegram
		return notify.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newValidator(nonces x402.NonceChecker) *x402.Validator {
	opts := x402.ValidatorOptions{}
	if a.Config.Payment.VerifySignatures {
		domain := a.Config.Payment.Domain
		opts.Domain = &domain
	}
	return x402.NewValidator(nonces, opts)
}

func (a *App) newPoolManager() *prizepool.Manager {
	table := make([]decimal.Decimal, 0, len(a.Config.PrizePool.Percentages))
	for _, pct := range a.Config.PrizePool.Percentages {
		table = append(table, decimal.NewFromFloat(pct))
	}
	return prizepool.NewManager(prizepool.ManagerOptions{
		FeePercent:       decimal.NewFromFloat(a.Config.PrizePool.FeePercent),
		Table:            table,
		MinDistributable: decimal.NewFromFloat(a.Config.PrizePool.MinDistributable),
	})
}

// Serve runs the arcade facilitator: HTTP server, prize finalization, and
// the session/nonce cleanup loop.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; running with in-memory state")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var (
		nonces  ledger.NonceLedger
		records settlement.RecordStore
		memory  *ledger.Memory
	)
	if store != nil {
		nonces = store
		records = store
	} else {
		memory = ledger.NewMemory()
		nonces = memory
		records = settlement.NewMemoryStore()
	}

	var balances settlement.BalanceChecker
	if a.Config.Chain.BalanceCheck {
		balances = chain.NewChecker(chain.Options{
			RPCURL:       a.Config.Chain.RPCURL,
			TokenAddress: a.Config.Payment.Token,
			Timeout:      a.Config.Chain.RequestTimeout,
		}, a.Logger)
	}

	submitter := settlement.NewSimulated(settlement.SimulatedOptions{
		Latency:     a.Config.Settlement.Latency,
		Jitter:      a.Config.Settlement.Jitter,
		FailureRate: a.Config.Settlement.FailureRate,
		StartBlock:  a.Config.Settlement.StartBlock,
	}, a.Logger)

	validator := a.newValidator(nonces)
	coordinator := settlement.NewCoordinator(validator, nonces, records, submitter, a.Logger, settlement.CoordinatorOptions{
		Balances: balances,
	})
	verifier := settlement.NewVerifier(records, a.Logger)
	refunds := settlement.NewProcessor(records, nil, a.Logger)

	games := arcade.DefaultGames()
	sessions := arcade.NewSessions(a.Config.Payment.SessionTTL)
	boards := arcade.NewLeaderboard()
	pools := a.newPoolManager()

	var sink prizepool.PayoutSink
	var locker prizepool.Locker
	var history server.PayoutHistory
	if store != nil {
		sink = store
		locker = store
		history = store
	}

	finalizer := prizepool.NewFinalizer(pools, boards, games, sink, locker, a.Config.Jobs.AdvisoryLockKey, a.newNotifier(), a.Logger)

	finalizeSched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Jobs.FinalizeInterval,
		Offset:       a.Config.Jobs.FinalizeOffset,
		AlignToStart: true,
		StartupDelay: a.Config.Jobs.StartupDelay,
	}, a.Logger)
	go func() {
		if err := finalizeSched.Run(ctx, finalizer.Run); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error().Err(err).Msg("finalization scheduler stopped")
		}
	}()

	cleanupSched := scheduler.New(scheduler.Options{
		Interval: a.Config.Jobs.CleanupInterval,
	}, a.Logger)
	go func() {
		job := func(jobCtx context.Context, _ time.Time) error {
			if expired := sessions.ExpireStale(); expired > 0 {
				a.Logger.Info().Int("expired", expired).Msg("stale sessions expired")
			}
			cutoff := time.Now().UTC().Add(-noncePruneAge)
			if store != nil {
				return store.PruneNoncesBefore(jobCtx, cutoff)
			}
			memory.PruneBefore(cutoff)
			return nil
		}
		if err := cleanupSched.Run(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error().Err(err).Msg("cleanup scheduler stopped")
		}
	}()

	srv := server.New(a.Config, server.Deps{
		Coordinator: coordinator,
		Verifier:    verifier,
		Refunds:     refunds,
		Sessions:    sessions,
		Boards:      boards,
		Games:       games,
		Pools:       pools,
		Sink:        sink,
		History:     history,
	}, a.Logger)

	a.Logger.Info().Msg("starting arcade facilitator")
	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("server terminated with error")
		return err
	}

	a.Logger.Info().Msg("arcade facilitator stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ReportOptions hold parameters for the daily volume report.
type ReportOptions struct {
	From    *time.Time
	To      *time.Time
	PNGPath string
	CSVPath string
	Days    int
}

// SimulateOptions configure the settlement simulation.
type SimulateOptions struct {
	Count       int
	Amount      string
	FailureRate float64
}
