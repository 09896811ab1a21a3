package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clearwinbot/internal/crypto"
	"github.com/alanyoungcy/clearwinbot/internal/domain"
	"github.com/alanyoungcy/clearwinbot/internal/executor"
	"github.com/alanyoungcy/clearwinbot/internal/metrics"
	"github.com/alanyoungcy/clearwinbot/internal/notify"
	"github.com/alanyoungcy/clearwinbot/internal/pipeline"
	"github.com/alanyoungcy/clearwinbot/internal/platform/polymarket"
	"github.com/alanyoungcy/clearwinbot/internal/retry"
	"github.com/alanyoungcy/clearwinbot/internal/server"
	"github.com/alanyoungcy/clearwinbot/internal/server/handler"
	"github.com/alanyoungcy/clearwinbot/internal/server/ws"
	"github.com/alanyoungcy/clearwinbot/internal/service"
	"github.com/alanyoungcy/clearwinbot/internal/strategy"
	"github.com/alanyoungcy/clearwinbot/internal/tradelog"
)

const defaultIdempotencyTTL = 24 * time.Hour

// build assembles the scan loop for mode and registers the background loops
// that the wired dependencies allow.
func (a *App) build(ctx context.Context, mode domain.Mode, deps *Dependencies) (*pipeline.Orchestrator, error) {
	m := metrics.New(a.registry)

	book := service.NewExposureBook(dec(a.cfg.Risk.PerMarketCap), dec(a.cfg.Risk.TotalCap))
	book.OnChange(func(committed, reserved decimal.Decimal) {
		m.SetExposure(committed.InexactFloat64(), reserved.InexactFloat64())
	})
	if err := a.restorePositions(ctx, mode, book, deps.PositionStore); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: a.cfg.Scan.CallTimeout.Duration}
	gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost, httpClient)

	exec, clob, err := a.buildExecutor(ctx, mode, deps, httpClient)
	if err != nil {
		return nil, err
	}

	policy := a.retryPolicy()
	gateway := service.NewMarketGateway(gamma, clob, service.GatewayConfig{
		PageSize: a.cfg.Scan.PageSize,
		MaxPages: a.cfg.Scan.MaxPages,
		Retry:    policy,
	}, m, a.logger)

	scanner := strategy.NewClearWinScanner(strategy.ClearWinConfig{
		MinPrice:     dec(a.cfg.Strategy.MinPrice),
		MaxPrice:     dec(a.cfg.Strategy.MaxPrice),
		MinHorizon:   a.cfg.Strategy.MinHorizon.Duration,
		MaxHorizon:   a.cfg.Strategy.MaxHorizon.Duration,
		MinLiquidity: dec(a.cfg.Strategy.MinLiquidity),
	}, nil, a.logger)

	risk := service.NewRiskService(book, service.RiskConfig{
		Bankroll:        dec(a.cfg.Risk.Bankroll),
		CapitalFraction: dec(a.cfg.Risk.CapitalFraction),
		PerTradeCap:     dec(a.cfg.Risk.PerTradeCap),
		PerMarketCap:    dec(a.cfg.Risk.PerMarketCap),
		TotalCap:        dec(a.cfg.Risk.TotalCap),
		MinOrderSize:    dec(a.cfg.Risk.MinOrderSize),
	}, a.logger)

	ttl := a.cfg.Redis.IdempotencyTTL.Duration
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	ledger := executor.NewLedger(ttl, deps.Idempotency)

	engine := executor.NewEngine(exec, book, ledger, a.buildSink(deps), deps.PositionStore, m, policy, a.logger)

	loop := pipeline.NewScanLoop(gateway, scanner, risk, engine, pipeline.LoopConfig{
		Interval:     a.cfg.Scan.Interval.Duration,
		CycleTimeout: a.cfg.Scan.CycleTimeout.Duration,
		Workers:      a.cfg.Scan.Workers,
		Once:         a.cfg.Scan.Once,
	}, pipeline.ScanDeps{
		Lock:     deps.LockManager,
		Bus:      deps.SignalBus,
		Notifier: deps.Notifier,
		Metrics:  m,
	}, a.logger)

	orch := pipeline.NewOrchestrator(loop, a.logger)

	if a.cfg.Resolution.Enabled {
		orch.Add("resolution", service.NewResolutionTracker(
			book, gamma, deps.PositionStore, deps.SignalBus, deps.Notifier, m,
			a.cfg.Resolution.Interval.Duration, a.logger,
		))
	}
	if deps.Archiver != nil {
		orch.Add("archive", pipeline.NewArchiveLoop(
			deps.Archiver, a.cfg.Archive.Retention.Duration, a.cfg.Archive.Interval.Duration, a.logger,
		))
	}
	if a.cfg.Server.Enabled {
		orch.Add("server", a.buildServer(mode, deps, book))
	}

	a.logger.InfoContext(ctx, "app: pipeline ready",
		slog.String("mode", string(mode)),
		slog.Bool("postgres", deps.PositionStore != nil),
		slog.Bool("redis", deps.SignalBus != nil),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Bool("notify", deps.Notifier.Enabled()),
	)
	return orch, nil
}

// buildExecutor returns the order executor for mode and the CLOB client used
// for order books. Live mode fails when the wallet key or the L2 credentials
// cannot be obtained.
func (a *App) buildExecutor(ctx context.Context, mode domain.Mode, deps *Dependencies, httpClient *http.Client) (executor.OrderExecutor, *polymarket.ClobClient, error) {
	if mode == domain.ModePaper {
		return executor.NewPaperExecutor(), polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, httpClient, nil, nil), nil
	}

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build executor: load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key, a.cfg.Polymarket.ChainID, a.cfg.Polymarket.ExchangeAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("build executor: create signer: %w", err)
	}

	clob := polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, httpClient, signer, nil)
	if err := clob.DeriveAPIKey(ctx); err != nil {
		return nil, nil, fmt.Errorf("build executor: derive api key: %w", err)
	}
	a.logger.InfoContext(ctx, "app: live trading enabled",
		slog.String("address", signer.Address().Hex()),
		slog.Bool("rate_limited", deps.RateLimiter != nil),
	)

	live := executor.NewLiveExecutor(clob, signer, deps.RateLimiter, executor.LiveConfig{
		OrderType:     strings.ToUpper(a.cfg.Polymarket.OrderType),
		SignatureType: a.cfg.Polymarket.SignatureType,
		FunderAddress: a.cfg.Wallet.FunderAddress,
	}, a.logger)
	return live, clob, nil
}

// buildSink fans every trade record out to the CSV log and to whichever of
// Postgres, the signal bus and the notifier are available.
func (a *App) buildSink(deps *Dependencies) domain.TradeSink {
	sinks := []domain.TradeSink{deps.TradeLog}
	if deps.TradeStore != nil {
		sinks = append(sinks, tradelog.NewStoreSink(deps.TradeStore))
	}
	if deps.SignalBus != nil {
		sinks = append(sinks, tradelog.NewBusSink(deps.SignalBus))
	}
	if deps.Notifier.Enabled() {
		sinks = append(sinks, notify.NewTradeAlerts(deps.Notifier))
	}
	return tradelog.NewMulti(a.logger, sinks...)
}

func (a *App) buildServer(mode domain.Mode, deps *Dependencies, book *service.ExposureBook) *server.Server {
	startedAt := time.Now().UTC()

	var trades handler.TradeLister = deps.TradeLog
	if deps.TradeStore != nil {
		trades = deps.TradeStore
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, ws.Config{
			Mode:          string(mode),
			StartedAt:     startedAt,
			OpenPositions: func() int { return len(book.Positions()) },
		}, a.logger)
	}

	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RatePerMin:  a.cfg.Server.RatePerMin,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(string(mode), startedAt),
		Exposure: handler.NewExposureHandler(book),
		Trades:   handler.NewTradeHandler(trades, a.logger),
	}, server.Deps{
		Hub:      hub,
		Limiter:  deps.RateLimiter,
		Gatherer: a.registry,
	}, a.logger)
}

// restorePositions reloads the open positions of mode so that caps hold across
// restarts. Positions opened in the other mode never count against this book.
func (a *App) restorePositions(ctx context.Context, mode domain.Mode, book *service.ExposureBook, store domain.PositionStore) error {
	if store == nil {
		return nil
	}
	listed, err := store.ListOpen(ctx, mode)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	open := listed[:0:0]
	for _, p := range listed {
		if p.Mode == mode {
			open = append(open, p)
		}
	}
	if dropped := len(listed) - len(open); dropped > 0 {
		a.logger.WarnContext(ctx, "app: skipped positions from another mode",
			slog.String("mode", string(mode)),
			slog.Int("count", dropped),
		)
	}
	book.Restore(open)
	if len(open) > 0 {
		snap := book.Snapshot()
		a.logger.InfoContext(ctx, "app: restored open positions",
			slog.Int("count", len(open)),
			slog.String("committed", snap.TotalCommitted.String()),
		)
	}
	return nil
}

func (a *App) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		BaseDelay:   a.cfg.Retry.BackoffBase.Duration,
		MaxDelay:    a.cfg.Retry.BackoffMax.Duration,
		CallTimeout: a.cfg.Scan.CallTimeout.Duration,
	}
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }
