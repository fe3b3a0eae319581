package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"traxis/internal/advisor"
	"traxis/internal/config"
	"traxis/internal/engine"
	"traxis/internal/exchange/binance"
	"traxis/internal/logger"
	"traxis/internal/monitoring"
	"traxis/internal/pkg/circuit"
	"traxis/internal/portfolio"
	"traxis/internal/risk"
	"traxis/internal/store/gormstore"
	"traxis/internal/stream"
	"traxis/internal/trader"
	httpapi "traxis/internal/transport/http"
)

// App owns construction and orchestration: config in, wired components out,
// everything supervised under one errgroup.
type App struct {
	provider *config.Provider
	cfgPath  string

	metrics    *monitoring.Metrics
	breaker    *circuit.Breaker
	book       *portfolio.Book
	store      *gormstore.Store
	trader     *trader.Trader
	supervisor *stream.Supervisor
	engine     *engine.Engine
	httpSrv    *httpapi.Server
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}
	logger.SetLevel(cfg.App.LogLevel)

	// Secrets may live in the environment (.env) instead of the config file.
	if cfg.Exchange.APIKey == "" {
		cfg.Exchange.APIKey = os.Getenv("BINANCE_API_KEY")
	}
	if cfg.Exchange.APISecret == "" {
		cfg.Exchange.APISecret = os.Getenv("BINANCE_API_SECRET")
	}
	if cfg.Advisor.APIKey == "" {
		cfg.Advisor.APIKey = os.Getenv("ADVISOR_API_KEY")
	}

	provider := config.NewProvider(cfg)
	metrics := monitoring.NewMetrics()

	breaker := circuit.NewBreaker("exchange",
		cfg.Resilience.FailureThreshold,
		time.Duration(cfg.Resilience.DowntimeTripSeconds)*time.Second)
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("app: breaker %s %s -> %s", name, from, to)
		metrics.BreakerState(name, to == circuit.StateOpen)
	})

	exch := binance.New(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Testnet,
		time.Duration(cfg.Exchange.TimeoutSeconds)*time.Second)

	st, err := gormstore.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	book := portfolio.NewBook()
	tr := trader.NewTrader(exch, book, breaker, st, metrics)

	supervisor := stream.NewSupervisor(
		binance.NewUserStream(exch),
		breaker,
		tr,
		tr.OnExecutionReport,
		time.Duration(cfg.Resilience.BackoffBaseMillis)*time.Millisecond,
		time.Duration(cfg.Resilience.BackoffCeilingMillis)*time.Millisecond,
	)

	var advisorClient advisor.Client
	if cfg.Advisor.Enabled {
		advisorClient = advisor.NewHTTPClient(cfg.Advisor.BaseURL, cfg.Advisor.APIKey,
			time.Duration(cfg.Advisor.TimeoutSeconds)*time.Second)
	}

	eng := engine.New(provider, exch, risk.NewManager(), tr, book, st, metrics, advisorClient)

	httpSrv, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Provider: provider,
		Book:     book,
		Trader:   tr,
		Engine:   eng,
		Store:    st,
		Breaker:  breaker,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: http server: %w", err)
	}

	return &App{
		provider:   provider,
		cfgPath:    cfgPath,
		metrics:    metrics,
		breaker:    breaker,
		book:       book,
		store:      st,
		trader:     tr,
		supervisor: supervisor,
		engine:     eng,
		httpSrv:    httpSrv,
	}, nil
}

// Run starts everything and blocks until ctx ends or a component fails.
func (a *App) Run(ctx context.Context) error {
	cfg := a.provider.Current().Config

	if err := a.provider.Watch(a.cfgPath); err != nil {
		logger.Warnf("app: config watch disabled: %v", err)
	}

	a.trader.Start()
	defer a.trader.Stop()
	defer func() {
		if err := a.store.Close(); err != nil {
			logger.Warnf("app: store close failed: %v", err)
		}
	}()

	if err := a.trader.Recover(ctx); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.supervisor.Run(ctx)
		return nil
	})
	group.Go(func() error {
		return a.engine.Run(ctx)
	})
	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		a.reconcileLoop(ctx, time.Duration(cfg.Resilience.ReconcileSeconds)*time.Second)
		return nil
	})
	group.Go(func() error {
		a.snapshotLoop(ctx, time.Duration(cfg.Store.SnapshotIntervalSeconds)*time.Second)
		return nil
	})

	logger.Infof("app: started, http=%s symbols=%v timeframe=%s",
		a.httpSrv.Addr(), cfg.Market.Symbols, cfg.Market.Timeframe)
	return group.Wait()
}

// reconcileLoop runs the periodic safety-net reconcile between the
// event-driven ones the stream supervisor triggers.
func (a *App) reconcileLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.trader.Reconcile(ctx); err != nil {
				logger.Warnf("app: periodic reconcile failed: %v", err)
			}
		}
	}
}

func (a *App) snapshotLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := a.book.Snapshot()
			a.metrics.PortfolioSnapshot(snap.Equity, len(snap.OpenPositions))
			if err := a.store.RecordSnapshot(ctx, snap); err != nil {
				logger.Warnf("app: portfolio snapshot failed: %v", err)
			}
		}
	}
}
