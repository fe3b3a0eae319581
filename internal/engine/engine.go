package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"traxis/internal/advisor"
	"traxis/internal/config"
	"traxis/internal/logger"
	"traxis/internal/market"
	"traxis/internal/monitoring"
	"traxis/internal/portfolio"
	"traxis/internal/risk"
	"traxis/internal/scheduler"
	"traxis/internal/signal"
	"traxis/internal/trader"
)

// DecisionRecorder archives risk decisions; nil disables archiving.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, d risk.Decision) error
}

// Evaluation is one symbol's complete cycle outcome, kept in a bounded ring
// for the status API.
type Evaluation struct {
	Analysis signal.CombinedAnalysis `json:"analysis"`
	Decision risk.Decision           `json:"decision"`
	OrderID  string                  `json:"order_id,omitempty"`
	Error    string                  `json:"error,omitempty"`
	At       time.Time               `json:"at"`
}

const recentEvaluations = 128

// Engine drives the evaluation pipeline: candles in, combined analysis,
// risk decision, order out. One cycle per candle close across all symbols.
type Engine struct {
	provider *config.Provider
	candles  market.CandleSource
	riskman  *risk.Manager
	trader   *trader.Trader
	book     *portfolio.Book
	recorder DecisionRecorder
	metrics  *monitoring.Metrics
	advisor  advisor.Client

	mu     sync.Mutex
	recent []Evaluation
}

func New(provider *config.Provider, candles market.CandleSource, riskman *risk.Manager, tr *trader.Trader, book *portfolio.Book, recorder DecisionRecorder, metrics *monitoring.Metrics, advisorClient advisor.Client) *Engine {
	return &Engine{
		provider: provider,
		candles:  candles,
		riskman:  riskman,
		trader:   tr,
		book:     book,
		recorder: recorder,
		metrics:  metrics,
		advisor:  advisorClient,
	}
}

// Run blocks, evaluating all symbols on every candle close until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	cfg := e.provider.Current().Config
	interval, ok := scheduler.ParseIntervalDuration(cfg.Market.Timeframe)
	if !ok {
		return errors.New("engine: unparseable market timeframe " + cfg.Market.Timeframe)
	}
	sched := scheduler.NewAlignedScheduler(ctx, interval, 5*time.Second)
	sched.RunImmediately = true
	sched.Start(func() { e.EvaluateAll(ctx) })
	return ctx.Err()
}

// EvaluateAll runs one cycle over every configured symbol, a few in parallel.
// Each symbol reads its own single config snapshot.
func (e *Engine) EvaluateAll(ctx context.Context) {
	snap := e.provider.Current()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, symbol := range snap.Config.Market.Symbols {
		g.Go(func() error {
			e.evaluateSymbol(gctx, symbol, snap)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) evaluateSymbol(ctx context.Context, symbol string, snap config.Snapshot) {
	cfg := snap.Config
	ev := Evaluation{At: time.Now().UTC()}
	defer func() { e.remember(ev) }()

	candles, err := e.candles.Candles(ctx, symbol, cfg.Market.Timeframe, cfg.Market.CandleLookback)
	if err != nil {
		logger.Warnf("engine: %s candle fetch failed: %v", symbol, err)
		ev.Error = err.Error()
		return
	}
	daily, err := e.candles.Candles(ctx, symbol, cfg.Market.RegimeTimeframe, cfg.Market.RegimeLookback+1)
	if err != nil {
		logger.Warnf("engine: %s regime candle fetch failed, classifying without: %v", symbol, err)
		daily = nil
	}

	combiner := signal.NewCombiner(e.buildRegistry(cfg, symbol))
	analysis := combiner.Combine(ctx, signal.Input{
		Symbol:         symbol,
		Timeframe:      cfg.Market.Timeframe,
		Candles:        candles,
		Daily:          daily,
		Mode:           signal.ParseMode(cfg.Signals.CombinationMode),
		Enabled:        cfg.Signals.Enabled,
		HighConfidence: cfg.Signals.HighConfidence,
		LowConfidence:  cfg.Signals.LowConfidence,
		RegimeSettings: market.RegimeSettings{
			Lookback:          cfg.Market.RegimeLookback,
			VolatileThreshold: cfg.Market.VolatileThreshold,
			TrendDeviationPct: cfg.Market.TrendDeviationPct,
		},
	})
	ev.Analysis = analysis
	e.metrics.CombinedConfidence(symbol, analysis.Confidence)
	logger.Infof("engine: %s", analysis.String())

	entry := market.LastClose(candles)
	e.trader.UpdateMark(symbol, entry)

	atr, err := market.LatestATR(candles, cfg.Risk.ATRPeriod)
	if err != nil {
		// Sizing falls back to the volatility floor path with a zero ATR.
		logger.Warnf("engine: %s ATR unavailable: %v", symbol, err)
		atr = 0
	}

	decision := e.riskman.Evaluate(risk.Input{
		Analysis:   analysis,
		Portfolio:  e.book.Snapshot(),
		EntryPrice: entry,
		ATR:        atr,
		Snapshot:   snap,
	})
	ev.Decision = decision
	e.recordDecision(ctx, decision)

	if !decision.Admit {
		if decision.Reason != risk.RejectNeutral {
			logger.Infof("engine: %s", decision.String())
		}
		return
	}

	order, err := e.trader.Submit(ctx, decision)
	if err != nil {
		if errors.Is(err, trader.ErrSubmissionsHalted) {
			logger.Warnf("engine: %s admitted but submissions are halted", symbol)
		} else {
			logger.Errorf("engine: %s submission failed: %v", symbol, err)
		}
		ev.Error = err.Error()
		return
	}
	if order != nil {
		ev.OrderID = order.ClientOrderID
	}
	logger.Infof("engine: %s submitted %s (trace %s)", symbol, ev.OrderID, decision.TraceID)
}

// buildRegistry constructs the sources from one snapshot so a mid-cycle
// reload cannot hand two sources different parameters.
func (e *Engine) buildRegistry(cfg config.Config, symbol string) *signal.Registry {
	reg := signal.NewRegistry()
	reg.Register(signal.NewMomentumSource(cfg.Signals.Momentum.Period, cfg.Signals.Momentum.Oversold, cfg.Signals.Momentum.Overbought))
	reg.Register(signal.NewTrendCrossSource(cfg.Signals.TrendCross.FastPeriod, cfg.Signals.TrendCross.SlowPeriod))
	reg.Register(signal.NewBreakoutSource(cfg.Signals.Breakout.Period, cfg.Signals.Breakout.StdDev))
	reg.Register(signal.NewVolumeAnomalySource(cfg.Signals.Volume.Lookback, cfg.Signals.Volume.SpikeZ))
	if cfg.Advisor.Enabled && e.advisor != nil {
		reg.Register(advisor.NewSignalSource(e.advisor, symbol, cfg.Market.Timeframe))
	}
	return reg
}

func (e *Engine) recordDecision(ctx context.Context, d risk.Decision) {
	outcome := "admit"
	if !d.Admit {
		outcome = "reject"
		e.metrics.DecisionRejected(d.Symbol, string(d.Reason))
	}
	e.metrics.DecisionEvaluated(d.Symbol, outcome)
	for _, adj := range d.Adjustments {
		e.metrics.DecisionAdjusted(d.Symbol, string(adj))
	}
	if e.recorder != nil {
		if err := e.recorder.RecordDecision(ctx, d); err != nil {
			logger.Warnf("engine: decision archive failed for %s: %v", d.TraceID, err)
		}
	}
}

func (e *Engine) remember(ev Evaluation) {
	e.mu.Lock()
	e.recent = append(e.recent, ev)
	if len(e.recent) > recentEvaluations {
		e.recent = e.recent[len(e.recent)-recentEvaluations:]
	}
	e.mu.Unlock()
}

// RecentEvaluations returns the newest evaluations, most recent first.
func (e *Engine) RecentEvaluations(limit int) []Evaluation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.recent) {
		limit = len(e.recent)
	}
	out := make([]Evaluation, 0, limit)
	for i := len(e.recent) - 1; i >= len(e.recent)-limit; i-- {
		out = append(out, e.recent[i])
	}
	return out
}
