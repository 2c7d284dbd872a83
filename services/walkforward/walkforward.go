// Package walkforward evaluates a strategy over rolling train/test
// windows, running an isolated backtest engine per slice and combining
// the out-of-sample equity into one continuous curve.
package walkforward

import (
	"errors"
	"math"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"backtest-services/services/engine"
	"backtest-services/services/market"
	"backtest-services/services/metrics"
)

// Config shapes the rolling windows.
type Config struct {
	TrainPeriodDays int `json:"train_period_days"`
	TestPeriodDays  int `json:"test_period_days"`
	StepDays        int `json:"step_days"`
	MinTrainSamples int `json:"min_train_samples"`

	// MaxParallel bounds concurrent windows; <= 0 means NumCPU.
	// Parallelism is safe because every window owns fresh engines.
	MaxParallel int `json:"max_parallel"`
}

// DefaultConfig rolls six months of training into one month of
// testing, stepping monthly.
func DefaultConfig() Config {
	return Config{
		TrainPeriodDays: 180,
		TestPeriodDays:  30,
		StepDays:        30,
		MinTrainSamples: 1000,
	}
}

// StrategyFactory builds a fresh strategy per window so per-window
// training never leaks across slices.
type StrategyFactory func() engine.Strategy

// FeaturePipeline derives a feature frame from raw bars.
type FeaturePipeline func(*market.Series) *market.Frame

// StateTrainer fits a state model on the training features and returns
// per-bar state vectors for them.
type StateTrainer func(*market.Frame) ([][]float64, error)

// Window is one train/test split with its results.
type Window struct {
	ID         int
	TrainStart time.Time
	TrainEnd   time.Time
	TestStart  time.Time
	TestEnd    time.Time

	TrainResult *engine.Result
	TestResult  *engine.Result

	TrainMetrics metrics.PerformanceMetrics
	TestMetrics  metrics.PerformanceMetrics
}

// Summary aggregates per-window metrics.
type Summary struct {
	Windows      int     `json:"n_windows"`
	SharpeMean   float64 `json:"sharpe_mean"`
	SharpeStd    float64 `json:"sharpe_std"`
	SharpeMin    float64 `json:"sharpe_min"`
	SharpeMax    float64 `json:"sharpe_max"`
	ReturnMean   float64 `json:"return_mean"`
	ReturnStd    float64 `json:"return_std"`
	DrawdownMean float64 `json:"drawdown_mean"`
	DrawdownMax  float64 `json:"drawdown_max"`
	WinRateMean  float64 `json:"win_rate_mean"`
	Consistency  float64 `json:"consistency"`
}

// Result bundles all windows plus the combined out-of-sample view.
type Result struct {
	Windows         []*Window
	CombinedTimes   []time.Time
	CombinedEquity  []float64
	CombinedMetrics metrics.PerformanceMetrics
	TrainSummary    Summary
	TestSummary     Summary
	Config          Config
}

// Validator runs walk-forward validation with a shared backtest config.
type Validator struct {
	cfg   Config
	btCfg engine.Config
	log   *zap.Logger
}

// New builds a validator; the backtest config is validated up front.
func New(cfg Config, btCfg engine.Config, log *zap.Logger) (*Validator, error) {
	if err := btCfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{cfg: cfg, btCfg: btCfg, log: log}, nil
}

var ErrNoWindows = errors.New("no valid walk-forward windows in data range")

// Run slices the data into rolling windows and backtests each train
// and test period with fresh engine instances. Windows execute in
// parallel up to MaxParallel.
func (v *Validator) Run(
	data map[string]*market.Series,
	factory StrategyFactory,
	stateTrainer StateTrainer,
	featurePipeline FeaturePipeline,
) (*Result, error) {
	windows := v.generateWindows(data)
	if len(windows) == 0 {
		return nil, ErrNoWindows
	}
	v.log.Info("walk-forward start", zap.Int("windows", len(windows)))

	limit := v.cfg.MaxParallel
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	var g errgroup.Group
	g.SetLimit(limit)

	for _, w := range windows {
		w := w
		g.Go(func() error {
			return v.runWindow(data, w, factory, stateTrainer, featurePipeline)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Windows: windows, Config: v.cfg}

	var testCurves [][]float64
	var testTimes [][]time.Time
	var allTestTrades []engine.Trade
	var trainMetrics, testMetrics []metrics.PerformanceMetrics
	for _, w := range windows {
		if w.TestResult == nil {
			continue
		}
		times, equity := w.TestResult.EquitySeries()
		if len(equity) > 0 {
			testTimes = append(testTimes, times)
			testCurves = append(testCurves, equity)
		}
		allTestTrades = append(allTestTrades, w.TestResult.Trades...)
		testMetrics = append(testMetrics, w.TestMetrics)
		if w.TrainResult != nil {
			trainMetrics = append(trainMetrics, w.TrainMetrics)
		}
	}

	res.CombinedTimes, res.CombinedEquity = combineEquityCurves(testTimes, testCurves)
	res.CombinedMetrics = metrics.Calculate(
		res.CombinedTimes, res.CombinedEquity, allTestTrades,
		v.btCfg.RiskFreeRate, metrics.DefaultPeriodsPerYear,
	)
	res.TrainSummary = summarize(trainMetrics)
	res.TestSummary = summarize(testMetrics)

	v.log.Info("walk-forward complete",
		zap.Int("windows", len(windows)),
		zap.Float64("oos_sharpe", res.CombinedMetrics.SharpeRatio),
	)
	return res, nil
}

func (v *Validator) runWindow(
	data map[string]*market.Series,
	w *Window,
	factory StrategyFactory,
	stateTrainer StateTrainer,
	featurePipeline FeaturePipeline,
) error {
	trainData, testData := sliceData(data, w)

	trainBars := 0
	for _, s := range trainData {
		trainBars += s.Len()
	}
	if trainBars < v.cfg.MinTrainSamples {
		v.log.Warn("skipping window with insufficient training data",
			zap.Int("window", w.ID), zap.Int("bars", trainBars))
		return nil
	}

	var trainFeatures, testFeatures map[string]*market.Frame
	if featurePipeline != nil {
		trainFeatures = make(map[string]*market.Frame, len(trainData))
		for sym, s := range trainData {
			trainFeatures[sym] = featurePipeline(s)
		}
		testFeatures = make(map[string]*market.Frame, len(testData))
		for sym, s := range testData {
			testFeatures[sym] = featurePipeline(s)
		}
	}

	var trainStates map[string][][]float64
	if stateTrainer != nil {
		trainStates = make(map[string][][]float64, len(trainData))
		for sym, s := range trainData {
			frame := trainFeatures[sym]
			if frame == nil {
				frame = market.FrameFromSeries(s)
			}
			states, err := stateTrainer(frame)
			if err != nil {
				return err
			}
			trainStates[sym] = states
		}
	}

	strat := factory()

	trainEngine, err := engine.New(v.btCfg, v.log)
	if err != nil {
		return err
	}
	w.TrainResult, err = trainEngine.Run(trainData, strat, trainFeatures, trainStates)
	if err != nil {
		return err
	}
	times, equity := w.TrainResult.EquitySeries()
	w.TrainMetrics = metrics.Calculate(times, equity, w.TrainResult.Trades, v.btCfg.RiskFreeRate, metrics.DefaultPeriodsPerYear)

	testEngine, err := engine.New(v.btCfg, v.log)
	if err != nil {
		return err
	}
	w.TestResult, err = testEngine.Run(testData, strat, testFeatures, nil)
	if err != nil {
		return err
	}
	times, equity = w.TestResult.EquitySeries()
	w.TestMetrics = metrics.Calculate(times, equity, w.TestResult.Trades, v.btCfg.RiskFreeRate, metrics.DefaultPeriodsPerYear)
	return nil
}

func (v *Validator) generateWindows(data map[string]*market.Series) []*Window {
	timeline := market.MergeTimeline(data)
	if len(timeline) == 0 {
		return nil
	}
	start := timeline[0]
	end := timeline[len(timeline)-1]

	var windows []*Window
	id := 0
	for cur := start; ; cur = cur.AddDate(0, 0, v.cfg.StepDays) {
		trainEnd := cur.AddDate(0, 0, v.cfg.TrainPeriodDays)
		testEnd := trainEnd.AddDate(0, 0, v.cfg.TestPeriodDays)
		if testEnd.After(end) {
			break
		}
		windows = append(windows, &Window{
			ID:         id,
			TrainStart: cur,
			TrainEnd:   trainEnd,
			TestStart:  trainEnd,
			TestEnd:    testEnd,
		})
		id++
	}
	return windows
}

func sliceData(data map[string]*market.Series, w *Window) (train, test map[string]*market.Series) {
	train = make(map[string]*market.Series)
	test = make(map[string]*market.Series)
	for sym, s := range data {
		if sl := s.Slice(w.TrainStart, w.TrainEnd); sl.Len() > 0 {
			train[sym] = sl
		}
		if sl := s.Slice(w.TestStart, w.TestEnd); sl.Len() > 0 {
			test[sym] = sl
		}
	}
	return train, test
}

// combineEquityCurves chains per-window test curves into one series by
// normalizing each to returns and rescaling from the prior segment's
// endpoint.
func combineEquityCurves(times [][]time.Time, curves [][]float64) ([]time.Time, []float64) {
	var outT []time.Time
	var outV []float64
	scale := 1.0

	for i, curve := range curves {
		if len(curve) == 0 || curve[0] == 0 {
			continue
		}
		startIdx := 0
		if len(outV) > 0 {
			startIdx = 1
		}
		for j := startIdx; j < len(curve); j++ {
			outT = append(outT, times[i][j])
			outV = append(outV, curve[j]/curve[0]*scale)
		}
		scale = curve[len(curve)-1] / curve[0] * scale
	}
	return outT, outV
}

func summarize(ms []metrics.PerformanceMetrics) Summary {
	if len(ms) == 0 {
		return Summary{}
	}
	s := Summary{Windows: len(ms)}

	sharpes := make([]float64, len(ms))
	returns := make([]float64, len(ms))
	positive := 0
	s.SharpeMin = math.Inf(1)
	s.SharpeMax = math.Inf(-1)
	for i, m := range ms {
		sharpes[i] = m.SharpeRatio
		returns[i] = m.TotalReturn
		s.SharpeMean += m.SharpeRatio
		s.ReturnMean += m.TotalReturn
		s.DrawdownMean += m.MaxDrawdown
		s.WinRateMean += m.WinRate
		if m.MaxDrawdown > s.DrawdownMax {
			s.DrawdownMax = m.MaxDrawdown
		}
		if m.SharpeRatio < s.SharpeMin {
			s.SharpeMin = m.SharpeRatio
		}
		if m.SharpeRatio > s.SharpeMax {
			s.SharpeMax = m.SharpeRatio
		}
		if m.SharpeRatio > 0 {
			positive++
		}
	}
	n := float64(len(ms))
	s.SharpeMean /= n
	s.ReturnMean /= n
	s.DrawdownMean /= n
	s.WinRateMean /= n
	s.Consistency = float64(positive) / n
	s.SharpeStd = populationStd(sharpes, s.SharpeMean)
	s.ReturnStd = populationStd(returns, s.ReturnMean)
	return s
}

func populationStd(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}
