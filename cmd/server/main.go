// Command server exposes the backtest engine over HTTP. Bars are
// loaded from ClickHouse, the engine runs in-process and results are
// returned as JSON and persisted via the report writer.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"backtest-services/services/arrowio"
	"backtest-services/services/clickhouse"
	"backtest-services/services/engine"
	"backtest-services/services/metrics"
	"backtest-services/services/report"
	"backtest-services/strategies"
)

func mustEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

// backtestRequest is the POST /api/v1/backtest payload.
type backtestRequest struct {
	Symbols  []string      `json:"symbols" binding:"required"`
	Interval string        `json:"interval"`
	StartMs  int64         `json:"start_ms" binding:"required"`
	EndMs    int64         `json:"end_ms" binding:"required"`
	Config   engine.Config `json:"config"`

	Momentum *strategies.MomentumConfig `json:"momentum,omitempty"`
}

type backtestResponse struct {
	JobID       string                     `json:"job_id"`
	ReportDir   string                     `json:"report_dir,omitempty"`
	FinalEquity float64                    `json:"final_equity"`
	Metrics     metrics.PerformanceMetrics `json:"metrics"`
	Trades      []engine.Trade             `json:"trades"`
	Events      int                        `json:"events"`
}

type server struct {
	store    *clickhouse.Store
	reporter *report.Writer
	log      *zap.Logger
}

func (s *server) setupRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtest", s.handleBacktest)
		api.GET("/bars", s.handleBarsExport)
		api.GET("/health", s.handleHealth)
	}
}

// handleBarsExport streams one symbol's bars as an Arrow IPC payload
// for downstream columnar tooling.
func (s *server) handleBarsExport(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	interval := c.DefaultQuery("interval", "1m")
	startMs, err1 := strconv.ParseInt(c.Query("start_ms"), 10, 64)
	endMs, err2 := strconv.ParseInt(c.Query("end_ms"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_ms and end_ms must be millisecond epochs"})
		return
	}

	data, err := s.store.LoadBars(c.Request.Context(), []string{symbol}, interval,
		time.UnixMilli(startMs).UTC(), time.UnixMilli(endMs).UTC())
	if err != nil {
		s.log.Error("bar load failed", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	series, ok := data[symbol]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no bars in range"})
		return
	}

	payload, err := arrowio.EncodeBarsBytes(series)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/vnd.apache.arrow.stream", payload)
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *server) handleBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Interval == "" {
		req.Interval = "1m"
	}
	if req.Config == (engine.Config{}) {
		req.Config = engine.DefaultConfig()
	}

	jobID := uuid.NewString()
	start := time.UnixMilli(req.StartMs).UTC()
	end := time.UnixMilli(req.EndMs).UTC()
	s.log.Info("backtest request",
		zap.String("job_id", jobID),
		zap.Strings("symbols", req.Symbols),
		zap.String("interval", req.Interval),
		zap.Time("start", start),
		zap.Time("end", end),
	)

	data, err := s.store.LoadBars(c.Request.Context(), req.Symbols, req.Interval, start, end)
	if err != nil {
		s.log.Error("bar load failed", zap.String("job_id", jobID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// The engine calls the strategy once per symbol and rewrites the
	// default-symbol placeholder, so Symbols stays unset here.
	momCfg := strategies.DefaultMomentumConfig()
	if req.Momentum != nil {
		momCfg = *req.Momentum
	}
	momCfg.Symbols = nil

	eng, err := engine.New(req.Config, s.log)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := eng.Run(data, strategies.NewMomentum(momCfg), nil, nil)
	if err != nil {
		s.log.Error("backtest failed", zap.String("job_id", jobID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	times, equity := result.EquitySeries()
	perf := metrics.Calculate(times, equity, result.Trades, req.Config.RiskFreeRate, metrics.DefaultPeriodsPerYear)

	resp := backtestResponse{
		JobID:       jobID,
		FinalEquity: result.FinalEquity(),
		Metrics:     perf,
		Trades:      result.Trades,
		Events:      len(result.Events),
	}
	if s.reporter != nil {
		dir, err := s.reporter.Write(result, perf)
		if err != nil {
			s.log.Warn("report write failed", zap.String("job_id", jobID), zap.Error(err))
		} else {
			resp.ReportDir = dir
		}
	}
	c.JSON(http.StatusOK, resp)
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	chCfg := clickhouse.Config{
		Addr:     mustEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		Database: mustEnv("CH_DATABASE", "backtest"),
		Table:    mustEnv("CH_TABLE", "data"),
		Username: mustEnv("CH_USER", "backtest"),
		Password: mustEnv("CH_PASSWORD", "backtest123"),
	}
	store, err := clickhouse.Open(chCfg, logger)
	if err != nil {
		logger.Fatal("clickhouse connect failed", zap.Error(err))
	}
	defer store.Close()

	if err := store.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("schema init failed", zap.Error(err))
	}

	srv := &server{
		store:    store,
		reporter: report.NewWriter(mustEnv("REPORT_DIR", "reports"), true, logger),
		log:      logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	srv.setupRoutes(router)

	port, err := strconv.Atoi(mustEnv("HTTP_PORT", "8080"))
	if err != nil {
		logger.Fatal("invalid HTTP_PORT", zap.Error(err))
	}
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		logger.Info("http server listening", zap.Int("port", port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http serve failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}
