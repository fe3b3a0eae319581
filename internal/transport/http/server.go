package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"traxis/internal/config"
	"traxis/internal/engine"
	"traxis/internal/logger"
	"traxis/internal/monitoring"
	"traxis/internal/pkg/circuit"
	"traxis/internal/portfolio"
	"traxis/internal/store/gormstore"
	"traxis/internal/trader"
)

// Server exposes the read-only status API plus the metrics endpoint.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig lists the server's dependencies.
type ServerConfig struct {
	Addr     string
	Provider *config.Provider
	Book     *portfolio.Book
	Trader   *trader.Trader
	Engine   *engine.Engine
	Store    *gormstore.Store
	Breaker  *circuit.Breaker
	Metrics  *monitoring.Metrics
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Book == nil || cfg.Trader == nil {
		return nil, errors.New("http server requires book and trader")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8792"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := router.Group("/api")
	api.GET("/status", statusHandler(cfg))
	api.GET("/positions", positionsHandler(cfg))
	api.GET("/orders", ordersHandler(cfg))
	api.GET("/decisions", decisionsHandler(cfg))

	return &Server{addr: cfg.Addr, router: router}, nil
}

func statusHandler(cfg ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := gin.H{
			"portfolio": cfg.Book.Snapshot(),
			"time":      time.Now().UTC(),
		}
		if cfg.Breaker != nil {
			out["breaker"] = gin.H{
				"name":  cfg.Breaker.Name(),
				"state": cfg.Breaker.State().String(),
			}
		}
		if cfg.Provider != nil {
			snap := cfg.Provider.Current()
			out["config_version"] = snap.Version
			out["symbols"] = snap.Config.Market.Symbols
			out["timeframe"] = snap.Config.Market.Timeframe
		}
		c.JSON(http.StatusOK, out)
	}
}

func positionsHandler(cfg ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := cfg.Book.Snapshot()
		out := gin.H{"open": snap.OpenPositions}
		if c.Query("closed") == "true" && cfg.Store != nil {
			from, to := timeRange(c)
			closed, err := cfg.Store.ListClosedPositions(c.Request.Context(), c.Query("symbol"), from, to, limitParam(c))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out["closed"] = closed
		}
		c.JSON(http.StatusOK, out)
	}
}

func ordersHandler(cfg ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := gin.H{"live": cfg.Trader.Orders()}
		if c.Query("archived") == "true" && cfg.Store != nil {
			from, to := timeRange(c)
			archived, err := cfg.Store.ListOrders(c.Request.Context(), c.Query("symbol"), from, to, limitParam(c))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out["archived"] = archived
		}
		c.JSON(http.StatusOK, out)
	}
}

func decisionsHandler(cfg ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := gin.H{}
		if cfg.Engine != nil {
			out["recent"] = cfg.Engine.RecentEvaluations(limitParam(c))
		}
		if c.Query("archived") == "true" && cfg.Store != nil {
			from, to := timeRange(c)
			archived, err := cfg.Store.ListDecisions(c.Request.Context(), c.Query("symbol"), from, to, limitParam(c))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out["archived"] = archived
		}
		c.JSON(http.StatusOK, out)
	}
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || n <= 0 {
		return 50
	}
	return n
}

func timeRange(c *gin.Context) (from, to time.Time) {
	if v, err := strconv.ParseInt(c.Query("from"), 10, 64); err == nil && v > 0 {
		from = time.UnixMilli(v)
	}
	if v, err := strconv.ParseInt(c.Query("to"), 10, 64); err == nil && v > 0 {
		to = time.UnixMilli(v)
	}
	return from, to
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("http %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
