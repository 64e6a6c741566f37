package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ksred/novatrade/internal/auth"
	"github.com/ksred/novatrade/internal/config"
	"github.com/ksred/novatrade/internal/database"
	"github.com/ksred/novatrade/internal/exchange"
	"github.com/ksred/novatrade/internal/market"
	"github.com/ksred/novatrade/internal/portfolio"
	"github.com/ksred/novatrade/internal/reasoning"
	"github.com/ksred/novatrade/internal/scheduler"
	"github.com/ksred/novatrade/internal/trading"
	"github.com/ksred/novatrade/pkg/middleware"
	"github.com/ksred/novatrade/pkg/response"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// configureLogging applies settings that may come from the config file
func configureLogging(cfg *config.Config) {
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.LogFile == "" {
		return
	}

	var console io.Writer = os.Stdout
	if !cfg.IsProduction() {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	file := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	zlog.Logger = zerolog.New(zerolog.MultiLevelWriter(console, file)).With().Timestamp().Logger()
}

// main wires the exchange gateway, reconciliation, reasoning client and
// scheduler, serves the dashboard API and shuts down on SIGINT/SIGTERM
func main() {
	startedAt := time.Now()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid configuration")
	}
	configureLogging(cfg)

	db, err := database.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	signer := auth.NewSigner(cfg.Exchange.KeyName, cfg.Exchange.PrivateKey, cfg.Exchange.Host)
	switch {
	case !cfg.ExchangeConfigured():
		zlog.Warn().Msg("Exchange credentials missing, exchange calls will fail until configured")
	case signer.ConfigError() != nil:
		zlog.Warn().Err(signer.ConfigError()).Msg("Exchange credentials invalid, exchange calls will fail until fixed")
	default:
		zlog.Info().Str("key_name", signer.KeyName()).Str("host", cfg.Exchange.Host).Msg("Exchange signer ready")
	}

	gateway := exchange.NewGateway(signer, exchange.Config{
		BaseURL:       cfg.Exchange.BaseURL,
		QuoteCurrency: cfg.Exchange.QuoteCurrency,
		Timeout:       cfg.Exchange.Timeout,
	})

	state := portfolio.NewState()
	reconciler := portfolio.NewReconciler(state, gateway, cfg.Intervals.Portfolio)
	feed := market.NewFeed(market.DefaultCoins, time.Now().UnixNano())

	analyzer := reasoning.NewClient(reasoning.Config{
		APIKey:  cfg.Reasoning.APIKey,
		BaseURL: cfg.Reasoning.BaseURL,
		Model:   cfg.Reasoning.Model,
		Timeout: cfg.Reasoning.Timeout,
	})
	if !analyzer.Enabled() {
		zlog.Warn().Msg("Reasoning service key missing, decision cycles will produce no signals")
	}

	tradingService := trading.NewService(gateway, trading.NewJournal(db), reconciler, trading.Policy{
		Threshold: cfg.Trading.ConfidenceThreshold,
		Notional:  cfg.Trading.Notional,
	})

	sched := scheduler.New(feed, reconciler, analyzer, tradingService, scheduler.NewActivityLog(scheduler.DefaultActivitySize), scheduler.Config{
		MarketInterval:    cfg.Intervals.Market,
		PortfolioInterval: cfg.Intervals.Portfolio,
		DecisionInterval:  cfg.Intervals.Decision,
		AutoStart:         cfg.Trading.AutoStart,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	schedulerDone := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(schedulerDone)
	}()

	limiter := middleware.NewRateLimiter(middleware.DefaultRules)
	go limiter.Cleanup(ctx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(), limiter.RateLimit())

	setupRoutes(router, routeHandlers{
		health:    healthHandler(startedAt, signer, analyzer, sched),
		portfolio: portfolio.NewGinHandlers(state, feed),
		trading:   trading.NewGinHandlers(tradingService),
		market:    market.NewGinHandlers(feed),
		scheduler: scheduler.NewGinHandlers(sched),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop scheduling new work; in-flight exchange calls are bounded by their timeout
	cancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		zlog.Warn().Msg("Scheduler did not stop in time")
	}

	zlog.Info().Msg("Server exiting")
}

type routeHandlers struct {
	health    gin.HandlerFunc
	portfolio *portfolio.GinHandlers
	trading   *trading.GinHandlers
	market    *market.GinHandlers
	scheduler *scheduler.GinHandlers
}

// setupRoutes registers the dashboard API. Unknown /api routes get a JSON 404.
func setupRoutes(router *gin.Engine, h routeHandlers) {
	api := router.Group("/api")
	{
		api.GET("/health", h.health)
		api.GET("/portfolio", h.portfolio.GetPortfolioHandler())
		api.POST("/trade", h.trading.CreateTradeHandler())
		api.GET("/trades", h.trading.ListTradesHandler())
		api.GET("/trades/:client_order_id", h.trading.GetTradeHandler())
		api.GET("/market", h.market.GetMarketHandler())
		api.GET("/analysis", h.scheduler.GetAnalysisHandler())
		api.GET("/logs", h.scheduler.GetLogsHandler())

		bot := api.Group("/bot")
		{
			bot.GET("", h.scheduler.GetBotHandler())
			bot.POST("/start", h.scheduler.StartBotHandler())
			bot.POST("/stop", h.scheduler.StopBotHandler())
		}
	}

	router.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api") {
			response.NotFound(c, "API Route Not Found: "+path)
			return
		}
		response.NotFound(c, "Not Found")
	})
}

func healthHandler(startedAt time.Time, signer *auth.Signer, analyzer *reasoning.Client, sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{
			"status":               "ok",
			"uptime":               int64(time.Since(startedAt).Seconds()),
			"timestamp":            time.Now().UTC(),
			"exchange_configured":  signer.Enabled(),
			"reasoning_configured": analyzer.Enabled(),
			"bot_running":          sched.Running(),
		})
	}
}
