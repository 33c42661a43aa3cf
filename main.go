package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/questengine/api/rest"
	"github.com/kasuganosora/questengine/api/sse"
	"github.com/kasuganosora/questengine/audit"
	"github.com/kasuganosora/questengine/cache"
	"github.com/kasuganosora/questengine/config"
	dbadapter "github.com/kasuganosora/questengine/db"
	"github.com/kasuganosora/questengine/game/ledger"
	"github.com/kasuganosora/questengine/game/notify"
	"github.com/kasuganosora/questengine/game/quest"
	mw "github.com/kasuganosora/questengine/middleware"
	"github.com/kasuganosora/questengine/model"
	"github.com/kasuganosora/questengine/plugin/hook"
	"github.com/kasuganosora/questengine/scheduler"
	"go.uber.org/zap"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}
	if cfg.Server.IngestKey == "" {
		logger.Warn("server.ingest_key is not set; activity ingest is disabled")
	}

	loc, err := time.LoadLocation(cfg.Quest.Timezone)
	if err != nil {
		log.Fatalf("quest.timezone: %v", err)
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)

	// ---- Cache / PubSub ----
	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cfg.Cache)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Quest engine ----
	hooks := hook.NewHookCenter()
	quest.IgnoreUsers(hooks, cfg.Quest.IgnoredUsers)
	wallet := ledger.NewService(db, logger)
	gate := quest.NewGate(db, c, cfg.Quest.GateTTL, logger)
	catalog := quest.NewCatalog(db, gate, logger)
	board := quest.NewBoard(db, c, cfg.Quest.RecentFeedSize, logger)
	dispatcher := quest.NewDispatcher(db, quest.DispatcherConfig{
		Collaborators: quest.Collaborators{
			Currency:   wallet.Currency(),
			Experience: wallet.Experience(),
			Roles:      wallet.Roles(),
			Items:      wallet.Items(),
			Notifier:   notify.New(pubsub, logger),
		},
		Hooks:         hooks,
		Board:         board,
		RewardTimeout: cfg.Quest.RewardTimeout,
	}, logger)
	engine := quest.NewEngine(db, gate, dispatcher, hooks, quest.EngineConfig{
		Location:     loc,
		Workers:      cfg.Quest.Workers,
		QueueSize:    cfg.Quest.QueueSize,
		EventTimeout: cfg.Quest.EventTimeout,
	}, logger)
	sweeper := quest.NewSweeper(db, c, gate, hooks, quest.SweeperConfig{
		Location:    loc,
		Concurrency: cfg.Quest.ResetConcurrency,
	}, logger)
	engine.Start()

	// ---- Scheduler ----
	sched, err := scheduler.New(logger)
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	if err := sched.AddTickerAfter("quest_reset", cfg.Quest.ResetInitialDelay, cfg.Quest.ResetInterval, sweeper.Run); err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	if cfg.Quest.LeaderboardRefresh > 0 {
		if err := sched.AddTickerAfter("leaderboard_refresh", 0, cfg.Quest.LeaderboardRefresh, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := board.Rebuild(ctx); err != nil {
				logger.Warn("leaderboard rebuild failed", zap.Error(err))
			}
		}); err != nil {
			log.Fatalf("scheduler: %v", err)
		}
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger), mw.CORS(cfg.Security.AllowedOrigins))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "queue_depth": engine.QueueDepth()})
	})

	apirest.RegisterRoutes(r, apirest.Handlers{
		Events: apirest.NewEventsHandler(engine, logger),
		Member: apirest.NewMemberHandler(engine, board, wallet, logger),
		Admin:  apirest.NewAdminHandler(db, catalog, engine, sweeper, sched, auditSvc, logger),
	}, apirest.RouteConfig{
		JWTSecret: cfg.Security.JWTSecret,
		AdminKey:  cfg.Server.AdminKey,
		IngestKey: cfg.Server.IngestKey,
		AdminIPs:  cfg.Security.AdminIPs,
		RateRPS:   cfg.Security.RateLimitRPS,
		RateBurst: cfg.Security.RateLimitBurst,
	})

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, 0, logger)
	r.GET("/sse", mw.Auth(cfg.Security.JWTSecret), sseH.ServeSSE)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop()
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Warn("engine did not drain", zap.Error(err))
	}
	auditSvc.Stop(shutdownCtx)
}
