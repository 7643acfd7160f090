package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/recallhq/recall/config"
	"github.com/recallhq/recall/internal/embedding"
	"github.com/recallhq/recall/internal/ingest"
	"github.com/recallhq/recall/internal/retrieval"
	"github.com/recallhq/recall/internal/runtime"
	"github.com/recallhq/recall/internal/store"
	"github.com/recallhq/recall/provider"
	"github.com/recallhq/recall/session"
)

func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := cfg.Retrieval.Validate(); err != nil {
		return err
	}
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrate: %v", err)
	}

	// Shared dependencies (top-level DI)
	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	llmProvider, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	embedder := embedding.NewClient(llmProvider, cfg.Ingest, nil)
	ingestor := ingest.NewOrchestrator(st, embedder, cfg.Ingest, nil)
	retriever := retrieval.NewRetriever(st, embedder, cfg.Retrieval, nil)

	storeType := session.InMemoryStore
	var rdb *redis.Client
	if cfg.Storage.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Storage.Redis.Addr, Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr, err)
		}
		storeType = session.RedisStore
	} else {
		baseLogger.Printf("redis not configured, conversation history kept in memory")
	}
	sessions, err := session.NewStore(storeType, rdb, session.Options{HistoryLimit: cfg.Session.HistoryLimit, TTL: cfg.Session.TTL})
	if err != nil {
		return err
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	ch := &ChatHandler{
		Ingestor:  ingestor,
		Retriever: retriever,
		Sessions:  sessions,
		LLM:       llmProvider,
	}
	chatGroup := api.Group("/chat")
	chatGroup.Use(runtime.EchoAuthMiddleware(secret))
	ch.Register(chatGroup)

	if addr == "" {
		addr = cfg.Server.Address
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10010"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
