package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"github.com/wildcogs/chessmatch/internal/archive"
	appcfg "github.com/wildcogs/chessmatch/internal/config"
	"github.com/wildcogs/chessmatch/internal/kv"
	"github.com/wildcogs/chessmatch/internal/matchstore"
	"github.com/wildcogs/chessmatch/internal/migrate"
	"github.com/wildcogs/chessmatch/internal/msgcat"
	"github.com/wildcogs/chessmatch/internal/obslog"
	"github.com/wildcogs/chessmatch/internal/rating"
	"github.com/wildcogs/chessmatch/internal/render"
	"github.com/wildcogs/chessmatch/internal/service"
	"github.com/wildcogs/chessmatch/internal/variant"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("log init error: %v", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	kvs := kv.NewRedisStore(rdb)

	reg, err := variant.New()
	if err != nil {
		log.Fatalf("variant registry error: %v", err)
	}
	cat, err := msgcat.New(os.Getenv("MESSAGE_DIR"))
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	var archiver service.Archiver
	var repo *archive.Repository
	if cfg.DatabaseURL != "" {
		repo, err = archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		archiver = repo
	}

	gate := migrate.NewGate()
	svc := service.New(service.Deps{
		Config:   cfg,
		Store:    matchstore.New(kvs, reg),
		Ratings:  rating.New(kvs),
		Gate:     gate,
		Variants: reg,
		Catalog:  cat,
		Renderer: render.New(cfg.PieceThemeDir),
		Archiver: archiver,
	})

	// Commands stay gated until the schema is current.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := migrate.NewRunner(kvs).Run(ctx); err != nil {
			obslog.L().Error("schema migration failed", zap.Error(err))
			gate.MarkDegraded()
			return
		}
		gate.MarkReady()
		obslog.L().Info("schema ready")
	}()

	h := newHandler(svc, gate)
	srv := &fasthttp.Server{
		Handler: h.route,
		Name:    "chessmatchd",
	}
	go func() {
		obslog.L().Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(cfg.ListenAddr); err != nil {
			obslog.L().Fatal("http server", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("shutting down")
	_ = srv.Shutdown()
	_ = rdb.Close()
	if repo != nil {
		_ = repo.Close()
	}
}
