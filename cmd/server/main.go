package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"seckill/internal/config"
	"seckill/internal/gate"
	"seckill/internal/queue"
	"seckill/internal/reconciler"
	"seckill/internal/router"
	"seckill/internal/store"
	"seckill/pkg/logger"
)

func main() {
	configFile := flag.String("config", "", "optional yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"})
	defer log.Sync()
	zap.ReplaceGlobals(log)

	st, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}

	rdb := rd.NewClient(&rd.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.IntentTopic)
	defer producer.Close()

	rec := reconciler.New(rdb, st, log, cfg.StockCacheTTL)
	g := gate.New(rdb, st, producer, rec, log,
		cfg.ReconcileStream, cfg.PublishMaxRetries, cfg.PublishBackoff, cfg.PublishTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 孤儿预约清扫器与 HTTP 服务同进程跑：入队失败押下的单子由它回补。
	sweeper := reconciler.NewSweeper(rdb, rec, st, log,
		cfg.ReconcileStream, cfg.ReconcileGroup, cfg.ReconcileConsumer)
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			log.Error("sweeper exited", zap.Error(err))
		}
	}()

	r := gin.Default()
	router.Setup(r, st, rdb, g, cfg, log)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Info("seckill server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
}
