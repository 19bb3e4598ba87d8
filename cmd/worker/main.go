package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"seckill/internal/config"
	"seckill/internal/materializer"
	"seckill/internal/queue"
	"seckill/internal/reconciler"
	"seckill/internal/store"
	"seckill/pkg/logger"
)

// worker 进程：Materializer 消费者池 + 死信记录器。
// 每个 worker 持有独立的 Reader（同一消费组），分区内顺序不被打散。
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

	rec := reconciler.New(rdb, st, log, cfg.StockCacheTTL)
	mat := materializer.New(st, rdb, rec, log,
		cfg.CommitMaxRetries, cfg.CommitBackoff, cfg.StockCacheTTL)

	dlw := queue.NewDeadLetterWriter(cfg.KafkaBrokers, cfg.DeadLetterTopic)
	defer dlw.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)

	consumers := make([]*queue.Consumer, 0, cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		c := queue.NewConsumer(cfg.KafkaBrokers, cfg.IntentTopic, cfg.ConsumerGroup, dlw, log)
		c.Register(queue.KindOrderCreate, mat)
		consumers = append(consumers, c)
		eg.Go(func() error { return c.Run(egCtx) })
	}

	dlt := queue.NewDeadLetterLogger(cfg.KafkaBrokers, cfg.DeadLetterTopic, cfg.ConsumerGroup+"-dlt", log)
	eg.Go(func() error { return dlt.Run(egCtx) })

	log.Info("materializer workers started",
		zap.Int("workers", cfg.WorkerCount),
		zap.String("topic", cfg.IntentTopic),
		zap.String("group", cfg.ConsumerGroup))

	<-egCtx.Done()
	for _, c := range consumers {
		c.Close()
	}
	dlt.Close()
	if err := eg.Wait(); err != nil {
		log.Error("worker group exited", zap.Error(err))
	}
	log.Info("worker stopped")
}
