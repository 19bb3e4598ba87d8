package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"seckill/internal/model"
	"seckill/internal/store"
)

// Sweeper 清扫孤儿预约：Gate 扣了缓存库存却没能把意向送进 Kafka 时，
// 预约会押在清扫流里；这里按消费组拉取并逐条回补。
// 语义：补偿成功才 ACK，失败则保留消息等待重试。
type Sweeper struct {
	rdb   *rd.Client
	rec   *Reconciler
	store *store.Store
	log   *zap.Logger

	stream   string
	group    string
	consumer string
}

func NewSweeper(rdb *rd.Client, rec *Reconciler, st *store.Store, log *zap.Logger, stream, group, consumer string) *Sweeper {
	return &Sweeper{
		rdb:      rdb,
		rec:      rec,
		store:    st,
		log:      log,
		stream:   stream,
		group:    group,
		consumer: consumer,
	}
}

// Run 阻塞清扫直到 ctx 取消。
func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.ensureGroup(ctx); err != nil {
		return fmt.Errorf("sweeper ensure group: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		// 先处理当前消费者的历史 pending，避免崩溃遗留的孤儿长期堆积。
		msgs, err := s.readGroup(ctx, "0", 0)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			s.log.Warn("sweeper read pending", zap.Error(err))
			time.Sleep(300 * time.Millisecond)
			continue
		}
		if len(msgs) == 0 {
			msgs, err = s.readGroup(ctx, ">", 2*time.Second)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return nil
				}
				s.log.Warn("sweeper read new", zap.Error(err))
				time.Sleep(300 * time.Millisecond)
				continue
			}
		}

		for _, xm := range msgs {
			if err := s.processOne(ctx, xm); err != nil {
				// 补偿失败不 ACK，消息保留重试；连续失败等一拍避免空转。
				s.log.Error("sweeper process message",
					zap.String("stream_id", xm.ID), zap.Error(err))
				time.Sleep(200 * time.Millisecond)
				break
			}
		}
	}
}

func (s *Sweeper) ensureGroup(ctx context.Context) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (s *Sweeper) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := s.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, streamID},
		Count:    16,
		Block:    block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, st := range streams {
		out = append(out, st.Messages...)
	}
	return out, nil
}

func (s *Sweeper) processOne(ctx context.Context, xm rd.XMessage) error {
	o, err := parseOrphan(xm.Values)
	if err != nil {
		// 脏消息直接 ACK 丢弃，避免阻塞清扫。
		s.log.Warn("sweeper drop malformed entry", zap.String("stream_id", xm.ID), zap.Error(err))
		return s.ackAndDelete(ctx, xm.ID)
	}

	// 投递超时 ≠ 投递失败：broker 可能已收下消息并完成落单。
	// 意向已成单的押件不能回补，否则等于凭空加库存。
	rec, found, err := s.store.FindIntent(ctx, o.IntentID)
	if err != nil {
		return fmt.Errorf("check intent %s before sweep: %w", o.IntentID, err)
	}
	if found && rec.Status == model.IntentSuccess {
		s.log.Info("parked intent already materialized, skip compensation",
			zap.String("intent_id", o.IntentID),
			zap.String("order_no", rec.OrderNo))
		return s.ackAndDelete(ctx, xm.ID)
	}

	if _, err := s.rec.Compensate(ctx, o.IntentID, o.ProductID, o.UserID, o.Quantity, "enqueue_failed"); err != nil {
		return err
	}
	return s.ackAndDelete(ctx, xm.ID)
}

func (s *Sweeper) ackAndDelete(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.XAck(ctx, s.stream, s.group, id)
	pipe.XDel(ctx, s.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}
