package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 秒杀链路核心指标。label 取值保持低基数。
var (
	// AdmissionsTotal Gate 准入结果分布：accept / duplicate / not_found / out_of_stock / error
	AdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seckill",
		Name:      "admissions_total",
		Help:      "Admission gate results by outcome.",
	}, []string{"result"})

	// PublishRetriesTotal Gate 投递意向的重试次数。
	PublishRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seckill",
		Name:      "intent_publish_retries_total",
		Help:      "Retries while publishing admission intents.",
	})

	// OrphanedIntentsTotal 投递最终失败、转入清扫流的预约数。
	OrphanedIntentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seckill",
		Name:      "orphaned_intents_total",
		Help:      "Accepted admissions parked for reconciliation after publish failure.",
	})

	// MaterializeOutcomesTotal Materializer 终态分布：committed / rejected / duplicate / dead_letter
	MaterializeOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seckill",
		Name:      "materialize_outcomes_total",
		Help:      "Order materializer outcomes.",
	}, []string{"outcome"})

	// CASConflictsTotal 持久扣减乐观锁冲突次数。
	CASConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seckill",
		Name:      "stock_cas_conflicts_total",
		Help:      "Version conflicts during durable stock decrement.",
	})

	// CompensationsTotal 回补执行情况：applied / duplicate / failed
	CompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seckill",
		Name:      "compensations_total",
		Help:      "Stock compensations by result.",
	}, []string{"result"})
)
