package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 聚合运行时配置：默认值 + SECKILL_* 环境变量 + 可选 yaml 文件。
type AppConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`

	// 数据库：driver 支持 sqlite（默认）与 mysql
	DBDriver string `mapstructure:"db_driver"`
	DBDSN    string `mapstructure:"db_dsn"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Kafka 集群地址（逗号分隔）、意向 Topic、死信 Topic、消费者组
	KafkaBrokers    []string `mapstructure:"kafka_brokers"`
	IntentTopic     string   `mapstructure:"intent_topic"`
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
	ConsumerGroup   string   `mapstructure:"consumer_group"`
	WorkerCount     int      `mapstructure:"worker_count"`

	// 入队失败的预约滞留在该 Stream，由 Reconciler 清扫回补
	ReconcileStream   string `mapstructure:"reconcile_stream"`
	ReconcileGroup    string `mapstructure:"reconcile_group"`
	ReconcileConsumer string `mapstructure:"reconcile_consumer"`

	// 秒杀接口限流、库存缓存 TTL、单笔限购
	BuyRateLimit  int           `mapstructure:"buy_rate_limit"`
	BuyRateWindow time.Duration `mapstructure:"buy_rate_window"`
	StockCacheTTL time.Duration `mapstructure:"stock_cache_ttl"`
	MaxQuantity   int           `mapstructure:"max_quantity"`

	// Gate 发布与 Materializer CAS 的有界重试
	PublishMaxRetries int           `mapstructure:"publish_max_retries"`
	PublishBackoff    time.Duration `mapstructure:"publish_backoff"`
	PublishTimeout    time.Duration `mapstructure:"publish_timeout"`
	CommitMaxRetries  int           `mapstructure:"commit_max_retries"`
	CommitBackoff     time.Duration `mapstructure:"commit_backoff"`

	// 预热接口的管理员令牌
	PreloadAdminToken string `mapstructure:"preload_admin_token"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Load 读取并校验配置。configFile 为空时只用默认值和环境变量。
func Load(configFile string) (AppConfig, error) {
	v := viper.New()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "seckill.db")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("intent_topic", "seckill-intents")
	v.SetDefault("dead_letter_topic", "seckill-intents-dlt")
	v.SetDefault("consumer_group", "seckill-materializer")
	v.SetDefault("worker_count", 4)
	v.SetDefault("reconcile_stream", "seckill:reconcile:stream")
	v.SetDefault("reconcile_group", "seckill-reconciler")
	v.SetDefault("reconcile_consumer", "reconciler-1")
	v.SetDefault("buy_rate_limit", 1000)
	v.SetDefault("buy_rate_window", time.Second)
	v.SetDefault("stock_cache_ttl", 24*time.Hour)
	v.SetDefault("max_quantity", 1)
	v.SetDefault("publish_max_retries", 5)
	v.SetDefault("publish_backoff", 100*time.Millisecond)
	v.SetDefault("publish_timeout", 5*time.Second)
	v.SetDefault("commit_max_retries", 3)
	v.SetDefault("commit_backoff", 50*time.Millisecond)
	v.SetDefault("preload_admin_token", "dev-admin-token")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetEnvPrefix("SECKILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return AppConfig{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	// env 注入的 kafka_brokers 是逗号分隔字符串，统一在这里拆分。
	cfg.KafkaBrokers = splitCSV(v.GetString("kafka_brokers"))

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (cfg AppConfig) validate() error {
	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "mysql" {
		return fmt.Errorf("db_driver must be sqlite or mysql, got %q", cfg.DBDriver)
	}
	if cfg.DBDSN == "" {
		return fmt.Errorf("db_dsn must not be empty")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka_brokers must not be empty")
	}
	if cfg.IntentTopic == "" {
		return fmt.Errorf("intent_topic must not be empty")
	}
	if cfg.DeadLetterTopic == "" {
		return fmt.Errorf("dead_letter_topic must not be empty")
	}
	if cfg.ConsumerGroup == "" {
		return fmt.Errorf("consumer_group must not be empty")
	}
	if cfg.WorkerCount <= 0 {
		return fmt.Errorf("worker_count must be > 0")
	}
	if cfg.ReconcileStream == "" || cfg.ReconcileGroup == "" || cfg.ReconcileConsumer == "" {
		return fmt.Errorf("reconcile stream/group/consumer must not be empty")
	}
	if cfg.BuyRateLimit <= 0 {
		return fmt.Errorf("buy_rate_limit must be > 0")
	}
	if cfg.BuyRateWindow <= 0 {
		return fmt.Errorf("buy_rate_window must be > 0")
	}
	if cfg.StockCacheTTL <= 0 {
		return fmt.Errorf("stock_cache_ttl must be > 0")
	}
	if cfg.MaxQuantity <= 0 {
		return fmt.Errorf("max_quantity must be > 0")
	}
	if cfg.PublishMaxRetries <= 0 || cfg.CommitMaxRetries <= 0 {
		return fmt.Errorf("retry counts must be > 0")
	}
	if cfg.PublishTimeout <= 0 {
		return fmt.Errorf("publish_timeout must be > 0")
	}
	return nil
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
