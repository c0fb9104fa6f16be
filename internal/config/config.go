package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LJTian/NoticeWatch/internal/notifier"
	"github.com/LJTian/NoticeWatch/internal/storage"
)

// Config 是进程级配置，启动时加载一次，之后只读
type Config struct {
	AppPort       string
	BasicAuthUser string
	BasicAuthPass string

	SitesFile string

	StoreDriver string
	StatePath   string
	PostgresDSN string
	RedisAddr   string
	RedisPrefix string

	NotifyDriver     string
	TelegramToken    string
	TelegramChatID   string
	TelegramThreadID int
	TelegramAPIURL   string
	KafkaBrokers     []string
	KafkaTopic       string
	NotifyRate       float64

	ChromePath    string
	Concurrency   int
	SourceTimeout time.Duration
	CronSpec      string

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppPort:       getEnv("APP_PORT", "9000"),
		BasicAuthUser: getEnv("APP_BASIC_USER", ""),
		BasicAuthPass: getEnv("APP_BASIC_PASS", ""),

		SitesFile: getEnv("SITES_FILE", "sites.yaml"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", storage.DriverFile)),
		StatePath:   getEnv("STATE_PATH", "hashes.json"),
		PostgresDSN: getEnv("POSTGRES_DSN", "host=localhost user=noticewatch password=noticewatch dbname=noticewatch port=5432 sslmode=disable TimeZone=UTC"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6380"),
		RedisPrefix: getEnv("REDIS_PREFIX", "noticewatch:"),

		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIURL: getEnv("TELEGRAM_API_URL", ""),
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "notices"),

		ChromePath: getEnv("CHROME_PATH", ""),
		CronSpec:   getEnv("CRON_SPEC", "*/30 * * * *"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	var err error
	if cfg.Concurrency, err = getInt("CONCURRENCY", 1); err != nil {
		return nil, err
	}
	if cfg.SourceTimeout, err = getDuration("SOURCE_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	if cfg.NotifyRate, err = getFloat("NOTIFY_RATE", 1); err != nil {
		return nil, err
	}
	// 数字 chat ID 或公开频道的 @username，原样交给 Bot API
	cfg.TelegramChatID = strings.TrimSpace(getEnv("TELEGRAM_CHAT_ID", ""))
	if raw := getEnv("TELEGRAM_THREAD_ID", ""); raw != "" {
		if cfg.TelegramThreadID, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("TELEGRAM_THREAD_ID must be an integer: %w", err)
		}
	}

	// 未显式指定推送方式时：配置了 Bot Token 就走 Telegram，否则只写日志
	cfg.NotifyDriver = strings.ToLower(getEnv("NOTIFY_DRIVER", ""))
	if cfg.NotifyDriver == "" {
		if cfg.TelegramToken != "" {
			cfg.NotifyDriver = notifier.DriverTelegram
		} else {
			cfg.NotifyDriver = notifier.DriverLog
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return errors.New("CONCURRENCY must be positive")
	}
	if c.SourceTimeout <= 0 {
		return errors.New("SOURCE_TIMEOUT must be positive")
	}
	if c.NotifyRate < 0 {
		return errors.New("NOTIFY_RATE cannot be negative")
	}
	switch c.StoreDriver {
	case storage.DriverFile, storage.DriverRedis, storage.DriverPostgres:
	default:
		return fmt.Errorf("STORE_DRIVER %q is not supported", c.StoreDriver)
	}
	switch c.NotifyDriver {
	case notifier.DriverTelegram:
		if c.TelegramToken == "" || c.TelegramChatID == "" {
			return errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required for telegram notify driver")
		}
	case notifier.DriverKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required for kafka notify driver")
		}
	case notifier.DriverLog:
	default:
		return fmt.Errorf("NOTIFY_DRIVER %q is not supported", c.NotifyDriver)
	}
	return nil
}

// Store 返回存储层配置
func (c *Config) Store() storage.Config {
	return storage.Config{
		Driver:      c.StoreDriver,
		Path:        c.StatePath,
		PostgresDSN: c.PostgresDSN,
		RedisAddr:   c.RedisAddr,
		RedisPrefix: c.RedisPrefix,
	}
}

// Notifier 返回推送配置
func (c *Config) Notifier() notifier.Config {
	return notifier.Config{
		Driver: c.NotifyDriver,
		Telegram: notifier.TelegramConfig{
			Token:    c.TelegramToken,
			ChatID:   c.TelegramChatID,
			ThreadID: c.TelegramThreadID,
			APIURL:   c.TelegramAPIURL,
		},
		Kafka:      notifier.KafkaConfig{Brokers: c.KafkaBrokers, Topic: c.KafkaTopic},
		RatePerSec: c.NotifyRate,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func getDuration(key, def string) (time.Duration, error) {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
