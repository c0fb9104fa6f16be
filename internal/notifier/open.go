package notifier

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config 选择推送驱动
type Config struct {
	Driver   string
	Telegram TelegramConfig
	Kafka    KafkaConfig
	// RatePerSec 为 0 时不限速
	RatePerSec float64
}

// Open 按驱动初始化 Notifier，并套上限速
func Open(cfg Config, log zerolog.Logger) (Notifier, error) {
	var (
		n   Notifier
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverTelegram:
		n, err = NewTelegram(cfg.Telegram)
	case DriverKafka:
		n, err = NewKafka(cfg.Kafka)
	case "", DriverLog:
		n = &Log{Log: log}
	default:
		return nil, fmt.Errorf("unknown notify driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return Limit(n, cfg.RatePerSec, 1), nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
