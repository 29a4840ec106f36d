package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr string // empty disables alert publishing
	AlertsTopic string // operational alerts (auto-deactivation)
	DLQTopic    string // exhausted delivery envelopes
}

// Webhook carries the delivery policy. All knobs come from WEBHOOK_* env
// variables; durations are configured in milliseconds.
type Webhook struct {
	MaxAttempts                  int
	BaseDelay                    time.Duration
	MaxDelay                     time.Duration
	WorkerCount                  int
	HTTPTimeout                  time.Duration
	FailureDeactivationThreshold int
	PerSubscriptionInflight      int
	PollInterval                 time.Duration
}

type Outbox struct {
	PollInterval time.Duration
	BatchSize    int
}

type Config struct {
	AppName     string
	Env         string // dev | production
	HTTPPort    string // :8080
	StoreDriver string // postgres | memory
	DB          DB
	NSQ         NSQ
	Webhook     Webhook
	Outbox      Outbox
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvMillis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

// FromEnv reads the full configuration from the environment, applying
// defaults for everything that is unset.
func FromEnv() Config {
	return Config{
		AppName:     getenv("APP_NAME", "eventr"),
		Env:         getenv("APP_ENV", "dev"),
		HTTPPort:    getenv("HTTP_PORT", ":8080"),
		StoreDriver: getenv("STORE_DRIVER", "postgres"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "eventr"),
		},
		NSQ: NSQ{
			NsqdTCPAddr: getenv("NSQD_TCP_ADDR", ""),
			AlertsTopic: getenv("NSQ_ALERTS_TOPIC", "eventr.ops.alerts"),
			DLQTopic:    getenv("NSQ_DLQ_TOPIC", "eventr.deliveries.dlq"),
		},
		Webhook: Webhook{
			MaxAttempts:                  getenvInt("WEBHOOK_MAX_ATTEMPTS", 6),
			BaseDelay:                    getenvMillis("WEBHOOK_BASE_DELAY_MS", 5*time.Second),
			MaxDelay:                     getenvMillis("WEBHOOK_MAX_DELAY_MS", time.Hour),
			WorkerCount:                  getenvInt("WEBHOOK_WORKER_COUNT", 2*runtime.NumCPU()),
			HTTPTimeout:                  getenvMillis("WEBHOOK_HTTP_TIMEOUT_MS", 10*time.Second),
			FailureDeactivationThreshold: getenvInt("WEBHOOK_FAILURE_DEACTIVATION_THRESHOLD", 10),
			PerSubscriptionInflight:      getenvInt("WEBHOOK_PER_SUBSCRIPTION_INFLIGHT", 5),
			PollInterval:                 getenvMillis("WORKER_POLL_INTERVAL_MS", time.Second),
		},
		Outbox: Outbox{
			PollInterval: getenvMillis("OUTBOX_POLL_INTERVAL_MS", time.Second),
			BatchSize:    getenvInt("OUTBOX_BATCH_SIZE", 100),
		},
	}
}

// Production reports whether https enforcement and other production
// restrictions apply.
func (c Config) Production() bool {
	return c.Env == "production"
}

// DSN builds the Postgres connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
