package config

import "time"

type Config struct {
	// База redirect-ссылки после return-callback
	RedirectBase string `env:"PAYMENT_REDIRECT_BASE" env-default:"/"`

	// Фоновый опрос зависших pending-ордеров
	PollInterval time.Duration `env:"PAYMENT_POLL_INTERVAL" env-default:"10m"`
	PendingGrace time.Duration `env:"PAYMENT_PENDING_GRACE" env-default:"10m"`

	// Фоновая сверка начислений
	ReconcileInterval time.Duration `env:"PAYMENT_RECONCILE_INTERVAL" env-default:"5m"`
	ReconcileLookback time.Duration `env:"PAYMENT_RECONCILE_LOOKBACK" env-default:"24h"`

	HistoryLimit int `env:"PAYMENT_HISTORY_LIMIT" env-default:"20"`

	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC" env-default:"payment-events"`
}
