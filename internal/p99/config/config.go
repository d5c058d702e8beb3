package config

import "time"

// Реквизиты мерчанта выдаются шлюзом P99. Key и IV приходят в base64
// (24 и 8 байт после декодирования).
type Config struct {
	APIURL    string        `env:"P99_API_URL" env-default:"https://api.p99pay.com/v1"`
	MID       string        `env:"P99_MID"`
	CID       string        `env:"P99_CID"`
	Key       string        `env:"P99_KEY"`
	IV        string        `env:"P99_IV"`
	Password  string        `env:"P99_PASSWORD"`
	ReturnURL string        `env:"P99_RETURN_URL"`
	NotifyURL string        `env:"P99_NOTIFY_URL"`
	Timeout   time.Duration `env:"P99_TIMEOUT" env-default:"15s"`
}
