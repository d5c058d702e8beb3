package config

type Config struct {
	DBDsn string `env:"DATABASE_DSN"`
}
