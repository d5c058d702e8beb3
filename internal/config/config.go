package config

import (
	"github.com/ilyakaznacheev/cleanenv"

	handlerConfig "github.com/iurnickita/gamepay/internal/handler/config"
	loggerConfig "github.com/iurnickita/gamepay/internal/logger/config"
	p99Config "github.com/iurnickita/gamepay/internal/p99/config"
	serviceConfig "github.com/iurnickita/gamepay/internal/service/config"
	storeConfig "github.com/iurnickita/gamepay/internal/store/config"
)

type Config struct {
	Handler handlerConfig.Config
	Service serviceConfig.Config
	Store   storeConfig.Config
	Logger  loggerConfig.Config
	P99     p99Config.Config
}

func GetConfig() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
