package config

type Config struct {
	ServerAddr string `env:"RUN_ADDRESS" env-default:":8080"`
}
