package main

import (
	"context"
	"log"
	"strings"

	"github.com/joho/godotenv"

	"github.com/iurnickita/gamepay/internal/config"
	"github.com/iurnickita/gamepay/internal/events"
	"github.com/iurnickita/gamepay/internal/handler"
	"github.com/iurnickita/gamepay/internal/logger"
	"github.com/iurnickita/gamepay/internal/metrics"
	"github.com/iurnickita/gamepay/internal/p99"
	"github.com/iurnickita/gamepay/internal/service"
	"github.com/iurnickita/gamepay/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// .env — для локального запуска, в бою переменные приходят извне
	godotenv.Load()

	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}

	gateway, err := p99.NewClient(cfg.P99)
	if err != nil {
		return err
	}

	// Шина событий опциональна: без брокера сервис работает,
	// downstream-события не публикуются
	var publisher *events.Publisher
	if cfg.Service.KafkaBrokers != "" {
		publisher = events.NewPublisher(strings.Split(cfg.Service.KafkaBrokers, ","), cfg.Service.KafkaTopic)
		defer publisher.Close()
	}

	m := metrics.NewPaymentMetrics()

	service, err := service.NewService(cfg.Service, store, gateway, publisher, m, zaplog)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.StartBackground(ctx)

	return handler.Serve(cfg.Handler, service, zaplog)
}
