package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tgpromo/promobot/internal/bot"
	"github.com/tgpromo/promobot/internal/config"
	"github.com/tgpromo/promobot/internal/logging"
	"github.com/tgpromo/promobot/internal/notify"
	"github.com/tgpromo/promobot/internal/oracle"
	"github.com/tgpromo/promobot/internal/orders"
	"github.com/tgpromo/promobot/internal/reconciler"
	"github.com/tgpromo/promobot/internal/storage"
	"gopkg.in/telebot.v4"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	config.SetupCommon()
	logging.Init()

	cfg := config.New()
	logrus.Debugf("config: %+v", cfg)

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}

	store := storage.New(db)
	if err := store.Migrate(); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	b, err := telebot.NewBot(telebot.Settings{
		Token: cfg.TelegramToken,
		Poller: &telebot.LongPoller{
			Timeout: 10 * time.Second,
		},
	})
	if err != nil {
		logrus.Fatalf("Failed to create bot: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	oracleClient := oracle.NewTelegramClient(b)
	dispatcher := notify.NewDispatcher(cfg, notify.NewTelegramTransport(b))
	rec := reconciler.New(cfg, store, oracleClient, dispatcher)
	ordersService := orders.NewService(store)

	service := bot.NewService(cfg, store, rec, oracleClient, ordersService, b.Me.Username)
	service.Register(b)

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Start()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rec.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	<-ctx.Done()

	b.Stop()

	logrus.Info("waiting for services to finish")
	wg.Wait()
}
