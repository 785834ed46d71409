package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tgpromo/promobot/internal/api"
	"github.com/tgpromo/promobot/internal/config"
	"github.com/tgpromo/promobot/internal/logging"
	"github.com/tgpromo/promobot/internal/notify"
	"github.com/tgpromo/promobot/internal/storage"
	"gopkg.in/telebot.v4"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	setupConfig()
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

	// No poller: the bot client is only used to send broadcasts.
	b, err := telebot.NewBot(telebot.Settings{Token: cfg.TelegramToken})
	if err != nil {
		logrus.Fatalf("Failed to create bot: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	dispatcher := notify.NewDispatcher(cfg, notify.NewTelegramTransport(b))

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	service := api.NewService(cfg, store, dispatcher)
	e := echo.New()
	service.Register(e)

	go func() {
		if err := e.Start(cfg.APIListenAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("API server stopped: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("shutting down API server: %v", err)
	}

	logrus.Info("waiting for services to finish")
	wg.Wait()
}

func setupConfig() {
	viper.MustBindEnv("admin_token")
	config.SetupCommon()
}
