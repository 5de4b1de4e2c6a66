package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/corepay/gestpay/merchant"
	"github.com/joho/godotenv"
	"golang.org/x/exp/slog"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using process environment")
	}

	config, err := merchant.ConfigFromEnv()
	if err != nil {
		logger.Error("loading configuration", "err", err)
		os.Exit(1)
	}

	app := merchant.NewApp(logger, config)
	if err := app.Start(); err != nil {
		logger.Error("starting app", "err", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Shutdown()
}
