package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"broadcastd/internal/app"
	"broadcastd/internal/config"
	logx "broadcastd/pkg/logx"
)

func main() {
	var cfgPath, envPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.StringVar(&envPath, "env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	// Console logger until the configured one exists.
	boot := logx.NewConsole("info").With(logx.String("comp", "main"))

	if err := config.LoadEnv(envPath); err != nil {
		boot.Error("load env failed", logx.String("path", envPath), logx.Err(err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		boot.Error("init failed", logx.String("config", cfgPath), logx.Err(err))
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		boot.Error("start failed", logx.Err(err))
		os.Exit(1)
	}

	<-a.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	failed := a.Err()
	if err := a.Stop(stopCtx); err != nil {
		boot.Warn("stop incomplete", logx.Err(err))
	}
	if failed != nil {
		boot.Error("exiting after component failure", logx.Err(failed))
		os.Exit(1)
	}
}
