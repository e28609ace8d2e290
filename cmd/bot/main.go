package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"remindme/internal/app"
	"remindme/internal/config"
	logx "remindme/pkg/logx"
)

func main() {
	var cfgPath, envPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config (json or yaml)")
	flag.StringVar(&envPath, "env", ".env", "optional dotenv file with REMINDME_* overrides")
	flag.Parse()

	boot := logx.NewConsole("info").With(logx.String("comp", "main"))

	if found, err := config.LoadEnv(envPath); err != nil {
		boot.Error("load env file", logx.String("path", envPath), logx.Err(err))
		os.Exit(1)
	} else if found {
		boot.Debug("env file loaded", logx.String("path", envPath))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.NewApp(ctx, cfgPath)
	if err != nil {
		boot.Error("fatal", logx.Err(err))
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		boot.Error("fatal start", logx.Err(err))
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = a.Stop(stopCtx, app.StopFatalError)
		stopCancel()
		os.Exit(1)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopAppStop
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = a.Stop(stopCtx, reason)
	stopCancel()
	if err != nil || reason == app.StopFatalError {
		if err != nil {
			boot.Error("shutdown finished with errors", logx.Err(err))
		}
		os.Exit(1)
	}
}
