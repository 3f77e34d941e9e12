package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hwbot/internal/app"
	"hwbot/internal/failure"
	logx "hwbot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "main"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		logs, log := app.StartupLogger(cfgPath)
		log = log.With(logx.String("comp", "main"))
		if failure.IsFatal(err) {
			log.Critical("configuration error", logx.String("config", cfgPath), logx.Err(err))
		} else {
			log.Critical("startup failed", logx.String("kind", failure.KindOf(err)), logx.Err(err))
		}
		_ = logs.Close()
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		bootLog.Critical("start failed", logx.Err(err))
		os.Exit(1)
	}

	<-a.Done()
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil && reason == app.StopFatalError {
		bootLog.Error("stopped after fatal error", logx.Err(err))
	}
}
