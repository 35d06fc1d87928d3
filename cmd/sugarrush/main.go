package main

import (
	"context"
	"io"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iurnickita/sugarrush/internal/archive"
	"github.com/iurnickita/sugarrush/internal/auth"
	"github.com/iurnickita/sugarrush/internal/balance"
	"github.com/iurnickita/sugarrush/internal/config"
	"github.com/iurnickita/sugarrush/internal/directory"
	"github.com/iurnickita/sugarrush/internal/handler"
	"github.com/iurnickita/sugarrush/internal/lifecycle"
	"github.com/iurnickita/sugarrush/internal/logger"
	"github.com/iurnickita/sugarrush/internal/moderation"
	"github.com/iurnickita/sugarrush/internal/notify"
	"github.com/iurnickita/sugarrush/internal/quota"
	"github.com/iurnickita/sugarrush/internal/scheduler"
	"github.com/iurnickita/sugarrush/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
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
	defer store.Close()

	sink, err := notify.New(cfg.Notify, zaplog)
	if err != nil {
		return err
	}
	if closer, ok := sink.(io.Closer); ok {
		defer closer.Close()
	}

	sched := scheduler.NewTimers(time.UTC)
	defer sched.Stop()

	directory := directory.NewDirectory(cfg.Directory)
	balance := balance.NewBalance(cfg.Balance, store, directory, sched, zaplog)
	engine := lifecycle.NewEngine(cfg.Lifecycle, lifecycle.Deps{
		Store:     store,
		Directory: directory,
		Sink:      sink,
		Archive:   archive.NewSyncer(store, sink, sched, zaplog),
		Balance:   balance,
		Scheduler: sched,
		Policy:    cfg.Policy,
		Logger:    zaplog,
	})
	moderation := moderation.NewModeration(store, directory, cfg.Policy, sched, zaplog)
	auditor := quota.NewAuditor(cfg.Quota, store, directory, sink, sched, zaplog)
	auth := auth.NewAuth(cfg.Auth)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// таймеры заказов, переживших рестарт
	recovered, err := engine.Recover(ctx)
	if err != nil {
		return err
	}
	auditor.Start()
	zaplog.Info("sugarrush started",
		zap.String("addr", cfg.Handler.ServerAddr),
		zap.Int("recovered", recovered))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return handler.Serve(ctx, cfg.Handler, auth, engine, balance, moderation, zaplog)
	})
	return g.Wait()
}
