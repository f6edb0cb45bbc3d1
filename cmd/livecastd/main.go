// Command livecastd runs the broadcast session controller without the
// desktop shell and exposes it over a local HTTP and websocket API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"livecast/internal/bootstrap"
	"livecast/internal/config"
	"livecast/internal/events"
	"livecast/internal/logging"
	"livecast/internal/remote"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("livecastd exited")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logging.Init(logger)

	hub := remote.NewHub(remote.HubConfig{
		PingPeriod:   cfg.Remote.PingPeriod,
		WriteWait:    cfg.Remote.WriteWait,
		ReadLimit:    cfg.Remote.ReadLimit,
		OutboxLength: cfg.Remote.OutboxLength,
	}, logger)

	services, err := bootstrap.Assemble(cfg, events.NewSink(hub), logger)
	if err != nil {
		return err
	}
	server := remote.NewServer(cfg.Remote.Addr, services.Controller, hub, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return services.Controller.Close(closeCtx)
	})

	logger.Info().Str("addr", cfg.Remote.Addr).Str("config", cfg.File).Msg("livecastd started")
	err = g.Wait()
	logger.Info().Msg("livecastd stopped")
	return err
}
