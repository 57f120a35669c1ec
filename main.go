package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"tgfilestream/internal/bot"
	"tgfilestream/internal/config"
	"tgfilestream/internal/httpapi"
	"tgfilestream/internal/telegram"
	"tgfilestream/internal/transfer"
)

// Exit codes: 1 configuration error, 2 failed to initialize the upstream
// or HTTP server, 3 fatal runtime error, 0 clean shutdown on interrupt.
func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Println(err)
		return 1
	}

	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	client := telegram.NewClient(cfg, log.Named("telegram"))
	b := bot.New(client, cfg.PublicURL, cfg.StartMessage, cfg.GroupChatMessage, log.Named("bot"))
	client.OnEvent(b.HandleEvent)

	if err := client.Start(ctx); err != nil {
		log.Error("failed to initialize", zap.Error(err))
		return 2
	}
	defer func() { _ = client.Stop() }()

	tr := transfer.New(client, client.Dialer(), cfg.ConnectionLimit, log.Named("transfer"))
	tr.PostInit()

	api := httpapi.New(client, tr, cfg.TrustForwardHeaders, log.Named("http"))

	go runMetrics(ctx, tr, log.Named("metrics"), 30*time.Second)

	errCh := make(chan error, 1)
	go func() { errCh <- api.Run(ctx, cfg.ListenAddr()) }()

	log.Info("initialization complete")
	log.Debug("listening", zap.String("addr", cfg.ListenAddr()), zap.String("public_url", cfg.PublicURL.String()))

	select {
	case <-sigCh:
		log.Info("shutting down...")
		cancel()
		<-errCh
		return 0
	case err := <-errCh:
		if err != nil {
			log.Error("failed to initialize", zap.Error(err))
			return 2
		}
		log.Error("http server stopped unexpectedly")
		return 3
	}
}
