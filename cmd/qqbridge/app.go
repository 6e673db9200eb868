package main

import (
	"context"
	"fmt"
	"log/slog"

	"qqbridge/internal/binding"
	"qqbridge/internal/command"
	"qqbridge/internal/config"
	"qqbridge/internal/dispatch"
	"qqbridge/internal/handler"
	"qqbridge/internal/host"
	"qqbridge/internal/notify"
	"qqbridge/internal/onebot"
)

// app holds the components wired from one config.
type app struct {
	cfg        *config.Config
	store      host.Store
	client     *onebot.Client
	bindings   *binding.Store
	dispatcher *dispatch.Dispatcher
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (host.Store, error) {
	store, err := host.Open(ctx, host.Config{
		Driver: cfg.Store.Driver,
		DSN:    cfg.Store.DSN,
		CheckIn: host.CheckInSettings{
			Enabled:  cfg.Site.CheckIn.Enabled,
			Points:   cfg.Site.CheckIn.Points,
			Integral: cfg.Site.CheckIn.Integral,
		},
		Location: cfg.Location(),
		Logger:   log,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	return store, nil
}

func newClient(cfg *config.Config, log *slog.Logger) *onebot.Client {
	return onebot.NewClient(onebot.ClientConfig{
		BaseURL:        cfg.Gateway.BaseURL,
		AccessToken:    cfg.Gateway.AccessToken,
		Timeout:        cfg.Timeout(),
		Debug:          cfg.Push.Debug,
		SendsPerMinute: cfg.Gateway.SendsPerMinute,
		SendBurst:      cfg.Gateway.SendBurst,
		Logger:         log,
	})
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	client := newClient(cfg, log)
	bindings := binding.NewStore(store, log)

	handlers := handler.Default(handler.Config{
		Features: handler.Features{
			Bind:           cfg.Features.Bind,
			CheckIn:        cfg.Features.CheckIn,
			LatestPosts:    cfg.Features.LatestPosts,
			PointsTransfer: cfg.Features.PointsTransfer,
		},
		ForumURL: cfg.Site.ForumURL,
		Location: cfg.Location(),
		Host:     host.Services(store),
		Bindings: bindings,
		Notifier: client,
		Logger:   log,
	})

	d := dispatch.New(dispatch.Config{
		InteractionEnabled: cfg.Features.Interaction,
		GroupIDs:           cfg.GroupIDs(),
		Parser:             command.NewParser(),
		Handlers:           handlers,
		Logger:             log,
	})

	return &app{cfg: cfg, store: store, client: client, bindings: bindings, dispatcher: d}, nil
}

func (a *app) notifier(log *slog.Logger) *notify.Worker {
	return newWorker(a.cfg, a.client, log)
}

func newWorker(cfg *config.Config, client *onebot.Client, log *slog.Logger) *notify.Worker {
	return notify.NewWorker(notify.Config{
		Settings: notify.Settings{
			NewPost:         cfg.Push.NewPost,
			Update:          cfg.Push.Update,
			Comment:         cfg.Push.Comment,
			AtAll:           cfg.Push.AtAll,
			CommentNoticeQQ: cfg.Push.CommentNoticeQQ,
			FaceID:          cfg.Push.FaceID,
		},
		GroupIDs:    cfg.GroupIDs(),
		Broadcaster: client,
		Notifier:    client,
		Location:    cfg.Location(),
		Logger:      log,
	})
}

// Close waits for in-flight broadcasts and releases the store.
func (a *app) Close() {
	a.client.Wait()
	if err := a.store.Close(); err != nil {
		logger.Warn("close store", "err", err)
	}
}
