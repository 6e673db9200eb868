package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"qqbridge/internal/bus"
	"qqbridge/internal/domain"
	"qqbridge/internal/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the receive endpoint, event source and notification worker",
		Long:  "Starts the HTTP server for gateway callbacks and content events, and the worker that turns events into group notifications. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	events := bus.New(100, logger)
	defer events.Close()

	srv := server.New(server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		ReceivePath: cfg.Server.ReceivePath,
		EventsPath:  cfg.Server.EventsPath,
		MetricsPath: cfg.Server.MetricsPath,
		AccessToken: cfg.Gateway.AccessToken,
		Dispatcher:  a.dispatcher,
		Events:      events,
		Logger:      logger,
	})
	worker := a.notifier(logger)

	if len(cfg.GroupIDs()) == 0 {
		logger.Warn("no groups configured; inbound commands and notifications are disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return worker.Run(gctx, events.Subscribe()) })

	logger.Info("qqbridge started. Press Ctrl+C to stop.", "version", version, "groups", len(cfg.GroupIDs()))
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func notifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify [event.json]",
		Short: "Send the notification for one content event (file or stdin)",
		Long: `Reads a content event as JSON from the given file, or from stdin when no file
or "-" is given, and sends the notification it calls for. Useful from site
hooks that cannot reach the serve endpoint.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			var r io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			var ev domain.ContentEvent
			if err := json.NewDecoder(r).Decode(&ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}

			client := newClient(cfg, logger)
			sent := newWorker(cfg, client, logger).Handle(cmd.Context(), ev)
			client.Wait()
			if !sent {
				logger.Info("event produced no notification", "type", ev.Type, "post_id", ev.Post.ID)
			}
			return nil
		},
	}
}
