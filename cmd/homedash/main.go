package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"homedash/internal/api"
	"homedash/internal/bridge"
	"homedash/internal/clock"
	"homedash/internal/config"
	"homedash/internal/ha"
	"homedash/internal/state"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "homedash: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Bootstrap logger until LOG_LEVEL is known
	bootstrap, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	cfg, err := config.Load(bootstrap)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting Home Dashboard",
		zap.String("url", cfg.HubURL),
		zap.String("listen", cfg.ListenAddr),
		zap.Int("max_attempts", cfg.BridgeMaxAttempts),
		zap.Duration("base_delay", cfg.BridgeBaseDelay))

	descriptors, err := config.LoadDescriptors(cfg.DescriptorsFile, logger)
	if err != nil {
		return err
	}

	gateway := ha.NewRESTClient(cfg.HubURL, cfg.Token, nil, logger)

	dialer, err := ha.NewWebsocketDialer(cfg.HubURL, cfg.BridgeHandshakeTimeout, logger)
	if err != nil {
		return err
	}

	clk := clock.NewRealClock()

	relay := bridge.New(dialer, bridge.Config{
		Token: cfg.Token,
		Retry: bridge.RetryPolicy{
			MaxAttempts: cfg.BridgeMaxAttempts,
			BaseDelay:   cfg.BridgeBaseDelay,
		},
		HandshakeTimeout: cfg.BridgeHandshakeTimeout,
	}, clk, logger)

	stateManager := state.NewManager(gateway, descriptors, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A failed initial sync is not fatal; the first "connected" frame resyncs
	if err := stateManager.SyncFromHub(ctx); err != nil {
		logger.Warn("Initial state sync failed", zap.Error(err))
	}

	server := api.NewServer(cfg.ListenAddr, api.Deps{
		Gateway: gateway,
		States:  stateManager,
		Relay:   relay,
		Clock:   clk,
	}, logger)

	// The manager subscribes before the bridge starts so it sees the first "connected"
	frames := relay.Subscribe()
	defer frames.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Serve(ctx)
	})

	g.Go(func() error {
		return stateManager.Run(ctx, frames.C())
	})

	// The bridge stopping on its own leaves the dashboard serving; only a
	// shutdown ends this goroutine's error path.
	g.Go(func() error {
		err := relay.Run(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, ha.ErrAuthRejected):
			logger.Error("Push channel stopped: access token rejected; fix HA_TOKEN and POST /api/bridge/reconnect")
		case errors.Is(err, bridge.ErrMaxRetriesExceeded):
			logger.Error("Push channel stopped after repeated failures; POST /api/bridge/reconnect to retry", zap.Error(err))
		case err != nil:
			logger.Error("Push channel stopped", zap.Error(err))
		}
		return nil
	})

	logger.Info("Application running. Press Ctrl+C to exit.")

	err = g.Wait()
	logger.Info("Shutting down gracefully...")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
