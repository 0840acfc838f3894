package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meetly/client/internal/api"
	"meetly/client/internal/config"
	"meetly/client/internal/logging"
	"meetly/client/internal/realtime"
	"meetly/client/internal/storage"
	"meetly/client/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("log error: %v", err)
	}
	defer func() {
		_ = cleanup()
	}()
	logger = logger.With("service", "meetly")
	slog.SetDefault(logger)

	device, err := storage.Open(cfg.Storage.Path, cfg.Storage.Secret)
	if err != nil {
		logger.Error("storage error", "error", err)
		os.Exit(1)
	}
	defer device.Close()

	gateway := api.NewClient(api.Config{
		BaseURL: cfg.APIBaseURL,
		RPS:     cfg.RateLimit.RPS,
		Burst:   cfg.RateLimit.Burst,
	}, nil, logger)

	channel := realtime.NewClient(realtime.Config{
		URL:               cfg.SocketURL,
		JoinTimeout:       cfg.Realtime.JoinTimeout,
		ReconnectDelay:    cfg.Realtime.ReconnectDelay,
		ReconnectAttempts: cfg.Realtime.ReconnectAttempts,
	}, logger)
	defer channel.Close()

	st := store.New(store.Options{
		Gateway: gateway,
		Storage: device,
		Logger:  logger,
	})

	ctx := context.Background()
	if err := gateway.Ping(ctx); err != nil {
		logger.Warn("ping failed", "error", err)
	}
	if err := st.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap failed", "error", err)
	}

	user := st.CurrentUser()
	if user == nil {
		logger.Info("no stored session; run a profile setup first")
	} else {
		logger.Info("session restored", "user_id", user.ID, "name", user.Name)
		st.RefreshEvents(ctx, cfg.City, false)
	}

	bridge := store.NewBridge(st, gateway, channel, st.OpenChatTracker(), logger)
	if user != nil {
		if err := bridge.Start(ctx); err != nil {
			logger.Warn("bridge start failed", "error", err)
		}
	}
	defer bridge.Stop()

	poller := store.NewPoller(st, cfg.Poll.Interval, logger)
	poller.Start()
	defer poller.Stop()

	go watchNotifications(ctx, st, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")
}

// watchNotifications surfaces in-app notifications on the console; in the
// mobile shell the presentation layer consumes the same slot.
func watchNotifications(ctx context.Context, st *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := st.Notification()
			if n == nil || !n.Visible {
				continue
			}
			logger.Info("notification", "title", n.Title, "message", n.Message, "chat_id", n.ChatID, "event_id", n.EventID)
			st.HideNotification()
		}
	}
}
