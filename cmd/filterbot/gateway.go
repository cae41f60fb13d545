package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filterbot/internal/bus"
	"filterbot/internal/channel"
	"filterbot/internal/config"
	"filterbot/internal/connection"
	"filterbot/internal/domain"
	"filterbot/internal/filters"
	"filterbot/internal/metrics"
	"filterbot/internal/router"
	"filterbot/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	busBufferSize   = 100
	shutdownTimeout = 10 * time.Second
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the Telegram bot",
		Long:  "Connects to Telegram (long polling or webhook, per telegram.mode) and answers filter commands and keywords. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func consoleCmd() *cobra.Command {
	var (
		chatID int64
		title  string
		userID int64
	)
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Try filters from the terminal",
		Long:  "Runs the bot against stdin/stdout as a single group chat in which you are the creator. Filters are stored in the configured database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				logger.Warn("config not found, using defaults", "err", err)
				cfg = config.Defaults()
				cfg.Store.DBPath = config.ExpandPath(cfg.Store.DBPath)
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			console := channel.NewConsole(channel.ConsoleConfig{
				ChatID:    chatID,
				ChatTitle: title,
				UserID:    userID,
				Logger:    logger,
			})
			return serve(ctx, cfg, st, botRuntime{
				channel:     console,
				transport:   console,
				permissions: console,
				directory:   console,
			})
		},
	}
	cmd.Flags().Int64Var(&chatID, "chat-id", -1, "chat id the console pretends to be")
	cmd.Flags().StringVar(&title, "title", "console", "chat title")
	cmd.Flags().Int64Var(&userID, "user-id", 1, "user id of the console user")
	return cmd
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	if !cfg.Telegram.Enabled {
		return errors.New("telegram is disabled: set telegram.enabled and telegram.token, or use 'filterbot console'")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	tg := channel.NewTelegram(channel.TelegramConfig{
		Token:         cfg.Telegram.Token,
		AllowChats:    cfg.Telegram.AllowChats,
		ParseMode:     cfg.Telegram.ParseMode,
		AdminCacheTTL: time.Duration(cfg.Filters.AdminCacheSeconds) * time.Second,
		Logger:        logger,
	})
	// The username is needed before the modules are built.
	if err := tg.Connect(); err != nil {
		return err
	}

	var ch domain.Channel = tg
	if cfg.Telegram.Mode == "webhook" {
		ch = channel.NewTelegramWebhook(tg, channel.WebhookConfig{
			Listen:    cfg.Telegram.Webhook.Listen,
			Path:      cfg.Telegram.Webhook.Path,
			PublicURL: cfg.Telegram.Webhook.PublicURL,
			Secret:    cfg.Telegram.Webhook.Secret,
			Logger:    logger,
		})
	}

	return serve(ctx, cfg, st, botRuntime{
		channel:     ch,
		transport:   tg,
		permissions: tg,
		directory:   tg,
		botUsername: tg.Username(),
	})
}

// botRuntime is the chat network side of a running bot.
type botRuntime struct {
	channel     domain.Channel
	transport   domain.Transport
	permissions domain.Permissions
	directory   domain.ChatDirectory
	botUsername string
}

// serve wires the modules to rt and runs until ctx is done or the channel
// stops producing messages.
func serve(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, rt botRuntime) error {
	messageBus := bus.New(cfg.General.MaxConcurrentMessages, busBufferSize, logger)
	events := bus.NewEventBus(logger)
	events.On("*", func(ev bus.Event) {
		logger.Debug("event", "type", ev.Type, "source", ev.Source, "payload", ev.Payload)
	})

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.NewRegistry())
	}

	filterModule, err := filters.New(filters.Config{
		Store:            st,
		Transport:        rt.transport,
		Permissions:      rt.permissions,
		Connections:      st,
		Directory:        rt.directory,
		Events:           events,
		Metrics:          m,
		BotUsername:      rt.botUsername,
		PreviewDomains:   cfg.Filters.PreviewDomains,
		MaxMessageLength: cfg.Filters.MaxMessageLength,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	filterModule.Subscribe(events)
	filterModule.RefreshGauges(ctx)

	connModule, err := connection.New(connection.Config{
		Store:       st,
		Transport:   rt.transport,
		Permissions: rt.permissions,
		Directory:   rt.directory,
		BotUsername: rt.botUsername,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	r := router.New(router.Config{
		Bus:       messageBus,
		Handlers:  []domain.MessageHandler{connModule, filterModule},
		Transport: rt.transport,
		Events:    events,
		Metrics:   m,
		Logger:    logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer messageBus.Close()
		if err := rt.channel.Start(gctx, messageBus); err != nil {
			return fmt.Errorf("%s channel: %w", rt.channel.Name(), err)
		}
		return nil
	})
	g.Go(func() error {
		// A closed bus ends the run for everyone.
		defer cancel()
		return r.Run(gctx)
	})
	if m != nil {
		g.Go(func() error {
			return serveOps(gctx, cfg.Metrics, m, st)
		})
	}

	logger.Info("filterbot started", "channel", rt.channel.Name(), "version", version)

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		logger.Info("shutdown complete")
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	select {
	case err := <-done:
		if err := rt.channel.Stop(); err != nil {
			logger.Warn("channel stop failed", "err", err)
		}
		logger.Info("shutdown complete")
		return err
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// serveOps exposes /metrics and /healthz until ctx is done.
func serveOps(ctx context.Context, cfg config.MetricsConfig, m *metrics.Metrics, st *store.SQLiteStore) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("metrics server started", "listen", cfg.Listen, "path", cfg.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}
}
