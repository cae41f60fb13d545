package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"filterbot/internal/domain"
)

const (
	webhookMaxBodySize  = 1 << 20 // 1MB
	webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// WebhookConfig configures webhook delivery of Telegram updates.
type WebhookConfig struct {
	Listen    string // address to listen on (default :8443)
	Path      string // URL path (default /telegram)
	PublicURL string // external base URL; registered with Telegram when set
	Secret    string // expected secret token header
	Logger    *slog.Logger
}

// TelegramWebhook receives updates over HTTP instead of long polling.
// Sending and permission checks stay on the wrapped *Telegram.
type TelegramWebhook struct {
	tg        *Telegram
	listen    string
	path      string
	publicURL string
	secret    string
	logger    *slog.Logger
	server    *http.Server
}

func NewTelegramWebhook(tg *Telegram, cfg WebhookConfig) *TelegramWebhook {
	if cfg.Listen == "" {
		cfg.Listen = ":8443"
	}
	if cfg.Path == "" {
		cfg.Path = "/telegram"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TelegramWebhook{
		tg:        tg,
		listen:    cfg.Listen,
		path:      cfg.Path,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		secret:    cfg.Secret,
		logger:    cfg.Logger,
	}
}

func (w *TelegramWebhook) Name() string { return telegramChannelName }

// Start registers the webhook if a public URL is configured and serves
// updates until ctx is done.
func (w *TelegramWebhook) Start(ctx context.Context, bus domain.MessageBus) error {
	if err := w.tg.Connect(); err != nil {
		return err
	}
	if w.publicURL != "" {
		if err := w.register(); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.Handle(w.path, w.Handler(bus))

	w.server = &http.Server{
		Addr:              w.listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("telegram webhook server starting", "listen", w.listen, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("telegram webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("telegram webhook server: %w", err)
	}
}

func (w *TelegramWebhook) Stop() error { return nil }

func (w *TelegramWebhook) register() error {
	params := tgbotapi.Params{"url": w.publicURL + w.path}
	if w.secret != "" {
		params["secret_token"] = w.secret
	}
	if _, err := w.tg.api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set telegram webhook: %w", err)
	}
	w.logger.Info("telegram webhook registered", "url", w.publicURL+w.path)
	return nil
}

// Handler decodes Telegram updates and publishes their messages to bus.
func (w *TelegramWebhook) Handler(bus domain.MessageBus) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		if w.secret != "" && !secretMatches(r.Header.Get(webhookSecretHeader), w.secret) {
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBodySize))
		if err != nil {
			http.Error(rw, "Bad Request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		var update tgbotapi.Update
		if err := json.Unmarshal(body, &update); err != nil {
			http.Error(rw, "Invalid JSON", http.StatusBadRequest)
			return
		}

		w.tg.handleUpdate(update, bus)
		rw.WriteHeader(http.StatusOK)
	})
}

func secretMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
