package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"filterbot/internal/config"

	"github.com/spf13/cobra"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: Telegram token → delivery mode → storage → save config",
		Long:  "Asks for the bot token, polling or webhook delivery, the allowed chats and the database path, then writes the config to the path used by --config or the default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runWizard(cfg, os.Stdin, os.Stdout); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", cfgPath)
			fmt.Println("Next: run 'filterbot doctor', then 'filterbot gateway'.")
			return nil
		},
	}
}

// runWizard fills cfg from answers read from in. Empty answers keep the
// value shown in brackets.
func runWizard(cfg *config.Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	prompt := func(question, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", question, def)
		} else {
			fmt.Fprintf(out, "%s: ", question)
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	fmt.Fprintln(out, "\n--- Step 1: Telegram bot ---")
	tokenDefault := cfg.Telegram.Token
	if tokenDefault == "" {
		tokenDefault = "${TELEGRAM_BOT_TOKEN}"
	}
	tok, err := prompt("Bot token from @BotFather, or an env var reference", tokenDefault)
	if err != nil {
		return err
	}
	cfg.Telegram.Token = tok
	cfg.Telegram.Enabled = tok != ""

	chats, err := prompt("Allowed chat ids, comma separated (empty allows every chat)", strings.Join(cfg.Telegram.AllowChats, ","))
	if err != nil {
		return err
	}
	cfg.Telegram.AllowChats = nil
	for _, id := range strings.Split(chats, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.Telegram.AllowChats = append(cfg.Telegram.AllowChats, id)
		}
	}

	fmt.Fprintln(out, "\n--- Step 2: Delivery ---")
	fmt.Fprintln(out, "  1) polling: the bot asks Telegram for updates (works anywhere)")
	fmt.Fprintln(out, "  2) webhook: Telegram posts updates to a public https URL")
	def := "1"
	if cfg.Telegram.Mode == "webhook" {
		def = "2"
	}
	choice, err := prompt("Choose delivery (1-2)", def)
	if err != nil {
		return err
	}
	if choice == "2" {
		cfg.Telegram.Mode = "webhook"
		if cfg.Telegram.Webhook.PublicURL, err = prompt("Public base URL", cfg.Telegram.Webhook.PublicURL); err != nil {
			return err
		}
		if cfg.Telegram.Webhook.Listen, err = prompt("Listen address", cfg.Telegram.Webhook.Listen); err != nil {
			return err
		}
		if cfg.Telegram.Webhook.Secret, err = prompt("Webhook secret token", cfg.Telegram.Webhook.Secret); err != nil {
			return err
		}
	} else {
		cfg.Telegram.Mode = "polling"
	}

	fmt.Fprintln(out, "\n--- Step 3: Storage ---")
	if cfg.Store.DBPath, err = prompt("Filter database path", cfg.Store.DBPath); err != nil {
		return err
	}

	metrics, err := prompt("Expose Prometheus metrics? (y/n)", yesNo(cfg.Metrics.Enabled))
	if err != nil {
		return err
	}
	cfg.Metrics.Enabled = strings.HasPrefix(strings.ToLower(metrics), "y")

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}
