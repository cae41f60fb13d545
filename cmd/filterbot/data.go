package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"filterbot/internal/channel"
	"filterbot/internal/filters"
	"filterbot/internal/store"

	"github.com/spf13/cobra"
)

// openOffline opens the configured store and a filters module whose
// replies go to stdout, for commands that run without a chat network.
func openOffline() (*store.SQLiteStore, *filters.Module, func(), error) {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		closeLog()
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	console := channel.NewConsole(channel.ConsoleConfig{Logger: logger})
	mod, err := filters.New(filters.Config{
		Store:       st,
		Transport:   console,
		Permissions: console,
		Connections: st,
		Logger:      logger,
	})
	if err != nil {
		st.Close()
		closeLog()
		return nil, nil, nil, err
	}
	cleanup := func() {
		st.Close()
		closeLog()
	}
	return st, mod, cleanup, nil
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q", s)
	}
	return id, nil
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show how many filters are stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, mod, cleanup, err := openOffline()
			if err != nil {
				return err
			}
			defer cleanup()

			line, err := mod.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(line)
			return nil
		},
	}
}

func chatSettingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat-settings <chat_id>",
		Short: "Summarise one chat's filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			_, mod, cleanup, err := openOffline()
			if err != nil {
				return err
			}
			defer cleanup()

			line, err := mod.ChatSettings(cmd.Context(), chatID)
			if err != nil {
				return err
			}
			fmt.Println(line)
			return nil
		},
	}
}

func migrateChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-chat <old_chat_id> <new_chat_id>",
		Short: "Move a chat's filters and connections to a new chat id",
		Long:  "Use this when a group was upgraded to a supergroup while the bot was offline. The gateway does this on its own when it sees the migration.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldID, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			newID, err := parseChatID(args[1])
			if err != nil {
				return err
			}
			if oldID == newID {
				return fmt.Errorf("old and new chat id are the same")
			}
			_, mod, cleanup, err := openOffline()
			if err != nil {
				return err
			}
			defer cleanup()

			return mod.MigrateChat(cmd.Context(), oldID, newID)
		},
	}
}

func exportCmd() *cobra.Command {
	var (
		chat   string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a chat's filters to YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseChatID(chat)
			if err != nil {
				return err
			}
			st, _, cleanup, err := openOffline()
			if err != nil {
				return err
			}
			defer cleanup()

			var w io.Writer = os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			n, err := filters.Export(cmd.Context(), st, chatID, w)
			if err != nil {
				return err
			}
			logger.Info("filters exported", "chat_id", chatID, "count", n, "output", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&chat, "chat", "", "chat id to export")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}

func importCmd() *cobra.Command {
	var chat string
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import filters from a YAML export into a chat",
		Long:  "Adds every filter in the file to the chat. Existing filters with the same keyword are overwritten. Nothing is written if any entry is invalid.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseChatID(chat)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			st, mod, cleanup, err := openOffline()
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := filters.Import(cmd.Context(), st, chatID, f)
			if err != nil {
				return err
			}
			logger.Info("filters imported", "chat_id", chatID, "count", n)
			line, err := mod.ChatSettings(cmd.Context(), chatID)
			if err == nil {
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chat, "chat", "", "chat id to import into")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}
