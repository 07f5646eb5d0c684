package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shoma-endo/lark-mcp-bot/internal/telegram"
)

func newTelegramCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "telegram",
		Short: "Run the bot over Telegram long polling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.TelegramBotToken == "" {
				return errors.New("TELEGRAM_BOT_TOKEN is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			api, err := telegram.NewBotAPI(a.cfg.TelegramBotToken)
			if err != nil {
				return fmt.Errorf("telegram auth: %w", err)
			}
			rt, err := a.startRuntime(ctx, telegram.NewSender(api))
			if err != nil {
				return err
			}
			defer rt.Close()
			go rt.reloadOnHangup(ctx)

			telegram.NewPoller(api, rt.HandleEvent, a.logger).Start(ctx)
			a.logger.Info("telegram polling stopped")
			return nil
		},
	}
}
