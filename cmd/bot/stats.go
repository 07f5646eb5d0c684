package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shoma-endo/lark-mcp-bot/internal/analytics"
	"github.com/shoma-endo/lark-mcp-bot/internal/storage"
)

func newStatsCmd(a *app) *cobra.Command {
	var date string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print daily usage from the interaction log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.InteractionLogPath == "" {
				return errors.New("INTERACTION_LOG_PATH is not set")
			}
			day := time.Now().UTC()
			if date != "" {
				parsed, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				day = parsed
			}

			rec, err := storage.NewFileRecorder(a.fs, a.cfg.InteractionLogPath)
			if err != nil {
				return err
			}
			events, err := rec.LoadInteractions()
			if err != nil {
				return err
			}
			stats := analytics.AnalyzeDailyLogs(events, day)

			if asJSON {
				out, err := stats.ToJSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), stats.Summary())
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to report, YYYY-MM-DD (default today, UTC)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}
