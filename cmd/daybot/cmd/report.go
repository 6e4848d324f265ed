package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"daybot/internal/clock"
	"daybot/internal/report"
	"daybot/internal/store"
)

var reportDay string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the end-of-day summary for the last trading day",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		mc, err := clock.New(cfg.Session)
		if err != nil {
			return err
		}

		day := mc.LastTradingDay(time.Now())
		if reportDay != "" {
			day, err = time.ParseInLocation("2006-01-02", reportDay, mc.Location())
			if err != nil {
				return fmt.Errorf("invalid --day: %w", err)
			}
		}

		journal, err := store.NewSQLiteJournal(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer journal.Close()

		r, err := report.Build(context.Background(), journal, day)
		if err != nil {
			return err
		}
		fmt.Print(r.String())
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportDay, "day", "", "trading day to report (YYYY-MM-DD, default last trading day)")
	rootCmd.AddCommand(reportCmd)
}
