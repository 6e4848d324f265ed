package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"daybot/internal/broker"
	"daybot/internal/clock"
	"daybot/internal/engine"
	"daybot/internal/notify"
	"daybot/internal/portfolio"
	"daybot/internal/store"
	"daybot/internal/strategy/builtins"
)

var simMode bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading engine until the session ends or a signal arrives",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		lock, err := engine.AcquireLock(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("acquiring session lock: %w", err)
		}
		defer lock.Release()

		journal, err := store.NewSQLiteJournal(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer journal.Close()

		notifier := buildNotifier(cfg.Notify.DiscordWebhookURL)

		var base broker.Broker
		if simMode {
			base = broker.NewSimBroker(100_000)
		} else {
			if err := cfg.ValidateCredentials(); err != nil {
				return err
			}
			base = broker.NewAlpacaBroker(
				cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
				cfg.Alpaca.BaseURL, cfg.Alpaca.DataURL,
				cfg.Trading.RateLimitPerSec,
			)
		}
		retrier := broker.NewRetrier(base, broker.DefaultRetryConfig(), notifier)
		quotes := broker.NewQuoteCache(retrier, cfg.Trading.QuoteCacheTTL.Std())

		mc, err := clock.New(cfg.Session)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// The broker is the source of truth; the local ledger starts from
		// its snapshot and tracks fills from there.
		snap, err := quotes.GetAccount(ctx)
		if err != nil {
			return fmt.Errorf("fetching account snapshot: %w", err)
		}
		positions, err := quotes.GetPositions(ctx)
		if err != nil {
			return fmt.Errorf("fetching positions: %w", err)
		}
		snap.Positions = positions
		ledger := portfolio.NewFromSnapshot(snap)

		now := time.Now().In(mc.Location())
		slog.Info("session starting",
			"broker", quotes.Name(),
			"cash", snap.Cash,
			"positions", len(snap.Positions),
			"inSession", mc.InSession(now),
			"nextWake", mc.NextWakeUp(now),
		)

		eng, err := engine.New(cfg, mc, quotes, quotes, ledger, journal,
			store.NewAuditExporter(cfg.Storage.DataDir), notifier, builtins.DefaultRegistry())
		if err != nil {
			return err
		}
		return eng.Run(ctx)
	},
}

func buildNotifier(webhookURL string) notify.Notifier {
	if webhookURL == "" {
		return &notify.LogNotifier{}
	}
	return notify.Multi{
		&notify.LogNotifier{},
		notify.NewDiscordNotifier(webhookURL),
	}
}

func init() {
	runCmd.Flags().BoolVar(&simMode, "sim", false, "trade against the in-memory sim broker")
	rootCmd.AddCommand(runCmd)
}
