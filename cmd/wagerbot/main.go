package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fystack/community-bot/internal/economy"
	"github.com/fystack/community-bot/internal/wager"
	"github.com/fystack/community-bot/pkg/common/config"
	"github.com/fystack/community-bot/pkg/common/logger"
	"github.com/fystack/community-bot/pkg/common/types"
	"github.com/fystack/community-bot/pkg/events"
	"github.com/fystack/community-bot/pkg/infra"
	"github.com/fystack/community-bot/pkg/ledgerstore"
	"github.com/fystack/community-bot/pkg/ratelimiter"
	"github.com/spf13/cobra"
)

var version = "dev"

const (
	shutdownTimeout    = 15 * time.Second
	limiterIdleTTL     = 10 * time.Minute
	limiterSweepPeriod = time.Minute
)

var (
	configPath string
	debug      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "wagerbot",
		Short:        "Community points economy and lottery rooms.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to config file.")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logs.")

	root.AddCommand(newServeCmd(), newBalanceCmd(), newCreditCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP command surface.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newBalanceCmd() *cobra.Command {
	var ledger, nickname string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Print a user's balance on a ledger.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEconomy(func(ctx context.Context, eco *economy.Economy) error {
				balance, err := eco.Balance(ctx, ledger, nickname)
				if err != nil {
					return err
				}
				return printJSON(cmd, types.BalanceResult{Ledger: ledger, Nickname: nickname, NewBalance: balance})
			})
		},
	}
	cmd.Flags().StringVar(&ledger, "ledger", "gambling", "Ledger name.")
	cmd.Flags().StringVar(&nickname, "nickname", "", "User nickname.")
	_ = cmd.MarkFlagRequired("nickname")
	return cmd
}

func newCreditCmd() *cobra.Command {
	var (
		ledger, nickname string
		amount           int64
	)
	cmd := &cobra.Command{
		Use:   "credit",
		Short: "Credit points to a user, creating the row if needed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEconomy(func(ctx context.Context, eco *economy.Economy) error {
				balance, err := eco.Credit(ctx, ledger, nickname, amount)
				if err != nil {
					return err
				}
				logger.Info("Points credited", "ledger", ledger, "nickname", nickname, "amount", amount)
				return printJSON(cmd, types.BalanceResult{Ledger: ledger, Nickname: nickname, NewBalance: balance})
			})
		},
	}
	cmd.Flags().StringVar(&ledger, "ledger", "gambling", "Ledger name.")
	cmd.Flags().StringVar(&nickname, "nickname", "", "User nickname.")
	cmd.Flags().Int64Var(&amount, "amount", 0, "Points to credit.")
	_ = cmd.MarkFlagRequired("nickname")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func setup() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := logger.ParseLevel(cfg.Log.Level)
	if debug {
		level = slog.LevelDebug
	}
	if err := logger.Init(&logger.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		File:       cfg.Log.File,
	}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Info("Config loaded", "environment", cfg.Environment, "ledger_store", cfg.Ledger.Type)
	return cfg, nil
}

func newEconomy(cfg *config.Config) (*economy.Economy, infra.LedgerStore, error) {
	opts, err := economy.OptionsFromConfig(cfg.Economy, cfg.Ledger)
	if err != nil {
		return nil, nil, err
	}
	store, err := ledgerstore.NewFromConfig(cfg.Ledger)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger store: %w", err)
	}
	logger.Info("Ledger store opened", "backend", store.GetName())
	return economy.New(store, opts), store, nil
}

// withEconomy runs a one-shot operator command against the configured ledger.
func withEconomy(fn func(ctx context.Context, eco *economy.Economy) error) (err error) {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	var closers closeStack
	defer func() {
		if cerr := closers.closeAll(); err == nil {
			err = cerr
		}
	}()

	eco, store, err := newEconomy(cfg)
	if err != nil {
		return err
	}
	closers.push("ledger store", store.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fn(ctx, eco); err != nil {
		logger.Debug("Operator command failed", "err", err)
		return fmt.Errorf("%s: %s", types.KindOf(err), types.UserMessage(err))
	}
	return nil
}

func runServe() (err error) {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	var closers closeStack
	defer func() {
		if cerr := closers.closeAll(); err == nil {
			err = cerr
		}
	}()

	eco, store, err := newEconomy(cfg)
	if err != nil {
		return err
	}
	closers.push("ledger store", store.Close)

	emitter, err := newEmitter(cfg)
	if err != nil {
		return err
	}

	rooms := wager.NewManager(wager.NewRoomSlot(), eco, emitter, wager.OptionsFromConfig(cfg.Wager))
	closers.push("wager events", rooms.Close)

	limiter := ratelimiter.NewPooledRateLimiter(cfg.HTTP.RateLimit.RPS, cfg.HTTP.RateLimit.Burst, limiterIdleTTL)
	ledgers := []string{cfg.Economy.PointsLedger, cfg.Economy.MonthlyLedger, cfg.Economy.GamblingLedger}
	server := startHTTPServer(cfg.HTTP.Port, NewBotHTTPHandler(version, rooms, eco, ledgers, limiter))
	closers.push("http server", func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sweepLimiter(ctx, limiter)

	logger.Info("Wager bot is running... Press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("Wager bot stopping")
	return nil
}

func newEmitter(cfg *config.Config) (events.Emitter, error) {
	if !cfg.Nats.Enabled {
		logger.Info("NATS disabled, wager events are not published")
		return events.NewNoopEmitter(), nil
	}
	nc, err := infra.GetNATSConnection(cfg.Nats, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info("Publishing wager events", "url", nc.ConnectedUrl(), "subject_prefix", cfg.Nats.SubjectPrefix)
	return events.NewEmitter(nc, cfg.Nats.SubjectPrefix, nc.Drain), nil
}

func sweepLimiter(ctx context.Context, limiter *ratelimiter.PooledRateLimiter) {
	ticker := time.NewTicker(limiterSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Sweep(); n > 0 {
				logger.Debug("Dropped idle rate limiters", "count", n)
			}
		}
	}
}

type closer struct {
	name  string
	close func() error
}

// closeStack releases resources in reverse order of registration.
type closeStack []closer

func (s *closeStack) push(name string, fn func() error) {
	*s = append(*s, closer{name: name, close: fn})
}

// closeAll runs every closer, even after one fails, and returns all failures
// as one error.
func (s closeStack) closeAll() error {
	var errs types.MultiError
	for i := len(s) - 1; i >= 0; i-- {
		if err := s[i].close(); err != nil {
			logger.Error("Failed to close "+s[i].name, "err", err)
			errs.Add(fmt.Errorf("close %s: %w", s[i].name, err))
		}
	}
	return errs.ErrOrNil()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
