// Package cli holds the momentum-core command tree.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"momentum-core/internal/api"
	"momentum-core/internal/engine"
	"momentum-core/internal/gateway"
	"momentum-core/pkg/config"
	"momentum-core/pkg/crypto"
	"momentum-core/pkg/db"
	"momentum-core/pkg/exchanges/common"
	"momentum-core/pkg/logger"
)

// NewRootCmd builds the command tree. Running the binary without a
// subcommand starts the full service.
func NewRootCmd(version string) *cobra.Command {
	var strategyFile string

	rootCmd := &cobra.Command{
		Use:           "momentum-core",
		Short:         "Intraday momentum scanner and trade manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if strategyFile != "" {
				return os.Setenv("STRATEGY_CONFIG", strategyFile)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&strategyFile, "strategy", "", "strategy YAML file (overrides STRATEGY_CONFIG)")

	run := newRunCmd(version)
	rootCmd.RunE = run.RunE
	rootCmd.Flags().AddFlagSet(run.Flags())

	rootCmd.AddCommand(run)
	rootCmd.AddCommand(newScanOnceCmd(version))
	rootCmd.AddCommand(newTradesCmd())
	rootCmd.AddCommand(newHashPasswordCmd())
	rootCmd.AddCommand(newSealSecretCmd())
	rootCmd.AddCommand(newRotateSecretCmd())
	rootCmd.AddCommand(newGenKeyCmd())
	rootCmd.AddCommand(newVersionCmd(version))
	return rootCmd
}

func newRunCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scan loop, position manager and control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			arm, _ := cmd.Flags().GetBool("arm")
			return runService(cmd.Context(), version, arm)
		},
	}
	cmd.Flags().Bool("arm", false, "arm live order placement at startup (live mode only)")
	return cmd
}

func newScanOnceCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan-once",
		Short: "Run a single paper scan cycle and print the per-symbol outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols, _ := cmd.Flags().GetStringSlice("symbols")
			force, _ := cmd.Flags().GetBool("force-signal")
			return runScanOnce(cmd.Context(), cmd.OutOrStdout(), version, symbols, force)
		},
	}
	cmd.Flags().StringSlice("symbols", nil, "symbols to scan (defaults to the configured list)")
	cmd.Flags().Bool("force-signal", false, "emit the diagnostic forced candidate")
	return cmd
}

func newTradesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Print the most recent closed trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return printTrades(cmd.Context(), cmd.OutOrStdout(), limit)
		},
	}
	cmd.Flags().Int("limit", 20, "number of trades to show")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [PASSWORD]",
		Short: "Print the bcrypt hash for OPERATOR_PASSWORD_HASH",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := argOrStdin(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := api.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newSealSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seal-secret [VALUE]",
		Short: "Encrypt a credential with the current master key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := argOrStdin(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			ring, err := crypto.LoadKeyring(os.Getenv)
			if err != nil {
				return err
			}
			sealed, err := ring.Seal(value)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
}

func newRotateSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-secret [SEALED]",
		Short: "Re-encrypt a sealed credential under the newest master key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sealed, err := argOrStdin(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			ring, err := crypto.LoadKeyring(os.Getenv)
			if err != nil {
				return err
			}
			rotated, err := ring.Rotate(sealed)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rotated)
			return nil
		},
	}
}

func newGenKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-key",
		Short: "Generate a random master encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "momentum-core %s\n", version)
		},
	}
}

func runService(parent context.Context, version string, arm bool) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := openResources(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer res.close()

	eng, err := engine.New(cfg, engine.Deps{
		Exchange: res.exchange,
		DB:       res.db,
		Redis:    res.redis,
		Log:      log,
		Version:  version,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.Start(ctx); err != nil {
		return err
	}
	if arm {
		if err := eng.ArmLive(); err != nil {
			return fmt.Errorf("--arm: %w", err)
		}
	}

	errCh := make(chan error, 2)
	workers := 1
	if cfg.API.Enabled {
		server := api.NewServer(eng, cfg.API, logger.Component(log, "api"))
		workers++
		go func() { errCh <- server.Run(ctx, ":"+cfg.API.Port) }()
	}
	go func() { errCh <- eng.Run(ctx) }()

	var firstErr error
	for i := 0; i < workers; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			stop()
		}
	}
	log.Info().Msg("shutting down")
	return firstErr
}

func runScanOnce(parent context.Context, out io.Writer, version string, symbols []string, force bool) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	cfg.Mode = "paper"
	if len(symbols) > 0 {
		cfg.Scanner.Symbols = symbols
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := openResources(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer res.close()

	eng, err := engine.New(cfg, engine.Deps{Exchange: res.exchange, DB: res.db, Log: log, Version: version})
	if err != nil {
		return err
	}
	defer eng.Close()
	if force {
		eng.SetTestSignal(true)
	}

	results, err := eng.RunOnce(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func printTrades(ctx context.Context, out io.Writer, limit int) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return err
	}

	trades, err := database.RecentTrades(ctx, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLOSED\tSYMBOL\tSIDE\tENTRY\tEXIT\tQTY\tPNL\tREASON\tMODE")
	for _, t := range trades {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.6g\t%.6g\t%.6g\t%.2f\t%s\t%s\n",
			t.ClosedAt.Format(time.DateTime), t.Symbol, t.Side, t.Entry, t.Exit, t.Qty, t.PnL, t.Reason, t.Mode)
	}
	return w.Flush()
}

func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}

// processResources are opened once per command and outlive the engine.
type processResources struct {
	exchange common.Exchange
	db       *db.Database
	redis    *redis.Client
}

func (r *processResources) close() {
	if r.redis != nil {
		_ = r.redis.Close()
	}
	if r.db != nil {
		_ = r.db.Close()
	}
}

func openResources(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*processResources, error) {
	ex, err := gateway.New(gateway.FromConfig(cfg), logger.Component(log, "gateway"))
	if err != nil {
		return nil, err
	}
	res := &processResources{exchange: ex}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.ApplyMigrations(database); err != nil {
		_ = database.Close()
		return nil, err
	}
	res.db = database

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable; positions kept in memory")
		}
		cancel()
		res.redis = client
	}
	return res, nil
}

func argOrStdin(args []string, in io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no value given")
	}
	return line, nil
}
