package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"spv-ledger/internal/app"
	"spv-ledger/internal/config"
	"spv-ledger/internal/infrastructure/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "spvctl",
		Short:         "Loan SPV ledger administration",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(syncCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(distributeCmd())
	root.AddCommand(tokenizeCmd())
	root.AddCommand(verifyCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(deployCmd())
	return root
}

// withApp loads configuration, opens the backing services and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Setup(cfg.LogLevel, cfg.Environment, cfg.SentryDSN); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func syncCmd() *cobra.Command {
	var (
		stream string
		reset  bool
		purge  bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile contract events into the ledger",
		Long: `Reconcile applies every contract event after the stream cursor.

--reset rewinds the cursor to the start of the chain first; add
--purge-processed to also forget which transactions were applied, so
they are re-executed rather than replayed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if purge && !reset {
				return fmt.Errorf("--purge-processed requires --reset")
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if stream == "" {
					stream = a.Cfg.SyncStream
				}
				if reset {
					if err := a.Reconcile.Reset(ctx, stream, purge); err != nil {
						return err
					}
				}
				sum, err := a.Reconcile.Reconcile(ctx, stream)
				if sum != nil {
					if perr := printJSON(cmd.OutOrStdout(), sum); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "", "sync stream name (default SYNC_STREAM)")
	cmd.Flags().BoolVar(&reset, "reset", false, "rewind the cursor before syncing")
	cmd.Flags().BoolVar(&purge, "purge-processed", false, "with --reset, forget applied transactions")
	return cmd
}

func statusCmd() *cobra.Command {
	var stream string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync cursor of a stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if stream == "" {
					stream = a.Cfg.SyncStream
				}
				st, err := a.Reconcile.Status(ctx, stream)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "", "sync stream name (default SYNC_STREAM)")
	return cmd
}

func distributeCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "distribute <loan_id>",
		Short: "Deposit USDC yield for a loan and split it across holders",
		Long: `Distribute deposits the amount on-chain and books each holder's share.
Without --amount one month of interest on the loan is paid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			total := decimal.Zero
			if amount != "" {
				d, err := decimal.NewFromString(amount)
				if err != nil || !d.IsPositive() {
					return fmt.Errorf("invalid --amount %q", amount)
				}
				total = d
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var (
					res any
					err error
				)
				if total.IsZero() {
					res, err = a.Distribution.DistributePayment(ctx, args[0])
				} else {
					res, err = a.Distribution.Distribute(ctx, args[0], total)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "USDC amount, e.g. 1250.50")
	return cmd
}

func tokenizeCmd() *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "tokenize <loan_id>",
		Short: "Publish loan metadata and mint its token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Loans.Tokenize(ctx, args[0], spec)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&spec, "spec", "", "tokenization spec name for a senior/junior split")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <loan_id>",
		Short: "Compare the on-chain metadata fingerprint with the local loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Loans.VerifyIntegrity(ctx, args[0])
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
				if !rep.Synchronized {
					return fmt.Errorf("loan %s is out of sync with its on-chain metadata", args[0])
				}
				return nil
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(_ context.Context, a *app.App) error {
				if err := a.Migrate(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func deployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy [constructor args...]",
		Short: "Deploy the token contract",
		Long: `Deploy sends the creation bytecode at CONTRACT_BYTECODE_PATH, with the
constructor described by CONTRACT_ABI_PATH, from the admin key. Constructor
arguments are given in order as plain text.

Example:
  spvctl deploy 0x5425890298aed601595a70AB815c96711a31Bc65`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				addr, err := a.Deploy(ctx, args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deployed at %s\nset CONTRACT_ADDRESS=%s\n", addr, addr)
				return nil
			})
		},
	}
}
