package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"paylink/internal/service"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Manage the downstream accounting sync queue",
	}

	cmd.AddCommand(syncRunCmd())
	cmd.AddCommand(syncResetFailedCmd())
	cmd.AddCommand(syncBackfillCmd())

	return cmd
}

func syncRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process due sync jobs once, or continuously with --watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			watch, _ := cmd.Flags().GetDuration("watch")
			if watch > 0 {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				c.SyncQueue.Run(ctx, watch)
				return nil
			}

			summary, err := c.SyncQueue.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().Duration("watch", 0, "Keep running with this interval between batches")

	return cmd
}

func syncResetFailedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-failed",
		Short: "Move FAILED sync jobs back to PENDING",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			org, _ := cmd.Flags().GetString("org")
			n, err := c.SyncQueue.ResetFailed(cmd.Context(), org)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d failed jobs\n", n)
			return nil
		},
	}

	cmd.Flags().String("org", "", "Only reset jobs of this organization")

	return cmd
}

func syncBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Enqueue sync jobs for PAID links that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			limit, _ := cmd.Flags().GetInt("limit")
			n, err := c.SyncQueue.Backfill(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d jobs\n", n)
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 500, "Maximum links to scan")

	return cmd
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and repair ledger postings",
	}

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Post PAID links that have no ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			limit, _ := cmd.Flags().GetInt("limit")
			n, err := c.Ledger.ReconcileMissing(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "posted %d links\n", n)
			return nil
		},
	}
	reconcile.Flags().IntP("limit", "n", 500, "Maximum links to scan")

	balance := &cobra.Command{
		Use:   "balance [payment-link-id]",
		Short: "Check that a link's debits equal its credits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := c.Ledger.ValidateBalance(cmd.Context(), args[0])
			if err != nil && !errors.Is(err, service.ErrLedgerImbalance) {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Balanced {
				return fmt.Errorf("payment link %s is unbalanced by %s", args[0], report.Difference)
			}
			return nil
		},
	}

	cmd.AddCommand(reconcile)
	cmd.AddCommand(balance)

	return cmd
}

func linksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Payment link maintenance",
	}

	expire := &cobra.Command{
		Use:   "expire",
		Short: "Expire OPEN links past their expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			limit, _ := cmd.Flags().GetInt("limit")
			n, err := c.Links.ExpireDue(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d links\n", n)
			return nil
		},
	}
	expire.Flags().IntP("limit", "n", 500, "Maximum links to expire")

	cmd.AddCommand(expire)

	return cmd
}

func consistencyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consistency",
		Short: "Report PAID links missing events, postings or sync jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			start := time.Now()
			report, err := c.Consistency.Report(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "report generated in %s\n", time.Since(start).Round(time.Millisecond))
			if !report.Healthy() {
				return errors.New("consistency check found gaps")
			}
			return nil
		},
	}
}
