package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/fatflowers/billing/internal/app"
	"github.com/fatflowers/billing/internal/app/service/quota"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/app/service/usage"
	webhooklog "github.com/fatflowers/billing/internal/app/service/webhook_log"
	"github.com/fatflowers/billing/pkg/types"
)

type services struct {
	fx.In

	Gate     *quota.Gate
	Subs     *subscription.Service
	Webhooks *webhooklog.Service
	Ledger   *usage.Ledger
}

// withServices boots the core graph (config, db, redis, services) without the
// HTTP server or jobs, runs fn and shuts everything down.
func withServices(ctx context.Context, fn func(ctx context.Context, s services) error) error {
	var s services
	a := fx.New(app.CoreModule, fx.Populate(&s), fx.NopLogger)
	if err := a.Err(); err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
		defer cancel()
		_ = a.Stop(stopCtx)
	}()
	return fn(ctx, s)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAccessCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "access <user_id>",
		Short: "Show a user's billing access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				return printJSON(cmd.OutOrStdout(), s.Gate.GetBillingAccess(ctx, args[0]))
			})
		},
	}
}

func newUsageCommand() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "usage <user_id>",
		Short: "Show a user's usage this month against plan limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				if refresh {
					if err := s.Ledger.Invalidate(ctx, args[0]); err != nil {
						return fmt.Errorf("failed to drop cached usage: %w", err)
					}
				}
				sum, err := s.Gate.Usage(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Drop the cached monthly totals and recount from the store")
	return cmd
}

func newEventsCommand() *cobra.Command {
	var (
		provider string
		since    time.Duration
		failed   bool
		size     int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent webhook deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &webhooklog.ScanRequest{
				Filters: []*types.CommonFilter{{
					Field:    "created_at",
					Operator: types.CommonFilterOperatorGte,
					Values:   []any{time.Now().UTC().Add(-since)},
				}},
				Size: size,
			}
			if provider != "" {
				req.Filters = append(req.Filters, &types.CommonFilter{Field: "provider", Operator: types.CommonFilterOperatorEq, Values: []any{provider}})
			}
			if failed {
				req.Filters = append(req.Filters, &types.CommonFilter{Field: "applied", Operator: types.CommonFilterOperatorEq, Values: []any{false}})
			}
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				res, err := s.Webhooks.Scan(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "stripe, paddle or dodo")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "How far back to look")
	cmd.Flags().BoolVar(&failed, "not-applied", false, "Only deliveries that did not change a subscription")
	cmd.Flags().IntVarP(&size, "size", "n", 50, "Max rows")
	return cmd
}

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <provider> <external_subscription_id>",
		Short: "Refresh a subscription from the provider's current state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := types.PaymentProvider(args[0])
			if !p.Valid() {
				return fmt.Errorf("unknown provider %q", args[0])
			}
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				res, err := s.Subs.Refresh(ctx, p, args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the billing tables",
		Long:  `Runs the schema auto-migration for subscriptions, subscription_logs, usage_events and webhook_events, then exits.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// the db module migrates while the graph is built
			return withServices(cmd.Context(), func(context.Context, services) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "migrated")
				return err
			})
		},
	}
}
