package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/magabrotheeeer/chat-entitlement/internal/models"
	"github.com/magabrotheeeer/chat-entitlement/internal/services/subscription"
)

// Operations описывает процедуры, доступные оператору.
type Operations interface {
	ReconcileUser(ctx context.Context, userUID string) (*subscription.ReconcileReport, error)
	SweepExpiredSubscriptions(ctx context.Context) ([]*models.ExpiredSubscription, error)
	GrantTrial(ctx context.Context, userUID string) (*models.Subscription, error)
}

// Opener подключает Operations по пути к конфигу и возвращает функцию закрытия.
type Opener func(ctx context.Context, configPath string) (Operations, func(), error)

func newRootCmd(open Opener, out io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "subctl",
		Short:         "Operator tool for chat subscription repairs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to config file")

	// run подключается, выполняет fn и печатает результат в JSON.
	run := func(cmd *cobra.Command, fn func(ctx context.Context, ops Operations) (any, error)) error {
		if configPath == "" {
			return errors.New("config path is not set, use --config or CONFIG_PATH")
		}
		ops, closeFn, err := open(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer closeFn()

		result, fnErr := fn(cmd.Context(), ops)
		if result != nil {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
		}
		return fnErr
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "reconcile <user-uid>",
			Short: "Repair one user's subscription against payments and the provider",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, func(ctx context.Context, ops Operations) (any, error) {
					report, err := ops.ReconcileUser(ctx, args[0])
					if report == nil {
						return nil, err
					}
					return report, err
				})
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Mark every expired active subscription as unsubscribed",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, func(ctx context.Context, ops Operations) (any, error) {
					expired, err := ops.SweepExpiredSubscriptions(ctx)
					if err != nil {
						return nil, err
					}
					return map[string]any{"count": len(expired), "subscriptions": expired}, nil
				})
			},
		},
		&cobra.Command{
			Use:   "grant-trial <user-uid>",
			Short: "Start a trial even if the user has already used one",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, func(ctx context.Context, ops Operations) (any, error) {
					sub, err := ops.GrantTrial(ctx, args[0])
					if err != nil {
						return nil, err
					}
					return sub, nil
				})
			},
		},
	)
	return root
}
