/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/blnkfinance/payouts"
	"github.com/blnkfinance/payouts/model"
	"github.com/spf13/cobra"
)

// batchStatus is a batch as printed by the status command.
type batchStatus struct {
	model.BatchPayout
	Holders []model.Holder `json:"holders,omitempty"`
}

type distributionStatus struct {
	Distribution *model.Distribution `json:"distribution"`
	Batches      []batchStatus       `json:"batches"`
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func dispatchCommand(app *payoutsInstance) *cobra.Command {
	var (
		distributionType string
		enqueue          bool
	)

	cmd := &cobra.Command{
		Use:   "dispatch <distribution_id>",
		Short: "execute a scheduled distribution now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.setup(); err != nil {
				return err
			}
			ctx := context.Background()
			id := args[0]

			if enqueue {
				if err := app.queue.EnqueueDispatch(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued distribution %s\n", id)
				return nil
			}

			var (
				result *payouts.DispatchResult
				err    error
			)
			switch model.DistributionType(distributionType) {
			case "":
				result, err = app.engine.Dispatch(ctx, id)
			case model.DistributionTypeCorporateAction:
				result, err = app.engine.ExecuteCorporateActionDistribution(ctx, id)
			case model.DistributionTypePayout:
				result, err = app.engine.ExecutePayoutDistribution(ctx, id)
			default:
				return fmt.Errorf("unknown distribution type %q", distributionType)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&distributionType, "type", "", "expected distribution type (CORPORATE_ACTION or PAYOUT)")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "hand the distribution to the workers instead of running it here")
	return cmd
}

func cancelCommand(app *payoutsInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <distribution_id>",
		Short: "cancel a scheduled payout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.setup(); err != nil {
				return err
			}
			dist, err := app.engine.CancelDistribution(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), dist)
		},
	}
}

func statusCommand(app *payoutsInstance) *cobra.Command {
	var withHolders bool

	cmd := &cobra.Command{
		Use:   "status <distribution_id>",
		Short: "show a distribution and its batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.setup(); err != nil {
				return err
			}
			status, err := loadStatus(context.Background(), app.engine, args[0], withHolders)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}

	cmd.Flags().BoolVar(&withHolders, "holders", false, "include per-holder results")
	return cmd
}

func loadStatus(ctx context.Context, engine *payouts.Engine, distributionID string, withHolders bool) (*distributionStatus, error) {
	dist, err := engine.GetDistribution(ctx, distributionID)
	if err != nil {
		return nil, err
	}
	batches, err := engine.GetBatchPayouts(ctx, distributionID)
	if err != nil {
		return nil, err
	}

	status := &distributionStatus{Distribution: dist, Batches: make([]batchStatus, 0, len(batches))}
	for _, b := range batches {
		entry := batchStatus{BatchPayout: b}
		if withHolders {
			entry.Holders, err = engine.GetHolders(ctx, b.ID)
			if err != nil {
				return nil, err
			}
		}
		status.Batches = append(status.Batches, entry)
	}
	return status, nil
}
