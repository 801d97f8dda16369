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
	"encoding/json"
	"fmt"
	"time"

	"github.com/blnkfinance/payouts"
	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/model"
	"github.com/spf13/cobra"
)

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// engineOptions converts the loaded configuration into engine tunables.
func engineOptions(cnf *config.Configuration) payouts.Options {
	opts := payouts.DefaultOptions()
	d := cnf.Distribution
	opts.PageSize = d.PageSize
	opts.MaxConcurrency = d.MaxConcurrency
	opts.ExecutionTimeout = seconds(d.ExecutionTimeoutSec)
	opts.LockTimeout = seconds(d.LockTimeoutSec)
	opts.AssetCacheTTL = seconds(d.AssetCacheTTLSec)
	opts.Retry = model.RetryPolicy{
		MaxRetries:      cnf.Retry.MaxRetries,
		InitialInterval: seconds(cnf.Retry.InitialIntervalSec),
		MaxInterval:     seconds(cnf.Retry.MaxIntervalSec),
		Multiplier:      cnf.Retry.Multiplier,
	}
	return opts
}

func configCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your instance's computed configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Fetch()
			if err != nil {
				return fmt.Errorf("error getting config: %w", err)
			}

			// never print credentials
			redacted := *cfg
			if redacted.Ledger.ApiKey != "" {
				redacted.Ledger.ApiKey = "********"
			}

			data, err := json.MarshalIndent(redacted, "", "    ")
			if err != nil {
				return fmt.Errorf("error printing config: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	return cmd
}
