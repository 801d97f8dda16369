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
	"errors"
	"fmt"
	"os"

	"github.com/blnkfinance/payouts"
	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/database"
	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/internal/cache"
	redis_db "github.com/blnkfinance/payouts/internal/redis-db"
	"github.com/blnkfinance/payouts/internal/notification"
	"github.com/blnkfinance/payouts/ledger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// PayoutsCLI represents the CLI application, encapsulating the root Cobra command.
type PayoutsCLI struct {
	cmd *cobra.Command
}

// payoutsInstance holds the runtime engine and its configuration. The engine
// is built on first use so that commands like migrate only need the database.
type payoutsInstance struct {
	cnf    *config.Configuration
	engine *payouts.Engine
	queue  *payouts.Queue
	redis  *redis_db.Redis
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration before running any command.
func preRun(app *payoutsInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf
		return nil
	}
}

// setup connects the datasource, redis, the task queue and the ledger
// gateway and builds the engine on top of them.
func (app *payoutsInstance) setup() error {
	if app.engine != nil {
		return nil
	}
	cnf := app.cnf

	db, err := database.NewDataSource(cnf)
	if err != nil {
		return fmt.Errorf("error getting datasource: %v", err)
	}

	redisClient, err := redis_db.NewRedisClient(redis_db.SplitAddresses(cnf.Redis.Dns), cnf.Redis.SkipTLSVerify)
	if err != nil {
		return fmt.Errorf("error connecting to redis: %v", err)
	}

	queueOpt, err := redis_db.AsynqOpt(cnf.Redis.Dns, cnf.Redis.SkipTLSVerify)
	if err != nil {
		_ = redisClient.Close()
		return fmt.Errorf("error parsing redis URL: %v", err)
	}
	queue := payouts.NewQueue(queueOpt, payouts.QueueNames{
		Dispatch: cnf.Queue.DispatchQueue,
		Batch:    cnf.Queue.BatchQueue,
		Webhook:  cnf.Queue.WebhookQueue,
	}, cnf.Queue.MaxRetry)

	gateway, err := ledger.NewClientFromConfig(cnf.Ledger)
	if err != nil {
		_ = redisClient.Close()
		_ = queue.Close()
		return err
	}

	engine, err := payouts.NewEngine(db, redisClient.Client(), gateway.Collaborators(), engineOptions(cnf),
		payouts.WithQueue(queue),
		payouts.WithCache(cache.NewCache(redisClient.Client())),
	)
	if err != nil {
		_ = redisClient.Close()
		_ = queue.Close()
		return fmt.Errorf("error creating engine: %v", err)
	}

	app.engine = engine
	app.queue = queue
	app.redis = redisClient
	return nil
}

func (app *payoutsInstance) close() {
	if app.engine != nil {
		app.engine.Close()
	}
	if app.queue != nil {
		if err := app.queue.Close(); err != nil {
			logrus.Warnf("error closing queue: %v", err)
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logrus.Warnf("error closing redis: %v", err)
		}
	}
}

// exitCode maps engine errors to process exit statuses; everything else
// falls back to the API error codes.
func exitCode(err error) int {
	var (
		noHolders *payouts.NoHoldersFoundError
		wrongType *payouts.WrongDistributionTypeError
	)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, payouts.ErrAssetPaused):
		return 5
	case errors.As(err, &noHolders):
		return 6
	case errors.As(err, &wrongType):
		return 2
	case errors.Is(err, payouts.ErrDistributionNotScheduled), errors.Is(err, payouts.ErrDispatchInFlight):
		return 4
	}
	return apierror.ExitCode(err)
}

// NewCLI creates the command-line interface and wires its subcommands.
func NewCLI() *PayoutsCLI {
	var configFile string
	app := &payoutsInstance{}

	var rootCmd = &cobra.Command{
		Use:           "payouts",
		Short:         "Batch payout engine for tokenized securities",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run:           func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./payouts.json", "Configuration file for the payouts engine")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) { app.close() }

	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands())
	rootCmd.AddCommand(dispatchCommand(app))
	rootCmd.AddCommand(cancelCommand(app))
	rootCmd.AddCommand(statusCommand(app))

	return &PayoutsCLI{cmd: rootCmd}
}

func (p PayoutsCLI) executeCLI() {
	if err := p.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode(err) == 1 {
			notification.NotifyError(err)
		}
		os.Exit(exitCode(err))
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
