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
	"errors"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/blnkfinance/payouts"
	"github.com/blnkfinance/payouts/config"
	redis_db "github.com/blnkfinance/payouts/internal/redis-db"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func initializeQueues(cnf *config.Configuration) map[string]int {
	return map[string]int{
		cnf.Queue.BatchQueue:    5,
		cnf.Queue.DispatchQueue: 3,
		cnf.Queue.WebhookQueue:  2,
	}
}

func initializeWorkerServer(cnf *config.Configuration) (*asynq.Server, error) {
	opt, err := redis_db.AsynqOpt(cnf.Redis.Dns, cnf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(opt, asynq.Config{
		Concurrency: cnf.Queue.Concurrency,
		Queues:      initializeQueues(cnf),
		// a busy lock means another worker owns the batch
		IsFailure: func(err error) bool {
			return !errors.Is(err, payouts.ErrBatchLocked) && !errors.Is(err, payouts.ErrDispatchInFlight)
		},
		Logger: logrus.StandardLogger(),
	}), nil
}

func initializeTaskHandlers(app *payoutsInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(payouts.TypeDispatchDistribution, app.engine.ProcessDispatchTask)
	mux.HandleFunc(payouts.TypeExecuteBatch, app.engine.ProcessBatchTask)
	mux.HandleFunc(payouts.TypeSendWebhook, payouts.ProcessWebhook)
}

func startMonitoring(cnf *config.Configuration) {
	opt, err := redis_db.AsynqOpt(cnf.Redis.Dns, cnf.Redis.SkipTLSVerify)
	if err != nil {
		logrus.Errorf("monitoring disabled: %v", err)
		return
	}
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: opt,
	})

	go func() {
		monitoringAddr := fmt.Sprintf(":%s", cnf.Queue.MonitoringPort)
		logrus.Infof("Asynqmon server listening on %s/monitoring", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, h); err != nil {
			logrus.Errorf("could not start asynqmon server: %v", err)
		}
	}()
}

// workerCommands defines the "workers" command. Workers consume the dispatch,
// batch and webhook queues, run the due-distribution scheduler and sweep
// stuck batches.
func workerCommands(app *payoutsInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start payouts workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.setup(); err != nil {
				return err
			}
			cnf := app.cnf
			d := cnf.Distribution

			srv, err := initializeWorkerServer(cnf)
			if err != nil {
				return err
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(app, mux)

			if !d.DisableScheduler {
				scheduler, err := payouts.NewScheduler(app.engine, d.CronSpec, seconds(d.LockTimeoutSec))
				if err != nil {
					return err
				}
				scheduler.Start()
				defer scheduler.Stop()
			}

			if !d.DisableRecoveryProcessor {
				ctx, cancel := context.WithCancel(context.Background())
				defer cancel()
				recovery := payouts.NewBatchRecoveryProcessor(app.engine, seconds(d.RecoveryPollIntervalSec), seconds(d.RecoveryThresholdSec))
				recovery.Start(ctx)
				defer recovery.Stop()
			}

			startMonitoring(cnf)

			// Run blocks until SIGINT or SIGTERM
			if err := srv.Run(mux); err != nil {
				return fmt.Errorf("could not run server: %w", err)
			}
			return nil
		},
	}

	return cmd
}
