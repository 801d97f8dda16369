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

package payouts

import (
	"context"
	"time"

	"github.com/blnkfinance/payouts/model"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// dueScanLimit caps the distributions picked up by one scheduler tick.
const dueScanLimit = 500

// Scheduler periodically dispatches every SCHEDULED distribution that is due.
type Scheduler struct {
	engine   *Engine
	cron     *cron.Cron
	cronSpec string
	timeout  time.Duration
}

// NewScheduler registers the due scan on a seconds-precision cron spec.
// Each tick is bounded by timeout.
func NewScheduler(engine *Engine, cronSpec string, timeout time.Duration) (*Scheduler, error) {
	s := &Scheduler{
		engine:   engine,
		cronSpec: cronSpec,
		timeout:  timeout,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(
				cron.Recover(cron.PrintfLogger(logrus.StandardLogger())),
				cron.SkipIfStillRunning(cron.PrintfLogger(logrus.StandardLogger())),
			),
		),
	}

	if _, err := s.cron.AddFunc(cronSpec, s.tick); err != nil {
		return nil, errors.Wrapf(err, "invalid cron spec %q", cronSpec)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.engine.EnqueueDueDistributions(ctx)
	if err != nil {
		logrus.Errorf("due distribution scan failed: %v", err)
		return
	}
	if n > 0 {
		logrus.Infof("scheduler picked up %d due distributions", n)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logrus.Infof("distribution scheduler started with spec %q", s.cronSpec)
}

// Stop stops the cron and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logrus.Info("distribution scheduler stopped")
}

// EnqueueDueDistributions hands every SCHEDULED distribution due by the end of
// today to the dispatch queue. Without a queue the distributions are
// dispatched in place, one after the other.
//
// Returns:
// - int: The number of distributions handed over.
// - error: If the due distributions cannot be listed.
func (e *Engine) EnqueueDueDistributions(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "EnqueueDueDistributions")
	defer span.End()

	endOfToday := model.StartOfDay(e.now()).AddDate(0, 0, 1)
	due, err := e.datasource.GetDueDistributions(ctx, endOfToday, dueScanLimit)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	handled := 0
	for _, dist := range due {
		logger := logrus.WithField("distribution_id", dist.ID)
		if e.queue != nil {
			if err := e.queue.EnqueueDispatch(ctx, dist.ID); err != nil {
				logger.Errorf("failed to enqueue due distribution: %v", err)
				continue
			}
			handled++
			continue
		}

		if _, err := e.Dispatch(ctx, dist.ID); err != nil {
			logger.Warnf("dispatch of due distribution failed: %v", err)
			continue
		}
		handled++
	}
	return handled, nil
}
