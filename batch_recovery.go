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
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BatchRecoveryProcessor re-executes IN_PROGRESS batches nobody touched for
// longer than the stuck threshold, e.g. after a retry task was lost.
type BatchRecoveryProcessor struct {
	engine         *Engine
	batchSize      int
	maxWorkers     int
	pollInterval   time.Duration
	stuckThreshold time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

func NewBatchRecoveryProcessor(engine *Engine, pollInterval, stuckThreshold time.Duration) *BatchRecoveryProcessor {
	maxWorkers := engine.opts.MaxConcurrency
	return &BatchRecoveryProcessor{
		engine:         engine,
		batchSize:      maxWorkers * 100,
		maxWorkers:     maxWorkers,
		pollInterval:   pollInterval,
		stuckThreshold: stuckThreshold,
		stopCh:         make(chan struct{}),
	}
}

func (p *BatchRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Batch recovery processor started")
}

func (p *BatchRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Batch recovery processor stopped")
}

func (p *BatchRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *BatchRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Batch recovery processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Batch recovery processor stop signal received")
			return
		case <-ticker.C:
			p.Recover(ctx)
		}
	}
}

// Recover executes one pass over every stuck batch and returns how many
// passes completed without error.
func (p *BatchRecoveryProcessor) Recover(ctx context.Context) int {
	threshold := p.engine.now().Add(-p.stuckThreshold)
	stuck, err := p.engine.datasource.GetBatchesAwaitingRetry(ctx, threshold, p.batchSize)
	if err != nil {
		logrus.Errorf("failed to get stuck batch payouts: %v", err)
		return 0
	}
	if len(stuck) == 0 {
		return 0
	}

	logrus.Infof("Found %d stuck batch payouts to recover", len(stuck))

	var recovered atomic.Int64
	sem := make(chan struct{}, p.maxWorkers)
	var wg sync.WaitGroup
	for _, batch := range stuck {
		select {
		case <-ctx.Done():
			wg.Wait()
			return int(recovered.Load())
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(batchID string) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := p.engine.ExecuteBatch(ctx, batchID); err != nil {
				if !errors.Is(err, ErrBatchLocked) {
					logrus.WithField("batch_id", batchID).Errorf("failed to recover batch payout: %v", err)
				}
				return
			}
			recovered.Add(1)
		}(batch.ID)
	}
	wg.Wait()

	logrus.Infof("Recovered %d of %d stuck batch payouts", recovered.Load(), len(stuck))
	return int(recovered.Load())
}
