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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	redlock "github.com/blnkfinance/payouts/internal/lock"
	"github.com/blnkfinance/payouts/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DispatchResult summarises one dispatch. A distribution that is not due yet
// yields Due false and nothing else happens.
type DispatchResult struct {
	DistributionID string                   `json:"distribution_id"`
	Due            bool                     `json:"due"`
	Resumed        bool                     `json:"resumed"`
	Status         model.DistributionStatus `json:"status"`
	Batches        int                      `json:"batches"`
	// passes that returned an error; their holders are retried later
	FailedBatches int `json:"failed_batches"`
}

// Dispatch runs a distribution of either type.
//
// A SCHEDULED distribution that is due is checked against the asset pause
// state, planned into batches and moved to IN_PROGRESS; its batches are then
// executed concurrently and the distribution status is reconciled. An
// IN_PROGRESS distribution is resumed: its unfinished batches are executed
// again. Any other status is refused with InvalidDistributionStatusError.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - distributionID string: The distribution to dispatch.
//
// Returns:
// - *DispatchResult: What the dispatch did, also set alongside most errors.
// - error: AssetPausedError, NoHoldersFoundError, InvalidDistributionStatusError,
// ErrDispatchInFlight, or a load/persist failure.
func (e *Engine) Dispatch(ctx context.Context, distributionID string) (*DispatchResult, error) {
	return e.dispatch(ctx, distributionID, "")
}

// ExecuteCorporateActionDistribution dispatches a CORPORATE_ACTION distribution.
func (e *Engine) ExecuteCorporateActionDistribution(ctx context.Context, distributionID string) (*DispatchResult, error) {
	return e.dispatch(ctx, distributionID, model.DistributionTypeCorporateAction)
}

// ExecutePayoutDistribution dispatches a PAYOUT distribution.
func (e *Engine) ExecutePayoutDistribution(ctx context.Context, distributionID string) (*DispatchResult, error) {
	return e.dispatch(ctx, distributionID, model.DistributionTypePayout)
}

func (e *Engine) dispatch(ctx context.Context, distributionID string, expected model.DistributionType) (*DispatchResult, error) {
	ctx, span := tracer.Start(ctx, "Dispatch")
	defer span.End()

	result := &DispatchResult{DistributionID: distributionID}
	err := e.withDistributionGuard(ctx, distributionID, func(ctx context.Context) error {
		dist, err := e.datasource.GetDistributionByID(ctx, distributionID)
		if err != nil {
			return err
		}
		result.Status = dist.Status
		if expected != "" && dist.Type != expected {
			return &WrongDistributionTypeError{DistributionID: dist.ID, Expected: expected, Actual: dist.Type}
		}
		return e.run(ctx, dist, result)
	})
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

// withDistributionGuard makes sure only one dispatch or cancellation of a
// distribution runs at a time, in this process and across processes.
func (e *Engine) withDistributionGuard(ctx context.Context, distributionID string, fn func(ctx context.Context) error) error {
	if _, loaded := e.inflight.LoadOrStore(distributionID, struct{}{}); loaded {
		return fmt.Errorf("%w: %s", ErrDispatchInFlight, distributionID)
	}
	defer e.inflight.Delete(distributionID)

	locker := redlock.NewDistributionLocker(e.redis, distributionID)
	if err := locker.Lock(ctx, e.opts.LockTimeout); err != nil {
		if errors.Is(err, redlock.ErrLockHeld) {
			return fmt.Errorf("%w: %s", ErrDispatchInFlight, distributionID)
		}
		return errors.Wrapf(err, "failed to lock distribution %s", distributionID)
	}

	defer e.holdLock(ctx, locker)()
	return fn(ctx)
}

// holdLock keeps an acquired lock alive in the background. The returned func
// stops the renewal and releases the lock.
func (e *Engine) holdLock(ctx context.Context, locker *redlock.Locker) func() {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.keepLock(ctx, locker, stop)
	}()

	return func() {
		close(stop)
		wg.Wait()
		if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.WithField("lock", locker.Key()).Warnf("failed to release lock: %v", err)
		}
	}
}

// keepLock renews the lock until stop is closed; a dispatch or a slow batch
// pass can outlast a single lock timeout.
func (e *Engine) keepLock(ctx context.Context, locker *redlock.Locker, stop <-chan struct{}) {
	ticker := time.NewTicker(e.opts.LockTimeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := locker.ExtendLock(ctx, e.opts.LockTimeout); err != nil {
				logrus.WithField("lock", locker.Key()).Warnf("failed to extend lock: %v", err)
			}
		}
	}
}

func (e *Engine) run(ctx context.Context, dist *model.Distribution, result *DispatchResult) error {
	logger := logrus.WithFields(logrus.Fields{
		"distribution_id": dist.ID,
		"asset_id":        dist.AssetID,
		"type":            dist.Type,
	})

	switch dist.Status {
	case model.DistributionStatusInProgress:
		result.Due = true
		result.Resumed = true
		return e.resume(ctx, dist, result)
	case model.DistributionStatusScheduled:
	default:
		return &InvalidDistributionStatusError{DistributionID: dist.ID, Status: dist.Status, Operation: "dispatch"}
	}

	due, err := dist.IsDue(e.now())
	if err != nil {
		return err
	}
	if !due {
		logger.Debug("distribution is not due yet")
		return nil
	}
	result.Due = true

	asset, err := e.getAsset(ctx, dist.AssetID)
	if err != nil {
		return errors.Wrapf(err, "failed to load asset of distribution %s", dist.ID)
	}
	if err := e.checkPause(ctx, asset); err != nil {
		return err
	}

	existing, err := e.datasource.GetBatchPayoutsByDistribution(ctx, dist.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to load batches of distribution %s", dist.ID)
	}
	if len(existing) > 0 {
		logger.Warnf("distribution already has %d batches, resuming them instead of planning again", len(existing))
		moved, err := e.moveDistribution(ctx, *dist, model.DistributionStatusInProgress)
		if err != nil {
			return err
		}
		result.Resumed = true
		result.Status = moved.Status
		return e.executeAndReconcile(ctx, moved, existing, result)
	}

	count, err := e.holders.GetHoldersCount(ctx, dist, asset)
	if err != nil {
		return errors.Wrapf(err, "failed to count holders of distribution %s", dist.ID)
	}
	if count <= 0 {
		failed, err := e.moveDistribution(ctx, *dist, model.DistributionStatusFailed)
		if err != nil {
			return err
		}
		result.Status = failed.Status
		logger.Warn("no holders found, distribution failed")
		return &NoHoldersFoundError{DistributionID: dist.ID, AssetID: dist.AssetID}
	}

	batches, err := PlanBatches(dist.ID, count, e.opts.PageSize, e.now())
	if err != nil {
		return err
	}
	if err := e.datasource.SaveBatchPayouts(ctx, batches); err != nil {
		return errors.Wrapf(err, "failed to save %d batches of distribution %s", len(batches), dist.ID)
	}

	moved, err := e.moveDistribution(ctx, *dist, model.DistributionStatusInProgress)
	if err != nil {
		return err
	}
	result.Status = moved.Status
	logger.Infof("planned %d batches for %d holders", len(batches), count)

	return e.executeAndReconcile(ctx, moved, batches, result)
}

func (e *Engine) resume(ctx context.Context, dist *model.Distribution, result *DispatchResult) error {
	asset, err := e.getAsset(ctx, dist.AssetID)
	if err != nil {
		return errors.Wrapf(err, "failed to load asset of distribution %s", dist.ID)
	}
	if err := e.checkPause(ctx, asset); err != nil {
		return err
	}

	batches, err := e.datasource.GetBatchPayoutsByDistribution(ctx, dist.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to load batches of distribution %s", dist.ID)
	}
	return e.executeAndReconcile(ctx, dist, batches, result)
}

func (e *Engine) checkPause(ctx context.Context, asset *model.Asset) error {
	err := e.pause.CheckAssetPauseState(ctx, asset)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAssetPaused) {
		logrus.WithField("asset_id", asset.ID).Warn("asset is paused, payouts left untouched")
		return &AssetPausedError{AssetID: asset.ID, Err: err}
	}
	return errors.Wrapf(err, "failed to check pause state of asset %s", asset.ID)
}

// executeAndReconcile runs the unfinished batches on the worker pool and then
// reconciles the distribution. A failing batch never stops its siblings.
func (e *Engine) executeAndReconcile(ctx context.Context, dist *model.Distribution, batches []model.BatchPayout, result *DispatchResult) error {
	result.Batches = len(batches)

	var failed atomic.Int64
	batchPool := e.pool.NewSubpool(e.opts.MaxConcurrency)
	defer batchPool.StopAndWait()
	group := batchPool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, batch := range batches {
		if batch.Status.IsTerminal() {
			continue
		}
		batchID := batch.ID
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				return
			}
			_, err := e.ExecuteBatch(groupCtx, batchID)
			switch {
			case err == nil:
			case errors.Is(err, ErrBatchLocked):
				logrus.WithField("batch_id", batchID).Info("batch payout is executing elsewhere, skipping")
			default:
				failed.Add(1)
				logrus.WithFields(logrus.Fields{
					"batch_id":        batchID,
					"distribution_id": dist.ID,
				}).Errorf("batch payout execution failed: %v", err)
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		logrus.WithField("distribution_id", dist.ID).Errorf("batch execution group failed: %v", err)
	}
	result.FailedBatches = int(failed.Load())

	reconciled, err := e.ReconcileDistribution(ctx, dist.ID)
	if err != nil {
		return err
	}
	result.Status = reconciled.Status
	return ctx.Err()
}
