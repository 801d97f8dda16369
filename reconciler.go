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

	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TransitionToPartiallyCompleted re-evaluates a batch from its holder entries
// and persists the derived status when it changed. Only IN_PROGRESS and
// PARTIALLY_COMPLETED batches are evaluated; terminal batches are returned
// as they are. A status change is propagated to the distribution.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - batchID string: The batch payout to re-evaluate.
//
// Returns:
// - *model.BatchPayout: The batch after evaluation.
// - error: If the batch cannot be locked, loaded or saved.
func (e *Engine) TransitionToPartiallyCompleted(ctx context.Context, batchID string) (*model.BatchPayout, error) {
	ctx, span := tracer.Start(ctx, "TransitionToPartiallyCompleted")
	defer span.End()

	var result *model.BatchPayout
	err := e.withBatchLock(ctx, batchID, func(ctx context.Context) error {
		batch, err := e.datasource.GetBatchPayoutByID(ctx, batchID)
		if err != nil {
			return err
		}
		result = batch
		if batch.Status.IsTerminal() {
			return nil
		}

		holders, err := e.datasource.GetHoldersByBatch(ctx, batch.ID)
		if err != nil {
			return errors.Wrapf(err, "failed to load holders of batch payout %s", batch.ID)
		}

		updated, changed, err := e.reconcileBatch(ctx, *batch, holders, false)
		if err != nil {
			return err
		}
		result = &updated
		if changed {
			if _, err := e.ReconcileDistribution(ctx, updated.DistributionID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

// reconcileBatch applies the status derived from holders to batch. The batch
// is written when its status changed or when dirty is set. changed reports a
// status change.
func (e *Engine) reconcileBatch(ctx context.Context, batch model.BatchPayout, holders []model.Holder, dirty bool) (model.BatchPayout, bool, error) {
	derived := model.DeriveBatchStatus(batch, holders, e.opts.Retry)

	changed := false
	switch {
	case derived == batch.Status:
	case batch.Status == model.BatchStatusPartiallyCompleted && derived == model.BatchStatusInProgress:
		// holders regained retries after a policy change; stays settled until they resolve
	default:
		next, effects, err := batch.TransitionTo(derived, e.now())
		if err != nil {
			return batch, false, errors.Wrapf(err, "failed to move batch payout %s", batch.ID)
		}
		if model.HasEffect(effects, model.EffectPersist) {
			batch = next
			dirty = true
			changed = true
		}
	}

	if !dirty {
		return batch, false, nil
	}
	if err := e.datasource.UpdateBatchPayout(ctx, &batch); err != nil {
		return batch, false, errors.Wrapf(err, "failed to save batch payout %s", batch.ID)
	}
	if changed {
		logrus.WithFields(logrus.Fields{
			"batch_id":        batch.ID,
			"distribution_id": batch.DistributionID,
			"status":          batch.Status,
		}).Info("batch payout status changed")
	}
	return batch, changed, nil
}

// ReconcileDistribution derives the distribution status from its batches and
// persists it when it changed. Only IN_PROGRESS and PARTIALLY_COMPLETED
// distributions are evaluated. Every status change emits a webhook.
func (e *Engine) ReconcileDistribution(ctx context.Context, distributionID string) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "ReconcileDistribution")
	defer span.End()

	dist, err := e.datasource.GetDistributionByID(ctx, distributionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if dist.Status != model.DistributionStatusInProgress && dist.Status != model.DistributionStatusPartiallyCompleted {
		return dist, nil
	}

	batches, err := e.datasource.GetBatchPayoutsByDistribution(ctx, dist.ID)
	if err != nil {
		span.RecordError(err)
		return dist, errors.Wrapf(err, "failed to load batches of distribution %s", dist.ID)
	}

	derived, ok := model.DeriveDistributionStatus(batches)
	if !ok || derived == dist.Status {
		return dist, nil
	}

	updated, err := e.moveDistribution(ctx, *dist, derived)
	if err != nil {
		span.RecordError(err)
		return dist, err
	}
	return updated, nil
}

// moveDistribution persists a distribution transition with a compare and set
// on the previous status. Losing the race to another writer is not an error:
// the stored distribution is returned instead.
func (e *Engine) moveDistribution(ctx context.Context, dist model.Distribution, to model.DistributionStatus) (*model.Distribution, error) {
	next, effects, err := dist.TransitionTo(to, e.now())
	if err != nil {
		return &dist, err
	}
	if !model.HasEffect(effects, model.EffectPersist) {
		return &dist, nil
	}

	err = e.datasource.UpdateDistributionStatus(ctx, dist.ID, dist.Status, next.Status, next.UpdatedAt)
	if apierror.IsConflict(err) {
		logrus.WithField("distribution_id", dist.ID).Info("distribution status changed concurrently, reloading")
		return e.datasource.GetDistributionByID(ctx, dist.ID)
	}
	if err != nil {
		return &dist, errors.Wrapf(err, "failed to move distribution %s to %s", dist.ID, to)
	}

	logrus.WithFields(logrus.Fields{
		"distribution_id": next.ID,
		"from":            dist.Status,
		"to":              next.Status,
	}).Info("distribution status changed")

	if model.HasEffect(effects, model.EffectNotify) {
		e.notifyStatusChange(ctx, next)
	}
	return &next, nil
}
