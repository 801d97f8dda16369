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
	"time"

	redlock "github.com/blnkfinance/payouts/internal/lock"
	"github.com/blnkfinance/payouts/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// batchPass is the working state of one ExecuteBatch call.
type batchPass struct {
	batch   model.BatchPayout
	holders []model.Holder
	// position of each holder account in holders
	index   map[string]int
	request ExecutionRequest
	touched bool
}

func newBatchPass(batch model.BatchPayout, holders []model.Holder, request ExecutionRequest) *batchPass {
	p := &batchPass{
		batch:   batch,
		holders: holders,
		index:   make(map[string]int, len(holders)),
		request: request,
	}
	for i, h := range holders {
		p.index[h.HolderAccountID] = i
	}
	return p
}

func (p *batchPass) logger() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"batch_id":        p.batch.ID,
		"distribution_id": p.batch.DistributionID,
		"page_index":      p.batch.PageIndex,
	})
}

// ExecuteBatch runs one execution pass over a batch payout while holding its
// lock. A pass pays the page when some of its holders are still unknown and
// retries every failed holder whose retry is due. The batch status is then
// re-derived and, while unresolved holders remain, the next pass is scheduled
// for the earliest retry time. Terminal batches are returned unchanged.
//
// Per-holder failures are recorded on the holder entries and never returned.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - batchID string: The batch payout to execute.
//
// Returns:
// - *model.BatchPayout: The batch after the pass.
// - error: ErrBatchLocked when another pass holds the batch, or a load/persist failure.
func (e *Engine) ExecuteBatch(ctx context.Context, batchID string) (*model.BatchPayout, error) {
	ctx, span := tracer.Start(ctx, "ExecuteBatch")
	defer span.End()

	var result *model.BatchPayout
	err := e.withBatchLock(ctx, batchID, func(ctx context.Context) error {
		batch, err := e.executeBatch(ctx, batchID)
		result = batch
		return err
	})
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

func (e *Engine) withBatchLock(ctx context.Context, batchID string, fn func(ctx context.Context) error) error {
	locker := redlock.NewBatchLocker(e.redis, batchID)
	if err := locker.WaitLock(ctx, e.opts.LockTimeout, e.opts.LockWait); err != nil {
		if errors.Is(err, redlock.ErrLockHeld) {
			return fmt.Errorf("%w: %s", ErrBatchLocked, batchID)
		}
		return errors.Wrapf(err, "failed to lock batch payout %s", batchID)
	}
	defer e.holdLock(ctx, locker)()
	return fn(ctx)
}

func (e *Engine) executeBatch(ctx context.Context, batchID string) (*model.BatchPayout, error) {
	batch, err := e.datasource.GetBatchPayoutByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status.IsTerminal() {
		return batch, nil
	}

	dist, err := e.datasource.GetDistributionByID(ctx, batch.DistributionID)
	if err != nil {
		return batch, errors.Wrapf(err, "failed to load distribution of batch payout %s", batch.ID)
	}
	asset, err := e.getAsset(ctx, dist.AssetID)
	if err != nil {
		return batch, errors.Wrapf(err, "failed to load asset of distribution %s", dist.ID)
	}
	if err := e.checkPause(ctx, asset); err != nil {
		var paused *AssetPausedError
		if !errors.As(err, &paused) {
			return batch, err
		}
		// holders stay untouched; look again once the asset may be unpaused
		e.scheduleBatch(ctx, batch.ID, e.now().Add(e.opts.Retry.Backoff(1)))
		return batch, nil
	}
	eventID, err := dist.EventID()
	if err != nil {
		return batch, err
	}
	holders, err := e.datasource.GetHoldersByBatch(ctx, batch.ID)
	if err != nil {
		return batch, errors.Wrapf(err, "failed to load holders of batch payout %s", batch.ID)
	}

	pass := newBatchPass(*batch, holders, ExecutionRequest{
		ContractAddress: asset.LifeCycleCashFlowAddress,
		TokenAddress:    asset.TokenAddress,
		EventID:         eventID,
		PageIndex:       batch.PageIndex,
		PageSize:        e.opts.PageSize,
	})

	if len(pass.holders) < pass.batch.HoldersNumber && pass.batch.IsPageAttemptDue(e.now(), e.opts.Retry) {
		if err := e.executePage(ctx, pass); err != nil {
			return &pass.batch, err
		}
	}
	if err := e.retryDueHolders(ctx, pass); err != nil {
		return &pass.batch, err
	}

	if pass.touched {
		pass.batch.UpdatedAt = e.now()
	}
	updated, changed, err := e.reconcileBatch(ctx, pass.batch, pass.holders, pass.touched)
	if err != nil {
		return &pass.batch, err
	}

	if !updated.Status.IsTerminal() {
		if at, ok := e.nextPassAt(updated, pass.holders); ok {
			e.scheduleBatch(ctx, updated.ID, at)
		}
	}

	if changed {
		if _, err := e.ReconcileDistribution(ctx, updated.DistributionID); err != nil {
			return &updated, err
		}
	}
	return &updated, nil
}

// callExecutor bounds the execution call with the configured timeout.
func (e *Engine) callExecutor(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.ExecutionTimeout)
	defer cancel()

	result, err := e.executor.ExecuteDistribution(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("execution call timed out after %s: %w", e.opts.ExecutionTimeout, err)
		}
		return nil, err
	}
	if result == nil {
		return nil, errors.New("execution call returned no result")
	}
	return result, nil
}

// executePage pays the page and records an outcome for every holder it returns.
func (e *Engine) executePage(ctx context.Context, p *batchPass) error {
	result, err := e.callExecutor(ctx, p.request)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return e.recordPageFailure(p, fmt.Sprintf("execution call failed: %v", err))
	}
	if len(result.Outcomes) == 0 && !result.Executed {
		return e.recordPageFailure(p, "execution call returned no outcomes for the page")
	}

	now := e.now()
	known := len(p.holders)
	for _, outcome := range result.Outcomes {
		if err := e.applyPageOutcome(ctx, p, outcome, now); err != nil {
			return err
		}
	}
	// an unfinished page that yields no new holder counts against the page attempts
	if !result.Executed && len(p.holders) == known {
		return e.recordPageFailure(p, "page execution made no progress")
	}

	if result.Executed {
		shrunk, effects := p.batch.ShrinkTo(len(p.holders), now)
		if model.HasEffect(effects, model.EffectPersist) {
			p.logger().Infof("page exhausted with %d of %d planned holders", shrunk.HoldersNumber, p.batch.HoldersNumber)
			p.batch = shrunk
			p.touched = true
		}
	}
	return nil
}

func (e *Engine) recordPageFailure(p *batchPass, reason string) error {
	next, effects, err := p.batch.RecordPageFailure(reason, e.now(), e.opts.Retry)
	if err != nil {
		return err
	}
	p.batch = next
	p.touched = true

	logger := p.logger().WithField("attempts", next.Attempts)
	if model.HasEffect(effects, model.EffectScheduleRetry) {
		logger.Warnf("page execution failed, retrying at %s: %s", next.NextRetryAt.Format(time.RFC3339), reason)
	} else {
		logger.Errorf("page execution failed, no attempts left: %s", reason)
	}
	return nil
}

func (e *Engine) applyPageOutcome(ctx context.Context, p *batchPass, outcome HolderOutcome, now time.Time) error {
	logger := p.logger().WithField("holder_account_id", outcome.HolderAccountID)

	if i, ok := p.index[outcome.HolderAccountID]; ok {
		existing := p.holders[i]
		switch {
		case existing.Status == model.HolderStatusSuccess:
			logger.Warn("ignoring outcome for a holder that was already paid")
			return nil
		case existing.Status == model.HolderStatusPending, existing.Status == model.HolderStatusRetrying:
		case existing.IsRetryDue(now, e.opts.Retry):
			retrying, _, err := existing.StartRetry(now, e.opts.Retry)
			if err != nil {
				return err
			}
			existing = retrying
		default:
			logger.Debug("ignoring outcome for a holder that is not due for retry")
			return nil
		}

		updated, err := e.applyOutcome(existing, outcome, now)
		if err != nil {
			return err
		}
		if err := e.datasource.UpdateHolder(ctx, &updated); err != nil {
			return errors.Wrapf(err, "failed to save holder %s", updated.ID)
		}
		p.holders[i] = updated
		p.touched = true
		return nil
	}

	holder, err := e.applyOutcome(model.NewHolder(p.batch.ID, outcome.HolderAccountID, outcome.HolderEvmAddress, now), outcome, now)
	if err != nil {
		return err
	}
	if err := holder.Validate(); err != nil {
		logger.Errorf("rejecting invalid holder returned by the ledger: %v", err)
		holder, _, err = model.NewHolder(p.batch.ID, outcome.HolderAccountID, outcome.HolderEvmAddress, now).
			Reject(rejectReason(outcome, err), now)
		if err != nil {
			return err
		}
	}
	if err := e.datasource.SaveHolder(ctx, &holder); err != nil {
		return errors.Wrapf(err, "failed to save holder %s", outcome.HolderAccountID)
	}
	p.index[holder.HolderAccountID] = len(p.holders)
	p.holders = append(p.holders, holder)
	p.touched = true
	return nil
}

// rejectReason keeps what the ledger reported for a holder that cannot be
// stored as returned.
func rejectReason(outcome HolderOutcome, invalid error) string {
	reported := "a failure"
	if outcome.Success {
		reported = fmt.Sprintf("a payment of %s", outcome.Amount.String())
	} else if outcome.Error != "" {
		reported = fmt.Sprintf("a failure (%s)", outcome.Error)
	}
	return fmt.Sprintf("invalid holder returned by the ledger, which reported %s: %v", reported, invalid)
}

func (e *Engine) applyOutcome(h model.Holder, outcome HolderOutcome, now time.Time) (model.Holder, error) {
	if outcome.Success {
		next, _, err := h.Succeed(outcome.Amount, now)
		return next, err
	}

	reason := outcome.Error
	if reason == "" {
		reason = "payout rejected by the ledger"
	}
	next, _, err := h.Fail(reason, now, e.opts.Retry)
	return next, err
}

// retryDueHolders re-attempts failed holders whose retry is due, along with
// holders left RETRYING by an interrupted pass.
func (e *Engine) retryDueHolders(ctx context.Context, p *batchPass) error {
	now := e.now()
	var accounts []string
	for i, h := range p.holders {
		switch {
		case h.Status == model.HolderStatusPending, h.Status == model.HolderStatusRetrying:
		case h.IsRetryDue(now, e.opts.Retry):
			retrying, _, err := h.StartRetry(now, e.opts.Retry)
			if err != nil {
				return err
			}
			if err := e.datasource.UpdateHolder(ctx, &retrying); err != nil {
				return errors.Wrapf(err, "failed to save holder %s", retrying.ID)
			}
			p.holders[i] = retrying
		default:
			continue
		}
		accounts = append(accounts, h.HolderAccountID)
	}
	if len(accounts) == 0 {
		return nil
	}
	p.touched = true

	req := p.request
	req.Holders = accounts
	result, callErr := e.callExecutor(ctx, req)
	if callErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	outcomes := make(map[string]HolderOutcome)
	if callErr == nil {
		for _, outcome := range result.Outcomes {
			outcomes[outcome.HolderAccountID] = outcome
		}
	} else {
		p.logger().Warnf("retry execution call failed for %d holders: %v", len(accounts), callErr)
	}

	now = e.now()
	for _, account := range accounts {
		i := p.index[account]
		outcome, ok := outcomes[account]
		if !ok {
			reason := "no outcome returned by the ledger"
			if callErr != nil {
				reason = fmt.Sprintf("execution call failed: %v", callErr)
			}
			outcome = HolderOutcome{HolderAccountID: account, Error: reason}
		}

		updated, err := e.applyOutcome(p.holders[i], outcome, now)
		if err != nil {
			return err
		}
		if err := e.datasource.UpdateHolder(ctx, &updated); err != nil {
			return errors.Wrapf(err, "failed to save holder %s", updated.ID)
		}
		p.holders[i] = updated
	}
	return nil
}

// nextPassAt returns the earliest time another pass has work to do.
func (e *Engine) nextPassAt(batch model.BatchPayout, holders []model.Holder) (time.Time, bool) {
	var next time.Time
	earliest := func(t time.Time) {
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}

	now := e.now()
	for _, h := range holders {
		switch {
		case h.Status == model.HolderStatusPending, h.Status == model.HolderStatusRetrying:
			earliest(now)
		case h.Status == model.HolderStatusFailed && !h.IsExhausted(e.opts.Retry):
			if h.NextRetryAt == nil {
				earliest(now)
			} else {
				earliest(*h.NextRetryAt)
			}
		}
	}

	if batch.Status == model.BatchStatusInProgress && len(holders) < batch.HoldersNumber && !e.opts.Retry.Exhausted(batch.Attempts) {
		if batch.NextRetryAt != nil {
			earliest(*batch.NextRetryAt)
		} else {
			earliest(now.Add(e.opts.Retry.Backoff(1)))
		}
	}
	return next, !next.IsZero()
}

// scheduleBatch enqueues the next pass. Without a queue, overdue batches are
// picked up by the recovery processor.
func (e *Engine) scheduleBatch(ctx context.Context, batchID string, at time.Time) {
	if e.queue == nil {
		return
	}
	if err := e.queue.EnqueueBatchRetry(ctx, batchID, at); err != nil {
		logrus.WithField("batch_id", batchID).Errorf("failed to schedule next batch pass: %v", err)
	}
}
