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

package model

import (
	"time"
)

// BatchPayoutStatus is the processing state of one page of holders.
type BatchPayoutStatus string

const (
	BatchStatusInProgress         BatchPayoutStatus = "IN_PROGRESS"
	BatchStatusCompleted          BatchPayoutStatus = "COMPLETED"
	BatchStatusPartiallyCompleted BatchPayoutStatus = "PARTIALLY_COMPLETED"
	BatchStatusFailed             BatchPayoutStatus = "FAILED"
)

func (s BatchPayoutStatus) String() string { return string(s) }

// IsTerminal reports whether no further transition is permitted.
func (s BatchPayoutStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// IsSettled reports whether the batch counts as finished when aggregating a
// distribution. PARTIALLY_COMPLETED is settled but may still be re-evaluated.
func (s BatchPayoutStatus) IsSettled() bool {
	return s.IsTerminal() || s == BatchStatusPartiallyCompleted
}

var batchTransitions = map[BatchPayoutStatus][]BatchPayoutStatus{
	BatchStatusInProgress:         {BatchStatusCompleted, BatchStatusPartiallyCompleted, BatchStatusFailed},
	BatchStatusPartiallyCompleted: {BatchStatusCompleted},
}

// BatchPayout is one bounded page of holders for one distribution.
//
// Attempts, LastError and NextRetryAt track whole-page execution calls that
// failed before any holder of the page was known.
type BatchPayout struct {
	ID             string            `json:"batch_payout_id"`
	DistributionID string            `json:"distribution_id"`
	PageIndex      int               `json:"page_index"`
	HoldersNumber  int               `json:"holders_number"`
	Status         BatchPayoutStatus `json:"status"`
	Attempts       int               `json:"attempts"`
	LastError      string            `json:"last_error,omitempty"`
	NextRetryAt    *time.Time        `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TransitionTo moves the batch to next. Moving to the current status is a
// no-op without effects.
func (b BatchPayout) TransitionTo(next BatchPayoutStatus, now time.Time) (BatchPayout, []Effect, error) {
	if b.Status == next {
		return b, nil, nil
	}

	for _, allowed := range batchTransitions[b.Status] {
		if allowed == next {
			b.Status = next
			b.UpdatedAt = now
			if next.IsSettled() {
				b.NextRetryAt = nil
			}
			return b, []Effect{{Kind: EffectPersist}}, nil
		}
	}
	return b, nil, transitionError("batch payout", b.ID, b.Status, next)
}

// RecordPageFailure records a whole-page call that failed with no holder of
// the page known yet.
func (b BatchPayout) RecordPageFailure(reason string, now time.Time, policy RetryPolicy) (BatchPayout, []Effect, error) {
	if b.Status != BatchStatusInProgress {
		return b, nil, transitionError("batch payout", b.ID, b.Status, b.Status)
	}

	b.Attempts++
	b.LastError = reason
	b.UpdatedAt = now

	effects := []Effect{{Kind: EffectPersist}}
	if policy.Exhausted(b.Attempts) {
		b.NextRetryAt = nil
		return b, effects, nil
	}

	next := now.Add(policy.Backoff(b.Attempts))
	b.NextRetryAt = &next
	return b, append(effects, Effect{Kind: EffectScheduleRetry, At: next}), nil
}

// ShrinkTo lowers HoldersNumber when the ledger reports the page exhausted
// with fewer holders than were planned.
func (b BatchPayout) ShrinkTo(materialized int, now time.Time) (BatchPayout, []Effect) {
	if materialized >= b.HoldersNumber || materialized < 0 {
		return b, nil
	}
	b.HoldersNumber = materialized
	b.UpdatedAt = now
	return b, []Effect{{Kind: EffectPersist}}
}

// IsPageAttemptDue reports whether a whole-page execution call may be made at now.
func (b BatchPayout) IsPageAttemptDue(now time.Time, policy RetryPolicy) bool {
	if b.Status != BatchStatusInProgress || policy.Exhausted(b.Attempts) {
		return false
	}
	return b.NextRetryAt == nil || !b.NextRetryAt.After(now)
}
