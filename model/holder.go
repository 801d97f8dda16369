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

	"github.com/shopspring/decimal"
)

// HolderStatus is the state of one holder payout attempt.
type HolderStatus string

const (
	HolderStatusPending  HolderStatus = "PENDING"
	HolderStatusRetrying HolderStatus = "RETRYING"
	HolderStatusSuccess  HolderStatus = "SUCCESS"
	HolderStatusFailed   HolderStatus = "FAILED"
)

func (s HolderStatus) String() string { return string(s) }

// Holder is the ledger entry for one holder within one batch payout. Entries
// are never deleted; failed ones remain as an audit trail.
type Holder struct {
	ID               string              `json:"holder_id"`
	BatchPayoutID    string              `json:"batch_payout_id"`
	HolderAccountID  string              `json:"holder_account_id"`
	HolderEvmAddress string              `json:"holder_evm_address"`
	RetryCounter     int                 `json:"retry_counter"`
	Status           HolderStatus        `json:"status"`
	// Rejected marks a FAILED entry whose ledger outcome could not be
	// accepted. It is never retried.
	Rejected         bool                `json:"rejected,omitempty"`
	LastError        string              `json:"last_error,omitempty"`
	NextRetryAt      *time.Time          `json:"next_retry_at,omitempty"`
	Amount           decimal.NullDecimal `json:"amount"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// NewHolder returns a PENDING entry for a holder seen for the first time in batchID.
func NewHolder(batchID, accountID, evmAddress string, now time.Time) Holder {
	return Holder{
		ID:               GenerateUUIDWithSuffix("hld"),
		BatchPayoutID:    batchID,
		HolderAccountID:  accountID,
		HolderEvmAddress: NormalizeEvmAddress(evmAddress),
		Status:           HolderStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Succeed records a settled payout. Allowed from PENDING and RETRYING.
func (h Holder) Succeed(amount decimal.Decimal, now time.Time) (Holder, []Effect, error) {
	if h.Status != HolderStatusPending && h.Status != HolderStatusRetrying {
		return h, nil, transitionError("holder", h.ID, h.Status, HolderStatusSuccess)
	}

	h.Status = HolderStatusSuccess
	h.Amount = decimal.NullDecimal{Decimal: amount, Valid: true}
	h.LastError = ""
	h.NextRetryAt = nil
	h.UpdatedAt = now
	return h, []Effect{{Kind: EffectPersist}}, nil
}

// Fail records a failed attempt. The retry counter grows by exactly one and,
// unless the policy is exhausted, a retry is scheduled after the backoff for
// the new counter value.
func (h Holder) Fail(reason string, now time.Time, policy RetryPolicy) (Holder, []Effect, error) {
	if h.Status != HolderStatusPending && h.Status != HolderStatusRetrying {
		return h, nil, transitionError("holder", h.ID, h.Status, HolderStatusFailed)
	}

	h.Status = HolderStatusFailed
	h.RetryCounter++
	h.LastError = reason
	h.Amount = decimal.NullDecimal{}
	h.UpdatedAt = now

	effects := []Effect{{Kind: EffectPersist}}
	if policy.Exhausted(h.RetryCounter) {
		h.NextRetryAt = nil
		return h, effects, nil
	}

	next := now.Add(policy.Backoff(h.RetryCounter))
	h.NextRetryAt = &next
	return h, append(effects, Effect{Kind: EffectScheduleRetry, At: next}), nil
}

// Reject records an outcome that cannot be accepted as reported, such as one
// carrying an invalid address. The entry is FAILED for good: it counts as
// exhausted whatever the retry policy and is never retried.
func (h Holder) Reject(reason string, now time.Time) (Holder, []Effect, error) {
	if h.Status != HolderStatusPending && h.Status != HolderStatusRetrying {
		return h, nil, transitionError("holder", h.ID, h.Status, HolderStatusFailed)
	}

	h.Status = HolderStatusFailed
	h.Rejected = true
	h.RetryCounter++
	h.LastError = reason
	h.Amount = decimal.NullDecimal{}
	h.NextRetryAt = nil
	h.UpdatedAt = now
	return h, []Effect{{Kind: EffectPersist}}, nil
}

// StartRetry moves a FAILED holder whose retry is due into RETRYING.
func (h Holder) StartRetry(now time.Time, policy RetryPolicy) (Holder, []Effect, error) {
	if !h.IsRetryDue(now, policy) {
		return h, nil, transitionError("holder", h.ID, h.Status, HolderStatusRetrying)
	}

	h.Status = HolderStatusRetrying
	h.UpdatedAt = now
	return h, []Effect{{Kind: EffectPersist}}, nil
}

// IsExhausted reports whether the holder failed and has no retries left.
func (h Holder) IsExhausted(policy RetryPolicy) bool {
	return h.Status == HolderStatusFailed && (h.Rejected || policy.Exhausted(h.RetryCounter))
}

// IsRetryDue reports whether a failed holder with retries left may be retried at now.
func (h Holder) IsRetryDue(now time.Time, policy RetryPolicy) bool {
	if h.Status != HolderStatusFailed || h.Rejected || policy.Exhausted(h.RetryCounter) {
		return false
	}
	return h.NextRetryAt == nil || !h.NextRetryAt.After(now)
}

// IsUnresolved reports whether the holder still awaits an outcome.
func (h Holder) IsUnresolved(policy RetryPolicy) bool {
	switch h.Status {
	case HolderStatusPending, HolderStatusRetrying:
		return true
	case HolderStatusFailed:
		return !h.Rejected && !policy.Exhausted(h.RetryCounter)
	}
	return false
}
