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
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type DistributionType string

const (
	DistributionTypeCorporateAction DistributionType = "CORPORATE_ACTION"
	DistributionTypePayout          DistributionType = "PAYOUT"
)

type PayoutSubtype string

const (
	PayoutSubtypeImmediate PayoutSubtype = "IMMEDIATE"
	PayoutSubtypeOneOff    PayoutSubtype = "ONE_OFF"
	PayoutSubtypeRecurring PayoutSubtype = "RECURRING"
)

type AmountType string

const (
	AmountTypeFixed      AmountType = "FIXED"
	AmountTypePercentage AmountType = "PERCENTAGE"
)

type DistributionStatus string

const (
	DistributionStatusScheduled          DistributionStatus = "SCHEDULED"
	DistributionStatusInProgress         DistributionStatus = "IN_PROGRESS"
	DistributionStatusCompleted          DistributionStatus = "COMPLETED"
	DistributionStatusPartiallyCompleted DistributionStatus = "PARTIALLY_COMPLETED"
	DistributionStatusFailed             DistributionStatus = "FAILED"
	DistributionStatusCancelled          DistributionStatus = "CANCELLED"
)

func (s DistributionStatus) String() string { return string(s) }

// IsTerminal reports whether the distribution has reached a final status.
func (s DistributionStatus) IsTerminal() bool {
	switch s {
	case DistributionStatusCompleted, DistributionStatusFailed, DistributionStatusCancelled:
		return true
	}
	return false
}

var distributionTransitions = map[DistributionStatus][]DistributionStatus{
	DistributionStatusScheduled: {
		DistributionStatusInProgress,
		DistributionStatusCancelled,
		DistributionStatusFailed,
	},
	DistributionStatusInProgress: {
		DistributionStatusCompleted,
		DistributionStatusPartiallyCompleted,
		DistributionStatusFailed,
	},
	DistributionStatusPartiallyCompleted: {
		DistributionStatusCompleted,
	},
}

// CorporateActionDetails identifies a coupon or dividend read from the chain.
type CorporateActionDetails struct {
	CorporateActionID int64     `json:"corporate_action_id"`
	ExecutionDate     time.Time `json:"execution_date"`
}

// PayoutDetails describes a user scheduled payout.
type PayoutDetails struct {
	Subtype    PayoutSubtype   `json:"subtype"`
	PayoutID   int64           `json:"payout_id"`
	ExecuteAt  time.Time       `json:"execute_at"`
	Amount     decimal.Decimal `json:"amount"`
	AmountType AmountType      `json:"amount_type"`
	SnapshotID int64           `json:"snapshot_id"`
	Recurrency *string         `json:"recurrency,omitempty"`
	Concept    string          `json:"concept,omitempty"`
}

// Distribution is one cash-flow event owed by an asset to its holders.
// Type is the discriminant: exactly one of CorporateAction and Payout is set
// and it must match Type.
type Distribution struct {
	ID              string                  `json:"distribution_id"`
	AssetID         string                  `json:"asset_id"`
	Type            DistributionType        `json:"type"`
	CorporateAction *CorporateActionDetails `json:"corporate_action,omitempty"`
	Payout          *PayoutDetails          `json:"payout,omitempty"`
	Status          DistributionStatus      `json:"status"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// NewCorporateActionDistribution returns a SCHEDULED corporate action distribution.
func NewCorporateActionDistribution(assetID string, details CorporateActionDetails, now time.Time) Distribution {
	return Distribution{
		ID:              GenerateUUIDWithSuffix("dist"),
		AssetID:         assetID,
		Type:            DistributionTypeCorporateAction,
		CorporateAction: &details,
		Status:          DistributionStatusScheduled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewPayoutDistribution returns a SCHEDULED payout distribution.
func NewPayoutDistribution(assetID string, details PayoutDetails, now time.Time) Distribution {
	return Distribution{
		ID:        GenerateUUIDWithSuffix("dist"),
		AssetID:   assetID,
		Type:      DistributionTypePayout,
		Payout:    &details,
		Status:    DistributionStatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (d *Distribution) variantError() error {
	return fmt.Errorf("distribution %s: details do not match type %q", d.ID, d.Type)
}

// EventID returns the on-chain numeric id passed to the execution call.
func (d *Distribution) EventID() (int64, error) {
	switch d.Type {
	case DistributionTypeCorporateAction:
		if d.CorporateAction == nil {
			return 0, d.variantError()
		}
		return d.CorporateAction.CorporateActionID, nil
	case DistributionTypePayout:
		if d.Payout == nil {
			return 0, d.variantError()
		}
		return d.Payout.PayoutID, nil
	}
	return 0, fmt.Errorf("distribution %s: unknown type %q", d.ID, d.Type)
}

// ExecutionDate returns the moment the distribution becomes payable.
func (d *Distribution) ExecutionDate() (time.Time, error) {
	switch d.Type {
	case DistributionTypeCorporateAction:
		if d.CorporateAction == nil {
			return time.Time{}, d.variantError()
		}
		return d.CorporateAction.ExecutionDate, nil
	case DistributionTypePayout:
		if d.Payout == nil {
			return time.Time{}, d.variantError()
		}
		return d.Payout.ExecuteAt, nil
	}
	return time.Time{}, fmt.Errorf("distribution %s: unknown type %q", d.ID, d.Type)
}

// IsDue compares calendar days in UTC: a distribution is due on its
// execution day and on every day after it.
func (d *Distribution) IsDue(now time.Time) (bool, error) {
	executionDate, err := d.ExecutionDate()
	if err != nil {
		return false, err
	}
	return !StartOfDay(now).Before(StartOfDay(executionDate)), nil
}

// TransitionTo moves the distribution to next. Moving to the current status
// is a no-op without effects. Cancellation is only available to payouts.
func (d Distribution) TransitionTo(next DistributionStatus, now time.Time) (Distribution, []Effect, error) {
	if d.Status == next {
		return d, nil, nil
	}
	if next == DistributionStatusCancelled && d.Type != DistributionTypePayout {
		return d, nil, transitionError("distribution", d.ID, d.Status, next)
	}

	for _, allowed := range distributionTransitions[d.Status] {
		if allowed == next {
			d.Status = next
			d.UpdatedAt = now
			return d, []Effect{{Kind: EffectPersist}, {Kind: EffectNotify}}, nil
		}
	}
	return d, nil, transitionError("distribution", d.ID, d.Status, next)
}
