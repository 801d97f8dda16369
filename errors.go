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
	"errors"
	"fmt"

	"github.com/blnkfinance/payouts/model"
)

var (
	// ErrAssetPaused is returned by a PauseChecker when the asset is paused.
	ErrAssetPaused = errors.New("asset is paused")

	// ErrDistributionNotScheduled is matched by InvalidDistributionStatusError.
	ErrDistributionNotScheduled = errors.New("distribution is not scheduled")

	// ErrDispatchInFlight is returned when the distribution is already being
	// dispatched or cancelled by this or another process.
	ErrDispatchInFlight = errors.New("distribution dispatch already in flight")

	// ErrBatchLocked is returned when another pass holds the batch lock.
	ErrBatchLocked = errors.New("batch payout is locked by another execution")

	ErrInvalidPlan = errors.New("invalid batch plan")
)

// AssetPausedError is returned before any batch is created for a paused asset.
type AssetPausedError struct {
	AssetID string
	Err     error
}

func (e *AssetPausedError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, ErrAssetPaused) {
		return fmt.Sprintf("asset %s is paused: %v", e.AssetID, e.Err)
	}
	return fmt.Sprintf("asset %s is paused", e.AssetID)
}

func (e *AssetPausedError) Unwrap() error { return ErrAssetPaused }

// NoHoldersFoundError is returned when a due distribution has nobody to pay.
// The distribution is marked FAILED.
type NoHoldersFoundError struct {
	DistributionID string
	AssetID        string
}

func (e *NoHoldersFoundError) Error() string {
	return fmt.Sprintf("no holders found for distribution %s of asset %s", e.DistributionID, e.AssetID)
}

type WrongDistributionTypeError struct {
	DistributionID string
	Expected       model.DistributionType
	Actual         model.DistributionType
}

func (e *WrongDistributionTypeError) Error() string {
	return fmt.Sprintf("distribution %s is of type %s, expected %s", e.DistributionID, e.Actual, e.Expected)
}

// InvalidDistributionStatusError reports an operation refused because of the
// distribution's current status.
type InvalidDistributionStatusError struct {
	DistributionID string
	Status         model.DistributionStatus
	Operation      string
}

func (e *InvalidDistributionStatusError) Error() string {
	return fmt.Sprintf("cannot %s distribution %s in status %s", e.Operation, e.DistributionID, e.Status)
}

func (e *InvalidDistributionStatusError) Unwrap() error { return ErrDistributionNotScheduled }
