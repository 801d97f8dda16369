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
	"fmt"
	"time"

	"github.com/blnkfinance/payouts/model"
)

// PlanBatches splits holders into ceil(holders/pageSize) IN_PROGRESS batches.
// Page i holds min(pageSize, holders-i*pageSize) holders, so every page but
// the last is full and the sizes add up to holders.
//
// Parameters:
// - distributionID string: The distribution the batches belong to.
// - holders int: Number of holders to pay, must be positive.
// - pageSize int: Maximum holders per batch, must be positive.
// - now time.Time: Creation timestamp of the batches.
//
// Returns:
// - []model.BatchPayout: The plan, ordered by page index from 0.
// - error: ErrInvalidPlan when an input is out of range.
func PlanBatches(distributionID string, holders, pageSize int, now time.Time) ([]model.BatchPayout, error) {
	if distributionID == "" {
		return nil, fmt.Errorf("%w: distribution id is required", ErrInvalidPlan)
	}
	if holders < 1 {
		return nil, fmt.Errorf("%w: holder count must be positive, got %d", ErrInvalidPlan, holders)
	}
	if pageSize < 1 {
		return nil, fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidPlan, pageSize)
	}

	pages := (holders + pageSize - 1) / pageSize
	batches := make([]model.BatchPayout, 0, pages)
	for i := 0; i < pages; i++ {
		size := pageSize
		if remaining := holders - i*pageSize; remaining < size {
			size = remaining
		}
		batches = append(batches, model.BatchPayout{
			ID:             model.GenerateUUIDWithSuffix("bp"),
			DistributionID: distributionID,
			PageIndex:      i,
			HoldersNumber:  size,
			Status:         model.BatchStatusInProgress,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return batches, nil
}
