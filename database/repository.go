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

package database

import (
	"context"
	"time"

	"github.com/blnkfinance/payouts/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	asset
	distribution
	batchPayout
	holder
}

type asset interface {
	CreateAsset(ctx context.Context, asset *model.Asset) error
	GetAssetByID(ctx context.Context, id string) (*model.Asset, error)
}

type distribution interface {
	CreateDistribution(ctx context.Context, dist *model.Distribution) error
	GetDistributionByID(ctx context.Context, id string) (*model.Distribution, error)
	GetDistributionByEvent(ctx context.Context, assetID string, distType model.DistributionType, eventID int64) (*model.Distribution, error)
	// GetDueDistributions lists SCHEDULED distributions executing before the given instant.
	GetDueDistributions(ctx context.Context, before time.Time, limit int) ([]model.Distribution, error)
	// UpdateDistributionStatus is a compare-and-set on the current status.
	UpdateDistributionStatus(ctx context.Context, id string, from, to model.DistributionStatus, updatedAt time.Time) error
}

type batchPayout interface {
	// SaveBatchPayouts inserts a whole plan in one transaction.
	SaveBatchPayouts(ctx context.Context, batches []model.BatchPayout) error
	GetBatchPayoutByID(ctx context.Context, id string) (*model.BatchPayout, error)
	GetBatchPayoutsByDistribution(ctx context.Context, distributionID string) ([]model.BatchPayout, error)
	UpdateBatchPayout(ctx context.Context, batch *model.BatchPayout) error
	// GetBatchesAwaitingRetry lists IN_PROGRESS batches untouched since threshold.
	GetBatchesAwaitingRetry(ctx context.Context, threshold time.Time, limit int) ([]model.BatchPayout, error)
}

type holder interface {
	SaveHolder(ctx context.Context, holder *model.Holder) error
	UpdateHolder(ctx context.Context, holder *model.Holder) error
	GetHoldersByBatch(ctx context.Context, batchPayoutID string) ([]model.Holder, error)
}
