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

	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/internal/cache"
	"github.com/blnkfinance/payouts/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func assetCacheKey(assetID string) string {
	return fmt.Sprintf("payouts:asset:%s", assetID)
}

// getAsset reads an asset through the cache when one is configured.
func (e *Engine) getAsset(ctx context.Context, assetID string) (*model.Asset, error) {
	key := assetCacheKey(assetID)
	if e.cache != nil {
		var asset model.Asset
		err := e.cache.Get(ctx, key, &asset)
		if err == nil {
			return &asset, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logrus.WithField("asset_id", assetID).Warnf("asset cache read failed: %v", err)
		}
	}

	asset, err := e.datasource.GetAssetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, asset, e.opts.AssetCacheTTL); err != nil {
			logrus.WithField("asset_id", assetID).Warnf("asset cache write failed: %v", err)
		}
	}
	return asset, nil
}

// CreateAsset registers a tokenized security. Addresses are stored in their
// checksummed form.
func (e *Engine) CreateAsset(ctx context.Context, asset model.Asset) (*model.Asset, error) {
	ctx, span := tracer.Start(ctx, "CreateAsset")
	defer span.End()

	if asset.ID == "" {
		asset.ID = model.GenerateUUIDWithSuffix("asset")
	}
	asset.TokenAddress = model.NormalizeEvmAddress(asset.TokenAddress)
	asset.LifeCycleCashFlowAddress = model.NormalizeEvmAddress(asset.LifeCycleCashFlowAddress)
	asset.CreatedAt = e.now()

	if err := asset.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	if err := e.datasource.CreateAsset(ctx, &asset); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &asset, nil
}

// GetAsset returns an asset by id.
func (e *Engine) GetAsset(ctx context.Context, assetID string) (*model.Asset, error) {
	return e.getAsset(ctx, assetID)
}

// CreateCorporateActionDistribution records a coupon or dividend read from the
// chain. The execution date may not lie before today. Creating the same
// corporate action twice returns the stored distribution.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - assetID string: The asset paying the corporate action.
// - details model.CorporateActionDetails: The on-chain id and execution date.
//
// Returns:
// - *model.Distribution: The SCHEDULED distribution.
// - error: An invalid input, a missing asset or a persistence failure.
func (e *Engine) CreateCorporateActionDistribution(ctx context.Context, assetID string, details model.CorporateActionDetails) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "CreateCorporateActionDistribution")
	defer span.End()

	now := e.now()
	if err := details.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	if model.StartOfDay(details.ExecutionDate).Before(model.StartOfDay(now)) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("execution date %s of corporate action %d is in the past", details.ExecutionDate.Format("2006-01-02"), details.CorporateActionID), nil)
	}

	dist := model.NewCorporateActionDistribution(assetID, details, now)
	return e.createDistribution(ctx, dist, details.CorporateActionID)
}

// CreatePayoutDistribution records a user scheduled payout. IMMEDIATE payouts
// without an execution time run now and are queued for dispatch right away.
func (e *Engine) CreatePayoutDistribution(ctx context.Context, assetID string, details model.PayoutDetails) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "CreatePayoutDistribution")
	defer span.End()

	now := e.now()
	if details.Subtype == model.PayoutSubtypeImmediate && details.ExecuteAt.IsZero() {
		details.ExecuteAt = now
	}
	if err := details.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	dist, err := e.createDistribution(ctx, model.NewPayoutDistribution(assetID, details, now), details.PayoutID)
	if err != nil {
		return nil, err
	}

	if details.Subtype == model.PayoutSubtypeImmediate && dist.Status == model.DistributionStatusScheduled && e.queue != nil {
		if err := e.queue.EnqueueDispatch(ctx, dist.ID); err != nil {
			logrus.WithField("distribution_id", dist.ID).Errorf("failed to enqueue immediate payout: %v", err)
		}
	}
	return dist, nil
}

func (e *Engine) createDistribution(ctx context.Context, dist model.Distribution, eventID int64) (*model.Distribution, error) {
	if err := dist.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	if _, err := e.getAsset(ctx, dist.AssetID); err != nil {
		return nil, err
	}

	existing, err := e.datasource.GetDistributionByEvent(ctx, dist.AssetID, dist.Type, eventID)
	if err == nil {
		return existing, nil
	}
	if !apierror.IsNotFound(err) {
		return nil, err
	}

	if err := e.datasource.CreateDistribution(ctx, &dist); err != nil {
		if apierror.IsConflict(err) {
			return e.datasource.GetDistributionByEvent(ctx, dist.AssetID, dist.Type, eventID)
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"distribution_id": dist.ID,
		"asset_id":        dist.AssetID,
		"type":            dist.Type,
		"event_id":        eventID,
	}).Info("distribution scheduled")
	e.notifyStatusChange(ctx, dist)
	return &dist, nil
}

// CancelDistribution cancels a SCHEDULED payout distribution. Corporate
// actions cannot be cancelled and a distribution that started cannot be
// cancelled either.
func (e *Engine) CancelDistribution(ctx context.Context, distributionID string) (*model.Distribution, error) {
	ctx, span := tracer.Start(ctx, "CancelDistribution")
	defer span.End()

	var result *model.Distribution
	err := e.withDistributionGuard(ctx, distributionID, func(ctx context.Context) error {
		dist, err := e.datasource.GetDistributionByID(ctx, distributionID)
		if err != nil {
			return err
		}
		result = dist
		if dist.Type != model.DistributionTypePayout {
			return &WrongDistributionTypeError{DistributionID: dist.ID, Expected: model.DistributionTypePayout, Actual: dist.Type}
		}
		if dist.Status != model.DistributionStatusScheduled {
			return &InvalidDistributionStatusError{DistributionID: dist.ID, Status: dist.Status, Operation: "cancel"}
		}

		cancelled, err := e.moveDistribution(ctx, *dist, model.DistributionStatusCancelled)
		if err != nil {
			return err
		}
		result = cancelled
		if cancelled.Status != model.DistributionStatusCancelled {
			return &InvalidDistributionStatusError{DistributionID: dist.ID, Status: cancelled.Status, Operation: "cancel"}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

// GetDistribution returns a distribution by id.
func (e *Engine) GetDistribution(ctx context.Context, distributionID string) (*model.Distribution, error) {
	return e.datasource.GetDistributionByID(ctx, distributionID)
}

// GetBatchPayouts returns the batches of a distribution ordered by page index.
func (e *Engine) GetBatchPayouts(ctx context.Context, distributionID string) ([]model.BatchPayout, error) {
	return e.datasource.GetBatchPayoutsByDistribution(ctx, distributionID)
}

// GetHolders returns the holder entries of a batch payout.
func (e *Engine) GetHolders(ctx context.Context, batchID string) ([]model.Holder, error) {
	return e.datasource.GetHoldersByBatch(ctx, batchID)
}
