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
	"errors"
	"testing"
	"time"

	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/internal/cache"
	"github.com/blnkfinance/payouts/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAsset(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(1), testOptions())
	ctx := context.Background()

	asset, err := env.engine.CreateAsset(ctx, model.Asset{
		Name:                     "Green Bond 2030",
		Symbol:                   "GB30",
		LedgerTokenID:            "0.0.4821",
		TokenAddress:             "0x52908400098527886e0f7030069857d2e4169ee7",
		LifeCycleCashFlowAddress: testCashFlow,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, asset.ID)
	assert.Equal(t, testTokenAddress, asset.TokenAddress)
	assert.Equal(t, env.clock.Now(), asset.CreatedAt)

	stored, err := env.engine.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.Name, stored.Name)
}

func TestCreateAsset_Invalid(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(1), testOptions())

	_, err := env.engine.CreateAsset(context.Background(), model.Asset{Name: "No addresses"})
	require.Error(t, err)
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))
}

func TestGetAsset_ServedFromCache(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(1), testOptions())
	engine, err := NewEngine(env.store, env.redis, env.ledger.collaborators(), testOptions(),
		WithClock(env.clock.Now), WithCache(cache.NewCache(env.redis)))
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	ctx := context.Background()

	asset := env.createAsset(t)
	_, err = engine.GetAsset(ctx, asset.ID)
	require.NoError(t, err)

	env.store.deleteAsset(asset.ID)
	cached, err := engine.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.ID, cached.ID)
	assert.Equal(t, asset.TokenAddress, cached.TokenAddress)

	_, err = env.engine.GetAsset(ctx, asset.ID)
	assert.True(t, apierror.IsNotFound(err))
}

func TestCreateCorporateActionDistribution(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(1), testOptions())
	asset := env.createAsset(t)
	executionDate := env.clock.Now().AddDate(0, 0, 3)

	dist := env.createCorporateAction(t, asset.ID, executionDate)
	assert.Equal(t, model.DistributionTypeCorporateAction, dist.Type)
	assert.Equal(t, model.DistributionStatusScheduled, dist.Status)
	require.NotNil(t, dist.CorporateAction)
	assert.Nil(t, dist.Payout)
	assert.Equal(t, executionDate, dist.CorporateAction.ExecutionDate)
	assert.Equal(t, []string{"distribution.scheduled"}, env.queue.events())
	assert.Empty(t, env.queue.dispatches)
}

func TestCreateCorporateActionDistribution_Idempotent(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(1), testOptions())
	ctx := context.Background()
	asset := env.createAsset(t)
	details := model.CorporateActionDetails{CorporateActionID: 42, ExecutionDate: env.clock.Now().AddDate(0, 0, 1)}

	first, err := env.engine.CreateCorporateActionDistribution(ctx, asset.ID, details)
	require.NoError(t, err)
	second, err := env.engine.CreateCorporateActionDistribution(ctx, asset.ID, details)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, env.queue.events(), 1)
}

func TestCreateCorporateActionDistribution_Rejected(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(1), testOptions())
	ctx := context.Background()
	asset := env.createAsset(t)

	tests := []struct {
		name    string
		assetID string
		details model.CorporateActionDetails
		code    apierror.ErrorCode
	}{
		{
			name:    "execution date yesterday",
			assetID: asset.ID,
			details: model.CorporateActionDetails{CorporateActionID: 1, ExecutionDate: env.clock.Now().AddDate(0, 0, -1)},
			code:    apierror.ErrInvalidInput,
		},
		{
			name:    "missing corporate action id",
			assetID: asset.ID,
			details: model.CorporateActionDetails{ExecutionDate: env.clock.Now()},
			code:    apierror.ErrInvalidInput,
		},
		{
			name:    "unknown asset",
			assetID: "asset_missing",
			details: model.CorporateActionDetails{CorporateActionID: 1, ExecutionDate: env.clock.Now()},
			code:    apierror.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist, err := env.engine.CreateCorporateActionDistribution(ctx, tt.assetID, tt.details)
			assert.Nil(t, dist)
			assert.Equal(t, tt.code, apierror.CodeOf(err))
		})
	}
}

func TestCreateCorporateActionDistribution_EarlierTodayAccepted(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(1), testOptions())
	asset := env.createAsset(t)

	dist := env.createCorporateAction(t, asset.ID, env.clock.Now().Add(-time.Hour))
	assert.Equal(t, model.DistributionStatusScheduled, dist.Status)
}

func TestCreatePayoutDistribution_ImmediateIsQueued(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(1), testOptions())
	asset := env.createAsset(t)

	dist, err := env.engine.CreatePayoutDistribution(context.Background(), asset.ID, model.PayoutDetails{
		Subtype:    model.PayoutSubtypeImmediate,
		PayoutID:   9,
		Amount:     decimal.RequireFromString("1000"),
		AmountType: model.AmountTypeFixed,
	})
	require.NoError(t, err)
	require.NotNil(t, dist.Payout)
	assert.Equal(t, env.clock.Now(), dist.Payout.ExecuteAt)
	assert.Equal(t, []string{dist.ID}, env.queue.dispatches)
}

func TestCreatePayoutDistribution_OneOffIsNotQueued(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(1), testOptions())
	asset := env.createAsset(t)

	dist := env.createPayout(t, asset.ID, model.PayoutSubtypeOneOff, env.clock.Now().AddDate(0, 1, 0))
	assert.Equal(t, model.DistributionTypePayout, dist.Type)
	assert.Empty(t, env.queue.dispatches)
}

func TestCreatePayoutDistribution_Recurring(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(1), testOptions())
	asset := env.createAsset(t)

	dist := env.createPayout(t, asset.ID, model.PayoutSubtypeRecurring, env.clock.Now().AddDate(0, 0, 7))
	require.NotNil(t, dist.Payout.Recurrency)
	assert.Equal(t, "MONTHLY", *dist.Payout.Recurrency)
}

func TestCreatePayoutDistribution_Invalid(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(1), testOptions())
	asset := env.createAsset(t)
	executeAt := env.clock.Now().AddDate(0, 0, 1)

	tests := []struct {
		name    string
		details model.PayoutDetails
	}{
		{"zero amount", model.PayoutDetails{Subtype: model.PayoutSubtypeOneOff, PayoutID: 1, ExecuteAt: executeAt, Amount: decimal.Zero, AmountType: model.AmountTypeFixed}},
		{"percentage above 100", model.PayoutDetails{Subtype: model.PayoutSubtypeOneOff, PayoutID: 1, ExecuteAt: executeAt, Amount: decimal.NewFromInt(150), AmountType: model.AmountTypePercentage}},
		{"recurring without recurrency", model.PayoutDetails{Subtype: model.PayoutSubtypeRecurring, PayoutID: 1, ExecuteAt: executeAt, Amount: decimal.NewFromInt(5), AmountType: model.AmountTypeFixed}},
		{"one off without execution time", model.PayoutDetails{Subtype: model.PayoutSubtypeOneOff, PayoutID: 1, Amount: decimal.NewFromInt(5), AmountType: model.AmountTypeFixed}},
		{"unknown subtype", model.PayoutDetails{Subtype: "WEEKLY", PayoutID: 1, ExecuteAt: executeAt, Amount: decimal.NewFromInt(5), AmountType: model.AmountTypeFixed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.CreatePayoutDistribution(context.Background(), asset.ID, tt.details)
			assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))
		})
	}
	assert.Empty(t, env.queue.dispatches)
}

func TestCancelDistribution(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(1), testOptions())
	ctx := context.Background()
	asset := env.createAsset(t)
	dist := env.createPayout(t, asset.ID, model.PayoutSubtypeOneOff, env.clock.Now().AddDate(0, 0, 2))

	cancelled, err := env.engine.CancelDistribution(ctx, dist.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DistributionStatusCancelled, cancelled.Status)
	assert.Equal(t, model.DistributionStatusCancelled, env.distribution(t, dist.ID).Status)
	assert.Equal(t, []string{"distribution.scheduled", "distribution.cancelled"}, env.queue.events())

	_, err = env.engine.CancelDistribution(ctx, dist.ID)
	var statusErr *InvalidDistributionStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, model.DistributionStatusCancelled, statusErr.Status)

	env.clock.Advance(72 * time.Hour)
	_, err = env.engine.Dispatch(ctx, dist.ID)
	assert.True(t, errors.Is(err, ErrDistributionNotScheduled))
	assert.Zero(t, env.ledger.calls())
}

func TestCancelDistribution_CorporateActionRefused(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(1), testOptions())
	asset := env.createAsset(t)
	dist := env.createCorporateAction(t, asset.ID, env.clock.Now().AddDate(0, 0, 2))

	_, err := env.engine.CancelDistribution(context.Background(), dist.ID)
	var typeErr *WrongDistributionTypeError
	require.True(t, errors.As(err, &typeErr))
	assert.Equal(t, model.DistributionTypePayout, typeErr.Expected)
	assert.Equal(t, model.DistributionStatusScheduled, env.distribution(t, dist.ID).Status)
}

func TestCancelDistribution_StartedRefused(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(2), testOptions())
	ctx := context.Background()
	asset := env.createAsset(t)
	dist := env.createPayout(t, asset.ID, model.PayoutSubtypeOneOff, env.clock.Now())

	_, err := env.engine.Dispatch(ctx, dist.ID)
	require.NoError(t, err)

	_, err = env.engine.CancelDistribution(ctx, dist.ID)
	assert.True(t, errors.Is(err, ErrDistributionNotScheduled))
	assert.Equal(t, model.DistributionStatusCompleted, env.distribution(t, dist.ID).Status)
}

func TestDistributionQueries(t *testing.T) {
	env := newTestEnv(t, newFakeLedger(3), testOptions())
	ctx := context.Background()
	asset := env.createAsset(t)
	dist := env.createCorporateAction(t, asset.ID, env.clock.Now())

	_, err := env.engine.Dispatch(ctx, dist.ID)
	require.NoError(t, err)

	stored, err := env.engine.GetDistribution(ctx, dist.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DistributionStatusCompleted, stored.Status)

	batches, err := env.engine.GetBatchPayouts(ctx, dist.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	holders, err := env.engine.GetHolders(ctx, batches[0].ID)
	require.NoError(t, err)
	assert.Len(t, holders, 3)
	for _, h := range holders {
		assert.Equal(t, model.HolderStatusSuccess, h.Status)
		assert.True(t, h.Amount.Decimal.Equal(decimal.RequireFromString("12.50")))
	}

	_, err = env.engine.GetDistribution(ctx, "dist_missing")
	assert.True(t, apierror.IsNotFound(err))
}
