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
package mocks

import (
	"context"
	"time"

	"github.com/blnkfinance/payouts/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Asset methods

func (m *MockDataSource) CreateAsset(ctx context.Context, asset *model.Asset) error {
	args := m.Called(ctx, asset)
	return args.Error(0)
}

func (m *MockDataSource) GetAssetByID(ctx context.Context, id string) (*model.Asset, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Asset), args.Error(1)
}

// Distribution methods

func (m *MockDataSource) CreateDistribution(ctx context.Context, dist *model.Distribution) error {
	args := m.Called(ctx, dist)
	return args.Error(0)
}

func (m *MockDataSource) GetDistributionByID(ctx context.Context, id string) (*model.Distribution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Distribution), args.Error(1)
}

func (m *MockDataSource) GetDistributionByEvent(ctx context.Context, assetID string, distType model.DistributionType, eventID int64) (*model.Distribution, error) {
	args := m.Called(ctx, assetID, distType, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Distribution), args.Error(1)
}

func (m *MockDataSource) GetDueDistributions(ctx context.Context, before time.Time, limit int) ([]model.Distribution, error) {
	args := m.Called(ctx, before, limit)
	return args.Get(0).([]model.Distribution), args.Error(1)
}

func (m *MockDataSource) UpdateDistributionStatus(ctx context.Context, id string, from, to model.DistributionStatus, updatedAt time.Time) error {
	args := m.Called(ctx, id, from, to, updatedAt)
	return args.Error(0)
}

// Batch payout methods

func (m *MockDataSource) SaveBatchPayouts(ctx context.Context, batches []model.BatchPayout) error {
	args := m.Called(ctx, batches)
	return args.Error(0)
}

func (m *MockDataSource) GetBatchPayoutByID(ctx context.Context, id string) (*model.BatchPayout, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BatchPayout), args.Error(1)
}

func (m *MockDataSource) GetBatchPayoutsByDistribution(ctx context.Context, distributionID string) ([]model.BatchPayout, error) {
	args := m.Called(ctx, distributionID)
	return args.Get(0).([]model.BatchPayout), args.Error(1)
}

func (m *MockDataSource) UpdateBatchPayout(ctx context.Context, batch *model.BatchPayout) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

func (m *MockDataSource) GetBatchesAwaitingRetry(ctx context.Context, threshold time.Time, limit int) ([]model.BatchPayout, error) {
	args := m.Called(ctx, threshold, limit)
	return args.Get(0).([]model.BatchPayout), args.Error(1)
}

// Holder methods

func (m *MockDataSource) SaveHolder(ctx context.Context, holder *model.Holder) error {
	args := m.Called(ctx, holder)
	return args.Error(0)
}

func (m *MockDataSource) UpdateHolder(ctx context.Context, holder *model.Holder) error {
	args := m.Called(ctx, holder)
	return args.Error(0)
}

func (m *MockDataSource) GetHoldersByBatch(ctx context.Context, batchPayoutID string) ([]model.Holder, error) {
	args := m.Called(ctx, batchPayoutID)
	return args.Get(0).([]model.Holder), args.Error(1)
}
