package payouts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/model"
)

// memStore is an in-memory database.IDataSource with the same uniqueness and
// compare-and-set rules as the postgres datasource.
type memStore struct {
	mu            sync.Mutex
	assets        map[string]model.Asset
	distributions map[string]model.Distribution
	batches       map[string]model.BatchPayout
	holders       map[string]model.Holder
	holderOrder   []string

	// failSaveBatches makes SaveBatchPayouts fail without storing anything
	failSaveBatches error
}

func newMemStore() *memStore {
	return &memStore{
		assets:        map[string]model.Asset{},
		distributions: map[string]model.Distribution{},
		batches:       map[string]model.BatchPayout{},
		holders:       map[string]model.Holder{},
	}
}

func notFound(entity, id string) error {
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("%s with ID '%s' not found", entity, id), nil)
}

func conflict(entity, id string) error {
	return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("%s with ID '%s' already exists", entity, id), nil)
}

func (s *memStore) CreateAsset(_ context.Context, asset *model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[asset.ID]; ok {
		return conflict("Asset", asset.ID)
	}
	s.assets[asset.ID] = *asset
	return nil
}

func (s *memStore) GetAssetByID(_ context.Context, id string) (*model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[id]
	if !ok {
		return nil, notFound("Asset", id)
	}
	return &asset, nil
}

func (s *memStore) CreateDistribution(_ context.Context, dist *model.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	eventID, err := dist.EventID()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	for _, existing := range s.distributions {
		existingEvent, _ := existing.EventID()
		if existing.ID == dist.ID || (existing.AssetID == dist.AssetID && existing.Type == dist.Type && existingEvent == eventID) {
			return conflict("Distribution", dist.ID)
		}
	}
	s.distributions[dist.ID] = *dist
	return nil
}

func (s *memStore) GetDistributionByID(_ context.Context, id string) (*model.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dist, ok := s.distributions[id]
	if !ok {
		return nil, notFound("Distribution", id)
	}
	return &dist, nil
}

func (s *memStore) GetDistributionByEvent(_ context.Context, assetID string, distType model.DistributionType, eventID int64) (*model.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dist := range s.distributions {
		id, _ := dist.EventID()
		if dist.AssetID == assetID && dist.Type == distType && id == eventID {
			return &dist, nil
		}
	}
	return nil, notFound("Distribution", fmt.Sprintf("%s/%s/%d", assetID, distType, eventID))
}

func (s *memStore) GetDueDistributions(_ context.Context, before time.Time, limit int) ([]model.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []model.Distribution
	for _, dist := range s.distributions {
		at, err := dist.ExecutionDate()
		if err != nil {
			continue
		}
		if dist.Status == model.DistributionStatusScheduled && at.Before(before) {
			due = append(due, dist)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, _ := due[i].ExecutionDate()
		b, _ := due[j].ExecutionDate()
		return a.Before(b)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memStore) UpdateDistributionStatus(_ context.Context, id string, from, to model.DistributionStatus, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dist, ok := s.distributions[id]
	if !ok || dist.Status != from {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Distribution '%s' is no longer %s", id, from), nil)
	}
	dist.Status = to
	dist.UpdatedAt = updatedAt
	s.distributions[id] = dist
	return nil
}

func (s *memStore) SaveBatchPayouts(_ context.Context, batches []model.BatchPayout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveBatches != nil {
		return s.failSaveBatches
	}
	for _, b := range batches {
		for _, existing := range s.batches {
			if existing.ID == b.ID || (existing.DistributionID == b.DistributionID && existing.PageIndex == b.PageIndex) {
				return conflict("Batch payout", b.ID)
			}
		}
	}
	for _, b := range batches {
		s.batches[b.ID] = b
	}
	return nil
}

func (s *memStore) GetBatchPayoutByID(_ context.Context, id string) (*model.BatchPayout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return nil, notFound("Batch payout", id)
	}
	return &batch, nil
}

func (s *memStore) GetBatchPayoutsByDistribution(_ context.Context, distributionID string) ([]model.BatchPayout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var batches []model.BatchPayout
	for _, b := range s.batches {
		if b.DistributionID == distributionID {
			batches = append(batches, b)
		}
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].PageIndex < batches[j].PageIndex })
	return batches, nil
}

func (s *memStore) UpdateBatchPayout(_ context.Context, batch *model.BatchPayout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batch.ID]; !ok {
		return notFound("Batch payout", batch.ID)
	}
	s.batches[batch.ID] = *batch
	return nil
}

func (s *memStore) GetBatchesAwaitingRetry(_ context.Context, threshold time.Time, limit int) ([]model.BatchPayout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stuck []model.BatchPayout
	for _, b := range s.batches {
		if b.Status == model.BatchStatusInProgress && !b.UpdatedAt.After(threshold) {
			stuck = append(stuck, b)
		}
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt) })
	if len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

func (s *memStore) SaveHolder(_ context.Context, holder *model.Holder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.holders {
		if h.ID == holder.ID || (h.BatchPayoutID == holder.BatchPayoutID && h.HolderAccountID == holder.HolderAccountID) {
			return conflict("Holder", holder.ID)
		}
	}
	s.holders[holder.ID] = *holder
	s.holderOrder = append(s.holderOrder, holder.ID)
	return nil
}

func (s *memStore) UpdateHolder(_ context.Context, holder *model.Holder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.holders[holder.ID]
	if !ok {
		return notFound("Holder", holder.ID)
	}
	updated := *holder
	if existing.RetryCounter > updated.RetryCounter {
		updated.RetryCounter = existing.RetryCounter
	}
	updated.Rejected = updated.Rejected || existing.Rejected
	s.holders[holder.ID] = updated
	return nil
}

func (s *memStore) GetHoldersByBatch(_ context.Context, batchPayoutID string) ([]model.Holder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var holders []model.Holder
	for _, id := range s.holderOrder {
		if h := s.holders[id]; h.BatchPayoutID == batchPayoutID {
			holders = append(holders, h)
		}
	}
	return holders, nil
}

func (s *memStore) allHolders() []model.Holder {
	s.mu.Lock()
	defer s.mu.Unlock()
	holders := make([]model.Holder, 0, len(s.holderOrder))
	for _, id := range s.holderOrder {
		holders = append(holders, s.holders[id])
	}
	return holders
}

func (s *memStore) deleteAsset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assets, id)
}
