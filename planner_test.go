package payouts

import (
	"errors"
	"testing"
	"time"

	"github.com/blnkfinance/payouts/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanBatches(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name     string
		holders  int
		pageSize int
		sizes    []int
	}{
		{"single partial page", 7, 10, []int{7}},
		{"exact pages", 20, 10, []int{10, 10}},
		{"remainder page", 250, 100, []int{100, 100, 50}},
		{"page of one", 3, 1, []int{1, 1, 1}},
		{"one holder", 1, 100, []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches, err := PlanBatches("dist_1", tt.holders, tt.pageSize, now)
			require.NoError(t, err)
			require.Len(t, batches, len(tt.sizes))

			for i, batch := range batches {
				assert.Equal(t, i, batch.PageIndex)
				assert.Equal(t, tt.sizes[i], batch.HoldersNumber)
				assert.Equal(t, "dist_1", batch.DistributionID)
				assert.Equal(t, model.BatchStatusInProgress, batch.Status)
				assert.Zero(t, batch.Attempts)
				assert.Equal(t, now, batch.CreatedAt)
			}
		})
	}
}

func TestPlanBatches_CoversEveryHolderOnce(t *testing.T) {
	for holders := 1; holders <= 60; holders++ {
		for pageSize := 1; pageSize <= 13; pageSize++ {
			batches, err := PlanBatches("dist_1", holders, pageSize, time.Now())
			require.NoError(t, err)

			assert.Len(t, batches, (holders+pageSize-1)/pageSize)
			total := 0
			ids := map[string]bool{}
			for i, b := range batches {
				total += b.HoldersNumber
				assert.True(t, b.HoldersNumber >= 1 && b.HoldersNumber <= pageSize)
				if i < len(batches)-1 {
					assert.Equal(t, pageSize, b.HoldersNumber)
				}
				assert.False(t, ids[b.ID])
				ids[b.ID] = true
			}
			assert.Equal(t, holders, total, "holders=%d pageSize=%d", holders, pageSize)
		}
	}
}

func TestPlanBatches_InvalidInput(t *testing.T) {
	tests := []struct {
		name           string
		distributionID string
		holders        int
		pageSize       int
	}{
		{"no distribution", "", 10, 10},
		{"no holders", "dist_1", 0, 10},
		{"negative holders", "dist_1", -3, 10},
		{"zero page size", "dist_1", 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches, err := PlanBatches(tt.distributionID, tt.holders, tt.pageSize, time.Now())
			assert.Nil(t, batches)
			assert.True(t, errors.Is(err, ErrInvalidPlan))
		})
	}
}
