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

	"github.com/blnkfinance/payouts/model"
	"github.com/shopspring/decimal"
)

// HolderCounter reports how many holders a distribution pays.
type HolderCounter interface {
	GetHoldersCount(ctx context.Context, dist *model.Distribution, asset *model.Asset) (int, error)
}

// DistributionExecutor pays one page of holders on the ledger.
type DistributionExecutor interface {
	ExecuteDistribution(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// PauseChecker returns ErrAssetPaused, possibly wrapped, when the asset
// cannot move funds.
type PauseChecker interface {
	CheckAssetPauseState(ctx context.Context, asset *model.Asset) error
}

// Collaborators groups the ledger capabilities the engine needs.
type Collaborators struct {
	Holders  HolderCounter
	Executor DistributionExecutor
	Pause    PauseChecker
}

func (c Collaborators) validate() error {
	switch {
	case c.Holders == nil:
		return errors.New("holder counter is required")
	case c.Executor == nil:
		return errors.New("distribution executor is required")
	case c.Pause == nil:
		return errors.New("pause checker is required")
	}
	return nil
}

// ExecutionRequest addresses one page of holders of one on-chain event.
// When Holders is set, only those holder accounts of the page are paid.
type ExecutionRequest struct {
	ContractAddress string   `json:"contract_address"`
	TokenAddress    string   `json:"token_address"`
	EventID         int64    `json:"event_id"`
	PageIndex       int      `json:"page_index"`
	PageSize        int      `json:"page_size"`
	Holders         []string `json:"holders,omitempty"`
}

// HolderOutcome is the per-holder result of an execution call.
type HolderOutcome struct {
	HolderAccountID  string          `json:"holder_account_id"`
	HolderEvmAddress string          `json:"holder_evm_address"`
	Success          bool            `json:"success"`
	Amount           decimal.Decimal `json:"amount"`
	Error            string          `json:"error,omitempty"`
}

// ExecutionResult carries the outcomes of an execution call. Executed reports
// that the ledger has no further holders for the page.
type ExecutionResult struct {
	Outcomes []HolderOutcome `json:"outcomes"`
	Executed bool            `json:"executed"`
}
