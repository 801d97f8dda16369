package model

import "time"

// Asset is a tokenized security. TokenAddress and LifeCycleCashFlowAddress are
// EVM addresses of the token and of the contract that pays its cash flows.
type Asset struct {
	ID                       string    `json:"asset_id"`
	Name                     string    `json:"name"`
	Symbol                   string    `json:"symbol"`
	LedgerTokenID            string    `json:"ledger_token_id"`
	TokenAddress             string    `json:"token_address"`
	LifeCycleCashFlowAddress string    `json:"lifecycle_cash_flow_address"`
	CreatedAt                time.Time `json:"created_at"`
}
