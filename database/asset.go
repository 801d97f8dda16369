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
	"database/sql"

	"github.com/blnkfinance/payouts/model"
	"go.opentelemetry.io/otel"
)

func (d Datasource) CreateAsset(ctx context.Context, asset *model.Asset) error {
	ctx, span := otel.Tracer("Asset").Start(ctx, "Saving asset to db")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO payouts.assets (asset_id, name, symbol, ledger_token_id, token_address, lifecycle_cash_flow_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, asset.ID, asset.Name, asset.Symbol, asset.LedgerTokenID, asset.TokenAddress, asset.LifeCycleCashFlowAddress, asset.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "Asset", asset.ID)
	}
	return nil
}

func (d Datasource) GetAssetByID(ctx context.Context, id string) (*model.Asset, error) {
	ctx, span := otel.Tracer("Asset").Start(ctx, "Fetching asset from db")
	defer span.End()

	asset := &model.Asset{}
	var symbol sql.NullString
	err := d.Conn.QueryRowContext(ctx, `
		SELECT asset_id, name, symbol, ledger_token_id, token_address, lifecycle_cash_flow_address, created_at
		FROM payouts.assets
		WHERE asset_id = $1
	`, id).Scan(&asset.ID, &asset.Name, &symbol, &asset.LedgerTokenID, &asset.TokenAddress, &asset.LifeCycleCashFlowAddress, &asset.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return nil, mapError(err, "Asset", id)
	}
	asset.Symbol = symbol.String
	return asset, nil
}
