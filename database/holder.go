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

	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/model"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel"
)

func (d Datasource) SaveHolder(ctx context.Context, holder *model.Holder) error {
	ctx, span := otel.Tracer("Holder").Start(ctx, "Saving holder to db")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO payouts.holders (holder_id, batch_payout_id, holder_account_id, holder_evm_address, retry_counter, status, rejected, last_error, next_retry_at, amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, holder.ID, holder.BatchPayoutID, holder.HolderAccountID, holder.HolderEvmAddress, holder.RetryCounter, holder.Status, holder.Rejected,
		nullString(holder.LastError), nullTime(holder.NextRetryAt), holder.Amount, holder.CreatedAt, holder.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "Holder", holder.ID)
	}
	return nil
}

// UpdateHolder never lowers retry_counter nor clears rejected, whatever the caller passes.
func (d Datasource) UpdateHolder(ctx context.Context, holder *model.Holder) error {
	ctx, span := otel.Tracer("Holder").Start(ctx, "Updating holder")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payouts.holders
		SET retry_counter = GREATEST(retry_counter, $2), status = $3, rejected = rejected OR $4, last_error = $5, next_retry_at = $6, amount = $7, updated_at = $8
		WHERE holder_id = $1
	`, holder.ID, holder.RetryCounter, holder.Status, holder.Rejected, nullString(holder.LastError), nullTime(holder.NextRetryAt), holder.Amount, holder.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "Holder", holder.ID)
	}
	return expectOneRow(result, "Holder", holder.ID)
}

func (d Datasource) GetHoldersByBatch(ctx context.Context, batchPayoutID string) ([]model.Holder, error) {
	ctx, span := otel.Tracer("Holder").Start(ctx, "Fetching holders by batch payout")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT holder_id, batch_payout_id, holder_account_id, holder_evm_address, retry_counter, status, rejected, last_error, next_retry_at, amount, created_at, updated_at
		FROM payouts.holders
		WHERE batch_payout_id = $1
		ORDER BY created_at ASC, holder_id ASC
	`, batchPayoutID)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve holders", err)
	}
	defer rows.Close()

	var holders []model.Holder
	for rows.Next() {
		var (
			h           model.Holder
			lastError   sql.NullString
			nextRetryAt sql.NullTime
		)
		err = rows.Scan(&h.ID, &h.BatchPayoutID, &h.HolderAccountID, &h.HolderEvmAddress, &h.RetryCounter, &h.Status, &h.Rejected,
			&lastError, &nextRetryAt, &h.Amount, &h.CreatedAt, &h.UpdatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan holder", err)
		}
		h.LastError = lastError.String
		if nextRetryAt.Valid {
			h.NextRetryAt = ptr.Time(nextRetryAt.Time)
		}
		holders = append(holders, h)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over holders", err)
	}
	return holders, nil
}
