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
	"time"

	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/model"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel"
)

const batchPayoutColumns = `batch_payout_id, distribution_id, page_index, holders_number, status, attempts, last_error, next_retry_at, created_at, updated_at`

func scanBatchPayout(row rowScanner) (*model.BatchPayout, error) {
	batch := &model.BatchPayout{}
	var lastError sql.NullString
	var nextRetryAt sql.NullTime
	err := row.Scan(&batch.ID, &batch.DistributionID, &batch.PageIndex, &batch.HoldersNumber, &batch.Status,
		&batch.Attempts, &lastError, &nextRetryAt, &batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	batch.LastError = lastError.String
	if nextRetryAt.Valid {
		batch.NextRetryAt = ptr.Time(nextRetryAt.Time)
	}
	return batch, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// SaveBatchPayouts persists a plan atomically: either every page is stored or none.
func (d Datasource) SaveBatchPayouts(ctx context.Context, batches []model.BatchPayout) error {
	ctx, span := otel.Tracer("BatchPayout").Start(ctx, "Saving batch payouts to db")
	defer span.End()

	if len(batches) == 0 {
		return nil
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, batch := range batches {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payouts.batch_payouts (batch_payout_id, distribution_id, page_index, holders_number, status, attempts, last_error, next_retry_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, batch.ID, batch.DistributionID, batch.PageIndex, batch.HoldersNumber, batch.Status,
			batch.Attempts, nullString(batch.LastError), nullTime(batch.NextRetryAt), batch.CreatedAt, batch.UpdatedAt)
		if err != nil {
			span.RecordError(err)
			return mapError(err, "Batch payout", batch.ID)
		}
	}

	if err = tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return nil
}

func (d Datasource) GetBatchPayoutByID(ctx context.Context, id string) (*model.BatchPayout, error) {
	ctx, span := otel.Tracer("BatchPayout").Start(ctx, "Fetching batch payout from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+batchPayoutColumns+`
		FROM payouts.batch_payouts
		WHERE batch_payout_id = $1
	`, id)
	batch, err := scanBatchPayout(row)
	if err != nil {
		span.RecordError(err)
		return nil, mapError(err, "Batch payout", id)
	}
	return batch, nil
}

func (d Datasource) queryBatchPayouts(ctx context.Context, query string, args ...interface{}) ([]model.BatchPayout, error) {
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve batch payouts", err)
	}
	defer rows.Close()

	var batches []model.BatchPayout
	for rows.Next() {
		batch, err := scanBatchPayout(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan batch payout", err)
		}
		batches = append(batches, *batch)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over batch payouts", err)
	}
	return batches, nil
}

// GetBatchPayoutsByDistribution returns the plan ordered by page index.
func (d Datasource) GetBatchPayoutsByDistribution(ctx context.Context, distributionID string) ([]model.BatchPayout, error) {
	ctx, span := otel.Tracer("BatchPayout").Start(ctx, "Fetching batch payouts by distribution")
	defer span.End()

	return d.queryBatchPayouts(ctx, `
		SELECT `+batchPayoutColumns+`
		FROM payouts.batch_payouts
		WHERE distribution_id = $1
		ORDER BY page_index ASC
	`, distributionID)
}

func (d Datasource) UpdateBatchPayout(ctx context.Context, batch *model.BatchPayout) error {
	ctx, span := otel.Tracer("BatchPayout").Start(ctx, "Updating batch payout")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payouts.batch_payouts
		SET holders_number = $2, status = $3, attempts = $4, last_error = $5, next_retry_at = $6, updated_at = $7
		WHERE batch_payout_id = $1
	`, batch.ID, batch.HoldersNumber, batch.Status, batch.Attempts, nullString(batch.LastError), nullTime(batch.NextRetryAt), batch.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "Batch payout", batch.ID)
	}
	return expectOneRow(result, "Batch payout", batch.ID)
}

func (d Datasource) GetBatchesAwaitingRetry(ctx context.Context, threshold time.Time, limit int) ([]model.BatchPayout, error) {
	ctx, span := otel.Tracer("BatchPayout").Start(ctx, "Fetching stale batch payouts")
	defer span.End()

	return d.queryBatchPayouts(ctx, `
		SELECT `+batchPayoutColumns+`
		FROM payouts.batch_payouts
		WHERE status = $1 AND updated_at <= $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, model.BatchStatusInProgress, threshold, limit)
}
