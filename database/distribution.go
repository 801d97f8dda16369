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
	"encoding/json"
	"fmt"
	"time"

	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/model"
	"go.opentelemetry.io/otel"
)

const distributionColumns = `distribution_id, asset_id, type, details, status, created_at, updated_at`

// encodeDetails serializes only the variant matching the discriminant.
func encodeDetails(dist *model.Distribution) ([]byte, error) {
	switch dist.Type {
	case model.DistributionTypeCorporateAction:
		if dist.CorporateAction == nil {
			return nil, fmt.Errorf("distribution %s has no corporate action details", dist.ID)
		}
		return json.Marshal(dist.CorporateAction)
	case model.DistributionTypePayout:
		if dist.Payout == nil {
			return nil, fmt.Errorf("distribution %s has no payout details", dist.ID)
		}
		return json.Marshal(dist.Payout)
	}
	return nil, fmt.Errorf("distribution %s has unknown type %q", dist.ID, dist.Type)
}

func decodeDetails(dist *model.Distribution, raw []byte) error {
	switch dist.Type {
	case model.DistributionTypeCorporateAction:
		details := &model.CorporateActionDetails{}
		if err := json.Unmarshal(raw, details); err != nil {
			return err
		}
		dist.CorporateAction = details
	case model.DistributionTypePayout:
		details := &model.PayoutDetails{}
		if err := json.Unmarshal(raw, details); err != nil {
			return err
		}
		dist.Payout = details
	default:
		return fmt.Errorf("distribution %s has unknown type %q", dist.ID, dist.Type)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDistribution(row rowScanner) (*model.Distribution, error) {
	dist := &model.Distribution{}
	var raw []byte
	if err := row.Scan(&dist.ID, &dist.AssetID, &dist.Type, &raw, &dist.Status, &dist.CreatedAt, &dist.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeDetails(dist, raw); err != nil {
		return nil, err
	}
	return dist, nil
}

func (d Datasource) CreateDistribution(ctx context.Context, dist *model.Distribution) error {
	ctx, span := otel.Tracer("Distribution").Start(ctx, "Saving distribution to db")
	defer span.End()

	eventID, err := dist.EventID()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	executionDate, err := dist.ExecutionDate()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	details, err := encodeDetails(dist)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO payouts.distributions (distribution_id, asset_id, type, event_id, execution_date, details, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, dist.ID, dist.AssetID, dist.Type, eventID, executionDate, details, dist.Status, dist.CreatedAt, dist.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "Distribution", dist.ID)
	}
	return nil
}

func (d Datasource) GetDistributionByID(ctx context.Context, id string) (*model.Distribution, error) {
	ctx, span := otel.Tracer("Distribution").Start(ctx, "Fetching distribution from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+distributionColumns+`
		FROM payouts.distributions
		WHERE distribution_id = $1
	`, id)
	dist, err := scanDistribution(row)
	if err != nil {
		span.RecordError(err)
		return nil, mapError(err, "Distribution", id)
	}
	return dist, nil
}

func (d Datasource) GetDistributionByEvent(ctx context.Context, assetID string, distType model.DistributionType, eventID int64) (*model.Distribution, error) {
	ctx, span := otel.Tracer("Distribution").Start(ctx, "Fetching distribution by event")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+distributionColumns+`
		FROM payouts.distributions
		WHERE asset_id = $1 AND type = $2 AND event_id = $3
	`, assetID, distType, eventID)
	dist, err := scanDistribution(row)
	if err != nil {
		return nil, mapError(err, "Distribution", fmt.Sprintf("%s/%s/%d", assetID, distType, eventID))
	}
	return dist, nil
}

func (d Datasource) GetDueDistributions(ctx context.Context, before time.Time, limit int) ([]model.Distribution, error) {
	ctx, span := otel.Tracer("Distribution").Start(ctx, "Fetching due distributions")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+distributionColumns+`
		FROM payouts.distributions
		WHERE status = $1 AND execution_date < $2
		ORDER BY execution_date ASC
		LIMIT $3
	`, model.DistributionStatusScheduled, before, limit)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve due distributions", err)
	}
	defer rows.Close()

	var distributions []model.Distribution
	for rows.Next() {
		dist, err := scanDistribution(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan distribution", err)
		}
		distributions = append(distributions, *dist)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over distributions", err)
	}
	return distributions, nil
}

func (d Datasource) UpdateDistributionStatus(ctx context.Context, id string, from, to model.DistributionStatus, updatedAt time.Time) error {
	ctx, span := otel.Tracer("Distribution").Start(ctx, "Updating distribution status")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payouts.distributions
		SET status = $3, updated_at = $4
		WHERE distribution_id = $1 AND status = $2
	`, id, from, to, updatedAt)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "Distribution", id)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if n == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Distribution '%s' is no longer %s", id, from), nil)
	}
	return nil
}
