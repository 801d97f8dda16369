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

// Package ledger talks to the ledger gateway: the service in front of the
// distributed ledger that counts token holders, reports whether an asset is
// paused and executes cash-flow payouts for a page of holders.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/blnkfinance/payouts"
	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/internal/request"
	"github.com/blnkfinance/payouts/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

// readRetries bounds retries of idempotent gateway reads. Execution calls are
// never retried here; the engine owns their retry policy.
const readRetries = 3

var tracer = otel.Tracer("payouts.ledger")

// Client is the HTTP implementation of the engine collaborators.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	// initial delay between read retries
	retryInterval time.Duration
}

type holdersCountResponse struct {
	Count int `json:"count"`
}

type pauseStateResponse struct {
	Paused bool `json:"paused"`
}

type executionResponse struct {
	Executed bool                    `json:"executed"`
	Results  []payouts.HolderOutcome `json:"results"`
}

// NewClient returns a gateway client. timeout bounds every HTTP request; the
// engine applies its own, usually tighter, deadline on execution calls.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("ledger gateway URL is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid ledger gateway URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:       baseURL,
		apiKey:        apiKey,
		httpClient:    &http.Client{Timeout: timeout},
		retryInterval: 200 * time.Millisecond,
	}, nil
}

// NewClientFromConfig builds a client from the ledger section of the configuration.
func NewClientFromConfig(cnf config.LedgerConfig) (*Client, error) {
	return NewClient(cnf.Url, cnf.ApiKey, time.Duration(cnf.TimeoutSec)*time.Second)
}

// Collaborators exposes the client as the three engine capabilities.
func (c *Client) Collaborators() payouts.Collaborators {
	return payouts.Collaborators{Holders: c, Executor: c, Pause: c}
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// getWithRetry performs an idempotent GET, retrying transport failures and
// retryable status codes with exponential backoff.
func (c *Client) getWithRetry(ctx context.Context, path string, query url.Values, response interface{}) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxElapsedTime = 0

	operation := func() error {
		req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		_, err = request.Call(c.httpClient, req, response)
		if err == nil {
			return nil
		}

		var statusErr *request.StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logrus.WithField("path", path).Warnf("ledger gateway read failed, retrying in %s: %v", wait, err)
	}
	return backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, readRetries), ctx), notify)
}

func assetPath(asset *model.Asset, suffix string) string {
	return "/assets/" + url.PathEscape(asset.TokenAddress) + suffix
}

// GetHoldersCount returns the number of holders paid by dist. Payouts are
// counted against their snapshot when one is set.
func (c *Client) GetHoldersCount(ctx context.Context, dist *model.Distribution, asset *model.Asset) (int, error) {
	ctx, span := tracer.Start(ctx, "GetHoldersCount")
	defer span.End()

	query := url.Values{}
	if dist.Payout != nil && dist.Payout.SnapshotID > 0 {
		query.Set("snapshot_id", strconv.FormatInt(dist.Payout.SnapshotID, 10))
	}

	var resp holdersCountResponse
	if err := c.getWithRetry(ctx, assetPath(asset, "/holders/count"), query, &resp); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count holders of asset %s: %w", asset.ID, err)
	}
	if resp.Count < 0 {
		return 0, fmt.Errorf("ledger gateway returned a negative holder count for asset %s", asset.ID)
	}
	return resp.Count, nil
}

// CheckAssetPauseState returns payouts.ErrAssetPaused when the token is paused.
func (c *Client) CheckAssetPauseState(ctx context.Context, asset *model.Asset) error {
	ctx, span := tracer.Start(ctx, "CheckAssetPauseState")
	defer span.End()

	var resp pauseStateResponse
	if err := c.getWithRetry(ctx, assetPath(asset, "/pause-state"), nil, &resp); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to read pause state of asset %s: %w", asset.ID, err)
	}
	if resp.Paused {
		return fmt.Errorf("token %s: %w", asset.TokenAddress, payouts.ErrAssetPaused)
	}
	return nil
}

// ExecuteDistribution submits one page, or the listed holders of one page,
// to the lifecycle cash-flow contract. A single attempt is made.
func (c *Client) ExecuteDistribution(ctx context.Context, execution payouts.ExecutionRequest) (*payouts.ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "ExecuteDistribution")
	defer span.End()

	body, err := request.ToJsonReq(execution)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/distributions/execute", nil, body)
	if err != nil {
		return nil, err
	}

	var resp executionResponse
	if _, err := request.Call(c.httpClient, req, &resp); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("execution of event %d page %d failed: %w", execution.EventID, execution.PageIndex, err)
	}

	logrus.WithFields(logrus.Fields{
		"contract_address": execution.ContractAddress,
		"event_id":         execution.EventID,
		"page_index":       execution.PageIndex,
		"outcomes":         len(resp.Results),
		"executed":         resp.Executed,
	}).Debug("ledger execution call finished")

	return &payouts.ExecutionResult{Outcomes: resp.Results, Executed: resp.Executed}, nil
}
