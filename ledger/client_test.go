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

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/blnkfinance/payouts"
	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/model"
	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	gatewayURL   = "https://gateway.example.com/v1"
	tokenAddress = "0x52908400098527886E0F7030069857D2E4169EE7"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(gatewayURL, "test-key", 5*time.Second)
	require.NoError(t, err)
	client.retryInterval = time.Millisecond
	httpmock.ActivateNonDefault(client.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func testAsset() *model.Asset {
	return &model.Asset{ID: "asset_1", TokenAddress: tokenAddress, LifeCycleCashFlowAddress: "0x8617E340B3D01FA5F11F306F4090FD50E238070D"}
}

func TestNewClient(t *testing.T) {
	_, err := NewClient("", "key", time.Second)
	assert.Error(t, err)

	_, err = NewClient("not a url", "key", time.Second)
	assert.Error(t, err)

	client, err := NewClientFromConfig(config.LedgerConfig{Url: gatewayURL, ApiKey: "key"})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)

	collaborators := client.Collaborators()
	assert.Same(t, client, collaborators.Holders)
	assert.Same(t, client, collaborators.Executor)
	assert.Same(t, client, collaborators.Pause)
}

func TestGetHoldersCount(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet, gatewayURL+"/assets/"+tokenAddress+"/holders/count",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))
			assert.Equal(t, "7", req.URL.Query().Get("snapshot_id"))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]int{"count": 250})
		})

	dist := &model.Distribution{ID: "dist_1", Type: model.DistributionTypePayout, Payout: &model.PayoutDetails{SnapshotID: 7}}
	count, err := client.GetHoldersCount(context.Background(), dist, testAsset())
	require.NoError(t, err)
	assert.Equal(t, 250, count)
}

func TestGetHoldersCount_RetriesServerErrors(t *testing.T) {
	client := newTestClient(t)
	url := gatewayURL + "/assets/" + tokenAddress + "/holders/count"

	calls := 0
	httpmock.RegisterResponder(http.MethodGet, url, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return httpmock.NewStringResponse(http.StatusServiceUnavailable, "busy"), nil
		}
		return httpmock.NewJsonResponse(http.StatusOK, map[string]int{"count": 4})
	})

	dist := &model.Distribution{ID: "dist_1", Type: model.DistributionTypeCorporateAction, CorporateAction: &model.CorporateActionDetails{CorporateActionID: 1}}
	count, err := client.GetHoldersCount(context.Background(), dist, testAsset())
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.Equal(t, 3, calls)
}

func TestGetHoldersCount_ClientErrorIsNotRetried(t *testing.T) {
	client := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, gatewayURL+"/assets/"+tokenAddress+"/holders/count",
		httpmock.NewStringResponder(http.StatusNotFound, `{"error":"unknown token"}`))

	dist := &model.Distribution{ID: "dist_1", Type: model.DistributionTypeCorporateAction, CorporateAction: &model.CorporateActionDetails{CorporateActionID: 1}}
	_, err := client.GetHoldersCount(context.Background(), dist, testAsset())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown token")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestGetHoldersCount_GivesUpAfterRetries(t *testing.T) {
	client := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, gatewayURL+"/assets/"+tokenAddress+"/holders/count",
		httpmock.NewStringResponder(http.StatusBadGateway, "down"))

	dist := &model.Distribution{ID: "dist_1", Type: model.DistributionTypeCorporateAction, CorporateAction: &model.CorporateActionDetails{CorporateActionID: 1}}
	_, err := client.GetHoldersCount(context.Background(), dist, testAsset())
	require.Error(t, err)
	assert.Equal(t, readRetries+1, httpmock.GetTotalCallCount())
}

func TestCheckAssetPauseState(t *testing.T) {
	tests := []struct {
		name   string
		paused bool
	}{
		{"active", false},
		{"paused", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t)
			httpmock.RegisterResponder(http.MethodGet, gatewayURL+"/assets/"+tokenAddress+"/pause-state",
				httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]bool{"paused": tt.paused}))

			err := client.CheckAssetPauseState(context.Background(), testAsset())
			if !tt.paused {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, payouts.ErrAssetPaused))
		})
	}
}

func TestExecuteDistribution(t *testing.T) {
	client := newTestClient(t)

	var sent payouts.ExecutionRequest
	httpmock.RegisterResponder(http.MethodPost, gatewayURL+"/distributions/execute",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			if err := json.NewDecoder(req.Body).Decode(&sent); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{
				"executed": true,
				"results": [
					{"holder_account_id": "0.0.1001", "holder_evm_address": "0x0000000000000000000000000000000000000001", "success": true, "amount": "12.50"},
					{"holder_account_id": "0.0.1002", "holder_evm_address": "0x0000000000000000000000000000000000000002", "success": false, "error": "INSUFFICIENT_TOKEN_BALANCE"}
				]
			}`), nil
		})

	req := payouts.ExecutionRequest{
		ContractAddress: testAsset().LifeCycleCashFlowAddress,
		TokenAddress:    tokenAddress,
		EventID:         42,
		PageIndex:       3,
		PageSize:        100,
		Holders:         []string{"0.0.1001", "0.0.1002"},
	}
	result, err := client.ExecuteDistribution(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req, sent)

	assert.True(t, result.Executed)
	require.Len(t, result.Outcomes, 2)
	assert.True(t, result.Outcomes[0].Success)
	assert.True(t, result.Outcomes[0].Amount.Equal(decimal.RequireFromString("12.50")))
	assert.False(t, result.Outcomes[1].Success)
	assert.Equal(t, "INSUFFICIENT_TOKEN_BALANCE", result.Outcomes[1].Error)
}

func TestExecuteDistribution_IsNotRetried(t *testing.T) {
	client := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, gatewayURL+"/distributions/execute",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "node unavailable"))

	_, err := client.ExecuteDistribution(context.Background(), payouts.ExecutionRequest{EventID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestExecuteDistribution_RespectsContext(t *testing.T) {
	client := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, gatewayURL+"/distributions/execute",
		httpmock.NewStringResponder(http.StatusOK, `{"executed": true}`).Delay(200*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.ExecuteDistribution(ctx, payouts.ExecutionRequest{EventID: 1})
	require.Error(t, err)
}
