package payouts

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/payouts/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testTokenAddress = "0x52908400098527886E0F7030069857D2E4169EE7"
	testCashFlow     = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type ledgerHolder struct {
	account string
	evm     string
}

func testHolders(n int) []ledgerHolder {
	holders := make([]ledgerHolder, n)
	for i := range holders {
		holders[i] = ledgerHolder{
			account: fmt.Sprintf("0.0.%d", 1000+i),
			evm:     fmt.Sprintf("0x%040x", i+1),
		}
	}
	return holders
}

// fakeLedger implements the three collaborators over a fixed holder list.
type fakeLedger struct {
	mu       sync.Mutex
	holders  []ledgerHolder
	count    *int
	countErr error
	pauseErr error

	// reject returns a failure reason for the given attempt (1-based) of an
	// account, or "" to pay it
	reject func(account string, attempt int) string
	// callErr fails whole calls
	callErr func(req ExecutionRequest) error
	// omit drops accounts from the results
	omit    map[string]bool
	block   bool
	delay   time.Duration
	partial int
	// gate, when set, parks every call until it is closed; each parked call
	// is announced on entered
	gate    chan struct{}
	entered chan struct{}

	attempts  map[string]int
	requests  []ExecutionRequest
	active    int
	maxActive int
}

func newFakeLedger(holders int) *fakeLedger {
	return &fakeLedger{holders: testHolders(holders), attempts: map[string]int{}, omit: map[string]bool{}}
}

func (f *fakeLedger) GetHoldersCount(_ context.Context, _ *model.Distribution, _ *model.Asset) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	if f.count != nil {
		return *f.count, nil
	}
	return len(f.holders), nil
}

func (f *fakeLedger) CheckAssetPauseState(_ context.Context, _ *model.Asset) error {
	return f.pauseErr
}

func (f *fakeLedger) ExecuteDistribution(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.gate != nil {
		f.entered <- struct{}{}
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.callErr != nil {
		if err := f.callErr(req); err != nil {
			return nil, err
		}
	}

	start := req.PageIndex * req.PageSize
	end := start + req.PageSize
	if end > len(f.holders) {
		end = len(f.holders)
	}
	var page []ledgerHolder
	if start < end {
		page = f.holders[start:end]
	}

	wanted := map[string]bool{}
	for _, account := range req.Holders {
		wanted[account] = true
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	result := &ExecutionResult{Executed: len(req.Holders) == 0}
	for _, h := range page {
		if len(wanted) > 0 && !wanted[h.account] {
			continue
		}
		if f.omit[h.account] {
			continue
		}
		if f.partial > 0 && len(result.Outcomes) == f.partial {
			result.Executed = false
			break
		}
		f.attempts[h.account]++
		outcome := HolderOutcome{HolderAccountID: h.account, HolderEvmAddress: h.evm}
		if f.reject != nil {
			outcome.Error = f.reject(h.account, f.attempts[h.account])
		}
		if outcome.Error == "" {
			outcome.Success = true
			outcome.Amount = decimal.RequireFromString("12.50")
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

func (f *fakeLedger) collaborators() Collaborators {
	return Collaborators{Holders: f, Executor: f, Pause: f}
}

func (f *fakeLedger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeLedger) attemptsOf(account string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[account]
}

type scheduledPass struct {
	batchID string
	at      time.Time
}

// fakeQueue records everything the engine schedules.
type fakeQueue struct {
	mu         sync.Mutex
	dispatches []string
	passes     []scheduledPass
	webhooks   []NewWebhook
	err        error
}

func (q *fakeQueue) EnqueueDispatch(_ context.Context, distributionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.dispatches = append(q.dispatches, distributionID)
	return nil
}

func (q *fakeQueue) EnqueueBatchRetry(_ context.Context, batchPayoutID string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.passes = append(q.passes, scheduledPass{batchID: batchPayoutID, at: at})
	return nil
}

func (q *fakeQueue) EnqueueWebhook(_ context.Context, hook NewWebhook) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.webhooks = append(q.webhooks, hook)
	return nil
}

func (q *fakeQueue) events() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := make([]string, 0, len(q.webhooks))
	for _, hook := range q.webhooks {
		events = append(events, hook.Event)
	}
	return events
}

func (q *fakeQueue) lastPass() (scheduledPass, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.passes) == 0 {
		return scheduledPass{}, false
	}
	return q.passes[len(q.passes)-1], true
}

func testOptions() Options {
	return Options{
		PageSize:         100,
		MaxConcurrency:   4,
		ExecutionTimeout: time.Second,
		LockTimeout:      10 * time.Second,
		AssetCacheTTL:    time.Minute,
		Retry: model.RetryPolicy{
			MaxRetries:      3,
			InitialInterval: time.Minute,
			MaxInterval:     10 * time.Minute,
			Multiplier:      2,
		},
	}
}

type testEnv struct {
	engine *Engine
	store  *memStore
	ledger *fakeLedger
	queue  *fakeQueue
	clock  *testClock
	mr     *miniredis.Miniredis
	redis  redis.UniversalClient
}

func newTestEnv(t *testing.T, ledger *fakeLedger, opts Options, options ...EngineOption) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		store:  newMemStore(),
		ledger: ledger,
		queue:  &fakeQueue{},
		clock:  newTestClock(),
		mr:     mr,
		redis:  client,
	}
	options = append([]EngineOption{WithQueue(env.queue), WithClock(env.clock.Now)}, options...)
	env.engine, err = NewEngine(env.store, client, ledger.collaborators(), opts, options...)
	require.NoError(t, err)
	t.Cleanup(env.engine.Close)
	return env
}

func (env *testEnv) createAsset(t *testing.T) *model.Asset {
	t.Helper()
	asset, err := env.engine.CreateAsset(context.Background(), model.Asset{
		Name:                     gofakeit.Company(),
		Symbol:                   "BND",
		LedgerTokenID:            "0.0.4821",
		TokenAddress:             testTokenAddress,
		LifeCycleCashFlowAddress: testCashFlow,
	})
	require.NoError(t, err)
	return asset
}

func (env *testEnv) createCorporateAction(t *testing.T, assetID string, executionDate time.Time) *model.Distribution {
	t.Helper()
	dist, err := env.engine.CreateCorporateActionDistribution(context.Background(), assetID, model.CorporateActionDetails{
		CorporateActionID: int64(gofakeit.Number(1, 1_000_000)),
		ExecutionDate:     executionDate,
	})
	require.NoError(t, err)
	return dist
}

func (env *testEnv) createPayout(t *testing.T, assetID string, subtype model.PayoutSubtype, executeAt time.Time) *model.Distribution {
	t.Helper()
	details := model.PayoutDetails{
		Subtype:    subtype,
		PayoutID:   int64(gofakeit.Number(1, 1_000_000)),
		ExecuteAt:  executeAt,
		Amount:     decimal.RequireFromString("2.5"),
		AmountType: model.AmountTypePercentage,
		SnapshotID: 7,
		Concept:    "Q1 coupon",
	}
	if subtype == model.PayoutSubtypeRecurring {
		recurrency := "MONTHLY"
		details.Recurrency = &recurrency
	}
	dist, err := env.engine.CreatePayoutDistribution(context.Background(), assetID, details)
	require.NoError(t, err)
	return dist
}

func (env *testEnv) distribution(t *testing.T, id string) *model.Distribution {
	t.Helper()
	dist, err := env.store.GetDistributionByID(context.Background(), id)
	require.NoError(t, err)
	return dist
}

func (env *testEnv) batches(t *testing.T, distributionID string) []model.BatchPayout {
	t.Helper()
	batches, err := env.store.GetBatchPayoutsByDistribution(context.Background(), distributionID)
	require.NoError(t, err)
	return batches
}

// settle advances the clock past every pending retry and executes the batch
// until it leaves IN_PROGRESS.
func (env *testEnv) settle(t *testing.T, batchID string) *model.BatchPayout {
	t.Helper()
	for i := 0; i < 10; i++ {
		env.clock.Advance(time.Hour)
		batch, err := env.engine.ExecuteBatch(context.Background(), batchID)
		require.NoError(t, err)
		if batch.Status != model.BatchStatusInProgress {
			return batch
		}
	}
	t.Fatalf("batch %s did not settle", batchID)
	return nil
}
