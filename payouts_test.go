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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsAreValid(t *testing.T) {
	assert.NoError(t, DefaultOptions().validate())
	assert.NoError(t, testOptions().validate())
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(o *Options)
		err    string
	}{
		{"page size", func(o *Options) { o.PageSize = 0 }, "page size must be at least 1"},
		{"concurrency", func(o *Options) { o.MaxConcurrency = 0 }, "max concurrency must be at least 1"},
		{"execution timeout", func(o *Options) { o.ExecutionTimeout = 0 }, "execution timeout must be positive"},
		{"lock timeout", func(o *Options) { o.LockTimeout = o.ExecutionTimeout }, "lock timeout must be greater than the execution timeout"},
		{"retries", func(o *Options) { o.Retry.MaxRetries = 0 }, "retry policy needs at least one attempt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			err := opts.validate()
			require.Error(t, err)
			assert.Equal(t, tt.err, err.Error())
		})
	}
}

func TestNewEngine_Validation(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ledger := newFakeLedger(1)

	_, err = NewEngine(nil, client, ledger.collaborators(), testOptions())
	assert.EqualError(t, err, "datasource is required")

	_, err = NewEngine(newMemStore(), nil, ledger.collaborators(), testOptions())
	assert.EqualError(t, err, "redis client is required")

	_, err = NewEngine(newMemStore(), client, Collaborators{Executor: ledger, Pause: ledger}, testOptions())
	assert.EqualError(t, err, "holder counter is required")

	opts := testOptions()
	opts.PageSize = 0
	_, err = NewEngine(newMemStore(), client, ledger.collaborators(), opts)
	assert.Error(t, err)
}

func TestNewEngine_DefaultClockIsUTC(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ledger := newFakeLedger(1)

	engine, err := NewEngine(newMemStore(), client, ledger.collaborators(), testOptions())
	require.NoError(t, err)
	defer engine.Close()

	assert.Equal(t, time.UTC, engine.now().Location())
	assert.Equal(t, testOptions(), engine.Options())
}
