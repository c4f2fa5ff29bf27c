// Copyright 2021 Couchbase
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transactions

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchbaselabs/gocbcore-txcoord/memstore"
	"github.com/couchbaselabs/gocbcore-txcoord/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
expirationTime: 30s
keyValueTimeout: 1500ms
durabilityLevel: PERSIST_TO_MAJORITY
maxAttempts: 7
entryPoints:
  transfer: MANDATORY
  audit: NEVER
`

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig([]byte(testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, config.ExpirationTime)
	assert.Equal(t, 1500*time.Millisecond, config.KeyValueTimeout)
	assert.Equal(t, store.DurabilityLevelPersistToMajority, config.DurabilityLevel)
	assert.Equal(t, 7, config.MaxAttempts)
	assert.Equal(t, map[string]Propagation{
		"transfer": PropagationMandatory,
		"audit":    PropagationNever,
	}, config.EntryPoints)
	assert.Nil(t, config.Store)
	assert.Nil(t, config.Logger)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	invalid := map[string]string{
		"propagation":    "entryPoints:\n  transfer: SOMETIMES\n",
		"durability":     "durabilityLevel: ALWAYS\n",
		"negative":       "expirationTime: -1s\n",
		"negative retry": "maxAttempts: -2\n",
		"duration":       "keyValueTimeout: soon\n",
	}

	for name, doc := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o600))

	config, err := LoadConfigFile(path)
	require.NoError(t, err)

	config.Store = memstore.New(nil)
	txns, err := Init(config)
	require.NoError(t, err)

	assert.Equal(t, PropagationMandatory, txns.EntryPoint("transfer").Propagation)
	assert.Equal(t, PropagationDefault, txns.EntryPoint("undeclared").Propagation)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestAttemptOptionsOverride(t *testing.T) {
	txns, _ := newTestTransactions(t, nil)

	propagation, opts := txns.attemptOptions(nil)
	assert.Equal(t, PropagationDefault, propagation)
	assert.Equal(t, 5*time.Second, opts.ExpirationTime)
	assert.Equal(t, store.DurabilityLevelMajority, opts.DurabilityLevel)

	propagation, opts = txns.attemptOptions(&PerTransactionConfig{
		Propagation:     PropagationSupports,
		ExpirationTime:  time.Second,
		DurabilityLevel: store.DurabilityLevelNone,
		MaxAttempts:     2,
	})
	assert.Equal(t, PropagationSupports, propagation)
	assert.Equal(t, time.Second, opts.ExpirationTime)
	assert.Equal(t, store.DurabilityLevelNone, opts.DurabilityLevel)
	assert.Equal(t, 2, opts.MaxAttempts)
	assert.Equal(t, 2500*time.Millisecond, opts.KeyValueTimeout)
}
