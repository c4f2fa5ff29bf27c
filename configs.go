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
	"time"

	"github.com/couchbaselabs/gocbcore-txcoord/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config specifies various tunable options related to transactions.
type Config struct {
	// ExpirationTime sets the maximum time that transactions created
	// by this Transactions object can run for, before expiring.
	ExpirationTime time.Duration `yaml:"expirationTime"`

	// DurabilityLevel specifies the durability level that should be used
	// for all write operations performed by this Transactions object.
	DurabilityLevel store.DurabilityLevel `yaml:"durabilityLevel"`

	// KeyValueTimeout specifies the default timeout used for all KV writes.
	KeyValueTimeout time.Duration `yaml:"keyValueTimeout"`

	// MaxAttempts caps the number of attempts of one transaction.  Zero
	// retries until the transaction expires.
	MaxAttempts int `yaml:"maxAttempts"`

	// EntryPoints declares the propagation requirement of named entry
	// points.  Undeclared entry points use PropagationDefault.
	EntryPoints map[string]Propagation `yaml:"entryPoints"`

	// Store runs the attempts.  It is required.
	Store store.Store `yaml:"-"`

	// Logger defaults to a no-op logger.
	Logger *zap.Logger `yaml:"-"`
}

// PerTransactionConfig specifies options which can be overriden on a per
// transaction basis.
type PerTransactionConfig struct {
	// Propagation declares how this call participates in an active
	// transaction.
	Propagation Propagation

	// ExpirationTime sets the maximum time that this transaction will
	// run for, before expiring.
	ExpirationTime time.Duration

	// DurabilityLevel specifies the durability level that should be used
	// for all write operations performed by this transaction.
	DurabilityLevel store.DurabilityLevel

	// KeyValueTimeout specifies the default timeout used for all KV writes.
	KeyValueTimeout time.Duration

	// MaxAttempts caps the number of attempts of this transaction.
	MaxAttempts int
}

// LoadConfig decodes a YAML configuration.  Store and Logger must be set by
// the caller afterwards.
func LoadConfig(data []byte) (*Config, error) {
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "could not decode transactions config")
	}

	if config.ExpirationTime < 0 || config.KeyValueTimeout < 0 {
		return nil, errors.New("timeouts cannot be negative")
	}
	if config.MaxAttempts < 0 {
		return nil, errors.New("maxAttempts cannot be negative")
	}

	return config, nil
}

// LoadConfigFile reads and decodes a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", path)
	}

	return LoadConfig(data)
}
