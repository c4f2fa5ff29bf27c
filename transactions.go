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
	"context"
	"sync/atomic"
	"time"

	"github.com/couchbaselabs/gocbcore-txcoord/store"
	"github.com/sourcenetwork/immutable"
	"go.uber.org/zap"
)

// Transactions is the top level entry point for running transactions.
type Transactions struct {
	config Config
	store  store.Store
	logger *zap.Logger
	closed atomic.Bool

	syncBinder  ExecutionBinder
	asyncBinder ContextBinder
}

// Init will initialize the transactions library and return a Transactions
// object which can be used to run transactions.
func Init(config *Config) (*Transactions, error) {
	defaultConfig := &Config{
		ExpirationTime:  15000 * time.Millisecond,
		DurabilityLevel: store.DurabilityLevelMajority,
		KeyValueTimeout: 2500 * time.Millisecond,
	}

	if config == nil || config.Store == nil {
		return nil, ErrNoStore
	}

	cfg := *config
	if cfg.ExpirationTime == 0 {
		cfg.ExpirationTime = defaultConfig.ExpirationTime
	}
	if cfg.DurabilityLevel == store.DurabilityLevelUnknown {
		cfg.DurabilityLevel = defaultConfig.DurabilityLevel
	}
	if cfg.KeyValueTimeout == 0 {
		cfg.KeyValueTimeout = defaultConfig.KeyValueTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	entryPoints := make(map[string]Propagation, len(cfg.EntryPoints))
	for name, p := range cfg.EntryPoints {
		entryPoints[name] = p
	}
	cfg.EntryPoints = entryPoints

	return &Transactions{
		config: cfg,
		store:  cfg.Store,
		logger: cfg.Logger.Named("transactions"),
	}, nil
}

// Config returns the config that was used during the initialization
// of this Transactions object.
func (t *Transactions) Config() Config {
	return t.config
}

// EntryPoint returns the per transaction config declared for the named
// entry point.
func (t *Transactions) EntryPoint(name string) *PerTransactionConfig {
	return &PerTransactionConfig{
		Propagation: t.config.EntryPoints[name],
	}
}

// Current returns the holder of the attempt bound to ctx, if any.
func (t *Transactions) Current(ctx context.Context) immutable.Option[*ResourceHolder] {
	return CurrentAttempt(ctx)
}

// Close will shut down this Transactions object.  Transactions already
// running are not affected.
func (t *Transactions) Close() error {
	t.closed.Store(true)
	return nil
}

func (t *Transactions) attemptOptions(perConfig *PerTransactionConfig) (Propagation, store.AttemptOptions) {
	opts := store.AttemptOptions{
		ExpirationTime:  t.config.ExpirationTime,
		KeyValueTimeout: t.config.KeyValueTimeout,
		DurabilityLevel: t.config.DurabilityLevel,
		MaxAttempts:     t.config.MaxAttempts,
	}
	propagation := PropagationDefault

	if perConfig != nil {
		propagation = perConfig.Propagation
		if perConfig.ExpirationTime != 0 {
			opts.ExpirationTime = perConfig.ExpirationTime
		}
		if perConfig.DurabilityLevel != store.DurabilityLevelUnknown {
			opts.DurabilityLevel = perConfig.DurabilityLevel
		}
		if perConfig.KeyValueTimeout != 0 {
			opts.KeyValueTimeout = perConfig.KeyValueTimeout
		}
		if perConfig.MaxAttempts != 0 {
			opts.MaxAttempts = perConfig.MaxAttempts
		}
	}

	return propagation, opts
}
