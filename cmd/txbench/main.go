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

// Command txbench runs concurrent account transfers through the transaction
// coordination layer and checks that no money was created or lost.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gocb "github.com/couchbase/gocb/v2"
	transactions "github.com/couchbaselabs/gocbcore-txcoord"
	"github.com/couchbaselabs/gocbcore-txcoord/kvstore"
	"github.com/couchbaselabs/gocbcore-txcoord/memstore"
	"github.com/couchbaselabs/gocbcore-txcoord/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	configPath string
	accounts   int
	workers    int
	transfers  int
	async      bool
	verbose    bool

	connStr  string
	bucket   string
	username string
	password string
}

type account struct {
	Owner   string `json:"owner"`
	Balance int    `json:"balance"`
}

const initialBalance = 100

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "txbench",
		Short: "Run concurrent transfers inside transactions",
		Long: `Run concurrent transfers between accounts, each inside a transaction,
then check the total balance is unchanged.

Example:
  txbench --accounts 10 --workers 8 --transfers 1000
  txbench --config txn.yaml --async --verbose
  txbench --connstr couchbase://localhost --username Administrator --password password`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to a YAML transactions config")
	cmd.Flags().IntVar(&opts.accounts, "accounts", 10, "number of accounts")
	cmd.Flags().IntVar(&opts.workers, "workers", 4, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.transfers, "transfers", 200, "number of transfers per worker")
	cmd.Flags().BoolVar(&opts.async, "async", false, "use the asynchronous entry point")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVar(&opts.connStr, "connstr", "", "run against a Couchbase cluster instead of in memory")
	cmd.Flags().StringVar(&opts.bucket, "bucket", "default", "bucket used with --connstr")
	cmd.Flags().StringVar(&opts.username, "username", "", "cluster username")
	cmd.Flags().StringVar(&opts.password, "password", "", "cluster password")

	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// bank is the store the benchmark seeds and audits outside of transactions.
type bank interface {
	seed(id string, balance int) error
	balance(id string) (int, error)
	store() store.Store
	close()
}

func run(ctx context.Context, opts *options) error {
	if opts.accounts < 2 {
		return errors.New("at least two accounts are needed")
	}

	logger, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	config := &transactions.Config{}
	if opts.configPath != "" {
		config, err = transactions.LoadConfigFile(opts.configPath)
		if err != nil {
			return err
		}
	}

	b, err := openBank(opts, logger)
	if err != nil {
		return err
	}
	defer b.close()

	config.Store = b.store()
	config.Logger = logger
	txns, err := transactions.Init(config)
	if err != nil {
		return err
	}
	defer func() {
		_ = txns.Close()
	}()

	for i := 0; i < opts.accounts; i++ {
		if err := b.seed(accountID(i), initialBalance); err != nil {
			return err
		}
	}

	var committed, failed, attempts atomic.Int64
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < opts.workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < opts.transfers; i++ {
				from := rng.Intn(opts.accounts)
				to := (from + 1 + rng.Intn(opts.accounts-1)) % opts.accounts
				amount := 1 + rng.Intn(10)

				res, err := runTransfer(ctx, txns, opts.async, accountID(from), accountID(to), amount)
				if err != nil {
					failed.Add(1)
					logger.Debug("transfer failed",
						zap.Stringer("kind", transactions.ErrorKindOf(err)),
						zap.Error(err))
					continue
				}
				committed.Add(1)
				attempts.Add(int64(res.StoreAttempts))
			}
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := 0
	for i := 0; i < opts.accounts; i++ {
		balance, err := b.balance(accountID(i))
		if err != nil {
			return err
		}
		total += balance
	}

	logger.Info("benchmark complete",
		zap.Int64("committed", committed.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Int64("attempts", attempts.Load()),
		zap.Duration("elapsed", elapsed),
		zap.Int("total", total))

	if want := opts.accounts * initialBalance; total != want {
		return fmt.Errorf("balance invariant violated: total is %d, expected %d", total, want)
	}
	return nil
}

func accountID(i int) string {
	return "account-" + strconv.Itoa(i)
}

// Accounts live in the default collection so the cluster bank can audit them
// through the default collection of the bucket.
func accountKey(id string) store.LogicalKey {
	return store.LogicalKey{ID: id}
}

// transfer moves amount between two accounts inside ac.  Overdrawing is an
// application error, which rolls the transaction back.
func transfer(ctx context.Context, ac *transactions.AttemptContext, from, to string, amount int) error {
	fromDoc, err := ac.Get(ctx, accountKey(from), nil)
	if err != nil {
		return err
	}
	toDoc, err := ac.Get(ctx, accountKey(to), nil)
	if err != nil {
		return err
	}

	var fromAcct, toAcct account
	if err := fromDoc.Content(&fromAcct); err != nil {
		return err
	}
	if err := toDoc.Content(&toAcct); err != nil {
		return err
	}

	if fromAcct.Balance < amount {
		return fmt.Errorf("%s has insufficient funds", from)
	}
	fromAcct.Balance -= amount
	toAcct.Balance += amount

	if _, err := ac.Replace(ctx, fromDoc, fromAcct, nil); err != nil {
		return err
	}
	_, err = ac.Replace(ctx, toDoc, toAcct, nil)
	return err
}

func runTransfer(ctx context.Context, txns *transactions.Transactions, async bool, from, to string, amount int) (*transactions.Result, error) {
	if !async {
		return txns.Run(ctx, txns.EntryPoint("transfer"), func(ctx context.Context, ac *transactions.AttemptContext) error {
			return transfer(ctx, ac, from, to, amount)
		})
	}

	type outcome struct {
		res *transactions.Result
		err error
	}
	waitCh := make(chan outcome, 1)
	err := txns.RunAsync(ctx, txns.EntryPoint("transfer"),
		func(ctx context.Context, ac *transactions.AttemptContext, done func(error)) {
			done(transfer(ctx, ac, from, to, amount))
		},
		func(res *transactions.Result, err error) {
			waitCh <- outcome{res, err}
		})
	if err != nil {
		return nil, err
	}

	out := <-waitCh
	return out.res, out.err
}

type memBank struct {
	s *memstore.Store
}

func (b *memBank) seed(id string, balance int) error {
	_, err := b.s.Upsert(accountKey(id), account{Owner: id, Balance: balance})
	return err
}

func (b *memBank) balance(id string) (int, error) {
	body, _, err := b.s.Fetch(accountKey(id))
	if err != nil {
		return 0, err
	}
	var acct account
	if err := json.Unmarshal(body, &acct); err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (b *memBank) store() store.Store {
	return b.s
}

func (b *memBank) close() {}

type clusterBank struct {
	cluster    *gocb.Cluster
	collection *gocb.Collection
	s          *kvstore.Store
}

func (b *clusterBank) seed(id string, balance int) error {
	_, err := b.collection.Upsert(id, account{Owner: id, Balance: balance}, nil)
	return err
}

func (b *clusterBank) balance(id string) (int, error) {
	res, err := b.collection.Get(id, nil)
	if err != nil {
		return 0, err
	}
	var acct account
	if err := res.Content(&acct); err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (b *clusterBank) store() store.Store {
	return b.s
}

func (b *clusterBank) close() {
	_ = b.cluster.Close(nil)
}

func openBank(opts *options, logger *zap.Logger) (bank, error) {
	if opts.connStr == "" {
		return &memBank{s: memstore.New(&memstore.Config{Logger: logger})}, nil
	}

	cluster, err := gocb.Connect(opts.connStr, gocb.ClusterOptions{
		Username: opts.username,
		Password: opts.password,
	})
	if err != nil {
		return nil, err
	}

	bucket := cluster.Bucket(opts.bucket)
	if err := bucket.WaitUntilReady(10*time.Second, nil); err != nil {
		_ = cluster.Close(nil)
		return nil, err
	}

	agent, err := bucket.Internal().IORouter()
	if err != nil {
		_ = cluster.Close(nil)
		return nil, err
	}

	s, err := kvstore.New(&kvstore.Config{Agent: agent, Logger: logger})
	if err != nil {
		_ = cluster.Close(nil)
		return nil, err
	}

	return &clusterBank{
		cluster:    cluster,
		collection: bucket.DefaultCollection(),
		s:          s,
	}, nil
}
