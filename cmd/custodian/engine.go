package main

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/axiomesh/axiom-kit/log"
	"github.com/axiomesh/axiom-kit/storage"
	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/axiomesh/custodian"
	"github.com/axiomesh/custodian/core"
	"github.com/axiomesh/custodian/repo"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// openEngine loads the repo, sets up logging and storage and restores the
// approval engine. The returned storage must be closed by the caller.
func openEngine(ctx *cli.Context) (*core.Engine, storage.Storage, error) {
	p, err := getRootPath(ctx)
	if err != nil {
		return nil, nil, err
	}
	r, err := repo.Load(p)
	if err != nil {
		return nil, nil, err
	}
	if err := r.Config.Validate(); err != nil {
		return nil, nil, err
	}

	err = log.Initialize(
		log.WithReportCaller(r.Config.Log.ReportCaller),
		log.WithPersist(true),
		log.WithFilePath(r.LogsPath()),
		log.WithFileName(r.Config.Log.Filename),
		log.WithMaxAge(r.Config.Log.MaxAge),
		log.WithRotationTime(r.Config.Log.RotationTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("log initialize: %w", err)
	}
	logger := log.New()
	logger.SetLevel(log.ParseLevel(r.Config.Log.Level))

	owners, err := r.Config.OwnerAddresses()
	if err != nil {
		return nil, nil, err
	}

	db, err := leveldb.New(r.StoragePath())
	if err != nil {
		return nil, nil, errors.Wrap(err, "open storage")
	}

	engine, err := core.NewEngine(core.Config{
		Owners:           owners,
		ThresholdPercent: r.Config.Wallet.ThresholdPercent,
	},
		core.WithStorage(db),
		core.WithLogger(logger),
		core.WithEventSink(&core.LogSink{Logger: logger}),
		core.WithExecutor(&dialExecutor{config: r.Config.Executor, logger: logger}),
	)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("new engine error: %w", err)
	}
	return engine, db, nil
}

// dialExecutor connects to the chain on first use, so commands that never
// reach quorum do not need a node. Dialing and broadcasting are retried
// RetryLimit times; a dial that still fails is tried again on the next call.
type dialExecutor struct {
	config repo.Executor
	logger logrus.FieldLogger

	mu   sync.Mutex
	next *core.EthExecutor
}

func (d *dialExecutor) Execute(ctx context.Context, to common.Address, payload []byte, value *big.Int) error {
	next, err := d.connect(ctx)
	if err != nil {
		return err
	}
	return next.Execute(ctx, to, payload, value)
}

func (d *dialExecutor) connect(ctx context.Context) (*core.EthExecutor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.next != nil {
		return d.next, nil
	}
	if d.config.PrivateKey == "" {
		return nil, errors.New("executor private_key is not configured")
	}

	var client *ethclient.Client
	action := func(attempt uint) error {
		var err error
		client, err = ethclient.DialContext(ctx, d.config.DialUrl)
		return err
	}
	if err := retry.Retry(action, strategy.Limit(d.config.RetryLimit), strategy.Backoff(backoff.Fibonacci(d.config.RetryBackoff))); err != nil {
		return nil, errors.Wrapf(err, "dial %s", d.config.DialUrl)
	}

	next, err := core.NewEthExecutor(client, d.config.PrivateKey, d.config.GasLimit, d.logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	next.SendLimit = d.config.RetryLimit
	next.SendBackoff = d.config.RetryBackoff
	d.next = next
	return next, nil
}

func printVersion() {
	fmt.Printf("Custodian version: %s-%s-%s\n", custodian.CurrentVersion, custodian.CurrentBranch, custodian.CurrentCommit)
	fmt.Printf("App build date: %s\n", custodian.BuildDate)
	fmt.Printf("System version: %s\n", custodian.Platform)
	fmt.Printf("Golang version: %s\n", custodian.GoVersion)
	fmt.Println()
}
