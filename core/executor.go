package core

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/axiomesh/axiom-kit/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Executor performs the real-world effect of a value-transfer proposal once
// quorum is reached. The engine calls it once per quorum crossing, any
// idempotency concern belongs to the implementation.
type Executor interface {
	Execute(ctx context.Context, to common.Address, payload []byte, value *big.Int) error
}

type ExecutorFunc func(ctx context.Context, to common.Address, payload []byte, value *big.Int) error

func (f ExecutorFunc) Execute(ctx context.Context, to common.Address, payload []byte, value *big.Int) error {
	return f(ctx, to, payload, value)
}

// EthExecutor signs a legacy transaction carrying value and payload with the
// custody key and broadcasts it through Client.
//
// The nonce is fetched and the transaction signed once per call. Only the
// broadcast of that signed transaction is retried, up to SendLimit times, so
// a send that reached the node before failing can never spend twice.
type EthExecutor struct {
	Client      Client
	Key         *ecdsa.PrivateKey
	GasLimit    uint64
	SendLimit   uint
	SendBackoff time.Duration
	Logger      logrus.FieldLogger
}

func NewEthExecutor(client Client, hexKey string, gasLimit uint64, logger logrus.FieldLogger) (*EthExecutor, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "parse custody key")
	}
	if logger == nil {
		logger = log.New()
	}
	return &EthExecutor{
		Client:   client,
		Key:      key,
		GasLimit: gasLimit,
		Logger:   logger,
	}, nil
}

// From returns the custody account the executor spends from.
func (e *EthExecutor) From() common.Address {
	return crypto.PubkeyToAddress(e.Key.PublicKey)
}

func (e *EthExecutor) Execute(ctx context.Context, to common.Address, payload []byte, value *big.Int) error {
	signed, err := e.sign(ctx, to, payload, value)
	if err != nil {
		return err
	}

	logger := orDefault(e.Logger).WithFields(logrus.Fields{
		"hash":  signed.Hash().Hex(),
		"to":    to.Hex(),
		"nonce": signed.Nonce(),
	})
	err = retryCall(ctx, e.SendLimit, e.SendBackoff, logger, func() error {
		return e.Client.SendTransaction(ctx, signed)
	})
	if err != nil {
		return errors.Wrapf(err, "send transaction %s", signed.Hash().Hex())
	}

	logger.Info("transaction sent")
	return nil
}

func (e *EthExecutor) sign(ctx context.Context, to common.Address, payload []byte, value *big.Int) (*types.Transaction, error) {
	chainID, err := e.Client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get chain id")
	}

	nonce, err := e.Client.PendingNonceAt(ctx, e.From())
	if err != nil {
		return nil, errors.Wrap(err, "get pending nonce")
	}

	gasPrice, err := e.Client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "suggest gas price")
	}

	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      e.GasLimit,
		To:       &to,
		Value:    value,
		Data:     common.CopyBytes(payload),
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), e.Key)
	if err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}
	return signed, nil
}

// RetryExecutor retries the wrapped executor with a Fibonacci backoff. It
// stops early when the context is done. Next is run again in full after a
// failure, so it must not have spent anything when it returns an error;
// EthExecutor retries its own broadcast instead.
type RetryExecutor struct {
	Next    Executor
	Limit   uint
	Backoff time.Duration
	Logger  logrus.FieldLogger
}

func (r *RetryExecutor) Execute(ctx context.Context, to common.Address, payload []byte, value *big.Int) error {
	return retryCall(ctx, r.Limit, r.Backoff, orDefault(r.Logger), func() error {
		return r.Next.Execute(ctx, to, payload, value)
	})
}

// retryCall runs fn up to limit times (at least once) with a Fibonacci
// backoff between attempts.
func retryCall(ctx context.Context, limit uint, delay time.Duration, logger logrus.FieldLogger, fn func() error) error {
	if limit == 0 {
		limit = 1
	}

	var attempts uint
	action := func(uint) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++
		err := fn()
		if err != nil && attempts < limit {
			logger.WithField("attempt", attempts).Warnf("execute action error: %s", err)
		}
		return err
	}

	return retry.Retry(action, strategy.Limit(limit), strategy.Backoff(backoff.Fibonacci(delay)))
}

func orDefault(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger == nil {
		return log.New()
	}
	return logger
}
