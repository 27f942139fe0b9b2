package core

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var _ Client = (*MockClient)(nil)

type MockClient struct {
	mu sync.Mutex

	chainID  *big.Int
	nonce    uint64
	gasPrice *big.Int
	sendErr  error
	sent     []*types.Transaction

	// lostAcks makes the next sends reach the node but report ackErr
	lostAcks int
	ackErr   error
}

func newMockClient() *MockClient {
	return &MockClient{
		chainID:  big.NewInt(1356),
		nonce:    7,
		gasPrice: big.NewInt(1000000000),
	}
}

func (mc *MockClient) ChainID(ctx context.Context) (*big.Int, error) {
	return mc.chainID, nil
}

func (mc *MockClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.nonce, nil
}

func (mc *MockClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return mc.gasPrice, nil
}

func (mc *MockClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.sendErr != nil {
		return mc.sendErr
	}
	mc.sent = append(mc.sent, tx)
	if tx.Nonce() == mc.nonce {
		mc.nonce++
	}
	if mc.lostAcks > 0 {
		mc.lostAcks--
		return mc.ackErr
	}
	return nil
}
