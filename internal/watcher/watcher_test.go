package watcher

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sniperdex "github.com/sniperdex/sniperdex"
)

var (
	weth    = common.HexToAddress("0x000000000000000000000000000000000000aa")
	factory = common.HexToAddress("0x000000000000000000000000000000000000bb")
	token   = common.HexToAddress("0x000000000000000000000000000000000000cc")
	pairAddr = common.HexToAddress("0x000000000000000000000000000000000000dd")
)

type fakeChain struct {
	logsByAddr map[common.Address][]types.Log
	reserves   map[common.Address][2]*big.Int
}

func (f *fakeChain) GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var out []types.Log
	for _, addr := range q.Addresses {
		out = append(out, f.logsByAddr[addr]...)
	}
	return out, nil
}

func (f *fakeChain) GetReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, uint32, error) {
	r, ok := f.reserves[pair]
	if !ok {
		return big.NewInt(0), big.NewInt(0), 0, nil
	}
	return r[0], r[1], 0, nil
}

func (f *fakeChain) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, nil
}

func pairCreatedLog(token0, token1, pair common.Address) types.Log {
	data := make([]byte, 64)
	copy(data[12:32], pair.Bytes())
	return types.Log{
		Topics: []common.Hash{pairCreatedTopic, common.BytesToHash(token0.Bytes()), common.BytesToHash(token1.Bytes())},
		Data:   data,
		Address: factory,
	}
}

func TestDiscoverNewPairs_KeepsOnlyWETHSide(t *testing.T) {
	fc := &fakeChain{
		logsByAddr: map[common.Address][]types.Log{
			factory: {
				pairCreatedLog(weth, token, pairAddr),
				pairCreatedLog(token, common.HexToAddress("0xee"), common.HexToAddress("0xff")), // no WETH side
			},
		},
		reserves: map[common.Address][2]*big.Int{
			pairAddr: {big.NewInt(5_000_000_000_000_000_000), big.NewInt(1_000_000_000_000_000_000)},
		},
	}
	w := New(fc, factory, weth, abi.ABI{}, abi.ABI{})

	pairs := w.discoverNewPairs(context.Background(), 100, 1700000000)
	require.Len(t, pairs, 1)
	assert.Equal(t, pairAddr, pairs[0].Address)
	assert.Equal(t, token, pairs[0].Token)
	assert.Equal(t, 1, pairs[0].TokenIndex) // token0 == weth -> non-weth side is token1
}

func TestHandleAck_BuySuccessAddsPair(t *testing.T) {
	fc := &fakeChain{
		reserves: map[common.Address][2]*big.Int{
			pairAddr: {big.NewInt(5_000_000_000_000_000_000), big.NewInt(1_000_000_000_000_000_000)},
		},
	}
	w := New(fc, factory, weth, abi.ABI{}, abi.ABI{})

	ack := sniperdex.ExecutionAck{
		IsBuy:  true,
		Status: sniperdex.TxSuccess,
		Pair:   sniperdex.Pair{Address: pairAddr, TokenIndex: 0},
	}
	w.HandleAck(context.Background(), ack)

	w.mu.Lock()
	_, tracked := w.inventory[pairAddr]
	w.mu.Unlock()
	assert.True(t, tracked)
}

func TestHandleAck_SellRemovesPairRegardlessOfStatus(t *testing.T) {
	fc := &fakeChain{}
	w := New(fc, factory, weth, abi.ABI{}, abi.ABI{})
	w.inventory[pairAddr] = sniperdex.Pair{Address: pairAddr}

	ack := sniperdex.ExecutionAck{
		IsBuy:  false,
		Status: sniperdex.TxFailed,
		Pair:   sniperdex.Pair{Address: pairAddr},
	}
	w.HandleAck(context.Background(), ack)

	w.mu.Lock()
	_, tracked := w.inventory[pairAddr]
	w.mu.Unlock()
	assert.False(t, tracked)
}

func TestHandleAck_BuySuccessIdempotentForSamePair(t *testing.T) {
	fc := &fakeChain{
		reserves: map[common.Address][2]*big.Int{
			pairAddr: {big.NewInt(5_000_000_000_000_000_000), big.NewInt(1_000_000_000_000_000_000)},
		},
	}
	w := New(fc, factory, weth, abi.ABI{}, abi.ABI{})

	ack := sniperdex.ExecutionAck{
		IsBuy:  true,
		Status: sniperdex.TxSuccess,
		Pair:   sniperdex.Pair{Address: pairAddr, TokenIndex: 0},
	}
	w.HandleAck(context.Background(), ack)
	w.HandleAck(context.Background(), ack)

	w.mu.Lock()
	count := len(w.inventory)
	w.mu.Unlock()
	assert.Equal(t, 1, count)
}
