package executor

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sniperdex/sniperdex/internal/db"
)

const testFactoryABIJSON = `[
	{"type":"function","name":"createBot","stateMutability":"nonpayable","inputs":[
		{"name":"impl","type":"address"},
		{"name":"salt","type":"bytes32"},
		{"name":"owner","type":"address"},
		{"name":"router","type":"address"},
		{"name":"pairFactory","type":"address"},
		{"name":"weth","type":"address"}
	],"outputs":[]}
]`

func testFactoryABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(testFactoryABIJSON))
	require.NoError(t, err)
	return parsed
}

type recordingBotStore struct {
	available *db.BotRecord
	findErr   error
	upserted  []db.BotRecord
}

func (s *recordingBotStore) FindAvailableBot(owner string, maxUsed int) (*db.BotRecord, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.available, nil
}

func (s *recordingBotStore) UpsertBot(rec db.BotRecord) error {
	s.upserted = append(s.upserted, rec)
	return nil
}

func newTestBotFactory(t *testing.T, chain ChainSender, store BotStore, retrySleep time.Duration) (*BotFactory, common.Address, string) {
	managerAddr, managerKey := testPrivateKeyHex(t)
	factoryAddr := common.HexToAddress("0xfactory")
	cfg := BotFactoryConfig{
		Factory:      factoryAddr,
		FactoryABI:   testFactoryABI(t),
		Impl:         common.HexToAddress("0ximpl"),
		Router:       common.HexToAddress("0xrouter"),
		PairFactory:  common.HexToAddress("0xpairfactory"),
		WETH:         common.HexToAddress("0xweth"),
		GasLimit:     100000,
		GasPriceGwei: decimal.NewFromInt(1),
		MaxUsed:      5,
		RetrySleep:   retrySleep,
	}
	return NewBotFactory(chain, store, managerAddr, managerKey, cfg), factoryAddr, managerKey
}

func TestBotFactory_HandleReturnsAvailableDBBotWithoutChainCall(t *testing.T) {
	owner := common.HexToAddress("0xowner")
	available := &db.BotRecord{Address: "0xbeef000000000000000000000000000000beef", Owner: owner.Hex(), DeployedAt: time.Unix(1700000000, 0)}
	store := &recordingBotStore{available: available}
	chain := &fakeChainSender{}
	f, _, _ := newTestBotFactory(t, chain, store, time.Second)

	f.handle(context.Background(), BotCreationOrder{Owner: owner})

	select {
	case bot := <-f.Results():
		assert.Equal(t, common.HexToAddress(available.Address), bot.Address)
	default:
		t.Fatal("expected a bot on the results channel")
	}
	assert.Empty(t, store.upserted)
}

func TestBotFactory_HandleCreatesOnChainWhenNoDBBot(t *testing.T) {
	owner := common.HexToAddress("0xowner")
	store := &recordingBotStore{}
	chain := &fakeChainSender{}
	f, factoryAddr, _ := newTestBotFactory(t, chain, store, time.Second)

	// Wire a BotCreated log so decodeBotCreated can find the new bot address.
	chain.receiptOverride = func() *types.Receipt {
		data := make([]byte, 64)
		botAddr := common.HexToAddress("0xdeadbeef")
		copy(data[44:64], botAddr.Bytes())
		return &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(200),
			Logs: []*types.Log{
				{Address: factoryAddr, Topics: []common.Hash{botCreatedTopic}, Data: data},
			},
		}
	}

	f.handle(context.Background(), BotCreationOrder{Owner: owner})

	select {
	case bot := <-f.Results():
		assert.Equal(t, common.HexToAddress("0xdeadbeef"), bot.Address)
		assert.Equal(t, owner, bot.Owner)
	default:
		t.Fatal("expected a bot on the results channel")
	}
	require.Len(t, store.upserted, 1)
	assert.Equal(t, owner.Hex(), store.upserted[0].Owner)
}

func TestBotFactory_HandleRetriesOnSendFailure(t *testing.T) {
	owner := common.HexToAddress("0xowner")
	store := &recordingBotStore{}
	chain := &fakeChainSender{sendErr: errors.New("rpc unavailable")}
	f, _, _ := newTestBotFactory(t, chain, store, 10*time.Millisecond)

	f.handle(context.Background(), BotCreationOrder{Owner: owner})

	select {
	case order := <-f.orders:
		assert.Equal(t, owner, order.Owner)
		assert.Equal(t, 1, order.RetryTimes)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected a retry to be re-enqueued")
	}
}
