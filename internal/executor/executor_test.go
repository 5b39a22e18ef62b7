package executor

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sniperdex "github.com/sniperdex/sniperdex"
	"github.com/sniperdex/sniperdex/internal/db"
	"github.com/sniperdex/sniperdex/internal/inspector"
)

const testBotABIJSON = `[
	{"type":"function","name":"buy","stateMutability":"payable","inputs":[{"name":"token","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"sell","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[]}
]`

func testBotABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(testBotABIJSON))
	require.NoError(t, err)
	return parsed
}

func testPrivateKeyHex(t *testing.T) (common.Address, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return addr, common.Bytes2Hex(crypto.FromECDSA(key))
}

func newTestAccount(addr common.Address, key string, bot *sniperdex.Bot) *Account {
	acct := &Account{Address: addr, PrivateKeyHex: key}
	acct.SetBot(bot)
	return acct
}

type fakeChainSender struct {
	mu              sync.Mutex
	nonce           uint64
	receipts        map[common.Hash]*types.Receipt
	sendErr         error
	failAll         bool
	receiptOverride func() *types.Receipt
}

func (f *fakeChainSender) GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonce++
	return f.nonce, nil
}

func (f *fakeChainSender) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeChainSender) SendRawTransaction(ctx context.Context, signed *types.Transaction) (common.Hash, error) {
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	return signed.Hash(), nil
}

func (f *fakeChainSender) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.receiptOverride != nil {
		return f.receiptOverride(), nil
	}
	status := uint64(types.ReceiptStatusSuccessful)
	if f.failAll {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, BlockNumber: big.NewInt(100)}, nil
}

func (f *fakeChainSender) LatestBlockTimestamp(ctx context.Context) (int64, error) {
	return 1700000000, nil
}

func (f *fakeChainSender) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000_000_000), nil
}

type fakeSim struct {
	result inspector.SimulationResult
	err    error
}

func (f *fakeSim) Simulate(ctx context.Context, pair sniperdex.Pair, amountIn decimal.Decimal) (inspector.SimulationResult, error) {
	return f.result, f.err
}

type fakeBotStore struct{}

func (fakeBotStore) FindAvailableBot(owner string, maxUsed int) (*db.BotRecord, error) {
	return nil, nil
}

func (fakeBotStore) UpsertBot(rec db.BotRecord) error { return nil }

func newTestPool(t *testing.T, accounts []*Account, chain ChainSender) *Pool {
	return newTestPoolWithFactory(t, accounts, chain, nil)
}

func newTestPoolWithFactory(t *testing.T, accounts []*Account, chain ChainSender, factory *BotFactory) *Pool {
	botABI := testBotABI(t)
	return New(accounts, chain, &fakeSim{result: inspector.SimulationResult{AmountOut: decimal.NewFromFloat(0.009), AmountToken: decimal.NewFromFloat(1000)}}, factory, nil, botABI, abi.ABI{}, Config{
		GasLimit:      21000,
		GasPriceGwei:  decimal.NewFromInt(1),
		DeadlineDelay: 30 * time.Second,
	})
}

func TestExecute_UnaddressedOrderDroppedWithoutBot(t *testing.T) {
	addr, key := testPrivateKeyHex(t)
	accounts := []*Account{newTestAccount(addr, key, nil)}
	chain := &fakeChainSender{}
	p := newTestPool(t, accounts, chain)

	inboxes := []chan sniperdex.ExecutionOrder{make(chan sniperdex.ExecutionOrder, 1)}
	p.route(sniperdex.ExecutionOrder{IsBuy: true}, inboxes)
	assert.Len(t, inboxes[0], 0)
}

func TestExecute_PaperTradeBuyUsesSimulator(t *testing.T) {
	addr, key := testPrivateKeyHex(t)
	botAddr := common.HexToAddress("0xbot")
	accounts := []*Account{newTestAccount(addr, key, &sniperdex.Bot{Address: botAddr})}
	chain := &fakeChainSender{}
	p := newTestPool(t, accounts, chain)

	order := sniperdex.ExecutionOrder{IsBuy: true, IsPaper: true, AmountIn: decimal.NewFromFloat(0.01), Pair: sniperdex.Pair{Token: common.HexToAddress("0xtoken")}}
	ack := p.execute(context.Background(), 0, order)

	assert.Equal(t, sniperdex.TxSuccess, ack.Status)
	assert.True(t, ack.IsPaper)
	assert.True(t, ack.AmountOut.Equal(decimal.NewFromFloat(1000)))
}

func TestExecute_LiveBuySuccess(t *testing.T) {
	addr, key := testPrivateKeyHex(t)
	botAddr := common.HexToAddress("0xbot")
	accounts := []*Account{newTestAccount(addr, key, &sniperdex.Bot{Address: botAddr})}
	chain := &fakeChainSender{}
	p := newTestPool(t, accounts, chain)

	order := sniperdex.ExecutionOrder{
		IsBuy:          true,
		AmountIn:       decimal.NewFromFloat(0.01),
		BlockTimestamp: 1700000000,
		Pair:           sniperdex.Pair{Token: common.HexToAddress("0xtoken"), Address: common.HexToAddress("0xpair"), TokenIndex: 1},
	}
	ack := p.execute(context.Background(), 0, order)

	assert.Equal(t, sniperdex.TxSuccess, ack.Status)
	assert.Equal(t, uint64(100), ack.BlockNumber)
}

func TestExecute_LiveTxFailureYieldsFailedAck(t *testing.T) {
	addr, key := testPrivateKeyHex(t)
	botAddr := common.HexToAddress("0xbot")
	accounts := []*Account{newTestAccount(addr, key, &sniperdex.Bot{Address: botAddr})}
	chain := &fakeChainSender{failAll: true}
	p := newTestPool(t, accounts, chain)

	order := sniperdex.ExecutionOrder{
		IsBuy:          false,
		AmountIn:       decimal.NewFromFloat(0.01),
		BlockTimestamp: 1700000000,
		Pair:           sniperdex.Pair{Token: common.HexToAddress("0xtoken"), Address: common.HexToAddress("0xpair")},
	}
	ack := p.execute(context.Background(), 0, order)

	assert.Equal(t, sniperdex.TxFailed, ack.Status)
	assert.True(t, ack.AmountOut.IsZero())
}

func TestRotate_SellFailureRetiresBotAtMaxUsage(t *testing.T) {
	addr, key := testPrivateKeyHex(t)
	botAddr := common.HexToAddress("0xbot")
	accounts := []*Account{newTestAccount(addr, key, &sniperdex.Bot{Address: botAddr, NumberUsed: 4})}
	chain := &fakeChainSender{}
	factory := NewBotFactory(chain, fakeBotStore{}, addr, key, BotFactoryConfig{})
	p := newTestPoolWithFactory(t, accounts, chain, factory)
	p.cfg.BotMaxNumberUsed = 5

	ack := sniperdex.ExecutionAck{IsBuy: false, Status: sniperdex.TxFailed, Bot: botAddr}
	p.rotate(0, ack)

	assert.Nil(t, accounts[0].Bot())
}

func TestRotate_BuySuccessMarksHolding(t *testing.T) {
	addr, key := testPrivateKeyHex(t)
	botAddr := common.HexToAddress("0xbot")
	accounts := []*Account{newTestAccount(addr, key, &sniperdex.Bot{Address: botAddr})}
	chain := &fakeChainSender{}
	p := newTestPool(t, accounts, chain)

	ack := sniperdex.ExecutionAck{IsBuy: true, Status: sniperdex.TxSuccess, Bot: botAddr}
	p.rotate(0, ack)

	require.NotNil(t, accounts[0].Bot())
	assert.True(t, accounts[0].Bot().IsHolding)
}
