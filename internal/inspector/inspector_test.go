package inspector

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sniperdex "github.com/sniperdex/sniperdex"
	"github.com/sniperdex/sniperdex/internal/explorer"
)

type fakeBlacklist struct {
	blacklisted map[string]bool
}

func (f *fakeBlacklist) IsBlacklisted(address string, now time.Time, frozenWindow time.Duration) (bool, error) {
	return f.blacklisted[address], nil
}

type fakeExplorer struct {
	creationErr  error
	txList       []explorer.TxListEntry
	txListErr    error
	source       explorer.SourceCodeResult
	sourceOK     bool
	sourceErr    error
}

func (f *fakeExplorer) GetContractCreation(ctx context.Context, address string) (string, error) {
	if f.creationErr != nil {
		return "", f.creationErr
	}
	return "0xcreation", nil
}

func (f *fakeExplorer) GetSourceCode(ctx context.Context, address string) (explorer.SourceCodeResult, bool, error) {
	return f.source, f.sourceOK, f.sourceErr
}

func (f *fakeExplorer) TxList(ctx context.Context, address string, startBlock, endBlock uint64, offset int) ([]explorer.TxListEntry, error) {
	return f.txList, f.txListErr
}

type fakeChainLogs struct{}

func (f *fakeChainLogs) GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeChainLogs) TransactionBlockNumber(ctx context.Context, hash common.Hash) (uint64, error) {
	return 0, nil
}

type fakeSimulator struct {
	result SimulationResult
	err    error
}

func (f *fakeSimulator) Simulate(ctx context.Context, pair sniperdex.Pair, amountIn decimal.Decimal) (SimulationResult, error) {
	return f.result, f.err
}

func testConfig() Config {
	return Config{
		ReserveMin:       decimal.NewFromFloat(1),
		ReserveMax:       decimal.NewFromFloat(100),
		RogueFrozenWindow: time.Hour,
		MMAmountThreshold: decimal.NewFromFloat(0.01),
		SlippageMinBps:   decimal.NewFromInt(-500),
		SlippageMaxBps:   decimal.NewFromInt(500),
		SimulateAmountIn: decimal.NewFromFloat(0.01),
	}
}

func TestInspectOne_RejectsOutOfRangeReserveOnInitial(t *testing.T) {
	ins := New(&fakeBlacklist{}, &fakeExplorer{}, &fakeChainLogs{}, &fakeSimulator{}, testConfig(), 1)
	p := sniperdex.Pair{ReserveETH: decimal.NewFromFloat(1000)}

	res := ins.inspectOne(context.Background(), p, 100, ModeInitial)
	assert.False(t, res.ReserveInRange)
	assert.True(t, res.Rejected())
	assert.Nil(t, res.SimulationResult)
}

func TestInspectOne_CreatorBlacklisted(t *testing.T) {
	creator := common.HexToAddress("0xbad")
	ins := New(&fakeBlacklist{blacklisted: map[string]bool{creator.Hex(): true}}, &fakeExplorer{}, &fakeChainLogs{}, &fakeSimulator{}, testConfig(), 1)
	p := sniperdex.Pair{ReserveETH: decimal.NewFromFloat(5), Creator: creator}

	res := ins.inspectOne(context.Background(), p, 100, ModeInitial)
	assert.Equal(t, sniperdex.CreatorBlacklisted, res.IsMalicious)
	assert.True(t, res.Rejected())
}

func TestInspectOne_MaliciousIncomingTx(t *testing.T) {
	token := common.HexToAddress("0xtoken")
	fe := &fakeExplorer{
		txList: []explorer.TxListEntry{
			{To: token.Hex(), MethodID: "0xdeadbeef", TxReceiptStatus: "1"},
		},
	}
	ins := New(&fakeBlacklist{}, fe, &fakeChainLogs{}, &fakeSimulator{}, testConfig(), 1)
	p := sniperdex.Pair{ReserveETH: decimal.NewFromFloat(5), Token: token}

	res := ins.inspectOne(context.Background(), p, 100, ModeInitial)
	assert.Equal(t, sniperdex.MaliciousTxIn, res.IsMalicious)
	assert.True(t, res.Rejected())
}

func TestInspectOne_AllowedIncomingMethodsPassThrough(t *testing.T) {
	token := common.HexToAddress("0xtoken")
	fe := &fakeExplorer{
		txList: []explorer.TxListEntry{
			{To: token.Hex(), MethodID: methodIDApprove, TxReceiptStatus: "1"},
			{To: token.Hex(), MethodID: methodIDTransferNative, TxReceiptStatus: "1"},
		},
		sourceOK: true,
		source:   explorer.SourceCodeResult{SourceCode: "contract Foo {}", ContractName: "Foo"},
	}
	sim := &fakeSimulator{result: SimulationResult{SlippageBps: decimal.NewFromInt(100)}}
	ins := New(&fakeBlacklist{}, fe, &fakeChainLogs{}, sim, testConfig(), 1)
	p := sniperdex.Pair{ReserveETH: decimal.NewFromFloat(5), Token: token}

	res := ins.inspectOne(context.Background(), p, 100, ModeInitial)
	assert.Equal(t, sniperdex.UnmaliciousPair, res.IsMalicious)
	assert.True(t, res.ContractVerified)
	require.NotNil(t, res.SimulationResult)
}

func TestCheckSourceVerified_DenyListBlocksVerification(t *testing.T) {
	fe := &fakeExplorer{sourceOK: true, source: explorer.SourceCodeResult{
		SourceCode:   "contract Foo { /* family token */ }",
		ContractName: "Foo",
	}}
	ins := New(&fakeBlacklist{}, fe, &fakeChainLogs{}, &fakeSimulator{}, testConfig(), 1)

	verified := ins.checkSourceVerified(context.Background(), common.HexToAddress("0xtoken"))
	assert.False(t, verified)
}

func TestCheckSourceVerified_LibraryPresentFailsVerification(t *testing.T) {
	fe := &fakeExplorer{sourceOK: true, source: explorer.SourceCodeResult{
		SourceCode:   "contract Foo {}",
		ContractName: "Foo",
		Library:      "SafeMath",
	}}
	ins := New(&fakeBlacklist{}, fe, &fakeChainLogs{}, &fakeSimulator{}, testConfig(), 1)

	verified := ins.checkSourceVerified(context.Background(), common.HexToAddress("0xtoken"))
	assert.False(t, verified)
}

func TestContractVerified_MonotonicOnceTrue(t *testing.T) {
	fe := &fakeExplorer{sourceOK: false}
	sim := &fakeSimulator{result: SimulationResult{SlippageBps: decimal.NewFromInt(100)}}
	ins := New(&fakeBlacklist{}, fe, &fakeChainLogs{}, sim, testConfig(), 1)
	p := sniperdex.Pair{ReserveETH: decimal.NewFromFloat(5), ContractVerified: true}

	res := ins.inspectOne(context.Background(), p, 100, ModeReinspect)
	assert.True(t, res.ContractVerified)
}

func TestInspectOne_SimulationOutsideSlippageBoundsYieldsNoResult(t *testing.T) {
	fe := &fakeExplorer{sourceOK: true, source: explorer.SourceCodeResult{SourceCode: "c", ContractName: "C"}}
	sim := &fakeSimulator{result: SimulationResult{SlippageBps: decimal.NewFromInt(9000)}}
	ins := New(&fakeBlacklist{}, fe, &fakeChainLogs{}, sim, testConfig(), 1)
	p := sniperdex.Pair{ReserveETH: decimal.NewFromFloat(5)}

	res := ins.inspectOne(context.Background(), p, 100, ModeInitial)
	assert.Nil(t, res.SimulationResult)
	assert.True(t, res.Rejected())
}

func TestInspectBatch_RunsAllPairsConcurrently(t *testing.T) {
	fe := &fakeExplorer{sourceOK: true, source: explorer.SourceCodeResult{SourceCode: "c", ContractName: "C"}}
	sim := &fakeSimulator{result: SimulationResult{SlippageBps: decimal.NewFromInt(100)}}
	ins := New(&fakeBlacklist{}, fe, &fakeChainLogs{}, sim, testConfig(), 2)

	pairs := []sniperdex.Pair{
		{ReserveETH: decimal.NewFromFloat(5)},
		{ReserveETH: decimal.NewFromFloat(10)},
		{ReserveETH: decimal.NewFromFloat(1000)}, // out of range
	}
	results := ins.InspectBatch(context.Background(), pairs, 100, ModeInitial)
	require.Len(t, results, 3)
	assert.False(t, results[2].ReserveInRange)
	assert.NotNil(t, results[0].SimulationResult)
	assert.NotNil(t, results[1].SimulationResult)
}
