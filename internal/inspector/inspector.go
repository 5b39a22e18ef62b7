// Package inspector implements the Pair Inspector (C3): the seven-step,
// short-circuit vetting pipeline run over a batch of pairs at a given
// block, concluding in a state-diff eth_call round-trip buy/sell
// simulation (simulation.go). Grounded on
// original_source/inspector/pair_inspector.py's step ordering and
// original_source/inspector/ethcall_simulator.py's simulation primitive,
// per the distilled spec's §4.3.
package inspector

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	sniperdex "github.com/sniperdex/sniperdex"
	"github.com/sniperdex/sniperdex/internal/explorer"
	"github.com/sniperdex/sniperdex/internal/logging"
)

var swapTopic = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))

// Allowed method IDs for step 3's malicious-incoming-tx check. TRANSFER_NATIVE
// is an empty methodId: a plain value transfer with no calldata.
const (
	methodIDApprove           = "0x095ea7b3"
	methodIDRenounceOwnership = "0x715018a6"
	methodIDTransfer          = "0xa9059cbb"
	methodIDTransferNative    = ""
)

var allowedIncomingMethodIDs = map[string]bool{
	methodIDApprove:           true,
	methodIDRenounceOwnership: true,
	methodIDTransfer:          true,
	methodIDTransferNative:    true,
}

// BlacklistStore is the subset of db.Recorder the creator-blacklist step
// needs.
type BlacklistStore interface {
	IsBlacklisted(address string, now time.Time, frozenWindow time.Duration) (bool, error)
}

// ExplorerAPI is the subset of explorer.Client the inspector needs.
type ExplorerAPI interface {
	GetContractCreation(ctx context.Context, address string) (string, error)
	GetSourceCode(ctx context.Context, address string) (explorer.SourceCodeResult, bool, error)
	TxList(ctx context.Context, address string, startBlock, endBlock uint64, offset int) ([]explorer.TxListEntry, error)
}

// ChainLogs is the subset of chaingateway.Gateway the MM-tx-count and
// malicious-incoming-tx steps need: a single-pair Swap log fetch over a
// block range, and resolving a mined tx hash to its block number.
type ChainLogs interface {
	GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionBlockNumber(ctx context.Context, hash common.Hash) (uint64, error)
}

// Simulator runs the round-trip buy/sell eth_call simulation for a pair.
type Simulator interface {
	Simulate(ctx context.Context, pair sniperdex.Pair, amountIn decimal.Decimal) (SimulationResult, error)
}

// Config holds the numeric knobs the pipeline's thresholds are evaluated
// against (§6's RESERVE_ETH_MIN/MAX_THRESHOLD, ROGUE_CREATOR_FROZEN_SECONDS,
// MM_AMOUNT_THRESHOLD, slippage bounds, the source-verification deny-list).
type Config struct {
	ReserveMin          decimal.Decimal
	ReserveMax          decimal.Decimal
	RogueFrozenWindow   time.Duration
	MMAmountThreshold   decimal.Decimal
	SlippageMinBps      decimal.Decimal
	SlippageMaxBps      decimal.Decimal
	SourceDenyMarkers   []string
	SimulateAmountIn    decimal.Decimal
	TxListPageSize      int
}

// DefaultSourceDenyMarkers is the configurable deny-list of source markers
// from spec §4.3 step 4, defaulted to {"family"}.
var DefaultSourceDenyMarkers = []string{"family"}

// Inspector runs the vetting pipeline for batches of pairs.
type Inspector struct {
	blacklist   BlacklistStore
	explorerAPI ExplorerAPI
	chainLogs   ChainLogs
	simulator   Simulator
	cfg         Config
	log         *logging.Logger
	concurrency int
}

// New builds an Inspector. concurrency bounds the per-batch fan-out
// (default 5, per spec §4.3).
func New(blacklist BlacklistStore, explorerAPI ExplorerAPI, chainLogs ChainLogs, simulator Simulator, cfg Config, concurrency int) *Inspector {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Inspector{
		blacklist:   blacklist,
		explorerAPI: explorerAPI,
		chainLogs:   chainLogs,
		simulator:   simulator,
		cfg:         cfg,
		log:         logging.New("inspector"),
		concurrency: concurrency,
	}
}

// Result is the per-pair outcome of the pipeline, per spec §4.3's final
// InspectionResult shape.
type Result struct {
	Pair                  sniperdex.Pair
	ReserveInRange        bool
	IsMalicious           sniperdex.MaliciousPair
	ContractVerified      bool
	IsCreatorCallContract bool
	NumberTxMM            int
	SimulationResult      *SimulationResult
}

// Rejected reports whether the pair failed any pipeline step, including a
// simulation that failed or fell outside the slippage bounds (no
// SimulationResult).
func (r Result) Rejected() bool {
	return !r.ReserveInRange || r.IsMalicious != sniperdex.UnmaliciousPair || r.IsCreatorCallContract || r.SimulationResult == nil
}

// Mode selects initial vs. re-inspection semantics: steps 5/6 (creator
// call count, MM tx count) only apply on re-inspection, and step 1's
// reserve-window rejection only short-circuits on the first inspection.
type Mode int

const (
	ModeInitial Mode = iota
	ModeReinspect
)

// InspectBatch runs the pipeline for every pair in pairs at block b,
// bounded to the configured concurrency, per spec §4.3.
func (ins *Inspector) InspectBatch(ctx context.Context, pairs []sniperdex.Pair, block uint64, mode Mode) []Result {
	results := make([]Result, len(pairs))
	sem := make(chan struct{}, ins.concurrency)
	var wg sync.WaitGroup

	for i, p := range pairs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p sniperdex.Pair) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = ins.inspectOne(ctx, p, block, mode)
		}(i, p)
	}
	wg.Wait()
	return results
}

func (ins *Inspector) inspectOne(ctx context.Context, p sniperdex.Pair, block uint64, mode Mode) Result {
	res := Result{Pair: p, ContractVerified: p.ContractVerified, NumberTxMM: p.NumberTxMM}

	// Step 1: reserve window.
	res.ReserveInRange = ins.cfg.ReserveMin.LessThanOrEqual(p.ReserveETH) && p.ReserveETH.LessThanOrEqual(ins.cfg.ReserveMax)
	if mode == ModeInitial && !res.ReserveInRange {
		return res
	}

	// Step 2: creator blacklist.
	blacklisted, err := ins.blacklist.IsBlacklisted(p.Creator.Hex(), time.Now(), ins.cfg.RogueFrozenWindow)
	if err != nil {
		ins.log.Warnf("blacklist lookup for %s: %v", p.Creator, err)
	} else if blacklisted {
		res.IsMalicious = sniperdex.CreatorBlacklisted
		return res
	}

	// Step 3: malicious-incoming-tx check. Runs on both initial inspection
	// and re-inspection: a token can pick up a malicious incoming tx after
	// admission, so every pass re-scans creation block through b.
	verdict := ins.checkMaliciousIncoming(ctx, p, block)
	if verdict != sniperdex.UnmaliciousPair {
		res.IsMalicious = verdict
		return res
	}

	// Step 4: source verification (monotonic).
	if !res.ContractVerified {
		res.ContractVerified = ins.checkSourceVerified(ctx, p.Token)
	}

	// Step 5: creator contract-call count (re-inspections only).
	if mode == ModeReinspect {
		count, err := ins.countCreatorCalls(ctx, p, block)
		if err != nil {
			ins.log.Warnf("creator call count for %s: %v", p.Token, err)
		} else if count > 0 {
			res.IsCreatorCallContract = true
			return res
		}
	}

	// Step 6: market-making tx count (re-inspections only).
	if mode == ModeReinspect {
		mm, err := ins.countMarketMakingTxs(ctx, p, block)
		if err != nil {
			ins.log.Warnf("mm tx count for %s: %v", p.Token, err)
		} else {
			res.NumberTxMM = mm
		}
	}

	// Step 7: round-trip simulation.
	sim, err := ins.simulator.Simulate(ctx, p, ins.cfg.SimulateAmountIn)
	if err != nil {
		ins.log.Warnf("SIMULATION_REJECTED for %s: %v", p.Address, err)
		return res
	}
	if sim.SlippageBps.GreaterThan(ins.cfg.SlippageMinBps) && sim.SlippageBps.LessThan(ins.cfg.SlippageMaxBps) {
		res.SimulationResult = &sim
	}
	return res
}

func (ins *Inspector) checkMaliciousIncoming(ctx context.Context, p sniperdex.Pair, block uint64) sniperdex.MaliciousPair {
	creationTxHash, err := ins.explorerAPI.GetContractCreation(ctx, p.Token.Hex())
	if err != nil {
		return sniperdex.Unverified
	}
	creationBlock, err := ins.chainLogs.TransactionBlockNumber(ctx, common.HexToHash(creationTxHash))
	if err != nil {
		return sniperdex.Unverified
	}

	entries, err := ins.explorerAPI.TxList(ctx, p.Token.Hex(), creationBlock, block, ins.pageSize())
	if err != nil {
		return sniperdex.Unverified
	}
	for _, e := range entries {
		if e.TxReceiptStatus != "1" {
			continue
		}
		if !strings.EqualFold(e.To, p.Token.Hex()) {
			continue
		}
		if !allowedIncomingMethodIDs[strings.ToLower(e.MethodID)] {
			return sniperdex.MaliciousTxIn
		}
	}
	return sniperdex.UnmaliciousPair
}

func (ins *Inspector) checkSourceVerified(ctx context.Context, token common.Address) bool {
	result, ok, err := ins.explorerAPI.GetSourceCode(ctx, token.Hex())
	if err != nil || !ok {
		return false
	}
	if result.SourceCode == "" || result.ContractName == "" || result.Library != "" {
		return false
	}
	for _, marker := range ins.denyMarkers() {
		if strings.Contains(result.SourceCode, marker) {
			return false
		}
	}
	return true
}

func (ins *Inspector) countCreatorCalls(ctx context.Context, p sniperdex.Pair, block uint64) (int, error) {
	entries, err := ins.explorerAPI.TxList(ctx, p.Token.Hex(), p.LastInspectedBlock+1, block, ins.pageSize())
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if e.TxReceiptStatus != "1" {
			continue
		}
		if !strings.EqualFold(e.To, p.Token.Hex()) {
			continue
		}
		methodID := strings.ToLower(e.MethodID)
		if methodID == methodIDApprove || methodID == methodIDRenounceOwnership {
			continue
		}
		count++
	}
	return count, nil
}

// countMarketMakingTxs counts Swap logs in (p.LastInspectedBlock+1 .. block]
// where the ETH-side input amount exceeds MMAmountThreshold, per spec §4.3
// step 6. The ETH side is whichever amountIn index is NOT the non-WETH
// token's index (p.TokenIndex).
func (ins *Inspector) countMarketMakingTxs(ctx context.Context, p sniperdex.Pair, block uint64) (int, error) {
	logs, err := ins.chainLogs.GetLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(p.LastInspectedBlock + 1),
		ToBlock:   new(big.Int).SetUint64(block),
		Addresses: []common.Address{p.Address},
		Topics:    [][]common.Hash{{swapTopic}},
	})
	if err != nil {
		return 0, err
	}

	count := 0
	ethSideIsToken0 := p.TokenIndex == 1
	for _, l := range logs {
		if len(l.Data) < 128 {
			continue
		}
		amount0In := new(big.Int).SetBytes(l.Data[:32])
		amount1In := new(big.Int).SetBytes(l.Data[32:64])
		var ethIn *big.Int
		if ethSideIsToken0 {
			ethIn = amount0In
		} else {
			ethIn = amount1In
		}
		if decimal.NewFromBigInt(ethIn, -18).GreaterThan(ins.cfg.MMAmountThreshold) {
			count++
		}
	}
	return count, nil
}

func (ins *Inspector) pageSize() int {
	if ins.cfg.TxListPageSize > 0 {
		return ins.cfg.TxListPageSize
	}
	return 10000
}

func (ins *Inspector) denyMarkers() []string {
	if len(ins.cfg.SourceDenyMarkers) > 0 {
		return ins.cfg.SourceDenyMarkers
	}
	return DefaultSourceDenyMarkers
}

