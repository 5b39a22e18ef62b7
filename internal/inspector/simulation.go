package inspector

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	sniperdex "github.com/sniperdex/sniperdex"
	"github.com/sniperdex/sniperdex/pkg/contractclient"
	"github.com/sniperdex/sniperdex/pkg/util"
)

// maxBalanceSlotProbe bounds the storage-slot search per spec §9's pick of
// [0, 9) (the source used [0, 2) in one variant; this module follows the
// distilled spec's choice). NewRoundTripSimulator copies it into the
// unexported maxSlotProbe field; no option or setter changes the bound.
const maxBalanceSlotProbe = 9

var probeValue = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil) // 10^27
var simulationBalanceOverride = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil) // 10^18
var simulationDeadlineOffset = 1000 * time.Second

// SimulationResult carries the round-trip buy/sell outcome, per spec
// §4.3.1 step 4's metrics.
type SimulationResult struct {
	AmountIn    decimal.Decimal
	AmountOut   decimal.Decimal
	AmountToken decimal.Decimal
	SlippageBps decimal.Decimal
	SlotIndex   int
}

// ChainCaller is the subset of chaingateway.Gateway the simulator needs:
// eth_call with per-address balance/storage overrides.
type ChainCaller interface {
	CallWithOverride(ctx context.Context, to common.Address, caller *common.Address, overrides map[common.Address]contractclient.StateOverride, outAbi abi.ABI, method string, args ...interface{}) ([]interface{}, error)
}

// RoundTripSimulator runs the inspector bot's buy/sell round trip via
// state-diff eth_call, grounded on
// original_source/inspector/ethcall_simulator.py's create_buy_sim /
// create_sell_sim / calculate_balance_storage_index.
type RoundTripSimulator struct {
	chain        ChainCaller
	bot          common.Address
	signer       common.Address
	botABI       abi.ABI
	erc20ABI     abi.ABI
	maxSlotProbe int
}

// NewRoundTripSimulator builds a simulator bound to one deployed
// inspector-bot contract. signer is the probing address whose balance is
// overridden for the buy call and whose storage slot is searched in step
// 2 (spec §4.3.1: probing is done against "signer", the sell override is
// then applied to the bot's own balance since the bot holds tokens after
// a real buy).
func NewRoundTripSimulator(chain ChainCaller, bot, signer common.Address, botABI, erc20ABI abi.ABI) *RoundTripSimulator {
	return &RoundTripSimulator{
		chain:        chain,
		bot:          bot,
		signer:       signer,
		botABI:       botABI,
		erc20ABI:     erc20ABI,
		maxSlotProbe: maxBalanceSlotProbe,
	}
}

// Simulate executes buy(token, deadline) then sell(token, signer, deadline)
// against "latest" via eth_call with state overrides, asserting the
// round-trip invariants from spec §4.3.1 and returning the slippage.
func (s *RoundTripSimulator) Simulate(ctx context.Context, pair sniperdex.Pair, amountIn decimal.Decimal) (SimulationResult, error) {
	amountInWei := decimalToWei(amountIn)
	deadline := big.NewInt(time.Now().Add(simulationDeadlineOffset).Unix())

	// Step 1: buy call, signer balance overridden to cover value+gas.
	buyOverrides := map[common.Address]contractclient.StateOverride{
		s.signer: {Balance: simulationBalanceOverride},
	}
	buyOut, err := s.chain.CallWithOverride(ctx, s.bot, &s.signer, buyOverrides, s.botABI, "buy", pair.Token, deadline)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("SIMULATION_REJECTED: buy call: %w", err)
	}
	spentETH, receivedTokens, err := decodeRoundTripReturn(buyOut)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("SIMULATION_REJECTED: decode buy return: %w", err)
	}
	if spentETH.Cmp(amountInWei) != 0 {
		return SimulationResult{}, fmt.Errorf("SIMULATION_REJECTED: spent_eth %s != amount_in %s", spentETH, amountInWei)
	}

	// Step 2: probe for the token's balance storage slot against signer.
	slotIndex, err := s.determineBalanceSlot(ctx, pair.Token, s.signer)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("SIMULATION_REJECTED: %w", err)
	}

	// Step 3: sell call, bot's balance overridden with the received amount
	// at the discovered slot (the bot holds the tokens after a real buy).
	sellSlot := util.BalanceStorageSlot(s.bot, slotIndex)
	sellOverrides := map[common.Address]contractclient.StateOverride{
		pair.Token: {StateDiff: map[common.Hash]common.Hash{sellSlot: common.BigToHash(receivedTokens)}},
	}
	sellOut, err := s.chain.CallWithOverride(ctx, s.bot, &s.signer, sellOverrides, s.botABI, "sell", pair.Token, s.signer, deadline)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("SIMULATION_REJECTED: sell call: %w", err)
	}
	spentTokens, receivedETH, err := decodeRoundTripReturn(sellOut)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("SIMULATION_REJECTED: decode sell return: %w", err)
	}
	if spentTokens.Cmp(receivedTokens) != 0 {
		return SimulationResult{}, fmt.Errorf("SIMULATION_REJECTED: spent_tokens %s != received_tokens %s", spentTokens, receivedTokens)
	}

	amountOut := weiToDecimal(receivedETH)
	return SimulationResult{
		AmountIn:    amountIn,
		AmountOut:   amountOut,
		AmountToken: weiToDecimal(receivedTokens),
		SlippageBps: util.SlippageBps(amountIn, amountOut),
		SlotIndex:   slotIndex,
	}, nil
}

// determineBalanceSlot probes candidate slot indices [0, maxSlotProbe) by
// overriding that slot to a large probe value and reading balanceOf(owner)
// back; the index whose override is echoed back is the real slot. Probing
// the same token/owner in the same block always returns the same slot
// (storage-slot probe idempotence, per spec §8).
func (s *RoundTripSimulator) determineBalanceSlot(ctx context.Context, token, owner common.Address) (int, error) {
	for i := 0; i < s.maxSlotProbe; i++ {
		slot := util.BalanceStorageSlot(owner, i)
		overrides := map[common.Address]contractclient.StateOverride{
			token: {StateDiff: map[common.Hash]common.Hash{slot: common.BigToHash(probeValue)}},
		}
		out, err := s.chain.CallWithOverride(ctx, token, &owner, overrides, s.erc20ABI, "balanceOf", owner)
		if err != nil {
			continue
		}
		got, ok := out[0].(*big.Int)
		if !ok {
			continue
		}
		if got.Cmp(probeValue) == 0 {
			return i, nil
		}
	}
	return 0, fmt.Errorf("balance storage slot not found in [0, %d)", s.maxSlotProbe)
}

func decodeRoundTripReturn(out []interface{}) (*big.Int, *big.Int, error) {
	if len(out) != 1 {
		return nil, nil, fmt.Errorf("expected 1 return value, got %d", len(out))
	}
	arr, ok := out[0].([]*big.Int)
	if !ok || len(arr) != 2 {
		return nil, nil, fmt.Errorf("expected uint[2], got %T", out[0])
	}
	return arr[0], arr[1], nil
}

var weiPerEther = decimal.New(1, 18)

func decimalToWei(d decimal.Decimal) *big.Int {
	return d.Mul(weiPerEther).BigInt()
}

func weiToDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0).Div(weiPerEther)
}
