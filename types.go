// Package sniperdex implements the coordination engine for an automated
// on-chain sniper targeting newly created Uniswap-V2-style liquidity pairs:
// a block-driven strategy loop advancing a watchlist, an inventory of open
// positions, and a dynamic buy-sizing/kill-switch controller, plus the
// inspection pipeline that simulates a buy-then-sell round trip via eth_call
// state overrides before any real capital is committed.
package sniperdex

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/sniperdex/sniperdex/pkg/util"
)

// TxStatus mirrors an on-chain receipt's status field.
type TxStatus int

const (
	TxFailed TxStatus = iota
	TxSuccess
)

// MaliciousPair classifies why a candidate pair was rejected by the
// inspector, or UnmaliciousPair if it passed.
type MaliciousPair int

const (
	UnmaliciousPair MaliciousPair = iota
	CreatorBlacklisted
	CreatorRugged
	Unverified
	MaliciousTxIn
)

// ReportDataType tags the variant carried by a ReportData envelope.
type ReportDataType int

const (
	ReportBlock ReportDataType = iota
	ReportExecution
	ReportWatchlistAdded
	ReportWatchlistRemoved
	ReportBlacklistBootstrap
	ReportBlacklistAdded
)

// RunMode selects whether orders hit the chain, are simulated, or the
// strategy only watches without trading.
type RunMode int

const (
	RunModeLive RunMode = iota
	RunModePaperTrade
	RunModeWatchOnly
)

// Pair identifies a V2-style liquidity pool and its mutable inspection
// state. Identity is {Address, Token, TokenIndex}; TokenIndex is frozen
// once the pair is admitted to the inventory.
type Pair struct {
	Address  common.Address
	Token    common.Address
	// TokenIndex records which side of the pool (0 or 1) is the non-WETH
	// token.
	TokenIndex int

	ReserveToken decimal.Decimal
	ReserveETH   decimal.Decimal

	CreatedAt int64 // block timestamp
	Creator   common.Address

	ContractVerified   bool // monotonic false -> true
	NumberTxMM         int
	InspectAttempts    int
	LastInspectedBlock uint64
}

// Price returns reserve_eth / reserve_token, the pair's spot price in ETH
// per token, or zero when ReserveToken is zero.
func (p *Pair) Price() decimal.Decimal {
	return util.PriceFromReserves(p.ReserveToken, p.ReserveETH)
}

// Position is an open (or closing) holding created by a successful buy ack
// and removed on a sell ack (success or failure) or on liquidation.
// Lifecycle: OPEN -> LIQUIDATING -> CLOSED, no revive.
type Position struct {
	Pair        Pair
	AmountToken decimal.Decimal
	AmountInETH decimal.Decimal
	BuyPrice    decimal.Decimal
	StartTime   int64
	PnLPercent  decimal.Decimal
	Signer      common.Address
	Bot         common.Address
	IsPaper     bool
}

// ExecutionOrder is queued to the executor pool and immutable once queued.
type ExecutionOrder struct {
	BlockNumber    uint64
	BlockTimestamp int64
	Pair           Pair
	AmountIn       decimal.Decimal
	AmountOutMin   decimal.Decimal
	IsBuy          bool
	IsPaper        bool
	// Signer/Bot are optional (zero address = unaddressed, round-robin).
	Signer common.Address
	Bot    common.Address
}

// ExecutionAck is produced by the executor pool and is immutable.
// AmountOut is zero iff Status is TxFailed.
type ExecutionAck struct {
	LeadBlock   uint64
	BlockNumber uint64
	TxHash      common.Hash
	Status      TxStatus
	Pair        Pair
	AmountIn    decimal.Decimal
	AmountOut   decimal.Decimal
	IsBuy       bool
	Signer      common.Address
	Bot         common.Address
	IsPaper     bool
}

// Bot is a pre-deployed on-chain contract owned by an executor account.
// At most one OPEN position may reference a given bot at a time.
type Bot struct {
	Address    common.Address
	Owner      common.Address
	DeployedAt int64
	NumberUsed int
	IsHolding  bool
	IsFailed   bool
}

// RetireDue reports whether this bot should be detached and replaced,
// per the rotation rule in the executor pool's rotate step.
func (b *Bot) RetireDue(maxUsed int) bool {
	return b.NumberUsed >= maxUsed || b.IsFailed
}

// ExecutorAccount is an off-chain signing identity paired with at most one
// Bot; the account is inactive for order routing while CurrentBot is nil.
type ExecutorAccount struct {
	Address        common.Address
	PrivateKeyHex  string
	CurrentBot     *Bot
	InitialBalance decimal.Decimal
	CurrentBalance decimal.Decimal
}

// EpochPnL tracks cumulative realized PnL percent over the current epoch
// window, reset by the strategy's per-tick epoch/size logic.
type EpochPnL struct {
	EpochStart    time.Time
	CumulativePct decimal.Decimal
}

// BlockTick is emitted by the block watcher once per new head.
type BlockTick struct {
	BlockNumber       uint64
	BlockTimestamp    int64
	BaseFee           decimal.Decimal
	GasUsed           uint64
	GasLimit          uint64
	NewPairs          []Pair
	InventorySnapshot []Pair
}

// FilterLogsType tags the per-block log-filter fan-out result variant.
type FilterLogsType int

const (
	FilterPairCreated FilterLogsType = iota
	FilterSync
	FilterSwap
)

// ReportData is the discriminated envelope the strategy emits to the
// persistence sink.
type ReportData struct {
	Type ReportDataType
	// Exactly one of the following is populated, selected by Type.
	Block     *BlockTick
	Ack       *ExecutionAck
	Pair      *Pair
	Blacklist []common.Address
}

// ControlOrderType tags a ControlOrder's payload variant.
type ControlOrderType int

const (
	ControlPendingPositions ControlOrderType = iota
)

// ControlOrder carries bootstrap instructions from the reporter to the
// strategy (e.g. re-admitting still-open positions found at startup).
type ControlOrder struct {
	Type      ControlOrderType
	Positions []Position
}
