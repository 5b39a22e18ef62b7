// Package executor implements the Executor Pool (C4): N signing accounts
// each optionally bonded to a deployed bot contract, routing ExecutionOrders
// to exactly one account so per-account submission stays sequential while
// different accounts run concurrently. Grounded on
// original_source/executor/buysell_executor.py's handle_execution_order /
// execute / execute_paper, per the distilled spec's §4.4.
package executor

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	sniperdex "github.com/sniperdex/sniperdex"
	"github.com/sniperdex/sniperdex/internal/inspector"
	"github.com/sniperdex/sniperdex/internal/logging"
)

// ChainSender is the subset of chaingateway.Gateway the executor pool
// needs to assemble, sign, submit, and confirm a transaction.
type ChainSender interface {
	GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendRawTransaction(ctx context.Context, signed *types.Transaction) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	LatestBlockTimestamp(ctx context.Context) (int64, error)
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// PaperSimulator is the subset of inspector.RoundTripSimulator the
// paper-trade branch invokes directly instead of broadcasting a real
// transaction.
type PaperSimulator interface {
	Simulate(ctx context.Context, pair sniperdex.Pair, amountIn decimal.Decimal) (inspector.SimulationResult, error)
}

// ExecutorStore is the subset of db.Recorder the balance-cache ticker
// writes to.
type ExecutorStore interface {
	UpsertExecutor(address, initialBalance, currentBalance string) error
}

// Account is one signing identity, optionally bonded to a bot contract.
// The bound bot's fields (IsHolding, NumberUsed, IsFailed) are mutated
// only by rotate, running on the account's own worker goroutine, per
// spec §5's "Executor's account table is mutated only on the account's
// owning worker". The pointer itself, though, is both swapped by the
// shared drainBotResults goroutine and read by the pool's dispatch
// goroutine (route, execute), so it is held behind an atomic.Pointer
// rather than a bare field.
type Account struct {
	Address        common.Address
	PrivateKeyHex  string
	bot            atomic.Pointer[sniperdex.Bot]
	InitialBalance decimal.Decimal
	CurrentBalance decimal.Decimal
}

// Bot returns the account's currently bonded bot, or nil if none.
func (a *Account) Bot() *sniperdex.Bot { return a.bot.Load() }

// SetBot rebinds the account's bot. Called from the account's own worker
// goroutine (rotate) and from the shared drainBotResults goroutine.
func (a *Account) SetBot(b *sniperdex.Bot) { a.bot.Store(b) }

// Config holds the executor pool's static knobs (§6's EXECUTION_GAS_LIMIT,
// gas fees, deadline delay, bot rotation cap).
type Config struct {
	GasLimit           uint64
	GasPriceGwei       decimal.Decimal // used as both fee cap and tip cap; see DESIGN.md
	DeadlineDelay      time.Duration
	BotMaxNumberUsed   int
	BalanceCacheEvery  time.Duration
}

// Pool is the executor pool: one worker goroutine per account, a shared
// bot factory, and a balance-cache ticker.
type Pool struct {
	accounts []*Account
	chain    ChainSender
	sim      PaperSimulator
	factory  *BotFactory
	store    ExecutorStore
	cfg      Config
	botABI   abi.ABI
	pairABI  abi.ABI

	counter uint64 // atomic round-robin cursor for unaddressed orders
	acks    chan sniperdex.ExecutionAck
	log     *logging.Logger
}

// New builds a Pool. accounts must be non-empty.
func New(accounts []*Account, chain ChainSender, sim PaperSimulator, factory *BotFactory, store ExecutorStore, botABI, pairABI abi.ABI, cfg Config) *Pool {
	if cfg.BotMaxNumberUsed <= 0 {
		cfg.BotMaxNumberUsed = 1
	}
	return &Pool{
		accounts: accounts,
		chain:    chain,
		sim:      sim,
		factory:  factory,
		store:    store,
		cfg:      cfg,
		botABI:   botABI,
		pairABI:  pairABI,
		acks:     make(chan sniperdex.ExecutionAck, 64),
		log:      logging.New("executor"),
	}
}

// Acks returns the channel ExecutionAcks are published on.
func (p *Pool) Acks() <-chan sniperdex.ExecutionAck { return p.acks }

// Run drains orders, routes each to exactly one account's inbox, and
// starts the account workers, the bot factory, and the balance-cache
// ticker as cooperative goroutines bound to ctx.
func (p *Pool) Run(ctx context.Context, orders <-chan sniperdex.ExecutionOrder) {
	inboxes := make([]chan sniperdex.ExecutionOrder, len(p.accounts))
	var wg sync.WaitGroup
	for i := range p.accounts {
		inboxes[i] = make(chan sniperdex.ExecutionOrder, 32)
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			p.runAccount(ctx, idx, inboxes[idx])
		}(i)
	}

	if p.factory != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.factory.Run(ctx)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.drainBotResults(ctx)
		}()
		for _, acct := range p.accounts {
			p.factory.Enqueue(BotCreationOrder{Owner: acct.Address})
		}
	}

	if p.cfg.BalanceCacheEvery > 0 && p.store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runBalanceCache(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case order, ok := <-orders:
			if !ok {
				wg.Wait()
				return
			}
			p.route(order, inboxes)
		}
	}
}

// route dispatches an order to exactly one account's inbox per spec
// §4.4's order-routing rule.
func (p *Pool) route(order sniperdex.ExecutionOrder, inboxes []chan sniperdex.ExecutionOrder) {
	zero := common.Address{}
	if order.Signer == zero {
		idx := int(atomic.AddUint64(&p.counter, 1)-1) % len(p.accounts)
		if p.accounts[idx].Bot() == nil {
			p.log.Warnf("order dropped: account %s has no bot", p.accounts[idx].Address)
			return
		}
		inboxes[idx] <- order
		return
	}

	for i, acct := range p.accounts {
		if acct.Address == order.Signer {
			inboxes[i] <- order
			return
		}
	}
	p.log.Errorf("no account found for signer %s", order.Signer)
}

func (p *Pool) runAccount(ctx context.Context, idx int, inbox chan sniperdex.ExecutionOrder) {
	for {
		select {
		case <-ctx.Done():
			return
		case order, ok := <-inbox:
			if !ok {
				return
			}
			ack := p.execute(ctx, idx, order)
			p.acks <- ack
			p.rotate(idx, ack)
		}
	}
}

// execute assembles, signs, submits, and confirms a single order against
// account idx, or runs the paper-trade simulation branch.
func (p *Pool) execute(ctx context.Context, idx int, order sniperdex.ExecutionOrder) sniperdex.ExecutionAck {
	acct := p.accounts[idx]
	bot := order.Bot
	if bot == (common.Address{}) {
		boundBot := acct.Bot()
		if boundBot == nil {
			return failedAck(order, acct.Address, common.Address{})
		}
		bot = boundBot.Address
	}

	if order.IsPaper {
		return p.executePaper(ctx, acct.Address, bot, order)
	}

	deadline, err := p.deadline(ctx, order)
	if err != nil {
		p.log.Warnf("deadline lookup for order %+v: %v", order.Pair.Address, err)
		return failedAck(order, acct.Address, bot)
	}

	txHash, receipt, err := p.submit(ctx, acct, bot, order, deadline)
	if err != nil {
		p.log.Warnf("EXECUTOR order %s isBuy=%v failed: %v", order.Pair.Address, order.IsBuy, err)
		return failedAck(order, acct.Address, bot)
	}

	status := sniperdex.TxFailed
	var amountOut decimal.Decimal
	if receipt.Status == types.ReceiptStatusSuccessful {
		status = sniperdex.TxSuccess
		amountOut = decodeSwapAmountOut(receipt, p.pairABI, order.Pair, order.IsBuy)
	}

	return sniperdex.ExecutionAck{
		LeadBlock:   order.BlockNumber,
		BlockNumber: receipt.BlockNumber.Uint64(),
		TxHash:      txHash,
		Status:      status,
		Pair:        order.Pair,
		AmountIn:    order.AmountIn,
		AmountOut:   amountOut,
		IsBuy:       order.IsBuy,
		Signer:      acct.Address,
		Bot:         bot,
	}
}

func (p *Pool) executePaper(ctx context.Context, signer, bot common.Address, order sniperdex.ExecutionOrder) sniperdex.ExecutionAck {
	result, err := p.sim.Simulate(ctx, order.Pair, order.AmountIn)
	if err != nil {
		p.log.Warnf("EXECUTOR paper order %s isBuy=%v failed: %v", order.Pair.Address, order.IsBuy, err)
		ack := failedAck(order, signer, bot)
		ack.IsPaper = true
		return ack
	}
	amountOut := result.AmountOut
	if order.IsBuy {
		amountOut = result.AmountToken
	}
	return sniperdex.ExecutionAck{
		LeadBlock:   order.BlockNumber,
		BlockNumber: order.BlockNumber,
		TxHash:      common.Hash{},
		Status:      sniperdex.TxSuccess,
		Pair:        order.Pair,
		AmountIn:    order.AmountIn,
		AmountOut:   amountOut,
		IsBuy:       order.IsBuy,
		Signer:      signer,
		Bot:         bot,
		IsPaper:     true,
	}
}

func failedAck(order sniperdex.ExecutionOrder, signer, bot common.Address) sniperdex.ExecutionAck {
	return sniperdex.ExecutionAck{
		LeadBlock:   order.BlockNumber,
		BlockNumber: order.BlockNumber,
		TxHash:      common.Hash{},
		Status:      sniperdex.TxFailed,
		Pair:        order.Pair,
		AmountIn:    order.AmountIn,
		AmountOut:   decimal.Zero,
		IsBuy:       order.IsBuy,
		Signer:      signer,
		Bot:         bot,
		IsPaper:     order.IsPaper,
	}
}

func (p *Pool) deadline(ctx context.Context, order sniperdex.ExecutionOrder) (int64, error) {
	if order.BlockTimestamp > 0 {
		return order.BlockTimestamp + int64(p.cfg.DeadlineDelay/time.Second), nil
	}
	ts, err := p.chain.LatestBlockTimestamp(ctx)
	if err != nil {
		return 0, err
	}
	return ts + int64(p.cfg.DeadlineDelay/time.Second), nil
}

// rotate applies the bot rotation state machine after an ack, per spec
// §4.4's "Bot rotation state machine".
func (p *Pool) rotate(idx int, ack sniperdex.ExecutionAck) {
	acct := p.accounts[idx]
	bot := acct.Bot()
	if bot == nil || bot.Address != ack.Bot {
		return
	}
	if ack.IsBuy {
		bot.IsHolding = true
		return
	}
	bot.IsHolding = false
	bot.NumberUsed++
	if ack.Status == sniperdex.TxFailed {
		bot.IsFailed = true
	}
	if bot.RetireDue(p.cfg.BotMaxNumberUsed) && p.factory != nil {
		p.log.Warnf("bot %s for account %s reached rotation limit, replacing", bot.Address, acct.Address)
		acct.SetBot(nil)
		p.factory.Enqueue(BotCreationOrder{Owner: acct.Address})
	}
}

func (p *Pool) drainBotResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case bot, ok := <-p.factory.Results():
			if !ok {
				return
			}
			for _, acct := range p.accounts {
				existing := acct.Bot()
				if acct.Address == bot.Owner && (existing == nil || existing.RetireDue(p.cfg.BotMaxNumberUsed)) {
					b := bot
					acct.SetBot(&b)
					break
				}
			}
		}
	}
}

func (p *Pool) runBalanceCache(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.BalanceCacheEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, acct := range p.accounts {
				bal, err := p.chain.NativeBalance(ctx, acct.Address)
				if err != nil {
					p.log.Warnf("balance refresh for %s: %v", acct.Address, err)
					continue
				}
				acct.CurrentBalance = decimal.NewFromBigInt(bal, -18)
				if err := p.store.UpsertExecutor(acct.Address.Hex(), acct.InitialBalance.String(), acct.CurrentBalance.String()); err != nil {
					p.log.Warnf("persist balance for %s: %v", acct.Address, err)
				}
			}
		}
	}
}

var weiPerEther = decimal.New(1, 18)

func gweiToWei(g decimal.Decimal) *big.Int {
	return g.Mul(decimal.New(1, 9)).BigInt()
}

func etherToWei(d decimal.Decimal) *big.Int {
	return d.Mul(weiPerEther).BigInt()
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
