// Package watcher implements the Block Watcher (C2): it subscribes to new
// heads over the chain gateway's long-lived connection, filters each
// block's PairCreated/Sync logs, fetches the LP-minter for new pairs,
// refreshes reserves for pairs already in its inventory mirror, and emits
// one BlockTick per head. Grounded on
// original_source/watcher/block_watcher.py's listen_block,
// filter_log_in_block, and listen_report, realized with goroutines and
// channels per SPEC_FULL.md §5 in place of asyncio/ThreadPoolExecutor.
package watcher

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	sniperdex "github.com/sniperdex/sniperdex"
	"github.com/sniperdex/sniperdex/internal/logging"
)

// pairCreatedTopic, syncTopic (and transferTopic in topics.go) mirror the
// fixed event signatures chaingateway.events.go computes; the watcher
// hashes its own copies from the same literal signatures so this package
// has no hidden dependency on chaingateway's unexported topic vars.
var (
	pairCreatedTopic = crypto256("PairCreated(address,address,address,uint256)")
	syncTopic        = crypto256("Sync(uint112,uint112)")
)

// ChainReader is the subset of chaingateway.Gateway the watcher needs,
// narrowed to an interface so tests can fake the chain connection instead
// of dialing a real node.
type ChainReader interface {
	GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	GetReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, uint32, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Watcher maintains the inventory mirror (Block-Watcher-owned, per §3's
// Ownership rule) and turns per-block log fan-out into BlockTicks.
type Watcher struct {
	gw      ChainReader
	weth    common.Address
	factory common.Address
	pairABI abi.ABI
	erc20ABI abi.ABI
	log     *logging.Logger

	mu        sync.Mutex
	inventory map[common.Address]sniperdex.Pair

	ticks chan sniperdex.BlockTick
}

// New builds a Watcher bound to gw, watching factory for PairCreated and
// treating weth as the fixed "ETH side" of every pair.
func New(gw ChainReader, factory, weth common.Address, pairABI, erc20ABI abi.ABI) *Watcher {
	return &Watcher{
		gw:        gw,
		weth:      weth,
		factory:   factory,
		pairABI:   pairABI,
		erc20ABI:  erc20ABI,
		log:       logging.New("watcher"),
		inventory: make(map[common.Address]sniperdex.Pair),
		ticks:     make(chan sniperdex.BlockTick, 16),
	}
}

// Ticks returns the channel BlockTicks are published on.
func (w *Watcher) Ticks() <-chan sniperdex.BlockTick { return w.ticks }

// Run subscribes to new heads and processes them until ctx is cancelled.
// On a dropped subscription it logs and reconnects rather than
// propagating the error; missed blocks during the gap are not
// back-filled, per spec §4.2 ("acceptable: targets are transient").
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.ticks)

	for {
		if ctx.Err() != nil {
			return
		}
		w.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		w.log.Warnf("new-head subscription closed, reconnecting")
	}
}

func (w *Watcher) runOnce(ctx context.Context) {
	headCh := make(chan *types.Header, 16)
	sub, err := w.gw.SubscribeNewHead(ctx, headCh)
	if err != nil {
		w.log.Errorf("subscribe new heads: %v", err)
		return
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			w.log.Warnf("subscription error: %v", err)
			return
		case head := <-headCh:
			tick, err := w.processBlock(ctx, head)
			if err != nil {
				w.log.Errorf("process block %d: %v", head.Number.Uint64(), err)
				continue
			}
			select {
			case w.ticks <- tick:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Watcher) processBlock(ctx context.Context, head *types.Header) (sniperdex.BlockTick, error) {
	blockNum := head.Number.Uint64()
	timestamp := int64(head.Time)

	var (
		wg       sync.WaitGroup
		newPairs []sniperdex.Pair
		snapshot []sniperdex.Pair
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		newPairs = w.discoverNewPairs(ctx, blockNum, timestamp)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		snapshot = w.refreshInventory(ctx, blockNum)
	}()

	wg.Wait()

	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	return sniperdex.BlockTick{
		BlockNumber:       blockNum,
		BlockTimestamp:    timestamp,
		BaseFee:           weiToGwei(baseFee),
		GasUsed:           head.GasUsed,
		GasLimit:          head.GasLimit,
		NewPairs:          newPairs,
		InventorySnapshot: snapshot,
	}, nil
}

// discoverNewPairs queries PairCreated logs at blockNum on the factory,
// keeps only pairs where one side is WETH, and for each kept pair fetches
// reserves and the LP-minter in parallel (spec §4.2 steps 1-2).
func (w *Watcher) discoverNewPairs(ctx context.Context, blockNum uint64, timestamp int64) []sniperdex.Pair {
	logs, err := w.gw.GetLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(int64(blockNum)),
		ToBlock:   big.NewInt(int64(blockNum)),
		Addresses: []common.Address{w.factory},
		Topics:    [][]common.Hash{{pairCreatedTopic}},
	})
	if err != nil {
		w.log.Warnf("get PairCreated logs at %d: %v", blockNum, err)
		return nil
	}

	type candidate struct {
		pairAddr common.Address
		token    common.Address
		index    int
	}
	var candidates []candidate
	for _, l := range logs {
		if len(l.Topics) != 3 || len(l.Data) < 32 {
			continue
		}
		token0 := common.BytesToAddress(l.Topics[1].Bytes())
		token1 := common.BytesToAddress(l.Topics[2].Bytes())
		pairAddr := common.BytesToAddress(l.Data[:32])

		switch {
		case token0 == w.weth:
			candidates = append(candidates, candidate{pairAddr, token1, 1})
		case token1 == w.weth:
			candidates = append(candidates, candidate{pairAddr, token0, 0})
		default:
			continue // not a WETH pair, per step 1
		}
	}

	pairs := make([]sniperdex.Pair, len(candidates))
	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c candidate) {
			defer wg.Done()
			r0, r1, _, err := w.gw.GetReserves(ctx, c.pairAddr)
			var reserveToken, reserveETH decimal.Decimal
			if err != nil {
				w.log.Warnf("get_reserves %s: %v", c.pairAddr, err)
			} else if c.index == 0 {
				reserveToken = weiToEther(r0)
				reserveETH = weiToEther(r1)
			} else {
				reserveToken = weiToEther(r1)
				reserveETH = weiToEther(r0)
			}

			creator := w.findLPMinter(ctx, blockNum, c.pairAddr)

			pairs[i] = sniperdex.Pair{
				Address:      c.pairAddr,
				Token:        c.token,
				TokenIndex:   c.index,
				ReserveToken: reserveToken,
				ReserveETH:   reserveETH,
				CreatedAt:    timestamp,
				Creator:      creator,
			}
		}(i, c)
	}
	wg.Wait()
	return pairs
}

// findLPMinter fetches the first non-zero-target Transfer recipient in the
// block for the pair's own token (the LP-minter), per spec §4.2 step 2.
func (w *Watcher) findLPMinter(ctx context.Context, blockNum uint64, pair common.Address) common.Address {
	logs, err := w.gw.GetLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(int64(blockNum)),
		ToBlock:   big.NewInt(int64(blockNum)),
		Addresses: []common.Address{pair},
		Topics:    [][]common.Hash{{transferTopic}},
	})
	if err != nil {
		w.log.Warnf("get Transfer logs for %s at %d: %v", pair, blockNum, err)
		return common.Address{}
	}
	for _, l := range logs {
		if len(l.Topics) != 3 {
			continue
		}
		to := common.BytesToAddress(l.Topics[2].Bytes())
		if to != (common.Address{}) {
			return to
		}
	}
	return common.Address{}
}

// refreshInventory fetches Sync logs at blockNum for every pair this
// watcher currently mirrors and updates their reserves, per spec §4.2
// step 3. Runs concurrently with discoverNewPairs.
func (w *Watcher) refreshInventory(ctx context.Context, blockNum uint64) []sniperdex.Pair {
	w.mu.Lock()
	tracked := make([]common.Address, 0, len(w.inventory))
	for addr := range w.inventory {
		tracked = append(tracked, addr)
	}
	w.mu.Unlock()

	var wg sync.WaitGroup
	for _, addr := range tracked {
		wg.Add(1)
		go func(addr common.Address) {
			defer wg.Done()
			logs, err := w.gw.GetLogs(ctx, ethereum.FilterQuery{
				FromBlock: big.NewInt(int64(blockNum)),
				ToBlock:   big.NewInt(int64(blockNum)),
				Addresses: []common.Address{addr},
				Topics:    [][]common.Hash{{syncTopic}},
			})
			if err != nil || len(logs) == 0 {
				return
			}
			last := logs[len(logs)-1]
			if len(last.Data) < 64 {
				return
			}
			r0 := new(big.Int).SetBytes(last.Data[:32])
			r1 := new(big.Int).SetBytes(last.Data[32:64])

			w.mu.Lock()
			defer w.mu.Unlock()
			p, ok := w.inventory[addr]
			if !ok {
				return
			}
			if p.TokenIndex == 0 {
				p.ReserveToken, p.ReserveETH = weiToEther(r0), weiToEther(r1)
			} else {
				p.ReserveToken, p.ReserveETH = weiToEther(r1), weiToEther(r0)
			}
			w.inventory[addr] = p
		}(addr)
	}
	wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]sniperdex.Pair, 0, len(w.inventory))
	for _, p := range w.inventory {
		out = append(out, p)
	}
	return out
}

// HandleAck maintains the inventory mirror from the ack stream, per spec
// §4.2: a successful buy adds the pair (fetching reserves once), any sell
// ack (success or failure) removes it.
func (w *Watcher) HandleAck(ctx context.Context, ack sniperdex.ExecutionAck) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !ack.IsBuy {
		delete(w.inventory, ack.Pair.Address)
		return
	}
	if ack.Status != sniperdex.TxSuccess {
		return
	}
	if _, exists := w.inventory[ack.Pair.Address]; exists {
		return
	}

	r0, r1, _, err := w.gw.GetReserves(ctx, ack.Pair.Address)
	p := ack.Pair
	if err == nil {
		if p.TokenIndex == 0 {
			p.ReserveToken, p.ReserveETH = weiToEther(r0), weiToEther(r1)
		} else {
			p.ReserveToken, p.ReserveETH = weiToEther(r1), weiToEther(r0)
		}
	}
	w.inventory[ack.Pair.Address] = p
}

var weiPerEther = decimal.New(1, 18)

func weiToEther(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0).Div(weiPerEther)
}

func weiToGwei(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0).Div(decimal.New(1, 9))
}
