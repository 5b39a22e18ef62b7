// Package chaingateway is a thin facade over an EVM JSON-RPC endpoint:
// block headers, per-block log filters, reserve reads, eth_call with
// per-address state overrides, raw transaction submission, and receipt
// waits. Every other component talks to the chain exclusively through
// this package rather than touching ethclient/contractclient directly,
// grounded on the capability surface in the distilled spec's §4.1.
package chaingateway

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/sniperdex/sniperdex/pkg/contractclient"
	"github.com/sniperdex/sniperdex/pkg/txlistener"
)

// Gateway wraps a dialed ethclient connection and the pair/ERC20 ABIs
// needed to read reserves and balances without each caller re-packing
// calldata by hand.
type Gateway struct {
	client    *ethclient.Client
	listener  *txlistener.TxListener
	pairABI   abi.ABI
	erc20ABI  abi.ABI
	factory   common.Address
}

// New binds a Gateway to an already-dialed client plus the pair/ERC20
// ABIs (both needed for get_reserves/balanceOf calls against arbitrary
// pair/token addresses, so they aren't tied to one ContractClient).
func New(client *ethclient.Client, listener *txlistener.TxListener, factory common.Address, pairABI, erc20ABI abi.ABI) *Gateway {
	return &Gateway{client: client, listener: listener, pairABI: pairABI, erc20ABI: erc20ABI, factory: factory}
}

// BlockHeader mirrors the subset of an eth block header the strategy loop
// needs per tick.
type BlockHeader struct {
	Number    uint64
	Timestamp int64
	BaseFee   *big.Int
	GasUsed   uint64
	GasLimit  uint64
}

// LatestBlockTimestamp returns the latest block's unix timestamp, used by
// the executor to derive a tx deadline when an order didn't carry one.
func (g *Gateway) LatestBlockTimestamp(ctx context.Context) (int64, error) {
	head, err := g.GetBlockByTag(ctx)
	if err != nil {
		return 0, err
	}
	return head.Timestamp, nil
}

// GetBlockByTag fetches the latest header. Only "latest" is supported
// since the watcher is block-driven and never needs historical tags here.
func (g *Gateway) GetBlockByTag(ctx context.Context) (BlockHeader, error) {
	head, err := g.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return BlockHeader{}, fmt.Errorf("get_block_by_tag latest: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	return BlockHeader{
		Number:    head.Number.Uint64(),
		Timestamp: int64(head.Time),
		BaseFee:   baseFee,
		GasUsed:   head.GasUsed,
		GasLimit:  head.GasLimit,
	}, nil
}

// SubscribeNewHead subscribes over the long-lived WS connection; the
// watcher resumes on reconnect with no replay, per spec §4.2.
func (g *Gateway) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	sub, err := g.client.SubscribeNewHead(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe new heads: %w", err)
	}
	return sub, nil
}

// GetLogs filters logs matching q, used for PairCreated/Sync/Swap/Transfer
// queries scoped to a single block (FromBlock == ToBlock == target block).
func (g *Gateway) GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := g.client.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("get_logs: %w", err)
	}
	return logs, nil
}

// GetReserves reads a V2 pair's getReserves() -> (reserve0, reserve1, tsLast).
func (g *Gateway) GetReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, uint32, error) {
	data, err := g.pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, 0, fmt.Errorf("pack getReserves: %w", err)
	}
	raw, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: data}, nil)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("get_reserves %s: %w", pair, err)
	}
	out, err := g.pairABI.Unpack("getReserves", raw)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("unpack getReserves: %w", err)
	}
	r0 := out[0].(*big.Int)
	r1 := out[1].(*big.Int)
	tsLast := out[2].(uint32)
	return r0, r1, tsLast, nil
}

// BalanceOf reads an ERC-20's balanceOf(owner), used by the round-trip
// simulator's storage-slot probe.
func (g *Gateway) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := g.erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	raw, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s/%s: %w", token, owner, err)
	}
	out, err := g.erc20ABI.Unpack("balanceOf", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	return out[0].(*big.Int), nil
}

// CallWithOverride performs an eth_call against `to` with per-address
// balance/storage overrides, decoding the raw return bytes against outAbi
// for `method`. This is the load-bearing primitive the round-trip
// simulator is built on (spec §4.1, §4.3.1).
func (g *Gateway) CallWithOverride(ctx context.Context, to common.Address, caller *common.Address, overrides map[common.Address]contractclient.StateOverride, outAbi abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	cc := contractclient.NewContractClient(g.client, to, outAbi)
	return cc.CallWithOverride(ctx, caller, overrides, method, args...)
}

// GetTransactionCount returns the on-chain nonce for addr (pending state,
// matching the teacher's `PendingNonceAt` usage in contractclient.Send).
func (g *Gateway) GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	nonce, err := g.client.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("get_transaction_count %s: %w", addr, err)
	}
	return nonce, nil
}

// ChainID returns the network's chain ID, needed to build an
// EIP-1559-signed transaction.
func (g *Gateway) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := g.client.NetworkID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain_id: %w", err)
	}
	return id, nil
}

// NativeBalance returns an address's native-token (ETH) balance, used by
// the executor pool's periodic balance-cache refresh.
func (g *Gateway) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := g.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("get_balance %s: %w", addr, err)
	}
	return bal, nil
}

// SendRawTransaction broadcasts an already-signed transaction.
func (g *Gateway) SendRawTransaction(ctx context.Context, signed *types.Transaction) (common.Hash, error) {
	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send_raw_transaction: %w", err)
	}
	return signed.Hash(), nil
}

// WaitForReceipt polls until the transaction is mined or the listener's
// configured timeout elapses.
func (g *Gateway) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return g.listener.WaitForTransaction(ctx, hash)
}

// TransactionBlockNumber resolves the block a mined transaction landed in,
// used by the inspector to turn the explorer's creation-tx hash into the
// creation block that bounds its malicious-incoming-tx scan.
func (g *Gateway) TransactionBlockNumber(ctx context.Context, hash common.Hash) (uint64, error) {
	receipt, err := g.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return 0, fmt.Errorf("get_transaction_receipt %s: %w", hash, err)
	}
	return receipt.BlockNumber.Uint64(), nil
}

// Client exposes the underlying ethclient for callers (e.g. contractclient
// construction in the executor pool) that need the raw connection.
func (g *Gateway) Client() *ethclient.Client { return g.client }

// Factory returns the configured V2 factory address logs are filtered
// against for PairCreated events.
func (g *Gateway) Factory() common.Address { return g.factory }
