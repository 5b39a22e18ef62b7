// Package contractclient wraps a single on-chain contract (address + ABI)
// with typed call, send, and transaction-decoding helpers, plus an
// eth_call variant that accepts per-address balance/storage overrides for
// running a transaction against hypothetical state without committing it.
package contractclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ContractClient binds an ABI to a single deployed contract address and a
// chain connection, and is the unit every domain package (inspector,
// executor) calls through rather than touching ethclient directly.
type ContractClient struct {
	client  *ethclient.Client
	address common.Address
	abi     abi.ABI
}

// NewContractClient constructs a client bound to one contract address.
func NewContractClient(client *ethclient.Client, address common.Address, contractAbi abi.ABI) *ContractClient {
	return &ContractClient{client: client, address: address, abi: contractAbi}
}

// Abi returns the bound ABI.
func (c *ContractClient) Abi() abi.ABI {
	return c.abi
}

// ContractAddress returns the bound contract address.
func (c *ContractClient) ContractAddress() common.Address {
	return c.address
}

// Call performs a read-only eth_call against the bound contract and
// unpacks the result according to the named method's outputs. callerAddr
// is optional (nil leaves msg.sender unset).
func (c *ContractClient) Call(ctx context.Context, callerAddr *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &c.address, Data: data}
	if callerAddr != nil {
		msg.From = *callerAddr
	}

	raw, err := c.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// StateOverride is a single account's balance/storage override for a
// CallWithOverride invocation, matching the eth_call override object
// accepted by go-ethereum-compatible nodes.
type StateOverride struct {
	// Balance overrides the account's wei balance; nil leaves it untouched.
	Balance *big.Int
	// StateDiff overrides individual storage slots without clearing the
	// rest of the account's storage.
	StateDiff map[common.Hash]common.Hash
}

type overrideAccountJSON struct {
	Balance   *hexutil.Big                `json:"balance,omitempty"`
	StateDiff map[common.Hash]common.Hash `json:"stateDiff,omitempty"`
}

// CallWithOverride performs an eth_call with per-address state overrides,
// the primitive the pair inspector uses to simulate a buy-then-sell round
// trip (crediting an account a token balance via a storage-slot override)
// without ever broadcasting a transaction.
func (c *ContractClient) CallWithOverride(ctx context.Context, callerAddr *common.Address, overrides map[common.Address]StateOverride, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	callArg := map[string]interface{}{
		"to":   c.address,
		"data": hexutil.Bytes(data),
	}
	if callerAddr != nil {
		callArg["from"] = *callerAddr
	}

	overrideArg := make(map[common.Address]overrideAccountJSON, len(overrides))
	for addr, ov := range overrides {
		entry := overrideAccountJSON{StateDiff: ov.StateDiff}
		if ov.Balance != nil {
			entry.Balance = (*hexutil.Big)(ov.Balance)
		}
		overrideArg[addr] = entry
	}

	var result hexutil.Bytes
	if err := c.client.Client().CallContext(ctx, &result, "eth_call", callArg, "latest", overrideArg); err != nil {
		return nil, fmt.Errorf("eth_call with override %s: %w", method, err)
	}

	out, err := c.abi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// Send signs and broadcasts an EIP-1559 transaction invoking method on the
// bound contract, and returns the resulting transaction hash without
// waiting for a receipt (the caller uses txlistener for that). value may
// be nil for a non-payable call.
func (c *ContractClient) Send(ctx context.Context, from common.Address, privateKeyHex string, value *big.Int, gasLimit uint64, method string, args ...interface{}) (common.Hash, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}
	if value == nil {
		value = big.NewInt(0)
	}

	privateKey, err := crypto.HexToECDSA(trimHexPrefix(privateKeyHex))
	if err != nil {
		return common.Hash{}, fmt.Errorf("parse private key: %w", err)
	}

	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}

	chainID, err := c.client.NetworkID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch chain id: %w", err)
	}

	tipCap, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest tip cap: %w", err)
	}
	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch head: %w", err)
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &c.address,
		Value:     value,
		Data:      data,
	})

	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := types.SignTx(tx, signer, privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	return signedTx.Hash(), nil
}

// ParseReceipt extracts the logs emitted by the bound contract out of a
// transaction receipt, ignoring logs from other addresses (e.g. WETH
// Transfer events emitted alongside a Swap).
func (c *ContractClient) ParseReceipt(receipt *types.Receipt) ([]types.Log, error) {
	if receipt == nil {
		return nil, fmt.Errorf("nil receipt")
	}
	var own []types.Log
	for _, l := range receipt.Logs {
		if l.Address == c.address {
			own = append(own, *l)
		}
	}
	return own, nil
}

// TransactionData fetches a previously broadcast transaction's calldata by
// hash.
func (c *ContractClient) TransactionData(ctx context.Context, hash common.Hash) ([]byte, error) {
	tx, _, err := c.client.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction %s: %w", hash, err)
	}
	return tx.Data(), nil
}

// DecodedTransaction is the ABI-resolved view of a transaction's calldata.
type DecodedTransaction struct {
	MethodName string
	Inputs     map[string]interface{}
}

// DecodeTransaction resolves calldata against the bound ABI by 4-byte
// selector and unpacks its arguments into a name-keyed map.
func (c *ContractClient) DecodeTransaction(data []byte) (*DecodedTransaction, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("resolve method selector: %w", err)
	}

	args := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, fmt.Errorf("unpack inputs for %s: %w", method.Name, err)
	}
	return &DecodedTransaction{MethodName: method.Name, Inputs: args}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
