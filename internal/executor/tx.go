package executor

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	sniperdex "github.com/sniperdex/sniperdex"
)

// submit assembles bot.buy(token, deadline)/bot.sell(token, signer,
// deadline), signs it with acct's key, submits it, and waits for the
// receipt, per spec §4.4's "Transaction assembly".
func (p *Pool) submit(ctx context.Context, acct *Account, bot common.Address, order sniperdex.ExecutionOrder, deadline int64) (common.Hash, *types.Receipt, error) {
	var data []byte
	var err error
	var value *big.Int

	if order.IsBuy {
		data, err = p.botABI.Pack("buy", order.Pair.Token, big.NewInt(deadline))
		value = etherToWei(order.AmountIn)
	} else {
		data, err = p.botABI.Pack("sell", order.Pair.Token, acct.Address, big.NewInt(deadline))
		value = big.NewInt(0)
	}
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("pack order calldata: %w", err)
	}

	nonce, err := p.chain.GetTransactionCount(ctx, acct.Address)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("get_transaction_count: %w", err)
	}
	chainID, err := p.chain.ChainID(ctx)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("chain_id: %w", err)
	}

	gasWei := gweiToWei(p.cfg.GasPriceGwei)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasWei,
		GasFeeCap: gasWei,
		Gas:       p.cfg.GasLimit,
		To:        &bot,
		Value:     value,
		Data:      data,
	})

	privateKey, err := crypto.HexToECDSA(trimHexPrefix(acct.PrivateKeyHex))
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("parse private key: %w", err)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), privateKey)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("sign tx: %w", err)
	}

	txHash, err := p.chain.SendRawTransaction(ctx, signed)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("send_raw_transaction: %w", err)
	}

	receipt, err := p.chain.WaitForReceipt(ctx, txHash)
	if err != nil {
		return txHash, nil, fmt.Errorf("wait for receipt: %w", err)
	}
	return txHash, receipt, nil
}

// decodeSwapAmountOut scans receipt for the pair's Swap log and picks the
// output amount matching the buy/sell direction, per spec §4.4's
// "Post-receipt" rule: N = token_index for a buy, N = 1 - token_index for
// a sell.
func decodeSwapAmountOut(receipt *types.Receipt, pairABI abi.ABI, pair sniperdex.Pair, isBuy bool) decimal.Decimal {
	outIndex := pair.TokenIndex
	if !isBuy {
		outIndex = 1 - pair.TokenIndex
	}

	for _, l := range receipt.Logs {
		if l.Address != pair.Address || len(l.Topics) == 0 || l.Topics[0] != swapTopic {
			continue
		}
		if len(l.Data) < 128 {
			continue
		}
		amount0Out := new(big.Int).SetBytes(l.Data[64:96])
		amount1Out := new(big.Int).SetBytes(l.Data[96:128])
		if outIndex == 0 {
			return weiToEther(amount0Out)
		}
		return weiToEther(amount1Out)
	}
	return decimal.Zero
}

var swapTopic = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))

func weiToEther(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -18)
}
