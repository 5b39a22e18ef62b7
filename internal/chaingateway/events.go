package chaingateway

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Topic hashes for the four Uniswap-V2-style events the gateway filters
// on. Computed once at init from their canonical signatures rather than
// loaded from a full contract ABI, since these four signatures are fixed
// across the whole V2-fork family this bot targets.
var (
	topicPairCreated = crypto.Keccak256Hash([]byte("PairCreated(address,address,address,uint256)"))
	topicSync        = crypto.Keccak256Hash([]byte("Sync(uint112,uint112)"))
	topicSwap        = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))
	topicTransfer    = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

// PairCreatedEvent mirrors the V2 factory's PairCreated log.
type PairCreatedEvent struct {
	Token0      common.Address
	Token1      common.Address
	Pair        common.Address
	AllPairsLen *big.Int
}

// SyncEvent mirrors a pair's Sync log: the reserves after the triggering
// swap/mint/burn settled.
type SyncEvent struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// SwapEvent mirrors a pair's Swap log, carrying both input amounts (one of
// which is always zero) and both output amounts (ditto).
type SwapEvent struct {
	Sender     common.Address
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
	To         common.Address
}

// AmountOut returns the output amount for the side indexed by tokenIndex
// (0 or 1), the quantity the executor decodes post-receipt.
func (s SwapEvent) AmountOut(tokenIndex int) *big.Int {
	if tokenIndex == 0 {
		return s.Amount0Out
	}
	return s.Amount1Out
}

// AmountIn returns the input amount for the side indexed by tokenIndex.
func (s SwapEvent) AmountIn(tokenIndex int) *big.Int {
	if tokenIndex == 0 {
		return s.Amount0In
	}
	return s.Amount1In
}

// TransferEvent mirrors an ERC-20 Transfer log.
type TransferEvent struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
}

func decodePairCreated(topics []common.Hash, data []byte) (PairCreatedEvent, bool) {
	if len(topics) != 3 || len(data) < 64 {
		return PairCreatedEvent{}, false
	}
	return PairCreatedEvent{
		Token0:      common.BytesToAddress(topics[1].Bytes()),
		Token1:      common.BytesToAddress(topics[2].Bytes()),
		Pair:        common.BytesToAddress(data[:32]),
		AllPairsLen: new(big.Int).SetBytes(data[32:64]),
	}, true
}

func decodeSync(data []byte) (SyncEvent, bool) {
	if len(data) < 64 {
		return SyncEvent{}, false
	}
	return SyncEvent{
		Reserve0: new(big.Int).SetBytes(data[:32]),
		Reserve1: new(big.Int).SetBytes(data[32:64]),
	}, true
}

func decodeSwap(topics []common.Hash, data []byte) (SwapEvent, bool) {
	if len(topics) != 3 || len(data) < 128 {
		return SwapEvent{}, false
	}
	return SwapEvent{
		Sender:     common.BytesToAddress(topics[1].Bytes()),
		Amount0In:  new(big.Int).SetBytes(data[:32]),
		Amount1In:  new(big.Int).SetBytes(data[32:64]),
		Amount0Out: new(big.Int).SetBytes(data[64:96]),
		Amount1Out: new(big.Int).SetBytes(data[96:128]),
		To:         common.BytesToAddress(topics[2].Bytes()),
	}, true
}

func decodeTransfer(topics []common.Hash, data []byte) (TransferEvent, bool) {
	if len(topics) != 3 || len(data) < 32 {
		return TransferEvent{}, false
	}
	return TransferEvent{
		From:   common.BytesToAddress(topics[1].Bytes()),
		To:     common.BytesToAddress(topics[2].Bytes()),
		Amount: new(big.Int).SetBytes(data[:32]),
	}, true
}
