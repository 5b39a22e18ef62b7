package util

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// BalanceStorageSlot computes the storage slot of `mapping(address =>
// uint256) balances` declared at slot index `slotIndex`, for the given
// owner address: keccak256(pad32(owner) || pad32(slotIndex)). This is the
// standard Solidity layout for a single-level address-keyed mapping and is
// what the round-trip simulator probes across candidate slot indices to
// locate an ERC-20's balance storage without source access.
func BalanceStorageSlot(owner common.Address, slotIndex int) common.Hash {
	key := common.LeftPadBytes(owner.Bytes(), 32)
	idx := common.LeftPadBytes(big.NewInt(int64(slotIndex)).Bytes(), 32)
	return crypto.Keccak256Hash(append(key, idx...))
}

// AllowanceStorageSlot computes the storage slot of `mapping(address =>
// mapping(address => uint256)) allowances` declared at slot index
// `slotIndex`, for the given owner/spender pair:
// keccak256(pad32(spender) || keccak256(pad32(owner) || pad32(slotIndex))).
func AllowanceStorageSlot(owner, spender common.Address, slotIndex int) common.Hash {
	inner := BalanceStorageSlot(owner, slotIndex)
	outer := append(common.LeftPadBytes(spender.Bytes(), 32), inner.Bytes()...)
	return crypto.Keccak256Hash(outer)
}

// PadHexValue32 zero-pads a big.Int to a 64-hex-character (32-byte) value
// string, with a leading 0x, as required by eth_call stateDiff overrides.
func PadHexValue32(v *big.Int) string {
	b := common.LeftPadBytes(v.Bytes(), 32)
	return "0x" + common.Bytes2Hex(b)
}
