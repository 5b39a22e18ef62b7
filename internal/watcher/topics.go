package watcher

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var transferTopic = crypto256("Transfer(address,address,uint256)")

func crypto256(sig string) common.Hash {
	return crypto.Keccak256Hash([]byte(sig))
}
