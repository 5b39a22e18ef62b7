package util

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestBalanceStorageSlot_Deterministic(t *testing.T) {
	owner := common.HexToAddress("0xb4dd4fb3D4bCED984cce972991fB100488b5922")
	slotA := BalanceStorageSlot(owner, 0)
	slotB := BalanceStorageSlot(owner, 0)
	assert.Equal(t, slotA, slotB)

	slotC := BalanceStorageSlot(owner, 1)
	assert.NotEqual(t, slotA, slotC)
}

func TestAllowanceStorageSlot_DiffersFromBalance(t *testing.T) {
	owner := common.HexToAddress("0x14e4a5bed2e5e688ee1a5ca3a4914250d1abd573")
	spender := common.HexToAddress("0xcd94a87696fac69edae3a70fe5725307ae1c43f6")

	balanceSlot := BalanceStorageSlot(owner, 9)
	allowanceSlot := AllowanceStorageSlot(owner, spender, 9)
	assert.NotEqual(t, balanceSlot, allowanceSlot)
}

func TestPadHexValue32(t *testing.T) {
	got := PadHexValue32(big.NewInt(255))
	want := "0x" + strings.Repeat("0", 62) + "ff"
	assert.Equal(t, want, got)
	assert.Len(t, got, 2+64)
}
