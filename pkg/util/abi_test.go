package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const minimalERC20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

func TestLoadABI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "erc20.json")
	assert.NoError(t, os.WriteFile(path, []byte(minimalERC20ABI), 0o644))

	parsed, err := LoadABI(path)
	assert.NoError(t, err)
	_, ok := parsed.Methods["balanceOf"]
	assert.True(t, ok)
}

func TestLoadABI_MissingFile(t *testing.T) {
	_, err := LoadABI(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadABIFromHardhatArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ERC20.json")
	artifact := `{"contractName":"ERC20","abi":` + minimalERC20ABI + `,"bytecode":"0x"}`
	assert.NoError(t, os.WriteFile(path, []byte(artifact), 0o644))

	parsed, err := LoadABIFromHardhatArtifact(path)
	assert.NoError(t, err)
	_, ok := parsed.Methods["balanceOf"]
	assert.True(t, ok)
}

func TestHex2Bytes(t *testing.T) {
	b, err := Hex2Bytes("0xdeadbeef")
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)

	b2, err := Hex2Bytes("deadbeef")
	assert.NoError(t, err)
	assert.Equal(t, b, b2)
}
