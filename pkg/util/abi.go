package util

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// hardhatArtifact is the subset of a Hardhat/Foundry compilation artifact
// this module needs: the contract's ABI, embedded as raw JSON.
type hardhatArtifact struct {
	ABI json.RawMessage `json:"abi"`
}

// LoadABI reads a bare ABI JSON array from disk and parses it.
func LoadABI(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read abi file %s: %w", path, err)
	}
	parsed, err := abi.JSON(strings.NewReader(string(data)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi %s: %w", path, err)
	}
	return parsed, nil
}

// LoadABIFromHardhatArtifact reads a full Hardhat/Foundry artifact JSON
// file and parses its embedded "abi" field.
func LoadABIFromHardhatArtifact(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read artifact %s: %w", path, err)
	}
	var artifact hardhatArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return abi.ABI{}, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	parsed, err := abi.JSON(strings.NewReader(string(artifact.ABI)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse embedded abi %s: %w", path, err)
	}
	return parsed, nil
}

// Hex2Bytes decodes a hex string, tolerating an optional "0x" prefix.
func Hex2Bytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}
