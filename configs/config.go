// Package configs loads sniperdex's static topology (YAML) and secret
// material (environment variables), mirroring the teacher's split between
// a checked-in config.yml for contract addresses/ABIs and environment
// variables for anything sensitive or deployment-specific.
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sniperdex/sniperdex/pkg/util"
)

// ContractYAMLData is a single {address, abi path} pair loaded from
// config.yml, keyed by logical contract name (factory, router, bot,
// inspector_bot, ...).
type ContractYAMLData struct {
	Address string `yaml:"address"`
	ABI     string `yaml:"abi"`
}

// TopologyConfig is the checked-in, non-secret configuration: contract
// addresses and ABI paths. Everything deployment-specific or sensitive
// lives in the environment instead (see StrategyConfig, ChainConfig).
type TopologyConfig struct {
	Contracts map[string]ContractYAMLData `yaml:"contracts"`
}

// LoadTopology reads and parses config.yml.
func LoadTopology(path string) (*TopologyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg TopologyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return &cfg, nil
}

// ChainConfig holds the RPC endpoints and well-known contract addresses
// every component needs to talk to the chain.
type ChainConfig struct {
	HTTPSURL      string
	WSSURL        string
	FactoryAddr   common.Address
	RouterAddr    common.Address
	WETHAddr      common.Address
	BotFactory    common.Address
	BotImpl       common.Address
	InspectorBot  common.Address
	ManagerAddr   common.Address
	ManagerKeyHex string
}

// AccountsConfig holds the signing material for the executor pool.
type AccountsConfig struct {
	ExecutionKeys []string
}

// ExplorerConfig holds the Etherscan-compatible explorer API access
// material, including the comma-separated API keys the inspector
// round-robins across.
type ExplorerConfig struct {
	APIKeys []string
	APIURL  string
}

// StrategyConfig holds every numeric knob governing the inspector,
// inventory, and strategy state machines. Durations are pre-converted
// from the raw integer env vars (seconds, except EpochTime, which is read
// from EPOCH_TIME_HOURS); monetary/percentage fields use
// decimal.Decimal per the module's no-float-for-money rule.
type StrategyConfig struct {
	ReserveETHMinThreshold   decimal.Decimal
	ReserveETHMaxThreshold   decimal.Decimal
	MaxInspectAttempts       int
	InspectInterval          time.Duration
	NumberTxMMThreshold      int
	InventoryCapacity        int
	BuyAmount                decimal.Decimal
	MinBuyAmount             decimal.Decimal
	MaxBuyAmount             decimal.Decimal
	AmountChangeStep         decimal.Decimal
	MinExpectedPnL           decimal.Decimal
	RiskRewardRatio          decimal.Decimal
	EpochTime                time.Duration
	MaxGasPriceAllowance     decimal.Decimal
	GasCostGwei              decimal.Decimal
	ExecutionGasLimit        uint64
	CreateBotGasLimit        uint64
	BotMaxNumberUsed         int
	TakeProfitPercentage     decimal.Decimal
	StopLossPercentage       decimal.Decimal
	HoldMaxDuration          time.Duration
	HardStopPnLThreshold     decimal.Decimal
	RogueCreatorFrozen       time.Duration
	ContractVerifiedRequired bool
	RunMode                  int
	LogLevel                 string
}

// Config is the fully assembled, ready-to-use configuration: topology
// loaded from YAML, everything else loaded and decrypted from the
// environment.
type Config struct {
	Topology *TopologyConfig
	Chain    ChainConfig
	Accounts AccountsConfig
	Explorer ExplorerConfig
	Strategy StrategyConfig
	DSN      string
}

// Load reads config.yml at yamlPath and layers the environment on top,
// decrypting the manager private key from MANAGER_KEY with the KEY env
// var, the same decrypt pattern as the teacher's cmd/main.go.
func Load(yamlPath string) (*Config, error) {
	topology, err := LoadTopology(yamlPath)
	if err != nil {
		return nil, err
	}

	managerKey, err := decryptManagerKey()
	if err != nil {
		return nil, err
	}

	chain := ChainConfig{
		HTTPSURL:      mustEnv("HTTPS_URL"),
		WSSURL:        mustEnv("WSS_URL"),
		FactoryAddr:   common.HexToAddress(mustEnv("FACTORY_ADDRESS")),
		RouterAddr:    common.HexToAddress(mustEnv("ROUTER_ADDRESS")),
		WETHAddr:      common.HexToAddress(mustEnv("WETH_ADDRESS")),
		BotFactory:    common.HexToAddress(mustEnv("BOT_FACTORY")),
		BotImpl:       common.HexToAddress(mustEnv("BOT_IMPLEMENTATION")),
		InspectorBot:  common.HexToAddress(mustEnv("INSPECTOR_BOT")),
		ManagerAddr:   common.HexToAddress(mustEnv("MANAGER_ADDRESS")),
		ManagerKeyHex: managerKey,
	}

	accounts := AccountsConfig{ExecutionKeys: splitCSV(mustEnv("EXECUTION_KEYS"))}

	explorer := ExplorerConfig{
		APIKeys: splitCSV(mustEnv("BASESCAN_API_KEYS")),
		APIURL:  mustEnv("ETHERSCAN_API_URL"),
	}

	strategy, err := loadStrategyConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Topology: topology,
		Chain:    chain,
		Accounts: accounts,
		Explorer: explorer,
		Strategy: *strategy,
		DSN:      os.Getenv("MYSQL_DSN"),
	}, nil
}

func loadStrategyConfig() (*StrategyConfig, error) {
	var cfg StrategyConfig
	var err error

	if cfg.ReserveETHMinThreshold, err = decimalEnv("RESERVE_ETH_MIN_THRESHOLD"); err != nil {
		return nil, err
	}
	if cfg.ReserveETHMaxThreshold, err = decimalEnv("RESERVE_ETH_MAX_THRESHOLD"); err != nil {
		return nil, err
	}
	if cfg.MaxInspectAttempts, err = intEnv("MAX_INSPECT_ATTEMPTS"); err != nil {
		return nil, err
	}
	intervalSec, err := intEnv("INSPECT_INTERVAL_SECONDS")
	if err != nil {
		return nil, err
	}
	cfg.InspectInterval = time.Duration(intervalSec) * time.Second

	if cfg.NumberTxMMThreshold, err = intEnv("NUMBER_TX_MM_THRESHOLD"); err != nil {
		return nil, err
	}
	if cfg.InventoryCapacity, err = intEnv("INVENTORY_CAPACITY"); err != nil {
		return nil, err
	}
	if cfg.BuyAmount, err = decimalEnv("BUY_AMOUNT"); err != nil {
		return nil, err
	}
	if cfg.MinBuyAmount, err = decimalEnv("MIN_BUY_AMOUNT"); err != nil {
		return nil, err
	}
	if cfg.MaxBuyAmount, err = decimalEnv("MAX_BUY_AMOUNT"); err != nil {
		return nil, err
	}
	if cfg.AmountChangeStep, err = decimalEnv("AMOUNT_CHANGE_STEP"); err != nil {
		return nil, err
	}
	if cfg.MinExpectedPnL, err = decimalEnv("MIN_EXPECTED_PNL"); err != nil {
		return nil, err
	}
	if cfg.RiskRewardRatio, err = decimalEnv("RISK_REWARD_RATIO"); err != nil {
		return nil, err
	}
	epochHours, err := intEnv("EPOCH_TIME_HOURS")
	if err != nil {
		return nil, err
	}
	cfg.EpochTime = time.Duration(epochHours) * time.Hour

	if cfg.MaxGasPriceAllowance, err = decimalEnv("MAX_GAS_PRICE_ALLOWANCE"); err != nil {
		return nil, err
	}
	if cfg.GasCostGwei, err = decimalEnv("GAS_COST_GWEI"); err != nil {
		return nil, err
	}
	execGasLimit, err := intEnv("EXECUTION_GAS_LIMIT")
	if err != nil {
		return nil, err
	}
	cfg.ExecutionGasLimit = uint64(execGasLimit)

	createBotGasLimit, err := intEnv("CREATE_BOT_GAS_LIMIT")
	if err != nil {
		return nil, err
	}
	cfg.CreateBotGasLimit = uint64(createBotGasLimit)

	if cfg.BotMaxNumberUsed, err = intEnv("BOT_MAX_NUMBER_USED"); err != nil {
		return nil, err
	}
	if cfg.TakeProfitPercentage, err = decimalEnv("TAKE_PROFIT_PERCENTAGE"); err != nil {
		return nil, err
	}
	if cfg.StopLossPercentage, err = decimalEnv("STOP_LOSS_PERCENTAGE"); err != nil {
		return nil, err
	}
	holdSec, err := intEnv("HOLD_MAX_DURATION_SECONDS")
	if err != nil {
		return nil, err
	}
	cfg.HoldMaxDuration = time.Duration(holdSec) * time.Second

	if cfg.HardStopPnLThreshold, err = decimalEnv("HARD_STOP_PNL_THRESHOLD"); err != nil {
		return nil, err
	}
	frozenSec, err := intEnv("ROGUE_CREATOR_FROZEN_SECONDS")
	if err != nil {
		return nil, err
	}
	cfg.RogueCreatorFrozen = time.Duration(frozenSec) * time.Second

	cfg.ContractVerifiedRequired = os.Getenv("CONTRACT_VERIFIED_REQUIRED") == "1" ||
		strings.EqualFold(os.Getenv("CONTRACT_VERIFIED_REQUIRED"), "true")

	if cfg.RunMode, err = intEnv("RUN_MODE"); err != nil {
		return nil, err
	}

	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return &cfg, nil
}

func decryptManagerKey() (string, error) {
	encryptedPK := os.Getenv("MANAGER_KEY")
	if encryptedPK == "" {
		return "", fmt.Errorf("FATAL_CONFIG: MANAGER_KEY not set")
	}
	key := os.Getenv("KEY")
	if key == "" {
		return "", fmt.Errorf("FATAL_CONFIG: KEY not set")
	}
	pk, err := util.Decrypt([]byte(key), encryptedPK)
	if err != nil {
		return "", fmt.Errorf("FATAL_CONFIG: decrypt MANAGER_KEY: %w", err)
	}
	return pk, nil
}

func mustEnv(name string) string {
	v := os.Getenv(name)
	return v
}

func intEnv(name string) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, fmt.Errorf("FATAL_CONFIG: %s not set", name)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("FATAL_CONFIG: %s malformed: %w", name, err)
	}
	return n, nil
}

func decimalEnv(name string) (decimal.Decimal, error) {
	v := os.Getenv(name)
	if v == "" {
		return decimal.Zero, fmt.Errorf("FATAL_CONFIG: %s not set", name)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("FATAL_CONFIG: %s malformed: %w", name, err)
	}
	return d, nil
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
