package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	sniperdex "github.com/sniperdex/sniperdex"
	"github.com/sniperdex/sniperdex/internal/db"
	"github.com/sniperdex/sniperdex/internal/logging"
)

// defaultRetrySleep mirrors original_source/factory/bot_factory.py's
// RETRY_SLEEP_SECONDS constant.
const defaultRetrySleep = 10 * time.Second

// BotStore is the subset of db.Recorder the bot factory reads/writes.
type BotStore interface {
	FindAvailableBot(owner string, maxUsed int) (*db.BotRecord, error)
	UpsertBot(rec db.BotRecord) error
}

// BotCreationOrder requests a bot for owner, serialized through the
// factory's single request queue so two requests for the same owner
// never race, per spec §4.4/§5.
type BotCreationOrder struct {
	Owner      common.Address
	RetryTimes int
}

// BotFactoryConfig holds the on-chain createBot call's static arguments.
type BotFactoryConfig struct {
	Factory     common.Address
	FactoryABI  abi.ABI
	Impl        common.Address
	Router      common.Address
	PairFactory common.Address
	WETH        common.Address
	GasLimit     uint64
	GasPriceGwei decimal.Decimal
	MaxUsed      int
	RetrySleep  time.Duration
}

// BotFactory serializes bot-creation requests against a single manager
// account, grounded on original_source/factory/bot_factory.py.
type BotFactory struct {
	chain       ChainSender
	store       BotStore
	manager     common.Address
	managerKey  string
	cfg         BotFactoryConfig
	orders      chan BotCreationOrder
	results     chan sniperdex.Bot
	log         *logging.Logger
}

// NewBotFactory builds a BotFactory bound to one manager signing key.
func NewBotFactory(chain ChainSender, store BotStore, manager common.Address, managerKeyHex string, cfg BotFactoryConfig) *BotFactory {
	if cfg.RetrySleep <= 0 {
		cfg.RetrySleep = defaultRetrySleep
	}
	if cfg.MaxUsed <= 0 {
		cfg.MaxUsed = 1
	}
	return &BotFactory{
		chain:      chain,
		store:      store,
		manager:    manager,
		managerKey: managerKeyHex,
		cfg:        cfg,
		orders:     make(chan BotCreationOrder, 64),
		results:    make(chan sniperdex.Bot, 64),
		log:        logging.New("botfactory"),
	}
}

// Results returns the channel created/found bots are published on.
func (f *BotFactory) Results() <-chan sniperdex.Bot { return f.results }

// Enqueue submits a bot-creation request.
func (f *BotFactory) Enqueue(order BotCreationOrder) {
	f.orders <- order
}

// Run drains f.orders one at a time until ctx is cancelled.
func (f *BotFactory) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case order, ok := <-f.orders:
			if !ok {
				return
			}
			f.handle(ctx, order)
		}
	}
}

func (f *BotFactory) handle(ctx context.Context, order BotCreationOrder) {
	if rec, err := f.store.FindAvailableBot(order.Owner.Hex(), f.cfg.MaxUsed); err == nil && rec != nil {
		f.log.Infof("found available bot %s for owner %s in DB", rec.Address, order.Owner)
		f.results <- recordToBot(*rec)
		return
	}

	bot, err := f.createBotOnChain(ctx, order.Owner)
	if err != nil {
		f.log.Errorf("create bot for owner %s failed, retry in %s: %v", order.Owner, f.cfg.RetrySleep, err)
		next := BotCreationOrder{Owner: order.Owner, RetryTimes: order.RetryTimes + 1}
		go func() {
			select {
			case <-time.After(f.cfg.RetrySleep):
				f.Enqueue(next)
			case <-ctx.Done():
			}
		}()
		return
	}

	if err := f.store.UpsertBot(db.BotRecord{
		Address:    bot.Address.Hex(),
		Owner:      bot.Owner.Hex(),
		NumberUsed: 0,
		IsHolding:  false,
		IsFailed:   false,
	}); err != nil {
		f.log.Warnf("persist new bot %s: %v", bot.Address, err)
	}
	f.results <- bot
}

func (f *BotFactory) createBotOnChain(ctx context.Context, owner common.Address) (sniperdex.Bot, error) {
	salt := crypto.Keccak256Hash([]byte(fmt.Sprintf("%d", time.Now().UnixNano())))
	data, err := f.cfg.FactoryABI.Pack("createBot", f.cfg.Impl, salt, owner, f.cfg.Router, f.cfg.PairFactory, f.cfg.WETH)
	if err != nil {
		return sniperdex.Bot{}, fmt.Errorf("pack createBot: %w", err)
	}

	nonce, err := f.chain.GetTransactionCount(ctx, f.manager)
	if err != nil {
		return sniperdex.Bot{}, fmt.Errorf("get_transaction_count: %w", err)
	}
	chainID, err := f.chain.ChainID(ctx)
	if err != nil {
		return sniperdex.Bot{}, fmt.Errorf("chain_id: %w", err)
	}

	gasWei := gweiToWei(f.cfg.GasPriceGwei)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasWei,
		GasFeeCap: gasWei,
		Gas:       f.cfg.GasLimit,
		To:        &f.cfg.Factory,
		Data:      data,
	})

	privateKey, err := crypto.HexToECDSA(trimHexPrefix(f.managerKey))
	if err != nil {
		return sniperdex.Bot{}, fmt.Errorf("parse manager key: %w", err)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), privateKey)
	if err != nil {
		return sniperdex.Bot{}, fmt.Errorf("sign createBot tx: %w", err)
	}

	txHash, err := f.chain.SendRawTransaction(ctx, signed)
	if err != nil {
		return sniperdex.Bot{}, fmt.Errorf("send createBot tx: %w", err)
	}
	receipt, err := f.chain.WaitForReceipt(ctx, txHash)
	if err != nil {
		return sniperdex.Bot{}, fmt.Errorf("wait createBot receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return sniperdex.Bot{}, fmt.Errorf("BOT_CREATION_FAILED: tx %s reverted", txHash)
	}

	return decodeBotCreated(receipt, f.cfg.Factory, owner)
}

var botCreatedTopic = crypto.Keccak256Hash([]byte("BotCreated(address,address)"))

// decodeBotCreated reads the bot address (the second word) out of a
// BotCreated log's non-indexed data and pairs it with the owner passed in,
// matching the teacher's convention of decoding V2-style
// events by fixed byte offsets rather than a full ABI event unpack.
func decodeBotCreated(receipt *types.Receipt, factory, owner common.Address) (sniperdex.Bot, error) {
	for _, l := range receipt.Logs {
		if l.Address != factory || len(l.Topics) == 0 || l.Topics[0] != botCreatedTopic {
			continue
		}
		if len(l.Data) < 64 {
			continue
		}
		botAddr := common.BytesToAddress(l.Data[44:64])
		return sniperdex.Bot{
			Address:    botAddr,
			Owner:      owner,
			DeployedAt: time.Now().Unix(),
			NumberUsed: 0,
			IsHolding:  false,
			IsFailed:   false,
		}, nil
	}
	return sniperdex.Bot{}, fmt.Errorf("BotCreated log not found in receipt")
}

func recordToBot(rec db.BotRecord) sniperdex.Bot {
	return sniperdex.Bot{
		Address:    common.HexToAddress(rec.Address),
		Owner:      common.HexToAddress(rec.Owner),
		DeployedAt: rec.DeployedAt.Unix(),
		NumberUsed: rec.NumberUsed,
		IsHolding:  rec.IsHolding,
		IsFailed:   rec.IsFailed,
	}
}
