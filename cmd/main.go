package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	sniperdex "github.com/sniperdex/sniperdex"
	"github.com/sniperdex/sniperdex/configs"
	"github.com/sniperdex/sniperdex/internal/chaingateway"
	"github.com/sniperdex/sniperdex/internal/db"
	"github.com/sniperdex/sniperdex/internal/executor"
	"github.com/sniperdex/sniperdex/internal/explorer"
	"github.com/sniperdex/sniperdex/internal/inspector"
	"github.com/sniperdex/sniperdex/internal/logging"
	"github.com/sniperdex/sniperdex/internal/strategy"
	"github.com/sniperdex/sniperdex/internal/watcher"
	"github.com/sniperdex/sniperdex/pkg/txlistener"
	"github.com/sniperdex/sniperdex/pkg/util"
)

func main() {
	conf, err := configs.Load("configs/config.yml")
	if err != nil {
		panic(err)
	}

	log := logging.New("main")

	pairABI, err := util.LoadABI(conf.Topology.Contracts["pair"].ABI)
	if err != nil {
		panic(err)
	}
	erc20ABI, err := util.LoadABI(conf.Topology.Contracts["erc20"].ABI)
	if err != nil {
		panic(err)
	}
	botABI, err := util.LoadABI(conf.Topology.Contracts["bot"].ABI)
	if err != nil {
		panic(err)
	}
	factoryABI, err := util.LoadABI(conf.Topology.Contracts["bot_factory"].ABI)
	if err != nil {
		panic(err)
	}

	client, err := ethclient.Dial(conf.Chain.HTTPSURL)
	if err != nil {
		panic(err)
	}

	listener := txlistener.NewTxListener(
		client,
		txlistener.WithPollInterval(3*time.Second),
		txlistener.WithTimeout(5*time.Minute),
	)

	gw := chaingateway.New(client, listener, conf.Chain.FactoryAddr, pairABI, erc20ABI)

	recorder, err := db.NewMySQLRecorder(conf.DSN)
	if err != nil {
		panic(err)
	}
	defer recorder.Close()

	expl := explorer.New(conf.Explorer.APIURL, conf.Explorer.APIKeys)

	sim := inspector.NewRoundTripSimulator(gw, conf.Chain.InspectorBot, conf.Chain.ManagerAddr, botABI, erc20ABI)

	insp := inspector.New(recorder, expl, gw, sim, inspector.Config{
		ReserveMin:        conf.Strategy.ReserveETHMinThreshold,
		ReserveMax:        conf.Strategy.ReserveETHMaxThreshold,
		RogueFrozenWindow: conf.Strategy.RogueCreatorFrozen,
		MMAmountThreshold: decimal.NewFromFloat(0.01),
		SourceDenyMarkers: inspector.DefaultSourceDenyMarkers,
		SimulateAmountIn:  conf.Strategy.BuyAmount,
		TxListPageSize:    100,
	}, 5)

	managerKey, err := crypto.HexToECDSA(trimHex(conf.Chain.ManagerKeyHex))
	if err != nil {
		panic(fmt.Errorf("parse manager key: %w", err))
	}
	managerAddr := crypto.PubkeyToAddress(managerKey.PublicKey)

	accounts, err := buildAccounts(conf.Accounts.ExecutionKeys)
	if err != nil {
		panic(err)
	}

	botFactory := executor.NewBotFactory(gw, recorder, managerAddr, conf.Chain.ManagerKeyHex, executor.BotFactoryConfig{
		Factory:      conf.Chain.BotFactory,
		FactoryABI:   factoryABI,
		Impl:         conf.Chain.BotImpl,
		Router:       conf.Chain.RouterAddr,
		PairFactory:  conf.Chain.FactoryAddr,
		WETH:         conf.Chain.WETHAddr,
		GasLimit:     conf.Strategy.CreateBotGasLimit,
		GasPriceGwei: conf.Strategy.GasCostGwei,
		MaxUsed:      conf.Strategy.BotMaxNumberUsed,
		RetrySleep:   5 * time.Second,
	})

	pool := executor.New(accounts, gw, sim, botFactory, recorder, botABI, pairABI, executor.Config{
		GasLimit:          conf.Strategy.ExecutionGasLimit,
		GasPriceGwei:      conf.Strategy.GasCostGwei,
		DeadlineDelay:     90 * time.Second,
		BotMaxNumberUsed:  conf.Strategy.BotMaxNumberUsed,
		BalanceCacheEvery: 5 * time.Minute,
	})

	watch := watcher.New(gw, conf.Chain.FactoryAddr, conf.Chain.WETHAddr, pairABI, erc20ABI)

	orders := make(chan sniperdex.ExecutionOrder, 64)
	reports := make(chan sniperdex.ReportData, 256)
	strategyAcks := make(chan sniperdex.ExecutionAck, 64)
	control := make(chan sniperdex.ControlOrder, 1)

	strat := strategy.New(insp, expl, strategy.Config{
		WatchlistCapacity:    conf.Strategy.InventoryCapacity * 4,
		MaxInspectAttempts:   conf.Strategy.MaxInspectAttempts,
		InspectInterval:      conf.Strategy.InspectInterval,
		NumberTxMMThreshold:  conf.Strategy.NumberTxMMThreshold,
		ContractVerifiedReq:  conf.Strategy.ContractVerifiedRequired,
		InventoryCapacity:    conf.Strategy.InventoryCapacity,
		InitialBuyAmount:     conf.Strategy.BuyAmount,
		MinBuyAmount:         conf.Strategy.MinBuyAmount,
		MaxBuyAmount:         conf.Strategy.MaxBuyAmount,
		AmountChangeStep:     conf.Strategy.AmountChangeStep,
		MinExpectedPnL:       conf.Strategy.MinExpectedPnL,
		RiskRewardRatio:      conf.Strategy.RiskRewardRatio,
		EpochTimeHours:       int(conf.Strategy.EpochTime.Hours()),
		MaxGasPriceAllowance: conf.Strategy.MaxGasPriceAllowance,
		GasCostETH:           conf.Strategy.GasCostGwei,
		TakeProfitPercentage: conf.Strategy.TakeProfitPercentage,
		StopLossPercentage:   conf.Strategy.StopLossPercentage,
		HoldMaxDuration:      conf.Strategy.HoldMaxDuration,
		HardStopPnLThreshold: conf.Strategy.HardStopPnLThreshold,
		RunMode:              sniperdex.RunMode(conf.Strategy.RunMode),
	}, orders, reports)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if pending, err := recorder.PendingOpenPositions(time.Now()); err != nil {
		log.Warnf("bootstrap pending-position lookup failed: %v", err)
	} else if len(pending) > 0 {
		control <- sniperdex.ControlOrder{Type: sniperdex.ControlPendingPositions, Positions: toPositions(pending)}
		log.Infof("re-admitted %d pending open positions", len(pending))
	}

	go watch.Run(ctx)
	go pool.Run(ctx, orders)
	go strat.Run(ctx, watch.Ticks(), strategyAcks, control)
	go fanOutAcks(ctx, pool.Acks(), strategyAcks, watch)
	go drainReports(ctx, reports, recorder, log)

	<-ctx.Done()
	log.Infof("shutdown signal received, exiting without waiting for workers")
}

// buildAccounts derives each executor account's address from its private
// key, extending the teacher's single-key ENC_PK/KEY pattern to a pool of
// comma-separated EXECUTION_KEYS (see SPEC_FULL.md's executor-pool
// expansion).
func buildAccounts(keys []string) ([]*executor.Account, error) {
	accounts := make([]*executor.Account, 0, len(keys))
	for _, k := range keys {
		key, err := crypto.HexToECDSA(trimHex(k))
		if err != nil {
			return nil, fmt.Errorf("parse execution key: %w", err)
		}
		accounts = append(accounts, &executor.Account{
			Address:       crypto.PubkeyToAddress(key.PublicKey),
			PrivateKeyHex: k,
		})
	}
	return accounts, nil
}

func trimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// fanOutAcks mirrors every ExecutionAck from the executor pool to both
// the strategy's ack channel and the watcher's inventory mirror, per
// spec §4.2's inventory-mirror maintenance running alongside the
// strategy's own bookkeeping.
func fanOutAcks(ctx context.Context, acks <-chan sniperdex.ExecutionAck, strategyAcks chan<- sniperdex.ExecutionAck, watch *watcher.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ack, ok := <-acks:
			if !ok {
				return
			}
			watch.HandleAck(ctx, ack)
			select {
			case strategyAcks <- ack:
			case <-ctx.Done():
				return
			}
		}
	}
}

// drainReports translates each ReportData envelope off the strategy into
// the recorder's persistence calls, the glue the original's reporter
// coroutine plays between the strategy and the database.
func drainReports(ctx context.Context, reports <-chan sniperdex.ReportData, recorder *db.Recorder, log *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case rep, ok := <-reports:
			if !ok {
				return
			}
			if err := applyReport(recorder, rep); err != nil {
				log.Warnf("apply report %d failed: %v", rep.Type, err)
			}
		}
	}
}

func applyReport(recorder *db.Recorder, rep sniperdex.ReportData) error {
	switch rep.Type {
	case sniperdex.ReportBlock:
		if rep.Block == nil || len(rep.Block.NewPairs) == 0 {
			return nil
		}
		if err := recorder.RecordBlock(rep.Block.BlockNumber, rep.Block.BlockTimestamp, rep.Block.BaseFee.String(), rep.Block.GasUsed, rep.Block.GasLimit); err != nil {
			return err
		}
		for _, pair := range rep.Block.NewPairs {
			if err := recorder.UpsertPair(toPairRecord(pair)); err != nil {
				return err
			}
		}
		return nil

	case sniperdex.ReportExecution:
		if rep.Ack == nil {
			return nil
		}
		return recordExecutionAck(recorder, *rep.Ack)

	case sniperdex.ReportWatchlistAdded, sniperdex.ReportWatchlistRemoved:
		if rep.Pair == nil {
			return nil
		}
		return recorder.UpsertPair(toPairRecord(*rep.Pair))

	case sniperdex.ReportBlacklistAdded, sniperdex.ReportBlacklistBootstrap:
		now := time.Now()
		for _, addr := range rep.Blacklist {
			if err := recorder.SaveBlacklist(addr.Hex(), now); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func recordExecutionAck(recorder *db.Recorder, ack sniperdex.ExecutionAck) error {
	status := 0
	if ack.Status == sniperdex.TxSuccess {
		status = 1
	}
	txID, err := recorder.RecordTransaction(ack.TxHash.Hex(), status)
	if err != nil {
		return err
	}

	if ack.IsBuy {
		if ack.Status != sniperdex.TxSuccess {
			return nil
		}
		pairID, err := recorder.FindPairIDByAddress(ack.Pair.Address.Hex())
		if err != nil {
			return err
		}
		posID, err := recorder.RecordPositionOpen(db.PositionRecord{
			PairID:      pairID,
			Amount:      ack.AmountOut.String(),
			BuyPrice:    pricePerToken(ack.AmountOut, ack.AmountIn).String(),
			Investment:  ack.AmountIn.String(),
			PurchasedAt: time.Now(),
			Signer:      ack.Signer.Hex(),
			Bot:         ack.Bot.Hex(),
			IsPaper:     ack.IsPaper,
		})
		if err != nil {
			return err
		}
		return recorder.RecordPositionTransaction(posID, txID, true)
	}

	pos, err := recorder.FindOpenPositionByPairAddress(ack.Pair.Address.Hex())
	if err != nil || pos == nil {
		return err
	}
	sellPrice := pricePerToken(ack.AmountIn, ack.AmountOut).String()
	investment := mustDecimal(pos.Investment)
	pnl := ack.AmountOut.Sub(investment)
	returns := decimal.Zero
	if !investment.IsZero() {
		returns = pnl.Div(investment).Mul(decimal.NewFromInt(100))
	}
	if err := recorder.RecordPositionClose(pos.ID, sellPrice, pnl.String(), returns.String(), time.Now()); err != nil {
		return err
	}
	return recorder.RecordPositionTransaction(pos.ID, txID, false)
}

func pricePerToken(tokenAmt, ethAmt decimal.Decimal) decimal.Decimal {
	if tokenAmt.IsZero() {
		return decimal.Zero
	}
	return ethAmt.Div(tokenAmt)
}

func toPairRecord(p sniperdex.Pair) db.PairRecord {
	return db.PairRecord{
		Address:       p.Address.Hex(),
		Token:         p.Token.Hex(),
		TokenIndex:    p.TokenIndex,
		ReserveToken:  p.ReserveToken.String(),
		ReserveETH:    p.ReserveETH.String(),
		Creator:       p.Creator.Hex(),
		DeployedBlock: p.LastInspectedBlock,
	}
}

func toPositions(rows []db.PendingOpenPosition) []sniperdex.Position {
	out := make([]sniperdex.Position, 0, len(rows))
	for _, row := range rows {
		out = append(out, sniperdex.Position{
			Pair:        sniperdex.Pair{Address: common.HexToAddress(row.PairAddress), TokenIndex: row.TokenIndex},
			AmountToken: mustDecimal(row.Amount),
			BuyPrice:    mustDecimal(row.BuyPrice),
			StartTime:   row.PurchasedAt.Unix(),
			Signer:      common.HexToAddress(row.Signer),
			Bot:         common.HexToAddress(row.Bot),
			IsPaper:     row.IsPaper,
		})
	}
	return out
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
