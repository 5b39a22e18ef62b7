// Package strategy implements the Strategy (C5): the single state machine
// owning the watchlist, the open-position inventory, the epoch PnL
// accumulator, and the adaptive buy-sizing/kill-switch controller. It
// consumes BlockTicks, ExecutionAcks, and bootstrap ControlOrders off three
// channels on one goroutine, so none of its state needs a mutex — unlike
// the watcher's inventory mirror (internal/watcher/watcher.go), which is
// touched by several concurrent per-pair goroutines and needs one.
// Grounded on original_source/main.py's strategy()/handle_execution_report()/
// handle_control_order() coroutines, per the distilled spec's §4.5.
package strategy

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	sniperdex "github.com/sniperdex/sniperdex"
	"github.com/sniperdex/sniperdex/internal/inspector"
	"github.com/sniperdex/sniperdex/internal/logging"
	"github.com/sniperdex/sniperdex/pkg/util"
)

// Inspector is the subset of inspector.Inspector the strategy needs to
// vet a batch of pairs at a given block.
type Inspector interface {
	InspectBatch(ctx context.Context, pairs []sniperdex.Pair, block uint64, mode inspector.Mode) []inspector.Result
}

// GasOracle is the subset of explorer.Client the buy-order gate needs.
type GasOracle interface {
	GasOracle(ctx context.Context) (decimal.Decimal, error)
}

// Config holds every numeric knob the strategy's state machine reads,
// populated in cmd/main.go from configs.StrategyConfig (see SPEC_FULL.md
// §6); the field sets differ (e.g. WatchlistCapacity, EpochTimeHours).
type Config struct {
	WatchlistCapacity    int
	MaxInspectAttempts   int
	InspectInterval      time.Duration
	NumberTxMMThreshold  int
	ContractVerifiedReq  bool
	InventoryCapacity    int
	InitialBuyAmount     decimal.Decimal
	MinBuyAmount         decimal.Decimal
	MaxBuyAmount         decimal.Decimal
	AmountChangeStep     decimal.Decimal
	MinExpectedPnL       decimal.Decimal
	RiskRewardRatio      decimal.Decimal
	EpochTimeHours       int
	MaxGasPriceAllowance decimal.Decimal
	GasCostETH           decimal.Decimal
	TakeProfitPercentage decimal.Decimal
	StopLossPercentage   decimal.Decimal
	HoldMaxDuration      time.Duration
	HardStopPnLThreshold decimal.Decimal
	RunMode              sniperdex.RunMode
}

// Strategy is the single watchlist/inventory/epoch-PnL/buy-sizing state
// machine, run by exactly one goroutine (Run).
type Strategy struct {
	watchlist []sniperdex.Pair
	inventory []sniperdex.Position

	fulfilled   int
	liquidating bool
	autoRun     bool
	buyAmount   decimal.Decimal
	epoch       sniperdex.EpochPnL

	inspector Inspector
	gas       GasOracle
	cfg       Config
	log       *logging.Logger

	orders  chan<- sniperdex.ExecutionOrder
	reports chan<- sniperdex.ReportData
}

// New builds a Strategy bound to its downstream order/report sinks.
func New(ins Inspector, gas GasOracle, cfg Config, orders chan<- sniperdex.ExecutionOrder, reports chan<- sniperdex.ReportData) *Strategy {
	return &Strategy{
		inspector: ins,
		gas:       gas,
		cfg:       cfg,
		buyAmount: cfg.InitialBuyAmount,
		autoRun:   true,
		epoch:     sniperdex.EpochPnL{EpochStart: time.Now()},
		orders:    orders,
		reports:   reports,
		log:       logging.New("strategy"),
	}
}

// Run drains ticks/acks/control on one goroutine until ctx is cancelled,
// per spec §5's "Strategy's state is mutated only by its own goroutine."
func (s *Strategy) Run(ctx context.Context, ticks <-chan sniperdex.BlockTick, acks <-chan sniperdex.ExecutionAck, control <-chan sniperdex.ControlOrder) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			s.handleTick(ctx, tick)
		case ack, ok := <-acks:
			if !ok {
				return
			}
			s.handleAck(ack)
		case order, ok := <-control:
			if !ok {
				return
			}
			s.handleControl(order)
		}
	}
}

func (s *Strategy) handleTick(ctx context.Context, tick sniperdex.BlockTick) {
	if len(tick.NewPairs) > 0 {
		s.sendReport(sniperdex.ReportData{Type: sniperdex.ReportBlock, Block: &tick})
	}

	s.log.Infof("epoch cumulative PnL %s%% since %s, expected %s%%",
		s.epoch.CumulativePct.StringFixed(4), s.epoch.EpochStart.Format(time.RFC3339),
		s.expectedPnL().StringFixed(4))

	if s.cfg.RunMode == sniperdex.RunModeWatchOnly {
		return
	}

	s.advanceInventory(tick)

	if s.epoch.CumulativePct.LessThan(s.cfg.HardStopPnLThreshold) && s.autoRun {
		s.autoRun = false
		s.log.Warnf("hard-stop PnL threshold %s reached, disabling auto-run", s.cfg.HardStopPnLThreshold)
	}
	if !s.autoRun {
		s.log.Infof("auto-run disabled, skipping watchlist/new-pair admission")
		return
	}

	s.resetEpochAndBuyAmount(tick)
	s.advanceWatchlist(ctx, tick)
	s.admitNewPairs(ctx, tick)
}

// advanceInventory applies the take-profit/stop-loss/timeout liquidation
// check over every open position, per spec §4.5's liquidation rule. At
// most one liquidation is in flight at a time (s.liquidating), matching
// the original's glb_liquidated single-flight guard.
func (s *Strategy) advanceInventory(tick sniperdex.BlockTick) {
	if len(s.inventory) == 0 || s.liquidating {
		return
	}

	for idx, pos := range s.inventory {
		liquidate := false
		for _, pair := range tick.InventorySnapshot {
			if pair.Address != pos.Pair.Address {
				continue
			}
			pos.PnLPercent = s.calculatePnLPercent(pos, pair)
			s.inventory[idx] = pos
			if pos.PnLPercent.GreaterThan(s.cfg.TakeProfitPercentage) || pos.PnLPercent.LessThan(s.cfg.StopLossPercentage) {
				s.log.Warnf("position %s take-profit/stop-loss at PnL %s%%", pos.Pair.Address, pos.PnLPercent)
				liquidate = true
			}
			break
		}
		if !liquidate && tick.BlockTimestamp-pos.StartTime > int64(s.cfg.HoldMaxDuration/time.Second) {
			s.log.Warnf("position %s liquidation timeout after %s", pos.Pair.Address, s.cfg.HoldMaxDuration)
			liquidate = true
		}

		if liquidate {
			s.liquidating = true
			closing := s.inventory[idx]
			s.inventory = append(s.inventory[:idx], s.inventory[idx+1:]...)
			s.orders <- sniperdex.ExecutionOrder{
				BlockNumber:    tick.BlockNumber,
				BlockTimestamp: tick.BlockTimestamp,
				Pair:           closing.Pair,
				AmountIn:       closing.AmountToken,
				IsBuy:          false,
				Signer:         closing.Signer,
				Bot:            closing.Bot,
				IsPaper:        closing.IsPaper,
			}
			return
		}
	}
}

// resetEpochAndBuyAmount applies the calendar-hour epoch reset and the
// midnight (VNT) buy-amount reset, run once per tick whenever the wall
// clock has crossed into a new hour since the epoch's last check.
func (s *Strategy) resetEpochAndBuyAmount(tick sniperdex.BlockTick) {
	now := time.Now()
	if util.SameCalendarHour(s.epoch.EpochStart, now, util.DefaultStrategyLocation) {
		return
	}

	if s.cfg.EpochTimeHours > 0 && vntzHour(now)%s.cfg.EpochTimeHours == 0 {
		s.epoch = sniperdex.EpochPnL{EpochStart: now}
		s.log.Warnf("reset epoch PnL at %s", now.Format(time.RFC3339))
	}

	if vntzHour(now) == 0 {
		s.buyAmount = s.cfg.InitialBuyAmount
		s.log.Warnf("reset buy-amount to initial value %s at midnight VNT", s.buyAmount)
	}
}

// advanceWatchlist re-inspects every watchlisted pair whose next inspection
// time has elapsed, per spec §4.5's watchlist-advance rule, admitting
// qualified pairs to execution and dropping exhausted/failed ones.
func (s *Strategy) advanceWatchlist(ctx context.Context, tick sniperdex.BlockTick) {
	if len(s.watchlist) == 0 {
		return
	}

	var batch []sniperdex.Pair
	for _, p := range s.watchlist {
		if tick.BlockTimestamp-p.CreatedAt > int64(p.InspectAttempts)*int64(s.cfg.InspectInterval/time.Second) {
			batch = append(batch, p)
		}
	}
	if len(batch) == 0 {
		return
	}

	results := s.inspector.InspectBatch(ctx, batch, tick.BlockNumber, inspector.ModeReinspect)
	succeeded := make(map[common.Address]bool, len(results))
	for _, r := range results {
		if r.SimulationResult != nil {
			succeeded[r.Pair.Address] = true
		}
	}

	next := s.watchlist[:0:0]
	for _, p := range s.watchlist {
		if !inBatch(batch, p.Address) {
			next = append(next, p)
			continue
		}
		if !succeeded[p.Address] {
			s.log.Warnf("pair %s dropped from watchlist: re-inspection failed", p.Address)
			continue
		}

		result := resultFor(results, p.Address)
		p.InspectAttempts++
		p.NumberTxMM = result.NumberTxMM
		if !p.ContractVerified {
			p.ContractVerified = result.ContractVerified
		}

		if p.InspectAttempts >= s.cfg.MaxInspectAttempts {
			s.log.Warnf("pair %s removed from watchlist: max inspect attempts %d reached", p.Address, s.cfg.MaxInspectAttempts)
			if p.NumberTxMM >= s.cfg.NumberTxMMThreshold && (!s.cfg.ContractVerifiedReq || p.ContractVerified) {
				isPaper := s.cfg.RunMode == sniperdex.RunModePaperTrade
				s.sendBuyOrder(ctx, tick, p, isPaper)
			} else {
				s.log.Warnf("pair %s not qualified: numberTxMM=%d verified=%v", p.Address, p.NumberTxMM, p.ContractVerified)
			}
			continue
		}
		next = append(next, p)
	}
	s.watchlist = next
}

// admitNewPairs vets a tick's freshly discovered pairs, adding qualified
// ones to the watchlist (or submitting an immediate buy when
// MaxInspectAttempts<=1 skips the watchlist stage entirely), per spec
// §4.5's new-pair admission rule.
func (s *Strategy) admitNewPairs(ctx context.Context, tick sniperdex.BlockTick) {
	if len(tick.NewPairs) == 0 {
		return
	}

	results := s.inspector.InspectBatch(ctx, tick.NewPairs, tick.BlockNumber, inspector.ModeInitial)
	if len(s.watchlist) >= s.cfg.WatchlistCapacity {
		s.log.Warnf("watchlist at capacity %d, dropping %d new pairs", s.cfg.WatchlistCapacity, len(tick.NewPairs))
		return
	}

	for _, r := range results {
		if r.SimulationResult == nil {
			continue
		}
		p := r.Pair
		p.ContractVerified = r.ContractVerified
		p.NumberTxMM = r.NumberTxMM

		if s.cfg.MaxInspectAttempts > 1 {
			p.InspectAttempts = 1
			p.LastInspectedBlock = tick.BlockNumber
			s.watchlist = append(s.watchlist, p)
			s.log.Warnf("added pair %s to watchlist, length %d", p.Address, len(s.watchlist))
		} else {
			isPaper := s.cfg.RunMode == sniperdex.RunModePaperTrade
			s.sendBuyOrder(ctx, tick, p, isPaper)
		}
	}
}

// sendBuyOrder is the buy-order submission sub-procedure: a gas-price gate
// against the explorer's gas oracle, then an inventory-capacity check,
// per spec §4.5.
func (s *Strategy) sendBuyOrder(ctx context.Context, tick sniperdex.BlockTick, pair sniperdex.Pair, isPaper bool) {
	gasPrice, err := s.gas.GasOracle(ctx)
	if err != nil {
		s.log.Warnf("gas oracle lookup failed, cancelling buy of %s: %v", pair.Address, err)
		return
	}
	if gasPrice.GreaterThan(s.cfg.MaxGasPriceAllowance) {
		s.log.Errorf("cancel execution of %s: gas price %s exceeds max allowance %s", pair.Address, gasPrice, s.cfg.MaxGasPriceAllowance)
		return
	}

	if s.fulfilled >= s.cfg.InventoryCapacity {
		s.log.Warnf("inventory capacity %d is full, dropping buy of %s", s.cfg.InventoryCapacity, pair.Address)
		return
	}
	s.fulfilled++

	s.log.Warnf("submitting buy order for %s amount %s", pair.Address, s.buyAmount)
	s.orders <- sniperdex.ExecutionOrder{
		BlockNumber:    tick.BlockNumber,
		BlockTimestamp: tick.BlockTimestamp,
		Pair:           pair,
		AmountIn:       s.buyAmount,
		IsBuy:          true,
		IsPaper:        isPaper,
	}
}

func (s *Strategy) sendReport(r sniperdex.ReportData) {
	select {
	case s.reports <- r:
	default:
		s.log.Warnf("report sink saturated, dropping report type %d", r.Type)
	}
}

// expectedPnL reconstructs original_source/main.py's calculate_expect_pnl,
// whose body was not part of the retained source: the target PnL scales
// MinExpectedPnL by the risk/reward ratio and by how far buyAmount has
// grown past the account's minimum sizing.
func (s *Strategy) expectedPnL() decimal.Decimal {
	return util.ExpectedPnL(s.buyAmount, s.cfg.MinBuyAmount, s.cfg.MinExpectedPnL, s.cfg.RiskRewardRatio)
}

func (s *Strategy) calculatePnLPercent(pos sniperdex.Position, pair sniperdex.Pair) decimal.Decimal {
	currentValue := pos.AmountToken.Mul(pair.Price())
	return util.PnLPercent(currentValue, pos.AmountInETH, s.cfg.GasCostETH)
}

// vntzHour returns t's hour-of-day in original_source/main.py's
// get_hour_in_vntz Vietnam timezone, used to decide the midnight
// buy-amount reset and the epoch boundary.
func vntzHour(t time.Time) int {
	return util.HourInLocation(t, util.DefaultStrategyLocation)
}

func inBatch(batch []sniperdex.Pair, addr common.Address) bool {
	for _, p := range batch {
		if p.Address == addr {
			return true
		}
	}
	return false
}

func resultFor(results []inspector.Result, addr common.Address) inspector.Result {
	for _, r := range results {
		if r.Pair.Address == addr {
			return r
		}
	}
	return inspector.Result{}
}
