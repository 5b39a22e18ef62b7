package strategy

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	sniperdex "github.com/sniperdex/sniperdex"
)

var oneHundred = decimal.NewFromInt(100)
var hardFailurePnL = decimal.NewFromInt(-100)

// handleAck applies a single ExecutionAck to inventory/fulfilled-count/
// epoch-PnL/buy-sizing state, per original_source/main.py's
// handle_execution_report().
func (s *Strategy) handleAck(ack sniperdex.ExecutionAck) {
	s.sendReport(sniperdex.ReportData{Type: sniperdex.ReportExecution, Ack: &ack})

	if ack.Status == sniperdex.TxSuccess {
		if ack.IsBuy {
			s.openPosition(ack)
		} else {
			s.closeSellSuccess(ack)
		}
		return
	}

	if ack.IsBuy {
		s.fulfilled--
		return
	}
	s.closeSellFailure(ack)
}

func (s *Strategy) openPosition(ack sniperdex.ExecutionAck) {
	pos := sniperdex.Position{
		Pair:        ack.Pair,
		AmountToken: ack.AmountOut,
		AmountInETH: ack.AmountIn,
		BuyPrice:    pricePerToken(ack.AmountOut, ack.AmountIn),
		StartTime:   time.Now().Unix(),
		Signer:      ack.Signer,
		Bot:         ack.Bot,
		IsPaper:     ack.IsPaper,
	}
	s.inventory = append(s.inventory, pos)
	s.log.Warnf("appended %s to inventory, length %d", ack.Pair.Address, len(s.inventory))
}

func (s *Strategy) closeSellSuccess(ack sniperdex.ExecutionAck) {
	s.fulfilled--
	s.liquidating = false

	pnl := s.realizedPnLPercent(ack.AmountOut)
	s.epoch.CumulativePct = s.epoch.CumulativePct.Add(pnl)

	if s.epoch.CumulativePct.GreaterThan(s.expectedPnL()) && s.buyAmount.Add(s.cfg.AmountChangeStep).LessThanOrEqual(s.cfg.MaxBuyAmount) {
		s.buyAmount = s.buyAmount.Add(s.cfg.AmountChangeStep)
		s.epoch.CumulativePct = decimal.Zero
		s.log.Warnf("increased buy-amount to %s: PnL exceeded expected threshold, epoch PnL reset", s.buyAmount)
	}
	s.log.Warnf("epoch PnL now %s%%", s.epoch.CumulativePct.StringFixed(4))
}

func (s *Strategy) closeSellFailure(ack sniperdex.ExecutionAck) {
	s.fulfilled--
	s.liquidating = false

	pnl := s.realizedPnLPercent(decimal.Zero)
	s.epoch.CumulativePct = s.epoch.CumulativePct.Add(pnl)
	s.log.Warnf("epoch PnL now %s%% after failed liquidation", s.epoch.CumulativePct.StringFixed(4))

	if s.epoch.CumulativePct.LessThan(hardFailurePnL) && s.buyAmount.Sub(s.cfg.AmountChangeStep).GreaterThanOrEqual(s.cfg.MinBuyAmount) {
		s.buyAmount = s.buyAmount.Sub(s.cfg.AmountChangeStep)
		s.epoch.CumulativePct = decimal.Zero
		s.log.Warnf("decreased buy-amount to %s: epoch PnL fell below %s, epoch PnL reset", s.buyAmount, hardFailurePnL)
	}

	if ack.Pair.Creator != (common.Address{}) {
		s.sendReport(sniperdex.ReportData{Type: sniperdex.ReportBlacklistAdded, Blacklist: []common.Address{ack.Pair.Creator}})
		s.log.Warnf("blacklisting creator %s after failed liquidation", ack.Pair.Creator)
	}
}

// realizedPnLPercent computes a sell's realized PnL% against the account's
// current buyAmount/gas-cost knobs, matching
// (amount_out - BUY_AMOUNT - GAS_COST) / BUY_AMOUNT * 100 from the
// original (amountOut is zero on a failed sell).
func (s *Strategy) realizedPnLPercent(amountOut decimal.Decimal) decimal.Decimal {
	if s.buyAmount.IsZero() {
		return decimal.Zero
	}
	numerator := amountOut.Sub(s.buyAmount).Sub(s.cfg.GasCostETH)
	return numerator.Div(s.buyAmount).Mul(oneHundred)
}

// handleControl re-admits bootstrap-supplied pending positions into the
// inventory, per original_source/main.py's handle_control_order().
func (s *Strategy) handleControl(order sniperdex.ControlOrder) {
	if order.Type != sniperdex.ControlPendingPositions {
		return
	}
	s.inventory = append(s.inventory, order.Positions...)
	for _, pos := range order.Positions {
		s.log.Warnf("appended %s to inventory on bootstrap", pos.Pair.Address)
	}
}

func pricePerToken(tokenAmt, ethAmt decimal.Decimal) decimal.Decimal {
	if tokenAmt.IsZero() {
		return decimal.Zero
	}
	return ethAmt.Div(tokenAmt)
}
