// Package db is the persistence sink: GORM models for the nine-table
// schema in the distilled spec's §6, plus a MySQL-backed Recorder that the
// strategy's reporter writes ReportData into. Grounded on the teacher's
// internal/db/transaction_recorder.go (GORM model + NewMySQLRecorder +
// AutoMigrate pattern), generalized from one AssetSnapshotRecord table to
// the full schema, and on original_source/reporter/reporter.py for the
// hourly PnL aggregation and blacklist refresh-on-repeat semantics
// (spec §4 supplement).
package db

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var decimalNegOneHundred = decimal.NewFromInt(-100)

func decimalZero() decimal.Decimal { return decimal.Zero }

func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func parseDecimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// BlockRecord mirrors the `block` table: one row per tick that carried
// new pairs.
type BlockRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Number    uint64    `gorm:"uniqueIndex;not null"`
	Timestamp int64     `gorm:"not null"`
	BaseFee   string    `gorm:"type:varchar(78);not null"`
	GasUsed   uint64    `gorm:"not null"`
	GasLimit  uint64    `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (BlockRecord) TableName() string { return "block" }

// TransactionRecord mirrors the `transaction` table: one row per buy/sell
// attempt, successful or not.
type TransactionRecord struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	TxHash  string `gorm:"uniqueIndex;size:66;not null"`
	BlockID uint   `gorm:"index"`
	Status  int    `gorm:"not null"`
}

func (TransactionRecord) TableName() string { return "transaction" }

// PairRecord mirrors the `pair` table.
type PairRecord struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	Address       string `gorm:"uniqueIndex;size:42;not null"`
	Token         string `gorm:"size:42;not null"`
	TokenIndex    int    `gorm:"not null"`
	ReserveToken  string `gorm:"type:varchar(78)"`
	ReserveETH    string `gorm:"type:varchar(78)"`
	Creator       string `gorm:"size:42;index"`
	DeployedBlock uint64 `gorm:"not null"`
}

func (PairRecord) TableName() string { return "pair" }

// PositionRecord mirrors the `position` table. LiquidatedAt is a nil
// pointer while the position is open.
type PositionRecord struct {
	ID            uint       `gorm:"primaryKey;autoIncrement"`
	PairID        uint       `gorm:"index;not null"`
	Amount        string     `gorm:"type:varchar(78)"`
	BuyPrice      string     `gorm:"type:varchar(78)"`
	SellPrice     string     `gorm:"type:varchar(78)"`
	PurchasedAt   time.Time  `gorm:"not null"`
	LiquidatedAt  *time.Time
	PnL           string `gorm:"type:varchar(78)"`
	Investment    string `gorm:"type:varchar(78)"`
	Returns       string `gorm:"type:varchar(78)"`
	Signer        string `gorm:"size:42"`
	Bot           string `gorm:"size:42"`
	IsPaper       bool   `gorm:"not null"`
	IsLiquidated  bool   `gorm:"not null;index"`
}

func (PositionRecord) TableName() string { return "position" }

// PositionTransactionRecord mirrors `position_transaction`, the many-side
// join between a position and the buy/sell transaction(s) that opened or
// closed it.
type PositionTransactionRecord struct {
	ID            uint `gorm:"primaryKey;autoIncrement"`
	PositionID    uint `gorm:"index;not null"`
	TransactionID uint `gorm:"index;not null"`
	IsBuy         bool `gorm:"not null"`
}

func (PositionTransactionRecord) TableName() string { return "position_transaction" }

// BlacklistRecord mirrors `blacklist`. FrozenAt is refreshed on every
// repeat offense, per the original's save_blacklist behavior. CreatedAt
// is set once on first insert and never touched again, so the 90-day
// bound in IsBlacklisted has a stable anchor independent of refreshes.
type BlacklistRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Address   string    `gorm:"uniqueIndex;size:42;not null"`
	FrozenAt  time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (BlacklistRecord) TableName() string { return "blacklist" }

// BotRecord mirrors `bot`.
type BotRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Address    string    `gorm:"uniqueIndex;size:42;not null"`
	Owner      string    `gorm:"size:42;index;not null"`
	NumberUsed int       `gorm:"not null"`
	IsHolding  bool      `gorm:"not null"`
	IsFailed   bool      `gorm:"not null"`
	DeployedAt time.Time `gorm:"autoCreateTime"`
}

func (BotRecord) TableName() string { return "bot" }

// ExecutorRecord mirrors `executor`: the periodically refreshed balance
// cache per the Open Question decision in SPEC_FULL.md §9 (cache rather
// than recompute on every admin render).
type ExecutorRecord struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	Address        string `gorm:"uniqueIndex;size:42;not null"`
	InitialBalance string `gorm:"type:varchar(78)"`
	CurrentBalance string `gorm:"type:varchar(78)"`
	UpdatedAt      time.Time
}

func (ExecutorRecord) TableName() string { return "executor" }

// PnLRecord mirrors `pnl`, one row per calendar hour.
type PnLRecord struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	TimestampHour    time.Time `gorm:"uniqueIndex;not null"`
	NumberPositions  int       `gorm:"not null"`
	NumberFailed     int       `gorm:"not null"`
	HourlyPnL        string    `gorm:"type:varchar(78)"`
	AvgDailyPnL      string    `gorm:"type:varchar(78)"`
}

func (PnLRecord) TableName() string { return "pnl" }

// Recorder is the MySQL-backed persistence sink every ReportData variant
// is written through.
type Recorder struct {
	db *gorm.DB
}

// NewMySQLRecorder opens a connection and migrates the full schema,
// matching the teacher's NewMySQLRecorder/AutoMigrate pattern exactly.
func NewMySQLRecorder(dsn string) (*Recorder, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to mysql: %w", err)
	}
	if err := migrate(gdb); err != nil {
		return nil, err
	}
	return &Recorder{db: gdb}, nil
}

// NewMySQLRecorderWithDB wraps an already-open GORM handle (used by
// tests against sqlmock).
func NewMySQLRecorderWithDB(gdb *gorm.DB) (*Recorder, error) {
	if err := migrate(gdb); err != nil {
		return nil, err
	}
	return &Recorder{db: gdb}, nil
}

func migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&BlockRecord{}, &TransactionRecord{}, &PairRecord{}, &PositionRecord{},
		&PositionTransactionRecord{}, &BlacklistRecord{}, &BotRecord{},
		&ExecutorRecord{}, &PnLRecord{},
	); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// RecordBlock persists a tick's header fields. Called only when the tick
// carried new pairs, per spec §4.5 step 1.
func (r *Recorder) RecordBlock(number uint64, timestamp int64, baseFee string, gasUsed, gasLimit uint64) error {
	rec := BlockRecord{Number: number, Timestamp: timestamp, BaseFee: baseFee, GasUsed: gasUsed, GasLimit: gasLimit}
	if err := r.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("record block %d: %w", number, err)
	}
	return nil
}

// RecordTransaction persists one tx hash/status pair.
func (r *Recorder) RecordTransaction(txHash string, status int) (uint, error) {
	rec := TransactionRecord{TxHash: txHash, Status: status}
	if err := r.db.Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("record transaction %s: %w", txHash, err)
	}
	return rec.ID, nil
}

// UpsertPair inserts or updates a pair row keyed by address.
func (r *Recorder) UpsertPair(rec PairRecord) error {
	var existing PairRecord
	err := r.db.Where("address = ?", rec.Address).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if err := r.db.Create(&rec).Error; err != nil {
			return fmt.Errorf("insert pair %s: %w", rec.Address, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup pair %s: %w", rec.Address, err)
	}
	rec.ID = existing.ID
	if err := r.db.Model(&existing).Updates(rec).Error; err != nil {
		return fmt.Errorf("update pair %s: %w", rec.Address, err)
	}
	return nil
}

// FindPairIDByAddress looks up a pair's row ID by its on-chain address,
// the join key RecordPositionOpen needs to attach a position to its pair.
func (r *Recorder) FindPairIDByAddress(address string) (uint, error) {
	var rec PairRecord
	if err := r.db.Where("address = ?", address).First(&rec).Error; err != nil {
		return 0, fmt.Errorf("find pair %s: %w", address, err)
	}
	return rec.ID, nil
}

// FindOpenPositionByPairAddress returns the single still-open position for
// a pair, if any, per invariant 3's "at most one OPEN position per pair".
func (r *Recorder) FindOpenPositionByPairAddress(pairAddress string) (*PositionRecord, error) {
	pairID, err := r.FindPairIDByAddress(pairAddress)
	if err != nil {
		return nil, err
	}
	var rec PositionRecord
	err = r.db.Where("pair_id = ? AND is_liquidated = ?", pairID, false).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open position for pair %s: %w", pairAddress, err)
	}
	return &rec, nil
}

// RecordPositionOpen inserts a new open position row.
func (r *Recorder) RecordPositionOpen(rec PositionRecord) (uint, error) {
	rec.IsLiquidated = false
	if err := r.db.Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("record position open: %w", err)
	}
	if err := r.recordPositionPnLOpen(rec.PurchasedAt); err != nil {
		return rec.ID, err
	}
	return rec.ID, nil
}

// RecordPositionClose marks a position liquidated and records its
// realized PnL into the hourly aggregate.
func (r *Recorder) RecordPositionClose(positionID uint, sellPrice, pnl, returns string, liquidatedAt time.Time) error {
	var rec PositionRecord
	if err := r.db.First(&rec, positionID).Error; err != nil {
		return fmt.Errorf("lookup position %d: %w", positionID, err)
	}
	rec.SellPrice = sellPrice
	rec.PnL = pnl
	rec.Returns = returns
	rec.LiquidatedAt = &liquidatedAt
	rec.IsLiquidated = true
	if err := r.db.Save(&rec).Error; err != nil {
		return fmt.Errorf("close position %d: %w", positionID, err)
	}
	return r.recordPositionPnLClose(rec.PurchasedAt, pnl)
}

// RecordPositionTransaction links a position to the transaction that
// opened or closed it.
func (r *Recorder) RecordPositionTransaction(positionID, transactionID uint, isBuy bool) error {
	rec := PositionTransactionRecord{PositionID: positionID, TransactionID: transactionID, IsBuy: isBuy}
	if err := r.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("link position %d to tx %d: %w", positionID, transactionID, err)
	}
	return nil
}

// SaveBlacklist inserts or refreshes a creator's frozen_at timestamp.
// The refresh-on-repeat is deliberate: it re-arms the
// ROGUE_CREATOR_FROZEN_SECONDS window on every repeat offense, matching
// the original's save_blacklist exactly.
func (r *Recorder) SaveBlacklist(address string, frozenAt time.Time) error {
	var existing BlacklistRecord
	err := r.db.Where("address = ?", address).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if err := r.db.Create(&BlacklistRecord{Address: address, FrozenAt: frozenAt}).Error; err != nil {
			return fmt.Errorf("insert blacklist %s: %w", address, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup blacklist %s: %w", address, err)
	}
	existing.FrozenAt = frozenAt
	if err := r.db.Save(&existing).Error; err != nil {
		return fmt.Errorf("refresh blacklist %s: %w", address, err)
	}
	return nil
}

// IsBlacklisted reports whether address is blacklisted with frozen_at
// within the last frozenWindow and the row's original created_at within
// the last 90 days, per the inspector's creator-blacklist step. The
// 90-day bound is anchored on CreatedAt rather than FrozenAt, since
// FrozenAt is refreshed on every repeat offense and would otherwise
// keep re-arming the 90-day window indefinitely.
func (r *Recorder) IsBlacklisted(address string, now time.Time, frozenWindow time.Duration) (bool, error) {
	var rec BlacklistRecord
	err := r.db.Where("address = ?", address).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup blacklist %s: %w", address, err)
	}
	withinFrozenWindow := now.Sub(rec.FrozenAt) <= frozenWindow
	withinNinetyDays := now.Sub(rec.CreatedAt) <= 90*24*time.Hour
	return withinFrozenWindow && withinNinetyDays, nil
}

// FindAvailableBot looks up an existing, reusable bot for owner.
func (r *Recorder) FindAvailableBot(owner string, maxUsed int) (*BotRecord, error) {
	var rec BotRecord
	err := r.db.Where("owner = ? AND number_used < ? AND is_failed = ?", owner, maxUsed, false).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup available bot for %s: %w", owner, err)
	}
	return &rec, nil
}

// UpsertBot inserts or updates a bot row keyed by address.
func (r *Recorder) UpsertBot(rec BotRecord) error {
	var existing BotRecord
	err := r.db.Where("address = ?", rec.Address).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if err := r.db.Create(&rec).Error; err != nil {
			return fmt.Errorf("insert bot %s: %w", rec.Address, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup bot %s: %w", rec.Address, err)
	}
	rec.ID = existing.ID
	if err := r.db.Model(&existing).Updates(rec).Error; err != nil {
		return fmt.Errorf("update bot %s: %w", rec.Address, err)
	}
	return nil
}

// UpsertExecutor caches an executor account's balances, per the Open
// Question decision: refresh periodically rather than recompute on every
// admin render.
func (r *Recorder) UpsertExecutor(address, initialBalance, currentBalance string) error {
	var existing ExecutorRecord
	err := r.db.Where("address = ?", address).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		rec := ExecutorRecord{Address: address, InitialBalance: initialBalance, CurrentBalance: currentBalance}
		if err := r.db.Create(&rec).Error; err != nil {
			return fmt.Errorf("insert executor %s: %w", address, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup executor %s: %w", address, err)
	}
	existing.CurrentBalance = currentBalance
	if err := r.db.Save(&existing).Error; err != nil {
		return fmt.Errorf("refresh executor %s: %w", address, err)
	}
	return nil
}

// PendingOpenPosition is the bootstrap query's result row: an OPEN
// position purchased within the last hour, used to re-admit it into the
// strategy's inventory on startup.
type PendingOpenPosition struct {
	PairAddress string
	TokenIndex  int
	Amount      string
	BuyPrice    string
	Signer      string
	Bot         string
	IsPaper     bool
	PurchasedAt time.Time
}

// pendingPositionBootstrapWindow and pendingPositionStartTimeShift are the
// bootstrap control-flow constants from SPEC_FULL.md §4's supplement,
// grounded on original_source/reporter/reporter.py literally.
const (
	pendingPositionBootstrapWindow = 1 * time.Hour
	pendingPositionStartTimeShift  = 10 * time.Minute
)

// PendingOpenPositions selects still-OPEN positions purchased within the
// last hour and returns them with PurchasedAt shifted back by exactly ten
// minutes, so that combined with a short HOLD_MAX_DURATION they are
// likely to hit the timeout liquidation check on the very next tick.
func (r *Recorder) PendingOpenPositions(now time.Time) ([]PendingOpenPosition, error) {
	var rows []PositionRecord
	cutoff := now.Add(-pendingPositionBootstrapWindow)
	if err := r.db.Where("is_liquidated = ? AND purchased_at >= ?", false, cutoff).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("bootstrap pending positions: %w", err)
	}

	out := make([]PendingOpenPosition, 0, len(rows))
	for _, row := range rows {
		var pair PairRecord
		if err := r.db.First(&pair, row.PairID).Error; err != nil {
			return nil, fmt.Errorf("bootstrap pending position %d pair lookup: %w", row.ID, err)
		}
		out = append(out, PendingOpenPosition{
			PairAddress: pair.Address,
			TokenIndex:  pair.TokenIndex,
			Amount:      row.Amount,
			BuyPrice:    row.BuyPrice,
			Signer:      row.Signer,
			Bot:         row.Bot,
			IsPaper:     row.IsPaper,
			PurchasedAt: row.PurchasedAt.Add(-pendingPositionStartTimeShift),
		})
	}
	return out, nil
}

// recordPositionPnLOpen increments the hour bucket's number_positions
// count for a newly opened position.
func (r *Recorder) recordPositionPnLOpen(purchasedAt time.Time) error {
	hour := purchasedAt.Truncate(time.Hour)
	var rec PnLRecord
	err := r.db.Where("timestamp_hour = ?", hour).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		rec = PnLRecord{TimestampHour: hour, NumberPositions: 1, HourlyPnL: "0", AvgDailyPnL: "0"}
		if err := r.db.Create(&rec).Error; err != nil {
			return fmt.Errorf("init pnl bucket %s: %w", hour, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup pnl bucket %s: %w", hour, err)
	}
	rec.NumberPositions++
	if err := r.db.Save(&rec).Error; err != nil {
		return fmt.Errorf("increment pnl bucket %s: %w", hour, err)
	}
	return nil
}

// recordPositionPnLClose folds a liquidated position's PnL into its
// purchase hour's aggregate: hourly_pnl sums pnl over positions purchased
// that hour, avg_daily_pnl sums pnl over positions purchased that calendar
// day divided by hours elapsed since midnight, and number_failed counts
// positions with pnl <= -100, matching original_source/reporter/reporter.py.
func (r *Recorder) recordPositionPnLClose(purchasedAt time.Time, pnlStr string) error {
	hour := purchasedAt.Truncate(time.Hour)
	var rec PnLRecord
	if err := r.db.Where("timestamp_hour = ?", hour).First(&rec).Error; err != nil {
		return fmt.Errorf("lookup pnl bucket %s for close: %w", hour, err)
	}

	pnl, err := parseDecimalOrZero(pnlStr)
	if err != nil {
		return err
	}
	hourly, err := parseDecimalOrZero(rec.HourlyPnL)
	if err != nil {
		return err
	}
	hourly = hourly.Add(pnl)
	rec.HourlyPnL = hourly.String()

	if pnl.LessThanOrEqual(decimalNegOneHundred) {
		rec.NumberFailed++
	}

	dayStart := time.Date(purchasedAt.Year(), purchasedAt.Month(), purchasedAt.Day(), 0, 0, 0, 0, purchasedAt.Location())
	var dayRecs []PnLRecord
	if err := r.db.Where("timestamp_hour >= ? AND timestamp_hour < ?", dayStart, dayStart.Add(24*time.Hour)).Find(&dayRecs).Error; err != nil {
		return fmt.Errorf("lookup day buckets for %s: %w", dayStart, err)
	}
	daySum := decimalZero()
	for _, d := range dayRecs {
		if d.TimestampHour.Equal(hour) {
			daySum = daySum.Add(hourly)
			continue
		}
		h, err := parseDecimalOrZero(d.HourlyPnL)
		if err != nil {
			return err
		}
		daySum = daySum.Add(h)
	}
	hoursElapsed := purchasedAt.Sub(dayStart).Hours()
	if hoursElapsed < 1 {
		hoursElapsed = 1
	}
	rec.AvgDailyPnL = daySum.Div(decimalFromFloat(hoursElapsed)).String()

	if err := r.db.Save(&rec).Error; err != nil {
		return fmt.Errorf("update pnl bucket %s: %w", hour, err)
	}
	return nil
}

// GetDB exposes the underlying GORM handle for advanced/administrative
// queries outside this package's scope.
func (r *Recorder) GetDB() *gorm.DB { return r.db }

// Close releases the underlying connection.
func (r *Recorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying db: %w", err)
	}
	return sqlDB.Close()
}
