// Package txlistener polls for a transaction's receipt, the primitive the
// executor pool and bot factory use to learn whether a submitted
// transaction landed before deciding to retry or move on.
package txlistener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrTimeout is returned by WaitForTransaction when the configured timeout
// elapses before a receipt appears.
var ErrTimeout = errors.New("txlistener: timed out waiting for receipt")

const (
	defaultPollInterval = 2 * time.Second
	defaultTimeout      = 2 * time.Minute
)

// Option configures a TxListener.
type Option func(*TxListener)

// WithPollInterval sets how often the listener polls for a receipt.
func WithPollInterval(d time.Duration) Option {
	return func(l *TxListener) { l.pollInterval = d }
}

// WithTimeout sets the overall deadline WaitForTransaction gives up at.
func WithTimeout(d time.Duration) Option {
	return func(l *TxListener) { l.timeout = d }
}

// TxListener polls a chain connection for transaction receipts.
type TxListener struct {
	client       *ethclient.Client
	pollInterval time.Duration
	timeout      time.Duration
}

// NewTxListener builds a TxListener with the given options applied over
// sane defaults (2s poll interval, 2m timeout).
func NewTxListener(client *ethclient.Client, opts ...Option) *TxListener {
	l := &TxListener{
		client:       client,
		pollInterval: defaultPollInterval,
		timeout:      defaultTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitForTransaction blocks, polling at the configured interval, until the
// transaction is mined (success or revert) or the configured timeout
// elapses, whichever comes first. It also respects ctx cancellation.
func (l *TxListener) WaitForTransaction(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(l.timeout)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt for %s: %w", hash, err)
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
