package chaingateway

import (
	"context"
	"errors"
	"net"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrKind classifies an RPC-surface failure the way §4.1 of the spec
// requires: TRANSIENT failures are expected to clear by the next block and
// are swallowed by the caller (the inspection pipeline falls back to
// UNVERIFIED, the watcher just logs and loops); FATAL failures indicate a
// request or protocol problem the caller should propagate and likely
// abort on. Network-level errors (net.Error) classify as TRANSIENT.
type ErrKind int

const (
	// KindFatal propagates: bad params, auth failures, malformed responses.
	KindFatal ErrKind = iota
	// KindTransient is expected to clear on retry: timeouts, rate limits,
	// connection resets, context deadline exceeded.
	KindTransient
)

// Classify inspects err and reports whether it should be treated as
// transient (retry at the next block / tick) or fatal (propagate).
func Classify(err error) ErrKind {
	if err == nil {
		return KindFatal
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTransient
		}
		return KindTransient
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case -32000, -32005: // generic server error / rate limited, per the JSON-RPC spec's reserved server-error range
			return KindTransient
		default:
			return KindFatal
		}
	}

	return KindFatal
}
