package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc runs inside a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// TxOption configures a transaction run.
type TxOption func(*txConfig)

// WithTxAttempts sets the contention retry budget.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout caps how long the transaction may run.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// RunTransaction executes fn transactionally with retry and timeout defaults
// suited to short read-modify-write cycles.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Only tighten the deadline; an already shorter caller deadline wins.
	if cfg.timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
	}

	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, tx)
	}, firestore.MaxAttempts(cfg.attempts))
	return WrapError("transaction", err)
}
