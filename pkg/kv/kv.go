// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package kv defines the narrow transactional surface the harness consumes
// from the store. The harness depends only on these interfaces; the
// embedded pebble-backed implementation lives in kv/kvstore.
package kv

import (
	"context"
	"time"

	"github.com/rohankumardubey/foundationdb/pkg/util/retry"
)

// DB hands out transactions against the store.
type DB interface {
	// NewTxn begins a new transaction.
	NewTxn() Txn
}

// Txn is a single optimistic transaction. Writes and clears are buffered
// client-side and take effect atomically at Commit; a commit error means
// no buffered operation was applied.
type Txn interface {
	// SetRawAccess allows reads and writes of tenant data keys without
	// tenant-scoped enforcement of key bounds. Boundary enforcement of
	// which tenants exist still applies at commit.
	SetRawAccess()

	// SetManagementWrites allows writes and clears within the management
	// key range.
	SetManagementWrites()

	// Get reads a key. It observes this transaction's own buffered writes
	// before committed state. ok is false if the key has no value.
	Get(ctx context.Context, key []byte) (value []byte, ok bool, err error)

	// Set buffers a write.
	Set(key, value []byte)

	// Clear buffers a deletion.
	Clear(key []byte)

	// Commit atomically applies all buffered operations, in the order they
	// were buffered.
	Commit(ctx context.Context) error

	// Reset discards all buffered operations and option state so the Txn
	// can be reused for a fresh attempt.
	Reset()
}

// TxnRetryOptions is the backoff configuration shared by all transaction
// retry loops in the harness.
var TxnRetryOptions = retry.Options{
	InitialBackoff: 5 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
	Multiplier:     2,
}

// RunTxn runs fn against a fresh transaction, retrying with backoff as
// long as the commit fails with a retryable error. fn may be called
// multiple times and must be idempotent with respect to everything except
// the transaction it is handed.
func RunTxn(ctx context.Context, db DB, fn func(txn Txn) error) error {
	var err error
	for r := retry.StartWithCtx(ctx, TxnRetryOptions); r.Next(); {
		txn := db.NewTxn()
		if err = fn(txn); err == nil {
			err = txn.Commit(ctx)
		}
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}
