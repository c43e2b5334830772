// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rawtenant

import (
	"context"
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rohankumardubey/foundationdb/pkg/kv"
	"github.com/rohankumardubey/foundationdb/pkg/util/retry"
)

// opsPerTxn is the number of operation slots in one random transaction.
const opsPerTxn = 10

// errOracle marks correctness-oracle failures: the store's enforcement of
// tenant access disagreed with the harness's prediction.
var errOracle = errors.New("oracle failure")

func oracleFailuref(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), errOracle)
}

// IsOracleFailure reports whether err records a mismatch between predicted
// and observed tenant-access enforcement.
func IsOracleFailure(err error) bool {
	return errors.Is(err, errOracle)
}

// txnRunner drives one random multi-operation transaction to completion.
type txnRunner struct {
	db  kv.DB
	gen *generator
	l   Logger
	m   *Metrics
}

// run executes one random transaction with standard optimistic retry and
// asserts the correctness oracle: a predicted illegal access was in fact
// rejected, and no illegal access was reported if none was predicted.
//
// A failed attempt implies none of its operations committed, so the
// registry is rolled back to its pre-attempt snapshot and the next attempt
// regenerates a fresh operation sequence from current state; the failed
// sequence is never replayed. On success the attempt's overlay stays in
// place and becomes the next epoch's reconcile input.
func (tr *txnRunner) run(ctx context.Context, rng *rand.Rand) error {
	traceID := uuid.New()
	for r := retry.StartWithCtx(ctx, kv.TxnRetryOptions); r.Next(); {
		snap := tr.gen.reg.snapshot()
		txn := tr.db.NewTxn()
		txn.SetRawAccess()
		txn.SetManagementWrites()

		expectedIllegal := false
		for i := 0; i < opsPerTxn; i++ {
			kind := opKind(rng.Intn(int(numOpKinds)))
			applied, err := tr.gen.maybeApply(rng, txn, kind)
			if err != nil {
				return err
			}
			if applied && kind == opWriteToInvalidTenant {
				expectedIllegal = true
			}
		}

		err := txn.Commit(ctx)
		if err == nil {
			if expectedIllegal {
				return oracleFailuref(
					"txn %s: invalid-tenant write committed without illegal tenant access", traceID)
			}
			tr.m.Commits.Inc()
			return nil
		}

		tr.gen.reg.restore(snap)
		switch {
		case errors.Is(err, kv.ErrIllegalTenantAccess):
			if !expectedIllegal {
				return oracleFailuref(
					"txn %s: illegal tenant access reported for a transaction with no invalid-tenant write: %v",
					traceID, err)
			}
			tr.m.IllegalAccessCaught.Inc()
			tr.l.Logf("txn %s attempt %d: illegal access rejected as predicted, regenerating",
				traceID, r.CurrentAttempt())
		case kv.IsRetryable(err):
			tr.m.Retries.Inc()
			tr.l.Logf("txn %s attempt %d: retryable error: %v", traceID, r.CurrentAttempt(), err)
		default:
			return err
		}
	}
	return ctx.Err()
}
