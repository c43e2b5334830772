// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rawtenant

import (
	"context"
	"testing"

	"github.com/rohankumardubey/foundationdb/pkg/keys"
	"github.com/rohankumardubey/foundationdb/pkg/kv"
	"github.com/rohankumardubey/foundationdb/pkg/kv/kvstore"
	"github.com/rohankumardubey/foundationdb/pkg/tenant"
	"github.com/stretchr/testify/require"
)

func mustOpenStore(t *testing.T) *kvstore.Store {
	t.Helper()
	s, err := kvstore.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

// checkBijection asserts that the two directions of the confirmed mapping
// are exact inverses.
func checkBijection(t *testing.T, r *shadowRegistry) {
	t.Helper()
	require.Equal(t, len(r.ids.byIdx), len(r.ids.byID))
	for idx, id := range r.ids.byIdx {
		gotIdx, ok := r.ids.byID[id]
		require.True(t, ok, "id %d missing from inverse map", id)
		require.Equal(t, idx, gotIdx)
	}
}

func TestBimapRejectsConflictingMappings(t *testing.T) {
	b := makeTenantBimap()
	require.NoError(t, b.insert(1, 100))
	// Re-inserting the identical pair is a no-op.
	require.NoError(t, b.insert(1, 100))
	require.Error(t, b.insert(1, 200))
	require.Error(t, b.insert(2, 100))
	require.Equal(t, 1, b.len())

	b.removeIdx(1)
	require.Equal(t, 0, b.len())
	require.NoError(t, b.insert(2, 100))
}

func TestPredictedCount(t *testing.T) {
	r := makeShadowRegistry(5)
	require.Equal(t, 0, r.predictedCount())

	r.status[0] = statusPendingCreate
	r.status[1] = statusPendingCreate
	require.Equal(t, 2, r.predictedCount())

	require.NoError(t, r.ids.insert(2, 100))
	r.status[2] = statusConfirmed
	require.Equal(t, 3, r.predictedCount())
	require.Equal(t, 1, r.confirmedCount())

	r.status[2] = statusPendingDelete
	require.Equal(t, 2, r.predictedCount())
	require.Equal(t, 0, r.confirmedCount())

	// A same-epoch create superseded by a delete leaves the slot free and
	// the count non-negative.
	r.status[0] = statusFree
	r.status[1] = statusFree
	require.Equal(t, 0, r.predictedCount())
}

func TestSnapshotRestore(t *testing.T) {
	r := makeShadowRegistry(4)
	require.NoError(t, r.ids.insert(0, 100))
	r.status[0] = statusConfirmed

	snap := r.snapshot()

	r.status[0] = statusPendingDelete
	r.status[1] = statusPendingCreate
	r.ids.removeIdx(0)
	require.NoError(t, r.ids.insert(2, 300))
	r.status[2] = statusConfirmed

	r.restore(snap)
	require.Equal(t, statusConfirmed, r.status[0])
	require.Equal(t, statusFree, r.status[1])
	require.Equal(t, statusFree, r.status[2])
	id, ok := r.ids.idForIdx(0)
	require.True(t, ok)
	require.Equal(t, tenant.ID(100), id)
	require.Equal(t, 1, r.ids.len())
	checkBijection(t, r)
}

func TestReconcileConfirmsCreates(t *testing.T) {
	ctx := context.Background()
	s := mustOpenStore(t)
	r := makeShadowRegistry(4)

	require.NoError(t, kv.RunTxn(ctx, s, func(txn kv.Txn) error {
		txn.SetManagementWrites()
		for _, idx := range []int{1, 3} {
			txn.Set(keys.TenantMapKey(keys.IndexToName(idx)), nil)
		}
		return nil
	}))
	r.status[1] = statusPendingCreate
	r.status[3] = statusPendingCreate

	require.NoError(t, r.reconcile(ctx, s))
	require.Equal(t, 2, r.confirmedCount())
	require.Equal(t, []int{1, 3}, r.confirmedIdxsSorted())
	checkBijection(t, r)

	for _, idx := range []int{1, 3} {
		wantID, ok := s.LookupTenant(keys.IndexToName(idx))
		require.True(t, ok)
		gotID, ok := r.ids.idForIdx(idx)
		require.True(t, ok)
		require.Equal(t, wantID, gotID)
	}

	// Reconciling again with no pending residue is a no-op.
	before := r.snapshot()
	require.NoError(t, r.reconcile(ctx, s))
	require.Equal(t, before.status, r.status)
	require.Equal(t, before.ids.byIdx, r.ids.byIdx)
}

func TestReconcileDropsDeletes(t *testing.T) {
	ctx := context.Background()
	s := mustOpenStore(t)
	r := makeShadowRegistry(4)

	require.NoError(t, kv.RunTxn(ctx, s, func(txn kv.Txn) error {
		txn.SetManagementWrites()
		txn.Set(keys.TenantMapKey(keys.IndexToName(0)), nil)
		return nil
	}))
	r.status[0] = statusPendingCreate
	require.NoError(t, r.reconcile(ctx, s))

	require.NoError(t, kv.RunTxn(ctx, s, func(txn kv.Txn) error {
		txn.SetManagementWrites()
		txn.Clear(keys.TenantMapKey(keys.IndexToName(0)))
		return nil
	}))
	r.status[0] = statusPendingDelete

	require.NoError(t, r.reconcile(ctx, s))
	require.Equal(t, statusFree, r.status[0])
	require.Equal(t, 0, r.ids.len())
	require.Equal(t, 0, r.predictedCount())
}

func TestReconcileRetriesReadTxn(t *testing.T) {
	ctx := context.Background()
	s := mustOpenStore(t)
	r := makeShadowRegistry(2)

	require.NoError(t, kv.RunTxn(ctx, s, func(txn kv.Txn) error {
		txn.SetManagementWrites()
		txn.Set(keys.TenantMapKey(keys.IndexToName(0)), nil)
		return nil
	}))
	r.status[0] = statusPendingCreate

	s.TestingInjectCommitErrors(2)
	require.NoError(t, r.reconcile(ctx, s))
	require.Equal(t, 1, r.confirmedCount())
}

func TestReconcileMissingRecordIsFatal(t *testing.T) {
	ctx := context.Background()
	s := mustOpenStore(t)
	r := makeShadowRegistry(2)

	// Pending create without a committed management record: the
	// reconciliation invariant is broken.
	r.status[0] = statusPendingCreate
	err := r.reconcile(ctx, s)
	require.Error(t, err)
	require.False(t, kv.IsRetryable(err))
}

func TestProbeWrapsAndFails(t *testing.T) {
	r := makeShadowRegistry(3)
	idx, err := r.probeFrom(2, func(idx int) bool { return idx == 1 })
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	_, err = r.probeFrom(0, func(int) bool { return false })
	require.Error(t, err)
}
