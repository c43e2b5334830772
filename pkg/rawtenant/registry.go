// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rawtenant

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/rohankumardubey/foundationdb/pkg/keys"
	"github.com/rohankumardubey/foundationdb/pkg/kv"
	"github.com/rohankumardubey/foundationdb/pkg/tenant"
)

// tenantStatus is the harness's belief about one tenant slot. Lifecycle:
// free -> pendingCreate -> confirmed -> pendingDelete -> free. The pending
// states live only within one epoch; reconcile collapses them.
type tenantStatus int8

const (
	// statusFree: the slot holds no tenant and no in-flight intent. A
	// same-epoch create that was superseded by a delete also lands here,
	// since the two intents cancel within the transaction.
	statusFree tenantStatus = iota
	// statusPendingCreate: a create was issued in the in-flight
	// transaction batch but not yet confirmed by read-back.
	statusPendingCreate
	// statusConfirmed: the tenant's ID is known by direct read-back.
	statusConfirmed
	// statusPendingDelete: the tenant is confirmed, and a delete was
	// issued in the in-flight batch.
	statusPendingDelete
)

// tenantBimap holds the confirmed index<->ID mapping as one structure,
// mutated only through paired operations, so the two directions cannot
// fall out of sync.
type tenantBimap struct {
	byIdx map[int]tenant.ID
	byID  map[tenant.ID]int
}

func makeTenantBimap() tenantBimap {
	return tenantBimap{
		byIdx: make(map[int]tenant.ID),
		byID:  make(map[tenant.ID]int),
	}
}

func (b tenantBimap) insert(idx int, id tenant.ID) error {
	if existing, ok := b.byIdx[idx]; ok {
		if existing == id {
			return nil
		}
		return errors.AssertionFailedf(
			"tenant index %d already mapped to id %d, cannot remap to %d", idx, existing, id)
	}
	if existingIdx, ok := b.byID[id]; ok {
		return errors.AssertionFailedf(
			"tenant id %d already mapped to index %d, cannot remap to %d", id, existingIdx, idx)
	}
	b.byIdx[idx] = id
	b.byID[id] = idx
	return nil
}

func (b tenantBimap) removeIdx(idx int) {
	if id, ok := b.byIdx[idx]; ok {
		delete(b.byIdx, idx)
		delete(b.byID, id)
	}
}

func (b tenantBimap) idForIdx(idx int) (tenant.ID, bool) {
	id, ok := b.byIdx[idx]
	return id, ok
}

func (b tenantBimap) containsID(id tenant.ID) bool {
	_, ok := b.byID[id]
	return ok
}

func (b tenantBimap) len() int {
	return len(b.byIdx)
}

func (b tenantBimap) sortedIdxs() []int {
	idxs := make([]int, 0, len(b.byIdx))
	for idx := range b.byIdx {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	return idxs
}

func (b tenantBimap) clone() tenantBimap {
	c := makeTenantBimap()
	for idx, id := range b.byIdx {
		c.byIdx[idx] = id
		c.byID[id] = idx
	}
	return c
}

// shadowRegistry is the harness's local belief about which tenants exist.
// It is owned by the single driving goroutine and needs no locking.
//
// ids holds the index<->ID mapping for every slot in statusConfirmed or
// statusPendingDelete; slots in the other two statuses have no known ID.
type shadowRegistry struct {
	tenantCount int
	status      []tenantStatus
	ids         tenantBimap
}

func makeShadowRegistry(tenantCount int) *shadowRegistry {
	return &shadowRegistry{
		tenantCount: tenantCount,
		status:      make([]tenantStatus, tenantCount),
		ids:         makeTenantBimap(),
	}
}

// predictedCount is the number of tenants that will exist if the in-flight
// transaction commits: confirmed plus created-this-epoch minus
// deleted-this-epoch.
func (r *shadowRegistry) predictedCount() int {
	n := 0
	for _, st := range r.status {
		if st == statusPendingCreate || st == statusConfirmed {
			n++
		}
	}
	return n
}

func (r *shadowRegistry) confirmedCount() int {
	n := 0
	for _, st := range r.status {
		if st == statusConfirmed {
			n++
		}
	}
	return n
}

// confirmedIdxsSorted returns the indices whose tenants are confirmed and
// have no pending delete, in increasing order.
func (r *shadowRegistry) confirmedIdxsSorted() []int {
	var idxs []int
	for idx, st := range r.status {
		if st == statusConfirmed {
			idxs = append(idxs, idx)
		}
	}
	return idxs
}

// pendingDeleteID returns the ID of the smallest-index tenant deleted in
// the current epoch, if any.
func (r *shadowRegistry) pendingDeleteID() (tenant.ID, bool) {
	for idx, st := range r.status {
		if st == statusPendingDelete {
			id, ok := r.ids.idForIdx(idx)
			if !ok {
				panic(errors.AssertionFailedf("pending-delete index %d has no confirmed id", idx))
			}
			return id, true
		}
	}
	return tenant.InvalidID, false
}

// registrySnapshot captures the registry's full mutable state so a failed
// transaction attempt can be rolled back before its operations are
// regenerated.
type registrySnapshot struct {
	status []tenantStatus
	ids    tenantBimap
}

func (r *shadowRegistry) snapshot() registrySnapshot {
	return registrySnapshot{
		status: append([]tenantStatus(nil), r.status...),
		ids:    r.ids.clone(),
	}
}

func (r *shadowRegistry) restore(snap registrySnapshot) {
	r.status = append(r.status[:0], snap.status...)
	r.ids = snap.ids.clone()
}

// probeFrom walks forward from start, wrapping at tenantCount, and returns
// the first index accepted by ok. A full wrap means the caller's
// precondition did not actually guarantee a candidate, which is an
// invariant violation, not a reason to spin.
func (r *shadowRegistry) probeFrom(start int, ok func(int) bool) (int, error) {
	idx := start
	for i := 0; i < r.tenantCount; i++ {
		if ok(idx) {
			return idx, nil
		}
		idx++
		if idx == r.tenantCount {
			idx = 0
		}
	}
	return 0, errors.AssertionFailedf("probe from index %d wrapped without a candidate", start)
}

// reconcile promotes the previous epoch's committed intents into confirmed
// state: pending deletes drop out of the ID mapping, and each pending
// create's assigned ID is read back from the management range (in
// increasing index order, inside one retryable read transaction). After it
// returns, no pending residue remains. Reconciling an already-reconciled
// registry is a no-op.
func (r *shadowRegistry) reconcile(ctx context.Context, db kv.DB) error {
	for idx, st := range r.status {
		if st == statusPendingDelete {
			r.ids.removeIdx(idx)
			r.status[idx] = statusFree
		}
	}

	var creates []int
	for idx, st := range r.status {
		if st == statusPendingCreate {
			creates = append(creates, idx)
		}
	}
	if len(creates) == 0 {
		return nil
	}

	assigned := make(map[int]tenant.ID, len(creates))
	err := kv.RunTxn(ctx, db, func(txn kv.Txn) error {
		clear(assigned)
		for _, idx := range creates {
			name := keys.IndexToName(idx)
			value, ok, err := txn.Get(ctx, keys.TenantMapKey(name))
			if err != nil {
				return err
			}
			if !ok {
				return errors.AssertionFailedf(
					"tenant %q was committed but has no management record", name)
			}
			rec, err := tenant.DecodeRecord(value)
			if err != nil {
				return errors.Wrapf(err, "reading back tenant %q", name)
			}
			assigned[idx] = rec.ID
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, idx := range creates {
		if err := r.ids.insert(idx, assigned[idx]); err != nil {
			return err
		}
		r.status[idx] = statusConfirmed
	}
	return nil
}
