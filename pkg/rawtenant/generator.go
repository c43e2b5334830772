// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rawtenant

import (
	"math"
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/rohankumardubey/foundationdb/pkg/keys"
	"github.com/rohankumardubey/foundationdb/pkg/kv"
	"github.com/rohankumardubey/foundationdb/pkg/tenant"
)

// opKind enumerates the four operation kinds a transaction slot can hold.
type opKind int

const (
	opCreateNewTenant opKind = iota
	opDeleteExistedTenant
	opWriteToInvalidTenant
	opWriteToExistedTenant
	numOpKinds
)

func (k opKind) String() string {
	switch k {
	case opCreateNewTenant:
		return "createNewTenant"
	case opDeleteExistedTenant:
		return "deleteExistedTenant"
	case opWriteToInvalidTenant:
		return "writeToInvalidTenant"
	case opWriteToExistedTenant:
		return "writeToExistedTenant"
	}
	return "unknown"
}

// generator mutates an in-flight transaction and the registry's
// speculative overlay, one operation at a time. All randomness comes from
// the *rand.Rand handed to each call; the generator holds no random state
// of its own.
//
// Every "nearest" search is a forward linear probe with wraparound over
// [0, tenantCount). The policy is deliberately simple and deterministic:
// a retried transaction attempt regenerates its operations from the
// restored registry state, and the probe must behave identically given
// identical state and random draws.
type generator struct {
	reg *shadowRegistry
}

// maybeApply applies one operation of the given kind to txn if the kind's
// precondition holds, and reports whether it did. A slot whose
// precondition fails is simply skipped. The returned error is always an
// invariant violation (assertion), never an operational failure.
func (g *generator) maybeApply(rng *rand.Rand, txn kv.Txn, kind opKind) (bool, error) {
	r := g.reg
	switch kind {
	case opCreateNewTenant:
		if r.predictedCount() >= r.tenantCount {
			return false, nil
		}
		return true, g.createNewTenant(rng, txn)
	case opDeleteExistedTenant:
		if r.predictedCount() <= 0 {
			return false, nil
		}
		return true, g.deleteExistedTenant(rng, txn)
	case opWriteToInvalidTenant:
		if r.predictedCount() >= r.tenantCount {
			return false, nil
		}
		return true, g.writeToInvalidTenant(rng, txn)
	case opWriteToExistedTenant:
		if r.confirmedCount() == 0 {
			return false, nil
		}
		return true, g.writeToExistedTenant(rng, txn)
	}
	return false, errors.AssertionFailedf("unknown operation kind %d", kind)
}

// createNewTenant picks the nearest unoccupied slot at or after a random
// index and issues a management write for its name. The write carries an
// empty marker value; the server assigns the ID at commit. A slot with a
// same-batch pending delete is a valid target: the create supersedes the
// delete, and the old ID is retired since the committed clear-then-write
// assigns a fresh one.
func (g *generator) createNewTenant(rng *rand.Rand, txn kv.Txn) error {
	r := g.reg
	idx, err := r.probeFrom(rng.Intn(r.tenantCount), func(idx int) bool {
		return r.status[idx] == statusFree || r.status[idx] == statusPendingDelete
	})
	if err != nil {
		return err
	}
	if r.status[idx] == statusPendingDelete {
		r.ids.removeIdx(idx)
	}
	txn.Set(keys.TenantMapKey(keys.IndexToName(idx)), nil)
	r.status[idx] = statusPendingCreate
	return nil
}

// deleteExistedTenant picks the nearest occupied slot at or after a random
// index and issues a management clear for its name. Deleting a tenant
// created earlier in the same batch supersedes the create: the two intents
// cancel and the slot goes back to free.
func (g *generator) deleteExistedTenant(rng *rand.Rand, txn kv.Txn) error {
	r := g.reg
	idx, err := r.probeFrom(rng.Intn(r.tenantCount), func(idx int) bool {
		return r.status[idx] == statusPendingCreate || r.status[idx] == statusConfirmed
	})
	if err != nil {
		return err
	}
	txn.Clear(keys.TenantMapKey(keys.IndexToName(idx)))
	if r.status[idx] == statusPendingCreate {
		r.status[idx] = statusFree
	} else {
		r.status[idx] = statusPendingDelete
	}
	return nil
}

// writeToExistedTenant writes the fixed key/value pair under a confirmed
// tenant's data prefix using raw access. The tenant is the one with the
// smallest confirmed index >= a random index, wrapping to the smallest
// confirmed index overall: a ring lookup over the sorted confirmed set.
// Tenants with a same-epoch pending delete are excluded, since a raw write
// after the delete intent would be rejected. This operation must always
// succeed.
func (g *generator) writeToExistedTenant(rng *rand.Rand, txn kv.Txn) error {
	r := g.reg
	idxs := r.confirmedIdxsSorted()
	if len(idxs) == 0 {
		return errors.AssertionFailedf("writeToExistedTenant with no confirmed tenants")
	}
	target := rng.Intn(r.tenantCount)
	idx := idxs[0]
	for _, candidate := range idxs {
		if candidate >= target {
			idx = candidate
			break
		}
	}
	id, ok := r.ids.idForIdx(idx)
	if !ok {
		return errors.AssertionFailedf("confirmed index %d has no id", idx)
	}
	txn.Set(keys.TenantDataKey(id), keys.WriteValue)
	return nil
}

// writeToInvalidTenant writes the fixed key/value pair under a tenant
// prefix that must be rejected at commit. Half the time, if a tenant was
// deleted earlier in this same batch, its ID is reused, checking that the
// delete is enforced within its own transaction; otherwise a random ID
// colliding with no known ID is synthesized.
func (g *generator) writeToInvalidTenant(rng *rand.Rand, txn kv.Txn) error {
	r := g.reg
	id := tenant.InvalidID
	if deleted, ok := r.pendingDeleteID(); ok && rng.Intn(2) == 0 {
		id = deleted
	} else {
		for {
			id = tenant.ID(rng.Int63n(math.MaxInt64))
			if !r.ids.containsID(id) {
				break
			}
		}
	}
	if id < 0 {
		return errors.AssertionFailedf("invalid-tenant write chose negative id %d", id)
	}
	txn.Set(keys.TenantDataKey(id), keys.WriteValue)
	return nil
}
