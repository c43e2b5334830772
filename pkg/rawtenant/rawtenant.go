// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package rawtenant is a model-based consistency harness for tenant
// lifecycle and tenant-boundary enforcement in a transactional store.
//
// The harness keeps a shadow model of which tenants should exist, issues
// randomized create/delete/write transactions against the store through
// the management key range and raw data access, deliberately injects
// writes naming invalid tenants, and checks that the store's rejection
// behavior agrees exactly with the model's prediction.
package rawtenant

import (
	"context"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rohankumardubey/foundationdb/pkg/keys"
	"github.com/rohankumardubey/foundationdb/pkg/kv"
	"github.com/rohankumardubey/foundationdb/pkg/util/randutil"
)

// epochPause is the idle time between driver-loop epochs.
const epochPause = 500 * time.Millisecond

// Logger is the log sink used by the harness. *testing.T satisfies it.
type Logger interface {
	Helper()
	Logf(string, ...interface{})
}

// Env is the environment the harness runs in.
type Env struct {
	DB      kv.DB
	L       Logger
	Metrics *Metrics
}

// Config tunes a harness run.
type Config struct {
	// TenantCount is the total address space of harness tenant slots.
	TenantCount int
	// TestDuration is the wall-clock budget for the driver loop. An
	// in-flight transaction attempt is allowed to finish naturally.
	TestDuration time.Duration
	// Seed seeds all randomness of the run; 0 picks a fresh seed.
	Seed int64
}

func (cfg Config) validate() error {
	if cfg.TenantCount <= 0 {
		return errors.Newf("TenantCount must be positive, got %d", cfg.TenantCount)
	}
	if cfg.TestDuration <= 0 {
		return errors.Newf("TestDuration must be positive, got %s", cfg.TestDuration)
	}
	return nil
}

// RunRawTenantAccess drives randomized tenant churn against env.DB until
// the configured duration elapses. It returns the logical oracle failures
// encountered (empty on a healthy run); the error return is reserved for
// fatal harness or store breakage.
func RunRawTenantAccess(ctx context.Context, env *Env, cfg Config) ([]error, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = randutil.NewPseudoSeed()
	}
	rng := rand.New(rand.NewSource(seed))
	env.L.Logf("running raw tenant access harness: tenants=%d duration=%s seed=%d",
		cfg.TenantCount, cfg.TestDuration, seed)

	m := env.Metrics
	if m == nil {
		m = NewMetrics(prometheus.NewRegistry())
	}

	reg := makeShadowRegistry(cfg.TenantCount)
	gen := &generator{reg: reg}
	runner := &txnRunner{db: env.DB, gen: gen, l: env.L, m: m}

	if err := setupTenants(ctx, env.DB, reg); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.TestDuration)
	defer cancel()

	var failures []error
	for {
		if err := reg.reconcile(ctx, env.DB); err != nil {
			if ctx.Err() != nil {
				break
			}
			return failures, err
		}
		if err := purgeTenantData(ctx, env.DB, reg); err != nil {
			if ctx.Err() != nil {
				break
			}
			return failures, err
		}
		if err := runner.run(ctx, rng); err != nil {
			if IsOracleFailure(err) {
				env.L.Logf("oracle failure: %+v", err)
				failures = append(failures, err)
				return failures, nil
			}
			if ctx.Err() != nil {
				break
			}
			return failures, err
		}
		m.Epochs.Inc()

		select {
		case <-ctx.Done():
		case <-time.After(epochPause):
		}
		if ctx.Err() != nil {
			break
		}
	}
	env.L.Logf("raw tenant access harness finished: %d tenants confirmed", reg.confirmedCount())
	return failures, nil
}

// setupTenants pre-creates every tenant slot through the management range
// in one transaction and seeds the overlay so the first reconcile confirms
// them all.
func setupTenants(ctx context.Context, db kv.DB, reg *shadowRegistry) error {
	err := kv.RunTxn(ctx, db, func(txn kv.Txn) error {
		txn.SetManagementWrites()
		for idx := 0; idx < reg.tenantCount; idx++ {
			txn.Set(keys.TenantMapKey(keys.IndexToName(idx)), nil)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "creating initial tenants")
	}
	for idx := range reg.status {
		reg.status[idx] = statusPendingCreate
	}
	return nil
}

// purgeTenantData clears the fixed data key under every confirmed
// tenant's prefix. Hygiene between epochs: committed raw writes would
// otherwise linger after their tenant is deleted and could be mistaken
// for evidence of an enforcement bug.
func purgeTenantData(ctx context.Context, db kv.DB, reg *shadowRegistry) error {
	idxs := reg.confirmedIdxsSorted()
	if len(idxs) == 0 {
		return nil
	}
	return kv.RunTxn(ctx, db, func(txn kv.Txn) error {
		txn.SetRawAccess()
		for _, idx := range idxs {
			id, ok := reg.ids.idForIdx(idx)
			if !ok {
				return errors.AssertionFailedf("confirmed index %d has no id", idx)
			}
			txn.Clear(keys.TenantDataKey(id))
		}
		return nil
	})
}
