// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package kvstore is an embedded, pebble-backed implementation of the
// kv.DB transactional surface with tenant-boundary enforcement.
//
// Tenant lifecycle is driven through the management key range: at commit
// time a buffered write there creates the named tenant and assigns it a
// server-side ID, a buffered clear deletes it. Every raw data write must
// name a tenant that exists at the point the write is applied, evaluated
// in buffer order against a transaction-local view of the tenant map, so
// a write following a same-transaction delete of its tenant fails the
// whole commit with kv.ErrIllegalTenantAccess.
package kvstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rohankumardubey/foundationdb/pkg/keys"
	"github.com/rohankumardubey/foundationdb/pkg/kv"
	"github.com/rohankumardubey/foundationdb/pkg/tenant"
)

// TestingKnobs hooks store internals for tests.
type TestingKnobs struct {
	// InjectedCommitErrors makes the next N commits fail with a retryable
	// error before applying anything.
	InjectedCommitErrors int

	// OnTenantCreated is called under the store mutex after a commit
	// installs a newly created tenant.
	OnTenantCreated func(name string, id tenant.ID)
}

// Store implements kv.DB on top of a pebble instance. Tenant metadata
// records live in pebble under the management range; an in-memory mirror
// of the tenant map serves commit-time enforcement.
type Store struct {
	db *pebble.DB

	mu struct {
		sync.Mutex
		names        map[string]tenant.ID
		ids          map[tenant.ID]string
		nextID       tenant.ID
		injectedErrs int
	}
	knobs TestingKnobs
}

var _ kv.DB = (*Store)(nil)

// Open opens (or creates) a store persisted under dir.
func Open(dir string, knobs *TestingKnobs) (*Store, error) {
	return open(dir, &pebble.Options{}, knobs)
}

// OpenInMemory opens a store backed by an in-memory filesystem. Used by
// tests and by CLI runs that don't ask for a store directory.
func OpenInMemory(knobs *TestingKnobs) (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()}, knobs)
}

func open(dir string, opts *pebble.Options, knobs *TestingKnobs) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening pebble")
	}
	s := &Store{db: db}
	if knobs != nil {
		s.knobs = *knobs
	}
	s.mu.names = make(map[string]tenant.ID)
	s.mu.ids = make(map[tenant.ID]string)
	s.mu.nextID = 1
	s.mu.injectedErrs = s.knobs.InjectedCommitErrors
	if err := s.loadTenantMap(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// loadTenantMap rebuilds the in-memory tenant map from the persisted
// management range.
func (s *Store) loadTenantMap() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: keys.TenantMapPrefix,
		UpperBound: keys.TenantMapEnd(),
	})
	if err != nil {
		return errors.Wrap(err, "iterating tenant map")
	}
	defer func() { _ = iter.Close() }()
	for iter.First(); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(keys.TenantMapPrefix):])
		rec, err := tenant.DecodeRecord(iter.Value())
		if err != nil {
			return errors.Wrapf(err, "tenant %q", name)
		}
		s.mu.names[name] = rec.ID
		s.mu.ids[rec.ID] = name
		if rec.ID >= s.mu.nextID {
			s.mu.nextID = rec.ID + 1
		}
	}
	return nil
}

// Close closes the underlying pebble instance.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewTxn implements kv.DB.
func (s *Store) NewTxn() kv.Txn {
	return &txn{s: s}
}

// TestingInjectCommitErrors makes the next n commits fail retryably.
func (s *Store) TestingInjectCommitErrors(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.injectedErrs = n
}

// LookupTenant returns the ID of the named tenant, if it exists.
func (s *Store) LookupTenant(name string) (tenant.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.mu.names[name]
	return id, ok
}

// NumTenants returns the number of live tenants.
func (s *Store) NumTenants() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mu.names)
}

type txnOp struct {
	key, value []byte
	isClear    bool
}

type txn struct {
	s          *Store
	rawAccess  bool
	mgmtWrites bool
	ops        []txnOp
}

var _ kv.Txn = (*txn)(nil)

func (t *txn) SetRawAccess()        { t.rawAccess = true }
func (t *txn) SetManagementWrites() { t.mgmtWrites = true }

func (t *txn) Reset() {
	t.rawAccess = false
	t.mgmtWrites = false
	t.ops = t.ops[:0]
}

func (t *txn) Set(key, value []byte) {
	t.ops = append(t.ops, txnOp{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

func (t *txn) Clear(key []byte) {
	t.ops = append(t.ops, txnOp{
		key:     append([]byte(nil), key...),
		isClear: true,
	})
}

// Get observes the transaction's own buffer before committed state.
func (t *txn) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !keys.InTenantMap(key) && !t.rawAccess {
		return nil, false, errors.Newf("read of data key %q without raw access", key)
	}
	for i := len(t.ops) - 1; i >= 0; i-- {
		if bytes.Equal(t.ops[i].key, key) {
			if t.ops[i].isClear {
				return nil, false, nil
			}
			return append([]byte(nil), t.ops[i].value...), true, nil
		}
	}
	val, closer, err := t.s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "reading from pebble")
	}
	out := append([]byte(nil), val...)
	_ = closer.Close()
	return out, true, nil
}

// Commit applies the buffered operations atomically, in buffer order. On
// any error nothing is applied.
func (t *txn) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mu.injectedErrs > 0 {
		s.mu.injectedErrs--
		return kv.MarkRetryable(errors.New("injected commit error"))
	}

	// Evaluate against a transaction-local view of the tenant map so that
	// management ops earlier in the buffer are visible to raw writes later
	// in it.
	names := make(map[string]tenant.ID, len(s.mu.names))
	for name, id := range s.mu.names {
		names[name] = id
	}
	ids := make(map[tenant.ID]string, len(s.mu.ids))
	for id, name := range s.mu.ids {
		ids[id] = name
	}
	nextID := s.mu.nextID

	type createdTenant struct {
		name string
		id   tenant.ID
	}
	var created []createdTenant

	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()

	for _, op := range t.ops {
		if keys.InTenantMap(op.key) {
			if !t.mgmtWrites {
				return errors.Newf("management write to %q without management writes enabled", op.key)
			}
			name := string(op.key[len(keys.TenantMapPrefix):])
			if op.isClear {
				id, ok := names[name]
				if !ok {
					continue // deleting a tenant that doesn't exist is a no-op
				}
				delete(names, name)
				delete(ids, id)
				if err := batch.Delete(op.key, nil); err != nil {
					return errors.Wrap(err, "staging tenant delete")
				}
				continue
			}
			if _, ok := names[name]; ok {
				continue // re-creating an existing tenant keeps its ID
			}
			id := nextID
			nextID++
			names[name] = id
			ids[id] = name
			rec := tenant.MakeRecord(id, hex.EncodeToString(keys.MakeTenantPrefix(id)))
			buf, err := rec.Encode()
			if err != nil {
				return err
			}
			if err := batch.Set(op.key, buf, nil); err != nil {
				return errors.Wrap(err, "staging tenant create")
			}
			created = append(created, createdTenant{name: name, id: id})
			continue
		}

		if !t.rawAccess {
			return errors.Newf("write to data key %q without raw access", op.key)
		}
		id, err := keys.DecodeTenantPrefix(op.key)
		if err != nil {
			return err
		}
		if _, ok := ids[id]; !ok {
			return errors.Wrapf(kv.ErrIllegalTenantAccess, "tenant %d", id)
		}
		if op.isClear {
			err = batch.Delete(op.key, nil)
		} else {
			err = batch.Set(op.key, op.value, nil)
		}
		if err != nil {
			return errors.Wrap(err, "staging data write")
		}
	}

	if err := s.db.Apply(batch, pebble.Sync); err != nil {
		return errors.Wrap(err, "applying commit batch")
	}
	s.mu.names = names
	s.mu.ids = ids
	s.mu.nextID = nextID
	if s.knobs.OnTenantCreated != nil {
		for _, c := range created {
			s.knobs.OnTenantCreated(c.name, c.id)
		}
	}
	return nil
}
