// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package keys encodes and decodes the key space shared by the harness and
// the store: the management key range through which tenant lifecycle is
// driven, and the per-tenant data key prefixes.
package keys

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/rohankumardubey/foundationdb/pkg/tenant"
)

// TenantMapPrefix is the management key range. Writing
// TenantMapPrefix+name creates the named tenant at commit time, clearing
// it deletes the tenant, and reading it returns the tenant's metadata
// record once creation is visible.
var TenantMapPrefix = []byte("\xff\xff/management/tenant_map/")

// Fixed data key/value pair used by raw tenant writes. The constant value
// lets a later read distinguish "harness wrote here" from leftover state.
var (
	WriteKey   = []byte("key")
	WriteValue = []byte("value")
)

// tenantPrefixLen is the length of an encoded tenant data prefix.
const tenantPrefixLen = 8

// IndexToName returns the canonical name for a harness tenant slot. Names
// are zero padded so that lexicographic order equals index order, which
// the generator's nearest-match lookup relies on.
func IndexToName(idx int) string {
	return fmt.Sprintf("tenant_idx_%06d", idx)
}

// TenantMapKey returns the management key for a tenant name.
func TenantMapKey(name string) []byte {
	return append(append([]byte(nil), TenantMapPrefix...), name...)
}

// InTenantMap reports whether key lies within the management key range.
func InTenantMap(key []byte) bool {
	return bytes.HasPrefix(key, TenantMapPrefix)
}

// TenantMapEnd returns the exclusive end key of the management range.
func TenantMapEnd() []byte {
	end := append([]byte(nil), TenantMapPrefix...)
	end[len(end)-1]++
	return end
}

// MakeTenantPrefix maps a tenant ID to the byte prefix under which all of
// that tenant's data lives: the 8-byte big-endian encoding of the ID.
func MakeTenantPrefix(id tenant.ID) []byte {
	prefix := make([]byte, tenantPrefixLen)
	binary.BigEndian.PutUint64(prefix, uint64(id))
	return prefix
}

// DecodeTenantPrefix extracts the tenant ID a data key is scoped to.
func DecodeTenantPrefix(key []byte) (tenant.ID, error) {
	if len(key) < tenantPrefixLen {
		return tenant.InvalidID, errors.Newf("key %q too short to contain a tenant prefix", key)
	}
	id := tenant.ID(binary.BigEndian.Uint64(key[:tenantPrefixLen]))
	if id < 0 {
		return tenant.InvalidID, errors.Newf("key %q has out of range tenant id", key)
	}
	return id, nil
}

// TenantDataKey returns the fixed data key under a tenant's prefix.
func TenantDataKey(id tenant.ID) []byte {
	return append(MakeTenantPrefix(id), WriteKey...)
}
