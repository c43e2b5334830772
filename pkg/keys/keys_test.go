// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package keys

import (
	"testing"

	"github.com/rohankumardubey/foundationdb/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexToName(t *testing.T) {
	require.Equal(t, "tenant_idx_000000", IndexToName(0))
	require.Equal(t, "tenant_idx_000042", IndexToName(42))
	require.Equal(t, "tenant_idx_999999", IndexToName(999999))

	// Names must sort in index order; the generator's ring lookup relies
	// on it.
	assert.Less(t, IndexToName(9), IndexToName(10))
	assert.Less(t, IndexToName(99), IndexToName(100))
}

func TestTenantMapKey(t *testing.T) {
	key := TenantMapKey(IndexToName(7))
	require.True(t, InTenantMap(key))
	require.Equal(t, IndexToName(7), string(key[len(TenantMapPrefix):]))
	require.False(t, InTenantMap([]byte("some/other/key")))

	end := TenantMapEnd()
	require.Greater(t, string(end), string(key))
}

func TestTenantPrefixRoundTrip(t *testing.T) {
	for _, id := range []tenant.ID{0, 1, 255, 1 << 32, 1<<63 - 1} {
		prefix := MakeTenantPrefix(id)
		require.Len(t, prefix, 8)
		got, err := DecodeTenantPrefix(prefix)
		require.NoError(t, err)
		require.Equal(t, id, got)

		got, err = DecodeTenantPrefix(TenantDataKey(id))
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
}

func TestDecodeTenantPrefixErrors(t *testing.T) {
	_, err := DecodeTenantPrefix([]byte("short"))
	require.Error(t, err)

	// The high bit set decodes to a negative id, which is never assigned.
	_, err = DecodeTenantPrefix([]byte{0x80, 0, 0, 0, 0, 0, 0, 0})
	require.Error(t, err)
}
