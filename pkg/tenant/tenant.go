// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package tenant contains the tenant identifier type and the metadata
// record stored under the management key range for each tenant.
package tenant

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ID is a server-assigned tenant identifier. It is opaque to clients: the
// only structure clients may rely on is that distinct live tenants have
// distinct IDs and that an ID maps deterministically to a data key prefix.
type ID int64

// InvalidID is never assigned to a tenant.
const InvalidID ID = -1

// Record is the metadata record stored under a tenant's management key.
// The server writes it when tenant creation commits; clients read it back
// to learn the assigned ID.
type Record struct {
	ID     ID     `json:"id"`
	Prefix string `json:"prefix"`
}

// MakeRecord constructs the record for an assigned ID and its hex-encoded
// data prefix.
func MakeRecord(id ID, prefixHex string) Record {
	return Record{ID: id, Prefix: prefixHex}
}

// Encode serializes the record for storage under the management key.
func (r Record) Encode() ([]byte, error) {
	buf, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "encoding tenant record")
	}
	return buf, nil
}

// DecodeRecord parses a management-key value and extracts the assigned
// tenant ID. A malformed record is a decode error: a confirmed creation
// must always have a readable identifier, so callers treat this as fatal.
func DecodeRecord(value []byte) (Record, error) {
	var r struct {
		ID     *ID    `json:"id"`
		Prefix string `json:"prefix"`
	}
	if err := json.Unmarshal(value, &r); err != nil {
		return Record{}, errors.Wrapf(err, "decoding tenant record %q", value)
	}
	if r.ID == nil {
		return Record{}, errors.Newf("tenant record %q has no id field", value)
	}
	if *r.ID < 0 {
		return Record{}, errors.Newf("tenant record %q has negative id %d", value, *r.ID)
	}
	return Record{ID: *r.ID, Prefix: r.Prefix}, nil
}
