// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package kv

import "github.com/cockroachdb/errors"

// ErrIllegalTenantAccess is returned by Commit when a raw write named a
// tenant that does not exist at commit time. It is the one error class the
// harness's oracle correlates with its own prediction; it is not
// retryable in the IsRetryable sense, though the harness chooses to retry
// after observing it.
var ErrIllegalTenantAccess = errors.New("illegal tenant access")

// errMarkRetryable marks the class of transient errors a client should
// respond to with backoff, full regeneration of its intents, and retry.
var errMarkRetryable = errors.New("retryable transaction error")

// MarkRetryable marks err as retryable.
func MarkRetryable(err error) error {
	return errors.Mark(err, errMarkRetryable)
}

// IsRetryable reports whether err was marked retryable by the store.
// Illegal tenant access and decode failures are deliberately not in this
// class: the caller has to decide what they mean.
func IsRetryable(err error) bool {
	return errors.Is(err, errMarkRetryable)
}
