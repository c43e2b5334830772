// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package randutil constructs seeded pseudo-random sources. The harness
// never uses ambient global randomness: every random decision flows from
// an injected *rand.Rand so that a run is reproducible from its seed.
package randutil

import (
	"math/rand"
	"time"
)

// NewPseudoRand returns an instance of math/rand.Rand seeded from a fresh
// seed, and its seed value. The generator is not safe for concurrent use.
func NewPseudoRand() (*rand.Rand, int64) {
	seed := NewPseudoSeed()
	return rand.New(rand.NewSource(seed)), seed
}

// NewPseudoSeed generates a seed from the current time.
func NewPseudoSeed() int64 {
	return time.Now().UnixNano()
}

// TestingT is the subset of testing.TB needed by NewTestRand.
type TestingT interface {
	Helper()
	Logf(format string, args ...interface{})
}

// NewTestRand returns an instance of math/rand.Rand and logs the seed it
// was created with, so a failing test can be replayed deterministically.
func NewTestRand(t TestingT) (*rand.Rand, int64) {
	t.Helper()
	rng, seed := NewPseudoRand()
	t.Logf("random seed: %d", seed)
	return rng, seed
}
