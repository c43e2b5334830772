// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package retry provides an exponential-backoff retry loop.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Options provides reusable configuration of Retry objects.
type Options struct {
	InitialBackoff      time.Duration   // backoff before the second attempt
	MaxBackoff          time.Duration   // upper bound on the per-retry backoff
	Multiplier          float64         // backoff growth factor, default 2
	RandomizationFactor float64         // jitter in [1-f, 1+f], default 0.15
	MaxRetries          int             // retries after the first attempt; 0 for no limit
	Closer              <-chan struct{} // optionally stop the loop early
}

// Retry implements the public methods necessary to control an exponential-
// backoff retry loop. The zero value is invalid; use Start or StartWithCtx.
type Retry struct {
	opts           Options
	ctx            context.Context
	currentAttempt int
	isReset        bool
}

// Start returns a new Retry initialized to some default values. The Retry
// can then be used in an exponential-backoff retry loop:
//
//	for r := retry.Start(opts); r.Next(); {
//		if err := doWork(); err == nil {
//			return nil
//		}
//	}
func Start(opts Options) Retry {
	return StartWithCtx(context.Background(), opts)
}

// StartWithCtx is like Start, but the loop also terminates when the
// context is done.
func StartWithCtx(ctx context.Context, opts Options) Retry {
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = 50 * time.Millisecond
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 2 * time.Second
	}
	if opts.Multiplier == 0 {
		opts.Multiplier = 2
	}
	if opts.RandomizationFactor == 0 {
		opts.RandomizationFactor = 0.15
	}
	r := Retry{opts: opts, ctx: ctx}
	r.Reset()
	return r
}

// Reset returns the Retry to its initial state, meaning that the next call
// to Next will return true immediately and subsequent calls will behave as
// if they had followed the very first attempt.
func (r *Retry) Reset() {
	select {
	case <-r.ctx.Done():
		// When the context was canceled, you can't keep going.
	default:
		r.currentAttempt = 0
		r.isReset = true
	}
}

// CurrentAttempt returns the zero-based attempt index.
func (r *Retry) CurrentAttempt() int {
	return r.currentAttempt
}

func (r *Retry) retryIn() time.Duration {
	backoff := float64(r.opts.InitialBackoff)
	for i := 0; i < r.currentAttempt; i++ {
		backoff *= r.opts.Multiplier
	}
	if maxBackoff := float64(r.opts.MaxBackoff); backoff > maxBackoff {
		backoff = maxBackoff
	}

	// Add a jitter of +-RandomizationFactor to avoid thundering herds on
	// mass retry after a shared failure.
	delta := r.opts.RandomizationFactor * backoff
	return time.Duration(backoff - delta + rand.Float64()*2*delta)
}

// Next returns whether the retry loop should continue, and blocks for the
// appropriate length of time before yielding back to the caller.
func (r *Retry) Next() bool {
	if r.isReset {
		r.isReset = false
		return true
	}

	if r.opts.MaxRetries > 0 && r.currentAttempt >= r.opts.MaxRetries {
		return false
	}

	select {
	case <-time.After(r.retryIn()):
		r.currentAttempt++
		return true
	case <-r.opts.Closer:
		return false
	case <-r.ctx.Done():
		return false
	}
}
