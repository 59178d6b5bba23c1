// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements synchronization primitives missing from the standard sync package.
package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrBarrierAborted is returned by Barrier.Wait when the barrier was aborted without an explicit error.
var ErrBarrierAborted = errors.New("barrier aborted")

// Barrier is a reusable (cyclic) barrier for a fixed number of parties: each call to Wait blocks until
// all parties have called Wait for the current generation, then all are released together and the
// barrier is ready for the next generation.
//
// It uses sync.Cond to coordinate changes.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	waiting    int
	generation uint64
	err        error
}

// NewBarrier creates a new Barrier for the given number of parties, which must be >= 1.
func NewBarrier(parties int) *Barrier {
	if parties < 1 {
		panic(errors.Errorf("Barrier: invalid number of parties %d", parties))
	}
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Parties returns the number of parties the barrier waits for.
func (b *Barrier) Parties() int {
	return b.parties
}

// Wait blocks until all parties have called Wait, or until the barrier is aborted.
//
// Once aborted, Wait always returns the abort error immediately.
func (b *Barrier) Wait() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}

	generation := b.generation
	b.waiting++
	if b.waiting == b.parties {
		// Last one to arrive releases everyone and starts a new generation.
		b.waiting = 0
		b.generation++
		b.cond.Broadcast()
		return nil
	}

	// The loop is necessary because sync.Cond.Wait() can have spurious wakeups.
	for generation == b.generation && b.err == nil {
		b.cond.Wait()
	}
	if generation == b.generation {
		// Released by Abort, not by the last party.
		return b.err
	}
	return nil
}

// Abort releases every party blocked in Wait, and makes all future calls to Wait return err
// (or ErrBarrierAborted if err is nil). Only the first abort error is kept.
func (b *Barrier) Abort(err error) {
	if err == nil {
		err = ErrBarrierAborted
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
	b.cond.Broadcast()
}

// Err returns the abort error, or nil if the barrier was not aborted.
func (b *Barrier) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
