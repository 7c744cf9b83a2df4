// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Completion delivery states.
const (
	completionPending int32 = iota
	completionRunning
	completionDropped
)

// completion is one posted callback waiting for the loop.
type completion struct {
	run   func()
	ack   chan struct{}
	state atomic.Int32
}

// Loop delivers operation completions on the goroutine that drives it.
// Workers post a completion and block until the loop has run it, so a worker
// retires only after its callback returned. Callbacks never run re-entrantly.
type Loop struct {
	log       logrus.FieldLogger
	queue     chan *completion
	done      chan struct{}
	closeOnce sync.Once
	busy      atomic.Bool
}

// NewLoop returns an open completion loop.
func NewLoop(opts LoopOptions) *Loop {
	opts.applyDefaults()

	return &Loop{
		log:   opts.Logger,
		queue: make(chan *completion, opts.QueueSize),
		done:  make(chan struct{}),
	}
}

// Run delivers completions until ctx is done or the loop is closed.
func (l *Loop) Run(ctx context.Context) error {
	return l.RunUntil(ctx, nil)
}

// RunUntil delivers completions until until is closed, ctx is done or the
// loop is closed. Pass an operation's Done channel to drive the loop until
// that operation retired.
func (l *Loop) RunUntil(ctx context.Context, until <-chan struct{}) error {
	if !l.busy.CompareAndSwap(false, true) {
		return ErrLoopBusy
	}
	defer l.busy.Store(false)

	if ctx == nil {
		ctx = context.Background()
	}

	for {
		select {
		case c := <-l.queue:
			l.execute(c)
		case <-until:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return ErrLoopClosed
		}
	}
}

// Poll runs every completion queued right now without blocking and returns
// their number. A Poll from inside a callback returns 0.
func (l *Loop) Poll() int {
	if !l.busy.CompareAndSwap(false, true) {
		return 0
	}
	defer l.busy.Store(false)

	n := 0
	for {
		select {
		case c := <-l.queue:
			if l.execute(c) {
				n++
			}
		default:
			return n
		}
	}
}

// Close stops the loop. Completions not yet delivered are dropped; their
// operations still record the outcome.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

// Closed reports whether Close was called.
func (l *Loop) Closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// execute runs one completion unless its worker already gave up on it.
func (l *Loop) execute(c *completion) bool {
	if !c.state.CompareAndSwap(completionPending, completionRunning) {
		return false
	}
	defer close(c.ack)

	c.run()
	return true
}

// post queues fn and blocks until the loop ran it. It returns false when the
// loop was closed before fn started.
func (l *Loop) post(fn func()) bool {
	c := &completion{run: fn, ack: make(chan struct{})}

	select {
	case l.queue <- c:
	case <-l.done:
		return false
	}

	select {
	case <-c.ack:
		return true
	case <-l.done:
		if c.state.CompareAndSwap(completionPending, completionDropped) {
			l.log.Debug("completion dropped, loop closed")
			return false
		}

		// the loop already started fn
		<-c.ack
		return true
	}
}
