// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of an async operation.
type State int32

// Operation states. Each operation moves Idle -> Running -> Completed|Failed once.
const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// operation is the shared worker lifecycle of async operations.
type operation struct {
	err       error
	log       logrus.FieldLogger
	done      chan struct{}
	op        string
	path      string
	state     atomic.Int32
	delivered atomic.Bool
}

// init prepares an idle operation.
func (o *operation) init(log logrus.FieldLogger, op string, path string) {
	if log == nil {
		log = discardLogger()
	}

	o.log = log.WithFields(logrus.Fields{"op": op, "path": path})
	o.done = make(chan struct{})
	o.op = op
	o.path = path
}

// State returns the current lifecycle state.
func (o *operation) State() State {
	return State(o.state.Load())
}

// Done is closed after the worker delivered its completion and retired.
func (o *operation) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the worker retired or ctx is done and returns the outcome.
// Someone must drive the loop meanwhile, or the worker never retires.
func (o *operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the outcome once Done is closed, nil before.
func (o *operation) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// Delivered reports whether the completion callback ran.
func (o *operation) Delivered() bool {
	return o.delivered.Load()
}

// start runs work on one worker goroutine, then posts deliver to loop and
// retires after the loop ran it.
func (o *operation) start(loop *Loop, work func() error, deliver func(err error)) {
	o.state.Store(int32(StateRunning))

	go func() {
		defer close(o.done)

		o.log.Debug("worker started")
		err := runRecovered(o.log, o.op, o.path, work)

		o.err = err
		final := StateCompleted
		if err != nil {
			final = StateFailed
		}
		o.state.CompareAndSwap(int32(StateRunning), int32(final))

		posted := loop.post(func() {
			if o.delivered.CompareAndSwap(false, true) && deliver != nil {
				deliver(err)
			}
		})
		if !posted {
			o.log.Warn("completion not delivered, loop closed")
		}

		o.log.WithField("state", final.String()).Debug("worker retired")
	}()
}

// runRecovered calls fn and converts a panic into a CodeUnknown error.
func runRecovered(log logrus.FieldLogger, op string, path string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Warn("recovered worker panic")

			err = newError(CodeUnknown, op, path, fmt.Errorf("panic: %v", r))
		}
	}()

	return fn()
}

// LoadOperation is one asynchronous load. The archive is handed over only
// through the completion callback.
type LoadOperation struct {
	operation
}

// LoadAsync parses the archive at path on a worker goroutine. onDone runs
// exactly once on the goroutine driving loop, with either the loaded archive
// or an error.
func LoadAsync(loop *Loop, path string, opts LoadOptions, onDone func(*Archive, error)) (*LoadOperation, error) {
	if loop == nil {
		return nil, ErrNilLoop
	}
	if loop.Closed() {
		return nil, ErrLoopClosed
	}

	opts.applyDefaults()
	op := &LoadOperation{}
	op.init(opts.Logger, "load", path)

	var archive *Archive
	op.start(loop,
		func() error {
			var err error
			archive, err = Load(context.Background(), path, opts)
			return err
		},
		func(err error) {
			if onDone == nil {
				return
			}

			if err != nil {
				onDone(nil, err)
				return
			}

			onDone(archive, nil)
		},
	)

	return op, nil
}

// CreateArchive delivers a new empty archive bound to path through loop,
// mirroring LoadAsync for callers that author archives from scratch.
func CreateArchive(loop *Loop, path string, opts ArchiveOptions, onDone func(*Archive, error)) (*LoadOperation, error) {
	if loop == nil {
		return nil, ErrNilLoop
	}
	if loop.Closed() {
		return nil, ErrLoopClosed
	}

	opts.applyDefaults()
	op := &LoadOperation{}
	op.init(opts.Logger, "create", path)

	var archive *Archive
	op.start(loop,
		func() error {
			archive = NewArchive(path, opts)
			return nil
		},
		func(err error) {
			if onDone != nil {
				if err != nil {
					onDone(nil, err)
					return
				}

				onDone(archive, nil)
			}
		},
	)

	return op, nil
}

// ExtractOperation is one asynchronous extraction.
type ExtractOperation struct {
	operation
}

// ExtractFileAsync writes file to outDir/<folder>/<name> on a worker goroutine.
// onDone runs exactly once on the goroutine driving loop.
func (a *Archive) ExtractFileAsync(loop *Loop, file File, outDir string, opts ExtractOptions, onDone func(error)) (*ExtractOperation, error) {
	return a.extractAsync(loop, &file, outDir, opts, onDone)
}

// ExtractAllAsync writes every file below outDir on a worker goroutine.
// opts.Progress runs on the worker, once per entry; returning false aborts
// the rest and the outcome is an ErrCanceled error. Files already written are
// kept. onDone runs exactly once on the goroutine driving loop.
func (a *Archive) ExtractAllAsync(loop *Loop, outDir string, opts ExtractOptions, onDone func(error)) (*ExtractOperation, error) {
	return a.extractAsync(loop, nil, outDir, opts, onDone)
}

// extractAsync starts one extraction worker.
func (a *Archive) extractAsync(loop *Loop, file *File, outDir string, opts ExtractOptions, onDone func(error)) (*ExtractOperation, error) {
	if a == nil {
		return nil, ErrNilArchive
	}
	if loop == nil {
		return nil, ErrNilLoop
	}
	if loop.Closed() {
		return nil, ErrLoopClosed
	}

	op := &ExtractOperation{}
	op.init(a.log, "extract", outDir)
	op.start(loop,
		func() error {
			return a.Extract(context.Background(), file, outDir, opts)
		},
		onDone,
	)

	return op, nil
}
