// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"context"
	"errors"
	"io/fs"
	"strings"
)

// Sentinel errors of the archive error taxonomy. Use errors.Is in callers.
var (
	// ErrAccessFailed means an underlying file could not be opened, read or written.
	ErrAccessFailed = errors.New("access failed")
	// ErrCanceled means the backend aborted the operation (e.g. progress predicate returned false).
	ErrCanceled = errors.New("canceled")
	// ErrFileNotFound means the archive path does not exist.
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidData means container bytes do not match the expected structure.
	ErrInvalidData = errors.New("invalid data")
	// ErrInvalidHashes means hash validation was requested and failed.
	ErrInvalidHashes = errors.New("invalid hashes")
	// ErrSourceFileMissing means an authored entry references an absent source file.
	ErrSourceFileMissing = errors.New("source file missing")
	// ErrZlibInitFailed means the compression subsystem failed to initialize.
	ErrZlibInitFailed = errors.New("zlib init failed")
	// ErrUnknown covers any backend failure outside the known codes.
	ErrUnknown = errors.New("unknown")
)

// Sentinel errors of the tree and handle layer.
var (
	// ErrOutOfRange means a child index is outside [0, count).
	ErrOutOfRange = errors.New("index out of range")
	// ErrNotLoaded means the archive has no tree yet.
	ErrNotLoaded = errors.New("archive not loaded")
	// ErrNilArchive means the archive handle is nil.
	ErrNilArchive = errors.New("archive is nil")
	// ErrInvalidHandle means a folder or file handle does not belong to a live tree.
	ErrInvalidHandle = errors.New("invalid tree handle")
	// ErrInvalidEntryPath means an entry path is empty or invalid after normalization.
	ErrInvalidEntryPath = errors.New("invalid entry path")
	// ErrInvalidExtractPath means archive entry path is invalid for extraction destination.
	ErrInvalidExtractPath = errors.New("invalid extract path")
	// ErrExtractPathOutsideRoot means resolved extraction path escapes destination root.
	ErrExtractPathOutsideRoot = errors.New("extract path escapes destination root")
	// ErrInvalidCompressPattern means one or more path rules are invalid.
	ErrInvalidCompressPattern = errors.New("invalid path rules")
	// ErrSizeOverflow means a size or offset does not fit the format fields.
	ErrSizeOverflow = errors.New("size exceeds format limit")
	// ErrLoopClosed means the completion loop was closed before delivery.
	ErrLoopClosed = errors.New("completion loop closed")
	// ErrNilLoop means an async operation was started without a completion loop.
	ErrNilLoop = errors.New("completion loop is nil")
	// ErrLoopBusy means the loop is already being driven by another caller.
	ErrLoopBusy = errors.New("completion loop is already running")
	// ErrDuplicateEntryPath means two entries resolve to the same case-insensitive path.
	ErrDuplicateEntryPath = errors.New("duplicate entry path")
	// ErrNilReader means reader source is nil.
	ErrNilReader = errors.New("reader is nil")
	// ErrNilWriter means output writer is nil.
	ErrNilWriter = errors.New("writer is nil")
)

// ErrorCode is a backend result code.
type ErrorCode int

// Backend result codes.
const (
	CodeNone ErrorCode = iota
	CodeAccessFailed
	CodeCanceled
	CodeFileNotFound
	CodeInvalidData
	CodeInvalidHashes
	CodeSourceFileMissing
	CodeZlibInitFailed
	CodeUnknown
)

// Err returns the taxonomy sentinel for code. CodeNone yields nil and any
// unrecognized nonzero code yields ErrUnknown.
func (c ErrorCode) Err() error {
	switch c {
	case CodeNone:
		return nil
	case CodeAccessFailed:
		return ErrAccessFailed
	case CodeCanceled:
		return ErrCanceled
	case CodeFileNotFound:
		return ErrFileNotFound
	case CodeInvalidData:
		return ErrInvalidData
	case CodeInvalidHashes:
		return ErrInvalidHashes
	case CodeSourceFileMissing:
		return ErrSourceFileMissing
	case CodeZlibInitFailed:
		return ErrZlibInitFailed
	default:
		return ErrUnknown
	}
}

// String returns the human-readable message of the code.
func (c ErrorCode) String() string {
	if c == CodeNone {
		return "none"
	}

	return c.Err().Error()
}

// Error is a backend failure carrying its taxonomy code.
type Error struct {
	// Err is the underlying cause, may be nil.
	Err error
	// Op is the failed operation ("load", "write", "extract").
	Op string
	// Path is the archive or file path involved.
	Path string
	// Code is the taxonomy code, never CodeNone.
	Code ErrorCode
}

// newError builds *Error; CodeNone is promoted to CodeUnknown so a failure
// never reads as success.
func newError(code ErrorCode, op string, path string, cause error) *Error {
	if code == CodeNone {
		code = CodeUnknown
	}

	return &Error{Code: code, Op: op, Path: path, Err: cause}
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Path != "" {
			b.WriteByte(' ')
			b.WriteString(e.Path)
		}
		b.WriteString(": ")
	}

	switch {
	case e.Err == nil:
		b.WriteString(e.Code.String())
	case errors.Is(e.Err, e.Code.Err()):
		// cause already names the code
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Code.String())
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap exposes both the taxonomy sentinel and the cause.
func (e *Error) Unwrap() []error {
	sentinel := e.Code.Err()
	if e.Err == nil {
		return []error{sentinel}
	}

	return []error{sentinel, e.Err}
}

// CodeOf maps err to exactly one taxonomy code. Nil is CodeNone; errors
// outside the taxonomy are CodeUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}

	var bsaErr *Error
	if errors.As(err, &bsaErr) {
		if bsaErr.Code == CodeNone {
			return CodeUnknown
		}

		return bsaErr.Code
	}

	switch {
	case errors.Is(err, ErrAccessFailed):
		return CodeAccessFailed
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, ErrFileNotFound):
		return CodeFileNotFound
	case errors.Is(err, ErrInvalidData):
		return CodeInvalidData
	case errors.Is(err, ErrInvalidHashes):
		return CodeInvalidHashes
	case errors.Is(err, ErrSourceFileMissing):
		return CodeSourceFileMissing
	case errors.Is(err, ErrZlibInitFailed):
		return CodeZlibInitFailed
	default:
		return CodeUnknown
	}
}

// asBackendError wraps err as *Error unless it already carries a code.
func asBackendError(op string, path string, err error, fallback ErrorCode) error {
	if err == nil {
		return nil
	}

	var bsaErr *Error
	if errors.As(err, &bsaErr) {
		return err
	}

	code := CodeOf(err)
	if code == CodeUnknown {
		code = fallback
	}

	return newError(code, op, path, err)
}

// codeForOSError classifies filesystem errors; missing selects the code for not-exist.
func codeForOSError(err error, missing ErrorCode) ErrorCode {
	if errors.Is(err, fs.ErrNotExist) {
		return missing
	}

	return CodeAccessFailed
}
