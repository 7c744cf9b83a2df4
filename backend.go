// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Backend is the container implementation behind an Archive. A Backend is
// bound to one archive file: Parse and a successful Write rebind it.
// Implementations must be safe for concurrent ExtractOne/ExtractAll/OpenEntry calls.
type Backend interface {
	// Parse reads the container at path. With validate set every stored name
	// hash is verified.
	Parse(ctx context.Context, path string, validate bool) (*Index, error)
	// Write serializes index to path and returns the index as written.
	Write(ctx context.Context, path string, index *Index, opts WriteOptions) (*Index, error)
	// OpenEntry streams the uncompressed bytes of one entry.
	OpenEntry(entry EntryInfo) (io.ReadCloser, error)
	// ExtractOne writes one entry below outDir.
	ExtractOne(ctx context.Context, entry EntryInfo, outDir string, opts ExtractOptions) error
	// ExtractAll writes entries below outDir honoring opts.Progress.
	ExtractAll(ctx context.Context, entries []EntryInfo, outDir string, opts ExtractOptions) error
	// CreateEntry describes a new entry whose bytes come from sourcePath at write time.
	CreateEntry(name string, sourcePath string, compressed bool) EntryInfo
}

// FileBackend is the native Backend over archive files on disk. Every read
// operation opens its own file handle.
type FileBackend struct {
	log     logrus.FieldLogger
	path    string
	mu      sync.RWMutex
	version Version
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend returns an unbound native backend; nil log discards.
func NewFileBackend(log logrus.FieldLogger) *FileBackend {
	if log == nil {
		log = discardLogger()
	}

	return &FileBackend{log: log}
}

// Path returns the bound archive path.
func (b *FileBackend) Path() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.path
}

// Parse implements Backend.
func (b *FileBackend) Parse(ctx context.Context, path string, validate bool) (*Index, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, newError(CodeCanceled, "load", path, err)
		}
	}

	startedAt := time.Now()
	f, size, err := openFileWithSize(path)
	if err != nil {
		return nil, asBackendError("load", path, err, CodeAccessFailed)
	}
	defer func() { _ = f.Close() }()

	index, err := parseIndex(f, size, validate)
	if err != nil {
		return nil, asBackendError("load", path, err, CodeInvalidData)
	}

	b.mu.Lock()
	b.path = path
	b.version = index.Header.Version
	b.mu.Unlock()

	b.logger().WithFields(logrus.Fields{
		"path":     path,
		"version":  index.Header.Version,
		"folders":  index.Header.FolderCount,
		"files":    index.Header.FileCount,
		"validate": validate,
		"took":     time.Since(startedAt),
	}).Debug("archive parsed")

	return index, nil
}

// Write implements Backend. The archive is written to a temp file next to
// path and renamed into place, so path may be the bound archive itself.
func (b *FileBackend) Write(ctx context.Context, path string, index *Index, opts WriteOptions) (*Index, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if path == "" {
		path = b.Path()
	}
	if path == "" {
		return nil, newError(CodeAccessFailed, "write", path, ErrInvalidEntryPath)
	}

	startedAt := time.Now()
	var (
		src        *os.File
		srcVersion Version
	)
	if index != nil && needsArchiveHandle(index.Entries()) {
		f, version, err := b.openArchive()
		if err != nil {
			return nil, asBackendError("write", path, err, CodeAccessFailed)
		}

		src = f
		srcVersion = version
	}
	closeSrc := func() {
		if src != nil {
			_ = src.Close()
			src = nil
		}
	}
	defer closeSrc()

	if !opts.Version.Valid() {
		opts.Version = srcVersion
	}

	tmpPath := path + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // caller-selected output path
	if err != nil {
		return nil, newError(codeForOSError(err, CodeAccessFailed), "write", path, fmt.Errorf("create temp file: %w", err))
	}

	var ra io.ReaderAt
	if src != nil {
		ra = src
	}

	written, err := writeArchive(ctx, out, ra, srcVersion, index, opts)
	if err == nil {
		if syncErr := out.Sync(); syncErr != nil {
			err = fmt.Errorf("sync archive: %w", syncErr)
		}
	}
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close archive: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, asBackendError("write", path, err, CodeAccessFailed)
	}

	closeSrc()
	if err := replaceArchiveFile(tmpPath, path, opts.BackupKeep); err != nil {
		_ = os.Remove(tmpPath)
		return nil, newError(CodeAccessFailed, "write", path, err)
	}

	b.mu.Lock()
	b.path = path
	b.version = written.Header.Version
	b.mu.Unlock()

	b.logger().WithFields(logrus.Fields{
		"path":    path,
		"version": written.Header.Version,
		"folders": written.Header.FolderCount,
		"files":   written.Header.FileCount,
		"took":    time.Since(startedAt),
	}).Debug("archive written")

	return written, nil
}

// OpenEntry implements Backend.
func (b *FileBackend) OpenEntry(entry EntryInfo) (io.ReadCloser, error) {
	if !entry.archiveBacked() {
		rc, _, err := openSourcePayload(entry)
		if err != nil {
			return nil, asBackendError("open", entry.Path, err, CodeAccessFailed)
		}

		return rc, nil
	}

	f, version, err := b.openArchive()
	if err != nil {
		return nil, asBackendError("open", entry.Path, err, CodeAccessFailed)
	}

	rc, err := openArchivePayload(f, version, entry)
	if err != nil {
		_ = f.Close()
		return nil, asBackendError("open", entry.Path, err, CodeInvalidData)
	}

	return ownedReader{ReadCloser: rc, owner: f}, nil
}

// CreateEntry implements Backend. The size is taken from the source file when
// it exists; a missing source is reported at write or extract time.
func (b *FileBackend) CreateEntry(name string, sourcePath string, compressed bool) EntryInfo {
	entry := EntryInfo{
		Path:       name,
		Name:       name,
		SourcePath: sourcePath,
		Hash:       HashFileName(name),
		Compressed: compressed,
	}

	if fi, err := os.Stat(sourcePath); err == nil && fi.Mode().IsRegular() {
		entry.Size = fi.Size()
		entry.StoredSize = fi.Size()
	}

	return entry
}

// openArchive opens a private read handle to the bound archive.
func (b *FileBackend) openArchive() (*os.File, Version, error) {
	b.mu.RLock()
	path, version := b.path, b.version
	b.mu.RUnlock()

	if path == "" {
		return nil, 0, fmt.Errorf("%w: %w", ErrFileNotFound, ErrNotLoaded)
	}

	f, _, err := openFileWithSize(path)
	if err != nil {
		return nil, 0, err
	}

	return f, version, nil
}

// logger returns the backend logger or a discard logger for zero values.
func (b *FileBackend) logger() logrus.FieldLogger {
	if b.log == nil {
		return discardLogger()
	}

	return b.log
}
