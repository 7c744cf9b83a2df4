// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"fmt"
	"io"
	"os"
)

// ReadHeader opens a BSA and returns only the fixed header without parsing records.
func ReadHeader(path string) (Header, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return Header{}, err
	}
	defer func() { _ = f.Close() }()

	return ReadHeaderFromReaderAt(f, size)
}

// ReadHeaderFromReaderAt reads the fixed BSA header from a random-access source.
func ReadHeaderFromReaderAt(ra io.ReaderAt, size int64) (Header, error) {
	if ra == nil {
		return Header{}, ErrNilReader
	}

	return parseHeader(ra, size)
}

// ListEntries opens a BSA and returns entry metadata without payload reads.
// Entries are ordered by folder record, then by file record.
func ListEntries(path string) ([]EntryInfo, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return ListEntriesFromReaderAt(f, size)
}

// ListEntriesFromReaderAt parses entry metadata from a random-access source.
func ListEntriesFromReaderAt(ra io.ReaderAt, size int64) ([]EntryInfo, error) {
	if ra == nil {
		return nil, ErrNilReader
	}

	index, err := parseIndex(ra, size, false)
	if err != nil {
		return nil, err
	}

	return index.Entries(), nil
}

// Entries flattens folder records into one entry list.
func (idx *Index) Entries() []EntryInfo {
	if idx == nil {
		return nil
	}

	total := 0
	for i := range idx.Folders {
		total += len(idx.Folders[i].Files)
	}

	entries := make([]EntryInfo, 0, total)
	for i := range idx.Folders {
		entries = append(entries, idx.Folders[i].Files...)
	}

	return entries
}

// openFileWithSize opens a file and returns a handle plus current size.
func openFileWithSize(path string) (*os.File, int64, error) {
	f, err := os.Open(path) //nolint:gosec // caller-selected archive path
	if err != nil {
		return nil, 0, newError(codeForOSError(err, CodeFileNotFound), "open", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, newError(CodeAccessFailed, "stat", path, fmt.Errorf("stat: %w", err))
	}

	return f, fi.Size(), nil
}
