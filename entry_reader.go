// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// payloadReader counts delivered bytes and fails when the stream length
// differs from the declared uncompressed size.
type payloadReader struct {
	src        io.Reader
	closer     io.Closer
	path       string
	want       int64
	read       int64
	compressed bool
}

// Read implements io.Reader.
func (r *payloadReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	r.read += int64(n)

	if r.read > r.want {
		return n, fmt.Errorf("%w: entry %s yields more than %d bytes", ErrInvalidData, r.path, r.want)
	}

	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		if r.read != r.want {
			return n, fmt.Errorf("%w: entry %s yields %d of %d bytes", ErrInvalidData, r.path, r.read, r.want)
		}

		return n, io.EOF
	case r.compressed:
		return n, fmt.Errorf("%w: decompress entry %s: %w", ErrInvalidData, r.path, err)
	default:
		return n, fmt.Errorf("%w: read entry %s: %w", ErrAccessFailed, r.path, err)
	}
}

// Close releases the decoder and the backing file when owned.
func (r *payloadReader) Close() error {
	if r.closer == nil {
		return nil
	}

	return r.closer.Close()
}

// openArchivePayload opens one archive-backed entry stream from ra.
func openArchivePayload(ra io.ReaderAt, version Version, entry EntryInfo) (io.ReadCloser, error) {
	if entry.Offset > math.MaxInt64 || entry.StoredSize < 0 {
		return nil, fmt.Errorf("%w: entry %s has invalid bounds", ErrInvalidData, entry.Path)
	}

	sr := io.NewSectionReader(ra, int64(entry.Offset), entry.StoredSize)
	if !entry.Compressed {
		return &payloadReader{src: sr, path: entry.Path, want: entry.Size}, nil
	}

	dec, err := newDecompressReader(version, sr)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", entry.Path, err)
	}

	return &payloadReader{src: dec, closer: dec, path: entry.Path, want: entry.Size, compressed: true}, nil
}

// openSourcePayload opens the on-disk source of an authored entry.
func openSourcePayload(entry EntryInfo) (io.ReadCloser, int64, error) {
	f, err := os.Open(entry.SourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s: %w", ErrSourceFileMissing, entry.SourcePath, err)
		}

		return nil, 0, fmt.Errorf("%w: open source %s: %w", ErrAccessFailed, entry.SourcePath, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: stat source %s: %w", ErrAccessFailed, entry.SourcePath, err)
	}

	return f, fi.Size(), nil
}

// ownedReader closes an extra resource after the stream.
type ownedReader struct {
	io.ReadCloser
	owner io.Closer
}

// Close closes stream and owner.
func (r ownedReader) Close() error {
	err := r.ReadCloser.Close()
	if ownerErr := r.owner.Close(); err == nil {
		err = ownerErr
	}

	return err
}
