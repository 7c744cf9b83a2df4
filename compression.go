// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	"github.com/woozymasta/pathrules"
)

// pathMatcher holds compiled include rules for archive paths.
type pathMatcher struct {
	matcher *pathrules.Matcher
}

// newPathMatcher compiles path rules; empty rule sets yield a nil matcher.
func newPathMatcher(rules []pathrules.Rule, opts pathrules.MatcherOptions) (*pathMatcher, error) {
	rules = normalizePathRules(rules)
	if len(rules) == 0 {
		return nil, nil
	}

	matcher, err := pathrules.NewMatcher(rules, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidCompressPattern, err)
	}

	return &pathMatcher{matcher: matcher}, nil
}

// normalizePathRules normalizes rule patterns and drops empty patterns.
func normalizePathRules(rules []pathrules.Rule) []pathrules.Rule {
	normalized := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		pattern := normalizePathForMatching(rule.Pattern)
		if pattern == "" {
			continue
		}

		normalized = append(normalized, pathrules.Rule{
			Action:  rule.Action,
			Pattern: pattern,
		})
	}

	return normalized
}

// Match reports whether archive path is included by the rules.
func (m *pathMatcher) Match(path string) bool {
	if m == nil || m.matcher == nil {
		return false
	}

	candidate := NormalizePath(path)
	if candidate == "" {
		return false
	}

	return m.matcher.Included(candidate, false)
}

// shouldCompressBySize reports whether payload size fits compression boundaries.
func shouldCompressBySize(opts WriteOptions, size int64) bool {
	return size >= int64(opts.MinCompressSize) && size <= int64(opts.MaxCompressSize)
}

// compressPayload encodes data with the codec of version.
func compressPayload(version Version, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) / 2)

	if version.usesLZ4() {
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("lz4 close: %w", err)
		}

		return buf.Bytes(), nil
	}

	zw, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrZlibInitFailed, err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}

	return buf.Bytes(), nil
}

// newDecompressReader wraps src with the decoder of version.
func newDecompressReader(version Version, src io.Reader) (io.ReadCloser, error) {
	if version.usesLZ4() {
		return io.NopCloser(lz4.NewReader(src)), nil
	}

	zr, err := zlib.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrZlibInitFailed, err)
	}

	return zr, nil
}
