// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

const (
	benchDefaultEntries = 128
)

var (
	// benchListSink prevents compiler elimination in list benchmark loops.
	benchListSink int
)

func BenchmarkLoad(b *testing.B) {
	path := createMultiFileArchive(b, benchDefaultEntries, true)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a, err := Load(context.Background(), path, LoadOptions{})
		if err != nil {
			b.Fatal(err)
		}

		root, _ := a.Root()
		benchListSink = root.TotalFileCount()
	}
}

func BenchmarkLoadValidateHashes(b *testing.B) {
	path := createMultiFileArchive(b, benchDefaultEntries, true)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Load(context.Background(), path, LoadOptions{ValidateHashes: true}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkListEntries(b *testing.B) {
	path := createMultiFileArchive(b, benchDefaultEntries, false)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		entries, err := ListEntries(path)
		if err != nil {
			b.Fatal(err)
		}

		total := 0
		for _, e := range entries {
			total += len(e.Path) + int(e.Size)
		}

		benchListSink = total
	}
}

func BenchmarkExtract(b *testing.B) {
	benchmarkExtractWithSanitize(b, false)
}

func BenchmarkExtractSanitize(b *testing.B) {
	benchmarkExtractWithSanitize(b, true)
}

// benchmarkExtractWithSanitize benchmarks full extract flow with optional path sanitization.
func benchmarkExtractWithSanitize(b *testing.B, sanitizeNames bool) {
	path := createMultiFileArchive(b, benchDefaultEntries, true)
	a, err := Load(context.Background(), path, LoadOptions{})
	if err != nil {
		b.Fatal(err)
	}

	dir := b.TempDir()
	opts := ExtractOptions{
		MaxWorkers: 4,
		RawNames:   !sanitizeNames,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := filepath.Join(dir, "ext", fmt.Sprintf("run%d", i))
		if err := a.Extract(context.Background(), nil, out, opts); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRewriteConvert(b *testing.B) {
	path := createMultiFileArchive(b, benchDefaultEntries, true)
	dir := b.TempDir()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a, err := Load(context.Background(), path, LoadOptions{})
		if err != nil {
			b.Fatal(err)
		}

		out := filepath.Join(dir, fmt.Sprintf("out%d.bsa", i))
		if err := a.WriteWithOptions(context.Background(), out, WriteOptions{Version: VersionSkyrim}); err != nil {
			b.Fatal(err)
		}
	}
}
