// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

/*
Package bsa reads, authors, writes and extracts Bethesda BSA archives
(versions 103, 104 and 105). An Archive exposes its content as a tree of
Folder and File handles; loading and extraction can run on worker goroutines
with exactly one completion callback delivered through a Loop.

Compression rules (summary):
  - an entry is a candidate when it was created compressed or matches WriteOptions.Compress rules;
  - entry size must be within [MinCompressSize, MaxCompressSize];
  - v103/v104 payloads use zlib, v105 payloads use LZ4 frames;
  - compression is written only when result is smaller than source.

# Loading

Load an archive synchronously and navigate its tree:

	a, err := bsa.Load(ctx, "Skyrim - Meshes.bsa", bsa.LoadOptions{ValidateHashes: true})
	if err != nil {
	    return err
	}
	root, _ := a.Root()
	for i := range root.SubfolderCount() {
	    folder, _ := root.Subfolder(i)
	    fmt.Println(folder.FullPath(), folder.TotalFileCount())
	}

For metadata-only scans, use helpers that do not build a tree:

	header, err := bsa.ReadHeader("Skyrim - Meshes.bsa")
	if err != nil {
	    return err
	}
	entries, err := bsa.ListEntries("Skyrim - Meshes.bsa")
	if err != nil {
	    return err
	}
	_, _ = header, entries

# Async operations

Async operations run their backend call on a worker goroutine and post the
completion to a Loop. Callbacks run only on the goroutine driving the loop:

	loop := bsa.NewLoop(bsa.LoopOptions{})
	defer loop.Close()

	op, err := bsa.LoadAsync(loop, "test.bsa", bsa.LoadOptions{}, func(a *bsa.Archive, err error) {
	    // runs once, on the goroutine calling RunUntil
	})
	if err != nil {
	    return err
	}
	if err := loop.RunUntil(ctx, op.Done()); err != nil {
	    return err
	}

Full extraction calls ExtractOptions.Progress once per entry from the worker;
returning false stops the remaining entries and the callback receives an
error matching ErrCanceled. Files written before the abort are kept.

# Authoring

	a := bsa.NewArchive("mod.bsa", bsa.ArchiveOptions{Version: bsa.VersionSkyrimSE})
	root, _ := a.Root()
	meshes, _ := root.AddSubfolder("meshes")
	f, _ := a.CreateFile("rock.nif", "/src/rock.nif", true)
	_ = meshes.AddFile(f)
	if err := a.Write(ctx, ""); err != nil {
	    return err
	}

# Errors

Backend failures are *Error values carrying an ErrorCode. Use errors.Is with
ErrAccessFailed, ErrCanceled, ErrFileNotFound, ErrInvalidData,
ErrInvalidHashes, ErrSourceFileMissing, ErrZlibInitFailed or ErrUnknown, or
CodeOf to map any error to exactly one code.
*/
package bsa
