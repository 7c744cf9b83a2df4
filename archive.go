// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Archive is a BSA bound to a path, holding one Backend and the tree arena.
//
// treeMu guards the arena. ioMu is held shared by extractions and exclusively
// by Write, so a write never overlaps an extraction of the same archive.
type Archive struct {
	backend Backend
	log     logrus.FieldLogger
	tree    *tree
	name    string
	header  Header
	treeMu  sync.RWMutex
	ioMu    sync.RWMutex
}

// NewArchive returns an empty archive bound to name, ready for authoring.
func NewArchive(name string, opts ArchiveOptions) *Archive {
	opts.applyDefaults()

	return &Archive{
		backend: opts.Backend,
		log:     opts.Logger,
		tree:    newTree(),
		name:    name,
		header: Header{
			Version: opts.Version,
			Flags:   FlagIncludeDirectoryNames | FlagIncludeFileNames,
		},
	}
}

// Load parses the archive at path and builds its tree.
func Load(ctx context.Context, path string, opts LoadOptions) (*Archive, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	opts.applyDefaults()

	index, err := opts.Backend.Parse(ctx, path, opts.ValidateHashes)
	if err != nil {
		return nil, asBackendError("load", path, err, CodeUnknown)
	}
	if index == nil {
		return nil, newError(CodeInvalidData, "load", path, fmt.Errorf("%w: backend returned no index", ErrInvalidData))
	}

	a := &Archive{
		backend: opts.Backend,
		log:     opts.Logger,
		tree:    buildTree(index),
		name:    path,
		header:  index.Header,
	}

	a.log.WithFields(logrus.Fields{
		"path":    path,
		"type":    a.header.Version.Type().String(),
		"folders": len(a.tree.folders) - 1,
		"files":   len(a.tree.files),
	}).Debug("archive loaded")

	return a, nil
}

// Name returns the bound archive path.
func (a *Archive) Name() string {
	if a == nil {
		return ""
	}

	a.treeMu.RLock()
	defer a.treeMu.RUnlock()

	return a.name
}

// Version returns the format version of the archive.
func (a *Archive) Version() Version {
	if a == nil {
		return 0
	}

	a.treeMu.RLock()
	defer a.treeMu.RUnlock()

	return a.header.Version
}

// Type returns the archive subtype.
func (a *Archive) Type() Type {
	return a.Version().Type()
}

// Flags returns the archive flag set.
func (a *Archive) Flags() ArchiveFlags {
	if a == nil {
		return 0
	}

	a.treeMu.RLock()
	defer a.treeMu.RUnlock()

	return a.header.Flags
}

// Header returns a copy of the archive header.
func (a *Archive) Header() Header {
	if a == nil {
		return Header{}
	}

	a.treeMu.RLock()
	defer a.treeMu.RUnlock()

	return a.header
}

// Root returns the tree root.
func (a *Archive) Root() (Folder, error) {
	if a == nil {
		return Folder{}, ErrNilArchive
	}

	a.treeMu.RLock()
	defer a.treeMu.RUnlock()

	if a.tree == nil {
		return Folder{}, ErrNotLoaded
	}

	return Folder{archive: a, index: rootFolderIndex}, nil
}

// CreateFile registers a new detached file whose bytes are read from
// sourcePath at write time. Add it to a folder with Folder.AddFile.
func (a *Archive) CreateFile(name string, sourcePath string, compressed bool) (File, error) {
	if a == nil {
		return File{}, ErrNilArchive
	}

	if err := validateNodeName(name); err != nil {
		return File{}, err
	}

	if strings.TrimSpace(sourcePath) == "" {
		return File{}, fmt.Errorf("%w: empty source path for %q", ErrInvalidEntryPath, name)
	}

	info := a.backend.CreateEntry(name, sourcePath, compressed)
	info.Name = name
	info.Path = name
	info.Folder = ""
	info.SourcePath = sourcePath

	a.treeMu.Lock()
	defer a.treeMu.Unlock()

	if a.tree == nil {
		return File{}, ErrNotLoaded
	}

	return File{archive: a, index: a.tree.addFile(info)}, nil
}

// Entries returns the flat entry listing in tree order.
func (a *Archive) Entries() []EntryInfo {
	index, err := a.snapshotIndex()
	if err != nil {
		return nil
	}

	return index.Entries()
}

// OpenFile streams the uncompressed content of file.
func (a *Archive) OpenFile(file File) (io.ReadCloser, error) {
	info, err := a.fileInfo(file)
	if err != nil {
		return nil, err
	}

	rc, err := a.backend.OpenEntry(info)
	if err != nil {
		return nil, asBackendError("open", info.Path, err, CodeUnknown)
	}

	return rc, nil
}

// ReadFile reads the full uncompressed content of file.
func (a *Archive) ReadFile(file File) ([]byte, error) {
	rc, err := a.OpenFile(file)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, asBackendError("read", file.Path(), err, CodeAccessFailed)
	}

	return data, nil
}

// Write serializes the current tree, including authored files, to path.
// An empty path writes to the bound path.
func (a *Archive) Write(ctx context.Context, path string) error {
	return a.WriteWithOptions(ctx, path, WriteOptions{})
}

// WriteWithOptions serializes the current tree to path. On success the
// archive is bound to path and its files read from the written archive;
// handles stay valid.
func (a *Archive) WriteWithOptions(ctx context.Context, path string, opts WriteOptions) error {
	if a == nil {
		return ErrNilArchive
	}

	if ctx == nil {
		ctx = context.Background()
	}

	a.ioMu.Lock()
	defer a.ioMu.Unlock()

	index, err := a.snapshotIndex()
	if err != nil {
		return err
	}

	if path == "" {
		path = a.Name()
	}

	if !opts.Version.Valid() {
		opts.Version = index.Header.Version
	}

	written, err := a.backend.Write(ctx, path, index, opts)
	if err != nil {
		return asBackendError("write", path, err, CodeUnknown)
	}

	a.rebind(path, written)
	a.log.WithFields(logrus.Fields{
		"path":  path,
		"files": written.Header.FileCount,
	}).Debug("archive written")

	return nil
}

// Extract writes file (or every file when file is nil) below outDir.
// Files already extracted before a failure or abort are kept.
func (a *Archive) Extract(ctx context.Context, file *File, outDir string, opts ExtractOptions) error {
	if a == nil {
		return ErrNilArchive
	}

	if ctx == nil {
		ctx = context.Background()
	}

	a.ioMu.RLock()
	defer a.ioMu.RUnlock()

	if file != nil {
		info, err := a.fileInfo(*file)
		if err != nil {
			return err
		}

		if err := a.backend.ExtractOne(ctx, info, outDir, opts); err != nil {
			return asBackendError("extract", outDir, err, CodeUnknown)
		}

		return nil
	}

	index, err := a.snapshotIndex()
	if err != nil {
		return err
	}

	if err := a.backend.ExtractAll(ctx, index.Entries(), outDir, opts); err != nil {
		return asBackendError("extract", outDir, err, CodeUnknown)
	}

	return nil
}

// fileInfo returns the entry of a file handle owned by a.
func (a *Archive) fileInfo(file File) (EntryInfo, error) {
	if a == nil {
		return EntryInfo{}, ErrNilArchive
	}

	if file.archive != a {
		return EntryInfo{}, ErrInvalidHandle
	}

	var info EntryInfo
	if !file.read(func(node *fileNode) { info = node.info }) {
		return EntryInfo{}, ErrInvalidHandle
	}

	return info, nil
}

// snapshotIndex copies the tree into an Index in depth-first order. Folders
// with files get records, as do empty leaf folders so they survive a write.
func (a *Archive) snapshotIndex() (*Index, error) {
	if a == nil {
		return nil, ErrNilArchive
	}

	a.treeMu.RLock()
	defer a.treeMu.RUnlock()

	if a.tree == nil {
		return nil, ErrNotLoaded
	}

	t := a.tree
	index := &Index{Header: a.header}
	t.walk(rootFolderIndex, func(idx int) {
		node := &t.folders[idx]
		if len(node.files) == 0 && (idx == rootFolderIndex || len(node.folders) > 0) {
			return
		}

		folderPath := t.folderPath(idx)
		info := FolderInfo{
			Path:  folderPath,
			Hash:  HashFolderName(folderPath),
			Files: make([]EntryInfo, 0, len(node.files)),
		}

		for _, fileIdx := range node.files {
			entry := t.files[fileIdx].info
			entry.Folder = folderPath
			entry.Path = joinArchivePath(folderPath, entry.Name)
			entry.ref = fileIdx + 1
			info.Files = append(info.Files, entry)
		}

		index.Folders = append(index.Folders, info)
	})

	return index, nil
}

// rebind points file entries at the written archive.
func (a *Archive) rebind(path string, written *Index) {
	a.treeMu.Lock()
	defer a.treeMu.Unlock()

	a.name = path
	a.header = written.Header

	for _, folder := range written.Folders {
		for _, entry := range folder.Files {
			if entry.ref <= 0 || entry.ref > len(a.tree.files) {
				continue
			}

			node := &a.tree.files[entry.ref-1]
			node.info.SourcePath = ""
			node.info.Hash = entry.Hash
			node.info.Offset = entry.Offset
			node.info.Size = entry.Size
			node.info.StoredSize = entry.StoredSize
			node.info.Compressed = entry.Compressed
		}
	}
}
