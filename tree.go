// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// rootFolderIndex is the arena slot of the tree root.
const rootFolderIndex = 0

// folderNode is one folder in the arena.
type folderNode struct {
	name    string
	folders []int
	files   []int
	parent  int
}

// fileNode is one file in the arena; owner is the first folder it was added
// to, or -1 while detached.
type fileNode struct {
	info  EntryInfo
	owner int
}

// tree is the append-only arena of an archive. Indices never change once assigned.
type tree struct {
	folders []folderNode
	files   []fileNode
}

// newTree returns a tree holding only an empty root.
func newTree() *tree {
	return &tree{
		folders: []folderNode{{parent: -1}},
	}
}

// buildTree populates a tree from a parsed index. Folder paths are split into
// nested nodes and children are ordered case-insensitively by name.
func buildTree(index *Index) *tree {
	t := newTree()
	if index == nil {
		return t
	}

	for _, folder := range index.Folders {
		node := t.ensureFolderPath(splitArchivePath(folder.Path))
		for _, info := range folder.Files {
			idx := len(t.files)
			info.ref = idx + 1
			t.files = append(t.files, fileNode{info: info, owner: node})
			t.folders[node].files = append(t.folders[node].files, idx)
		}
	}

	t.sortChildren()
	return t
}

// ensureFolderPath returns the node for segments, creating missing folders.
// Existing children match case-insensitively.
func (t *tree) ensureFolderPath(segments []string) int {
	node := rootFolderIndex
	for _, segment := range segments {
		next := -1
		for _, child := range t.folders[node].folders {
			if strings.EqualFold(t.folders[child].name, segment) {
				next = child
				break
			}
		}

		if next < 0 {
			next = t.addFolder(node, segment)
		}

		node = next
	}

	return node
}

// addFolder appends a new empty child folder of parent.
func (t *tree) addFolder(parent int, name string) int {
	idx := len(t.folders)
	t.folders = append(t.folders, folderNode{name: name, parent: parent})
	t.folders[parent].folders = append(t.folders[parent].folders, idx)

	return idx
}

// addFile appends a detached file node.
func (t *tree) addFile(info EntryInfo) int {
	idx := len(t.files)
	info.ref = idx + 1
	t.files = append(t.files, fileNode{info: info, owner: -1})

	return idx
}

// attachFile appends file to folder; the first attachment fixes the file's path.
func (t *tree) attachFile(folder int, file int) {
	t.folders[folder].files = append(t.folders[folder].files, file)

	node := &t.files[file]
	if node.owner >= 0 {
		return
	}

	node.owner = folder
	node.info.Folder = t.folderPath(folder)
	node.info.Path = joinArchivePath(node.info.Folder, node.info.Name)
}

// sortChildren orders every folder's children by lowercase name.
func (t *tree) sortChildren() {
	for i := range t.folders {
		slices.SortStableFunc(t.folders[i].folders, func(a, b int) int {
			return cmp.Compare(strings.ToLower(t.folders[a].name), strings.ToLower(t.folders[b].name))
		})
		slices.SortStableFunc(t.folders[i].files, func(a, b int) int {
			return cmp.Compare(strings.ToLower(t.files[a].info.Name), strings.ToLower(t.files[b].info.Name))
		})
	}
}

// folderPath computes the "\" separated path of folder from its ancestry.
func (t *tree) folderPath(folder int) string {
	var parts []string
	for node := folder; node > rootFolderIndex; node = t.folders[node].parent {
		parts = append(parts, t.folders[node].name)
	}

	slices.Reverse(parts)
	return strings.Join(parts, `\`)
}

// countFiles returns the number of files in folder and all descendants.
func (t *tree) countFiles(folder int) int {
	total := len(t.folders[folder].files)
	for _, child := range t.folders[folder].folders {
		total += t.countFiles(child)
	}

	return total
}

// walk visits folder and its descendants depth-first, parents before children.
func (t *tree) walk(folder int, visit func(int)) {
	visit(folder)
	for _, child := range t.folders[folder].folders {
		t.walk(child, visit)
	}
}

// Folder is a handle to one folder of an archive tree.
type Folder struct {
	archive *Archive
	index   int
}

// File is a handle to one file of an archive tree.
type File struct {
	archive *Archive
	index   int
}

// valid reports whether the handle points into a live tree; callers hold treeMu.
func (f Folder) valid() bool {
	return f.archive != nil && f.archive.tree != nil && f.index >= 0 && f.index < len(f.archive.tree.folders)
}

// valid reports whether the handle points into a live tree; callers hold treeMu.
func (f File) valid() bool {
	return f.archive != nil && f.archive.tree != nil && f.index >= 0 && f.index < len(f.archive.tree.files)
}

// read runs fn with the folder node under read lock, ok=false for invalid handles.
func (f Folder) read(fn func(t *tree, node *folderNode)) bool {
	if f.archive == nil {
		return false
	}

	f.archive.treeMu.RLock()
	defer f.archive.treeMu.RUnlock()

	if !f.valid() {
		return false
	}

	fn(f.archive.tree, &f.archive.tree.folders[f.index])
	return true
}

// Name returns the folder name; the root's name is empty.
func (f Folder) Name() string {
	var name string
	f.read(func(_ *tree, node *folderNode) { name = node.name })

	return name
}

// FullPath returns the "\" separated path from the root; the root's path is empty.
func (f Folder) FullPath() string {
	var fullPath string
	f.read(func(t *tree, _ *folderNode) { fullPath = t.folderPath(f.index) })

	return fullPath
}

// IsRoot reports whether f is the tree root.
func (f Folder) IsRoot() bool {
	return f.archive != nil && f.index == rootFolderIndex
}

// SubfolderCount returns the number of direct child folders.
func (f Folder) SubfolderCount() int {
	var count int
	f.read(func(_ *tree, node *folderNode) { count = len(node.folders) })

	return count
}

// Subfolder returns the i-th child folder.
func (f Folder) Subfolder(i int) (Folder, error) {
	var (
		child Folder
		err   error
	)

	ok := f.read(func(_ *tree, node *folderNode) {
		if i < 0 || i >= len(node.folders) {
			err = fmt.Errorf("%w: subfolder %d of %d", ErrOutOfRange, i, len(node.folders))
			return
		}

		child = Folder{archive: f.archive, index: node.folders[i]}
	})
	if !ok {
		return Folder{}, ErrInvalidHandle
	}

	return child, err
}

// FileCount returns the number of files directly in the folder.
func (f Folder) FileCount() int {
	var count int
	f.read(func(_ *tree, node *folderNode) { count = len(node.files) })

	return count
}

// TotalFileCount returns the number of files in the folder and all descendants.
func (f Folder) TotalFileCount() int {
	var count int
	f.read(func(t *tree, _ *folderNode) { count = t.countFiles(f.index) })

	return count
}

// File returns the i-th file of the folder.
func (f Folder) File(i int) (File, error) {
	var (
		file File
		err  error
	)

	ok := f.read(func(_ *tree, node *folderNode) {
		if i < 0 || i >= len(node.files) {
			err = fmt.Errorf("%w: file %d of %d", ErrOutOfRange, i, len(node.files))
			return
		}

		file = File{archive: f.archive, index: node.files[i]}
	})
	if !ok {
		return File{}, ErrInvalidHandle
	}

	return file, err
}

// AddFile appends file to the folder. Files may be listed by several folders;
// the first folder a detached file is added to defines its path.
func (f Folder) AddFile(file File) error {
	if f.archive == nil || file.archive != f.archive {
		return ErrInvalidHandle
	}

	f.archive.treeMu.Lock()
	defer f.archive.treeMu.Unlock()

	if !f.valid() || !file.valid() {
		return ErrInvalidHandle
	}

	f.archive.tree.attachFile(f.index, file.index)
	return nil
}

// AddSubfolder appends a new empty child folder. Names are not required to be unique.
func (f Folder) AddSubfolder(name string) (Folder, error) {
	if err := validateNodeName(name); err != nil {
		return Folder{}, err
	}

	if f.archive == nil {
		return Folder{}, ErrInvalidHandle
	}

	f.archive.treeMu.Lock()
	defer f.archive.treeMu.Unlock()

	if !f.valid() {
		return Folder{}, ErrInvalidHandle
	}

	return Folder{archive: f.archive, index: f.archive.tree.addFolder(f.index, name)}, nil
}

// Walk calls fn for the folder and every descendant, depth-first with parents
// first. A non-nil error from fn stops the walk and is returned.
func (f Folder) Walk(fn func(folder Folder) error) error {
	var order []int
	if !f.read(func(t *tree, _ *folderNode) {
		t.walk(f.index, func(idx int) { order = append(order, idx) })
	}) {
		return ErrInvalidHandle
	}

	for _, idx := range order {
		if err := fn(Folder{archive: f.archive, index: idx}); err != nil {
			return err
		}
	}

	return nil
}

// read runs fn with the file node under read lock, ok=false for invalid handles.
func (f File) read(fn func(node *fileNode)) bool {
	if f.archive == nil {
		return false
	}

	f.archive.treeMu.RLock()
	defer f.archive.treeMu.RUnlock()

	if !f.valid() {
		return false
	}

	fn(&f.archive.tree.files[f.index])
	return true
}

// Name returns the file name.
func (f File) Name() string {
	var name string
	f.read(func(node *fileNode) { name = node.info.Name })

	return name
}

// Path returns the "folder\name" path of the file.
func (f File) Path() string {
	var filePath string
	f.read(func(node *fileNode) { filePath = node.info.Path })

	return filePath
}

// Size returns the uncompressed size in bytes.
func (f File) Size() int64 {
	var size int64
	f.read(func(node *fileNode) { size = node.info.Size })

	return size
}

// Compressed reports whether the file is (or will be written) compressed.
func (f File) Compressed() bool {
	var compressed bool
	f.read(func(node *fileNode) { compressed = node.info.Compressed })

	return compressed
}

// SourcePath returns the on-disk source of an authored file not yet written.
func (f File) SourcePath() string {
	var sourcePath string
	f.read(func(node *fileNode) { sourcePath = node.info.SourcePath })

	return sourcePath
}

// Info returns a copy of the backend entry of the file.
func (f File) Info() EntryInfo {
	var info EntryInfo
	f.read(func(node *fileNode) { info = node.info })

	return info
}
