// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// newTestTree authors an in-memory archive with a nested folder layout.
func newTestTree(t *testing.T) (*Archive, Folder) {
	t.Helper()

	a := NewArchive("tree.bsa", ArchiveOptions{})
	root, err := a.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	src := filepath.Join(t.TempDir(), "src.bin")
	layout := map[string][]string{
		"meshes":          {"a.nif", "b.nif"},
		`meshes\actors`:   {"c.nif"},
		"textures":        nil,
		`textures\sky`:    {"d.dds", "e.dds", "f.dds"},
		`textures\sky\hd`: {"g.dds"},
	}

	folders := map[string]Folder{"": root}
	for _, folderPath := range []string{"meshes", `meshes\actors`, "textures", `textures\sky`, `textures\sky\hd`} {
		parentPath, name := "", folderPath
		if i := strings.LastIndexByte(folderPath, '\\'); i >= 0 {
			parentPath, name = folderPath[:i], folderPath[i+1:]
		}

		folder, err := folders[parentPath].AddSubfolder(name)
		if err != nil {
			t.Fatalf("AddSubfolder(%q): %v", folderPath, err)
		}
		folders[folderPath] = folder

		for _, fileName := range layout[folderPath] {
			file, err := a.CreateFile(fileName, src, false)
			if err != nil {
				t.Fatalf("CreateFile(%q): %v", fileName, err)
			}
			if err := folder.AddFile(file); err != nil {
				t.Fatalf("AddFile(%q): %v", fileName, err)
			}
		}
	}

	return a, root
}

func TestTreeCounts(t *testing.T) {
	t.Parallel()

	_, root := newTestTree(t)

	if got := root.SubfolderCount(); got != 2 {
		t.Fatalf("root.SubfolderCount()=%d, want 2", got)
	}

	if got := root.FileCount(); got != 0 {
		t.Fatalf("root.FileCount()=%d, want 0", got)
	}

	if got := root.TotalFileCount(); got != 7 {
		t.Fatalf("root.TotalFileCount()=%d, want 7", got)
	}

	// total count is the own count plus the children's totals at every level
	err := root.Walk(func(folder Folder) error {
		want := folder.FileCount()
		for i := range folder.SubfolderCount() {
			child, err := folder.Subfolder(i)
			if err != nil {
				return err
			}
			want += child.TotalFileCount()
		}

		if got := folder.TotalFileCount(); got != want {
			t.Fatalf("%q TotalFileCount()=%d, want %d", folder.FullPath(), got, want)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
}

func TestTreeNavigation(t *testing.T) {
	t.Parallel()

	_, root := newTestTree(t)

	if !root.IsRoot() || root.Name() != "" || root.FullPath() != "" {
		t.Fatalf("unexpected root: name=%q path=%q", root.Name(), root.FullPath())
	}

	textures, err := root.Subfolder(1)
	if err != nil {
		t.Fatalf("Subfolder(1): %v", err)
	}

	sky, err := textures.Subfolder(0)
	if err != nil {
		t.Fatalf("Subfolder(0): %v", err)
	}

	if got := sky.FullPath(); got != `textures\sky` {
		t.Fatalf("FullPath()=%q", got)
	}

	file, err := sky.File(2)
	if err != nil {
		t.Fatalf("File(2): %v", err)
	}

	if file.Name() != "f.dds" || file.Path() != `textures\sky\f.dds` {
		t.Fatalf("file name=%q path=%q", file.Name(), file.Path())
	}

	if file.SourcePath() == "" {
		t.Fatal("authored file must keep its source path")
	}
}

func TestTreeOutOfRange(t *testing.T) {
	t.Parallel()

	_, root := newTestTree(t)

	for _, i := range []int{-1, 2, 100} {
		if _, err := root.Subfolder(i); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("Subfolder(%d)=%v, want ErrOutOfRange", i, err)
		}
	}

	for _, i := range []int{-1, 0} {
		if _, err := root.File(i); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("File(%d)=%v, want ErrOutOfRange", i, err)
		}
	}
}

func TestTreeInvalidHandles(t *testing.T) {
	t.Parallel()

	var zero Folder
	if zero.Name() != "" || zero.SubfolderCount() != 0 || zero.TotalFileCount() != 0 {
		t.Fatal("zero folder must read as empty")
	}

	if _, err := zero.Subfolder(0); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("zero.Subfolder=%v, want ErrInvalidHandle", err)
	}

	if _, err := zero.AddSubfolder("x"); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("zero.AddSubfolder=%v, want ErrInvalidHandle", err)
	}

	var nilArchive *Archive
	if _, err := nilArchive.Root(); !errors.Is(err, ErrNilArchive) {
		t.Fatalf("nil Root=%v, want ErrNilArchive", err)
	}

	a, root := newTestTree(t)
	other := NewArchive("other.bsa", ArchiveOptions{})
	foreign, err := other.CreateFile("x.nif", "x.nif", false)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	if err := root.AddFile(foreign); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("AddFile(foreign)=%v, want ErrInvalidHandle", err)
	}

	if _, err := a.ReadFile(foreign); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("ReadFile(foreign)=%v, want ErrInvalidHandle", err)
	}
}

func TestAddSubfolderValidation(t *testing.T) {
	t.Parallel()

	_, root := newTestTree(t)

	for _, name := range []string{"", "..", `a\b`} {
		if _, err := root.AddSubfolder(name); !errors.Is(err, ErrInvalidEntryPath) {
			t.Fatalf("AddSubfolder(%q)=%v, want ErrInvalidEntryPath", name, err)
		}
	}

	before := root.SubfolderCount()
	child, err := root.AddSubfolder("music")
	if err != nil {
		t.Fatalf("AddSubfolder: %v", err)
	}

	if root.SubfolderCount() != before+1 || child.Name() != "music" || child.IsRoot() {
		t.Fatalf("unexpected new subfolder %q", child.Name())
	}
}

func TestAddFileSharedBetweenFolders(t *testing.T) {
	t.Parallel()

	a, root := newTestTree(t)
	meshes, _ := root.Subfolder(0)
	textures, _ := root.Subfolder(1)

	file, err := a.CreateFile("shared.txt", "shared.txt", true)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	if file.Path() != "shared.txt" {
		t.Fatalf("detached Path()=%q", file.Path())
	}

	if err := meshes.AddFile(file); err != nil {
		t.Fatalf("AddFile(meshes): %v", err)
	}
	if err := textures.AddFile(file); err != nil {
		t.Fatalf("AddFile(textures): %v", err)
	}

	if file.Path() != `meshes\shared.txt` {
		t.Fatalf("Path()=%q, want first folder", file.Path())
	}

	if !file.Compressed() {
		t.Fatal("compressed flag lost")
	}

	if got := root.TotalFileCount(); got != 9 {
		t.Fatalf("TotalFileCount()=%d, want 9", got)
	}
}

func TestWalkOrderAndStop(t *testing.T) {
	t.Parallel()

	_, root := newTestTree(t)

	var visited []string
	err := root.Walk(func(folder Folder) error {
		visited = append(visited, folder.FullPath())
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	want := []string{"", "meshes", `meshes\actors`, "textures", `textures\sky`, `textures\sky\hd`}
	if !slices.Equal(visited, want) {
		t.Fatalf("Walk order=%v, want %v", visited, want)
	}

	stop := errors.New("stop")
	count := 0
	err = root.Walk(func(Folder) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || count != 2 {
		t.Fatalf("Walk stop err=%v count=%d", err, count)
	}
}

func TestBuildTreeSortsAndMerges(t *testing.T) {
	t.Parallel()

	index := &Index{
		Folders: []FolderInfo{
			{Path: "textures", Files: []EntryInfo{{Name: "b.dds"}, {Name: "A.dds"}}},
			{Path: `Meshes\actors`, Files: []EntryInfo{{Name: "c.nif"}}},
			{Path: "meshes", Files: []EntryInfo{{Name: "a.nif"}}},
			{Path: "", Files: []EntryInfo{{Name: "root.txt"}}},
		},
	}

	tr := buildTree(index)
	root := tr.folders[rootFolderIndex]
	if len(root.files) != 1 || len(root.folders) != 2 {
		t.Fatalf("root files=%d folders=%d", len(root.files), len(root.folders))
	}

	meshes := tr.folders[root.folders[0]]
	if meshes.name != "Meshes" || len(meshes.files) != 1 || len(meshes.folders) != 1 {
		t.Fatalf("meshes=%+v", meshes)
	}

	textures := tr.folders[root.folders[1]]
	if got := tr.files[textures.files[0]].info.Name; got != "A.dds" {
		t.Fatalf("first texture=%q, want A.dds", got)
	}

	if got := tr.countFiles(rootFolderIndex); got != 5 {
		t.Fatalf("countFiles=%d, want 5", got)
	}
}
