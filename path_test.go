// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"errors"
	"slices"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: ".", want: ""},
		{in: `  meshes\actors\  `, want: "meshes/actors"},
		{in: "./textures/a.dds", want: "textures/a.dds"},
		{in: `\meshes\.\a.nif`, want: "meshes/a.nif"},
		{in: "/meshes//a.nif", want: "meshes/a.nif"},
	}

	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Fatalf("NormalizePath(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestArchivePath(t *testing.T) {
	t.Parallel()

	if got := ArchivePath("meshes/actors/a.nif"); got != `meshes\actors\a.nif` {
		t.Fatalf("ArchivePath=%q", got)
	}

	if got := ArchivePath("./"); got != "" {
		t.Fatalf("ArchivePath(root)=%q, want empty", got)
	}
}

func TestJoinSplitArchivePath(t *testing.T) {
	t.Parallel()

	if got := joinArchivePath("", "a.nif"); got != "a.nif" {
		t.Fatalf("joinArchivePath(root)=%q", got)
	}

	if got := joinArchivePath(".", "a.nif"); got != "a.nif" {
		t.Fatalf("joinArchivePath(.)=%q", got)
	}

	if got := joinArchivePath(`meshes\actors`, "a.nif"); got != `meshes\actors\a.nif` {
		t.Fatalf("joinArchivePath=%q", got)
	}

	if got := splitArchivePath(`meshes\actors`); !slices.Equal(got, []string{"meshes", "actors"}) {
		t.Fatalf("splitArchivePath=%v", got)
	}

	if got := splitArchivePath("."); got != nil {
		t.Fatalf("splitArchivePath(.)=%v, want nil", got)
	}
}

func TestValidateNodeName(t *testing.T) {
	t.Parallel()

	valid := []string{"a.nif", "meshes", "with space.dds"}
	for _, name := range valid {
		if err := validateNodeName(name); err != nil {
			t.Fatalf("validateNodeName(%q): %v", name, err)
		}
	}

	invalid := []string{"", "  ", ".", "..", `a\b`, "a/b", "a\x00b"}
	for _, name := range invalid {
		if err := validateNodeName(name); !errors.Is(err, ErrInvalidEntryPath) {
			t.Fatalf("validateNodeName(%q)=%v, want ErrInvalidEntryPath", name, err)
		}
	}
}
