// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"fmt"
	"path"
	"strings"
)

// NormalizePath converts an archive/internal path to normalized slash-separated form.
// It trims spaces, accepts both "/" and "\", removes leading "./" and "/", and cleans "." segments.
func NormalizePath(raw string) string {
	raw = normalizePathForMatching(raw)
	raw = strings.TrimPrefix(raw, "/")
	raw = path.Clean("/" + raw)
	raw = strings.TrimPrefix(raw, "/")
	if raw == "." {
		return ""
	}

	return strings.TrimSuffix(raw, "/")
}

// ArchivePath converts a path to the "\" separated form stored in archives.
func ArchivePath(raw string) string {
	return strings.ReplaceAll(NormalizePath(raw), "/", `\`)
}

// normalizePathForMatching normalizes user/input paths for matcher use.
func normalizePathForMatching(path string) string {
	path = strings.TrimSpace(path)
	path = strings.ReplaceAll(path, `\`, `/`)
	path = strings.TrimPrefix(path, "./")
	return path
}

// joinArchivePath joins folder path and entry name with "\".
func joinArchivePath(folder string, name string) string {
	if folder == "" || folder == rootFolderRecordName {
		return name
	}

	return folder + `\` + name
}

// splitArchivePath splits stored folder path into tree segments; root aliases yield nil.
func splitArchivePath(folder string) []string {
	normalized := NormalizePath(folder)
	if normalized == "" {
		return nil
	}

	return strings.Split(normalized, "/")
}

// validateNodeName rejects names that cannot be a single tree segment.
func validateNodeName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed == "." || trimmed == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidEntryPath, name)
	}

	if strings.ContainsAny(name, `\/`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidEntryPath, name)
	}

	return nil
}
