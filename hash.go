// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import "bytes"

// hashMultiplier is the rolling multiplier of the TES4 name hash.
const hashMultiplier = 0x1003F

// HashFolderName returns the record hash of a folder path.
func HashFolderName(folder string) uint64 {
	encoded, err := encodeName(folderRecordName(folder))
	if err != nil {
		encoded = []byte(folder)
	}

	return hashFolderBytes(encoded)
}

// HashFileName returns the record hash of a file name (without folder).
func HashFileName(name string) uint64 {
	encoded, err := encodeName(name)
	if err != nil {
		encoded = []byte(name)
	}

	return hashFileBytes(encoded)
}

// folderRecordName maps a tree folder path to the name stored in its record.
func folderRecordName(folder string) string {
	archivePath := ArchivePath(folder)
	if archivePath == "" {
		return rootFolderRecordName
	}

	return archivePath
}

// hashFolderBytes hashes an encoded folder path.
func hashFolderBytes(name []byte) uint64 {
	return hashParts(normalizeHashInput(name), nil)
}

// hashFileBytes hashes an encoded file name split at its last dot.
func hashFileBytes(name []byte) uint64 {
	normalized := normalizeHashInput(name)
	dot := bytes.LastIndexByte(normalized, '.')
	if dot < 0 {
		return hashParts(normalized, nil)
	}

	return hashParts(normalized[:dot], normalized[dot:])
}

// normalizeHashInput lowercases ASCII letters and converts "/" to "\".
func normalizeHashInput(name []byte) []byte {
	out := make([]byte, len(name))
	for i, ch := range name {
		switch {
		case ch >= 'A' && ch <= 'Z':
			out[i] = ch + ('a' - 'A')
		case ch == '/':
			out[i] = '\\'
		default:
			out[i] = ch
		}
	}

	return out
}

// hashParts computes the 64-bit hash from stem and extension (with leading dot).
func hashParts(stem []byte, ext []byte) uint64 {
	var hash1 uint32
	n := len(stem)
	if n > 0 {
		hash1 = uint32(stem[n-1]) | uint32(n)<<16 | uint32(stem[0])<<24 //nolint:gosec // name length bounded by bstring limit
		if n > 2 {
			hash1 |= uint32(stem[n-2]) << 8
		}
	}

	switch string(ext) {
	case ".kf":
		hash1 |= 0x80
	case ".nif":
		hash1 |= 0x8000
	case ".dds":
		hash1 |= 0x8080
	case ".wav":
		hash1 |= 0x80000000
	}

	var hash2 uint32
	for i := 1; i < n-2; i++ {
		hash2 = hash2*hashMultiplier + uint32(stem[i])
	}

	var hash3 uint32
	for _, ch := range ext {
		hash3 = hash3*hashMultiplier + uint32(ch)
	}

	hash2 += hash3

	return uint64(hash2)<<32 | uint64(hash1)
}
