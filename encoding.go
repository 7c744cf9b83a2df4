// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

// Names inside archives are stored in the Windows-1252 code page.
var nameCharmap = charmap.Windows1252

// encodeName converts a UTF-8 name to archive bytes.
func encodeName(name string) ([]byte, error) {
	if isASCII(name) {
		return []byte(name), nil
	}

	encoded, err := nameCharmap.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("%w: name %q is not representable in cp1252: %w", ErrInvalidData, name, err)
	}

	return encoded, nil
}

// decodeName converts archive bytes to a UTF-8 name.
func decodeName(raw []byte) string {
	if isASCII(string(raw)) {
		return string(raw)
	}

	decoded, err := nameCharmap.NewDecoder().Bytes(raw)
	if err != nil {
		// charmap decoders replace unknown bytes instead of failing
		return string(raw)
	}

	return string(decoded)
}

// isASCII reports whether value contains only ASCII bytes.
func isASCII(value string) bool {
	for idx := 0; idx < len(value); idx++ {
		if value[idx] >= 0x80 {
			return false
		}
	}

	return true
}
