// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// readerRecordBufferSize is a sequential read buffer for record table parsing.
const readerRecordBufferSize = 64 * 1024

var (
	// recordTableReaderPool reuses buffered readers for sequential table parsing.
	recordTableReaderPool = sync.Pool{
		New: func() any {
			return bufio.NewReaderSize(bytes.NewReader(nil), readerRecordBufferSize)
		},
	}
)

// folderRecord is a raw folder record.
type folderRecord struct {
	hash   uint64
	count  uint32
	offset uint64
}

// fileRecord is a raw file record.
type fileRecord struct {
	hash   uint64
	size   uint32
	offset uint32
}

// parseHeader reads and validates the fixed archive header.
func parseHeader(ra io.ReaderAt, size int64) (Header, error) {
	if size < headerSize {
		return Header{}, fmt.Errorf("%w: short header", ErrInvalidData)
	}

	var raw [headerSize]byte
	if _, err := ra.ReadAt(raw[:], 0); err != nil {
		return Header{}, readFailure("read header", err)
	}

	if !bytes.Equal(raw[0:4], fileID[:]) {
		return Header{}, fmt.Errorf("%w: missing BSA file id", ErrInvalidData)
	}

	h := Header{
		Version:               Version(binary.LittleEndian.Uint32(raw[4:8])),
		Flags:                 ArchiveFlags(binary.LittleEndian.Uint32(raw[12:16])),
		FolderCount:           binary.LittleEndian.Uint32(raw[16:20]),
		FileCount:             binary.LittleEndian.Uint32(raw[20:24]),
		TotalFolderNameLength: binary.LittleEndian.Uint32(raw[24:28]),
		TotalFileNameLength:   binary.LittleEndian.Uint32(raw[28:32]),
		FileFlags:             FileFlags(binary.LittleEndian.Uint32(raw[32:36])),
	}

	if !h.Version.Valid() {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidData, h.Version)
	}

	if recordOffset := binary.LittleEndian.Uint32(raw[8:12]); recordOffset != headerSize {
		return Header{}, fmt.Errorf("%w: folder record offset %d", ErrInvalidData, recordOffset)
	}

	if h.Flags.Has(FlagXbox360) {
		return Header{}, fmt.Errorf("%w: big-endian Xbox 360 archives are not supported", ErrInvalidData)
	}

	return h, nil
}

// parseIndex reads header, folder records, file records and names from ra.
// With validate set every stored hash is recomputed from its name.
func parseIndex(ra io.ReaderAt, size int64, validate bool) (*Index, error) {
	h, err := parseHeader(ra, size)
	if err != nil {
		return nil, err
	}

	folders, err := parseFolderRecords(ra, size, h)
	if err != nil {
		return nil, err
	}

	recordsEnd := headerSize + int64(h.FolderCount)*h.Version.folderRecordLen()
	sr := io.NewSectionReader(ra, recordsEnd, size-recordsEnd)
	br := recordTableReaderPool.Get().(*bufio.Reader) //nolint:forcetypeassert // pool contains only *bufio.Reader
	br.Reset(sr)
	defer recordTableReaderPool.Put(br)

	folderNames := make([][]byte, len(folders))
	files := make([][]fileRecord, len(folders))
	blockPos := recordsEnd
	for i, rec := range folders {
		if validate && rec.offset != uint64(blockPos)+uint64(h.TotalFileNameLength) { //nolint:gosec // blockPos is non-negative
			return nil, fmt.Errorf("%w: folder %d record offset %d does not match block at %d", ErrInvalidData, i, rec.offset, blockPos)
		}

		if h.Flags.Has(FlagIncludeDirectoryNames) {
			name, n, err := readBZString(br)
			if err != nil {
				return nil, fmt.Errorf("%w: read folder %d name: %w", ErrInvalidData, i, err)
			}

			folderNames[i] = name
			blockPos += int64(n)
		}

		files[i], err = readFileRecords(br, rec.count)
		if err != nil {
			return nil, fmt.Errorf("%w: read folder %d file records: %w", ErrInvalidData, i, err)
		}

		blockPos += int64(rec.count) * fileRecordSize
	}

	var fileNames [][]byte
	if h.Flags.Has(FlagIncludeFileNames) {
		fileNames = make([][]byte, 0, h.FileCount)
		for k := uint32(0); k < h.FileCount; k++ {
			name, err := readCString(br)
			if err != nil {
				return nil, fmt.Errorf("%w: read file name %d: %w", ErrInvalidData, k, err)
			}

			fileNames = append(fileNames, name)
		}
	}

	index := &Index{
		Header:  h,
		Folders: make([]FolderInfo, len(folders)),
	}

	k := 0
	for i, rec := range folders {
		folderPath := ""
		if folderNames[i] != nil {
			folderPath = decodeName(folderNames[i])
			if validate && hashFolderBytes(folderNames[i]) != rec.hash {
				return nil, fmt.Errorf("%w: folder %q", ErrInvalidHashes, folderPath)
			}
		}
		if folderPath == rootFolderRecordName {
			folderPath = ""
		}

		info := FolderInfo{
			Path:  folderPath,
			Hash:  rec.hash,
			Files: make([]EntryInfo, 0, len(files[i])),
		}

		for _, raw := range files[i] {
			var nameBytes []byte
			if fileNames != nil {
				nameBytes = fileNames[k]
			}
			k++

			name := fmt.Sprintf("%016x", raw.hash)
			if nameBytes != nil {
				name = decodeName(nameBytes)
				if validate && hashFileBytes(nameBytes) != raw.hash {
					return nil, fmt.Errorf("%w: file %q", ErrInvalidHashes, joinArchivePath(folderPath, name))
				}
			}

			entry, err := resolvePayload(ra, size, h, raw)
			if err != nil {
				return nil, fmt.Errorf("file %q: %w", joinArchivePath(folderPath, name), err)
			}

			entry.Name = name
			entry.Folder = folderPath
			entry.Path = joinArchivePath(folderPath, name)
			entry.Hash = raw.hash
			info.Files = append(info.Files, entry)
		}

		index.Folders[i] = info
	}

	return index, nil
}

// parseFolderRecords reads the folder record table.
func parseFolderRecords(ra io.ReaderAt, size int64, h Header) ([]folderRecord, error) {
	recLen := h.Version.folderRecordLen()
	tableSize := int64(h.FolderCount) * recLen
	if headerSize+tableSize > size {
		return nil, fmt.Errorf("%w: folder table exceeds file size", ErrInvalidData)
	}

	// every file record takes 16 bytes, so counts beyond file size are corrupt
	if int64(h.FileCount)*fileRecordSize > size {
		return nil, fmt.Errorf("%w: file count %d exceeds file size", ErrInvalidData, h.FileCount)
	}

	raw := make([]byte, tableSize)
	if _, err := ra.ReadAt(raw, headerSize); err != nil {
		return nil, readFailure("read folder records", err)
	}

	records := make([]folderRecord, h.FolderCount)
	var total uint64
	for i := range records {
		rec := raw[int64(i)*recLen : int64(i+1)*recLen]
		records[i].hash = binary.LittleEndian.Uint64(rec[0:8])
		records[i].count = binary.LittleEndian.Uint32(rec[8:12])
		if h.Version == VersionSkyrimSE {
			records[i].offset = binary.LittleEndian.Uint64(rec[16:24])
		} else {
			records[i].offset = uint64(binary.LittleEndian.Uint32(rec[12:16]))
		}

		total += uint64(records[i].count)
	}

	if total != uint64(h.FileCount) {
		return nil, fmt.Errorf("%w: folder records hold %d files, header declares %d", ErrInvalidData, total, h.FileCount)
	}

	return records, nil
}

// readFileRecords reads count sequential file records.
func readFileRecords(br *bufio.Reader, count uint32) ([]fileRecord, error) {
	records := make([]fileRecord, count)
	var raw [fileRecordSize]byte
	for i := range records {
		if _, err := io.ReadFull(br, raw[:]); err != nil {
			return nil, err
		}

		records[i] = fileRecord{
			hash:   binary.LittleEndian.Uint64(raw[0:8]),
			size:   binary.LittleEndian.Uint32(raw[8:12]),
			offset: binary.LittleEndian.Uint32(raw[12:16]),
		}
	}

	return records, nil
}

// resolvePayload derives payload bounds and uncompressed size of one record.
func resolvePayload(ra io.ReaderAt, size int64, h Header, raw fileRecord) (EntryInfo, error) {
	stored := int64(raw.size & sizeMask)
	compressed := (raw.size&sizeCompressToggle != 0) != h.Flags.Has(FlagCompressedByDefault)
	offset := int64(raw.offset)

	if offset+stored > size {
		return EntryInfo{}, fmt.Errorf("%w: payload out of file bounds", ErrInvalidData)
	}

	if h.Version >= VersionSkyrim && h.Flags.Has(FlagEmbedFileNames) {
		var n [1]byte
		if _, err := ra.ReadAt(n[:], offset); err != nil {
			return EntryInfo{}, readFailure("read embedded name", err)
		}

		prefix := 1 + int64(n[0])
		if prefix > stored {
			return EntryInfo{}, fmt.Errorf("%w: embedded name exceeds payload", ErrInvalidData)
		}

		offset += prefix
		stored -= prefix
	}

	entry := EntryInfo{
		Offset:     uint64(offset), //nolint:gosec // offset derived from u32 field
		StoredSize: stored,
		Size:       stored,
		Compressed: compressed,
	}

	if compressed {
		if stored < 4 {
			return EntryInfo{}, fmt.Errorf("%w: compressed payload too short", ErrInvalidData)
		}

		var original [4]byte
		if _, err := ra.ReadAt(original[:], offset); err != nil {
			return EntryInfo{}, readFailure("read original size", err)
		}

		entry.Offset += 4
		entry.StoredSize -= 4
		entry.Size = int64(binary.LittleEndian.Uint32(original[:]))
	}

	return entry, nil
}

// readBZString reads a length-prefixed, NUL-terminated string and returns it
// without terminator plus consumed byte count.
func readBZString(br *bufio.Reader) ([]byte, int, error) {
	n, err := br.ReadByte()
	if err != nil {
		return nil, 0, err
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, 0, err
	}

	return bytes.TrimRight(buf, "\x00"), 1 + int(n), nil
}

// readCString reads one NUL-terminated string without terminator.
func readCString(br *bufio.Reader) ([]byte, error) {
	raw, err := br.ReadBytes(0)
	if err != nil {
		return nil, err
	}

	return raw[:len(raw)-1], nil
}

// readFailure classifies a ReaderAt failure: truncation is invalid data, anything else is access failure.
func readFailure(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s: truncated", ErrInvalidData, what)
	}

	return fmt.Errorf("%w: %s: %w", ErrAccessFailed, what, err)
}
