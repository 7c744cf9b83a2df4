// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
)

var (
	// defaultWriterPool reuses default-sized bufio writers between writes.
	defaultWriterPool = sync.Pool{
		New: func() any {
			return bufio.NewWriterSize(io.Discard, DefaultWriteBuffer)
		},
	}
	// defaultCopyBufferPool reuses payload copy buffers between writes and extractions.
	defaultCopyBufferPool = sync.Pool{
		New: func() any {
			return new([copyBufferSize]byte)
		},
	}
)

const (
	// copyBufferSize is the temporary buffer used by streaming payload copy.
	copyBufferSize = 64 * 1024
)

// writeFolder is one planned folder record with its block.
type writeFolder struct {
	path        string
	name        []byte
	files       []writeFile
	hash        uint64
	blockOffset int64
}

// writeFile is one planned file record.
type writeFile struct {
	entry    EntryInfo
	name     []byte
	embedded []byte
	hash     uint64
}

// writtenPayload stores concrete record values produced during payload write.
type writtenPayload struct {
	recordOffset int64
	dataOffset   int64
	size         int64
	streamSize   int64
	storedSize   int64
	compressed   bool
}

// writePlan is the sorted record layout of one output archive.
type writePlan struct {
	folders []writeFolder
	header  Header
}

// writeArchive serializes index into out. Archive-backed entries are read from
// src, which was written with srcVersion. The returned index describes the
// bytes as written.
func writeArchive(
	ctx context.Context,
	out io.WriteSeeker,
	src io.ReaderAt,
	srcVersion Version,
	index *Index,
	opts WriteOptions,
) (*Index, error) {
	if out == nil {
		return nil, ErrNilWriter
	}

	if ctx == nil {
		ctx = context.Background()
	}

	opts.applyDefaults()
	if !opts.Version.Valid() {
		opts.Version = VersionSkyrim
	}

	matcher, err := newPathMatcher(opts.Compress, opts.CompressMatcherOptions)
	if err != nil {
		return nil, err
	}

	plan, err := prepareWritePlan(index, opts.Version, opts.EmbedFileNames)
	if err != nil {
		return nil, err
	}

	dataStart, err := plan.layout()
	if err != nil {
		return nil, err
	}

	w, releaseWriter := acquireWriter(out, opts.WriterBufferSize)
	defer releaseWriter()

	if err := plan.writeTables(w); err != nil {
		return nil, err
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush record tables: %w", err)
	}

	pos, err := out.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("seek after record tables: %w", err)
	}
	if pos != dataStart {
		return nil, fmt.Errorf("record tables end at %d, expected %d", pos, dataStart)
	}

	copyBuf, releaseCopyBuffer := acquireCopyBuffer()
	defer releaseCopyBuffer()

	pw := &payloadWriter{
		w:          w,
		src:        src,
		srcVersion: srcVersion,
		opts:       opts,
		matcher:    matcher,
		copyBuf:    copyBuf,
		offset:     dataStart,
	}

	written := make([][]writtenPayload, len(plan.folders))
	for i := range plan.folders {
		written[i] = make([]writtenPayload, len(plan.folders[i].files))
		for j := range plan.folders[i].files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			file := &plan.folders[i].files[j]
			record, err := pw.writeEntry(file)
			if err != nil {
				return nil, err
			}

			written[i][j] = record
			if opts.OnEntryDone != nil {
				opts.OnEntryDone(WriteEntryProgress{
					Path:       file.entry.Path,
					Offset:     uint64(record.recordOffset), //nolint:gosec // offsets are checked against u32 range
					Size:       record.size,
					StoredSize: record.storedSize,
					Compressed: record.compressed,
				})
			}
		}
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush payloads: %w", err)
	}

	if err := plan.patchFileRecords(out, written); err != nil {
		return nil, err
	}

	return plan.writtenIndex(written), nil
}

// prepareWritePlan encodes names, computes hashes and sorts records.
// Folders sharing a case-insensitive path are merged.
func prepareWritePlan(index *Index, version Version, embed bool) (*writePlan, error) {
	plan := &writePlan{
		header: Header{
			Version: version,
			Flags:   FlagIncludeDirectoryNames | FlagIncludeFileNames,
		},
	}
	if embed && version >= VersionSkyrim {
		plan.header.Flags |= FlagEmbedFileNames
	}

	if index == nil {
		return plan, nil
	}

	byPath := make(map[string]int, len(index.Folders))
	for _, folder := range index.Folders {
		folderPath := ArchivePath(folder.Path)
		key := strings.ToLower(folderPath)

		idx, ok := byPath[key]
		if !ok {
			recordName := folderRecordName(folderPath)
			name, err := encodeName(recordName)
			if err != nil {
				return nil, fmt.Errorf("folder %q: %w", folderPath, err)
			}
			if len(name)+1 > maxBStringLen {
				return nil, fmt.Errorf("%w: %w: folder name %q is too long", ErrInvalidData, ErrSizeOverflow, folderPath)
			}

			idx = len(plan.folders)
			byPath[key] = idx
			plan.folders = append(plan.folders, writeFolder{
				path: folderPath,
				name: name,
				hash: hashFolderBytes(name),
			})
			if folderPath != "" {
				plan.header.FileFlags |= contentFlagsFor(folderPath)
			}
		}

		for _, entry := range folder.Files {
			file, err := prepareWriteFile(folderPath, entry, embed && version >= VersionSkyrim)
			if err != nil {
				return nil, err
			}

			plan.folders[idx].files = append(plan.folders[idx].files, file)
		}
	}

	for i := range plan.folders {
		files := plan.folders[i].files
		slices.SortStableFunc(files, func(a, b writeFile) int {
			return compareHash(a.hash, b.hash)
		})

		for j := 1; j < len(files); j++ {
			if files[j].hash == files[j-1].hash {
				return nil, fmt.Errorf("%w: %w: %q conflicts with %q",
					ErrInvalidData, ErrDuplicateEntryPath, files[j].entry.Path, files[j-1].entry.Path)
			}
		}
	}

	slices.SortStableFunc(plan.folders, func(a, b writeFolder) int {
		return compareHash(a.hash, b.hash)
	})

	return plan, nil
}

// prepareWriteFile encodes one file record of folderPath.
func prepareWriteFile(folderPath string, entry EntryInfo, embed bool) (writeFile, error) {
	if err := validateNodeName(entry.Name); err != nil {
		return writeFile{}, fmt.Errorf("%w: %w", ErrInvalidData, err)
	}

	name, err := encodeName(entry.Name)
	if err != nil {
		return writeFile{}, fmt.Errorf("file %q: %w", entry.Name, err)
	}

	entry.Folder = folderPath
	entry.Path = joinArchivePath(folderPath, entry.Name)
	file := writeFile{
		entry: entry,
		name:  name,
		hash:  hashFileBytes(name),
	}

	if embed {
		full, err := encodeName(entry.Path)
		if err != nil {
			return writeFile{}, fmt.Errorf("file %q: %w", entry.Path, err)
		}
		if len(full) > maxBStringLen {
			return writeFile{}, fmt.Errorf("%w: %w: embedded name %q is too long", ErrInvalidData, ErrSizeOverflow, entry.Path)
		}

		file.embedded = full
	}

	return file, nil
}

// layout assigns block offsets, fills header counters and returns payload start.
func (p *writePlan) layout() (int64, error) {
	recordsEnd := headerSize + int64(len(p.folders))*p.header.Version.folderRecordLen()

	var fileCount, folderNames, fileNames int64
	pos := recordsEnd
	for i := range p.folders {
		folder := &p.folders[i]
		folder.blockOffset = pos
		pos += 1 + int64(len(folder.name)) + 1 + int64(len(folder.files))*fileRecordSize
		folderNames += int64(len(folder.name)) + 1
		fileCount += int64(len(folder.files))

		for _, file := range folder.files {
			fileNames += int64(len(file.name)) + 1
		}
	}

	dataStart := pos + fileNames
	if dataStart > maxArchiveOffset {
		return 0, fmt.Errorf("%w: %w: record tables end at %d", ErrInvalidData, ErrSizeOverflow, dataStart)
	}

	p.header.FolderCount = uint32(len(p.folders))        //nolint:gosec // bounded by dataStart check
	p.header.FileCount = uint32(fileCount)               //nolint:gosec // bounded by dataStart check
	p.header.TotalFolderNameLength = uint32(folderNames) //nolint:gosec // bounded by dataStart check
	p.header.TotalFileNameLength = uint32(fileNames)     //nolint:gosec // bounded by dataStart check

	return dataStart, nil
}

// writeTables writes header, folder records, file record blocks with
// placeholder records and the file name block.
func (p *writePlan) writeTables(w *bufio.Writer) error {
	var header [headerSize]byte
	copy(header[0:4], fileID[:])
	binary.LittleEndian.PutUint32(header[4:8], uint32(p.header.Version))
	binary.LittleEndian.PutUint32(header[8:12], headerSize)
	binary.LittleEndian.PutUint32(header[12:16], uint32(p.header.Flags))
	binary.LittleEndian.PutUint32(header[16:20], p.header.FolderCount)
	binary.LittleEndian.PutUint32(header[20:24], p.header.FileCount)
	binary.LittleEndian.PutUint32(header[24:28], p.header.TotalFolderNameLength)
	binary.LittleEndian.PutUint32(header[28:32], p.header.TotalFileNameLength)
	binary.LittleEndian.PutUint32(header[32:36], uint32(p.header.FileFlags))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]byte, p.header.Version.folderRecordLen())
	for _, folder := range p.folders {
		offset := uint64(folder.blockOffset) + uint64(p.header.TotalFileNameLength) //nolint:gosec // non-negative layout offset
		binary.LittleEndian.PutUint64(record[0:8], folder.hash)
		binary.LittleEndian.PutUint32(record[8:12], uint32(len(folder.files))) //nolint:gosec // bounded by layout
		if p.header.Version == VersionSkyrimSE {
			binary.LittleEndian.PutUint32(record[12:16], 0)
			binary.LittleEndian.PutUint64(record[16:24], offset)
		} else {
			binary.LittleEndian.PutUint32(record[12:16], uint32(offset)) //nolint:gosec // bounded by layout
		}

		if _, err := w.Write(record); err != nil {
			return fmt.Errorf("write folder record %q: %w", folder.path, err)
		}
	}

	var placeholder [fileRecordSize]byte
	for _, folder := range p.folders {
		if err := writeBZString(w, folder.name); err != nil {
			return fmt.Errorf("write folder name %q: %w", folder.path, err)
		}

		for range folder.files {
			if _, err := w.Write(placeholder[:]); err != nil {
				return fmt.Errorf("write file record placeholder: %w", err)
			}
		}
	}

	for _, folder := range p.folders {
		for _, file := range folder.files {
			if _, err := w.Write(file.name); err != nil {
				return fmt.Errorf("write file name %q: %w", file.entry.Path, err)
			}
			if err := w.WriteByte(0); err != nil {
				return fmt.Errorf("write file name terminator: %w", err)
			}
		}
	}

	return nil
}

// patchFileRecords seeks back and fills file records with written values.
func (p *writePlan) patchFileRecords(out io.WriteSeeker, written [][]writtenPayload) error {
	var record [fileRecordSize]byte
	for i, folder := range p.folders {
		if len(folder.files) == 0 {
			continue
		}

		pos := folder.blockOffset + 1 + int64(len(folder.name)) + 1
		if _, err := out.Seek(pos, io.SeekStart); err != nil {
			return fmt.Errorf("seek to folder block %q: %w", folder.path, err)
		}

		block := make([]byte, 0, len(folder.files)*fileRecordSize)
		for j, file := range folder.files {
			payload := written[i][j]
			size := uint32(payload.storedSize) //nolint:gosec // checked against sizeMask on write
			if payload.compressed {
				size |= sizeCompressToggle
			}

			binary.LittleEndian.PutUint64(record[0:8], file.hash)
			binary.LittleEndian.PutUint32(record[8:12], size)
			binary.LittleEndian.PutUint32(record[12:16], uint32(payload.recordOffset)) //nolint:gosec // checked against u32 range on write
			block = append(block, record[:]...)
		}

		if _, err := out.Write(block); err != nil {
			return fmt.Errorf("patch folder block %q: %w", folder.path, err)
		}
	}

	return nil
}

// writtenIndex builds the index describing written bytes.
func (p *writePlan) writtenIndex(written [][]writtenPayload) *Index {
	index := &Index{
		Header:  p.header,
		Folders: make([]FolderInfo, len(p.folders)),
	}

	for i, folder := range p.folders {
		info := FolderInfo{
			Path:  folder.path,
			Hash:  folder.hash,
			Files: make([]EntryInfo, len(folder.files)),
		}

		for j, file := range folder.files {
			payload := written[i][j]
			entry := file.entry
			entry.SourcePath = ""
			entry.Hash = file.hash
			entry.Offset = uint64(payload.dataOffset) //nolint:gosec // non-negative offset
			entry.Size = payload.size
			entry.StoredSize = payload.streamSize
			entry.Compressed = payload.compressed
			info.Files[j] = entry
		}

		index.Folders[i] = info
	}

	return index
}

// payloadWriter streams payloads and tracks the running archive offset.
type payloadWriter struct {
	w          *bufio.Writer
	src        io.ReaderAt
	matcher    *pathMatcher
	copyBuf    []byte
	opts       WriteOptions
	offset     int64
	srcVersion Version
}

// writeEntry writes one payload: optional embedded name, then raw or compressed bytes.
func (pw *payloadWriter) writeEntry(file *writeFile) (writtenPayload, error) {
	if pw.offset > maxArchiveOffset {
		return writtenPayload{}, fmt.Errorf("%w: %w: entry %s starts beyond 4 GiB", ErrInvalidData, ErrSizeOverflow, file.entry.Path)
	}

	record := writtenPayload{recordOffset: pw.offset}
	var prefix int64
	if file.embedded != nil {
		if err := writeBString(pw.w, file.embedded); err != nil {
			return writtenPayload{}, fmt.Errorf("write embedded name %s: %w", file.entry.Path, err)
		}

		prefix = 1 + int64(len(file.embedded))
	}

	entry := file.entry
	wantCompress := entry.Compressed || pw.matcher.Match(entry.Path)
	sameCodec := pw.srcVersion.usesLZ4() == pw.opts.Version.usesLZ4()

	var err error
	switch {
	case entry.archiveBacked() && entry.Compressed && wantCompress && sameCodec:
		err = pw.copyPacked(entry, &record)
	case entry.archiveBacked() && !entry.Compressed && !wantCompress:
		err = pw.copyRaw(entry, &record)
	default:
		err = pw.encode(entry, wantCompress, &record)
	}
	if err != nil {
		return writtenPayload{}, err
	}

	record.storedSize = prefix + record.streamSize
	record.dataOffset = pw.offset + prefix
	if record.compressed {
		record.storedSize += 4
		record.dataOffset += 4
	}
	if record.storedSize > sizeMask {
		return writtenPayload{}, fmt.Errorf("%w: %w: entry %s stored size %d", ErrInvalidData, ErrSizeOverflow, entry.Path, record.storedSize)
	}

	pw.offset += record.storedSize
	return record, nil
}

// copyPacked copies an already compressed stream from the source archive.
func (pw *payloadWriter) copyPacked(entry EntryInfo, record *writtenPayload) error {
	if pw.src == nil {
		return ErrNilReader
	}

	if err := writeUint32(pw.w, entry.Size); err != nil {
		return fmt.Errorf("write original size %s: %w", entry.Path, err)
	}

	sr := io.NewSectionReader(pw.src, int64(entry.Offset), entry.StoredSize) //nolint:gosec // offset parsed from u32 field
	n, err := copyPayloadBounded(pw.w, sr, entry.StoredSize, pw.copyBuf)
	if err != nil {
		return fmt.Errorf("copy packed entry %s: %w", entry.Path, err)
	}
	if n != entry.StoredSize {
		return fmt.Errorf("%w: copy packed entry %s: short read (%d/%d)", ErrInvalidData, entry.Path, n, entry.StoredSize)
	}

	record.size = entry.Size
	record.streamSize = n
	record.compressed = true
	return nil
}

// copyRaw copies an uncompressed stream from the source archive.
func (pw *payloadWriter) copyRaw(entry EntryInfo, record *writtenPayload) error {
	if pw.src == nil {
		return ErrNilReader
	}

	sr := io.NewSectionReader(pw.src, int64(entry.Offset), entry.StoredSize) //nolint:gosec // offset parsed from u32 field
	n, err := copyPayloadBounded(pw.w, sr, entry.StoredSize, pw.copyBuf)
	if err != nil {
		return fmt.Errorf("copy entry %s: %w", entry.Path, err)
	}
	if n != entry.StoredSize {
		return fmt.Errorf("%w: copy entry %s: short read (%d/%d)", ErrInvalidData, entry.Path, n, entry.StoredSize)
	}

	record.size = n
	record.streamSize = n
	return nil
}

// encode reads plain bytes and writes them raw or compressed; compression is
// kept only when it makes the payload smaller.
func (pw *payloadWriter) encode(entry EntryInfo, wantCompress bool, record *writtenPayload) error {
	rc, sizeHint, err := pw.openInput(entry)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	if !wantCompress || !shouldCompressBySize(pw.opts, sizeHint) {
		n, err := copyPayloadBounded(pw.w, rc, sizeMask, pw.copyBuf)
		if err != nil {
			return fmt.Errorf("stream input %s: %w", entry.Path, err)
		}

		record.size = n
		record.streamSize = n
		return nil
	}

	raw, err := readPayloadBounded(rc, int64(pw.opts.MaxCompressSize), sizeHint, pw.copyBuf)
	if err != nil {
		return fmt.Errorf("stream input %s: %w", entry.Path, err)
	}

	record.size = int64(len(raw))
	packed, err := compressPayload(pw.opts.Version, raw)
	if err != nil {
		return fmt.Errorf("compress %s: %w", entry.Path, err)
	}

	if len(packed)+4 >= len(raw) {
		if _, err := pw.w.Write(raw); err != nil {
			return fmt.Errorf("write payload %s: %w", entry.Path, err)
		}

		record.streamSize = int64(len(raw))
		return nil
	}

	if err := writeUint32(pw.w, int64(len(raw))); err != nil {
		return fmt.Errorf("write original size %s: %w", entry.Path, err)
	}
	if _, err := pw.w.Write(packed); err != nil {
		return fmt.Errorf("write payload %s: %w", entry.Path, err)
	}

	record.streamSize = int64(len(packed))
	record.compressed = true
	return nil
}

// openInput opens plain bytes of an entry from its source file or the source archive.
func (pw *payloadWriter) openInput(entry EntryInfo) (io.ReadCloser, int64, error) {
	if !entry.archiveBacked() {
		return openSourcePayload(entry)
	}

	if pw.src == nil {
		return nil, 0, ErrNilReader
	}

	rc, err := openArchivePayload(pw.src, pw.srcVersion, entry)
	if err != nil {
		return nil, 0, err
	}

	return rc, entry.Size, nil
}

// acquireWriter returns a buffered writer and release callback.
func acquireWriter(out io.Writer, size int) (*bufio.Writer, func()) {
	if size == DefaultWriteBuffer {
		w := defaultWriterPool.Get().(*bufio.Writer) //nolint:forcetypeassert // pool contains only *bufio.Writer
		w.Reset(out)

		return w, func() {
			w.Reset(io.Discard)
			defaultWriterPool.Put(w)
		}
	}

	return bufio.NewWriterSize(out, size), func() {}
}

// acquireCopyBuffer returns reusable payload copy buffer and release callback.
func acquireCopyBuffer() ([]byte, func()) {
	arr := defaultCopyBufferPool.Get().(*[copyBufferSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
	buf := arr[:]

	return buf, func() {
		defaultCopyBufferPool.Put(arr)
	}
}

// readPayloadBounded reads whole payload into memory with strict max-size enforcement.
func readPayloadBounded(src io.Reader, limit int64, sizeHint int64, copyBuf []byte) ([]byte, error) {
	var dst bytes.Buffer
	if sizeHint > 0 && sizeHint <= limit {
		dst.Grow(int(sizeHint))
	}

	if _, err := copyPayloadBounded(&dst, src, limit, copyBuf); err != nil {
		return nil, err
	}

	return dst.Bytes(), nil
}

// copyPayloadBounded streams payload from src to dst and enforces strict size limit.
func copyPayloadBounded(dst io.Writer, src io.Reader, limit int64, buf []byte) (int64, error) {
	if dst == nil {
		return 0, ErrNilWriter
	}
	if src == nil {
		return 0, ErrNilReader
	}
	if limit < 0 {
		return 0, ErrSizeOverflow
	}
	if len(buf) == 0 {
		buf = make([]byte, 32*1024)
	}

	var written int64
	emptyReads := 0
	for written < limit {
		chunk := buf
		if remaining := limit - written; int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}

		n, readErr := src.Read(chunk)
		if n > 0 {
			emptyReads = 0
			nw, writeErr := dst.Write(chunk[:n])
			written += int64(nw)

			if writeErr != nil {
				return written, writeErr
			}
			if nw != n {
				return written, io.ErrShortWrite
			}
		}
		if n == 0 && readErr == nil {
			emptyReads++
			if emptyReads > 100 {
				return written, io.ErrNoProgress
			}

			continue
		}

		if errors.Is(readErr, io.EOF) {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}

	// consumed exactly the limit, probe one extra byte to ensure source is not longer
	var probe [1]byte
	n, err := src.Read(probe[:])
	if n > 0 {
		return written, fmt.Errorf("%w: %w: payload exceeds %d bytes", ErrInvalidData, ErrSizeOverflow, limit)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return written, err
	}

	return written, nil
}

// writeBZString writes a length-prefixed, NUL-terminated string.
func writeBZString(w *bufio.Writer, value []byte) error {
	if err := w.WriteByte(byte(len(value) + 1)); err != nil {
		return err
	}
	if _, err := w.Write(value); err != nil {
		return err
	}

	return w.WriteByte(0)
}

// writeBString writes a length-prefixed string without terminator.
func writeBString(w *bufio.Writer, value []byte) error {
	if err := w.WriteByte(byte(len(value))); err != nil {
		return err
	}

	_, err := w.Write(value)
	return err
}

// writeUint32 writes a little-endian u32 value.
func writeUint32(w io.Writer, value int64) error {
	if value < 0 || value > 1<<32-1 {
		return fmt.Errorf("%w: %w: value %d", ErrInvalidData, ErrSizeOverflow, value)
	}

	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], uint32(value))
	_, err := w.Write(raw[:])
	return err
}

// compareHash orders records by unsigned hash.
func compareHash(a uint64, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// contentFlagsFor derives the header content flag from a folder's top-level name.
func contentFlagsFor(folder string) FileFlags {
	parts := splitArchivePath(folder)
	if len(parts) == 0 {
		return 0
	}

	switch strings.ToLower(parts[0]) {
	case "meshes":
		return FileFlagMeshes
	case "textures":
		return FileFlagTextures
	case "menus", "interface":
		return FileFlagMenus
	case "sound":
		if len(parts) > 1 && strings.EqualFold(parts[1], "voice") {
			return FileFlagVoices
		}

		return FileFlagSounds
	case "shaders":
		return FileFlagShaders
	case "trees":
		return FileFlagTrees
	case "fonts":
		return FileFlagFonts
	default:
		return FileFlagMisc
	}
}

// replaceArchiveFile moves a finished temp file over target, rotating backups
// when keep is positive.
func replaceArchiveFile(tmpPath string, target string, keep int) error {
	if keep <= 0 {
		if err := os.Rename(tmpPath, target); err != nil {
			return fmt.Errorf("rename %s to %s: %w", tmpPath, target, err)
		}

		return nil
	}

	backupPath := target + ".bak"
	_, statErr := os.Stat(target)
	hadTarget := statErr == nil
	if hadTarget {
		if err := prepareBackupSlot(backupPath, keep); err != nil {
			return fmt.Errorf("prepare backup: %w", err)
		}
		if err := os.Rename(target, backupPath); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}

	if err := os.Rename(tmpPath, target); err != nil {
		if hadTarget {
			if rbErr := rollbackFromBackup(target, backupPath); rbErr != nil {
				return fmt.Errorf("rename %s to %s: %w (rollback: %w)", tmpPath, target, err, rbErr)
			}
		}

		return fmt.Errorf("rename %s to %s: %w", tmpPath, target, err)
	}

	return nil
}

// prepareBackupSlot rotates/removes existing backup generations before new write.
func prepareBackupSlot(backupPath string, keep int) error {
	if keep <= 1 {
		return removeIfExists(backupPath)
	}

	if err := removeIfExists(fmt.Sprintf("%s.%d", backupPath, keep-1)); err != nil {
		return err
	}

	for i := keep - 2; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", backupPath, i)
		to := fmt.Sprintf("%s.%d", backupPath, i+1)
		if err := renameIfExists(from, to); err != nil {
			return err
		}
	}

	return renameIfExists(backupPath, backupPath+".1")
}

// renameIfExists renames source to destination when source exists.
func renameIfExists(from string, to string) error {
	_, err := os.Stat(from)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", from, err)
	}

	if err := removeIfExists(to); err != nil {
		return err
	}

	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}

	return nil
}

// removeIfExists removes file when present.
func removeIfExists(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("remove %s: %w", path, err)
}

// rollbackFromBackup restores backup on failed replace.
func rollbackFromBackup(path string, backupPath string) error {
	_ = os.Remove(path)

	if err := os.Rename(backupPath, path); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}

	return nil
}
