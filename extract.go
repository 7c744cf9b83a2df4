// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// extractWorkItem stores one selected entry with prepared output relative paths.
type extractWorkItem struct {
	relPath string
	relDir  string
	entry   EntryInfo
}

// extractJob is one extraction run over a private archive read handle.
type extractJob struct {
	ra      io.ReaderAt
	log     logrus.FieldLogger
	root    string
	opts    ExtractOptions
	version Version
}

// ExtractOne writes one entry to outDir/<folder>/<name>.
func (b *FileBackend) ExtractOne(ctx context.Context, entry EntryInfo, outDir string, opts ExtractOptions) error {
	opts.Progress = nil
	opts.Include = nil

	return b.extract(ctx, []EntryInfo{entry}, outDir, opts)
}

// ExtractAll writes entries to outDir. Progress is called once per selected
// entry, in order, before the entry is scheduled; returning false stops
// scheduling and the call fails with ErrCanceled. Files already written stay
// on disk.
func (b *FileBackend) ExtractAll(ctx context.Context, entries []EntryInfo, outDir string, opts ExtractOptions) error {
	opts.applyDefaults()

	matcher, err := newPathMatcher(opts.Include, opts.IncludeMatcherOptions)
	if err != nil {
		return newError(CodeInvalidData, "extract", outDir, err)
	}

	if matcher != nil {
		selected := make([]EntryInfo, 0, len(entries))
		for _, entry := range entries {
			if matcher.Match(entry.Path) {
				selected = append(selected, entry)
			}
		}

		entries = selected
	}

	return b.extract(ctx, entries, outDir, opts)
}

// extract runs the shared extraction pipeline and maps failures to *Error.
func (b *FileBackend) extract(ctx context.Context, entries []EntryInfo, outDir string, opts ExtractOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	opts.applyDefaults()
	if len(entries) == 0 {
		return nil
	}

	workItems, err := prepareExtractWorkItems(entries, opts.RawNames)
	if err != nil {
		return newError(CodeInvalidData, "extract", outDir, err)
	}

	dstRootAbs, err := filepath.Abs(outDir)
	if err != nil {
		return newError(CodeAccessFailed, "extract", outDir, fmt.Errorf("resolve output dir: %w", err))
	}

	if err := os.MkdirAll(dstRootAbs, 0o750); err != nil {
		return newError(CodeAccessFailed, "extract", outDir, fmt.Errorf("create output dir: %w", err))
	}

	if err := prepareExtractDirs(dstRootAbs, workItems); err != nil {
		return newError(CodeAccessFailed, "extract", outDir, err)
	}

	job := &extractJob{
		root: dstRootAbs,
		opts: opts,
		log:  b.logger().WithField("dir", dstRootAbs),
	}

	if needsArchiveHandle(entries) {
		f, version, err := b.openArchive()
		if err != nil {
			return asBackendError("extract", outDir, err, CodeAccessFailed)
		}
		defer func() { _ = f.Close() }()

		job.ra = f
		job.version = version
	}

	canceled, err := job.run(ctx, workItems)
	if err != nil {
		return asBackendError("extract", outDir, err, CodeAccessFailed)
	}
	if canceled {
		return newError(CodeCanceled, "extract", outDir, nil)
	}

	return nil
}

// run dispatches work items to a bounded errgroup. The returned flag reports
// a progress abort.
func (job *extractJob) run(ctx context.Context, workItems []extractWorkItem) (bool, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(job.opts.MaxWorkers)

	canceled := false
	for i, task := range workItems {
		if gctx.Err() != nil {
			break
		}

		if job.opts.Progress != nil && !job.opts.Progress(i, task.entry.Path) {
			job.log.WithField("index", i).Debug("extraction aborted by progress callback")
			canceled = true
			break
		}

		g.Go(func() error {
			return job.extractPreparedEntry(gctx, task)
		})
	}

	if err := g.Wait(); err != nil {
		return canceled, err
	}

	if !canceled {
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}

	return canceled, nil
}

// needsArchiveHandle reports whether any entry reads from the archive file.
func needsArchiveHandle(entries []EntryInfo) bool {
	for i := range entries {
		if entries[i].archiveBacked() {
			return true
		}
	}

	return false
}

// prepareExtractWorkItems validates selected entries and prepares relative fs paths.
func prepareExtractWorkItems(entries []EntryInfo, rawNames bool) ([]extractWorkItem, error) {
	var sanitized []string
	if !rawNames {
		var err error
		sanitized, err = sanitizeExtractPaths(entries)
		if err != nil {
			return nil, err
		}
	}

	workItems := make([]extractWorkItem, 0, len(entries))
	for i, entry := range entries {
		if strings.TrimSpace(entry.Path) == "" {
			continue
		}

		normalizedPath := ""
		if sanitized != nil {
			normalizedPath = sanitized[i]
		} else {
			var err error
			normalizedPath, err = normalizeExtractEntryPath(entry.Path)
			if err != nil {
				return nil, fmt.Errorf("normalize entry path %s: %w", entry.Path, err)
			}
		}

		relPath := filepath.FromSlash(normalizedPath)
		relDir := filepath.Dir(relPath)
		if relDir == "." {
			relDir = ""
		}

		workItems = append(workItems, extractWorkItem{
			entry:   entry,
			relPath: relPath,
			relDir:  relDir,
		})
	}

	return workItems, nil
}

// prepareExtractDirs creates all unique parent directories needed by work items.
func prepareExtractDirs(dstRootAbs string, workItems []extractWorkItem) error {
	seen := make(map[string]struct{}, len(workItems))
	for _, task := range workItems {
		if task.relDir == "" {
			continue
		}

		dirPath := filepath.Join(dstRootAbs, task.relDir)
		key := strings.ToLower(dirPath)
		if _, exists := seen[key]; exists {
			continue
		}

		seen[key] = struct{}{}
		if err := os.MkdirAll(dirPath, 0o750); err != nil {
			return fmt.Errorf("create output directory %s: %w", dirPath, err)
		}
	}

	return nil
}

// extractPreparedEntry writes one prepared work item to destination root.
func (job *extractJob) extractPreparedEntry(ctx context.Context, task extractWorkItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	outPath := filepath.Join(job.root, task.relPath)
	if !isWithinRoot(job.root, outPath) {
		return fmt.Errorf("%w: %w: %s", ErrInvalidData, ErrExtractPathOutsideRoot, task.entry.Path)
	}

	rc, expectedSize, err := job.openEntry(task.entry)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	file, needsTruncate, err := openExtractFile(outPath, job.opts.FileMode, expectedSize)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrAccessFailed, outPath, err)
	}

	copyBuf, releaseCopyBuffer := acquireCopyBuffer()
	defer releaseCopyBuffer()

	written, copyErr := copyExtractData(file, rc, copyBuf)
	if copyErr == nil && needsTruncate {
		if truncErr := file.Truncate(written); truncErr != nil {
			_ = file.Close()
			return fmt.Errorf("%w: truncate %s: %w", ErrAccessFailed, outPath, truncErr)
		}
	}

	closeErr := file.Close()
	if copyErr != nil {
		return fmt.Errorf("write %s: %w", task.entry.Path, copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("%w: close %s: %w", ErrAccessFailed, outPath, closeErr)
	}

	job.log.WithFields(logrus.Fields{
		"entry": task.entry.Path,
		"bytes": written,
	}).Debug("entry extracted")

	if job.opts.OnEntryDone != nil {
		job.opts.OnEntryDone(task.entry, written, outPath)
	}

	return nil
}

// openEntry opens the plain byte stream of an entry and reports its size.
func (job *extractJob) openEntry(entry EntryInfo) (io.ReadCloser, int64, error) {
	if !entry.archiveBacked() {
		return openSourcePayload(entry)
	}

	if job.ra == nil {
		return nil, 0, ErrNilReader
	}

	rc, err := openArchivePayload(job.ra, job.version, entry)
	if err != nil {
		return nil, 0, err
	}

	return rc, entry.Size, nil
}

// openExtractFile opens output path according to selected extract file mode.
func openExtractFile(path string, mode ExtractFileMode, expectedSize int64) (*os.File, bool, error) {
	const flags = os.O_WRONLY | os.O_CREATE

	switch mode {
	case ExtractFileModeAuto:
		file, err := os.OpenFile(path, flags|os.O_EXCL, 0o600)
		if err == nil || !errors.Is(err, os.ErrExist) {
			return file, false, err
		}

		file, err = os.OpenFile(path, flags|os.O_TRUNC, 0o600)
		return file, false, err
	case ExtractFileModeOverwriteSmart:
		file, err := os.OpenFile(path, flags, 0o600)
		if err != nil {
			return nil, false, err
		}

		info, err := file.Stat()
		if err != nil {
			_ = file.Close()
			return nil, false, err
		}

		return file, info.Size() > expectedSize, nil
	case ExtractFileModeTruncate:
		file, err := os.OpenFile(path, flags|os.O_TRUNC, 0o600)
		return file, false, err
	case ExtractFileModeCreateOnly:
		file, err := os.OpenFile(path, flags|os.O_EXCL, 0o600)
		return file, false, err
	default:
		return nil, false, fmt.Errorf("unknown extract file mode %q", mode)
	}
}

// copyExtractData copies one entry stream to output file using fixed worker buffer.
func copyExtractData(dst *os.File, src io.Reader, buf []byte) (int64, error) {
	if len(buf) == 0 {
		return 0, io.ErrShortBuffer
	}

	var total int64
	for {
		readN, readErr := src.Read(buf)
		if readN > 0 {
			writeN, writeErr := dst.Write(buf[:readN])
			total += int64(writeN)

			if writeErr != nil {
				return total, fmt.Errorf("%w: %w", ErrAccessFailed, writeErr)
			}

			if writeN != readN {
				return total, fmt.Errorf("%w: %w", ErrAccessFailed, io.ErrShortWrite)
			}
		}

		if readErr == nil {
			continue
		}

		if errors.Is(readErr, io.EOF) {
			return total, nil
		}

		return total, readErr
	}
}

// isWithinRoot reports whether target resolves inside root.
func isWithinRoot(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// normalizeExtractEntryPath normalizes entry path and rejects absolute/traversal inputs.
func normalizeExtractEntryPath(entryPath string) (string, error) {
	raw := strings.TrimSpace(entryPath)
	if raw == "" || strings.ContainsRune(raw, 0) {
		return "", ErrInvalidExtractPath
	}
	if strings.HasPrefix(raw, `/`) || strings.HasPrefix(raw, `\`) {
		return "", ErrInvalidExtractPath
	}

	raw = strings.ReplaceAll(raw, `\`, `/`)
	if hasWindowsAbsDrivePrefix(raw) {
		return "", ErrInvalidExtractPath
	}

	parts := strings.Split(raw, `/`)
	cleanParts := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", ErrInvalidExtractPath
		default:
			cleanParts = append(cleanParts, part)
		}
	}
	if len(cleanParts) == 0 {
		return "", ErrInvalidExtractPath
	}

	return strings.Join(cleanParts, `/`), nil
}

// hasWindowsAbsDrivePrefix reports whether path starts with drive-root prefix like C:/.
func hasWindowsAbsDrivePrefix(path string) bool {
	if len(path) < 3 {
		return false
	}

	return isASCIIAlpha(path[0]) && path[1] == ':' && path[2] == '/'
}

// isASCIIAlpha reports whether byte is ASCII latin letter.
func isASCIIAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
