// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"github.com/sirupsen/logrus"
	"github.com/woozymasta/pathrules"
)

// Internal binary layout and format limits.
const (
	headerSize           = 36         // fixed BSA header size in bytes
	fileRecordSize       = 16         // hash u64 + size u32 + offset u32
	folderRecordSize     = 16         // v103/v104: hash u64 + count u32 + offset u32
	folderRecordSizeSE   = 24         // v105: hash u64 + count u32 + pad u32 + offset u64
	sizeCompressToggle   = 0x40000000 // file size bit inverting the archive compression default
	sizeMask             = 0x3FFFFFFF // file size bits holding the stored size
	maxBStringLen        = 255        // max length of length-prefixed strings
	maxArchiveOffset     = 1<<32 - 1  // file record offsets are u32 in every version
	rootFolderRecordName = "."        // folder record name for files stored at archive root
)

// fileID is the 4-byte magic at offset 0.
var fileID = [4]byte{'B', 'S', 'A', 0}

// Default writer tuning values.
const (
	DefaultWriteBuffer     = 4 * 1024 * 1024
	DefaultMinCompressSize = 64
	DefaultMaxCompressSize = 256 * 1024 * 1024
)

// Version is the BSA header version field.
type Version uint32

// Known archive versions.
const (
	// VersionOblivion is used by TES4 Oblivion.
	VersionOblivion Version = 103
	// VersionSkyrim is used by Fallout 3, Fallout New Vegas and Skyrim LE.
	VersionSkyrim Version = 104
	// VersionSkyrimSE is used by Skyrim Special Edition (LZ4 payloads, 64-bit folder offsets).
	VersionSkyrimSE Version = 105
)

// Valid reports whether v is a supported version.
func (v Version) Valid() bool {
	return v == VersionOblivion || v == VersionSkyrim || v == VersionSkyrimSE
}

// Type reports the archive subtype for v.
func (v Version) Type() Type {
	switch v {
	case VersionOblivion:
		return TypeOblivion
	case VersionSkyrim, VersionSkyrimSE:
		// later generations share the Skyrim layout family
		return TypeSkyrim
	default:
		return TypeUnknown
	}
}

// folderRecordLen returns folder record size for version.
func (v Version) folderRecordLen() int64 {
	if v == VersionSkyrimSE {
		return folderRecordSizeSE
	}

	return folderRecordSize
}

// usesLZ4 reports whether compressed payloads are LZ4 frames instead of zlib streams.
func (v Version) usesLZ4() bool {
	return v == VersionSkyrimSE
}

// Type is the archive subtype reported by Archive.Type.
type Type int

// Archive subtypes.
const (
	TypeUnknown Type = iota
	TypeOblivion
	TypeSkyrim
)

// String returns "oblivion", "skyrim" or an empty string for unknown types.
func (t Type) String() string {
	switch t {
	case TypeOblivion:
		return "oblivion"
	case TypeSkyrim:
		return "skyrim"
	default:
		return ""
	}
}

// ArchiveFlags is the header archive flag set.
type ArchiveFlags uint32

// Archive flags.
const (
	FlagIncludeDirectoryNames ArchiveFlags = 0x1
	FlagIncludeFileNames      ArchiveFlags = 0x2
	FlagCompressedByDefault   ArchiveFlags = 0x4
	FlagRetainDirectoryNames  ArchiveFlags = 0x8
	FlagRetainFileNames       ArchiveFlags = 0x10
	FlagRetainFileNameOffsets ArchiveFlags = 0x20
	FlagXbox360               ArchiveFlags = 0x40
	FlagRetainStrings         ArchiveFlags = 0x80
	FlagEmbedFileNames        ArchiveFlags = 0x100
	FlagXMemCodec             ArchiveFlags = 0x200
)

// Has reports whether all bits of flag are set.
func (f ArchiveFlags) Has(flag ArchiveFlags) bool {
	return f&flag == flag
}

// FileFlags is the header content-type flag set.
type FileFlags uint32

// Content flags.
const (
	FileFlagMeshes   FileFlags = 0x1
	FileFlagTextures FileFlags = 0x2
	FileFlagMenus    FileFlags = 0x4
	FileFlagSounds   FileFlags = 0x8
	FileFlagVoices   FileFlags = 0x10
	FileFlagShaders  FileFlags = 0x20
	FileFlagTrees    FileFlags = 0x40
	FileFlagFonts    FileFlags = 0x80
	FileFlagMisc     FileFlags = 0x100
)

// Header is the parsed fixed archive header.
type Header struct {
	// Version is the format version.
	Version Version `json:"version" yaml:"version"`
	// Flags is the archive flag set.
	Flags ArchiveFlags `json:"flags" yaml:"flags"`
	// FileFlags describes content types stored in the archive.
	FileFlags FileFlags `json:"file_flags,omitempty" yaml:"file_flags,omitempty"`
	// FolderCount is number of folder records.
	FolderCount uint32 `json:"folder_count" yaml:"folder_count"`
	// FileCount is number of file records.
	FileCount uint32 `json:"file_count" yaml:"file_count"`
	// TotalFolderNameLength is the length of all folder names including NUL but not the length byte.
	TotalFolderNameLength uint32 `json:"total_folder_name_length" yaml:"total_folder_name_length"`
	// TotalFileNameLength is the length of all file names including NUL.
	TotalFileNameLength uint32 `json:"total_file_name_length" yaml:"total_file_name_length"`
}

// EntryInfo describes a single file entry.
type EntryInfo struct {
	// Path is the full archive path ("folder\name").
	Path string `json:"path" yaml:"path"`
	// Folder is the owning folder path ("" for archive root).
	Folder string `json:"folder,omitempty" yaml:"folder,omitempty"`
	// Name is the file name without folder.
	Name string `json:"name" yaml:"name"`
	// SourcePath is the on-disk source of an authored entry not yet written.
	SourcePath string `json:"source_path,omitempty" yaml:"source_path,omitempty"`
	// Hash is the stored (or computed) name hash.
	Hash uint64 `json:"hash,omitempty" yaml:"hash,omitempty"`
	// Offset is the absolute offset of the payload stream.
	Offset uint64 `json:"offset,omitempty" yaml:"offset,omitempty"`
	// Size is the uncompressed payload size in bytes.
	Size int64 `json:"size" yaml:"size"`
	// StoredSize is the size of the payload stream at Offset.
	StoredSize int64 `json:"stored_size,omitempty" yaml:"stored_size,omitempty"`
	// Compressed reports whether the stored payload is compressed (or should be on write).
	Compressed bool `json:"compressed,omitempty" yaml:"compressed,omitempty"`

	// ref links the entry back to its tree node (node index + 1, zero when unbound).
	ref int
}

// archiveBacked reports whether payload bytes live in the parsed archive.
func (e *EntryInfo) archiveBacked() bool {
	return e.SourcePath == ""
}

// FolderInfo describes one folder record and its files.
type FolderInfo struct {
	// Path is the folder path with "\" separators ("" for archive root).
	Path string `json:"path" yaml:"path"`
	// Files are the folder's file entries in record order.
	Files []EntryInfo `json:"files,omitempty" yaml:"files,omitempty"`
	// Hash is the stored (or computed) folder hash.
	Hash uint64 `json:"hash,omitempty" yaml:"hash,omitempty"`
}

// Index is the flat folder/file listing exchanged with a Backend.
type Index struct {
	// Folders are folder records with their files.
	Folders []FolderInfo `json:"folders" yaml:"folders"`
	// Header is the archive header.
	Header Header `json:"header" yaml:"header"`
}

// ProgressFunc is invoked once per entry during full extraction. Returning
// false aborts the remaining entries.
type ProgressFunc func(index int, path string) bool

// ArchiveOptions configures NewArchive.
type ArchiveOptions struct {
	// Backend is the container implementation; nil selects the native file backend.
	Backend Backend `json:"-" yaml:"-"`
	// Logger receives debug events; nil discards.
	Logger logrus.FieldLogger `json:"-" yaml:"-"`
	// Version is the version used by Write when WriteOptions.Version is zero.
	Version Version `json:"version,omitempty" yaml:"version,omitempty"`
}

// LoadOptions configures Load and LoadAsync.
type LoadOptions struct {
	// Backend is the container implementation; nil selects the native file backend.
	Backend Backend `json:"-" yaml:"-"`
	// Logger receives debug events; nil discards.
	Logger logrus.FieldLogger `json:"-" yaml:"-"`
	// ValidateHashes verifies every folder and file name hash.
	ValidateHashes bool `json:"validate_hashes,omitempty" yaml:"validate_hashes,omitempty"`
}

// WriteEntryProgress describes one entry written by Write.
type WriteEntryProgress struct {
	// Path is entry path written to archive.
	Path string `json:"path" yaml:"path"`
	// Offset is payload offset in resulting archive.
	Offset uint64 `json:"offset" yaml:"offset"`
	// Size is uncompressed payload size.
	Size int64 `json:"size" yaml:"size"`
	// StoredSize is stored payload size.
	StoredSize int64 `json:"stored_size" yaml:"stored_size"`
	// Compressed reports whether compressed payload was written.
	Compressed bool `json:"compressed,omitempty" yaml:"compressed,omitempty"`
}

// WriteOptions configures Archive.WriteWithOptions.
type WriteOptions struct {
	// OnEntryDone is called after one entry payload is written.
	OnEntryDone func(entry WriteEntryProgress) `json:"-" yaml:"-"`
	// Compress selects additional compression candidates by archive path.
	// Entries created with compressed=true are always candidates.
	Compress []pathrules.Rule `json:"compress,omitempty" yaml:"compress,omitempty"`
	// CompressMatcherOptions control compression path rule matching.
	CompressMatcherOptions pathrules.MatcherOptions `json:"compress_matcher_options,omitzero" yaml:"compress_matcher_options,omitzero"`
	// Version is output format version (zero keeps the archive version).
	Version Version `json:"version,omitempty" yaml:"version,omitempty"`
	// WriterBufferSize is buffered writer size in bytes.
	WriterBufferSize int `json:"writer_buffer_size,omitempty" yaml:"writer_buffer_size,omitempty"`
	// BackupKeep controls how many backup generations of an overwritten archive are kept.
	// 0 means no backup, 1 keeps `<archive>.bak`, N keeps `.bak` + `.bak.1..N-1`.
	BackupKeep int `json:"backup_keep,omitempty" yaml:"backup_keep,omitempty"`
	// MinCompressSize stores entries smaller than this size uncompressed.
	MinCompressSize uint32 `json:"min_compress_size,omitempty" yaml:"min_compress_size,omitempty"`
	// MaxCompressSize stores entries larger than this size uncompressed.
	MaxCompressSize uint32 `json:"max_compress_size,omitempty" yaml:"max_compress_size,omitempty"`
	// EmbedFileNames prefixes every payload with its full path (v104 and later).
	EmbedFileNames bool `json:"embed_file_names,omitempty" yaml:"embed_file_names,omitempty"`
}

// ExtractOptions configures extraction.
type ExtractOptions struct {
	// Progress is invoked once per entry in full-archive mode; false aborts.
	Progress ProgressFunc `json:"-" yaml:"-"`
	// OnEntryDone is called after one entry is fully written to disk.
	OnEntryDone func(entry EntryInfo, written int64, outputPath string) `json:"-" yaml:"-"`
	// Include limits full-archive extraction to matching archive paths; empty means all.
	Include []pathrules.Rule `json:"include,omitempty" yaml:"include,omitempty"`
	// IncludeMatcherOptions control include rule matching.
	IncludeMatcherOptions pathrules.MatcherOptions `json:"include_matcher_options,omitzero" yaml:"include_matcher_options,omitzero"`
	// FileMode controls output file creation policy.
	FileMode ExtractFileMode `json:"file_mode,omitempty" yaml:"file_mode,omitempty"`
	// MaxWorkers is number of parallel copy workers (zero means 1).
	MaxWorkers int `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
	// RawNames disables default path sanitization during extract.
	RawNames bool `json:"raw_names,omitempty" yaml:"raw_names,omitempty"`
}

// ExtractFileMode controls output file open behavior during extraction.
type ExtractFileMode string

// Output file creation policies for extraction.
const (
	// ExtractFileModeAuto first tries create-only, then falls back to truncate for existing files.
	ExtractFileModeAuto ExtractFileMode = "auto"
	// ExtractFileModeOverwriteSmart rewrites files in place and truncates only when existing file is larger.
	ExtractFileModeOverwriteSmart ExtractFileMode = "overwrite_smart"
	// ExtractFileModeTruncate opens existing files with truncate and creates missing files.
	ExtractFileModeTruncate ExtractFileMode = "truncate"
	// ExtractFileModeCreateOnly creates files only when absent and fails on existing files.
	ExtractFileModeCreateOnly ExtractFileMode = "create_only"
)

// LoopOptions configures NewLoop.
type LoopOptions struct {
	// Logger receives debug events; nil discards.
	Logger logrus.FieldLogger `json:"-" yaml:"-"`
	// QueueSize is the completion queue capacity.
	QueueSize int `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
}

// applyDefaults fills zero-valued archive options with defaults.
func (opts *ArchiveOptions) applyDefaults() {
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}

	if !opts.Version.Valid() {
		opts.Version = VersionSkyrim
	}

	if opts.Backend == nil {
		opts.Backend = NewFileBackend(opts.Logger)
	}
}

// applyDefaults fills zero-valued load options with defaults.
func (opts *LoadOptions) applyDefaults() {
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}

	if opts.Backend == nil {
		opts.Backend = NewFileBackend(opts.Logger)
	}
}

// applyDefaults fills zero-valued write options with defaults.
func (opts *WriteOptions) applyDefaults() {
	if opts.WriterBufferSize < 4096 {
		opts.WriterBufferSize = DefaultWriteBuffer
	}

	if opts.MinCompressSize == 0 {
		opts.MinCompressSize = DefaultMinCompressSize
	}

	if opts.MaxCompressSize == 0 || opts.MaxCompressSize <= opts.MinCompressSize {
		opts.MaxCompressSize = DefaultMaxCompressSize
	}

	if opts.CompressMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.CompressMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		}
	}

	if opts.CompressMatcherOptions.DefaultAction == pathrules.ActionUnknown {
		opts.CompressMatcherOptions.DefaultAction = pathrules.ActionExclude
	}

	if opts.BackupKeep < 0 {
		opts.BackupKeep = 0
	}
}

// applyDefaults fills zero-valued extract options with defaults.
func (opts *ExtractOptions) applyDefaults() {
	if opts.FileMode == "" {
		opts.FileMode = ExtractFileModeAuto
	}

	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}

	if opts.IncludeMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.IncludeMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		}
	}
}

// applyDefaults fills zero-valued loop options with defaults.
func (opts *LoopOptions) applyDefaults() {
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}

	if opts.QueueSize < 1 {
		opts.QueueSize = 16
	}
}
