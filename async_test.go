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
	"sync/atomic"
	"testing"
	"time"
)

// stubBackend is a Backend whose Parse outcome is scripted by the test.
type stubBackend struct {
	parse func(path string) (*Index, error)
}

func (b *stubBackend) Parse(_ context.Context, path string, _ bool) (*Index, error) {
	return b.parse(path)
}

func (b *stubBackend) Write(context.Context, string, *Index, WriteOptions) (*Index, error) {
	return nil, errors.New("not implemented")
}

func (b *stubBackend) OpenEntry(EntryInfo) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (b *stubBackend) ExtractOne(context.Context, EntryInfo, string, ExtractOptions) error {
	return errors.New("not implemented")
}

func (b *stubBackend) ExtractAll(context.Context, []EntryInfo, string, ExtractOptions) error {
	return errors.New("not implemented")
}

func (b *stubBackend) CreateEntry(name string, sourcePath string, compressed bool) EntryInfo {
	return EntryInfo{Name: name, SourcePath: sourcePath, Compressed: compressed}
}

// runLoop drives loop until done is closed, failing the test after a timeout.
func runLoop(t *testing.T, loop *Loop, done <-chan struct{}) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := loop.RunUntil(ctx, done); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}
}

func TestLoadAsyncDeliversExactlyOnce(t *testing.T) {
	t.Parallel()

	index := &Index{
		Header: Header{Version: VersionSkyrim},
		Folders: []FolderInfo{
			{Path: "meshes", Files: []EntryInfo{{Name: "a.nif", Size: 1024}}},
			{Path: "textures"},
		},
	}

	tests := []struct {
		name  string
		parse func(path string) (*Index, error)
		want  ErrorCode
	}{
		{name: "success", parse: func(string) (*Index, error) { return index, nil }, want: CodeNone},
		{name: "foreign error", parse: func(string) (*Index, error) { return nil, errors.New("boom") }, want: CodeUnknown},
		{name: "nil index", parse: func(string) (*Index, error) { return nil, nil }, want: CodeInvalidData},
		{name: "panic", parse: func(string) (*Index, error) { panic("backend exploded") }, want: CodeUnknown},
	}

	for code := CodeAccessFailed; code <= CodeUnknown; code++ {
		tests = append(tests, struct {
			name  string
			parse func(path string) (*Index, error)
			want  ErrorCode
		}{
			name:  "code " + code.String(),
			parse: func(path string) (*Index, error) { return nil, fmt.Errorf("stub %s: %w", path, code.Err()) },
			want:  code,
		})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			loop := NewLoop(LoopOptions{})
			defer loop.Close()

			var (
				calls    int
				returned bool
				gotErr   error
				got      *Archive
			)

			op, err := LoadAsync(loop, "test.bsa", LoadOptions{Backend: &stubBackend{parse: tt.parse}}, func(a *Archive, err error) {
				if !returned {
					t.Error("completion ran before LoadAsync returned")
				}

				calls++
				got, gotErr = a, err
			})
			if err != nil {
				t.Fatalf("LoadAsync: %v", err)
			}
			returned = true

			runLoop(t, loop, op.Done())

			// nothing left to deliver
			if n := loop.Poll(); n != 0 {
				t.Fatalf("Poll()=%d after delivery", n)
			}

			if calls != 1 || !op.Delivered() {
				t.Fatalf("completion calls=%d delivered=%v", calls, op.Delivered())
			}

			if CodeOf(gotErr) != tt.want {
				t.Fatalf("code=%v (%v), want %v", CodeOf(gotErr), gotErr, tt.want)
			}

			if waitErr := op.Wait(context.Background()); CodeOf(waitErr) != tt.want {
				t.Fatalf("Wait=%v, want code %v", waitErr, tt.want)
			}

			if tt.want == CodeNone {
				if got == nil || op.State() != StateCompleted {
					t.Fatalf("archive=%v state=%v", got, op.State())
				}

				root, _ := got.Root()
				if root.SubfolderCount() != 2 || root.TotalFileCount() != 1 {
					t.Fatalf("unexpected tree: folders=%d files=%d", root.SubfolderCount(), root.TotalFileCount())
				}

				return
			}

			if got != nil || op.State() != StateFailed {
				t.Fatalf("failure delivered archive=%v state=%v", got, op.State())
			}

			if gotErr.Error() == "" {
				t.Fatal("failure message is empty")
			}
		})
	}
}

func TestLoadAsyncPanicMessage(t *testing.T) {
	t.Parallel()

	loop := NewLoop(LoopOptions{})
	defer loop.Close()

	backend := &stubBackend{parse: func(string) (*Index, error) { panic("backend exploded") }}

	var gotErr error
	op, err := LoadAsync(loop, "test.bsa", LoadOptions{Backend: backend}, func(_ *Archive, err error) {
		gotErr = err
	})
	if err != nil {
		t.Fatalf("LoadAsync: %v", err)
	}

	runLoop(t, loop, op.Done())

	if !errors.Is(gotErr, ErrUnknown) || !strings.Contains(gotErr.Error(), "backend exploded") {
		t.Fatalf("panic error=%v", gotErr)
	}
}

func TestLoadAsyncRealArchive(t *testing.T) {
	t.Parallel()

	path, _ := createTestArchive(t, VersionSkyrim, false)

	loop := NewLoop(LoopOptions{})
	defer loop.Close()

	var archive *Archive
	op, err := LoadAsync(loop, path, LoadOptions{ValidateHashes: true}, func(a *Archive, err error) {
		if err != nil {
			t.Errorf("load failed: %v", err)
		}
		archive = a
	})
	if err != nil {
		t.Fatalf("LoadAsync: %v", err)
	}

	runLoop(t, loop, op.Done())

	root, err := archive.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	meshes, _ := root.Subfolder(0)
	file, _ := meshes.File(0)
	if root.SubfolderCount() != 2 || meshes.FileCount() != 1 || root.TotalFileCount() != 1 || file.Size() != 1024 {
		t.Fatal("unexpected loaded tree")
	}

	missing := filepath.Join(t.TempDir(), "missing.bsa")
	var missingErr error
	op, err = LoadAsync(loop, missing, LoadOptions{}, func(_ *Archive, err error) { missingErr = err })
	if err != nil {
		t.Fatalf("LoadAsync: %v", err)
	}

	runLoop(t, loop, op.Done())

	if CodeOf(missingErr) != CodeFileNotFound {
		t.Fatalf("missing archive error=%v", missingErr)
	}
}

func TestAsyncStartErrors(t *testing.T) {
	t.Parallel()

	if _, err := LoadAsync(nil, "a.bsa", LoadOptions{}, nil); !errors.Is(err, ErrNilLoop) {
		t.Fatalf("LoadAsync(nil loop)=%v", err)
	}

	closed := NewLoop(LoopOptions{})
	closed.Close()
	closed.Close()

	if _, err := LoadAsync(closed, "a.bsa", LoadOptions{}, nil); !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("LoadAsync(closed loop)=%v", err)
	}

	if _, err := CreateArchive(closed, "a.bsa", ArchiveOptions{}, nil); !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("CreateArchive(closed loop)=%v", err)
	}

	var nilArchive *Archive
	if _, err := nilArchive.ExtractAllAsync(NewLoop(LoopOptions{}), t.TempDir(), ExtractOptions{}, nil); !errors.Is(err, ErrNilArchive) {
		t.Fatalf("ExtractAllAsync(nil archive)=%v", err)
	}

	a := NewArchive("a.bsa", ArchiveOptions{})
	if _, err := a.ExtractAllAsync(nil, t.TempDir(), ExtractOptions{}, nil); !errors.Is(err, ErrNilLoop) {
		t.Fatalf("ExtractAllAsync(nil loop)=%v", err)
	}

	if err := closed.RunUntil(context.Background(), nil); !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("RunUntil(closed)=%v", err)
	}
}

func TestCreateArchiveAsync(t *testing.T) {
	t.Parallel()

	loop := NewLoop(LoopOptions{})
	defer loop.Close()

	path := filepath.Join(t.TempDir(), "new.bsa")
	var created *Archive
	op, err := CreateArchive(loop, path, ArchiveOptions{Version: VersionSkyrimSE}, func(a *Archive, err error) {
		if err != nil {
			t.Errorf("create failed: %v", err)
		}
		created = a
	})
	if err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}

	runLoop(t, loop, op.Done())

	if created == nil || created.Name() != path || created.Version() != VersionSkyrimSE {
		t.Fatalf("unexpected archive %+v", created)
	}

	root, _ := created.Root()
	if root.SubfolderCount() != 0 || root.TotalFileCount() != 0 {
		t.Fatal("new archive must be empty")
	}
}

func TestExtractAllAsyncAbort(t *testing.T) {
	t.Parallel()

	path := createMultiFileArchive(t, 6, true)
	a, err := Load(context.Background(), path, LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	loop := NewLoop(LoopOptions{})
	defer loop.Close()

	var (
		progressCalls atomic.Int32
		processed     atomic.Int32
		calls         int
		gotErr        error
	)

	outDir := t.TempDir()
	opts := ExtractOptions{
		Progress: func(int, string) bool {
			return progressCalls.Add(1) < 2
		},
		OnEntryDone: func(EntryInfo, int64, string) {
			processed.Add(1)
		},
	}

	op, err := a.ExtractAllAsync(loop, outDir, opts, func(err error) {
		calls++
		gotErr = err
	})
	if err != nil {
		t.Fatalf("ExtractAllAsync: %v", err)
	}

	runLoop(t, loop, op.Done())

	if calls != 1 {
		t.Fatalf("completion calls=%d, want 1", calls)
	}

	if !errors.Is(gotErr, ErrCanceled) || CodeOf(gotErr) != CodeCanceled {
		t.Fatalf("abort error=%v, want canceled", gotErr)
	}

	if progressCalls.Load() != 2 {
		t.Fatalf("progress calls=%d, want 2", progressCalls.Load())
	}

	if n := processed.Load(); n > 2 {
		t.Fatalf("processed=%d entries after abort, want at most 2", n)
	}

	// entries written before the abort are kept
	written, err := filepath.Glob(filepath.Join(outDir, "meshes", "*.nif"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(written) != int(processed.Load()) {
		t.Fatalf("files on disk=%d, processed=%d", len(written), processed.Load())
	}
}

func TestExtractFileAsync(t *testing.T) {
	t.Parallel()

	path, payload := createTestArchive(t, VersionSkyrimSE, true)
	a, err := Load(context.Background(), path, LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	root, _ := a.Root()
	meshes, _ := root.Subfolder(0)
	file, _ := meshes.File(0)

	loop := NewLoop(LoopOptions{})
	defer loop.Close()

	outDir := t.TempDir()
	var (
		calls  int
		gotErr error
	)
	op, err := a.ExtractFileAsync(loop, file, outDir, ExtractOptions{}, func(err error) {
		calls++
		gotErr = err
	})
	if err != nil {
		t.Fatalf("ExtractFileAsync: %v", err)
	}

	runLoop(t, loop, op.Done())

	if calls != 1 || gotErr != nil {
		t.Fatalf("calls=%d err=%v", calls, gotErr)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "meshes", "a.nif"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatal("extracted content mismatch")
	}

	// a foreign handle fails through the completion, not at start
	other, _ := Load(context.Background(), path, LoadOptions{})
	op, err = other.ExtractFileAsync(loop, file, outDir, ExtractOptions{}, func(err error) { gotErr = err })
	if err != nil {
		t.Fatalf("ExtractFileAsync: %v", err)
	}

	runLoop(t, loop, op.Done())

	if !errors.Is(gotErr, ErrInvalidHandle) {
		t.Fatalf("foreign handle error=%v", gotErr)
	}
}

func TestConcurrentExtractions(t *testing.T) {
	t.Parallel()

	path := createMultiFileArchive(t, 8, true)
	a, err := Load(context.Background(), path, LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	loop := NewLoop(LoopOptions{})
	defer loop.Close()

	const runs = 4
	ops := make([]*ExtractOperation, 0, runs)
	dirs := make([]string, 0, runs)
	delivered := 0
	for range runs {
		dir := t.TempDir()
		op, err := a.ExtractAllAsync(loop, dir, ExtractOptions{MaxWorkers: 3}, func(err error) {
			if err != nil {
				t.Errorf("extract: %v", err)
			}
			delivered++
		})
		if err != nil {
			t.Fatalf("ExtractAllAsync: %v", err)
		}

		ops = append(ops, op)
		dirs = append(dirs, dir)
	}

	for _, op := range ops {
		runLoop(t, loop, op.Done())
	}

	if delivered != runs {
		t.Fatalf("delivered=%d, want %d", delivered, runs)
	}

	for _, dir := range dirs {
		written, _ := filepath.Glob(filepath.Join(dir, "meshes", "*.nif"))
		if len(written) != 8 {
			t.Fatalf("%s holds %d files, want 8", dir, len(written))
		}
	}
}

func TestLoopClosedDropsCompletion(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	backend := &stubBackend{parse: func(string) (*Index, error) {
		<-release
		return &Index{Header: Header{Version: VersionSkyrim}}, nil
	}}

	loop := NewLoop(LoopOptions{})
	called := false
	op, err := LoadAsync(loop, "test.bsa", LoadOptions{Backend: backend}, func(*Archive, error) { called = true })
	if err != nil {
		t.Fatalf("LoadAsync: %v", err)
	}

	loop.Close()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := op.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if called || op.Delivered() {
		t.Fatal("completion delivered on a closed loop")
	}

	if op.State() != StateCompleted {
		t.Fatalf("State()=%v, want completed", op.State())
	}
}

func TestLoopReentrancy(t *testing.T) {
	t.Parallel()

	loop := NewLoop(LoopOptions{})
	defer loop.Close()

	backend := &stubBackend{parse: func(string) (*Index, error) {
		return &Index{Header: Header{Version: VersionSkyrim}}, nil
	}}

	var (
		nestedRun  error
		nestedPoll int
	)
	op, err := LoadAsync(loop, "test.bsa", LoadOptions{Backend: backend}, func(*Archive, error) {
		nestedRun = loop.RunUntil(context.Background(), nil)
		nestedPoll = loop.Poll()
	})
	if err != nil {
		t.Fatalf("LoadAsync: %v", err)
	}

	runLoop(t, loop, op.Done())

	if !errors.Is(nestedRun, ErrLoopBusy) {
		t.Fatalf("nested RunUntil=%v, want ErrLoopBusy", nestedRun)
	}

	if nestedPoll != 0 {
		t.Fatalf("nested Poll()=%d, want 0", nestedPoll)
	}
}

func TestLoopPoll(t *testing.T) {
	t.Parallel()

	loop := NewLoop(LoopOptions{})
	defer loop.Close()

	backend := &stubBackend{parse: func(string) (*Index, error) {
		return &Index{Header: Header{Version: VersionSkyrim}}, nil
	}}

	called := false
	op, err := LoadAsync(loop, "test.bsa", LoadOptions{Backend: backend}, func(*Archive, error) { called = true })
	if err != nil {
		t.Fatalf("LoadAsync: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for !called {
		if time.Now().After(deadline) {
			t.Fatal("completion never became ready")
		}

		loop.Poll()
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := op.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateIdle:      "idle",
		StateRunning:   "running",
		StateCompleted: "completed",
		StateFailed:    "failed",
		State(42):      "state(42)",
	}

	for state, want := range tests {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String()=%q, want %q", int32(state), got, want)
		}
	}
}
