// Package workspace owns every temporary file the runner writes to disk.
//
// LIFECYCLE:
// One request acquires one Workspace: a freshly created directory under the
// manager's root holding the source file. Anything a pipeline derives from the
// source (a compiled binary, a .class file, a harness report) is named through
// the Workspace so it is registered for removal. Release deletes all of it.
//
//	ws, err := mgr.Acquire(".cpp", code)
//	if err != nil { ... }
//	defer ws.Release()
//
// Or, with guaranteed release even on panic:
//
//	err := mgr.With(".cpp", code, func(ws *workspace.Workspace) error { ... })
//
// UNIQUENESS:
// Directory names carry an xid, which is generated from a timestamp, machine id,
// pid and an atomic counter. Two concurrent Acquire calls can never collide,
// whatever file names the caller asks for inside the directory.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/sakif/code-runner/internal/metrics"
)

// Manager allocates and releases workspaces under a single root directory.
type Manager struct {
	root    string
	dirMode os.FileMode
	logger  *slog.Logger
	active  atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithDirMode sets the permission bits of each workspace directory.
// The docker runner needs 0o777 so the container user can write artifacts.
func WithDirMode(mode os.FileMode) Option {
	return func(m *Manager) { m.dirMode = mode }
}

// NewManager creates the root directory if needed.
func NewManager(root string, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "code-runner")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolving root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: creating root %q: %w", abs, err)
	}

	m := &Manager{
		root:    abs,
		dirMode: 0o700,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Root returns the absolute root directory.
func (m *Manager) Root() string {
	return m.root
}

// Active returns the number of workspaces acquired and not yet released.
func (m *Manager) Active() int64 {
	return m.active.Load()
}

// Acquire creates a workspace whose source file is "main"+ext.
func (m *Manager) Acquire(ext, source string) (*Workspace, error) {
	return m.AcquireAs("main"+ext, source)
}

// AcquireAs creates a workspace whose source file has the given name.
// Java needs this because the file name must match the public class.
func (m *Manager) AcquireAs(filename, source string) (*Workspace, error) {
	if filename == "" || filepath.Base(filename) != filename {
		return nil, fmt.Errorf("workspace: invalid source file name %q", filename)
	}

	id := xid.New().String()
	dir := filepath.Join(m.root, "run-"+id)

	// os.Mkdir (not MkdirAll) fails if the directory already exists,
	// which turns any impossible collision into an error instead of sharing.
	if err := os.Mkdir(dir, m.dirMode); err != nil {
		return nil, fmt.Errorf("workspace: creating %s: %w", dir, err)
	}
	// Mkdir is subject to umask; Chmod makes the mode exact.
	if err := os.Chmod(dir, m.dirMode); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("workspace: chmod %s: %w", dir, err)
	}

	ws := &Workspace{
		ID:         id,
		Dir:        dir,
		SourcePath: filepath.Join(dir, filename),
		mgr:        m,
	}

	if err := os.WriteFile(ws.SourcePath, []byte(source), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("workspace: writing source: %w", err)
	}

	m.active.Add(1)
	metrics.ActiveWorkspaces.Inc()
	m.logger.Debug("workspace acquired", slog.String("id", id), slog.String("source", ws.SourcePath))
	return ws, nil
}

// With acquires a workspace, runs fn, and releases the workspace on every
// exit path, including a panic inside fn.
func (m *Manager) With(ext, source string, fn func(*Workspace) error) error {
	ws, err := m.Acquire(ext, source)
	if err != nil {
		return err
	}
	defer ws.Release()
	return fn(ws)
}

// Workspace is the set of on-disk artifacts owned by one request.
// It is not safe to share a Workspace between requests.
type Workspace struct {
	ID         string
	Dir        string
	SourcePath string

	mgr       *Manager
	mu        sync.Mutex
	artifacts []string
	release   sync.Once
}

// Derived returns the source path with its extension replaced by suffix,
// registering it for removal. Derived("") is the native binary path,
// Derived(".class") the JVM class file.
func (w *Workspace) Derived(suffix string) string {
	base := strings.TrimSuffix(w.SourcePath, filepath.Ext(w.SourcePath))
	return w.track(base + suffix)
}

// Path returns a file path inside the workspace directory, registering it for removal.
func (w *Workspace) Path(name string) string {
	return w.track(filepath.Join(w.Dir, name))
}

// WriteFile writes an auxiliary file (a harness script, a result file) into
// the workspace and registers it for removal.
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("workspace: invalid file name %q", name)
	}
	p := w.Path(name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("workspace: writing %s: %w", name, err)
	}
	return p, nil
}

// ClassName is the source file name without its extension.
func (w *Workspace) ClassName() string {
	name := filepath.Base(w.SourcePath)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func (w *Workspace) track(p string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.artifacts = append(w.artifacts, p)
	return p
}

// Release removes the source file, every derived artifact and the directory.
// It is idempotent. Removal failures are logged and counted, never returned:
// a cleanup problem must not change the caller's response.
func (w *Workspace) Release() {
	w.release.Do(func() {
		w.mu.Lock()
		paths := append([]string{w.SourcePath}, w.artifacts...)
		w.mu.Unlock()

		failed := false
		for _, p := range paths {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				failed = true
				w.mgr.logger.Warn("failed to remove workspace artifact",
					slog.String("id", w.ID),
					slog.String("path", p),
					slog.String("error", err.Error()),
				)
			}
		}

		// Catches anything the toolchain produced that was never registered
		// (inner .class files, core dumps).
		if err := os.RemoveAll(w.Dir); err != nil {
			failed = true
			w.mgr.logger.Warn("failed to remove workspace directory",
				slog.String("id", w.ID),
				slog.String("dir", w.Dir),
				slog.String("error", err.Error()),
			)
		}

		if failed {
			metrics.CleanupFailures.Inc()
		}
		w.mgr.active.Add(-1)
		metrics.ActiveWorkspaces.Dec()
		w.mgr.logger.Debug("workspace released", slog.String("id", w.ID))
	})
}
