// Package workspace implements C13: scoped acquisition of a per-pipeline
// scratch directory with guaranteed release on every exit path. A
// defer-everything discipline guarantees a workspace is removed whether its
// owning task succeeds, errors, is cancelled, or panics; the Manager's
// active-directory map tracks each in-flight directory's cleanup handle.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Workspace is a caller's handle on a scoped scratch directory. Release must
// be called exactly once, typically via defer immediately after Acquire
// succeeds, so the directory is removed on every exit path.
type Workspace struct {
	Dir        string
	pipelineID string
	mgr        *Manager
}

// Release removes the workspace directory and untracks it. Safe to call
// more than once; only the first call does any work.
func (w *Workspace) Release() error {
	return w.mgr.release(w.pipelineID)
}

// Manager is C13.
type Manager struct {
	rootDir string
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]string // pipelineID -> directory path
}

// New constructs a Manager rooted at rootDir, creating it if absent.
func New(rootDir string) (*Manager, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root %s: %w", rootDir, err)
	}
	return &Manager{
		rootDir: rootDir,
		active:  make(map[string]string),
		logger:  slog.Default().With("component", "workspace-manager"),
	}, nil
}

// Acquire creates a fresh scratch directory scoped to pipelineID. Callers
// must defer Release immediately on success.
func (m *Manager) Acquire(pipelineID string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dir, exists := m.active[pipelineID]; exists {
		return nil, fmt.Errorf("workspace already acquired for pipeline %s at %s", pipelineID, dir)
	}

	dir, err := os.MkdirTemp(m.rootDir, Sanitize(pipelineID)+"-")
	if err != nil {
		return nil, fmt.Errorf("creating workspace directory: %w", err)
	}
	m.active[pipelineID] = dir
	return &Workspace{Dir: dir, pipelineID: pipelineID, mgr: m}, nil
}

func (m *Manager) release(pipelineID string) error {
	m.mu.Lock()
	dir, exists := m.active[pipelineID]
	if exists {
		delete(m.active, pipelineID)
	}
	m.mu.Unlock()

	if !exists {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Error("failed to remove workspace directory", "pipeline_id", pipelineID, "dir", dir, "error", err)
		return fmt.Errorf("removing workspace %s: %w", dir, err)
	}
	return nil
}

// ActiveCount reports how many workspaces are currently checked out.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// GC removes on-disk workspace directories left over from a crashed
// process: every directory under rootDir whose embedded pipeline ID is not
// reported live by isLive is deleted. Called once at boot, after Recover
// has rehydrated Pipeline Records, so isLive can consult the Orchestrator's
// notion of "terminal or absent". isLive receives the Sanitize'd form of
// each pipeline ID recovered from a directory name, so callers must compare
// against Sanitize(id) rather than the raw Pipeline Record ID.
func (m *Manager) GC(isLive func(pipelineID string) bool) error {
	entries, err := os.ReadDir(m.rootDir)
	if err != nil {
		return fmt.Errorf("reading workspace root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pipelineID := pipelineIDFromDirName(entry.Name())
		if pipelineID != "" && isLive(pipelineID) {
			continue
		}
		path := filepath.Join(m.rootDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.Error("failed to garbage collect orphaned workspace", "dir", path, "error", err)
			continue
		}
		m.logger.Info("garbage collected orphaned workspace", "dir", path)
	}
	return nil
}

// Sanitize replaces path-hostile characters in a pipeline ID (which
// typically embeds a forge issue reference like "org/repo#12") so it can be
// used as a directory name prefix. Callers comparing a live pipeline ID
// against a GC callback's argument must apply the same transform.
func Sanitize(pipelineID string) string {
	r := strings.NewReplacer("/", "_", "#", "-", "@", "_", ":", "_")
	return r.Replace(pipelineID)
}

// pipelineIDFromDirName recovers the sanitized pipeline ID prefix MkdirTemp
// produced, stripping the random suffix it appends after the trailing "-".
func pipelineIDFromDirName(name string) string {
	idx := strings.LastIndex(name, "-")
	if idx <= 0 {
		return ""
	}
	return name[:idx]
}
