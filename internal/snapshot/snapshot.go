// Package snapshot implements the Snapshot Store of spec.md §4.6: a
// point-in-time capture of a configured set of files plus managed
// service state that can later be restored, grounded on the teacher's
// internal/ai/baseline store (atomic temp-file-then-rename disk
// persistence, sorted newest-first listing) and generalized from a
// single AI-conversation baseline to spec.md §3's Snapshot record:
// description, creation timestamp, host metadata, an ordered set of
// file entries, and an ordered set of service entries.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hearthd/hearthd/internal/audit"
	"github.com/hearthd/hearthd/internal/metrics"
)

// FileEntry is one captured file's content and metadata, recorded
// exactly as spec.md §3 names them: absolute path, byte content, mode
// bits, size, and modification time.
type FileEntry struct {
	Path    string      `json:"path"`
	Content []byte      `json:"content"`
	Mode    os.FileMode `json:"mode"`
	Size    int64       `json:"size"`
	ModTime time.Time   `json:"mod_time"`
}

// ServiceEntry is one managed service's enabled/active state at
// capture time (spec.md §3).
type ServiceEntry struct {
	Name             string `json:"name"`
	EnabledAtCapture bool   `json:"enabled_at_capture"`
	ActiveAtCapture  bool   `json:"active_at_capture"`
}

// HostMetadata identifies the machine a Snapshot was captured on
// (spec.md §3's "host metadata").
type HostMetadata struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
}

func captureHostMetadata() HostMetadata {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return HostMetadata{Hostname: hostname, OS: runtime.GOOS, Arch: runtime.GOARCH}
}

// ServiceStateProvider is implemented by whatever the daemon treats as
// a managed service. Capture reports every configured service's
// current enabled/active state; Converge drives live state toward a
// previously captured target, best-effort per entry — one service
// failing to converge is recorded in its own result rather than
// aborting the rest (spec.md §4.6).
type ServiceStateProvider interface {
	Capture(ctx context.Context) ([]ServiceEntry, error)
	Converge(ctx context.Context, target []ServiceEntry) ([]ServiceRestoreResult, error)
}

// FileRestoreResult reports one file entry's restore outcome.
type FileRestoreResult struct {
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

// ServiceRestoreResult reports one service entry's restore outcome.
type ServiceRestoreResult struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// Snapshot is a point-in-time capture across a configured set of
// files and managed services (spec.md §3's Snapshot record).
type Snapshot struct {
	ID          string         `json:"id"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Host        HostMetadata   `json:"host"`
	Files       []FileEntry    `json:"files"`
	Services    []ServiceEntry `json:"services"`
}

// SnapshotSummary is the lightweight metadata ListSnapshots returns:
// every record's summary header (id, description, timestamp, host,
// counts) without decoding file content into memory (spec.md §4.6).
type SnapshotSummary struct {
	ID           string       `json:"id"`
	Description  string       `json:"description,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Host         HostMetadata `json:"host"`
	FileCount    int          `json:"file_count"`
	ServiceCount int          `json:"service_count"`
}

// snapshotSummaryDoc mirrors Snapshot's on-disk shape but leaves Files
// as raw messages so ListSnapshots can count entries without
// unmarshaling their (base64-encoded) byte content.
type snapshotSummaryDoc struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	Host        HostMetadata      `json:"host"`
	Files       []json.RawMessage `json:"files"`
	Services    []json.RawMessage `json:"services"`
}

// Store persists Snapshots to disk as JSON files, one per snapshot,
// under DataDir, using atomic temp-file+rename writes (spec.md §4.6;
// same pattern as the teacher's baseline.Store.saveToDisk).
type Store struct {
	dataDir  string
	services ServiceStateProvider // nil when no service provider is configured
	logger   audit.Logger
}

// Config configures a Store. Services may be nil, in which case
// snapshots capture files only.
type Config struct {
	DataDir  string
	Services ServiceStateProvider
	Logger   audit.Logger
}

// New returns a Store rooted at cfg.DataDir, creating it if needed.
func New(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("snapshot: data dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create data dir: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = audit.GetLogger()
	}
	return &Store{dataDir: cfg.DataDir, services: cfg.Services, logger: logger}, nil
}

// CreateSnapshot reads every path in filePaths (resolving it to an
// absolute path first) and records its content, mode, size, and
// mtime, then captures the configured ServiceStateProvider's state,
// and persists the result atomically (spec.md §4.6). A path that
// doesn't exist is skipped rather than failing the whole snapshot —
// callers routinely pass a fixed configured list that outlives any
// one file's existence.
func (s *Store) CreateSnapshot(ctx context.Context, description string, filePaths []string) (*Snapshot, error) {
	snap := &Snapshot{
		ID:          uuid.New().String(),
		Description: description,
		CreatedAt:   time.Now(),
		Host:        captureHostMetadata(),
	}

	for _, p := range filePaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			log.Warn().Err(err).Str("path", p).Msg("snapshot: skipping path that could not be resolved")
			continue
		}
		entry, ok, err := captureFile(abs)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		snap.Files = append(snap.Files, entry)
	}

	if s.services != nil {
		entries, err := s.services.Capture(ctx)
		if err != nil {
			return nil, fmt.Errorf("snapshot: capture service state: %w", err)
		}
		snap.Services = entries
	}

	if err := s.writeAtomic(snap); err != nil {
		return nil, err
	}

	metrics.SnapshotsTotal.Inc()
	return snap, nil
}

// captureFile stats and reads path, returning ok=false (and no error)
// when the path doesn't exist or names a directory — both are skipped
// rather than failing the snapshot.
func captureFile(path string) (entry FileEntry, ok bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("snapshot: skipping nonexistent path")
			return FileEntry{}, false, nil
		}
		return FileEntry{}, false, fmt.Errorf("snapshot: stat %s: %w", path, err)
	}
	if info.IsDir() {
		log.Warn().Str("path", path).Msg("snapshot: skipping directory")
		return FileEntry{}, false, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return FileEntry{}, false, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	return FileEntry{Path: path, Content: content, Mode: info.Mode(), Size: info.Size(), ModTime: info.ModTime()}, true, nil
}

func (s *Store) writeAtomic(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	final := s.path(snap.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: rename into place: %w", err)
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dataDir, id+".json")
}

// ListSnapshots returns every persisted snapshot's summary header,
// newest first, without decoding file content into memory.
func (s *Store) ListSnapshots() ([]SnapshotSummary, error) {
	files, err := filepath.Glob(filepath.Join(s.dataDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}

	var summaries []SnapshotSummary
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Warn().Err(err).Str("file", f).Msg("skipping unreadable snapshot file")
			continue
		}
		var doc snapshotSummaryDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			log.Warn().Err(err).Str("file", f).Msg("skipping malformed snapshot file")
			continue
		}
		summaries = append(summaries, SnapshotSummary{
			ID:           doc.ID,
			Description:  doc.Description,
			CreatedAt:    doc.CreatedAt,
			Host:         doc.Host,
			FileCount:    len(doc.Files),
			ServiceCount: len(doc.Services),
		})
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].CreatedAt.After(summaries[j].CreatedAt) })
	return summaries, nil
}

// GetSnapshot loads one full snapshot record by id, including file
// content.
func (s *Store) GetSnapshot(id string) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", id, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal %s: %w", id, err)
	}
	return &snap, nil
}

// RestoreSnapshot applies every file entry in the named snapshot to
// its recorded path (content and mode bits), then converges the
// configured ServiceStateProvider to the recorded service entries.
// Both are best-effort: one file or service failing does not stop the
// others from being attempted, and there is no cross-file atomicity
// across the whole restore (spec.md §4.6, §9).
func (s *Store) RestoreSnapshot(ctx context.Context, id string) ([]FileRestoreResult, []ServiceRestoreResult, error) {
	snap, err := s.GetSnapshot(id)
	if err != nil {
		return nil, nil, err
	}

	fileResults := make([]FileRestoreResult, 0, len(snap.Files))
	for _, f := range snap.Files {
		if err := restoreFile(f); err != nil {
			fileResults = append(fileResults, FileRestoreResult{Path: f.Path, Error: err.Error()})
			metrics.SnapshotRestoresTotal.WithLabelValues("failure").Inc()
			continue
		}
		fileResults = append(fileResults, FileRestoreResult{Path: f.Path})
		metrics.SnapshotRestoresTotal.WithLabelValues("success").Inc()
	}

	var serviceResults []ServiceRestoreResult
	if len(snap.Services) > 0 {
		if s.services == nil {
			for _, svc := range snap.Services {
				serviceResults = append(serviceResults, ServiceRestoreResult{Name: svc.Name, Error: "no service-state provider registered"})
				metrics.SnapshotRestoresTotal.WithLabelValues("missing_provider").Inc()
			}
		} else {
			results, err := s.services.Converge(ctx, snap.Services)
			if err != nil {
				return fileResults, nil, fmt.Errorf("snapshot: converge service state: %w", err)
			}
			serviceResults = results
			for _, r := range results {
				outcome := "success"
				if r.Error != "" {
					outcome = "failure"
				}
				metrics.SnapshotRestoresTotal.WithLabelValues(outcome).Inc()
			}
		}
	}

	return fileResults, serviceResults, nil
}

// restoreFile writes f's recorded content to f.Path, creating parent
// directories as needed, and explicitly chmods afterward: os.WriteFile
// only applies its mode argument when creating a new file, and even
// then the process umask can still narrow it, so the recorded mode
// bits are reapplied unconditionally.
func restoreFile(f FileEntry) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(f.Path, f.Content, f.Mode); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := os.Chmod(f.Path, f.Mode); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	return nil
}

// DeleteSnapshot removes a persisted snapshot and emits a
// snapshot_deleted audit event.
func (s *Store) DeleteSnapshot(id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		return fmt.Errorf("snapshot: delete %s: %w", id, err)
	}
	if s.logger != nil {
		_ = s.logger.Log(audit.Event{
			ID:            uuid.New().String(),
			OperationID:   id,
			OperationType: "snapshot_delete",
			EventType:     audit.EventSnapshotDeleted,
			Timestamp:     time.Now(),
		})
	}
	return nil
}
