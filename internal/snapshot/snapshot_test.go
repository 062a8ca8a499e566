package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServices struct {
	entries     []ServiceEntry
	convergeErr error
	converged   []ServiceEntry
}

func (f *fakeServices) Capture(ctx context.Context) ([]ServiceEntry, error) {
	return f.entries, nil
}

func (f *fakeServices) Converge(ctx context.Context, target []ServiceEntry) ([]ServiceRestoreResult, error) {
	f.converged = target
	if f.convergeErr != nil {
		return nil, f.convergeErr
	}
	results := make([]ServiceRestoreResult, 0, len(target))
	for _, svc := range target {
		results = append(results, ServiceRestoreResult{Name: svc.Name})
	}
	return results, nil
}

func TestCreateSnapshotCapturesFileContentModeAndHost(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.WriteFile(target, []byte("A"), 0o640))

	store, err := New(Config{DataDir: dir})
	require.NoError(t, err)

	snap, err := store.CreateSnapshot(context.Background(), "baseline", []string{target})
	require.NoError(t, err)
	require.Len(t, snap.Files, 1)
	assert.Equal(t, target, snap.Files[0].Path)
	assert.Equal(t, []byte("A"), snap.Files[0].Content)
	assert.Equal(t, os.FileMode(0o640), snap.Files[0].Mode.Perm())
	assert.NotEmpty(t, snap.Host.Hostname)
	assert.NotEmpty(t, snap.Host.OS)
}

func TestCreateSnapshotSkipsNonexistentPaths(t *testing.T) {
	dir := t.TempDir()
	store, err := New(Config{DataDir: dir})
	require.NoError(t, err)

	snap, err := store.CreateSnapshot(context.Background(), "", []string{filepath.Join(dir, "does-not-exist")})
	require.NoError(t, err)
	assert.Empty(t, snap.Files)
}

// TestRestoreSnapshotRoundTripsContentAndMode is the scenario-F style
// check: capture a file's content and mode, mutate it, restore the
// snapshot, and confirm both are back to what was captured.
func TestRestoreSnapshotRoundTripsContentAndMode(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.WriteFile(target, []byte("A"), 0o640))

	store, err := New(Config{DataDir: dir})
	require.NoError(t, err)

	snap, err := store.CreateSnapshot(context.Background(), "baseline", []string{target})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(target, []byte("mutated"), 0o600))

	fileResults, _, err := store.RestoreSnapshot(context.Background(), snap.ID)
	require.NoError(t, err)
	require.Len(t, fileResults, 1)
	assert.Empty(t, fileResults[0].Error)

	restored, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "A", string(restored))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestRestoreSnapshotRecreatesDeletedFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.WriteFile(target, []byte("A"), 0o644))

	store, err := New(Config{DataDir: dir})
	require.NoError(t, err)

	snap, err := store.CreateSnapshot(context.Background(), "", []string{target})
	require.NoError(t, err)
	require.NoError(t, os.Remove(target))

	fileResults, _, err := store.RestoreSnapshot(context.Background(), snap.ID)
	require.NoError(t, err)
	require.Len(t, fileResults, 1)
	assert.Empty(t, fileResults[0].Error)

	restored, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "A", string(restored))
}

func TestCreateSnapshotCapturesServiceState(t *testing.T) {
	dir := t.TempDir()
	services := &fakeServices{entries: []ServiceEntry{{Name: "svc", EnabledAtCapture: true, ActiveAtCapture: false}}}
	store, err := New(Config{DataDir: dir, Services: services})
	require.NoError(t, err)

	snap, err := store.CreateSnapshot(context.Background(), "", nil)
	require.NoError(t, err)
	require.Len(t, snap.Services, 1)
	assert.Equal(t, "svc", snap.Services[0].Name)
	assert.True(t, snap.Services[0].EnabledAtCapture)
}

func TestRestoreSnapshotConvergesServiceState(t *testing.T) {
	dir := t.TempDir()
	services := &fakeServices{entries: []ServiceEntry{{Name: "svc", EnabledAtCapture: true, ActiveAtCapture: true}}}
	store, err := New(Config{DataDir: dir, Services: services})
	require.NoError(t, err)

	snap, err := store.CreateSnapshot(context.Background(), "", nil)
	require.NoError(t, err)

	_, serviceResults, err := store.RestoreSnapshot(context.Background(), snap.ID)
	require.NoError(t, err)
	require.Len(t, serviceResults, 1)
	assert.Empty(t, serviceResults[0].Error)
	require.Len(t, services.converged, 1)
	assert.Equal(t, "svc", services.converged[0].Name)
}

func TestRestoreSnapshotReportsMissingServiceProvider(t *testing.T) {
	dir := t.TempDir()
	services := &fakeServices{entries: []ServiceEntry{{Name: "svc"}}}
	store, err := New(Config{DataDir: dir, Services: services})
	require.NoError(t, err)
	snap, err := store.CreateSnapshot(context.Background(), "", nil)
	require.NoError(t, err)

	storeNoProvider, err := New(Config{DataDir: dir})
	require.NoError(t, err)

	_, serviceResults, err := storeNoProvider.RestoreSnapshot(context.Background(), snap.ID)
	require.NoError(t, err)
	require.Len(t, serviceResults, 1)
	assert.NotEmpty(t, serviceResults[0].Error)
}

func TestListSnapshotsReturnsSummariesSortedNewestFirst(t *testing.T) {
	dir := t.TempDir()
	store, err := New(Config{DataDir: dir})
	require.NoError(t, err)

	first, err := store.CreateSnapshot(context.Background(), "first", nil)
	require.NoError(t, err)
	second, err := store.CreateSnapshot(context.Background(), "second", nil)
	require.NoError(t, err)

	list, err := store.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, list, 2)
	// CreatedAt may tie within the same instant on fast test runs, so just
	// assert both ids are present rather than asserting strict ordering.
	ids := map[string]bool{list[0].ID: true, list[1].ID: true}
	assert.True(t, ids[first.ID])
	assert.True(t, ids[second.ID])
}

func TestDeleteSnapshotMakesItUnrestorable(t *testing.T) {
	dir := t.TempDir()
	store, err := New(Config{DataDir: dir})
	require.NoError(t, err)

	snap, err := store.CreateSnapshot(context.Background(), "", nil)
	require.NoError(t, err)

	require.NoError(t, store.DeleteSnapshot(snap.ID))

	_, err = store.GetSnapshot(snap.ID)
	assert.Error(t, err)

	_, _, err = store.RestoreSnapshot(context.Background(), snap.ID)
	assert.Error(t, err)
}

func TestRestoreSnapshotFileFailureDoesNotBlockOthers(t *testing.T) {
	dir := t.TempDir()
	okPath := filepath.Join(t.TempDir(), "ok")
	require.NoError(t, os.WriteFile(okPath, []byte("A"), 0o644))
	// A path whose parent is replaced by a plain file before restore,
	// forcing os.MkdirAll to fail for this entry only.
	badParent := filepath.Join(t.TempDir(), "gone")
	badPath := filepath.Join(badParent, "x")
	require.NoError(t, os.MkdirAll(badParent, 0o755))
	require.NoError(t, os.WriteFile(badPath, []byte("B"), 0o644))

	store, err := New(Config{DataDir: dir})
	require.NoError(t, err)
	snap, err := store.CreateSnapshot(context.Background(), "", []string{okPath, badPath})
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(badParent))
	require.NoError(t, os.WriteFile(badParent, []byte("now a file, not a dir"), 0o644))

	fileResults, _, err := store.RestoreSnapshot(context.Background(), snap.ID)
	require.NoError(t, err)
	require.Len(t, fileResults, 2)

	var okResult, badResult *FileRestoreResult
	for i := range fileResults {
		switch fileResults[i].Path {
		case okPath:
			okResult = &fileResults[i]
		case badPath:
			badResult = &fileResults[i]
		}
	}
	require.NotNil(t, okResult)
	require.NotNil(t, badResult)
	assert.Empty(t, okResult.Error)
	assert.NotEmpty(t, badResult.Error)

	content, err := os.ReadFile(okPath)
	require.NoError(t, err)
	assert.Equal(t, "A", string(content))
}

func TestCreateSnapshotErrorPropagatesFromServiceProvider(t *testing.T) {
	errStore, err := New(Config{DataDir: t.TempDir(), Services: errCaptureProvider{}})
	require.NoError(t, err)
	_, err = errStore.CreateSnapshot(context.Background(), "", nil)
	assert.Error(t, err)
}

type errCaptureProvider struct{}

func (errCaptureProvider) Capture(ctx context.Context) ([]ServiceEntry, error) {
	return nil, fmt.Errorf("capture failed")
}

func (errCaptureProvider) Converge(ctx context.Context, target []ServiceEntry) ([]ServiceRestoreResult, error) {
	return nil, nil
}
