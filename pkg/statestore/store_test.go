package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "propscan/pkg/errors"
	"propscan/pkg/state"
)

var testPhases = []string{"fetch", "score", "report"}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "state.json"), 0, nil)
}

func newTestDocument(keys ...string) *state.Document {
	return state.NewDocument("test-session", state.ModeBatch, keys, testPhases, time.Now())
}

func TestLoadMissingFileReturnsEmptyDocument(t *testing.T) {
	store := newTestStore(t)

	doc, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Nil(t, doc.Session)
	assert.Empty(t, doc.WorkItems)
	assert.Equal(t, state.SchemaVersion, doc.Version)
	assert.Equal(t, 0, doc.Summary.Total)
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	store := newTestStore(t)
	doc := newTestDocument("12 Main St", "99 Elm St")

	require.NoError(t, store.Save(doc))
	assert.True(t, store.Exists())

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded.Session)
	assert.Equal(t, "test-session", loaded.Session.SessionID)
	require.Len(t, loaded.WorkItems, 2)
	assert.Equal(t, "12 Main St", loaded.WorkItems[0].Key)
	assert.Equal(t, 2, loaded.Summary.Total)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestLoadCorruptContent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0644))

	_, err := store.Load()
	var corrupt *errs.CorruptStateError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "not valid JSON")
}

func TestLoadMissingTopLevelKeys(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"session": null}`), 0644))

	_, err := store.Load()
	var corrupt *errs.CorruptStateError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "work_items")
}

func TestLoadRederivesSummary(t *testing.T) {
	store := newTestStore(t)
	doc := newTestDocument("A")
	require.NoError(t, store.Save(doc))

	// Tamper with the persisted summary; load must rebuild it from the
	// work items, not trust the file.
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["summary"] = json.RawMessage(`{"total": 99, "completed": 99}`)
	tampered, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), tampered, 0644))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Summary.Total)
	assert.Equal(t, 0, loaded.Summary.Completed)
}

func TestSaveCreatesBackupOfPriorContent(t *testing.T) {
	store := newTestStore(t)

	first := newTestDocument("A")
	require.NoError(t, store.Save(first))

	backups, err := store.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups, "first save has nothing to back up")

	second := newTestDocument("A", "B")
	require.NoError(t, store.Save(second))

	backups, err = store.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 1)

	// The backup holds the prior document.
	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	var backedUp state.Document
	require.NoError(t, json.Unmarshal(data, &backedUp))
	assert.Len(t, backedUp.WorkItems, 1)
}

func TestBackupRetention(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "state.json"), 3, nil)

	for i := 0; i < 6; i++ {
		require.NoError(t, store.Save(newTestDocument("A")))
		time.Sleep(2 * time.Millisecond) // distinct backup timestamps
	}

	backups, err := store.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 3, "backups beyond retention are pruned")
}

func TestStrayTempFileDoesNotCorruptPrimary(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(newTestDocument("A")))

	// Simulate a crash mid-write: a half-written temp file next to a valid
	// primary. The primary must still load.
	require.NoError(t, os.WriteFile(store.Path()+".tmp", []byte("garbage{"), 0644))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, loaded.WorkItems, 1)

	// A subsequent save replaces the stray temp file and still succeeds.
	require.NoError(t, store.Save(newTestDocument("A", "B")))
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Len(t, loaded.WorkItems, 2)
}

func TestRestoreBackup(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(newTestDocument("A")))
	require.NoError(t, store.Save(newTestDocument("A", "B")))

	backups, err := store.Backups()
	require.NoError(t, err)
	require.NotEmpty(t, backups)

	require.NoError(t, store.RestoreBackup(backups[0]))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, loaded.WorkItems, 1)
}

func TestBackupsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(newTestDocument("A")))
		time.Sleep(2 * time.Millisecond)
	}

	backups, err := store.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Greater(t, backups[0], backups[1], "timestamp suffixes sort newest first")
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(newTestDocument("A")))
	require.True(t, store.Exists())

	require.NoError(t, store.Delete())
	assert.False(t, store.Exists())

	// Deleting a missing file is not an error.
	require.NoError(t, store.Delete())
}
