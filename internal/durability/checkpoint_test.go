package durability

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rishav/marketsim/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadCheckpoint_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ck := model.Checkpoint{SessionID: "abc", LastEventNs: 500, EventsProcessed: 7}

	require.NoError(t, SaveCheckpoint(dir, ck))
	loaded, err := LoadCheckpoint(dir, "abc")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.EqualValues(t, 500, loaded.LastEventNs)
	assert.EqualValues(t, 7, loaded.EventsProcessed)

	// No .tmp artifact left behind.
	_, statErr := os.Stat(CheckpointPath(dir, "abc") + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadCheckpoint_MissingIsNilNotError(t *testing.T) {
	dir := t.TempDir()
	ck, err := LoadCheckpoint(dir, "nope")
	assert.NoError(t, err)
	assert.Nil(t, ck)
}

func TestLoadCheckpoint_MalformedJSONIsNilNotError(t *testing.T) {
	dir := t.TempDir()
	path := CheckpointPath(dir, "bad")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	ck, err := LoadCheckpoint(dir, "bad")
	assert.NoError(t, err)
	assert.Nil(t, ck)
}

func TestWAL_AppendAndLoadEntriesAfter(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWAL(dir, "s1", 0)
	require.NoError(t, err)

	require.NoError(t, w.Append(model.WalEntry{TsNs: 10, Event: model.WalFill}))
	require.NoError(t, w.Append(model.WalEntry{TsNs: 20, Event: model.WalFill}))
	require.NoError(t, w.Close())

	entries, err := LoadWALEntriesAfter(dir, "s1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 20, entries[0].TsNs)
}

func TestWAL_SkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session_s2.wal.jsonl")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{\"ts_ns\":5,\"event\":\"fill\"}\nnot json\n{\"ts_ns\":15,\"event\":\"fill\"}\n"), 0o644))

	entries, err := LoadWALEntriesAfter(dir, "s2", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestTruncateWALAfterCheckpoint_ArchivesAndRecreates(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWAL(dir, "s3", 0)
	require.NoError(t, err)
	require.NoError(t, w.Append(model.WalEntry{TsNs: 1, Event: model.WalFill}))
	require.NoError(t, w.Close())

	require.NoError(t, TruncateWALAfterCheckpoint(dir, "s3", 999))

	live := walPath(dir, "s3")
	_, err = os.Stat(live)
	assert.True(t, os.IsNotExist(err))

	archived := live + ".999.archived"
	_, err = os.Stat(archived)
	assert.NoError(t, err)
}

func TestCleanupOldCheckpoints_KeepsOnlyLatest(t *testing.T) {
	dir := t.TempDir()
	live := walPath(dir, "s4")
	for _, n := range []int64{1, 2, 3} {
		require.NoError(t, os.WriteFile(live+"."+strconv.FormatInt(n, 10)+".archived", []byte("x"), 0o644))
	}

	require.NoError(t, CleanupOldCheckpoints(dir, "s4", 1))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
