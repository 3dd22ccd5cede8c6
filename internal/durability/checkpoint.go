// Package durability implements crash-safe session persistence: the
// append-only write-ahead log and the atomically-replaced checkpoint file.
package durability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/rishav/marketsim/internal/model"
)

// CheckpointPath returns the live checkpoint path for a session under dir.
func CheckpointPath(dir, sessionID string) string {
	return filepath.Join(dir, fmt.Sprintf("session_%s.ckpt.json", sessionID))
}

// SaveCheckpoint writes ck to a temp file under dir and atomically renames
// it over the live checkpoint path.
func SaveCheckpoint(dir string, ck model.Checkpoint) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("durability: create checkpoint dir: %w", err)
	}

	data, err := json.Marshal(ck)
	if err != nil {
		return fmt.Errorf("durability: marshal checkpoint: %w", err)
	}

	path := CheckpointPath(dir, ck.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("durability: write checkpoint: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadCheckpoint reads the checkpoint for sessionID under dir. A missing
// file or malformed JSON both yield (nil, nil): a corrupt checkpoint is
// treated as "no checkpoint" by the caller, not an error.
func LoadCheckpoint(dir, sessionID string) (*model.Checkpoint, error) {
	path := CheckpointPath(dir, sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("durability: read checkpoint: %w", err)
	}

	var ck model.Checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return nil, nil
	}
	return &ck, nil
}

// walPath returns the live WAL path for a session under dir.
func walPath(dir, sessionID string) string {
	return filepath.Join(dir, fmt.Sprintf("session_%s.wal.jsonl", sessionID))
}

// TruncateWALAfterCheckpoint gzip-compresses the live WAL into an archived
// path stamped with ckptNs, then removes the live file; the next Append
// recreates it. A missing live WAL is not an error.
func TruncateWALAfterCheckpoint(dir, sessionID string, ckptNs int64) error {
	live := walPath(dir, sessionID)
	archived := fmt.Sprintf("%s.%d.archived", live, ckptNs)

	src, err := os.Open(live)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("durability: open wal for archival: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(archived)
	if err != nil {
		return fmt.Errorf("durability: create wal archive: %w", err)
	}
	defer dst.Close()

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		return fmt.Errorf("durability: compress wal archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("durability: flush wal archive: %w", err)
	}

	src.Close()
	return os.Remove(live)
}

// CleanupOldCheckpoints deletes all but the most recent keep archived WAL
// files for sessionID under dir.
func CleanupOldCheckpoints(dir, sessionID string, keep int) error {
	live := walPath(dir, sessionID)
	prefix := filepath.Base(live) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("durability: list dir: %w", err)
	}

	var archives []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".archived") {
			archives = append(archives, name)
		}
	}
	sort.Strings(archives)

	if len(archives) <= keep {
		return nil
	}
	toDelete := archives[:len(archives)-keep]
	for _, name := range toDelete {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("durability: remove archive %q: %w", name, err)
		}
	}
	return nil
}

// LoadWALEntriesAfter reads the live WAL for sessionID, skipping any line
// that fails to parse as JSON, and returns every entry with ts_ns > afterNs
// in file order.
func LoadWALEntriesAfter(dir, sessionID string, afterNs int64) ([]model.WalEntry, error) {
	path := walPath(dir, sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("durability: read wal: %w", err)
	}

	var out []model.WalEntry
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry model.WalEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // corrupt line: skip, keep replaying
		}
		if entry.TsNs > afterNs {
			out = append(out, entry)
		}
	}
	return out, nil
}

// WAL is the append-only per-session write-ahead log. Every Append call is
// serialized behind mu and flushed immediately so a crash never loses a
// fully-returned Append.
type WAL struct {
	mu        sync.Mutex
	dir       string
	sessionID string
	file      *os.File
	size      int64
	maxBytes  int64
	rotations int
}

// DefaultMaxBytes is the rotation threshold used when none is configured.
const DefaultMaxBytes = 50 * 1024 * 1024

// OpenWAL opens (creating if absent) the live WAL file for sessionID under
// dir, appending to any existing content.
func OpenWAL(dir, sessionID string, maxBytes int64) (*WAL, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("durability: create wal dir: %w", err)
	}

	w := &WAL{dir: dir, sessionID: sessionID, maxBytes: maxBytes}
	if err := w.openLive(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WAL) openLive() error {
	path := walPath(w.dir, w.sessionID)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("durability: open wal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("durability: stat wal: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Append serializes entry as one JSON line, writes it, and flushes. If the
// live file has been removed (TruncateWALAfterCheckpoint does this), it is
// recreated first. If the file has grown past maxBytes, it is rotated
// first: the current handle is closed, the rotation counter bumped, the
// live file renamed to "<live>.<n>", and a fresh live file opened.
func (w *WAL) Append(entry model.WalEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("durability: marshal wal entry: %w", err)
	}
	data = append(data, '\n')

	if _, err := os.Stat(walPath(w.dir, w.sessionID)); os.IsNotExist(err) {
		w.file.Close()
		if err := w.openLive(); err != nil {
			return err
		}
	}

	if w.size >= w.maxBytes {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := w.file.Write(data)
	if err != nil {
		return fmt.Errorf("durability: write wal: %w", err)
	}
	w.size += int64(n)
	return w.file.Sync()
}

func (w *WAL) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("durability: close wal for rotation: %w", err)
	}
	w.rotations++
	live := walPath(w.dir, w.sessionID)
	rotated := fmt.Sprintf("%s.%d", live, w.rotations)
	if err := os.Rename(live, rotated); err != nil {
		return fmt.Errorf("durability: rotate wal: %w", err)
	}
	return w.openLive()
}

// Close closes the underlying file handle.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
