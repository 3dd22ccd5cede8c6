package durability

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	eventLogBatchSize     = 1000
	eventLogFlushInterval = 10 * time.Millisecond
)

// EventLog is the compact, human-readable per-session event record. Unlike
// the WAL it is not required for recovery, so records are batched and
// best-effort: Append never blocks the session worker and a write failure
// is logged by the batching goroutine, not propagated to the caller.
type EventLog struct {
	queue        chan any
	shutdownCh   chan struct{}
	shutdownDone chan struct{}

	mu   sync.Mutex
	file *os.File
}

// OpenEventLog opens (creating if absent) the event log file for sessionID
// under dir, appending to any existing content, and starts the batching
// goroutine that flushes queued records every eventLogFlushInterval or once
// eventLogBatchSize records have queued, whichever comes first, with one
// fsync per batch instead of one per record.
func OpenEventLog(dir, sessionID string) (*EventLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("durability: create event log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("session_%s.events.jsonl", sessionID))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("durability: open event log: %w", err)
	}

	l := &EventLog{
		file:         f,
		queue:        make(chan any, eventLogBatchSize*2),
		shutdownCh:   make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
	go l.batchLoop()
	return l, nil
}

// Append queues record for the next batch flush. Non-blocking: a full queue
// drops the record and logs a warning rather than stalling the session
// worker that called it.
func (l *EventLog) Append(record any) error {
	select {
	case l.queue <- record:
		return nil
	default:
		log.Printf("durability: event log queue full, dropping record: %T", record)
		return nil
	}
}

func (l *EventLog) batchLoop() {
	defer close(l.shutdownDone)

	batch := make([]any, 0, eventLogBatchSize)
	ticker := time.NewTicker(eventLogFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case record := <-l.queue:
			batch = append(batch, record)
			if len(batch) >= eventLogBatchSize {
				l.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}

		case <-l.shutdownCh:
			if len(batch) > 0 {
				l.flush(batch)
			}
			for {
				select {
				case record := <-l.queue:
					l.flush([]any{record})
				default:
					return
				}
			}
		}
	}
}

// flush appends every record in batch to the file as one JSON line each,
// then issues a single fsync for the whole batch.
func (l *EventLog) flush(batch []any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, record := range batch {
		data, err := json.Marshal(record)
		if err != nil {
			log.Printf("durability: marshal event log record: %v", err)
			continue
		}
		data = append(data, '\n')
		if _, err := l.file.Write(data); err != nil {
			log.Printf("durability: write event log: %v", err)
		}
	}
	if err := l.file.Sync(); err != nil {
		log.Printf("durability: sync event log: %v", err)
	}
}

// Close stops the batching goroutine, flushing any buffered records first,
// then closes the underlying file handle. Not safe to call concurrently
// with Append; callers join the session worker before closing.
func (l *EventLog) Close() error {
	close(l.shutdownCh)
	<-l.shutdownDone

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
