package bridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RecordingEntry is a single timestamped I/O event in a session
// recording. The format is inspired by asciinema v2.
type RecordingEntry struct {
	// Elapsed is the time since session start in seconds.
	Elapsed float64 `json:"elapsed"`
	// Type is "o" for output, "i" for input.
	Type string `json:"type"`
	// Data is the terminal data.
	Data string `json:"data"`
}

// Recording captures timestamped session I/O for audit. It is safe for
// concurrent use: the output pump and the command flow both write to it.
type Recording struct {
	mu        sync.Mutex
	entries   []RecordingEntry
	startTime time.Time
}

func NewRecording() *Recording {
	return &Recording{startTime: time.Now()}
}

// RecordOutput adds a shell-output event.
func (r *Recording) RecordOutput(data []byte) {
	r.record("o", data)
}

// RecordInput adds a client-input event.
func (r *Recording) RecordInput(data []byte) {
	r.record("i", data)
}

func (r *Recording) record(typ string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, RecordingEntry{
		Elapsed: time.Since(r.startTime).Seconds(),
		Type:    typ,
		Data:    string(data),
	})
}

// Entries returns a copy of all recorded entries.
func (r *Recording) Entries() []RecordingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordingEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// EntryCount returns the number of recorded entries.
func (r *Recording) EntryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Export writes the recording as <sessionID>.json into dir, creating the
// directory if needed. Recordings with no entries are skipped.
func (r *Recording) Export(dir, sessionID string) error {
	r.mu.Lock()
	entries := r.entries
	r.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal recording: %w", err)
	}
	path := filepath.Join(dir, sessionID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	return nil
}
