package repository

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/laraujo4/chatbot-empresa/internal/debounce"
)

const dateLayout = "2006-01-02"

// GreetingLedger is the durable per-chat daily greeting record. It keeps
// at most one entry per chat, mapping the chat id to the last business
// date a full greeting was sent. Writes are debounced and rewrite the
// whole file.
type GreetingLedger struct {
	path string
	loc  *time.Location
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]string

	saver *debounce.Scheduler
}

// NewGreetingLedger loads the ledger from path. A missing or corrupt
// file yields an empty ledger and a warning, never an error.
func NewGreetingLedger(path string, loc *time.Location, saveDebounce time.Duration) (*GreetingLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	l := &GreetingLedger{
		path:    path,
		loc:     loc,
		now:     time.Now,
		entries: make(map[string]string),
	}
	l.saver = debounce.NewScheduler(saveDebounce, l.save)
	l.load()
	return l, nil
}

func (l *GreetingLedger) load() {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[warn] read greetings file: %v, starting empty", err)
		}
		return
	}
	entries := make(map[string]string)
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Printf("[warn] corrupt greetings file %s: %v, starting empty", l.path, err)
		return
	}
	l.entries = entries
	log.Printf("[info] greetings loaded: %d records", len(entries))
}

// Today returns the current date in the business timezone.
func (l *GreetingLedger) Today() string {
	return l.now().In(l.loc).Format(dateLayout)
}

// HasGreetedToday reports whether the chat already received the full
// greeting today. Unknown chats have not been greeted.
func (l *GreetingLedger) HasGreetedToday(chatID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[chatID] == l.Today()
}

// MarkGreetedNow records today's greeting for the chat and schedules a
// debounced save. Calling it twice in a day is a no-op beyond the first.
func (l *GreetingLedger) MarkGreetedNow(chatID string) {
	today := l.Today()
	l.mu.Lock()
	if l.entries[chatID] == today {
		l.mu.Unlock()
		return
	}
	l.entries[chatID] = today
	l.mu.Unlock()
	l.saver.Trigger()
}

// Len returns the number of recorded chats.
func (l *GreetingLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Flush forces any pending write to disk. Intended for shutdown.
func (l *GreetingLedger) Flush() {
	l.saver.Flush()
}

// Close stops the pending-write timer after a final flush.
func (l *GreetingLedger) Close() {
	l.saver.Flush()
	l.saver.Stop()
}

// save rewrites the whole ledger file atomically: marshal, write to a
// temp file in the same directory, rename over the target. A failed
// save keeps the in-memory state and is retried on the next trigger.
func (l *GreetingLedger) save() {
	l.mu.Lock()
	data, err := json.MarshalIndent(l.entries, "", "  ")
	l.mu.Unlock()
	if err != nil {
		log.Printf("failed to encode greetings: %v", err)
		return
	}
	data = append(data, '\n')

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp.*")
	if err != nil {
		log.Printf("failed to save greetings: %v", err)
		return
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		log.Printf("failed to save greetings: %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		log.Printf("failed to save greetings: %v", err)
		return
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		log.Printf("failed to save greetings: %v", err)
	}
}
