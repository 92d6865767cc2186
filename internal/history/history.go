// Package history keeps a bounded NDJSON transcript per conversation.
// The transcript is handed to the NLU provider as classification
// context; it is not session state and the orchestration core never
// branches on it.
package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pablomarino/teleops/internal/fsutil"
)

// Roles recorded in the transcript
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one transcript line
type Entry struct {
	ID   string    `json:"id"`
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// compactThreshold is the file size at which Append rewrites the
// transcript down to compactKeep entries.
const (
	compactThreshold = 256 * 1024
	compactKeep      = 100
	maxLineSize      = 256 * 1024
)

// Log appends and reads per-conversation transcripts, one NDJSON file
// per conversation under dir.
type Log struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per conversation
}

// NewLog creates the history directory if needed and returns a log over it
func NewLog(dir string, logger *slog.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &Log{
		dir:    dir,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (l *Log) convLock(conversationID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[conversationID] = lock
	}
	return lock
}

func (l *Log) path(conversationID string) string {
	return filepath.Join(l.dir, sanitizeID(conversationID)+".ndjson")
}

// Append records one turn at the end of the conversation's transcript
func (l *Log) Append(conversationID, role, text string) error {
	lock := l.convLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	entry := Entry{
		ID:   uuid.New().String(),
		Role: role,
		Text: text,
		At:   time.Now().UTC(),
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript entry: %w", err)
	}
	data = append(data, '\n')

	path := l.path(conversationID)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to append transcript entry: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close transcript: %w", err)
	}

	return l.maybeCompact(path, conversationID)
}

// maybeCompact rewrites an oversized transcript down to its most
// recent entries. Called with the conversation lock held.
func (l *Log) maybeCompact(path, conversationID string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() < compactThreshold {
		return nil
	}

	entries, err := readEntries(path)
	if err != nil {
		return err
	}
	if len(entries) > compactKeep {
		entries = entries[len(entries)-compactKeep:]
	}

	var buf bytes.Buffer
	for _, entry := range entries {
		line, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("failed to marshal transcript entry: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	if err := fsutil.AtomicWrite(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to compact transcript: %w", err)
	}
	l.logger.Info("compacted transcript", "conversation_id", conversationID, "kept", len(entries))
	return nil
}

// Recent returns up to n of the conversation's latest entries, oldest
// first. A missing transcript yields an empty slice.
func (l *Log) Recent(conversationID string, n int) ([]Entry, error) {
	lock := l.convLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := readEntries(l.path(conversationID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

func readEntries(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			// A torn tail line from a crash is not worth failing reads over
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return entries, nil
}

// sanitizeID maps a transport conversation id onto a safe file name
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
