package mailbox

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// RepliedLog tracks which message ids have already received an
// automated reply, persisted as a JSON array so duplicate replies are
// suppressed across process restarts.
type RepliedLog struct {
	path string

	mu  sync.Mutex
	ids map[string]bool
}

// NewRepliedLog loads (or initializes) the replied-id log at path.
// A missing file yields an empty log; a corrupt file is treated as
// empty rather than blocking startup.
func NewRepliedLog(path string) (*RepliedLog, error) {
	l := &RepliedLog{
		path: path,
		ids:  make(map[string]bool),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("reading replied log %s: %w", path, err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return l, nil
	}
	for _, id := range ids {
		l.ids[id] = true
	}

	return l, nil
}

// Contains reports whether id has already been replied to.
func (l *RepliedLog) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ids[id]
}

// Add records id as replied and persists the log.
func (l *RepliedLog) Add(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ids[id] {
		return nil
	}
	l.ids[id] = true

	ids := make([]string, 0, len(l.ids))
	for k := range l.ids {
		ids = append(ids, k)
	}

	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding replied log: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("writing replied log %s: %w", l.path, err)
	}

	return nil
}

// Remove drops id from the log, used when the original message
// disappears from the mailbox.
func (l *RepliedLog) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.ids, id)
}
