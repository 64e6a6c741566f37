package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// DefaultActivitySize is how many entries the engine keeps for the dashboard
const DefaultActivitySize = 50

type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"type"`
	Message   string    `json:"message"`
}

// ActivityLog is a bounded, newest-first record of engine events
type ActivityLog struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	now     func() time.Time
}

func NewActivityLog(max int) *ActivityLog {
	if max <= 0 {
		max = DefaultActivitySize
	}
	return &ActivityLog{max: max, now: time.Now}
}

func (l *ActivityLog) Add(level Level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{ID: uuid.New().String(), Timestamp: l.now(), Level: level, Message: message}
	l.entries = append([]Entry{entry}, l.entries...)
	if len(l.entries) > l.max {
		l.entries = l.entries[:l.max]
	}
}

// Entries returns a copy, newest first
func (l *ActivityLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry{}, l.entries...)
}
