package zone

import (
	"sync"
	"time"
)

// maxLogEntries bounds the in-memory update log.
const maxLogEntries = 1000

// Op labels a zone state transition in the update log.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpApply  Op = "apply" // snapshot received from a peer
	OpSync   Op = "sync"  // learned during startup sync
	OpAdopt  Op = "adopt" // majority state adopted by reconciliation
)

// UpdateRecord is one entry in the zone update log.
type UpdateRecord struct {
	Op        Op        `json:"op"`
	ZoneID    string    `json:"zoneId"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// updateLog is a fixed-size ring of the most recent zone operations. Kept
// for diagnostics only; no durability beyond process lifetime.
type updateLog struct {
	mu      sync.Mutex
	entries []UpdateRecord
	next    int
	full    bool
}

func newUpdateLog(size int) *updateLog {
	return &updateLog{entries: make([]UpdateRecord, size)}
}

func (l *updateLog) add(rec UpdateRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = rec
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// snapshot returns the retained records oldest first.
func (l *updateLog) snapshot() []UpdateRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		out := make([]UpdateRecord, l.next)
		copy(out, l.entries[:l.next])
		return out
	}
	out := make([]UpdateRecord, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}

// UpdateLog returns the retained zone operations, oldest first.
func (m *Manager) UpdateLog() []UpdateRecord {
	return m.oplog.snapshot()
}
