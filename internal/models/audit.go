package models

import (
	"encoding/json"
	"time"

	"github.com/ayo6706/deal-escrow/internal/domain"
)

// AuditEntry is one immutable record of a state-changing action.
type AuditEntry struct {
	Action      string    `json:"action"`
	PerformedBy string    `json:"performed_by"`
	Timestamp   time.Time `json:"timestamp"`
	Details     string    `json:"details,omitempty"`
	OldStatus   string    `json:"old_status,omitempty"`
	NewStatus   string    `json:"new_status,omitempty"`
}

// AuditTrail is an append-only log. Entries appended since the entity was
// loaded are reported by Pending so a store can mirror them exactly once.
type AuditTrail struct {
	entries   []AuditEntry
	committed int
}

func (a *AuditTrail) Append(entry AuditEntry) {
	a.entries = append(a.entries, entry)
}

func (a *AuditTrail) Len() int {
	return len(a.entries)
}

// Entries returns a copy of the trail in append order.
func (a *AuditTrail) Entries() []AuditEntry {
	out := make([]AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Last returns the most recent entry.
func (a *AuditTrail) Last() (AuditEntry, bool) {
	if len(a.entries) == 0 {
		return AuditEntry{}, false
	}
	return a.entries[len(a.entries)-1], true
}

// Pending returns entries appended after the last MarkCommitted.
func (a *AuditTrail) Pending() []AuditEntry {
	out := make([]AuditEntry, len(a.entries)-a.committed)
	copy(out, a.entries[a.committed:])
	return out
}

func (a *AuditTrail) MarkCommitted() {
	a.committed = len(a.entries)
}

func (a *AuditTrail) clone() AuditTrail {
	return AuditTrail{entries: append([]AuditEntry(nil), a.entries...), committed: a.committed}
}

func (a AuditTrail) MarshalJSON() ([]byte, error) {
	if a.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.entries)
}

func (a *AuditTrail) UnmarshalJSON(data []byte) error {
	var entries []AuditEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	a.entries = entries
	a.committed = len(entries)
	return nil
}

func dealAuditEntry(action, actor string, at time.Time, details string, from, to domain.DealStatus) AuditEntry {
	return AuditEntry{
		Action:      action,
		PerformedBy: actor,
		Timestamp:   at,
		Details:     details,
		OldStatus:   string(from),
		NewStatus:   string(to),
	}
}
