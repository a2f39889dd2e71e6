package repository

import (
	"github.com/ayo6706/deal-escrow/internal/models"
)

// Changeset is everything one event wrote. Stores apply it atomically.
// Payments with Version 0 are inserted; every other entity is updated only
// if its stored version still equals the version it was loaded with.
type Changeset struct {
	Deal     *models.Deal
	Payments []*models.Payment
}

// applied bumps versions and marks audit entries committed after a successful write.
func (cs Changeset) applied() {
	if cs.Deal != nil {
		cs.Deal.Version++
		cs.Deal.AuditTrail.MarkCommitted()
	}
	for _, p := range cs.Payments {
		p.Version++
		p.AuditTrail.MarkCommitted()
	}
}
