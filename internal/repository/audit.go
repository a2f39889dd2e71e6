package repository

import "github.com/ayo6706/deal-escrow/internal/models"

// AuditRecord is one row of the append-only audit_log mirror.
type AuditRecord struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	models.AuditEntry
}
