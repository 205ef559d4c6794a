package database

import (
	"context"

	"github.com/jredh-dev/goodwill/pkg/models"
)

const auditColumns = `id, actor_id, action, entity_type, entity_id, details, created_at`

// AppendAudit appends an entry to the audit log.
func (s *Store) AppendAudit(ctx context.Context, e *models.AuditEntry) error {
	const q = `INSERT INTO audit_log (` + auditColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, q, e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, e.Details, e.CreatedAt)
	return err
}

// ListAudit returns the audit trail of one entity in append order.
func (s *Store) ListAudit(ctx context.Context, entityType, entityID string) ([]models.AuditEntry, error) {
	entries := []models.AuditEntry{}
	err := s.q.SelectContext(ctx, &entries,
		`SELECT `+auditColumns+` FROM audit_log WHERE entity_type = ? AND entity_id = ? ORDER BY seq`,
		entityType, entityID)
	return entries, err
}

// ListAuditByActor returns the most recent entries written by one actor.
func (s *Store) ListAuditByActor(ctx context.Context, actorID string, limit int) ([]models.AuditEntry, error) {
	entries := []models.AuditEntry{}
	err := s.q.SelectContext(ctx, &entries,
		`SELECT `+auditColumns+` FROM audit_log WHERE actor_id = ? ORDER BY seq DESC LIMIT ?`,
		actorID, limit)
	return entries, err
}

// CountAudit returns the total number of audit entries.
func (s *Store) CountAudit(ctx context.Context) (int, error) {
	var n int
	err := s.q.GetContext(ctx, &n, `SELECT COUNT(*) FROM audit_log`)
	return n, err
}
