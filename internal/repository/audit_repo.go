package repository

import (
	"context"
	"database/sql"

	"github.com/marketkit/membergate/internal/domain"
)

// AuditLogRepository handles audit log persistence.
type AuditLogRepository struct {
	db *sql.DB
}

// NewAuditLogRepository creates a new audit log repository.
func NewAuditLogRepository(db *sql.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Record appends an audit entry. When called inside a transaction carried on
// the context, the entry commits or rolls back with the owning transition.
func (r *AuditLogRepository) Record(ctx context.Context, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_log (id, actor, action, membership_id, identity_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := querier(ctx, r.db).ExecContext(ctx, query,
		entry.ID, entry.Actor, entry.Action, entry.MembershipID, entry.IdentityID, entry.Reason, entry.CreatedAt,
	)
	return err
}
