package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies the kind of state transition recorded in the audit log.
type AuditAction string

const (
	AuditActionPromote   AuditAction = "promote"
	AuditActionTerminate AuditAction = "terminate"
	AuditActionPastDue   AuditAction = "past_due"
	AuditActionRecover   AuditAction = "recover"
	AuditActionClaim     AuditAction = "claim"
	AuditActionLink      AuditAction = "link"
	AuditActionCreate    AuditAction = "create"
	AuditActionRevoke    AuditAction = "revoke"
)

// ActorSystem is the audit actor for transitions driven by webhook events.
const ActorSystem = "system"

// AuditEntry records a non-routine membership transition for forensic traceability.
type AuditEntry struct {
	ID           uuid.UUID
	Actor        string
	Action       AuditAction
	MembershipID *uuid.UUID
	IdentityID   *string
	Reason       string
	CreatedAt    time.Time
}
