package domain

import (
	"time"

	"github.com/google/uuid"
)

// MembershipStatus represents the admission state of a purchase.
type MembershipStatus string

const (
	// MembershipStatusPending is the initial state of a membership created
	// before its admission decision (admin-created records awaiting payment).
	MembershipStatusPending MembershipStatus = "pending"
	// MembershipStatusActive holds a capacity slot.
	MembershipStatusActive MembershipStatus = "active"
	// MembershipStatusWaitlisted is waiting for a capacity slot, FIFO by purchase time.
	MembershipStatusWaitlisted MembershipStatus = "waitlisted"
	// MembershipStatusPastDue lost its slot to a late payment and re-competes
	// for capacity on recovery.
	MembershipStatusPastDue MembershipStatus = "past_due"
	// MembershipStatusCanceled is terminal (cancellation, chargeback, account deletion).
	MembershipStatusCanceled MembershipStatus = "canceled"
	// MembershipStatusRefunded is terminal.
	MembershipStatusRefunded MembershipStatus = "refunded"
)

// Membership is one row per purchase, keyed by the payment provider's order id.
// The row is never deleted: terminal transitions unbind the identity and keep
// the record for audit and future re-claims.
type Membership struct {
	ID      uuid.UUID
	OrderID string
	// UserID is the identity-provider user id once the membership is claimed.
	// At most one membership per non-null user id.
	UserID *string
	Email  string
	Status MembershipStatus
	// PurchasedAt is the FIFO ordering key for waitlist promotion.
	PurchasedAt   time.Time
	ActivatedAt   *time.Time
	DeactivatedAt *time.Time
	// ClaimCodeHash is the hash of an optional human-enterable claim code.
	ClaimCodeHash *string
	ClaimedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HoldsSlot returns true if the membership counts toward the capacity cap.
func (m *Membership) HoldsSlot() bool {
	return m.Status == MembershipStatusActive
}

// IsTerminal returns true if the membership reached a terminal status.
func (m *Membership) IsTerminal() bool {
	return m.Status == MembershipStatusCanceled || m.Status == MembershipStatusRefunded
}

// Claimable returns true if the membership can be bound to an identity.
func (m *Membership) Claimable() bool {
	return m.UserID == nil && !m.IsTerminal()
}

var transitions = map[MembershipStatus][]MembershipStatus{
	MembershipStatusPending:    {MembershipStatusActive, MembershipStatusWaitlisted, MembershipStatusCanceled, MembershipStatusRefunded},
	MembershipStatusActive:     {MembershipStatusPastDue, MembershipStatusCanceled, MembershipStatusRefunded},
	MembershipStatusWaitlisted: {MembershipStatusActive, MembershipStatusPastDue, MembershipStatusCanceled, MembershipStatusRefunded},
	MembershipStatusPastDue:    {MembershipStatusActive, MembershipStatusWaitlisted, MembershipStatusCanceled, MembershipStatusRefunded},
	MembershipStatusCanceled:   nil,
	MembershipStatusRefunded:   nil,
}

// CanTransition reports whether moving from one status to another is permitted
// by the membership state machine.
func CanTransition(from, to MembershipStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
