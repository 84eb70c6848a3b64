// Package admission decides whether a paid order becomes an active or a
// waitlisted membership under the global capacity cap, and promotes waitlisted
// memberships when a slot is freed.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/marketkit/membergate/internal/domain"
)

// Store is the persistence surface the admission logic runs against. All
// capacity-affecting reads and writes happen inside WithTx with row-level
// locking; CountActive serializes the capacity decision across transactions.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, m *domain.Membership) error
	Update(ctx context.Context, m *domain.Membership) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Membership, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Membership, error)
	GetByOrderID(ctx context.Context, orderID string) (*domain.Membership, error)
	GetByOrderIDForUpdate(ctx context.Context, orderID string) (*domain.Membership, error)
	GetByUserID(ctx context.Context, userID string) (*domain.Membership, error)
	GetByUserIDForUpdate(ctx context.Context, userID string) (*domain.Membership, error)
	CountActive(ctx context.Context) (int, error)
	NextWaitlistedForUpdate(ctx context.Context) (*domain.Membership, error)
	FirstClaimableByEmailForUpdate(ctx context.Context, email string) (*domain.Membership, error)
	List(ctx context.Context, limit, offset int) ([]*domain.Membership, error)
}

// AuditLog records non-routine transitions inside the owning transaction.
type AuditLog interface {
	Record(ctx context.Context, entry *domain.AuditEntry) error
}

// Service implements the admission controller and the waitlist promoter.
type Service struct {
	store  Store
	audit  AuditLog
	cap    int
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new admission service. cap is the hard bound on
// memberships with status active.
func NewService(store Store, audit AuditLog, cap int, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		audit:  audit,
		cap:    cap,
		logger: logger,
		now:    time.Now,
	}
}

// AdmitInput identifies a confirmed paid order.
type AdmitInput struct {
	OrderID     string
	Email       string
	PurchasedAt time.Time
}

// AdmitResult reports the admission decision. Created is false when the order
// already had a membership and the existing row is returned unchanged.
type AdmitResult struct {
	Membership *domain.Membership
	Created    bool
}

// Admit creates a membership for a paid order: active if a capacity slot is
// free, waitlisted otherwise. Replaying the same order id returns the existing
// membership unchanged.
func (s *Service) Admit(ctx context.Context, in AdmitInput) (AdmitResult, error) {
	if in.OrderID == "" {
		return AdmitResult{}, fmt.Errorf("order id is required")
	}
	if in.Email == "" {
		return AdmitResult{}, fmt.Errorf("email is required")
	}

	purchasedAt := in.PurchasedAt
	if purchasedAt.IsZero() {
		purchasedAt = s.now()
	}

	var result AdmitResult
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.GetByOrderIDForUpdate(ctx, in.OrderID)
		if err == nil {
			result = AdmitResult{Membership: existing}
			return nil
		}
		if !errors.Is(err, domain.ErrMembershipNotFound) {
			return err
		}

		m, err := s.insertWithCapacityCheck(ctx, in.OrderID, in.Email, purchasedAt, nil)
		if err != nil {
			return err
		}
		result = AdmitResult{Membership: m, Created: true}
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateOrder) {
		// Lost a same-order race to a concurrent delivery. The winning row is
		// the result; the replay is a no-op.
		existing, lookupErr := s.store.GetByOrderID(ctx, in.OrderID)
		if lookupErr != nil {
			return AdmitResult{}, lookupErr
		}
		return AdmitResult{Membership: existing}, nil
	}
	if err != nil {
		return AdmitResult{}, err
	}
	return result, nil
}

// insertWithCapacityCheck counts active memberships under the capacity lock
// and inserts the new row as active or waitlisted. Must run inside a transaction.
func (s *Service) insertWithCapacityCheck(ctx context.Context, orderID, email string, purchasedAt time.Time, claimCodeHash *string) (*domain.Membership, error) {
	active, err := s.store.CountActive(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	m := &domain.Membership{
		ID:            uuid.New(),
		OrderID:       orderID,
		Email:         email,
		Status:        domain.MembershipStatusWaitlisted,
		PurchasedAt:   purchasedAt,
		ClaimCodeHash: claimCodeHash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if active < s.cap {
		m.Status = domain.MembershipStatusActive
		m.ActivatedAt = &now
	}

	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// PromoteNext activates the waitlisted membership with the earliest purchase
// time. It re-checks the cap under the capacity lock so a call without an
// actual vacancy can never push the active count past the cap.
func (s *Service) PromoteNext(ctx context.Context, actor string) (*domain.Membership, bool, error) {
	var promoted *domain.Membership
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		active, err := s.store.CountActive(ctx)
		if err != nil {
			return err
		}
		if active >= s.cap {
			return nil
		}

		next, err := s.store.NextWaitlistedForUpdate(ctx)
		if errors.Is(err, domain.ErrMembershipNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		now := s.now()
		next.Status = domain.MembershipStatusActive
		next.ActivatedAt = &now
		next.DeactivatedAt = nil
		next.UpdatedAt = now
		if err := s.store.Update(ctx, next); err != nil {
			return err
		}

		if err := s.recordAudit(ctx, actor, domain.AuditActionPromote, next, "waitlist promotion"); err != nil {
			return err
		}
		promoted = next
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return promoted, promoted != nil, nil
}

// Recover re-runs the capacity check for a past_due membership after a
// successful renewal. Memberships in any other status are left unchanged.
func (s *Service) Recover(ctx context.Context, orderID string) (*domain.Membership, bool, error) {
	var (
		m       *domain.Membership
		changed bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		m, err = s.store.GetByOrderIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if m.Status != domain.MembershipStatusPastDue {
			return nil
		}

		active, err := s.store.CountActive(ctx)
		if err != nil {
			return err
		}

		now := s.now()
		if active < s.cap {
			m.Status = domain.MembershipStatusActive
			m.ActivatedAt = &now
			m.DeactivatedAt = nil
		} else {
			m.Status = domain.MembershipStatusWaitlisted
		}
		m.UpdatedAt = now
		if err := s.store.Update(ctx, m); err != nil {
			return err
		}
		changed = true
		return s.recordAudit(ctx, domain.ActorSystem, domain.AuditActionRecover, m, "subscription renewed")
	})
	if err != nil {
		return nil, false, err
	}
	return m, changed, nil
}

// MarkPastDue transitions a membership to past_due on a late payment. The
// returned bool reports whether the transition vacated a capacity slot.
func (s *Service) MarkPastDue(ctx context.Context, orderID string) (*domain.Membership, bool, error) {
	var (
		m       *domain.Membership
		vacated bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		m, err = s.store.GetByOrderIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if m.Status == domain.MembershipStatusPastDue {
			return nil
		}
		if !domain.CanTransition(m.Status, domain.MembershipStatusPastDue) {
			return domain.ErrInvalidTransition
		}

		vacated = m.Status == domain.MembershipStatusActive
		now := s.now()
		m.Status = domain.MembershipStatusPastDue
		m.DeactivatedAt = &now
		m.UpdatedAt = now
		if err := s.store.Update(ctx, m); err != nil {
			return err
		}
		return s.recordAudit(ctx, domain.ActorSystem, domain.AuditActionPastDue, m, "subscription payment late")
	})
	if err != nil {
		return nil, false, err
	}
	return m, vacated, nil
}

// TerminateInput describes a terminal transition for an order.
type TerminateInput struct {
	OrderID string
	Status  domain.MembershipStatus
	// UnbindIdentity clears the identity-provider binding while keeping the
	// row for audit and a future re-claim.
	UnbindIdentity bool
	Actor          string
	Reason         string
}

// Terminate moves a membership to a terminal status. Repeating a terminal
// event for an already-terminal membership is a no-op. The returned bool
// reports whether a capacity slot was vacated.
func (s *Service) Terminate(ctx context.Context, in TerminateInput) (*domain.Membership, bool, error) {
	return s.terminate(ctx, in, func(ctx context.Context) (*domain.Membership, error) {
		return s.store.GetByOrderIDForUpdate(ctx, in.OrderID)
	})
}

// TerminateByIdentity is Terminate keyed by the identity-provider user id,
// used for account-deletion events.
func (s *Service) TerminateByIdentity(ctx context.Context, userID string, in TerminateInput) (*domain.Membership, bool, error) {
	return s.terminate(ctx, in, func(ctx context.Context) (*domain.Membership, error) {
		return s.store.GetByUserIDForUpdate(ctx, userID)
	})
}

func (s *Service) terminate(ctx context.Context, in TerminateInput, lookup func(ctx context.Context) (*domain.Membership, error)) (*domain.Membership, bool, error) {
	if in.Status != domain.MembershipStatusCanceled && in.Status != domain.MembershipStatusRefunded {
		return nil, false, domain.ErrInvalidTransition
	}

	var (
		m       *domain.Membership
		vacated bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		m, err = lookup(ctx)
		if err != nil {
			return err
		}
		if m.IsTerminal() {
			return nil
		}

		vacated = m.Status == domain.MembershipStatusActive
		now := s.now()
		identityID := m.UserID
		m.Status = in.Status
		m.DeactivatedAt = &now
		m.UpdatedAt = now
		if in.UnbindIdentity {
			m.UserID = nil
		}
		if err := s.store.Update(ctx, m); err != nil {
			return err
		}

		entry := &domain.AuditEntry{
			ID:           uuid.New(),
			Actor:        in.Actor,
			Action:       domain.AuditActionTerminate,
			MembershipID: &m.ID,
			IdentityID:   identityID,
			Reason:       in.Reason,
			CreatedAt:    now,
		}
		return s.audit.Record(ctx, entry)
	})
	if err != nil {
		return nil, false, err
	}
	return m, vacated, nil
}

// List returns memberships for the admin surface, newest purchases first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*domain.Membership, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, limit, offset)
}

func (s *Service) recordAudit(ctx context.Context, actor string, action domain.AuditAction, m *domain.Membership, reason string) error {
	entry := &domain.AuditEntry{
		ID:           uuid.New(),
		Actor:        actor,
		Action:       action,
		MembershipID: &m.ID,
		IdentityID:   m.UserID,
		Reason:       reason,
		CreatedAt:    s.now(),
	}
	return s.audit.Record(ctx, entry)
}
