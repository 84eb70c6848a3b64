package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marketkit/membergate/internal/domain"
)

// ClaimInput binds an identity-provider user to an unclaimed membership.
type ClaimInput struct {
	IdentityID string
	Email      string
	// Code is required when the matched membership carries a claim code.
	Code string
}

// Claim binds the earliest-purchased unclaimed membership matching the email
// to the identity. A given identity can hold at most one membership.
func (s *Service) Claim(ctx context.Context, in ClaimInput) (*domain.Membership, error) {
	if in.IdentityID == "" {
		return nil, fmt.Errorf("identity id is required")
	}
	if in.Email == "" {
		return nil, fmt.Errorf("email is required")
	}

	var m *domain.Membership
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetByUserID(ctx, in.IdentityID); err == nil {
			return domain.ErrIdentityAlreadyLinked
		} else if !errors.Is(err, domain.ErrMembershipNotFound) {
			return err
		}

		var err error
		m, err = s.store.FirstClaimableByEmailForUpdate(ctx, in.Email)
		if errors.Is(err, domain.ErrMembershipNotFound) {
			return domain.ErrNoClaimableMembership
		}
		if err != nil {
			return err
		}

		if m.ClaimCodeHash != nil && HashClaimCode(in.Code) != *m.ClaimCodeHash {
			return domain.ErrInvalidClaimCode
		}

		now := s.now()
		identityID := in.IdentityID
		m.UserID = &identityID
		m.ClaimedAt = &now
		m.UpdatedAt = now
		if err := s.store.Update(ctx, m); err != nil {
			return err
		}
		return s.recordAudit(ctx, identityID, domain.AuditActionClaim, m, "claimed by email match")
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CreateManualInput describes an admin-created membership record.
type CreateManualInput struct {
	// OrderID is optional; a synthetic one is generated when empty.
	OrderID     string
	Email       string
	PurchasedAt time.Time
	// WithClaimCode attaches a generated claim code the recipient must enter
	// to bind the membership to their identity.
	WithClaimCode bool
	Actor         string
	Reason        string
}

// CreateManual inserts a membership outside the webhook path. The capacity
// decision is the same as for a paid order. Returns the plaintext claim code
// when one was requested; only its hash is stored.
func (s *Service) CreateManual(ctx context.Context, in CreateManualInput) (*domain.Membership, string, error) {
	if in.Email == "" {
		return nil, "", fmt.Errorf("email is required")
	}

	orderID := strings.TrimSpace(in.OrderID)
	if orderID == "" {
		orderID = "manual-" + uuid.NewString()
	}
	purchasedAt := in.PurchasedAt
	if purchasedAt.IsZero() {
		purchasedAt = s.now()
	}

	var code string
	var codeHash *string
	if in.WithClaimCode {
		generated, err := GenerateClaimCode()
		if err != nil {
			return nil, "", fmt.Errorf("generate claim code: %w", err)
		}
		code = generated
		hash := HashClaimCode(generated)
		codeHash = &hash
	}

	var m *domain.Membership
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		m, err = s.insertWithCapacityCheck(ctx, orderID, in.Email, purchasedAt, codeHash)
		if err != nil {
			return err
		}
		return s.recordAudit(ctx, in.Actor, domain.AuditActionCreate, m, in.Reason)
	})
	if err != nil {
		return nil, "", err
	}
	return m, code, nil
}

// Revoke cancels a membership by id on behalf of an admin. The returned bool
// reports whether a capacity slot was vacated.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, actor, reason string) (*domain.Membership, bool, error) {
	var (
		m       *domain.Membership
		vacated bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		m, err = s.store.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if m.IsTerminal() {
			return domain.ErrInvalidTransition
		}

		vacated = m.Status == domain.MembershipStatusActive
		now := s.now()
		m.Status = domain.MembershipStatusCanceled
		m.DeactivatedAt = &now
		m.UpdatedAt = now
		if err := s.store.Update(ctx, m); err != nil {
			return err
		}
		return s.recordAudit(ctx, actor, domain.AuditActionRevoke, m, reason)
	})
	if err != nil {
		return nil, false, err
	}
	return m, vacated, nil
}

// Link binds a membership to an identity-provider user id by membership id,
// the admin escape hatch for manual data fixes. Uniqueness per identity still holds.
func (s *Service) Link(ctx context.Context, id uuid.UUID, identityID, actor string) (*domain.Membership, error) {
	if identityID == "" {
		return nil, fmt.Errorf("identity id is required")
	}

	var m *domain.Membership
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetByUserID(ctx, identityID); err == nil {
			return domain.ErrIdentityAlreadyLinked
		} else if !errors.Is(err, domain.ErrMembershipNotFound) {
			return err
		}

		var err error
		m, err = s.store.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if m.UserID != nil {
			return domain.ErrMembershipAlreadyLinked
		}

		now := s.now()
		m.UserID = &identityID
		m.ClaimedAt = &now
		m.UpdatedAt = now
		if err := s.store.Update(ctx, m); err != nil {
			return err
		}
		return s.recordAudit(ctx, actor, domain.AuditActionLink, m, "linked by admin")
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
