// Package ingress normalizes external events (payment lifecycle,
// identity-provider account deletion, claims and admin actions) into
// membership state transitions, and runs the post-commit side effects:
// waitlist promotion on vacancy and best-effort identity sync.
package ingress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/marketkit/membergate/internal/admission"
	"github.com/marketkit/membergate/internal/domain"
)

// AdmissionService is the transition surface the processor drives.
type AdmissionService interface {
	Admit(ctx context.Context, in admission.AdmitInput) (admission.AdmitResult, error)
	PromoteNext(ctx context.Context, actor string) (*domain.Membership, bool, error)
	Recover(ctx context.Context, orderID string) (*domain.Membership, bool, error)
	MarkPastDue(ctx context.Context, orderID string) (*domain.Membership, bool, error)
	Terminate(ctx context.Context, in admission.TerminateInput) (*domain.Membership, bool, error)
	TerminateByIdentity(ctx context.Context, userID string, in admission.TerminateInput) (*domain.Membership, bool, error)
	Claim(ctx context.Context, in admission.ClaimInput) (*domain.Membership, error)
	CreateManual(ctx context.Context, in admission.CreateManualInput) (*domain.Membership, string, error)
	Revoke(ctx context.Context, id uuid.UUID, actor, reason string) (*domain.Membership, bool, error)
	Link(ctx context.Context, id uuid.UUID, identityID, actor string) (*domain.Membership, error)
}

// StatusSyncer propagates a membership status to the identity provider.
type StatusSyncer interface {
	SyncStatus(ctx context.Context, identityID string, status domain.MembershipStatus) error
}

const syncTimeout = 10 * time.Second

// Processor dispatches normalized events to the admission service.
type Processor struct {
	logger *slog.Logger
	svc    AdmissionService
	// syncer may be nil when identity sync is not configured.
	syncer StatusSyncer
}

// NewProcessor creates a new event processor.
func NewProcessor(logger *slog.Logger, svc AdmissionService, syncer StatusSyncer) *Processor {
	return &Processor{logger: logger, svc: svc, syncer: syncer}
}

// HandlePaymentEvent applies one payment-provider event. Malformed or unknown
// events are logged and dropped; a non-nil error means the transition did not
// commit and the whole event is safe to replay.
func (p *Processor) HandlePaymentEvent(ctx context.Context, ev PaymentEvent) error {
	if ev.EventType == "" || ev.OrderID == "" {
		p.logger.Warn("dropping payment event with missing fields",
			"event_type", ev.EventType, "order_id", ev.OrderID)
		return nil
	}

	switch ev.EventType {
	case PaymentEventOrderApproved:
		return p.orderApproved(ctx, ev)
	case PaymentEventSubscriptionRenewed:
		return p.subscriptionRenewed(ctx, ev)
	case PaymentEventSubscriptionLate:
		return p.subscriptionLate(ctx, ev)
	case PaymentEventSubscriptionCanceled, PaymentEventOrderRejected:
		return p.terminateOrder(ctx, ev, domain.MembershipStatusCanceled)
	case PaymentEventOrderRefunded, PaymentEventChargeback:
		return p.terminateOrder(ctx, ev, domain.MembershipStatusRefunded)
	default:
		p.logger.Info("ignoring unhandled payment event", "event_type", ev.EventType, "order_id", ev.OrderID)
		return nil
	}
}

func (p *Processor) orderApproved(ctx context.Context, ev PaymentEvent) error {
	if ev.OrderStatus != OrderStatusPaid {
		p.logger.Info("ignoring approved order that is not paid",
			"order_id", ev.OrderID, "order_status", ev.OrderStatus)
		return nil
	}
	if ev.CustomerEmail == "" {
		p.logger.Warn("dropping order_approved without customer email", "order_id", ev.OrderID)
		return nil
	}

	res, err := p.svc.Admit(ctx, admission.AdmitInput{
		OrderID:     ev.OrderID,
		Email:       ev.CustomerEmail,
		PurchasedAt: ev.OccurredAt,
	})
	if err != nil {
		return err
	}

	if res.Created {
		p.logger.Info("order admitted",
			"order_id", ev.OrderID,
			"membership_id", res.Membership.ID,
			"status", res.Membership.Status)
	} else {
		p.logger.Info("replayed order_approved ignored", "order_id", ev.OrderID)
	}
	return nil
}

func (p *Processor) subscriptionRenewed(ctx context.Context, ev PaymentEvent) error {
	m, changed, err := p.svc.Recover(ctx, ev.OrderID)
	if errors.Is(err, domain.ErrMembershipNotFound) {
		p.logger.Warn("renewal for unknown order dropped", "order_id", ev.OrderID)
		return nil
	}
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	p.logger.Info("past_due membership recovered",
		"order_id", ev.OrderID, "membership_id", m.ID, "status", m.Status)
	p.syncStatus(m)
	return nil
}

func (p *Processor) subscriptionLate(ctx context.Context, ev PaymentEvent) error {
	m, vacated, err := p.svc.MarkPastDue(ctx, ev.OrderID)
	if errors.Is(err, domain.ErrMembershipNotFound) {
		p.logger.Warn("late-payment event for unknown order dropped", "order_id", ev.OrderID)
		return nil
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		p.logger.Warn("late-payment event dropped, transition not permitted", "order_id", ev.OrderID)
		return nil
	}
	if err != nil {
		return err
	}

	p.logger.Info("membership past due", "order_id", ev.OrderID, "membership_id", m.ID, "vacated", vacated)
	p.syncStatus(m)
	if vacated {
		p.fillVacancy(ctx)
	}
	return nil
}

func (p *Processor) terminateOrder(ctx context.Context, ev PaymentEvent, status domain.MembershipStatus) error {
	m, vacated, err := p.svc.Terminate(ctx, admission.TerminateInput{
		OrderID: ev.OrderID,
		Status:  status,
		Actor:   domain.ActorSystem,
		Reason:  ev.EventType,
	})
	if errors.Is(err, domain.ErrMembershipNotFound) {
		p.logger.Warn("terminal event for unknown order dropped",
			"event_type", ev.EventType, "order_id", ev.OrderID)
		return nil
	}
	if err != nil {
		return err
	}

	p.logger.Info("membership terminated",
		"order_id", ev.OrderID, "membership_id", m.ID, "status", m.Status, "vacated", vacated)
	p.syncStatus(m)
	if vacated {
		p.fillVacancy(ctx)
	}
	return nil
}

// HandleIdentityEvent applies one identity-provider event. Only user.deleted
// drives a state transition; the rest are informational no-ops.
func (p *Processor) HandleIdentityEvent(ctx context.Context, ev IdentityEvent) error {
	if ev.EventType == "" || ev.UserID == "" {
		p.logger.Warn("dropping identity event with missing fields",
			"event_type", ev.EventType, "user_id", ev.UserID)
		return nil
	}

	switch ev.EventType {
	case IdentityEventUserDeleted:
		return p.userDeleted(ctx, ev)
	case IdentityEventUserCreated, IdentityEventUserUpdated:
		p.logger.Debug("informational identity event", "event_type", ev.EventType, "user_id", ev.UserID)
		return nil
	default:
		p.logger.Info("ignoring unhandled identity event", "event_type", ev.EventType, "user_id", ev.UserID)
		return nil
	}
}

func (p *Processor) userDeleted(ctx context.Context, ev IdentityEvent) error {
	m, vacated, err := p.svc.TerminateByIdentity(ctx, ev.UserID, admission.TerminateInput{
		Status:         domain.MembershipStatusCanceled,
		UnbindIdentity: true,
		Actor:          domain.ActorSystem,
		Reason:         "identity provider account deleted",
	})
	if errors.Is(err, domain.ErrMembershipNotFound) {
		p.logger.Info("account deletion without membership dropped", "user_id", ev.UserID)
		return nil
	}
	if err != nil {
		return err
	}

	p.logger.Info("membership unbound after account deletion",
		"membership_id", m.ID, "vacated", vacated)
	// The identity is gone; no sync for the unbound member.
	if vacated {
		p.fillVacancy(ctx)
	}
	return nil
}

// Claim binds an unclaimed membership to an identity and projects the
// resulting status.
func (p *Processor) Claim(ctx context.Context, in admission.ClaimInput) (*domain.Membership, error) {
	m, err := p.svc.Claim(ctx, in)
	if err != nil {
		return nil, err
	}
	p.syncStatus(m)
	return m, nil
}

// CreateMembership is the admin escape hatch for inserting a membership record.
func (p *Processor) CreateMembership(ctx context.Context, in admission.CreateManualInput) (*domain.Membership, string, error) {
	return p.svc.CreateManual(ctx, in)
}

// RevokeMembership cancels a membership on behalf of an admin and fills any
// vacancy it creates.
func (p *Processor) RevokeMembership(ctx context.Context, id uuid.UUID, actor, reason string) (*domain.Membership, error) {
	m, vacated, err := p.svc.Revoke(ctx, id, actor, reason)
	if err != nil {
		return nil, err
	}
	p.syncStatus(m)
	if vacated {
		p.fillVacancy(ctx)
	}
	return m, nil
}

// PromoteNext runs one admin-triggered promotion attempt.
func (p *Processor) PromoteNext(ctx context.Context, actor string) (*domain.Membership, bool, error) {
	m, promoted, err := p.svc.PromoteNext(ctx, actor)
	if err != nil {
		return nil, false, err
	}
	if promoted {
		p.syncStatus(m)
	}
	return m, promoted, nil
}

// LinkMembership binds a membership to an identity on behalf of an admin.
func (p *Processor) LinkMembership(ctx context.Context, id uuid.UUID, identityID, actor string) (*domain.Membership, error) {
	m, err := p.svc.Link(ctx, id, identityID, actor)
	if err != nil {
		return nil, err
	}
	p.syncStatus(m)
	return m, nil
}

// fillVacancy promotes the next waitlisted membership after a confirmed
// vacancy. A failed promotion is logged, not propagated: the triggering
// transition already committed and the vacancy remains fillable.
func (p *Processor) fillVacancy(ctx context.Context) {
	m, promoted, err := p.svc.PromoteNext(ctx, domain.ActorSystem)
	if err != nil {
		p.logger.Error("waitlist promotion failed", "error", err)
		return
	}
	if !promoted {
		return
	}

	p.logger.Info("waitlisted membership promoted",
		"membership_id", m.ID, "order_id", m.OrderID)
	p.syncStatus(m)
}

// syncStatus projects the membership status to the identity provider,
// fire-and-forget. It runs after the owning transaction committed and its
// failure is logged, never propagated.
func (p *Processor) syncStatus(m *domain.Membership) {
	if p.syncer == nil || m.UserID == nil {
		return
	}

	identityID := *m.UserID
	status := m.Status
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		if err := p.syncer.SyncStatus(ctx, identityID, status); err != nil {
			p.logger.Error("identity status sync failed",
				"identity_id", identityID, "status", status, "error", err)
		}
	}()
}
