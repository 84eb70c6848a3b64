package ingress

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marketkit/membergate/internal/admission"
	"github.com/marketkit/membergate/internal/domain"
)

type fakeAdmission struct {
	mu sync.Mutex

	admitCalls  []admission.AdmitInput
	admitResult admission.AdmitResult
	admitErr    error

	promoteCalls  int
	promoteResult *domain.Membership

	recoverCalls   []string
	recoverResult  *domain.Membership
	recoverChanged bool
	recoverErr     error

	pastDueCalls   []string
	pastDueResult  *domain.Membership
	pastDueVacated bool
	pastDueErr     error

	terminateCalls   []admission.TerminateInput
	terminateByIDs   []string
	terminateResult  *domain.Membership
	terminateVacated bool
	terminateErr     error

	claimCalls  []admission.ClaimInput
	claimResult *domain.Membership
	claimErr    error
}

func (f *fakeAdmission) Admit(ctx context.Context, in admission.AdmitInput) (admission.AdmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admitCalls = append(f.admitCalls, in)
	return f.admitResult, f.admitErr
}

func (f *fakeAdmission) PromoteNext(ctx context.Context, actor string) (*domain.Membership, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promoteCalls++
	return f.promoteResult, f.promoteResult != nil, nil
}

func (f *fakeAdmission) Recover(ctx context.Context, orderID string) (*domain.Membership, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoverCalls = append(f.recoverCalls, orderID)
	return f.recoverResult, f.recoverChanged, f.recoverErr
}

func (f *fakeAdmission) MarkPastDue(ctx context.Context, orderID string) (*domain.Membership, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pastDueCalls = append(f.pastDueCalls, orderID)
	return f.pastDueResult, f.pastDueVacated, f.pastDueErr
}

func (f *fakeAdmission) Terminate(ctx context.Context, in admission.TerminateInput) (*domain.Membership, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminateCalls = append(f.terminateCalls, in)
	return f.terminateResult, f.terminateVacated, f.terminateErr
}

func (f *fakeAdmission) TerminateByIdentity(ctx context.Context, userID string, in admission.TerminateInput) (*domain.Membership, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminateByIDs = append(f.terminateByIDs, userID)
	f.terminateCalls = append(f.terminateCalls, in)
	return f.terminateResult, f.terminateVacated, f.terminateErr
}

func (f *fakeAdmission) Claim(ctx context.Context, in admission.ClaimInput) (*domain.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls = append(f.claimCalls, in)
	return f.claimResult, f.claimErr
}

func (f *fakeAdmission) CreateManual(ctx context.Context, in admission.CreateManualInput) (*domain.Membership, string, error) {
	return nil, "", nil
}

func (f *fakeAdmission) Revoke(ctx context.Context, id uuid.UUID, actor, reason string) (*domain.Membership, bool, error) {
	return f.terminateResult, f.terminateVacated, f.terminateErr
}

func (f *fakeAdmission) Link(ctx context.Context, id uuid.UUID, identityID, actor string) (*domain.Membership, error) {
	return f.claimResult, f.claimErr
}

func (f *fakeAdmission) promoted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.promoteCalls
}

type syncCall struct {
	identityID string
	status     domain.MembershipStatus
}

type fakeSyncer struct {
	calls chan syncCall
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{calls: make(chan syncCall, 16)}
}

func (f *fakeSyncer) SyncStatus(ctx context.Context, identityID string, status domain.MembershipStatus) error {
	f.calls <- syncCall{identityID: identityID, status: status}
	return nil
}

func waitForSync(t *testing.T, syncer *fakeSyncer) syncCall {
	t.Helper()
	select {
	case call := <-syncer.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for identity sync")
		return syncCall{}
	}
}

func assertNoSync(t *testing.T, syncer *fakeSyncer) {
	t.Helper()
	select {
	case call := <-syncer.calls:
		t.Fatalf("unexpected identity sync: %+v", call)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestProcessor(svc *fakeAdmission, syncer *fakeSyncer) *Processor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if syncer == nil {
		return NewProcessor(logger, svc, nil)
	}
	return NewProcessor(logger, svc, syncer)
}

func member(orderID string, status domain.MembershipStatus, userID string) *domain.Membership {
	m := &domain.Membership{
		ID:          uuid.New(),
		OrderID:     orderID,
		Email:       "m@example.com",
		Status:      status,
		PurchasedAt: time.Now(),
	}
	if userID != "" {
		m.UserID = &userID
	}
	return m
}

func TestHandlePaymentEvent_OrderApprovedPaid(t *testing.T) {
	svc := &fakeAdmission{admitResult: admission.AdmitResult{
		Membership: member("ord-1", domain.MembershipStatusActive, ""),
		Created:    true,
	}}
	p := newTestProcessor(svc, nil)

	purchased := time.Now().Add(-time.Minute)
	err := p.HandlePaymentEvent(context.Background(), PaymentEvent{
		EventType:     PaymentEventOrderApproved,
		OrderID:       "ord-1",
		OrderStatus:   OrderStatusPaid,
		CustomerEmail: "a@example.com",
		OccurredAt:    purchased,
	})
	if err != nil {
		t.Fatalf("HandlePaymentEvent failed: %v", err)
	}

	if len(svc.admitCalls) != 1 {
		t.Fatalf("Admit calls = %d, want 1", len(svc.admitCalls))
	}
	in := svc.admitCalls[0]
	if in.OrderID != "ord-1" || in.Email != "a@example.com" || !in.PurchasedAt.Equal(purchased) {
		t.Errorf("Admit input = %+v", in)
	}
}

func TestHandlePaymentEvent_OrderApprovedUnpaid(t *testing.T) {
	svc := &fakeAdmission{}
	p := newTestProcessor(svc, nil)

	err := p.HandlePaymentEvent(context.Background(), PaymentEvent{
		EventType:     PaymentEventOrderApproved,
		OrderID:       "ord-1",
		OrderStatus:   "pending_payment",
		CustomerEmail: "a@example.com",
	})
	if err != nil {
		t.Fatalf("HandlePaymentEvent failed: %v", err)
	}
	if len(svc.admitCalls) != 0 {
		t.Error("unpaid approved order should not be admitted")
	}
}

func TestHandlePaymentEvent_UnknownTypeIgnored(t *testing.T) {
	svc := &fakeAdmission{}
	p := newTestProcessor(svc, nil)

	err := p.HandlePaymentEvent(context.Background(), PaymentEvent{
		EventType: "customer_updated",
		OrderID:   "ord-1",
	})
	if err != nil {
		t.Fatalf("unknown event should be ignored, got %v", err)
	}
}

func TestHandlePaymentEvent_MissingFieldsDropped(t *testing.T) {
	svc := &fakeAdmission{}
	p := newTestProcessor(svc, nil)

	if err := p.HandlePaymentEvent(context.Background(), PaymentEvent{EventType: PaymentEventOrderApproved}); err != nil {
		t.Fatalf("event without order id should be dropped, got %v", err)
	}
	if err := p.HandlePaymentEvent(context.Background(), PaymentEvent{OrderID: "ord-1"}); err != nil {
		t.Fatalf("event without type should be dropped, got %v", err)
	}
	if len(svc.admitCalls) != 0 {
		t.Error("dropped events should not reach the admission service")
	}
}

func TestHandlePaymentEvent_CancellationPromotesAndSyncs(t *testing.T) {
	canceled := member("ord-1", domain.MembershipStatusCanceled, "auth0|gone")
	promoted := member("ord-2", domain.MembershipStatusActive, "auth0|next")
	svc := &fakeAdmission{
		terminateResult:  canceled,
		terminateVacated: true,
		promoteResult:    promoted,
	}
	syncer := newFakeSyncer()
	p := newTestProcessor(svc, syncer)

	err := p.HandlePaymentEvent(context.Background(), PaymentEvent{
		EventType: PaymentEventSubscriptionCanceled,
		OrderID:   "ord-1",
	})
	if err != nil {
		t.Fatalf("HandlePaymentEvent failed: %v", err)
	}

	if len(svc.terminateCalls) != 1 {
		t.Fatalf("Terminate calls = %d, want 1", len(svc.terminateCalls))
	}
	if svc.terminateCalls[0].Status != domain.MembershipStatusCanceled {
		t.Errorf("terminal status = %s, want canceled", svc.terminateCalls[0].Status)
	}
	if svc.promoted() != 1 {
		t.Errorf("PromoteNext calls = %d, want 1", svc.promoted())
	}

	// Both the canceled member and the promoted one get synced.
	statuses := map[string]domain.MembershipStatus{}
	for i := 0; i < 2; i++ {
		call := waitForSync(t, syncer)
		statuses[call.identityID] = call.status
	}
	if statuses["auth0|gone"] != domain.MembershipStatusCanceled {
		t.Errorf("canceled member sync = %s", statuses["auth0|gone"])
	}
	if statuses["auth0|next"] != domain.MembershipStatusActive {
		t.Errorf("promoted member sync = %s", statuses["auth0|next"])
	}
}

func TestHandlePaymentEvent_RefundWithoutVacancySkipsPromotion(t *testing.T) {
	refunded := member("ord-1", domain.MembershipStatusRefunded, "")
	svc := &fakeAdmission{terminateResult: refunded, terminateVacated: false}
	p := newTestProcessor(svc, nil)

	err := p.HandlePaymentEvent(context.Background(), PaymentEvent{
		EventType: PaymentEventOrderRefunded,
		OrderID:   "ord-1",
	})
	if err != nil {
		t.Fatalf("HandlePaymentEvent failed: %v", err)
	}
	if svc.promoted() != 0 {
		t.Error("refunding a non-active membership should not promote")
	}
}

func TestHandlePaymentEvent_UnknownOrderDropped(t *testing.T) {
	svc := &fakeAdmission{terminateErr: domain.ErrMembershipNotFound}
	p := newTestProcessor(svc, nil)

	err := p.HandlePaymentEvent(context.Background(), PaymentEvent{
		EventType: PaymentEventChargeback,
		OrderID:   "ord-unknown",
	})
	if err != nil {
		t.Fatalf("chargeback for unknown order should be dropped, got %v", err)
	}
	if svc.promoted() != 0 {
		t.Error("dropped event should not promote")
	}
}

func TestHandlePaymentEvent_LatePaymentVacates(t *testing.T) {
	pastDue := member("ord-1", domain.MembershipStatusPastDue, "auth0|late")
	svc := &fakeAdmission{pastDueResult: pastDue, pastDueVacated: true}
	syncer := newFakeSyncer()
	p := newTestProcessor(svc, syncer)

	err := p.HandlePaymentEvent(context.Background(), PaymentEvent{
		EventType: PaymentEventSubscriptionLate,
		OrderID:   "ord-1",
	})
	if err != nil {
		t.Fatalf("HandlePaymentEvent failed: %v", err)
	}
	if len(svc.pastDueCalls) != 1 {
		t.Fatalf("MarkPastDue calls = %d, want 1", len(svc.pastDueCalls))
	}
	if svc.promoted() != 1 {
		t.Error("vacating past_due transition should trigger promotion")
	}

	call := waitForSync(t, syncer)
	if call.identityID != "auth0|late" || call.status != domain.MembershipStatusPastDue {
		t.Errorf("sync = %+v", call)
	}
}

func TestHandlePaymentEvent_RenewalSyncs(t *testing.T) {
	recovered := member("ord-1", domain.MembershipStatusActive, "auth0|back")
	svc := &fakeAdmission{recoverResult: recovered, recoverChanged: true}
	syncer := newFakeSyncer()
	p := newTestProcessor(svc, syncer)

	err := p.HandlePaymentEvent(context.Background(), PaymentEvent{
		EventType: PaymentEventSubscriptionRenewed,
		OrderID:   "ord-1",
	})
	if err != nil {
		t.Fatalf("HandlePaymentEvent failed: %v", err)
	}

	call := waitForSync(t, syncer)
	if call.identityID != "auth0|back" || call.status != domain.MembershipStatusActive {
		t.Errorf("sync = %+v", call)
	}
}

func TestHandleIdentityEvent_UserDeleted(t *testing.T) {
	// Unbound after deletion, so the membership carries no identity to sync.
	canceled := member("ord-1", domain.MembershipStatusCanceled, "")
	promoted := member("ord-2", domain.MembershipStatusActive, "auth0|next")
	svc := &fakeAdmission{
		terminateResult:  canceled,
		terminateVacated: true,
		promoteResult:    promoted,
	}
	syncer := newFakeSyncer()
	p := newTestProcessor(svc, syncer)

	err := p.HandleIdentityEvent(context.Background(), IdentityEvent{
		EventType: IdentityEventUserDeleted,
		UserID:    "auth0|gone",
	})
	if err != nil {
		t.Fatalf("HandleIdentityEvent failed: %v", err)
	}

	if len(svc.terminateByIDs) != 1 || svc.terminateByIDs[0] != "auth0|gone" {
		t.Errorf("TerminateByIdentity ids = %v", svc.terminateByIDs)
	}
	if !svc.terminateCalls[0].UnbindIdentity {
		t.Error("user.deleted must unbind the identity")
	}
	if svc.promoted() != 1 {
		t.Error("vacated slot should be refilled")
	}

	// Only the promoted member is synced; the deleted identity is gone.
	call := waitForSync(t, syncer)
	if call.identityID != "auth0|next" {
		t.Errorf("sync identity = %s, want auth0|next", call.identityID)
	}
	assertNoSync(t, syncer)
}

func TestHandleIdentityEvent_InformationalNoop(t *testing.T) {
	svc := &fakeAdmission{}
	p := newTestProcessor(svc, nil)

	for _, eventType := range []string{IdentityEventUserCreated, IdentityEventUserUpdated, "user.suspended"} {
		if err := p.HandleIdentityEvent(context.Background(), IdentityEvent{EventType: eventType, UserID: "auth0|u1"}); err != nil {
			t.Errorf("HandleIdentityEvent(%s) = %v, want nil", eventType, err)
		}
	}
	if len(svc.terminateCalls) != 0 {
		t.Error("informational events must not transition state")
	}
}

func TestClaim_Syncs(t *testing.T) {
	claimed := member("ord-1", domain.MembershipStatusActive, "auth0|new")
	svc := &fakeAdmission{claimResult: claimed}
	syncer := newFakeSyncer()
	p := newTestProcessor(svc, syncer)

	m, err := p.Claim(context.Background(), admission.ClaimInput{IdentityID: "auth0|new", Email: "m@example.com"})
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if m.OrderID != "ord-1" {
		t.Errorf("claimed order = %s", m.OrderID)
	}

	call := waitForSync(t, syncer)
	if call.identityID != "auth0|new" || call.status != domain.MembershipStatusActive {
		t.Errorf("sync = %+v", call)
	}
}

func TestRevokeMembership_FillsVacancy(t *testing.T) {
	revoked := member("ord-1", domain.MembershipStatusCanceled, "")
	promoted := member("ord-2", domain.MembershipStatusActive, "")
	svc := &fakeAdmission{terminateResult: revoked, terminateVacated: true, promoteResult: promoted}
	p := newTestProcessor(svc, nil)

	if _, err := p.RevokeMembership(context.Background(), uuid.New(), "admin", "test"); err != nil {
		t.Fatalf("RevokeMembership failed: %v", err)
	}
	if svc.promoted() != 1 {
		t.Error("revoking an active membership should refill the slot")
	}
}
