package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marketkit/membergate/internal/ingress"
)

type fakeProcessor struct {
	paymentEvents  []ingress.PaymentEvent
	identityEvents []ingress.IdentityEvent
	err            error
}

func (f *fakeProcessor) HandlePaymentEvent(_ context.Context, ev ingress.PaymentEvent) error {
	f.paymentEvents = append(f.paymentEvents, ev)
	return f.err
}

func (f *fakeProcessor) HandleIdentityEvent(_ context.Context, ev ingress.IdentityEvent) error {
	f.identityEvents = append(f.identityEvents, ev)
	return f.err
}

func newTestHandler(p *fakeProcessor) *Handler {
	return NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), p)
}

func postJSON(t *testing.T, handler http.HandlerFunc, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestPayment_DispatchesEvent(t *testing.T) {
	p := &fakeProcessor{}
	h := newTestHandler(p)

	body, _ := json.Marshal(ingress.PaymentEvent{
		EventType:     ingress.PaymentEventOrderApproved,
		OrderID:       "ord-1",
		OrderStatus:   ingress.OrderStatusPaid,
		CustomerEmail: "buyer@example.com",
	})
	rec := postJSON(t, h.Payment, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(p.paymentEvents) != 1 {
		t.Fatalf("dispatched %d events, want 1", len(p.paymentEvents))
	}
	if p.paymentEvents[0].OrderID != "ord-1" {
		t.Errorf("order id = %q", p.paymentEvents[0].OrderID)
	}
}

func TestPayment_AcksMalformedBody(t *testing.T) {
	p := &fakeProcessor{}
	h := newTestHandler(p)

	rec := postJSON(t, h.Payment, []byte("{not json"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(p.paymentEvents) != 0 {
		t.Fatalf("malformed body reached the processor")
	}
}

func TestPayment_AcksProcessingError(t *testing.T) {
	p := &fakeProcessor{err: errors.New("store unavailable")}
	h := newTestHandler(p)

	body, _ := json.Marshal(ingress.PaymentEvent{
		EventType: ingress.PaymentEventSubscriptionLate,
		OrderID:   "ord-1",
	})
	rec := postJSON(t, h.Payment, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even on processing error", rec.Code)
	}
}

func TestIdentity_DispatchesEvent(t *testing.T) {
	p := &fakeProcessor{}
	h := newTestHandler(p)

	body, _ := json.Marshal(ingress.IdentityEvent{
		EventType: ingress.IdentityEventUserDeleted,
		UserID:    "idp-1",
	})
	rec := postJSON(t, h.Identity, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(p.identityEvents) != 1 || p.identityEvents[0].UserID != "idp-1" {
		t.Fatalf("identity event not dispatched: %+v", p.identityEvents)
	}
}

func TestIdentity_AcksMalformedBody(t *testing.T) {
	p := &fakeProcessor{}
	h := newTestHandler(p)

	rec := postJSON(t, h.Identity, []byte("not json at all"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(p.identityEvents) != 0 {
		t.Fatalf("malformed body reached the processor")
	}
}
