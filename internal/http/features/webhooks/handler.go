// Package webhooks receives payment-provider and identity-provider
// deliveries. Payloads are treated as already signature-verified upstream.
package webhooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/marketkit/membergate/internal/httputil"
	"github.com/marketkit/membergate/internal/ingress"
)

// EventProcessor dispatches normalized inbound events.
type EventProcessor interface {
	HandlePaymentEvent(ctx context.Context, ev ingress.PaymentEvent) error
	HandleIdentityEvent(ctx context.Context, ev ingress.IdentityEvent) error
}

// Handler handles webhook endpoints.
type Handler struct {
	logger    *slog.Logger
	processor EventProcessor
}

// NewHandler creates a new webhooks handler.
func NewHandler(logger *slog.Logger, processor EventProcessor) *Handler {
	return &Handler{logger: logger, processor: processor}
}

// ackResponse is returned for every delivery. Webhook endpoints always
// acknowledge receipt, even when processing fails, to prevent upstream
// infinite-retry storms; failures live in the logs and the event is safe
// to replay.
type ackResponse struct {
	Received bool `json:"received"`
}

// Payment handles payment-provider deliveries.
// POST /v1/webhooks/payment
func (h *Handler) Payment(w http.ResponseWriter, r *http.Request) {
	var ev ingress.PaymentEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.logger.Warn("dropping malformed payment webhook", "error", err)
		httputil.JSON(w, http.StatusOK, ackResponse{Received: true})
		return
	}

	if err := h.processor.HandlePaymentEvent(r.Context(), ev); err != nil {
		h.logger.Error("payment event processing failed",
			"event_type", ev.EventType, "order_id", ev.OrderID, "error", err)
	}
	httputil.JSON(w, http.StatusOK, ackResponse{Received: true})
}

// Identity handles identity-provider deliveries.
// POST /v1/webhooks/identity
func (h *Handler) Identity(w http.ResponseWriter, r *http.Request) {
	var ev ingress.IdentityEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.logger.Warn("dropping malformed identity webhook", "error", err)
		httputil.JSON(w, http.StatusOK, ackResponse{Received: true})
		return
	}

	if err := h.processor.HandleIdentityEvent(r.Context(), ev); err != nil {
		h.logger.Error("identity event processing failed",
			"event_type", ev.EventType, "user_id", ev.UserID, "error", err)
	}
	httputil.JSON(w, http.StatusOK, ackResponse{Received: true})
}
