package ingress

import "time"

// Payment-provider event types.
const (
	PaymentEventOrderApproved        = "order_approved"
	PaymentEventOrderRejected        = "order_rejected"
	PaymentEventSubscriptionRenewed  = "subscription_renewed"
	PaymentEventSubscriptionLate     = "subscription_late"
	PaymentEventSubscriptionCanceled = "subscription_canceled"
	PaymentEventOrderRefunded        = "order_refunded"
	PaymentEventChargeback           = "chargeback"
)

// OrderStatusPaid is the only order status that admits an approved order.
const OrderStatusPaid = "paid"

// Identity-provider event types. Only user.deleted drives a transition.
const (
	IdentityEventUserCreated = "user.created"
	IdentityEventUserUpdated = "user.updated"
	IdentityEventUserDeleted = "user.deleted"
)

// PaymentEvent is a normalized payment-provider webhook delivery. The payload
// is treated as already signature-verified by the transport layer.
type PaymentEvent struct {
	EventType     string    `json:"event_type"`
	OrderID       string    `json:"order_id"`
	OrderStatus   string    `json:"order_status,omitempty"`
	CustomerEmail string    `json:"customer_email"`
	OccurredAt    time.Time `json:"occurred_at,omitempty"`
}

// IdentityEvent is a normalized identity-provider webhook delivery.
type IdentityEvent struct {
	EventType string `json:"event_type"`
	UserID    string `json:"user_id"`
}
