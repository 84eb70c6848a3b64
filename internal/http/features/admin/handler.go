// Package admin exposes the operator surface: token issuance plus the manual
// membership operations (create, revoke, link, promote, list). Every
// membership operation still runs through the same capacity and uniqueness
// checks as the webhook path.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/marketkit/membergate/internal/admission"
	"github.com/marketkit/membergate/internal/auth"
	"github.com/marketkit/membergate/internal/domain"
	"github.com/marketkit/membergate/internal/http/middleware"
	"github.com/marketkit/membergate/internal/httputil"
)

// MembershipAdmin drives manual membership operations, including the
// post-commit side effects (promotion, identity sync).
type MembershipAdmin interface {
	CreateMembership(ctx context.Context, in admission.CreateManualInput) (*domain.Membership, string, error)
	RevokeMembership(ctx context.Context, id uuid.UUID, actor, reason string) (*domain.Membership, error)
	LinkMembership(ctx context.Context, id uuid.UUID, identityID, actor string) (*domain.Membership, error)
	PromoteNext(ctx context.Context, actor string) (*domain.Membership, bool, error)
}

// MembershipLister reads membership rows for the operator listing.
type MembershipLister interface {
	List(ctx context.Context, limit, offset int) ([]*domain.Membership, error)
}

// Handler handles admin endpoints.
type Handler struct {
	logger      *slog.Logger
	adminAuth   *auth.AdminService
	memberships MembershipAdmin
	lister      MembershipLister
}

// NewHandler creates a new admin handler.
func NewHandler(logger *slog.Logger, adminAuth *auth.AdminService, memberships MembershipAdmin, lister MembershipLister) *Handler {
	return &Handler{
		logger:      logger,
		adminAuth:   adminAuth,
		memberships: memberships,
		lister:      lister,
	}
}

// TokenRequest represents an admin login request.
type TokenRequest struct {
	Password string `json:"password"`
	TOTPCode string `json:"totp_code,omitempty"`
}

// TokenResponse represents an issued access token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// MembershipResponse is the admin view of a membership row.
type MembershipResponse struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	UserID        *string    `json:"user_id,omitempty"`
	Email         string     `json:"email"`
	Status        string     `json:"status"`
	PurchasedAt   time.Time  `json:"purchased_at"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toMembershipResponse(m *domain.Membership) MembershipResponse {
	return MembershipResponse{
		ID:            m.ID.String(),
		OrderID:       m.OrderID,
		UserID:        m.UserID,
		Email:         m.Email,
		Status:        string(m.Status),
		PurchasedAt:   m.PurchasedAt,
		ActivatedAt:   m.ActivatedAt,
		DeactivatedAt: m.DeactivatedAt,
		ClaimedAt:     m.ClaimedAt,
		CreatedAt:     m.CreatedAt,
	}
}

// Token handles admin login.
// POST /v1/admin/token
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Password == "" {
		httputil.Error(w, http.StatusBadRequest, "password is required")
		return
	}

	token, expiresAt, err := h.adminAuth.Login(req.Password, req.TOTPCode)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTOTPRequired):
			httputil.Error(w, http.StatusUnauthorized, "totp code required")
		case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrInvalidTOTPCode):
			httputil.Error(w, http.StatusUnauthorized, "invalid credentials")
		default:
			h.logger.Error("token issuance failed", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expiresAt).Seconds()),
	})
}

// CreateMembershipRequest represents a manual membership creation.
type CreateMembershipRequest struct {
	OrderID       string     `json:"order_id,omitempty"`
	Email         string     `json:"email"`
	PurchasedAt   *time.Time `json:"purchased_at,omitempty"`
	WithClaimCode bool       `json:"with_claim_code,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// CreateMembershipResponse carries the new row plus the one-time plaintext
// claim code when one was generated.
type CreateMembershipResponse struct {
	Membership MembershipResponse `json:"membership"`
	ClaimCode  string             `json:"claim_code,omitempty"`
}

// CreateMembership handles manual membership creation.
// POST /v1/admin/memberships
func (h *Handler) CreateMembership(w http.ResponseWriter, r *http.Request) {
	var req CreateMembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		httputil.Error(w, http.StatusBadRequest, "email is required")
		return
	}

	in := admission.CreateManualInput{
		OrderID:       req.OrderID,
		Email:         req.Email,
		WithClaimCode: req.WithClaimCode,
		Actor:         middleware.GetActor(r.Context()),
		Reason:        req.Reason,
	}
	if req.PurchasedAt != nil {
		in.PurchasedAt = *req.PurchasedAt
	}

	m, code, err := h.memberships.CreateMembership(r.Context(), in)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateOrder) {
			httputil.Error(w, http.StatusConflict, "order already has a membership")
			return
		}
		h.logger.Error("manual membership creation failed", "email", req.Email, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "membership creation failed")
		return
	}

	httputil.JSON(w, http.StatusCreated, CreateMembershipResponse{
		Membership: toMembershipResponse(m),
		ClaimCode:  code,
	})
}

// RevokeRequest represents an admin revocation.
type RevokeRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Revoke handles admin revocation of a membership.
// POST /v1/admin/memberships/{id}/revoke
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := h.membershipID(w, r)
	if !ok {
		return
	}

	var req RevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := h.memberships.RevokeMembership(r.Context(), id, middleware.GetActor(r.Context()), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMembershipNotFound):
			httputil.Error(w, http.StatusNotFound, "membership not found")
		case errors.Is(err, domain.ErrInvalidTransition):
			httputil.Error(w, http.StatusConflict, "membership is already in a terminal status")
		default:
			h.logger.Error("revoke failed", "membership_id", id, "error", err)
			httputil.Error(w, http.StatusInternalServerError, "revoke failed")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, toMembershipResponse(m))
}

// LinkRequest represents an admin identity-binding request.
type LinkRequest struct {
	IdentityID string `json:"identity_id"`
}

// Link handles admin binding of a membership to an identity.
// POST /v1/admin/memberships/{id}/link
func (h *Handler) Link(w http.ResponseWriter, r *http.Request) {
	id, ok := h.membershipID(w, r)
	if !ok {
		return
	}

	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IdentityID == "" {
		httputil.Error(w, http.StatusBadRequest, "identity_id is required")
		return
	}

	m, err := h.memberships.LinkMembership(r.Context(), id, req.IdentityID, middleware.GetActor(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMembershipNotFound):
			httputil.Error(w, http.StatusNotFound, "membership not found")
		case errors.Is(err, domain.ErrMembershipAlreadyLinked):
			httputil.Error(w, http.StatusConflict, "membership already linked to an identity")
		case errors.Is(err, domain.ErrIdentityAlreadyLinked):
			httputil.Error(w, http.StatusConflict, "identity already holds a membership")
		default:
			h.logger.Error("link failed", "membership_id", id, "error", err)
			httputil.Error(w, http.StatusInternalServerError, "link failed")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, toMembershipResponse(m))
}

// PromoteResponse reports one promotion attempt.
type PromoteResponse struct {
	Promoted   bool                `json:"promoted"`
	Membership *MembershipResponse `json:"membership,omitempty"`
}

// Promote handles an admin-triggered promotion attempt.
// POST /v1/admin/promote
func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	m, promoted, err := h.memberships.PromoteNext(r.Context(), middleware.GetActor(r.Context()))
	if err != nil {
		h.logger.Error("promotion failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "promotion failed")
		return
	}

	resp := PromoteResponse{Promoted: promoted}
	if promoted {
		mr := toMembershipResponse(m)
		resp.Membership = &mr
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// List handles the membership listing.
// GET /v1/admin/memberships
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	memberships, err := h.lister.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("membership listing failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "listing failed")
		return
	}

	resp := make([]MembershipResponse, 0, len(memberships))
	for _, m := range memberships {
		resp = append(resp, toMembershipResponse(m))
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"memberships": resp})
}

func (h *Handler) membershipID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid membership id")
		return uuid.Nil, false
	}
	return id, true
}
