// Package claims exposes the synchronous manual-claim endpoint: an
// identity-provider user binds an unclaimed membership purchased under
// their email.
package claims

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marketkit/membergate/internal/admission"
	"github.com/marketkit/membergate/internal/domain"
	"github.com/marketkit/membergate/internal/httputil"
)

// ClaimService binds memberships to identities.
type ClaimService interface {
	Claim(ctx context.Context, in admission.ClaimInput) (*domain.Membership, error)
}

// Handler handles claim endpoints.
type Handler struct {
	logger *slog.Logger
	svc    ClaimService
}

// NewHandler creates a new claims handler.
func NewHandler(logger *slog.Logger, svc ClaimService) *Handler {
	return &Handler{logger: logger, svc: svc}
}

// ClaimRequest represents a manual claim request.
type ClaimRequest struct {
	IdentityID string `json:"identity_id"`
	Email      string `json:"email"`
	ClaimCode  string `json:"claim_code,omitempty"`
}

// ClaimResponse represents a successful claim.
type ClaimResponse struct {
	MembershipID string `json:"membership_id"`
	Status       string `json:"status"`
}

// Claim handles a manual claim.
// POST /v1/claims
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.IdentityID == "" || req.Email == "" {
		httputil.Error(w, http.StatusBadRequest, "identity_id and email are required")
		return
	}

	m, err := h.svc.Claim(r.Context(), admission.ClaimInput{
		IdentityID: req.IdentityID,
		Email:      req.Email,
		Code:       req.ClaimCode,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIdentityAlreadyLinked):
			httputil.Error(w, http.StatusConflict, "identity already holds a membership")
		case errors.Is(err, domain.ErrNoClaimableMembership):
			httputil.Error(w, http.StatusNotFound, "no claimable membership for this email")
		case errors.Is(err, domain.ErrInvalidClaimCode):
			httputil.Error(w, http.StatusForbidden, "invalid claim code")
		default:
			h.logger.Error("claim failed", "identity_id", req.IdentityID, "error", err)
			httputil.Error(w, http.StatusInternalServerError, "claim failed")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, ClaimResponse{
		MembershipID: m.ID.String(),
		Status:       string(m.Status),
	})
}
