package domain

import "errors"

// Membership errors
var (
	ErrMembershipNotFound      = errors.New("membership not found")
	ErrDuplicateOrder          = errors.New("membership already exists for order")
	ErrIdentityAlreadyLinked   = errors.New("identity already linked to another membership")
	ErrMembershipAlreadyLinked = errors.New("membership already linked to an identity")
	ErrNoClaimableMembership   = errors.New("no claimable membership for email")
	ErrInvalidClaimCode        = errors.New("invalid claim code")
	ErrInvalidTransition       = errors.New("status transition not permitted")
)

// Admin authentication errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTOTPRequired       = errors.New("one-time code required")
	ErrInvalidTOTPCode    = errors.New("invalid one-time code")
)
