package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/marketkit/membergate/internal/domain"
)

// capacityLockKey is the advisory lock taken before every capacity-affecting
// count so that count-then-insert sequences are serialized across transactions.
const capacityLockKey int64 = 412900217

const membershipColumns = `id, order_id, user_id, email, status, purchased_at,
	       activated_at, deactivated_at, claim_code_hash, claimed_at, created_at, updated_at`

// MembershipsRepository handles membership persistence.
type MembershipsRepository struct {
	db *sql.DB
}

// NewMembershipsRepository creates a new memberships repository.
func NewMembershipsRepository(db *sql.DB) *MembershipsRepository {
	return &MembershipsRepository{db: db}
}

// WithTx runs fn inside a transaction carried on the context.
func (r *MembershipsRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return Tx(ctx, r.db, fn)
}

// Create inserts a new membership row. Returns domain.ErrDuplicateOrder when
// the order id is already present and domain.ErrIdentityAlreadyLinked when the
// identity-provider user id is already bound to another membership.
func (r *MembershipsRepository) Create(ctx context.Context, m *domain.Membership) error {
	query := `
		INSERT INTO memberships (id, order_id, user_id, email, status, purchased_at,
			activated_at, deactivated_at, claim_code_hash, claimed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := querier(ctx, r.db).ExecContext(ctx, query,
		m.ID, m.OrderID, m.UserID, m.Email, m.Status, m.PurchasedAt,
		m.ActivatedAt, m.DeactivatedAt, m.ClaimCodeHash, m.ClaimedAt, m.CreatedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		if m.UserID != nil {
			if _, lookupErr := r.GetByUserID(ctx, *m.UserID); lookupErr == nil {
				return domain.ErrIdentityAlreadyLinked
			}
		}
		return domain.ErrDuplicateOrder
	}
	return err
}

// Update writes the mutable lifecycle fields of a membership.
func (r *MembershipsRepository) Update(ctx context.Context, m *domain.Membership) error {
	query := `
		UPDATE memberships
		SET user_id = $1, status = $2, activated_at = $3, deactivated_at = $4,
		    claimed_at = $5, updated_at = $6
		WHERE id = $7
	`
	result, err := querier(ctx, r.db).ExecContext(ctx, query,
		m.UserID, m.Status, m.ActivatedAt, m.DeactivatedAt, m.ClaimedAt, m.UpdatedAt, m.ID,
	)
	if isUniqueViolation(err) {
		return domain.ErrIdentityAlreadyLinked
	}
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrMembershipNotFound
	}
	return nil
}

// GetByID retrieves a membership by ID.
func (r *MembershipsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE id = $1`, membershipColumns)
	return r.getOne(ctx, query, id)
}

// GetByIDForUpdate retrieves a membership by ID with a row lock.
func (r *MembershipsRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE id = $1 FOR UPDATE`, membershipColumns)
	return r.getOne(ctx, query, id)
}

// GetByOrderID retrieves a membership by payment-provider order id.
func (r *MembershipsRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE order_id = $1`, membershipColumns)
	return r.getOne(ctx, query, orderID)
}

// GetByOrderIDForUpdate retrieves a membership by order id with a row lock.
func (r *MembershipsRepository) GetByOrderIDForUpdate(ctx context.Context, orderID string) (*domain.Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE order_id = $1 FOR UPDATE`, membershipColumns)
	return r.getOne(ctx, query, orderID)
}

// GetByUserID retrieves the membership bound to an identity-provider user id.
func (r *MembershipsRepository) GetByUserID(ctx context.Context, userID string) (*domain.Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE user_id = $1`, membershipColumns)
	return r.getOne(ctx, query, userID)
}

// GetByUserIDForUpdate retrieves the membership bound to an identity-provider
// user id with a row lock.
func (r *MembershipsRepository) GetByUserIDForUpdate(ctx context.Context, userID string) (*domain.Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE user_id = $1 FOR UPDATE`, membershipColumns)
	return r.getOne(ctx, query, userID)
}

// CountActive returns the number of memberships holding a capacity slot.
// It first takes a transaction-scoped advisory lock so that concurrent
// count-then-insert sequences serialize on the capacity decision.
func (r *MembershipsRepository) CountActive(ctx context.Context) (int, error) {
	q := querier(ctx, r.db)
	if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, capacityLockKey); err != nil {
		return 0, fmt.Errorf("acquire capacity lock: %w", err)
	}

	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM memberships WHERE status = 'active'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active memberships: %w", err)
	}
	return count, nil
}

// NextWaitlistedForUpdate returns the waitlisted membership with the earliest
// purchase time, skipping rows locked by concurrent promoters so that parallel
// callers each obtain a different candidate.
func (r *MembershipsRepository) NextWaitlistedForUpdate(ctx context.Context) (*domain.Membership, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM memberships
		WHERE status = 'waitlisted'
		ORDER BY purchased_at ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, membershipColumns)
	return r.getOne(ctx, query)
}

// FirstClaimableByEmailForUpdate returns the earliest-purchased membership for
// the email that is not yet bound to an identity and not terminal.
func (r *MembershipsRepository) FirstClaimableByEmailForUpdate(ctx context.Context, email string) (*domain.Membership, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM memberships
		WHERE email = $1 AND user_id IS NULL AND status NOT IN ('canceled', 'refunded')
		ORDER BY purchased_at ASC, created_at ASC
		LIMIT 1
		FOR UPDATE
	`, membershipColumns)
	return r.getOne(ctx, query, email)
}

// List returns memberships ordered by purchase time, newest first.
func (r *MembershipsRepository) List(ctx context.Context, limit, offset int) ([]*domain.Membership, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM memberships
		ORDER BY purchased_at DESC
		LIMIT $1 OFFSET $2
	`, membershipColumns)

	rows, err := querier(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []*domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

func (r *MembershipsRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Membership, error) {
	m := &domain.Membership{}
	err := querier(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(
		&m.ID, &m.OrderID, &m.UserID, &m.Email, &m.Status, &m.PurchasedAt,
		&m.ActivatedAt, &m.DeactivatedAt, &m.ClaimCodeHash, &m.ClaimedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMembershipNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMembership(s rowScanner) (*domain.Membership, error) {
	m := &domain.Membership{}
	err := s.Scan(
		&m.ID, &m.OrderID, &m.UserID, &m.Email, &m.Status, &m.PurchasedAt,
		&m.ActivatedAt, &m.DeactivatedAt, &m.ClaimCodeHash, &m.ClaimedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
