package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketvault/hold-purchase-links/internal/domain"
)

func (r *Repository) CreateHold(ctx context.Context, tx pgx.Tx, hold domain.Hold) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO holds (id, occurrence_id, organizer_id, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, hold.ID, hold.OccurrenceID, hold.OrganizerID, hold.Status, hold.ExpiresAt, hold.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert hold")
	}
	for _, a := range hold.Allocations {
		if err := r.InsertAllocation(ctx, tx, a); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) InsertAllocation(ctx context.Context, tx pgx.Tx, a domain.Allocation) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO allocations (id, hold_id, ticket_type_id, allocated_quantity, purchased_quantity,
			pricing_mode, custom_price, discount_percent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.HoldID, a.TicketTypeID, a.AllocatedQuantity, a.PurchasedQuantity,
		a.PricingMode, a.CustomPrice, a.DiscountPercent, a.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert allocation")
	}
	return nil
}

const holdColumns = `id, occurrence_id, organizer_id, status, expires_at, released_at, released_by, created_at, deleted_at`

func scanHold(row pgx.Row) (domain.Hold, error) {
	var h domain.Hold
	err := row.Scan(&h.ID, &h.OccurrenceID, &h.OrganizerID, &h.Status, &h.ExpiresAt,
		&h.ReleasedAt, &h.ReleasedBy, &h.CreatedAt, &h.DeletedAt)
	if err == pgx.ErrNoRows {
		return domain.Hold{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Hold{}, errors.Wrap(err, "scan hold")
	}
	return h, nil
}

// GetHold loads a hold with its allocations. Soft-deleted holds are invisible.
func (r *Repository) GetHold(ctx context.Context, holdID uuid.UUID) (domain.Hold, error) {
	h, err := scanHold(r.pool.QueryRow(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE id = $1 AND deleted_at IS NULL`, holdID))
	if err != nil {
		return domain.Hold{}, err
	}
	allocations, err := r.loadAllocations(ctx, r.pool, holdID)
	if err != nil {
		return domain.Hold{}, err
	}
	h.Allocations = allocations
	return h, nil
}

// GetHoldForUpdate locks the hold row for the duration of the transaction.
func (r *Repository) GetHoldForUpdate(ctx context.Context, tx pgx.Tx, holdID uuid.UUID) (domain.Hold, error) {
	h, err := scanHold(tx.QueryRow(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, holdID))
	if err != nil {
		return domain.Hold{}, err
	}
	allocations, err := r.loadAllocations(ctx, tx, holdID)
	if err != nil {
		return domain.Hold{}, err
	}
	h.Allocations = allocations
	return h, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repository) loadAllocations(ctx context.Context, q querier, holdID uuid.UUID) ([]domain.Allocation, error) {
	rows, err := q.Query(ctx, `
		SELECT id, hold_id, ticket_type_id, allocated_quantity, purchased_quantity,
			pricing_mode, custom_price, discount_percent, created_at
		FROM allocations WHERE hold_id = $1 ORDER BY created_at, id
	`, holdID)
	if err != nil {
		return nil, errors.Wrap(err, "load allocations")
	}
	defer rows.Close()

	var allocations []domain.Allocation
	for rows.Next() {
		var a domain.Allocation
		if err := rows.Scan(&a.ID, &a.HoldID, &a.TicketTypeID, &a.AllocatedQuantity, &a.PurchasedQuantity,
			&a.PricingMode, &a.CustomPrice, &a.DiscountPercent, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan allocation")
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

// RecordAllocationPurchase re-reads the allocation under a row-level exclusive
// lock, re-validates remaining capacity, and applies the increment. Two
// concurrent callers serialize on the lock; the loser re-validates against the
// committed counter and is rejected instead of overselling. After the
// increment the owning hold is marked EXHAUSTED when no allocation has
// capacity left.
func (r *Repository) RecordAllocationPurchase(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	var holdID uuid.UUID
	var allocated, purchased int
	err := tx.QueryRow(ctx, `
		SELECT hold_id, allocated_quantity, purchased_quantity
		FROM allocations WHERE id = $1 FOR UPDATE
	`, allocationID).Scan(&holdID, &allocated, &purchased)
	if err == pgx.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "lock allocation")
	}

	if purchased+quantity > allocated {
		return domain.ErrInsufficientHoldInventory
	}

	_, err = tx.Exec(ctx, `
		UPDATE allocations SET purchased_quantity = purchased_quantity + $2 WHERE id = $1
	`, allocationID, quantity)
	if err != nil {
		return errors.Wrap(err, "increment allocation")
	}

	var remaining int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(allocated_quantity - purchased_quantity), 0)
		FROM allocations WHERE hold_id = $1
	`, holdID).Scan(&remaining)
	if err != nil {
		return errors.Wrap(err, "sum remaining")
	}
	if remaining == 0 {
		_, err = tx.Exec(ctx, `
			UPDATE holds SET status = $2 WHERE id = $1 AND status = $3
		`, holdID, domain.HoldStatusExhausted, domain.HoldStatusActive)
		if err != nil {
			return errors.Wrap(err, "exhaust hold")
		}
	}
	return nil
}

// UpdateAllocationQuantity changes the allocated quantity under lock. The new
// quantity may not undercut what has already been purchased.
func (r *Repository) UpdateAllocationQuantity(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID, quantity int) error {
	var purchased int
	err := tx.QueryRow(ctx, `
		SELECT purchased_quantity FROM allocations WHERE id = $1 FOR UPDATE
	`, allocationID).Scan(&purchased)
	if err == pgx.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "lock allocation")
	}
	if quantity < purchased {
		return domain.ErrInvalidQuantity
	}
	_, err = tx.Exec(ctx, `
		UPDATE allocations SET allocated_quantity = $2 WHERE id = $1
	`, allocationID, quantity)
	return errors.Wrap(err, "update allocation quantity")
}

// ReleaseHold transitions ACTIVE -> RELEASED. Releasing an already-released
// hold is a no-op that keeps the original audit timestamps.
func (r *Repository) ReleaseHold(ctx context.Context, tx pgx.Tx, holdID, releasedBy uuid.UUID, now time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE holds SET status = $2, released_at = $3, released_by = $4
		WHERE id = $1 AND status = $5 AND deleted_at IS NULL
	`, holdID, domain.HoldStatusReleased, now, releasedBy, domain.HoldStatusActive)
	if err != nil {
		return errors.Wrap(err, "release hold")
	}
	if tag.RowsAffected() == 0 {
		var status domain.HoldStatus
		err := tx.QueryRow(ctx, `SELECT status FROM holds WHERE id = $1 AND deleted_at IS NULL`, holdID).Scan(&status)
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "read hold status")
		}
		if status == domain.HoldStatusReleased {
			return nil
		}
		return domain.ErrHoldNotActive
	}
	return nil
}

func (r *Repository) UpdateHoldExpiresAt(ctx context.Context, tx pgx.Tx, holdID uuid.UUID, expiresAt *time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE holds SET expires_at = $2 WHERE id = $1 AND deleted_at IS NULL
	`, holdID, expiresAt)
	if err != nil {
		return errors.Wrap(err, "update hold expiry")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkHoldExpired persists the lazy ACTIVE -> EXPIRED transition for one hold.
// Returns true when the transition actually fired.
func (r *Repository) MarkHoldExpired(ctx context.Context, holdID uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE holds SET status = $2
		WHERE id = $1 AND status = $3 AND expires_at IS NOT NULL AND expires_at <= $4 AND deleted_at IS NULL
	`, holdID, domain.HoldStatusExpired, domain.HoldStatusActive, now)
	if err != nil {
		return false, errors.Wrap(err, "mark hold expired")
	}
	return tag.RowsAffected() > 0, nil
}

// MarkHoldsExpired is the bulk sweep invoked by the expiry worker.
func (r *Repository) MarkHoldsExpired(ctx context.Context, tx pgx.Tx, now time.Time) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		UPDATE holds SET status = $1
		WHERE status = $2 AND expires_at IS NOT NULL AND expires_at <= $3 AND deleted_at IS NULL
		RETURNING id
	`, domain.HoldStatusExpired, domain.HoldStatusActive, now)
	if err != nil {
		return nil, errors.Wrap(err, "mark holds expired")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) SoftDeleteHold(ctx context.Context, holdID uuid.UUID, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE holds SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL
	`, holdID, now)
	if err != nil {
		return errors.Wrap(err, "soft delete hold")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// HoldSummary is the derived read-model for dashboards. The authoritative
// counters live on the allocation rows; this is never persisted.
type HoldSummary struct {
	HoldID         uuid.UUID
	TotalAllocated int
	TotalPurchased int
	TotalRemaining int
}

func (r *Repository) GetHoldSummary(ctx context.Context, holdID uuid.UUID) (HoldSummary, error) {
	s := HoldSummary{HoldID: holdID}
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(allocated_quantity), 0),
			COALESCE(SUM(purchased_quantity), 0),
			COALESCE(SUM(allocated_quantity - purchased_quantity), 0)
		FROM allocations WHERE hold_id = $1
	`, holdID).Scan(&s.TotalAllocated, &s.TotalPurchased, &s.TotalRemaining)
	if err != nil {
		return HoldSummary{}, errors.Wrap(err, "hold summary")
	}
	return s, nil
}
