package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketvault/hold-purchase-links/internal/domain"
)

const linkColumns = `id, code, hold_id, assigned_user_id, quantity_mode, quantity_limit, quantity_purchased,
	status, expires_at, revoked_at, revoked_by, created_at, deleted_at`

func scanLink(row pgx.Row) (domain.PurchaseLink, error) {
	var l domain.PurchaseLink
	err := row.Scan(&l.ID, &l.Code, &l.HoldID, &l.AssignedUserID, &l.QuantityMode, &l.QuantityLimit,
		&l.QuantityPurchased, &l.Status, &l.ExpiresAt, &l.RevokedAt, &l.RevokedBy, &l.CreatedAt, &l.DeletedAt)
	if err == pgx.ErrNoRows {
		return domain.PurchaseLink{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PurchaseLink{}, errors.Wrap(err, "scan link")
	}
	return l, nil
}

// CreateLink inserts the link; a code collision surfaces as ErrConflict so the
// caller can regenerate.
func (r *Repository) CreateLink(ctx context.Context, tx pgx.Tx, link domain.PurchaseLink) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO purchase_links (id, code, hold_id, assigned_user_id, quantity_mode, quantity_limit,
			quantity_purchased, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, link.ID, link.Code, link.HoldID, link.AssignedUserID, link.QuantityMode, link.QuantityLimit,
		link.QuantityPurchased, link.Status, link.ExpiresAt, link.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return errors.Wrap(err, "insert link")
	}
	return nil
}

func (r *Repository) GetLinkByCode(ctx context.Context, code string) (domain.PurchaseLink, error) {
	return scanLink(r.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM purchase_links WHERE code = $1 AND deleted_at IS NULL`, code))
}

func (r *Repository) GetLink(ctx context.Context, linkID uuid.UUID) (domain.PurchaseLink, error) {
	return scanLink(r.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM purchase_links WHERE id = $1 AND deleted_at IS NULL`, linkID))
}

// GetLinkForUpdate locks the link row so concurrent purchases cannot move the
// purchased count under a caller re-validating limits.
func (r *Repository) GetLinkForUpdate(ctx context.Context, tx pgx.Tx, linkID uuid.UUID) (domain.PurchaseLink, error) {
	return scanLink(tx.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM purchase_links WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, linkID))
}

// RecordLinkPurchase mirrors RecordAllocationPurchase for the link quota:
// re-read under lock, re-validate against the quota mode, increment, and
// exhaust the link in the same transaction when the quota is drained.
func (r *Repository) RecordLinkPurchase(ctx context.Context, tx pgx.Tx, linkID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	var l domain.PurchaseLink
	err := tx.QueryRow(ctx, `
		SELECT id, quantity_mode, quantity_limit, quantity_purchased, status
		FROM purchase_links WHERE id = $1 AND deleted_at IS NULL FOR UPDATE
	`, linkID).Scan(&l.ID, &l.QuantityMode, &l.QuantityLimit, &l.QuantityPurchased, &l.Status)
	if err == pgx.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "lock link")
	}

	if l.Status != domain.LinkStatusActive || !l.CanPurchaseQuantity(quantity) {
		return domain.ErrLinkNotUsable
	}

	status := domain.LinkStatusActive
	if l.QuantityMode != domain.QuantityUnlimited && l.Remaining()-quantity <= 0 {
		status = domain.LinkStatusExhausted
	}
	_, err = tx.Exec(ctx, `
		UPDATE purchase_links SET quantity_purchased = quantity_purchased + $2, status = $3 WHERE id = $1
	`, linkID, quantity, status)
	return errors.Wrap(err, "increment link")
}

// RevokeLink transitions ACTIVE -> REVOKED. Revoking an already-revoked link
// is a no-op so audit timestamps are not overwritten.
func (r *Repository) RevokeLink(ctx context.Context, tx pgx.Tx, linkID, revokedBy uuid.UUID, now time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE purchase_links SET status = $2, revoked_at = $3, revoked_by = $4
		WHERE id = $1 AND status = $5 AND deleted_at IS NULL
	`, linkID, domain.LinkStatusRevoked, now, revokedBy, domain.LinkStatusActive)
	if err != nil {
		return errors.Wrap(err, "revoke link")
	}
	if tag.RowsAffected() == 0 {
		var status domain.LinkStatus
		err := tx.QueryRow(ctx, `SELECT status FROM purchase_links WHERE id = $1 AND deleted_at IS NULL`, linkID).Scan(&status)
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "read link status")
		}
		if status == domain.LinkStatusRevoked {
			return nil
		}
		return domain.ErrLinkNotUsable
	}
	return nil
}

// RevokeActiveLinksForHold force-revokes every ACTIVE link of a hold, as a
// side effect of releasing the hold.
func (r *Repository) RevokeActiveLinksForHold(ctx context.Context, tx pgx.Tx, holdID, revokedBy uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		UPDATE purchase_links SET status = $2, revoked_at = $3, revoked_by = $4
		WHERE hold_id = $1 AND status = $5 AND deleted_at IS NULL
		RETURNING id
	`, holdID, domain.LinkStatusRevoked, now, revokedBy, domain.LinkStatusActive)
	if err != nil {
		return nil, errors.Wrap(err, "revoke links for hold")
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

func (r *Repository) UpdateLink(ctx context.Context, tx pgx.Tx, linkID uuid.UUID, quantityLimit *int, expiresAt *time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE purchase_links SET quantity_limit = $2, expires_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`, linkID, quantityLimit, expiresAt)
	if err != nil {
		return errors.Wrap(err, "update link")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) MarkLinkExpired(ctx context.Context, linkID uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE purchase_links SET status = $2
		WHERE id = $1 AND status = $3 AND expires_at IS NOT NULL AND expires_at <= $4 AND deleted_at IS NULL
	`, linkID, domain.LinkStatusExpired, domain.LinkStatusActive, now)
	if err != nil {
		return false, errors.Wrap(err, "mark link expired")
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) MarkLinksExpired(ctx context.Context, tx pgx.Tx, now time.Time) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		UPDATE purchase_links SET status = $1
		WHERE status = $2 AND expires_at IS NOT NULL AND expires_at <= $3 AND deleted_at IS NULL
		RETURNING id
	`, domain.LinkStatusExpired, domain.LinkStatusActive, now)
	if err != nil {
		return nil, errors.Wrap(err, "mark links expired")
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

func (r *Repository) SoftDeleteLink(ctx context.Context, linkID uuid.UUID, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE purchase_links SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL
	`, linkID, now)
	if err != nil {
		return errors.Wrap(err, "soft delete link")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
