package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketvault/hold-purchase-links/internal/domain"
)

// InsertLinkAccess appends one row to the visit log. The log is append-only;
// the only later mutation is the write-once conversion flag.
func (r *Repository) InsertLinkAccess(ctx context.Context, access domain.LinkAccess) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO link_accesses (id, link_id, user_id, ip_address, user_agent, referrer, session_id,
			resulted_in_purchase, accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, access.ID, access.LinkID, access.UserID, access.IPAddress, access.UserAgent, access.Referrer,
		access.SessionID, access.ResultedInPurchase, access.AccessedAt)
	return errors.Wrap(err, "insert link access")
}

// MarkAccessResultedInPurchase flips the conversion flag exactly once; a
// second call finds no row to update and is a no-op.
func (r *Repository) MarkAccessResultedInPurchase(ctx context.Context, tx pgx.Tx, accessID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE link_accesses SET resulted_in_purchase = TRUE
		WHERE id = $1 AND resulted_in_purchase = FALSE
	`, accessID)
	return errors.Wrap(err, "mark access converted")
}

func (r *Repository) GetLinkAccess(ctx context.Context, accessID uuid.UUID) (domain.LinkAccess, error) {
	var a domain.LinkAccess
	err := r.pool.QueryRow(ctx, `
		SELECT id, link_id, user_id, ip_address, user_agent, referrer, session_id, resulted_in_purchase, accessed_at
		FROM link_accesses WHERE id = $1
	`, accessID).Scan(&a.ID, &a.LinkID, &a.UserID, &a.IPAddress, &a.UserAgent, &a.Referrer,
		&a.SessionID, &a.ResultedInPurchase, &a.AccessedAt)
	if err == pgx.ErrNoRows {
		return domain.LinkAccess{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LinkAccess{}, errors.Wrap(err, "get link access")
	}
	return a, nil
}

// LinkConversion is a derived conversion-tracking view over the access log.
type LinkConversion struct {
	LinkID    uuid.UUID
	Visits    int
	Purchases int
}

func (r *Repository) GetLinkConversion(ctx context.Context, linkID uuid.UUID) (LinkConversion, error) {
	c := LinkConversion{LinkID: linkID}
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE resulted_in_purchase)
		FROM link_accesses WHERE link_id = $1
	`, linkID).Scan(&c.Visits, &c.Purchases)
	if err != nil {
		return LinkConversion{}, errors.Wrap(err, "link conversion")
	}
	return c, nil
}

func (r *Repository) InsertPurchase(ctx context.Context, tx pgx.Tx, p domain.Purchase) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO purchases (id, link_id, allocation_id, ticket_type_id, booking_id, transaction_id,
			user_id, access_id, quantity, unit_price, original_price, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.LinkID, p.AllocationID, p.TicketTypeID, p.BookingID, p.TransactionID,
		p.UserID, p.AccessID, p.Quantity, p.UnitPrice, p.OriginalPrice, p.Currency, p.CreatedAt)
	return errors.Wrap(err, "insert purchase")
}

func (r *Repository) ListPurchasesForLink(ctx context.Context, linkID uuid.UUID) ([]domain.Purchase, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, link_id, allocation_id, ticket_type_id, booking_id, transaction_id,
			user_id, access_id, quantity, unit_price, original_price, currency, created_at
		FROM purchases WHERE link_id = $1 ORDER BY created_at
	`, linkID)
	if err != nil {
		return nil, errors.Wrap(err, "list purchases")
	}
	defer rows.Close()

	var purchases []domain.Purchase
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.ID, &p.LinkID, &p.AllocationID, &p.TicketTypeID, &p.BookingID, &p.TransactionID,
			&p.UserID, &p.AccessID, &p.Quantity, &p.UnitPrice, &p.OriginalPrice, &p.Currency, &p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan purchase")
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}
