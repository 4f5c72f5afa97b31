package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketvault/hold-purchase-links/internal/adapters/crdb"
	"github.com/ticketvault/hold-purchase-links/internal/clock"
	"github.com/ticketvault/hold-purchase-links/internal/domain"
	"github.com/ticketvault/hold-purchase-links/internal/observability"
)

type LinkRepository interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	CreateLink(ctx context.Context, tx pgx.Tx, link domain.PurchaseLink) error
	GetLink(ctx context.Context, linkID uuid.UUID) (domain.PurchaseLink, error)
	GetLinkByCode(ctx context.Context, code string) (domain.PurchaseLink, error)
	GetLinkForUpdate(ctx context.Context, tx pgx.Tx, linkID uuid.UUID) (domain.PurchaseLink, error)
	GetHold(ctx context.Context, holdID uuid.UUID) (domain.Hold, error)
	RevokeLink(ctx context.Context, tx pgx.Tx, linkID, revokedBy uuid.UUID, now time.Time) error
	UpdateLink(ctx context.Context, tx pgx.Tx, linkID uuid.UUID, quantityLimit *int, expiresAt *time.Time) error
	MarkLinkExpired(ctx context.Context, linkID uuid.UUID, now time.Time) (bool, error)
	MarkLinksExpired(ctx context.Context, tx pgx.Tx, now time.Time) ([]uuid.UUID, error)
	SoftDeleteLink(ctx context.Context, linkID uuid.UUID, now time.Time) error
	InsertLinkAccess(ctx context.Context, access domain.LinkAccess) error
	InsertOutbox(ctx context.Context, tx pgx.Tx, record crdb.OutboxRecord) error
}

type LinkService struct {
	repo        LinkRepository
	audit       AuditTrail
	clock       clock.Clock
	logger      observability.Logger
	codeLength  int
	codeRetries int
}

func NewLinkService(repo LinkRepository, audit AuditTrail, clk clock.Clock, logger observability.Logger, codeLength, codeRetries int) *LinkService {
	return &LinkService{
		repo:        repo,
		audit:       audit,
		clock:       clk,
		logger:      logger,
		codeLength:  codeLength,
		codeRetries: codeRetries,
	}
}

type CreateLinkInput struct {
	HoldID         uuid.UUID
	QuantityMode   domain.QuantityMode
	QuantityLimit  *int
	AssignedUserID *uuid.UUID
	ExpiresAt      *time.Time
}

// Create issues a new purchase link against a usable hold. The random code is
// regenerated on collision a bounded number of times; running out of attempts
// is a hard failure, not something to retry forever.
func (s *LinkService) Create(ctx context.Context, in CreateLinkInput) (domain.PurchaseLink, error) {
	now := s.clock.Now()

	hold, err := s.repo.GetHold(ctx, in.HoldID)
	if err != nil {
		return domain.PurchaseLink{}, err
	}
	if !hold.IsUsable(now) {
		return domain.PurchaseLink{}, domain.ErrHoldNotActive
	}

	for attempt := 0; attempt < s.codeRetries; attempt++ {
		code, err := domain.NewLinkCode(s.codeLength)
		if err != nil {
			return domain.PurchaseLink{}, err
		}
		link, err := domain.NewPurchaseLink(in.HoldID, code, in.QuantityMode, in.QuantityLimit, in.AssignedUserID, in.ExpiresAt, now)
		if err != nil {
			return domain.PurchaseLink{}, err
		}

		err = s.repo.WithTx(ctx, func(tx pgx.Tx) error {
			if err := s.repo.CreateLink(ctx, tx, link); err != nil {
				return err
			}
			return s.repo.InsertOutbox(ctx, tx, crdb.NewOutboxRecord("link", link.ID, "link.created", map[string]interface{}{
				"link_id": link.ID,
				"hold_id": link.HoldID,
			}))
		})
		if err == domain.ErrConflict {
			s.logger.WithField("attempt", attempt+1).Warn("link code collision, regenerating")
			continue
		}
		if err != nil {
			return domain.PurchaseLink{}, err
		}

		s.audit.LogLinkCreated(ctx, link)
		return link, nil
	}
	return domain.PurchaseLink{}, domain.ErrLinkCodeSpaceExhausted
}

type UpdateLinkInput struct {
	QuantityLimit *int
	ExpiresAt     *time.Time
}

// Update patches the link's quantity limit and/or expiry. Fields left nil keep
// their current values. The limit floor is validated against the purchased
// count re-read under lock, so a purchase committing concurrently cannot leave
// the limit below what was already sold.
func (s *LinkService) Update(ctx context.Context, linkID uuid.UUID, in UpdateLinkInput) error {
	now := s.clock.Now()

	link, err := s.repo.GetLink(ctx, linkID)
	if err != nil {
		return err
	}
	hold, err := s.repo.GetHold(ctx, link.HoldID)
	if err != nil {
		return err
	}
	if !hold.IsUsable(now) {
		return domain.ErrHoldNotActive
	}
	if link.QuantityMode == domain.QuantityUnlimited && in.QuantityLimit != nil {
		return domain.ErrInvalidQuantity
	}

	return s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		locked, err := s.repo.GetLinkForUpdate(ctx, tx, linkID)
		if err != nil {
			return err
		}

		limit := locked.QuantityLimit
		if in.QuantityLimit != nil {
			limit = in.QuantityLimit
		}
		expiresAt := locked.ExpiresAt
		if in.ExpiresAt != nil {
			expiresAt = in.ExpiresAt
		}

		if locked.QuantityMode != domain.QuantityUnlimited {
			if limit == nil || *limit <= 0 || *limit < locked.QuantityPurchased {
				return domain.ErrInvalidQuantity
			}
		}

		return s.repo.UpdateLink(ctx, tx, linkID, limit, expiresAt)
	})
}

// Revoke is idempotent: revoking an already-revoked link succeeds without
// touching its audit timestamps.
func (s *LinkService) Revoke(ctx context.Context, linkID, actor uuid.UUID) error {
	now := s.clock.Now()

	link, err := s.repo.GetLink(ctx, linkID)
	if err != nil {
		return err
	}
	if link.Status == domain.LinkStatusRevoked {
		return nil
	}

	err = s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.RevokeLink(ctx, tx, linkID, actor, now); err != nil {
			return err
		}
		return s.repo.InsertOutbox(ctx, tx, crdb.NewOutboxRecord("link", linkID, "link.revoked", map[string]interface{}{
			"link_id": linkID,
		}))
	})
	if err != nil {
		return err
	}
	s.audit.LogLinkRevoked(ctx, linkID, actor)
	return nil
}

func (s *LinkService) CheckAndUpdateExpiration(ctx context.Context, linkID uuid.UUID) (bool, error) {
	return s.repo.MarkLinkExpired(ctx, linkID, s.clock.Now())
}

func (s *LinkService) UpdateExpiredLinks(ctx context.Context) (int, error) {
	now := s.clock.Now()
	var expired []uuid.UUID
	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		expired, err = s.repo.MarkLinksExpired(ctx, tx, now)
		if err != nil {
			return err
		}
		for _, id := range expired {
			if err := s.repo.InsertOutbox(ctx, tx, crdb.NewOutboxRecord("link", id, "link.expired", map[string]interface{}{
				"link_id": id,
			})); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

type RecordAccessInput struct {
	LinkCode  string
	UserID    *uuid.UUID
	IPAddress string
	UserAgent string
	Referrer  string
	SessionID string
}

// RecordAccess appends a visit to the link's access log. Every visit is
// recorded, usable link or not; conversion tracking needs the misses too.
func (s *LinkService) RecordAccess(ctx context.Context, in RecordAccessInput) (domain.LinkAccess, error) {
	link, err := s.repo.GetLinkByCode(ctx, in.LinkCode)
	if err != nil {
		return domain.LinkAccess{}, err
	}

	access := domain.NewLinkAccess(link.ID, in.UserID, in.IPAddress, in.UserAgent, in.Referrer, in.SessionID, s.clock.Now())
	if err := s.repo.InsertLinkAccess(ctx, access); err != nil {
		return domain.LinkAccess{}, err
	}
	observability.LinkAccessesTotal.Inc()
	return access, nil
}

type LinkValidation struct {
	Link domain.PurchaseLink
	Hold domain.Hold
}

// ValidateForUser wraps the usability and authorization checks a storefront
// runs before showing the purchase page.
func (s *LinkService) ValidateForUser(ctx context.Context, code string, userID *uuid.UUID) (LinkValidation, error) {
	now := s.clock.Now()

	link, err := s.repo.GetLinkByCode(ctx, code)
	if err == domain.ErrNotFound {
		return LinkValidation{}, domain.ErrLinkNotUsable
	}
	if err != nil {
		return LinkValidation{}, err
	}
	hold, err := s.repo.GetHold(ctx, link.HoldID)
	if err == domain.ErrNotFound {
		return LinkValidation{}, domain.ErrLinkNotUsable
	}
	if err != nil {
		return LinkValidation{}, err
	}
	if !link.IsUsable(now, hold) {
		return LinkValidation{}, domain.ErrLinkNotUsable
	}
	if !link.CanBeUsedByUser(userID) {
		return LinkValidation{}, domain.ErrUserNotAuthorizedForLink
	}
	return LinkValidation{Link: link, Hold: hold}, nil
}

func (s *LinkService) DeleteLink(ctx context.Context, linkID uuid.UUID) error {
	return s.repo.SoftDeleteLink(ctx, linkID, s.clock.Now())
}
