package app

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/ticketvault/hold-purchase-links/internal/clock"
	"github.com/ticketvault/hold-purchase-links/internal/domain"
	"github.com/ticketvault/hold-purchase-links/internal/observability"
	"golang.org/x/sync/errgroup"
)

func newPurchaseService(store *fakeStore, catalog *fakeCatalog, bookings *fakeBookings) *PurchaseService {
	return NewPurchaseService(store, catalog, bookings, fakeAudit{}, clock.NewFixed(testTime), observability.NewLogger(), "USD")
}

type purchaseFixture struct {
	store    *fakeStore
	catalog  *fakeCatalog
	bookings *fakeBookings
	svc      *PurchaseService
	hold     domain.Hold
	link     domain.PurchaseLink
}

func newPurchaseFixture(t *testing.T, allocQty int, mode domain.QuantityMode, limit *int) *purchaseFixture {
	t.Helper()
	store := newFakeStore()
	catalog := newFakeCatalog()
	bookings := &fakeBookings{}

	hold := seedHold(t, store, catalog, allocQty)
	link, err := newLinkService(store).Create(context.Background(), CreateLinkInput{
		HoldID:       hold.ID,
		QuantityMode: mode,
		QuantityLimit: limit,
	})
	if err != nil {
		t.Fatal(err)
	}

	return &purchaseFixture{
		store:    store,
		catalog:  catalog,
		bookings: bookings,
		svc:      newPurchaseService(store, catalog, bookings),
		hold:     hold,
		link:     link,
	}
}

func TestPurchaseService_ProcessPurchase(t *testing.T) {
	ctx := context.Background()

	t.Run("commits counters, purchase rows, and the event together", func(t *testing.T) {
		f := newPurchaseFixture(t, 10, domain.QuantityUnlimited, nil)
		allocID := f.hold.Allocations[0].ID

		result, err := f.svc.ProcessPurchase(ctx, ProcessPurchaseInput{
			LinkCode: f.link.Code,
			Items:    []PurchaseItem{{AllocationID: allocID, Quantity: 3}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if result.Total != 3*5000 {
			t.Fatalf("total: got %d", result.Total)
		}
		if result.BookingID == uuid.Nil || result.TransactionID == uuid.Nil {
			t.Fatal("missing booking references")
		}

		hold, _ := f.store.GetHold(ctx, f.hold.ID)
		if hold.Allocations[0].PurchasedQuantity != 3 {
			t.Fatalf("allocation purchased: got %d", hold.Allocations[0].PurchasedQuantity)
		}
		link, _ := f.store.GetLink(ctx, f.link.ID)
		if link.QuantityPurchased != 3 {
			t.Fatalf("link purchased: got %d", link.QuantityPurchased)
		}
		if len(f.store.purchases) != 1 {
			t.Fatalf("purchase rows: got %d", len(f.store.purchases))
		}
		if f.store.purchases[0].UnitPrice != 5000 || f.store.purchases[0].Quantity != 3 {
			t.Fatalf("purchase row: %+v", f.store.purchases[0])
		}

		completed := 0
		for _, typ := range f.store.outboxEventTypes() {
			if typ == "purchase.completed" {
				completed++
			}
		}
		if completed != 1 {
			t.Fatalf("purchase.completed events: got %d", completed)
		}
	})

	t.Run("booking failure leaves no trace", func(t *testing.T) {
		f := newPurchaseFixture(t, 10, domain.QuantityUnlimited, nil)
		f.bookings.err = context.DeadlineExceeded
		allocID := f.hold.Allocations[0].ID

		_, err := f.svc.ProcessPurchase(ctx, ProcessPurchaseInput{
			LinkCode: f.link.Code,
			Items:    []PurchaseItem{{AllocationID: allocID, Quantity: 3}},
		})
		if err == nil {
			t.Fatal("expected failure")
		}
		hold, _ := f.store.GetHold(ctx, f.hold.ID)
		if hold.Allocations[0].PurchasedQuantity != 0 {
			t.Fatalf("allocation purchased after rollback: got %d", hold.Allocations[0].PurchasedQuantity)
		}
		link, _ := f.store.GetLink(ctx, f.link.ID)
		if link.QuantityPurchased != 0 {
			t.Fatalf("link purchased after rollback: got %d", link.QuantityPurchased)
		}
		if len(f.store.purchases) != 0 {
			t.Fatal("purchase row must not survive the rollback")
		}
	})

	t.Run("marks the originating access as converted", func(t *testing.T) {
		f := newPurchaseFixture(t, 10, domain.QuantityUnlimited, nil)
		allocID := f.hold.Allocations[0].ID

		access, err := newLinkService(f.store).RecordAccess(ctx, RecordAccessInput{LinkCode: f.link.Code})
		if err != nil {
			t.Fatal(err)
		}

		if _, err := f.svc.ProcessPurchase(ctx, ProcessPurchaseInput{
			LinkCode: f.link.Code,
			AccessID: &access.ID,
			Items:    []PurchaseItem{{AllocationID: allocID, Quantity: 1}},
		}); err != nil {
			t.Fatal(err)
		}
		if !f.store.accesses[access.ID].ResultedInPurchase {
			t.Fatal("access not marked converted")
		}
	})

	t.Run("bound link rejects other buyers", func(t *testing.T) {
		store := newFakeStore()
		catalog := newFakeCatalog()
		hold := seedHold(t, store, catalog, 10)
		owner := uuid.New()
		stranger := uuid.New()
		link, err := newLinkService(store).Create(ctx, CreateLinkInput{
			HoldID:         hold.ID,
			QuantityMode:   domain.QuantityUnlimited,
			AssignedUserID: &owner,
		})
		if err != nil {
			t.Fatal(err)
		}
		svc := newPurchaseService(store, catalog, &fakeBookings{})
		items := []PurchaseItem{{AllocationID: hold.Allocations[0].ID, Quantity: 1}}

		if _, err := svc.ProcessPurchase(ctx, ProcessPurchaseInput{LinkCode: link.Code, UserID: &stranger, Items: items}); err != domain.ErrUserNotAuthorizedForLink {
			t.Fatalf("stranger: got %v", err)
		}
		if _, err := svc.ProcessPurchase(ctx, ProcessPurchaseInput{LinkCode: link.Code, Items: items}); err != domain.ErrUserNotAuthorizedForLink {
			t.Fatalf("anonymous: got %v", err)
		}
		if _, err := svc.ProcessPurchase(ctx, ProcessPurchaseInput{LinkCode: link.Code, UserID: &owner, Items: items}); err != nil {
			t.Fatalf("owner: got %v", err)
		}
	})

	t.Run("fixed quota is all or nothing", func(t *testing.T) {
		f := newPurchaseFixture(t, 20, domain.QuantityFixed, intPtr(5))
		allocID := f.hold.Allocations[0].ID

		for _, qty := range []int{4, 6} {
			if _, err := f.svc.ProcessPurchase(ctx, ProcessPurchaseInput{
				LinkCode: f.link.Code,
				Items:    []PurchaseItem{{AllocationID: allocID, Quantity: qty}},
			}); err != domain.ErrLinkNotUsable {
				t.Fatalf("qty %d: got %v", qty, err)
			}
		}

		if _, err := f.svc.ProcessPurchase(ctx, ProcessPurchaseInput{
			LinkCode: f.link.Code,
			Items:    []PurchaseItem{{AllocationID: allocID, Quantity: 5}},
		}); err != nil {
			t.Fatalf("exact quota: got %v", err)
		}

		link, _ := f.store.GetLink(ctx, f.link.ID)
		if link.Status != domain.LinkStatusExhausted {
			t.Fatalf("status after draining quota: got %s", link.Status)
		}
	})

	t.Run("maximum quota caps the running total", func(t *testing.T) {
		f := newPurchaseFixture(t, 100, domain.QuantityMaximum, intPtr(40))
		allocID := f.hold.Allocations[0].ID

		if _, err := f.svc.ProcessPurchase(ctx, ProcessPurchaseInput{
			LinkCode: f.link.Code,
			Items:    []PurchaseItem{{AllocationID: allocID, Quantity: 25}},
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := f.svc.ProcessPurchase(ctx, ProcessPurchaseInput{
			LinkCode: f.link.Code,
			Items:    []PurchaseItem{{AllocationID: allocID, Quantity: 16}},
		}); err != domain.ErrLinkNotUsable {
			t.Fatalf("over remaining quota: got %v", err)
		}
		if _, err := f.svc.ProcessPurchase(ctx, ProcessPurchaseInput{
			LinkCode: f.link.Code,
			Items:    []PurchaseItem{{AllocationID: allocID, Quantity: 15}},
		}); err != nil {
			t.Fatalf("exactly remaining quota: got %v", err)
		}
	})

	t.Run("exhausts the hold only when every allocation is drained", func(t *testing.T) {
		store := newFakeStore()
		catalog := newFakeCatalog()
		tt1 := seedTicketType(catalog, 100, 5000)
		tt2 := seedTicketType(catalog, 100, 3000)
		hold, err := newHoldService(store, catalog).CreateHold(ctx, CreateHoldInput{
			OccurrenceID: uuid.New(),
			OrganizerID:  uuid.New(),
			Allocations: []AllocationInput{
				{TicketTypeID: tt1, Quantity: 2, PricingMode: domain.PricingOriginal},
				{TicketTypeID: tt2, Quantity: 3, PricingMode: domain.PricingOriginal},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		link, err := newLinkService(store).Create(ctx, CreateLinkInput{HoldID: hold.ID, QuantityMode: domain.QuantityUnlimited})
		if err != nil {
			t.Fatal(err)
		}
		svc := newPurchaseService(store, catalog, &fakeBookings{})

		if _, err := svc.ProcessPurchase(ctx, ProcessPurchaseInput{
			LinkCode: link.Code,
			Items:    []PurchaseItem{{AllocationID: hold.Allocations[0].ID, Quantity: 2}},
		}); err != nil {
			t.Fatal(err)
		}
		mid, _ := store.GetHold(ctx, hold.ID)
		if mid.Status != domain.HoldStatusActive {
			t.Fatalf("hold with remaining inventory: got %s", mid.Status)
		}

		if _, err := svc.ProcessPurchase(ctx, ProcessPurchaseInput{
			LinkCode: link.Code,
			Items:    []PurchaseItem{{AllocationID: hold.Allocations[1].ID, Quantity: 3}},
		}); err != nil {
			t.Fatal(err)
		}
		done, _ := store.GetHold(ctx, hold.ID)
		if done.Status != domain.HoldStatusExhausted {
			t.Fatalf("fully drained hold: got %s", done.Status)
		}
	})

	t.Run("multi allocation order prices each line by its own mode", func(t *testing.T) {
		store := newFakeStore()
		catalog := newFakeCatalog()
		tt1 := seedTicketType(catalog, 100, 5000)
		tt2 := seedTicketType(catalog, 100, 8000)
		fixed := int64(2500)
		pct := 50.0
		hold, err := newHoldService(store, catalog).CreateHold(ctx, CreateHoldInput{
			OccurrenceID: uuid.New(),
			OrganizerID:  uuid.New(),
			Allocations: []AllocationInput{
				{TicketTypeID: tt1, Quantity: 10, PricingMode: domain.PricingFixed, CustomPrice: &fixed},
				{TicketTypeID: tt2, Quantity: 10, PricingMode: domain.PricingPercentageDiscount, DiscountPercent: &pct},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		link, err := newLinkService(store).Create(ctx, CreateLinkInput{HoldID: hold.ID, QuantityMode: domain.QuantityUnlimited})
		if err != nil {
			t.Fatal(err)
		}
		svc := newPurchaseService(store, catalog, &fakeBookings{})

		total, err := svc.CalculateOrderTotal(ctx, link.Code, nil, []PurchaseItem{
			{AllocationID: hold.Allocations[0].ID, Quantity: 2},
			{AllocationID: hold.Allocations[1].ID, Quantity: 1},
		})
		if err != nil {
			t.Fatal(err)
		}
		// 2*2500 fixed + 1*4000 half price
		if total.Total != 9000 {
			t.Fatalf("total: got %d", total.Total)
		}

		result, err := svc.ProcessPurchase(ctx, ProcessPurchaseInput{
			LinkCode: link.Code,
			Items: []PurchaseItem{
				{AllocationID: hold.Allocations[0].ID, Quantity: 2},
				{AllocationID: hold.Allocations[1].ID, Quantity: 1},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if result.Total != 9000 {
			t.Fatalf("purchase total: got %d", result.Total)
		}
		if len(result.Purchases) != 2 {
			t.Fatalf("purchase rows: got %d", len(result.Purchases))
		}
	})

	t.Run("rejects unknown allocations and bad quantities", func(t *testing.T) {
		f := newPurchaseFixture(t, 10, domain.QuantityUnlimited, nil)

		if _, err := f.svc.ProcessPurchase(ctx, ProcessPurchaseInput{LinkCode: f.link.Code}); err != domain.ErrInvalidQuantity {
			t.Fatalf("no items: got %v", err)
		}
		if _, err := f.svc.ProcessPurchase(ctx, ProcessPurchaseInput{
			LinkCode: f.link.Code,
			Items:    []PurchaseItem{{AllocationID: f.hold.Allocations[0].ID, Quantity: 0}},
		}); err != domain.ErrInvalidQuantity {
			t.Fatalf("zero quantity: got %v", err)
		}
		if _, err := f.svc.ProcessPurchase(ctx, ProcessPurchaseInput{
			LinkCode: f.link.Code,
			Items:    []PurchaseItem{{AllocationID: uuid.New(), Quantity: 1}},
		}); err != domain.ErrNotFound {
			t.Fatalf("unknown allocation: got %v", err)
		}
	})
}

// Twenty buyers race for ten tickets; exactly ten succeed and the counter
// never passes the allocation.
func TestPurchaseService_ConcurrentOversell(t *testing.T) {
	ctx := context.Background()
	f := newPurchaseFixture(t, 10, domain.QuantityUnlimited, nil)
	allocID := f.hold.Allocations[0].ID

	var mu sync.Mutex
	succeeded, rejected := 0, 0

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := f.svc.ProcessPurchase(ctx, ProcessPurchaseInput{
				LinkCode: f.link.Code,
				Items:    []PurchaseItem{{AllocationID: allocID, Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				succeeded++
			case domain.ErrInsufficientHoldInventory, domain.ErrLinkNotUsable:
				rejected++
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if succeeded != 10 || rejected != 10 {
		t.Fatalf("got %d successes and %d rejections", succeeded, rejected)
	}
	hold, _ := f.store.GetHold(ctx, f.hold.ID)
	if hold.Allocations[0].PurchasedQuantity != 10 {
		t.Fatalf("purchased: got %d", hold.Allocations[0].PurchasedQuantity)
	}
	if hold.Status != domain.HoldStatusExhausted {
		t.Fatalf("hold status: got %s", hold.Status)
	}
}
