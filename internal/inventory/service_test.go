package inventory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/internal/listings"
	"github.com/keymarket/keymarket-backend/pkg/db/dbtest"
	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
)

type fixture struct {
	conn     *gorm.DB
	svc      Service
	listings listings.Service
	clock    *fakeClock
	seller   uuid.UUID
	listing  *models.Listing
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T, units int) *fixture {
	t.Helper()
	conn := dbtest.Open(t, "inventory")

	listingSvc, err := listings.NewService(conn, listings.NewRepository(conn))
	require.NoError(t, err)

	clock := &fakeClock{now: time.Now().UTC()}
	svc, err := NewService(ServiceParams{
		DB:             conn,
		Repo:           NewRepository(conn),
		Listings:       listingSvc,
		ReservationTTL: 10 * time.Minute,
		Now:            clock.Now,
	})
	require.NoError(t, err)

	seller := uuid.New()
	listing, err := listingSvc.Create(context.Background(), listings.CreateInput{
		SellerID:  seller,
		Title:     "Game keys",
		Category:  enums.ListingCategoryDiscrete,
		UnitPrice: decimal.NewFromInt(100),
		Status:    enums.ListingStatusActive,
	})
	require.NoError(t, err)

	f := &fixture{conn: conn, svc: svc, listings: listingSvc, clock: clock, seller: seller, listing: listing}
	if units > 0 {
		payloads := make([]string, units)
		for i := range payloads {
			payloads[i] = fmt.Sprintf("KEY-%04d", i)
		}
		_, err := svc.AddUnits(context.Background(), seller, listing.ID, payloads)
		require.NoError(t, err)
	}
	return f
}

func TestReserveReturnsNilWhenEmpty(t *testing.T) {
	f := newFixture(t, 0)
	unit, err := f.svc.Reserve(context.Background(), nil, f.listing.ID, uuid.New())
	require.NoError(t, err)
	require.Nil(t, unit)
}

func TestReserveBindsUnitToOrder(t *testing.T) {
	f := newFixture(t, 1)
	orderID := uuid.New()

	unit, err := f.svc.Reserve(context.Background(), nil, f.listing.ID, orderID)
	require.NoError(t, err)
	require.NotNil(t, unit)
	require.Equal(t, enums.InventoryUnitReserved, unit.Status)
	require.NotNil(t, unit.OrderID)
	require.Equal(t, orderID, *unit.OrderID)
	require.NotNil(t, unit.ReservedUntil)
	require.WithinDuration(t, f.clock.Now().Add(10*time.Minute), *unit.ReservedUntil, time.Second)

	again, err := f.svc.Reserve(context.Background(), nil, f.listing.ID, uuid.New())
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestConcurrentReservesNeverShareUnits(t *testing.T) {
	const units, callers = 5, 12
	f := newFixture(t, units)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		got   = map[uuid.UUID]int{}
		empty int
		errs  []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unit, err := f.svc.Reserve(context.Background(), nil, f.listing.ID, uuid.New())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if unit == nil {
				empty++
				return
			}
			got[unit.ID]++
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, got, units)
	for id, n := range got {
		require.Equal(t, 1, n, "unit %s handed out %d times", id, n)
	}
	require.Equal(t, callers-units, empty)
}

func TestExpiredReservationIsClaimableBeforeSweep(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	first := uuid.New()

	unit, err := f.svc.Reserve(ctx, nil, f.listing.ID, first)
	require.NoError(t, err)
	require.NotNil(t, unit)

	f.clock.Advance(11 * time.Minute)

	second := uuid.New()
	again, err := f.svc.Reserve(ctx, nil, f.listing.ID, second)
	require.NoError(t, err)
	require.NotNil(t, again)
	require.Equal(t, unit.ID, again.ID)
	require.Equal(t, second, *again.OrderID)

	// The first order lost the hold and can neither sell nor release it.
	sold, err := f.svc.MarkSoldFor(ctx, nil, unit.ID, first)
	require.NoError(t, err)
	require.False(t, sold)
	require.NoError(t, f.svc.ReleaseFor(ctx, nil, unit.ID, first))

	units, err := f.svc.Units(ctx, nil, []uuid.UUID{unit.ID})
	require.NoError(t, err)
	require.Equal(t, enums.InventoryUnitReserved, units[0].Status)
	require.Equal(t, second, *units[0].OrderID)
}

func TestReserveManyReturnsWhatIsAvailable(t *testing.T) {
	f := newFixture(t, 3)
	got, err := f.svc.ReserveMany(context.Background(), nil, f.listing.ID, uuid.New(), 5)
	require.NoError(t, err)
	require.Len(t, got, 3)

	_, err = f.svc.ReserveMany(context.Background(), nil, f.listing.ID, uuid.New(), 0)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestReserveManySweepsExpired(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.svc.ReserveMany(ctx, nil, f.listing.ID, uuid.New(), 2)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	got, err := f.svc.ReserveMany(ctx, nil, f.listing.ID, uuid.New(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestMarkSoldIsIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	orderID := uuid.New()

	unit, err := f.svc.Reserve(ctx, nil, f.listing.ID, orderID)
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkSold(ctx, nil, unit.ID))
	require.NoError(t, f.svc.MarkSold(ctx, nil, unit.ID))

	sold, err := f.svc.MarkSoldFor(ctx, nil, unit.ID, orderID)
	require.NoError(t, err)
	require.True(t, sold)

	err = f.svc.MarkSold(ctx, nil, uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	// A sold unit is never released.
	require.NoError(t, f.svc.Release(ctx, nil, unit.ID))
	units, err := f.svc.Units(ctx, nil, []uuid.UUID{unit.ID})
	require.NoError(t, err)
	require.Equal(t, enums.InventoryUnitSold, units[0].Status)
	require.Nil(t, units[0].ReservedUntil)
	require.NotNil(t, units[0].SoldAt)
}

func TestReleaseReturnsUnitToPool(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	orderID := uuid.New()

	unit, err := f.svc.Reserve(ctx, nil, f.listing.ID, orderID)
	require.NoError(t, err)

	require.NoError(t, f.svc.ReleaseFor(ctx, nil, unit.ID, orderID))
	require.NoError(t, f.svc.Release(ctx, nil, unit.ID))

	units, err := f.svc.Units(ctx, nil, []uuid.UUID{unit.ID})
	require.NoError(t, err)
	require.Equal(t, enums.InventoryUnitAvailable, units[0].Status)
	require.Nil(t, units[0].OrderID)
	require.Nil(t, units[0].ReservedUntil)

	err = f.svc.Release(ctx, nil, uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReserveJoinsCallerTransaction(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	err := f.conn.Transaction(func(tx *gorm.DB) error {
		unit, err := f.svc.Reserve(ctx, tx, f.listing.ID, uuid.New())
		require.NoError(t, err)
		require.NotNil(t, unit)
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	summary, err := f.svc.Summary(ctx, f.listing.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.Available)
	require.EqualValues(t, 0, summary.Reserved)
}

func TestExtendForKeepsHolder(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	orderID := uuid.New()

	unit, err := f.svc.Reserve(ctx, nil, f.listing.ID, orderID)
	require.NoError(t, err)

	until := f.clock.Now().Add(24 * time.Hour)
	ok, err := f.svc.ExtendFor(ctx, nil, unit.ID, orderID, until)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.svc.ExtendFor(ctx, nil, unit.ID, uuid.New(), until)
	require.NoError(t, err)
	require.False(t, ok)

	f.clock.Advance(time.Hour)
	other, err := f.svc.Reserve(ctx, nil, f.listing.ID, uuid.New())
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestSummaryCountsExpiredAsAvailable(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	reserved, err := f.svc.Reserve(ctx, nil, f.listing.ID, uuid.New())
	require.NoError(t, err)
	sold, err := f.svc.Reserve(ctx, nil, f.listing.ID, uuid.New())
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkSold(ctx, nil, sold.ID))

	summary, err := f.svc.Summary(ctx, f.listing.ID)
	require.NoError(t, err)
	require.Equal(t, Summary{ListingID: f.listing.ID, Available: 1, Reserved: 1, Sold: 1}, *summary)

	active, err := f.svc.ActiveReservations(ctx, f.listing.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, reserved.ID, active[0].ID)
	require.Empty(t, active[0].Payload)

	f.clock.Advance(time.Hour)
	summary, err = f.svc.Summary(ctx, f.listing.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, summary.Available)
	require.EqualValues(t, 0, summary.Reserved)

	swept, err := f.svc.SweepExpired(ctx, nil, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, swept)
}

func TestAddUnitsRejectsDuplicates(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.svc.AddUnits(ctx, f.seller, f.listing.ID, []string{"A-1", " A-1 "})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDuplicateContent), "got %v", err)

	_, err = f.svc.AddUnits(ctx, f.seller, f.listing.ID, []string{"NEW", "KEY-0000"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDuplicateContent), "got %v", err)

	dup, err := f.svc.CheckDuplicate(ctx, nil, Fingerprint("KEY-0000"))
	require.NoError(t, err)
	require.True(t, dup)

	listing, err := f.listings.Get(ctx, nil, f.listing.ID)
	require.NoError(t, err)
	require.Equal(t, 1, listing.AvailableCount)
}

func TestAddUnitsChecksOwnershipAndCategory(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.AddUnits(ctx, uuid.New(), f.listing.ID, []string{"X"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	unlimited, err := f.listings.Create(ctx, listings.CreateInput{
		SellerID:        f.seller,
		Title:           "Coaching",
		Category:        enums.ListingCategoryUnlimited,
		UnitPrice:       decimal.NewFromInt(5),
		DeliveryContent: "https://downloads.example.com/coaching",
	})
	require.NoError(t, err)
	_, err = f.svc.AddUnits(ctx, f.seller, unlimited.ID, []string{"X"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	added, err := f.svc.AddUnits(ctx, f.seller, f.listing.ID, []string{"X", "Y"})
	require.NoError(t, err)
	require.Len(t, added, 2)
	for _, u := range added {
		require.NotEqual(t, uuid.Nil, u.ID)
		require.Equal(t, Fingerprint(u.Payload), u.Fingerprint)
	}
}

func TestFingerprintIgnoresSurroundingWhitespace(t *testing.T) {
	require.Equal(t, Fingerprint("abc"), Fingerprint("  abc\n"))
	require.NotEqual(t, Fingerprint("abc"), Fingerprint("abd"))
	require.Len(t, Fingerprint("abc"), 64)
}
