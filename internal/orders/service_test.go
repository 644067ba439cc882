package orders

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/keymarket/keymarket-backend/internal/earnings"
	"github.com/keymarket/keymarket-backend/internal/inventory"
	"github.com/keymarket/keymarket-backend/internal/ledger"
	"github.com/keymarket/keymarket-backend/internal/listings"
	"github.com/keymarket/keymarket-backend/internal/notifications"
	"github.com/keymarket/keymarket-backend/internal/referrals"
	"github.com/keymarket/keymarket-backend/pkg/db/dbtest"
	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
	"github.com/keymarket/keymarket-backend/pkg/outbox"
	"github.com/keymarket/keymarket-backend/pkg/pagination"
)

type sentNotification struct {
	AccountID uuid.UUID
	Kind      enums.NotificationKind
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *stubNotifier) Notify(_ context.Context, accountID uuid.UUID, kind enums.NotificationKind, _ notifications.Payload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{AccountID: accountID, Kind: kind})
}

func (n *stubNotifier) kinds(accountID uuid.UUID) []enums.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []enums.NotificationKind
	for _, s := range n.sent {
		if s.AccountID == accountID {
			out = append(out, s.Kind)
		}
	}
	return out
}

type stubAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *stubAudit) Record(_ context.Context, _ uuid.UUID, action string, _ map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
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

type harness struct {
	svc       Service
	listings  listings.Service
	inventory inventory.Service
	ledger    ledger.Service
	earnings  earnings.Service
	referrals referrals.Service
	notifier  *stubNotifier
	audit     *stubAudit
	clock     *fakeClock
	platform  uuid.UUID
	seller    uuid.UUID
	admin     uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := dbtest.Open(t, "orders")
	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Second)}

	listingSvc, err := listings.NewService(conn, listings.NewRepository(conn))
	require.NoError(t, err)
	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		DB:             conn,
		Repo:           inventory.NewRepository(conn),
		Listings:       listingSvc,
		ReservationTTL: 30 * time.Minute,
		Now:            clock.Now,
	})
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(conn, ledger.NewRepository(conn), nil)
	require.NoError(t, err)

	h := &harness{
		listings:  listingSvc,
		inventory: inventorySvc,
		ledger:    ledgerSvc,
		notifier:  &stubNotifier{},
		audit:     &stubAudit{},
		clock:     clock,
		platform:  uuid.New(),
		seller:    uuid.New(),
		admin:     uuid.New(),
	}

	h.earnings, err = earnings.NewService(earnings.ServiceParams{
		DB:       conn,
		Repo:     earnings.NewRepository(conn),
		Ledger:   ledgerSvc,
		Notifier: h.notifier,
		Audit:    h.audit,
		Now:      clock.Now,
	})
	require.NoError(t, err)
	h.referrals, err = referrals.NewService(conn, referrals.NewRepository(conn))
	require.NoError(t, err)

	h.svc, err = NewService(ServiceParams{
		DB:                conn,
		Repo:              NewRepository(conn),
		Listings:          listingSvc,
		Inventory:         inventorySvc,
		Ledger:            ledgerSvc,
		Earnings:          h.earnings,
		Referrals:         h.referrals,
		Outbox:            outbox.NewRepository(conn),
		Notifier:          h.notifier,
		Audit:             h.audit,
		PlatformAccountID: h.platform,
		Now:               clock.Now,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) listing(t *testing.T, price int64, units int) *models.Listing {
	t.Helper()
	ctx := context.Background()
	listing, err := h.listings.Create(ctx, listings.CreateInput{
		SellerID:  h.seller,
		Title:     "Activation keys",
		Category:  enums.ListingCategoryDiscrete,
		UnitPrice: decimal.NewFromInt(price),
		Status:    enums.ListingStatusActive,
	})
	require.NoError(t, err)
	if units > 0 {
		payloads := make([]string, units)
		for i := range payloads {
			payloads[i] = fmt.Sprintf("KEY-%s-%03d", listing.ID.String()[:8], i)
		}
		_, err = h.inventory.AddUnits(ctx, h.seller, listing.ID, payloads)
		require.NoError(t, err)
	}
	return listing
}

func (h *harness) fundedBuyer(t *testing.T, amount int64) uuid.UUID {
	t.Helper()
	buyer := uuid.New()
	_, err := h.ledger.Credit(context.Background(), nil, ledger.Posting{
		AccountID: buyer,
		Amount:    decimal.NewFromInt(amount),
		Reason:    enums.LedgerReasonTopUp,
	})
	require.NoError(t, err)
	return buyer
}

func (h *harness) balance(t *testing.T, account uuid.UUID) decimal.Decimal {
	t.Helper()
	balance, err := h.ledger.BalanceOf(context.Background(), account)
	require.NoError(t, err)
	return balance
}

func (h *harness) available(t *testing.T, listingID uuid.UUID) int64 {
	t.Helper()
	summary, err := h.inventory.Summary(context.Background(), listingID)
	require.NoError(t, err)
	return summary.Available
}

// requireUnitReleased asserts the stored unit row is back in the pool, not
// merely reported as available because its hold lapsed.
func (h *harness) requireUnitReleased(t *testing.T, unitID *uuid.UUID) {
	t.Helper()
	require.NotNil(t, unitID)
	units, err := h.inventory.Units(context.Background(), nil, []uuid.UUID{*unitID})
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.Equal(t, enums.InventoryUnitAvailable, units[0].Status)
	require.Nil(t, units[0].ReservedUntil)
	require.Nil(t, units[0].OrderID)
}

func requireAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.NewFromInt(want).Equal(got), "want %d, got %s", want, got)
}

func TestWalletPurchaseDebitsDeliversAndHolds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 50000, 3)
	buyer := h.fundedBuyer(t, 250000)

	order, err := h.svc.Create(ctx, CreateInput{
		BuyerID:       buyer,
		ListingID:     listing.ID,
		Quantity:      2,
		PaymentMethod: enums.PaymentMethodPrepaidWallet,
	})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPaid, order.Status)
	requireAmount(t, 100000, order.TotalPrice)
	require.NotNil(t, order.DeliveredPayload)
	require.Contains(t, *order.DeliveredPayload, "KEY-")
	require.NotNil(t, order.InventoryUnitID)

	requireAmount(t, 150000, h.balance(t, buyer))
	requireAmount(t, 5000, h.balance(t, h.platform))
	require.EqualValues(t, 1, h.available(t, listing.ID))

	summary, err := h.inventory.Summary(ctx, listing.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, summary.Sold)

	refreshed, err := h.listings.Get(ctx, nil, listing.ID)
	require.NoError(t, err)
	require.Equal(t, 1, refreshed.AvailableCount)

	earning, err := h.earnings.ForOrder(ctx, nil, order.ID)
	require.NoError(t, err)
	requireAmount(t, 95000, earning.Amount)
	require.Equal(t, enums.PendingEarningPending, earning.Status)
	require.WithinDuration(t, h.clock.Now().Add(72*time.Hour), earning.ReleaseAt, time.Second)

	rec, err := h.ledger.Reconcile(ctx, buyer)
	require.NoError(t, err)
	require.True(t, rec.Consistent)

	require.Contains(t, h.notifier.kinds(buyer), enums.NotificationOrderDelivered)
	require.Contains(t, h.notifier.kinds(h.seller), enums.NotificationOrderPaid)
}

func TestWalletPurchaseFailureLeavesBalanceUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 50000, 1)
	buyer := h.fundedBuyer(t, 100000)

	_, err := h.svc.Create(ctx, CreateInput{
		BuyerID:       buyer,
		ListingID:     listing.ID,
		Quantity:      2,
		PaymentMethod: enums.PaymentMethodPrepaidWallet,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientInventory), "got %v", err)
	requireAmount(t, 100000, h.balance(t, buyer))
	require.EqualValues(t, 1, h.available(t, listing.ID))

	poor := h.fundedBuyer(t, 10)
	_, err = h.svc.Create(ctx, CreateInput{
		BuyerID:       poor,
		ListingID:     listing.ID,
		Quantity:      1,
		PaymentMethod: enums.PaymentMethodPrepaidWallet,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds), "got %v", err)
	requireAmount(t, 10, h.balance(t, poor))
	require.EqualValues(t, 1, h.available(t, listing.ID))

	_, err = h.svc.Create(ctx, CreateInput{
		BuyerID:       uuid.New(),
		ListingID:     listing.ID,
		Quantity:      1,
		PaymentMethod: enums.PaymentMethodPrepaidWallet,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds), "unfunded buyer, got %v", err)
}

func TestCreateValidatesRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 100, 2)

	cases := []struct {
		name  string
		input CreateInput
		code  pkgerrors.Code
	}{
		{"zero quantity", CreateInput{BuyerID: uuid.New(), ListingID: listing.ID, PaymentMethod: enums.PaymentMethodPrepaidWallet}, pkgerrors.CodeValidation},
		{"unknown method", CreateInput{BuyerID: uuid.New(), ListingID: listing.ID, Quantity: 1, PaymentMethod: "cash"}, pkgerrors.CodeValidation},
		{"own listing", CreateInput{BuyerID: h.seller, ListingID: listing.ID, Quantity: 1, PaymentMethod: enums.PaymentMethodPrepaidWallet}, pkgerrors.CodeValidation},
		{"missing listing", CreateInput{BuyerID: uuid.New(), ListingID: uuid.New(), Quantity: 1, PaymentMethod: enums.PaymentMethodPrepaidWallet}, pkgerrors.CodeNotFound},
		{"external multi unit", CreateInput{BuyerID: uuid.New(), ListingID: listing.ID, Quantity: 2, PaymentMethod: enums.PaymentMethodExternalSettlement}, pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Create(ctx, tc.input)
			require.Equal(t, tc.code, pkgerrors.CodeOf(err), "got %v", err)
		})
	}
}

func TestLastUnitRaceSellsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 1000, 1)
	buyers := []uuid.UUID{h.fundedBuyer(t, 5000), h.fundedBuyer(t, 5000)}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
		paid int
	)
	for _, buyer := range buyers {
		wg.Add(1)
		go func(buyer uuid.UUID) {
			defer wg.Done()
			_, err := h.svc.Create(ctx, CreateInput{
				BuyerID:       buyer,
				ListingID:     listing.ID,
				Quantity:      1,
				PaymentMethod: enums.PaymentMethodPrepaidWallet,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				paid++
				return
			}
			errs = append(errs, err)
		}(buyer)
	}
	wg.Wait()

	require.Equal(t, 1, paid)
	require.Len(t, errs, 1)
	require.True(t, pkgerrors.IsCode(errs[0], pkgerrors.CodeInsufficientInventory), "got %v", errs[0])

	total := h.balance(t, buyers[0]).Add(h.balance(t, buyers[1]))
	requireAmount(t, 9000, total)
}

func TestReferralCommissionIsCreditedImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 200000, 1)
	buyer := h.fundedBuyer(t, 200000)
	referrer := uuid.New()

	_, err := h.referrals.Create(ctx, referrals.CreateInput{ReferrerID: referrer, ReferredID: buyer})
	require.NoError(t, err)

	order, err := h.svc.Create(ctx, CreateInput{
		BuyerID:       buyer,
		ListingID:     listing.ID,
		Quantity:      1,
		PaymentMethod: enums.PaymentMethodPrepaidWallet,
	})
	require.NoError(t, err)

	requireAmount(t, 10000, h.balance(t, referrer))
	links, err := h.referrals.ListByReferrer(ctx, referrer)
	require.NoError(t, err)
	require.Len(t, links, 1)
	requireAmount(t, 10000, links[0].EarnedTotal)

	earning, err := h.earnings.ForOrder(ctx, nil, order.ID)
	require.NoError(t, err)
	requireAmount(t, 190000, earning.Amount)
	require.Contains(t, h.notifier.kinds(referrer), enums.NotificationReferralCommission)
}

func TestExternalSettlementFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 100000, 1)
	buyer := uuid.New()

	order, err := h.svc.Create(ctx, CreateInput{
		BuyerID:       buyer,
		ListingID:     listing.ID,
		Quantity:      1,
		PaymentMethod: enums.PaymentMethodExternalSettlement,
	})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusAwaitingPayment, order.Status)
	require.NotNil(t, order.InventoryUnitID)
	require.Nil(t, order.DeliveredPayload)

	_, err = h.svc.AdminConfirm(ctx, order.ID, h.admin)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "confirm before claim, got %v", err)

	_, err = h.svc.ConfirmPayment(ctx, order.ID, uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	claimed, err := h.svc.ConfirmPayment(ctx, order.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusAwaitingConfirmation, claimed.Status)
	require.NotNil(t, claimed.BuyerConfirmedAt)

	units, err := h.inventory.Units(ctx, nil, []uuid.UUID{*order.InventoryUnitID})
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.NotNil(t, units[0].ReservedUntil)
	require.WithinDuration(t, h.clock.Now().Add(DefaultConfirmationWindow), *units[0].ReservedUntil, time.Second)

	// Past the reservation TTL but inside the confirmation window, the unit
	// must survive a sweep.
	h.clock.Advance(2 * time.Hour)
	_, err = h.inventory.SweepExpired(ctx, nil, nil)
	require.NoError(t, err)

	paid, err := h.svc.AdminConfirm(ctx, order.ID, h.admin)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPaid, paid.Status)
	require.NotNil(t, paid.DeliveredPayload)
	require.Equal(t, units[0].Payload, *paid.DeliveredPayload)
	require.EqualValues(t, 0, h.available(t, listing.ID))
	requireAmount(t, 5000, h.balance(t, h.platform))

	earning, err := h.earnings.ForOrder(ctx, nil, order.ID)
	require.NoError(t, err)
	requireAmount(t, 95000, earning.Amount)
	require.Contains(t, h.audit.actions, "order.confirm")

	_, err = h.svc.AdminConfirm(ctx, order.ID, h.admin)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "second confirm, got %v", err)
}

func TestAdminConfirmWithoutStockPaysForManualFulfillment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 1000, 0)
	buyer := uuid.New()

	order, err := h.svc.Create(ctx, CreateInput{
		BuyerID:       buyer,
		ListingID:     listing.ID,
		Quantity:      1,
		PaymentMethod: enums.PaymentMethodExternalSettlement,
	})
	require.NoError(t, err)
	require.Nil(t, order.InventoryUnitID)

	_, err = h.svc.ConfirmPayment(ctx, order.ID, buyer)
	require.NoError(t, err)
	paid, err := h.svc.AdminConfirm(ctx, order.ID, h.admin)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPaid, paid.Status)
	require.Nil(t, paid.DeliveredPayload)
	require.NotContains(t, h.notifier.kinds(buyer), enums.NotificationOrderDelivered)
}

func TestAdminConfirmReplacesLostUnit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 1000, 2)
	buyer := uuid.New()

	order, err := h.svc.Create(ctx, CreateInput{
		BuyerID:       buyer,
		ListingID:     listing.ID,
		Quantity:      1,
		PaymentMethod: enums.PaymentMethodExternalSettlement,
	})
	require.NoError(t, err)
	_, err = h.svc.ConfirmPayment(ctx, order.ID, buyer)
	require.NoError(t, err)

	// An operator frees the unit by hand; confirmation must claim the other one.
	require.NoError(t, h.inventory.Release(ctx, nil, *order.InventoryUnitID))
	require.NoError(t, h.inventory.MarkSold(ctx, nil, *order.InventoryUnitID))

	paid, err := h.svc.AdminConfirm(ctx, order.ID, h.admin)
	require.NoError(t, err)
	require.NotNil(t, paid.InventoryUnitID)
	require.NotEqual(t, *order.InventoryUnitID, *paid.InventoryUnitID)
	require.NotNil(t, paid.DeliveredPayload)
}

func TestAdminCancelReleasesUnit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 1000, 1)
	buyer := uuid.New()

	order, err := h.svc.Create(ctx, CreateInput{
		BuyerID:       buyer,
		ListingID:     listing.ID,
		Quantity:      1,
		PaymentMethod: enums.PaymentMethodExternalSettlement,
	})
	require.NoError(t, err)
	require.EqualValues(t, 0, h.available(t, listing.ID))

	cancelled, err := h.svc.AdminCancel(ctx, order.ID, h.admin, "buyer asked")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	require.Equal(t, "buyer asked", *cancelled.CancelReason)
	require.EqualValues(t, 1, h.available(t, listing.ID))
	require.Contains(t, h.audit.actions, "order.cancel")

	_, err = h.svc.AdminCancel(ctx, order.ID, h.admin, "")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
}

func TestExpireCancelsUnpaidOrdersAfterWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 1000, 1)
	buyer := uuid.New()

	order, err := h.svc.Create(ctx, CreateInput{
		BuyerID:       buyer,
		ListingID:     listing.ID,
		Quantity:      1,
		PaymentMethod: enums.PaymentMethodExternalSettlement,
	})
	require.NoError(t, err)

	h.clock.Advance(29 * time.Minute)
	ids, err := h.svc.ListExpirable(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, ids)
	expired, err := h.svc.Expire(ctx, order.ID)
	require.NoError(t, err)
	require.False(t, expired)

	h.clock.Advance(2 * time.Minute)
	ids, err = h.svc.ListExpirable(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{order.ID}, ids)

	expired, err = h.svc.Expire(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, expired)
	require.EqualValues(t, 1, h.available(t, listing.ID))
	h.requireUnitReleased(t, order.InventoryUnitID)

	got, err := h.svc.Get(ctx, Actor{ID: buyer, Role: enums.RoleBuyer}, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, got.Status)
	require.Contains(t, h.notifier.kinds(buyer), enums.NotificationOrderExpired)

	expired, err = h.svc.Expire(ctx, order.ID)
	require.NoError(t, err)
	require.False(t, expired)
}

func TestExpireCancelsStaleConfirmations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 1000, 1)
	buyer := uuid.New()

	order, err := h.svc.Create(ctx, CreateInput{
		BuyerID:       buyer,
		ListingID:     listing.ID,
		Quantity:      1,
		PaymentMethod: enums.PaymentMethodExternalSettlement,
	})
	require.NoError(t, err)
	_, err = h.svc.ConfirmPayment(ctx, order.ID, buyer)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	ids, err := h.svc.ListExpirable(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, ids)

	h.clock.Advance(DefaultConfirmationWindow)
	expired, err := h.svc.Expire(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, expired)
	require.EqualValues(t, 1, h.available(t, listing.ID))
	h.requireUnitReleased(t, order.InventoryUnitID)
}

func TestRefundCancelsPendingEarning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 100000, 1)
	buyer := h.fundedBuyer(t, 100000)

	order, err := h.svc.Create(ctx, CreateInput{
		BuyerID:       buyer,
		ListingID:     listing.ID,
		Quantity:      1,
		PaymentMethod: enums.PaymentMethodPrepaidWallet,
	})
	require.NoError(t, err)
	requireAmount(t, 0, h.balance(t, buyer))

	refunded, err := h.svc.Refund(ctx, order.ID, h.admin, "key did not work")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusRefunded, refunded.Status)
	require.NotNil(t, refunded.RefundedAt)
	requireAmount(t, 100000, h.balance(t, buyer))

	earning, err := h.earnings.ForOrder(ctx, nil, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.PendingEarningCancelled, earning.Status)

	_, err = h.svc.Refund(ctx, order.ID, h.admin, "again")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
}

func TestRefundClawsBackReleasedEarning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 100000, 1)
	buyer := h.fundedBuyer(t, 100000)

	order, err := h.svc.Create(ctx, CreateInput{
		BuyerID:       buyer,
		ListingID:     listing.ID,
		Quantity:      1,
		PaymentMethod: enums.PaymentMethodPrepaidWallet,
	})
	require.NoError(t, err)
	earning, err := h.earnings.ForOrder(ctx, nil, order.ID)
	require.NoError(t, err)
	_, err = h.earnings.Release(ctx, earning.ID, uuid.Nil, "")
	require.NoError(t, err)
	requireAmount(t, 95000, h.balance(t, h.seller))

	_, err = h.svc.Refund(ctx, order.ID, h.admin, "chargeback")
	require.NoError(t, err)
	requireAmount(t, 0, h.balance(t, h.seller))
	requireAmount(t, 100000, h.balance(t, buyer))

	rec, err := h.ledger.Reconcile(ctx, h.seller)
	require.NoError(t, err)
	require.True(t, rec.Consistent)
}

func TestRefundAbortsWhenSellerCannotCoverClawback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 100000, 1)
	buyer := h.fundedBuyer(t, 100000)

	order, err := h.svc.Create(ctx, CreateInput{
		BuyerID:       buyer,
		ListingID:     listing.ID,
		Quantity:      1,
		PaymentMethod: enums.PaymentMethodPrepaidWallet,
	})
	require.NoError(t, err)
	earning, err := h.earnings.ForOrder(ctx, nil, order.ID)
	require.NoError(t, err)
	_, err = h.earnings.Release(ctx, earning.ID, uuid.Nil, "")
	require.NoError(t, err)

	_, err = h.ledger.Debit(ctx, nil, ledger.Posting{
		AccountID: h.seller,
		Amount:    decimal.NewFromInt(90000),
		Reason:    enums.LedgerReasonAdjustment,
	})
	require.NoError(t, err)

	_, err = h.svc.Refund(ctx, order.ID, h.admin, "chargeback")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds), "got %v", err)
	requireAmount(t, 0, h.balance(t, buyer))

	got, err := h.svc.Get(ctx, Actor{ID: h.admin, Role: enums.RoleAdmin}, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPaid, got.Status)
}

func TestPurgeRemovesFinishedOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 100000, 2)
	buyer := h.fundedBuyer(t, 200000)

	order, err := h.svc.Create(ctx, CreateInput{
		BuyerID:       buyer,
		ListingID:     listing.ID,
		Quantity:      1,
		PaymentMethod: enums.PaymentMethodPrepaidWallet,
	})
	require.NoError(t, err)

	err = h.svc.Purge(ctx, order.ID, h.admin)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "paid order, got %v", err)

	_, err = h.svc.Refund(ctx, order.ID, h.admin, "duplicate")
	require.NoError(t, err)
	require.NoError(t, h.svc.Purge(ctx, order.ID, h.admin))

	_, err = h.svc.Get(ctx, Actor{ID: h.admin, Role: enums.RoleAdmin}, order.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
	_, err = h.earnings.ForOrder(ctx, nil, order.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	rec, err := h.ledger.Reconcile(ctx, buyer)
	require.NoError(t, err)
	require.True(t, rec.Consistent)
	requireAmount(t, 200000, rec.Balance)
	require.Contains(t, h.audit.actions, "order.purge")
}

func TestGetAndListRespectOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	listing := h.listing(t, 100, 3)
	buyer := h.fundedBuyer(t, 1000)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		order, err := h.svc.Create(ctx, CreateInput{
			BuyerID:       buyer,
			ListingID:     listing.ID,
			Quantity:      1,
			PaymentMethod: enums.PaymentMethodPrepaidWallet,
		})
		require.NoError(t, err)
		ids = append(ids, order.ID)
		h.clock.Advance(time.Second)
	}

	_, err := h.svc.Get(ctx, Actor{ID: uuid.New(), Role: enums.RoleBuyer}, ids[0])
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "stranger, got %v", err)
	_, err = h.svc.Get(ctx, Actor{ID: h.seller, Role: enums.RoleSeller}, ids[0])
	require.NoError(t, err)

	first, err := h.svc.ListForBuyer(ctx, buyer, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.Equal(t, ids[2], first.Items[0].ID)
	require.NotEmpty(t, first.NextCursor)

	second, err := h.svc.ListForBuyer(ctx, buyer, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	require.Equal(t, ids[0], second.Items[0].ID)

	sellerPage, err := h.svc.ListForSeller(ctx, h.seller, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, sellerPage.Items, 3)
}
