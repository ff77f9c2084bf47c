package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Montivagant/rms-nova-sub000/internal/common/apperr"
	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/domain"
	"github.com/Montivagant/rms-nova-sub000/internal/repository"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService(t *testing.T, store repository.Store, minRedeem int64) *Service {
	t.Helper()
	l, _ := test.NewNullLogger()
	return New(store, Config{EarnRate: dec("1"), MinRedeemPoints: minRedeem}, logger.FromLogrus(l, "loyalty-test"))
}

func TestPointsForAmount(t *testing.T) {
	cases := []struct {
		amount, rate string
		want         int64
	}{
		{"100", "1", 100},
		{"34.99", "1", 34},
		{"10.50", "1.5", 15},
		{"0.99", "1", 0},
	}
	for _, tc := range cases {
		if got := PointsForAmount(dec(tc.amount), dec(tc.rate)); got != tc.want {
			t.Errorf("PointsForAmount(%s, %s) = %d, want %d", tc.amount, tc.rate, got, tc.want)
		}
	}
}

func TestProportionalRedeem(t *testing.T) {
	cases := []struct {
		name             string
		gross, refund    string
		earned, redeemed int64
		want             int64
	}{
		{"quarter refund", "100", "25", 100, 0, 25},
		{"capped by remaining", "100", "25", 100, 90, 10},
		{"tiny refund floors to one", "100", "0.10", 100, 0, 1},
		{"half rounds away from zero", "100", "5", 30, 0, 2},
		{"nothing left", "100", "50", 100, 100, 0},
		{"full refund", "34.90", "34.90", 34, 0, 34},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ProportionalRedeem(dec(tc.gross), dec(tc.refund), tc.earned, tc.redeemed)
			if got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func ledgerConsistent(t *testing.T, svc *Service, tenant uuid.UUID, customer string) *AccountView {
	t.Helper()
	view, err := svc.Account(context.Background(), tenant, customer, 0)
	if err != nil {
		t.Fatal(err)
	}
	var sum int64
	for _, tx := range view.Transactions {
		sum += tx.Points
	}
	if sum != view.Account.Balance {
		t.Fatalf("balance %d != sum of points %d", view.Account.Balance, sum)
	}
	if len(view.Transactions) > 0 && view.Transactions[0].BalanceAfter != view.Account.Balance {
		t.Fatalf("balance %d != latest balanceAfter %d", view.Account.Balance, view.Transactions[0].BalanceAfter)
	}
	return view
}

func TestEarnAndRedeemKeepLedgerConsistent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newService(t, store, 5)
	tenant := uuid.New()

	if _, err := svc.Earn(ctx, EarnRequest{TenantID: tenant, CustomerID: "c-1", Amount: dec("42.70")}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Earn(ctx, EarnRequest{TenantID: tenant, CustomerID: "c-1", Points: 8}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Redeem(ctx, RedeemRequest{TenantID: tenant, CustomerID: "c-1", Points: 20}); err != nil {
		t.Fatal(err)
	}

	view := ledgerConsistent(t, svc, tenant, "c-1")
	if view.Account.Balance != 30 || len(view.Transactions) != 3 {
		t.Fatalf("unexpected account %+v with %d rows", view.Account, len(view.Transactions))
	}
	if view.Transactions[0].Type != domain.LoyaltyRedeem || view.Transactions[0].Points != -20 {
		t.Fatalf("newest row should be the redeem: %+v", view.Transactions[0])
	}
}

func TestRedeemValidation(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newService(t, store, 10)
	tenant := uuid.New()

	if _, err := svc.Redeem(ctx, RedeemRequest{TenantID: tenant, CustomerID: "nobody", Points: 10}); !apperr.IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
	if _, err := svc.Earn(ctx, EarnRequest{TenantID: tenant, CustomerID: "c-2", Points: 15}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Redeem(ctx, RedeemRequest{TenantID: tenant, CustomerID: "c-2", Points: 5}); !apperr.IsValidation(err) {
		t.Fatalf("below minimum should be validation, got %v", err)
	}
	if _, err := svc.Redeem(ctx, RedeemRequest{TenantID: tenant, CustomerID: "c-2", Points: 16}); !apperr.IsValidation(err) {
		t.Fatalf("insufficient balance should be validation, got %v", err)
	}
	if _, err := svc.Earn(ctx, EarnRequest{TenantID: tenant, CustomerID: "c-2", Amount: dec("0.50")}); !apperr.IsValidation(err) {
		t.Fatalf("zero points should be validation, got %v", err)
	}

	view := ledgerConsistent(t, svc, tenant, "c-2")
	if view.Account.Balance != 15 {
		t.Fatalf("failed operations changed the balance: %d", view.Account.Balance)
	}
}

func TestConcurrentEarnsSerializeOnAccount(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newService(t, store, 0)
	tenant := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Earn(ctx, EarnRequest{TenantID: tenant, CustomerID: "busy", Points: 5}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	view := ledgerConsistent(t, svc, tenant, "busy")
	if view.Account.Balance != 100 || len(view.Transactions) != 20 {
		t.Fatalf("balance %d over %d rows", view.Account.Balance, len(view.Transactions))
	}
}

func seedPayment(t *testing.T, store repository.Store, tenant uuid.UUID, amount, tip string, customer string) *domain.Payment {
	t.Helper()
	now := time.Now().UTC()
	p := &domain.Payment{
		ID:        uuid.New(),
		TenantID:  tenant,
		TicketID:  uuid.New(),
		Amount:    dec(amount),
		TipAmount: dec(tip),
		Method:    "card",
		Status:    domain.PaymentCompleted,
		Processor: "mockpay",
		Metadata:  domain.PaymentMetadata{Currency: "USD", LoyaltyExternalCustomerID: customer},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertPayment(ctx, p)
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestEarnForPaymentRunsOnce(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newService(t, store, 0)
	tenant := uuid.New()
	p := seedPayment(t, store, tenant, "100.00", "5.00", "c-3")

	first, err := svc.EarnForPayment(ctx, tenant, p.ID)
	if err != nil || first != 100 {
		t.Fatalf("first earn = %d, %v", first, err)
	}
	second, err := svc.EarnForPayment(ctx, tenant, p.ID)
	if err != nil || second != 0 {
		t.Fatalf("second earn = %d, %v", second, err)
	}

	view := ledgerConsistent(t, svc, tenant, "c-3")
	if view.Account.Balance != 100 || len(view.Transactions) != 1 {
		t.Fatalf("duplicate award: %+v", view.Account)
	}
}

func TestRedeemForRefundIsProportionalAndBounded(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newService(t, store, 50)
	tenant := uuid.New()
	p := seedPayment(t, store, tenant, "100.00", "0", "c-4")

	if _, err := svc.EarnForPayment(ctx, tenant, p.ID); err != nil {
		t.Fatal(err)
	}

	got, err := svc.RedeemForRefund(ctx, tenant, p.ID, uuid.New(), dec("25"))
	if err != nil || got != 25 {
		t.Fatalf("first refund redeem = %d, %v", got, err)
	}
	// the redeem minimum applies to direct redemptions only
	got, err = svc.RedeemForRefund(ctx, tenant, p.ID, uuid.New(), dec("100"))
	if err != nil || got != 75 {
		t.Fatalf("second refund redeem = %d, %v", got, err)
	}
	got, err = svc.RedeemForRefund(ctx, tenant, p.ID, uuid.New(), dec("10"))
	if err != nil || got != 0 {
		t.Fatalf("nothing left to redeem, got %d, %v", got, err)
	}

	err = store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		cur, err := tx.GetPayment(ctx, tenant, p.ID)
		if err != nil {
			return err
		}
		if cur.Metadata.LoyaltyPointsRedeemed != 100 || *cur.Metadata.LoyaltyPointsEarned != 100 {
			t.Errorf("unexpected markers %+v", cur.Metadata)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	view := ledgerConsistent(t, svc, tenant, "c-4")
	if view.Account.Balance != 0 {
		t.Fatalf("balance = %d", view.Account.Balance)
	}
}

// racingTx reports the account as missing on the first lock, as if another
// transaction created it between the lookup and the insert.
type racingTx struct {
	repository.Tx
	once *sync.Once
}

func (r racingTx) LockAccountByCustomer(ctx context.Context, tenantID uuid.UUID, customer string) (*domain.LoyaltyAccount, error) {
	missing := false
	r.once.Do(func() { missing = true })
	if missing {
		return nil, repository.ErrNotFound
	}
	return r.Tx.LockAccountByCustomer(ctx, tenantID, customer)
}

type racingStore struct {
	*repository.MemoryStore
	once sync.Once
}

func (s *racingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.MemoryStore.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, racingTx{Tx: tx, once: &s.once})
	})
}

func TestEarnAbsorbsAccountCreateRace(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	tenant := uuid.New()
	if _, err := newService(t, mem, 0).Earn(ctx, EarnRequest{TenantID: tenant, CustomerID: "c-5", Points: 10}); err != nil {
		t.Fatal(err)
	}

	store := &racingStore{MemoryStore: mem}
	svc := newService(t, store, 0)
	if _, err := svc.Earn(ctx, EarnRequest{TenantID: tenant, CustomerID: "c-5", Points: 7}); err != nil {
		t.Fatalf("race should be absorbed: %v", err)
	}

	view := ledgerConsistent(t, svc, tenant, "c-5")
	if view.Account.Balance != 17 || len(view.Transactions) != 2 {
		t.Fatalf("unexpected %+v", view.Account)
	}
}
