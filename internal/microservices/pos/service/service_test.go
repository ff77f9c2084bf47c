package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Montivagant/rms-nova-sub000/internal/common/apperr"
	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/domain"
	"github.com/Montivagant/rms-nova-sub000/internal/gateway"
	loyalty "github.com/Montivagant/rms-nova-sub000/internal/microservices/loyalty/service"
	"github.com/Montivagant/rms-nova-sub000/internal/repository"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubGateway struct {
	capture gateway.Outcome
	refund  gateway.Outcome
}

func (g *stubGateway) Processor() string { return "stubpay" }

func (g *stubGateway) Capture(ctx context.Context, req gateway.CaptureRequest) (gateway.CaptureResult, error) {
	res := gateway.CaptureResult{Processor: "stubpay", ProcessorPaymentID: "stub_" + req.PaymentID.String(), Status: g.capture}
	if g.capture == gateway.OutcomeFailed {
		reason := "card_declined"
		res.FailureReason = &reason
	}
	return res, nil
}

func (g *stubGateway) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	res := gateway.RefundResult{Processor: "stubpay", ProcessorRefundID: "stubref_" + req.RefundID.String(), Status: g.refund}
	if g.refund == gateway.OutcomeFailed {
		reason := "processor_declined"
		res.FailureReason = &reason
	}
	return res, nil
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	jobs  []domain.SettlementJob
	delay time.Duration
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, job domain.SettlementJob, delay time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, job)
	e.delay = delay
	return nil
}

type fixture struct {
	svc      *Service
	loyalty  *loyalty.Service
	store    *repository.MemoryStore
	hook     *test.Hook
	enqueuer *recordingEnqueuer

	tenant     uuid.UUID
	defaultLoc uuid.UUID
	patioLoc   uuid.UUID
	closedLoc  uuid.UUID
	coffee     uuid.UUID // 5.25, 8.5% tax; 6.00 at the patio
	bagel      uuid.UUID // 3.10, no tax; default location only
	platter    uuid.UUID // 30.00, no tax
	retired    uuid.UUID // inactive
	freebie    uuid.UUID // 0.00
}

func newFixture(t *testing.T, gw gateway.Gateway) *fixture {
	t.Helper()
	f := &fixture{
		store:      repository.NewMemoryStore(),
		enqueuer:   &recordingEnqueuer{},
		tenant:     uuid.New(),
		defaultLoc: uuid.New(),
		patioLoc:   uuid.New(),
		closedLoc:  uuid.New(),
		coffee:     uuid.New(),
		bagel:      uuid.New(),
		platter:    uuid.New(),
		retired:    uuid.New(),
		freebie:    uuid.New(),
	}
	f.store.SeedLocation(domain.Location{ID: f.defaultLoc, TenantID: f.tenant, Name: "main", IsDefault: true, Active: true})
	f.store.SeedLocation(domain.Location{ID: f.patioLoc, TenantID: f.tenant, Name: "patio", Active: true})
	f.store.SeedLocation(domain.Location{ID: f.closedLoc, TenantID: f.tenant, Name: "closed", Active: false})

	price := func(item, loc uuid.UUID, name, amount, tax string, active bool) {
		f.store.SeedPrice(f.tenant, domain.MenuPrice{
			MenuItemID: item, LocationID: loc, Name: name, Price: dec(amount), Currency: "USD", TaxRate: dec(tax), Active: active,
		})
	}
	price(f.coffee, f.defaultLoc, "Coffee", "5.25", "8.5", true)
	price(f.coffee, f.patioLoc, "Coffee", "6.00", "8.5", true)
	price(f.bagel, f.defaultLoc, "Bagel", "3.10", "0", true)
	price(f.platter, f.defaultLoc, "Platter", "30.00", "0", true)
	price(f.retired, f.defaultLoc, "Retired", "9.00", "0", false)
	price(f.freebie, f.defaultLoc, "Water", "0.00", "0", true)

	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	log := logger.FromLogrus(l, "pos-test")
	f.hook = hook
	f.loyalty = loyalty.New(f.store, loyalty.Config{EarnRate: dec("1")}, log)
	f.svc = New(f.store, gw, f.loyalty, f.enqueuer, Config{DeferPending: true, DeferDelay: 5 * time.Second}, log)
	return f
}

func (f *fixture) create(t *testing.T, req CreateTicketRequest) *CreateTicketResult {
	t.Helper()
	req.TenantID = f.tenant
	if req.Actor == "" {
		req.Actor = "cashier-1"
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "card"
	}
	res, err := f.svc.CreateTicket(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return res
}

func (f *fixture) payment(t *testing.T, id uuid.UUID) *PaymentView {
	t.Helper()
	v, err := f.svc.GetPayment(context.Background(), f.tenant, id)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func (f *fixture) balance(t *testing.T, customer string) int64 {
	t.Helper()
	v, err := f.loyalty.Account(context.Background(), f.tenant, customer, 0)
	if err != nil {
		t.Fatal(err)
	}
	return v.Account.Balance
}

func TestCreateTicketPricesAndSettles(t *testing.T) {
	f := newFixture(t, gateway.NewMock())
	res := f.create(t, CreateTicketRequest{Items: []ItemRequest{{MenuItemID: f.coffee, Quantity: dec("2")}}})

	if !res.Subtotal.Equal(dec("10.50")) || !res.TaxAmount.Equal(dec("0.89")) || !res.Total.Equal(dec("11.39")) {
		t.Fatalf("got %s / %s / %s", res.Subtotal, res.TaxAmount, res.Total)
	}
	if res.PaymentStatus != domain.PaymentCompleted || res.TicketStatus != domain.TicketSettled || res.FailureReason != nil {
		t.Fatalf("unexpected statuses %+v", res)
	}

	view, err := f.svc.GetTicket(context.Background(), f.tenant, res.TicketID)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Ticket.Items) != 1 || view.Ticket.ClosedAt == nil || view.Payment == nil || view.Payment.Processor != gateway.MockProcessor {
		t.Fatalf("unexpected view %+v", view)
	}
	if len(f.enqueuer.jobs) != 0 {
		t.Fatal("completed capture must not be deferred")
	}
}

func TestPricingMergesDuplicatesAndFallsBackToDefaultLocation(t *testing.T) {
	f := newFixture(t, gateway.NewMock())
	patio := f.patioLoc
	pt, err := f.svc.Quote(context.Background(), f.tenant, &patio, []ItemRequest{
		{MenuItemID: f.coffee, Quantity: dec("1")},
		{MenuItemID: f.bagel, Quantity: dec("2")},
		{MenuItemID: f.coffee, Quantity: dec("0.5")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(pt.Lines) != 2 || pt.LocationID != f.patioLoc {
		t.Fatalf("unexpected lines %+v", pt.Lines)
	}
	coffee, bagel := pt.Lines[0], pt.Lines[1]
	if !coffee.Quantity.Equal(dec("1.5")) || !coffee.UnitPrice.Equal(dec("6.00")) || !coffee.LineSubtotal.Equal(dec("9.00")) || !coffee.LineTax.Equal(dec("0.77")) {
		t.Fatalf("coffee line %+v", coffee)
	}
	if !bagel.UnitPrice.Equal(dec("3.10")) || !bagel.LineSubtotal.Equal(dec("6.20")) {
		t.Fatalf("bagel line %+v", bagel)
	}
	if !pt.Total.Equal(dec("15.97")) {
		t.Fatalf("total %s", pt.Total)
	}
}

func TestPricingErrors(t *testing.T) {
	f := newFixture(t, gateway.NewMock())
	unknownLoc, closed := uuid.New(), f.closedLoc
	cases := []struct {
		name  string
		loc   *uuid.UUID
		items []ItemRequest
		check func(error) bool
	}{
		{"no items", nil, nil, apperr.IsValidation},
		{"zero quantity", nil, []ItemRequest{{MenuItemID: f.coffee, Quantity: decimal.Zero}}, apperr.IsValidation},
		{"negative quantity", nil, []ItemRequest{{MenuItemID: f.coffee, Quantity: dec("-1")}}, apperr.IsValidation},
		{"unknown item", nil, []ItemRequest{{MenuItemID: uuid.New(), Quantity: dec("1")}}, apperr.IsNotFound},
		{"inactive item", nil, []ItemRequest{{MenuItemID: f.retired, Quantity: dec("1")}}, apperr.IsNotFound},
		{"unknown location", &unknownLoc, []ItemRequest{{MenuItemID: f.coffee, Quantity: dec("1")}}, apperr.IsNotFound},
		{"inactive location", &closed, []ItemRequest{{MenuItemID: f.coffee, Quantity: dec("1")}}, apperr.IsNotFound},
		{"zero subtotal", nil, []ItemRequest{{MenuItemID: f.freebie, Quantity: dec("3")}}, apperr.IsValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Quote(context.Background(), f.tenant, tc.loc, tc.items)
			if !tc.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestPriceLinesTotalsMatchRoundedSums(t *testing.T) {
	item := uuid.New()
	for _, tc := range []struct{ price, qty, tax string }{
		{"0.33", "3", "7.25"},
		{"19.99", "1.333", "20"},
		{"1.005", "7", "8.875"},
		{"2.50", "0.1", "0"},
	} {
		prices := map[uuid.UUID]domain.MenuPrice{item: {MenuItemID: item, Price: dec(tc.price), TaxRate: dec(tc.tax), Currency: "EUR", Active: true}}
		pt, err := PriceLines([]ItemRequest{{MenuItemID: item, Quantity: dec(tc.qty)}}, prices)
		if err != nil {
			t.Fatal(err)
		}
		var sub, tax decimal.Decimal
		for _, l := range pt.Lines {
			sub = sub.Add(l.LineSubtotal)
			tax = tax.Add(l.LineTax)
		}
		if !pt.Subtotal.Equal(sub) || !pt.Total.Equal(sub.Add(tax).Round(2)) || pt.Currency != "EUR" {
			t.Fatalf("%+v: subtotal %s total %s", tc, pt.Subtotal, pt.Total)
		}
	}
}

func TestRefundRejectsMoreThanRemaining(t *testing.T) {
	f := newFixture(t, gateway.NewMock())
	res := f.create(t, CreateTicketRequest{
		Items:     []ItemRequest{{MenuItemID: f.platter, Quantity: dec("1")}},
		TipAmount: dec("4.90"),
	})

	_, err := f.svc.Refund(context.Background(), RefundRequest{TenantID: f.tenant, PaymentID: res.PaymentID, Amount: dec("50"), Actor: "mgr"})
	if !apperr.IsValidation(err) {
		t.Fatalf("want validation error, got %v", err)
	}
	view := f.payment(t, res.PaymentID)
	if !view.Remaining.Equal(dec("34.90")) || !view.Payment.RefundedAmount.IsZero() || len(view.Refunds) != 0 {
		t.Fatalf("state changed: remaining %s refunded %s", view.Remaining, view.Payment.RefundedAmount)
	}
}

func TestRefundsAccumulateAndRedeemLoyalty(t *testing.T) {
	f := newFixture(t, gateway.NewMock())
	res := f.create(t, CreateTicketRequest{
		Items:             []ItemRequest{{MenuItemID: f.platter, Quantity: dec("1")}},
		TipAmount:         dec("4.90"),
		LoyaltyCustomerID: "cust-9",
	})
	if got := f.balance(t, "cust-9"); got != 30 {
		t.Fatalf("earned %d, want 30", got)
	}

	ctx := context.Background()
	r1, err := f.svc.Refund(ctx, RefundRequest{TenantID: f.tenant, PaymentID: res.PaymentID, Amount: dec("10"), Reason: "cold", Actor: "mgr"})
	if err != nil {
		t.Fatal(err)
	}
	if r1.Status != domain.RefundCompleted || !r1.RemainingAmount.Equal(dec("24.90")) {
		t.Fatalf("first refund %+v", r1)
	}
	// round(10/34.90*30) = 9
	if got := f.balance(t, "cust-9"); got != 21 {
		t.Fatalf("balance after first refund %d, want 21", got)
	}

	r2, err := f.svc.Refund(ctx, RefundRequest{TenantID: f.tenant, PaymentID: res.PaymentID, Amount: dec("24.90"), Actor: "mgr"})
	if err != nil {
		t.Fatal(err)
	}
	if !r2.RemainingAmount.IsZero() {
		t.Fatalf("remaining %s", r2.RemainingAmount)
	}
	if got := f.balance(t, "cust-9"); got != 0 {
		t.Fatalf("balance after full refund %d, want 0", got)
	}

	_, err = f.svc.Refund(ctx, RefundRequest{TenantID: f.tenant, PaymentID: res.PaymentID, Amount: dec("0.01"), Actor: "mgr"})
	if !apperr.IsValidation(err) {
		t.Fatalf("fully refunded payment accepted a refund: %v", err)
	}

	view := f.payment(t, res.PaymentID)
	if len(view.Refunds) != 2 || !view.Payment.RefundedAmount.Equal(dec("34.90")) || view.Payment.Metadata.LoyaltyPointsRedeemed != 30 {
		t.Fatalf("unexpected payment view %+v", view.Payment)
	}
}

func TestFailedRefundDoesNotConsumeBalance(t *testing.T) {
	f := newFixture(t, &stubGateway{capture: gateway.OutcomeCompleted, refund: gateway.OutcomeFailed})
	res := f.create(t, CreateTicketRequest{Items: []ItemRequest{{MenuItemID: f.platter, Quantity: dec("1")}}})

	r, err := f.svc.Refund(context.Background(), RefundRequest{TenantID: f.tenant, PaymentID: res.PaymentID, Amount: dec("5"), Actor: "mgr"})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != domain.RefundFailed || r.FailureReason == nil || !r.RemainingAmount.Equal(dec("30.00")) {
		t.Fatalf("unexpected %+v", r)
	}
	view := f.payment(t, res.PaymentID)
	if len(view.Refunds) != 1 || view.Refunds[0].ProcessedAt != nil || !view.Payment.RefundedAmount.IsZero() {
		t.Fatalf("failed attempt consumed balance: %+v", view)
	}
}

func TestRefundRequiresCompletedPayment(t *testing.T) {
	f := newFixture(t, &stubGateway{capture: gateway.OutcomePending, refund: gateway.OutcomeCompleted})
	res := f.create(t, CreateTicketRequest{Items: []ItemRequest{{MenuItemID: f.platter, Quantity: dec("1")}}})

	_, err := f.svc.Refund(context.Background(), RefundRequest{TenantID: f.tenant, PaymentID: res.PaymentID, Amount: dec("1"), Actor: "mgr"})
	if !apperr.IsValidation(err) {
		t.Fatalf("want validation, got %v", err)
	}
	_, err = f.svc.Refund(context.Background(), RefundRequest{TenantID: f.tenant, PaymentID: uuid.New(), Amount: dec("1"), Actor: "mgr"})
	if !apperr.IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestPendingCaptureSettlesOnCallbackOnce(t *testing.T) {
	f := newFixture(t, &stubGateway{capture: gateway.OutcomePending, refund: gateway.OutcomeCompleted})
	res := f.create(t, CreateTicketRequest{
		Items:             []ItemRequest{{MenuItemID: f.platter, Quantity: dec("1")}},
		LoyaltyCustomerID: "cust-7",
	})
	if res.PaymentStatus != domain.PaymentPending || res.TicketStatus != domain.TicketOpen {
		t.Fatalf("unexpected %+v", res)
	}
	if len(f.enqueuer.jobs) != 1 || f.enqueuer.jobs[0].PaymentID != res.PaymentID || f.enqueuer.jobs[0].TargetStatus != domain.PaymentCompleted || f.enqueuer.delay != 5*time.Second {
		t.Fatalf("unexpected jobs %+v", f.enqueuer.jobs)
	}

	ctx := context.Background()
	update := StatusUpdate{TenantID: f.tenant, PaymentID: res.PaymentID, Status: domain.PaymentCompleted, ReceiptURL: "https://r/1", ChangedBy: "webhook"}
	out, err := f.svc.UpdatePaymentStatus(ctx, update)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Found || !out.Applied || !out.TicketClosed {
		t.Fatalf("first callback %+v", out)
	}
	ticket, err := f.svc.GetTicket(ctx, f.tenant, res.TicketID)
	if err != nil {
		t.Fatal(err)
	}
	closedAt := *ticket.Ticket.ClosedAt
	if ticket.Ticket.Status != domain.TicketSettled || *ticket.Ticket.ClosedBy != "cashier-1" {
		t.Fatalf("ticket not settled by opener: %+v", ticket.Ticket)
	}
	if got := f.balance(t, "cust-7"); got != 30 {
		t.Fatalf("balance %d", got)
	}

	// duplicate and out-of-order callbacks change nothing
	for _, st := range []domain.PaymentStatus{domain.PaymentCompleted, domain.PaymentPending, domain.PaymentFailed} {
		u := update
		u.Status = st
		out, err := f.svc.UpdatePaymentStatus(ctx, u)
		if err != nil {
			t.Fatal(err)
		}
		if out.TicketClosed {
			t.Fatalf("%s closed the ticket again", st)
		}
	}
	ticket, _ = f.svc.GetTicket(ctx, f.tenant, res.TicketID)
	if !ticket.Ticket.ClosedAt.Equal(closedAt) || ticket.Payment.Status != domain.PaymentCompleted {
		t.Fatalf("ticket or payment moved: %+v %s", ticket.Ticket, ticket.Payment.Status)
	}
	if got := f.balance(t, "cust-7"); got != 30 {
		t.Fatalf("duplicate award, balance %d", got)
	}
	view := f.payment(t, res.PaymentID)
	if len(view.StatusLog) != 2 || view.StatusLog[1].From != domain.PaymentPending || view.StatusLog[1].To != domain.PaymentCompleted {
		t.Fatalf("unexpected status log %+v", view.StatusLog)
	}
}

// flakyLedger fails the first earn and delegates afterwards.
type flakyLedger struct {
	*loyalty.Service
	mu       sync.Mutex
	attempts int
}

func (l *flakyLedger) EarnForPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (int64, error) {
	l.mu.Lock()
	l.attempts++
	first := l.attempts == 1
	l.mu.Unlock()
	if first {
		return 0, errors.New("lock timeout")
	}
	return l.Service.EarnForPayment(ctx, tenantID, paymentID)
}

func TestRepeatedCompletedCallbackRetriesFailedEarn(t *testing.T) {
	f := newFixture(t, &stubGateway{capture: gateway.OutcomePending})
	ledger := &flakyLedger{Service: f.loyalty}
	l, _ := test.NewNullLogger()
	f.svc = New(f.store, &stubGateway{capture: gateway.OutcomePending}, ledger, f.enqueuer, Config{}, logger.FromLogrus(l, "pos-test"))
	res := f.create(t, CreateTicketRequest{
		Items:             []ItemRequest{{MenuItemID: f.platter, Quantity: dec("1")}},
		LoyaltyCustomerID: "cust-8",
	})

	ctx := context.Background()
	update := StatusUpdate{TenantID: f.tenant, PaymentID: res.PaymentID, Status: domain.PaymentCompleted}
	if _, err := f.svc.UpdatePaymentStatus(ctx, update); err != nil {
		t.Fatal(err)
	}
	if v := f.payment(t, res.PaymentID); v.Payment.Metadata.LoyaltyPointsEarned != nil {
		t.Fatalf("failed earn left a marker")
	}

	for i := 0; i < 2; i++ {
		if _, err := f.svc.UpdatePaymentStatus(ctx, update); err != nil {
			t.Fatal(err)
		}
	}
	if ledger.attempts != 2 {
		t.Fatalf("earn attempts = %d, want 2", ledger.attempts)
	}
	if got := f.balance(t, "cust-8"); got != 30 {
		t.Fatalf("balance %d, want 30", got)
	}
	v := f.payment(t, res.PaymentID)
	if v.Payment.Metadata.LoyaltyPointsEarned == nil || *v.Payment.Metadata.LoyaltyPointsEarned != 30 {
		t.Fatalf("marker = %v", v.Payment.Metadata.LoyaltyPointsEarned)
	}
}

func TestFailedCallbackLeavesTicketOpen(t *testing.T) {
	f := newFixture(t, &stubGateway{capture: gateway.OutcomePending})
	res := f.create(t, CreateTicketRequest{Items: []ItemRequest{{MenuItemID: f.bagel, Quantity: dec("1")}}})

	reason := "insufficient_funds"
	out, err := f.svc.UpdatePaymentStatus(context.Background(), StatusUpdate{
		TenantID: f.tenant, PaymentID: res.PaymentID, Status: domain.PaymentFailed, FailureReason: &reason,
	})
	if err != nil || !out.Applied || out.TicketClosed {
		t.Fatalf("unexpected %+v %v", out, err)
	}
	view, _ := f.svc.GetTicket(context.Background(), f.tenant, res.TicketID)
	if view.Ticket.Status != domain.TicketOpen || view.Payment.FailureReason == nil || *view.Payment.FailureReason != reason {
		t.Fatalf("unexpected %+v", view)
	}
}

func TestUnknownPaymentCallbackIsNoop(t *testing.T) {
	f := newFixture(t, gateway.NewMock())
	f.hook.Reset()

	out, err := f.svc.UpdatePaymentStatus(context.Background(), StatusUpdate{
		TenantID: f.tenant, PaymentID: uuid.New(), Status: domain.PaymentCompleted,
	})
	if err != nil || out.Found || out.Applied {
		t.Fatalf("unexpected %+v %v", out, err)
	}

	warns := 0
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warns++
			if e.Data["action"] != "payment_status_unknown_payment" {
				t.Fatalf("unexpected warning %v", e.Data["action"])
			}
		}
	}
	if warns != 1 {
		t.Fatalf("want exactly one warning, got %d", warns)
	}
}

func TestConcurrentRefundsNeverOverdraw(t *testing.T) {
	f := newFixture(t, gateway.NewMock())
	res := f.create(t, CreateTicketRequest{Items: []ItemRequest{{MenuItemID: f.platter, Quantity: dec("1")}}})

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refund(context.Background(), RefundRequest{TenantID: f.tenant, PaymentID: res.PaymentID, Amount: dec("7"), Actor: "mgr"})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !apperr.IsValidation(err) {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	view := f.payment(t, res.PaymentID)
	if ok != 4 || !view.Payment.RefundedAmount.Equal(dec("28")) {
		t.Fatalf("ok=%d refunded=%s", ok, view.Payment.RefundedAmount)
	}
}
