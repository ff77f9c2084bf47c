package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Montivagant/rms-nova-sub000/internal/domain"
)

// MemoryStore keeps everything in process. Transactions are serialized and
// work on a copy of the state that replaces the committed state only when fn
// succeeds, which gives the same all-or-nothing and row-lock guarantees as
// the Postgres store. It backs the offline deployment and the test suites.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type priceKey struct {
	tenant, item, location uuid.UUID
}

type customerKey struct {
	tenant   uuid.UUID
	customer string
}

type memState struct {
	locations  map[uuid.UUID]domain.Location
	prices     map[priceKey]domain.MenuPrice
	tickets    map[uuid.UUID]domain.Ticket
	payments   map[uuid.UUID]domain.Payment
	statusLog  []domain.PaymentStatusEvent
	refunds    []domain.Refund
	accounts   map[uuid.UUID]domain.LoyaltyAccount
	byCustomer map[customerKey]uuid.UUID
	loyaltyTx  []domain.LoyaltyTransaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		locations:  map[uuid.UUID]domain.Location{},
		prices:     map[priceKey]domain.MenuPrice{},
		tickets:    map[uuid.UUID]domain.Ticket{},
		payments:   map[uuid.UUID]domain.Payment{},
		accounts:   map[uuid.UUID]domain.LoyaltyAccount{},
		byCustomer: map[customerKey]uuid.UUID{},
	}}
}

func (s *MemoryStore) Close() error { return nil }

// SeedLocation registers a pricing location.
func (s *MemoryStore) SeedLocation(loc domain.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.locations[loc.ID] = loc
}

// SeedPrice registers a menu price at a location.
func (s *MemoryStore) SeedPrice(tenantID uuid.UUID, p domain.MenuPrice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.prices[priceKey{tenantID, p.MenuItemID, p.LocationID}] = p
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (st *memState) clone() *memState {
	out := &memState{
		locations:  cloneMap(st.locations),
		prices:     cloneMap(st.prices),
		tickets:    make(map[uuid.UUID]domain.Ticket, len(st.tickets)),
		payments:   make(map[uuid.UUID]domain.Payment, len(st.payments)),
		statusLog:  slices.Clone(st.statusLog),
		refunds:    slices.Clone(st.refunds),
		accounts:   cloneMap(st.accounts),
		byCustomer: cloneMap(st.byCustomer),
		loyaltyTx:  slices.Clone(st.loyaltyTx),
	}
	for id, t := range st.tickets {
		out.tickets[id] = copyTicket(t)
	}
	for id, p := range st.payments {
		out.payments[id] = copyPayment(p)
	}
	return out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyTicket(t domain.Ticket) domain.Ticket {
	t.Items = slices.Clone(t.Items)
	if t.ClosedAt != nil {
		at := *t.ClosedAt
		t.ClosedAt = &at
	}
	if t.ClosedBy != nil {
		by := *t.ClosedBy
		t.ClosedBy = &by
	}
	return t
}

func copyPayment(p domain.Payment) domain.Payment {
	p.Metadata = p.Metadata.Clone()
	if p.FailureReason != nil {
		r := *p.FailureReason
		p.FailureReason = &r
	}
	return p
}

type memTx struct {
	st *memState
}

func (tx *memTx) BestEffort(ctx context.Context, name string, recoverable func(error) bool, fn func() error) (bool, error) {
	saved := tx.st.clone()
	err := fn()
	if err == nil {
		return false, nil
	}
	if recoverable != nil && recoverable(err) {
		*tx.st = *saved
		return true, nil
	}
	return false, err
}

func (tx *memTx) DefaultLocation(ctx context.Context, tenantID uuid.UUID) (domain.Location, error) {
	for _, loc := range tx.st.locations {
		if loc.TenantID == tenantID && loc.IsDefault {
			return loc, nil
		}
	}
	return domain.Location{}, ErrNotFound
}

func (tx *memTx) GetLocation(ctx context.Context, tenantID, locationID uuid.UUID) (domain.Location, error) {
	loc, ok := tx.st.locations[locationID]
	if !ok || loc.TenantID != tenantID {
		return domain.Location{}, ErrNotFound
	}
	return loc, nil
}

func (tx *memTx) PriceCandidates(ctx context.Context, tenantID uuid.UUID, itemIDs, locationIDs []uuid.UUID) ([]domain.MenuPrice, error) {
	var out []domain.MenuPrice
	for _, item := range itemIDs {
		for _, loc := range locationIDs {
			if p, ok := tx.st.prices[priceKey{tenantID, item, loc}]; ok {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (tx *memTx) InsertTicket(ctx context.Context, t *domain.Ticket) error {
	if _, ok := tx.st.tickets[t.ID]; ok {
		return ErrDuplicate
	}
	tx.st.tickets[t.ID] = copyTicket(*t)
	return nil
}

func (tx *memTx) GetTicket(ctx context.Context, tenantID, ticketID uuid.UUID) (*domain.Ticket, error) {
	t, ok := tx.st.tickets[ticketID]
	if !ok || t.TenantID != tenantID {
		return nil, ErrNotFound
	}
	out := copyTicket(t)
	return &out, nil
}

func (tx *memTx) CloseTicket(ctx context.Context, tenantID, ticketID uuid.UUID, closedBy string, at time.Time) (bool, error) {
	t, ok := tx.st.tickets[ticketID]
	if !ok || t.TenantID != tenantID {
		return false, ErrNotFound
	}
	t.Status = domain.TicketSettled
	if t.ClosedAt != nil {
		tx.st.tickets[ticketID] = t
		return false, nil
	}
	t.ClosedAt = &at
	t.ClosedBy = &closedBy
	tx.st.tickets[ticketID] = t
	return true, nil
}

func (tx *memTx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	if _, ok := tx.st.payments[p.ID]; ok {
		return ErrDuplicate
	}
	tx.st.payments[p.ID] = copyPayment(*p)
	return nil
}

func (tx *memTx) GetPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*domain.Payment, error) {
	p, ok := tx.st.payments[paymentID]
	if !ok || p.TenantID != tenantID {
		return nil, ErrNotFound
	}
	out := copyPayment(p)
	return &out, nil
}

func (tx *memTx) GetPaymentByTicket(ctx context.Context, tenantID, ticketID uuid.UUID) (*domain.Payment, error) {
	for _, p := range tx.st.payments {
		if p.TenantID == tenantID && p.TicketID == ticketID {
			out := copyPayment(p)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// LockPayment needs no extra locking: the whole transaction already holds
// the store mutex.
func (tx *memTx) LockPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*domain.Payment, error) {
	return tx.GetPayment(ctx, tenantID, paymentID)
}

func (tx *memTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	cur, ok := tx.st.payments[p.ID]
	if !ok || cur.TenantID != p.TenantID {
		return ErrNotFound
	}
	tx.st.payments[p.ID] = copyPayment(*p)
	return nil
}

func (tx *memTx) AppendStatusEvent(ctx context.Context, ev domain.PaymentStatusEvent) error {
	tx.st.statusLog = append(tx.st.statusLog, ev)
	return nil
}

func (tx *memTx) ListStatusEvents(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentStatusEvent, error) {
	var out []domain.PaymentStatusEvent
	for _, ev := range tx.st.statusLog {
		if ev.PaymentID == paymentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (tx *memTx) InsertRefund(ctx context.Context, r *domain.Refund) error {
	tx.st.refunds = append(tx.st.refunds, *r)
	return nil
}

func (tx *memTx) ListRefunds(ctx context.Context, tenantID, paymentID uuid.UUID) ([]domain.Refund, error) {
	var out []domain.Refund
	for _, r := range tx.st.refunds {
		if r.TenantID == tenantID && r.PaymentID == paymentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (tx *memTx) GetAccountByCustomer(ctx context.Context, tenantID uuid.UUID, externalCustomerID string) (*domain.LoyaltyAccount, error) {
	id, ok := tx.st.byCustomer[customerKey{tenantID, externalCustomerID}]
	if !ok {
		return nil, ErrNotFound
	}
	a := tx.st.accounts[id]
	return &a, nil
}

func (tx *memTx) LockAccountByCustomer(ctx context.Context, tenantID uuid.UUID, externalCustomerID string) (*domain.LoyaltyAccount, error) {
	return tx.GetAccountByCustomer(ctx, tenantID, externalCustomerID)
}

func (tx *memTx) InsertAccount(ctx context.Context, a *domain.LoyaltyAccount) error {
	key := customerKey{a.TenantID, a.ExternalCustomerID}
	if _, ok := tx.st.byCustomer[key]; ok {
		return ErrDuplicate
	}
	tx.st.accounts[a.ID] = *a
	tx.st.byCustomer[key] = a.ID
	return nil
}

func (tx *memTx) UpdateAccountBalance(ctx context.Context, accountID uuid.UUID, balance int64, at time.Time) error {
	a, ok := tx.st.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.Balance = balance
	a.UpdatedAt = at
	tx.st.accounts[accountID] = a
	return nil
}

func (tx *memTx) InsertLoyaltyTransaction(ctx context.Context, t *domain.LoyaltyTransaction) error {
	tx.st.loyaltyTx = append(tx.st.loyaltyTx, *t)
	return nil
}

func (tx *memTx) ListLoyaltyTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LoyaltyTransaction, error) {
	var out []domain.LoyaltyTransaction
	for i := len(tx.st.loyaltyTx) - 1; i >= 0; i-- {
		if t := tx.st.loyaltyTx[i]; t.AccountID == accountID {
			out = append(out, t)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
