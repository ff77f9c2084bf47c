package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Montivagant/rms-nova-sub000/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
)

// Store opens transactions. Every mutation of tickets, payments and loyalty
// accounts happens through a Tx.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

type Tx interface {
	PricingRepository
	TicketRepository
	PaymentRepository
	RefundRepository
	LoyaltyRepository

	// BestEffort runs fn in a nested scope. If fn fails with an error for
	// which recoverable returns true, its writes are undone, the outer
	// transaction continues and recovered is true. Any other error is
	// returned unchanged.
	BestEffort(ctx context.Context, name string, recoverable func(error) bool, fn func() error) (recovered bool, err error)
}

type PricingRepository interface {
	// DefaultLocation returns the tenant's default pricing location.
	DefaultLocation(ctx context.Context, tenantID uuid.UUID) (domain.Location, error)
	GetLocation(ctx context.Context, tenantID, locationID uuid.UUID) (domain.Location, error)
	// PriceCandidates returns every price row for the given items at any of
	// the given locations.
	PriceCandidates(ctx context.Context, tenantID uuid.UUID, itemIDs, locationIDs []uuid.UUID) ([]domain.MenuPrice, error)
}

type TicketRepository interface {
	// InsertTicket stores the ticket and its line items.
	InsertTicket(ctx context.Context, t *domain.Ticket) error
	GetTicket(ctx context.Context, tenantID, ticketID uuid.UUID) (*domain.Ticket, error)
	// CloseTicket marks the ticket settled. closedAt is only written when it
	// was empty, so repeated calls keep the first close time. Returns true
	// when this call performed the close.
	CloseTicket(ctx context.Context, tenantID, ticketID uuid.UUID, closedBy string, at time.Time) (bool, error)
}

type PaymentRepository interface {
	InsertPayment(ctx context.Context, p *domain.Payment) error
	GetPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*domain.Payment, error)
	GetPaymentByTicket(ctx context.Context, tenantID, ticketID uuid.UUID) (*domain.Payment, error)
	// LockPayment reads the payment holding a row lock until the end of the
	// transaction. Returns ErrNotFound when absent.
	LockPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*domain.Payment, error)
	UpdatePayment(ctx context.Context, p *domain.Payment) error
	AppendStatusEvent(ctx context.Context, ev domain.PaymentStatusEvent) error
	// ListStatusEvents returns the status timeline, oldest first.
	ListStatusEvents(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentStatusEvent, error)
}

type RefundRepository interface {
	InsertRefund(ctx context.Context, r *domain.Refund) error
	ListRefunds(ctx context.Context, tenantID, paymentID uuid.UUID) ([]domain.Refund, error)
}

type LoyaltyRepository interface {
	GetAccountByCustomer(ctx context.Context, tenantID uuid.UUID, externalCustomerID string) (*domain.LoyaltyAccount, error)
	// LockAccountByCustomer is GetAccountByCustomer with a row lock.
	LockAccountByCustomer(ctx context.Context, tenantID uuid.UUID, externalCustomerID string) (*domain.LoyaltyAccount, error)
	// InsertAccount returns ErrDuplicate when the customer already has one.
	InsertAccount(ctx context.Context, a *domain.LoyaltyAccount) error
	UpdateAccountBalance(ctx context.Context, accountID uuid.UUID, balance int64, at time.Time) error
	InsertLoyaltyTransaction(ctx context.Context, t *domain.LoyaltyTransaction) error
	// ListLoyaltyTransactions returns the newest rows first. limit <= 0 means all.
	ListLoyaltyTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LoyaltyTransaction, error)
}
