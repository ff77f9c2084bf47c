package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	switch st := PaymentStatus(s); st {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return st, true
	}
	return "", false
}

// Settles reports whether reaching this status closes the owning ticket.
func (s PaymentStatus) Settles() bool {
	return s == PaymentCompleted || s == PaymentRefunded
}

// CanTransition guards status callbacks that arrive out of order. A payment
// never goes back to pending, completed and failed do not overwrite each
// other, and refunded is final. Repeating the current status is allowed.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	if s == to {
		return true
	}
	switch s {
	case PaymentPending:
		return true
	case PaymentCompleted:
		return to == PaymentRefunded
	}
	return false
}

type Payment struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	TicketID           uuid.UUID
	Amount             decimal.Decimal
	TipAmount          decimal.Decimal
	Method             string
	Status             PaymentStatus
	Processor          string
	ProcessorPaymentID string
	Reference          string
	MethodType         string
	MethodBrand        string
	MethodLast4        string
	ReceiptURL         string
	FailureReason      *string
	RefundedAmount     decimal.Decimal
	Metadata           PaymentMetadata
	ProcessedBy        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Gross is amount plus tip, the ceiling for cumulative refunds.
func (p *Payment) Gross() decimal.Decimal {
	return p.Amount.Add(p.TipAmount)
}

// Remaining is the amount still refundable.
func (p *Payment) Remaining() decimal.Decimal {
	return p.Gross().Sub(p.RefundedAmount)
}

// PaymentStatusEvent is one row of the append-only payment status log.
type PaymentStatusEvent struct {
	PaymentID uuid.UUID
	From      PaymentStatus
	To        PaymentStatus
	ChangedBy string
	ChangedAt time.Time
	Notes     string
}
