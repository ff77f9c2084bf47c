package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

// Refund is written once per attempt and never updated.
type Refund struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	PaymentID         uuid.UUID
	Amount            decimal.Decimal
	Status            RefundStatus
	Processor         string
	ProcessorRefundID string
	Reason            string
	FailureReason     *string
	RequestedBy       string
	ProcessedAt       *time.Time
	CreatedAt         time.Time
}
