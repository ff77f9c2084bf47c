// Package gateway is the boundary to payment processors. Every backend
// returns the same normalized capture and refund results.
package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome is the status a processor reports for a capture or refund.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePending   Outcome = "pending"
	OutcomeFailed    Outcome = "failed"
)

func ParseOutcome(s string) (Outcome, bool) {
	switch o := Outcome(s); o {
	case OutcomeCompleted, OutcomePending, OutcomeFailed:
		return o, true
	}
	return "", false
}

type CaptureRequest struct {
	TenantID   uuid.UUID
	TicketID   uuid.UUID
	PaymentID  uuid.UUID
	Amount     decimal.Decimal
	TipAmount  decimal.Decimal
	Currency   string
	Method     string
	LocationID uuid.UUID
	Metadata   map[string]string
}

type CaptureResult struct {
	Processor          string
	ProcessorPaymentID string
	Reference          string
	Status             Outcome
	FailureReason      *string
	ReceiptURL         string
	MethodType         string
	MethodBrand        string
	MethodLast4        string
	Metadata           map[string]string

	// Simulated is set when the result was produced locally instead of by
	// the processor. FallbackReason says why.
	Simulated      bool
	FallbackReason string
}

type RefundRequest struct {
	TenantID  uuid.UUID
	PaymentID uuid.UUID
	RefundID  uuid.UUID
	Amount    decimal.Decimal
	Currency  string
	Reason    string
}

type RefundResult struct {
	Processor         string
	ProcessorRefundID string
	Status            Outcome
	FailureReason     *string
	Metadata          map[string]string

	Simulated      bool
	FallbackReason string
}

// Gateway captures and refunds payments. Transport problems never surface as
// errors: backends that talk to a remote processor fall back to a simulated
// result instead.
type Gateway interface {
	Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	// Processor is the name stamped on every result of this backend.
	Processor() string
}
