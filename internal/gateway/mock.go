package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const MockProcessor = "mockpay"

// Mock completes every capture and refund synchronously. It backs fully
// offline deployments.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Processor() string { return MockProcessor }

func (m *Mock) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	id := "mock_pay_" + compactID(req.PaymentID)
	return CaptureResult{
		Processor:          MockProcessor,
		ProcessorPaymentID: id,
		Reference:          "MOCK-" + strings.ToUpper(compactID(req.TicketID)[:8]),
		Status:             OutcomeCompleted,
		ReceiptURL:         fmt.Sprintf("https://receipts.%s.local/%s", MockProcessor, id),
		MethodType:         req.Method,
		Metadata:           map[string]string{"mode": "mock"},
	}, nil
}

func (m *Mock) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	return RefundResult{
		Processor:         MockProcessor,
		ProcessorRefundID: "mock_ref_" + compactID(req.RefundID),
		Status:            OutcomeCompleted,
		Metadata:          map[string]string{"mode": "mock"},
	}, nil
}

func compactID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}
