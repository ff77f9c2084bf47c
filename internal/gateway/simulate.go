package gateway

import (
	"fmt"
	"strings"
)

const simulatedFailure = "simulated_decline"

// simulateCapture builds the result a processor would have returned for the
// configured target outcome.
func simulateCapture(processor string, target Outcome, req CaptureRequest, reason string) CaptureResult {
	id := fmt.Sprintf("%s_sim_%s", processor, compactID(req.PaymentID))
	res := CaptureResult{
		Processor:          processor,
		ProcessorPaymentID: id,
		Reference:          "SIM-" + strings.ToUpper(compactID(req.TicketID)[:8]),
		Status:             target,
		MethodType:         req.Method,
		Metadata:           map[string]string{"simulated": "true", "fallbackReason": reason},
		Simulated:          true,
		FallbackReason:     reason,
	}
	switch target {
	case OutcomeCompleted:
		res.ReceiptURL = fmt.Sprintf("https://receipts.%s.local/%s", processor, id)
	case OutcomeFailed:
		f := simulatedFailure
		res.FailureReason = &f
	}
	return res
}

func simulateRefund(processor string, target Outcome, req RefundRequest, reason string) RefundResult {
	res := RefundResult{
		Processor:         processor,
		ProcessorRefundID: fmt.Sprintf("%s_simref_%s", processor, compactID(req.RefundID)),
		Status:            target,
		Metadata:          map[string]string{"simulated": "true", "fallbackReason": reason},
		Simulated:         true,
		FallbackReason:    reason,
	}
	if target == OutcomeFailed {
		f := simulatedFailure
		res.FailureReason = &f
	}
	return res
}
