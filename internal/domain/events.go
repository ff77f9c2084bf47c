package domain

import "github.com/google/uuid"

// SettlementJob asks the deferred-settlement worker to move a pending payment
// to TargetStatus once its delay has elapsed.
type SettlementJob struct {
	TenantID     uuid.UUID     `json:"tenantId"`
	PaymentID    uuid.UUID     `json:"paymentId"`
	TicketID     uuid.UUID     `json:"ticketId"`
	ProcessedBy  string        `json:"processedBy"`
	TargetStatus PaymentStatus `json:"targetStatus"`
}
