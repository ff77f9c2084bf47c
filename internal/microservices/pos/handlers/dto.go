package handlers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Montivagant/rms-nova-sub000/internal/domain"
	loyalty "github.com/Montivagant/rms-nova-sub000/internal/microservices/loyalty/service"
	"github.com/Montivagant/rms-nova-sub000/internal/microservices/pos/service"
)

// Requests. Money and quantities decode straight into decimals so a body
// value such as 5.25 never passes through a float.

type createTicketItem struct {
	MenuItemID uuid.UUID       `json:"menuItemId"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type createTicketRequest struct {
	Items             []createTicketItem `json:"items"`
	PaymentMethod     string             `json:"paymentMethod"`
	TipAmount         *decimal.Decimal   `json:"tipAmount,omitempty"`
	LocationID        *uuid.UUID         `json:"locationId,omitempty"`
	LoyaltyCustomerID string             `json:"loyaltyCustomerId,omitempty"`
	Notes             string             `json:"notes,omitempty"`
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason,omitempty"`
}

type statusCallback struct {
	TenantID           string  `json:"tenantId"`
	Status             string  `json:"status"`
	FailureReason      *string `json:"failureReason,omitempty"`
	ReceiptURL         string  `json:"receiptUrl,omitempty"`
	Reference          string  `json:"reference,omitempty"`
	ProcessorPaymentID string  `json:"processorPaymentId,omitempty"`
}

type earnRequest struct {
	Amount    *decimal.Decimal  `json:"amount,omitempty"`
	Points    int64             `json:"points,omitempty"`
	Reference string            `json:"reference,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type redeemRequest struct {
	Points    int64             `json:"points"`
	Reference string            `json:"reference,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Responses.

type createTicketResponse struct {
	TicketID      uuid.UUID   `json:"ticketId"`
	PaymentID     uuid.UUID   `json:"paymentId"`
	Subtotal      json.Number `json:"subtotal"`
	TaxAmount     json.Number `json:"taxAmount"`
	Total         json.Number `json:"total"`
	PaymentStatus string      `json:"paymentStatus"`
	TicketStatus  string      `json:"ticketStatus"`
	FailureReason *string     `json:"failureReason"`
}

type lineItemResponse struct {
	MenuItemID   uuid.UUID   `json:"menuItemId"`
	Name         string      `json:"name"`
	Quantity     json.Number `json:"quantity"`
	UnitPrice    json.Number `json:"unitPrice"`
	LineSubtotal json.Number `json:"lineSubtotal"`
	LineTax      json.Number `json:"lineTax"`
}

type paymentSummary struct {
	ID             uuid.UUID   `json:"id"`
	Status         string      `json:"status"`
	Amount         json.Number `json:"amount"`
	TipAmount      json.Number `json:"tipAmount"`
	RefundedAmount json.Number `json:"refundedAmount"`
	Method         string      `json:"method"`
	Processor      string      `json:"processor"`
	Reference      string      `json:"reference,omitempty"`
	ReceiptURL     string      `json:"receiptUrl,omitempty"`
	FailureReason  *string     `json:"failureReason"`
}

type ticketResponse struct {
	ID         uuid.UUID          `json:"id"`
	LocationID uuid.UUID          `json:"locationId"`
	Status     string             `json:"status"`
	Subtotal   json.Number        `json:"subtotal"`
	TaxAmount  json.Number        `json:"taxAmount"`
	Total      json.Number        `json:"total"`
	Currency   string             `json:"currency"`
	Notes      string             `json:"notes,omitempty"`
	OpenedBy   string             `json:"openedBy"`
	OpenedAt   time.Time          `json:"openedAt"`
	ClosedBy   *string            `json:"closedBy"`
	ClosedAt   *time.Time         `json:"closedAt"`
	Items      []lineItemResponse `json:"items"`
	Payment    *paymentSummary    `json:"payment"`
}

type refundResponse struct {
	RefundID        uuid.UUID   `json:"refundId"`
	Amount          json.Number `json:"amount"`
	RemainingAmount json.Number `json:"remainingAmount"`
	Status          string      `json:"status"`
	FailureReason   *string     `json:"failureReason"`
}

type refundEntry struct {
	ID            uuid.UUID   `json:"id"`
	Amount        json.Number `json:"amount"`
	Status        string      `json:"status"`
	Reason        string      `json:"reason,omitempty"`
	FailureReason *string     `json:"failureReason"`
	RequestedBy   string      `json:"requestedBy"`
	CreatedAt     time.Time   `json:"createdAt"`
}

type statusEntry struct {
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	ChangedBy string    `json:"changedBy"`
	ChangedAt time.Time `json:"changedAt"`
}

type paymentResponse struct {
	paymentSummary
	TicketID        uuid.UUID     `json:"ticketId"`
	RemainingAmount json.Number   `json:"remainingAmount"`
	Refunds         []refundEntry `json:"refunds"`
	StatusLog       []statusEntry `json:"statusLog"`
}

type loyaltyTxResponse struct {
	ID           uuid.UUID         `json:"id"`
	Type         string            `json:"type"`
	Points       int64             `json:"points"`
	BalanceAfter int64             `json:"balanceAfter"`
	Reference    string            `json:"reference,omitempty"`
	Source       string            `json:"source,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

type loyaltyAccountResponse struct {
	ID             uuid.UUID           `json:"id"`
	CustomerID     string              `json:"customerId"`
	Balance        int64               `json:"balance"`
	PendingBalance int64               `json:"pendingBalance"`
	Status         string              `json:"status"`
	Transactions   []loyaltyTxResponse `json:"transactions"`
}

func amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func quantity(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func toTicketItems(in []createTicketItem) []service.ItemRequest {
	out := make([]service.ItemRequest, 0, len(in))
	for _, it := range in {
		out = append(out, service.ItemRequest{MenuItemID: it.MenuItemID, Quantity: it.Quantity})
	}
	return out
}

func toCreateTicketResponse(r *service.CreateTicketResult) createTicketResponse {
	return createTicketResponse{
		TicketID:      r.TicketID,
		PaymentID:     r.PaymentID,
		Subtotal:      amount(r.Subtotal),
		TaxAmount:     amount(r.TaxAmount),
		Total:         amount(r.Total),
		PaymentStatus: string(r.PaymentStatus),
		TicketStatus:  string(r.TicketStatus),
		FailureReason: r.FailureReason,
	}
}

func toPaymentSummary(p *domain.Payment) paymentSummary {
	return paymentSummary{
		ID:             p.ID,
		Status:         string(p.Status),
		Amount:         amount(p.Amount),
		TipAmount:      amount(p.TipAmount),
		RefundedAmount: amount(p.RefundedAmount),
		Method:         p.Method,
		Processor:      p.Processor,
		Reference:      p.Reference,
		ReceiptURL:     p.ReceiptURL,
		FailureReason:  p.FailureReason,
	}
}

func toTicketResponse(v *service.TicketView) ticketResponse {
	t := v.Ticket
	out := ticketResponse{
		ID:         t.ID,
		LocationID: t.LocationID,
		Status:     string(t.Status),
		Subtotal:   amount(t.Subtotal),
		TaxAmount:  amount(t.TaxAmount),
		Total:      amount(t.Total),
		Currency:   t.Currency,
		Notes:      t.Notes,
		OpenedBy:   t.OpenedBy,
		OpenedAt:   t.OpenedAt,
		ClosedBy:   t.ClosedBy,
		ClosedAt:   t.ClosedAt,
		Items:      make([]lineItemResponse, 0, len(t.Items)),
	}
	for _, li := range t.Items {
		out.Items = append(out.Items, lineItemResponse{
			MenuItemID:   li.MenuItemID,
			Name:         li.Name,
			Quantity:     quantity(li.Quantity),
			UnitPrice:    amount(li.UnitPrice),
			LineSubtotal: amount(li.LineSubtotal),
			LineTax:      amount(li.LineTax),
		})
	}
	if v.Payment != nil {
		ps := toPaymentSummary(v.Payment)
		out.Payment = &ps
	}
	return out
}

func toRefundResponse(r *service.RefundResult) refundResponse {
	return refundResponse{
		RefundID:        r.RefundID,
		Amount:          amount(r.Amount),
		RemainingAmount: amount(r.RemainingAmount),
		Status:          string(r.Status),
		FailureReason:   r.FailureReason,
	}
}

func toPaymentResponse(v *service.PaymentView) paymentResponse {
	out := paymentResponse{
		paymentSummary:  toPaymentSummary(&v.Payment),
		TicketID:        v.Payment.TicketID,
		RemainingAmount: amount(v.Remaining),
		Refunds:         make([]refundEntry, 0, len(v.Refunds)),
		StatusLog:       make([]statusEntry, 0, len(v.StatusLog)),
	}
	for _, r := range v.Refunds {
		out.Refunds = append(out.Refunds, refundEntry{
			ID:            r.ID,
			Amount:        amount(r.Amount),
			Status:        string(r.Status),
			Reason:        r.Reason,
			FailureReason: r.FailureReason,
			RequestedBy:   r.RequestedBy,
			CreatedAt:     r.CreatedAt,
		})
	}
	for _, e := range v.StatusLog {
		out.StatusLog = append(out.StatusLog, statusEntry{
			From:      string(e.From),
			To:        string(e.To),
			ChangedBy: e.ChangedBy,
			ChangedAt: e.ChangedAt,
		})
	}
	return out
}

func toLoyaltyTx(t *domain.LoyaltyTransaction) loyaltyTxResponse {
	return loyaltyTxResponse{
		ID:           t.ID,
		Type:         string(t.Type),
		Points:       t.Points,
		BalanceAfter: t.BalanceAfter,
		Reference:    t.Reference,
		Source:       t.Source,
		Metadata:     t.Metadata,
		CreatedAt:    t.CreatedAt,
	}
}

func toLoyaltyAccount(v *loyalty.AccountView) loyaltyAccountResponse {
	out := loyaltyAccountResponse{
		ID:             v.Account.ID,
		CustomerID:     v.Account.ExternalCustomerID,
		Balance:        v.Account.Balance,
		PendingBalance: v.Account.PendingBalance,
		Status:         string(v.Account.Status),
		Transactions:   make([]loyaltyTxResponse, 0, len(v.Transactions)),
	}
	for i := range v.Transactions {
		out.Transactions = append(out.Transactions, toLoyaltyTx(&v.Transactions[i]))
	}
	return out
}
