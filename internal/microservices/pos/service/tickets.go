package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Montivagant/rms-nova-sub000/internal/common/apperr"
	"github.com/Montivagant/rms-nova-sub000/internal/common/money"
	"github.com/Montivagant/rms-nova-sub000/internal/common/uow"
	"github.com/Montivagant/rms-nova-sub000/internal/domain"
	"github.com/Montivagant/rms-nova-sub000/internal/gateway"
	"github.com/Montivagant/rms-nova-sub000/internal/repository"
)

type CreateTicketRequest struct {
	TenantID          uuid.UUID
	Actor             string
	Items             []ItemRequest
	PaymentMethod     string
	TipAmount         decimal.Decimal
	LocationID        *uuid.UUID
	LoyaltyCustomerID string
	Notes             string
}

type CreateTicketResult struct {
	TicketID      uuid.UUID
	PaymentID     uuid.UUID
	Subtotal      decimal.Decimal
	TaxAmount     decimal.Decimal
	Total         decimal.Decimal
	PaymentStatus domain.PaymentStatus
	TicketStatus  domain.TicketStatus
	FailureReason *string
}

type TicketView struct {
	Ticket  domain.Ticket
	Payment *domain.Payment
}

// CreateTicket prices the items, captures the payment and stores the ticket,
// its line items and the payment together. The capture runs before the
// writing transaction opens so no lock is held across the processor call.
func (s *Service) CreateTicket(ctx context.Context, req CreateTicketRequest) (*CreateTicketResult, error) {
	// 1. Basic validation
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		return nil, apperr.New(apperr.KindValidation, "paymentMethod is required")
	}
	if req.TipAmount.IsNegative() {
		return nil, apperr.New(apperr.KindValidation, "tipAmount must not be negative")
	}
	tip := money.Round2(req.TipAmount)
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		return nil, apperr.New(apperr.KindValidation, "actor is required")
	}

	// 2. Price the items
	var priced *PricedTicket
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		priced, err = s.Price(ctx, tx, req.TenantID, req.LocationID, req.Items)
		return err
	})
	if err != nil {
		return nil, err
	}

	// 3. Capture
	ticketID, paymentID := uuid.New(), uuid.New()
	customer := strings.TrimSpace(req.LoyaltyCustomerID)
	captureMeta := map[string]string{"ticketId": ticketID.String()}
	if customer != "" {
		captureMeta["loyaltyCustomerId"] = customer
	}
	capture, err := s.gw.Capture(ctx, gateway.CaptureRequest{
		TenantID:   req.TenantID,
		TicketID:   ticketID,
		PaymentID:  paymentID,
		Amount:     priced.Total,
		TipAmount:  tip,
		Currency:   priced.Currency,
		Method:     method,
		LocationID: priced.LocationID,
		Metadata:   captureMeta,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "payment capture failed")
	}
	status := domain.PaymentStatus(capture.Status)

	// 4. Persist ticket, lines and payment
	now := s.now()
	ticket := &domain.Ticket{
		ID:         ticketID,
		TenantID:   req.TenantID,
		LocationID: priced.LocationID,
		Status:     domain.TicketOpen,
		Subtotal:   priced.Subtotal,
		TaxAmount:  priced.TaxAmount,
		Total:      priced.Total,
		Currency:   priced.Currency,
		Notes:      req.Notes,
		OpenedBy:   actor,
		OpenedAt:   now,
		Items:      priced.Lines,
	}
	for i := range ticket.Items {
		ticket.Items[i].TicketID = ticketID
	}
	if status == domain.PaymentCompleted {
		ticket.Status = domain.TicketSettled
		ticket.ClosedAt = &now
		ticket.ClosedBy = &actor
	}

	meta := domain.PaymentMetadata{Currency: priced.Currency, LoyaltyExternalCustomerID: customer}
	meta.MergeProvider(capture.Metadata)
	payment := &domain.Payment{
		ID:                 paymentID,
		TenantID:           req.TenantID,
		TicketID:           ticketID,
		Amount:             priced.Total,
		TipAmount:          tip,
		Method:             method,
		Status:             status,
		Processor:          capture.Processor,
		ProcessorPaymentID: capture.ProcessorPaymentID,
		Reference:          capture.Reference,
		MethodType:         capture.MethodType,
		MethodBrand:        capture.MethodBrand,
		MethodLast4:        capture.MethodLast4,
		ReceiptURL:         capture.ReceiptURL,
		FailureReason:      capture.FailureReason,
		RefundedAmount:     decimal.Zero,
		Metadata:           meta,
		ProcessedBy:        actor,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.run(ctx, func(ctx context.Context, tx repository.Tx, w *uow.Work) error {
		if err := tx.InsertTicket(ctx, ticket); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		if err := tx.AppendStatusEvent(ctx, domain.PaymentStatusEvent{
			PaymentID: paymentID,
			To:        status,
			ChangedBy: actor,
			ChangedAt: now,
			Notes:     "capture via " + capture.Processor,
		}); err != nil {
			return err
		}

		// 5. Side effects once durable
		switch {
		case status == domain.PaymentPending && s.cfg.DeferPending && s.enqueuer != nil:
			job := domain.SettlementJob{
				TenantID:     req.TenantID,
				PaymentID:    paymentID,
				TicketID:     ticketID,
				ProcessedBy:  actor,
				TargetStatus: s.cfg.DeferTarget,
			}
			w.AfterCommit(func(ctx context.Context) {
				if err := s.enqueuer.Enqueue(ctx, job, s.cfg.DeferDelay); err != nil {
					s.log.Error("settlement_enqueue_failed", err, map[string]any{"payment_id": paymentID.String()})
					return
				}
				s.log.Info("settlement_enqueued", map[string]any{
					"payment_id": paymentID.String(), "target_status": string(job.TargetStatus), "delay_ms": s.cfg.DeferDelay.Milliseconds(),
				})
			})
		case status == domain.PaymentCompleted && customer != "":
			s.earnAfterCommit(w, req.TenantID, paymentID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Wrap(apperr.KindConflict, err, "ticket already exists")
		}
		return nil, err
	}

	s.log.Info("ticket_created", map[string]any{
		"ticket_id":      ticketID.String(),
		"payment_id":     paymentID.String(),
		"total":          priced.Total.StringFixed(2),
		"payment_status": string(status),
		"processor":      capture.Processor,
		"simulated":      capture.Simulated,
	})

	return &CreateTicketResult{
		TicketID:      ticketID,
		PaymentID:     paymentID,
		Subtotal:      priced.Subtotal,
		TaxAmount:     priced.TaxAmount,
		Total:         priced.Total,
		PaymentStatus: status,
		TicketStatus:  ticket.Status,
		FailureReason: capture.FailureReason,
	}, nil
}

func (s *Service) GetTicket(ctx context.Context, tenantID, ticketID uuid.UUID) (*TicketView, error) {
	var out *TicketView
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.GetTicket(ctx, tenantID, ticketID)
		if err != nil {
			return notFound(err, "ticket %s not found", ticketID)
		}
		out = &TicketView{Ticket: *t}
		p, err := tx.GetPaymentByTicket(ctx, tenantID, ticketID)
		switch {
		case err == nil:
			out.Payment = p
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}
		return nil
	})
	return out, err
}
