package service

import (
	"context"
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

type RefundRequest struct {
	TenantID  uuid.UUID
	PaymentID uuid.UUID
	Amount    decimal.Decimal
	Reason    string
	Actor     string
}

type RefundResult struct {
	RefundID        uuid.UUID
	Amount          decimal.Decimal
	RemainingAmount decimal.Decimal
	Status          domain.RefundStatus
	FailureReason   *string
}

type PaymentView struct {
	Payment   domain.Payment
	Refunds   []domain.Refund
	StatusLog []domain.PaymentStatusEvent
	Remaining decimal.Decimal
}

// Refund refunds part or all of a completed payment. The payment row stays
// locked across the processor call so concurrent refunds cannot overdraw
// it. Only a completed refund consumes the remaining balance; pending and
// failed attempts are recorded and may be retried.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	amount := money.Round2(req.Amount)
	if !amount.IsPositive() {
		return nil, apperr.New(apperr.KindValidation, "refund amount must be positive")
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		return nil, apperr.New(apperr.KindValidation, "actor is required")
	}

	var out *RefundResult
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, w *uow.Work) error {
		p, err := tx.LockPayment(ctx, req.TenantID, req.PaymentID)
		if err != nil {
			return notFound(err, "payment %s not found", req.PaymentID)
		}
		if p.Status != domain.PaymentCompleted {
			return apperr.Newf(apperr.KindValidation, "payment is %s, only completed payments can be refunded", p.Status)
		}
		remaining := p.Remaining()
		if !remaining.IsPositive() {
			return apperr.New(apperr.KindValidation, "payment is already fully refunded")
		}
		if amount.GreaterThan(remaining) {
			return apperr.Newf(apperr.KindValidation, "refund amount %s exceeds remaining %s", amount.StringFixed(2), remaining.StringFixed(2))
		}

		refundID := uuid.New()
		res, err := s.gw.Refund(ctx, gateway.RefundRequest{
			TenantID:  req.TenantID,
			PaymentID: p.ID,
			RefundID:  refundID,
			Amount:    amount,
			Currency:  p.Metadata.Currency,
			Reason:    req.Reason,
		})
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, err, "refund failed")
		}

		now := s.now()
		refund := &domain.Refund{
			ID:                refundID,
			TenantID:          req.TenantID,
			PaymentID:         p.ID,
			Amount:            amount,
			Status:            domain.RefundStatus(res.Status),
			Processor:         res.Processor,
			ProcessorRefundID: res.ProcessorRefundID,
			Reason:            req.Reason,
			FailureReason:     res.FailureReason,
			RequestedBy:       actor,
			CreatedAt:         now,
		}
		if refund.Status == domain.RefundCompleted {
			refund.ProcessedAt = &now
		}
		if err := tx.InsertRefund(ctx, refund); err != nil {
			return err
		}

		if refund.Status == domain.RefundCompleted {
			p.RefundedAmount = p.RefundedAmount.Add(amount)
			p.UpdatedAt = now
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return err
			}
			if p.Metadata.HasLoyalty() && s.loyalty != nil {
				tenantID, paymentID := req.TenantID, p.ID
				w.AfterCommit(func(ctx context.Context) {
					if _, err := s.loyalty.RedeemForRefund(ctx, tenantID, paymentID, refundID, amount); err != nil {
						s.log.Error("loyalty_redeem_failed", err, map[string]any{"payment_id": paymentID.String(), "refund_id": refundID.String()})
					}
				})
			}
		}

		out = &RefundResult{
			RefundID:        refundID,
			Amount:          amount,
			RemainingAmount: p.Remaining(),
			Status:          refund.Status,
			FailureReason:   refund.FailureReason,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("refund_recorded", map[string]any{
		"payment_id": req.PaymentID.String(),
		"refund_id":  out.RefundID.String(),
		"amount":     amount.StringFixed(2),
		"status":     string(out.Status),
		"remaining":  out.RemainingAmount.StringFixed(2),
	})
	return out, nil
}

func (s *Service) GetPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*PaymentView, error) {
	var out *PaymentView
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.GetPayment(ctx, tenantID, paymentID)
		if err != nil {
			return notFound(err, "payment %s not found", paymentID)
		}
		refunds, err := tx.ListRefunds(ctx, tenantID, paymentID)
		if err != nil {
			return err
		}
		events, err := tx.ListStatusEvents(ctx, paymentID)
		if err != nil {
			return err
		}
		out = &PaymentView{Payment: *p, Refunds: refunds, StatusLog: events, Remaining: p.Remaining()}
		return nil
	})
	return out, err
}
