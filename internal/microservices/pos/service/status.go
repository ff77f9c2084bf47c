package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/Montivagant/rms-nova-sub000/internal/common/apperr"
	"github.com/Montivagant/rms-nova-sub000/internal/common/uow"
	"github.com/Montivagant/rms-nova-sub000/internal/domain"
	"github.com/Montivagant/rms-nova-sub000/internal/repository"
)

// StatusUpdate is a processor callback or a deferred settlement firing.
type StatusUpdate struct {
	TenantID           uuid.UUID
	PaymentID          uuid.UUID
	Status             domain.PaymentStatus
	FailureReason      *string
	ReceiptURL         string
	Reference          string
	ProcessorPaymentID string
	// ChangedBy names the source in the status log.
	ChangedBy string
	// ClosedBy is stamped on the ticket when it settles. Empty means the
	// actor who opened it.
	ClosedBy string
}

type StatusOutcome struct {
	Found        bool
	Applied      bool
	From         domain.PaymentStatus
	To           domain.PaymentStatus
	TicketClosed bool
}

// UpdatePaymentStatus applies a status reported after capture. Unknown
// payments are a no-op so providers can retry blindly. Transitions that
// would move a payment backwards are ignored.
func (s *Service) UpdatePaymentStatus(ctx context.Context, u StatusUpdate) (StatusOutcome, error) {
	if _, ok := domain.ParsePaymentStatus(string(u.Status)); !ok {
		return StatusOutcome{}, apperr.Newf(apperr.KindValidation, "unknown payment status %q", u.Status)
	}

	var out StatusOutcome
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, w *uow.Work) error {
		p, err := tx.LockPayment(ctx, u.TenantID, u.PaymentID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out.Found = true
		out.From, out.To = p.Status, u.Status

		if !p.Status.CanTransition(u.Status) {
			s.log.Info("payment_status_ignored", map[string]any{
				"payment_id": p.ID.String(), "current": string(p.Status), "reported": string(u.Status),
			})
			return nil
		}
		changed := p.Status != u.Status

		now := s.now()
		p.Status = u.Status
		if u.FailureReason != nil {
			p.FailureReason = u.FailureReason
		}
		if u.ReceiptURL != "" {
			p.ReceiptURL = u.ReceiptURL
		}
		if u.Reference != "" {
			p.Reference = u.Reference
		}
		if u.ProcessorPaymentID != "" {
			p.ProcessorPaymentID = u.ProcessorPaymentID
		}
		p.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		out.Applied = true

		if changed {
			if err := tx.AppendStatusEvent(ctx, domain.PaymentStatusEvent{
				PaymentID: p.ID,
				From:      out.From,
				To:        u.Status,
				ChangedBy: firstNonEmpty(u.ChangedBy, "processor"),
				ChangedAt: now,
			}); err != nil {
				return err
			}
		}

		if u.Status.Settles() {
			t, err := tx.GetTicket(ctx, u.TenantID, p.TicketID)
			if err != nil {
				return notFound(err, "ticket %s not found", p.TicketID)
			}
			closedBy := strings.TrimSpace(u.ClosedBy)
			if closedBy == "" {
				closedBy = t.OpenedBy
			}
			if out.TicketClosed, err = tx.CloseTicket(ctx, u.TenantID, t.ID, closedBy, now); err != nil {
				return err
			}
		}

		// A repeated completed callback retries an earn that failed earlier;
		// the marker keeps it from awarding twice.
		if u.Status == domain.PaymentCompleted && p.Metadata.HasLoyalty() && p.Metadata.LoyaltyPointsEarned == nil {
			s.earnAfterCommit(w, u.TenantID, p.ID)
		}
		return nil
	})
	if err != nil {
		return StatusOutcome{}, err
	}

	if !out.Found {
		s.log.Warn("payment_status_unknown_payment", map[string]any{
			"payment_id": u.PaymentID.String(), "tenant_id": u.TenantID.String(), "status": string(u.Status),
		})
		return out, nil
	}
	if out.Applied {
		s.log.Info("payment_status_updated", map[string]any{
			"payment_id": u.PaymentID.String(), "from": string(out.From), "to": string(out.To), "ticket_closed": out.TicketClosed,
		})
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
