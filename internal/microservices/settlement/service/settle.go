package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Montivagant/rms-nova-sub000/internal/common/apperr"
	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/domain"
	pos "github.com/Montivagant/rms-nova-sub000/internal/microservices/pos/service"
)

// WorkerActor is recorded in the payment status log for deferred settlements.
const WorkerActor = "settlement-worker"

var (
	ErrRequeue = errors.New("requeue")     // nack(requeue=true)
	ErrDLQ     = errors.New("dead_letter") // nack(requeue=false)
)

// StatusUpdater applies a payment status change.
type StatusUpdater interface {
	UpdatePaymentStatus(ctx context.Context, u pos.StatusUpdate) (pos.StatusOutcome, error)
}

// settle applies one job. Bad jobs map to ErrDLQ, everything else that
// fails is assumed transient and maps to ErrRequeue.
func settle(ctx context.Context, updater StatusUpdater, job domain.SettlementJob, log *logger.Logger) error {
	// 1. Validate the job
	if job.TenantID == uuid.Nil || job.PaymentID == uuid.Nil {
		log.Warn("settlement_job_invalid", map[string]any{"payment_id": job.PaymentID.String(), "reason": "missing identifiers"})
		return ErrDLQ
	}
	target := job.TargetStatus
	if target == "" {
		target = domain.PaymentCompleted
	}
	if _, ok := domain.ParsePaymentStatus(string(target)); !ok || target == domain.PaymentPending {
		log.Warn("settlement_job_invalid", map[string]any{"payment_id": job.PaymentID.String(), "reason": "bad target " + string(target)})
		return ErrDLQ
	}

	// 2. Apply
	out, err := updater.UpdatePaymentStatus(ctx, pos.StatusUpdate{
		TenantID:  job.TenantID,
		PaymentID: job.PaymentID,
		Status:    target,
		ChangedBy: WorkerActor,
		ClosedBy:  job.ProcessedBy,
	})
	if err != nil {
		if apperr.IsValidation(err) {
			log.Error("settlement_job_rejected", err, map[string]any{"payment_id": job.PaymentID.String()})
			return ErrDLQ
		}
		log.Error("settlement_apply_failed", err, map[string]any{"payment_id": job.PaymentID.String()})
		return ErrRequeue
	}

	log.Info("settlement_applied", map[string]any{
		"payment_id":    job.PaymentID.String(),
		"ticket_id":     job.TicketID.String(),
		"found":         out.Found,
		"applied":       out.Applied,
		"from":          string(out.From),
		"to":            string(out.To),
		"ticket_closed": out.TicketClosed,
	})
	return nil
}
