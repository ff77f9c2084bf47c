package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Montivagant/rms-nova-sub000/internal/common/apperr"
	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/common/uow"
	"github.com/Montivagant/rms-nova-sub000/internal/domain"
	"github.com/Montivagant/rms-nova-sub000/internal/gateway"
	"github.com/Montivagant/rms-nova-sub000/internal/repository"
)

// LoyaltyLedger is the part of the loyalty service settlement and refunds
// trigger after commit.
type LoyaltyLedger interface {
	EarnForPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (int64, error)
	RedeemForRefund(ctx context.Context, tenantID, paymentID, refundID uuid.UUID, refundAmount decimal.Decimal) (int64, error)
}

// SettlementEnqueuer schedules a later status transition for a pending
// payment.
type SettlementEnqueuer interface {
	Enqueue(ctx context.Context, job domain.SettlementJob, delay time.Duration) error
}

type Config struct {
	// DeferPending enqueues a settlement job for every capture that comes
	// back pending.
	DeferPending bool
	DeferDelay   time.Duration
	DeferTarget  domain.PaymentStatus
}

type Service struct {
	store    repository.Store
	gw       gateway.Gateway
	loyalty  LoyaltyLedger
	enqueuer SettlementEnqueuer
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

func New(store repository.Store, gw gateway.Gateway, loyalty LoyaltyLedger, enqueuer SettlementEnqueuer, cfg Config, log *logger.Logger) *Service {
	if cfg.DeferTarget == "" {
		cfg.DeferTarget = domain.PaymentCompleted
	}
	return &Service{
		store:    store,
		gw:       gw,
		loyalty:  loyalty,
		enqueuer: enqueuer,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// run executes fn in a unit of work whose hooks fire after commit.
func (s *Service) run(ctx context.Context, fn func(ctx context.Context, tx repository.Tx, w *uow.Work) error) error {
	return uow.Run[repository.Tx](ctx, s.store, func(err error) {
		s.log.Error("post_commit_hook_failed", err, nil)
	}, fn)
}

// read runs fn in a transaction that only reads.
func (s *Service) read(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.store.InTx(ctx, fn)
}

func (s *Service) earnAfterCommit(w *uow.Work, tenantID, paymentID uuid.UUID) {
	if s.loyalty == nil {
		return
	}
	w.AfterCommit(func(ctx context.Context) {
		if _, err := s.loyalty.EarnForPayment(ctx, tenantID, paymentID); err != nil {
			s.log.Error("loyalty_earn_failed", err, map[string]any{"payment_id": paymentID.String()})
		}
	})
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Newf(apperr.KindNotFound, format, args...)
	}
	return err
}
