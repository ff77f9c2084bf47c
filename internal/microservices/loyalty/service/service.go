package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Montivagant/rms-nova-sub000/internal/common/apperr"
	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/domain"
	"github.com/Montivagant/rms-nova-sub000/internal/repository"
)

const (
	SourceSale   = "pos_sale"
	SourceRefund = "pos_refund"
	SourceManual = "manual"
)

type Config struct {
	EarnRate        decimal.Decimal
	MinRedeemPoints int64
}

// Service is the loyalty points ledger. Every balance change locks the
// account row and writes the ledger row in the same transaction.
type Service struct {
	store repository.Store
	cfg   Config
	log   *logger.Logger
	now   func() time.Time
}

func New(store repository.Store, cfg Config, log *logger.Logger) *Service {
	if !cfg.EarnRate.IsPositive() {
		cfg.EarnRate = decimal.NewFromInt(1)
	}
	return &Service{store: store, cfg: cfg, log: log, now: func() time.Time { return time.Now().UTC() }}
}

type EarnRequest struct {
	TenantID   uuid.UUID
	CustomerID string
	// Amount is converted with the earn rate unless Points is set.
	Amount    decimal.Decimal
	Points    int64
	Reference string
	Source    string
	Metadata  map[string]string
}

type RedeemRequest struct {
	TenantID   uuid.UUID
	CustomerID string
	Points     int64
	Reference  string
	Source     string
	Metadata   map[string]string
}

type AccountView struct {
	Account      domain.LoyaltyAccount
	Transactions []domain.LoyaltyTransaction
}

func (s *Service) Earn(ctx context.Context, req EarnRequest) (*domain.LoyaltyTransaction, error) {
	var out *domain.LoyaltyTransaction
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = s.earnTx(ctx, tx, req)
		return err
	})
	return out, err
}

func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (*domain.LoyaltyTransaction, error) {
	if req.Points <= 0 {
		return nil, apperr.New(apperr.KindValidation, "points must be positive")
	}
	if req.Points < s.cfg.MinRedeemPoints {
		return nil, apperr.Newf(apperr.KindValidation, "at least %d points must be redeemed", s.cfg.MinRedeemPoints)
	}
	var out *domain.LoyaltyTransaction
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = s.redeemTx(ctx, tx, req)
		return err
	})
	return out, err
}

func (s *Service) Account(ctx context.Context, tenantID uuid.UUID, customerID string, limit int) (*AccountView, error) {
	var out *AccountView
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		acct, err := tx.GetAccountByCustomer(ctx, tenantID, customerID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Newf(apperr.KindNotFound, "loyalty account %s not found", customerID)
		}
		if err != nil {
			return err
		}
		txs, err := tx.ListLoyaltyTransactions(ctx, acct.ID, limit)
		if err != nil {
			return err
		}
		out = &AccountView{Account: *acct, Transactions: txs}
		return nil
	})
	return out, err
}

// EarnForPayment awards points for a completed payment that carries a
// loyalty customer. It runs at most once per payment: the award is stamped
// on the payment metadata under the payment row lock. Returns the points
// awarded by this call.
func (s *Service) EarnForPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (int64, error) {
	var awarded int64
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.LockPayment(ctx, tenantID, paymentID)
		if err != nil {
			return notFoundAs(err, "payment")
		}
		if !p.Metadata.HasLoyalty() || p.Status != domain.PaymentCompleted || p.Metadata.LoyaltyPointsEarned != nil {
			return nil
		}

		ltx, err := s.earnTx(ctx, tx, EarnRequest{
			TenantID:   tenantID,
			CustomerID: p.Metadata.LoyaltyExternalCustomerID,
			Amount:     p.Amount,
			Reference:  p.ID.String(),
			Source:     SourceSale,
			Metadata:   map[string]string{"paymentId": p.ID.String(), "ticketId": p.TicketID.String()},
		})
		if err != nil {
			return err
		}

		points := ltx.Points
		p.Metadata.LoyaltyPointsEarned = &points
		p.UpdatedAt = s.now()
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		awarded = points
		return nil
	})
	if err != nil {
		return 0, err
	}
	if awarded > 0 {
		s.log.Info("loyalty_points_earned", map[string]any{"payment_id": paymentID.String(), "points": awarded})
	}
	return awarded, nil
}

// RedeemForRefund takes back the share of a sale's points matching a
// completed refund and stamps the running redeemed total on the payment.
func (s *Service) RedeemForRefund(ctx context.Context, tenantID, paymentID uuid.UUID, refundID uuid.UUID, refundAmount decimal.Decimal) (int64, error) {
	var redeemed int64
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.LockPayment(ctx, tenantID, paymentID)
		if err != nil {
			return notFoundAs(err, "payment")
		}
		if !p.Metadata.HasLoyalty() || p.Metadata.LoyaltyPointsEarned == nil {
			return nil
		}
		points := ProportionalRedeem(p.Gross(), refundAmount, *p.Metadata.LoyaltyPointsEarned, p.Metadata.LoyaltyPointsRedeemed)
		if points == 0 {
			return nil
		}

		if _, err := s.redeemTx(ctx, tx, RedeemRequest{
			TenantID:   tenantID,
			CustomerID: p.Metadata.LoyaltyExternalCustomerID,
			Points:     points,
			Reference:  refundID.String(),
			Source:     SourceRefund,
			Metadata:   map[string]string{"paymentId": p.ID.String(), "refundId": refundID.String(), "refundAmount": refundAmount.StringFixed(2)},
		}); err != nil {
			return err
		}

		p.Metadata.LoyaltyPointsRedeemed += points
		p.UpdatedAt = s.now()
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		redeemed = points
		return nil
	})
	if err != nil {
		return 0, err
	}
	if redeemed > 0 {
		s.log.Info("loyalty_points_redeemed", map[string]any{"payment_id": paymentID.String(), "refund_id": refundID.String(), "points": redeemed})
	}
	return redeemed, nil
}

func (s *Service) earnTx(ctx context.Context, tx repository.Tx, req EarnRequest) (*domain.LoyaltyTransaction, error) {
	customer := strings.TrimSpace(req.CustomerID)
	if customer == "" {
		return nil, apperr.New(apperr.KindValidation, "customer id is required")
	}
	points := req.Points
	if points == 0 {
		points = PointsForAmount(req.Amount, s.cfg.EarnRate)
	}
	if points <= 0 {
		return nil, apperr.New(apperr.KindValidation, "earned points must be positive")
	}

	acct, err := s.lockOrCreate(ctx, tx, req.TenantID, customer)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, tx, acct, domain.LoyaltyEarn, points, req.Reference, firstNonEmpty(req.Source, SourceManual), req.Metadata)
}

func (s *Service) redeemTx(ctx context.Context, tx repository.Tx, req RedeemRequest) (*domain.LoyaltyTransaction, error) {
	acct, err := tx.LockAccountByCustomer(ctx, req.TenantID, strings.TrimSpace(req.CustomerID))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "loyalty account %s not found", req.CustomerID)
	}
	if err != nil {
		return nil, err
	}
	if acct.Balance < req.Points {
		return nil, apperr.Newf(apperr.KindValidation, "insufficient loyalty balance: have %d, need %d", acct.Balance, req.Points)
	}
	return s.apply(ctx, tx, acct, domain.LoyaltyRedeem, -req.Points, req.Reference, firstNonEmpty(req.Source, SourceManual), req.Metadata)
}

// lockOrCreate returns the locked account, creating it on first use. A
// concurrent creator winning the insert is absorbed and the row re-read.
func (s *Service) lockOrCreate(ctx context.Context, tx repository.Tx, tenantID uuid.UUID, customer string) (*domain.LoyaltyAccount, error) {
	acct, err := tx.LockAccountByCustomer(ctx, tenantID, customer)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	fresh := &domain.LoyaltyAccount{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		ExternalCustomerID: customer,
		Status:             domain.LoyaltyAccountActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	isDuplicate := func(err error) bool { return errors.Is(err, repository.ErrDuplicate) }
	recovered, err := tx.BestEffort(ctx, "loyalty_account_create", isDuplicate, func() error {
		return tx.InsertAccount(ctx, fresh)
	})
	if err != nil {
		return nil, err
	}
	if recovered {
		s.log.Debug("loyalty_account_create_raced", map[string]any{"customer_id": customer})
	} else {
		s.log.Info("loyalty_account_created", map[string]any{"customer_id": customer, "account_id": fresh.ID.String()})
	}
	return tx.LockAccountByCustomer(ctx, tenantID, customer)
}

func (s *Service) apply(ctx context.Context, tx repository.Tx, acct *domain.LoyaltyAccount, typ domain.LoyaltyTxType, delta int64, reference, source string, meta map[string]string) (*domain.LoyaltyTransaction, error) {
	if acct.Status != domain.LoyaltyAccountActive {
		return nil, apperr.Newf(apperr.KindValidation, "loyalty account is %s", acct.Status)
	}
	now := s.now()
	balance := acct.Balance + delta
	if err := tx.UpdateAccountBalance(ctx, acct.ID, balance, now); err != nil {
		return nil, err
	}
	ltx := &domain.LoyaltyTransaction{
		ID:           uuid.New(),
		AccountID:    acct.ID,
		Type:         typ,
		Points:       delta,
		BalanceAfter: balance,
		Reference:    reference,
		Source:       source,
		Metadata:     meta,
		CreatedAt:    now,
	}
	if err := tx.InsertLoyaltyTransaction(ctx, ltx); err != nil {
		return nil, err
	}
	return ltx, nil
}

func notFoundAs(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Newf(apperr.KindNotFound, "%s not found", what)
	}
	return err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
