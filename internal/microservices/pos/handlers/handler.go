package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Montivagant/rms-nova-sub000/internal/common/apperr"
	"github.com/Montivagant/rms-nova-sub000/internal/common/httpx"
	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/domain"
	loyalty "github.com/Montivagant/rms-nova-sub000/internal/microservices/loyalty/service"
	"github.com/Montivagant/rms-nova-sub000/internal/microservices/pos/service"
	"github.com/Montivagant/rms-nova-sub000/internal/middlewares"
)

type TicketServiceInterface interface {
	CreateTicket(ctx context.Context, req service.CreateTicketRequest) (*service.CreateTicketResult, error)
	GetTicket(ctx context.Context, tenantID, ticketID uuid.UUID) (*service.TicketView, error)
}

type PaymentServiceInterface interface {
	Refund(ctx context.Context, req service.RefundRequest) (*service.RefundResult, error)
	GetPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*service.PaymentView, error)
	UpdatePaymentStatus(ctx context.Context, u service.StatusUpdate) (service.StatusOutcome, error)
}

type LoyaltyServiceInterface interface {
	Earn(ctx context.Context, req loyalty.EarnRequest) (*domain.LoyaltyTransaction, error)
	Redeem(ctx context.Context, req loyalty.RedeemRequest) (*domain.LoyaltyTransaction, error)
	Account(ctx context.Context, tenantID uuid.UUID, customerID string, limit int) (*loyalty.AccountView, error)
}

type Handler struct {
	TicketHandler  *TicketHandler
	PaymentHandler *PaymentHandler
	LoyaltyHandler *LoyaltyHandler
}

func New(pos *service.Service, ledger *loyalty.Service, log *logger.Logger) *Handler {
	return &Handler{
		TicketHandler:  NewTicketHandler(pos),
		PaymentHandler: NewPaymentHandler(pos, log),
		LoyaltyHandler: NewLoyaltyHandler(ledger),
	}
}

// session returns the authenticated tenant and actor, or writes a 401.
func session(w http.ResponseWriter, r *http.Request) (*middlewares.Session, bool) {
	s, ok := middlewares.SessionFrom(r.Context())
	if !ok {
		httpx.WriteProblem(w, http.StatusUnauthorized, "unauthorized", "no session")
		return nil, false
	}
	return s, true
}

// pathID parses a UUID route parameter. A malformed id cannot name an
// existing row, so it is reported as not found.
func pathID(w http.ResponseWriter, r *http.Request, key, what string) (uuid.UUID, bool) {
	raw := chiParam(r, key)
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.WriteError(w, apperr.Newf(apperr.KindNotFound, "%s %s not found", what, raw))
		return uuid.Nil, false
	}
	return id, true
}

func chiParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httpx.DecodeJSON(r, v); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func atoiDefault(s string, d int) int {
	if s == "" {
		return d
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return d
	}
	return n
}
