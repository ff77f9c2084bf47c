package handlers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/Montivagant/rms-nova-sub000/internal/common/httpx"
	"github.com/Montivagant/rms-nova-sub000/internal/microservices/pos/service"
)

type TicketHandler struct {
	service TicketServiceInterface
}

func NewTicketHandler(s TicketServiceInterface) *TicketHandler {
	return &TicketHandler{service: s}
}

func (th *TicketHandler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	var req createTicketRequest
	if !decode(w, r, &req) {
		return
	}

	tip := decimal.Zero
	if req.TipAmount != nil {
		tip = *req.TipAmount
	}
	res, err := th.service.CreateTicket(r.Context(), service.CreateTicketRequest{
		TenantID:          sess.TenantID,
		Actor:             sess.Actor,
		Items:             toTicketItems(req.Items),
		PaymentMethod:     req.PaymentMethod,
		TipAmount:         tip,
		LocationID:        req.LocationID,
		LoyaltyCustomerID: req.LoyaltyCustomerID,
		Notes:             req.Notes,
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toCreateTicketResponse(res))
}

func (th *TicketHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "ticket")
	if !ok {
		return
	}
	v, err := th.service.GetTicket(r.Context(), sess.TenantID, id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTicketResponse(v))
}
