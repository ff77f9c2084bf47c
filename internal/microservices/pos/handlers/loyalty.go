package handlers

import (
	"net/http"

	"github.com/Montivagant/rms-nova-sub000/internal/common/apperr"
	"github.com/Montivagant/rms-nova-sub000/internal/common/httpx"
	loyalty "github.com/Montivagant/rms-nova-sub000/internal/microservices/loyalty/service"
)

const defaultHistoryLimit = 50

type LoyaltyHandler struct {
	service LoyaltyServiceInterface
}

func NewLoyaltyHandler(s LoyaltyServiceInterface) *LoyaltyHandler {
	return &LoyaltyHandler{service: s}
}

func (lh *LoyaltyHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	limit := atoiDefault(r.URL.Query().Get("limit"), defaultHistoryLimit)
	v, err := lh.service.Account(r.Context(), sess.TenantID, chiParam(r, "customerId"), limit)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toLoyaltyAccount(v))
}

func (lh *LoyaltyHandler) Earn(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	var req earnRequest
	if !decode(w, r, &req) {
		return
	}
	if (req.Amount == nil) == (req.Points == 0) {
		httpx.WriteError(w, apperr.New(apperr.KindValidation, "exactly one of amount or points is required"))
		return
	}
	er := loyalty.EarnRequest{
		TenantID:   sess.TenantID,
		CustomerID: chiParam(r, "customerId"),
		Points:     req.Points,
		Reference:  req.Reference,
		Source:     loyalty.SourceManual,
		Metadata:   withActor(req.Metadata, sess.Actor),
	}
	if req.Amount != nil {
		er.Amount = *req.Amount
	}
	tx, err := lh.service.Earn(r.Context(), er)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toLoyaltyTx(tx))
}

func (lh *LoyaltyHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	var req redeemRequest
	if !decode(w, r, &req) {
		return
	}
	tx, err := lh.service.Redeem(r.Context(), loyalty.RedeemRequest{
		TenantID:   sess.TenantID,
		CustomerID: chiParam(r, "customerId"),
		Points:     req.Points,
		Reference:  req.Reference,
		Source:     loyalty.SourceManual,
		Metadata:   withActor(req.Metadata, sess.Actor),
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toLoyaltyTx(tx))
}

func withActor(meta map[string]string, actor string) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["actor"] = actor
	return out
}
