package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Montivagant/rms-nova-sub000/internal/common/httpx"
	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/domain"
	"github.com/Montivagant/rms-nova-sub000/internal/microservices/pos/service"
)

const webhookActor = "payment-webhook"

type PaymentHandler struct {
	service PaymentServiceInterface
	log     *logger.Logger
}

func NewPaymentHandler(s PaymentServiceInterface, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{service: s, log: log}
}

func (ph *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "payment")
	if !ok {
		return
	}
	v, err := ph.service.GetPayment(r.Context(), sess.TenantID, id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toPaymentResponse(v))
}

func (ph *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "payment")
	if !ok {
		return
	}
	var req refundRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := ph.service.Refund(r.Context(), service.RefundRequest{
		TenantID:  sess.TenantID,
		PaymentID: id,
		Amount:    req.Amount,
		Reason:    req.Reason,
		Actor:     sess.Actor,
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toRefundResponse(res))
}

// StatusCallback receives processor webhooks. It answers 200 whatever
// happens so the provider never retries into a storm; problems are logged.
func (ph *PaymentHandler) StatusCallback(w http.ResponseWriter, r *http.Request) {
	paymentID := chiParam(r, "id")
	var body statusCallback
	if err := httpx.DecodeJSON(r, &body); err != nil {
		ph.log.Warn("payment_status_invalid_payload", map[string]any{"payment_id": paymentID, "reason": err.Error()})
		ph.ack(w, false)
		return
	}

	// 1. Validate identifiers and status
	pid, err := uuid.Parse(paymentID)
	if err != nil {
		ph.log.Warn("payment_status_unknown_payment", map[string]any{"payment_id": paymentID})
		ph.ack(w, false)
		return
	}
	tenant, err := uuid.Parse(body.TenantID)
	if err != nil {
		ph.log.Warn("payment_status_invalid_payload", map[string]any{"payment_id": paymentID, "reason": "invalid tenantId"})
		ph.ack(w, false)
		return
	}
	status, ok := domain.ParsePaymentStatus(body.Status)
	if !ok {
		ph.log.Warn("payment_status_invalid_payload", map[string]any{"payment_id": paymentID, "reason": "unknown status " + body.Status})
		ph.ack(w, false)
		return
	}

	// 2. Apply
	out, err := ph.service.UpdatePaymentStatus(r.Context(), service.StatusUpdate{
		TenantID:           tenant,
		PaymentID:          pid,
		Status:             status,
		FailureReason:      body.FailureReason,
		ReceiptURL:         body.ReceiptURL,
		Reference:          body.Reference,
		ProcessorPaymentID: body.ProcessorPaymentID,
		ChangedBy:          webhookActor,
	})
	if err != nil {
		ph.log.Error("payment_status_failed", err, map[string]any{"payment_id": paymentID, "status": body.Status})
		ph.ack(w, false)
		return
	}
	ph.ack(w, out.Applied)
}

func (ph *PaymentHandler) ack(w http.ResponseWriter, applied bool) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "applied": applied})
}
