package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
)

const (
	SandboxProcessor     = "sandboxpay"
	DefaultRealProcessor = "novapay"

	maxResponseBody = 1 << 20
)

type HTTPConfig struct {
	Processor     string
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	TargetOutcome Outcome
	Client        *http.Client
}

// HTTPProvider talks to a remote processor over JSON. Any timeout, network
// error, non-2xx answer or unreadable body is replaced by a simulated
// result for the configured target outcome and logged as a warning.
type HTTPProvider struct {
	processor string
	baseURL   string
	apiKey    string
	timeout   time.Duration
	target    Outcome
	client    *http.Client
	log       *logger.Logger
}

// NewSandbox returns a provider for the payment simulator.
func NewSandbox(cfg HTTPConfig, log *logger.Logger) *HTTPProvider {
	cfg.Processor = SandboxProcessor
	return newHTTPProvider(cfg, log)
}

// NewReal returns a provider for the production processor.
func NewReal(cfg HTTPConfig, log *logger.Logger) *HTTPProvider {
	if cfg.Processor == "" {
		cfg.Processor = DefaultRealProcessor
	}
	return newHTTPProvider(cfg, log)
}

func newHTTPProvider(cfg HTTPConfig, log *logger.Logger) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.TargetOutcome == "" {
		cfg.TargetOutcome = OutcomeCompleted
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &HTTPProvider{
		processor: cfg.Processor,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		timeout:   cfg.Timeout,
		target:    cfg.TargetOutcome,
		client:    cfg.Client,
		log:       log,
	}
}

func (p *HTTPProvider) Processor() string { return p.processor }

type captureBody struct {
	TenantID   uuid.UUID         `json:"tenantId"`
	TicketID   uuid.UUID         `json:"ticketId"`
	PaymentID  uuid.UUID         `json:"paymentId"`
	Amount     decimal.Decimal   `json:"amount"`
	TipAmount  decimal.Decimal   `json:"tipAmount"`
	Currency   string            `json:"currency"`
	Method     string            `json:"method"`
	LocationID uuid.UUID         `json:"locationId"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type captureReply struct {
	ID            string            `json:"id"`
	Reference     string            `json:"reference"`
	Status        string            `json:"status"`
	FailureReason *string           `json:"failureReason"`
	ReceiptURL    string            `json:"receiptUrl"`
	Method        methodDetails     `json:"method"`
	Metadata      map[string]string `json:"metadata"`
}

type methodDetails struct {
	Type  string `json:"type"`
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

type refundBody struct {
	TenantID  uuid.UUID       `json:"tenantId"`
	PaymentID uuid.UUID       `json:"paymentId"`
	RefundID  uuid.UUID       `json:"refundId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reason    string          `json:"reason,omitempty"`
}

type refundReply struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	FailureReason *string           `json:"failureReason"`
	Metadata      map[string]string `json:"metadata"`
}

func (p *HTTPProvider) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	var reply captureReply
	err := p.call(ctx, "/v1/captures", req.PaymentID.String(), captureBody{
		TenantID:   req.TenantID,
		TicketID:   req.TicketID,
		PaymentID:  req.PaymentID,
		Amount:     req.Amount,
		TipAmount:  req.TipAmount,
		Currency:   req.Currency,
		Method:     req.Method,
		LocationID: req.LocationID,
		Metadata:   req.Metadata,
	}, &reply)
	if err == nil {
		status, ok := ParseOutcome(reply.Status)
		if !ok {
			err = fmt.Errorf("unexpected capture status %q", reply.Status)
		} else {
			return CaptureResult{
				Processor:          p.processor,
				ProcessorPaymentID: reply.ID,
				Reference:          reply.Reference,
				Status:             status,
				FailureReason:      reply.FailureReason,
				ReceiptURL:         reply.ReceiptURL,
				MethodType:         firstNonEmpty(reply.Method.Type, req.Method),
				MethodBrand:        reply.Method.Brand,
				MethodLast4:        reply.Method.Last4,
				Metadata:           reply.Metadata,
			}, nil
		}
	}

	reason := fallbackReason(err)
	p.log.Warn("gateway_fallback", map[string]any{
		"processor":      p.processor,
		"operation":      "capture",
		"payment_id":     req.PaymentID.String(),
		"target_outcome": string(p.target),
		"reason":         reason,
		"error":          err.Error(),
	})
	return simulateCapture(p.processor, p.target, req, reason), nil
}

func (p *HTTPProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	var reply refundReply
	err := p.call(ctx, "/v1/refunds", req.RefundID.String(), refundBody{
		TenantID:  req.TenantID,
		PaymentID: req.PaymentID,
		RefundID:  req.RefundID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Reason:    req.Reason,
	}, &reply)
	if err == nil {
		status, ok := ParseOutcome(reply.Status)
		if !ok {
			err = fmt.Errorf("unexpected refund status %q", reply.Status)
		} else {
			return RefundResult{
				Processor:         p.processor,
				ProcessorRefundID: reply.ID,
				Status:            status,
				FailureReason:     reply.FailureReason,
				Metadata:          reply.Metadata,
			}, nil
		}
	}

	reason := fallbackReason(err)
	p.log.Warn("gateway_fallback", map[string]any{
		"processor":      p.processor,
		"operation":      "refund",
		"payment_id":     req.PaymentID.String(),
		"refund_id":      req.RefundID.String(),
		"target_outcome": string(p.target),
		"reason":         reason,
		"error":          err.Error(),
	})
	return simulateRefund(p.processor, p.target, req, reason), nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("processor answered %d: %s", e.code, e.body)
}

// call posts body to path and decodes a 2xx answer into out. The request is
// abandoned once the provider timeout passes.
func (p *HTTPProvider) call(ctx context.Context, path, idempotencyKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode, body: truncate(string(raw), 200)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func fallbackReason(err error) string {
	var se *statusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &se):
		return fmt.Sprintf("http_%d", se.code)
	case strings.HasPrefix(err.Error(), "decode response"), strings.HasPrefix(err.Error(), "unexpected"):
		return "invalid_response"
	default:
		return "network_error"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
