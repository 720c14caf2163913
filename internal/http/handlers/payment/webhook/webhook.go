// Package webhook принимает уведомления платёжного провайдера об исходе платежа.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/chat-entitlement/internal/http/response"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
	"github.com/magabrotheeeer/chat-entitlement/internal/paymentprovider"
	"github.com/magabrotheeeer/chat-entitlement/internal/services/payment"
)

// SignatureHeader: заголовок с подписью тела уведомления.
const SignatureHeader = "Content-HMAC"

const maxBodySize = 1 << 20

// Коды ответа, которые ожидает провайдер.
const (
	codeOK       = 0
	codeRejected = 13
)

// Service сохраняет исход платежа.
type Service interface {
	RecordPayment(ctx context.Context, event payment.Event) (*payment.Result, error)
}

// Payload: уведомление провайдера о платеже.
type Payload struct {
	TransactionID  int64   `json:"TransactionId" validate:"required,gt=0"`
	Amount         float64 `json:"Amount" validate:"gt=0"`
	Currency       string  `json:"Currency" validate:"required,len=3"`
	InvoiceID      string  `json:"InvoiceId" validate:"required"`
	AccountID      string  `json:"AccountId" validate:"required"`
	SubscriptionID string  `json:"SubscriptionId"`
	Status         string  `json:"Status" validate:"required"`
}

// Answer: ответ провайдеру.
type Answer struct {
	Code int `json:"code"`
}

// Handler обрабатывает уведомления провайдера.
type Handler struct {
	log           *slog.Logger
	service       Service
	webhookSecret string
	validate      *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: secret,
		validate:      validator.New(),
	}
}

// Sign возвращает подпись тела в формате заголовка Content-HMAC.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(h.webhookSecret, body)), []byte(signature))
}

// ServeHTTP godoc
// @Summary Уведомление провайдера о платеже
// @Tags Payment
// @Accept json
// @Produce json
// @Param Content-HMAC header string true "Подпись тела HMAC-SHA256 в base64"
// @Param request body Payload true "Уведомление"
// @Success 200 {object} Answer
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse "Провайдер повторит уведомление"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get(SignatureHeader)
	if signature == "" || !h.verifySignature(body, signature) {
		log.Error("invalid or missing webhook signature")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	event := payload.event()
	log = log.With(
		slog.String("invoice_id", event.ExternalPaymentID),
		slog.String("status", string(event.Status)),
	)

	res, err := h.service.RecordPayment(r.Context(), event)
	if errors.Is(err, models.ErrInvariantViolation) {
		log.Warn("payment rejected", sl.Err(err))
		render.JSON(w, r, Answer{Code: codeRejected})
		return
	}
	if err != nil {
		log.Error("failed to process payment notification", sl.Err(err))
		code, resp := response.FromError(err)
		if code < http.StatusInternalServerError {
			code = http.StatusInternalServerError
		}
		render.Status(r, code)
		render.JSON(w, r, resp)
		return
	}

	log.Info("payment notification processed", slog.Bool("ignored", res.Ignored))
	render.JSON(w, r, Answer{Code: codeOK})
}

func (p Payload) event() payment.Event {
	txID := strconv.FormatInt(p.TransactionID, 10)
	event := payment.Event{
		ExternalPaymentID:     p.InvoiceID,
		UserUID:               p.AccountID,
		ExternalTransactionID: &txID,
		Amount:                paymentprovider.ToMinorUnits(p.Amount),
		Currency:              p.Currency,
		Status:                paymentprovider.TransactionStatus(p.Status).PaymentStatus(),
	}
	if p.SubscriptionID != "" {
		subID := p.SubscriptionID
		event.ExternalSubscriptionID = &subID
	}
	return event
}
