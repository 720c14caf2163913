// Package checkout выдаёт параметры счёта для виджета оплаты.
package checkout

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/chat-entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/chat-entitlement/internal/http/response"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/chat-entitlement/internal/services/payment"
)

// Service создаёт счёт на оплату премиума.
type Service interface {
	CreateCheckout(ctx context.Context, userUID string) (*payment.Checkout, error)
}

// Handler обрабатывает запрос на создание счёта.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Создание счёта на оплату премиума
// @Tags Payment
// @Produce json
// @Security BearerAuth
// @Success 201 {object} response.Response
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /payments/checkout [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.checkout"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	uid, ok := middlewarectx.UserUIDFrom(r.Context())
	if !ok {
		log.Error("user identification missing")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("user identification missing"))
		return
	}

	checkout, err := h.service.CreateCheckout(r.Context(), uid)
	if err != nil {
		log.Error("failed to create checkout", sl.Err(err))
		code, resp := response.FromError(err)
		render.Status(r, code)
		render.JSON(w, r, resp)
		return
	}

	log.Info("checkout created", slog.String("invoice_id", checkout.InvoiceID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.StatusOKWithData(checkout))
}
