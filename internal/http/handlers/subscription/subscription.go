// Package subscription содержит HTTP-обработчики подписки текущего пользователя:
// статус доступа, запуск пробного периода и отмену.
package subscription

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/chat-entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/chat-entitlement/internal/http/response"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

// Service описывает операции над подпиской пользователя.
type Service interface {
	GetSubscriptionStatus(ctx context.Context, userUID string) (*models.EntitlementStatus, error)
	StartTrial(ctx context.Context, userUID string) (*models.Subscription, error)
	CancelSubscription(ctx context.Context, userUID string) (*models.Subscription, error)
}

// Handler обрабатывает запросы к подписке.
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

// Status godoc
// @Summary Статус доступа к чату
// @Tags Subscription
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /subscription/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.subscription.status", http.StatusOK, func(ctx context.Context, uid string) (any, error) {
		return h.service.GetSubscriptionStatus(ctx, uid)
	})
}

// StartTrial godoc
// @Summary Запуск пробного периода
// @Tags Subscription
// @Produce json
// @Security BearerAuth
// @Success 201 {object} response.Response
// @Failure 409 {object} response.ErrorResponse "Доступ уже есть или пробный период использован"
// @Router /subscription/trial [post]
func (h *Handler) StartTrial(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.subscription.trial", http.StatusCreated, func(ctx context.Context, uid string) (any, error) {
		return h.service.StartTrial(ctx, uid)
	})
}

// Cancel godoc
// @Summary Отмена подписки
// @Tags Subscription
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse "Подписка не активна"
// @Failure 502 {object} response.ErrorResponse "Провайдер недоступен"
// @Router /subscription/cancel [post]
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "handlers.subscription.cancel", http.StatusOK, func(ctx context.Context, uid string) (any, error) {
		return h.service.CancelSubscription(ctx, uid)
	})
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, op string, okCode int, call func(ctx context.Context, uid string) (any, error)) {
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
	log = log.With(slog.String("user_uid", uid))

	data, err := call(r.Context(), uid)
	if err != nil {
		log.Error("request failed", sl.Err(err))
		code, resp := response.FromError(err)
		render.Status(r, code)
		render.JSON(w, r, resp)
		return
	}

	render.Status(r, okCode)
	render.JSON(w, r, response.StatusOKWithData(data))
}
