// Package admin содержит HTTP-обработчики процедур восстановления,
// доступные только администраторам.
package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/chat-entitlement/internal/http/response"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
	"github.com/magabrotheeeer/chat-entitlement/internal/services/subscription"
)

// Service описывает процедуры восстановления.
type Service interface {
	ReconcileUser(ctx context.Context, userUID string) (*subscription.ReconcileReport, error)
	SweepExpiredSubscriptions(ctx context.Context) ([]*models.ExpiredSubscription, error)
	GrantTrial(ctx context.Context, userUID string) (*models.Subscription, error)
}

type userParam struct {
	UserUID string `validate:"required,uuid"`
}

// Handler обрабатывает административные запросы.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// Reconcile godoc
// @Summary Восстановление подписки пользователя
// @Description Сверяет подписки пользователя с платежами и провайдером и применяет одну ветку исправления.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param uid path string true "UID пользователя"
// @Success 200 {object} response.Response
// @Failure 502 {object} response.Response "Провайдер недоступен, отчёт в data"
// @Router /admin/users/{uid}/reconcile [post]
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.reconcile"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	uid, ok := h.userUID(w, r, log)
	if !ok {
		return
	}

	report, err := h.service.ReconcileUser(r.Context(), uid)
	if err != nil {
		log.Error("reconcile failed", slog.String("user_uid", uid), sl.Err(err))
		code, resp := response.FromError(err)
		render.Status(r, code)
		if report != nil {
			render.JSON(w, r, response.Response{Status: resp.Status, Error: resp.Error, Data: report})
			return
		}
		render.JSON(w, r, resp)
		return
	}

	log.Info("reconcile finished", slog.String("user_uid", uid), slog.String("branch", string(report.Branch)))
	render.JSON(w, r, response.StatusOKWithData(report))
}

// Sweep godoc
// @Summary Закрытие просроченных подписок
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /admin/sweep [post]
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.sweep"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	expired, err := h.service.SweepExpiredSubscriptions(r.Context())
	if err != nil {
		log.Error("sweep failed", sl.Err(err))
		code, resp := response.FromError(err)
		render.Status(r, code)
		render.JSON(w, r, resp)
		return
	}

	log.Info("sweep finished", slog.Int("count", len(expired)))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"count":         len(expired),
		"subscriptions": expired,
	}))
}

// GrantTrial godoc
// @Summary Выдача пробного периода
// @Description Запускает пробный период даже если пользователь его уже использовал.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param uid path string true "UID пользователя"
// @Success 201 {object} response.Response
// @Failure 409 {object} response.ErrorResponse "Доступ уже есть"
// @Router /admin/users/{uid}/trial [post]
func (h *Handler) GrantTrial(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.grant_trial"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	uid, ok := h.userUID(w, r, log)
	if !ok {
		return
	}

	sub, err := h.service.GrantTrial(r.Context(), uid)
	if err != nil {
		log.Error("grant trial failed", slog.String("user_uid", uid), sl.Err(err))
		code, resp := response.FromError(err)
		render.Status(r, code)
		render.JSON(w, r, resp)
		return
	}

	log.Info("trial granted", slog.String("user_uid", uid), slog.Int64("subscription_id", sub.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.StatusOKWithData(sub))
}

func (h *Handler) userUID(w http.ResponseWriter, r *http.Request, log *slog.Logger) (string, bool) {
	param := userParam{UserUID: chi.URLParam(r, "uid")}
	if err := h.validate.Struct(param); err != nil {
		log.Error("invalid user uid", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return "", false
	}
	return param.UserUID, true
}
