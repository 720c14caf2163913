// Package chat отвечает на проверку доступа к чату. Сам запрос к чату
// обслуживает внешний провайдер диалогов, сюда он попадает только после
// EntitlementMiddleware.
package chat

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/chat-entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/chat-entitlement/internal/http/response"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

// Handler возвращает статус, с которым запрос был допущен к чату.
type Handler struct {
	log *slog.Logger
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger) *Handler {
	return &Handler{log: log}
}

// ServeHTTP godoc
// @Summary Проверка доступа к чату
// @Tags Chat
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 402 {object} response.DeniedResponse "Нет доступа, reason: never_subscribed, lapsed или provider_error"
// @Router /chat/access [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, ok := r.Context().Value(middlewarectx.Entitlement).(*models.EntitlementStatus)
	if !ok {
		h.log.Error("entitlement missing in request context")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}
	render.JSON(w, r, response.StatusOKWithData(status))
}
