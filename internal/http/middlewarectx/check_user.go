package middlewarectx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/chat-entitlement/internal/http/response"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

// StatusService определяет интерфейс для получения статуса доступа.
// ErrProviderUnavailable в ответе означает, что доступ нельзя подтвердить у
// провайдера; локальный сервис подписок провайдера при проверке не вызывает
// и такую ошибку не возвращает.
type StatusService interface {
	GetSubscriptionStatus(ctx context.Context, userUID string) (*models.EntitlementStatus, error)
}

// EntitlementMiddleware пропускает запрос только при действующем доступе.
// Отказ отдаётся как 402 Payment Required с причиной.
func EntitlementMiddleware(log *slog.Logger, subService StatusService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userUID, ok := UserUIDFrom(r.Context())
			if !ok {
				log.Error("user identification missing")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("user identification missing"))
				return
			}

			status, err := subService.GetSubscriptionStatus(r.Context(), userUID)
			// клиенту нужно повторить попытку, а не оформлять подписку
			if errors.Is(err, models.ErrProviderUnavailable) {
				log.Error("entitlement check failed on provider", sl.Err(err))
				render.Status(r, http.StatusPaymentRequired)
				render.JSON(w, r, response.Denied(models.ReasonProviderError))
				return
			}
			if err != nil {
				log.Error("failed to get subscription status", sl.Err(err))
				code, resp := response.FromError(err)
				render.Status(r, code)
				render.JSON(w, r, resp)
				return
			}

			if !status.HasAccess {
				reason := status.Reason
				if reason == models.ReasonNone {
					reason = models.ReasonLapsed
				}
				log.Info("access denied", slog.String("user_uid", userUID), slog.String("reason", string(reason)))
				render.Status(r, http.StatusPaymentRequired)
				render.JSON(w, r, response.Denied(reason))
				return
			}

			ctx := context.WithValue(r.Context(), Entitlement, status)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole пропускает только пользователей с ролью role.
func RequireRole(log *slog.Logger, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got, _ := r.Context().Value(Role).(string); got != role {
				log.Warn("role check failed", slog.String("role", got))
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error("forbidden"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
