// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков.
package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/chat-entitlement/internal/lib/password"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

// Response описывает стандартную структуру JSON‑ответа сервера.
// Поле Status содержит статус запроса ("OK" или "Error").
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse: структура ошибки для Swagger-документации.
type ErrorResponse struct {
	Status string `json:"status" example:"Error"`
	Error  string `json:"error" example:"invalid request body"`
}

// DeniedResponse: отказ в доступе к чату с причиной, по которой клиент
// выбирает действие: начать пробный период, оформить подписку или повторить.
type DeniedResponse struct {
	Status string              `json:"status" example:"Error"`
	Error  string              `json:"error" example:"access denied"`
	Reason models.DenialReason `json:"reason" example:"lapsed"`
}

const (
	// StatusOK: значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError: значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// StatusOKWithData возвращает успешный Response с переданными данными.
func StatusOKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает ответ с ошибкой и переданным сообщением.
func Error(msg string) ErrorResponse {
	return ErrorResponse{
		Status: StatusError,
		Error:  msg,
	}
}

// Denied возвращает отказ в доступе с причиной.
func Denied(reason models.DenialReason) DeniedResponse {
	return DeniedResponse{
		Status: StatusError,
		Error:  "access denied",
		Reason: reason,
	}
}

// ValidationError формирует Response со статусом Error на основе ошибок валидации.
// Каждое нарушение формируется в человеко‑читаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "email":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "numeric":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only numbers", err.Field()))
		case "uuid":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only uuid", err.Field()))
		case "min", "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s has invalid length", err.Field()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}

// FromError сопоставляет ошибку сервиса с HTTP-статусом и текстом для клиента.
func FromError(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, Error("not found")
	case errors.Is(err, models.ErrAlreadySubscribed):
		return http.StatusConflict, Error("already subscribed")
	case errors.Is(err, models.ErrTrialAlreadyUsed):
		return http.StatusConflict, Error("trial already used")
	case errors.Is(err, models.ErrEmailTaken):
		return http.StatusConflict, Error("email already registered")
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized, Error("invalid credentials")
	case errors.Is(err, models.ErrInvariantViolation), errors.Is(err, password.ErrTooLong):
		return http.StatusUnprocessableEntity, Error("request violates subscription rules")
	case errors.Is(err, models.ErrProviderUnavailable):
		return http.StatusBadGateway, Error("payment provider unavailable")
	default:
		return http.StatusInternalServerError, Error("internal error")
	}
}
