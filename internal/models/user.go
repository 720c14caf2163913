// Package models содержит доменные структуры сервиса доступа к чату:
// пользователей, подписки, платежи и вычисленный статус доступа.
package models

import "time"

// User представляет зарегистрированного пользователя системы.
type User struct {
	UID           string    // Уникальный идентификатор пользователя
	Email         string    // Электронная почта (хранится в нижнем регистре)
	PasswordHash  string    // Хэш пароля пользователя
	Role          string    // Роль пользователя, admin или user
	EmailVerified bool      // Подтверждена ли почта
	TrialUsed     bool      // Использовал ли пользователь пробный период
	CreatedAt     time.Time // Дата регистрации
}

const (
	// RoleUser: обычный пользователь.
	RoleUser = "user"
	// RoleAdmin: администратор, которому доступны процедуры восстановления.
	RoleAdmin = "admin"
)
