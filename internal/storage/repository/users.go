package repository

import (
	"context"
	"strings"

	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

const userColumns = `uid, email, password_hash, role, email_verified, trial_used, created_at`

// CreateUser сохраняет нового пользователя и возвращает его UID.
func (s *Storage) CreateUser(ctx context.Context, user models.User) (string, error) {
	const op = "storage.CreateUser"
	if err := checkCtx(ctx, op); err != nil {
		return "", err
	}

	query := `INSERT INTO users (uid, email, password_hash, role)
			  VALUES ($1, $2, $3, $4)
			  RETURNING uid`
	var uid string
	err := s.conn(ctx).QueryRowContext(ctx, query,
		user.UID, strings.ToLower(user.Email), user.PasswordHash, user.Role).Scan(&uid)
	if err != nil {
		return "", wrapErr(op, err)
	}
	return uid, nil
}

// GetUser возвращает пользователя по UID.
func (s *Storage) GetUser(ctx context.Context, userUID string) (*models.User, error) {
	const op = "storage.GetUser"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE uid = $1`
	var u models.User
	if err := s.conn(ctx).QueryRowContext(ctx, query, userUID).Scan(
		&u.UID, &u.Email, &u.PasswordHash, &u.Role, &u.EmailVerified, &u.TrialUsed, &u.CreatedAt,
	); err != nil {
		return nil, wrapErr(op, err)
	}
	return &u, nil
}

// GetUserByEmail возвращает пользователя по почте без учёта регистра.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.GetUserByEmail"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	var u models.User
	if err := s.conn(ctx).QueryRowContext(ctx, query, strings.ToLower(email)).Scan(
		&u.UID, &u.Email, &u.PasswordHash, &u.Role, &u.EmailVerified, &u.TrialUsed, &u.CreatedAt,
	); err != nil {
		return nil, wrapErr(op, err)
	}
	return &u, nil
}

// MarkTrialUsed выставляет флаг trial_used и сообщает, был ли он снят до вызова.
// false означает, что флаг уже выставлен, в том числе параллельной транзакцией.
func (s *Storage) MarkTrialUsed(ctx context.Context, userUID string) (bool, error) {
	const op = "storage.MarkTrialUsed"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	query := `UPDATE users SET trial_used = true WHERE uid = $1 AND trial_used = false`
	res, err := s.conn(ctx).ExecContext(ctx, query, userUID)
	if err != nil {
		return false, wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(op, err)
	}
	return n > 0, nil
}
