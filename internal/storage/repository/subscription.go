package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

const subscriptionColumns = `id, user_uid, status, plan_type, start_date, expires_at, cancelled_at,
	external_subscription_id, external_transaction_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub                models.Subscription
		expiresAt, cancel  sql.NullTime
		extSubID, extTxnID sql.NullString
	)
	if err := row.Scan(&sub.ID, &sub.UserUID, &sub.Status, &sub.PlanType, &sub.StartDate,
		&expiresAt, &cancel, &extSubID, &extTxnID, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		sub.ExpiresAt = &expiresAt.Time
	}
	if cancel.Valid {
		sub.CancelledAt = &cancel.Time
	}
	sub.ExternalSubscriptionID = nullString(extSubID)
	sub.ExternalTransactionID = nullString(extTxnID)
	return &sub, nil
}

// GetLatestSubscription возвращает последнюю по created_at подписку пользователя
// (при равенстве берётся больший id) или nil, если подписок нет.
func (s *Storage) GetLatestSubscription(ctx context.Context, userUID string) (*models.Subscription, error) {
	const op = "storage.GetLatestSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE user_uid = $1
			  ORDER BY created_at DESC, id DESC
			  LIMIT 1`
	sub, err := scanSubscription(s.conn(ctx).QueryRowContext(ctx, query, userUID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return sub, nil
}

// GetAllSubscriptions возвращает все подписки пользователя, новые первыми.
func (s *Storage) GetAllSubscriptions(ctx context.Context, userUID string) ([]*models.Subscription, error) {
	const op = "storage.GetAllSubscriptions"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE user_uid = $1
			  ORDER BY created_at DESC, id DESC`
	rows, err := s.conn(ctx).QueryContext(ctx, query, userUID)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return result, nil
}

// GetSubscriptionByTransaction ищет подписку, привязанную к транзакции провайдера.
// Возвращает nil, если такой нет.
func (s *Storage) GetSubscriptionByTransaction(ctx context.Context, transactionID string) (*models.Subscription, error) {
	const op = "storage.GetSubscriptionByTransaction"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE external_transaction_id = $1
			  ORDER BY id DESC
			  LIMIT 1`
	sub, err := scanSubscription(s.conn(ctx).QueryRowContext(ctx, query, transactionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return sub, nil
}

// CreateSubscription вставляет новую запись подписки и возвращает её ID.
func (s *Storage) CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error) {
	const op = "storage.CreateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}

	query := `INSERT INTO subscriptions (user_uid, status, plan_type, start_date, expires_at,
			      external_subscription_id, external_transaction_id, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			  RETURNING id`
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var id int64
	err := s.conn(ctx).QueryRowContext(ctx, query,
		sub.UserUID, sub.Status, sub.PlanType, sub.StartDate, sub.ExpiresAt,
		sub.ExternalSubscriptionID, sub.ExternalTransactionID, createdAt).Scan(&id)
	if err != nil {
		return 0, wrapErr(op, err)
	}
	return id, nil
}

// UpdateSubscription обновляет переданные поля одной подписки.
func (s *Storage) UpdateSubscription(ctx context.Context, id int64, upd models.SubscriptionUpdate) error {
	const op = "storage.UpdateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	sets := []string{"updated_at = NOW()"}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.PlanType != nil {
		add("plan_type", *upd.PlanType)
	}
	if upd.ExpiresAt != nil {
		add("expires_at", *upd.ExpiresAt)
	}
	if upd.ClearCancelledAt {
		sets = append(sets, "cancelled_at = NULL")
	} else if upd.CancelledAt != nil {
		add("cancelled_at", *upd.CancelledAt)
	}
	if upd.ExternalSubscriptionID != nil {
		add("external_subscription_id", *upd.ExternalSubscriptionID)
	}
	if upd.ExternalTransactionID != nil {
		add("external_transaction_id", *upd.ExternalTransactionID)
	}
	if upd.TouchCreatedAt != nil {
		add("created_at", *upd.TouchCreatedAt)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE subscriptions SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: subscription %d: %w", op, id, models.ErrNotFound)
	}
	return nil
}

// ExpireSubscription переводит одну устаревшую active-подписку в unsubscribed.
// Возвращает false, если запись уже не требует перехода.
func (s *Storage) ExpireSubscription(ctx context.Context, id int64, now time.Time) (bool, error) {
	const op = "storage.ExpireSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	query := `UPDATE subscriptions
			  SET status = 'unsubscribed', updated_at = NOW()
			  WHERE id = $1 AND status = 'active'
			    AND expires_at IS NOT NULL AND expires_at <= $2`
	res, err := s.conn(ctx).ExecContext(ctx, query, id, now)
	if err != nil {
		return false, wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(op, err)
	}
	return n > 0, nil
}

// SweepExpiredSubscriptions переводит все устаревшие active-подписки в unsubscribed
// и возвращает изменённые строки.
func (s *Storage) SweepExpiredSubscriptions(ctx context.Context, now time.Time) ([]*models.ExpiredSubscription, error) {
	const op = "storage.SweepExpiredSubscriptions"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `UPDATE subscriptions
			  SET status = 'unsubscribed', updated_at = NOW()
			  WHERE status = 'active'
			    AND expires_at IS NOT NULL AND expires_at <= $1
			  RETURNING id, user_uid, plan_type, expires_at`
	rows, err := s.conn(ctx).QueryContext(ctx, query, now)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.ExpiredSubscription
	for rows.Next() {
		var e models.ExpiredSubscription
		if err := rows.Scan(&e.ID, &e.UserUID, &e.PlanType, &e.Expired); err != nil {
			return nil, wrapErr(op, err)
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return result, nil
}

// CancelOtherActiveSubscriptions отменяет все active-подписки пользователя, кроме keepID.
func (s *Storage) CancelOtherActiveSubscriptions(ctx context.Context, userUID string, keepID int64, now time.Time) (int, error) {
	const op = "storage.CancelOtherActiveSubscriptions"
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}

	query := `UPDATE subscriptions
			  SET status = 'cancelled', cancelled_at = $3, updated_at = NOW()
			  WHERE user_uid = $1 AND id <> $2 AND status = 'active'`
	res, err := s.conn(ctx).ExecContext(ctx, query, userUID, keepID, now)
	if err != nil {
		return 0, wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr(op, err)
	}
	return int(n), nil
}
