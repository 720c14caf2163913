package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

const paymentColumns = `id, user_uid, subscription_id, external_payment_id, external_transaction_id,
	external_subscription_id, amount, currency, status, created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p                  models.Payment
		subID              sql.NullInt64
		extTxnID, extSubID sql.NullString
	)
	if err := row.Scan(&p.ID, &p.UserUID, &subID, &p.ExternalPaymentID, &extTxnID, &extSubID,
		&p.Amount, &p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if subID.Valid {
		v := subID.Int64
		p.SubscriptionID = &v
	}
	p.ExternalTransactionID = nullString(extTxnID)
	p.ExternalSubscriptionID = nullString(extSubID)
	return &p, nil
}

// CreatePayment сохраняет информацию о платеже и возвращает его ID.
func (s *Storage) CreatePayment(ctx context.Context, p models.Payment) (int64, error) {
	const op = "storage.CreatePayment"
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}

	query := `INSERT INTO payments (user_uid, subscription_id, external_payment_id,
			      external_transaction_id, external_subscription_id, amount, currency, status)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  RETURNING id`
	var id int64
	err := s.conn(ctx).QueryRowContext(ctx, query,
		p.UserUID, p.SubscriptionID, p.ExternalPaymentID, p.ExternalTransactionID,
		p.ExternalSubscriptionID, p.Amount, p.Currency, p.Status).Scan(&id)
	if err != nil {
		return 0, wrapErr(op, err)
	}
	return id, nil
}

// GetPaymentByExternalID возвращает платёж по идентификатору провайдера.
func (s *Storage) GetPaymentByExternalID(ctx context.Context, externalPaymentID string) (*models.Payment, error) {
	const op = "storage.GetPaymentByExternalID"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE external_payment_id = $1`
	p, err := scanPayment(s.conn(ctx).QueryRowContext(ctx, query, externalPaymentID))
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return p, nil
}

// UpdatePaymentStatus переводит платёж из pending в новый статус.
// Возвращает false, если платёж уже не в pending.
func (s *Storage) UpdatePaymentStatus(ctx context.Context, id int64, status models.PaymentStatus, transactionID *string) (bool, error) {
	const op = "storage.UpdatePaymentStatus"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	query := `UPDATE payments
			  SET status = $1,
			      external_transaction_id = COALESCE($2, external_transaction_id),
			      updated_at = NOW()
			  WHERE id = $3 AND status = 'pending'`
	res, err := s.conn(ctx).ExecContext(ctx, query, status, transactionID, id)
	if err != nil {
		return false, wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(op, err)
	}
	return n > 0, nil
}

// LinkPayment привязывает платёж к подписке и рекуррентной подписке провайдера.
func (s *Storage) LinkPayment(ctx context.Context, paymentID, subscriptionID int64, externalSubscriptionID *string) error {
	const op = "storage.LinkPayment"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `UPDATE payments
			  SET subscription_id = $1,
			      external_subscription_id = COALESCE($2, external_subscription_id),
			      updated_at = NOW()
			  WHERE id = $3`
	res, err := s.conn(ctx).ExecContext(ctx, query, subscriptionID, externalSubscriptionID, paymentID)
	if err != nil {
		return wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: payment %d: %w", op, paymentID, models.ErrNotFound)
	}
	return nil
}

// GetPaymentsForUser возвращает все платежи пользователя, новые первыми.
func (s *Storage) GetPaymentsForUser(ctx context.Context, userUID string) ([]*models.Payment, error) {
	const op = "storage.GetPaymentsForUser"
	return s.listPayments(ctx, op, `SELECT `+paymentColumns+`
			  FROM payments
			  WHERE user_uid = $1
			  ORDER BY created_at DESC, id DESC`, userUID)
}

// GetPendingOrSucceededPayments возвращает незавершённые и успешные платежи пользователя.
func (s *Storage) GetPendingOrSucceededPayments(ctx context.Context, userUID string) ([]*models.Payment, error) {
	const op = "storage.GetPendingOrSucceededPayments"
	return s.listPayments(ctx, op, `SELECT `+paymentColumns+`
			  FROM payments
			  WHERE user_uid = $1 AND status IN ('pending', 'succeeded')
			  ORDER BY created_at DESC, id DESC`, userUID)
}

func (s *Storage) listPayments(ctx context.Context, op, query string, args ...any) ([]*models.Payment, error) {
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return result, nil
}
