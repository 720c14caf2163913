// Package paymentprovider реализует HTTP-клиент API CloudPayments.
//
// Все ответы проверяются на границе: ошибки транспорта, статусы кроме 2xx,
// Success=false и тела неожиданной формы возвращаются как models.ErrProviderUnavailable.
package paymentprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/chat-entitlement/internal/config"
	"github.com/magabrotheeeer/chat-entitlement/internal/lib/metrics"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

const maxResponseBody = 1 << 20

// Client обращается к API провайдера с Basic-авторизацией.
type Client struct {
	publicID   string
	apiSecret  string
	apiURL     string
	httpClient *http.Client
	validate   *validator.Validate
}

type envelope struct {
	Success bool            `json:"Success"`
	Message *string         `json:"Message"`
	Model   json.RawMessage `json:"Model"`
}

// NewClient создаёт клиент CloudPayments.
func NewClient(cfg config.PaymentProvider) *Client {
	return &Client{
		publicID:   cfg.ProviderPublicID,
		apiSecret:  cfg.ProviderSecret,
		apiURL:     strings.TrimRight(cfg.ProviderAPIURL, "/"),
		httpClient: &http.Client{Timeout: cfg.ProviderTimeout},
		validate:   validator.New(),
	}
}

// CreateSubscription создаёт рекуррентную подписку по токену карты.
func (c *Client) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionInfo, error) {
	const op = "paymentprovider.CreateSubscription"
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, models.ErrInvariantViolation, err)
	}
	body := createSubscriptionBody{
		Token:       req.Token,
		AccountID:   req.AccountID,
		Description: req.Description,
		Email:       req.Email,
		Amount:      toMajorUnits(req.Amount),
		Currency:    req.Currency,
		StartDate:   req.StartDate.UTC().Format(isoLayout),
		Interval:    string(req.Interval),
		Period:      req.Period,
	}
	var model subscriptionModel
	if err := c.call(ctx, "create_subscription", "/subscriptions/create", body, &model); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c.subscriptionInfo(op, "create_subscription", model)
}

// GetSubscriptionStatus возвращает статус подписки и дату следующего списания.
func (c *Client) GetSubscriptionStatus(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error) {
	const op = "paymentprovider.GetSubscriptionStatus"
	var model subscriptionModel
	if err := c.call(ctx, "get_subscription", "/subscriptions/get", idBody{ID: subscriptionID}, &model); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c.subscriptionInfo(op, "get_subscription", model)
}

// CancelSubscription останавливает рекуррентные списания.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	const op = "paymentprovider.CancelSubscription"
	if err := c.call(ctx, "cancel_subscription", "/subscriptions/cancel", idBody{ID: subscriptionID}, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetTransaction возвращает статус транзакции, токен карты и сумму.
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (*TransactionInfo, error) {
	const op = "paymentprovider.GetTransaction"
	id, err := strconv.ParseInt(transactionID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: bad transaction id %q", op, models.ErrInvariantViolation, transactionID)
	}
	var model transactionModel
	if err := c.call(ctx, "get_transaction", "/payments/get", transactionBody{TransactionID: id}, &model); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return model.info(), nil
}

func (c *Client) subscriptionInfo(op, method string, model subscriptionModel) (*SubscriptionInfo, error) {
	info, err := model.info()
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("%s: %w: %w", op, models.ErrProviderUnavailable, err)
	}
	return info, nil
}

// call выполняет POST-запрос и разбирает конверт ответа.
// Если model не nil, поле Model декодируется в него и валидируется.
func (c *Client) call(ctx context.Context, method, path string, body, model any) error {
	err := c.doCall(ctx, path, body, model)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(method).Inc()
		return fmt.Errorf("%w: %w", models.ErrProviderUnavailable, err)
	}
	return nil
}

func (c *Client) doCall(ctx context.Context, path string, body, model any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, &buf)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.publicID, c.apiSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		msg := "unknown error"
		if env.Message != nil && *env.Message != "" {
			msg = *env.Message
		}
		return errors.New("provider rejected request: " + msg)
	}
	if model == nil {
		return nil
	}
	if len(env.Model) == 0 || string(env.Model) == "null" {
		return errors.New("response has no model")
	}
	if err := json.Unmarshal(env.Model, model); err != nil {
		return fmt.Errorf("decode model: %w", err)
	}
	if err := c.validate.Struct(model); err != nil {
		return fmt.Errorf("invalid model: %w", err)
	}
	return nil
}
