package paymentprovider

import (
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

// SubscriptionStatus задаёт статус рекуррентной подписки на стороне провайдера.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "Active"
	SubscriptionPastDue   SubscriptionStatus = "PastDue"
	SubscriptionCancelled SubscriptionStatus = "Cancelled"
	SubscriptionRejected  SubscriptionStatus = "Rejected"
	SubscriptionExpired   SubscriptionStatus = "Expired"
)

// IsActive сообщает, продолжает ли провайдер списания.
func (s SubscriptionStatus) IsActive() bool {
	return s == SubscriptionActive || s == SubscriptionPastDue
}

// TransactionStatus задаёт статус транзакции на стороне провайдера.
type TransactionStatus string

const (
	TransactionCompleted  TransactionStatus = "Completed"
	TransactionAuthorized TransactionStatus = "Authorized"
	TransactionDeclined   TransactionStatus = "Declined"
	TransactionCancelled  TransactionStatus = "Cancelled"
)

// Succeeded сообщает, что деньги списаны.
func (s TransactionStatus) Succeeded() bool {
	return s == TransactionCompleted
}

// PaymentStatus переводит статус транзакции в статус локального платежа.
// Authorized ещё не списан и остаётся pending.
func (s TransactionStatus) PaymentStatus() models.PaymentStatus {
	switch s {
	case TransactionCompleted:
		return models.PaymentSucceeded
	case TransactionDeclined:
		return models.PaymentFailed
	case TransactionCancelled:
		return models.PaymentCanceled
	default:
		return models.PaymentPending
	}
}

// Interval задаёт единицу периода рекуррентных списаний.
type Interval string

const (
	IntervalDay   Interval = "Day"
	IntervalWeek  Interval = "Week"
	IntervalMonth Interval = "Month"
)

// CreateSubscriptionRequest содержит параметры создания рекуррентной подписки.
// Amount указывается в минимальных единицах валюты (копейках).
type CreateSubscriptionRequest struct {
	Token       string    `validate:"required"`
	AccountID   string    `validate:"required"`
	Email       string    `validate:"omitempty,email"`
	Description string    `validate:"required"`
	Amount      int64     `validate:"gt=0"`
	Currency    string    `validate:"required,len=3"`
	Interval    Interval  `validate:"required,oneof=Day Week Month"`
	Period      int       `validate:"gt=0"`
	StartDate   time.Time `validate:"required"`
}

// SubscriptionInfo содержит проверенное состояние подписки у провайдера.
type SubscriptionInfo struct {
	ID              string
	Status          SubscriptionStatus
	NextPaymentDate *time.Time
}

// TransactionInfo содержит проверенное состояние транзакции у провайдера.
type TransactionInfo struct {
	ID        string
	Status    TransactionStatus
	Token     string
	Amount    int64
	Currency  string
	AccountID string
}

type createSubscriptionBody struct {
	Token               string  `json:"Token"`
	AccountID           string  `json:"AccountId"`
	Description         string  `json:"Description"`
	Email               string  `json:"Email,omitempty"`
	Amount              float64 `json:"Amount"`
	Currency            string  `json:"Currency"`
	RequireConfirmation bool    `json:"RequireConfirmation"`
	StartDate           string  `json:"StartDate"`
	Interval            string  `json:"Interval"`
	Period              int     `json:"Period"`
}

type idBody struct {
	ID string `json:"Id"`
}

type transactionBody struct {
	TransactionID int64 `json:"TransactionId"`
}

type subscriptionModel struct {
	ID                     string  `json:"Id" validate:"required"`
	Status                 string  `json:"Status" validate:"required,oneof=Active PastDue Cancelled Rejected Expired"`
	NextTransactionDateIso *string `json:"NextTransactionDateIso"`
}

type transactionModel struct {
	TransactionID int64   `json:"TransactionId" validate:"gt=0"`
	Status        string  `json:"Status" validate:"required"`
	Token         string  `json:"Token"`
	Amount        float64 `json:"Amount" validate:"gte=0"`
	Currency      string  `json:"Currency"`
	AccountID     string  `json:"AccountId"`
}

const isoLayout = "2006-01-02T15:04:05"

func parseISO(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(isoLayout, *s, time.UTC)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, *s); err != nil {
			return nil, err
		}
	}
	t = t.UTC()
	return &t, nil
}

// ToMinorUnits переводит сумму провайдера в копейки.
func ToMinorUnits(amount float64) int64 {
	return int64(amount*100 + 0.5)
}

func toMajorUnits(amount int64) float64 {
	return float64(amount) / 100
}

func (m subscriptionModel) info() (*SubscriptionInfo, error) {
	next, err := parseISO(m.NextTransactionDateIso)
	if err != nil {
		return nil, err
	}
	return &SubscriptionInfo{
		ID:              m.ID,
		Status:          SubscriptionStatus(m.Status),
		NextPaymentDate: next,
	}, nil
}

func (m transactionModel) info() *TransactionInfo {
	return &TransactionInfo{
		ID:        strconv.FormatInt(m.TransactionID, 10),
		Status:    TransactionStatus(m.Status),
		Token:     m.Token,
		Amount:    ToMinorUnits(m.Amount),
		Currency:  m.Currency,
		AccountID: m.AccountID,
	}
}
