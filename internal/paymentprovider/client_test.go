package paymentprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/chat-entitlement/internal/config"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.PaymentProvider{
		ProviderAPIURL:   srv.URL + "/",
		ProviderPublicID: "pk_test",
		ProviderSecret:   "secret",
		ProviderTimeout:  2 * time.Second,
	})
}

func TestGetSubscriptionStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/subscriptions/get", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "pk_test", user)
		assert.Equal(t, "secret", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sc_1", body["Id"])

		_, _ = w.Write([]byte(`{"Success":true,"Model":{"Id":"sc_1","Status":"Active","NextTransactionDateIso":"2025-02-01T10:00:00"}}`))
	})

	info, err := client.GetSubscriptionStatus(context.Background(), "sc_1")
	require.NoError(t, err)
	assert.Equal(t, "sc_1", info.ID)
	assert.Equal(t, SubscriptionActive, info.Status)
	assert.True(t, info.Status.IsActive())
	require.NotNil(t, info.NextPaymentDate)
	assert.Equal(t, time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC), *info.NextPaymentDate)
}

func TestGetTransaction(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/get", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 504, body["TransactionId"])

		_, _ = w.Write([]byte(`{"Success":true,"Model":{"TransactionId":504,"Status":"Completed","Token":"tk_1","Amount":990.00,"Currency":"RUB","AccountId":"user-1"}}`))
	})

	info, err := client.GetTransaction(context.Background(), "504")
	require.NoError(t, err)
	assert.Equal(t, "504", info.ID)
	assert.True(t, info.Status.Succeeded())
	assert.Equal(t, "tk_1", info.Token)
	assert.Equal(t, int64(99000), info.Amount)
	assert.Equal(t, "user-1", info.AccountID)
}

func TestCreateSubscription(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions/create", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tk_1", body["Token"])
		assert.Equal(t, "user-1", body["AccountId"])
		assert.InDelta(t, 990.0, body["Amount"], 0.001)
		assert.Equal(t, "Month", body["Interval"])
		assert.EqualValues(t, 1, body["Period"])
		assert.Equal(t, "2025-01-31T00:00:00", body["StartDate"])

		_, _ = w.Write([]byte(`{"Success":true,"Model":{"Id":"sc_9","Status":"Active"}}`))
	})

	info, err := client.CreateSubscription(context.Background(), CreateSubscriptionRequest{
		Token:       "tk_1",
		AccountID:   "user-1",
		Description: "Premium",
		Amount:      99000,
		Currency:    "RUB",
		Interval:    IntervalMonth,
		Period:      1,
		StartDate:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "sc_9", info.ID)
	assert.Nil(t, info.NextPaymentDate)
}

func TestCreateSubscription_InvalidRequest(t *testing.T) {
	called := false
	client := newTestClient(t, func(_ http.ResponseWriter, _ *http.Request) {
		called = true
	})

	_, err := client.CreateSubscription(context.Background(), CreateSubscriptionRequest{AccountID: "user-1"})
	assert.ErrorIs(t, err, models.ErrInvariantViolation)
	assert.False(t, called)
}

func TestCancelSubscription(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions/cancel", r.URL.Path)
		_, _ = w.Write([]byte(`{"Success":true,"Message":null}`))
	})

	assert.NoError(t, client.CancelSubscription(context.Background(), "sc_1"))
}

func TestProviderFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{name: "server error", status: http.StatusInternalServerError, payload: `oops`},
		{name: "success false", status: http.StatusOK, payload: `{"Success":false,"Message":"Not found"}`},
		{name: "malformed body", status: http.StatusOK, payload: `{"Success":`},
		{name: "missing model", status: http.StatusOK, payload: `{"Success":true}`},
		{name: "unknown status", status: http.StatusOK, payload: `{"Success":true,"Model":{"Id":"sc_1","Status":"Weird"}}`},
		{name: "missing id", status: http.StatusOK, payload: `{"Success":true,"Model":{"Status":"Active"}}`},
		{name: "bad next date", status: http.StatusOK, payload: `{"Success":true,"Model":{"Id":"sc_1","Status":"Active","NextTransactionDateIso":"tomorrow"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			})

			info, err := client.GetSubscriptionStatus(context.Background(), "sc_1")
			assert.Nil(t, info)
			assert.ErrorIs(t, err, models.ErrProviderUnavailable)
		})
	}
}

func TestProviderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(config.PaymentProvider{ProviderAPIURL: srv.URL, ProviderTimeout: 50 * time.Millisecond})
	err := client.CancelSubscription(context.Background(), "sc_1")
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestGetTransaction_BadID(t *testing.T) {
	client := newTestClient(t, func(_ http.ResponseWriter, _ *http.Request) {})
	_, err := client.GetTransaction(context.Background(), "abc")
	assert.ErrorIs(t, err, models.ErrInvariantViolation)
}

func TestTransactionStatus_PaymentStatus(t *testing.T) {
	assert.Equal(t, models.PaymentSucceeded, TransactionCompleted.PaymentStatus())
	assert.Equal(t, models.PaymentPending, TransactionAuthorized.PaymentStatus())
	assert.Equal(t, models.PaymentFailed, TransactionDeclined.PaymentStatus())
	assert.Equal(t, models.PaymentCanceled, TransactionCancelled.PaymentStatus())
	assert.Equal(t, models.PaymentPending, TransactionStatus("AwaitingAuthentication").PaymentStatus())
	assert.Equal(t, int64(99000), ToMinorUnits(990.00))
	assert.Equal(t, int64(1999), ToMinorUnits(19.99))
}
