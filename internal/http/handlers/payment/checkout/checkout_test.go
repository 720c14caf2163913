package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/chat-entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/chat-entitlement/internal/services/payment"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) CreateCheckout(ctx context.Context, userUID string) (*payment.Checkout, error) {
	args := m.Called(ctx, userUID)
	c, _ := args.Get(0).(*payment.Checkout)
	return c, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestCheckoutHandler(t *testing.T) {
	svc := new(ServiceMock)
	svc.On("CreateCheckout", mock.Anything, "uid-1").Return(&payment.Checkout{
		InvoiceID: "inv-1", PublicID: "pk_test", Amount: 99000, Currency: "RUB", AccountID: "uid-1",
	}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/payments/checkout", nil)
	req = req.WithContext(context.WithValue(req.Context(), middlewarectx.UserUID, "uid-1"))
	rec := httptest.NewRecorder()
	New(newNoopLogger(), svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		Data payment.Checkout `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "inv-1", body.Data.InvoiceID)
	assert.Equal(t, int64(99000), body.Data.Amount)
	svc.AssertExpectations(t)
}

func TestCheckoutHandler_Errors(t *testing.T) {
	svc := new(ServiceMock)
	svc.On("CreateCheckout", mock.Anything, "uid-1").Return(nil, errors.New("db down")).Once()

	req := httptest.NewRequest(http.MethodPost, "/payments/checkout", nil)
	req = req.WithContext(context.WithValue(req.Context(), middlewarectx.UserUID, "uid-1"))
	rec := httptest.NewRecorder()
	New(newNoopLogger(), svc).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	New(newNoopLogger(), svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/checkout", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertExpectations(t)
}
