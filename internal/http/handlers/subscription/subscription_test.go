package subscription

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/chat-entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/chat-entitlement/internal/http/response"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) GetSubscriptionStatus(ctx context.Context, userUID string) (*models.EntitlementStatus, error) {
	args := m.Called(ctx, userUID)
	status, _ := args.Get(0).(*models.EntitlementStatus)
	return status, args.Error(1)
}

func (m *ServiceMock) StartTrial(ctx context.Context, userUID string) (*models.Subscription, error) {
	args := m.Called(ctx, userUID)
	sub, _ := args.Get(0).(*models.Subscription)
	return sub, args.Error(1)
}

func (m *ServiceMock) CancelSubscription(ctx context.Context, userUID string) (*models.Subscription, error) {
	args := m.Called(ctx, userUID)
	sub, _ := args.Get(0).(*models.Subscription)
	return sub, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func authed(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(context.WithValue(req.Context(), middlewarectx.UserUID, "uid-1"))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandler_Status(t *testing.T) {
	svc := new(ServiceMock)
	expires := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	premium := models.PlanPremium
	svc.On("GetSubscriptionStatus", mock.Anything, "uid-1").Return(&models.EntitlementStatus{
		HasAccess: true,
		Type:      &premium,
		Status:    string(models.StatusActive),
		ExpiresAt: &expires,
	}, nil).Once()

	rec := httptest.NewRecorder()
	New(newNoopLogger(), svc).Status(rec, authed(http.MethodGet, "/subscription/status"))

	assert.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, true, data["has_access"])
	assert.Equal(t, "premium", data["type"])
	assert.Equal(t, "2025-04-01T00:00:00Z", data["expires_at"])
	svc.AssertExpectations(t)
}

func TestHandler_StartTrial(t *testing.T) {
	tests := []struct {
		name     string
		sub      *models.Subscription
		err      error
		wantCode int
	}{
		{
			name:     "created",
			sub:      &models.Subscription{ID: 1, UserUID: "uid-1", Status: models.StatusActive, PlanType: models.PlanTrial},
			wantCode: http.StatusCreated,
		},
		{name: "already subscribed", err: models.ErrAlreadySubscribed, wantCode: http.StatusConflict},
		{name: "trial used", err: models.ErrTrialAlreadyUsed, wantCode: http.StatusConflict},
		{name: "unknown user", err: models.ErrNotFound, wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			svc.On("StartTrial", mock.Anything, "uid-1").Return(tt.sub, tt.err).Once()

			rec := httptest.NewRecorder()
			New(newNoopLogger(), svc).StartTrial(rec, authed(http.MethodPost, "/subscription/trial"))

			assert.Equal(t, tt.wantCode, rec.Code)
			body := decode(t, rec)
			if tt.err == nil {
				assert.Equal(t, response.StatusOK, body["status"])
				assert.Equal(t, "trial", body["data"].(map[string]any)["plan_type"])
			} else {
				assert.Equal(t, response.StatusError, body["status"])
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestHandler_Cancel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "cancelled", wantCode: http.StatusOK},
		{name: "inactive", err: models.ErrInvariantViolation, wantCode: http.StatusUnprocessableEntity},
		{name: "provider down", err: models.ErrProviderUnavailable, wantCode: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			var sub *models.Subscription
			if tt.err == nil {
				sub = &models.Subscription{ID: 3, Status: models.StatusCancelled, PlanType: models.PlanPremium}
			}
			svc.On("CancelSubscription", mock.Anything, "uid-1").Return(sub, tt.err).Once()

			rec := httptest.NewRecorder()
			New(newNoopLogger(), svc).Cancel(rec, authed(http.MethodPost, "/subscription/cancel"))

			assert.Equal(t, tt.wantCode, rec.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestHandler_MissingUser(t *testing.T) {
	svc := new(ServiceMock)
	rec := httptest.NewRecorder()
	New(newNoopLogger(), svc).Status(rec, httptest.NewRequest(http.MethodGet, "/subscription/status", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertNotCalled(t, "GetSubscriptionStatus", mock.Anything, mock.Anything)
}
