package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/chat-entitlement/internal/models"
	"github.com/magabrotheeeer/chat-entitlement/internal/services/subscription"
)

const userUID = "6f1c2b1e-3c55-4b7e-9a43-0d7d2a1f5e10"

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) ReconcileUser(ctx context.Context, uid string) (*subscription.ReconcileReport, error) {
	args := m.Called(ctx, uid)
	report, _ := args.Get(0).(*subscription.ReconcileReport)
	return report, args.Error(1)
}

func (m *ServiceMock) SweepExpiredSubscriptions(ctx context.Context) ([]*models.ExpiredSubscription, error) {
	args := m.Called(ctx)
	expired, _ := args.Get(0).([]*models.ExpiredSubscription)
	return expired, args.Error(1)
}

func (m *ServiceMock) GrantTrial(ctx context.Context, uid string) (*models.Subscription, error) {
	args := m.Called(ctx, uid)
	sub, _ := args.Get(0).(*models.Subscription)
	return sub, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newRouter(svc Service) http.Handler {
	h := New(newNoopLogger(), svc)
	r := chi.NewRouter()
	r.Post("/admin/users/{uid}/reconcile", h.Reconcile)
	r.Post("/admin/users/{uid}/trial", h.GrantTrial)
	r.Post("/admin/sweep", h.Sweep)
	return r
}

func do(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
	return rec
}

func TestAdmin_Reconcile(t *testing.T) {
	tests := []struct {
		name       string
		report     *subscription.ReconcileReport
		err        error
		wantCode   int
		wantBranch string
	}{
		{
			name:       "repaired",
			report:     &subscription.ReconcileReport{UserUID: userUID, Branch: subscription.BranchReactivate, Committed: true},
			wantCode:   http.StatusOK,
			wantBranch: "reactivate",
		},
		{
			name:       "provider unavailable keeps report",
			report:     &subscription.ReconcileReport{UserUID: userUID, Branch: subscription.BranchExtend, Error: "payment provider unavailable"},
			err:        models.ErrProviderUnavailable,
			wantCode:   http.StatusBadGateway,
			wantBranch: "extend",
		},
		{
			name:     "unknown user",
			err:      models.ErrNotFound,
			wantCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			svc.On("ReconcileUser", mock.Anything, userUID).Return(tt.report, tt.err).Once()

			rec := do(newRouter(svc), "/admin/users/"+userUID+"/reconcile")

			assert.Equal(t, tt.wantCode, rec.Code)
			var body struct {
				Data *subscription.ReconcileReport `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tt.wantBranch != "" {
				require.NotNil(t, body.Data)
				assert.Equal(t, tt.wantBranch, string(body.Data.Branch))
			} else {
				assert.Nil(t, body.Data)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestAdmin_InvalidUID(t *testing.T) {
	svc := new(ServiceMock)
	rec := do(newRouter(svc), "/admin/users/not-a-uuid/reconcile")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "ReconcileUser", mock.Anything, mock.Anything)
}

func TestAdmin_Sweep(t *testing.T) {
	svc := new(ServiceMock)
	svc.On("SweepExpiredSubscriptions", mock.Anything).Return([]*models.ExpiredSubscription{
		{ID: 1, UserUID: userUID, PlanType: models.PlanTrial},
	}, nil).Once()

	rec := do(newRouter(svc), "/admin/sweep")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.Count)
	svc.AssertExpectations(t)
}

func TestAdmin_GrantTrial(t *testing.T) {
	svc := new(ServiceMock)
	svc.On("GrantTrial", mock.Anything, userUID).Return(&models.Subscription{ID: 9, PlanType: models.PlanTrial}, nil).Once()
	rec := do(newRouter(svc), "/admin/users/"+userUID+"/trial")
	assert.Equal(t, http.StatusCreated, rec.Code)

	svc.On("GrantTrial", mock.Anything, userUID).Return(nil, models.ErrAlreadySubscribed).Once()
	rec = do(newRouter(svc), "/admin/users/"+userUID+"/trial")
	assert.Equal(t, http.StatusConflict, rec.Code)

	svc.AssertExpectations(t)
}
