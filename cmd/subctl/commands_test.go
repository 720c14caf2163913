package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/chat-entitlement/internal/models"
	"github.com/magabrotheeeer/chat-entitlement/internal/services/subscription"
)

type opsMock struct {
	mock.Mock
}

func (m *opsMock) ReconcileUser(ctx context.Context, uid string) (*subscription.ReconcileReport, error) {
	args := m.Called(ctx, uid)
	report, _ := args.Get(0).(*subscription.ReconcileReport)
	return report, args.Error(1)
}

func (m *opsMock) SweepExpiredSubscriptions(ctx context.Context) ([]*models.ExpiredSubscription, error) {
	args := m.Called(ctx)
	expired, _ := args.Get(0).([]*models.ExpiredSubscription)
	return expired, args.Error(1)
}

func (m *opsMock) GrantTrial(ctx context.Context, uid string) (*models.Subscription, error) {
	args := m.Called(ctx, uid)
	sub, _ := args.Get(0).(*models.Subscription)
	return sub, args.Error(1)
}

func execute(t *testing.T, ops *opsMock, args ...string) (string, bool, error) {
	t.Helper()
	var out bytes.Buffer
	closed := false
	open := func(_ context.Context, path string) (Operations, func(), error) {
		assert.Equal(t, "test.yaml", path)
		return ops, func() { closed = true }, nil
	}
	root := newRootCmd(open, &out)
	root.SetArgs(append([]string{"--config", "test.yaml"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), closed, err
}

func TestReconcileCmd(t *testing.T) {
	ops := new(opsMock)
	ops.On("ReconcileUser", mock.Anything, "uid-1").Return(&subscription.ReconcileReport{
		UserUID:   "uid-1",
		Branch:    subscription.BranchPromote,
		Committed: true,
	}, nil).Once()

	out, closed, err := execute(t, ops, "reconcile", "uid-1")
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Contains(t, out, `"branch": "promote"`)
	assert.Contains(t, out, `"committed": true`)
	ops.AssertExpectations(t)
}

func TestReconcileCmd_FailedBranchPrintsReport(t *testing.T) {
	ops := new(opsMock)
	ops.On("ReconcileUser", mock.Anything, "uid-1").Return(&subscription.ReconcileReport{
		UserUID: "uid-1",
		Branch:  subscription.BranchExtend,
		Error:   "payment provider unavailable",
	}, models.ErrProviderUnavailable).Once()

	out, _, err := execute(t, ops, "reconcile", "uid-1")
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
	assert.Contains(t, out, `"committed": false`)
	assert.Contains(t, out, `"branch": "extend"`)
}

func TestSweepCmd(t *testing.T) {
	ops := new(opsMock)
	ops.On("SweepExpiredSubscriptions", mock.Anything).Return([]*models.ExpiredSubscription{
		{ID: 1, UserUID: "uid-1"}, {ID: 2, UserUID: "uid-2"},
	}, nil).Once()

	out, _, err := execute(t, ops, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, `"count": 2`)
}

func TestGrantTrialCmd(t *testing.T) {
	ops := new(opsMock)
	ops.On("GrantTrial", mock.Anything, "uid-1").Return(nil, models.ErrAlreadySubscribed).Once()

	out, _, err := execute(t, ops, "grant-trial", "uid-1")
	assert.ErrorIs(t, err, models.ErrAlreadySubscribed)
	assert.Empty(t, out)
}

func TestCmd_Args(t *testing.T) {
	_, _, err := execute(t, new(opsMock), "reconcile")
	assert.Error(t, err)

	var out bytes.Buffer
	root := newRootCmd(func(context.Context, string) (Operations, func(), error) {
		t.Fatal("open must not be called without config")
		return nil, nil, nil
	}, &out)
	root.SetArgs([]string{"--config", "", "sweep"})
	assert.ErrorContains(t, root.Execute(), "config path is not set")
}
