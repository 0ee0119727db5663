// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/cadence/api/schemas"
)

// -- Element Handle --

// Handle is a trivial schemas.ElementHandle for tests.
type Handle string

// HandleID implements schemas.ElementHandle.
func (h Handle) HandleID() string { return string(h) }

// -- UI Source Mock --

// MockUISource mocks the schemas.UISource interface.
type MockUISource struct {
	mock.Mock
}

func (m *MockUISource) Enumerate(ctx context.Context) ([]schemas.ElementHandle, error) {
	args := m.Called(ctx)
	var handles []schemas.ElementHandle
	if h := args.Get(0); h != nil {
		handles = h.([]schemas.ElementHandle)
	}
	return handles, args.Error(1)
}

func (m *MockUISource) ReadSignals(ctx context.Context, h schemas.ElementHandle) (schemas.RawSignals, error) {
	args := m.Called(ctx, h)
	return args.Get(0).(schemas.RawSignals), args.Error(1)
}

func (m *MockUISource) IsVisible(ctx context.Context, h schemas.ElementHandle) (bool, error) {
	args := m.Called(ctx, h)
	return args.Bool(0), args.Error(1)
}

func (m *MockUISource) Trigger(ctx context.Context, h schemas.ElementHandle) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func (m *MockUISource) ScrollForMore(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// -- Registrar Mock --

// MockRegistrar mocks the quota registrar used by the executor.
type MockRegistrar struct {
	mock.Mock
}

func (m *MockRegistrar) RegisterAction() {
	m.Called()
}

// -- Delayer Mock --

// MockDelayer mocks schemas.Delayer. Pick returns whatever the test
// configured; Suspend and Sleep return the configured error.
type MockDelayer struct {
	mock.Mock
}

func (m *MockDelayer) Pick(r schemas.DurationRange) time.Duration {
	args := m.Called(r)
	return args.Get(0).(time.Duration)
}

func (m *MockDelayer) Suspend(ctx context.Context, r schemas.DurationRange) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockDelayer) Sleep(ctx context.Context, d time.Duration) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}
