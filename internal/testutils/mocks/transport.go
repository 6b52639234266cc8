package mocks

import (
	"context"

	"github.com/srg/blelink/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify mock of device.Transport
type MockTransport struct {
	mock.Mock
}

var _ device.Transport = (*MockTransport)(nil)

func (m *MockTransport) Discover(ctx context.Context) ([]device.Candidate, error) {
	args := m.Called(ctx)
	var candidates []device.Candidate
	if v := args.Get(0); v != nil {
		candidates = v.([]device.Candidate)
	}
	return candidates, args.Error(1)
}

func (m *MockTransport) Connect(ctx context.Context, address string) error {
	return m.Called(ctx, address).Error(0)
}

// IsConnected returns the stubbed bool, or calls a stubbed func() bool so a
// test can model the link state.
func (m *MockTransport) IsConnected() bool {
	args := m.Called()
	if fn, ok := args.Get(0).(func() bool); ok {
		return fn()
	}
	return args.Bool(0)
}

func (m *MockTransport) Subscribe(characteristic string, handler device.NotificationHandler) error {
	return m.Called(characteristic, handler).Error(0)
}

func (m *MockTransport) Unsubscribe(characteristic string) error {
	return m.Called(characteristic).Error(0)
}

func (m *MockTransport) Write(characteristic string, data []byte) error {
	return m.Called(characteristic, data).Error(0)
}

func (m *MockTransport) Disconnect() error {
	return m.Called().Error(0)
}

func (m *MockTransport) OnDisconnect(callback func()) {
	m.Called(callback)
}
