package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockPrompter is a testify mock of selector.Prompter
type MockPrompter struct {
	mock.Mock
}

func (m *MockPrompter) Prompt(ctx context.Context, question string) (string, error) {
	args := m.Called(ctx, question)
	return args.String(0), args.Error(1)
}
