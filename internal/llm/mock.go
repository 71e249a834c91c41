package llm

import (
	"context"
	"sync/atomic"
)

// MockClient is a test double for Client.
type MockClient struct {
	ProviderName string
	Native       bool
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	calls atomic.Int64
}

func (m *MockClient) Name() string { return m.ProviderName }

func (m *MockClient) NativeTools() bool { return m.Native }

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.calls.Add(1)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &CompletionResponse{Content: "mock response"}, nil
}

// Calls returns how many times Complete was invoked.
func (m *MockClient) Calls() int { return int(m.calls.Load()) }
