package llm

import (
	"context"
	"sync"
)

// Mock is a scripted Client for tests. Responses are consumed in order;
// when the script runs out the last entry repeats.
type Mock struct {
	mu        sync.Mutex
	Responses []MockResponse
	Calls     int
}

// MockResponse is one scripted turn.
type MockResponse struct {
	Result Result
	Err    error
}

func (m *Mock) TranslateExtract(_ context.Context, _ Request) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.Calls
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.Calls++
	if idx < 0 {
		return Result{}, nil
	}
	r := m.Responses[idx]
	return r.Result, r.Err
}

// CallCount returns how many times TranslateExtract ran.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}
