package generation

import (
	"context"
	"errors"
	"sync"
)

// MockResponse configures a single response from the mock generator.
type MockResponse struct {
	Text       string
	TokensUsed int
	Err        error
}

// Mock is a scripted Generator for tests. Responses are returned in order;
// once exhausted, the last response repeats.
type Mock struct {
	mu        sync.Mutex
	responses []MockResponse
	callIndex int
	calls     []Request
	gate      chan struct{}
	started   chan Request
}

// NewMock creates a mock with a sequence of responses.
func NewMock(responses ...MockResponse) *Mock {
	return &Mock{
		responses: responses,
		started:   make(chan Request, 256),
	}
}

// Generate returns the next configured response. While the mock is held,
// it blocks until released or ctx is done.
func (m *Mock) Generate(ctx context.Context, req Request) (Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	gate := m.gate
	var resp MockResponse
	hasResp := len(m.responses) > 0
	if hasResp {
		idx := m.callIndex
		if idx >= len(m.responses) {
			idx = len(m.responses) - 1
		} else {
			m.callIndex++
		}
		resp = m.responses[idx]
	}
	m.mu.Unlock()

	select {
	case m.started <- req:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	if !hasResp {
		return Result{}, errors.New("mock: no responses configured")
	}
	if resp.Err != nil {
		return Result{}, resp.Err
	}
	return Result{Text: resp.Text, TokensUsed: resp.TokensUsed}, nil
}

// Hold makes subsequent Generate calls block until the returned release
// function is called.
func (m *Mock) Hold() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gate == gate {
				m.gate = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// Started delivers each request as its Generate call begins.
func (m *Mock) Started() <-chan Request {
	return m.started
}

// Calls returns all requests made to the mock.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// CallCount returns the number of Generate calls so far.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
