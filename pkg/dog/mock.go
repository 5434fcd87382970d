package dog

import (
	"context"
	"sync"
)

// MockAgent returns scripted results in order. Used by runner and listener
// tests to drive tasks through their phases without an API key.
type MockAgent struct {
	mu       sync.Mutex
	script   []ScriptedResult
	next     int
	Requests []Request
}

// ScriptedResult is one step of a mock script.
type ScriptedResult struct {
	Result *Result
	Err    error
}

func NewMockAgent(script ...ScriptedResult) *MockAgent {
	return &MockAgent{script: script}
}

// Push appends steps to the script.
func (m *MockAgent) Push(steps ...ScriptedResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, steps...)
}

// Execute pops the next scripted step, recording the request. When the
// script runs out it returns a generic success so loose tests keep moving.
func (m *MockAgent) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)

	if m.next >= len(m.script) {
		return &Result{Output: "done"}, nil
	}
	step := m.script[m.next]
	m.next++
	return step.Result, step.Err
}

// Calls returns how many times Execute has been invoked.
func (m *MockAgent) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
