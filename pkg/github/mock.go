package github

import (
	"context"
	"fmt"
	"sync"
)

// MockPublisher records PR lifecycle calls for tests.
type MockPublisher struct {
	mu       sync.Mutex
	nextPR   int
	Branches map[string]bool
	Drafts   map[int]*MockPR

	// FailCreate makes CreateDraft return this error once, then clear it.
	FailCreate error
}

// MockPR is the recorded state of one mock pull request.
type MockPR struct {
	Branch string
	Title  string
	Body   string
	Ready  bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		nextPR:   100,
		Branches: make(map[string]bool),
		Drafts:   make(map[int]*MockPR),
	}
}

func (m *MockPublisher) EnsureBranch(_ context.Context, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Branches[branch] = true
	return nil
}

func (m *MockPublisher) BranchExists(_ context.Context, branch string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Branches[branch], nil
}

func (m *MockPublisher) CreateDraft(_ context.Context, branch, title, body string) (*PRRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreate != nil {
		err := m.FailCreate
		m.FailCreate = nil
		return nil, err
	}

	m.nextPR++
	m.Drafts[m.nextPR] = &MockPR{Branch: branch, Title: title, Body: body}
	return &PRRef{
		Number: m.nextPR,
		URL:    fmt.Sprintf("https://github.com/acme/widgets/pull/%d", m.nextPR),
	}, nil
}

func (m *MockPublisher) GetPR(_ context.Context, branch string) (*PRRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for number, pr := range m.Drafts {
		if pr.Branch == branch {
			return &PRRef{
				Number: number,
				URL:    fmt.Sprintf("https://github.com/acme/widgets/pull/%d", number),
			}, nil
		}
	}
	return nil, nil
}

func (m *MockPublisher) UpdateBody(_ context.Context, ref *PRRef, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.Drafts[ref.Number]
	if !ok {
		return fmt.Errorf("no such PR #%d", ref.Number)
	}
	pr.Body = body
	return nil
}

func (m *MockPublisher) UpdateTitle(_ context.Context, ref *PRRef, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.Drafts[ref.Number]
	if !ok {
		return fmt.Errorf("no such PR #%d", ref.Number)
	}
	pr.Title = title
	return nil
}

func (m *MockPublisher) MarkReady(_ context.Context, ref *PRRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.Drafts[ref.Number]
	if !ok {
		return fmt.Errorf("no such PR #%d", ref.Number)
	}
	pr.Ready = true
	return nil
}

// PR returns the recorded state for a PR number.
func (m *MockPublisher) PR(number int) *MockPR {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Drafts[number]
}
