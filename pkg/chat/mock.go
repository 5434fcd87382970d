package chat

import (
	"context"
	"sync"
)

// PostedMessage is one recorded outbound message.
type PostedMessage struct {
	ChannelID string
	ThreadTS  string
	Text      string
	TaskID    string // set for task-started posts
}

// Reaction is one recorded emoji reaction.
type Reaction struct {
	ChannelID string
	MessageTS string
	Emoji     string
}

// MockMessenger records outbound traffic for tests.
type MockMessenger struct {
	mu        sync.Mutex
	Posts     []PostedMessage
	Reactions []Reaction
	Names     map[string]string
}

func NewMockMessenger() *MockMessenger {
	return &MockMessenger{Names: make(map[string]string)}
}

func (m *MockMessenger) Post(_ context.Context, channelID, threadTS, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Posts = append(m.Posts, PostedMessage{ChannelID: channelID, ThreadTS: threadTS, Text: text})
	return nil
}

func (m *MockMessenger) PostTaskStarted(_ context.Context, channelID, threadTS, text, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Posts = append(m.Posts, PostedMessage{ChannelID: channelID, ThreadTS: threadTS, Text: text, TaskID: taskID})
	return nil
}

func (m *MockMessenger) React(_ context.Context, channelID, messageTS, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reactions = append(m.Reactions, Reaction{ChannelID: channelID, MessageTS: messageTS, Emoji: emoji})
	return nil
}

func (m *MockMessenger) UserDisplayName(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.Names[userID]; ok {
		return name, nil
	}
	return "", nil
}

// LastPost returns the most recent post, or nil.
func (m *MockMessenger) LastPost() *PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Posts) == 0 {
		return nil
	}
	p := m.Posts[len(m.Posts)-1]
	return &p
}
