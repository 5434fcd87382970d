// Package chat abstracts the chat workspace where tasks are requested and
// followed. The listener consumes inbound events through EventHandler; the
// rest of the system posts outbound updates through Messenger.
package chat

import "context"

// Messenger posts into the workspace.
type Messenger interface {
	// Post sends a message into a channel thread. An empty threadTS starts
	// a new thread.
	Post(ctx context.Context, channelID, threadTS, text string) error

	// PostTaskStarted sends the task acknowledgment with a cancel button
	// carrying the task ID.
	PostTaskStarted(ctx context.Context, channelID, threadTS, text, taskID string) error

	// React adds an emoji reaction to a message.
	React(ctx context.Context, channelID, messageTS, emoji string) error

	// UserDisplayName resolves a user ID to a display name.
	UserDisplayName(ctx context.Context, userID string) (string, error)
}

// Mention is a message that named the bot, stripped of the mention itself.
type Mention struct {
	ChannelID string
	ThreadTS  string // thread root; equals MessageTS for top-level messages
	MessageTS string
	UserID    string
	Text      string
}

// ThreadMessage is a follow-up message in some thread.
type ThreadMessage struct {
	ChannelID string
	ThreadTS  string
	MessageTS string
	UserID    string
	Text      string
	IsBot     bool
	IsEdit    bool
}

// CancelAction is a press of a task's cancel button.
type CancelAction struct {
	TaskID    string
	UserID    string
	ChannelID string
}

// EventHandler receives inbound workspace events. The listener implements
// this; transports call it from their event loops.
type EventHandler interface {
	HandleMention(ctx context.Context, m Mention)
	HandleThreadMessage(ctx context.Context, m ThreadMessage)
	HandleCancel(ctx context.Context, a CancelAction)
}
