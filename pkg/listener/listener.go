// Package listener turns chat events into tasks. A mention of the bot picks
// the least-busy dog, binds the thread, and enqueues a task spec; follow-up
// thread messages become feedback; cancel button presses flag the task.
package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dogwalker/pkg/cancel"
	"dogwalker/pkg/chat"
	"dogwalker/pkg/kennel"
	"dogwalker/pkg/logx"
	"dogwalker/pkg/metrics"
	"dogwalker/pkg/proto"
	"dogwalker/pkg/queue"
	"dogwalker/pkg/relay"
)

const (
	branchPrefix  = "dogwalker"
	maxSlugLen    = 40
	reactionSeen  = "eyes"
	usageHintText = "Mention me with a task description and I'll put a dog on it. " +
		"Example: `@dogwalker fix the flaky login test`. " +
		"Reply in the task thread to steer the work, or press Cancel to stop it."
)

// Service wires chat events to the rest of the system. It implements
// chat.EventHandler.
type Service struct {
	selector  *kennel.Selector
	relay     *relay.Relay
	canceller *cancel.Controller
	queue     queue.TaskQueue
	messenger chat.Messenger
	redactor  *chat.Redactor
	logger    *logx.Logger
}

func NewService(selector *kennel.Selector, r *relay.Relay, c *cancel.Controller, q queue.TaskQueue, m chat.Messenger) *Service {
	return &Service{
		selector:  selector,
		relay:     r,
		canceller: c,
		queue:     q,
		messenger: m,
		redactor:  chat.NewRedactor(),
		logger:    logx.NewLogger("listener"),
	}
}

// HandleMention launches a task for a mention. An empty mention gets a usage
// hint instead.
func (s *Service) HandleMention(ctx context.Context, m chat.Mention) {
	description := strings.TrimSpace(m.Text)
	if description == "" {
		s.post(ctx, m.ChannelID, m.ThreadTS, usageHintText)
		return
	}
	if clean, redacted := s.redactor.Redact(description); redacted {
		s.logger.Warn("Redacted credential-like content from task description in %s", m.ChannelID)
		description = clean
	}

	taskID := s.taskID(m)
	thread := threadKey(m.ChannelID, m.ThreadTS)

	dog, err := s.selector.Assign(ctx, taskID)
	if err != nil {
		s.logger.Error("Failed to assign a dog: %v", err)
		s.post(ctx, m.ChannelID, m.ThreadTS,
			"Sorry, no dogs are available right now. Try again in a moment.")
		return
	}

	if err := s.relay.Bind(ctx, thread, taskID); err != nil {
		// The assignment already bumped the dog's counter; release it.
		if ferr := s.selector.MarkFree(ctx, dog.Name, taskID); ferr != nil {
			s.logger.Error("Failed to release %s after bind failure: %v", dog.Name, ferr)
		}
		if errors.Is(err, relay.ErrAlreadyBound) {
			s.post(ctx, m.ChannelID, m.ThreadTS,
				"A task is already running in this thread. Wait for it to finish or cancel it first.")
			return
		}
		s.logger.Error("Failed to bind thread %s: %v", thread, err)
		s.post(ctx, m.ChannelID, m.ThreadTS, "Something went wrong starting the task.")
		return
	}

	requester, err := s.messenger.UserDisplayName(ctx, m.UserID)
	if err != nil || requester == "" {
		requester = "Unknown User"
	}

	spec := &proto.TaskSpec{
		MsgID:           uuid.NewString(),
		TaskID:          taskID,
		TaskDescription: description,
		BranchName:      branchName(dog.Name, description),
		DogName:         dog.Name,
		DogDisplayName:  dog.DisplayName,
		DogEmail:        dog.Email,
		ThreadTS:        m.ThreadTS,
		ChannelID:       m.ChannelID,
		RequesterName:   requester,
		StartTime:       time.Now().UTC(),
	}

	if err := s.queue.Enqueue(ctx, spec); err != nil {
		s.logger.Error("Failed to enqueue task %s: %v", taskID, err)
		if ferr := s.selector.MarkFree(ctx, dog.Name, taskID); ferr != nil {
			s.logger.Error("Failed to release %s after enqueue failure: %v", dog.Name, ferr)
		}
		s.post(ctx, m.ChannelID, m.ThreadTS, "Something went wrong starting the task.")
		return
	}

	metrics.TasksStarted.Inc()
	s.logger.Info("Task %s assigned to %s: %s", taskID, dog.Name, description)

	ack := fmt.Sprintf(":dog: *%s* is on it! Branch `%s`.\nReply in this thread to steer the work.",
		dog.DisplayName, spec.BranchName)
	if err := s.messenger.PostTaskStarted(ctx, m.ChannelID, m.ThreadTS, ack, taskID); err != nil {
		s.logger.Error("Failed to post task ack for %s: %v", taskID, err)
	}
}

// HandleThreadMessage records a human follow-up as feedback for whatever
// task owns the thread. Messages outside bound threads, bot messages, and
// edits are dropped quietly.
func (s *Service) HandleThreadMessage(ctx context.Context, m chat.ThreadMessage) {
	if m.ThreadTS == "" || m.IsBot || m.IsEdit || strings.TrimSpace(m.Text) == "" {
		return
	}

	name, err := s.messenger.UserDisplayName(ctx, m.UserID)
	if err != nil || name == "" {
		name = "Unknown User"
	}

	text, redacted := s.redactor.Redact(m.Text)
	if redacted {
		s.logger.Warn("Redacted credential-like content from feedback in thread %s", m.ThreadTS)
	}

	thread := threadKey(m.ChannelID, m.ThreadTS)
	_, err = s.relay.RecordMessage(ctx, thread, proto.FeedbackMessage{
		UserID:    m.UserID,
		UserName:  name,
		Text:      text,
		Timestamp: time.Now().UTC(),
		MessageTS: m.MessageTS,
	})
	if err != nil {
		if errors.Is(err, relay.ErrUnbound) {
			s.logger.Debug("Dropping message in unbound thread %s", thread)
			return
		}
		s.logger.Error("Failed to record feedback in thread %s: %v", thread, err)
		return
	}

	if err := s.messenger.React(ctx, m.ChannelID, m.MessageTS, reactionSeen); err != nil {
		s.logger.Warn("Failed to react in %s: %v", m.ChannelID, err)
	}
}

// HandleCancel flags the task and confirms in the thread.
func (s *Service) HandleCancel(ctx context.Context, a chat.CancelAction) {
	name, err := s.messenger.UserDisplayName(ctx, a.UserID)
	if err != nil || name == "" {
		name = "Unknown User"
	}

	if err := s.canceller.RequestCancel(ctx, a.TaskID, a.UserID, name); err != nil {
		s.logger.Error("Failed to flag task %s for cancellation: %v", a.TaskID, err)
		return
	}

	thread, err := s.relay.ThreadForTask(ctx, a.TaskID)
	channelID, threadTS := a.ChannelID, ""
	if err == nil {
		_, threadTS = splitThreadKey(thread)
	}
	s.post(ctx, channelID, threadTS,
		fmt.Sprintf("Cancellation requested by %s. The task will stop at its next checkpoint.", name))
}

func (s *Service) post(ctx context.Context, channelID, threadTS, text string) {
	if err := s.messenger.Post(ctx, channelID, threadTS, text); err != nil {
		s.logger.Error("Failed to post to %s: %v", channelID, err)
	}
}

// taskID derives a stable task identity from the triggering message so a
// redelivered chat event cannot start a second task.
func (s *Service) taskID(m chat.Mention) string {
	return m.ChannelID + "_" + m.MessageTS
}

func threadKey(channelID, threadTS string) string {
	return channelID + ":" + threadTS
}

func splitThreadKey(key string) (channelID, threadTS string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// branchName builds dogwalker/{dog}/{slug} from the task description.
func branchName(dogName, description string) string {
	return fmt.Sprintf("%s/%s/%s", branchPrefix, dogName, slugify(description))
}

func slugify(text string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "task"
	}
	return slug
}
