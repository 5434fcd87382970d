package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"dogwalker/pkg/logx"
)

const cancelActionID = "dogwalker_cancel_task"

// SlackMessenger implements Messenger and runs the Socket Mode event loop
// that feeds an EventHandler.
type SlackMessenger struct {
	api    *slack.Client
	socket *socketmode.Client
	botID  string
	logger *logx.Logger
}

// NewSlackMessenger connects with a bot token and an app-level token (Socket
// Mode requires both).
func NewSlackMessenger(botToken, appToken string) (*SlackMessenger, error) {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))

	auth, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack auth test failed: %w", err)
	}

	return &SlackMessenger{
		api:    api,
		socket: socketmode.New(api),
		botID:  auth.UserID,
		logger: logx.NewLogger("slack"),
	}, nil
}

func (s *SlackMessenger) Post(ctx context.Context, channelID, threadTS, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := s.api.PostMessageContext(ctx, channelID, opts...); err != nil {
		return fmt.Errorf("failed to post to %s: %w", channelID, err)
	}
	return nil
}

func (s *SlackMessenger) PostTaskStarted(ctx context.Context, channelID, threadTS, text, taskID string) error {
	button := slack.NewButtonBlockElement(cancelActionID, taskID,
		slack.NewTextBlockObject(slack.PlainTextType, "Cancel task", false, false))
	button.Style = slack.StyleDanger

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
		slack.NewActionBlock("dogwalker_task_actions", button),
	}

	opts := []slack.MsgOption{slack.MsgOptionBlocks(blocks...)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := s.api.PostMessageContext(ctx, channelID, opts...); err != nil {
		return fmt.Errorf("failed to post task ack to %s: %w", channelID, err)
	}
	return nil
}

func (s *SlackMessenger) React(ctx context.Context, channelID, messageTS, emoji string) error {
	ref := slack.NewRefToMessage(channelID, messageTS)
	if err := s.api.AddReactionContext(ctx, emoji, ref); err != nil {
		// Duplicate reactions are fine.
		if strings.Contains(err.Error(), "already_reacted") {
			return nil
		}
		return fmt.Errorf("failed to react in %s: %w", channelID, err)
	}
	return nil
}

func (s *SlackMessenger) UserDisplayName(ctx context.Context, userID string) (string, error) {
	user, err := s.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to look up user %s: %w", userID, err)
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName, nil
	}
	return user.RealName, nil
}

// Run processes Socket Mode events until ctx is done, dispatching to the
// handler. Each event is handled in its own goroutine so a slow task launch
// does not stall the connection.
func (s *SlackMessenger) Run(ctx context.Context, handler EventHandler) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-s.socket.Events:
				if !ok {
					return
				}
				s.dispatch(ctx, handler, evt)
			}
		}
	}()

	return s.socket.RunContext(ctx)
}

func (s *SlackMessenger) dispatch(ctx context.Context, handler EventHandler, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		s.socket.Ack(*evt.Request)
		go s.dispatchAPIEvent(ctx, handler, apiEvent)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		s.socket.Ack(*evt.Request)
		go s.dispatchInteraction(ctx, handler, callback)

	case socketmode.EventTypeConnectionError:
		s.logger.Warn("Socket connection error: %v", evt.Data)
	}
}

func (s *SlackMessenger) dispatchAPIEvent(ctx context.Context, handler EventHandler, apiEvent slackevents.EventsAPIEvent) {
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		threadTS := ev.ThreadTimeStamp
		if threadTS == "" {
			threadTS = ev.TimeStamp
		}
		handler.HandleMention(ctx, Mention{
			ChannelID: ev.Channel,
			ThreadTS:  threadTS,
			MessageTS: ev.TimeStamp,
			UserID:    ev.User,
			Text:      s.stripMention(ev.Text),
		})

	case *slackevents.MessageEvent:
		handler.HandleThreadMessage(ctx, ThreadMessage{
			ChannelID: ev.Channel,
			ThreadTS:  ev.ThreadTimeStamp,
			MessageTS: ev.TimeStamp,
			UserID:    ev.User,
			Text:      ev.Text,
			IsBot:     ev.BotID != "" || ev.User == s.botID,
			IsEdit:    ev.SubType == "message_changed",
		})
	}
}

func (s *SlackMessenger) dispatchInteraction(ctx context.Context, handler EventHandler, callback slack.InteractionCallback) {
	if callback.Type != slack.InteractionTypeBlockActions {
		return
	}
	for _, action := range callback.ActionCallback.BlockActions {
		if action.ActionID != cancelActionID {
			continue
		}
		handler.HandleCancel(ctx, CancelAction{
			TaskID:    action.Value,
			UserID:    callback.User.ID,
			ChannelID: callback.Channel.ID,
		})
	}
}

// stripMention removes the leading bot mention from message text.
func (s *SlackMessenger) stripMention(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, fmt.Sprintf("<@%s>", s.botID), ""))
}
