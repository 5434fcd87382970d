package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dogwalker/pkg/coord"
	"dogwalker/pkg/proto"
)

func newTestRelay() (*Relay, *coord.MemoryStore) {
	store := coord.NewMemoryStore()
	return New(store, time.Hour, 5*time.Millisecond), store
}

func fb(user, text string) proto.FeedbackMessage {
	return proto.FeedbackMessage{
		UserID:    "U" + user,
		UserName:  user,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

func TestBindAndResolve(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, "1700000000.000100", "task-1"))

	taskID, err := r.TaskForThread(ctx, "1700000000.000100")
	require.NoError(t, err)
	assert.Equal(t, "task-1", taskID)

	thread, err := r.ThreadForTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "1700000000.000100", thread)
}

func TestBindIdempotentSameTask(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, "t1", "task-1"))
	require.NoError(t, r.Bind(ctx, "t1", "task-1"))
}

func TestBindConflict(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, "t1", "task-1"))
	err := r.Bind(ctx, "t1", "task-2")
	assert.ErrorIs(t, err, ErrAlreadyBound)

	// Original binding survives the failed rebind.
	taskID, err := r.TaskForThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", taskID)
}

func TestRecordMessageUnbound(t *testing.T) {
	r, _ := newTestRelay()

	_, err := r.RecordMessage(context.Background(), "nothread", fb("alice", "hello"))
	assert.ErrorIs(t, err, ErrUnbound)
}

func TestRecordAssignsSequence(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, "t1", "task-1"))

	seq, err := r.RecordMessage(ctx, "t1", fb("alice", "first"))
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	seq, err = r.RecordMessage(ctx, "t1", fb("bob", "second"))
	require.NoError(t, err)
	assert.Equal(t, 2, seq)
}

func TestPeekNewDrainsOnce(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, "t1", "task-1"))
	_, err := r.RecordMessage(ctx, "t1", fb("alice", "use tailwind"))
	require.NoError(t, err)
	_, err = r.RecordMessage(ctx, "t1", fb("bob", "and dark mode"))
	require.NoError(t, err)

	msgs, err := r.PeekNew(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "use tailwind", msgs[0].Text)
	assert.Equal(t, 1, msgs[0].Seq)
	assert.Equal(t, "and dark mode", msgs[1].Text)
	assert.Equal(t, 2, msgs[1].Seq)

	// Second drain with nothing new returns empty without moving anything.
	msgs, err = r.PeekNew(ctx, "task-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// A later message is picked up exactly once.
	_, err = r.RecordMessage(ctx, "t1", fb("alice", "one more"))
	require.NoError(t, err)

	msgs, err = r.PeekNew(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "one more", msgs[0].Text)
	assert.Equal(t, 3, msgs[0].Seq)
}

func TestAwaitNextDeliversSingle(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, "t1", "task-1"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = r.RecordMessage(ctx, "t1", fb("alice", "answer one"))
		_, _ = r.RecordMessage(ctx, "t1", fb("alice", "answer two"))
	}()

	msg, err := r.AwaitNext(ctx, "task-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "answer one", msg.Text)

	// Only one message was consumed; the second is still pending.
	msgs, err := r.PeekNew(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "answer two", msgs[0].Text)
}

func TestAwaitNextTimeout(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, "t1", "task-1"))

	start := time.Now()
	_, err := r.AwaitNext(ctx, "task-1", 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAllMessagesIgnoresPointer(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, "t1", "task-1"))
	_, err := r.RecordMessage(ctx, "t1", fb("alice", "first"))
	require.NoError(t, err)

	_, err = r.PeekNew(ctx, "task-1")
	require.NoError(t, err)

	all, err := r.AllMessages(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "first", all[0].Text)
}

func TestFormatForPrompt(t *testing.T) {
	assert.Empty(t, FormatForPrompt(nil))

	out := FormatForPrompt([]proto.FeedbackMessage{
		fb("alice", "use tailwind for the styles"),
		fb("bob", "add a dark mode toggle"),
	})
	assert.Contains(t, out, "HUMAN FEEDBACK")
	assert.Contains(t, out, "alice: use tailwind for the styles")
	assert.Contains(t, out, "bob: add a dark mode toggle")
}

func TestRenderForPREscapesMarkdown(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, "t1", "task-1"))
	_, err := r.RecordMessage(ctx, "t1", fb("alice", "rename *all* the_things"))
	require.NoError(t, err)

	out, err := r.RenderForPR(ctx, "task-1")
	require.NoError(t, err)
	assert.Contains(t, out, `- **alice:**`)
	assert.Contains(t, out, `\*all\*`)
	assert.Contains(t, out, `the\_things`)
	assert.False(t, strings.Contains(out, "*all*"))
}

func TestRenderForPREmpty(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, "t1", "task-1"))

	out, err := r.RenderForPR(ctx, "task-1")
	require.NoError(t, err)
	assert.Empty(t, out)
}
