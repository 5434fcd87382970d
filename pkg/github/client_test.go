package github

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRepoPath(t *testing.T) {
	owner, repo, err := SplitRepoPath("acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", repo)

	owner, repo, err = SplitRepoPath("acme/widgets.git")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", repo)

	_, _, err = SplitRepoPath("just-a-name")
	assert.Error(t, err)

	_, _, err = SplitRepoPath("acme/")
	assert.Error(t, err)
}

func TestParsePRURL(t *testing.T) {
	ref, err := ParsePRURL("https://github.com/acme/widgets/pull/42")
	require.NoError(t, err)
	assert.Equal(t, 42, ref.Number)
	assert.Equal(t, "https://github.com/acme/widgets/pull/42", ref.URL)
}

func TestParsePRURLWithNoticeLines(t *testing.T) {
	out := "Warning: 1 uncommitted change\nCreating pull request for dogwalker/rex/fix-login into main\nhttps://github.com/acme/widgets/pull/7"

	ref, err := ParsePRURL(out)
	require.NoError(t, err)
	assert.Equal(t, 7, ref.Number)
}

func TestParsePRURLRejectsGarbage(t *testing.T) {
	_, err := ParsePRURL("gh: command not found")
	assert.Error(t, err)

	_, err = ParsePRURL("https://github.com/acme/widgets/pull/notanumber")
	assert.Error(t, err)
}

func TestBaseBranch(t *testing.T) {
	c := NewClient("acme", "widgets")
	assert.Equal(t, "main", c.BaseBranch())

	dev := c.WithBase("develop")
	assert.Equal(t, "develop", dev.BaseBranch())
	assert.Equal(t, "main", c.BaseBranch())

	// An empty override keeps the current base.
	assert.Equal(t, "develop", dev.WithBase("").BaseBranch())
}

func TestWithTimeout(t *testing.T) {
	c := NewClient("acme", "widgets").WithBase("develop")
	fast := c.WithTimeout(time.Second)

	assert.Equal(t, time.Second, fast.timeout)
	assert.Equal(t, "develop", fast.BaseBranch())
	assert.NotEqual(t, time.Second, c.timeout)
}

func TestMockPublisherGetPR(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	ref, err := m.GetPR(ctx, "dogwalker/rex/fix-login")
	require.NoError(t, err)
	assert.Nil(t, ref)

	created, err := m.CreateDraft(ctx, "dogwalker/rex/fix-login", "t", "b")
	require.NoError(t, err)

	found, err := m.GetPR(ctx, "dogwalker/rex/fix-login")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.Number, found.Number)
}

func TestRepoPath(t *testing.T) {
	c := NewClient("acme", "widgets")
	assert.Equal(t, "acme/widgets", c.RepoPath())
}

func TestMockPublisherLifecycle(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	require.NoError(t, m.EnsureBranch(ctx, "dogwalker/rex/fix-login"))
	exists, err := m.BranchExists(ctx, "dogwalker/rex/fix-login")
	require.NoError(t, err)
	assert.True(t, exists)

	ref, err := m.CreateDraft(ctx, "dogwalker/rex/fix-login", "[Dogwalker] Fix login", "in progress")
	require.NoError(t, err)

	require.NoError(t, m.UpdateBody(ctx, ref, "final body"))
	require.NoError(t, m.MarkReady(ctx, ref))

	pr := m.PR(ref.Number)
	require.NotNil(t, pr)
	assert.Equal(t, "final body", pr.Body)
	assert.True(t, pr.Ready)
}
