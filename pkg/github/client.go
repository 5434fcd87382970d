// Package github provides the pull request lifecycle via the gh CLI.
// A task's PR opens as a draft as soon as the branch exists and flips to
// ready only when every phase has completed.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"dogwalker/pkg/logx"
)

// DefaultBranch is the default target branch for pull requests.
const DefaultBranch = "main"

// PRRef identifies a pull request.
type PRRef struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Publisher is the PR surface the task runner depends on.
type Publisher interface {
	// EnsureBranch creates the branch from the base branch head if it
	// does not already exist.
	EnsureBranch(ctx context.Context, branch string) error

	// BranchExists reports whether the branch exists on the remote.
	BranchExists(ctx context.Context, branch string) (bool, error)

	// CreateDraft opens a draft PR from branch into the base branch.
	CreateDraft(ctx context.Context, branch, title, body string) (*PRRef, error)

	// GetPR returns the open PR for branch, or nil if none exists. Lets a
	// redelivered task pick up the draft its first delivery opened.
	GetPR(ctx context.Context, branch string) (*PRRef, error)

	// UpdateBody replaces the PR description.
	UpdateBody(ctx context.Context, ref *PRRef, body string) error

	// UpdateTitle replaces the PR title.
	UpdateTitle(ctx context.Context, ref *PRRef, title string) error

	// MarkReady flips the draft to ready for review.
	MarkReady(ctx context.Context, ref *PRRef) error
}

// Client implements Publisher with the gh CLI.
type Client struct {
	owner   string
	repo    string
	base    string
	logger  *logx.Logger
	timeout time.Duration
}

func NewClient(owner, repo string) *Client {
	return &Client{
		owner:   owner,
		repo:    repo,
		base:    DefaultBranch,
		logger:  logx.NewLogger("github"),
		timeout: 30 * time.Second,
	}
}

// NewClientFromRepoPath creates a client from an "owner/repo" string.
func NewClientFromRepoPath(path string) (*Client, error) {
	owner, repo, err := SplitRepoPath(path)
	if err != nil {
		return nil, err
	}
	return NewClient(owner, repo), nil
}

// WithTimeout returns a copy of the client with the given per-call timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	clone := *c
	clone.timeout = timeout
	return &clone
}

// WithBase returns a copy of the client targeting the given base branch.
// Task branches are cut from it and PRs merge back into it.
func (c *Client) WithBase(branch string) *Client {
	clone := *c
	if branch != "" {
		clone.base = branch
	}
	return &clone
}

// BaseBranch returns the branch PRs target.
func (c *Client) BaseBranch() string {
	return c.base
}

// RepoPath returns the owner/repo path.
func (c *Client) RepoPath() string {
	return fmt.Sprintf("%s/%s", c.owner, c.repo)
}

// run executes a gh command and returns its combined output.
func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug("Executing: gh %s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, "gh", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Debug("Command failed: %v, output: %s", err, string(output))
		return nil, fmt.Errorf("gh command failed: %w\nOutput: %s", err, string(output))
	}

	return output, nil
}

// runJSON executes a gh command and unmarshals the JSON response.
func (c *Client) runJSON(ctx context.Context, result interface{}, args ...string) error {
	output, err := c.run(ctx, args...)
	if err != nil {
		return err
	}
	if len(output) == 0 {
		return nil
	}
	if err := json.Unmarshal(output, result); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w\nOutput: %s", err, string(output))
	}
	return nil
}

// SplitRepoPath parses an "owner/repo" string.
func SplitRepoPath(path string) (owner, repo string, err error) {
	parts := strings.Split(strings.TrimSuffix(path, ".git"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo path %q, expected owner/repo", path)
	}
	return parts[0], parts[1], nil
}

// CheckAuth verifies that gh CLI is authenticated.
func CheckAuth(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "gh", "auth", "status")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("gh auth check failed: %w\nOutput: %s", err, string(output))
	}
	return nil
}
