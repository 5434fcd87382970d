package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// BranchExists checks the remote for the branch ref.
func (c *Client) BranchExists(ctx context.Context, branch string) (bool, error) {
	endpoint := fmt.Sprintf("repos/%s/git/ref/heads/%s", c.RepoPath(), branch)
	_, err := c.run(ctx, "api", endpoint)
	if err != nil {
		if strings.Contains(err.Error(), "Not Found") || strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, fmt.Errorf("failed to check branch %s: %w", branch, err)
	}
	return true, nil
}

// EnsureBranch creates the branch at the base branch head if missing.
// The draft PR needs a branch to point at before the agent pushes commits.
func (c *Client) EnsureBranch(ctx context.Context, branch string) error {
	exists, err := c.BranchExists(ctx, branch)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	var head struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	endpoint := fmt.Sprintf("repos/%s/git/ref/heads/%s", c.RepoPath(), c.base)
	if err := c.runJSON(ctx, &head, "api", endpoint); err != nil {
		return fmt.Errorf("failed to resolve %s head: %w", c.base, err)
	}

	_, err = c.run(ctx, "api", "-X", "POST",
		fmt.Sprintf("repos/%s/git/refs", c.RepoPath()),
		"-f", "ref=refs/heads/"+branch,
		"-f", "sha="+head.Object.SHA)
	if err != nil {
		return fmt.Errorf("failed to create branch %s: %w", branch, err)
	}

	c.logger.Info("Created branch %s at %s", branch, head.Object.SHA)
	return nil
}

// CreateDraft opens a draft PR. gh prints the PR URL on success; the number
// is the final path segment.
func (c *Client) CreateDraft(ctx context.Context, branch, title, body string) (*PRRef, error) {
	if branch == "" {
		return nil, fmt.Errorf("branch is required")
	}
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}

	output, err := c.run(ctx, "pr", "create",
		"--repo", c.RepoPath(),
		"--title", title,
		"--body", body,
		"--head", branch,
		"--base", c.base,
		"--draft")
	if err != nil {
		return nil, fmt.Errorf("failed to create draft PR for %s: %w", branch, err)
	}

	ref, err := ParsePRURL(strings.TrimSpace(string(output)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PR create output: %w", err)
	}

	c.logger.Info("Opened draft PR #%d for %s: %s", ref.Number, branch, ref.URL)
	return ref, nil
}

// UpdateBody replaces the PR description.
func (c *Client) UpdateBody(ctx context.Context, ref *PRRef, body string) error {
	_, err := c.run(ctx, "pr", "edit", strconv.Itoa(ref.Number),
		"--repo", c.RepoPath(),
		"--body", body)
	if err != nil {
		return fmt.Errorf("failed to update PR #%d body: %w", ref.Number, err)
	}
	return nil
}

// UpdateTitle replaces the PR title.
func (c *Client) UpdateTitle(ctx context.Context, ref *PRRef, title string) error {
	_, err := c.run(ctx, "pr", "edit", strconv.Itoa(ref.Number),
		"--repo", c.RepoPath(),
		"--title", title)
	if err != nil {
		return fmt.Errorf("failed to update PR #%d title: %w", ref.Number, err)
	}
	return nil
}

// MarkReady flips a draft PR to ready for review.
func (c *Client) MarkReady(ctx context.Context, ref *PRRef) error {
	_, err := c.run(ctx, "pr", "ready", strconv.Itoa(ref.Number),
		"--repo", c.RepoPath())
	if err != nil {
		return fmt.Errorf("failed to mark PR #%d ready: %w", ref.Number, err)
	}

	c.logger.Info("PR #%d marked ready for review", ref.Number)
	return nil
}

// GetPR retrieves basic PR state, used to recover after worker restarts.
func (c *Client) GetPR(ctx context.Context, branch string) (*PRRef, error) {
	var prs []PRRef
	if err := c.runJSON(ctx, &prs,
		"pr", "list",
		"--repo", c.RepoPath(),
		"--head", branch,
		"--json", "number,url"); err != nil {
		return nil, fmt.Errorf("failed to list PRs for branch %s: %w", branch, err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &prs[0], nil
}

// ParsePRURL extracts the PR number from a GitHub PR URL.
func ParsePRURL(url string) (*PRRef, error) {
	// Last line of gh output holds the URL; earlier lines may carry notices.
	lines := strings.Split(strings.TrimSpace(url), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])

	idx := strings.LastIndex(last, "/pull/")
	if idx < 0 {
		return nil, fmt.Errorf("not a PR URL: %q", last)
	}
	num, err := strconv.Atoi(last[idx+len("/pull/"):])
	if err != nil {
		return nil, fmt.Errorf("invalid PR number in %q: %w", last, err)
	}
	return &PRRef{Number: num, URL: last}, nil
}

func (r *PRRef) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}
