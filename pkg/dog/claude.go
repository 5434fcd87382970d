package dog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"dogwalker/pkg/logx"
)

const defaultMaxTokens = 8192

// systemPrompt frames every invocation. The trailer contract gives the
// runner structured results without a tool-use round trip.
const systemPrompt = `You are an autonomous coding agent working on a git repository.
Execute the requested phase of work directly in the working directory.

End every response with a JSON object on its own line in this exact shape:
{"summary": "<one paragraph>", "files": ["path", ...], "verdict": "pass|fail|", "no_changes": false}

Set "no_changes" to true only when the request requires no code changes at all.
Set "verdict" only when asked to review or test; leave it empty otherwise.`

// resultTrailer is the JSON contract at the end of each agent response.
type resultTrailer struct {
	Summary   string   `json:"summary"`
	Files     []string `json:"files"`
	Verdict   string   `json:"verdict"`
	NoChanges bool     `json:"no_changes"`
}

// ClaudeAgent executes phases through the Anthropic Messages API.
type ClaudeAgent struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *logx.Logger
}

func NewClaudeAgent(apiKey, model string) *ClaudeAgent {
	return &ClaudeAgent{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: defaultMaxTokens,
		logger:    logx.NewLogger("claude"),
	}
}

// Execute sends the phase prompt and parses the structured trailer.
func (a *ClaudeAgent) Execute(ctx context.Context, req Request) (*Result, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{{
			Text: systemPrompt,
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(a.framePrompt(req))),
		},
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude request failed for task %s: %w", req.TaskID, err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return nil, fmt.Errorf("claude returned empty response for task %s", req.TaskID)
	}

	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	result, err := parseResult(text.String())
	if err != nil {
		a.logger.Warn("Task %s response missing trailer, using raw output: %v", req.TaskID, err)
		return &Result{Output: text.String()}, nil
	}
	if result.NoChanges {
		return result, ErrNoChanges
	}
	return result, nil
}

func (a *ClaudeAgent) framePrompt(req Request) string {
	return fmt.Sprintf("Working directory: %s\nTask ID: %s\n\n%s", req.Workdir, req.TaskID, req.Prompt)
}

// parseResult extracts the JSON trailer from the last line that parses as
// one. Agents sometimes wrap the trailer in a code fence; strip those.
func parseResult(output string) (*Result, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		line = strings.TrimPrefix(line, "```json")
		line = strings.TrimPrefix(line, "```")
		line = strings.TrimSuffix(line, "```")
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var trailer resultTrailer
		if err := json.Unmarshal([]byte(line), &trailer); err != nil {
			continue
		}

		summary := trailer.Summary
		if summary == "" {
			summary = strings.TrimSpace(strings.Join(lines[:i], "\n"))
		}
		return &Result{
			Output:       summary,
			FilesTouched: trailer.Files,
			Verdict:      trailer.Verdict,
			NoChanges:    trailer.NoChanges,
		}, nil
	}
	return nil, fmt.Errorf("no result trailer found")
}
