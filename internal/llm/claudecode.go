package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Veraticus/statement-copilot/internal/extract"
)

// claudeCodeClient drives a locally installed claude CLI in print mode,
// through the same command runner the PDF tools use.
type claudeCodeClient struct {
	runner  extract.Runner
	model   string
	cliPath string
}

func newClaudeCodeClient(cfg Config) (Client, error) {
	cliPath := cfg.ClaudeCodePath
	if cliPath == "" {
		cliPath = "claude"
	}
	if _, err := exec.LookPath(cliPath); err != nil {
		return nil, fmt.Errorf("claude CLI not found at %s: ensure @anthropic-ai/claude-code is installed", cliPath)
	}

	model := cfg.Model
	if model == "" {
		model = "sonnet"
	}
	return &claudeCodeClient{runner: extract.ExecRunner{}, model: model, cliPath: cliPath}, nil
}

func (c *claudeCodeClient) args(prompt Prompt) []string {
	args := []string{
		"-p", prompt.User,
		"--output-format", "json",
		"--model", c.model,
		"--max-turns", "1",
	}
	if prompt.System != "" {
		args = append(args, "--append-system-prompt", prompt.System)
	}
	return args
}

// Complete runs a single non-interactive turn bounded by ctx.
func (c *claudeCodeClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	res, err := c.runner.Run(ctx, c.cliPath, c.args(prompt)...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(string(res.Stderr))
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		return "", fmt.Errorf("claude code error: %s", msg)
	}
	return parseClaudeCodeOutput(res.Stdout)
}

type claudeCodeResult struct {
	Type      string  `json:"type"`
	Result    string  `json:"result"`
	SessionID string  `json:"session_id"`
	CostUSD   float64 `json:"total_cost_usd"`
	IsError   bool    `json:"is_error"`
}

func parseClaudeCodeOutput(out []byte) (string, error) {
	var res claudeCodeResult
	if err := json.Unmarshal(out, &res); err != nil {
		// Older CLI versions print plain text.
		text := strings.TrimSpace(string(out))
		if text == "" {
			return "", ErrEmptyResponse
		}
		return text, nil
	}

	if res.IsError {
		return "", fmt.Errorf("claude code error in response: %s", res.Result)
	}
	if strings.TrimSpace(res.Result) == "" {
		return "", ErrEmptyResponse
	}
	return res.Result, nil
}
