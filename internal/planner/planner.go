// Package planner implements the Planner Client: it serializes agent state
// into a chat-completions request, calls the LLM, and parses the reply into
// a tagged Decision.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/thamizhelango/adk-controller/internal/identity"
	"github.com/thamizhelango/adk-controller/internal/registry"
)

// Action is the tagged decision the planner emits each turn.
type Action string

const (
	ActionToolCall Action = "tool_call"
	ActionFinish   Action = "finish"
)

// Decision is one parsed planner reply.
type Decision struct {
	Action      Action
	Thought     string
	ToolName    string
	ToolArgs    map[string]any
	FinalAnswer string
	TokensUsed  int64
}

// HistoryEntry is the minimal shape the planner needs from a run's history
// to replay prior turns; it is built by the engine from the persisted
// status history and is independent of the CRD's storage representation.
type HistoryEntry struct {
	Role    string // "assistant" or "tool"
	Action  Action
	Content string
	Tool    string
	Args    map[string]any
	Success bool
	Output  string
	Error   string
}

// Planner is the interface the Run Engine drives; Client and MockPlanner
// both implement it.
type Planner interface {
	Plan(ctx context.Context, goal, systemPrompt string, history []HistoryEntry, tools []registry.View, taskContext map[string]any) (Decision, error)
}

// Client is the LLM-backed Planner implementation.
type Client struct {
	oai   openai.Client
	model string
}

// New builds a Client pointed at an OpenAI-compatible chat-completions
// endpoint. idProvider may be nil, in which case the client talks to
// baseURL over a plain (non-mTLS) transport.
func New(baseURL, model string, idProvider *identity.Provider) *Client {
	opts := []option.RequestOption{option.WithBaseURL(baseURL), option.WithAPIKey("not-needed")}
	if idProvider != nil {
		opts = append(opts, option.WithHTTPClient(&http.Client{
			Transport: &http.Transport{TLSClientConfig: idProvider.TLSConfig("")},
		}))
	}
	return &Client{
		oai:   openai.NewClient(opts...),
		model: model,
	}
}

// Plan builds the message sequence, invokes the LLM, and parses the reply.
func (c *Client) Plan(ctx context.Context, goal, systemPrompt string, history []HistoryEntry, tools []registry.View, taskContext map[string]any) (Decision, error) {
	messages := buildMessages(goal, systemPrompt, history, tools, taskContext)

	resp, err := c.oai.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(0.1),
		MaxTokens:   openai.Int(1024),
	})
	if err != nil {
		return Decision{}, fmt.Errorf("planner: chat completion: %w", err)
	}

	var tokensUsed int64
	if resp.Usage.TotalTokens != 0 {
		tokensUsed = resp.Usage.TotalTokens
	}
	content := resp.Choices[0].Message.Content
	return parseReply(content, tokensUsed), nil
}

func buildMessages(goal, systemPrompt string, history []HistoryEntry, tools []registry.View, taskContext map[string]any) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(fullSystemPrompt(systemPrompt, tools)),
	}

	if len(taskContext) > 0 {
		ctxJSON, _ := json.MarshalIndent(taskContext, "", "  ")
		messages = append(messages, openai.UserMessage(fmt.Sprintf("Context:\n```json\n%s\n```", ctxJSON)))
	}

	messages = append(messages, openai.UserMessage(fmt.Sprintf("Goal: %s", goal)))

	for _, entry := range history {
		switch entry.Role {
		case "assistant":
			content := entry.Content
			if entry.Action == ActionToolCall {
				encoded, _ := json.Marshal(map[string]any{
					"action":  "tool_call",
					"thought": entry.Content,
					"tool":    entry.Tool,
					"args":    entry.Args,
				})
				content = string(encoded)
			}
			messages = append(messages, openai.AssistantMessage(content))
		case "tool":
			result := map[string]any{"tool": entry.Tool, "success": entry.Success}
			if entry.Success {
				result["output"] = truncate(entry.Output, 5000)
			} else {
				errMsg := entry.Error
				if errMsg == "" {
					errMsg = "Unknown error"
				}
				result["error"] = errMsg
			}
			resultJSON, _ := json.MarshalIndent(result, "", "  ")
			messages = append(messages, openai.UserMessage(fmt.Sprintf("Tool result:\n```json\n%s\n```", resultJSON)))
		}
	}

	return messages
}

func fullSystemPrompt(systemPrompt string, tools []registry.View) string {
	return fmt.Sprintf(`%s

## Available Tools

%s

## Response Format

You must respond with a JSON object in one of these formats:

For tool calls:
`+"```json"+`
{
    "action": "tool_call",
    "thought": "Your reasoning for this action",
    "tool": "tool_name",
    "args": {"arg1": "value1", "arg2": "value2"}
}
`+"```"+`

When the task is complete:
`+"```json"+`
{
    "action": "finish",
    "thought": "Summary of what was accomplished",
    "answer": "Final answer or result"
}
`+"```"+`

Always respond with valid JSON only, no other text.
`, systemPrompt, formatTools(tools))
}

func formatTools(tools []registry.View) string {
	if len(tools) == 0 {
		return "No tools available."
	}
	var b strings.Builder
	for i, t := range tools {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "### %s\n%s\n\nParameters:\n```json\n%s\n```\n", t.Name, t.Description, t.Parameters)
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// parseReply implements the reply-parsing contract, including the
// deliberate recovery rule for non-JSON replies.
func parseReply(content string, tokensUsed int64) Decision {
	content = strings.TrimSpace(content)
	content = stripCodeFence(content)

	var data map[string]any
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return Decision{
			Action:      ActionFinish,
			Thought:     "Failed to parse response, treating as final answer",
			FinalAnswer: content,
			TokensUsed:  tokensUsed,
		}
	}

	action, _ := data["action"].(string)
	thought, _ := data["thought"].(string)

	if action == string(ActionToolCall) {
		toolName, _ := data["tool"].(string)
		args, _ := data["args"].(map[string]any)
		if args == nil {
			args = map[string]any{}
		}
		return Decision{
			Action:     ActionToolCall,
			Thought:    thought,
			ToolName:   toolName,
			ToolArgs:   args,
			TokensUsed: tokensUsed,
		}
	}

	answer, ok := data["answer"].(string)
	if !ok {
		answer = thought
	}
	return Decision{
		Action:      ActionFinish,
		Thought:     thought,
		FinalAnswer: answer,
		TokensUsed:  tokensUsed,
	}
}

func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
