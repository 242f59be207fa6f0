package planner

import (
	"encoding/json"
	"testing"
)

func TestParseReply_ToolCall(t *testing.T) {
	content := `{"action":"tool_call","thought":"need a file","tool":"read_file","args":{"path":"a.txt"}}`
	d := parseReply(content, 42)

	if d.Action != ActionToolCall {
		t.Fatalf("expected tool_call, got %s", d.Action)
	}
	if d.ToolName != "read_file" {
		t.Errorf("expected tool read_file, got %s", d.ToolName)
	}
	if d.ToolArgs["path"] != "a.txt" {
		t.Errorf("expected path arg a.txt, got %v", d.ToolArgs["path"])
	}
	if d.TokensUsed != 42 {
		t.Errorf("expected tokens 42, got %d", d.TokensUsed)
	}
}

func TestParseReply_Finish(t *testing.T) {
	content := `{"action":"finish","thought":"done","answer":"all good"}`
	d := parseReply(content, 0)

	if d.Action != ActionFinish {
		t.Fatalf("expected finish, got %s", d.Action)
	}
	if d.FinalAnswer != "all good" {
		t.Errorf("expected answer 'all good', got %q", d.FinalAnswer)
	}
}

func TestParseReply_MarkdownFenced(t *testing.T) {
	content := "```json\n{\"action\":\"tool_call\",\"thought\":\"x\",\"tool\":\"calculator\",\"args\":{\"expression\":\"2+2\"}}\n```"
	d := parseReply(content, 0)

	if d.Action != ActionToolCall || d.ToolName != "calculator" {
		t.Fatalf("expected calculator tool_call, got %+v", d)
	}
}

func TestParseReply_PlainTextFallsBackToFinish(t *testing.T) {
	d := parseReply("hello world", 7)

	if d.Action != ActionFinish {
		t.Fatalf("expected finish recovery, got %s", d.Action)
	}
	if d.FinalAnswer != "hello world" {
		t.Errorf("expected raw content as final answer, got %q", d.FinalAnswer)
	}
}

func TestParseReply_ToolCallMissingArgsDefaultsEmpty(t *testing.T) {
	content := `{"action":"tool_call","thought":"x","tool":"shell"}`
	d := parseReply(content, 0)

	if d.ToolArgs == nil {
		t.Fatal("expected non-nil empty args map")
	}
	if len(d.ToolArgs) != 0 {
		t.Errorf("expected empty args, got %v", d.ToolArgs)
	}
}

func TestRoundTrip_ToolCallSerialization(t *testing.T) {
	original := HistoryEntry{
		Role:   "assistant",
		Action: ActionToolCall,
		Tool:   "read_file",
		Args:   map[string]any{"path": "a.txt"},
	}

	messages := buildMessages("goal", "prompt", []HistoryEntry{original}, nil, nil)
	// The assistant tool_call entry is the last message appended; its wire
	// form carries the re-serialized decision as a string content field.
	last := messages[len(messages)-1]
	raw, err := json.Marshal(last)
	if err != nil {
		t.Fatalf("marshaling replayed message: %v", err)
	}
	var wire struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("decoding replayed message %s: %v", raw, err)
	}
	if wire.Role != "assistant" {
		t.Fatalf("expected assistant message, got role %q", wire.Role)
	}

	d := parseReply(wire.Content, 0)
	if d.ToolName != original.Tool {
		t.Errorf("expected tool %s, got %s", original.Tool, d.ToolName)
	}
	if d.ToolArgs["path"] != original.Args["path"] {
		t.Errorf("expected path %v, got %v", original.Args["path"], d.ToolArgs["path"])
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": "{\"a\":1}",
		"{\"a\":1}":               "{\"a\":1}",
	}
	for in, want := range cases {
		if got := stripCodeFence(in); got != want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
