package planner

import (
	"context"

	"github.com/thamizhelango/adk-controller/internal/registry"
)

// ScriptedAction is one pre-scripted planner turn for MockPlanner.
type ScriptedAction struct {
	Action Action
	Tool   string
	Args   map[string]any
	Answer string
}

// MockPlanner replays a fixed sequence of decisions without calling an LLM,
// used by engine tests. Once the script is exhausted it returns a finish
// decision so a test that runs past its scripted actions still terminates.
type MockPlanner struct {
	Actions   []ScriptedAction
	callCount int

	// Sleep, if non-nil, is invoked before producing each decision — used to
	// exercise the Run Engine's timeout path deterministically.
	Sleep func()
}

// Plan returns the next scripted decision.
func (m *MockPlanner) Plan(ctx context.Context, goal, systemPrompt string, history []HistoryEntry, tools []registry.View, taskContext map[string]any) (Decision, error) {
	if m.Sleep != nil {
		m.Sleep()
	}
	if m.callCount >= len(m.Actions) {
		return Decision{
			Action:      ActionFinish,
			Thought:     "No more actions",
			FinalAnswer: "Completed all predefined actions",
		}, nil
	}
	a := m.Actions[m.callCount]
	m.callCount++
	if a.Action == "" {
		a.Action = ActionFinish
	}
	return Decision{
		Action:      a.Action,
		ToolName:    a.Tool,
		ToolArgs:    a.Args,
		FinalAnswer: a.Answer,
	}, nil
}
