// Package orchestrator implements the agentic loop: it assembles the
// prompt context, calls the LLM, parses the control envelope, executes
// tool actions and iterates until the model declares itself done or the
// loop budget runs out.
package orchestrator

// Envelope is the control object the model must emit each iteration.
type Envelope struct {
	Reasoning   string   `json:"reasoning"`
	Actions     []Action `json:"actions"`
	FinalAnswer string   `json:"final_answer"`
	Continue    bool     `json:"continue"`
}

// Action is one tool invocation request.
type Action struct {
	Type      string `json:"type"`
	Tool      string `json:"tool"`
	Arguments any    `json:"arguments"`
	Reasoning string `json:"reasoning"`

	// Meta collects unrecognized top-level keys from the action object;
	// the registry promotes them into the normalized arguments
	// (flattened-argument shape).
	Meta map[string]any `json:"-"`
}

// Empty reports whether the envelope carries none of the control
// fields. Such a response triggers a format-retry iteration.
func (e *Envelope) Empty() bool {
	return len(e.Actions) == 0 && e.FinalAnswer == "" && !e.Continue
}

// ToolResult is one executed action's record, fed back to the model on
// the next iteration.
type ToolResult struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Result    map[string]any `json:"result"`
}
