package registry

import "encoding/json"

func schema(props, required string) json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":` + props + `,"required":` + required + `}`)
}

// SeedBuiltins registers the standard tool set every controller ships with.
// File, directory, and network access route through the sandbox executor,
// never directly against the controller's own host.
func SeedBuiltins(r *Registry) error {
	defs := []Definition{
		{
			Name:          "read_file",
			Description:   "Read the contents of a file",
			Parameters:    schema(`{"path":{"type":"string","description":"Path to the file to read"}}`, `["path"]`),
			ExecutionType: ExecutionInlineCode,
			Payload:       "read_file",
		},
		{
			Name:          "write_file",
			Description:   "Write content to a file",
			Parameters:    schema(`{"path":{"type":"string","description":"Path to the file to write"},"content":{"type":"string","description":"Content to write"}}`, `["path","content"]`),
			ExecutionType: ExecutionInlineCode,
			Payload:       "write_file",
		},
		{
			Name:          "list_directory",
			Description:   "List files and directories in a path",
			Parameters:    schema(`{"path":{"type":"string","description":"Directory path to list","default":"."}}`, `[]`),
			ExecutionType: ExecutionInlineCode,
			Payload:       "list_directory",
		},
		{
			Name:          "shell",
			Description:   "Execute a shell command. Use with caution.",
			Parameters:    schema(`{"command":{"type":"string","description":"Shell command to execute"}}`, `["command"]`),
			ExecutionType: ExecutionShellTemplate,
			Payload:       "{command}",
		},
		{
			Name:          "eval_expression",
			Description:   "Evaluate an arithmetic expression and return the result (no boolean or comparison operators)",
			Parameters:    schema(`{"expression":{"type":"string","description":"Expression to evaluate"}}`, `["expression"]`),
			ExecutionType: ExecutionInlineCode,
			Payload:       "eval_expression",
		},
		{
			Name:            "http_get",
			Description:     "Make an HTTP GET request",
			Parameters:      schema(`{"url":{"type":"string","description":"URL to request"}}`, `["url"]`),
			ExecutionType:   ExecutionHTTPRequest,
			RequiresNetwork: true,
			HTTP:            HTTPPayload{Method: "GET", URLTemplate: "{url}"},
		},
		{
			Name:          "search_files",
			Description:   "Search for a pattern in files",
			Parameters:    schema(`{"pattern":{"type":"string","description":"Pattern to search for"},"path":{"type":"string","description":"Directory to search in","default":"."},"file_pattern":{"type":"string","description":"File pattern to match (e.g. '*.go')","default":"*"}}`, `["pattern"]`),
			ExecutionType: ExecutionInlineCode,
			Payload:       "search_files",
		},
		{
			Name:          "calculator",
			Description:   "Perform mathematical calculations",
			Parameters:    schema(`{"expression":{"type":"string","description":"Mathematical expression (e.g. '2 + 2 * 3')"}}`, `["expression"]`),
			ExecutionType: ExecutionInlineCode,
			Payload:       "calculator",
		},
	}

	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
