// Package inline is the compiled-in symbol table that the sandbox executor's
// inline-code execution path dispatches into, both for the in-process
// fallback and as the payload a sandbox image's driver is expected to run.
package inline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// Func is one inline-code tool entry point. It receives decoded args and
// returns a JSON-marshalable result or an error.
type Func func(args map[string]any) (any, error)

// Table maps a ToolDefinition's Payload symbol name to its implementation.
var Table = map[string]Func{
	"read_file":       readFile,
	"write_file":      writeFile,
	"list_directory":  listDirectory,
	"eval_expression": evalExpression,
	"search_files":    searchFiles,
	"calculator":      calculator,
}

func stringArg(args map[string]any, key, fallback string) (string, error) {
	v, ok := args[key]
	if !ok {
		if fallback != "" || key == "path" {
			return fallback, nil
		}
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func readFile(args map[string]any) (any, error) {
	path, err := stringArg(args, "path", "")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func writeFile(args map[string]any) (any, error) {
	path, err := stringArg(args, "path", "")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content", "")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Written %d bytes to %s", len(content), path), nil
}

func listDirectory(args map[string]any) (any, error) {
	path, err := stringArg(args, "path", ".")
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		kind := "file"
		var size any
		if e.IsDir() {
			kind = "directory"
		} else if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		out = append(out, map[string]any{"name": e.Name(), "type": kind, "size": size})
	}
	return out, nil
}

func searchFiles(args map[string]any) (any, error) {
	pattern, err := stringArg(args, "pattern", "")
	if err != nil {
		return nil, err
	}
	root, err := stringArg(args, "path", ".")
	if err != nil {
		return nil, err
	}
	filePattern, err := stringArg(args, "file_pattern", "*")
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	type hit struct {
		File    string `json:"file"`
		Line    int    `json:"line"`
		Content string `json:"content"`
	}
	var hits []hit

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(filePattern, d.Name()); !ok {
			return nil
		}
		if len(hits) >= 100 {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		lineNum := 0
		for _, line := range splitLines(string(data)) {
			lineNum++
			if re.MatchString(line) {
				hits = append(hits, hit{File: path, Line: lineNum, Content: trimSpace(line)})
				if len(hits) >= 100 {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
