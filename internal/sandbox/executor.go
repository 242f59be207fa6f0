// Package sandbox implements isolated tool execution: the Sandbox Executor
// component that the Run Engine calls between planner turns.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/go-logr/logr"
	resty "github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/thamizhelango/adk-controller/internal/config"
	"github.com/thamizhelango/adk-controller/internal/identity"
	"github.com/thamizhelango/adk-controller/internal/registry"
	"github.com/thamizhelango/adk-controller/internal/sandbox/inline"
)

// Result is the structured outcome of one tool invocation.
type Result struct {
	Success       bool
	Output        string
	Error         string
	ExitCode      int
	ElapsedMillis int64
}

// Executor runs one tool invocation in isolation and returns a Result. It is
// stateless across calls: every invocation owns and cleans up its own scratch
// state.
type Executor struct {
	registry *registry.Registry
	cfg      config.Config
	docker   client.APIClient
	http     *resty.Client
	log      logr.Logger
}

// New builds an Executor. docker may be nil; when UseDockerSandbox is true and
// docker is nil (dial failed at startup) that is treated as a configuration
// error by the caller, not a silent fallback. idProvider may be nil, in which
// case http-request tool calls go out over a plain (non-mTLS) transport.
func New(cfg config.Config, reg *registry.Registry, dockerClient client.APIClient, idProvider *identity.Provider, log logr.Logger) *Executor {
	httpClient := resty.New()
	if idProvider != nil {
		httpClient.SetTLSClientConfig(idProvider.TLSConfig(""))
	}
	return &Executor{
		registry: reg,
		cfg:      cfg,
		docker:   dockerClient,
		http:     httpClient,
		log:      log.WithName("sandbox"),
	}
}

// Execute runs toolName with args, enforcing timeoutSeconds.
func (e *Executor) Execute(ctx context.Context, toolName string, args map[string]any, timeoutSeconds int) Result {
	start := time.Now()
	tool := e.registry.Get(toolName)
	if tool == nil {
		return Result{Success: false, Error: fmt.Sprintf("Unknown tool: %s", toolName)}
	}

	if err := tool.ValidateArgs(args); err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	var result Result
	switch tool.ExecutionType {
	case registry.ExecutionInlineCode:
		result = e.executeInline(ctx, tool, args, timeoutSeconds)
	case registry.ExecutionShellTemplate:
		result = e.executeShell(ctx, tool, args, timeoutSeconds)
	case registry.ExecutionHTTPRequest:
		result = e.executeHTTP(ctx, tool, args)
	default:
		result = Result{Success: false, Error: fmt.Sprintf("Unsupported execution type: %s", tool.ExecutionType)}
	}
	result.ElapsedMillis = time.Since(start).Milliseconds()
	return result
}

func (e *Executor) executeInline(ctx context.Context, tool *registry.Definition, args map[string]any, timeoutSeconds int) Result {
	if e.docker == nil {
		return e.executeInlineLocal(ctx, tool, args, timeoutSeconds)
	}
	return e.executeInlineContainer(ctx, tool, args)
}

func (e *Executor) executeInlineLocal(ctx context.Context, tool *registry.Definition, args map[string]any, timeoutSeconds int) Result {
	e.log.Info("executing tool locally, container runtime unavailable", "tool", tool.Name)

	fn, ok := inline.Table[tool.Payload]
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("no local implementation for tool: %s", tool.Name)}
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(args)
		done <- outcome{v, err}
	}()

	select {
	case <-ctx.Done():
		return Result{Success: false, Error: fmt.Sprintf("Execution timed out after %ds", timeoutSeconds)}
	case o := <-done:
		if o.err != nil {
			return Result{Success: false, Error: o.err.Error()}
		}
		out, _ := json.Marshal(o.value)
		return Result{Success: true, Output: string(out)}
	}
}

// driverScript is the terminal-JSON-line contract every sandbox image's
// entrypoint for an inline-code tool is expected to honor.
const driverScript = `
import json, sys, importlib
args = json.load(open("/workspace/args.json"))
try:
    mod = importlib.import_module(sys.argv[1])
    result = mod.execute(**args)
    print(json.dumps({"success": True, "result": result}))
except Exception as e:
    print(json.dumps({"success": False, "error": str(e)}))
    sys.exit(1)
`

func (e *Executor) executeInlineContainer(ctx context.Context, tool *registry.Definition, args map[string]any) Result {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	output, exitCode, err := e.runContainer(ctx, tool, []string{"python", "/workspace/runner.py", tool.Payload}, map[string]string{
		"runner.py": driverScript,
		"args.json": string(argsJSON),
	})
	if err != nil {
		return Result{Success: false, Error: err.Error(), ExitCode: exitCode}
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	last := lines[len(lines)-1]
	var parsed struct {
		Success bool            `json:"success"`
		Result  json.RawMessage `json:"result"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal([]byte(last), &parsed); err != nil {
		return Result{Success: true, Output: output}
	}
	if !parsed.Success {
		if parsed.Error == "" {
			parsed.Error = "Unknown error"
		}
		return Result{Success: false, Error: parsed.Error}
	}
	return Result{Success: true, Output: string(parsed.Result)}
}

func (e *Executor) executeShell(ctx context.Context, tool *registry.Definition, args map[string]any, timeoutSeconds int) Result {
	command := substitutePlaceholders(tool.Payload, args)

	if e.docker == nil {
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()
		if ctx.Err() == context.DeadlineExceeded {
			return Result{Success: false, Error: fmt.Sprintf("Execution timed out after %ds", timeoutSeconds)}
		}
		if err != nil {
			exitCode := -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			}
			return Result{Success: false, Output: stdout.String(), Error: stderr.String(), ExitCode: exitCode}
		}
		return Result{Success: true, Output: stdout.String()}
	}

	output, exitCode, err := e.runContainer(ctx, tool, []string{"sh", "-c", command}, nil)
	if err != nil {
		return Result{Success: false, Error: err.Error(), ExitCode: exitCode}
	}
	return Result{Success: true, Output: output}
}

func (e *Executor) executeHTTP(ctx context.Context, tool *registry.Definition, args map[string]any) Result {
	method := strings.ToUpper(tool.HTTP.Method)
	url := substitutePlaceholders(tool.HTTP.URLTemplate, args)

	req := e.http.R().SetContext(ctx)
	var resp *resty.Response
	var err error

	switch method {
	case http.MethodGet, http.MethodDelete:
		for k, v := range args {
			req.SetQueryParam(k, fmt.Sprint(v))
		}
		if method == http.MethodGet {
			resp, err = req.Get(url)
		} else {
			resp, err = req.Delete(url)
		}
	case http.MethodPost:
		resp, err = req.SetBody(args).Post(url)
	case http.MethodPut:
		resp, err = req.SetBody(args).Put(url)
	default:
		return Result{Success: false, Error: fmt.Sprintf("Unsupported HTTP method: %s", method)}
	}

	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{
		Success:  resp.IsSuccess(),
		Output:   string(resp.Body()),
		ExitCode: resp.StatusCode(),
	}
}

// runContainer launches the sandbox image with the given command and extra
// files mounted read-only at /workspace, returning its stdout. On a non-zero
// exit the stderr text (or the exit status) becomes the returned error.
func (e *Executor) runContainer(ctx context.Context, tool *registry.Definition, cmd []string, files map[string]string) (string, int, error) {
	scratch, err := os.MkdirTemp("", "sandbox-*")
	if err != nil {
		return "", 0, err
	}
	defer os.RemoveAll(scratch)

	for name, content := range files {
		if err := os.WriteFile(scratch+"/"+name, []byte(content), 0o644); err != nil {
			return "", 0, err
		}
	}

	cpuQuota, _ := strconv.ParseFloat(e.cfg.SandboxCPULimit, 64)

	resp, err := e.docker.ContainerCreate(ctx, &container.Config{
		Image:        e.cfg.SandboxImage,
		Cmd:          cmd,
		WorkingDir:   "/workspace",
		AttachStdout: true,
		AttachStderr: true,
	}, &container.HostConfig{
		Binds:          []string{scratch + ":/workspace:ro"},
		NetworkMode:    networkMode(tool.RequiresNetwork),
		AutoRemove:     true,
		Resources: container.Resources{
			Memory:     parseMemoryLimit(e.cfg.SandboxMemoryLimit),
			CPUPeriod:  100000,
			CPUQuota:   int64(cpuQuota * 100000),
		},
	}, nil, nil, "sandbox-"+uuid.NewString())
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", 0, fmt.Errorf("Sandbox image not found: %s", e.cfg.SandboxImage)
		}
		return "", 0, fmt.Errorf("Docker API error: %w", err)
	}

	if err := e.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", 0, fmt.Errorf("Docker API error: %w", err)
	}

	statusCh, errCh := e.docker.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return "", 0, fmt.Errorf("Docker API error: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	out, err := e.docker.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", exitCode, fmt.Errorf("Docker API error: %w", err)
	}
	defer out.Close()

	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, out)

	if exitCode != 0 {
		msg := stderr.String()
		if msg == "" {
			msg = fmt.Sprintf("container exited with status %d", exitCode)
		}
		return "", exitCode, fmt.Errorf("Container error: %s", msg)
	}

	return stdout.String(), exitCode, nil
}

func networkMode(requiresNetwork bool) container.NetworkMode {
	if requiresNetwork {
		return "default"
	}
	return "none"
}

func parseMemoryLimit(s string) int64 {
	s = strings.TrimSpace(s)
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "Gi"):
		mult = 1 << 30
		s = strings.TrimSuffix(s, "Gi")
	case strings.HasSuffix(s, "Mi"):
		mult = 1 << 20
		s = strings.TrimSuffix(s, "Mi")
	case strings.HasSuffix(s, "Ki"):
		mult = 1 << 10
		s = strings.TrimSuffix(s, "Ki")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n * mult
}

// substitutePlaceholders replaces every {key} in template with the string
// form of args[key].
func substitutePlaceholders(template string, args map[string]any) string {
	out := template
	for k, v := range args {
		out = strings.ReplaceAll(out, "{"+k+"}", fmt.Sprint(v))
	}
	return out
}

