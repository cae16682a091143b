package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"genesis/pkg/api"
)

const (
	defaultExecTimeout = 15 * time.Second
	maxExecTimeout     = 60 * time.Second
	execCostPerRun     = 0.02
)

// ExecCacheWriter is how ExecutePythonTool hands generated files to the
// exec-cache tier filemanager.Manager reads back from (spec §4.2's
// "exec_*" prefix tier), keyed by the temp_id deliver_file later receives.
// Matches filemanager.RedisExecCache.PutExecFile's signature.
type ExecCacheWriter interface {
	PutExecFile(ctx context.Context, tempID string, content []byte, meta map[string]string, ttl time.Duration) error
}

// execCacheTTL mirrors the original's 30-minute exec-output cache window
// ("Files cached for 30 minutes - deliver promptly").
const execCacheTTL = 30 * time.Minute

// ExecutePythonTool implements the execute_python tool (spec §6): run
// sandboxed Python, confined to a per-call scratch workdir. Grounded on
// manifold's internal/sandbox (WithBaseDir-scoped workdir, SanitizeArg path
// confinement) generalized from "tools that accept a path argument" to
// "the one script file this tool itself writes and executes".
type ExecutePythonTool struct {
	cache   ExecCacheWriter
	workdir string
	python  string
}

func NewExecutePythonTool(cache ExecCacheWriter, workdir, pythonBin string) *ExecutePythonTool {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	return &ExecutePythonTool{cache: cache, workdir: workdir, python: pythonBin}
}

func (t *ExecutePythonTool) Name() string { return "execute_python" }

func (t *ExecutePythonTool) Description() string {
	return "Execute a Python snippet in a sandboxed scratch directory and return its stdout/stderr plus any generated files."
}

func (t *ExecutePythonTool) Parameters() map[string]any {
	return map[string]any{
		"code":         map[string]any{"type": "string", "description": "Python source to execute"},
		"requirements": map[string]any{"type": "string", "description": "Optional pip requirements, one per line"},
		"timeout":      map[string]any{"type": "integer", "description": "Timeout in seconds, capped at 60"},
	}
}

func (t *ExecutePythonTool) RequiredParameters() []string { return []string{"code"} }

func (t *ExecutePythonTool) IsPaid() bool { return true }

func (t *ExecutePythonTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	code := argString(args, "code")
	if code == "" {
		return errResult("code is required"), nil
	}

	timeout := time.Duration(argFloat(args, "timeout", defaultExecTimeout.Seconds())) * time.Second
	if timeout <= 0 || timeout > maxExecTimeout {
		timeout = maxExecTimeout
	}

	runDir, err := os.MkdirTemp(t.workdir, "exec-")
	if err != nil {
		return nil, fmt.Errorf("execute_python: create scratch dir: %w", err)
	}
	defer os.RemoveAll(runDir)

	scriptPath := filepath.Join(runDir, "main.py")
	if err := os.WriteFile(scriptPath, []byte(code), 0o600); err != nil {
		return nil, fmt.Errorf("execute_python: write script: %w", err)
	}

	if reqs := argString(args, "requirements"); reqs != "" {
		if err := t.installRequirements(ctx, runDir, reqs); err != nil {
			return textResult(fmt.Sprintf("requirement install failed: %v", err), 0, nil), nil
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, t.python, "main.py")
	cmd.Dir = runDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	elapsed := time.Since(started).Seconds()

	generated := t.collectGeneratedFiles(ctx, runDir)

	details := map[string]any{
		"_duration":       elapsed,
		"execution_time":  elapsed,
		"generated_files": generated,
		"cost_usd":        execCostPerRun,
	}

	text := stdout.String()
	if runErr != nil {
		details["stderr"] = stderr.String() + "\n" + runErr.Error()
		text += "\n[exit error: " + runErr.Error() + "]"
	} else if stderr.Len() > 0 {
		details["stderr"] = stderr.String()
	}

	return &api.ToolResult{
		Content: []api.ContentBlock{{Type: "text", Text: text}},
		Details: details,
	}, nil
}

func (t *ExecutePythonTool) installRequirements(ctx context.Context, runDir, requirements string) error {
	reqPath := filepath.Join(runDir, "requirements.txt")
	if err := os.WriteFile(reqPath, []byte(requirements), 0o600); err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, "pip", "install", "-q", "-r", "requirements.txt")
	cmd.Dir = runDir
	return cmd.Run()
}

// collectGeneratedFiles walks the scratch dir for anything the script wrote
// besides its own source and registers each in the exec-cache tier under a
// fresh exec_ temp id. It deliberately does NOT push bytes into the tool
// loop's file-delivery path: the system prompt's own workflow ("YOU DECIDE
// whether to deliver based on ... preview") makes delivery an explicit
// second step via deliver_file, not an automatic side effect of running code.
func (t *ExecutePythonTool) collectGeneratedFiles(ctx context.Context, runDir string) []map[string]any {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil
	}

	var generated []map[string]any
	for _, e := range entries {
		if e.IsDir() || e.Name() == "main.py" || e.Name() == "requirements.txt" {
			continue
		}
		path := filepath.Join(runDir, e.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		tempID := "exec_" + uuid.NewString()
		if t.cache != nil {
			if err := t.cache.PutExecFile(ctx, tempID, content, map[string]string{
				"filename": e.Name(),
			}, execCacheTTL); err != nil {
				continue
			}
		}
		generated = append(generated, map[string]any{
			"temp_id":  tempID,
			"filename": e.Name(),
			"size":     len(content),
			"preview":  fmt.Sprintf("%s, %d bytes", e.Name(), len(content)),
		})
	}
	return generated
}
