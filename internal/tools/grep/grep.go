// Package grep implements a sandboxed content search tool. It prefers a
// ripgrep binary and falls back to an in-process directory walk.
package grep

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agenticmail/toolgate/internal/domain/guard"
	"github.com/agenticmail/toolgate/internal/domain/policy"
	"github.com/agenticmail/toolgate/internal/domain/tool"
	"github.com/agenticmail/toolgate/internal/tools/proc"
)

const (
	defaultMaxResults = 100
	// walkDeadline bounds the in-process fallback well under the pipeline
	// execution timeout so partial results return instead of a timeout.
	walkDeadline = 10 * time.Second
	maxLineLen   = 500
)

// skipDirs are directory names the fallback walk never descends into.
var skipDirs = map[string]struct{}{
	"node_modules": {},
	"vendor":       {},
	"target":       {},
	"dist":         {},
	"build":        {},
	"__pycache__":  {},
}

var inputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"pattern": {"type": "string", "description": "Regular expression to search for"},
		"path": {"type": "string", "description": "File or directory to search; defaults to the workspace root"},
		"glob": {"type": "string", "description": "Filename glob filter, e.g. *.go"},
		"maxResults": {"type": "integer", "minimum": 1, "description": "Maximum matches to return (default 100)"},
		"context": {"type": "integer", "minimum": 0, "description": "Context lines around each match"},
		"caseInsensitive": {"type": "boolean"},
		"filesOnly": {"type": "boolean", "description": "Return matching file paths only"}
	},
	"required": ["pattern"]
}`)

// Tool searches file contents under the sandbox.
type Tool struct {
	root     string
	sandbox  *guard.PathSandbox
	policy   policy.PathSandboxPolicy
	lookPath func(string) (string, error)
}

// Option configures the Tool.
type Option func(*Tool)

// WithLookPath replaces binary discovery, mainly for tests.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(t *Tool) { t.lookPath = fn }
}

// New creates the grep tool rooted at root. The sandbox policy is applied
// directly before any filesystem access.
func New(root string, pol policy.PathSandboxPolicy, opts ...Option) *Tool {
	t := &Tool{
		root:     root,
		sandbox:  guard.NewPathSandbox(),
		policy:   pol,
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Name() string        { return "grep" }
func (t *Tool) Description() string { return "Search file contents with a regular expression" }

func (t *Tool) InputSchema() json.RawMessage { return inputSchema }

func (t *Tool) SideEffects() []tool.SideEffect {
	return []tool.SideEffect{tool.SideEffectFilesystem}
}

// request holds the decoded parameters.
type request struct {
	pattern         string
	path            string
	glob            string
	maxResults      int
	contextLines    int
	caseInsensitive bool
	filesOnly       bool
}

// Execute runs the search. Sandbox violations and invalid patterns return
// user-facing text results rather than errors, so the caller sees a normal
// completed invocation.
func (t *Tool) Execute(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
	req := t.decode(params)
	if req.pattern == "" {
		return tool.TextResult("pattern is required"), nil
	}

	if err := t.sandbox.Validate(req.path, t.policy); err != nil {
		return tool.TextResult(fmt.Sprintf("access denied: %v", err)), nil
	}

	expr := req.pattern
	if req.caseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return tool.TextResult(fmt.Sprintf("invalid pattern: %v", err)), nil
	}

	if rg, lookErr := t.lookPath("rg"); lookErr == nil {
		return t.searchRipgrep(ctx, rg, req)
	}
	return t.searchWalk(ctx, re, req)
}

func (t *Tool) decode(params map[string]interface{}) request {
	req := request{
		path:       t.root,
		maxResults: defaultMaxResults,
	}
	if v, ok := params["pattern"].(string); ok {
		req.pattern = v
	}
	if v, ok := params["path"].(string); ok && v != "" {
		req.path = v
	}
	if v, ok := params["glob"].(string); ok {
		req.glob = v
	}
	if v, ok := params["maxResults"].(float64); ok && v >= 1 {
		req.maxResults = int(v)
	}
	if v, ok := params["context"].(float64); ok && v > 0 {
		req.contextLines = int(v)
	}
	if v, ok := params["caseInsensitive"].(bool); ok {
		req.caseInsensitive = v
	}
	if v, ok := params["filesOnly"].(bool); ok {
		req.filesOnly = v
	}
	return req
}

// searchRipgrep shells out to rg. The subprocess runs in its own process
// group and dies with the context.
func (t *Tool) searchRipgrep(ctx context.Context, rgPath string, req request) (*tool.Result, error) {
	args := []string{"--no-heading", "--line-number", "--color", "never",
		"--max-count", strconv.Itoa(req.maxResults)}
	if req.filesOnly {
		args = []string{"-l"}
	}
	if req.caseInsensitive {
		args = append(args, "-i")
	}
	if req.glob != "" {
		args = append(args, "--glob", req.glob)
	}
	if req.contextLines > 0 && !req.filesOnly {
		args = append(args, "-C", strconv.Itoa(req.contextLines))
	}
	// Pattern passed after "--" so patterns starting with "-" stay patterns.
	args = append(args, "--", req.pattern, req.path)

	cmd := exec.CommandContext(ctx, rgPath, args...)
	proc.SetGroupKill(cmd)

	out, err := cmd.Output()
	if err != nil {
		// Exit code 1 means no matches.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return tool.TextResult("no matches found"), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("search command failed: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	kept, matchCount, truncated := capMatches(lines, req)
	if truncated {
		kept = append(kept, fmt.Sprintf("... truncated to %d results", req.maxResults))
	}
	result := tool.TextResult(strings.Join(kept, "\n"))
	result.Details = map[string]interface{}{"matches": matchCount}
	return result, nil
}

// rgMatchLine recognizes "path:line:text" match output. Context lines use
// dash separators and group separators are a bare "--", so neither counts
// as a match.
var rgMatchLine = regexp.MustCompile(`^.+?:[0-9]+:`)

// capMatches truncates rg output to maxResults matches. Context and
// separator lines ride along with their match but are never counted.
// --max-count bounds rg per file, so the global cap is applied here.
func capMatches(lines []string, req request) (kept []string, matchCount int, truncated bool) {
	for _, line := range lines {
		isMatch := req.filesOnly || rgMatchLine.MatchString(line)
		if isMatch && matchCount >= req.maxResults {
			truncated = true
			break
		}
		kept = append(kept, line)
		if isMatch {
			matchCount++
		}
	}
	return kept, matchCount, truncated
}

// searchWalk is the in-process fallback: a bounded recursive scan that
// skips dot-directories and dependency caches.
func (t *Tool) searchWalk(ctx context.Context, re *regexp.Regexp, req request) (*tool.Result, error) {
	deadline := time.Now().Add(walkDeadline)
	var matches []string
	partial := false

	err := filepath.WalkDir(req.path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			partial = true
			return filepath.SkipAll
		}
		if d.IsDir() {
			name := d.Name()
			if path != req.path {
				if strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				if _, skip := skipDirs[name]; skip {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if req.glob != "" {
			if ok, _ := filepath.Match(req.glob, d.Name()); !ok {
				return nil
			}
		}

		fileMatches, scanErr := scanFile(path, re, req, req.maxResults-len(matches))
		if scanErr != nil {
			return nil
		}
		matches = append(matches, fileMatches...)
		if len(matches) >= req.maxResults {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search walk failed: %w", err)
	}

	if len(matches) == 0 {
		if partial {
			return tool.TextResult("no matches found (search incomplete: deadline reached)"), nil
		}
		return tool.TextResult("no matches found"), nil
	}

	text := strings.Join(matches, "\n")
	if partial {
		text += "\n... search incomplete: deadline reached, results are partial"
	}
	result := tool.TextResult(text)
	result.Details = map[string]interface{}{
		"matches": len(matches),
		"partial": partial,
	}
	return result, nil
}

// scanFile scans one file line by line. Line numbers are 1-based.
func scanFile(path string, re *regexp.Regexp, req request, budget int) ([]string, error) {
	if budget <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		if req.filesOnly {
			return []string{path}, nil
		}
		if len(line) > maxLineLen {
			line = line[:maxLineLen] + "..."
		}
		out = append(out, fmt.Sprintf("%s:%d:%s", path, lineNo, line))
		if len(out) >= budget {
			break
		}
	}
	// Binary or oversized lines abort the scan; return what we have.
	return out, nil
}

// Compile-time interface verification.
var _ tool.Tool = (*Tool)(nil)
