// Package integration exercises the full request path: HTTP API, execution
// pipeline, file-backed policy source and real tools against a temp
// workspace. Unit-level behavior is covered in the package tests; here the
// pieces run wired together the way the serve command wires them.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	inhttp "github.com/agenticmail/toolgate/internal/adapter/inbound/http"
	"github.com/agenticmail/toolgate/internal/adapter/outbound/memory"
	"github.com/agenticmail/toolgate/internal/adapter/outbound/policyfile"
	"github.com/agenticmail/toolgate/internal/adapter/outbound/prom"
	"github.com/agenticmail/toolgate/internal/domain/tool"
	"github.com/agenticmail/toolgate/internal/pipeline"
	"github.com/agenticmail/toolgate/internal/service"
	"github.com/agenticmail/toolgate/internal/tools/grep"
	"github.com/agenticmail/toolgate/internal/tools/shell"
)

// policyDoc is the policy file used by the fixture. The workspace path is
// substituted at runtime.
const policyDoc = `
default:
  security:
    pathSandbox:
      enabled: true
      allowedDirs: [%q]
    commandSanitizer:
      enabled: true
  middleware:
    rateLimit:
      enabled: true
      overrides:
        shell: {maxTokens: 2, refillPerSecond: 0.01}
agents:
  restricted-agent:
    commandSanitizer:
      enabled: true
      mode: allowlist
      allowedCommands: [echo]
`

type fixture struct {
	srv     *httptest.Server
	service *service.AuditService
	store   *memory.AuditStore
	root    string
}

// newFixture boots the stack: temp workspace with seed files, a policy
// file source, memory adapters, the audit worker and the HTTP server.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.txt"), "remember the milk\nneedle here\n")
	writeFile(t, filepath.Join(root, "sub", "more.txt"), "another needle\n")

	policyPath := filepath.Join(t.TempDir(), "policy.yaml")
	writeFile(t, policyPath, fmt.Sprintf(policyDoc, root))
	source, err := policyfile.Load(policyPath)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.NewAuditStoreWithWriter(io.Discard)
	auditSvc := service.NewAuditService(store, logger,
		service.WithFlushInterval(10*time.Millisecond))
	auditSvc.Start(context.Background())

	limiter := memory.NewRateLimiter()
	brk := memory.NewCircuitBreaker()
	reg := prometheus.NewRegistry()
	sink := prom.NewTelemetrySink(reg)

	def, err := source.OrgDefault(context.Background())
	if err != nil {
		t.Fatalf("org default: %v", err)
	}

	registry := service.NewToolRegistry()
	mustRegister(t, registry, grep.New(root, def.Security.PathSandbox))
	mustRegister(t, registry, shell.New(root, def.Security.CommandSanitizer))

	executor := pipeline.NewExecutor(source, limiter, brk, auditSvc, sink, logger)

	handlers := inhttp.NewHandlers(executor, registry, brk, sink, store, inhttp.NewMetrics(reg))
	server := inhttp.NewServer(handlers, inhttp.WithLogger(logger), inhttp.WithRegistry(reg))

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(auditSvc.Stop)

	return &fixture{srv: srv, service: auditSvc, store: store, root: root}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func mustRegister(t *testing.T, reg *service.ToolRegistry, tl tool.Tool) {
	t.Helper()
	if err := reg.Register(tl); err != nil {
		t.Fatal(err)
	}
}

// invoke posts one invocation and decodes the response body into out.
func (f *fixture) invoke(t *testing.T, agentID, toolName string, params map[string]interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	body, err := json.Marshal(map[string]interface{}{
		"tool":    toolName,
		"agentId": agentID,
		"params":  params,
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(f.srv.URL+"/engine/tools/invoke", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("invoke request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}
