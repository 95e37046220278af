package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/agenticmail/toolgate/internal/domain/audit"
	"github.com/agenticmail/toolgate/internal/domain/breaker"
	"github.com/agenticmail/toolgate/internal/domain/ratelimit"
	"github.com/agenticmail/toolgate/internal/domain/telemetry"
	"github.com/agenticmail/toolgate/internal/domain/tool"
	"github.com/agenticmail/toolgate/internal/pipeline"
	"github.com/agenticmail/toolgate/internal/service"
)

// InvokeRequest is the body of POST /engine/tools/invoke.
type InvokeRequest struct {
	Tool    string                 `json:"tool"`
	AgentID string                 `json:"agentId"`
	Params  map[string]interface{} `json:"params"`
}

// InvokeResponse is returned for executed invocations.
type InvokeResponse struct {
	Tool    string                 `json:"tool"`
	Content []tool.ContentBlock    `json:"content"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse is returned for denied and failed invocations.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handlers serves the engine API.
type Handlers struct {
	executor *pipeline.Executor
	registry *service.ToolRegistry
	breaker  breaker.Breaker
	sink     telemetry.Sink
	queries  audit.QueryStore // nil when the audit backend has no query support
	metrics  *Metrics
}

// NewHandlers wires the engine API handlers.
func NewHandlers(
	executor *pipeline.Executor,
	registry *service.ToolRegistry,
	brk breaker.Breaker,
	sink telemetry.Sink,
	queries audit.QueryStore,
	metrics *Metrics,
) *Handlers {
	return &Handlers{
		executor: executor,
		registry: registry,
		breaker:  brk,
		sink:     sink,
		queries:  queries,
		metrics:  metrics,
	}
}

// Invoke handles POST /engine/tools/invoke.
func (h *Handlers) Invoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required", "")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agentId is required", "")
		return
	}

	t, ok := h.registry.Get(req.Tool)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown tool: "+req.Tool, "")
		return
	}

	logger := LoggerFromContext(r.Context())

	result, err := h.executor.Invoke(r.Context(), t, req.AgentID, req.Params)
	if err != nil {
		h.writeInvokeError(w, logger, req, err)
		return
	}
	if result == nil {
		// Contract violation by the tool; do not panic the handler.
		logger.Error("tool returned nil result without error", "tool", req.Tool)
		writeError(w, http.StatusInternalServerError, "tool returned no result", "")
		return
	}

	writeJSON(w, http.StatusOK, InvokeResponse{
		Tool:    req.Tool,
		Content: result.Content,
		Details: result.Details,
	})
}

// writeInvokeError maps pipeline errors to HTTP statuses: denials carry
// their reason, rate limiting maps to 429 with a Retry-After header, an
// open circuit to 503, and execution failures to 500.
func (h *Handlers) writeInvokeError(w http.ResponseWriter, logger *slog.Logger, req InvokeRequest, err error) {
	var denied *pipeline.DeniedError
	if errors.As(err, &denied) {
		h.metrics.BlockedTotal.WithLabelValues(denied.Reason).Inc()

		status := http.StatusForbidden
		switch denied.Reason {
		case audit.ReasonRateLimited:
			status = http.StatusTooManyRequests
			var exceeded *ratelimit.ExceededError
			if errors.As(err, &exceeded) {
				w.Header().Set("Retry-After", retryAfterSeconds(exceeded.RetryAfter))
			}
		case audit.ReasonCircuitOpen:
			status = http.StatusServiceUnavailable
			var open *breaker.OpenError
			if errors.As(err, &open) {
				w.Header().Set("Retry-After", retryAfterSeconds(open.RetryAfter))
			}
		case audit.ReasonInvalidParams:
			status = http.StatusBadRequest
		}

		logger.Warn("invocation denied",
			"tool", req.Tool, "agent_id", req.AgentID, "reason", denied.Reason)
		writeError(w, status, denied.Error(), denied.Reason)
		return
	}

	var timeout *tool.TimeoutError
	if errors.As(err, &timeout) {
		writeError(w, http.StatusGatewayTimeout, timeout.Error(), "")
		return
	}

	writeError(w, http.StatusInternalServerError, err.Error(), "")
}

// ListTools handles GET /engine/tools.
func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	type toolInfo struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		RiskLevel   string          `json:"riskLevel"`
		InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	}

	tools := h.registry.List()
	out := make([]toolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			RiskLevel:   string(tool.Classify(t)),
			InputSchema: t.InputSchema(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": out})
}

// Telemetry handles GET /engine/telemetry.
func (h *Handlers) Telemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": h.sink.Snapshot()})
}

// Breakers handles GET /engine/breakers.
func (h *Handlers) Breakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"breakers": h.breaker.Snapshots()})
}

// AuditQuery handles GET /engine/audit. Filter params: agent, tool, outcome,
// since (RFC 3339), limit.
func (h *Handlers) AuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	if h.queries == nil {
		writeError(w, http.StatusNotImplemented, "audit backend does not support queries", "")
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		AgentID:  q.Get("agent"),
		ToolName: q.Get("tool"),
		Outcome:  audit.Outcome(q.Get("outcome")),
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp", "")
			return
		}
		f.StartTime = ts
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", "")
			return
		}
		f.Limit = n
	}

	entries, err := h.queries.Query(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg, reason string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Reason: reason})
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
