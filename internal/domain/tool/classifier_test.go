package tool

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeTool struct {
	name    string
	effects []SideEffect
}

func (t *fakeTool) Name() string { return t.name }

func (t *fakeTool) Description() string { return t.name }

func (t *fakeTool) InputSchema() json.RawMessage { return nil }

func (t *fakeTool) SideEffects() []SideEffect { return t.effects }

func (t *fakeTool) Execute(ctx context.Context, params map[string]interface{}) (*Result, error) {
	return nil, nil
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		effects []SideEffect
		want    RiskLevel
	}{
		{name: "list_projects", want: RiskLevelLow},
		{name: "grep", want: RiskLevelMedium},
		{name: "fetch_page", want: RiskLevelMedium},
		{name: "write_file", want: RiskLevelHigh},
		{name: "deploy_service", want: RiskLevelHigh},
		{name: "delete_user", want: RiskLevelCritical},
		{name: "run_shell", want: RiskLevelCritical},
		{name: "AdminPanel", want: RiskLevelCritical},

		// Side effects raise the floor regardless of name.
		{name: "echo", effects: []SideEffect{SideEffectShell}, want: RiskLevelCritical},
		{name: "echo", effects: []SideEffect{SideEffectNetwork}, want: RiskLevelMedium},
		{name: "echo", effects: []SideEffect{SideEffectFilesystem}, want: RiskLevelMedium},

		// Side effects never lower a name-derived level.
		{name: "upload", effects: []SideEffect{SideEffectNetwork}, want: RiskLevelHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+string(tt.want), func(t *testing.T) {
			t.Parallel()

			got := Classify(&fakeTool{name: tt.name, effects: tt.effects})
			if got != tt.want {
				t.Errorf("Classify(%q, %v) = %s, want %s", tt.name, tt.effects, got, tt.want)
			}
		})
	}
}

func TestResultSize(t *testing.T) {
	t.Parallel()

	var nilResult *Result
	if nilResult.Size() != 0 {
		t.Error("nil result Size() != 0")
	}

	r := &Result{Content: []ContentBlock{TextBlock("hello"), TextBlock(" world")}}
	if got := r.Size(); got != 11 {
		t.Errorf("Size() = %d, want 11", got)
	}
}
