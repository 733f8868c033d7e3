package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	tests := []struct {
		name     string
		input    Input
		decision string
		reasons  []string
	}{
		{"plain model", Input{Model: "openai/gpt-4o"}, DecisionAllow, nil},
		{"known effort", Input{Model: "openai/o3", ReasoningEffort: "high"}, DecisionAllow, nil},
		{"unknown effort", Input{Model: "openai/o3", ReasoningEffort: "extreme"}, DecisionBlock, []string{"unsupported reasoning effort"}},
		{"paid without key", Input{Model: "openai/o3:paid"}, DecisionBlock, []string{"paid model requires a custom key"}},
		{"paid with key", Input{Model: "openai/o3:paid", CustomKey: true}, DecisionAllow, nil},
		{
			"both violations",
			Input{Model: "x:paid", ReasoningEffort: "max"},
			DecisionBlock,
			[]string{"paid model requires a custom key", "unsupported reasoning effort"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := engine.Evaluate(ctx, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.decision, res.Decision)
			assert.Equal(t, tt.reasons, res.Reasons)
			assert.Equal(t, tt.decision == DecisionAllow, res.Allowed())
		})
	}
}

func TestNewEngineFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policy.rego")
	custom := `
package model_policy

default decision = "allow"

decision = "block" {
	input.include_search
}
`
	require.NoError(t, os.WriteFile(path, []byte(custom), 0o644))

	engine, err := NewEngineFromFile(ctx, path)
	require.NoError(t, err)

	res, err := engine.Evaluate(ctx, Input{Model: "m", IncludeSearch: true})
	require.NoError(t, err)
	assert.False(t, res.Allowed())
	assert.Empty(t, res.Reasons)

	res, err = engine.Evaluate(ctx, Input{Model: "m"})
	require.NoError(t, err)
	assert.True(t, res.Allowed())
}

func TestNewEngineErrors(t *testing.T) {
	ctx := context.Background()
	_, err := NewEngine(ctx, "package model_policy\n\ndecision = {")
	assert.Error(t, err)

	_, err = NewEngineFromFile(ctx, filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)

	engine, err := NewEngineFromFile(ctx, "")
	require.NoError(t, err)
	assert.NotNil(t, engine)
}
