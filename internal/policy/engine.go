// Package policy evaluates model request policies with OPA.
package policy

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by Evaluate.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Input is the document a policy is evaluated against.
type Input struct {
	Model           string `json:"model"`
	ReasoningEffort string `json:"reasoning_effort"`
	IncludeSearch   bool   `json:"include_search"`
	CustomKey       bool   `json:"custom_key"`
}

// Result is a policy decision plus the reasons that produced it.
type Result struct {
	Decision string
	Reasons  []string
}

// Allowed reports whether the request may proceed.
func (r Result) Allowed() bool {
	return r.Decision != DecisionBlock
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content. The
// module must declare package model_policy.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.model_policy"),
		rego.Module("model_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy at path, or DefaultPolicy when path is
// empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks a model request against the policy.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Result, error) {
	doc := map[string]interface{}{
		"model":            input.Model,
		"reasoning_effort": input.ReasoningEffort,
		"include_search":   input.IncludeSearch,
		"custom_key":       input.CustomKey,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return Result{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Result{Decision: DecisionAllow}, nil
	}

	pkg, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Result{Decision: DecisionAllow}, nil
	}

	res := Result{Decision: DecisionAllow}
	if d, ok := pkg["decision"].(string); ok {
		res.Decision = d
	}
	if reasons, ok := pkg["reasons"].([]interface{}); ok {
		for _, r := range reasons {
			if s, ok := r.(string); ok {
				res.Reasons = append(res.Reasons, s)
			}
		}
		sort.Strings(res.Reasons)
	}
	return res, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package model_policy

default decision = "allow"

decision = "block" {
	count(reasons) > 0
}

valid_effort {
	input.reasoning_effort == ""
}

valid_effort {
	input.reasoning_effort == "low"
}

valid_effort {
	input.reasoning_effort == "medium"
}

valid_effort {
	input.reasoning_effort == "high"
}

reasons["unsupported reasoning effort"] {
	not valid_effort
}

# Paid variants are billed to the caller.
reasons["paid model requires a custom key"] {
	endswith(input.model, ":paid")
	not input.custom_key
}
`
