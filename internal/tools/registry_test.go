package tools

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mathRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	r.MustRegister(MathTools()...)
	return r
}

func TestExecuteMath(t *testing.T) {
	t.Parallel()
	r := mathRegistry(t)
	ctx := context.Background()

	cases := []struct {
		name string
		inv  Invocation
		want Outcome
	}{
		{"add", Invocation{Name: "add", Arguments: map[string]interface{}{"a": 2.0, "b": 3.0}}, Outcome{Success: true, Result: 5.0}},
		{"subtract", Invocation{Name: "subtract", Arguments: map[string]interface{}{"a": 2.0, "b": 3.0}}, Outcome{Success: true, Result: -1.0}},
		{"multiply", Invocation{Name: "multiply", Arguments: map[string]interface{}{"a": 4.0, "b": 2.5}}, Outcome{Success: true, Result: 10.0}},
		{"divide", Invocation{Name: "divide", Arguments: map[string]interface{}{"a": 9.0, "b": 3.0}}, Outcome{Success: true, Result: 3.0}},
		{"divide by zero", Invocation{Name: "divide", Arguments: map[string]interface{}{"a": 1.0, "b": 0.0}}, Outcome{Success: false, Error: "Division by zero"}},
		{"power", Invocation{Name: "power", Arguments: map[string]interface{}{"base": 2.0, "exponent": 10.0}}, Outcome{Success: true, Result: 1024.0}},
		{"sqrt", Invocation{Name: "sqrt", Arguments: map[string]interface{}{"value": 16.0}}, Outcome{Success: true, Result: 4.0}},
		{"sqrt negative", Invocation{Name: "sqrt", Arguments: map[string]interface{}{"value": -1.0}}, Outcome{Success: false, Error: "Cannot calculate square root of negative number"}},
		{"power overflow", Invocation{Name: "power", Arguments: map[string]interface{}{"base": 10.0, "exponent": 400.0}}, Outcome{Success: false, Error: "Result is not a finite number"}},
		{"multiply overflow", Invocation{Name: "multiply", Arguments: map[string]interface{}{"a": 1e200, "b": 1e200}}, Outcome{Success: false, Error: "Result is not a finite number"}},
		{"add overflow", Invocation{Name: "add", Arguments: map[string]interface{}{"a": 1.7e308, "b": 1.7e308}}, Outcome{Success: false, Error: "Result is not a finite number"}},
		{"subtract overflow", Invocation{Name: "subtract", Arguments: map[string]interface{}{"a": -1.7e308, "b": 1.7e308}}, Outcome{Success: false, Error: "Result is not a finite number"}},
		{"divide overflow", Invocation{Name: "divide", Arguments: map[string]interface{}{"a": 1e300, "b": 1e-300}}, Outcome{Success: false, Error: "Result is not a finite number"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.Execute(ctx, tc.inv))
		})
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	t.Parallel()
	out := mathRegistry(t).Execute(context.Background(), Invocation{Name: "teleport"})
	assert.False(t, out.Success)
	assert.Equal(t, "Unknown tool: teleport", out.Error)
}

func TestExecuteInvalidArguments(t *testing.T) {
	t.Parallel()
	r := mathRegistry(t)
	ctx := context.Background()

	out := r.Execute(ctx, Invocation{Name: "add", Arguments: map[string]interface{}{"a": 1.0}})
	assert.Equal(t, Outcome{Success: false, Error: "Invalid arguments for add"}, out)

	out = r.Execute(ctx, Invocation{Name: "add", Arguments: map[string]interface{}{"a": "one", "b": 2.0}})
	assert.Equal(t, "Invalid arguments for add", out.Error)

	out = r.Execute(ctx, Invocation{Name: "sqrt"})
	assert.Equal(t, "Invalid arguments for sqrt", out.Error)
}

func TestExecuteRecoversPanics(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register(Tool{
		Spec: Spec{Name: "boom"},
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			panic("kaboom")
		},
	}))
	out := r.Execute(context.Background(), Invocation{Name: "boom"})
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "kaboom")
}

func TestRegisterRejectsDuplicatesAndBlankNames(t *testing.T) {
	t.Parallel()
	r := mathRegistry(t)
	noop := func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil }

	err := r.Register(Tool{Spec: Spec{Name: "add"}, Handler: noop})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	require.Error(t, r.Register(Tool{Spec: Spec{Name: "  "}, Handler: noop}))
	require.Error(t, r.Register(Tool{Spec: Spec{Name: "nohandler"}}))
}

func TestListToolsKeepsRegistrationOrder(t *testing.T) {
	t.Parallel()
	specs := mathRegistry(t).ListTools()
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"add", "subtract", "multiply", "divide", "power", "sqrt"}, names)
	assert.Equal(t, []string{"add", "divide", "multiply", "power", "sqrt", "subtract"}, mathRegistry(t).Names())
}

func TestUnencodableResultBecomesFailure(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register(Tool{
		Spec: Spec{Name: "ratio"},
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"value": math.Inf(1)}, nil
		},
	}))
	out := r.Execute(context.Background(), Invocation{Name: "ratio"})
	assert.False(t, out.Success)
	assert.Nil(t, out.Result)
	assert.Equal(t, "Tool ratio returned a result that cannot be encoded", out.Error)
}

func TestOutcomeDescribe(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Tool 'add' returned: 5", Outcome{Success: true, Result: 5.0}.Describe("add"))
	assert.Equal(t, "Tool 'divide' error: Division by zero", Outcome{Error: "Division by zero"}.Describe("divide"))
	assert.Equal(t, `Tool 'find_user' returned: {"name":"ada"}`,
		Outcome{Success: true, Result: map[string]string{"name": "ada"}}.Describe("find_user"))
}

func TestHandlerErrorBecomesOutcome(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register(Tool{
		Spec: Spec{Name: "fail"},
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			return nil, errors.New("backend offline")
		},
	}))
	assert.Equal(t, Outcome{Error: "backend offline"}, r.Execute(context.Background(), Invocation{Name: "fail"}))
}

func TestSystemPrompt(t *testing.T) {
	t.Parallel()
	prompt := mathRegistry(t).SystemPrompt("<tool_request>", "</tool_request>")

	assert.True(t, strings.HasPrefix(prompt, "You are a helpful AI assistant with access to mathematical tools."))
	assert.Contains(t, prompt, "Tool: divide\nDescription: Divide first number by second number\nParameters:\n  - a (number): Numerator\n  - b (number): Denominator\n")
	assert.Contains(t, prompt, `<tool_request>[{"name": "tool_name", "arguments": {"param": value}}]</tool_request>`)
	assert.Contains(t, prompt, "provide a clear answer to the user.")
}
