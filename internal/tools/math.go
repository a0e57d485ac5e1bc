package tools

import (
	"context"
	"errors"
	"math"
)

type binaryArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

type powerArgs struct {
	Base     float64 `json:"base"`
	Exponent float64 `json:"exponent"`
}

type sqrtArgs struct {
	Value float64 `json:"value"`
}

func twoNumbers(first, second string) []Param {
	return []Param{
		{Name: "a", Type: "number", Description: first},
		{Name: "b", Type: "number", Description: second},
	}
}

// MathTools returns the arithmetic tool set.
func MathTools() []Tool {
	return []Tool{
		{
			Spec: Spec{Name: "add", Description: "Add two numbers together", Parameters: twoNumbers("First number", "Second number")},
			Handler: Typed(func(_ context.Context, a binaryArgs) (interface{}, error) {
				return finite(a.A + a.B)
			}),
		},
		{
			Spec: Spec{Name: "subtract", Description: "Subtract second number from first number", Parameters: twoNumbers("First number", "Second number")},
			Handler: Typed(func(_ context.Context, a binaryArgs) (interface{}, error) {
				return finite(a.A - a.B)
			}),
		},
		{
			Spec: Spec{Name: "multiply", Description: "Multiply two numbers together", Parameters: twoNumbers("First number", "Second number")},
			Handler: Typed(func(_ context.Context, a binaryArgs) (interface{}, error) {
				return finite(a.A * a.B)
			}),
		},
		{
			Spec: Spec{Name: "divide", Description: "Divide first number by second number", Parameters: twoNumbers("Numerator", "Denominator")},
			Handler: Typed(func(_ context.Context, a binaryArgs) (interface{}, error) {
				if a.B == 0 {
					return nil, errors.New("Division by zero")
				}
				return finite(a.A / a.B)
			}),
		},
		{
			Spec: Spec{
				Name:        "power",
				Description: "Raise first number to the power of second number",
				Parameters: []Param{
					{Name: "base", Type: "number", Description: "Base number"},
					{Name: "exponent", Type: "number", Description: "Exponent"},
				},
			},
			Handler: Typed(func(_ context.Context, a powerArgs) (interface{}, error) {
				return finite(math.Pow(a.Base, a.Exponent))
			}),
		},
		{
			Spec: Spec{
				Name:        "sqrt",
				Description: "Calculate square root of a number",
				Parameters:  []Param{{Name: "value", Type: "number", Description: "Number to find square root of"}},
			},
			Handler: Typed(func(_ context.Context, a sqrtArgs) (interface{}, error) {
				if a.Value < 0 {
					return nil, errors.New("Cannot calculate square root of negative number")
				}
				return math.Sqrt(a.Value), nil
			}),
		},
	}
}

// JSON has no encoding for NaN or Inf, so they are reported as failures.
func finite(v float64) (interface{}, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, errors.New("Result is not a finite number")
	}
	return v, nil
}
