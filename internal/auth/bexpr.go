package auth

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-bexpr"
)

// bexprCache stores compiled go-bexpr evaluators for performance
// Key: expression string, Value: *bexpr.Evaluator
var bexprCache = &sync.Map{}

// CompileExpression parses and caches a boolean expression over claim
// attributes, e.g. `"merchant" in groups and email == "shop@vanilla.mg"`.
func CompileExpression(expr string) (*bexpr.Evaluator, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if cached, ok := bexprCache.Load(expr); ok {
		return cached.(*bexpr.Evaluator), nil
	}

	evaluator, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expr, err)
	}
	actual, _ := bexprCache.LoadOrStore(expr, evaluator)
	return actual.(*bexpr.Evaluator), nil
}

// EvaluateExpression evaluates expr against the claims. Invalid expressions
// and evaluation errors (e.g. unknown selector) deny.
func EvaluateExpression(expr string, claims *Claims) bool {
	if claims == nil {
		return false
	}
	evaluator, err := CompileExpression(expr)
	if err != nil {
		return false
	}
	matches, err := evaluator.Evaluate(claims.Attributes())
	if err != nil {
		return false
	}
	return matches
}
