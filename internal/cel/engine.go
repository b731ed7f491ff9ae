// Package cel evaluates rule conditions written as CEL expressions
package cel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	celtypes "github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/hrdesk/pbac/internal/engine"
	"github.com/hrdesk/pbac/pkg/types"
)

// Evaluator compiles and evaluates rule conditions. Compiled programs are
// cached by expression text.
type Evaluator struct {
	env      *cel.Env
	programs sync.Map // map[string]cel.Program
}

// NewEvaluator creates an evaluator with the decision variables and helper
// functions declared:
//
//	identity   map: id, username, email, role_id, role_name, role_level
//	action     string
//	resource   string
//	context    map: department, location, time, hour, resource_owner_id, attributes
//	attributes map: the rule's static attributes
func NewEvaluator() (*Evaluator, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("identity", mapType),
		cel.Variable("action", cel.StringType),
		cel.Variable("resource", cel.StringType),
		cel.Variable("context", mapType),
		cel.Variable("attributes", mapType),

		// isOwner(identity, context) -> bool
		cel.Function("isOwner",
			cel.Overload("isOwner_map_map",
				[]*cel.Type{mapType, mapType},
				cel.BoolType,
				cel.BinaryBinding(isOwner),
			),
		),
		// hasRole(identity, name) -> bool
		cel.Function("hasRole",
			cel.Overload("hasRole_map_string",
				[]*cel.Type{mapType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(hasRole),
			),
		),
		// inList(value, list) -> bool
		cel.Function("inList",
			cel.Overload("inList_string_list",
				[]*cel.Type{cel.StringType, cel.ListType(cel.StringType)},
				cel.BoolType,
				cel.BinaryBinding(inList),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// Compile compiles an expression and caches the result
func (e *Evaluator) Compile(expr string) (cel.Program, error) {
	if prog, ok := e.programs.Load(expr); ok {
		return prog.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation failed: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("CEL expression must return bool, got %s", ast.OutputType())
	}

	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation failed: %w", err)
	}

	e.programs.Store(expr, prog)
	return prog, nil
}

// Validate implements policy.ConditionValidator
func (e *Evaluator) Validate(conditions *types.Conditions) error {
	if conditions.Empty() || conditions.Expression == "" {
		return nil
	}
	_, err := e.Compile(conditions.Expression)
	return err
}

// Evaluate implements engine.ConditionEvaluator. Conditions without an
// expression always hold.
func (e *Evaluator) Evaluate(ctx context.Context, conditions *types.Conditions, req engine.Request) (bool, error) {
	if conditions.Empty() || conditions.Expression == "" {
		return true, nil
	}

	prog, err := e.Compile(conditions.Expression)
	if err != nil {
		return false, err
	}

	attrs := conditions.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	identity := map[string]interface{}{}
	if req.Identity != nil {
		identity = req.Identity.ToMap()
	}

	result, _, err := prog.ContextEval(ctx, map[string]interface{}{
		"identity":   identity,
		"action":     req.Action,
		"resource":   req.Resource,
		"context":    req.Context.ToMap(),
		"attributes": attrs,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation failed: %w", err)
	}

	if b, ok := result.Value().(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("CEL expression did not return boolean")
}

// ClearCache drops every compiled program
func (e *Evaluator) ClearCache() {
	e.programs.Range(func(key, _ interface{}) bool {
		e.programs.Delete(key)
		return true
	})
}

func mapString(val ref.Val, key string) string {
	m, ok := val.(traits.Mapper)
	if !ok {
		return ""
	}
	v, found := m.Find(celtypes.String(key))
	if !found {
		return ""
	}
	s, ok := v.Value().(string)
	if !ok {
		return ""
	}
	return s
}

func isOwner(identity, request ref.Val) ref.Val {
	id := mapString(identity, "id")
	owner := mapString(request, "resource_owner_id")
	return celtypes.Bool(id != "" && id == owner)
}

func hasRole(identity, name ref.Val) ref.Val {
	role, ok := name.Value().(string)
	if !ok {
		return celtypes.False
	}
	return celtypes.Bool(role != "" && mapString(identity, "role_name") == role)
}

func inList(value, list ref.Val) ref.Val {
	l, ok := list.(traits.Lister)
	if !ok {
		return celtypes.False
	}
	return l.Contains(value)
}
