package expr

import (
	"fmt"
	"maps"
)

// Function is a unary function callable from an expression.
type Function func(arg any) (any, error)

// Context holds the variables and functions visible to an expression.
// Variable values are int64, float64, bool, string, []any or nil.
type Context struct {
	Variables map[string]any
	Functions map[string]Function
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{
		Variables: map[string]any{},
		Functions: map[string]Function{},
	}
}

// Clone returns a shallow copy of c that can be modified independently.
func (c *Context) Clone() *Context {
	if c == nil {
		return NewContext()
	}
	out := &Context{
		Variables: maps.Clone(c.Variables),
		Functions: maps.Clone(c.Functions),
	}
	if out.Variables == nil {
		out.Variables = map[string]any{}
	}
	if out.Functions == nil {
		out.Functions = map[string]Function{}
	}
	return out
}

// SetValue binds name to v, replacing any previous binding.
func (c *Context) SetValue(name string, v any) {
	c.Variables[name] = v
}

// SetFunction binds name to fn, replacing any previous binding.
func (c *Context) SetFunction(name string, fn Function) {
	c.Functions[name] = fn
}

// TypeError is returned by a context function given an argument of the
// wrong type.
type TypeError struct {
	Function string
	Expected string
	Actual   any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %T (%v)", e.Function, e.Expected, e.Actual, e.Actual)
}

// CvtBoolToIntName is the name under which [CvtBoolToInt] is bound.
const CvtBoolToIntName = "cvtBoolToInt"

// CvtBoolToInt maps true to 1 and false to 0. Any other argument yields a
// [*TypeError].
func CvtBoolToInt(arg any) (any, error) {
	b, ok := arg.(bool)
	if !ok {
		return nil, &TypeError{Function: CvtBoolToIntName, Expected: "boolean", Actual: arg}
	}
	if b {
		return int64(1), nil
	}
	return int64(0), nil
}

// AsBool returns v if it is a bool. Any other value is false.
func AsBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
