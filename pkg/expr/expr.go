package expr

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
)

var (
	// ErrBuild is returned when an expression cannot be parsed.
	ErrBuild = errors.New("build expression")
	// ErrEval is returned when an expression cannot be evaluated.
	ErrEval = errors.New("evaluate expression")
)

// Evaluator builds expressions from source text.
type Evaluator interface {
	Build(expression string) (Expression, error)
}

// Expression is a built expression that can be evaluated many times.
type Expression interface {
	Eval(ctx *Context) (any, error)
	String() string
}

// Protect CEL environment creation and extension from concurrent access.
// Parsing, planning and evaluation do not take it.
var celMutex sync.Mutex

// CELEvaluator is an [Evaluator] backed by CEL. It is safe for concurrent use.
//
// Expressions are parsed and planned once, without type checking, so
// identifiers are resolved against the variables of each evaluation.
// Arithmetic mixing integers and doubles is carried out in double precision.
type CELEvaluator struct {
	env *cel.Env
}

// NewCELEvaluator creates a new [CELEvaluator]. opts are added to the base
// environment.
func NewCELEvaluator(opts ...cel.EnvOption) (*CELEvaluator, error) {
	celMutex.Lock()
	defer celMutex.Unlock()

	opts = append(opts, cel.Lib(&lib{}))

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEvaluator{env: env}, nil
}

// MustNewCELEvaluator creates a new [CELEvaluator] and panics on error.
func MustNewCELEvaluator(opts ...cel.EnvOption) *CELEvaluator {
	e, err := NewCELEvaluator(opts...)
	if err != nil {
		panic(err)
	}

	return e
}

// Build parses and plans expression. Identifiers are resolved at evaluation
// time.
//
//nolint:ireturn // Expression is the evaluator's contract.
func (e *CELEvaluator) Build(expression string) (Expression, error) {
	ast, issues := e.env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, issues.Err())
	}
	promoteArithmetic(ast.NativeRep())

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	return &celExpression{env: e.env, ast: ast, prg: prg, src: expression}, nil
}

type celExpression struct {
	env *cel.Env
	ast *cel.Ast
	prg cel.Program
	src string
}

func (x *celExpression) String() string {
	return x.src
}

// Eval evaluates the expression with the variables of ctx. Functions of ctx
// that the base library does not provide are bound for this call only;
// base library names such as cvtBoolToInt always use the library binding.
func (x *celExpression) Eval(ctx *Context) (any, error) {
	if ctx == nil {
		ctx = NewContext()
	}

	prg := x.prg
	if extra := extraFunctions(ctx); len(extra) > 0 {
		var err error
		prg, err = x.program(ctx, extra)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEval, err)
		}
	}

	vars := ctx.Variables
	if vars == nil {
		vars = map[string]any{}
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEval, err)
	}

	return out.Value(), nil
}

// program plans the expression in an environment extended with the given
// context functions.
//
//nolint:ireturn // Following CEL's function signature.
func (x *celExpression) program(ctx *Context, names []string) (cel.Program, error) {
	opts := make([]cel.EnvOption, 0, len(names))
	for _, name := range names {
		opts = append(opts, contextFunction(name, ctx.Functions[name]))
	}

	celMutex.Lock()
	env, err := x.env.Extend(opts...)
	celMutex.Unlock()
	if err != nil {
		return nil, fmt.Errorf("extend CEL environment: %w", err)
	}

	program, err := env.Program(x.ast)
	if err != nil {
		return nil, fmt.Errorf("create program: %w", err)
	}

	return program, nil
}

// extraFunctions returns the sorted names of the context functions missing
// from the base library.
func extraFunctions(ctx *Context) []string {
	var names []string
	for _, name := range slices.Sorted(maps.Keys(ctx.Functions)) {
		if _, ok := baseFunctions[name]; !ok {
			names = append(names, name)
		}
	}
	return names
}

func contextFunction(name string, fn Function) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_dyn", []*cel.Type{cel.DynType}, cel.DynType,
			cel.UnaryBinding(unaryBinding(fn)),
		),
	)
}

func unaryBinding(fn Function) func(ref.Val) ref.Val {
	return func(arg ref.Val) ref.Val {
		out, err := fn(arg.Value())
		if err != nil {
			return types.WrapErr(err)
		}

		return types.DefaultTypeAdapter.NativeToValue(out)
	}
}

// Arithmetic operators are rewritten to these functions, which promote an
// int operand to double when the other operand is a double.
var numericOps = map[string]string{
	operators.Add:      "numeric.add",
	operators.Subtract: "numeric.subtract",
	operators.Multiply: "numeric.multiply",
	operators.Divide:   "numeric.divide",
	operators.Modulo:   "numeric.modulo",
}

// baseFunctions are the context function names served by the base library.
var baseFunctions = map[string]struct{}{
	CvtBoolToIntName: {},
}

// promoteArithmetic replaces calls to the arithmetic operators in a with
// their numeric counterparts.
func promoteArithmetic(a *celast.AST) {
	fac := celast.NewExprFactory()
	celast.PostOrderVisit(a.Expr(), celast.NewExprVisitor(func(e celast.Expr) {
		if e.Kind() != celast.CallKind {
			return
		}
		call := e.AsCall()
		fn, ok := numericOps[call.FunctionName()]
		if !ok || call.IsMemberFunction() || len(call.Args()) != 2 {
			return
		}
		e.SetKindCase(fac.NewCall(e.ID(), fn, call.Args()...))
	}))
}

func numericBinding(op string) func(lhs, rhs ref.Val) ref.Val {
	return func(lhs, rhs ref.Val) ref.Val {
		l, r := lhs, rhs
		if ld, rd, ok := promote(lhs, rhs); ok {
			l, r = ld, rd
		}

		switch op {
		case operators.Add:
			if a, ok := l.(traits.Adder); ok {
				return a.Add(r)
			}
		case operators.Subtract:
			if s, ok := l.(traits.Subtractor); ok {
				return s.Subtract(r)
			}
		case operators.Multiply:
			if m, ok := l.(traits.Multiplier); ok {
				return m.Multiply(r)
			}
		case operators.Divide:
			if d, ok := l.(traits.Divider); ok {
				return d.Divide(r)
			}
		case operators.Modulo:
			if ld, ok := l.(types.Double); ok {
				if rd, ok := r.(types.Double); ok {
					return types.Double(math.Mod(float64(ld), float64(rd)))
				}
			}
			if m, ok := l.(traits.Modder); ok {
				return m.Modulo(r)
			}
		}

		return types.MaybeNoSuchOverloadErr(l)
	}
}

// promote converts both operands to double when one is a double and the
// other an int or uint.
func promote(lhs, rhs ref.Val) (types.Double, types.Double, bool) {
	ld, lok := asDouble(lhs)
	rd, rok := asDouble(rhs)
	if !lok || !rok {
		return 0, 0, false
	}
	_, lIsDouble := lhs.(types.Double)
	_, rIsDouble := rhs.(types.Double)
	return ld, rd, lIsDouble != rIsDouble
}

func asDouble(v ref.Val) (types.Double, bool) {
	switch n := v.(type) {
	case types.Double:
		return n, true
	case types.Int:
		return types.Double(n), true
	case types.Uint:
		return types.Double(n), true
	}
	return 0, false
}

type lib struct{}

func (lib) CompileOptions() []cel.EnvOption {
	opts := []cel.EnvOption{
		ext.Math(),
		ext.Strings(),

		// Allow comparisons such as `limit > 0.5` where limit is an int.
		cel.CrossTypeNumericComparisons(true),

		cel.Function(CvtBoolToIntName,
			cel.Overload(CvtBoolToIntName+"_dyn", []*cel.Type{cel.DynType}, cel.IntType,
				cel.UnaryBinding(unaryBinding(CvtBoolToInt)),
			),
		),
	}

	for _, op := range slices.Sorted(maps.Keys(numericOps)) {
		fn := numericOps[op]
		opts = append(opts, cel.Function(fn,
			cel.Overload(strings.ReplaceAll(fn, ".", "_")+"_dyn_dyn",
				[]*cel.Type{cel.DynType, cel.DynType}, cel.DynType),
			cel.SingletonBinaryBinding(numericBinding(op)),
		))
	}

	return opts
}

func (lib) ProgramOptions() []cel.ProgramOption {
	return []cel.ProgramOption{}
}
