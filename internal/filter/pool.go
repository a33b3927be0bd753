// Package filter compiles and caches predicates that select boxes by their
// header fields. Predicates are written in CEL or in expr.
package filter

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/cel-go/cel"
)

// Language names a predicate language.
type Language string

const (
	LanguageCEL  Language = "cel"
	LanguageExpr Language = "expr"
)

// ParseLanguage validates a language name. The empty string means CEL.
func ParseLanguage(s string) (Language, error) {
	switch Language(s) {
	case "", LanguageCEL:
		return LanguageCEL, nil
	case LanguageExpr:
		return LanguageExpr, nil
	default:
		return "", fmt.Errorf("unknown filter language %q", s)
	}
}

// Predicate decides whether a box is selected.
type Predicate interface {
	Match(fields map[string]any) (bool, error)
	Source() string
}

type poolKey struct {
	lang Language
	src  string
}

// Pool caches compiled predicates
type Pool struct {
	mu         sync.RWMutex
	predicates map[poolKey]Predicate
	env        *cel.Env
}

// NewPool creates a new predicate pool with the box CEL environment
func NewPool() (*Pool, error) {
	env, err := NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}
	return &Pool{
		env:        env,
		predicates: make(map[poolKey]Predicate),
	}, nil
}

// Compile retrieves or compiles a predicate
func (p *Pool) Compile(lang Language, src string) (Predicate, error) {
	key := poolKey{lang: lang, src: src}
	p.mu.RLock()
	if pred, ok := p.predicates[key]; ok {
		p.mu.RUnlock()
		return pred, nil
	}
	p.mu.RUnlock()

	var (
		pred Predicate
		err  error
	)
	switch lang {
	case LanguageCEL, "":
		pred, err = p.compileCEL(src)
	case LanguageExpr:
		pred, err = compileExpr(src)
	default:
		err = fmt.Errorf("unknown filter language %q", lang)
	}
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.predicates[key] = pred
	p.mu.Unlock()
	return pred, nil
}

// Size returns the number of cached predicates
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.predicates)
}

type celPredicate struct {
	src     string
	program cel.Program
}

func (p *Pool) compileCEL(src string) (Predicate, error) {
	ast, issues := p.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression '%s': %w", src, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression '%s' returns %s, not bool", src, out)
	}
	program, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return &celPredicate{src: src, program: program}, nil
}

func (c *celPredicate) Match(fields map[string]any) (bool, error) {
	val, _, err := c.program.Eval(withDefaults(fields))
	if err != nil {
		return false, fmt.Errorf("expression evaluation error: %w", err)
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression '%s' returned %T, not bool", c.src, val.Value())
	}
	return b, nil
}

func (c *celPredicate) Source() string {
	return c.src
}

type exprPredicate struct {
	src     string
	program *vm.Program
}

func compileExpr(src string) (Predicate, error) {
	program, err := expr.Compile(src,
		expr.Env(variables),
		expr.AsBool(),
		expr.Function("inside", func(params ...any) (any, error) {
			return inside(params[0].(string), params[1].(string)), nil
		}, new(func(string, string) bool)),
		expr.Function("parent", func(params ...any) (any, error) {
			return parent(params[0].(string)), nil
		}, new(func(string) string)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression '%s': %w", src, err)
	}
	return &exprPredicate{src: src, program: program}, nil
}

func (e *exprPredicate) Match(fields map[string]any) (bool, error) {
	out, err := expr.Run(e.program, withDefaults(fields))
	if err != nil {
		return false, fmt.Errorf("expression evaluation error: %w", err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression '%s' returned %T, not bool", e.src, out)
	}
	return b, nil
}

func (e *exprPredicate) Source() string {
	return e.src
}

// withDefaults fills in the fields missing from a box so every declared
// variable is bound.
func withDefaults(fields map[string]any) map[string]any {
	vars := make(map[string]any, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	for k, v := range fields {
		if _, ok := variables[k]; ok {
			vars[k] = v
		}
	}
	return vars
}
