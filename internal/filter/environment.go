package filter

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// variables lists the box fields visible to predicates with their zero values.
var variables = map[string]any{
	"fourcc":      "",
	"start":       int64(0),
	"size":        int64(0),
	"header_size": int64(0),
	"depth":       int64(0),
	"path":        "",
	"user_type":   "",
}

// NewEnvironment creates the CEL environment box predicates are compiled in.
func NewEnvironment() (*cel.Env, error) {
	opts := []cel.EnvOption{
		cel.Variable("fourcc", cel.StringType),
		cel.Variable("start", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("header_size", cel.IntType),
		cel.Variable("depth", cel.IntType),
		cel.Variable("path", cel.StringType),
		cel.Variable("user_type", cel.StringType),
		BoxFunctions(),
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// BoxFunctions registers helpers working on box paths.
func BoxFunctions() cel.EnvOption {
	return cel.Lib(&boxLib{})
}

type boxLib struct{}

func (*boxLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("inside",
			cel.Overload("inside_string_string", []*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
					path, ok1 := lhs.(types.String)
					container, ok2 := rhs.(types.String)
					if !ok1 || !ok2 {
						return types.NewErr("inside expects (string, string)")
					}
					return types.Bool(inside(string(path), string(container)))
				}),
			),
		),
		cel.Function("parent",
			cel.Overload("parent_string", []*cel.Type{cel.StringType}, cel.StringType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					path, ok := val.(types.String)
					if !ok {
						return types.NewErr("parent expects a string")
					}
					return types.String(parent(string(path)))
				}),
			),
		),
	}
}

func (*boxLib) ProgramOptions() []cel.ProgramOption {
	return []cel.ProgramOption{}
}

// inside reports whether a box with the given path is nested in a box of type container.
func inside(path, container string) bool {
	segments := strings.Split(path, "/")
	for _, s := range segments[:len(segments)-1] {
		if s == container {
			return true
		}
	}
	return false
}

// parent returns the type of the enclosing box, or "" at top level.
func parent(path string) string {
	segments := strings.Split(path, "/")
	if len(segments) < 2 {
		return ""
	}
	return segments[len(segments)-2]
}
