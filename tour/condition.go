package tour

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Env is what step conditions see.
//
//	exists("#billing") && index > 0
//	path startsWith "/settings"
//	query.plan == "pro"
type Env struct {
	URL    string            `expr:"url"`
	Path   string            `expr:"path"`
	Query  map[string]string `expr:"query"`
	Tour   string            `expr:"tour"`
	Step   string            `expr:"step"`
	Index  int               `expr:"index"`
	Exists func(string) bool `expr:"exists"`
}

func compileCondition(src string) (*vm.Program, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", src, err)
	}
	return program, nil
}

func evalCondition(program *vm.Program, env Env) (bool, error) {
	if program == nil {
		return true, nil
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval condition: %w", err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("condition returned %T", out)
	}
	return ok, nil
}

func newEnv(pageURL, tourID, stepID string, index int, exists func(string) bool) Env {
	env := Env{URL: pageURL, Tour: tourID, Step: stepID, Index: index, Exists: exists, Query: map[string]string{}}
	if u, err := url.Parse(pageURL); err == nil {
		env.Path = u.Path
		for k, v := range u.Query() {
			if len(v) > 0 {
				env.Query[k] = v[0]
			}
		}
	}
	return env
}
