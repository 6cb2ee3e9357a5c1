package condition

import (
	"fmt"
	"net/http"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/tidwall/gjson"

	"github.com/prasenjit/go-intercept/internal/matcher"
	"github.com/prasenjit/go-intercept/internal/models"
)

// Env is the environment match expressions are evaluated against
type Env struct {
	Method  string              `expr:"method"`
	URL     string              `expr:"url"`
	Host    string              `expr:"host"`
	Path    string              `expr:"path"`
	Query   map[string][]string `expr:"query"`
	Headers map[string][]string `expr:"headers"`
	Body    string              `expr:"body"`
}

// Header returns the first value of a header, ignoring name case
func (e Env) Header(name string) string {
	return http.Header(e.Headers).Get(name)
}

// JSON returns the value at a gjson path of the body
func (e Env) JSON(path string) string {
	return gjson.Get(e.Body, path).String()
}

// Compile turns a boolean expression into a request predicate
func Compile(expression string) (models.Predicate, error) {
	program, err := expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}

	return func(r *http.Request) bool {
		env, err := newEnv(r)
		if err != nil {
			return false
		}
		return run(program, env)
	}, nil
}

func run(program *vm.Program, env Env) bool {
	out, err := expr.Run(program, env)
	if err != nil {
		return false
	}
	matched, ok := out.(bool)
	return ok && matched
}

func newEnv(r *http.Request) (Env, error) {
	data, err := NewRequestData(r)
	if err != nil {
		return Env{}, err
	}

	env := Env{
		Method:  data.Method,
		URL:     matcher.RequestURL(r),
		Host:    r.Host,
		Path:    data.Path,
		Query:   data.QueryParams,
		Headers: data.Headers,
		Body:    data.Body,
	}
	if r.URL != nil && r.URL.Host != "" {
		env.Host = r.URL.Host
	}
	return env, nil
}
