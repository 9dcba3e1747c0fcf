package script

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/itchyny/gojq"

	"json2csv/internal/jsonvalue"
)

// JQ evaluates jq programs with gojq.
//
// Variables are exposed as $name. Names that are not valid jq identifiers
// (a column called "first name", say) cannot be referenced from jq and are
// skipped. Compiled programs are cached per script and variable-name set,
// since the per-row stages run the same script once per record.
type JQ struct {
	mu    sync.Mutex
	cache map[string]*gojq.Code
}

// NewJQ returns a jq engine with an empty program cache.
func NewJQ() *JQ {
	return &JQ{cache: map[string]*gojq.Code{}}
}

var _ Engine = (*JQ)(nil)

var jqIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Evaluate runs script against target and returns its single output.
func (j *JQ) Evaluate(ctx context.Context, script string, target jsonvalue.Value, vars map[string]jsonvalue.Value) (jsonvalue.Value, error) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		if jqIdent.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	code, err := j.compile(script, names)
	if err != nil {
		return jsonvalue.Value{}, err
	}

	values := make([]any, len(names))
	for i, name := range names {
		values[i] = vars[name].Interface()
	}

	iter := code.RunWithContext(ctx, target.Interface(), values...)
	var (
		out   jsonvalue.Value
		found bool
	)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return jsonvalue.Value{}, fmt.Errorf("script: run: %w", err)
		}
		if found {
			return jsonvalue.Value{}, ErrMultipleOutputs
		}
		out, err = jsonvalue.FromInterface(v)
		if err != nil {
			return jsonvalue.Value{}, fmt.Errorf("script: result: %w", err)
		}
		found = true
	}
	if !found {
		return jsonvalue.Value{}, ErrNoOutput
	}
	return out, nil
}

func (j *JQ) compile(script string, names []string) (*gojq.Code, error) {
	key := script + "\x00" + strings.Join(names, ",")

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cache == nil {
		j.cache = map[string]*gojq.Code{}
	}
	if code, ok := j.cache[key]; ok {
		return code, nil
	}

	q, err := gojq.Parse(script)
	if err != nil {
		return nil, fmt.Errorf("script: parse %q: %w", script, err)
	}
	vars := make([]string, len(names))
	for i, name := range names {
		vars[i] = "$" + name
	}
	code, err := gojq.Compile(q, gojq.WithVariables(vars))
	if err != nil {
		return nil, fmt.Errorf("script: compile %q: %w", script, err)
	}
	j.cache[key] = code
	return code, nil
}

// Len reports how many compiled programs are cached.
func (j *JQ) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.cache)
}
