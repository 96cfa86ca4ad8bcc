package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"pulsecrm/backend/internal/actions"
	"pulsecrm/backend/pkg/models"
)

// placeholderPattern matches ${key.path} references to trigger fields or
// earlier step outputs.
var placeholderPattern = regexp.MustCompile(`\$\{([a-zA-Z0-9_.-]+)\}`)

// resolveStepConfig returns a copy of the step's config with every
// ${...} placeholder in its string fields replaced from the run context.
// An unresolvable reference is a deterministic config error: the value
// the step was written against does not exist in this run.
func resolveStepConfig(step models.Step, runCtx map[string]any) (models.StepConfig, error) {
	raw, err := json.Marshal(step.Config)
	if err != nil {
		return nil, actions.NewConfigError(fmt.Errorf("step %s: %w", step.ID, err))
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, actions.NewConfigError(fmt.Errorf("step %s: %w", step.ID, err))
	}

	resolved, err := resolveValue(generic, runCtx)
	if err != nil {
		return nil, actions.NewConfigError(fmt.Errorf("step %s: %w", step.ID, err))
	}

	out := reflect.New(reflect.TypeOf(step.Config).Elem()).Interface().(models.StepConfig)
	raw, err = json.Marshal(resolved)
	if err != nil {
		return nil, actions.NewConfigError(fmt.Errorf("step %s: %w", step.ID, err))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, actions.NewConfigError(fmt.Errorf("step %s: resolved config no longer matches schema: %w", step.ID, err))
	}
	return out, nil
}

func resolveValue(v any, runCtx map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, runCtx)
	case map[string]any:
		for k, item := range val {
			resolved, err := resolveValue(item, runCtx)
			if err != nil {
				return nil, err
			}
			val[k] = resolved
		}
		return val, nil
	case []any:
		for i, item := range val {
			resolved, err := resolveValue(item, runCtx)
			if err != nil {
				return nil, err
			}
			val[i] = resolved
		}
		return val, nil
	default:
		return v, nil
	}
}

func resolveString(s string, runCtx map[string]any) (any, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// A string that is exactly one placeholder keeps the referenced
	// value's type; anything else is string interpolation.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		key := s[matches[0][2]:matches[0][3]]
		val, ok := lookupRunContext(runCtx, key)
		if !ok {
			return nil, fmt.Errorf("reference %q not found in run context", key)
		}
		return val, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		key := s[m[2]:m[3]]
		val, ok := lookupRunContext(runCtx, key)
		if !ok {
			return nil, fmt.Errorf("reference %q not found in run context", key)
		}
		fmt.Fprintf(&b, "%v", val)
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func lookupRunContext(runCtx map[string]any, path string) (any, bool) {
	cur := any(runCtx)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
