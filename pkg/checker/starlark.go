package checker

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/catprev/catprev/pkg/catalog"
)

func init() {
	// Rule scripts are written as top-level statements (if blocks building
	// up the issues list), which the resolver rejects by default.
	resolve.AllowGlobalReassign = true
}

// StarlarkChecker evaluates a user-supplied Starlark rule script against
// every resource observed during the preview compile. The script is executed
// once per resource with a predeclared `resource` dict and is expected to
// leave a global `issues` list of {"severity", "message"} dicts; an empty or
// absent list means the resource passed.
type StarlarkChecker struct {
	Accumulator

	script  string
	name    string
	timeout time.Duration
}

// NewStarlarkChecker creates a checker from rule script source. The script
// is syntax-checked up front so malformed rules fail before any compile
// starts.
func NewStarlarkChecker(name, script string, timeout time.Duration) (*StarlarkChecker, error) {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	isPredeclared := func(n string) bool { return n == "resource" }
	if _, _, err := starlark.SourceProgram(name, script, isPredeclared); err != nil {
		return nil, fmt.Errorf("invalid migration rule script: %w", err)
	}

	return &StarlarkChecker{
		script:  script,
		name:    name,
		timeout: timeout,
	}, nil
}

// Observe implements Checker: the rule script runs against the resource and
// any reported issues are accumulated. Rule evaluation failures are recorded
// as error-severity issues rather than aborting the pass, so a single bad
// rule does not mask the rest of the preview.
func (sc *StarlarkChecker) Observe(res catalog.Resource) {
	issues, err := sc.evaluate(res)
	if err != nil {
		log.Warn().Err(err).Str("resource", res.Ref()).Msg("Migration rule evaluation failed")
		sc.Add(Issue{
			Severity: SeverityError,
			Resource: res.Ref(),
			Message:  fmt.Sprintf("rule evaluation failed: %v", err),
		})
		return
	}
	for _, issue := range issues {
		sc.Add(issue)
	}
}

func (sc *StarlarkChecker) evaluate(res catalog.Resource) ([]Issue, error) {
	thread := &starlark.Thread{
		Name: sc.name,
		Print: func(_ *starlark.Thread, msg string) {
			log.Debug().Str("rule", sc.name).Msg(msg)
		},
	}

	timer := time.AfterFunc(sc.timeout, func() {
		thread.Cancel("rule timeout")
	})
	defer timer.Stop()

	resourceVal, err := toStarlarkValue(map[string]any{
		"type":       res.Type,
		"title":      res.Title,
		"attributes": attributesToAny(res.Attributes),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert resource: %w", err)
	}

	predeclared := starlark.StringDict{
		"resource": resourceVal,
	}

	globals, err := starlark.ExecFile(thread, sc.name, sc.script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("rule execution failed: %w", err)
	}

	raw, ok := globals["issues"]
	if !ok {
		return nil, nil
	}

	return decodeIssues(raw, res.Ref())
}

// decodeIssues converts the script's `issues` global into Issue values.
func decodeIssues(v starlark.Value, resourceRef string) ([]Issue, error) {
	list, ok := v.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("issues must be a list, got %s", v.Type())
	}

	var issues []Issue
	for i := 0; i < list.Len(); i++ {
		goVal, err := fromStarlarkValue(list.Index(i))
		if err != nil {
			return nil, fmt.Errorf("issues[%d]: %w", i, err)
		}

		entry, ok := goVal.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("issues[%d] must be a dict", i)
		}

		issue := Issue{
			Severity: SeverityWarning,
			Resource: resourceRef,
		}
		if sev, ok := entry["severity"].(string); ok {
			issue.Severity = Severity(sev)
		}
		if msg, ok := entry["message"].(string); ok {
			issue.Message = msg
		}
		if issue.Message == "" {
			return nil, fmt.Errorf("issues[%d] has no message", i)
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func attributesToAny(attrs map[string]any) map[string]any {
	if attrs == nil {
		return map[string]any{}
	}
	return attrs
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value back to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
