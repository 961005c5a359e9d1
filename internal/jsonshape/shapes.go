package jsonshape

import "encoding/json"

// FunctionCall is the normalized form of a model-emitted function call.
type FunctionCall struct {
	Name string
	// Arguments is either the decoded object or, when the model emitted a
	// JSON string that itself fails to parse, the raw string.
	Arguments any
}

// CheckFunctionCall accepts any of the shapes models emit for function
// calls: tool_calls[0].function.{name,arguments}, function_call.{name,
// arguments}, or a flattened {name, arguments} object.
func CheckFunctionCall(v any) (FunctionCall, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return FunctionCall{}, false
	}

	if calls, ok := obj["tool_calls"].([]any); ok && len(calls) > 0 {
		if first, ok := calls[0].(map[string]any); ok {
			if fn, ok := first["function"].(map[string]any); ok {
				return functionFromObject(fn)
			}
		}
		return FunctionCall{}, false
	}

	if fn, ok := obj["function_call"].(map[string]any); ok {
		return functionFromObject(fn)
	}

	return functionFromObject(obj)
}

func functionFromObject(obj map[string]any) (FunctionCall, bool) {
	name, ok := obj["name"].(string)
	if !ok || name == "" {
		return FunctionCall{}, false
	}
	args, present := obj["arguments"]
	if !present {
		return FunctionCall{}, false
	}
	// Arguments may arrive as an embedded object or a JSON string.
	if s, ok := args.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			args = decoded
		}
	}
	return FunctionCall{Name: name, Arguments: args}, true
}

// ToolCall is the normalized form of a server/tool (MCP-style) call.
type ToolCall struct {
	Server string
	Target string
}

// CheckToolCall accepts a direct {server, uri|tool|name|method} object, or
// a wrapping {calls:[...]} / {mcp:[...]} list checked at its first element
// only.
func CheckToolCall(v any) (ToolCall, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return ToolCall{}, false
	}

	for _, wrapper := range []string{"calls", "mcp"} {
		if list, ok := obj[wrapper].([]any); ok {
			if len(list) == 0 {
				return ToolCall{}, false
			}
			first, ok := list[0].(map[string]any)
			if !ok {
				return ToolCall{}, false
			}
			return toolFromObject(first)
		}
	}

	return toolFromObject(obj)
}

func toolFromObject(obj map[string]any) (ToolCall, bool) {
	server, ok := obj["server"].(string)
	if !ok || server == "" {
		return ToolCall{}, false
	}
	for _, key := range []string{"uri", "tool", "name", "method"} {
		if target, ok := obj[key].(string); ok && target != "" {
			return ToolCall{Server: server, Target: target}, true
		}
	}
	return ToolCall{}, false
}

// CheckPlanItems locates an items array (a top-level array or an "items"
// field) and reports its length. This mode measures richness, not
// pass/fail: zero items with ok=true means an explicitly empty plan.
func CheckPlanItems(v any) (int, bool) {
	if list, ok := v.([]any); ok {
		return len(list), true
	}
	if obj, ok := v.(map[string]any); ok {
		if list, ok := obj["items"].([]any); ok {
			return len(list), true
		}
	}
	return 0, false
}
