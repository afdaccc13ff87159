package stack

func trustPolicy(statements ...map[string]any) map[string]any {
	return map[string]any{
		"Version":   "2012-10-17",
		"Statement": toAny(statements),
	}
}

func serviceTrust(service string, actions ...string) map[string]any {
	return map[string]any{
		"Effect":    "Allow",
		"Principal": map[string]any{"Service": service},
		"Action":    toAny(actions),
	}
}

func statement(sid string, actions []string, resources ...any) map[string]any {
	s := map[string]any{
		"Effect":   "Allow",
		"Action":   toAny(actions),
		"Resource": resources,
	}
	if sid != "" {
		s["Sid"] = sid
	}
	return s
}

func withCondition(s map[string]any, condition map[string]any) map[string]any {
	s["Condition"] = condition
	return s
}

func inlinePolicy(name string, statements ...map[string]any) map[string]any {
	return map[string]any{
		"PolicyName": name,
		"PolicyDocument": map[string]any{
			"Version":   "2012-10-17",
			"Statement": toAny(statements),
		},
	}
}

func toAny[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
