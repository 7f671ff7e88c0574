package crm

// Compatibility shims for the CRM's loosely specified response shapes.
// Each extractor applies an ordered list of candidate field locations and
// takes the first match. Known shape drift is confined to this file.

// extractToken pulls the access token out of a login response body.
// Candidates, in priority order: data.accessToken, data.access_token,
// accessToken, access_token, token.
func extractToken(body map[string]any) (string, bool) {
	if inner := asMap(body["data"]); inner != nil {
		if tok, ok := firstString(inner, "accessToken", "access_token"); ok {
			return tok, true
		}
	}
	return firstString(body, "accessToken", "access_token", "token")
}

// extractList pulls the package list out of a response. Candidates:
// the "packages" key, the "data" key, or the response itself being a list.
// Anything else yields an empty list.
func extractList(result any) []any {
	if m := asMap(result); m != nil {
		if list, ok := m["packages"].([]any); ok {
			return list
		}
		if list, ok := m["data"].([]any); ok {
			return list
		}
		return nil
	}
	if list, ok := result.([]any); ok {
		return list
	}
	return nil
}

// firstString returns the first candidate key whose value is a non-empty string
func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// firstNumber returns the first candidate key holding a JSON number
func firstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if n, ok := m[key].(float64); ok {
			return n, true
		}
	}
	return 0, false
}

// firstValue returns the first candidate key with a non-nil value
func firstValue(m map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// asMap narrows a decoded JSON value to an object, or nil
func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// stringList narrows a decoded JSON array to its string elements.
// Missing or malformed input yields an empty, non-nil list.
func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
