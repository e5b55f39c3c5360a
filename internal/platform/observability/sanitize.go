package observability

import "unicode"

// clean strips control characters and truncates the value. Logged request
// attributes pass through here so header-injected newlines never reach the
// log stream.
func clean(value string, limit int) string {
	out := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return string(out)
}

func cleanRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, 180)
}
