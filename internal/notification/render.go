package notification

import (
	"fmt"
	"strings"
)

// Render substitutes `{{name}}` and dotted-path tokens in tmpl against ctx,
// returning "" for anything undefined. This is a standard-library-only
// component (see DESIGN.md): text/template has no "undefined key -> empty
// string" mode that doesn't also require a custom missingkey shim, and
// nothing in the available third-party stack implements mustache-style
// substitution, so a small hand-written token scanner matches the contract
// exactly. Rendering is pure and deterministic; it performs no I/O.
func Render(tmpl string, ctx map[string]interface{}) string {
	var out strings.Builder
	out.Grow(len(tmpl))

	i := 0
	for i < len(tmpl) {
		start := strings.Index(tmpl[i:], "{{")
		if start < 0 {
			out.WriteString(tmpl[i:])
			break
		}
		start += i
		out.WriteString(tmpl[i:start])

		end := strings.Index(tmpl[start:], "}}")
		if end < 0 {
			// Unterminated token: emit the rest verbatim.
			out.WriteString(tmpl[start:])
			break
		}
		end += start

		key := strings.TrimSpace(tmpl[start+2 : end])
		out.WriteString(lookup(ctx, key))

		i = end + 2
	}

	return out.String()
}

// lookup resolves a dotted path (e.g. "user.first_name") against a nested
// context map, returning "" if any segment is missing or not a map/string.
func lookup(ctx map[string]interface{}, path string) string {
	if path == "" {
		return ""
	}

	segments := strings.Split(path, ".")
	var current interface{} = ctx

	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return ""
		}
		v, ok := m[seg]
		if !ok {
			return ""
		}
		current = v
	}

	return stringify(current)
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
