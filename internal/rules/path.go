// Package rules implements the policy evaluation engine: path extraction over
// request bodies, leaf value decisions, recursive gate/sub-rule evaluation, and
// the merge aggregation that collapses structurally identical rules across
// privileges.
package rules

import (
	"strings"

	"github.com/tidwall/gjson"
)

// toGJSONPath translates a stored rule path expression to gjson syntax. Rule
// paths use the dollar-rooted form ("$.query.fields", "$.categories[0]"); gjson
// wants plain dotted paths with numeric indexes ("query.fields",
// "categories.0"). An empty or bare "$" path selects the whole document.
func toGJSONPath(rulePath string) string {
	p := strings.TrimSpace(rulePath)
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")

	// A trailing [*] projects every element. The evaluator iterates arrays
	// natively, so the projection selects the array itself.
	for _, suffix := range []string{".[*]", "[*]"} {
		if strings.HasSuffix(p, suffix) {
			p = strings.TrimSuffix(p, suffix)
			break
		}
	}

	if !strings.ContainsAny(p, "[]") {
		return p
	}
	var b []byte
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '[':
			if len(b) > 0 && b[len(b)-1] != '.' {
				b = append(b, '.')
			}
		case ']':
			// dropped
		default:
			b = append(b, p[i])
		}
	}
	return string(b)
}

// extract resolves a rule path against the parsed request body. The second
// return reports whether the path resolved at all; a path that resolves to an
// explicit JSON null is considered resolved.
func extract(body gjson.Result, rulePath string) (gjson.Result, bool) {
	p := toGJSONPath(rulePath)
	if p == "" {
		return body, body.Exists()
	}
	v := body.Get(p)
	return v, v.Exists()
}

// isEmptyValue reports whether an extracted value counts as empty for the
// IS_EMPTY / IS_NOT_EMPTY operators: JSON null, the empty string, an empty
// array, or an empty object.
func isEmptyValue(v gjson.Result) bool {
	switch {
	case v.Type == gjson.Null:
		return true
	case v.Type == gjson.String:
		return v.Str == ""
	case v.IsArray():
		return len(v.Array()) == 0
	case v.IsObject():
		return len(v.Map()) == 0
	}
	return false
}
