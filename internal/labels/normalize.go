package labels

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// reservedOptions lists per-field options that are never offered to the
// model, even when the dictionary declares them.
var reservedOptions = map[string]string{
	"Velocity": "quiet",
}

// ReservedOption returns the sentinel value excluded for field, if any.
func ReservedOption(field string) (string, bool) {
	opt, ok := reservedOptions[field]
	return opt, ok
}

// Normalize maps raw sample tags onto the schema vocabulary. Fields missing
// from raw are omitted. Multi-valued fields always yield a (possibly empty)
// list of matched options; single-valued fields are omitted when no option
// matches. Matching is case-insensitive and returns the canonical option.
func Normalize(raw map[string]any, schema *Schema) map[string]any {
	out := make(map[string]any)
	if schema == nil {
		return out
	}
	fold := cases.Fold()
	key := func(s string) string { return fold.String(strings.TrimSpace(s)) }

	for _, name := range schema.names {
		value, present := raw[name]
		if !present {
			continue
		}
		options := candidateOptions(schema.fields[name], key)

		if schema.IsMultiValued(name) {
			matched := []string{}
			for _, candidate := range ParseMultiValue(value) {
				if opt, ok := options[key(candidate)]; ok {
					matched = append(matched, opt)
				}
			}
			out[name] = matched
			continue
		}

		if opt, ok := options[key(scalarString(value))]; ok {
			out[name] = opt
		}
	}
	return out
}

func candidateOptions(f Field, key func(string) string) map[string]string {
	reserved, hasReserved := reservedOptions[f.Name]
	options := make(map[string]string, len(f.Options))
	for _, opt := range f.Options {
		k := key(opt)
		if hasReserved && k == key(reserved) {
			continue
		}
		if _, dup := options[k]; !dup {
			options[k] = opt
		}
	}
	return options
}

// ParseMultiValue splits a multi-valued tag into trimmed, non-empty strings.
// Lists are taken element-wise; scalars are split on commas.
func ParseMultiValue(value any) []string {
	var parts []string
	switch v := value.(type) {
	case nil:
		return nil
	case []string:
		parts = v
	case []any:
		parts = make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, scalarString(item))
		}
	default:
		parts = strings.Split(scalarString(v), ",")
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func scalarString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case []any, []string, map[string]any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
