package promptai

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/mx-space/promptai/internal/pkg/notice"
)

var placeholderPattern = regexp.MustCompile(`\{(page|item)\.([a-zA-Z0-9_]+)\}`)

// SubstitutePlaceholders resolves {page.name} against parent and {item.name}
// against item. Item tokens stay literal when item is nil.
func SubstitutePlaceholders(prompt string, parent, item Entity, notes *notice.List) string {
	if item == nil {
		for _, m := range placeholderPattern.FindAllStringSubmatch(prompt, -1) {
			if m[1] == "item" {
				notes.Warning("Placeholder %s used outside repeater context", m[0])
				break
			}
		}
	}

	return placeholderPattern.ReplaceAllStringFunc(prompt, func(token string) string {
		m := placeholderPattern.FindStringSubmatch(token)
		scope, name := m[1], m[2]

		source := parent
		if scope == "item" {
			if item == nil {
				return token
			}
			source = item
		}

		var value string
		if source != nil {
			value = stringify(source.Get(name))
		}
		if value == "" {
			notes.Warning("Placeholder %s: field not found or empty", token)
		}
		return value
	})
}

// SubstituteAndPreparePrompt substitutes placeholders and appends content on a new line.
func SubstituteAndPreparePrompt(prompt string, parent Entity, content string, item Entity, notes *notice.List) string {
	out := SubstitutePlaceholders(prompt, parent, item, notes)
	if content != "" {
		out += "\n" + content
	}
	return strings.TrimSpace(out)
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case *File:
		if val == nil {
			return ""
		}
		return val.Description()
	case []*File:
		parts := make([]string, 0, len(val))
		for _, f := range val {
			if d := f.Description(); d != "" {
				parts = append(parts, d)
			}
		}
		return strings.Join(parts, ", ")
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}
