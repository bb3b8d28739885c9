package configs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/mx-space/promptai/internal/config"
)

func deepMergeJSON(oldVal, newVal interface{}) interface{} {
	oldMap, oldIsMap := oldVal.(map[string]interface{})
	newMap, newIsMap := newVal.(map[string]interface{})
	if oldIsMap && newIsMap {
		out := make(map[string]interface{}, len(oldMap))
		for k, v := range oldMap {
			out[k] = v
		}
		for k, v := range newMap {
			if existing, ok := out[k]; ok {
				out[k] = deepMergeJSON(existing, v)
				continue
			}
			out[k] = v
		}
		return out
	}

	// Arrays should be replaced as a whole.
	return newVal
}

func hasEnabledAIProvider(providers []config.AIProvider) bool {
	for _, provider := range providers {
		if provider.Enabled {
			return true
		}
	}
	return false
}

func parseBoolFromAny(v interface{}) (bool, bool) {
	switch value := v.(type) {
	case bool:
		return value, true
	case string:
		switch strings.TrimSpace(strings.ToLower(value)) {
		case "1", "true", "yes", "on":
			return true, true
		case "0", "false", "no", "off", "":
			return false, true
		}
	case float64:
		return value != 0, true
	case int:
		return value != 0, true
	}
	return false, false
}

func normalizeConfigSection(key string, v interface{}) interface{} {
	switch key {
	case "prompt_ai":
		return normalizePromptAIOptions(v)
	case "ai":
		return normalizeAIConfig(v)
	default:
		return v
	}
}

// normalizePromptAIOptions accepts form-style values: checkbox strings, numeric
// strings and a matrix sent as a JSON array instead of its encoded text.
func normalizePromptAIOptions(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	out := make(map[string]interface{}, len(m))
	for k, val := range m {
		out[k] = val
	}
	for _, field := range []string{"individual_buttons", "streaming", "extended_document_types"} {
		if raw, ok := out[field]; ok {
			if b, ok := parseBoolFromAny(raw); ok {
				out[field] = b
			}
		}
	}
	if raw, ok := out["max_output_tokens"].(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			n = 0
		}
		out["max_output_tokens"] = n
	}
	switch matrix := out["prompt_matrix"].(type) {
	case []interface{}, map[string]interface{}:
		if b, err := json.Marshal(matrix); err == nil {
			out["prompt_matrix"] = string(b)
		}
	case nil:
		if _, present := out["prompt_matrix"]; present {
			out["prompt_matrix"] = "[]"
		}
	}
	return out
}

func normalizeAIConfig(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	providers, ok := m["providers"].([]interface{})
	if !ok {
		return m
	}
	for _, item := range providers {
		p, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if raw, exists := p["enabled"]; exists {
			if b, ok := parseBoolFromAny(raw); ok {
				p["enabled"] = b
			}
		}
		if t, ok := p["type"].(string); ok {
			p["type"] = strings.ToLower(strings.TrimSpace(t))
		}
	}
	return m
}

func normalizeOptionKey(key string) string {
	return camelToSnakeKey(key)
}

func normalizeJSONKeys(raw json.RawMessage, keyFn func(string) string) (json.RawMessage, error) {
	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("invalid json body")
	}
	return json.Marshal(convertMapKeys(data, keyFn))
}

func convertMapKeys(v interface{}, keyFn func(string) string) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if k == "prompt_matrix" || k == "promptMatrix" {
				// rule keys are stored verbatim
				out[keyFn(k)] = child
				continue
			}
			out[keyFn(k)] = convertMapKeys(child, keyFn)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = convertMapKeys(child, keyFn)
		}
		return out
	case *config.FullConfig:
		if val == nil {
			return nil
		}
		b, _ := json.Marshal(val)
		var m map[string]interface{}
		_ = json.Unmarshal(b, &m)
		return convertMapKeys(m, keyFn)
	default:
		return val
	}
}

func snakeToCamelKey(s string) string {
	parts := strings.Split(s, "_")
	if len(parts) == 1 {
		return s
	}
	out := make([]rune, 0, len(s))
	out = append(out, []rune(parts[0])...)
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		runes := []rune(strings.ToLower(part))
		runes[0] = unicode.ToUpper(runes[0])
		out = append(out, runes...)
	}
	return string(out)
}

func camelToSnakeKey(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) == 0 {
		return ""
	}
	out := make([]rune, 0, len(runes)+4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower {
					out = append(out, '_')
				}
			}
			out = append(out, unicode.ToLower(r))
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
