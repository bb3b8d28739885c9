package promptai

import (
	"encoding/json"
	"strings"
)

type Mode string

const (
	ModeInline Mode = "inline"
	ModePage   Mode = "page"
)

const (
	DefaultTargetSubfield = "description"
	untitledPrompt        = "Untitled Prompt"
)

// Rule is one entry of the prompt matrix.
type Rule struct {
	Mode      Mode
	Templates []int // nil means every template
	Fields    []int
	Prompt    string
	Label     string
	// OverwriteTarget false means a field that already has content is left alone.
	OverwriteTarget    bool
	TargetSubfield     string
	IgnoreFieldContent bool
}

// DisplayLabel is the label shown on buttons and menus.
func (r Rule) DisplayLabel() string {
	if strings.TrimSpace(r.Label) == "" {
		return untitledPrompt
	}
	return r.Label
}

func (r Rule) subfield() string {
	if s := strings.TrimSpace(r.TargetSubfield); s != "" {
		return s
	}
	return DefaultTargetSubfield
}

func (r Rule) hasField(fieldID int) bool {
	for _, id := range r.Fields {
		if id == fieldID {
			return true
		}
	}
	return false
}

// ruleJSON is the stored shape of a rule.
type ruleJSON struct {
	Mode               *string `json:"mode,omitempty"`
	Templates          []int   `json:"templates,omitempty"`
	Fields             []int   `json:"fields"`
	Prompt             string  `json:"prompt"`
	Label              string  `json:"label,omitempty"`
	OverwriteTarget    bool    `json:"overwriteTarget,omitempty"`
	TargetSubfield     string  `json:"targetSubfield,omitempty"`
	IgnoreFieldContent bool    `json:"ignoreFieldContent,omitempty"`
}

// MarshalJSON leaves out optional keys that hold their default value.
func (r Rule) MarshalJSON() ([]byte, error) {
	mode := string(r.Mode)
	out := ruleJSON{
		Mode:               &mode,
		Templates:          r.Templates,
		Fields:             r.Fields,
		Prompt:             r.Prompt,
		Label:              r.Label,
		OverwriteTarget:    r.OverwriteTarget,
		IgnoreFieldContent: r.IgnoreFieldContent,
	}
	if out.Fields == nil {
		out.Fields = []int{}
	}
	if sub := r.subfield(); sub != DefaultTargetSubfield {
		out.TargetSubfield = sub
	}
	return json.Marshal(out)
}

// SerializeRules encodes rules in the stored matrix format.
func SerializeRules(rules []Rule) (string, error) {
	if rules == nil {
		rules = []Rule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
