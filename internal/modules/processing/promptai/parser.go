package promptai

import (
	"encoding/json"
	"strings"

	"github.com/mx-space/promptai/internal/pkg/notice"
)

// ParseRules decodes and validates the stored prompt matrix against the catalog.
// Invalid entries are dropped; when notes is non-nil each one is reported with
// its 1-based position. Parsing never stops at the first bad entry.
func ParseRules(raw string, cat *Catalog, notes *notice.List) []Rule {
	rules := []Rule{}
	if strings.TrimSpace(raw) == "" {
		return rules
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		notes.Error("Invalid JSON format in prompt configuration")
		return rules
	}

	for i, entry := range entries {
		n := i + 1
		var in ruleJSON
		if err := json.Unmarshal(entry, &in); err != nil {
			notes.Error("Invalid prompt configuration %d", n)
			continue
		}

		mode := entryMode(entry)
		if mode != ModeInline && mode != ModePage {
			notes.Error("Invalid mode in configuration %d", n)
			continue
		}
		if len(in.Fields) == 0 {
			notes.Error("Fields are missing in configuration %d", n)
			continue
		}
		if strings.TrimSpace(in.Prompt) == "" {
			notes.Error("Prompt is missing in configuration %d", n)
			continue
		}
		if !templatesExist(in.Templates, cat, notes, n) {
			continue
		}
		if !fieldsExist(in.Fields, cat, notes, n) {
			continue
		}

		rule := Rule{
			Mode:               mode,
			Fields:             in.Fields,
			Prompt:             in.Prompt,
			Label:              in.Label,
			OverwriteTarget:    in.OverwriteTarget,
			TargetSubfield:     strings.TrimSpace(in.TargetSubfield),
			IgnoreFieldContent: in.IgnoreFieldContent,
		}
		if len(in.Templates) > 0 {
			rule.Templates = in.Templates
		}
		if rule.TargetSubfield == "" {
			rule.TargetSubfield = DefaultTargetSubfield
		}
		rules = append(rules, rule)
	}
	return rules
}

// entryMode reads the mode key. Only an absent key defaults to inline;
// null or any other non-string value yields an invalid mode.
func entryMode(entry json.RawMessage) Mode {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(entry, &keys); err != nil {
		return ""
	}
	raw, ok := keys["mode"]
	if !ok {
		return ModeInline
	}
	var mode string
	if err := json.Unmarshal(raw, &mode); err != nil {
		return ""
	}
	return Mode(mode)
}

func templatesExist(ids []int, cat *Catalog, notes *notice.List, n int) bool {
	for _, id := range ids {
		if cat == nil || !cat.templateSelectable(id) {
			notes.Error("Template ID %d does not exist in configuration %d", id, n)
			return false
		}
	}
	return true
}

func fieldsExist(ids []int, cat *Catalog, notes *notice.List, n int) bool {
	for _, id := range ids {
		var def *FieldDef
		if cat != nil {
			def, _ = cat.Field(id)
		}
		if def == nil || !cat.fieldSelectable(def) {
			notes.Error("Field ID %d does not exist in configuration %d", id, n)
			return false
		}
	}
	return true
}
