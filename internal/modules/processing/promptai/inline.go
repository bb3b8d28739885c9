package promptai

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mx-space/promptai/internal/modules/processing/ai"
)

// InlineRequest is one interactive AI request for a single field.
type InlineRequest struct {
	Content        string `json:"content"`
	Prompt         string `json:"prompt"`
	PromptIndex    *int   `json:"prompt_index"`
	PageID         string `json:"page_id"`
	RepeaterItemID string `json:"repeater_item_id"`
	ImageField     string `json:"image_field"`
	ImageBasename  string `json:"image_basename"`
	TargetSubfield string `json:"target_subfield"`
}

// InlinePrompt is the editor-side view of an inline rule.
type InlinePrompt struct {
	Label          string `json:"label"`
	Prompt         string `json:"prompt"`
	TargetSubfield string `json:"targetSubfield"`
}

// InlinePrompts lists every parsed rule by index for the editor script.
func InlinePrompts(rules []Rule) map[int]InlinePrompt {
	out := make(map[int]InlinePrompt, len(rules))
	for i, r := range rules {
		out[i] = InlinePrompt{Label: r.DisplayLabel(), Prompt: r.Prompt, TargetSubfield: r.subfield()}
	}
	return out
}

// RunInline builds the prompt for one field and returns the AI reply. When
// onChunk is set the reply is streamed through it. Nothing is written.
func (e *Engine) RunInline(ctx context.Context, rules []Rule, req InlineRequest, onChunk func(string) error) (string, error) {
	prompt, ignoreContent, index, err := inlinePrompt(rules, req)
	if err != nil {
		return "", err
	}

	var parent, item Entity
	if req.PageID != "" {
		if parent, err = e.store.Fetch(ctx, req.PageID); err != nil {
			return "", err
		}
	}
	if req.RepeaterItemID != "" {
		if item, err = e.store.Fetch(ctx, req.RepeaterItemID); err != nil {
			return "", err
		}
	}

	msg := ai.Message{}
	content := req.Content
	field := ""
	if req.ImageField != "" && req.ImageBasename != "" {
		owner := item
		if owner == nil {
			owner = parent
		}
		att, name, err := e.inlineAttachment(ctx, owner, req.ImageField, req.ImageBasename)
		if err != nil {
			return "", err
		}
		msg.Attachment = att
		field = name
		content = ""
	}
	if ignoreContent {
		content = ""
	}
	msg.Prompt = SubstituteAndPreparePrompt(prompt, parent, content, item, e.notes)

	info := callInfo{ruleIndex: index, field: field}
	if parent != nil {
		info.entityID = parent.ID()
	}
	if onChunk == nil {
		return e.chat(ctx, msg, info)
	}
	return e.stream(ctx, msg, info, onChunk)
}

func inlinePrompt(rules []Rule, req InlineRequest) (prompt string, ignoreContent bool, index int, err error) {
	index = AllRules
	prompt = req.Prompt
	if req.PromptIndex != nil {
		index = *req.PromptIndex
		if index < 0 || index >= len(rules) {
			return "", false, index, ErrRuleNotFound
		}
		rule := rules[index]
		if rule.Mode != ModeInline {
			return "", false, index, ErrRuleWrongMode
		}
		prompt = rule.Prompt
		ignoreContent = rule.IgnoreFieldContent
	}
	if strings.TrimSpace(prompt) == "" {
		return "", false, index, ErrEmptyPrompt
	}
	return prompt, ignoreContent, index, nil
}

func (e *Engine) inlineAttachment(ctx context.Context, owner Entity, inputName, basename string) (*ai.Attachment, string, error) {
	if owner == nil {
		return nil, "", fmt.Errorf("%w: %s", ErrFileNotFound, basename)
	}
	name := ExtractFieldName(inputName)
	def, ok := e.catalog.FieldByName(name)
	if !ok || def.Kind != KindFile {
		return nil, name, fmt.Errorf("%w: %s is not a file field", ErrFileNotFound, name)
	}
	if e.client != nil && !ai.SupportsFiles(e.client.ProviderType()) {
		return nil, name, fmt.Errorf("%w: %s is currently not supported for file or image fields", ai.ErrProviderNoFiles, ai.DisplayName(e.client.ProviderType()))
	}
	for _, f := range filesOf(owner.Get(name)) {
		if f.Basename == basename {
			att, err := e.attachment(ctx, def, f)
			return att, name, err
		}
	}
	return nil, name, fmt.Errorf("%w: %s", ErrFileNotFound, basename)
}

var (
	hashedInputPattern   = regexp.MustCompile(`(?i)^(.+)_([a-f0-9]{32})$`)
	repeaterSuffix       = regexp.MustCompile(`_repeater(\d+)$`)
	repeaterInputPattern = regexp.MustCompile(`^(.+?)_repeater\d+$`)
	languageInputPattern = regexp.MustCompile(`^(.+)__\d+$`)
)

// ExtractFieldName recovers the field name from a rendered input name, e.g.
// body_repeater1041 -> body, title__1012 -> title and
// alt_text_images_<hash> -> images.
func ExtractFieldName(input string) string {
	if m := hashedInputPattern.FindStringSubmatch(input); m != nil {
		prefix := m[1]
		if loc := repeaterSuffix.FindStringIndex(prefix); loc != nil {
			prefix = prefix[:loc[0]]
		}
		if i := strings.LastIndex(prefix, "_"); i >= 0 {
			return prefix[i+1:]
		}
		return prefix
	}
	if m := repeaterInputPattern.FindStringSubmatch(input); m != nil {
		return m[1]
	}
	if m := languageInputPattern.FindStringSubmatch(input); m != nil {
		return m[1]
	}
	return input
}

// FieldPrompts returns the indices of inline rules offered on a field of entity.
func FieldPrompts(rules []Rule, entity Entity, fieldID int) []int {
	out := []int{}
	for i, r := range rules {
		if r.Mode != ModeInline {
			continue
		}
		if !TemplateMatches(r.Templates, entity.TemplateID()) {
			continue
		}
		if !r.hasField(fieldID) {
			continue
		}
		out = append(out, i)
	}
	return out
}
