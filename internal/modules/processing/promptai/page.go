package promptai

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mx-space/promptai/internal/modules/processing/ai"
)

// AllRules asks RunPage for every relevant page rule.
const AllRules = -1

const submitActionPrefix = "save_and_chat"

var submitActionPattern = regexp.MustCompile(`^save_and_chat_(\d+)$`)

// ParseSubmitAction maps an editor submit action to a rule index.
// ok is false when the action does not request AI processing.
func ParseSubmitAction(action string) (index int, ok bool) {
	if !strings.HasPrefix(action, submitActionPrefix) {
		return 0, false
	}
	if m := submitActionPattern.FindStringSubmatch(action); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			// out of range, so it can never name a stored rule
			return math.MaxInt, true
		}
		return n, true
	}
	return AllRules, true
}

// PageRun describes one page-mode trigger.
type PageRun struct {
	RuleIndex int
	// LastModified is the entity's modification time before the triggering save.
	LastModified time.Time
}

// PageResult summarises a page-mode pass.
type PageResult struct {
	Rules     int  `json:"rules"`
	Writes    int  `json:"writes"`
	Throttled bool `json:"throttled,omitempty"`
}

// target is an entity being processed with its placeholder context.
type target struct {
	entity Entity
	parent Entity
	item   Entity
}

// RunPage runs page-mode rules against a saved entity. Failures become notices.
func (e *Engine) RunPage(ctx context.Context, page Entity, rules []Rule, run PageRun) PageResult {
	var res PageResult
	if e.opts.Throttle > 0 && !run.LastModified.IsZero() && run.LastModified.After(e.opts.Now().Add(-e.opts.Throttle)) {
		e.notes.Warning("Please wait some time before you try to send again.")
		res.Throttled = true
		return res
	}

	selected, err := e.selectPageRules(ctx, page, rules, run.RuleIndex)
	if err != nil {
		e.notes.Error("%s", ruleErrorText(err, run.RuleIndex))
		return res
	}
	for _, r := range selected {
		res.Rules++
		res.Writes += e.dispatch(ctx, page, r)
	}
	return res
}

func (e *Engine) selectPageRules(ctx context.Context, page Entity, rules []Rule, index int) ([]IndexedRule, error) {
	relevant := e.RelevantPrompts(ctx, page, rules)
	if index == AllRules {
		return filterMode(relevant, ModePage), nil
	}
	if index < 0 || index >= len(rules) {
		return nil, ErrRuleNotFound
	}
	if rules[index].Mode != ModePage {
		return nil, ErrRuleWrongMode
	}
	r, ok := relevantIndex(relevant, index)
	if !ok {
		return nil, ErrRuleNotRelevant
	}
	return []IndexedRule{r}, nil
}

func ruleErrorText(err error, index int) string {
	switch {
	case errors.Is(err, ErrRuleNotFound):
		return "Prompt configuration not found"
	case errors.Is(err, ErrRuleWrongMode):
		return "Prompt configuration " + strconv.Itoa(index) + " is not a page mode prompt"
	case errors.Is(err, ErrRuleNotRelevant):
		return "Prompt configuration " + strconv.Itoa(index) + " does not apply to this page"
	default:
		return err.Error()
	}
}

// dispatch processes the page's own fields, its matching blocks and the items
// of any repeater named by the rule. It returns the number of writes.
func (e *Engine) dispatch(ctx context.Context, page Entity, r IndexedRule) int {
	writes := 0
	unrestricted := len(r.Rule.Templates) == 0

	if unrestricted || TemplateMatches(r.Rule.Templates, page.TemplateID()) {
		writes += e.processFields(ctx, target{entity: page, parent: page}, r)
	}

	writes += e.processBlocks(ctx, page, r, unrestricted)

	for _, tid := range r.Rule.Templates {
		name, ok := e.catalog.RepeaterName(tid)
		if !ok {
			continue
		}
		for _, item := range entitiesOf(page.Get(name)) {
			if item.TemplateID() != tid {
				continue
			}
			writes += e.processFields(ctx, target{entity: item, parent: page, item: item}, r)
		}
	}
	return writes
}

func (e *Engine) processBlocks(ctx context.Context, page Entity, r IndexedRule, unrestricted bool) int {
	wanted := map[int]bool{}
	for _, tid := range r.Rule.Templates {
		if e.catalog.IsBlockTemplate(tid) {
			wanted[tid] = true
		}
	}
	if !unrestricted && len(wanted) == 0 {
		return 0
	}

	fresh, err := e.freshCopy(ctx, page)
	if err != nil {
		e.notes.Error("Could not load page %s: %v", page.ID(), err)
		return 0
	}
	writes := 0
	for _, f := range e.catalog.BlockFields(fresh.TemplateID()) {
		for _, block := range entitiesOf(fresh.Get(f.Name)) {
			if !unrestricted && !wanted[block.TemplateID()] {
				continue
			}
			writes += e.processFields(ctx, target{entity: block, parent: block}, r)
		}
	}
	return writes
}

func (e *Engine) processFields(ctx context.Context, t target, r IndexedRule) int {
	writes := 0
	for _, fieldID := range r.Rule.Fields {
		def, ok := e.catalog.Field(fieldID)
		if !ok {
			e.notes.Error("Field with ID %d does not exist", fieldID)
			continue
		}
		if !e.catalog.TemplateHasField(t.entity.TemplateID(), fieldID) {
			continue
		}
		switch def.Kind {
		case KindFile:
			writes += e.processFileField(ctx, t, def, r)
		case KindText:
			if e.processTextField(ctx, t, def, r) {
				writes++
			}
		}
	}
	return writes
}

func (e *Engine) processTextField(ctx context.Context, t target, def *FieldDef, r IndexedRule) bool {
	value := stringify(t.entity.Get(def.Name))
	rule := r.Rule

	if !rule.OverwriteTarget && value != "" {
		e.notes.Warning("Field skipped (already has content): %s", def.DisplayLabel())
		return false
	}
	if value == "" && !rule.IgnoreFieldContent {
		return false
	}

	content := value
	if rule.IgnoreFieldContent {
		content = ""
	}
	prompt := SubstituteAndPreparePrompt(rule.Prompt, t.parent, content, t.item, e.notes)
	result, err := e.chat(ctx, ai.Message{Prompt: prompt}, callInfo{ruleIndex: r.Index, field: def.Name, entityID: t.entity.ID()})
	if err != nil {
		if !errors.Is(err, ai.ErrEmptyResponse) {
			e.notes.Error("%s: %v", def.DisplayLabel(), err)
		}
		return false
	}
	if strings.TrimSpace(result) == "" {
		return false
	}

	t.entity.Set(def.Name, result)
	if err := e.store.SaveField(ctx, t.entity, def.Name); err != nil {
		e.notes.Error("Could not save %s: %v", def.DisplayLabel(), err)
		return false
	}
	return true
}

func (e *Engine) processFileField(ctx context.Context, t target, def *FieldDef, r IndexedRule) int {
	files := filesOf(t.entity.Get(def.Name))
	if len(files) == 0 {
		return 0
	}
	if e.client == nil {
		e.notes.Error("%s: %v", def.DisplayLabel(), e.clientErr)
		return 0
	}
	if !ai.SupportsFiles(e.client.ProviderType()) {
		e.notes.Error("%s is currently not supported for file or image fields.", ai.DisplayName(e.client.ProviderType()))
		return 0
	}

	rule := r.Rule
	subfield := rule.subfield()
	var skipped []string
	writes := 0

	for _, f := range files {
		if !rule.OverwriteTarget && f.Subfield(subfield) != "" {
			skipped = append(skipped, f.Basename)
			continue
		}

		att, err := e.attachment(ctx, def, f)
		if err != nil {
			e.notes.Error("%s: %v", def.DisplayLabel(), err)
			continue
		}
		prompt := SubstituteAndPreparePrompt(rule.Prompt, t.parent, "", t.item, e.notes)
		result, err := e.chat(ctx, ai.Message{Prompt: prompt, Attachment: att}, callInfo{ruleIndex: r.Index, field: def.Name + "/" + f.Basename, entityID: t.entity.ID()})
		if err != nil {
			if !errors.Is(err, ai.ErrEmptyResponse) {
				e.notes.Error("%s (%s): %v", def.DisplayLabel(), f.Basename, err)
			}
			continue
		}
		if strings.TrimSpace(result) == "" {
			continue
		}

		f.SetSubfield(subfield, result)
		if err := e.store.SaveFile(ctx, t.entity, def.Name, f); err != nil {
			e.notes.Error("%v", err)
			continue
		}
		writes++
	}

	if len(skipped) > 0 {
		e.notes.Warning("Files skipped in field %s: %s", def.DisplayLabel(), strings.Join(skipped, ", "))
	}
	return writes
}
