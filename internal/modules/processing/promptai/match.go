package promptai

import (
	"context"

	"go.uber.org/zap"
)

// IndexedRule is a rule together with its position in the parsed matrix.
type IndexedRule struct {
	Index int
	Rule  Rule
}

// TemplateMatches is true when templates is empty or contains templateID.
func TemplateMatches(templates []int, templateID int) bool {
	if len(templates) == 0 {
		return true
	}
	for _, id := range templates {
		if id == templateID {
			return true
		}
	}
	return false
}

// RelevantPrompts returns the rules that apply to entity, keeping their indices.
// Mode is not considered here.
func (e *Engine) RelevantPrompts(ctx context.Context, entity Entity, rules []Rule) []IndexedRule {
	var out []IndexedRule
	for i, rule := range rules {
		if e.relevant(ctx, entity, rule) {
			out = append(out, IndexedRule{Index: i, Rule: rule})
		}
	}
	return out
}

func (e *Engine) relevant(ctx context.Context, entity Entity, rule Rule) bool {
	if TemplateMatches(rule.Templates, entity.TemplateID()) {
		return true
	}
	for _, tid := range rule.Templates {
		if name, ok := e.catalog.RepeaterName(tid); ok && len(entitiesOf(entity.Get(name))) > 0 {
			return true
		}
	}
	for _, tid := range rule.Templates {
		if e.catalog.IsBlockTemplate(tid) && e.hasBlock(ctx, entity, tid) {
			return true
		}
	}
	return false
}

// hasBlock looks for a block of the template on a fresh copy of the entity,
// since block collections may be empty on the copy being saved.
func (e *Engine) hasBlock(ctx context.Context, entity Entity, templateID int) bool {
	fresh, err := e.freshCopy(ctx, entity)
	if err != nil {
		e.logger.Warn("fetch page for block lookup failed", zap.String("page", entity.ID()), zap.Error(err))
		return false
	}
	for _, f := range e.catalog.BlockFields(fresh.TemplateID()) {
		for _, block := range entitiesOf(fresh.Get(f.Name)) {
			if block.TemplateID() == templateID {
				return true
			}
		}
	}
	return false
}

func relevantIndex(relevant []IndexedRule, index int) (IndexedRule, bool) {
	for _, r := range relevant {
		if r.Index == index {
			return r, true
		}
	}
	return IndexedRule{}, false
}

func filterMode(rules []IndexedRule, mode Mode) []IndexedRule {
	var out []IndexedRule
	for _, r := range rules {
		if r.Rule.Mode == mode {
			out = append(out, r)
		}
	}
	return out
}
