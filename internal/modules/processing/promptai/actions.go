package promptai

import (
	"context"
	"strconv"
)

// SubmitAction is an extra save button of the page editor.
type SubmitAction struct {
	Value string `json:"value"`
	Icon  string `json:"icon"`
	Label string `json:"label"`
}

// SubmitActions lists the "save and send to AI" buttons for entity. With
// individual buttons every relevant page rule gets its own button.
func (e *Engine) SubmitActions(ctx context.Context, entity Entity, rules []Rule, individual bool) []SubmitAction {
	actions := []SubmitAction{}
	if e.catalog.IsAdminTemplate(entity.TemplateID()) {
		return actions
	}
	relevant := filterMode(e.RelevantPrompts(ctx, entity, rules), ModePage)
	if len(relevant) == 0 {
		return actions
	}

	if !individual {
		return append(actions, SubmitAction{Value: submitActionPrefix, Icon: "magic", Label: "%s + Send to AI"})
	}
	for _, r := range relevant {
		actions = append(actions, SubmitAction{
			Value: submitActionPrefix + "_" + strconv.Itoa(r.Index),
			Icon:  "magic",
			Label: "%s + " + r.Rule.DisplayLabel(),
		})
	}
	return actions
}
