package tour

import (
	"github.com/sable-inc/sable-smart-links-sub000/dom"
	"github.com/sable-inc/sable-smart-links-sub000/overlay"
)

func boxRenderer(doc dom.Document) Renderer {
	return func(v View, act func(action, value string)) overlay.Factory {
		return overlay.NewBox(doc, v.Content, act)
	}
}

// content is the overlay content of step index with default buttons filled in.
func (e *Engine) content(index int) overlay.Content {
	reg := e.inst.tour
	st := reg.Steps[index]
	c := st.Overlay
	if len(c.Buttons) > 0 {
		return c
	}
	var btns []overlay.Button
	if index > 0 {
		btns = append(btns, overlay.Button{Action: overlay.ActionBack, Label: "Back"})
	}
	for _, ch := range st.Choices {
		btns = append(btns, overlay.Button{Action: overlay.ActionChoice, Label: ch.Label, Value: ch.Step})
	}
	if len(st.Choices) == 0 {
		label := "Next"
		if e.following(index) >= len(reg.Steps) && reg.Config.Final == nil {
			label = "Done"
		}
		btns = append(btns, overlay.Button{Action: overlay.ActionNext, Label: label})
	}
	btns = append(btns, overlay.Button{Action: overlay.ActionClose, Label: "Close"})
	c.Buttons = btns
	return c
}

// handleAction maps overlay buttons to engine operations for inst. Clicks
// arriving after inst is gone are dropped.
func (e *Engine) handleAction(inst *instance, final bool) func(action, value string) {
	return func(action, value string) {
		if e.inst != inst {
			return
		}
		if final {
			if action == overlay.ActionBack {
				e.Previous()
				return
			}
			e.finish(true, "completed")
			return
		}
		switch action {
		case overlay.ActionNext:
			e.Next()
		case overlay.ActionBack:
			e.Previous()
		case overlay.ActionClose:
			e.End()
		case overlay.ActionChoice:
			if !e.GoTo(value) {
				e.Next()
			}
		default:
			e.logger.Debug("tour: unknown overlay action", "action", action)
		}
	}
}
