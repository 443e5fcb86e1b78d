package roddom

import (
	"encoding/json"
	"fmt"

	"github.com/sable-inc/sable-smart-links-sub000/dom"
)

// bindingName is the runtime binding bridge.js reports through.
const bindingName = "__tourguide_binding"

// Message kinds sent by bridge.js.
const (
	kindMutation = "mutation"
	kindEvent    = "event"
	kindNavigate = "navigate"
)

// message is one binding payload.
type message struct {
	Kind string `json:"kind"`

	// event
	ID     int    `json:"id,omitempty"`
	Type   string `json:"type,omitempty"`
	Target int    `json:"target,omitempty"` // 0: the listened element itself
	Value  string `json:"value,omitempty"`

	// navigate
	Nav string `json:"nav,omitempty"`
	URL string `json:"url,omitempty"`
}

func parseMessage(payload string) (message, error) {
	var m message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return message{}, fmt.Errorf("roddom: parse binding payload: %w", err)
	}
	switch m.Kind {
	case kindMutation:
	case kindEvent:
		if m.ID <= 0 || m.Type == "" {
			return message{}, fmt.Errorf("roddom: event without listener id or type")
		}
	case kindNavigate:
		if _, ok := navKind(m.Nav); !ok {
			return message{}, fmt.Errorf("roddom: unknown navigation %q", m.Nav)
		}
	default:
		return message{}, fmt.Errorf("roddom: unknown message kind %q", m.Kind)
	}
	return m, nil
}

// navKind maps a bridge navigation name. Loads come from CDP, never from
// the page.
func navKind(s string) (dom.NavKind, bool) {
	switch k := dom.NavKind(s); k {
	case dom.NavUnload, dom.NavPopState, dom.NavPush, dom.NavReplace, dom.NavAnchor:
		return k, true
	}
	return "", false
}
