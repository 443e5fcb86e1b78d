package dom

// NavKind classifies a navigation signal.
type NavKind string

const (
	NavUnload   NavKind = "unload"   // page is about to be torn down
	NavPopState NavKind = "popstate" // history traversal
	NavPush     NavKind = "push"     // history.pushState by the host router
	NavReplace  NavKind = "replace"  // history.replaceState by the host router
	NavAnchor   NavKind = "anchor"   // click on a link that leaves the page
	NavLoad     NavKind = "load"     // a new document is loaded and its DOM is ready
)

// Navigation is one signal from the host's navigation layer.
type Navigation struct {
	Kind NavKind
	URL  string
}

// Leaving reports whether the signal precedes the current document going away
// or its route changing.
func (n Navigation) Leaving() bool {
	return n.Kind != NavLoad
}

// Navigator is the host's navigation layer. The engine subscribes once;
// backends translate history changes, link clicks, unload and load into
// Navigation values.
type Navigator interface {
	OnNavigate(fn func(Navigation)) (unsubscribe func())
}
