package keys

import "github.com/gdamore/tcell/v2"

// Action is one key binding: the key it answers to, the hint shown in
// the status bar, and the handler the shell runs.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches reports whether the event triggers this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

type namedAction struct {
	name   string
	action *Action
}

// Registry holds the shell's key bindings, scoped globally or to a
// single page. Dispatch and hint order follow registration order; a
// page binding shadows a global one on the same key.
type Registry struct {
	global []namedAction
	views  map[string][]namedAction
}

// NewRegistry creates an empty binding registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string][]namedAction)}
}

// AddGlobal registers a binding active on every page. Re-registering a
// name replaces the action in place.
func (r *Registry) AddGlobal(name string, action *Action) {
	r.global = upsert(r.global, name, action)
}

// AddView registers a binding active only on the named page.
func (r *Registry) AddView(view, name string, action *Action) {
	r.views[view] = upsert(r.views[view], name, action)
}

func upsert(list []namedAction, name string, action *Action) []namedAction {
	for i := range list {
		if list[i].name == name {
			list[i].action = action
			return list
		}
	}
	return append(list, namedAction{name: name, action: action})
}

// Hints returns the visible binding descriptions for a page, page
// bindings after the globals.
func (r *Registry) Hints(view string) []string {
	var hints []string
	for _, na := range r.global {
		if na.action.Visible {
			hints = append(hints, na.action.Description)
		}
	}
	for _, na := range r.views[view] {
		if na.action.Visible {
			hints = append(hints, na.action.Description)
		}
	}
	return hints
}

// HandleEvent dispatches a key event for the given page. It reports
// whether a handler ran.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	for _, na := range r.views[view] {
		if na.action.Matches(ev) {
			na.action.Handler()
			return true
		}
	}
	for _, na := range r.global {
		if na.action.Matches(ev) {
			na.action.Handler()
			return true
		}
	}
	return false
}
