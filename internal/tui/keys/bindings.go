// Package keys maps terminal key events to actions, scoped per page.
package keys

import "github.com/gdamore/tcell/v2"

// Binding ties one key to an action. Rune bindings use Key == tcell.KeyRune.
type Binding struct {
	Key  tcell.Key
	Rune rune
	Help string
	Do   func()
}

func (b *Binding) matches(ev *tcell.EventKey) bool {
	if b.Key != tcell.KeyRune {
		return ev.Key() == b.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == b.Rune
}

// Map holds bindings for the whole app plus per-page overrides. Page
// bindings win over global ones. Registration order is preserved so help
// hints render stably.
type Map struct {
	global []Binding
	pages  map[string][]Binding
}

// NewMap creates an empty binding map.
func NewMap() *Map {
	return &Map{pages: make(map[string][]Binding)}
}

// Global registers a binding active on every page.
func (m *Map) Global(b Binding) {
	m.global = append(m.global, b)
}

// Page registers a binding active only on the named page.
func (m *Map) Page(page string, b Binding) {
	m.pages[page] = append(m.pages[page], b)
}

// Dispatch runs the first binding matching ev on the given page and
// reports whether one matched.
func (m *Map) Dispatch(page string, ev *tcell.EventKey) bool {
	for i := range m.pages[page] {
		if b := &m.pages[page][i]; b.matches(ev) {
			b.Do()
			return true
		}
	}
	for i := range m.global {
		if b := &m.global[i]; b.matches(ev) {
			b.Do()
			return true
		}
	}
	return false
}

// Hints returns the help strings for the given page, page-specific first.
func (m *Map) Hints(page string) []string {
	var hints []string
	for _, b := range m.pages[page] {
		if b.Help != "" {
			hints = append(hints, b.Help)
		}
	}
	for _, b := range m.global {
		if b.Help != "" {
			hints = append(hints, b.Help)
		}
	}
	return hints
}
