package remote

import (
	"fmt"
	"slices"
	"sync"
)

// Section is a top level destination of a remote UI.
type Section string

const (
	SectionLibrary    Section = "library"
	SectionQueue      Section = "queue"
	SectionNowPlaying Section = "now-playing"
)

// NavigationState lists the available sections and the selected one.
type NavigationState struct {
	Sections []Section `json:"sections"`
	Selected Section   `json:"selected"`
}

// Navigation derives the available sections from the queue and player snapshots.
// State subscribers must not call Select.
type Navigation struct {
	State *Observable[NavigationState]

	mu         sync.Mutex
	queueItems bool
	itemLoaded bool
	selected   Section
}

func newNavigation() *Navigation {
	n := &Navigation{selected: SectionLibrary}
	n.State = NewObservable(n.compute())
	return n
}

// Select chooses an available section.
func (n *Navigation) Select(s Section) error {
	n.mu.Lock()
	state := n.compute()
	if !slices.Contains(state.Sections, s) {
		n.mu.Unlock()
		return fmt.Errorf("section %q is not available", s)
	}
	n.selected = s
	n.State.Set(n.compute())
	n.mu.Unlock()
	return nil
}

func (n *Navigation) update(queueItems, itemLoaded *bool) {
	n.mu.Lock()
	if queueItems != nil {
		n.queueItems = *queueItems
	}
	if itemLoaded != nil {
		n.itemLoaded = *itemLoaded
	}
	state := n.compute()
	n.selected = state.Selected
	n.State.Set(state)
	n.mu.Unlock()
}

// compute must be called with mu held or before n is shared.
func (n *Navigation) compute() NavigationState {
	sections := []Section{SectionLibrary}
	if n.queueItems {
		sections = append(sections, SectionQueue)
	}
	if n.itemLoaded {
		sections = append(sections, SectionNowPlaying)
	}
	selected := n.selected
	if !slices.Contains(sections, selected) {
		selected = SectionLibrary
	}
	return NavigationState{Sections: sections, Selected: selected}
}
