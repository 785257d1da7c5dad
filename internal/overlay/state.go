package overlay

import "orgmap/api/internal/orgtree"

// State is every overlay category for one account, fully resident in memory.
// It is an explicit value passed to consumers — never package-level state —
// so switching accounts is a single replacement of the whole struct.
type State struct {
	Account       string                          `json:"account"`
	Corrections   map[string]orgtree.Move         `json:"corrections"`
	FieldEdits    map[string]orgtree.FieldEdit    `json:"fieldEdits"`
	Sizes         map[string]orgtree.SizeOverride `json:"sizes"`
	Merges        map[string]orgtree.EntityMerge  `json:"merges"`
	GraduatedMap  *orgtree.CompanyData            `json:"graduatedMap,omitempty"`
	MoveOverrides map[string]orgtree.Move         `json:"manualMapOverrides"`
	Modifications *orgtree.Modifications          `json:"manualMapModifications,omitempty"`
	Resolutions   map[string]map[string]any       `json:"resolutions"`
}

// NewState returns an empty overlay state for an account.
func NewState(account string) *State {
	return &State{
		Account:       account,
		Corrections:   make(map[string]orgtree.Move),
		FieldEdits:    make(map[string]orgtree.FieldEdit),
		Sizes:         make(map[string]orgtree.SizeOverride),
		Merges:        make(map[string]orgtree.EntityMerge),
		MoveOverrides: make(map[string]orgtree.Move),
		Resolutions:   make(map[string]map[string]any),
	}
}

// BaseTree picks the tree composition starts from: the graduated-map overlay
// when one was published, otherwise the pipeline tree handed in.
func (s *State) BaseTree(pipelineRoot *orgtree.Node) *orgtree.Node {
	if s.GraduatedMap != nil && s.GraduatedMap.Root != nil {
		return s.GraduatedMap.Root
	}
	return pipelineRoot
}

// Compose builds the working tree from this state. Moves come from the
// manual-map-overrides category; corrections is a legacy record set kept for
// older tooling and is not composed.
func (s *State) Compose(pipelineRoot *orgtree.Node, opts ...orgtree.ComposeOption) *orgtree.WorkingNode {
	return orgtree.Compose(s.BaseTree(pipelineRoot), s.MoveOverrides, s.Modifications, s.Merges, s.FieldEdits, opts...)
}
