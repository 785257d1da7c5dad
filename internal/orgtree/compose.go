package orgtree

import "sort"

// Diagnostics receives counts of overlay entries that were skipped because
// they reference nodes no longer present in the base tree. Skipping is the
// intended behavior after a pipeline re-run; the hook only observes it.
type Diagnostics interface {
	StaleOverlaySkipped(kind string)
}

type composeOptions struct {
	diag Diagnostics
}

type ComposeOption func(*composeOptions)

// WithDiagnostics attaches a skip counter to the composition.
func WithDiagnostics(d Diagnostics) ComposeOption {
	return func(o *composeOptions) { o.diag = d }
}

// Compose applies all correction overlays to the base tree and returns a fresh
// working tree. The function is pure: it never mutates the base tree or any
// overlay map, never fails, and produces the same output for the same inputs.
//
// Order of operations (later steps depend on earlier ones):
//  1. deep-clone the base tree
//  2. apply modifications — deletes first, then adds
//  3. mark absorbed entities (flagged, not removed)
//  4. apply field edits
//  5. apply move overrides
//
// Any overlay entry referencing a node that no longer exists is skipped
// silently; a stale correction must never break rendering.
func Compose(base *Node, moves map[string]Move, mods *Modifications, merges map[string]EntityMerge, edits map[string]FieldEdit, opts ...ComposeOption) *WorkingNode {
	if base == nil {
		return nil
	}
	var o composeOptions
	for _, opt := range opts {
		opt(&o)
	}

	tree := cloneNode(base)

	if mods != nil {
		applyModifications(tree, mods, o.diag)
	}

	markAbsorbed(tree, absorbedSet(merges))
	applyFieldEdits(tree, edits)
	applyMoves(tree, moves, o.diag)

	return tree
}

// cloneNode copies a base node into a working node. Every slice is copied so
// later mutation of the working tree cannot alias pipeline data.
func cloneNode(node *Node) *WorkingNode {
	clone := &WorkingNode{
		ID:    node.ID,
		Name:  node.Name,
		Type:  node.Type,
		Notes: node.Notes,
	}
	if node.Leader != nil {
		leader := *node.Leader
		clone.Leader = &leader
	}
	if node.Size != nil {
		size := *node.Size
		clone.Size = &size
	}
	if node.Level != nil {
		level := *node.Level
		clone.Level = &level
	}
	if node.Sites != nil {
		clone.Sites = append([]string(nil), node.Sites...)
	}
	if node.Evidence != nil {
		ev := *node.Evidence
		ev.Snippets = append([]Snippet(nil), node.Evidence.Snippets...)
		ev.SizeMentions = append([]SizeMention(nil), node.Evidence.SizeMentions...)
		ev.MatchedContacts = append([]Contact(nil), node.Evidence.MatchedContacts...)
		if node.Evidence.MatchedEntities != nil {
			ev.MatchedEntities = append([]MatchedEntity(nil), node.Evidence.MatchedEntities...)
		}
		if node.Evidence.TeamSizes != nil {
			ev.TeamSizes = append([]string(nil), node.Evidence.TeamSizes...)
		}
		clone.Evidence = &ev
	}
	clone.Children = make([]*WorkingNode, 0, len(node.Children))
	for _, child := range node.Children {
		clone.Children = append(clone.Children, cloneNode(child))
	}
	return clone
}

// applyModifications removes deleted subtrees first, then appends additions.
// Deletes-before-adds guarantees an id added and deleted in the same batch
// never appears, and that a delete cannot remove a node that only exists
// because of a same-batch add.
func applyModifications(tree *WorkingNode, mods *Modifications, diag Diagnostics) {
	for _, deletion := range mods.Deleted {
		removeNode(tree, deletion.ID)
	}
	for _, addition := range mods.Added {
		parent := FindWorkingNode(tree, addition.ParentID)
		if parent == nil {
			// Parent was deleted or belongs to a previous pipeline run.
			if diag != nil {
				diag.StaleOverlaySkipped("addition")
			}
			continue
		}
		parent.Children = append(parent.Children, &WorkingNode{
			ID:       addition.ID,
			Name:     addition.Name,
			Type:     TypeTeam,
			Children: []*WorkingNode{},
		})
	}
}

func removeNode(node *WorkingNode, id string) {
	kept := node.Children[:0]
	for _, child := range node.Children {
		if child.ID != id {
			kept = append(kept, child)
		}
	}
	node.Children = kept
	for _, child := range node.Children {
		removeNode(child, id)
	}
}

func absorbedSet(merges map[string]EntityMerge) map[string]struct{} {
	set := make(map[string]struct{})
	for _, merge := range merges {
		for _, id := range merge.Absorbed {
			set[id] = struct{}{}
		}
	}
	return set
}

// markAbsorbed flags merged-away nodes without detaching them. Keeping them in
// place lets a later move still find a node that was merged and separately
// moved; rendering filters flagged nodes out.
func markAbsorbed(node *WorkingNode, absorbed map[string]struct{}) {
	if _, ok := absorbed[node.ID]; ok {
		node.Absorbed = true
	}
	for _, child := range node.Children {
		markAbsorbed(child, absorbed)
	}
}

// applyFieldEdits sets display overrides wherever an edit record exists.
// Leader edits apply even when the node has no leader at all — a working node
// can carry a DisplayLeaderName with Leader still nil.
func applyFieldEdits(node *WorkingNode, edits map[string]FieldEdit) {
	if edit, ok := edits[node.ID]; ok {
		if edit.Name != nil && edit.Name.Edited != "" {
			node.DisplayName = edit.Name.Edited
		}
		if edit.LeaderName != nil && edit.LeaderName.Edited != "" {
			node.DisplayLeaderName = edit.LeaderName.Edited
		}
		if edit.LeaderTitle != nil && edit.LeaderTitle.Edited != "" {
			node.DisplayLeaderTitle = edit.LeaderTitle.Edited
		}
	}
	for _, child := range node.Children {
		applyFieldEdits(child, edits)
	}
}

// applyMoves detaches each moved node and re-attaches it under its new parent.
// Moves are applied in sorted key order so composition stays deterministic
// regardless of map iteration order. A move whose subject or target is missing
// is stale and skipped.
func applyMoves(tree *WorkingNode, moves map[string]Move, diag Diagnostics) {
	ids := make([]string, 0, len(moves))
	for id := range moves {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		move := moves[id]
		node := FindWorkingNode(tree, id)
		if node == nil || node == tree {
			if diag != nil {
				diag.StaleOverlaySkipped("move")
			}
			continue
		}
		target := FindWorkingNode(tree, move.NewParent)
		if target == nil || FindWorkingNode(node, move.NewParent) != nil {
			// Target gone, or target sits inside the moved subtree — attaching
			// would orphan or cycle the tree. Leave the node where it is.
			if diag != nil {
				diag.StaleOverlaySkipped("move")
			}
			continue
		}

		if parent := findWorkingParent(tree, id, nil); parent != nil {
			kept := parent.Children[:0]
			for _, child := range parent.Children {
				if child.ID != id {
					kept = append(kept, child)
				}
			}
			parent.Children = kept
		}

		moved := move
		node.OriginalParent = move.OriginalParent
		node.Override = &moved
		target.Children = append(target.Children, node)
	}
}
