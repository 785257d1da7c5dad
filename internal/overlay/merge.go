package overlay

import (
	"fmt"
	"strings"
	"time"

	"orgmap/api/internal/orgtree"
)

// EntityRef identifies a merge participant. Name is only used in error
// messages and alias bookkeeping; it may fall back to the id.
type EntityRef struct {
	ID   string
	Name string
}

// MergeError is a rejected merge. All rejections are terminal: the overlay is
// left untouched and the message is shown to the reviewer as-is.
type MergeError struct {
	Message string
}

func (e *MergeError) Error() string { return e.Message }

// AbsorbedBy returns the canonical id that absorbed the given entity, or ""
// when the entity is not absorbed.
func AbsorbedBy(entityID string, merges map[string]orgtree.EntityMerge) string {
	for canonicalID, merge := range merges {
		for _, id := range merge.Absorbed {
			if id == entityID {
				return canonicalID
			}
		}
	}
	return ""
}

// ValidateMerge checks whether absorbing a into b is allowed, in order, first
// failure wins:
//
//  1. an entity cannot merge with itself
//  2. a must not already be absorbed elsewhere
//  3. b must not already be absorbed elsewhere
//  4. a must not itself be a canonical target with absorptions — allowing that
//     would orphan its absorbed entities under a vanished canonical id
func ValidateMerge(a, b EntityRef, merges map[string]orgtree.EntityMerge) error {
	if a.ID == b.ID {
		return &MergeError{Message: "Cannot merge an entity with itself."}
	}
	if AbsorbedBy(a.ID, merges) != "" {
		return &MergeError{Message: fmt.Sprintf("%s is already absorbed by another entity.", a.displayName())}
	}
	if AbsorbedBy(b.ID, merges) != "" {
		return &MergeError{Message: fmt.Sprintf("%s is already absorbed by another entity.", b.displayName())}
	}
	if existing, ok := merges[a.ID]; ok && len(existing.Absorbed) > 0 {
		return &MergeError{Message: fmt.Sprintf("%s is canonical for other merges; unmerge those first.", a.displayName())}
	}
	return nil
}

func (r EntityRef) displayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// ApplyMerge validates and then records the absorption of a into b, returning
// the new merge map. The input map is never mutated.
func ApplyMerge(a, b EntityRef, merges map[string]orgtree.EntityMerge, now time.Time) (map[string]orgtree.EntityMerge, error) {
	if err := ValidateMerge(a, b, merges); err != nil {
		return nil, err
	}

	next := cloneMerges(merges)
	merge := next[b.ID]
	merge.Absorbed = append(merge.Absorbed, a.ID)
	if a.Name != "" && !containsString(merge.Aliases, a.Name) {
		merge.Aliases = append(merge.Aliases, a.Name)
	}
	merge.MergedAt = now.UTC().Format(time.RFC3339)
	next[b.ID] = merge
	return next, nil
}

// AddAlias appends a free-text alias to a canonical entity. Exact-string
// duplicates are a no-op.
func AddAlias(merges map[string]orgtree.EntityMerge, canonicalID, alias string) map[string]orgtree.EntityMerge {
	trimmed := strings.TrimSpace(alias)
	if trimmed == "" {
		return merges
	}
	next := cloneMerges(merges)
	merge := next[canonicalID]
	if containsString(merge.Aliases, trimmed) {
		return merges
	}
	merge.Aliases = append(merge.Aliases, trimmed)
	next[canonicalID] = merge
	return next
}

// RemoveAlias removes an alias by exact match.
func RemoveAlias(merges map[string]orgtree.EntityMerge, canonicalID, alias string) map[string]orgtree.EntityMerge {
	merge, ok := merges[canonicalID]
	if !ok {
		return merges
	}
	next := cloneMerges(merges)
	kept := make([]string, 0, len(merge.Aliases))
	for _, existing := range merge.Aliases {
		if existing != alias {
			kept = append(kept, existing)
		}
	}
	merge.Aliases = kept
	next[canonicalID] = merge
	return next
}

func cloneMerges(merges map[string]orgtree.EntityMerge) map[string]orgtree.EntityMerge {
	next := make(map[string]orgtree.EntityMerge, len(merges)+1)
	for id, merge := range merges {
		merge.Absorbed = append([]string(nil), merge.Absorbed...)
		merge.Aliases = append([]string(nil), merge.Aliases...)
		next[id] = merge
	}
	return next
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

