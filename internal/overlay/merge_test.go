package overlay

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"orgmap/api/internal/orgtree"
)

func TestValidateMergeRejectsSelfMerge(t *testing.T) {
	merges := map[string]orgtree.EntityMerge{}
	before, _ := json.Marshal(merges)

	err := ValidateMerge(EntityRef{ID: "a", Name: "Alpha"}, EntityRef{ID: "a", Name: "Alpha"}, merges)
	if err == nil {
		t.Fatal("self-merge must be rejected")
	}
	if !strings.Contains(err.Error(), "itself") {
		t.Errorf("error = %q, want mention of itself", err)
	}

	after, _ := json.Marshal(merges)
	if string(before) != string(after) {
		t.Error("rejected merge mutated the overlay")
	}
}

func TestValidateMergeRejectsAlreadyAbsorbed(t *testing.T) {
	merges := map[string]orgtree.EntityMerge{
		"canonical1": {Absorbed: []string{"x"}, MergedAt: "2025-01-01T00:00:00Z"},
	}

	// x is absorbed: it can be neither side of a new merge.
	if err := ValidateMerge(EntityRef{ID: "x"}, EntityRef{ID: "b"}, merges); err == nil {
		t.Error("absorbed entity must not be mergeable as A")
	}
	if err := ValidateMerge(EntityRef{ID: "y"}, EntityRef{ID: "x"}, merges); err == nil {
		t.Error("absorbed entity must not be a merge target")
	}
}

func TestValidateMergeRejectsChainedAbsorption(t *testing.T) {
	merges := map[string]orgtree.EntityMerge{
		"a": {Absorbed: []string{"x"}, MergedAt: "2025-01-01T00:00:00Z"},
	}
	err := ValidateMerge(EntityRef{ID: "a", Name: "Alpha"}, EntityRef{ID: "b", Name: "Beta"}, merges)
	if err == nil {
		t.Fatal("a canonical entity with absorptions must not be absorbable")
	}
	if !strings.Contains(err.Error(), "canonical") {
		t.Errorf("error = %q, want mention of canonical", err)
	}
}

func TestApplyMergeRecordsAbsorptionAndAlias(t *testing.T) {
	merges := map[string]orgtree.EntityMerge{}
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	next, err := ApplyMerge(EntityRef{ID: "a2", Name: "Alpha Chemistry"}, EntityRef{ID: "a1", Name: "Alpha Screening"}, merges, now)
	if err != nil {
		t.Fatalf("ApplyMerge failed: %v", err)
	}

	merge := next["a1"]
	if len(merge.Absorbed) != 1 || merge.Absorbed[0] != "a2" {
		t.Errorf("absorbed = %v, want [a2]", merge.Absorbed)
	}
	if len(merge.Aliases) != 1 || merge.Aliases[0] != "Alpha Chemistry" {
		t.Errorf("aliases = %v, want [Alpha Chemistry]", merge.Aliases)
	}
	if merge.MergedAt != "2025-04-01T12:00:00Z" {
		t.Errorf("mergedAt = %q", merge.MergedAt)
	}
	if len(merges) != 0 {
		t.Error("ApplyMerge mutated its input map")
	}
}

func TestApplyMergeSecondAbsorptionAccumulates(t *testing.T) {
	now := time.Now()
	merges, err := ApplyMerge(EntityRef{ID: "x", Name: "X"}, EntityRef{ID: "a", Name: "A"}, nil, now)
	if err != nil {
		t.Fatalf("first merge failed: %v", err)
	}
	merges, err = ApplyMerge(EntityRef{ID: "y", Name: "Y"}, EntityRef{ID: "a", Name: "A"}, merges, now)
	if err != nil {
		t.Fatalf("second merge failed: %v", err)
	}
	if got := merges["a"].Absorbed; len(got) != 2 {
		t.Errorf("absorbed = %v, want two entries", got)
	}
}

func TestAbsorbedBy(t *testing.T) {
	merges := map[string]orgtree.EntityMerge{
		"a1": {Absorbed: []string{"a2", "a3"}},
	}
	if got := AbsorbedBy("a2", merges); got != "a1" {
		t.Errorf("AbsorbedBy(a2) = %q, want a1", got)
	}
	if got := AbsorbedBy("a1", merges); got != "" {
		t.Errorf("canonical id reported as absorbed: %q", got)
	}
}

func TestAddAliasDuplicateIsNoOp(t *testing.T) {
	merges := map[string]orgtree.EntityMerge{
		"a": {Aliases: []string{"Discovery"}},
	}
	next := AddAlias(merges, "a", "Discovery")
	if len(next["a"].Aliases) != 1 {
		t.Errorf("duplicate alias added: %v", next["a"].Aliases)
	}
	next = AddAlias(merges, "a", "  Discovery  ")
	if len(next["a"].Aliases) != 1 {
		t.Errorf("whitespace-wrapped duplicate alias added: %v", next["a"].Aliases)
	}
	next = AddAlias(merges, "a", "R&D")
	if len(next["a"].Aliases) != 2 {
		t.Errorf("new alias not added: %v", next["a"].Aliases)
	}
}

func TestAddAliasCreatesRecord(t *testing.T) {
	next := AddAlias(map[string]orgtree.EntityMerge{}, "fresh", "Side Name")
	if got := next["fresh"].Aliases; len(got) != 1 || got[0] != "Side Name" {
		t.Errorf("aliases = %v", got)
	}
}

func TestRemoveAlias(t *testing.T) {
	merges := map[string]orgtree.EntityMerge{
		"a": {Aliases: []string{"One", "Two"}},
	}
	next := RemoveAlias(merges, "a", "One")
	if got := next["a"].Aliases; len(got) != 1 || got[0] != "Two" {
		t.Errorf("aliases = %v, want [Two]", got)
	}
	// Unknown canonical id: untouched.
	if got := RemoveAlias(merges, "zzz", "One"); len(got) != 1 {
		t.Errorf("unexpected map after removing from unknown id: %v", got)
	}
}
