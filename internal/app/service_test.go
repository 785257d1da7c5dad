package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"orgmap/api/internal/kv"
	"orgmap/api/internal/overlay"
	"orgmap/api/internal/pipeline"
	"orgmap/api/internal/search"
)

func newTestService(t *testing.T, accounts ...string) *Service {
	t.Helper()
	if len(accounts) == 0 {
		accounts = []string{"acme"}
	}

	redis := miniredis.RunT(t)
	backend, err := kv.NewRedisStore("redis://" + redis.Addr())
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	dataDir := t.TempDir()
	writeFixtureTree(t, dataDir, "acme")

	overlays := overlay.NewStore(backend, 10*time.Second, nil)
	loader := pipeline.NewLoader(dataDir)
	searcher := search.NewService(nil, search.NewLocal())
	return NewService(accounts, backend, overlays, loader, searcher, nil)
}

func writeFixtureTree(t *testing.T, dataDir, account string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dataDir, account), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manual := `{
		"company": "` + account + `",
		"root": {"id": "root", "name": "Acme", "type": "company", "children": [
			{"id": "a", "name": "Research", "type": "division", "children": [
				{"id": "a1", "name": "Alpha Screening", "type": "team", "children": []},
				{"id": "a2", "name": "Assay Dev", "type": "team", "children": []}
			]},
			{"id": "b", "name": "Operations", "type": "division", "children": []}
		]}
	}`
	if err := os.WriteFile(filepath.Join(dataDir, account, "manual.json"), []byte(manual), 0o644); err != nil {
		t.Fatalf("write manual.json: %v", err)
	}
}

func TestResolveAccountNormalizesAndChecks(t *testing.T) {
	s := newTestService(t, "Acme", "globex")

	account, err := s.ResolveAccount("  ACME ")
	if err != nil || account != "acme" {
		t.Errorf("ResolveAccount = %q, %v", account, err)
	}

	_, err = s.ResolveAccount("initech")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_ACCOUNT" {
		t.Errorf("err = %v", err)
	}

	_, err = s.ResolveAccount("")
	if !errors.As(err, &domainErr) || domainErr.Status != 400 {
		t.Errorf("empty account err = %v", err)
	}
}

func TestOrgStateDefaultsToEmptyObject(t *testing.T) {
	s := newTestService(t)
	raw, err := s.OrgState(context.Background(), "acme", "merges")
	if err != nil {
		t.Fatalf("org state: %v", err)
	}
	if string(raw) != "{}" {
		t.Errorf("raw = %s", raw)
	}

	if _, err := s.OrgState(context.Background(), "acme", "bogus"); err == nil {
		t.Error("unknown category accepted")
	}
}

func TestSaveOrgStateBumpsVersion(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	version, err := s.SaveOrgState(ctx, "acme", "sizes", []byte(`{"key":"acme:a1","override":{"customValue":"40"}}`))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if version == "0" || version == "" {
		t.Errorf("version = %q", version)
	}

	current, err := s.SyncVersion(ctx, "acme")
	if err != nil {
		t.Fatalf("sync version: %v", err)
	}
	if current != version {
		t.Errorf("sync version %q != returned %q", current, version)
	}
}

func TestMergeValidationThroughService(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	// a2 absorbed into a1.
	if _, err := s.SaveOrgState(ctx, "acme", "merges", []byte(`{"canonicalId":"a1","merge":{"absorbed":["a2"]}}`)); err != nil {
		t.Fatalf("first merge: %v", err)
	}

	// Re-saving the same record stays legal.
	if _, err := s.SaveOrgState(ctx, "acme", "merges", []byte(`{"canonicalId":"a1","merge":{"absorbed":["a2"],"aliases":["Assay Dev"]}}`)); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	var domainErr *DomainError

	// a2 is absorbed; it cannot be absorbed again elsewhere.
	_, err := s.SaveOrgState(ctx, "acme", "merges", []byte(`{"canonicalId":"b","merge":{"absorbed":["a2"]}}`))
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Errorf("double absorption err = %v", err)
	}

	// a1 is canonical with absorptions; absorbing it would orphan a2.
	_, err = s.SaveOrgState(ctx, "acme", "merges", []byte(`{"canonicalId":"b","merge":{"absorbed":["a1"]}}`))
	if !errors.As(err, &domainErr) || domainErr.Code != "MERGE_REJECTED" {
		t.Errorf("chain merge err = %v", err)
	}

	// Self-merge.
	_, err = s.SaveOrgState(ctx, "acme", "merges", []byte(`{"canonicalId":"b","merge":{"absorbed":["b"]}}`))
	if !errors.As(err, &domainErr) || domainErr.Code != "MERGE_REJECTED" {
		t.Errorf("self merge err = %v", err)
	}
}

func TestWorkingTreeComposesOverlays(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.SaveOrgState(ctx, "acme", "manual-map-overrides", []byte(`{"nodeId":"a1","override":{"originalParent":"a","newParent":"b"},"user":"rivera"}`)); err != nil {
		t.Fatalf("save move: %v", err)
	}
	if _, err := s.SaveOrgState(ctx, "acme", "merges", []byte(`{"canonicalId":"a1","merge":{"absorbed":["a2"]}}`)); err != nil {
		t.Fatalf("save merge: %v", err)
	}

	tree, err := s.WorkingTree(ctx, "acme")
	if err != nil {
		t.Fatalf("working tree: %v", err)
	}

	var movedUnderB, a2Absorbed bool
	for _, child := range tree.Children {
		if child.ID == "b" {
			for _, moved := range child.Children {
				if moved.ID == "a1" {
					movedUnderB = true
				}
			}
		}
		if child.ID == "a" {
			for _, team := range child.Children {
				if team.ID == "a2" && team.Absorbed {
					a2Absorbed = true
				}
			}
		}
	}
	if !movedUnderB {
		t.Error("move overlay not composed")
	}
	if !a2Absorbed {
		t.Error("absorbed entity not flagged")
	}
}

func TestWorkingTreeMissingAccountData(t *testing.T) {
	s := newTestService(t, "acme", "globex")

	_, err := s.WorkingTree(context.Background(), "globex")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Errorf("err = %v, want 404", err)
	}

	// A graduated map makes the account viewable without pipeline output.
	_, err = s.SaveOrgState(context.Background(), "globex", "graduated-map",
		[]byte(`{"map":{"company":"globex","root":{"id":"g","name":"Globex","type":"company","children":[]}}}`))
	if err != nil {
		t.Fatalf("save graduated map: %v", err)
	}
	tree, err := s.WorkingTree(context.Background(), "globex")
	if err != nil {
		t.Fatalf("working tree: %v", err)
	}
	if tree.ID != "g" {
		t.Errorf("root = %q", tree.ID)
	}
}

func TestSearchEntitiesReflectsFieldEdits(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.SaveOrgState(ctx, "acme", "field-edits", []byte(`{"entityId":"a1","edit":{"name":{"original":"Alpha Screening","edited":"Alpha Discovery"}}}`)); err != nil {
		t.Fatalf("save edit: %v", err)
	}

	resp, err := s.SearchEntities(ctx, "acme", "discovery", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Name != "Alpha Discovery" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestMatchDecisionLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	decisions, err := s.SaveMatchDecision(ctx, "acme", MatchDecisionRequest{
		ItemID:   "item-1",
		Category: "approved",
		Decision: MatchDecision{
			ManualNode:   "Alpha Screening",
			ManualNodeID: "a1",
			User:         "kim",
		},
	})
	if err != nil {
		t.Fatalf("save decision: %v", err)
	}
	if decisions.Approved["item-1"].User != "kim" {
		t.Errorf("decision = %+v", decisions.Approved["item-1"])
	}

	// Decisions bump the sync version so other viewers refetch.
	version, err := s.SyncVersion(ctx, "acme")
	if err != nil {
		t.Fatalf("sync version: %v", err)
	}
	if version == "0" {
		t.Error("decision write did not bump the version")
	}

	if _, err := s.SaveMatchDecision(ctx, "acme", MatchDecisionRequest{ItemID: "item-1", Category: "bogus"}); err == nil {
		t.Error("unknown category accepted")
	}

	decisions, err = s.ResetMatchDecision(ctx, "acme", "item-1")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if decisions.Status("item-1") != "pending" {
		t.Errorf("status = %q", decisions.Status("item-1"))
	}
}

func TestAutosaveRoundTrip(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	// Nothing saved yet.
	_, err := s.Autosave(ctx, "acme")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("missing autosave err = %v", err)
	}

	if _, err := s.SaveAutosave(ctx, "acme", []byte(`{"user":"rivera"}`)); err == nil {
		t.Error("snapshot without state accepted")
	}

	savedAt, err := s.SaveAutosave(ctx, "acme", []byte(`{"state":{"mode":"edit","fieldEdits":{}},"user":"rivera"}`))
	if err != nil {
		t.Fatalf("save autosave: %v", err)
	}
	if savedAt == "" {
		t.Error("savedAt not returned")
	}

	raw, err := s.Autosave(ctx, "acme")
	if err != nil {
		t.Fatalf("load autosave: %v", err)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snapshot["mode"] != "edit" || snapshot["user"] != "rivera" || snapshot["savedAt"] != savedAt {
		t.Errorf("snapshot = %v", snapshot)
	}

	// Autosave is a recovery copy, not a synced overlay.
	version, err := s.SyncVersion(ctx, "acme")
	if err != nil {
		t.Fatalf("sync version: %v", err)
	}
	if version != "0" {
		t.Errorf("autosave bumped the version to %q", version)
	}
}
