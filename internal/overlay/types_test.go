package overlay

import (
	"testing"

	"orgmap/api/internal/orgtree"
)

func TestParseCategory(t *testing.T) {
	for _, name := range []string{"corrections", "field-edits", "sizes", "merges", "graduated-map", "manual-map-overrides", "manual-map-modifications", "resolutions"} {
		if _, err := ParseCategory(name); err != nil {
			t.Errorf("ParseCategory(%q) failed: %v", name, err)
		}
	}
	if _, err := ParseCategory("autosave"); err == nil {
		t.Error("unknown category must be rejected")
	}
	if _, err := ParseCategory(""); err == nil {
		t.Error("empty category must be rejected")
	}
}

func TestParseUpsertMoveOverride(t *testing.T) {
	body := []byte(`{"nodeId":"a1","override":{"originalParent":"a","newParent":"b","movedAt":"2025-04-01T00:00:00Z"},"user":"rivera"}`)
	up, err := ParseUpsert(CategoryMoveOverrides, body)
	if err != nil {
		t.Fatalf("ParseUpsert failed: %v", err)
	}
	if up.Key != "a1" || up.User != "rivera" {
		t.Errorf("key=%q user=%q", up.Key, up.User)
	}
	move, ok := up.Value.(orgtree.Move)
	if !ok || move.NewParent != "b" {
		t.Errorf("value = %#v", up.Value)
	}
}

func TestParseUpsertMoveRequiresNewParent(t *testing.T) {
	body := []byte(`{"nodeId":"a1","override":{"originalParent":"a"}}`)
	if _, err := ParseUpsert(CategoryMoveOverrides, body); err == nil {
		t.Error("move without newParent must be rejected")
	}
}

func TestParseUpsertRequiresKeyField(t *testing.T) {
	cases := map[Category]string{
		CategoryCorrections:   `{"override":{"newParent":"b"}}`,
		CategoryFieldEdits:    `{"edit":{"name":{"original":"x","edited":"y"}}}`,
		CategorySizes:         `{"override":{"customValue":"12"}}`,
		CategoryMerges:        `{"merge":{"absorbed":["x"]}}`,
		CategoryMoveOverrides: `{"override":{"newParent":"b"}}`,
		CategoryResolutions:   `{"resolution":"ok"}`,
	}
	for cat, body := range cases {
		if _, err := ParseUpsert(cat, []byte(body)); err == nil {
			t.Errorf("%s: missing %s accepted", cat, cat.KeyField())
		}
	}
}

func TestParseUpsertFieldEditMustChangeSomething(t *testing.T) {
	if _, err := ParseUpsert(CategoryFieldEdits, []byte(`{"entityId":"a","edit":{}}`)); err == nil {
		t.Error("empty field edit must be rejected")
	}
}

func TestParseUpsertSizeKeyLowercased(t *testing.T) {
	up, err := ParseUpsert(CategorySizes, []byte(`{"key":"Acme:A1","override":{"customValue":"40"}}`))
	if err != nil {
		t.Fatalf("ParseUpsert failed: %v", err)
	}
	if up.Key != "acme:a1" {
		t.Errorf("size key = %q, want acme:a1", up.Key)
	}
}

func TestParseUpsertMergeRejectsEmptyAbsorbedID(t *testing.T) {
	if _, err := ParseUpsert(CategoryMerges, []byte(`{"canonicalId":"a","merge":{"absorbed":["x",""]}}`)); err == nil {
		t.Error("empty absorbed id must be rejected")
	}
}

func TestParseUpsertResolutionsKeepsBodyAsValue(t *testing.T) {
	up, err := ParseUpsert(CategoryResolutions, []byte(`{"key":"call-9","user":"kim","outcome":"same-team","note":"dup speaker"}`))
	if err != nil {
		t.Fatalf("ParseUpsert failed: %v", err)
	}
	value := up.Value.(map[string]any)
	if value["outcome"] != "same-team" || value["note"] != "dup speaker" {
		t.Errorf("value = %v", value)
	}
	if _, leaked := value["key"]; leaked {
		t.Error("key field must not be stored inside the record")
	}
	if up.User != "kim" {
		t.Errorf("user = %q", up.User)
	}
}

func TestParseUpsertGraduatedMapRequiresRoot(t *testing.T) {
	if _, err := ParseUpsert(CategoryGraduatedMap, []byte(`{"map":{"company":"acme"}}`)); err == nil {
		t.Error("graduated map without a root must be rejected")
	}
	body := []byte(`{"map":{"company":"acme","root":{"id":"root","name":"Acme","type":"group","children":[]}}}`)
	up, err := ParseUpsert(CategoryGraduatedMap, body)
	if err != nil {
		t.Fatalf("ParseUpsert failed: %v", err)
	}
	data := up.Value.(*orgtree.CompanyData)
	if data.Root.ID != "root" {
		t.Errorf("root id = %q", data.Root.ID)
	}
}

func TestParseUpsertModificationsAssignsMissingIDs(t *testing.T) {
	body := []byte(`{"modifications":{"added":[{"id":"","name":"New Team","parentId":"b","addedAt":"2025-04-01T00:00:00Z"}],"deleted":[{"id":"a2","deletedAt":"2025-04-01T00:00:00Z"}]}}`)
	up, err := ParseUpsert(CategoryModifications, body)
	if err != nil {
		t.Fatalf("ParseUpsert failed: %v", err)
	}
	mods := up.Value.(*orgtree.Modifications)
	if mods.Added[0].ID == "" {
		t.Error("missing added id was not assigned")
	}
}

func TestParseUpsertModificationsValidation(t *testing.T) {
	if _, err := ParseUpsert(CategoryModifications, []byte(`{"modifications":{"added":[{"id":"x","parentId":"b"}],"deleted":[]}}`)); err == nil {
		t.Error("added entity without a name must be rejected")
	}
	if _, err := ParseUpsert(CategoryModifications, []byte(`{"modifications":{"added":[],"deleted":[{"deletedAt":"now"}]}}`)); err == nil {
		t.Error("deleted entry without an id must be rejected")
	}
}

func TestParseDelete(t *testing.T) {
	key, err := ParseDelete(CategoryMerges, []byte(`{"canonicalId":"a1"}`))
	if err != nil || key != "a1" {
		t.Errorf("ParseDelete = %q, %v", key, err)
	}
	if _, err := ParseDelete(CategoryMerges, []byte(`{}`)); err == nil {
		t.Error("missing canonicalId must be rejected")
	}
	if _, err := ParseDelete(CategoryGraduatedMap, []byte(`{"entityId":"x"}`)); err == nil {
		t.Error("deleting from a blob category must be rejected")
	}
	key, err = ParseDelete(CategorySizes, []byte(`{"key":"Acme:A1"}`))
	if err != nil || key != "acme:a1" {
		t.Errorf("size delete key = %q, %v", key, err)
	}
}
