// Package overlay models the correction record categories stored per account,
// validates them at the API boundary and persists them through the kv store.
package overlay

import (
	"encoding/json"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"orgmap/api/internal/orgtree"
)

// Category names one overlay record set. The set is closed; anything else is
// rejected at the boundary.
type Category string

const (
	CategoryCorrections   Category = "corrections"
	CategoryFieldEdits    Category = "field-edits"
	CategorySizes         Category = "sizes"
	CategoryMerges        Category = "merges"
	CategoryGraduatedMap  Category = "graduated-map"
	CategoryMoveOverrides Category = "manual-map-overrides"
	CategoryModifications Category = "manual-map-modifications"
	CategoryResolutions   Category = "resolutions"
)

// Categories lists every valid category in a stable order.
var Categories = []Category{
	CategoryCorrections,
	CategoryFieldEdits,
	CategorySizes,
	CategoryMerges,
	CategoryGraduatedMap,
	CategoryMoveOverrides,
	CategoryModifications,
	CategoryResolutions,
}

// ParseCategory validates a raw type parameter.
func ParseCategory(raw string) (Category, error) {
	for _, cat := range Categories {
		if raw == string(cat) {
			return cat, nil
		}
	}
	names := make([]string, len(Categories))
	for i, cat := range Categories {
		names[i] = string(cat)
	}
	return "", fmt.Errorf("type parameter required. Must be one of: %s", strings.Join(names, ", "))
}

// KeyField is the request body field naming the entity key for this category.
// Blob categories (graduated-map, manual-map-modifications) have none.
func (c Category) KeyField() string {
	switch c {
	case CategoryCorrections, CategoryFieldEdits:
		return "entityId"
	case CategorySizes, CategoryResolutions:
		return "key"
	case CategoryMerges:
		return "canonicalId"
	case CategoryMoveOverrides:
		return "nodeId"
	default:
		return ""
	}
}

// IsBlob reports whether the category stores one whole value per account
// rather than a key-value map.
func (c Category) IsBlob() bool {
	return c == CategoryGraduatedMap || c == CategoryModifications
}

// StorageKey is the kv key the category's records live under for an account.
func (c Category) StorageKey(account string) string {
	return string(c) + ":" + account
}

// Upsert is one validated write to an overlay category.
type Upsert struct {
	Category Category
	// Key is the entity key for map categories; empty for blob categories.
	Key  string
	User string
	// Value is the typed record (map categories) or the whole blob.
	Value any
}

// ParseUpsert decodes and validates a POST body for the given category.
// Unknown fields are tolerated; missing required ones are not.
func ParseUpsert(cat Category, body []byte) (Upsert, error) {
	switch cat {
	case CategoryCorrections, CategoryMoveOverrides:
		var req struct {
			EntityID string      `json:"entityId"`
			NodeID   string      `json:"nodeId"`
			Override orgtree.Move `json:"override"`
			User     string      `json:"user"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return Upsert{}, fmt.Errorf("invalid JSON body")
		}
		key := req.EntityID
		if cat == CategoryMoveOverrides {
			key = req.NodeID
		}
		if key == "" {
			return Upsert{}, fmt.Errorf("%s required", cat.KeyField())
		}
		if err := validateMove(req.Override); err != nil {
			return Upsert{}, err
		}
		return Upsert{Category: cat, Key: key, User: req.User, Value: req.Override}, nil

	case CategoryFieldEdits:
		var req struct {
			EntityID string            `json:"entityId"`
			Edit     orgtree.FieldEdit `json:"edit"`
			User     string            `json:"user"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return Upsert{}, fmt.Errorf("invalid JSON body")
		}
		if req.EntityID == "" {
			return Upsert{}, fmt.Errorf("entityId required")
		}
		if req.Edit.Name == nil && req.Edit.LeaderName == nil && req.Edit.LeaderTitle == nil {
			return Upsert{}, fmt.Errorf("edit must change at least one field")
		}
		return Upsert{Category: cat, Key: req.EntityID, User: req.User, Value: req.Edit}, nil

	case CategorySizes:
		var req struct {
			Key      string               `json:"key"`
			Override orgtree.SizeOverride `json:"override"`
			User     string               `json:"user"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return Upsert{}, fmt.Errorf("invalid JSON body")
		}
		if req.Key == "" {
			return Upsert{}, fmt.Errorf("key required")
		}
		return Upsert{Category: cat, Key: strings.ToLower(req.Key), User: req.User, Value: req.Override}, nil

	case CategoryMerges:
		var req struct {
			CanonicalID string              `json:"canonicalId"`
			Merge       orgtree.EntityMerge `json:"merge"`
			User        string              `json:"user"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return Upsert{}, fmt.Errorf("invalid JSON body")
		}
		if req.CanonicalID == "" {
			return Upsert{}, fmt.Errorf("canonicalId required")
		}
		if err := validateMergeRecord(req.Merge); err != nil {
			return Upsert{}, err
		}
		return Upsert{Category: cat, Key: req.CanonicalID, User: req.User, Value: req.Merge}, nil

	case CategoryResolutions:
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			return Upsert{}, fmt.Errorf("invalid JSON body")
		}
		key, _ := req["key"].(string)
		if key == "" {
			return Upsert{}, fmt.Errorf("key required")
		}
		user, _ := req["user"].(string)
		delete(req, "key")
		delete(req, "user")
		return Upsert{Category: cat, Key: key, User: user, Value: req}, nil

	case CategoryGraduatedMap:
		var req struct {
			Map  *orgtree.CompanyData `json:"map"`
			User string               `json:"user"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return Upsert{}, fmt.Errorf("invalid JSON body")
		}
		if req.Map == nil {
			return Upsert{}, fmt.Errorf("map required")
		}
		if req.Map.Root == nil {
			return Upsert{}, fmt.Errorf("map.root required")
		}
		return Upsert{Category: cat, User: req.User, Value: req.Map}, nil

	case CategoryModifications:
		var req struct {
			Modifications *orgtree.Modifications `json:"modifications"`
			User          string                 `json:"user"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return Upsert{}, fmt.Errorf("invalid JSON body")
		}
		if req.Modifications == nil {
			return Upsert{}, fmt.Errorf("modifications required")
		}
		if err := validateModifications(req.Modifications); err != nil {
			return Upsert{}, err
		}
		assignAddedIDs(req.Modifications)
		return Upsert{Category: cat, User: req.User, Value: req.Modifications}, nil

	default:
		return Upsert{}, fmt.Errorf("unknown overlay category %q", cat)
	}
}

// ParseDelete extracts the entity key from a DELETE body.
func ParseDelete(cat Category, body []byte) (string, error) {
	if cat.IsBlob() {
		return "", fmt.Errorf("delete not supported for %s", cat)
	}
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return "", fmt.Errorf("invalid JSON body")
	}
	key, _ := req[cat.KeyField()].(string)
	if key == "" {
		return "", fmt.Errorf("%s required", cat.KeyField())
	}
	if cat == CategorySizes {
		key = strings.ToLower(key)
	}
	return key, nil
}

func validateMove(m orgtree.Move) error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.NewParent, validation.Required.Error("newParent required")),
	)
}

func validateMergeRecord(m orgtree.EntityMerge) error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Absorbed, validation.Each(validation.Required.Error("absorbed ids must be non-empty"))),
	)
}

func validateModifications(m *orgtree.Modifications) error {
	for _, added := range m.Added {
		if err := validation.ValidateStruct(&added,
			validation.Field(&added.Name, validation.Required.Error("added entity name required")),
			validation.Field(&added.ParentID, validation.Required.Error("added entity parentId required")),
		); err != nil {
			return err
		}
	}
	for _, deleted := range m.Deleted {
		if err := validation.ValidateStruct(&deleted,
			validation.Field(&deleted.ID, validation.Required.Error("deleted entity id required")),
		); err != nil {
			return err
		}
	}
	return nil
}

// assignAddedIDs fills in ids for added entities that arrived without one, so
// two sessions adding entities concurrently cannot collide on client-picked
// ids.
func assignAddedIDs(m *orgtree.Modifications) {
	for i := range m.Added {
		if m.Added[i].ID == "" {
			m.Added[i].ID = uuid.NewString()
		}
	}
}
