package orgtree

// Overlay record shapes consumed by Compose. Each category is stored as its
// own key-value map in the overlay store, keyed per account; the store layer
// stamps User and SavedAt on upsert.

// Move reparents a node under a new parent. Stale moves (either endpoint gone
// after a pipeline re-run) are skipped during composition.
type Move struct {
	OriginalParent string `json:"originalParent"`
	NewParent      string `json:"newParent"`
	NewParentName  string `json:"newParentName,omitempty"`
	MovedAt        string `json:"movedAt"`
	User           string `json:"user,omitempty"`
	SavedAt        string `json:"savedAt,omitempty"`
}

// FieldChange keeps the original value alongside the edit for audit/undo.
// Only Edited is ever displayed.
type FieldChange struct {
	Original string `json:"original"`
	Edited   string `json:"edited"`
}

type FieldEdit struct {
	Name        *FieldChange `json:"name,omitempty"`
	LeaderName  *FieldChange `json:"leaderName,omitempty"`
	LeaderTitle *FieldChange `json:"leaderTitle,omitempty"`
	SavedAt     string       `json:"savedAt,omitempty"`
	User        string       `json:"user,omitempty"`
}

// EntityMerge records that the listed entity ids were absorbed into the
// canonical entity this record is keyed by. Aliases are free-text alternate
// names accumulated on the canonical entity.
type EntityMerge struct {
	Absorbed []string `json:"absorbed"`
	Aliases  []string `json:"aliases,omitempty"`
	MergedAt string   `json:"mergedAt"`
	User     string   `json:"user,omitempty"`
	SavedAt  string   `json:"savedAt,omitempty"`
}

// SizeOverride adjusts the displayed team size. CustomValue wins over
// SelectedSizeIndex, which indexes into the node's size-mention list.
type SizeOverride struct {
	SelectedSizeIndex *int   `json:"selectedSizeIndex,omitempty"`
	CustomValue       string `json:"customValue,omitempty"`
	UpdatedAt         string `json:"updatedAt,omitempty"`
	User              string `json:"user,omitempty"`
	SavedAt           string `json:"savedAt,omitempty"`
}

type AddedEntity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId"`
	AddedAt  string `json:"addedAt"`
}

type DeletedEntity struct {
	ID        string `json:"id"`
	DeletedAt string `json:"deletedAt"`
}

// Modifications is the add/delete overlay for one account. The same id may
// appear in both lists (created then deleted before sync); composition applies
// deletes first so such a node never reaches the working tree.
type Modifications struct {
	Added   []AddedEntity   `json:"added"`
	Deleted []DeletedEntity `json:"deleted"`
}
