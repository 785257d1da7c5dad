// Package orgtree holds the immutable org hierarchy produced by the
// call-mining pipeline and the pure composition engine that layers user
// corrections on top of it.
package orgtree

// NodeType classifies an org entity. The pipeline emits a closed set; anything
// unrecognized arrives as "unknown".
type NodeType string

const (
	TypeGroup           NodeType = "group"
	TypeDepartment      NodeType = "department"
	TypeTeam            NodeType = "team"
	TypeDivision        NodeType = "division"
	TypeFunction        NodeType = "function"
	TypeTherapeuticArea NodeType = "therapeutic_area"
	TypeSubTeam         NodeType = "sub_team"
	TypeUnknown         NodeType = "unknown"
)

type Leader struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Snippet is one quoted mention of an entity in a call transcript.
type Snippet struct {
	Quote         string `json:"quote"`
	Date          string `json:"date"`
	GongURL       string `json:"gongUrl,omitempty"`
	CallID        string `json:"callId,omitempty"`
	CallTitle     string `json:"callTitle,omitempty"`
	ContextBefore string `json:"contextBefore,omitempty"`
	ContextAfter  string `json:"contextAfter,omitempty"`
	SpeakerID     string `json:"speakerId,omitempty"`
	CustomerName  string `json:"customerName,omitempty"`
	InternalName  string `json:"internalName,omitempty"`
	EntityName    string `json:"entityName,omitempty"`
}

type SizeSource struct {
	CallDate     string `json:"callDate,omitempty"`
	CustomerName string `json:"customerName,omitempty"`
}

// SizeMention is a team-size figure quoted in a call ("about 50 scientists").
type SizeMention struct {
	Value        string      `json:"value"`
	Source       *SizeSource `json:"source,omitempty"`
	SnippetIndex *int        `json:"snippetIndex,omitempty"`
}

type Contact struct {
	Name            string `json:"name"`
	Title           string `json:"title,omitempty"`
	IsDecisionMaker bool   `json:"isDecisionMaker,omitempty"`
}

type MatchedEntity struct {
	Name       string `json:"name"`
	Confidence string `json:"confidence"`
}

// Evidence bundles everything the pipeline mined about one entity. The
// composition engine treats it as opaque apart from copying it and letting
// match-review enrichment append to Snippets.
type Evidence struct {
	Snippets        []Snippet       `json:"snippets"`
	SizeMentions    []SizeMention   `json:"sizeMentions"`
	MatchedContacts []Contact       `json:"matchedContacts"`
	MatchedEntities []MatchedEntity `json:"matchedEntities,omitempty"`
	TeamSizes       []string        `json:"teamSizes,omitempty"`
	TotalMentions   int             `json:"totalMentions"`
	Confidence      string          `json:"confidence"`
	Status          string          `json:"status"`
}

// Node is one entity in the base tree. Nodes are created by the pipeline and
// never mutated by this service; every correction lives in an overlay.
type Node struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Type     NodeType  `json:"type"`
	Leader   *Leader   `json:"leader,omitempty"`
	Size     *int      `json:"size,omitempty"`
	Level    *int      `json:"level,omitempty"`
	Sites    []string  `json:"sites,omitempty"`
	Notes    string    `json:"notes,omitempty"`
	Evidence *Evidence `json:"gongEvidence,omitempty"`
	Children []*Node   `json:"children"`
}

type Stats struct {
	Entities int `json:"entities"`
	Matched  int `json:"matched"`
	Snippets int `json:"snippets"`
}

type DateRange struct {
	Earliest string `json:"earliest"`
	Latest   string `json:"latest"`
}

// CompanyData is the per-account envelope of manual.json.
type CompanyData struct {
	Company   string     `json:"company"`
	Source    string     `json:"source"`
	Stats     Stats      `json:"stats"`
	DateRange *DateRange `json:"dateRange,omitempty"`
	Root      *Node      `json:"root"`
}

// WorkingNode is a base node plus everything the overlays derived for display.
// Working trees are rebuilt from scratch on every composition and are never
// persisted.
type WorkingNode struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Type     NodeType  `json:"type"`
	Leader   *Leader   `json:"leader,omitempty"`
	Size     *int      `json:"size,omitempty"`
	Level    *int      `json:"level,omitempty"`
	Sites    []string  `json:"sites,omitempty"`
	Notes    string    `json:"notes,omitempty"`
	Evidence *Evidence `json:"gongEvidence,omitempty"`

	DisplayName        string `json:"displayName,omitempty"`
	DisplayLeaderName  string `json:"displayLeaderName,omitempty"`
	DisplayLeaderTitle string `json:"displayLeaderTitle,omitempty"`
	Absorbed           bool   `json:"absorbed,omitempty"`
	OriginalParent     string `json:"originalParent,omitempty"`
	Override           *Move  `json:"override,omitempty"`

	Children []*WorkingNode `json:"children"`
}

// EffectiveName returns the field-edited name when one exists.
func (n *WorkingNode) EffectiveName() string {
	if n.DisplayName != "" {
		return n.DisplayName
	}
	return n.Name
}
