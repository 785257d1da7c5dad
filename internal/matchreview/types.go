package matchreview

import "orgmap/api/internal/orgtree"

// SuggestedMatch is the LLM's proposed entity for an unmatched mention.
// Field names are snake_case because the files come from the Python pipeline.
type SuggestedMatch struct {
	ManualNodeID   string `json:"manual_node_id"`
	ManualNodeName string `json:"manual_node_name"`
	ManualNodePath string `json:"manual_node_path,omitempty"`
	Confidence     string `json:"confidence,omitempty"`
	Reasoning      string `json:"reasoning,omitempty"`
}

// ReviewItem is one unmatched entity mention awaiting a reviewer decision.
type ReviewItem struct {
	ID             string            `json:"id"`
	GongEntity     string            `json:"gong_entity"`
	Snippet        string            `json:"snippet"`
	SuggestedMatch *SuggestedMatch   `json:"llm_suggested_match,omitempty"`
	Confidence     string            `json:"confidence,omitempty"`
	Reasoning      string            `json:"reasoning,omitempty"`
	SpeakerName    string            `json:"speaker_name,omitempty"`
	CallID         string            `json:"call_id,omitempty"`
	CallDate       string            `json:"call_date,omitempty"`
	GongURL        string            `json:"gong_url,omitempty"`
	MentionCount   int               `json:"mention_count,omitempty"`
	Status         string            `json:"status"`
	AllSnippets    []orgtree.Snippet `json:"all_snippets,omitempty"`
}

// ReviewFile is the per-account match-review.json payload.
type ReviewFile struct {
	TotalUnmatched       int          `json:"total_unmatched"`
	TotalWithSuggestions int          `json:"total_with_suggestions,omitempty"`
	Items                []ReviewItem `json:"items"`
}
