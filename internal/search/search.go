// Package search powers the entity picker: type-ahead lookup of org entities
// by name or hierarchy path, scoped to one account. Meilisearch serves queries
// when it is reachable; an in-memory index over the same records is the
// fallback, so the picker works in every deployment.
package search

import "strings"

// Record is one searchable entity. ID is account-qualified so all accounts
// share a single index and updates overwrite in place.
type Record struct {
	ID      string `json:"id"`
	Account string `json:"account"`
	NodeID  string `json:"nodeId"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Type    string `json:"type"`
}

// Response is what the search endpoint returns.
type Response struct {
	Results []Record `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// RecordID builds the account-qualified document id. Meilisearch accepts
// only alphanumerics, hyphens and underscores in ids, so both parts are
// sanitized before joining.
func RecordID(account, nodeID string) string {
	return sanitizeID(account) + "_" + sanitizeID(nodeID)
}

func sanitizeID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
