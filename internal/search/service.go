package search

import (
	"log"

	"orgmap/api/internal/orgtree"
)

// Service is the facade that tries Meilisearch first and falls back to the
// in-memory index. Both are fed the same records, so results only differ in
// ranking.
type Service struct {
	meili *Meili
	local *Local
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, local *Local) *Service {
	if local == nil {
		local = NewLocal()
	}
	return &Service{meili: meili, local: local}
}

// Search answers a picker query for one account.
func (s *Service) Search(account, query string, limit int) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(account, query, limit)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: query}
		}
		log.Printf("search: meilisearch error, falling back to local index: %v", err)
	}

	results := s.local.Search(account, query, limit)
	return Response{Results: nonNil(results), Total: len(results), Query: query}
}

// ReindexAccount replaces the account's records in both indexes. The
// Meilisearch push is fire-and-forget; the local index is the source of truth
// for fallback queries either way.
func (s *Service) ReindexAccount(account string, items []orgtree.EntityListItem) {
	records := make([]Record, len(items))
	for i, item := range items {
		records[i] = Record{
			ID:      RecordID(account, item.ID),
			Account: account,
			NodeID:  item.ID,
			Name:    item.Name,
			Path:    item.Path,
			Type:    item.Type,
		}
	}
	s.local.Replace(account, records)

	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRecords(records); err != nil {
			log.Printf("search: reindex %s: %v", account, err)
		}
	}()
}

func nonNil(r []Record) []Record {
	if r == nil {
		return []Record{}
	}
	return r
}
