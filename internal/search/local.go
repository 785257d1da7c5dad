package search

import (
	"sort"
	"strings"
	"sync"
)

// Local is the in-memory fallback index. It holds the flattened entity list
// per account and answers substring queries over name and path.
type Local struct {
	mu      sync.RWMutex
	records map[string][]Record
}

// NewLocal creates an empty in-memory index.
func NewLocal() *Local {
	return &Local{records: make(map[string][]Record)}
}

// Replace swaps in the full record set for an account.
func (l *Local) Replace(account string, records []Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[account] = records
}

// Search returns up to limit records whose name or path contains the query,
// case-insensitively. Empty queries match nothing. Name hits sort before
// path-only hits so the picker surfaces direct matches first.
func (l *Local) Search(account, query string, limit int) []Record {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}

	l.mu.RLock()
	records := l.records[account]
	l.mu.RUnlock()

	type scored struct {
		rec    Record
		byName bool
	}
	var hits []scored
	for _, rec := range records {
		nameHit := strings.Contains(strings.ToLower(rec.Name), q)
		pathHit := strings.Contains(strings.ToLower(rec.Path), q)
		if !nameHit && !pathHit {
			continue
		}
		hits = append(hits, scored{rec: rec, byName: nameHit})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].byName && !hits[j].byName
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	result := make([]Record, len(hits))
	for i, h := range hits {
		result[i] = h.rec
	}
	return result
}
