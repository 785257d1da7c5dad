package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxEntities = "orgmap_entities"

// Meili serves picker queries via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the entity index.
// The client starts unhealthy if the initial connection fails; the background
// monitor flips it back once the server is reachable.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxEntities,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxEntities, err)
	}

	index := m.client.Index(idxEntities)
	filterable := []interface{}{"account", "type"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxEntities, err)
	}
	searchable := []string{"name", "path"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxEntities, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the entity index, restricted to one account.
func (m *Meili) Search(account, query string, limit int) ([]Record, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 20
	}

	resp, err := m.client.Index(idxEntities).Search(query, &meili.SearchRequest{
		Limit:  int64(limit),
		Filter: fmt.Sprintf("account = %q", account),
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Record, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToRecord(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

// IndexRecords bulk-indexes entity records; ids are account-qualified so
// re-indexing an account overwrites its previous rows. AddDocuments only
// enqueues a task, so the task is awaited — a rejected document batch would
// otherwise leave the index empty with no error anywhere.
func (m *Meili) IndexRecords(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	index := m.client.Index(idxEntities)
	task, err := index.AddDocuments(records, nil)
	if err != nil {
		return err
	}
	finished, err := index.WaitForTask(task.TaskUID, 0)
	if err != nil {
		return err
	}
	if finished.Status != meili.TaskStatusSucceeded {
		return fmt.Errorf("indexing task %d ended %s: %s", task.TaskUID, finished.Status, finished.Error.Message)
	}
	return nil
}

func hitToRecord(hit meili.Hit) Record {
	return Record{
		ID:      decodeString(hit, "id"),
		Account: decodeString(hit, "account"),
		NodeID:  decodeString(hit, "nodeId"),
		Name:    decodeString(hit, "name"),
		Path:    decodeString(hit, "path"),
		Type:    decodeString(hit, "type"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
