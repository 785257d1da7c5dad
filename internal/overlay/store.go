package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"orgmap/api/internal/kv"
	"orgmap/api/internal/orgtree"
)

// Observer is notified of overlay writes and detected overwrite races. The
// race signal is diagnostic only — last write still wins.
type Observer interface {
	OverlayWrite(category string)
	OverwriteRace(category string)
}

// Store persists overlay records through the opaque kv backend. One kv key
// holds one category for one account; every successful write bumps the
// account's sync version.
type Store struct {
	kv         kv.Store
	observer   Observer
	raceWindow time.Duration
	now        func() time.Time
}

// NewStore wraps a kv backend. observer may be nil. raceWindow bounds how
// close together two different users must rewrite the same entry for the
// overwrite to be counted as a race (normally the sync poll interval).
func NewStore(backend kv.Store, raceWindow time.Duration, observer Observer) *Store {
	return &Store{
		kv:         backend,
		observer:   observer,
		raceWindow: raceWindow,
		now:        time.Now,
	}
}

// Raw returns the stored JSON for one category, or "{}" when absent.
func (s *Store) Raw(ctx context.Context, account string, cat Category) (json.RawMessage, error) {
	value, ok, err := s.kv.Get(ctx, cat.StorageKey(account))
	if err != nil {
		return nil, err
	}
	if !ok || len(value) == 0 {
		return json.RawMessage("{}"), nil
	}
	return value, nil
}

// Apply writes one validated upsert and bumps the sync version. Map categories
// merge the entry into the existing record map and stamp user/savedAt; blob
// categories replace the stored value wholesale.
func (s *Store) Apply(ctx context.Context, account string, up Upsert) error {
	storageKey := up.Category.StorageKey(account)

	if up.Category.IsBlob() {
		value, err := json.Marshal(up.Value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", up.Category, err)
		}
		if err := s.kv.Set(ctx, storageKey, value); err != nil {
			return err
		}
		return s.finishWrite(ctx, account, up.Category)
	}

	existing, err := s.loadEntryMap(ctx, storageKey)
	if err != nil {
		return err
	}

	entry, err := stampEntry(up.Value, up.User, s.now())
	if err != nil {
		return fmt.Errorf("marshal %s entry: %w", up.Category, err)
	}

	if previous, ok := existing[up.Key]; ok {
		s.checkRace(up.Category, up.Key, previous, entry)
	}
	existing[up.Key] = entry

	value, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", up.Category, err)
	}
	if err := s.kv.Set(ctx, storageKey, value); err != nil {
		return err
	}
	return s.finishWrite(ctx, account, up.Category)
}

// DeleteEntry removes one key from a category map and bumps the version.
// Removing a missing key still writes (and bumps) — deletes are idempotent.
func (s *Store) DeleteEntry(ctx context.Context, account string, cat Category, key string) error {
	storageKey := cat.StorageKey(account)
	existing, err := s.loadEntryMap(ctx, storageKey)
	if err != nil {
		return err
	}
	delete(existing, key)

	value, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", cat, err)
	}
	if err := s.kv.Set(ctx, storageKey, value); err != nil {
		return err
	}
	return s.finishWrite(ctx, account, cat)
}

// Version returns the account's sync version token, "0" when none exists.
// The token is a millisecond timestamp string but callers must treat it as
// opaque — only equality matters.
func (s *Store) Version(ctx context.Context, account string) (string, error) {
	value, ok, err := s.kv.Get(ctx, versionKey(account))
	if err != nil {
		return "", err
	}
	if !ok || len(value) == 0 {
		return "0", nil
	}
	return string(value), nil
}

// BumpVersion advances the account's sync version token.
func (s *Store) BumpVersion(ctx context.Context, account string) error {
	token := strconv.FormatInt(s.now().UnixMilli(), 10)
	return s.kv.Set(ctx, versionKey(account), []byte(token))
}

// LoadState reads every category into a typed aggregate. Records that fail to
// decode are dropped with a log line rather than failing the whole load —
// a corrupt entry must not make an account unviewable.
func (s *Store) LoadState(ctx context.Context, account string) (*State, error) {
	state := NewState(account)

	if err := s.loadInto(ctx, account, CategoryCorrections, &state.Corrections); err != nil {
		return nil, err
	}
	if err := s.loadInto(ctx, account, CategoryFieldEdits, &state.FieldEdits); err != nil {
		return nil, err
	}
	if err := s.loadInto(ctx, account, CategorySizes, &state.Sizes); err != nil {
		return nil, err
	}
	if err := s.loadInto(ctx, account, CategoryMerges, &state.Merges); err != nil {
		return nil, err
	}
	if err := s.loadInto(ctx, account, CategoryMoveOverrides, &state.MoveOverrides); err != nil {
		return nil, err
	}
	if err := s.loadInto(ctx, account, CategoryResolutions, &state.Resolutions); err != nil {
		return nil, err
	}

	// Blob categories: absent means nil, not empty.
	if value, ok, err := s.kv.Get(ctx, CategoryGraduatedMap.StorageKey(account)); err != nil {
		return nil, err
	} else if ok && len(value) > 0 {
		var data orgtree.CompanyData
		if err := json.Unmarshal(value, &data); err != nil {
			log.Printf("overlay: dropping undecodable graduated-map for %s: %v", account, err)
		} else {
			state.GraduatedMap = &data
		}
	}
	if value, ok, err := s.kv.Get(ctx, CategoryModifications.StorageKey(account)); err != nil {
		return nil, err
	} else if ok && len(value) > 0 {
		var mods orgtree.Modifications
		if err := json.Unmarshal(value, &mods); err != nil {
			log.Printf("overlay: dropping undecodable modifications for %s: %v", account, err)
		} else {
			state.Modifications = &mods
		}
	}

	return state, nil
}

func (s *Store) loadInto(ctx context.Context, account string, cat Category, target any) error {
	value, ok, err := s.kv.Get(ctx, cat.StorageKey(account))
	if err != nil {
		return err
	}
	if !ok || len(value) == 0 {
		return nil
	}
	if err := json.Unmarshal(value, target); err != nil {
		log.Printf("overlay: dropping undecodable %s for %s: %v", cat, account, err)
	}
	return nil
}

func (s *Store) finishWrite(ctx context.Context, account string, cat Category) error {
	if err := s.BumpVersion(ctx, account); err != nil {
		return err
	}
	if s.observer != nil {
		s.observer.OverlayWrite(string(cat))
	}
	return nil
}

// checkRace flags the last-write-wins hazard: a different user rewrote the
// same entry inside the race window, so the earlier write is silently lost.
func (s *Store) checkRace(cat Category, key string, previous, next json.RawMessage) {
	var prev, curr struct {
		User    string `json:"user"`
		SavedAt string `json:"savedAt"`
	}
	if json.Unmarshal(previous, &prev) != nil || json.Unmarshal(next, &curr) != nil {
		return
	}
	if prev.User == "" || prev.User == curr.User {
		return
	}
	savedAt, err := time.Parse(time.RFC3339, prev.SavedAt)
	if err != nil {
		return
	}
	if s.now().Sub(savedAt) < s.raceWindow {
		log.Printf("overlay: overwrite race on %s/%s: %s overwrote %s within %s", cat, key, curr.User, prev.User, s.raceWindow)
		if s.observer != nil {
			s.observer.OverwriteRace(string(cat))
		}
	}
}

func (s *Store) loadEntryMap(ctx context.Context, storageKey string) (map[string]json.RawMessage, error) {
	value, ok, err := s.kv.Get(ctx, storageKey)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]json.RawMessage)
	if ok && len(value) > 0 {
		if err := json.Unmarshal(value, &entries); err != nil {
			log.Printf("overlay: resetting undecodable record map at %s: %v", storageKey, err)
			entries = make(map[string]json.RawMessage)
		}
	}
	return entries, nil
}

// stampEntry merges user and savedAt into the record's JSON object, matching
// what clients see when they reload the category.
func stampEntry(record any, user string, now time.Time) (json.RawMessage, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	if user == "" {
		user = "anonymous"
	}
	entry["user"] = user
	entry["savedAt"] = now.UTC().Format(time.RFC3339)
	return json.Marshal(entry)
}

func versionKey(account string) string {
	return "sync-version:" + account
}
