package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"orgmap/api/internal/kv"
	"orgmap/api/internal/matchreview"
	"orgmap/api/internal/orgtree"
	"orgmap/api/internal/overlay"
	"orgmap/api/internal/pipeline"
	"orgmap/api/internal/search"
)

// Service wires the overlay store, pipeline artifacts and search into the
// operations the HTTP layer exposes. All reads compose on the fly — there is
// no materialized working tree anywhere.
type Service struct {
	accounts    []string
	accountSet  map[string]struct{}
	kv          kv.Store
	overlays    *overlay.Store
	loader      *pipeline.Loader
	search      *search.Service
	diagnostics orgtree.Diagnostics
	now         func() time.Time
}

// NewService builds the service. diagnostics may be nil; searcher may be nil
// when the deployment has no picker surface.
func NewService(accounts []string, backend kv.Store, overlays *overlay.Store, loader *pipeline.Loader, searcher *search.Service, diagnostics orgtree.Diagnostics) *Service {
	set := make(map[string]struct{}, len(accounts))
	normalized := make([]string, 0, len(accounts))
	for _, account := range accounts {
		account = strings.ToLower(strings.TrimSpace(account))
		if account == "" {
			continue
		}
		if _, ok := set[account]; ok {
			continue
		}
		set[account] = struct{}{}
		normalized = append(normalized, account)
	}
	return &Service{
		accounts:    normalized,
		accountSet:  set,
		kv:          backend,
		overlays:    overlays,
		loader:      loader,
		search:      searcher,
		diagnostics: diagnostics,
		now:         time.Now,
	}
}

// Ping checks the kv backend.
func (s *Service) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

// Accounts returns the whitelist in configuration order.
func (s *Service) Accounts() []string {
	return append([]string(nil), s.accounts...)
}

// ResolveAccount normalizes and checks the account parameter. Every operation
// goes through this; an unknown account never touches storage.
func (s *Service) ResolveAccount(raw string) (string, error) {
	account := strings.ToLower(strings.TrimSpace(raw))
	if account == "" {
		return "", errValidation("account parameter required")
	}
	if _, ok := s.accountSet[account]; !ok {
		return "", errInvalidAccount(account, s.accounts)
	}
	return account, nil
}

// OrgState returns the raw stored JSON for one overlay category.
func (s *Service) OrgState(ctx context.Context, account, categoryRaw string) (json.RawMessage, error) {
	cat, err := overlay.ParseCategory(categoryRaw)
	if err != nil {
		return nil, errValidation(err.Error())
	}
	return s.overlays.Raw(ctx, account, cat)
}

// SaveOrgState validates and persists one overlay upsert, returning the new
// sync version token.
func (s *Service) SaveOrgState(ctx context.Context, account, categoryRaw string, body []byte) (string, error) {
	cat, err := overlay.ParseCategory(categoryRaw)
	if err != nil {
		return "", errValidation(err.Error())
	}
	up, err := overlay.ParseUpsert(cat, body)
	if err != nil {
		return "", errValidation(err.Error())
	}

	if cat == overlay.CategoryMerges {
		if err := s.validateMergeUpsert(ctx, account, up); err != nil {
			return "", err
		}
	}

	if err := s.overlays.Apply(ctx, account, up); err != nil {
		return "", err
	}
	return s.overlays.Version(ctx, account)
}

// validateMergeUpsert runs the merge state machine against the stored merge
// map before the record replaces it. Only absorptions the record adds are
// checked — re-saving an unchanged record must stay legal.
func (s *Service) validateMergeUpsert(ctx context.Context, account string, up overlay.Upsert) error {
	record, ok := up.Value.(orgtree.EntityMerge)
	if !ok {
		return errValidation("merge record required")
	}

	state, err := s.overlays.LoadState(ctx, account)
	if err != nil {
		return err
	}
	others := make(map[string]orgtree.EntityMerge, len(state.Merges))
	for canonicalID, merge := range state.Merges {
		if canonicalID != up.Key {
			others[canonicalID] = merge
		}
	}

	canonical := overlay.EntityRef{ID: up.Key}
	for _, absorbedID := range record.Absorbed {
		err := overlay.ValidateMerge(overlay.EntityRef{ID: absorbedID}, canonical, others)
		var mergeErr *overlay.MergeError
		if errors.As(err, &mergeErr) {
			return errMergeRejected(mergeErr.Message)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteOrgState removes one entry from a map category.
func (s *Service) DeleteOrgState(ctx context.Context, account, categoryRaw string, body []byte) (string, error) {
	cat, err := overlay.ParseCategory(categoryRaw)
	if err != nil {
		return "", errValidation(err.Error())
	}
	key, err := overlay.ParseDelete(cat, body)
	if err != nil {
		return "", errValidation(err.Error())
	}
	if err := s.overlays.DeleteEntry(ctx, account, cat, key); err != nil {
		return "", err
	}
	return s.overlays.Version(ctx, account)
}

// SyncVersion returns the account's opaque change token.
func (s *Service) SyncVersion(ctx context.Context, account string) (string, error) {
	return s.overlays.Version(ctx, account)
}

// BaseTree returns the tree composition starts from, before any overlays.
func (s *Service) BaseTree(ctx context.Context, account string) (*orgtree.Node, error) {
	state, err := s.overlays.LoadState(ctx, account)
	if err != nil {
		return nil, err
	}
	return s.baseTree(ctx, account, state)
}

func (s *Service) baseTree(ctx context.Context, account string, state *overlay.State) (*orgtree.Node, error) {
	data, err := s.loader.CompanyData(ctx, account)
	if err != nil {
		return nil, err
	}
	var pipelineRoot *orgtree.Node
	if data != nil {
		pipelineRoot = data.Root
	}
	base := state.BaseTree(pipelineRoot)
	if base == nil {
		return nil, errNotFound(fmt.Sprintf("no org tree available for %s", account))
	}
	return base, nil
}

// WorkingTree composes the account's display tree: overlays applied, matched
// review evidence attached. The search index is refreshed from the same
// composition pass so the picker always reflects current names.
func (s *Service) WorkingTree(ctx context.Context, account string) (*orgtree.WorkingNode, error) {
	state, err := s.overlays.LoadState(ctx, account)
	if err != nil {
		return nil, err
	}
	base, err := s.baseTree(ctx, account, state)
	if err != nil {
		return nil, err
	}

	var opts []orgtree.ComposeOption
	if s.diagnostics != nil {
		opts = append(opts, orgtree.WithDiagnostics(s.diagnostics))
	}
	tree := state.Compose(base, opts...)

	decisions, err := s.MatchDecisions(ctx, account)
	if err != nil {
		return nil, err
	}
	review, err := s.loader.ReviewFile(ctx, account)
	if err != nil {
		return nil, err
	}
	matchreview.Enrich(tree, decisions, review.Items)

	if s.search != nil {
		s.search.ReindexAccount(account, orgtree.BuildEntityList(base, state.FieldEdits))
	}
	return tree, nil
}

// SearchEntities answers a picker query. The entity list is rebuilt from the
// current base tree and field edits first, so renames are searchable without
// waiting for a working-tree fetch.
func (s *Service) SearchEntities(ctx context.Context, account, query string, limit int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Record{}, Query: query}, nil
	}
	state, err := s.overlays.LoadState(ctx, account)
	if err != nil {
		return search.Response{}, err
	}
	base, err := s.baseTree(ctx, account, state)
	if err != nil {
		return search.Response{}, err
	}
	s.search.ReindexAccount(account, orgtree.BuildEntityList(base, state.FieldEdits))
	return s.search.Search(account, query, limit), nil
}

// MatchReviewPayload is the review queue plus the decision state that drives
// its rendering.
type MatchReviewPayload struct {
	TotalUnmatched int                    `json:"totalUnmatched"`
	Items          []ReviewItemWithStatus `json:"items"`
	Decisions      matchreview.Decisions  `json:"decisions"`
}

// ReviewItemWithStatus decorates a pipeline item with its derived status.
type ReviewItemWithStatus struct {
	matchreview.ReviewItem
	ReviewStatus string `json:"review_status"`
}

// MatchReview returns the account's review queue with per-item status.
func (s *Service) MatchReview(ctx context.Context, account string) (MatchReviewPayload, error) {
	review, err := s.loader.ReviewFile(ctx, account)
	if err != nil {
		return MatchReviewPayload{}, err
	}
	decisions, err := s.MatchDecisions(ctx, account)
	if err != nil {
		return MatchReviewPayload{}, err
	}

	items := make([]ReviewItemWithStatus, len(review.Items))
	for i, item := range review.Items {
		items[i] = ReviewItemWithStatus{
			ReviewItem:   item,
			ReviewStatus: decisions.Status(item.ID),
		}
	}
	return MatchReviewPayload{
		TotalUnmatched: review.TotalUnmatched,
		Items:          items,
		Decisions:      decisions,
	}, nil
}

// MatchDecisions loads the account's decision buckets.
func (s *Service) MatchDecisions(ctx context.Context, account string) (matchreview.Decisions, error) {
	value, ok, err := s.kv.Get(ctx, decisionsKey(account))
	if err != nil {
		return matchreview.Decisions{}, err
	}
	decisions := matchreview.NewDecisions()
	if ok && len(value) > 0 {
		if err := json.Unmarshal(value, &decisions); err != nil {
			return matchreview.Decisions{}, fmt.Errorf("decode decisions for %s: %w", account, err)
		}
	}
	return decisions, nil
}

// MatchDecision carries the reviewer's chosen target for one queue item.
type MatchDecision struct {
	ManualNode   string `json:"manualNode"`
	ManualNodeID string `json:"manualNodeId"`
	ManualPath   string `json:"manualPath"`
	User         string `json:"user"`
}

// MatchDecisionRequest is the POST /api/match-review body:
// {itemId, category, decision: {…}}.
type MatchDecisionRequest struct {
	ItemID   string        `json:"itemId"`
	Category string        `json:"category"`
	Decision MatchDecision `json:"decision"`
}

// SaveMatchDecision applies one reviewer decision and bumps the sync version.
func (s *Service) SaveMatchDecision(ctx context.Context, account string, req MatchDecisionRequest) (matchreview.Decisions, error) {
	cat, err := matchreview.ParseCategory(req.Category)
	if err != nil {
		return matchreview.Decisions{}, errValidation(err.Error())
	}

	decisions, err := s.MatchDecisions(ctx, account)
	if err != nil {
		return matchreview.Decisions{}, err
	}

	now := s.now()
	switch cat {
	case matchreview.CategoryApproved:
		err = decisions.Approve(req.ItemID, req.Decision.ManualNode, req.Decision.ManualPath, req.Decision.ManualNodeID, now)
	case matchreview.CategoryRejected:
		err = decisions.Reject(req.ItemID, now)
	case matchreview.CategoryManual:
		err = decisions.ManualMatch(req.ItemID, req.Decision.ManualNode, req.Decision.ManualPath, req.Decision.ManualNodeID, now)
	}
	if err != nil {
		return matchreview.Decisions{}, errValidation(err.Error())
	}

	if req.Decision.User != "" {
		s.stampDecisionUser(&decisions, cat, req.ItemID, req.Decision.User)
	}
	if err := s.saveDecisions(ctx, account, decisions); err != nil {
		return matchreview.Decisions{}, err
	}
	return decisions, nil
}

func (s *Service) stampDecisionUser(decisions *matchreview.Decisions, cat matchreview.Category, itemID, user string) {
	var bucket map[string]matchreview.Decision
	switch cat {
	case matchreview.CategoryApproved:
		bucket = decisions.Approved
	case matchreview.CategoryRejected:
		bucket = decisions.Rejected
	case matchreview.CategoryManual:
		bucket = decisions.Manual
	}
	if decision, ok := bucket[itemID]; ok {
		decision.User = user
		bucket[itemID] = decision
	}
}

// ResetMatchDecision returns an item to pending.
func (s *Service) ResetMatchDecision(ctx context.Context, account, itemID string) (matchreview.Decisions, error) {
	if itemID == "" {
		return matchreview.Decisions{}, errValidation("itemId required")
	}
	decisions, err := s.MatchDecisions(ctx, account)
	if err != nil {
		return matchreview.Decisions{}, err
	}
	decisions.Reset(itemID)
	if err := s.saveDecisions(ctx, account, decisions); err != nil {
		return matchreview.Decisions{}, err
	}
	return decisions, nil
}

func (s *Service) saveDecisions(ctx context.Context, account string, decisions matchreview.Decisions) error {
	value, err := json.Marshal(decisions)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, decisionsKey(account), value); err != nil {
		return err
	}
	return s.overlays.BumpVersion(ctx, account)
}

func decisionsKey(account string) string {
	return "match-decisions:" + account
}

// Autosave returns the account's last client-side snapshot, or 404 when none
// was ever saved.
func (s *Service) Autosave(ctx context.Context, account string) (json.RawMessage, error) {
	value, ok, err := s.kv.Get(ctx, autosaveKey(account))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotFound("no autosave found for " + account)
	}
	return json.RawMessage(value), nil
}

// SaveAutosave stores the whole client-side overlay snapshot for crash
// recovery, stamped with user and savedAt. The snapshot is a recovery copy,
// not a synced overlay, so the version token stays untouched.
func (s *Service) SaveAutosave(ctx context.Context, account string, body []byte) (string, error) {
	var req struct {
		State map[string]any `json:"state"`
		User  string         `json:"user"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return "", errValidation("invalid JSON body")
	}
	if req.State == nil {
		return "", errValidation("state required")
	}

	savedAt := s.now().UTC().Format(time.RFC3339)
	req.State["savedAt"] = savedAt
	user := req.User
	if user == "" {
		user = "anonymous"
	}
	req.State["user"] = user

	value, err := json.Marshal(req.State)
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, autosaveKey(account), value); err != nil {
		return "", err
	}
	return savedAt, nil
}

func autosaveKey(account string) string {
	return "autosave:" + account
}
