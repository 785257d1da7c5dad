package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"orgmap/api/internal/client"
	"orgmap/api/internal/matchreview"
	"orgmap/api/internal/orgtree"
)

// Session is a live client-side view of one account: the composed working
// tree and the match-review queue, kept current by a background poller and
// updated optimistically on writes.
type Session struct {
	account string
	api     *client.Client
	writer  *Writer
	poller  *Poller

	mu        sync.RWMutex
	tree      *orgtree.WorkingNode
	review    client.ReviewPayload
	suspended bool
}

// NewSession builds a session. Call Start to begin polling; Reload fetches
// the initial state.
func NewSession(account string, api *client.Client, pollInterval, retryDelay time.Duration, warn func(string)) *Session {
	s := &Session{
		account: account,
		api:     api,
		writer:  NewWriter(retryDelay, warn),
	}
	s.poller = &Poller{
		Interval:     pollInterval,
		FetchVersion: func(ctx context.Context) (string, error) { return api.SyncVersion(ctx, account) },
		Reload:       s.Reload,
		Suspended:    s.isSuspended,
	}
	return s
}

// Start runs the poller until the context is cancelled.
func (s *Session) Start(ctx context.Context) {
	go s.poller.Run(ctx)
}

// Reload fetches the working tree and review queue from the server, replacing
// the local view wholesale.
func (s *Session) Reload(ctx context.Context) error {
	tree, err := s.api.WorkingTree(ctx, s.account)
	if err != nil {
		return err
	}
	review, err := s.api.MatchReview(ctx, s.account)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.tree = tree
	s.review = review
	s.mu.Unlock()
	return nil
}

// Tree returns the current working tree; nil before the first Reload.
func (s *Session) Tree() *orgtree.WorkingNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree
}

// Review returns the current review queue state.
func (s *Session) Review() client.ReviewPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.review
}

// Suspend pauses background reloads while a local edit is in progress.
func (s *Session) Suspend() {
	s.mu.Lock()
	s.suspended = true
	s.mu.Unlock()
}

// Resume re-enables background reloads.
func (s *Session) Resume() {
	s.mu.Lock()
	s.suspended = false
	s.mu.Unlock()
}

func (s *Session) isSuspended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suspended
}

// SaveOverlay persists one overlay upsert optimistically: reloads are
// suspended for the duration, the returned version token becomes the poll
// baseline so our own write does not trigger a refetch, and a confirmed save
// refetches state once to reconcile with any concurrent writer. A failed save
// leaves the local view alone — the edit is kept, just unsynced.
func (s *Session) SaveOverlay(ctx context.Context, category string, body any) bool {
	s.Suspend()
	defer s.Resume()

	version, saved := s.writer.Persist(ctx, func(ctx context.Context) (string, error) {
		return s.api.SaveOrgState(ctx, s.account, category, body)
	})
	if saved {
		s.poller.Observe(version)
		s.reconcile(ctx)
	}
	return saved
}

// DeleteOverlay removes one overlay entry with the same optimistic handling.
func (s *Session) DeleteOverlay(ctx context.Context, category string, body any) bool {
	s.Suspend()
	defer s.Resume()

	version, saved := s.writer.Persist(ctx, func(ctx context.Context) (string, error) {
		return s.api.DeleteOrgState(ctx, s.account, category, body)
	})
	if saved {
		s.poller.Observe(version)
		s.reconcile(ctx)
	}
	return saved
}

// reconcile refreshes local state after a confirmed write. A failure here is
// not fatal: the next version poll will notice the drift and reload.
func (s *Session) reconcile(ctx context.Context) {
	if err := s.Reload(ctx); err != nil {
		log.Printf("syncer: post-write reconcile failed: %v", err)
	}
}

// Decide records a match-review decision and updates the local bucket state
// from the server's response.
func (s *Session) Decide(ctx context.Context, req client.DecisionRequest) (matchreview.Decisions, error) {
	decisions, err := s.api.SaveMatchDecision(ctx, s.account, req)
	if err != nil {
		return matchreview.Decisions{}, err
	}
	s.mu.Lock()
	s.review.Decisions = decisions
	s.mu.Unlock()
	return decisions, nil
}
