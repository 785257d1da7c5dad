// Package matchreview tracks reviewer decisions on AI-suggested entity
// matches. Decisions live beside the tree overlays but never change the tree
// structurally — approved matches only enrich what is displayed.
package matchreview

import (
	"fmt"
	"time"
)

// Category is one of the three decision buckets. Items absent from all
// buckets are implicitly pending.
type Category string

const (
	CategoryApproved Category = "approved"
	CategoryRejected Category = "rejected"
	CategoryManual   Category = "manual"
)

// ParseCategory validates a raw category string.
func ParseCategory(raw string) (Category, error) {
	switch Category(raw) {
	case CategoryApproved, CategoryRejected, CategoryManual:
		return Category(raw), nil
	}
	return "", fmt.Errorf("category must be one of: approved, rejected, manual")
}

// Decision records what a reviewer did with one suggestion item.
type Decision struct {
	ManualNodeID string `json:"manualNodeId"`
	ManualNode   string `json:"manualNode"`
	ManualPath   string `json:"manualPath,omitempty"`
	ApprovedAt   string `json:"approvedAt,omitempty"`
	RejectedAt   string `json:"rejectedAt,omitempty"`
	MatchedAt    string `json:"matchedAt,omitempty"`
	User         string `json:"user,omitempty"`
}

// Decisions is the per-account bucket state. An item id exists in at most one
// bucket at any time; every transition clears the other buckets first.
type Decisions struct {
	Approved map[string]Decision `json:"approved"`
	Rejected map[string]Decision `json:"rejected"`
	Manual   map[string]Decision `json:"manual"`
}

// NewDecisions returns empty bucket state.
func NewDecisions() Decisions {
	return Decisions{
		Approved: make(map[string]Decision),
		Rejected: make(map[string]Decision),
		Manual:   make(map[string]Decision),
	}
}

// ensure guards against buckets deserialized as nil maps.
func (d *Decisions) ensure() {
	if d.Approved == nil {
		d.Approved = make(map[string]Decision)
	}
	if d.Rejected == nil {
		d.Rejected = make(map[string]Decision)
	}
	if d.Manual == nil {
		d.Manual = make(map[string]Decision)
	}
}

func (d *Decisions) clear(itemID string) {
	d.ensure()
	delete(d.Approved, itemID)
	delete(d.Rejected, itemID)
	delete(d.Manual, itemID)
}

// Set places a decision into the target bucket, clearing the item from the
// other two. Manual picks must resolve to a real node id; approvals of LLM
// suggestions may omit it.
func (d *Decisions) Set(category Category, itemID string, decision Decision) error {
	if itemID == "" {
		return fmt.Errorf("itemId required")
	}
	if category == CategoryManual && decision.ManualNodeID == "" {
		return fmt.Errorf("manualNodeId required for manual matches")
	}
	d.clear(itemID)
	switch category {
	case CategoryApproved:
		d.Approved[itemID] = decision
	case CategoryRejected:
		d.Rejected[itemID] = decision
	case CategoryManual:
		d.Manual[itemID] = decision
	default:
		return fmt.Errorf("category must be one of: approved, rejected, manual")
	}
	return nil
}

// Approve marks the item's suggested match as correct.
func (d *Decisions) Approve(itemID, manualNode, manualPath, manualNodeID string, now time.Time) error {
	return d.Set(CategoryApproved, itemID, Decision{
		ManualNode:   manualNode,
		ManualNodeID: manualNodeID,
		ManualPath:   manualPath,
		ApprovedAt:   now.UTC().Format(time.RFC3339),
	})
}

// Reject dismisses the item; no node reference is needed.
func (d *Decisions) Reject(itemID string, now time.Time) error {
	return d.Set(CategoryRejected, itemID, Decision{
		RejectedAt: now.UTC().Format(time.RFC3339),
	})
}

// ManualMatch records that the reviewer picked a different entity themselves.
func (d *Decisions) ManualMatch(itemID, manualNode, manualPath, manualNodeID string, now time.Time) error {
	return d.Set(CategoryManual, itemID, Decision{
		ManualNode:   manualNode,
		ManualNodeID: manualNodeID,
		ManualPath:   manualPath,
		MatchedAt:    now.UTC().Format(time.RFC3339),
	})
}

// Reset removes the item from every bucket, returning it to pending.
func (d *Decisions) Reset(itemID string) {
	d.clear(itemID)
}

// Status derives the item's review state; it is never stored separately.
func (d *Decisions) Status(itemID string) string {
	d.ensure()
	if _, ok := d.Approved[itemID]; ok {
		return "approved"
	}
	if _, ok := d.Rejected[itemID]; ok {
		return "rejected"
	}
	if _, ok := d.Manual[itemID]; ok {
		return "manual"
	}
	return "pending"
}
