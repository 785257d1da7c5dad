// Package client is the Go consumer of the org-state API: the sync engine and
// any tooling that edits overlays programmatically go through it. It speaks
// the same wire shapes the HTTP layer serves and treats version tokens as
// opaque strings.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"orgmap/api/internal/matchreview"
	"orgmap/api/internal/orgtree"
	"orgmap/api/internal/search"
)

// Client talks to one API instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option tweaks client construction.
type Option func(*Client)

// WithHTTPClient substitutes the underlying transport, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response decoded from the standard error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// OrgState fetches the raw stored JSON for one overlay category.
func (c *Client) OrgState(ctx context.Context, account, category string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/org-state", url.Values{"account": {account}, "type": {category}}, nil, &raw)
	return raw, err
}

type writeResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
}

// SaveOrgState posts one overlay upsert and returns the new version token.
func (c *Client) SaveOrgState(ctx context.Context, account, category string, body any) (string, error) {
	var resp writeResponse
	err := c.do(ctx, http.MethodPost, "/api/org-state", url.Values{"account": {account}, "type": {category}}, body, &resp)
	if err != nil {
		return "", err
	}
	return resp.Version, nil
}

// DeleteOrgState removes one entry from a map category.
func (c *Client) DeleteOrgState(ctx context.Context, account, category string, body any) (string, error) {
	var resp writeResponse
	err := c.do(ctx, http.MethodDelete, "/api/org-state", url.Values{"account": {account}, "type": {category}}, body, &resp)
	if err != nil {
		return "", err
	}
	return resp.Version, nil
}

// SyncVersion fetches the account's change token.
func (c *Client) SyncVersion(ctx context.Context, account string) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	err := c.do(ctx, http.MethodGet, "/api/sync-version", url.Values{"account": {account}}, nil, &resp)
	if err != nil {
		return "", err
	}
	return resp.Version, nil
}

// WorkingTree fetches the composed display tree.
func (c *Client) WorkingTree(ctx context.Context, account string) (*orgtree.WorkingNode, error) {
	var resp struct {
		Tree *orgtree.WorkingNode `json:"tree"`
	}
	err := c.do(ctx, http.MethodGet, "/api/working-tree", url.Values{"account": {account}}, nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Tree, nil
}

// BaseTree fetches the pre-overlay tree.
func (c *Client) BaseTree(ctx context.Context, account string) (*orgtree.Node, error) {
	var resp struct {
		Tree *orgtree.Node `json:"tree"`
	}
	err := c.do(ctx, http.MethodGet, "/api/base-tree", url.Values{"account": {account}}, nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Tree, nil
}

// ReviewPayload mirrors the GET /api/match-review response.
type ReviewPayload struct {
	TotalUnmatched int                   `json:"totalUnmatched"`
	Items          []ReviewItem          `json:"items"`
	Decisions      matchreview.Decisions `json:"decisions"`
}

// ReviewItem is a queue item with its server-derived status.
type ReviewItem struct {
	matchreview.ReviewItem
	ReviewStatus string `json:"review_status"`
}

// MatchReview fetches the review queue with decision state.
func (c *Client) MatchReview(ctx context.Context, account string) (ReviewPayload, error) {
	var resp ReviewPayload
	err := c.do(ctx, http.MethodGet, "/api/match-review", url.Values{"account": {account}}, nil, &resp)
	return resp, err
}

// Decision carries the reviewer's chosen target for one queue item.
type Decision struct {
	ManualNode   string `json:"manualNode,omitempty"`
	ManualNodeID string `json:"manualNodeId,omitempty"`
	ManualPath   string `json:"manualPath,omitempty"`
	User         string `json:"user,omitempty"`
}

// DecisionRequest is the POST /api/match-review body.
type DecisionRequest struct {
	ItemID   string   `json:"itemId"`
	Category string   `json:"category"`
	Decision Decision `json:"decision"`
}

type decisionsResponse struct {
	OK        bool                  `json:"ok"`
	Decisions matchreview.Decisions `json:"decisions"`
}

// SaveMatchDecision records one reviewer decision.
func (c *Client) SaveMatchDecision(ctx context.Context, account string, req DecisionRequest) (matchreview.Decisions, error) {
	var resp decisionsResponse
	err := c.do(ctx, http.MethodPost, "/api/match-review", url.Values{"account": {account}}, req, &resp)
	return resp.Decisions, err
}

// ResetMatchDecision returns an item to pending.
func (c *Client) ResetMatchDecision(ctx context.Context, account, itemID string) (matchreview.Decisions, error) {
	var resp decisionsResponse
	body := map[string]string{"itemId": itemID}
	err := c.do(ctx, http.MethodDelete, "/api/match-review", url.Values{"account": {account}}, body, &resp)
	return resp.Decisions, err
}

// Autosave fetches the account's last saved recovery snapshot.
func (c *Client) Autosave(ctx context.Context, account string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/autosave", url.Values{"account": {account}}, nil, &raw)
	return raw, err
}

// SaveAutosave stores a whole-state recovery snapshot and returns the server's
// savedAt stamp.
func (c *Client) SaveAutosave(ctx context.Context, account string, state any, user string) (string, error) {
	body := map[string]any{"state": state}
	if user != "" {
		body["user"] = user
	}
	var resp struct {
		OK      bool   `json:"ok"`
		SavedAt string `json:"savedAt"`
	}
	err := c.do(ctx, http.MethodPost, "/api/autosave", url.Values{"account": {account}}, body, &resp)
	if err != nil {
		return "", err
	}
	return resp.SavedAt, nil
}

// SearchEntities queries the entity picker endpoint.
func (c *Client) SearchEntities(ctx context.Context, account, query string, limit int) (search.Response, error) {
	values := url.Values{"account": {account}, "q": {query}}
	if limit > 0 {
		values.Set("limit", fmt.Sprint(limit))
	}
	var resp search.Response
	err := c.do(ctx, http.MethodGet, "/api/entities/search", values, nil, &resp)
	return resp, err
}

// Accounts fetches the server's account whitelist.
func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	var resp struct {
		Accounts []string `json:"accounts"`
	}
	err := c.do(ctx, http.MethodGet, "/api/accounts", nil, nil, &resp)
	return resp.Accounts, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, target any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&envelope) == nil {
			apiErr.Code = envelope.Code
			apiErr.Message = envelope.Error
		}
		return apiErr
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
