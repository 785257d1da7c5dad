package matchreview

import (
	"sort"

	"orgmap/api/internal/orgtree"
)

// MatchesForNode returns the approved and manually matched review items that
// resolve to the given node, by id first, display name as a fallback for
// older decisions saved before node ids were recorded. Matches come out in
// sorted item-id order per bucket so repeated renders agree.
func MatchesForNode(nodeName, nodeID string, decisions Decisions, items []ReviewItem) []ReviewItem {
	byID := make(map[string]ReviewItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	var result []ReviewItem
	for _, bucket := range []map[string]Decision{decisions.Approved, decisions.Manual} {
		matched := make([]string, 0, len(bucket))
		for itemID, decision := range bucket {
			matchByID := nodeID != "" && decision.ManualNodeID == nodeID
			matchByName := decision.ManualNode != "" && decision.ManualNode == nodeName
			if matchByID || matchByName {
				matched = append(matched, itemID)
			}
		}
		sort.Strings(matched)
		for _, itemID := range matched {
			if item, ok := byID[itemID]; ok {
				result = append(result, item)
			}
		}
	}
	return result
}

// Enrich attaches matched review evidence to the working tree: for every
// approved or manual decision, the item's snippets are appended to the
// matched node's evidence. Absorbed nodes are skipped — their evidence is
// rolled up elsewhere. The tree is mutated in place; it is a per-render
// projection, never shared.
func Enrich(tree *orgtree.WorkingNode, decisions Decisions, items []ReviewItem) {
	if tree == nil {
		return
	}
	var walk func(node *orgtree.WorkingNode)
	walk = func(node *orgtree.WorkingNode) {
		if !node.Absorbed {
			matches := MatchesForNode(node.EffectiveName(), node.ID, decisions, items)
			for _, item := range matches {
				attachEvidence(node, item)
			}
		}
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(tree)
}

func attachEvidence(node *orgtree.WorkingNode, item ReviewItem) {
	if node.Evidence == nil {
		node.Evidence = &orgtree.Evidence{
			Snippets:        []orgtree.Snippet{},
			SizeMentions:    []orgtree.SizeMention{},
			MatchedContacts: []orgtree.Contact{},
			Status:          "auto_matched",
		}
	}
	if len(item.AllSnippets) > 0 {
		node.Evidence.Snippets = append(node.Evidence.Snippets, item.AllSnippets...)
	} else if item.Snippet != "" {
		node.Evidence.Snippets = append(node.Evidence.Snippets, orgtree.Snippet{
			Quote:      item.Snippet,
			Date:       item.CallDate,
			GongURL:    item.GongURL,
			CallID:     item.CallID,
			EntityName: item.GongEntity,
		})
	}
	node.Evidence.TotalMentions += max(item.MentionCount, 1)
}
