package orgtree

import (
	"strconv"
	"strings"
)

// SizeKey builds the lower-cased "{account}:{nodeId}" key the size overlay is
// stored under.
func SizeKey(account, nodeID string) string {
	return strings.ToLower(account + ":" + nodeID)
}

// DisplaySize resolves the size shown for a node, highest priority first:
// custom override value, the size mention picked by index, the first size
// mention, the node's own size field. The second return is false when no size
// is available at all.
func DisplaySize(account string, node *WorkingNode, overrides map[string]SizeOverride) (string, bool) {
	if node == nil {
		return "", false
	}
	override, ok := overrides[SizeKey(account, node.ID)]
	if ok {
		if override.CustomValue != "" {
			return override.CustomValue, true
		}
		if override.SelectedSizeIndex != nil && node.Evidence != nil {
			idx := *override.SelectedSizeIndex
			if idx >= 0 && idx < len(node.Evidence.SizeMentions) {
				return node.Evidence.SizeMentions[idx].Value, true
			}
		}
	}
	if node.Evidence != nil && len(node.Evidence.SizeMentions) > 0 {
		return node.Evidence.SizeMentions[0].Value, true
	}
	if node.Size != nil {
		return strconv.Itoa(*node.Size), true
	}
	return "", false
}
