package orgtree

import "strings"

// FindNode walks the tree depth-first and returns the node with the given id,
// or nil.
func FindNode(root *Node, id string) *Node {
	if root == nil {
		return nil
	}
	if root.ID == id {
		return root
	}
	for _, child := range root.Children {
		if found := FindNode(child, id); found != nil {
			return found
		}
	}
	return nil
}

// FindWorkingNode is FindNode over a working tree.
func FindWorkingNode(root *WorkingNode, id string) *WorkingNode {
	if root == nil {
		return nil
	}
	if root.ID == id {
		return root
	}
	for _, child := range root.Children {
		if found := FindWorkingNode(child, id); found != nil {
			return found
		}
	}
	return nil
}

// FindParent returns the parent of the node with the given id, or nil when the
// id is the root or absent.
func FindParent(root *Node, id string) *Node {
	return findParent(root, id, nil)
}

func findParent(node *Node, id string, parent *Node) *Node {
	if node == nil {
		return nil
	}
	if node.ID == id {
		return parent
	}
	for _, child := range node.Children {
		if found := findParent(child, id, node); found != nil {
			return found
		}
	}
	return nil
}

func findWorkingParent(node *WorkingNode, id string, parent *WorkingNode) *WorkingNode {
	if node == nil {
		return nil
	}
	if node.ID == id {
		return parent
	}
	for _, child := range node.Children {
		if found := findWorkingParent(child, id, node); found != nil {
			return found
		}
	}
	return nil
}

// IsDescendant reports whether childID lives inside the subtree rooted at
// parentID. Used to reject moves that would create a cycle.
func IsDescendant(root *Node, parentID, childID string) bool {
	parent := FindNode(root, parentID)
	if parent == nil {
		return false
	}
	return FindNode(parent, childID) != nil
}

// CountNodes returns the number of nodes in the subtree, itself included.
func CountNodes(root *Node) int {
	if root == nil {
		return 0
	}
	count := 1
	for _, child := range root.Children {
		count += CountNodes(child)
	}
	return count
}

// CountVisible counts working nodes that are not absorbed. Absorbed nodes stay
// in the tree structurally but are excluded from every rendered aggregate.
func CountVisible(root *WorkingNode) int {
	if root == nil {
		return 0
	}
	count := 0
	if !root.Absorbed {
		count = 1
	}
	for _, child := range root.Children {
		count += CountVisible(child)
	}
	return count
}

// CollectNodes flattens the subtree depth-first.
func CollectNodes(root *Node) []*Node {
	if root == nil {
		return nil
	}
	result := []*Node{root}
	for _, child := range root.Children {
		result = append(result, CollectNodes(child)...)
	}
	return result
}

// NodeIndex builds an id -> node map for O(1) lookups.
func NodeIndex(root *Node) map[string]*Node {
	index := make(map[string]*Node)
	var walk func(*Node)
	walk = func(node *Node) {
		if node == nil {
			return
		}
		if node.ID != "" {
			index[node.ID] = node
		}
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(root)
	return index
}

// EntityListItem is one row of the flattened entity list fed to pickers and
// the search index.
type EntityListItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

// BuildEntityList flattens the tree to picker rows, honoring field-edited
// display names in both the name and the "A / B / C" path.
func BuildEntityList(root *Node, edits map[string]FieldEdit) []EntityListItem {
	var result []EntityListItem
	var walk func(node *Node, parentPath string)
	walk = func(node *Node, parentPath string) {
		if node == nil {
			return
		}
		name := node.Name
		if edit, ok := edits[node.ID]; ok && edit.Name != nil && edit.Name.Edited != "" {
			name = edit.Name.Edited
		}
		path := name
		if parentPath != "" {
			path = parentPath + " / " + name
		}
		result = append(result, EntityListItem{ID: node.ID, Name: name, Path: path, Type: string(node.Type)})
		for _, child := range node.Children {
			walk(child, path)
		}
	}
	walk(root, "")
	return result
}

// FilterEntityList returns the items whose name or path contains the query,
// case-insensitively. Empty queries match nothing, matching the picker's
// type-to-search behavior.
func FilterEntityList(items []EntityListItem, query string) []EntityListItem {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var result []EntityListItem
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Name), q) || strings.Contains(strings.ToLower(item.Path), q) {
			result = append(result, item)
		}
	}
	return result
}
