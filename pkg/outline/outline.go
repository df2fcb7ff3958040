// Package outline flattens a document outline tree and resolves the
// section heading a reader is currently in.
package outline

import (
	"encoding/json"
	"strings"

	"socratium/pkg/domain"
)

// Entry is one outline node in flattened pre-order. Depth starts at 1 for
// top-level nodes.
type Entry struct {
	Title      string
	PageNumber *int
	Depth      int
}

// Flatten walks nodes depth-first in pre-order without recursion.
func Flatten(nodes []domain.OutlineNode) []Entry {
	type frame struct {
		node  *domain.OutlineNode
		depth int
	}
	stack := make([]frame, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: &nodes[i], depth: 1})
	}
	var out []Entry
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, Entry{
			Title:      top.node.Title,
			PageNumber: top.node.PageNumber,
			Depth:      top.depth,
		})
		children := top.node.Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: &children[i], depth: top.depth + 1})
		}
	}
	return out
}

// Resolve returns the entry with the greatest resolved page number not
// after page. Among entries on the same page the first in pre-order wins.
func Resolve(entries []Entry, page int) (Entry, bool) {
	var (
		best  Entry
		found bool
	)
	for _, e := range entries {
		if e.PageNumber == nil || *e.PageNumber > page {
			continue
		}
		if !found || *e.PageNumber > *best.PageNumber {
			best = e
			found = true
		}
	}
	return best, found
}

// SectionTitle resolves the heading for page in the outline tree.
func SectionTitle(nodes []domain.OutlineNode, page int) (string, bool) {
	if len(nodes) == 0 {
		return "", false
	}
	e, ok := Resolve(Flatten(nodes), page)
	if !ok {
		return "", false
	}
	return e.Title, true
}

// Parse decodes a stored outline. Empty input yields a nil outline.
func Parse(raw []byte) ([]domain.OutlineNode, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	var nodes []domain.OutlineNode
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// SectionTitleJSON resolves page against a stored outline. A missing or
// malformed outline resolves to no section.
func SectionTitleJSON(raw []byte, page int) (string, bool) {
	nodes, err := Parse(raw)
	if err != nil {
		return "", false
	}
	return SectionTitle(nodes, page)
}
