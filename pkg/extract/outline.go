package extract

import (
	"strings"

	"github.com/ledongthuc/pdf"
	"socratium/pkg/domain"
)

const (
	untitled     = "Untitled"
	maxOutlines  = 10000
	maxNameDepth = 32
)

// readOutline walks the document's bookmark tree. It returns nil when the
// document has no outline.
func readOutline(r *pdf.Reader) []domain.OutlineNode {
	root := r.Trailer().Key("Root")
	first := root.Key("Outlines").Key("First")
	if first.IsNull() {
		return nil
	}
	res := &destResolver{root: root, pages: pageIndex(r)}
	budget := maxOutlines
	return res.walk(first, &budget)
}

type destResolver struct {
	root  pdf.Value
	pages map[string]int
}

func (d *destResolver) walk(item pdf.Value, budget *int) []domain.OutlineNode {
	var nodes []domain.OutlineNode
	for ; !item.IsNull() && *budget > 0; item = item.Key("Next") {
		*budget--
		title := strings.TrimSpace(item.Key("Title").Text())
		if title == "" {
			title = untitled
		}
		node := domain.OutlineNode{Title: title, PageNumber: d.pageOf(item)}
		if child := item.Key("First"); !child.IsNull() {
			node.Children = d.walk(child, budget)
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// pageOf resolves an outline item's destination to a 1-based page number.
func (d *destResolver) pageOf(item pdf.Value) *int {
	dest := item.Key("Dest")
	if dest.IsNull() {
		action := item.Key("A")
		if action.Key("S").Name() != "GoTo" {
			return nil
		}
		dest = action.Key("D")
	}
	switch dest.Kind() {
	case pdf.Name:
		dest = d.named(dest.Name())
	case pdf.String:
		dest = d.named(dest.RawString())
	}
	if dest.Kind() == pdf.Dict {
		dest = dest.Key("D")
	}
	if dest.Kind() != pdf.Array || dest.Len() == 0 {
		return nil
	}
	target := dest.Index(0)
	switch target.Kind() {
	case pdf.Dict:
		if n, ok := d.pages[target.String()]; ok {
			return &n
		}
	case pdf.Integer:
		n := int(target.Int64()) + 1
		if n >= 1 && n <= len(d.pages) {
			return &n
		}
	}
	return nil
}

// named looks a destination up in the catalog's Dests dictionary and then
// in the Names/Dests name tree.
func (d *destResolver) named(name string) pdf.Value {
	if v := d.root.Key("Dests").Key(name); !v.IsNull() {
		return v
	}
	return lookupNameTree(d.root.Key("Names").Key("Dests"), name, 0)
}

func lookupNameTree(node pdf.Value, name string, depth int) pdf.Value {
	if node.IsNull() || depth > maxNameDepth {
		return pdf.Value{}
	}
	if names := node.Key("Names"); names.Kind() == pdf.Array {
		for i := 0; i+1 < names.Len(); i += 2 {
			if names.Index(i).RawString() == name {
				return names.Index(i + 1)
			}
		}
	}
	kids := node.Key("Kids")
	for i := 0; i < kids.Len(); i++ {
		kid := kids.Index(i)
		if limits := kid.Key("Limits"); limits.Len() == 2 {
			if name < limits.Index(0).RawString() || name > limits.Index(1).RawString() {
				continue
			}
		}
		if v := lookupNameTree(kid, name, depth+1); !v.IsNull() {
			return v
		}
	}
	return pdf.Value{}
}

// pageIndex keys each page dictionary by its printed form, which carries
// the object references of its entries and so tells pages apart.
func pageIndex(r *pdf.Reader) map[string]int {
	n := r.NumPage()
	idx := make(map[string]int, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		key := p.V.String()
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}
