package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategoryRef is the category reference carried on a product record.
// Upstream records are not consistent about which of these fields they fill in,
// so any of them may be empty.
type CategoryRef struct {
	ID       string `json:"id,omitempty"`
	Slug     string `json:"slug,omitempty"`
	ParentID string `json:"parent,omitempty"`
}

// BrandRef identifies the brand of a product.
type BrandRef struct {
	ID   string `json:"id"`
	Slug string `json:"slug,omitempty"`
	Name string `json:"name,omitempty"`
}

// Product is the denormalized product reference the storefront renders and keeps in
// the cart, favorites and comparison lists. It is always replaced wholesale, never patched.
type Product struct {
	ID        string           `json:"id" validate:"required"`
	Slug      string           `json:"slug,omitempty"`
	Name      string           `json:"name,omitempty"`
	Price     decimal.Decimal  `json:"price"` // A missing price decodes as zero.
	OldPrice  *decimal.Decimal `json:"old_price,omitempty"`
	InStock   bool             `json:"in_stock"`
	Images    []string         `json:"images,omitempty"`
	Category  *CategoryRef     `json:"category,omitempty"`
	Brand     *BrandRef        `json:"brand,omitempty"`
	IsHit     bool             `json:"is_hit,omitempty"`
	CreatedAt time.Time        `json:"created_at,omitempty"`
}

// Category is one node of the category tree.
type Category struct {
	ID       string     `json:"id"`
	Slug     string     `json:"slug"`
	Name     string     `json:"name"`
	ParentID string     `json:"parent,omitempty"`
	Children []Category `json:"children,omitempty"`
}

// FindChild returns the direct child with the given slug.
func (c Category) FindChild(slug string) (Category, bool) {
	for _, child := range c.Children {
		if child.Slug == slug {
			return child, true
		}
	}
	return Category{}, false
}

// FindCategory searches the tree depth-first for a node with the given slug.
func FindCategory(tree []Category, slug string) (Category, bool) {
	if slug == "" {
		return Category{}, false
	}
	for _, node := range tree {
		if node.Slug == slug {
			return node, true
		}
		if found, ok := FindCategory(node.Children, slug); ok {
			return found, true
		}
	}
	return Category{}, false
}

// Flatten returns every node of the tree in depth-first order, children stripped.
func Flatten(tree []Category) []Category {
	flat := make([]Category, 0, len(tree))
	var walk func(nodes []Category)
	walk = func(nodes []Category) {
		for _, node := range nodes {
			children := node.Children
			node.Children = nil
			flat = append(flat, node)
			walk(children)
		}
	}
	walk(tree)
	return flat
}

// BuildTree assembles flat category rows into a hierarchy. Rows whose parent is
// unknown become roots. A parent cycle with no way up to a root is broken at its
// first row in input order, which becomes a root with its parent cleared. Input
// order is preserved among siblings.
func BuildTree(flat []Category) []Category {
	known := make(map[string]bool, len(flat))
	for _, c := range flat {
		known[c.ID] = true
	}
	children := make(map[string][]Category)
	var roots []Category
	for _, c := range flat {
		c.Children = nil
		if c.ParentID == "" || c.ParentID == c.ID || !known[c.ParentID] {
			roots = append(roots, c)
			continue
		}
		children[c.ParentID] = append(children[c.ParentID], c)
	}

	visited := make(map[string]bool, len(flat))
	var attach func(nodes []Category) []Category
	attach = func(nodes []Category) []Category {
		out := make([]Category, 0, len(nodes))
		for _, node := range nodes {
			if visited[node.ID] {
				continue
			}
			visited[node.ID] = true
			node.Children = attach(children[node.ID])
			if len(node.Children) == 0 {
				node.Children = nil
			}
			out = append(out, node)
		}
		return out
	}
	tree := attach(roots)
	for _, c := range flat {
		if visited[c.ID] {
			continue
		}
		c.Children = nil
		c.ParentID = ""
		tree = append(tree, attach([]Category{c})...)
	}
	return tree
}
