package models

import (
	"fmt"
	"strconv"
	"strings"

	"bookstore/internal/schema"
)

// ScopeKind tells whether a request addresses the whole collection or one item.
type ScopeKind int

const (
	ScopeCollection ScopeKind = iota
	ScopeItem
)

// Media types reported for each scope kind.
const (
	ContentTypeList = "application/vnd.bookstore.inventory-list+json"
	ContentTypeItem = "application/vnd.bookstore.inventory-item+json"
)

// Filter narrows a collection request by exact column matches. Empty fields
// do not constrain.
type Filter struct {
	Name          string `json:"name,omitempty"`
	SupplierName  string `json:"supplier_name,omitempty"`
	SupplierPhone string `json:"supplier_phone,omitempty"`
}

// IsZero reports whether the filter matches every row.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Matches reports whether p satisfies the filter.
func (f Filter) Matches(p Product) bool {
	return (f.Name == "" || f.Name == p.Name) &&
		(f.SupplierName == "" || f.SupplierName == p.SupplierName) &&
		(f.SupplierPhone == "" || f.SupplierPhone == p.SupplierPhone)
}

// Conditions returns the filter as column equality conditions.
func (f Filter) Conditions() map[string]interface{} {
	cond := make(map[string]interface{}, 3)
	if f.Name != "" {
		cond[schema.ColumnName] = f.Name
	}
	if f.SupplierName != "" {
		cond[schema.ColumnSupplierName] = f.SupplierName
	}
	if f.SupplierPhone != "" {
		cond[schema.ColumnSupplierPhone] = f.SupplierPhone
	}
	return cond
}

// Scope addresses a request: the collection (optionally filtered) or one item.
type Scope struct {
	Kind   ScopeKind
	ID     int64
	Filter Filter
}

// Collection addresses every product.
func Collection() Scope {
	return Scope{Kind: ScopeCollection}
}

// Item addresses the product with the given id.
func Item(id int64) Scope {
	return Scope{Kind: ScopeItem, ID: id}
}

// Where addresses the products matching f.
func Where(f Filter) Scope {
	return Scope{Kind: ScopeCollection, Filter: f}
}

// String renders the scope as a path, "inventory" or "inventory/<id>".
func (s Scope) String() string {
	if s.Kind == ScopeItem {
		return schema.TableName + "/" + strconv.FormatInt(s.ID, 10)
	}
	return schema.TableName
}

// ContentType returns the media type of the data the scope addresses.
func (s Scope) ContentType() string {
	if s.Kind == ScopeItem {
		return ContentTypeItem
	}
	return ContentTypeList
}

// Overlaps reports whether a change at s is relevant to an observer of o.
// A collection change touches every item; an item change touches the
// collection and that item only.
func (s Scope) Overlaps(o Scope) bool {
	if s.Kind == ScopeCollection || o.Kind == ScopeCollection {
		return true
	}
	return s.ID == o.ID
}

// ParseScope parses "inventory" or "inventory/<id>" with optional slashes.
func ParseScope(path string) (Scope, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if parts[0] != schema.TableName {
		return Scope{}, fmt.Errorf("unknown path %q", path)
	}
	switch len(parts) {
	case 1:
		return Collection(), nil
	case 2:
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || id <= 0 {
			return Scope{}, fmt.Errorf("invalid id in path %q", path)
		}
		return Item(id), nil
	}
	return Scope{}, fmt.Errorf("unknown path %q", path)
}
