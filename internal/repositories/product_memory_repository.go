package repositories

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"bookstore/internal/models"
	"bookstore/internal/schema"
)

// MemoryProductRepository is an in-memory implementation of ProductRepository.
// It backs the "memory" storage driver and service tests.
type MemoryProductRepository struct {
	products map[int64]models.Product
	nextID   int64
	mu       sync.RWMutex
}

// NewMemoryProductRepository creates a new instance of MemoryProductRepository.
func NewMemoryProductRepository() *MemoryProductRepository {
	return &MemoryProductRepository{
		products: make(map[int64]models.Product),
		nextID:   1,
	}
}

// List returns one page of products.
func (r *MemoryProductRepository) List(_ context.Context, q ListQuery) ([]models.Product, error) {
	compare, err := compareBy(q.SortColumn)
	if err != nil {
		return nil, err
	}
	order := func(a, b models.Product) int {
		c := compare(a, b)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if q.Desc {
			c = -c
		}
		return c
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	productList := make([]models.Product, 0, len(r.products))
	for _, p := range r.products {
		if !q.Filter.Matches(p) {
			continue
		}
		if q.After != nil && order(p, *q.After) <= 0 {
			continue
		}
		productList = append(productList, p)
	}
	slices.SortFunc(productList, order)

	if q.Limit > 0 && q.Limit < len(productList) {
		productList = productList[:q.Limit]
	}
	return productList, nil
}

// GetByID returns a product by its ID.
func (r *MemoryProductRepository) GetByID(_ context.Context, id int64) (*models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	if !ok {
		return nil, fmt.Errorf("product with ID %d: %w", id, models.ErrNotFound)
	}
	return &product, nil
}

// Count returns the number of stored products.
func (r *MemoryProductRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.products)), nil
}

// Create adds a new product and assigns its ID.
func (r *MemoryProductRepository) Create(_ context.Context, product *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product.ID = r.nextID
	r.nextID++
	r.products[product.ID] = *product
	return nil
}

// Update applies the present fields to every product in scope.
func (r *MemoryProductRepository) Update(_ context.Context, scope models.Scope, fields models.ProductFields) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rows int64
	for _, id := range r.matching(scope) {
		p := r.products[id]
		fields.Apply(&p)
		r.products[id] = p
		rows++
	}
	return rows, nil
}

// Delete removes every product in scope.
func (r *MemoryProductRepository) Delete(_ context.Context, scope models.Scope) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.matching(scope)
	for _, id := range ids {
		delete(r.products, id)
	}
	return int64(len(ids)), nil
}

// AdjustQuantity adds delta to a product's quantity under the write lock.
func (r *MemoryProductRepository) AdjustQuantity(_ context.Context, id int64, delta int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return 0, fmt.Errorf("product with ID %d: %w", id, models.ErrNotFound)
	}
	if delta < -p.Quantity {
		return p.Quantity, models.ErrNoOpAtZero
	}
	if delta > models.MaxQuantity-p.Quantity {
		return p.Quantity, models.ErrQuantityLimit
	}
	p.Quantity += delta
	r.products[id] = p
	return p.Quantity, nil
}

// matching must be called with r.mu held.
func (r *MemoryProductRepository) matching(scope models.Scope) []int64 {
	if scope.Kind == models.ScopeItem {
		if _, ok := r.products[scope.ID]; ok {
			return []int64{scope.ID}
		}
		return nil
	}
	var ids []int64
	for id, p := range r.products {
		if scope.Filter.Matches(p) {
			ids = append(ids, id)
		}
	}
	return ids
}

func compareBy(column string) (func(a, b models.Product) int, error) {
	switch column {
	case "", schema.ColumnID:
		return func(a, b models.Product) int { return cmp.Compare(a.ID, b.ID) }, nil
	case schema.ColumnName:
		return func(a, b models.Product) int { return strings.Compare(a.Name, b.Name) }, nil
	case schema.ColumnPrice:
		return func(a, b models.Product) int { return cmp.Compare(a.Price, b.Price) }, nil
	case schema.ColumnQuantity:
		return func(a, b models.Product) int { return cmp.Compare(a.Quantity, b.Quantity) }, nil
	case schema.ColumnSupplierName:
		return func(a, b models.Product) int { return strings.Compare(a.SupplierName, b.SupplierName) }, nil
	case schema.ColumnSupplierPhone:
		return func(a, b models.Product) int { return strings.Compare(a.SupplierPhone, b.SupplierPhone) }, nil
	}
	return nil, fmt.Errorf("unknown sort column %q", column)
}
