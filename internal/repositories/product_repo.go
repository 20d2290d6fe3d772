package repositories

import (
	"context"

	"bookstore/internal/models"
)

// ListQuery selects a page of products. Rows are ordered by SortColumn then
// id, both in the Desc direction. After is the last row of the previous page;
// the page starts strictly past it, so rows written between pages neither
// shift nor repeat the rows that follow.
type ListQuery struct {
	Filter     models.Filter
	SortColumn string // schema column; empty sorts by id
	Desc       bool
	After      *models.Product
	Limit      int // 0 means no limit
}

// ProductRepository defines the interface for product data access.
type ProductRepository interface {
	List(ctx context.Context, q ListQuery) ([]models.Product, error)
	GetByID(ctx context.Context, id int64) (*models.Product, error)
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, product *models.Product) error
	Update(ctx context.Context, scope models.Scope, fields models.ProductFields) (int64, error)
	Delete(ctx context.Context, scope models.Scope) (int64, error)
	// AdjustQuantity adds delta to the quantity of one product in a single
	// atomic step and returns the new value. A change that would make the
	// quantity negative writes nothing and returns models.ErrNoOpAtZero; one
	// past models.MaxQuantity writes nothing and returns
	// models.ErrQuantityLimit.
	AdjustQuantity(ctx context.Context, id int64, delta int) (int, error)
}
