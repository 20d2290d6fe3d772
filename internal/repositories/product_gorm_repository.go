package repositories

import (
	"context"
	"errors"
	"fmt"

	"bookstore/internal/models"
	"bookstore/internal/schema"
	"bookstore/internal/storage"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GORMProductRepository is a GORM implementation of ProductRepository on top
// of the storage engine. Each method is one read or one write transaction.
type GORMProductRepository struct {
	engine *storage.Engine
}

// NewGORMProductRepository creates a new instance of GORMProductRepository.
func NewGORMProductRepository(engine *storage.Engine) *GORMProductRepository {
	return &GORMProductRepository{
		engine: engine,
	}
}

// List retrieves one page of products.
func (r *GORMProductRepository) List(ctx context.Context, q ListQuery) ([]models.Product, error) {
	column := q.SortColumn
	if column == "" {
		column = schema.ColumnID
	}
	if _, ok := schema.Lookup(column); !ok {
		return nil, fmt.Errorf("unknown sort column %q", column)
	}

	var products []models.Product
	err := r.engine.Read(ctx, func(db *gorm.DB) error {
		stmt := db.Model(&models.Product{})
		if !q.Filter.IsZero() {
			stmt = stmt.Where(q.Filter.Conditions())
		}
		if q.After != nil {
			stmt = after(stmt, column, q.Desc, *q.After)
		}
		stmt = stmt.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: q.Desc})
		if column != schema.ColumnID {
			stmt = stmt.Order(clause.OrderByColumn{Column: clause.Column{Name: schema.ColumnID}, Desc: q.Desc})
		}
		if q.Limit > 0 {
			stmt = stmt.Limit(q.Limit)
		}
		return stmt.Find(&products).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// after keeps the rows that sort strictly past last in (column, id) order.
func after(db *gorm.DB, column string, desc bool, last models.Product) *gorm.DB {
	op := ">"
	if desc {
		op = "<"
	}
	if column == schema.ColumnID {
		return db.Where(fmt.Sprintf("id %s ?", op), last.ID)
	}
	v, _ := last.Value(column)
	return db.Where(fmt.Sprintf("(%[1]s %[2]s ? OR (%[1]s = ? AND id %[2]s ?))", column, op), v, v, last.ID)
}

// GetByID retrieves a single product by its ID.
func (r *GORMProductRepository) GetByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := r.engine.Read(ctx, func(db *gorm.DB) error {
		return db.First(&product, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("product with ID %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get product by ID %d: %w", id, err)
	}
	return &product, nil
}

// Count returns the number of stored products.
func (r *GORMProductRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.engine.Read(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Product{}).Count(&count).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

// Create inserts a new product; the database assigns product.ID.
func (r *GORMProductRepository) Create(ctx context.Context, product *models.Product) error {
	product.ID = 0
	err := r.engine.Write(ctx, func(tx *gorm.DB) error {
		return tx.Create(product).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// Update writes the present fields to every product in scope.
func (r *GORMProductRepository) Update(ctx context.Context, scope models.Scope, fields models.ProductFields) (int64, error) {
	var rows int64
	err := r.engine.Write(ctx, func(tx *gorm.DB) error {
		res := scoped(tx.Model(&models.Product{}), scope).Updates(fields.Columns())
		rows = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update products in %s: %w", scope, err)
	}
	return rows, nil
}

// Delete removes every product in scope.
func (r *GORMProductRepository) Delete(ctx context.Context, scope models.Scope) (int64, error) {
	var rows int64
	err := r.engine.Write(ctx, func(tx *gorm.DB) error {
		res := scoped(tx, scope).Delete(&models.Product{})
		rows = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete products in %s: %w", scope, err)
	}
	return rows, nil
}

// AdjustQuantity applies delta with one conditional UPDATE, so two callers
// racing on the same row cannot lose an update.
func (r *GORMProductRepository) AdjustQuantity(ctx context.Context, id int64, delta int) (int, error) {
	var quantity int
	err := r.engine.Write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.Product{}).
			Where("id = ? AND quantity + ? BETWEEN 0 AND ?", id, delta, models.MaxQuantity).
			UpdateColumn(schema.ColumnQuantity, gorm.Expr("quantity + ?", delta))
		if res.Error != nil {
			return res.Error
		}

		var p models.Product
		if err := tx.Select(schema.ColumnQuantity).First(&p, "id = ?", id).Error; err != nil {
			return err
		}
		quantity = p.Quantity
		if res.RowsAffected == 0 {
			if delta > 0 {
				return models.ErrQuantityLimit
			}
			return models.ErrNoOpAtZero
		}
		return nil
	})
	switch {
	case err == nil:
		return quantity, nil
	case errors.Is(err, models.ErrNoOpAtZero), errors.Is(err, models.ErrQuantityLimit):
		return quantity, err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return 0, fmt.Errorf("product with ID %d: %w", id, models.ErrNotFound)
	}
	return 0, fmt.Errorf("failed to adjust quantity of product %d: %w", id, err)
}

func scoped(db *gorm.DB, scope models.Scope) *gorm.DB {
	switch {
	case scope.Kind == models.ScopeItem:
		return db.Where("id = ?", scope.ID)
	case !scope.Filter.IsZero():
		return db.Where(scope.Filter.Conditions())
	}
	return db.Session(&gorm.Session{AllowGlobalUpdate: true})
}
