package services

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"bookstore/internal/metrics"
	"bookstore/internal/models"
	"bookstore/internal/notify"
	"bookstore/internal/repositories"
	"bookstore/internal/schema"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// DefaultPageSize is the number of rows List reads from storage at a time.
const DefaultPageSize = 50

// Sort orders a listing by one schema column.
type Sort struct {
	Column string
	Desc   bool
}

// ListOptions narrows and orders a listing. The zero value lists every
// product by id.
type ListOptions struct {
	Filter models.Filter
	Sort   Sort
}

// InventoryService is the routed CRUD façade over the inventory table. It
// validates input, delegates to the repository and publishes a change event
// after every committed write.
type InventoryService struct {
	repo       repositories.ProductRepository
	hub        *notify.Hub
	publishers notify.Fanout
	validate   *validator.Validate
	log        *zap.Logger
	metrics    *metrics.Metrics
	pageSize   int
}

// Option configures an InventoryService.
type Option func(*InventoryService)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *InventoryService) { s.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *InventoryService) { s.metrics = m }
}

// WithPublisher adds a publisher that receives every change event after
// the hub, e.g. a message broker.
func WithPublisher(p notify.Publisher) Option {
	return func(s *InventoryService) {
		s.publishers = append(s.publishers, p)
	}
}

// WithPageSize sets how many rows List reads per storage round trip.
func WithPageSize(n int) Option {
	return func(s *InventoryService) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewInventoryService creates a new InventoryService.
func NewInventoryService(repo repositories.ProductRepository, hub *notify.Hub, opts ...Option) *InventoryService {
	s := &InventoryService{
		repo:       repo,
		hub:        hub,
		publishers: notify.Fanout{hub},
		validate:   newValidator(),
		log:        zap.NewNop(),
		pageSize:   DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns a lazy sequence of the products matching opts. Rows are read
// a page at a time and no lock is held while the loop body runs, so the
// caller may write to the store while iterating. Each page resumes after the
// last row yielded: rows deleted or inserted by the loop body never cause a
// surviving row to be skipped or repeated. Ranging over the sequence again
// runs the query again.
func (s *InventoryService) List(ctx context.Context, opts ListOptions) iter.Seq2[models.Product, error] {
	return func(yield func(models.Product, error) bool) {
		var err error
		defer func() { s.metrics.ObserveStoreOp("list", err) }()

		if opts.Sort.Column != "" {
			if _, ok := schema.Lookup(opts.Sort.Column); !ok {
				err = &models.ValidationError{Field: "sort", Rule: "sortable"}
				yield(models.Product{}, err)
				return
			}
		}

		q := repositories.ListQuery{
			Filter:     opts.Filter,
			SortColumn: opts.Sort.Column,
			Desc:       opts.Sort.Desc,
			Limit:      s.pageSize,
		}
		for {
			var page []models.Product
			page, err = s.repo.List(ctx, q)
			if err != nil {
				yield(models.Product{}, err)
				return
			}
			for _, p := range page {
				if !yield(p, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			last := page[len(page)-1]
			q.After = &last
		}
	}
}

// ListAll collects List into a slice.
func (s *InventoryService) ListAll(ctx context.Context, opts ListOptions) ([]models.Product, error) {
	products := []models.Product{}
	for p, err := range s.List(ctx, opts) {
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

// Get retrieves a single product by its ID.
func (s *InventoryService) Get(ctx context.Context, id int64) (product *models.Product, err error) {
	defer func() { s.metrics.ObserveStoreOp("get", err) }()
	return s.repo.GetByID(ctx, id)
}

// Count returns the number of stored products.
func (s *InventoryService) Count(ctx context.Context) (int64, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, err
	}
	s.metrics.SetProductsStored(n)
	return n, nil
}

// Insert validates fields, stores a new product and returns its ID. An
// omitted quantity is stored as 0.
func (s *InventoryService) Insert(ctx context.Context, fields models.ProductFields) (id int64, err error) {
	defer func() { s.metrics.ObserveStoreOp("insert", err) }()

	if err := s.validateInsert(fields); err != nil {
		return 0, err
	}

	var product models.Product
	fields.Apply(&product)
	if err := s.repo.Create(ctx, &product); err != nil {
		s.log.Error("failed to insert product", zap.String("name", product.Name), zap.Error(err))
		return 0, fmt.Errorf("%w: %w", models.ErrInsertFailed, err)
	}

	s.log.Info("product inserted", zap.Int64("id", product.ID), zap.String("name", product.Name))
	s.publish(ctx, notify.NewEvent(models.Collection(), notify.OpInsert, product.ID, 1))
	return product.ID, nil
}

// Update writes the present fields to every product in scope and returns
// the number of rows changed. Zero rows is not an error.
func (s *InventoryService) Update(ctx context.Context, scope models.Scope, fields models.ProductFields) (rows int64, err error) {
	defer func() { s.metrics.ObserveStoreOp("update", err) }()

	if err := s.validateUpdate(fields); err != nil {
		return 0, err
	}
	if fields.Empty() {
		return 0, nil
	}

	rows, err = s.repo.Update(ctx, scope, fields)
	if err != nil {
		s.log.Error("failed to update products", zap.Stringer("scope", scope), zap.Error(err))
		return 0, fmt.Errorf("%w: %w", models.ErrUpdateFailed, err)
	}
	if rows > 0 {
		s.publish(ctx, notify.NewEvent(scope, notify.OpUpdate, scope.ID, rows))
	}
	return rows, nil
}

// Delete removes every product in scope and returns the number removed.
func (s *InventoryService) Delete(ctx context.Context, scope models.Scope) (rows int64, err error) {
	defer func() { s.metrics.ObserveStoreOp("delete", err) }()

	rows, err = s.repo.Delete(ctx, scope)
	if err != nil {
		s.log.Error("failed to delete products", zap.Stringer("scope", scope), zap.Error(err))
		return 0, fmt.Errorf("%w: %w", models.ErrDeleteFailed, err)
	}
	if rows > 0 {
		s.log.Info("products deleted", zap.Stringer("scope", scope), zap.Int64("rows", rows))
		s.publish(ctx, notify.NewEvent(scope, notify.OpDelete, scope.ID, rows))
	}
	return rows, nil
}

// DeleteOne removes the product with the given ID.
func (s *InventoryService) DeleteOne(ctx context.Context, id int64) (int64, error) {
	return s.Delete(ctx, models.Item(id))
}

// DeleteAll removes every product.
func (s *InventoryService) DeleteAll(ctx context.Context) (int64, error) {
	return s.Delete(ctx, models.Collection())
}

// QuickDecrement lowers a product's quantity by one and returns the new
// value. At zero nothing is written and models.ErrNoOpAtZero is returned
// with quantity 0.
func (s *InventoryService) QuickDecrement(ctx context.Context, id int64) (quantity int, err error) {
	defer func() { s.metrics.ObserveStoreOp("decrement", err) }()
	return s.adjust(ctx, id, -1, notify.OpDecrement)
}

// Restock raises a product's quantity by amount and returns the new value.
// A result above models.MaxQuantity is rejected and nothing is written.
func (s *InventoryService) Restock(ctx context.Context, id int64, amount int) (quantity int, err error) {
	defer func() { s.metrics.ObserveStoreOp("restock", err) }()

	if amount < 1 {
		return 0, &models.ValidationError{Field: "amount", Rule: "positive"}
	}
	if amount > models.MaxQuantity {
		return 0, &models.ValidationError{Field: "amount", Rule: "max"}
	}
	return s.adjust(ctx, id, amount, notify.OpRestock)
}

func (s *InventoryService) adjust(ctx context.Context, id int64, delta int, op notify.Op) (int, error) {
	quantity, err := s.repo.AdjustQuantity(ctx, id, delta)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNoOpAtZero):
		return quantity, err
	case errors.Is(err, models.ErrQuantityLimit):
		return quantity, &models.ValidationError{Field: "amount", Rule: "max"}
	case errors.Is(err, models.ErrNotFound):
		return 0, err
	default:
		s.log.Error("failed to adjust quantity", zap.Int64("id", id), zap.Int("delta", delta), zap.Error(err))
		return 0, fmt.Errorf("%w: %w", models.ErrUpdateFailed, err)
	}

	s.publish(ctx, notify.NewEvent(models.Item(id), op, id, 1))
	return quantity, nil
}

// SupplierDialURI returns a tel: URI for the product's supplier. Storage
// accepts any non-empty phone; dialing needs exactly ten digits.
func (s *InventoryService) SupplierDialURI(ctx context.Context, id int64) (string, error) {
	product, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if err := s.validate.Var(product.SupplierPhone, "len=10,number"); err != nil {
		return "", &models.ValidationError{Field: "supplier_phone", Rule: "phone"}
	}
	return "tel:" + product.SupplierPhone, nil
}

// Subscribe returns a stream of change events overlapping scope.
func (s *InventoryService) Subscribe(scope models.Scope) *notify.Subscription {
	return s.hub.Subscribe(scope)
}

// ContentType returns the media type of the data scope addresses.
func (s *InventoryService) ContentType(scope models.Scope) string {
	return scope.ContentType()
}

func (s *InventoryService) publish(ctx context.Context, ev notify.ChangeEvent) {
	s.publishers.Publish(ctx, ev)
}
