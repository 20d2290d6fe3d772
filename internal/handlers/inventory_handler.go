package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookstore/internal/middleware"
	"bookstore/internal/models"
	"bookstore/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// DefaultHeartbeat is how often an idle event stream sends a comment line.
const DefaultHeartbeat = 15 * time.Second

// InventoryHandler handles HTTP requests for the inventory table.
type InventoryHandler struct {
	service   *services.InventoryService
	log       *zap.Logger
	heartbeat time.Duration
}

// NewInventoryHandler creates a new InventoryHandler.
func NewInventoryHandler(service *services.InventoryService, log *zap.Logger) *InventoryHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &InventoryHandler{
		service:   service,
		log:       log,
		heartbeat: DefaultHeartbeat,
	}
}

// RegisterRoutes registers the inventory routes with the Fiber app.
func (h *InventoryHandler) RegisterRoutes(router fiber.Router) {
	inventory := router.Group("/inventory")
	inventory.Get("/", h.HandleList)
	inventory.Post("/", h.HandleInsert)
	inventory.Patch("/", h.HandleUpdateWhere)
	inventory.Delete("/", h.HandleDeleteWhere)
	// Before "/:id" so "events" is not read as an id.
	inventory.Get("/events", h.HandleEvents)
	inventory.Get("/:id", h.HandleGet)
	inventory.Patch("/:id", h.HandleUpdate)
	inventory.Delete("/:id", h.HandleDelete)
	inventory.Post("/:id/sale", h.HandleSale)
	inventory.Post("/:id/restock", h.HandleRestock)
	inventory.Get("/:id/supplier", h.HandleSupplier)
}

// HandleHealth reports whether storage answers.
func (h *InventoryHandler) HandleHealth(c *fiber.Ctx) error {
	count, err := h.service.Count(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ok", "products": count})
}

// HandleList lists products, optionally filtered by exact column values and
// sorted by one column.
func (h *InventoryHandler) HandleList(c *fiber.Ctx) error {
	opts := services.ListOptions{
		Filter: filterFromQuery(c),
		Sort: services.Sort{
			Column: c.Query("sort"),
			Desc:   c.QueryBool("desc"),
		},
	}
	products, err := h.service.ListAll(c.UserContext(), opts)
	if err != nil {
		return h.fail(c, err, "Could not retrieve products")
	}
	return c.JSON(products, h.service.ContentType(models.Collection()))
}

// HandleGet retrieves a single product by its ID.
func (h *InventoryHandler) HandleGet(c *fiber.Ctx) error {
	id, err := productID(c)
	if err != nil {
		return h.fail(c, err, "Invalid product ID")
	}
	product, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err, fmt.Sprintf("Could not retrieve product %d", id))
	}
	return c.JSON(product, h.service.ContentType(models.Item(id)))
}

// HandleInsert creates a new product.
func (h *InventoryHandler) HandleInsert(c *fiber.Ctx) error {
	var fields models.ProductFields
	if err := c.BodyParser(&fields); err != nil {
		return badBody(c, err)
	}

	id, err := h.service.Insert(c.UserContext(), fields)
	if err != nil {
		return h.fail(c, err, "Could not create product")
	}
	c.Location(fmt.Sprintf("%s/%d", strings.TrimSuffix(c.Path(), "/"), id))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

// HandleUpdate changes the present fields of one product.
func (h *InventoryHandler) HandleUpdate(c *fiber.Ctx) error {
	id, err := productID(c)
	if err != nil {
		return h.fail(c, err, "Invalid product ID")
	}
	return h.update(c, models.Item(id))
}

// HandleUpdateWhere changes the present fields of every product matching
// the query filter, or of all products without one.
func (h *InventoryHandler) HandleUpdateWhere(c *fiber.Ctx) error {
	return h.update(c, scopeFromQuery(c))
}

func (h *InventoryHandler) update(c *fiber.Ctx, scope models.Scope) error {
	var fields models.ProductFields
	if err := c.BodyParser(&fields); err != nil {
		return badBody(c, err)
	}

	rows, err := h.service.Update(c.UserContext(), scope, fields)
	if err != nil {
		return h.fail(c, err, "Could not update products")
	}
	return c.JSON(fiber.Map{"rows": rows})
}

// HandleDelete removes one product.
func (h *InventoryHandler) HandleDelete(c *fiber.Ctx) error {
	id, err := productID(c)
	if err != nil {
		return h.fail(c, err, "Invalid product ID")
	}
	rows, err := h.service.DeleteOne(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err, "Could not delete product")
	}
	if rows == 0 {
		return h.fail(c, fmt.Errorf("product with ID %d: %w", id, models.ErrNotFound), "Could not delete product")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleDeleteWhere removes every product matching the query filter, or all
// products without one.
func (h *InventoryHandler) HandleDeleteWhere(c *fiber.Ctx) error {
	rows, err := h.service.Delete(c.UserContext(), scopeFromQuery(c))
	if err != nil {
		return h.fail(c, err, "Could not delete products")
	}
	return c.JSON(fiber.Map{"rows": rows})
}

// HandleSale sells one unit of a product.
func (h *InventoryHandler) HandleSale(c *fiber.Ctx) error {
	id, err := productID(c)
	if err != nil {
		return h.fail(c, err, "Invalid product ID")
	}
	quantity, err := h.service.QuickDecrement(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err, "Could not record sale")
	}
	return c.JSON(fiber.Map{"id": id, "quantity": quantity})
}

// HandleRestock adds {"amount": n} units to a product.
func (h *InventoryHandler) HandleRestock(c *fiber.Ctx) error {
	id, err := productID(c)
	if err != nil {
		return h.fail(c, err, "Invalid product ID")
	}
	var body struct {
		Amount int `json:"amount"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badBody(c, err)
	}

	quantity, err := h.service.Restock(c.UserContext(), id, body.Amount)
	if err != nil {
		return h.fail(c, err, "Could not restock product")
	}
	return c.JSON(fiber.Map{"id": id, "quantity": quantity})
}

// HandleSupplier returns the tel: URI for calling a product's supplier.
func (h *InventoryHandler) HandleSupplier(c *fiber.Ctx) error {
	id, err := productID(c)
	if err != nil {
		return h.fail(c, err, "Invalid product ID")
	}
	uri, err := h.service.SupplierDialURI(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err, "Could not build supplier URI")
	}
	return c.JSON(fiber.Map{"uri": uri})
}

// HandleEvents streams change events for ?scope=inventory (the default) or
// ?scope=inventory/<id> as server-sent events until the client goes away or
// the server shuts down.
func (h *InventoryHandler) HandleEvents(c *fiber.Ctx) error {
	scope, err := models.ParseScope(c.Query("scope", "inventory"))
	if err != nil {
		return h.fail(c, &models.ValidationError{Field: "scope", Rule: "scope"}, err.Error())
	}

	sub := h.service.Subscribe(scope)
	log := middleware.Logger(c, h.log).With(zap.String("subscription", sub.ID), zap.Stringer("scope", scope))
	heartbeat := h.heartbeat

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		log.Debug("event stream opened")

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					log.Debug("event stream closed by server")
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					log.Error("failed to encode change event", zap.Error(err))
					continue
				}
				fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
			}
			if err := w.Flush(); err != nil {
				log.Debug("event stream client went away", zap.Error(err))
				return
			}
		}
	})
	return nil
}

// fail maps a store error to a status and the usual error body.
func (h *InventoryHandler) fail(c *fiber.Ctx, err error, message string) error {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": message,
			"error":   verr.Error(),
			"field":   verr.Field,
		})
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": message,
			"error":   err.Error(),
		})
	case errors.Is(err, models.ErrNoOpAtZero):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"message":  message,
			"error":    err.Error(),
			"quantity": 0,
		})
	case errors.Is(err, models.ErrStorageUnavailable):
		middleware.Logger(c, h.log).Error(message, zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"message": message,
			"error":   err.Error(),
		})
	}
	middleware.Logger(c, h.log).Error(message, zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"message": message,
		"error":   err.Error(),
	})
}

func badBody(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Invalid request body",
		"error":   err.Error(),
	})
}

func productID(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return 0, &models.ValidationError{Field: "id", Rule: "positive"}
	}
	return int64(id), nil
}

func filterFromQuery(c *fiber.Ctx) models.Filter {
	return models.Filter{
		Name:          c.Query("name"),
		SupplierName:  c.Query("supplier_name"),
		SupplierPhone: c.Query("supplier_phone"),
	}
}

func scopeFromQuery(c *fiber.Ctx) models.Scope {
	if f := filterFromQuery(c); !f.IsZero() {
		return models.Where(f)
	}
	return models.Collection()
}
