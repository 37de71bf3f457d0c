package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/safar/go-cql-shop/internal/database"
	"github.com/safar/go-cql-shop/internal/metrics"
	"github.com/safar/go-cql-shop/internal/models"
	"gopkg.in/inf.v0"
)

const productColumns = `category, product_id, name, description, price, attributes`

// ProductCache is satisfied by cache.ProductCache.
type ProductCache interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Product, bool)
	Set(ctx context.Context, p *models.Product) error
}

// Catalog stores products partitioned by category, with a flat copy keyed by
// product_id so id lookups stay single-partition reads.
type Catalog struct {
	session *gocql.Session
	cache   ProductCache
	metrics *metrics.StoreMetrics
	logger  *slog.Logger
	newID   func() uuid.UUID
}

type CatalogOption func(*Catalog)

func WithProductCache(c ProductCache) CatalogOption {
	return func(cat *Catalog) {
		cat.cache = c
	}
}

func WithCatalogMetrics(m *metrics.StoreMetrics) CatalogOption {
	return func(cat *Catalog) {
		cat.metrics = m
	}
}

func WithCatalogLogger(l *slog.Logger) CatalogOption {
	return func(cat *Catalog) {
		cat.logger = l
	}
}

func NewCatalog(session *gocql.Session, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		session: session,
		logger:  slog.Default(),
		newID:   uuid.New,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Catalog) AddProduct(ctx context.Context, req models.NewProduct) (id uuid.UUID, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe("add_product", start, err) }()

	if err := req.Validate(); err != nil {
		return uuid.Nil, err
	}

	p := models.Product{
		ID:          c.newID(),
		Name:        req.Name,
		Category:    req.Category,
		Price:       req.Price,
		Description: req.Description,
		Attributes:  req.Attributes.Clone(),
	}

	err = c.session.Query(
		`INSERT INTO `+database.TableProductsByCategory+` (`+productColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		productArgs(p)...).WithContext(ctx).Exec()
	if err != nil {
		return uuid.Nil, database.WrapError(err, "insert product", database.TableProductsByCategory)
	}

	if err := c.PutProductIndex(ctx, p); err != nil {
		c.logger.Error("product index write failed, lookup by id will miss until reconciled",
			"product_id", p.ID.String(),
			"category", p.Category,
			"error", err)
		return uuid.Nil, err
	}

	return p.ID, nil
}

// PutProductIndex upserts the id-keyed copy of p.
func (c *Catalog) PutProductIndex(ctx context.Context, p models.Product) error {
	err := c.session.Query(
		`INSERT INTO `+database.TableProductsByID+` (`+productColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		productArgs(p)...).WithContext(ctx).Exec()
	if err != nil {
		return database.WrapError(err, "insert product index", database.TableProductsByID)
	}
	return nil
}

// GetProduct returns ErrProductNotFound when no product has the id.
func (c *Catalog) GetProduct(ctx context.Context, id uuid.UUID) (product *models.Product, err error) {
	start := time.Now()
	defer func() {
		if errors.Is(err, database.ErrProductNotFound) {
			c.metrics.Noop("get_product")
			c.metrics.Observe("get_product", start, nil)
			return
		}
		c.metrics.Observe("get_product", start, err)
	}()

	if c.cache != nil {
		if p, ok := c.cache.Get(ctx, id); ok {
			return p, nil
		}
	}

	p, err := scanProduct(c.session.Query(
		`SELECT `+productColumns+` FROM `+database.TableProductsByID+` WHERE product_id = ?`,
		gocql.UUID(id)).WithContext(ctx).Scan)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, database.ErrProductNotFound
		}
		return nil, database.WrapError(err, "get product", database.TableProductsByID)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, &p); err != nil {
			c.logger.Warn("product cache write failed", "product_id", id.String(), "error", err)
		}
	}

	return &p, nil
}

func (c *Catalog) GetAllProducts(ctx context.Context) (products []models.Product, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe("get_all_products", start, err) }()

	products = []models.Product{}
	err = c.EachProduct(ctx, func(p models.Product) error {
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Catalog) GetProductsByCategory(ctx context.Context, category string) (products []models.Product, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe("get_products_by_category", start, err) }()

	if strings.TrimSpace(category) == "" {
		return []models.Product{}, nil
	}

	iter := c.session.Query(
		`SELECT `+productColumns+` FROM `+database.TableProductsByCategory+` WHERE category = ?`,
		category).WithContext(ctx).Iter()

	products = []models.Product{}
	scanner := iter.Scanner()
	for scanner.Next() {
		p, err := scanProduct(scanner.Scan)
		if err != nil {
			iter.Close()
			return nil, database.WrapError(err, "scan product", database.TableProductsByCategory)
		}
		products = append(products, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, database.WrapError(err, "list products by category", database.TableProductsByCategory)
	}

	return products, nil
}

// EachProduct streams the category-partitioned table in token order.
func (c *Catalog) EachProduct(ctx context.Context, fn func(models.Product) error) error {
	iter := c.session.Query(
		`SELECT ` + productColumns + ` FROM ` + database.TableProductsByCategory).WithContext(ctx).Iter()

	scanner := iter.Scanner()
	for scanner.Next() {
		p, err := scanProduct(scanner.Scan)
		if err != nil {
			iter.Close()
			return database.WrapError(err, "scan product", database.TableProductsByCategory)
		}
		if err := fn(p); err != nil {
			iter.Close()
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return database.WrapError(err, "scan products", database.TableProductsByCategory)
	}
	return nil
}

// EachIndexedProductID streams the ids present in the id-keyed table.
func (c *Catalog) EachIndexedProductID(ctx context.Context, fn func(uuid.UUID) error) error {
	iter := c.session.Query(`SELECT product_id FROM ` + database.TableProductsByID).WithContext(ctx).Iter()

	scanner := iter.Scanner()
	for scanner.Next() {
		var id gocql.UUID
		if err := scanner.Scan(&id); err != nil {
			iter.Close()
			return database.WrapError(err, "scan product id", database.TableProductsByID)
		}
		if err := fn(uuid.UUID(id)); err != nil {
			iter.Close()
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return database.WrapError(err, "scan product ids", database.TableProductsByID)
	}
	return nil
}

func productArgs(p models.Product) []interface{} {
	return []interface{}{
		p.Category,
		gocql.UUID(p.ID),
		p.Name,
		p.Description,
		database.ToCQLDecimal(p.Price),
		map[string]string(p.Attributes),
	}
}

func scanProduct(scan func(dest ...interface{}) error) (models.Product, error) {
	var (
		p          models.Product
		id         gocql.UUID
		price      *inf.Dec
		attributes map[string]string
	)

	if err := scan(&p.Category, &id, &p.Name, &p.Description, &price, &attributes); err != nil {
		return models.Product{}, err
	}

	p.ID = uuid.UUID(id)
	p.Price = database.FromCQLDecimal(price)
	if len(attributes) > 0 {
		p.Attributes = models.Attributes(attributes)
	}
	return p, nil
}
