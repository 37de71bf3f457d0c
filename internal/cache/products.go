// Package cache holds an optional Redis read-through layer for catalog
// reads. Products never change after creation, so entries only expire by TTL.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/safar/go-cql-shop/internal/models"
)

const (
	DefaultProductTTL = time.Hour
	DefaultPrefix     = "shop:product:"
)

type ProductCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string

	hits   int64
	misses int64
}

type Option func(*ProductCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *ProductCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(c *ProductCache) {
		c.prefix = prefix
	}
}

func NewProductCache(client *redis.Client, opts ...Option) *ProductCache {
	c := &ProductCache{
		client: client,
		ttl:    DefaultProductTTL,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to addr and pings it once.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *ProductCache) key(id uuid.UUID) string {
	return c.prefix + id.String()
}

// Get returns the cached product. Redis failures and corrupt entries count
// as misses.
func (c *ProductCache) Get(ctx context.Context, id uuid.UUID) (*models.Product, bool) {
	val, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	var p models.Product
	if err := json.Unmarshal(val, &p); err != nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return &p, true
}

func (c *ProductCache) Set(ctx context.Context, p *models.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	if err := c.client.Set(ctx, c.key(p.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache product %s: %w", p.ID, err)
	}
	return nil
}

func (c *ProductCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}
