package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/safar/go-cql-shop/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return mr, client
}

func widget() *models.Product {
	return &models.Product{
		ID:          uuid.New(),
		Name:        "Widget",
		Category:    "Tools",
		Price:       decimal.RequireFromString("9.99"),
		Description: "A widget",
		Attributes:  models.Attributes{"color": "red"},
	}
}

func TestProductCacheGetSet(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewProductCache(client)
	ctx := context.Background()

	p := widget()

	_, found := cache.Get(ctx, p.ID)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, p))

	got, found := cache.Get(ctx, p.ID)
	require.True(t, found)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Name, got.Name)
	assert.True(t, p.Price.Equal(got.Price))
	assert.Equal(t, p.Attributes, got.Attributes)

	hits, misses := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestProductCacheTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewProductCache(client, WithTTL(time.Minute), WithPrefix("test:"))
	ctx := context.Background()

	p := widget()
	require.NoError(t, cache.Set(ctx, p))
	assert.True(t, mr.Exists("test:"+p.ID.String()))
	assert.Equal(t, time.Minute, mr.TTL("test:"+p.ID.String()))

	mr.FastForward(2 * time.Minute)

	_, found := cache.Get(ctx, p.ID)
	assert.False(t, found)
}

func TestProductCacheCorruptEntryIsMiss(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewProductCache(client)

	id := uuid.New()
	require.NoError(t, mr.Set(DefaultPrefix+id.String(), "{not json"))

	_, found := cache.Get(context.Background(), id)
	assert.False(t, found)
}

func TestProductCacheRedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewProductCache(client)
	mr.Close()

	_, found := cache.Get(context.Background(), uuid.New())
	assert.False(t, found)
	assert.Error(t, cache.Set(context.Background(), widget()))
}

func TestDial(t *testing.T) {
	mr, _ := setupTestRedis(t)

	client, err := Dial(context.Background(), mr.Addr())
	require.NoError(t, err)
	client.Close()

	_, err = Dial(context.Background(), "127.0.0.1:1")
	assert.Error(t, err)
}
