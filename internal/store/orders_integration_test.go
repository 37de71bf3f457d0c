//go:build integration

package store

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/safar/go-cql-shop/internal/database"
	"github.com/safar/go-cql-shop/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(userID uuid.UUID, status string) models.NewOrder {
	return models.NewOrder{
		UserID:    userID,
		Status:    status,
		ProductID: uuid.New(),
		Name:      "Widget",
		Quantity:  3,
		Price:     decimal.RequireFromString("9.99"),
	}
}

func findStatusRow(rows []models.StatusOrder, id uuid.UUID) (models.StatusOrder, int) {
	var (
		found models.StatusOrder
		n     int
	)
	for _, r := range rows {
		if r.ID == id {
			found = r
			n++
		}
	}
	return found, n
}

func TestAddOrderMirrorsProjections(t *testing.T) {
	s := NewOrders(setupTestSession(t))
	ctx := context.Background()
	userID := uuid.New()

	order, err := s.AddOrder(ctx, newTestOrder(userID, models.OrderStatusPending))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, order.ID)

	byUser, err := s.GetOrdersByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, order.ID, byUser[0].ID)
	assert.Equal(t, "Widget", byUser[0].Name)
	assert.True(t, order.OrderDate.Equal(byUser[0].OrderDate))

	byStatus, err := s.GetOrdersByStatus(ctx, models.OrderStatusPending)
	require.NoError(t, err)
	row, n := findStatusRow(byStatus, order.ID)
	assert.Equal(t, 1, n)
	assert.Equal(t, userID, row.UserID)
	assert.Equal(t, order.ProductID, row.ProductID)
}

func TestTotalPriceIsExact(t *testing.T) {
	s := NewOrders(setupTestSession(t))
	ctx := context.Background()

	tests := []struct {
		price    string
		quantity int
		want     string
	}{
		{"9.99", 3, "29.97"},
		{"0.1", 3, "0.3"},
		{"19.95", 7, "139.65"},
		{"0", 5, "0"},
	}

	for _, tt := range tests {
		req := newTestOrder(uuid.New(), "exact-"+tt.price)
		req.Price = decimal.RequireFromString(tt.price)
		req.Quantity = tt.quantity

		order, err := s.AddOrder(ctx, req)
		require.NoError(t, err)

		rows, err := s.GetOrdersByStatus(ctx, req.Status)
		require.NoError(t, err)
		row, n := findStatusRow(rows, order.ID)
		require.Equal(t, 1, n)

		want := decimal.RequireFromString(tt.want)
		assert.True(t, want.Equal(row.TotalPrice), "%s x %d: got %s", tt.price, tt.quantity, row.TotalPrice)

		byUser, err := s.GetOrdersByUser(ctx, req.UserID)
		require.NoError(t, err)
		require.Len(t, byUser, 1)
		assert.True(t, req.Price.Equal(byUser[0].Price))
	}
}

func TestUpdateOrderStatusMovesRow(t *testing.T) {
	s := NewOrders(setupTestSession(t))
	ctx := context.Background()
	userID := uuid.New()

	order, err := s.AddOrder(ctx, newTestOrder(userID, models.OrderStatusPending))
	require.NoError(t, err)

	before, err := s.GetOrdersByStatus(ctx, models.OrderStatusPending)
	require.NoError(t, err)
	orig, _ := findStatusRow(before, order.ID)

	moved, err := s.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.True(t, moved)

	pending, err := s.GetOrdersByStatus(ctx, models.OrderStatusPending)
	require.NoError(t, err)
	_, n := findStatusRow(pending, order.ID)
	assert.Equal(t, 0, n)

	delivered, err := s.GetOrdersByStatus(ctx, models.OrderStatusDelivered)
	require.NoError(t, err)
	row, n := findStatusRow(delivered, order.ID)
	require.Equal(t, 1, n)
	assert.True(t, orig.TotalPrice.Equal(row.TotalPrice))
	assert.Equal(t, orig.UserID, row.UserID)
	assert.True(t, orig.OrderDate.Equal(row.OrderDate))
	assert.Equal(t, orig.ProductID, row.ProductID)

	got, err := s.GetOrder(ctx, userID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, got.Status)
}

func TestUpdateOrderStatusStaleIsNoop(t *testing.T) {
	s := NewOrders(setupTestSession(t))
	ctx := context.Background()
	userID := uuid.New()

	order, err := s.AddOrder(ctx, newTestOrder(userID, models.OrderStatusPending))
	require.NoError(t, err)

	moved, err := s.UpdateOrderStatus(ctx, order.ID, models.OrderStatusCanceled, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = s.UpdateOrderStatus(ctx, uuid.New(), models.OrderStatusPending, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.False(t, moved)

	pending, err := s.GetOrdersByStatus(ctx, models.OrderStatusPending)
	require.NoError(t, err)
	_, n := findStatusRow(pending, order.ID)
	assert.Equal(t, 1, n)

	delivered, err := s.GetOrdersByStatus(ctx, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Empty(t, delivered)

	got, err := s.GetOrder(ctx, userID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
}

func TestUpdateOrderStatusSameStatus(t *testing.T) {
	s := NewOrders(setupTestSession(t))
	ctx := context.Background()

	order, err := s.AddOrder(ctx, newTestOrder(uuid.New(), models.OrderStatusPending))
	require.NoError(t, err)

	moved, err := s.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusPending)
	require.NoError(t, err)
	assert.True(t, moved)

	pending, err := s.GetOrdersByStatus(ctx, models.OrderStatusPending)
	require.NoError(t, err)
	_, n := findStatusRow(pending, order.ID)
	assert.Equal(t, 1, n)
}

func TestUpdateOrderStatusWithoutUserSync(t *testing.T) {
	s := NewOrders(setupTestSession(t), WithUserStatusSync(false))
	ctx := context.Background()
	userID := uuid.New()

	order, err := s.AddOrder(ctx, newTestOrder(userID, models.OrderStatusPending))
	require.NoError(t, err)

	moved, err := s.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusDelivered)
	require.NoError(t, err)
	require.True(t, moved)

	got, err := s.GetOrder(ctx, userID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
}

func TestDeleteOrderWithoutUserSyncClearsMovedRow(t *testing.T) {
	s := NewOrders(setupTestSession(t), WithUserStatusSync(false))
	ctx := context.Background()
	userID := uuid.New()

	order, err := s.AddOrder(ctx, newTestOrder(userID, models.OrderStatusPending))
	require.NoError(t, err)

	moved, err := s.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusDelivered)
	require.NoError(t, err)
	require.True(t, moved)

	deleted, err := s.DeleteOrder(ctx, userID, order.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	byUser, err := s.GetOrdersByUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, byUser)

	for _, status := range []string{models.OrderStatusPending, models.OrderStatusDelivered} {
		rows, err := s.GetOrdersByStatus(ctx, status)
		require.NoError(t, err)
		_, n := findStatusRow(rows, order.ID)
		assert.Equal(t, 0, n, "status %s", status)
	}
}

func TestUpdateOrderStatusPolicy(t *testing.T) {
	s := NewOrders(setupTestSession(t),
		WithTransitionPolicy(models.TerminalStatuses(models.OrderStatusDelivered, models.OrderStatusCanceled)))
	ctx := context.Background()

	order, err := s.AddOrder(ctx, newTestOrder(uuid.New(), models.OrderStatusDelivered))
	require.NoError(t, err)

	moved, err := s.UpdateOrderStatus(ctx, order.ID, models.OrderStatusDelivered, models.OrderStatusPending)
	assert.ErrorIs(t, err, database.ErrTransitionNotAllowed)
	assert.False(t, moved)

	delivered, err := s.GetOrdersByStatus(ctx, models.OrderStatusDelivered)
	require.NoError(t, err)
	_, n := findStatusRow(delivered, order.ID)
	assert.Equal(t, 1, n)
}

func TestSyncDoesNotResurrectDeletedUserRow(t *testing.T) {
	s := NewOrders(setupTestSession(t))
	ctx := context.Background()
	userID := uuid.New()

	order, err := s.AddOrder(ctx, newTestOrder(userID, models.OrderStatusPending))
	require.NoError(t, err)

	// Leave the status row behind as a torn delete would.
	statusRow := order.StatusRow()
	deleted, err := s.DeleteOrder(ctx, userID, order.ID)
	require.NoError(t, err)
	require.True(t, deleted)
	require.NoError(t, s.PutStatusRow(ctx, statusRow))

	moved, err := s.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusCanceled)
	require.NoError(t, err)
	assert.True(t, moved)

	byUser, err := s.GetOrdersByUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, byUser)
}

func TestDeleteOrderCascades(t *testing.T) {
	s := NewOrders(setupTestSession(t))
	ctx := context.Background()
	userID := uuid.New()

	keep, err := s.AddOrder(ctx, newTestOrder(userID, models.OrderStatusPending))
	require.NoError(t, err)
	order, err := s.AddOrder(ctx, newTestOrder(userID, models.OrderStatusPending))
	require.NoError(t, err)

	// Deletion follows the status the order has now, not the one it was created with.
	_, err = s.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusDelivered)
	require.NoError(t, err)

	deleted, err := s.DeleteOrder(ctx, userID, order.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	byUser, err := s.GetOrdersByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, keep.ID, byUser[0].ID)

	delivered, err := s.GetOrdersByStatus(ctx, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Empty(t, delivered)

	_, err = s.GetOrder(ctx, userID, order.ID)
	assert.ErrorIs(t, err, database.ErrOrderNotFound)

	deleted, err = s.DeleteOrder(ctx, userID, order.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestListOrdersByUserPages(t *testing.T) {
	s := NewOrders(setupTestSession(t))
	ctx := context.Background()
	userID := uuid.New()

	want := make(map[uuid.UUID]bool)
	for i := 0; i < 5; i++ {
		o, err := s.AddOrder(ctx, newTestOrder(userID, models.OrderStatusPending))
		require.NoError(t, err)
		want[o.ID] = true
	}

	seen := make(map[uuid.UUID]bool)
	cursor := ""
	pages := 0
	for {
		page, err := s.ListOrdersByUser(ctx, userID, cursor, 2)
		require.NoError(t, err)
		pages++

		items := page.Items.([]models.Order)
		assert.LessOrEqual(t, len(items), 2)
		for _, o := range items {
			assert.False(t, seen[o.ID], "order %s returned twice", o.ID)
			seen[o.ID] = true
		}

		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			break
		}
		cursor = page.NextCursor
		require.Less(t, pages, 10)
	}

	assert.Equal(t, want, seen)
	assert.GreaterOrEqual(t, pages, 3)
}

func TestConcurrentAddOrders(t *testing.T) {
	s := NewOrders(setupTestSession(t))
	ctx := context.Background()
	userID := uuid.New()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AddOrder(ctx, newTestOrder(userID, models.OrderStatusPending)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent add order: %v", err)
	}

	byUser, err := s.GetOrdersByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, byUser, 20)

	byStatus, err := s.GetOrdersByStatus(ctx, models.OrderStatusPending)
	require.NoError(t, err)
	assert.Len(t, byStatus, 20)
}
