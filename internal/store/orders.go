package store

import (
	"context"
	"errors"
	"fmt"
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

const (
	userOrderColumns   = `user_id, order_id, order_date, status, product_id, name, quantity, price`
	statusOrderColumns = `status, order_id, user_id, order_date, total_price, product_id`
)

// Orders keeps each order in two projections: orders_by_user and
// orders_by_status. Writes to the two tables are independent; nothing here
// makes them atomic.
type Orders struct {
	session        *gocql.Session
	metrics        *metrics.StoreMetrics
	logger         *slog.Logger
	policy         models.TransitionPolicy
	syncUserStatus bool
	knownStatuses  []string
	now            func() time.Time
	newID          func() uuid.UUID
}

type OrdersOption func(*Orders)

func WithOrdersMetrics(m *metrics.StoreMetrics) OrdersOption {
	return func(o *Orders) {
		o.metrics = m
	}
}

func WithOrdersLogger(l *slog.Logger) OrdersOption {
	return func(o *Orders) {
		o.logger = l
	}
}

// WithTransitionPolicy installs a legality check for status moves. Without
// one any status may move to any other.
func WithTransitionPolicy(p models.TransitionPolicy) OrdersOption {
	return func(o *Orders) {
		o.policy = p
	}
}

// WithUserStatusSync controls whether a status move is mirrored into the
// user projection. Disabled, the user row keeps the status it was created
// with, and DeleteOrder can only clear status rows under that status or one
// of the known statuses; rows under any other status need reconcile.
func WithUserStatusSync(enabled bool) OrdersOption {
	return func(o *Orders) {
		o.syncUserStatus = enabled
	}
}

// WithKnownStatuses sets the statuses DeleteOrder clears when the user row
// status cannot be trusted.
func WithKnownStatuses(statuses ...string) OrdersOption {
	return func(o *Orders) {
		o.knownStatuses = append([]string(nil), statuses...)
	}
}

func NewOrders(session *gocql.Session, opts ...OrdersOption) *Orders {
	o := &Orders{
		session:        session,
		logger:         slog.Default(),
		syncUserStatus: true,
		knownStatuses:  []string{models.OrderStatusPending, models.OrderStatusDelivered, models.OrderStatusCanceled},
		now:            time.Now,
		newID:          uuid.New,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AddOrder assigns order_id and order_date, then writes the user projection
// followed by the status projection. If the second write fails the order is
// visible per user but not per status; the returned *database.StoreError
// names that step.
func (s *Orders) AddOrder(ctx context.Context, req models.NewOrder) (order *models.Order, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("add_order", start, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	order = &models.Order{
		ID:        s.newID(),
		UserID:    req.UserID,
		ProductID: req.ProductID,
		Name:      req.Name,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    req.Status,
		OrderDate: s.now().UTC().Truncate(time.Millisecond),
	}

	err = s.session.Query(
		`INSERT INTO `+database.TableOrdersByUser+` (`+userOrderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		gocql.UUID(order.UserID),
		gocql.UUID(order.ID),
		order.OrderDate,
		order.Status,
		gocql.UUID(order.ProductID),
		order.Name,
		order.Quantity,
		database.ToCQLDecimal(order.Price),
	).WithContext(ctx).Exec()
	if err != nil {
		return nil, database.WrapError(err, "insert user projection", database.TableOrdersByUser)
	}

	if err := s.PutStatusRow(ctx, order.StatusRow()); err != nil {
		s.logger.Error("torn order write: user projection written, status projection missing",
			"order_id", order.ID.String(),
			"user_id", order.UserID.String(),
			"status", order.Status,
			"error", err)
		return nil, err
	}

	return order, nil
}

// UpdateOrderStatus moves an order from oldStatus to newStatus in the status
// projection by reading (oldStatus, orderID), deleting it and inserting the
// same row under newStatus. It reports false, with no error and no writes,
// when no row exists under oldStatus; other statuses are not searched.
func (s *Orders) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, oldStatus, newStatus string) (moved bool, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("update_order_status", start, err) }()

	if err := models.ValidateStatus(newStatus); err != nil {
		return false, err
	}

	// A blank partition key can never hold a row.
	if strings.TrimSpace(oldStatus) == "" {
		s.metrics.Noop("update_order_status")
		return false, nil
	}

	row, err := s.getStatusRow(ctx, oldStatus, orderID)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			s.metrics.Noop("update_order_status")
			s.logger.Debug("status transition matched no row",
				"order_id", orderID.String(),
				"old_status", oldStatus,
				"new_status", newStatus)
			return false, nil
		}
		return false, err
	}

	if oldStatus == newStatus {
		return true, nil
	}

	if s.policy != nil {
		if err := s.policy(oldStatus, newStatus); err != nil {
			return false, fmt.Errorf("%w: %v", database.ErrTransitionNotAllowed, err)
		}
	}

	if err := s.DeleteStatusRow(ctx, oldStatus, orderID); err != nil {
		return false, err
	}

	if err := s.PutStatusRow(ctx, row.MovedTo(newStatus)); err != nil {
		s.logger.Error("torn status transition: old status row deleted, new row missing",
			"order_id", orderID.String(),
			"old_status", oldStatus,
			"new_status", newStatus,
			"error", err)
		return false, err
	}

	if s.syncUserStatus {
		if err := s.syncUserRow(ctx, row.UserID, orderID, newStatus); err != nil {
			s.logger.Error("user projection status not mirrored",
				"order_id", orderID.String(),
				"user_id", row.UserID.String(),
				"status", newStatus,
				"error", err)
			return true, err
		}
	}

	return true, nil
}

// syncUserRow writes status into an existing user row. A plain UPDATE would
// upsert a status-only row for a deleted order, so existence is read first.
func (s *Orders) syncUserRow(ctx context.Context, userID, orderID uuid.UUID, status string) error {
	if _, err := s.getUserRowStatus(ctx, userID, orderID); err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			return nil
		}
		return err
	}
	return s.SetUserStatus(ctx, userID, orderID, status)
}

// SetUserStatus overwrites the status column of the user projection row.
func (s *Orders) SetUserStatus(ctx context.Context, userID, orderID uuid.UUID, status string) error {
	err := s.session.Query(
		`UPDATE `+database.TableOrdersByUser+` SET status = ? WHERE user_id = ? AND order_id = ?`,
		status, gocql.UUID(userID), gocql.UUID(orderID)).WithContext(ctx).Exec()
	if err != nil {
		return database.WrapError(err, "update user projection status", database.TableOrdersByUser)
	}
	return nil
}

func (s *Orders) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	o, err := scanUserOrder(s.session.Query(
		`SELECT `+userOrderColumns+` FROM `+database.TableOrdersByUser+` WHERE user_id = ? AND order_id = ?`,
		gocql.UUID(userID), gocql.UUID(orderID)).WithContext(ctx).Scan)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, database.ErrOrderNotFound
		}
		return nil, database.WrapError(err, "get order", database.TableOrdersByUser)
	}
	return &o, nil
}

func (s *Orders) GetOrdersByUser(ctx context.Context, userID uuid.UUID) (orders []models.Order, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("get_orders_by_user", start, err) }()

	iter := s.session.Query(
		`SELECT `+userOrderColumns+` FROM `+database.TableOrdersByUser+` WHERE user_id = ?`,
		gocql.UUID(userID)).WithContext(ctx).Iter()

	orders = []models.Order{}
	scanner := iter.Scanner()
	for scanner.Next() {
		o, err := scanUserOrder(scanner.Scan)
		if err != nil {
			iter.Close()
			return nil, database.WrapError(err, "scan order", database.TableOrdersByUser)
		}
		orders = append(orders, o)
	}
	if err := scanner.Err(); err != nil {
		return nil, database.WrapError(err, "list orders by user", database.TableOrdersByUser)
	}

	return orders, nil
}

// ListOrdersByUser pages through one user's partition. The cursor is the
// driver's paging state and is only valid for the same user.
func (s *Orders) ListOrdersByUser(ctx context.Context, userID uuid.UUID, cursor string, limit int) (page *CursorPage, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("list_orders_by_user", start, err) }()

	pageState, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	iter := s.session.Query(
		`SELECT `+userOrderColumns+` FROM `+database.TableOrdersByUser+` WHERE user_id = ?`,
		gocql.UUID(userID)).
		WithContext(ctx).
		PageSize(clampPageSize(limit)).
		PageState(pageState).
		Iter()
	nextPageState := iter.PageState()

	orders := []models.Order{}
	scanner := iter.Scanner()
	for scanner.Next() {
		o, err := scanUserOrder(scanner.Scan)
		if err != nil {
			iter.Close()
			return nil, database.WrapError(err, "scan order", database.TableOrdersByUser)
		}
		orders = append(orders, o)
	}
	if err := scanner.Err(); err != nil {
		return nil, database.WrapError(err, "page orders by user", database.TableOrdersByUser)
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: EncodeCursor(nextPageState),
		HasMore:    len(nextPageState) > 0,
	}, nil
}

// GetOrdersByStatus returns the narrow status rows of one partition.
func (s *Orders) GetOrdersByStatus(ctx context.Context, status string) (orders []models.StatusOrder, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("get_orders_by_status", start, err) }()

	if strings.TrimSpace(status) == "" {
		return []models.StatusOrder{}, nil
	}

	iter := s.session.Query(
		`SELECT `+statusOrderColumns+` FROM `+database.TableOrdersByStatus+` WHERE status = ?`,
		status).WithContext(ctx).Iter()

	orders = []models.StatusOrder{}
	scanner := iter.Scanner()
	for scanner.Next() {
		o, err := scanStatusOrder(scanner.Scan)
		if err != nil {
			iter.Close()
			return nil, database.WrapError(err, "scan order", database.TableOrdersByStatus)
		}
		orders = append(orders, o)
	}
	if err := scanner.Err(); err != nil {
		return nil, database.WrapError(err, "list orders by status", database.TableOrdersByStatus)
	}

	return orders, nil
}

// DeleteOrder removes the user row, then the status row under the status the
// user row carried. Without user-status sync that status may be stale, so
// every known status partition is cleared as well. When the user row is
// already gone it reports false and any status row stays behind for
// reconciliation.
func (s *Orders) DeleteOrder(ctx context.Context, userID, orderID uuid.UUID) (deleted bool, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("delete_order", start, err) }()

	status, err := s.getUserRowStatus(ctx, userID, orderID)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			s.metrics.Noop("delete_order")
			return false, nil
		}
		return false, err
	}

	err = s.session.Query(
		`DELETE FROM `+database.TableOrdersByUser+` WHERE user_id = ? AND order_id = ?`,
		gocql.UUID(userID), gocql.UUID(orderID)).WithContext(ctx).Exec()
	if err != nil {
		return false, database.WrapError(err, "delete user projection", database.TableOrdersByUser)
	}

	for _, st := range s.statusesToClear(status) {
		if err := s.DeleteStatusRow(ctx, st, orderID); err != nil {
			s.logger.Error("torn order delete: status projection row orphaned",
				"order_id", orderID.String(),
				"status", st,
				"error", err)
			return true, err
		}
	}

	return true, nil
}

func (s *Orders) statusesToClear(userStatus string) []string {
	out := []string{userStatus}
	if s.syncUserStatus {
		return out
	}
	for _, st := range s.knownStatuses {
		if st != userStatus && strings.TrimSpace(st) != "" {
			out = append(out, st)
		}
	}
	return out
}

// PutStatusRow upserts row into the status projection.
func (s *Orders) PutStatusRow(ctx context.Context, row models.StatusOrder) error {
	err := s.session.Query(
		`INSERT INTO `+database.TableOrdersByStatus+` (`+statusOrderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.Status,
		gocql.UUID(row.ID),
		gocql.UUID(row.UserID),
		row.OrderDate,
		database.ToCQLDecimal(row.TotalPrice),
		gocql.UUID(row.ProductID),
	).WithContext(ctx).Exec()
	if err != nil {
		return database.WrapError(err, "insert status projection", database.TableOrdersByStatus)
	}
	return nil
}

func (s *Orders) DeleteStatusRow(ctx context.Context, status string, orderID uuid.UUID) error {
	err := s.session.Query(
		`DELETE FROM `+database.TableOrdersByStatus+` WHERE status = ? AND order_id = ?`,
		status, gocql.UUID(orderID)).WithContext(ctx).Exec()
	if err != nil {
		return database.WrapError(err, "delete status projection", database.TableOrdersByStatus)
	}
	return nil
}

// EachUserOrder streams the whole user projection.
func (s *Orders) EachUserOrder(ctx context.Context, fn func(models.Order) error) error {
	iter := s.session.Query(`SELECT ` + userOrderColumns + ` FROM ` + database.TableOrdersByUser).WithContext(ctx).Iter()

	scanner := iter.Scanner()
	for scanner.Next() {
		o, err := scanUserOrder(scanner.Scan)
		if err != nil {
			iter.Close()
			return database.WrapError(err, "scan order", database.TableOrdersByUser)
		}
		if err := fn(o); err != nil {
			iter.Close()
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return database.WrapError(err, "scan orders", database.TableOrdersByUser)
	}
	return nil
}

// EachStatusOrder streams the whole status projection, every partition.
func (s *Orders) EachStatusOrder(ctx context.Context, fn func(models.StatusOrder) error) error {
	iter := s.session.Query(`SELECT ` + statusOrderColumns + ` FROM ` + database.TableOrdersByStatus).WithContext(ctx).Iter()

	scanner := iter.Scanner()
	for scanner.Next() {
		o, err := scanStatusOrder(scanner.Scan)
		if err != nil {
			iter.Close()
			return database.WrapError(err, "scan order", database.TableOrdersByStatus)
		}
		if err := fn(o); err != nil {
			iter.Close()
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return database.WrapError(err, "scan orders", database.TableOrdersByStatus)
	}
	return nil
}

func (s *Orders) getStatusRow(ctx context.Context, status string, orderID uuid.UUID) (models.StatusOrder, error) {
	row, err := scanStatusOrder(s.session.Query(
		`SELECT `+statusOrderColumns+` FROM `+database.TableOrdersByStatus+` WHERE status = ? AND order_id = ?`,
		status, gocql.UUID(orderID)).WithContext(ctx).Scan)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return models.StatusOrder{}, database.ErrOrderNotFound
		}
		return models.StatusOrder{}, database.WrapError(err, "get status projection", database.TableOrdersByStatus)
	}
	return row, nil
}

func (s *Orders) getUserRowStatus(ctx context.Context, userID, orderID uuid.UUID) (string, error) {
	var status string
	err := s.session.Query(
		`SELECT status FROM `+database.TableOrdersByUser+` WHERE user_id = ? AND order_id = ?`,
		gocql.UUID(userID), gocql.UUID(orderID)).WithContext(ctx).Scan(&status)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return "", database.ErrOrderNotFound
		}
		return "", database.WrapError(err, "get user projection", database.TableOrdersByUser)
	}
	return status, nil
}

func scanUserOrder(scan func(dest ...interface{}) error) (models.Order, error) {
	var (
		o                        models.Order
		userID, orderID, product gocql.UUID
		price                    *inf.Dec
	)

	if err := scan(&userID, &orderID, &o.OrderDate, &o.Status, &product, &o.Name, &o.Quantity, &price); err != nil {
		return models.Order{}, err
	}

	o.UserID = uuid.UUID(userID)
	o.ID = uuid.UUID(orderID)
	o.ProductID = uuid.UUID(product)
	o.Price = database.FromCQLDecimal(price)
	o.OrderDate = o.OrderDate.UTC()
	return o, nil
}

func scanStatusOrder(scan func(dest ...interface{}) error) (models.StatusOrder, error) {
	var (
		o                        models.StatusOrder
		orderID, userID, product gocql.UUID
		total                    *inf.Dec
	)

	if err := scan(&o.Status, &orderID, &userID, &o.OrderDate, &total, &product); err != nil {
		return models.StatusOrder{}, err
	}

	o.ID = uuid.UUID(orderID)
	o.UserID = uuid.UUID(userID)
	o.ProductID = uuid.UUID(product)
	o.TotalPrice = database.FromCQLDecimal(total)
	o.OrderDate = o.OrderDate.UTC()
	return o, nil
}
