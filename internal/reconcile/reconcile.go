// Package reconcile finds and repairs disagreements between the order and
// product projections left behind by torn multi-table writes.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/safar/go-cql-shop/internal/metrics"
	"github.com/safar/go-cql-shop/internal/models"
)

type Kind string

const (
	MissingStatusRow    Kind = "missing_status_row"
	OrphanStatusRow     Kind = "orphan_status_row"
	DuplicateStatusRow  Kind = "duplicate_status_row"
	StatusDrift         Kind = "status_drift"
	MissingProductIndex Kind = "missing_product_index"
)

var allKinds = []Kind{MissingStatusRow, OrphanStatusRow, DuplicateStatusRow, StatusDrift, MissingProductIndex}

// OrderProjections is implemented by store.Orders.
type OrderProjections interface {
	EachUserOrder(ctx context.Context, fn func(models.Order) error) error
	EachStatusOrder(ctx context.Context, fn func(models.StatusOrder) error) error
	PutStatusRow(ctx context.Context, row models.StatusOrder) error
	DeleteStatusRow(ctx context.Context, status string, orderID uuid.UUID) error
	SetUserStatus(ctx context.Context, userID, orderID uuid.UUID, status string) error
}

// ProductProjections is implemented by store.Catalog.
type ProductProjections interface {
	EachProduct(ctx context.Context, fn func(models.Product) error) error
	EachIndexedProductID(ctx context.Context, fn func(uuid.UUID) error) error
	PutProductIndex(ctx context.Context, p models.Product) error
}

type Mismatch struct {
	Kind      Kind      `json:"kind"`
	OrderID   uuid.UUID `json:"order_id,omitzero"`
	ProductID uuid.UUID `json:"product_id,omitzero"`
	// Statuses lists the status partitions the order was found in.
	Statuses   []string `json:"statuses,omitempty"`
	UserStatus string   `json:"user_status,omitempty"`

	user    *models.Order
	status  []models.StatusOrder
	product *models.Product
}

type Report struct {
	UserRows     int        `json:"user_rows"`
	StatusRows   int        `json:"status_rows"`
	Products     int        `json:"products"`
	Mismatches   []Mismatch `json:"mismatches"`
	Repaired     int        `json:"repaired"`
	RepairFailed int        `json:"repair_failed"`

	// UnknownStatuses counts status rows per status outside the known set.
	// Informational only; the status set is open and nothing is repaired.
	UnknownStatuses map[string]int `json:"unknown_statuses,omitempty"`
}

func (r *Report) Count(kind Kind) int {
	n := 0
	for _, m := range r.Mismatches {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

type Reconciler struct {
	orders   OrderProjections
	products ProductProjections
	metrics  *metrics.ReconcileMetrics
	logger   *slog.Logger
	known    map[string]struct{}
}

func New(orders OrderProjections, products ProductProjections, m *metrics.ReconcileMetrics, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{orders: orders, products: products, metrics: m, logger: logger}
}

// WithKnownStatuses enables counting of status rows outside the given set.
func (r *Reconciler) WithKnownStatuses(statuses ...string) *Reconciler {
	r.known = make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		r.known[s] = struct{}{}
	}
	return r
}

// Run scans every projection, and when repair is set rewrites them. Missing,
// orphan and duplicate status rows are resolved toward the user projection;
// drift is resolved toward the single status row, which then overwrites the
// user row's status. Missing product index rows are rebuilt from the id table.
// The scan is not a snapshot: writes racing with it can show up as
// mismatches that resolve on the next pass.
func (r *Reconciler) Run(ctx context.Context, repair bool) (*Report, error) {
	report := &Report{}

	users := make(map[uuid.UUID]models.Order)
	err := r.orders.EachUserOrder(ctx, func(o models.Order) error {
		users[o.ID] = o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan user projection: %w", err)
	}
	report.UserRows = len(users)

	statuses := make(map[uuid.UUID][]models.StatusOrder)
	err = r.orders.EachStatusOrder(ctx, func(o models.StatusOrder) error {
		statuses[o.ID] = append(statuses[o.ID], o)
		report.StatusRows++
		if r.known != nil {
			if _, ok := r.known[o.Status]; !ok {
				if report.UnknownStatuses == nil {
					report.UnknownStatuses = make(map[string]int)
				}
				report.UnknownStatuses[o.Status]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan status projection: %w", err)
	}

	report.Mismatches = append(report.Mismatches, DiffOrders(users, statuses)...)

	if r.products != nil {
		products := make(map[uuid.UUID]models.Product)
		err = r.products.EachProduct(ctx, func(p models.Product) error {
			products[p.ID] = p
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan products: %w", err)
		}
		report.Products = len(products)

		indexed := make(map[uuid.UUID]struct{})
		err = r.products.EachIndexedProductID(ctx, func(id uuid.UUID) error {
			indexed[id] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan product index: %w", err)
		}

		report.Mismatches = append(report.Mismatches, DiffProducts(products, indexed)...)
	}

	r.record(report)

	if repair {
		for _, m := range report.Mismatches {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if err := r.repair(ctx, m); err != nil {
				report.RepairFailed++
				r.observeRepair(m.Kind, "error")
				r.logger.Error("repair failed",
					"kind", string(m.Kind),
					"order_id", m.OrderID.String(),
					"product_id", m.ProductID.String(),
					"error", err)
				continue
			}
			report.Repaired++
			r.observeRepair(m.Kind, "ok")
		}
	}

	if r.metrics != nil {
		r.metrics.Runs.Inc()
	}
	r.logger.Info("reconciliation finished",
		"user_rows", report.UserRows,
		"status_rows", report.StatusRows,
		"products", report.Products,
		"mismatches", len(report.Mismatches),
		"repaired", report.Repaired,
		"repair_failed", report.RepairFailed)

	return report, nil
}

func (r *Reconciler) repair(ctx context.Context, m Mismatch) error {
	switch m.Kind {
	case MissingStatusRow:
		return r.orders.PutStatusRow(ctx, m.user.StatusRow())

	case OrphanStatusRow:
		for _, row := range m.status {
			if err := r.orders.DeleteStatusRow(ctx, row.Status, row.ID); err != nil {
				return err
			}
		}
		return nil

	case DuplicateStatusRow:
		keep := m.status[0].Status
		for _, row := range m.status {
			if row.Status == m.user.Status {
				keep = row.Status
			}
		}
		for _, row := range m.status {
			if row.Status == keep {
				continue
			}
			if err := r.orders.DeleteStatusRow(ctx, row.Status, row.ID); err != nil {
				return err
			}
		}
		if m.user.Status != keep {
			return r.orders.SetUserStatus(ctx, m.user.UserID, m.user.ID, keep)
		}
		return nil

	case StatusDrift:
		return r.orders.SetUserStatus(ctx, m.user.UserID, m.user.ID, m.status[0].Status)

	case MissingProductIndex:
		return r.products.PutProductIndex(ctx, *m.product)
	}
	return fmt.Errorf("unknown mismatch kind %q", m.Kind)
}

func (r *Reconciler) record(report *Report) {
	if r.metrics == nil {
		return
	}
	for _, kind := range allKinds {
		r.metrics.Mismatches.WithLabelValues(string(kind)).Set(float64(report.Count(kind)))
	}
}

func (r *Reconciler) observeRepair(kind Kind, result string) {
	if r.metrics == nil {
		return
	}
	r.metrics.Repairs.WithLabelValues(string(kind), result).Inc()
}

// DiffOrders compares the user projection (keyed by order id) against the
// status rows found for each order id. A status move is the source of truth
// for the current status, so a single status row that disagrees with the
// user row is drift in the user row.
func DiffOrders(users map[uuid.UUID]models.Order, statuses map[uuid.UUID][]models.StatusOrder) []Mismatch {
	var out []Mismatch

	for id, user := range users {
		user := user
		rows := statuses[id]
		switch {
		case len(rows) == 0:
			out = append(out, Mismatch{
				Kind:       MissingStatusRow,
				OrderID:    id,
				UserStatus: user.Status,
				user:       &user,
			})
		case len(rows) > 1:
			out = append(out, Mismatch{
				Kind:       DuplicateStatusRow,
				OrderID:    id,
				Statuses:   statusNames(rows),
				UserStatus: user.Status,
				user:       &user,
				status:     sortedRows(rows),
			})
		case rows[0].Status != user.Status:
			out = append(out, Mismatch{
				Kind:       StatusDrift,
				OrderID:    id,
				Statuses:   statusNames(rows),
				UserStatus: user.Status,
				user:       &user,
				status:     rows,
			})
		}
	}

	for id, rows := range statuses {
		if _, ok := users[id]; ok {
			continue
		}
		out = append(out, Mismatch{
			Kind:     OrphanStatusRow,
			OrderID:  id,
			Statuses: statusNames(rows),
			status:   sortedRows(rows),
		})
	}

	sortMismatches(out)
	return out
}

func DiffProducts(products map[uuid.UUID]models.Product, indexed map[uuid.UUID]struct{}) []Mismatch {
	var out []Mismatch
	for id, p := range products {
		if _, ok := indexed[id]; ok {
			continue
		}
		p := p
		out = append(out, Mismatch{
			Kind:      MissingProductIndex,
			ProductID: id,
			product:   &p,
		})
	}
	sortMismatches(out)
	return out
}

func sortedRows(rows []models.StatusOrder) []models.StatusOrder {
	out := append([]models.StatusOrder(nil), rows...)
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out
}

func statusNames(rows []models.StatusOrder) []string {
	names := make([]string, 0, len(rows))
	for _, r := range sortedRows(rows) {
		names = append(names, r.Status)
	}
	return names
}

func sortMismatches(ms []Mismatch) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Kind != ms[j].Kind {
			return ms[i].Kind < ms[j].Kind
		}
		if ms[i].OrderID != ms[j].OrderID {
			return ms[i].OrderID.String() < ms[j].OrderID.String()
		}
		return ms[i].ProductID.String() < ms[j].ProductID.String()
	})
}
