package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Attributes is a free-form, unordered product property map.
type Attributes map[string]string

func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

type Product struct {
	ID          uuid.UUID       `json:"product_id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description,omitempty"`
	Attributes  Attributes      `json:"attributes,omitempty"`
}

type NewProduct struct {
	Name        string
	Category    string
	Price       decimal.Decimal
	Description string
	Attributes  Attributes
}

// Order is the user-projection row. TotalPrice is derived, not stored.
type Order struct {
	ID        uuid.UUID       `json:"order_id"`
	UserID    uuid.UUID       `json:"user_id"`
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Status    string          `json:"status"`
	OrderDate time.Time       `json:"order_date"`
}

func (o Order) TotalPrice() decimal.Decimal {
	return TotalPrice(o.Price, o.Quantity)
}

// StatusOrder is the status-projection row. It carries no name, quantity or
// unit price; join against the catalog when product details are needed.
type StatusOrder struct {
	Status     string          `json:"status"`
	ID         uuid.UUID       `json:"order_id"`
	UserID     uuid.UUID       `json:"user_id"`
	ProductID  uuid.UUID       `json:"product_id"`
	OrderDate  time.Time       `json:"order_date"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type NewOrder struct {
	UserID    uuid.UUID
	Status    string
	ProductID uuid.UUID
	Name      string
	Quantity  int
	Price     decimal.Decimal
}

func TotalPrice(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity)))
}

// StatusRow projects an order onto the status table shape.
func (o Order) StatusRow() StatusOrder {
	return StatusOrder{
		Status:     o.Status,
		ID:         o.ID,
		UserID:     o.UserID,
		ProductID:  o.ProductID,
		OrderDate:  o.OrderDate,
		TotalPrice: o.TotalPrice(),
	}
}

// MovedTo returns the same row re-keyed under status.
func (s StatusOrder) MovedTo(status string) StatusOrder {
	s.Status = status
	return s
}

const (
	OrderStatusPending   = "pending"
	OrderStatusDelivered = "delivered"
	OrderStatusCanceled  = "canceled"
)
