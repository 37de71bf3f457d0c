package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var ErrValidation = errors.New("validation failed")

func (p NewProduct) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: product name is required", ErrValidation)
	}
	if strings.TrimSpace(p.Category) == "" {
		return fmt.Errorf("%w: product category is required", ErrValidation)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: price must be non-negative, got %s", ErrValidation, p.Price)
	}
	return nil
}

func (o NewOrder) Validate() error {
	if o.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if o.ProductID == uuid.Nil {
		return fmt.Errorf("%w: product_id is required", ErrValidation)
	}
	if err := ValidateStatus(o.Status); err != nil {
		return err
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrValidation, o.Quantity)
	}
	if o.Price.IsNegative() {
		return fmt.Errorf("%w: price must be non-negative, got %s", ErrValidation, o.Price)
	}
	return nil
}

// ValidateStatus accepts any non-blank status; the set is open.
func ValidateStatus(status string) error {
	if strings.TrimSpace(status) == "" {
		return fmt.Errorf("%w: status is required", ErrValidation)
	}
	return nil
}

// TransitionPolicy decides whether an order may move between statuses.
// A nil policy allows every transition.
type TransitionPolicy func(from, to string) error

// TerminalStatuses forbids leaving any of the given statuses.
func TerminalStatuses(terminal ...string) TransitionPolicy {
	set := make(map[string]struct{}, len(terminal))
	for _, s := range terminal {
		set[s] = struct{}{}
	}
	return func(from, to string) error {
		if _, ok := set[from]; ok && from != to {
			return fmt.Errorf("%s is terminal, cannot move to %s", from, to)
		}
		return nil
	}
}
