package services

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
)

const (
	eventInventoryReserve = "inventory.reserve"
	eventInventoryRelease = "inventory.release"

	aggregateCounter = -1
)

// InventoryLedgerDeps bundles the collaborators required to construct an inventory ledger.
type InventoryLedgerDeps struct {
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type inventoryLedger struct {
	logger func(context.Context, string, map[string]any)
}

// NewInventoryLedger wires dependencies into a concrete InventoryLedger implementation.
func NewInventoryLedger(deps InventoryLedgerDeps) (InventoryLedger, error) {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryLedger{logger: logger}, nil
}

func (l *inventoryLedger) CheckAvailable(ctx context.Context, reader repositories.LedgerReader, item domain.CartItem) (bool, error) {
	if reader == nil {
		return false, fmt.Errorf("%w: inventory: reader is required", ErrInternal)
	}
	if item.Quantity <= 0 {
		return false, validationFailure("quantity", "must be greater than zero")
	}
	product, err := reader.GetProduct(ctx, strings.TrimSpace(item.ProductID))
	if err != nil {
		return false, lookupError("product", item.ProductID, err)
	}
	idx, ok := resolveVariant(product, item.VariantSelector)
	if !ok {
		return false, validationFailure("variantSelector", fmt.Sprintf("variant %q not found for product %s", item.VariantSelector, product.ID))
	}
	return availableUnits(product, idx) >= item.Quantity, nil
}

// Reserve re-reads every product inside tx and decrements variant and aggregate counters
// together. Nothing is written unless every line fits.
func (l *inventoryLedger) Reserve(ctx context.Context, tx repositories.Tx, items []domain.CartItem) error {
	plan, err := l.plan(ctx, tx, items)
	if err != nil {
		return err
	}

	var shortages StockError
	for _, p := range plan {
		for idx, want := range p.requested {
			have := availableUnits(p.product, idx)
			if have < want {
				shortages.Lines = append(shortages.Lines, FieldError{
					Field:   p.fields[idx],
					Message: fmt.Sprintf("product %s has %d available, %d requested", p.product.ID, have, want),
				})
			}
		}
		if p.product.InventoryMode() == domain.InventoryModeVariants && p.product.TotalQuantity < p.total {
			shortages.Lines = append(shortages.Lines, FieldError{
				Field:   p.product.ID,
				Message: fmt.Sprintf("aggregate counter has %d available, %d requested", p.product.TotalQuantity, p.total),
			})
		}
	}
	if len(shortages.Lines) > 0 {
		return &shortages
	}

	for _, p := range plan {
		if err := l.apply(ctx, tx, p, -1); err != nil {
			return err
		}
	}
	l.logger(ctx, eventInventoryReserve, map[string]any{"products": len(plan), "lines": len(items)})
	return nil
}

// Release credits back quantities reserved earlier. Callers gate it on Order.InventoryReserved.
func (l *inventoryLedger) Release(ctx context.Context, tx repositories.Tx, items []domain.CartItem) error {
	plan, err := l.plan(ctx, tx, items)
	if err != nil {
		return err
	}
	for _, p := range plan {
		if err := l.apply(ctx, tx, p, 1); err != nil {
			return err
		}
	}
	l.logger(ctx, eventInventoryRelease, map[string]any{"products": len(plan), "lines": len(items)})
	return nil
}

type productPlan struct {
	product   domain.Product
	requested map[int]int
	fields    map[int]string
	total     int
}

// plan groups lines per product and resolved counter so duplicate lines are checked together.
func (l *inventoryLedger) plan(ctx context.Context, tx repositories.Tx, items []domain.CartItem) ([]*productPlan, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: inventory: transaction is required", ErrInternal)
	}
	if len(items) == 0 {
		return nil, validationFailure("items", "at least one item is required")
	}

	var invalid ValidationError
	byProduct := make(map[string]*productPlan)
	ordered := make([]*productPlan, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("items[%d]", i)
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			invalid.Add(field, "product id is required")
			continue
		}
		if item.Quantity <= 0 {
			invalid.Add(field, "quantity must be greater than zero")
			continue
		}
		p, ok := byProduct[productID]
		if !ok {
			product, err := tx.GetProduct(ctx, productID)
			if err != nil {
				return nil, lookupError("product", productID, err)
			}
			p = &productPlan{product: product, requested: map[int]int{}, fields: map[int]string{}}
			byProduct[productID] = p
			ordered = append(ordered, p)
		}
		idx, ok := resolveVariant(p.product, item.VariantSelector)
		if !ok {
			invalid.Add(field, fmt.Sprintf("variant %q not found", item.VariantSelector))
			continue
		}
		p.requested[idx] += item.Quantity
		p.total += item.Quantity
		if _, seen := p.fields[idx]; !seen {
			p.fields[idx] = field
		}
	}
	if err := invalid.Err(); err != nil {
		return nil, err
	}
	return ordered, nil
}

func (l *inventoryLedger) apply(ctx context.Context, tx repositories.Tx, p *productPlan, sign int) error {
	product := p.product.Clone()
	for idx, qty := range p.requested {
		if idx != aggregateCounter {
			product.Variants[idx].Quantity += sign * qty
		}
	}
	product.TotalQuantity += sign * p.total
	if product.TotalQuantity < 0 {
		return &StockError{Lines: []FieldError{{Field: product.ID, Message: "aggregate counter would become negative"}}}
	}
	return tx.PutProduct(ctx, product)
}

// resolveVariant returns the variant index for selector, or aggregateCounter for products without
// variants. Selectors match a variant code exactly first, then code or name case-insensitively.
func resolveVariant(product domain.Product, selector string) (int, bool) {
	if product.InventoryMode() == domain.InventoryModeAggregate {
		return aggregateCounter, true
	}
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return 0, false
	}
	for i, v := range product.Variants {
		if v.Code == selector {
			return i, true
		}
	}
	fold := cases.Fold()
	want := fold.String(selector)
	for i, v := range product.Variants {
		if fold.String(v.Code) == want || fold.String(strings.TrimSpace(v.Name)) == want {
			return i, true
		}
	}
	return 0, false
}

func availableUnits(product domain.Product, idx int) int {
	if idx == aggregateCounter {
		return product.TotalQuantity
	}
	return product.Variants[idx].Quantity
}
