package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
)

// PricingEngineDeps bundles the collaborators required to construct a pricing engine.
type PricingEngineDeps struct {
	Promotions PromotionLedger
}

type pricingEngine struct {
	promotions PromotionLedger
}

// NewPricingEngine wires dependencies into a concrete PricingEngine implementation.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	if deps.Promotions == nil {
		return nil, errors.New("pricing engine: promotion ledger is required")
	}
	return &pricingEngine{promotions: deps.Promotions}, nil
}

type pricedLine struct {
	item    domain.CartItem
	product domain.Product
	variant string
}

// Price validates every cart line first and reports all failures together, then prices the
// cart. Lines of the same product share one promotion allowance.
func (e *pricingEngine) Price(ctx context.Context, reader repositories.LedgerReader, cart []domain.CartItem, at time.Time) (PricedCart, error) {
	if reader == nil {
		return PricedCart{}, fmt.Errorf("%w: pricing: reader is required", ErrInternal)
	}
	lines, err := e.validate(ctx, reader, cart)
	if err != nil {
		return PricedCart{}, err
	}

	byProduct := make(map[string][]int)
	order := make([]string, 0, len(lines))
	for i, line := range lines {
		if _, seen := byProduct[line.product.ID]; !seen {
			order = append(order, line.product.ID)
		}
		byProduct[line.product.ID] = append(byProduct[line.product.ID], i)
	}

	result := PricedCart{Lines: make([]domain.OrderLine, len(lines))}
	exact := make([]domain.Hundredths, len(lines))
	for _, productID := range order {
		indexes := byProduct[productID]
		product := lines[indexes[0]].product
		total := 0
		for _, i := range indexes {
			total += lines[i].item.Quantity
		}
		quote, err := e.promotions.PriceFor(ctx, reader, productID, product.Price, total, at)
		if err != nil {
			return PricedCart{}, err
		}
		result.Quotes = append(result.Quotes, quote)

		remaining := quote.DiscountedUnits
		for _, i := range indexes {
			qty := lines[i].item.Quantity
			discounted := min(qty, remaining)
			remaining -= discounted
			exact[i] = domain.ToHundredths(product.Price*domain.Money(qty)) - quote.UnitDiscount*domain.Hundredths(discounted)
			result.Lines[i] = domain.OrderLine{
				ProductID:       productID,
				VariantCode:     lines[i].variant,
				Quantity:        qty,
				UnitPrice:       product.Price,
				DiscountedUnits: discounted,
			}
		}
	}

	// Only the cart total is rounded. Line subtotals take the running-total differences so they
	// always add up to it.
	var running domain.Hundredths
	for i := range result.Lines {
		line := &result.Lines[i]
		before := running.Round()
		running += exact[i]
		line.Subtotal = running.Round() - before
		line.DiscountAmount = line.UnitPrice*domain.Money(line.Quantity) - line.Subtotal
		result.DiscountTotal += line.DiscountAmount
	}
	result.TotalAmount = running.Round()
	return result, nil
}

func (e *pricingEngine) validate(ctx context.Context, reader repositories.LedgerReader, cart []domain.CartItem) ([]pricedLine, error) {
	var invalid ValidationError
	if len(cart) == 0 {
		invalid.Add("items", "at least one item is required")
		return nil, &invalid
	}

	products := make(map[string]*domain.Product)
	missing := make(map[string]bool)
	demand := make(map[string]int)
	aggregate := make(map[string]int)
	lines := make([]pricedLine, 0, len(cart))

	for i, item := range cart {
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

		product, ok := products[productID]
		if !ok && !missing[productID] {
			loaded, err := reader.GetProduct(ctx, productID)
			if err != nil {
				var repoErr repositories.RepositoryError
				if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
					return nil, err
				}
				missing[productID] = true
			} else {
				product = &loaded
				products[productID] = product
			}
		}
		if product == nil {
			invalid.Add(field, fmt.Sprintf("product %s not found", productID))
			continue
		}
		if !product.Enabled {
			invalid.Add(field, fmt.Sprintf("product %s is disabled", productID))
			continue
		}

		idx, ok := resolveVariant(*product, item.VariantSelector)
		if !ok {
			invalid.Add(field, fmt.Sprintf("variant %q not found for product %s", item.VariantSelector, productID))
			continue
		}
		variantCode := ""
		if idx != aggregateCounter {
			variantCode = product.Variants[idx].Code
		}

		key := productID + "\x00" + variantCode
		demand[key] += item.Quantity
		aggregate[productID] += item.Quantity
		if available := availableUnits(*product, idx); demand[key] > available {
			invalid.AddShortfall(field, fmt.Sprintf("requested %d exceeds available %d", demand[key], available))
			continue
		}
		if aggregate[productID] > product.TotalQuantity {
			invalid.AddShortfall(field, fmt.Sprintf("requested %d exceeds available %d", aggregate[productID], product.TotalQuantity))
			continue
		}

		lines = append(lines, pricedLine{item: item, product: *product, variant: variantCode})
	}

	if err := invalid.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
