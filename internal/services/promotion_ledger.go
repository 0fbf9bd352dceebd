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

const (
	eventPromotionUsage       = "promotions.usage"
	eventPromotionDeactivated = "promotions.deactivated"
	eventPromotionSweep       = "promotions.sweep"
)

// PromotionLedgerDeps bundles the collaborators required to construct a promotion ledger.
type PromotionLedgerDeps struct {
	UnitOfWork repositories.UnitOfWork
	Catalog    repositories.CatalogRepository
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type promotionLedger struct {
	uow     repositories.UnitOfWork
	catalog repositories.CatalogRepository
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewPromotionLedger wires dependencies into a concrete PromotionLedger implementation.
func NewPromotionLedger(deps PromotionLedgerDeps) (PromotionLedger, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("promotion ledger: unit of work is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("promotion ledger: catalog repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &promotionLedger{
		uow:     deps.UnitOfWork,
		catalog: deps.Catalog,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// PriceFor quotes quantity units of a product against the single applicable promotion. Units
// beyond the remaining allowance are priced at base.
func (l *promotionLedger) PriceFor(ctx context.Context, reader repositories.LedgerReader, productID string, basePrice domain.Money, quantity int, at time.Time) (domain.PriceQuote, error) {
	if reader == nil {
		return domain.PriceQuote{}, fmt.Errorf("%w: promotions: reader is required", ErrInternal)
	}
	if quantity <= 0 {
		return domain.PriceQuote{}, validationFailure("quantity", "must be greater than zero")
	}
	if basePrice < 0 {
		return domain.PriceQuote{}, validationFailure("basePrice", "must not be negative")
	}

	quote := domain.PriceQuote{
		ProductID: productID,
		BasePrice: basePrice,
		Quantity:  quantity,
		Subtotal:  domain.ToHundredths(basePrice * domain.Money(quantity)),
	}

	promotions, err := reader.PromotionsForProduct(ctx, productID)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	promotion, entry, ok := selectPromotion(promotions, productID, at)
	if !ok {
		return quote, nil
	}

	discounted := min(quantity, entry.Remaining())
	unitDiscount := domain.PerUnitDiscount(basePrice, entry.DiscountPercentage, entry.MaxDiscountAmount)
	if discounted == 0 || unitDiscount == 0 {
		return quote, nil
	}
	quote.PromotionID = promotion.ID
	quote.DiscountedUnits = discounted
	quote.UnitDiscount = unitDiscount
	quote.DiscountAmount = unitDiscount * domain.Hundredths(discounted)
	quote.Subtotal -= quote.DiscountAmount
	return quote, nil
}

// RecordUsage consumes promotion allowance for the items, clamped at MaxQty, and deactivates
// promotions whose entries are all exhausted.
func (l *promotionLedger) RecordUsage(ctx context.Context, tx repositories.Tx, items []domain.CartItem, at time.Time) error {
	if tx == nil {
		return fmt.Errorf("%w: promotions: transaction is required", ErrInternal)
	}

	quantities := make(map[string]int)
	order := make([]string, 0, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" || item.Quantity <= 0 {
			continue
		}
		if _, seen := quantities[productID]; !seen {
			order = append(order, productID)
		}
		quantities[productID] += item.Quantity
	}

	touched := make(map[string]*domain.Promotion)
	touchedOrder := make([]string, 0)
	for _, productID := range order {
		promotions, err := tx.PromotionsForProduct(ctx, productID)
		if err != nil {
			return err
		}
		for i := range promotions {
			if pending, ok := touched[promotions[i].ID]; ok {
				promotions[i] = *pending
			}
		}
		promotion, _, ok := selectPromotion(promotions, productID, at)
		if !ok {
			continue
		}
		current, ok := touched[promotion.ID]
		if !ok {
			clone := promotion.Clone()
			current = &clone
			touched[promotion.ID] = current
			touchedOrder = append(touchedOrder, promotion.ID)
		}
		for i := range current.Entries {
			entry := &current.Entries[i]
			if entry.ProductID != productID {
				continue
			}
			consumed := min(quantities[productID], entry.Remaining())
			entry.UsedQty += consumed
			l.logger(ctx, eventPromotionUsage, map[string]any{
				"promotionId": current.ID,
				"productId":   productID,
				"consumed":    consumed,
				"usedQty":     entry.UsedQty,
				"maxQty":      entry.MaxQty,
			})
			break
		}
	}

	for _, id := range touchedOrder {
		promotion := touched[id]
		promotion.UpdatedAt = at.UTC()
		if promotion.Exhausted() {
			promotion.Active = false
			l.logger(ctx, eventPromotionDeactivated, map[string]any{"promotionId": id, "reason": "exhausted"})
		}
		if err := tx.PutPromotion(ctx, *promotion); err != nil {
			return err
		}
	}
	return nil
}

// Sweep deactivates active promotions whose window has elapsed or whose allowance is exhausted.
// Each promotion is re-checked and written in its own transaction.
func (l *promotionLedger) Sweep(ctx context.Context, at time.Time) (PromotionSweepResult, error) {
	if at.IsZero() {
		at = l.clock()
	}
	active, err := l.catalog.ListActivePromotions(ctx)
	if err != nil {
		return PromotionSweepResult{}, translateError("promotions.sweep", err)
	}

	result := PromotionSweepResult{Checked: len(active)}
	for _, candidate := range active {
		if !sweepable(candidate, at) {
			continue
		}
		deactivated := false
		err := l.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
			deactivated = false
			current, err := tx.GetPromotion(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if !current.Active || !sweepable(current, at) {
				return nil
			}
			current.Active = false
			current.UpdatedAt = at.UTC()
			deactivated = true
			return tx.PutPromotion(ctx, current)
		})
		if err != nil {
			return result, translateError("promotions.sweep", err)
		}
		if deactivated {
			result.Deactivated = append(result.Deactivated, candidate.ID)
			l.logger(ctx, eventPromotionDeactivated, map[string]any{"promotionId": candidate.ID, "reason": sweepReason(candidate, at)})
		}
	}
	l.logger(ctx, eventPromotionSweep, map[string]any{"checked": result.Checked, "deactivated": len(result.Deactivated)})
	return result, nil
}

func sweepable(p domain.Promotion, at time.Time) bool {
	return at.After(p.EndDate) || p.Exhausted()
}

func sweepReason(p domain.Promotion, at time.Time) string {
	if at.After(p.EndDate) {
		return "expired"
	}
	return "exhausted"
}

// selectPromotion picks the promotion that applies to productID at the given instant. When several
// qualify the most recently started wins, ties broken by the smaller id.
func selectPromotion(promotions []domain.Promotion, productID string, at time.Time) (domain.Promotion, domain.PromotionEntry, bool) {
	var (
		best      domain.Promotion
		bestEntry domain.PromotionEntry
		found     bool
	)
	for _, promotion := range promotions {
		if !promotion.Active || !promotion.Covers(at) {
			continue
		}
		entry, ok := entryFor(promotion, productID)
		if !ok {
			continue
		}
		if found {
			if promotion.StartDate.Before(best.StartDate) {
				continue
			}
			if promotion.StartDate.Equal(best.StartDate) && promotion.ID > best.ID {
				continue
			}
		}
		best, bestEntry, found = promotion, entry, true
	}
	return best, bestEntry, found
}

func entryFor(promotion domain.Promotion, productID string) (domain.PromotionEntry, bool) {
	for _, entry := range promotion.Entries {
		if entry.ProductID == productID {
			return entry, true
		}
	}
	return domain.PromotionEntry{}, false
}
