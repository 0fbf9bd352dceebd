package domain

// Hundredths is an amount in 1/100 of a currency unit. A whole-percent discount on a whole-unit
// price is exact in it, so prices are carried this way until the order total is rounded.
type Hundredths int64

// ToHundredths converts whole currency units.
func ToHundredths(m Money) Hundredths {
	return Hundredths(m) * 100
}

// Round returns the nearest whole currency unit. Halves round away from zero.
func (h Hundredths) Round() Money {
	if h < 0 {
		return -(-h).Round()
	}
	return Money((h + 50) / 100)
}

// PriceQuote is the promotion-adjusted price of a quantity of one product.
type PriceQuote struct {
	ProductID       string
	PromotionID     string
	BasePrice       Money
	Quantity        int
	DiscountedUnits int
	UnitDiscount    Hundredths
	DiscountAmount  Hundredths
	Subtotal        Hundredths
}

// PerUnitDiscount computes the exact discount for one unit at percentage off base, capped when
// limit is set.
func PerUnitDiscount(base Money, percentage int, limit *Money) Hundredths {
	if base <= 0 || percentage <= 0 {
		return 0
	}
	if percentage > 100 {
		percentage = 100
	}
	discount := Hundredths(base) * Hundredths(percentage)
	if limit != nil && *limit >= 0 && discount > ToHundredths(*limit) {
		discount = ToHundredths(*limit)
	}
	return discount
}
