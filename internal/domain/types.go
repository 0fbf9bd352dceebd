package domain

import (
	"time"
)

// Money stores amounts in whole currency units. The storefront currency has no sub-unit.
type Money = int64

// Role identifies the authorisation boundary an actor operates under.
type Role string

const (
	// RoleUser is a customer placing orders and bookings for themselves.
	RoleUser Role = "user"
	// RoleDoctor is a doctor acting on their own bookings.
	RoleDoctor Role = "doctor"
	// RoleClinicAdmin administers a single clinic and its doctors.
	RoleClinicAdmin Role = "clinic_admin"
	// RolePlatformAdmin operates the storefront and catalog.
	RolePlatformAdmin Role = "platform_admin"
)

// Actor is the authenticated principal supplied by the auth layer.
type Actor struct {
	ID   string
	Role Role
}

// StatusChange is one append-only audit entry on an order or booking.
type StatusChange struct {
	From      string
	To        string
	ActorID   string
	ActorRole Role
	Reason    string
	At        time.Time
}

// InventoryMode reports how a product tracks stock.
type InventoryMode string

const (
	// InventoryModeAggregate tracks a single total quantity counter.
	InventoryModeAggregate InventoryMode = "aggregate"
	// InventoryModeVariants tracks stock per colour variant.
	InventoryModeVariants InventoryMode = "variants"
)

// Product is a purchasable catalog entry with its stock counters.
type Product struct {
	ID            string
	Name          string
	Price         Money
	Enabled       bool
	Variants      []Variant
	TotalQuantity int
	UpdatedAt     time.Time
}

// Variant is a colour configuration with its own stock counter.
type Variant struct {
	Code     string
	Name     string
	Quantity int
}

// InventoryMode returns variants when the product carries variant rows, aggregate otherwise.
func (p Product) InventoryMode() InventoryMode {
	if len(p.Variants) > 0 {
		return InventoryModeVariants
	}
	return InventoryModeAggregate
}

// Clone returns a deep copy safe for mutation.
func (p Product) Clone() Product {
	out := p
	if p.Variants != nil {
		out.Variants = append([]Variant(nil), p.Variants...)
	}
	return out
}

// Promotion discounts a set of products within a time window up to a per-product allowance.
type Promotion struct {
	ID        string
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Active    bool
	Entries   []PromotionEntry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PromotionEntry is the discount term for one product inside a promotion.
type PromotionEntry struct {
	ProductID          string
	DiscountPercentage int
	MaxQty             int
	UsedQty            int
	MaxDiscountAmount  *Money
}

// Remaining reports the promotion allowance still available for the entry.
func (e PromotionEntry) Remaining() int {
	if e.UsedQty >= e.MaxQty {
		return 0
	}
	return e.MaxQty - e.UsedQty
}

// ProductIDs lists the products referenced by the promotion entries.
func (p Promotion) ProductIDs() []string {
	ids := make([]string, 0, len(p.Entries))
	for _, entry := range p.Entries {
		ids = append(ids, entry.ProductID)
	}
	return ids
}

// Exhausted reports whether every entry has consumed its allowance.
func (p Promotion) Exhausted() bool {
	if len(p.Entries) == 0 {
		return true
	}
	for _, entry := range p.Entries {
		if entry.Remaining() > 0 {
			return false
		}
	}
	return true
}

// Covers reports whether the promotion window contains at (inclusive on both ends).
func (p Promotion) Covers(at time.Time) bool {
	if at.Before(p.StartDate) {
		return false
	}
	if !p.EndDate.IsZero() && at.After(p.EndDate) {
		return false
	}
	return true
}

// Clone returns a deep copy safe for mutation.
func (p Promotion) Clone() Promotion {
	out := p
	if p.Entries != nil {
		out.Entries = make([]PromotionEntry, len(p.Entries))
		for i, entry := range p.Entries {
			if entry.MaxDiscountAmount != nil {
				limit := *entry.MaxDiscountAmount
				entry.MaxDiscountAmount = &limit
			}
			out.Entries[i] = entry
		}
	}
	return out
}

// PaymentMethod selects the order fulfilment flow.
type PaymentMethod string

const (
	// PaymentMethodCOD is cash on delivery; stock is reserved at order creation.
	PaymentMethodCOD PaymentMethod = "COD"
	// PaymentMethodGatewayRedirect redirects the customer to a bank gateway and waits for its return call.
	PaymentMethodGatewayRedirect PaymentMethod = "GATEWAY_REDIRECT"
	// PaymentMethodGatewayWebhook uses a hosted checkout session confirmed by signed webhooks.
	PaymentMethodGatewayWebhook PaymentMethod = "GATEWAY_WEBHOOK"
)

// Valid reports whether the payment method is recognised.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodGatewayRedirect, PaymentMethodGatewayWebhook:
		return true
	}
	return false
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was created and awaits processing.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipping indicates the order left the warehouse.
	OrderStatusShipping OrderStatus = "shipping"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// CartItem is one requested line before pricing.
type CartItem struct {
	ProductID       string
	VariantSelector string
	Quantity        int
}

// OrderLine is a priced line item with its locked-in unit price.
type OrderLine struct {
	ProductID       string
	VariantCode     string
	Quantity        int
	UnitPrice       Money
	DiscountedUnits int
	DiscountAmount  Money
	Subtotal        Money
}

// Address is the shipping destination captured with an order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
	Phone      string
}

// Order is a committed purchase.
type Order struct {
	ID                 string
	UserID             string
	Lines              []OrderLine
	PaymentMethod      PaymentMethod
	Status             OrderStatus
	StatusHistory      []StatusChange
	CancelReason       string
	TotalAmount        Money
	DiscountTotal      Money
	InventoryReserved  bool
	PromotionsRecorded bool
	PaymentRef         string
	ShippingAddress    Address
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Clone returns a deep copy safe for mutation.
func (o Order) Clone() Order {
	out := o
	out.Lines = append([]OrderLine(nil), o.Lines...)
	out.StatusHistory = append([]StatusChange(nil), o.StatusHistory...)
	return out
}

// PendingOrderSession is a provisional order awaiting asynchronous payment confirmation.
type PendingOrderSession struct {
	ID                string
	UserID            string
	Lines             []OrderLine
	PaymentMethod     PaymentMethod
	TotalAmount       Money
	DiscountTotal     Money
	ShippingAddress   Address
	CheckoutSessionID string
	CheckoutURL       string
	ExpiresAt         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Clone returns a deep copy safe for mutation.
func (s PendingOrderSession) Clone() PendingOrderSession {
	out := s
	out.Lines = append([]OrderLine(nil), s.Lines...)
	return out
}

// CartItems rebuilds the cart the session was priced from.
func (s PendingOrderSession) CartItems() []CartItem {
	items := make([]CartItem, 0, len(s.Lines))
	for _, line := range s.Lines {
		items = append(items, CartItem{ProductID: line.ProductID, VariantSelector: line.VariantCode, Quantity: line.Quantity})
	}
	return items
}

// CartItems rebuilds the cart the order was priced from.
func (o Order) CartItems() []CartItem {
	items := make([]CartItem, 0, len(o.Lines))
	for _, line := range o.Lines {
		items = append(items, CartItem{ProductID: line.ProductID, VariantSelector: line.VariantCode, Quantity: line.Quantity})
	}
	return items
}

// TimeRange is a half-open [Start, End) interval within a day.
type TimeRange struct {
	Start ClockTime
	End   ClockTime
}

// Overlaps reports half-open interval overlap.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start < other.End && r.End > other.Start
}

// Contains reports whether other lies entirely within r.
func (r TimeRange) Contains(other TimeRange) bool {
	return other.Start >= r.Start && other.End <= r.End
}

// WorkingDay is the clinic's schedule for one weekday.
type WorkingDay struct {
	Open  bool
	Start ClockTime
	End   ClockTime
	Break *TimeRange
}

// Hours returns the working interval of the day.
func (d WorkingDay) Hours() TimeRange {
	return TimeRange{Start: d.Start, End: d.End}
}

// Clinic owns the weekly working hours and holiday calendar doctors book against.
type Clinic struct {
	ID           string
	AdminID      string
	Name         string
	TimeZone     string
	WorkingHours map[time.Weekday]WorkingDay
	Holidays     []string
	UpdatedAt    time.Time
}

// Clone returns a deep copy safe for mutation.
func (c Clinic) Clone() Clinic {
	out := c
	if c.WorkingHours != nil {
		out.WorkingHours = make(map[time.Weekday]WorkingDay, len(c.WorkingHours))
		for day, hours := range c.WorkingHours {
			if hours.Break != nil {
				br := *hours.Break
				hours.Break = &br
			}
			out.WorkingHours[day] = hours
		}
	}
	out.Holidays = append([]string(nil), c.Holidays...)
	return out
}

// Doctor practises at one clinic with a fixed appointment length.
type Doctor struct {
	ID           string
	ClinicID     string
	Name         string
	SlotDuration int
	Fee          Money
	Holidays     []string
	Active       bool
	UpdatedAt    time.Time
}

// Clone returns a deep copy safe for mutation.
func (d Doctor) Clone() Doctor {
	out := d
	out.Holidays = append([]string(nil), d.Holidays...)
	return out
}

// BookingStatus enumerates valid lifecycle states for bookings.
type BookingStatus string

const (
	// BookingStatusPending indicates the booking awaits confirmation from the clinic.
	BookingStatusPending BookingStatus = "pending"
	// BookingStatusConfirmed indicates the clinic accepted the booking.
	BookingStatusConfirmed BookingStatus = "confirmed"
	// BookingStatusCancelled indicates the booking was cancelled.
	BookingStatusCancelled BookingStatus = "cancelled"
	// BookingStatusCompleted indicates the appointment took place.
	BookingStatusCompleted BookingStatus = "completed"
)

// HoldsSlot reports whether a booking in this status occupies its time slot.
func (s BookingStatus) HoldsSlot() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// ContactSnapshot is the customer contact captured when the booking was made.
type ContactSnapshot struct {
	Name  string
	Phone string
	Email string
	Note  string
}

// Booking is an appointment with a doctor on a given date.
type Booking struct {
	ID            string
	UserID        string
	DoctorID      string
	ClinicID      string
	Date          string
	StartTime     string
	EndTime       string
	Status        BookingStatus
	StatusHistory []StatusChange
	CancelReason  string
	Price         Money
	Contact       ContactSnapshot
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy safe for mutation.
func (b Booking) Clone() Booking {
	out := b
	out.StatusHistory = append([]StatusChange(nil), b.StatusHistory...)
	return out
}

// Interval parses the booking's start and end times. Invalid stored values yield ok=false.
func (b Booking) Interval() (TimeRange, bool) {
	start, err := ParseClockTime(b.StartTime)
	if err != nil {
		return TimeRange{}, false
	}
	end, err := ParseClockTime(b.EndTime)
	if err != nil {
		return TimeRange{}, false
	}
	return TimeRange{Start: start, End: end}, true
}

// Slot is one generated bookable interval.
type Slot struct {
	StartTime   string
	EndTime     string
	IsAvailable bool
}

// DaySchedule is the slot listing for a doctor on one date.
type DaySchedule struct {
	DoctorID string
	ClinicID string
	Date     string
	IsOpen   bool
	Slots    []Slot
}
