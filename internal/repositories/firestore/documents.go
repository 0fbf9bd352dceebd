package firestore

import (
	"strings"
	"time"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
)

const (
	productsCollection        = "products"
	promotionsCollection      = "promotions"
	ordersCollection          = "orders"
	pendingSessionsCollection = "pendingOrderSessions"
	bookingsCollection        = "bookings"
	clinicsCollection         = "clinics"
	doctorsCollection         = "doctors"
	doctorDaysCollection      = "doctorDays"
)

type productDocument struct {
	Name          string            `firestore:"name"`
	Price         int64             `firestore:"price"`
	Enabled       bool              `firestore:"enabled"`
	Variants      []variantDocument `firestore:"variants,omitempty"`
	TotalQuantity int               `firestore:"totalQuantity"`
	UpdatedAt     time.Time         `firestore:"updatedAt"`
}

type variantDocument struct {
	Code     string `firestore:"code"`
	Name     string `firestore:"name"`
	Quantity int    `firestore:"quantity"`
}

func newProductDocument(p domain.Product) productDocument {
	doc := productDocument{
		Name:          p.Name,
		Price:         p.Price,
		Enabled:       p.Enabled,
		TotalQuantity: p.TotalQuantity,
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
	for _, v := range p.Variants {
		doc.Variants = append(doc.Variants, variantDocument{Code: v.Code, Name: v.Name, Quantity: v.Quantity})
	}
	return doc
}

func (d productDocument) toDomain(id string) domain.Product {
	product := domain.Product{
		ID:            id,
		Name:          d.Name,
		Price:         d.Price,
		Enabled:       d.Enabled,
		TotalQuantity: d.TotalQuantity,
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
	for _, v := range d.Variants {
		product.Variants = append(product.Variants, domain.Variant{Code: v.Code, Name: v.Name, Quantity: v.Quantity})
	}
	return product
}

type promotionDocument struct {
	Name       string                   `firestore:"name"`
	StartDate  time.Time                `firestore:"startDate"`
	EndDate    time.Time                `firestore:"endDate"`
	Active     bool                     `firestore:"active"`
	ProductIDs []string                 `firestore:"productIds"`
	Entries    []promotionEntryDocument `firestore:"entries"`
	CreatedAt  time.Time                `firestore:"createdAt"`
	UpdatedAt  time.Time                `firestore:"updatedAt"`
}

type promotionEntryDocument struct {
	ProductID          string `firestore:"productId"`
	DiscountPercentage int    `firestore:"discountPercentage"`
	MaxQty             int    `firestore:"maxQty"`
	UsedQty            int    `firestore:"usedQty"`
	MaxDiscountAmount  *int64 `firestore:"maxDiscountAmount,omitempty"`
}

func newPromotionDocument(p domain.Promotion) promotionDocument {
	doc := promotionDocument{
		Name:       p.Name,
		StartDate:  p.StartDate.UTC(),
		EndDate:    p.EndDate.UTC(),
		Active:     p.Active,
		ProductIDs: p.ProductIDs(),
		CreatedAt:  p.CreatedAt.UTC(),
		UpdatedAt:  p.UpdatedAt.UTC(),
	}
	for _, e := range p.Entries {
		entry := promotionEntryDocument{
			ProductID:          e.ProductID,
			DiscountPercentage: e.DiscountPercentage,
			MaxQty:             e.MaxQty,
			UsedQty:            e.UsedQty,
		}
		if e.MaxDiscountAmount != nil {
			limit := *e.MaxDiscountAmount
			entry.MaxDiscountAmount = &limit
		}
		doc.Entries = append(doc.Entries, entry)
	}
	return doc
}

func (d promotionDocument) toDomain(id string) domain.Promotion {
	promotion := domain.Promotion{
		ID:        id,
		Name:      d.Name,
		StartDate: d.StartDate.UTC(),
		EndDate:   d.EndDate.UTC(),
		Active:    d.Active,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	for _, e := range d.Entries {
		entry := domain.PromotionEntry{
			ProductID:          e.ProductID,
			DiscountPercentage: e.DiscountPercentage,
			MaxQty:             e.MaxQty,
			UsedQty:            e.UsedQty,
		}
		if e.MaxDiscountAmount != nil {
			limit := *e.MaxDiscountAmount
			entry.MaxDiscountAmount = &limit
		}
		promotion.Entries = append(promotion.Entries, entry)
	}
	return promotion
}

type orderLineDocument struct {
	ProductID       string `firestore:"productId"`
	VariantCode     string `firestore:"variantCode,omitempty"`
	Quantity        int    `firestore:"quantity"`
	UnitPrice       int64  `firestore:"unitPrice"`
	DiscountedUnits int    `firestore:"discountedUnits"`
	DiscountAmount  int64  `firestore:"discountAmount"`
	Subtotal        int64  `firestore:"subtotal"`
}

type statusChangeDocument struct {
	From      string    `firestore:"prevStatus"`
	To        string    `firestore:"newStatus"`
	ActorID   string    `firestore:"actor"`
	ActorRole string    `firestore:"actorRole"`
	Reason    string    `firestore:"reason,omitempty"`
	At        time.Time `firestore:"timestamp"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type orderDocument struct {
	UserID             string                 `firestore:"userId"`
	Lines              []orderLineDocument    `firestore:"lines"`
	PaymentMethod      string                 `firestore:"paymentMethod"`
	Status             string                 `firestore:"status"`
	StatusHistory      []statusChangeDocument `firestore:"statusHistory"`
	CancelReason       string                 `firestore:"cancelReason,omitempty"`
	TotalAmount        int64                  `firestore:"totalAmount"`
	DiscountTotal      int64                  `firestore:"discountTotal"`
	InventoryReserved  bool                   `firestore:"inventoryReserved"`
	PromotionsRecorded bool                   `firestore:"promotionsRecorded"`
	PaymentRef         string                 `firestore:"paymentRef,omitempty"`
	ShippingAddress    addressDocument        `firestore:"shippingAddress"`
	CreatedAt          time.Time              `firestore:"createdAt"`
	UpdatedAt          time.Time              `firestore:"updatedAt"`
}

func newOrderDocument(o domain.Order) orderDocument {
	return orderDocument{
		UserID:             o.UserID,
		Lines:              encodeLines(o.Lines),
		PaymentMethod:      string(o.PaymentMethod),
		Status:             string(o.Status),
		StatusHistory:      encodeHistory(o.StatusHistory),
		CancelReason:       o.CancelReason,
		TotalAmount:        o.TotalAmount,
		DiscountTotal:      o.DiscountTotal,
		InventoryReserved:  o.InventoryReserved,
		PromotionsRecorded: o.PromotionsRecorded,
		PaymentRef:         o.PaymentRef,
		ShippingAddress:    addressDocument(o.ShippingAddress),
		CreatedAt:          o.CreatedAt.UTC(),
		UpdatedAt:          o.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	return domain.Order{
		ID:                 id,
		UserID:             d.UserID,
		Lines:              decodeLines(d.Lines),
		PaymentMethod:      domain.PaymentMethod(d.PaymentMethod),
		Status:             domain.OrderStatus(d.Status),
		StatusHistory:      decodeHistory(d.StatusHistory),
		CancelReason:       d.CancelReason,
		TotalAmount:        d.TotalAmount,
		DiscountTotal:      d.DiscountTotal,
		InventoryReserved:  d.InventoryReserved,
		PromotionsRecorded: d.PromotionsRecorded,
		PaymentRef:         d.PaymentRef,
		ShippingAddress:    domain.Address(d.ShippingAddress),
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
	}
}

type pendingSessionDocument struct {
	UserID            string              `firestore:"userId"`
	Lines             []orderLineDocument `firestore:"lines"`
	PaymentMethod     string              `firestore:"paymentMethod"`
	TotalAmount       int64               `firestore:"totalAmount"`
	DiscountTotal     int64               `firestore:"discountTotal"`
	ShippingAddress   addressDocument     `firestore:"shippingAddress"`
	CheckoutSessionID string              `firestore:"checkoutSessionId,omitempty"`
	CheckoutURL       string              `firestore:"checkoutUrl,omitempty"`
	ExpiresAt         time.Time           `firestore:"expiresAt"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
}

func newPendingSessionDocument(s domain.PendingOrderSession) pendingSessionDocument {
	return pendingSessionDocument{
		UserID:            s.UserID,
		Lines:             encodeLines(s.Lines),
		PaymentMethod:     string(s.PaymentMethod),
		TotalAmount:       s.TotalAmount,
		DiscountTotal:     s.DiscountTotal,
		ShippingAddress:   addressDocument(s.ShippingAddress),
		CheckoutSessionID: s.CheckoutSessionID,
		CheckoutURL:       s.CheckoutURL,
		ExpiresAt:         s.ExpiresAt.UTC(),
		CreatedAt:         s.CreatedAt.UTC(),
		UpdatedAt:         s.UpdatedAt.UTC(),
	}
}

func (d pendingSessionDocument) toDomain(id string) domain.PendingOrderSession {
	return domain.PendingOrderSession{
		ID:                id,
		UserID:            d.UserID,
		Lines:             decodeLines(d.Lines),
		PaymentMethod:     domain.PaymentMethod(d.PaymentMethod),
		TotalAmount:       d.TotalAmount,
		DiscountTotal:     d.DiscountTotal,
		ShippingAddress:   domain.Address(d.ShippingAddress),
		CheckoutSessionID: d.CheckoutSessionID,
		CheckoutURL:       d.CheckoutURL,
		ExpiresAt:         d.ExpiresAt.UTC(),
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
}

type contactDocument struct {
	Name  string `firestore:"name"`
	Phone string `firestore:"phone,omitempty"`
	Email string `firestore:"email,omitempty"`
	Note  string `firestore:"note,omitempty"`
}

type bookingDocument struct {
	UserID        string                 `firestore:"userId"`
	DoctorID      string                 `firestore:"doctorId"`
	ClinicID      string                 `firestore:"clinicId"`
	Date          string                 `firestore:"date"`
	StartTime     string                 `firestore:"startTime"`
	EndTime       string                 `firestore:"endTime"`
	Status        string                 `firestore:"status"`
	StatusHistory []statusChangeDocument `firestore:"statusHistory"`
	CancelReason  string                 `firestore:"cancelReason,omitempty"`
	Price         int64                  `firestore:"price"`
	Contact       contactDocument        `firestore:"contact"`
	CreatedAt     time.Time              `firestore:"createdAt"`
	UpdatedAt     time.Time              `firestore:"updatedAt"`
}

func newBookingDocument(b domain.Booking) bookingDocument {
	return bookingDocument{
		UserID:        b.UserID,
		DoctorID:      b.DoctorID,
		ClinicID:      b.ClinicID,
		Date:          b.Date,
		StartTime:     b.StartTime,
		EndTime:       b.EndTime,
		Status:        string(b.Status),
		StatusHistory: encodeHistory(b.StatusHistory),
		CancelReason:  b.CancelReason,
		Price:         b.Price,
		Contact:       contactDocument(b.Contact),
		CreatedAt:     b.CreatedAt.UTC(),
		UpdatedAt:     b.UpdatedAt.UTC(),
	}
}

func (d bookingDocument) toDomain(id string) domain.Booking {
	return domain.Booking{
		ID:            id,
		UserID:        d.UserID,
		DoctorID:      d.DoctorID,
		ClinicID:      d.ClinicID,
		Date:          d.Date,
		StartTime:     d.StartTime,
		EndTime:       d.EndTime,
		Status:        domain.BookingStatus(d.Status),
		StatusHistory: decodeHistory(d.StatusHistory),
		CancelReason:  d.CancelReason,
		Price:         d.Price,
		Contact:       domain.ContactSnapshot(d.Contact),
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
}

type workingDayDocument struct {
	Open       bool   `firestore:"isOpen"`
	Start      string `firestore:"startTime"`
	End        string `firestore:"endTime"`
	BreakStart string `firestore:"breakStart,omitempty"`
	BreakEnd   string `firestore:"breakEnd,omitempty"`
}

type clinicDocument struct {
	AdminID      string                        `firestore:"adminId"`
	Name         string                        `firestore:"name"`
	TimeZone     string                        `firestore:"timeZone,omitempty"`
	WorkingHours map[string]workingDayDocument `firestore:"workingHours"`
	Holidays     []string                      `firestore:"holidays"`
	UpdatedAt    time.Time                     `firestore:"updatedAt"`
}

func newClinicDocument(c domain.Clinic) clinicDocument {
	doc := clinicDocument{
		AdminID:      c.AdminID,
		Name:         c.Name,
		TimeZone:     c.TimeZone,
		WorkingHours: make(map[string]workingDayDocument, len(c.WorkingHours)),
		Holidays:     append([]string(nil), c.Holidays...),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
	for day, hours := range c.WorkingHours {
		entry := workingDayDocument{
			Open:  hours.Open,
			Start: hours.Start.String(),
			End:   hours.End.String(),
		}
		if hours.Break != nil {
			entry.BreakStart = hours.Break.Start.String()
			entry.BreakEnd = hours.Break.End.String()
		}
		doc.WorkingHours[strings.ToLower(day.String())] = entry
	}
	return doc
}

func (d clinicDocument) toDomain(id string) domain.Clinic {
	clinic := domain.Clinic{
		ID:           id,
		AdminID:      d.AdminID,
		Name:         d.Name,
		TimeZone:     d.TimeZone,
		WorkingHours: make(map[time.Weekday]domain.WorkingDay, len(d.WorkingHours)),
		Holidays:     append([]string(nil), d.Holidays...),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	for name, entry := range d.WorkingHours {
		day, ok := weekdayByName[strings.ToLower(name)]
		if !ok {
			continue
		}
		start, errStart := domain.ParseClockTime(entry.Start)
		end, errEnd := domain.ParseClockTime(entry.End)
		hours := domain.WorkingDay{Open: entry.Open && errStart == nil && errEnd == nil, Start: start, End: end}
		if entry.BreakStart != "" && entry.BreakEnd != "" {
			bs, errBS := domain.ParseClockTime(entry.BreakStart)
			be, errBE := domain.ParseClockTime(entry.BreakEnd)
			if errBS == nil && errBE == nil {
				hours.Break = &domain.TimeRange{Start: bs, End: be}
			}
		}
		clinic.WorkingHours[day] = hours
	}
	return clinic
}

var weekdayByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

type doctorDocument struct {
	ClinicID     string    `firestore:"clinicId"`
	Name         string    `firestore:"name"`
	SlotDuration int       `firestore:"duration"`
	Fee          int64     `firestore:"fee"`
	Holidays     []string  `firestore:"holidays"`
	Active       bool      `firestore:"active"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func newDoctorDocument(d domain.Doctor) doctorDocument {
	return doctorDocument{
		ClinicID:     d.ClinicID,
		Name:         d.Name,
		SlotDuration: d.SlotDuration,
		Fee:          d.Fee,
		Holidays:     append([]string(nil), d.Holidays...),
		Active:       d.Active,
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

func (d doctorDocument) toDomain(id string) domain.Doctor {
	return domain.Doctor{
		ID:           id,
		ClinicID:     d.ClinicID,
		Name:         d.Name,
		SlotDuration: d.SlotDuration,
		Fee:          d.Fee,
		Holidays:     append([]string(nil), d.Holidays...),
		Active:       d.Active,
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

type doctorDayDocument struct {
	DoctorID  string    `firestore:"doctorId"`
	Date      string    `firestore:"date"`
	Revision  int64     `firestore:"revision"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func encodeLines(lines []domain.OrderLine) []orderLineDocument {
	out := make([]orderLineDocument, 0, len(lines))
	for _, l := range lines {
		out = append(out, orderLineDocument(l))
	}
	return out
}

func decodeLines(lines []orderLineDocument) []domain.OrderLine {
	out := make([]domain.OrderLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, domain.OrderLine(l))
	}
	return out
}

func encodeHistory(history []domain.StatusChange) []statusChangeDocument {
	out := make([]statusChangeDocument, 0, len(history))
	for _, h := range history {
		out = append(out, statusChangeDocument{
			From:      h.From,
			To:        h.To,
			ActorID:   h.ActorID,
			ActorRole: string(h.ActorRole),
			Reason:    h.Reason,
			At:        h.At.UTC(),
		})
	}
	return out
}

func decodeHistory(history []statusChangeDocument) []domain.StatusChange {
	out := make([]domain.StatusChange, 0, len(history))
	for _, h := range history {
		out = append(out, domain.StatusChange{
			From:      h.From,
			To:        h.To,
			ActorID:   h.ActorID,
			ActorRole: domain.Role(h.ActorRole),
			Reason:    h.Reason,
			At:        h.At.UTC(),
		})
	}
	return out
}

func doctorDayID(doctorID, date string) string {
	return doctorID + "_" + date
}
