package handlers

import (
	domain "github.com/hanko-field/clinic-commerce/internal/domain"
)

type statusChangePayload struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	ActorID   string `json:"actorId,omitempty"`
	ActorRole string `json:"actorRole,omitempty"`
	Reason    string `json:"reason,omitempty"`
	At        string `json:"at"`
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type orderLinePayload struct {
	ProductID       string `json:"productId"`
	VariantCode     string `json:"variantCode,omitempty"`
	Quantity        int    `json:"quantity"`
	UnitPrice       int64  `json:"unitPrice"`
	DiscountedUnits int    `json:"discountedUnits"`
	DiscountAmount  int64  `json:"discountAmount"`
	Subtotal        int64  `json:"subtotal"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	UserID          string                `json:"userId"`
	Status          string                `json:"status"`
	PaymentMethod   string                `json:"paymentMethod"`
	Lines           []orderLinePayload    `json:"lines"`
	TotalAmount     int64                 `json:"totalAmount"`
	DiscountTotal   int64                 `json:"discountTotal"`
	PaymentRef      string                `json:"paymentRef,omitempty"`
	CancelReason    string                `json:"cancelReason,omitempty"`
	ShippingAddress addressPayload        `json:"shippingAddress"`
	StatusHistory   []statusChangePayload `json:"statusHistory"`
	CreatedAt       string                `json:"createdAt"`
	UpdatedAt       string                `json:"updatedAt,omitempty"`
}

type pendingSessionPayload struct {
	ID            string             `json:"id"`
	PaymentMethod string             `json:"paymentMethod"`
	Lines         []orderLinePayload `json:"lines"`
	TotalAmount   int64              `json:"totalAmount"`
	DiscountTotal int64              `json:"discountTotal"`
	CheckoutURL   string             `json:"checkoutUrl,omitempty"`
	ExpiresAt     string             `json:"expiresAt,omitempty"`
	CreatedAt     string             `json:"createdAt"`
}

type contactPayload struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	Note  string `json:"note,omitempty"`
}

type bookingPayload struct {
	ID            string                `json:"id"`
	UserID        string                `json:"userId"`
	DoctorID      string                `json:"doctorId"`
	ClinicID      string                `json:"clinicId"`
	Date          string                `json:"date"`
	StartTime     string                `json:"startTime"`
	EndTime       string                `json:"endTime"`
	Status        string                `json:"status"`
	Price         int64                 `json:"price"`
	CancelReason  string                `json:"cancelReason,omitempty"`
	Contact       contactPayload        `json:"contact"`
	StatusHistory []statusChangePayload `json:"statusHistory"`
	CreatedAt     string                `json:"createdAt"`
	UpdatedAt     string                `json:"updatedAt,omitempty"`
}

type slotPayload struct {
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	IsAvailable bool   `json:"isAvailable"`
}

type daySchedulePayload struct {
	DoctorID string        `json:"doctorId"`
	ClinicID string        `json:"clinicId"`
	Date     string        `json:"date"`
	IsOpen   bool          `json:"isOpen"`
	Slots    []slotPayload `json:"slots"`
}

func buildStatusHistory(history []domain.StatusChange) []statusChangePayload {
	out := make([]statusChangePayload, 0, len(history))
	for _, change := range history {
		out = append(out, statusChangePayload{
			From:      change.From,
			To:        change.To,
			ActorID:   change.ActorID,
			ActorRole: string(change.ActorRole),
			Reason:    change.Reason,
			At:        formatTime(change.At),
		})
	}
	return out
}

func buildOrderLines(lines []domain.OrderLine) []orderLinePayload {
	out := make([]orderLinePayload, 0, len(lines))
	for _, line := range lines {
		out = append(out, orderLinePayload{
			ProductID:       line.ProductID,
			VariantCode:     line.VariantCode,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			DiscountedUnits: line.DiscountedUnits,
			DiscountAmount:  line.DiscountAmount,
			Subtotal:        line.Subtotal,
		})
	}
	return out
}

func buildOrderPayload(order domain.Order) orderPayload {
	return orderPayload{
		ID:              order.ID,
		UserID:          order.UserID,
		Status:          string(order.Status),
		PaymentMethod:   string(order.PaymentMethod),
		Lines:           buildOrderLines(order.Lines),
		TotalAmount:     order.TotalAmount,
		DiscountTotal:   order.DiscountTotal,
		PaymentRef:      order.PaymentRef,
		CancelReason:    order.CancelReason,
		ShippingAddress: addressPayload(order.ShippingAddress),
		StatusHistory:   buildStatusHistory(order.StatusHistory),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
}

func buildPendingSessionPayload(session domain.PendingOrderSession) pendingSessionPayload {
	return pendingSessionPayload{
		ID:            session.ID,
		PaymentMethod: string(session.PaymentMethod),
		Lines:         buildOrderLines(session.Lines),
		TotalAmount:   session.TotalAmount,
		DiscountTotal: session.DiscountTotal,
		CheckoutURL:   session.CheckoutURL,
		ExpiresAt:     formatTime(session.ExpiresAt),
		CreatedAt:     formatTime(session.CreatedAt),
	}
}

func buildBookingPayload(booking domain.Booking) bookingPayload {
	return bookingPayload{
		ID:            booking.ID,
		UserID:        booking.UserID,
		DoctorID:      booking.DoctorID,
		ClinicID:      booking.ClinicID,
		Date:          booking.Date,
		StartTime:     booking.StartTime,
		EndTime:       booking.EndTime,
		Status:        string(booking.Status),
		Price:         booking.Price,
		CancelReason:  booking.CancelReason,
		Contact:       contactPayload(booking.Contact),
		StatusHistory: buildStatusHistory(booking.StatusHistory),
		CreatedAt:     formatTime(booking.CreatedAt),
		UpdatedAt:     formatTime(booking.UpdatedAt),
	}
}

func buildDaySchedulePayload(schedule domain.DaySchedule) daySchedulePayload {
	slots := make([]slotPayload, 0, len(schedule.Slots))
	for _, slot := range schedule.Slots {
		slots = append(slots, slotPayload(slot))
	}
	return daySchedulePayload{
		DoctorID: schedule.DoctorID,
		ClinicID: schedule.ClinicID,
		Date:     schedule.Date,
		IsOpen:   schedule.IsOpen,
		Slots:    slots,
	}
}
