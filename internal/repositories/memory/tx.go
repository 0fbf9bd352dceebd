package memory

import (
	"context"
	"sort"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
)

type memTx struct {
	products   *overlay[domain.Product]
	promotions *overlay[domain.Promotion]
	orders     *overlay[domain.Order]
	sessions   *overlay[domain.PendingOrderSession]
	bookings   *overlay[domain.Booking]
	clinics    *overlay[domain.Clinic]
	doctors    *overlay[domain.Doctor]
	doctorDays *overlay[int64]
}

var _ repositories.Tx = (*memTx)(nil)

func (t *memTx) commit() {
	t.products.commit()
	t.promotions.commit()
	t.orders.commit()
	t.sessions.commit()
	t.bookings.commit()
	t.clinics.commit()
	t.doctors.commit()
	t.doctorDays.commit()
}

func (t *memTx) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	product, ok := t.products.get(productID)
	if !ok {
		return domain.Product{}, repositories.NotFound("tx.getProduct", "product", productID)
	}
	return product, nil
}

func (t *memTx) PutProduct(_ context.Context, product domain.Product) error {
	t.products.put(product.ID, product)
	return nil
}

func (t *memTx) GetPromotion(_ context.Context, promotionID string) (domain.Promotion, error) {
	promotion, ok := t.promotions.get(promotionID)
	if !ok {
		return domain.Promotion{}, repositories.NotFound("tx.getPromotion", "promotion", promotionID)
	}
	return promotion, nil
}

func (t *memTx) PromotionsForProduct(_ context.Context, productID string) ([]domain.Promotion, error) {
	return t.promotions.scan(func(p domain.Promotion) bool {
		if !p.Active {
			return false
		}
		for _, entry := range p.Entries {
			if entry.ProductID == productID {
				return true
			}
		}
		return false
	}), nil
}

func (t *memTx) PutPromotion(_ context.Context, promotion domain.Promotion) error {
	t.promotions.put(promotion.ID, promotion)
	return nil
}

func (t *memTx) CreateOrder(_ context.Context, order domain.Order) error {
	if _, exists := t.orders.get(order.ID); exists {
		return repositories.Conflict("tx.createOrder", "order", order.ID)
	}
	t.orders.put(order.ID, order)
	return nil
}

func (t *memTx) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := t.orders.get(orderID)
	if !ok {
		return domain.Order{}, repositories.NotFound("tx.getOrder", "order", orderID)
	}
	return order, nil
}

func (t *memTx) PutOrder(_ context.Context, order domain.Order) error {
	t.orders.put(order.ID, order)
	return nil
}

func (t *memTx) DeleteOrder(_ context.Context, orderID string) error {
	if _, ok := t.orders.get(orderID); !ok {
		return repositories.NotFound("tx.deleteOrder", "order", orderID)
	}
	t.orders.remove(orderID)
	return nil
}

func (t *memTx) CreatePendingSession(_ context.Context, session domain.PendingOrderSession) error {
	if _, exists := t.sessions.get(session.ID); exists {
		return repositories.Conflict("tx.createPendingSession", "pendingOrderSession", session.ID)
	}
	t.sessions.put(session.ID, session)
	return nil
}

func (t *memTx) GetPendingSession(_ context.Context, sessionID string) (domain.PendingOrderSession, error) {
	session, ok := t.sessions.get(sessionID)
	if !ok {
		return domain.PendingOrderSession{}, repositories.NotFound("tx.getPendingSession", "pendingOrderSession", sessionID)
	}
	return session, nil
}

func (t *memTx) PutPendingSession(_ context.Context, session domain.PendingOrderSession) error {
	t.sessions.put(session.ID, session)
	return nil
}

func (t *memTx) DeletePendingSession(_ context.Context, sessionID string) error {
	if _, ok := t.sessions.get(sessionID); !ok {
		return repositories.NotFound("tx.deletePendingSession", "pendingOrderSession", sessionID)
	}
	t.sessions.remove(sessionID)
	return nil
}

func (t *memTx) GetClinic(_ context.Context, clinicID string) (domain.Clinic, error) {
	clinic, ok := t.clinics.get(clinicID)
	if !ok {
		return domain.Clinic{}, repositories.NotFound("tx.getClinic", "clinic", clinicID)
	}
	return clinic, nil
}

func (t *memTx) GetDoctor(_ context.Context, doctorID string) (domain.Doctor, error) {
	doctor, ok := t.doctors.get(doctorID)
	if !ok {
		return domain.Doctor{}, repositories.NotFound("tx.getDoctor", "doctor", doctorID)
	}
	return doctor, nil
}

func (t *memTx) BookingsForDoctorDate(_ context.Context, doctorID, date string) ([]domain.Booking, error) {
	bookings := t.bookings.scan(func(b domain.Booking) bool {
		return b.DoctorID == doctorID && b.Date == date
	})
	sort.SliceStable(bookings, func(i, j int) bool {
		return bookings[i].StartTime < bookings[j].StartTime
	})
	return bookings, nil
}

func (t *memTx) LockDoctorDay(_ context.Context, doctorID, date string) error {
	key := doctorDayKey(doctorID, date)
	revision, _ := t.doctorDays.get(key)
	t.doctorDays.put(key, revision+1)
	return nil
}

func (t *memTx) CreateBooking(_ context.Context, booking domain.Booking) error {
	if _, exists := t.bookings.get(booking.ID); exists {
		return repositories.Conflict("tx.createBooking", "booking", booking.ID)
	}
	t.bookings.put(booking.ID, booking)
	return nil
}

func (t *memTx) GetBooking(_ context.Context, bookingID string) (domain.Booking, error) {
	booking, ok := t.bookings.get(bookingID)
	if !ok {
		return domain.Booking{}, repositories.NotFound("tx.getBooking", "booking", bookingID)
	}
	return booking, nil
}

func (t *memTx) PutBooking(_ context.Context, booking domain.Booking) error {
	t.bookings.put(booking.ID, booking)
	return nil
}

func (t *memTx) DeleteBooking(_ context.Context, bookingID string) error {
	if _, ok := t.bookings.get(bookingID); !ok {
		return repositories.NotFound("tx.deleteBooking", "booking", bookingID)
	}
	t.bookings.remove(bookingID)
	return nil
}

func doctorDayKey(doctorID, date string) string {
	return doctorID + ":" + date
}
