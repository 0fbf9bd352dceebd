package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	pfirestore "github.com/hanko-field/clinic-commerce/internal/platform/firestore"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
)

// UnitOfWork runs ledger transactions against Firestore. Firestore requires every read to happen
// before the first write, so writes issued through the Tx are staged and flushed once the
// transaction body returns.
type UnitOfWork struct {
	provider *pfirestore.Provider
}

var _ repositories.UnitOfWork = (*UnitOfWork)(nil)

// NewUnitOfWork constructs a UnitOfWork bound to the provider.
func NewUnitOfWork(provider *pfirestore.Provider) (*UnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("unit of work requires firestore provider")
	}
	return &UnitOfWork{provider: provider}, nil
}

// RunInTx implements repositories.UnitOfWork.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	if u == nil || u.provider == nil {
		return errors.New("unit of work not initialised")
	}
	if fn == nil {
		return errors.New("unit of work: transaction function is nil")
	}
	client, err := u.provider.Client(ctx)
	if err != nil {
		return err
	}
	return u.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		adapter := newTxAdapter(client, tx)
		if err := fn(ctx, adapter); err != nil {
			return err
		}
		return adapter.flush()
	})
}

type staged[T any] struct {
	collection string
	values     map[string]T
	created    map[string]bool
	deleted    map[string]bool
}

func newStaged[T any](collection string) *staged[T] {
	return &staged[T]{
		collection: collection,
		values:     make(map[string]T),
		created:    make(map[string]bool),
		deleted:    make(map[string]bool),
	}
}

// lookup reports (value, exists, staged).
func (s *staged[T]) lookup(id string) (T, bool, bool) {
	var zero T
	if s.deleted[id] {
		return zero, false, true
	}
	if v, ok := s.values[id]; ok {
		return v, true, true
	}
	return zero, false, false
}

func (s *staged[T]) put(id string, value T) {
	delete(s.deleted, id)
	s.values[id] = value
}

func (s *staged[T]) create(id string, value T) {
	s.put(id, value)
	s.created[id] = true
}

func (s *staged[T]) remove(id string) {
	delete(s.values, id)
	if s.created[id] {
		delete(s.created, id)
		return
	}
	s.deleted[id] = true
}

func (s *staged[T]) ids() []string {
	ids := make([]string, 0, len(s.values)+len(s.deleted))
	for id := range s.values {
		ids = append(ids, id)
	}
	for id := range s.deleted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type txAdapter struct {
	client *firestore.Client
	tx     *firestore.Transaction

	products   *staged[domain.Product]
	promotions *staged[domain.Promotion]
	orders     *staged[domain.Order]
	sessions   *staged[domain.PendingOrderSession]
	bookings   *staged[domain.Booking]
	doctorDays *staged[doctorDayDocument]
}

var _ repositories.Tx = (*txAdapter)(nil)

func newTxAdapter(client *firestore.Client, tx *firestore.Transaction) *txAdapter {
	return &txAdapter{
		client:     client,
		tx:         tx,
		products:   newStaged[domain.Product](productsCollection),
		promotions: newStaged[domain.Promotion](promotionsCollection),
		orders:     newStaged[domain.Order](ordersCollection),
		sessions:   newStaged[domain.PendingOrderSession](pendingSessionsCollection),
		bookings:   newStaged[domain.Booking](bookingsCollection),
		doctorDays: newStaged[doctorDayDocument](doctorDaysCollection),
	}
}

func (a *txAdapter) ref(collection, id string) *firestore.DocumentRef {
	return a.client.Collection(collection).Doc(id)
}

// readDoc fetches and decodes a document inside the transaction. Missing documents surface as a
// RepositoryError with IsNotFound.
func readDoc[D any](a *txAdapter, collection, id string) (D, error) {
	var doc D
	if id == "" {
		return doc, repositories.NotFound(collection+".get", collection, id)
	}
	snap, err := a.tx.Get(a.ref(collection, id))
	if err != nil {
		return doc, pfirestore.WrapError(collection+".get", err)
	}
	if err := snap.DataTo(&doc); err != nil {
		return doc, fmt.Errorf("firestore: decode %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func getStaged[T any, D interface{ toDomain(string) T }](a *txAdapter, s *staged[T], id string) (T, error) {
	if value, exists, hit := s.lookup(id); hit {
		if !exists {
			return value, repositories.NotFound(s.collection+".get", s.collection, id)
		}
		return value, nil
	}
	doc, err := readDoc[D](a, s.collection, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return doc.toDomain(id), nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func (a *txAdapter) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	return getStaged[domain.Product, productDocument](a, a.products, productID)
}

func (a *txAdapter) PutProduct(_ context.Context, product domain.Product) error {
	a.products.put(product.ID, product.Clone())
	return nil
}

func (a *txAdapter) GetPromotion(_ context.Context, promotionID string) (domain.Promotion, error) {
	return getStaged[domain.Promotion, promotionDocument](a, a.promotions, promotionID)
}

func (a *txAdapter) PromotionsForProduct(ctx context.Context, productID string) ([]domain.Promotion, error) {
	query := a.client.Collection(promotionsCollection).
		Where("productIds", "array-contains", productID).
		Where("active", "==", true)
	snaps, err := a.tx.Documents(query).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("promotions.query", err)
	}

	seen := make(map[string]bool, len(snaps))
	var promotions []domain.Promotion
	matches := func(p domain.Promotion) bool {
		if !p.Active {
			return false
		}
		for _, entry := range p.Entries {
			if entry.ProductID == productID {
				return true
			}
		}
		return false
	}
	for _, snap := range snaps {
		id := snap.Ref.ID
		seen[id] = true
		if staged, exists, hit := a.promotions.lookup(id); hit {
			if exists && matches(staged) {
				promotions = append(promotions, staged.Clone())
			}
			continue
		}
		var doc promotionDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore: decode promotion %s: %w", id, err)
		}
		promotions = append(promotions, doc.toDomain(id))
	}
	for id, staged := range a.promotions.values {
		if !seen[id] && matches(staged) {
			promotions = append(promotions, staged.Clone())
		}
	}
	sort.Slice(promotions, func(i, j int) bool { return promotions[i].ID < promotions[j].ID })
	return promotions, nil
}

func (a *txAdapter) PutPromotion(_ context.Context, promotion domain.Promotion) error {
	a.promotions.put(promotion.ID, promotion.Clone())
	return nil
}

func (a *txAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	_, err := a.GetOrder(ctx, order.ID)
	switch {
	case err == nil:
		return repositories.Conflict("orders.create", "order", order.ID)
	case !isNotFound(err):
		return err
	}
	a.orders.create(order.ID, order.Clone())
	return nil
}

func (a *txAdapter) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	return getStaged[domain.Order, orderDocument](a, a.orders, orderID)
}

func (a *txAdapter) PutOrder(_ context.Context, order domain.Order) error {
	a.orders.put(order.ID, order.Clone())
	return nil
}

func (a *txAdapter) DeleteOrder(ctx context.Context, orderID string) error {
	if _, err := a.GetOrder(ctx, orderID); err != nil {
		return err
	}
	a.orders.remove(orderID)
	return nil
}

func (a *txAdapter) CreatePendingSession(ctx context.Context, session domain.PendingOrderSession) error {
	_, err := a.GetPendingSession(ctx, session.ID)
	switch {
	case err == nil:
		return repositories.Conflict("pendingOrderSessions.create", "pendingOrderSession", session.ID)
	case !isNotFound(err):
		return err
	}
	a.sessions.create(session.ID, session.Clone())
	return nil
}

func (a *txAdapter) GetPendingSession(_ context.Context, sessionID string) (domain.PendingOrderSession, error) {
	return getStaged[domain.PendingOrderSession, pendingSessionDocument](a, a.sessions, sessionID)
}

func (a *txAdapter) PutPendingSession(_ context.Context, session domain.PendingOrderSession) error {
	a.sessions.put(session.ID, session.Clone())
	return nil
}

func (a *txAdapter) DeletePendingSession(ctx context.Context, sessionID string) error {
	if _, err := a.GetPendingSession(ctx, sessionID); err != nil {
		return err
	}
	a.sessions.remove(sessionID)
	return nil
}

func (a *txAdapter) GetClinic(_ context.Context, clinicID string) (domain.Clinic, error) {
	doc, err := readDoc[clinicDocument](a, clinicsCollection, clinicID)
	if err != nil {
		return domain.Clinic{}, err
	}
	return doc.toDomain(clinicID), nil
}

func (a *txAdapter) GetDoctor(_ context.Context, doctorID string) (domain.Doctor, error) {
	doc, err := readDoc[doctorDocument](a, doctorsCollection, doctorID)
	if err != nil {
		return domain.Doctor{}, err
	}
	return doc.toDomain(doctorID), nil
}

func (a *txAdapter) BookingsForDoctorDate(_ context.Context, doctorID, date string) ([]domain.Booking, error) {
	query := a.client.Collection(bookingsCollection).
		Where("doctorId", "==", doctorID).
		Where("date", "==", date)
	snaps, err := a.tx.Documents(query).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("bookings.query", err)
	}

	seen := make(map[string]bool, len(snaps))
	var bookings []domain.Booking
	for _, snap := range snaps {
		id := snap.Ref.ID
		seen[id] = true
		if staged, exists, hit := a.bookings.lookup(id); hit {
			if exists && staged.DoctorID == doctorID && staged.Date == date {
				bookings = append(bookings, staged.Clone())
			}
			continue
		}
		var doc bookingDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore: decode booking %s: %w", id, err)
		}
		bookings = append(bookings, doc.toDomain(id))
	}
	for id, staged := range a.bookings.values {
		if !seen[id] && staged.DoctorID == doctorID && staged.Date == date {
			bookings = append(bookings, staged.Clone())
		}
	}
	sort.SliceStable(bookings, func(i, j int) bool {
		if bookings[i].StartTime == bookings[j].StartTime {
			return bookings[i].ID < bookings[j].ID
		}
		return bookings[i].StartTime < bookings[j].StartTime
	})
	return bookings, nil
}

// LockDoctorDay reads and rewrites the doctor's day guard document. Two transactions that both
// touch the guard cannot commit concurrently, which closes the gap a range query leaves open for
// newly inserted bookings.
func (a *txAdapter) LockDoctorDay(_ context.Context, doctorID, date string) error {
	id := doctorDayID(doctorID, date)
	current, exists, hit := a.doctorDays.lookup(id)
	if !hit {
		doc, err := readDoc[doctorDayDocument](a, doctorDaysCollection, id)
		switch {
		case err == nil:
			current, exists = doc, true
		case !isNotFound(err):
			return err
		}
	}
	if !exists {
		current = doctorDayDocument{DoctorID: doctorID, Date: date}
	}
	current.Revision++
	a.doctorDays.put(id, current)
	return nil
}

func (a *txAdapter) CreateBooking(ctx context.Context, booking domain.Booking) error {
	_, err := a.GetBooking(ctx, booking.ID)
	switch {
	case err == nil:
		return repositories.Conflict("bookings.create", "booking", booking.ID)
	case !isNotFound(err):
		return err
	}
	a.bookings.create(booking.ID, booking.Clone())
	return nil
}

func (a *txAdapter) GetBooking(_ context.Context, bookingID string) (domain.Booking, error) {
	return getStaged[domain.Booking, bookingDocument](a, a.bookings, bookingID)
}

func (a *txAdapter) PutBooking(_ context.Context, booking domain.Booking) error {
	a.bookings.put(booking.ID, booking.Clone())
	return nil
}

func (a *txAdapter) DeleteBooking(ctx context.Context, bookingID string) error {
	if _, err := a.GetBooking(ctx, bookingID); err != nil {
		return err
	}
	a.bookings.remove(bookingID)
	return nil
}

func (a *txAdapter) flush() error {
	if err := flushStaged(a, a.products, func(p domain.Product) any { return newProductDocument(p) }); err != nil {
		return err
	}
	if err := flushStaged(a, a.promotions, func(p domain.Promotion) any { return newPromotionDocument(p) }); err != nil {
		return err
	}
	if err := flushStaged(a, a.orders, func(o domain.Order) any { return newOrderDocument(o) }); err != nil {
		return err
	}
	if err := flushStaged(a, a.sessions, func(s domain.PendingOrderSession) any { return newPendingSessionDocument(s) }); err != nil {
		return err
	}
	if err := flushStaged(a, a.bookings, func(b domain.Booking) any { return newBookingDocument(b) }); err != nil {
		return err
	}
	return flushStaged(a, a.doctorDays, func(d doctorDayDocument) any { return d })
}

func flushStaged[T any](a *txAdapter, s *staged[T], encode func(T) any) error {
	for _, id := range s.ids() {
		ref := a.ref(s.collection, id)
		var err error
		switch {
		case s.deleted[id]:
			err = a.tx.Delete(ref)
		case s.created[id]:
			err = a.tx.Create(ref, encode(s.values[id]))
		default:
			err = a.tx.Set(ref, encode(s.values[id]))
		}
		if err != nil {
			return pfirestore.WrapError(s.collection+".flush", err)
		}
	}
	return nil
}
