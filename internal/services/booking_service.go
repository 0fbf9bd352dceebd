package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
)

const (
	eventBookingCreated      = "bookings.created"
	eventBookingTransition   = "bookings.transition"
	eventBookingDeleted      = "bookings.deleted"
	eventBookingNotifyFailed = "bookings.notify_failed"

	metricBookingsCreated       = "bookings.created"
	metricBookingsSlotConflicts = "bookings.slot_conflicts"

	notificationBookingCreated = "booking.created"
	notificationBookingStatus  = "booking.status_changed"
)

// BookingServiceDeps bundles the collaborators required to construct the booking service.
type BookingServiceDeps struct {
	UnitOfWork  repositories.UnitOfWork
	Slots       SlotEngine
	Notifier    Notifier
	Meter       metric.Meter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type bookingService struct {
	uow      repositories.UnitOfWork
	slots    SlotEngine
	notifier Notifier
	counters *counters
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewBookingService wires dependencies into a concrete BookingService implementation.
func NewBookingService(deps BookingServiceDeps) (BookingService, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("booking service: unit of work is required")
	}
	if deps.Slots == nil {
		return nil, errors.New("booking service: slot engine is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &bookingService{
		uow:      deps.UnitOfWork,
		slots:    deps.Slots,
		notifier: deps.Notifier,
		counters: newCounters(deps.Meter, map[string]string{
			metricBookingsCreated:       "Bookings committed",
			metricBookingsSlotConflicts: "Booking requests rejected because the slot was taken",
		}),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateBooking serialises on the doctor's day, re-validates the slot against the bookings visible
// in the transaction and stores a pending booking priced at the doctor's fee.
func (s *bookingService) CreateBooking(ctx context.Context, actor domain.Actor, cmd CreateBookingCommand) (domain.Booking, error) {
	var invalid ValidationError
	if strings.TrimSpace(actor.ID) == "" {
		invalid.Add("actor", "authenticated user is required")
	}
	if strings.TrimSpace(cmd.DoctorID) == "" {
		invalid.Add("doctorId", "is required")
	}
	if strings.TrimSpace(cmd.ClinicID) == "" {
		invalid.Add("clinicId", "is required")
	}
	if _, err := domain.ParseDate(cmd.Date, time.UTC); err != nil {
		invalid.Add("date", "must use YYYY-MM-DD")
	}
	if err := invalid.Err(); err != nil {
		return domain.Booking{}, err
	}
	if actor.Role != domain.RoleUser {
		return domain.Booking{}, fmt.Errorf("%w: bookings are created by customers", ErrForbidden)
	}
	if _, err := domain.ParseClockTime(cmd.StartTime); err != nil {
		return domain.Booking{}, fmt.Errorf("%w: startTime %q", ErrInvalidTimeFormat, cmd.StartTime)
	}
	if _, err := domain.ParseClockTime(cmd.EndTime); err != nil {
		return domain.Booking{}, fmt.Errorf("%w: endTime %q", ErrInvalidTimeFormat, cmd.EndTime)
	}

	doctorID := strings.TrimSpace(cmd.DoctorID)
	date := strings.TrimSpace(cmd.Date)
	bookingID := "bkg_" + strings.ToLower(s.newID())
	contact := sanitizeContact(cmd.Contact)

	var booking domain.Booking
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		if err := tx.LockDoctorDay(ctx, doctorID, date); err != nil {
			return err
		}
		existing, err := tx.BookingsForDoctorDate(ctx, doctorID, date)
		if err != nil {
			return err
		}
		slot, err := s.slots.ValidateRequestedSlot(ctx, tx, SlotRequest{
			DoctorID:  doctorID,
			ClinicID:  cmd.ClinicID,
			Date:      date,
			StartTime: cmd.StartTime,
			EndTime:   cmd.EndTime,
			Bookings:  existing,
		})
		if err != nil {
			return err
		}

		now := s.clock()
		booking = domain.Booking{
			ID:        bookingID,
			UserID:    actor.ID,
			DoctorID:  slot.Doctor.ID,
			ClinicID:  slot.Clinic.ID,
			Date:      date,
			StartTime: slot.Interval.Start.String(),
			EndTime:   slot.Interval.End.String(),
			Status:    domain.BookingStatusPending,
			StatusHistory: []domain.StatusChange{{
				To:        string(domain.BookingStatusPending),
				ActorID:   actor.ID,
				ActorRole: actor.Role,
				At:        now,
			}},
			Price:     slot.Doctor.Fee,
			Contact:   contact,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.CreateBooking(ctx, booking)
	})
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			s.counters.add(ctx, metricBookingsSlotConflicts, attribute.String("doctorId", doctorID))
		}
		return domain.Booking{}, translateError("bookings.create", err)
	}

	s.counters.add(ctx, metricBookingsCreated)
	s.logger(ctx, eventBookingCreated, map[string]any{
		"bookingId": booking.ID,
		"doctorId":  booking.DoctorID,
		"clinicId":  booking.ClinicID,
		"date":      booking.Date,
		"startTime": booking.StartTime,
		"endTime":   booking.EndTime,
		"userId":    booking.UserID,
	})
	s.notify(ctx, Notification{
		Type:      notificationBookingCreated,
		Subject:   "booking",
		SubjectID: booking.ID,
		UserID:    booking.UserID,
		Status:    string(booking.Status),
		ActorID:   actor.ID,
		Data:      map[string]string{"doctorId": booking.DoctorID, "date": booking.Date, "startTime": booking.StartTime},
		CreatedAt: booking.CreatedAt,
	})
	return booking, nil
}

// TransitionBooking applies one status change permitted by the booking transition table for the
// actor's role and relationship to the booking.
func (s *bookingService) TransitionBooking(ctx context.Context, actor domain.Actor, bookingID string, to domain.BookingStatus, reason string) (domain.Booking, error) {
	bookingID = strings.TrimSpace(bookingID)
	reason = sanitizeText(reason)
	var invalid ValidationError
	if strings.TrimSpace(actor.ID) == "" {
		invalid.Add("actor", "authenticated actor is required")
	}
	if bookingID == "" {
		invalid.Add("bookingId", "is required")
	}
	if to == "" {
		invalid.Add("status", "is required")
	}
	if to == domain.BookingStatusCancelled && reason == "" {
		invalid.Add("reason", "is required when cancelling")
	}
	if err := invalid.Err(); err != nil {
		return domain.Booking{}, err
	}

	var (
		booking domain.Booking
		from    domain.BookingStatus
	)
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		current, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return lookupError("booking", bookingID, err)
		}
		if err := s.authorize(ctx, tx, actor, current); err != nil {
			return err
		}
		from = current.Status
		if !bookingTransitions.allows(string(from), string(to), actor.Role) {
			return fmt.Errorf("%w: %s cannot move booking from %s to %s", ErrInvalidTransition, actor.Role, from, to)
		}

		now := s.clock()
		current.Status = to
		if to == domain.BookingStatusCancelled {
			current.CancelReason = reason
		}
		current.StatusHistory = append(current.StatusHistory, domain.StatusChange{
			From:      string(from),
			To:        string(to),
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Reason:    reason,
			At:        now,
		})
		current.UpdatedAt = now
		booking = current
		return tx.PutBooking(ctx, current)
	})
	if err != nil {
		return domain.Booking{}, translateError("bookings.transition", err)
	}

	s.logger(ctx, eventBookingTransition, map[string]any{
		"bookingId": booking.ID,
		"from":      string(from),
		"to":        string(to),
		"actorId":   actor.ID,
		"role":      string(actor.Role),
	})
	s.notify(ctx, Notification{
		Type:      notificationBookingStatus,
		Subject:   "booking",
		SubjectID: booking.ID,
		UserID:    booking.UserID,
		Status:    string(booking.Status),
		ActorID:   actor.ID,
		Data:      map[string]string{"from": string(from), "reason": booking.CancelReason},
		CreatedAt: booking.UpdatedAt,
	})
	return booking, nil
}

// DeleteBooking removes a booking that is still pending or already cancelled.
func (s *bookingService) DeleteBooking(ctx context.Context, actor domain.Actor, bookingID string) error {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return validationFailure("bookingId", "is required")
	}
	var status domain.BookingStatus
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		current, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return lookupError("booking", bookingID, err)
		}
		if actor.Role != domain.RolePlatformAdmin {
			if err := s.authorize(ctx, tx, actor, current); err != nil {
				return err
			}
		}
		status = current.Status
		if status != domain.BookingStatusPending && status != domain.BookingStatusCancelled {
			return fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, bookingID, status)
		}
		return tx.DeleteBooking(ctx, bookingID)
	})
	if err != nil {
		return translateError("bookings.delete", err)
	}
	s.logger(ctx, eventBookingDeleted, map[string]any{"bookingId": bookingID, "status": string(status), "actorId": actor.ID})
	return nil
}

func (s *bookingService) GetBooking(ctx context.Context, actor domain.Actor, bookingID string) (domain.Booking, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return domain.Booking{}, validationFailure("bookingId", "is required")
	}
	var booking domain.Booking
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		current, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return lookupError("booking", bookingID, err)
		}
		if actor.Role != domain.RolePlatformAdmin {
			if err := s.authorize(ctx, tx, actor, current); err != nil {
				return err
			}
		}
		booking = current
		return nil
	})
	if err != nil {
		return domain.Booking{}, translateError("bookings.get", err)
	}
	return booking, nil
}

// authorize checks the actor's relationship to the booking: the customer owns it, the doctor is
// assigned to it, the clinic admin administers its clinic.
func (s *bookingService) authorize(ctx context.Context, tx repositories.Tx, actor domain.Actor, booking domain.Booking) error {
	switch actor.Role {
	case domain.RoleUser:
		if booking.UserID == actor.ID {
			return nil
		}
	case domain.RoleDoctor:
		if booking.DoctorID == actor.ID {
			return nil
		}
	case domain.RoleClinicAdmin:
		clinic, err := tx.GetClinic(ctx, booking.ClinicID)
		if err != nil {
			return lookupError("clinic", booking.ClinicID, err)
		}
		if clinic.AdminID == actor.ID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s may not act on booking %s", ErrForbidden, actor.Role, actor.ID, booking.ID)
}

func (s *bookingService) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger(ctx, eventBookingNotifyFailed, map[string]any{"bookingId": n.SubjectID, "type": n.Type, "error": err.Error()})
	}
}
