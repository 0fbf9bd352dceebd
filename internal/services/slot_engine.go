package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
)

const defaultClinicTimeZone = "Asia/Tokyo"

// SlotEngineDeps bundles the collaborators required to construct the slot engine.
type SlotEngineDeps struct {
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	// DefaultTimeZone applies to clinics without a configured zone.
	DefaultTimeZone string
}

type slotEngine struct {
	uow      repositories.UnitOfWork
	clock    func() time.Time
	fallback *time.Location
}

// NewSlotEngine wires dependencies into a concrete SlotEngine implementation.
func NewSlotEngine(deps SlotEngineDeps) (SlotEngine, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("slot engine: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	zone := strings.TrimSpace(deps.DefaultTimeZone)
	if zone == "" {
		zone = defaultClinicTimeZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("slot engine: load time zone %q: %w", zone, err)
	}
	return &slotEngine{
		uow:      deps.UnitOfWork,
		clock:    clock,
		fallback: loc,
	}, nil
}

// AvailableSlots lists the doctor's slot grid for date with availability derived from the
// bookings that currently hold a slot.
func (e *slotEngine) AvailableSlots(ctx context.Context, doctorID, date string) (domain.DaySchedule, error) {
	doctorID = strings.TrimSpace(doctorID)
	date = strings.TrimSpace(date)
	var invalid ValidationError
	if doctorID == "" {
		invalid.Add("doctorId", "is required")
	}
	if date == "" {
		invalid.Add("date", "is required")
	}
	if err := invalid.Err(); err != nil {
		return domain.DaySchedule{}, err
	}

	var schedule domain.DaySchedule
	err := e.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		doctor, err := tx.GetDoctor(ctx, doctorID)
		if err != nil {
			return lookupError("doctor", doctorID, err)
		}
		clinic, err := tx.GetClinic(ctx, doctor.ClinicID)
		if err != nil {
			return lookupError("clinic", doctor.ClinicID, err)
		}
		day, err := domain.ParseDate(date, e.location(clinic))
		if err != nil {
			return validationFailure("date", "must use YYYY-MM-DD")
		}

		schedule = domain.DaySchedule{DoctorID: doctor.ID, ClinicID: clinic.ID, Date: date, Slots: []domain.Slot{}}
		hours, open := clinic.WorkingHours[day.Weekday()]
		if !open || !hours.Open || !doctor.Active {
			return nil
		}
		if onHoliday(clinic, doctor, date) {
			return nil
		}
		schedule.IsOpen = true

		bookings, err := tx.BookingsForDoctorDate(ctx, doctor.ID, date)
		if err != nil {
			return err
		}
		held := heldIntervals(bookings)
		earliest, ok := e.earliestStart(clinic, date, doctor.SlotDuration)
		if !ok {
			return nil
		}
		for _, slot := range generateGrid(hours, doctor.SlotDuration) {
			if slot.Start < earliest {
				continue
			}
			schedule.Slots = append(schedule.Slots, domain.Slot{
				StartTime:   slot.Start.String(),
				EndTime:     slot.End.String(),
				IsAvailable: !overlapsAny(slot, held),
			})
		}
		return nil
	})
	if err != nil {
		return domain.DaySchedule{}, translateError("slots.available", err)
	}
	return schedule, nil
}

// ValidateRequestedSlot re-derives every generation constraint for one requested interval. It is
// the authoritative check run inside the booking transaction.
func (e *slotEngine) ValidateRequestedSlot(ctx context.Context, reader repositories.ScheduleReader, req SlotRequest) (ValidatedSlot, error) {
	if reader == nil {
		return ValidatedSlot{}, fmt.Errorf("%w: slots: reader is required", ErrInternal)
	}
	var invalid ValidationError
	if strings.TrimSpace(req.DoctorID) == "" {
		invalid.Add("doctorId", "is required")
	}
	if strings.TrimSpace(req.ClinicID) == "" {
		invalid.Add("clinicId", "is required")
	}
	if strings.TrimSpace(req.Date) == "" {
		invalid.Add("date", "is required")
	}
	if err := invalid.Err(); err != nil {
		return ValidatedSlot{}, err
	}

	start, startErr := domain.ParseClockTime(req.StartTime)
	end, endErr := domain.ParseClockTime(req.EndTime)
	if startErr != nil || endErr != nil {
		return ValidatedSlot{}, fmt.Errorf("%w: start %q end %q must use HH:mm", ErrInvalidTimeFormat, req.StartTime, req.EndTime)
	}
	if end <= start {
		return ValidatedSlot{}, validationFailure("endTime", "must be after startTime")
	}
	interval := domain.TimeRange{Start: start, End: end}

	doctor, err := reader.GetDoctor(ctx, strings.TrimSpace(req.DoctorID))
	if err != nil {
		return ValidatedSlot{}, lookupError("doctor", req.DoctorID, err)
	}
	if doctor.ClinicID != strings.TrimSpace(req.ClinicID) {
		return ValidatedSlot{}, validationFailure("clinicId", fmt.Sprintf("doctor %s does not practise at clinic %s", doctor.ID, req.ClinicID))
	}
	if !doctor.Active {
		return ValidatedSlot{}, validationFailure("doctorId", fmt.Sprintf("doctor %s is not accepting bookings", doctor.ID))
	}
	clinic, err := reader.GetClinic(ctx, doctor.ClinicID)
	if err != nil {
		return ValidatedSlot{}, lookupError("clinic", doctor.ClinicID, err)
	}

	loc := e.location(clinic)
	day, err := domain.ParseDate(req.Date, loc)
	if err != nil {
		return ValidatedSlot{}, validationFailure("date", "must use YYYY-MM-DD")
	}
	now := e.clock().In(loc)
	slotStart := day.Add(time.Duration(start) * time.Minute)
	if slotStart.Before(now) {
		return ValidatedSlot{}, validationFailure("startTime", "must not be in the past")
	}

	if onHoliday(clinic, doctor, req.Date) {
		return ValidatedSlot{}, fmt.Errorf("%w: %s", ErrHolidayClosed, req.Date)
	}
	hours, ok := clinic.WorkingHours[day.Weekday()]
	if !ok || !hours.Open {
		return ValidatedSlot{}, fmt.Errorf("%w: clinic closed on %s", ErrOutsideWorkingHours, day.Weekday())
	}
	if !hours.Hours().Contains(interval) {
		return ValidatedSlot{}, fmt.Errorf("%w: %s-%s outside %s-%s", ErrOutsideWorkingHours, start, end, hours.Start, hours.End)
	}
	if hours.Break != nil && hours.Break.Overlaps(interval) {
		return ValidatedSlot{}, fmt.Errorf("%w: %s-%s overlaps break %s-%s", ErrOutsideWorkingHours, start, end, hours.Break.Start, hours.Break.End)
	}

	bookings := req.Bookings
	if bookings == nil {
		bookings, err = reader.BookingsForDoctorDate(ctx, doctor.ID, req.Date)
		if err != nil {
			return ValidatedSlot{}, err
		}
	}
	if overlapsAny(interval, heldIntervals(bookings)) {
		return ValidatedSlot{}, fmt.Errorf("%w: %s %s-%s is already booked", ErrSlotConflict, req.Date, start, end)
	}

	return ValidatedSlot{Doctor: doctor, Clinic: clinic, Interval: interval}, nil
}

func (e *slotEngine) location(clinic domain.Clinic) *time.Location {
	if zone := strings.TrimSpace(clinic.TimeZone); zone != "" {
		if loc, err := time.LoadLocation(zone); err == nil {
			return loc
		}
	}
	return e.fallback
}

// earliestStart returns the first bookable start for date. Past dates yield ok=false; today is
// rounded up to the next multiple of duration.
func (e *slotEngine) earliestStart(clinic domain.Clinic, date string, duration int) (domain.ClockTime, bool) {
	now := e.clock().In(e.location(clinic))
	today := now.Format(domain.DateLayout)
	switch {
	case date < today:
		return 0, false
	case date > today:
		return 0, true
	}
	minutes := int(domain.ClockTimeOf(now))
	if now.Second() > 0 || now.Nanosecond() > 0 {
		minutes++
	}
	if duration > 0 && minutes%duration != 0 {
		minutes += duration - minutes%duration
	}
	return domain.ClockTime(minutes), true
}

// generateGrid lays duration-minute slots from the opening time; slots overlapping the break or
// running past closing are dropped.
func generateGrid(hours domain.WorkingDay, duration int) []domain.TimeRange {
	if duration <= 0 || hours.End <= hours.Start {
		return nil
	}
	step := domain.ClockTime(duration)
	slots := make([]domain.TimeRange, 0, int(hours.End-hours.Start)/duration)
	for start := hours.Start; start+step <= hours.End; start += step {
		slot := domain.TimeRange{Start: start, End: start + step}
		if hours.Break != nil && hours.Break.Overlaps(slot) {
			continue
		}
		slots = append(slots, slot)
	}
	return slots
}

func heldIntervals(bookings []domain.Booking) []domain.TimeRange {
	held := make([]domain.TimeRange, 0, len(bookings))
	for _, booking := range bookings {
		if !booking.Status.HoldsSlot() {
			continue
		}
		if interval, ok := booking.Interval(); ok {
			held = append(held, interval)
		}
	}
	return held
}

func overlapsAny(slot domain.TimeRange, held []domain.TimeRange) bool {
	for _, interval := range held {
		if interval.Overlaps(slot) {
			return true
		}
	}
	return false
}

func onHoliday(clinic domain.Clinic, doctor domain.Doctor, date string) bool {
	return slices.Contains(clinic.Holidays, date) || slices.Contains(doctor.Holidays, date)
}
