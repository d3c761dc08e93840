package service

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/revolutedigital/igreja-betania/internal/domain/validation"
)

// Time slots a service can be held at.
const (
	SlotMorning   = "10:00"
	SlotAfternoon = "17:00"
	SlotEvening   = "19:00"
)

// Slots lists the valid slots in the order they occur in a day.
var Slots = []string{SlotMorning, SlotAfternoon, SlotEvening}

// DateLayout is the calendar-date form used for new services.
const DateLayout = "2006-01-02"

// Domain errors
var (
	ErrInvalidDate = errors.New("service date must be YYYY-MM-DD or RFC3339")
)

// Service is one occurrence of a gathering ("culto") that attendance is recorded against.
type Service struct {
	ID          string    `json:"id"`
	Date        string    `json:"data" validate:"required"`
	Slot        string    `json:"horario" validate:"required,oneof=10:00 17:00 19:00"`
	SyncedAt    time.Time `json:"syncedAt,omitzero"`
	PendingSync bool      `json:"pendingSync,omitempty"`
}

// Validate checks if the Service has valid data.
// PRE: Service struct is initialized
// POST: Returns error if validation fails, nil otherwise
// INVARIANT: Slot is one of Slots, Date parses as a calendar day
func (s *Service) Validate() error {
	if err := validation.Struct(s); err != nil {
		return err
	}
	if _, err := s.Day(); err != nil {
		return err
	}
	return nil
}

// Day returns the calendar day of the service.
// The remote API returns full timestamps; locally created services carry a bare date.
// PRE: Date is set
// POST: Returns midnight UTC of the service day
func (s Service) Day() (time.Time, error) {
	if t, err := time.Parse(DateLayout, s.Date); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.Date)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// SameOccurrence reports whether two services describe the same date and slot.
func (s Service) SameOccurrence(other Service) bool {
	a, errA := s.Day()
	b, errB := other.Day()
	if errA != nil || errB != nil {
		return false
	}
	return a.Equal(b) && s.Slot == other.Slot
}

// Payload returns the remote representation, without local sync bookkeeping.
func (s Service) Payload() (json.RawMessage, error) {
	s.SyncedAt = time.Time{}
	s.PendingSync = false
	return json.Marshal(s)
}
