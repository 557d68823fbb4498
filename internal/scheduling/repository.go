package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken is returned both by the in-lock existence check and by the
	// storage unique index when a racing writer slips past it.
	ErrSlotTaken = errors.New("slot already booked")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// GetLiveAppointmentForSlot finds the non-cancelled appointment occupying
	// (doctorID, visitDate, slotLabel), or ErrAppointmentNotFound.
	GetLiveAppointmentForSlot(ctx context.Context, doctorID uuid.UUID, visitDate time.Time, slotLabel string) (*Appointment, error)

	// CreateAppointment inserts appt; a unique-index violation on the live
	// slot tuple is surfaced as ErrSlotTaken.
	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)

	// UpdateAppointmentStatus is a compare-and-set on status; the row must
	// still be in `from` or ErrAppointmentNotFound is returned. Non-empty
	// notes and joinLink overwrite, empty ones are kept.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, notes, joinLink string) (*Appointment, error)

	// UpdateAppointmentDetails merges notes/joinLink without touching status.
	UpdateAppointmentDetails(ctx context.Context, id uuid.UUID, notes, joinLink string) (*Appointment, error)

	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// No-show worker
	FindStaleScheduled(ctx context.Context, before time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
