package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/telecare-coordinator/internal/redisclient"
)

const (
	EventBookingCreated   = "BOOKING_CREATED"
	EventStatusChanged    = "STATUS_CHANGED"
	EventBookingCancelled = "BOOKING_CANCELLED"
	EventNoShowMarked     = "NO_SHOW_MARKED"
)

var (
	ErrSlotContended     = errors.New("slot is currently being booked, please retry")
	ErrInvalidInput      = errors.New("invalid booking request")
	ErrNotAllowed        = errors.New("actor may not modify this appointment")
	ErrStatusFinal       = errors.New("appointment status is final")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Service struct {
	repo        Repository
	locker      redisclient.Locker
	noShowGrace time.Duration
}

func NewService(repo Repository, locker redisclient.Locker, noShowGrace time.Duration) *Service {
	return &Service{
		repo:        repo,
		locker:      locker,
		noShowGrace: noShowGrace,
	}
}

type BookParams struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	VisitDate time.Time
	SlotLabel string
	Mode      Mode
	Reason    string
}

func (p BookParams) validate() error {
	if p.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor_id is required", ErrInvalidInput)
	}
	if p.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	if p.VisitDate.IsZero() {
		return fmt.Errorf("%w: visit_date is required", ErrInvalidInput)
	}
	if p.SlotLabel == "" {
		return fmt.Errorf("%w: slot_label is required", ErrInvalidInput)
	}
	if p.Reason == "" {
		return fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}
	if p.Mode != ModeRemote && p.Mode != ModeInPerson {
		return fmt.Errorf("%w: mode must be remote or in_person", ErrInvalidInput)
	}
	return nil
}

// Book reserves (doctor, date, slot) for a patient. The check and the insert
// run inside a per-slot distributed lock so two concurrent requests for the
// same tuple cannot both succeed; the partial unique index on the appointments
// table backstops the lock if it ever expires mid-flight.
func (s *Service) Book(ctx context.Context, p BookParams) (*Appointment, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetDoctorByID(ctx, p.DoctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if _, err := s.repo.GetPatientByID(ctx, p.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	var created *Appointment

	err := s.locker.WithSlotLock(ctx, SlotKey(p.DoctorID, p.VisitDate, p.SlotLabel), func(lockCtx context.Context) error {
		// Inside the critical section re-check for a live booking on the tuple
		existing, err := s.repo.GetLiveAppointmentForSlot(lockCtx, p.DoctorID, p.VisitDate, p.SlotLabel)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check live appointment: %w", err)
		}
		if existing != nil {
			return ErrSlotTaken
		}

		appt, err := s.repo.CreateAppointment(lockCtx, &Appointment{
			DoctorID:  p.DoctorID,
			PatientID: p.PatientID,
			VisitDate: p.VisitDate,
			SlotLabel: p.SlotLabel,
			Mode:      p.Mode,
			Reason:    p.Reason,
		})
		if err != nil {
			return err
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventBookingCreated, map[string]any{
			"doctor_id":  p.DoctorID.String(),
			"patient_id": p.PatientID.String(),
			"visit_date": p.VisitDate.Format("2006-01-02"),
			"slot_label": p.SlotLabel,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotContended
		}
		return nil, err
	}

	return created, nil
}

type UpdateParams struct {
	ID        uuid.UUID
	ActorID   uuid.UUID
	ActorRole Role
	NewStatus Status // empty means status unchanged
	Notes     string
	JoinLink  string
}

// UpdateStatus applies a status transition and/or merges notes and join link.
// Only the assigned doctor or an admin may update; a transition out of a
// terminal status fails with ErrStatusFinal rather than silently no-opping.
func (s *Service) UpdateStatus(ctx context.Context, p UpdateParams) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	if p.ActorRole != RoleAdmin && p.ActorID != appt.DoctorID {
		return nil, ErrNotAllowed
	}

	if p.NewStatus == "" {
		return s.repo.UpdateAppointmentDetails(ctx, p.ID, p.Notes, p.JoinLink)
	}

	if appt.Status.Terminal() {
		return nil, ErrStatusFinal
	}
	if !appt.Status.CanTransition(p.NewStatus) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, p.ID, StatusScheduled, p.NewStatus, p.Notes, p.JoinLink)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race: another writer already moved it out of scheduled.
			return nil, ErrStatusFinal
		}
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventStatusChanged, map[string]any{
		"status":   string(p.NewStatus),
		"actor_id": p.ActorID.String(),
	})

	return updated, nil
}

// Cancel is the patient-side counterpart of UpdateStatus, restricted to the
// Cancelled target. The assigned patient or an admin may cancel.
func (s *Service) Cancel(ctx context.Context, id, actorID uuid.UUID, actorRole Role) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if actorRole != RoleAdmin && actorID != appt.PatientID {
		return nil, ErrNotAllowed
	}

	if appt.Status.Terminal() {
		return nil, ErrStatusFinal
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusScheduled, StatusCancelled, "", "")
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrStatusFinal
		}
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventBookingCancelled, map[string]any{
		"actor_id": actorID.String(),
	})

	return updated, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// MarkNoShows is called periodically by the no-show worker. Scheduled
// appointments whose visit date fell more than the grace period in the past
// are flipped to no_show.
func (s *Service) MarkNoShows(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.noShowGrace)

	stale, err := s.repo.FindStaleScheduled(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale scheduled appointments: %w", err)
	}

	marked := 0
	for _, appt := range stale {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusNoShow, "", "")
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue // someone else already moved it
			}
			log.Printf("failed to mark appointment %s as no_show: %v", appt.ID, err)
			continue
		}
		marked++
		s.logEvent(ctx, appt.ID, EventNoShowMarked, map[string]any{
			"visit_date": appt.VisitDate.Format("2006-01-02"),
		})
	}

	return marked, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}
