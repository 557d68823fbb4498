package scheduling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// CanTransition reports whether s may move to next. The only legal moves are
// scheduled -> completed | cancelled | no_show.
func (s Status) CanTransition(next Status) bool {
	if s != StatusScheduled {
		return false
	}
	switch next {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type Mode string

const (
	ModeRemote   Mode = "remote"
	ModeInPerson Mode = "in_person"
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
)

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	VisitDate time.Time // date component only, time of day carried by SlotLabel
	SlotLabel string
	Mode      Mode
	Status    Status
	Reason    string
	Notes     string
	JoinLink  string
	Vitals    json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsParticipant reports whether id is one of the two parties of the appointment.
func (a *Appointment) IsParticipant(id uuid.UUID) bool {
	return id == a.DoctorID || id == a.PatientID
}

// RoleOf returns the appointment-side role of id, or "" for outsiders.
func (a *Appointment) RoleOf(id uuid.UUID) Role {
	switch id {
	case a.DoctorID:
		return RoleDoctor
	case a.PatientID:
		return RolePatient
	}
	return ""
}

// SlotKey is the serialization key for the booking critical section.
func SlotKey(doctorID uuid.UUID, visitDate time.Time, slotLabel string) string {
	return fmt.Sprintf("%s:%s:%s", doctorID, visitDate.Format("2006-01-02"), slotLabel)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
