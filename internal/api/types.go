package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/carelink/telecare-coordinator/internal/scheduling"
)

type BookAppointmentRequest struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	VisitDate string `json:"visit_date"` // 2006-01-02
	SlotLabel string `json:"slot_label"`
	Mode      string `json:"mode"`
	Reason    string `json:"reason"`
}

type UpdateAppointmentRequest struct {
	Status   string `json:"status,omitempty"`
	Notes    string `json:"notes,omitempty"`
	JoinLink string `json:"join_link,omitempty"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	VisitDate string    `json:"visit_date"`
	SlotLabel string    `json:"slot_label"`
	Mode      string    `json:"mode"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	Notes     string    `json:"notes,omitempty"`
	JoinLink  string    `json:"join_link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		VisitDate: a.VisitDate.Format("2006-01-02"),
		SlotLabel: a.SlotLabel,
		Mode:      string(a.Mode),
		Status:    string(a.Status),
		Reason:    a.Reason,
		Notes:     a.Notes,
		JoinLink:  a.JoinLink,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
