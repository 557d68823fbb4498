package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carelink/telecare-coordinator/internal/metrics"
	"github.com/carelink/telecare-coordinator/internal/scheduling"
)

// SchedulerService is the slice of the scheduler the HTTP layer consumes.
type SchedulerService interface {
	Book(ctx context.Context, p scheduling.BookParams) (*scheduling.Appointment, error)
	UpdateStatus(ctx context.Context, p scheduling.UpdateParams) (*scheduling.Appointment, error)
	Cancel(ctx context.Context, id, actorID uuid.UUID, actorRole scheduling.Role) (*scheduling.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]scheduling.Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]scheduling.Appointment, error)
}

func bookAppointmentHandler(svc SchedulerService, collector *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		visitDate, err := time.Parse("2006-01-02", req.VisitDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_visit_date", "visit_date must be YYYY-MM-DD")
			return
		}

		appt, err := svc.Book(r.Context(), scheduling.BookParams{
			PatientID: patientID,
			DoctorID:  doctorID,
			VisitDate: visitDate,
			SlotLabel: req.SlotLabel,
			Mode:      scheduling.Mode(req.Mode),
			Reason:    req.Reason,
		})
		if err != nil {
			collector.RecordBooking(bookingOutcome(err))
			handleBookError(w, err)
			return
		}

		collector.RecordBooking("created")
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func updateAppointmentHandler(svc SchedulerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		actor, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication_required", "missing identity")
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		newStatus := scheduling.Status(req.Status)
		switch newStatus {
		case "", scheduling.StatusScheduled, scheduling.StatusCompleted, scheduling.StatusCancelled, scheduling.StatusNoShow:
		default:
			writeError(w, http.StatusBadRequest, "invalid_status", "unknown status value")
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), scheduling.UpdateParams{
			ID:        id,
			ActorID:   actor.ID,
			ActorRole: scheduling.Role(actor.Role),
			NewStatus: newStatus,
			Notes:     req.Notes,
			JoinLink:  req.JoinLink,
		})
		if err != nil {
			handleUpdateError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc SchedulerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		actor, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication_required", "missing identity")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, actor.ID, scheduling.Role(actor.Role))
		if err != nil {
			handleUpdateError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc SchedulerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, scheduling.ErrAppointmentNotFound) {
				writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc SchedulerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := intParam(q.Get("limit"), 20)
		offset := intParam(q.Get("offset"), 0)

		var (
			appts []scheduling.Appointment
			err   error
		)

		switch {
		case q.Get("doctor_id") != "":
			doctorID, parseErr := uuid.Parse(q.Get("doctor_id"))
			if parseErr != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			appts, err = svc.ListByDoctor(r.Context(), doctorID, limit, offset)
		case q.Get("patient_id") != "":
			patientID, parseErr := uuid.Parse(q.Get("patient_id"))
			if parseErr != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			appts, err = svc.ListByPatient(r.Context(), patientID, limit, offset)
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "doctor_id or patient_id is required")
			return
		}

		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func bookingOutcome(err error) string {
	switch {
	case errors.Is(err, scheduling.ErrSlotTaken), errors.Is(err, scheduling.ErrSlotContended):
		return "conflict"
	case errors.Is(err, scheduling.ErrInvalidInput),
		errors.Is(err, scheduling.ErrDoctorNotFound),
		errors.Is(err, scheduling.ErrPatientNotFound):
		return "rejected"
	}
	return "error"
}

func handleBookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_booking", err.Error())
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, scheduling.ErrSlotContended):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

func handleUpdateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrNotAllowed):
		writeError(w, http.StatusForbidden, "not_allowed", err.Error())
	case errors.Is(err, scheduling.ErrStatusFinal):
		writeError(w, http.StatusConflict, "status_final", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
