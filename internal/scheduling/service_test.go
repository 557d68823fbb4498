package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory Repository that mimics the partial unique index on
// (doctor_id, visit_date, slot_label) WHERE status <> 'cancelled'.
type memRepo struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]*Doctor
	patients     map[uuid.UUID]*Patient
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{
		doctors:      make(map[uuid.UUID]*Doctor),
		patients:     make(map[uuid.UUID]*Patient),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (r *memRepo) addDoctor() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.doctors[id] = &Doctor{ID: id, Name: "Dr. Test"}
	return id
}

func (r *memRepo) addPatient() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.patients[id] = &Patient{ID: id, Name: "Pat Test"}
	return id
}

func (r *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.doctors[id]; ok {
		return d, nil
	}
	return nil, ErrDoctorNotFound
}

func (r *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.patients[id]; ok {
		return p, nil
	}
	return nil, ErrPatientNotFound
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.appointments[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepo) GetLiveAppointmentForSlot(_ context.Context, doctorID uuid.UUID, visitDate time.Time, slotLabel string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a := r.liveForSlotLocked(doctorID, visitDate, slotLabel); a != nil {
		cp := *a
		return &cp, nil
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepo) liveForSlotLocked(doctorID uuid.UUID, visitDate time.Time, slotLabel string) *Appointment {
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.VisitDate.Equal(visitDate) && a.SlotLabel == slotLabel && a.Status != StatusCancelled {
			return a
		}
	}
	return nil
}

func (r *memRepo) CreateAppointment(_ context.Context, appt *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.liveForSlotLocked(appt.DoctorID, appt.VisitDate, appt.SlotLabel) != nil {
		return nil, ErrSlotTaken
	}
	cp := *appt
	cp.ID = uuid.New()
	cp.Status = StatusScheduled
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.appointments[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to Status, notes, joinLink string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if notes != "" {
		a.Notes = notes
	}
	if joinLink != "" {
		a.JoinLink = joinLink
	}
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *memRepo) UpdateAppointmentDetails(_ context.Context, id uuid.UUID, notes, joinLink string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if notes != "" {
		a.Notes = notes
	}
	if joinLink != "" {
		a.JoinLink = joinLink
	}
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *memRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) FindStaleScheduled(_ context.Context, before time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusScheduled && a.VisitDate.Before(before) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// keyedLocker serializes callers per key the way the Redis slot lock does,
// but blocks instead of failing so concurrency tests exercise the in-lock
// double check.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *keyedLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

func newTestService(t *testing.T) (*Service, *memRepo, uuid.UUID, uuid.UUID) {
	t.Helper()
	repo := newMemRepo()
	svc := NewService(repo, newKeyedLocker(), 24*time.Hour)
	return svc, repo, repo.addDoctor(), repo.addPatient()
}

func bookParams(doctorID, patientID uuid.UUID) BookParams {
	return BookParams{
		PatientID: patientID,
		DoctorID:  doctorID,
		VisitDate: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		SlotLabel: "10:00 AM",
		Mode:      ModeRemote,
		Reason:    "annual checkup",
	}
}

func TestBook_Success(t *testing.T) {
	svc, _, doctorID, patientID := newTestService(t)

	appt, err := svc.Book(context.Background(), bookParams(doctorID, patientID))
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, doctorID, appt.DoctorID)
	assert.Equal(t, patientID, appt.PatientID)
	assert.Equal(t, "10:00 AM", appt.SlotLabel)
}

func TestBook_Validation(t *testing.T) {
	svc, _, doctorID, patientID := newTestService(t)

	tests := []struct {
		name   string
		mutate func(*BookParams)
	}{
		{"missing reason", func(p *BookParams) { p.Reason = "" }},
		{"missing slot", func(p *BookParams) { p.SlotLabel = "" }},
		{"missing date", func(p *BookParams) { p.VisitDate = time.Time{} }},
		{"bad mode", func(p *BookParams) { p.Mode = "virtual" }},
		{"nil doctor", func(p *BookParams) { p.DoctorID = uuid.Nil }},
		{"nil patient", func(p *BookParams) { p.PatientID = uuid.Nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := bookParams(doctorID, patientID)
			tt.mutate(&p)
			_, err := svc.Book(context.Background(), p)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestBook_UnknownParties(t *testing.T) {
	svc, repo, doctorID, patientID := newTestService(t)

	_, err := svc.Book(context.Background(), bookParams(uuid.New(), patientID))
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	_, err = svc.Book(context.Background(), bookParams(doctorID, uuid.New()))
	assert.ErrorIs(t, err, ErrPatientNotFound)

	assert.Empty(t, repo.events, "no events for failed bookings")
}

func TestBook_SlotTaken(t *testing.T) {
	svc, repo, doctorID, patientID := newTestService(t)
	otherPatient := repo.addPatient()

	_, err := svc.Book(context.Background(), bookParams(doctorID, patientID))
	require.NoError(t, err)

	_, err = svc.Book(context.Background(), bookParams(doctorID, otherPatient))
	assert.ErrorIs(t, err, ErrSlotTaken)

	// A different slot label on the same day is fine.
	p := bookParams(doctorID, otherPatient)
	p.SlotLabel = "10:30 AM"
	_, err = svc.Book(context.Background(), p)
	assert.NoError(t, err)
}

func TestBook_ConcurrentSameSlot(t *testing.T) {
	svc, repo, doctorID, _ := newTestService(t)

	const workers = 16
	patients := make([]uuid.UUID, workers)
	for i := range patients {
		patients[i] = repo.addPatient()
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Book(context.Background(), bookParams(doctorID, patients[i]))
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrSlotTaken)
	}
	assert.Equal(t, 1, successes, "exactly one booking must win")
}

func TestBook_CancelledSlotIsFree(t *testing.T) {
	svc, repo, doctorID, patientID := newTestService(t)

	appt, err := svc.Book(context.Background(), bookParams(doctorID, patientID))
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), appt.ID, patientID, RolePatient)
	require.NoError(t, err)

	otherPatient := repo.addPatient()
	_, err = svc.Book(context.Background(), bookParams(doctorID, otherPatient))
	assert.NoError(t, err, "cancelled booking frees the slot")
}

func TestUpdateStatus_Authorization(t *testing.T) {
	svc, repo, doctorID, patientID := newTestService(t)

	appt, err := svc.Book(context.Background(), bookParams(doctorID, patientID))
	require.NoError(t, err)

	// The patient may not complete an appointment.
	_, err = svc.UpdateStatus(context.Background(), UpdateParams{
		ID: appt.ID, ActorID: patientID, ActorRole: RolePatient, NewStatus: StatusCompleted,
	})
	assert.ErrorIs(t, err, ErrNotAllowed)

	// A stranger doctor may not either.
	_, err = svc.UpdateStatus(context.Background(), UpdateParams{
		ID: appt.ID, ActorID: repo.addDoctor(), ActorRole: RoleDoctor, NewStatus: StatusCompleted,
	})
	assert.ErrorIs(t, err, ErrNotAllowed)

	// The assigned doctor may.
	updated, err := svc.UpdateStatus(context.Background(), UpdateParams{
		ID: appt.ID, ActorID: doctorID, ActorRole: RoleDoctor, NewStatus: StatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
}

func TestUpdateStatus_AdminOverride(t *testing.T) {
	svc, _, doctorID, patientID := newTestService(t)

	appt, err := svc.Book(context.Background(), bookParams(doctorID, patientID))
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(context.Background(), UpdateParams{
		ID: appt.ID, ActorID: uuid.New(), ActorRole: RoleAdmin, NewStatus: StatusNoShow,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, updated.Status)
}

func TestUpdateStatus_TerminalIsSticky(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		t.Run(string(terminal), func(t *testing.T) {
			svc, _, doctorID, patientID := newTestService(t)

			appt, err := svc.Book(context.Background(), bookParams(doctorID, patientID))
			require.NoError(t, err)

			_, err = svc.UpdateStatus(context.Background(), UpdateParams{
				ID: appt.ID, ActorID: doctorID, ActorRole: RoleDoctor, NewStatus: terminal,
			})
			require.NoError(t, err)

			for _, next := range []Status{StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow} {
				_, err = svc.UpdateStatus(context.Background(), UpdateParams{
					ID: appt.ID, ActorID: doctorID, ActorRole: RoleDoctor, NewStatus: next,
				})
				assert.ErrorIs(t, err, ErrStatusFinal)
			}
		})
	}
}

func TestUpdateStatus_ScheduledToScheduledRejected(t *testing.T) {
	svc, _, doctorID, patientID := newTestService(t)

	appt, err := svc.Book(context.Background(), bookParams(doctorID, patientID))
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), UpdateParams{
		ID: appt.ID, ActorID: doctorID, ActorRole: RoleDoctor, NewStatus: StatusScheduled,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateStatus_MergesDetails(t *testing.T) {
	svc, _, doctorID, patientID := newTestService(t)

	appt, err := svc.Book(context.Background(), bookParams(doctorID, patientID))
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(context.Background(), UpdateParams{
		ID: appt.ID, ActorID: doctorID, ActorRole: RoleDoctor,
		Notes: "bring previous labs", JoinLink: "https://meet.example/abc",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, updated.Status, "status untouched when not requested")
	assert.Equal(t, "bring previous labs", updated.Notes)

	// Empty incoming fields keep existing values.
	updated, err = svc.UpdateStatus(context.Background(), UpdateParams{
		ID: appt.ID, ActorID: doctorID, ActorRole: RoleDoctor, JoinLink: "https://meet.example/xyz",
	})
	require.NoError(t, err)
	assert.Equal(t, "bring previous labs", updated.Notes)
	assert.Equal(t, "https://meet.example/xyz", updated.JoinLink)
}

func TestCancel_Authorization(t *testing.T) {
	svc, repo, doctorID, patientID := newTestService(t)

	appt, err := svc.Book(context.Background(), bookParams(doctorID, patientID))
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), appt.ID, repo.addPatient(), RolePatient)
	assert.ErrorIs(t, err, ErrNotAllowed)

	updated, err := svc.Cancel(context.Background(), appt.ID, patientID, RolePatient)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)
}

func TestMarkNoShows(t *testing.T) {
	svc, repo, doctorID, patientID := newTestService(t)

	old := bookParams(doctorID, patientID)
	old.VisitDate = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	stale, err := svc.Book(context.Background(), old)
	require.NoError(t, err)

	fresh := bookParams(doctorID, repo.addPatient())
	fresh.VisitDate = time.Now().UTC().Truncate(24 * time.Hour).Add(48 * time.Hour)
	upcoming, err := svc.Book(context.Background(), fresh)
	require.NoError(t, err)

	marked, err := svc.MarkNoShows(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	got, _ := svc.Get(context.Background(), stale.ID)
	assert.Equal(t, StatusNoShow, got.Status)

	got, _ = svc.Get(context.Background(), upcoming.ID)
	assert.Equal(t, StatusScheduled, got.Status)
}
