package scheduling

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type versioned[T any] struct {
	val T
	ver uint64
}

// MemoryRepository is an in-process Repository with optimistic concurrency:
// a transaction records the version of every document it reads and commit
// fails with ErrTxConflict if any of them changed meanwhile.
type MemoryRepository struct {
	mu       sync.Mutex
	version  uint64
	doctors  map[string]Doctor
	patients map[string]Patient
	slots    map[string]versioned[Slot]
	appts    map[string]versioned[Appointment]
	payments map[string]PaymentRecord
	events   []EventLog

	upsertCalls    int
	failUpsertFrom int
	failUpsertErr  error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:  make(map[string]Doctor),
		patients: make(map[string]Patient),
		slots:    make(map[string]versioned[Slot]),
		appts:    make(map[string]versioned[Appointment]),
		payments: make(map[string]PaymentRecord),
	}
}

// Seeding and inspection helpers.

func (r *MemoryRepository) PutDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctors[d.ID] = d
}

func (r *MemoryRepository) PutPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

func (r *MemoryRepository) PutSlot(s Slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version++
	r.slots[s.ID] = versioned[Slot]{val: cloneSlot(s), ver: r.version}
}

func (r *MemoryRepository) PutAppointment(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version++
	r.appts[a.ID] = versioned[Appointment]{val: cloneAppointment(a), ver: r.version}
}

func (r *MemoryRepository) Slot(id string) (Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.slots[id]
	return cloneSlot(v.val), ok
}

func (r *MemoryRepository) Appointment(id string) (Appointment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.appts[id]
	return cloneAppointment(v.val), ok
}

func (r *MemoryRepository) Slots() []Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Slot, 0, len(r.slots))
	for _, v := range r.slots {
		out = append(out, cloneSlot(v.val))
	}
	sortSlots(out)
	return out
}

func (r *MemoryRepository) Appointments() []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Appointment, 0, len(r.appts))
	for _, v := range r.appts {
		out = append(out, cloneAppointment(v.val))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLog(nil), r.events...)
}

// FailUpsertsFrom makes the n-th and later UpsertSlots calls (1-based) fail with err.
func (r *MemoryRepository) FailUpsertsFrom(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failUpsertFrom = n
	r.failUpsertErr = err
}

// Repository

func (r *MemoryRepository) InTx(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		repo:  r,
		reads: make(map[string]uint64),
		slots: make(map[string]Slot),
		appts: make(map[string]Appointment),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (r *MemoryRepository) GetDoctor(_ context.Context, id string) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) SaveAvailability(_ context.Context, tmpl AvailabilityTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[tmpl.DoctorID]
	if !ok {
		return ErrDoctorNotFound
	}
	d.Timezone = tmpl.Timezone
	d.DefaultSlotMinutes = tmpl.SlotMinutes
	d.WeeklyTemplate = tmpl.Weekly
	d.UpdatedAt = time.Now()
	r.doctors[d.ID] = d
	return nil
}

func (r *MemoryRepository) GetPatient(_ context.Context, id string) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) ListSpecialties(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	for _, d := range r.doctors {
		if !d.Active || d.Specialty == "" {
			continue
		}
		if _, ok := seen[d.Specialty]; ok {
			continue
		}
		seen[d.Specialty] = struct{}{}
		out = append(out, d.Specialty)
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRepository) ListDoctors(_ context.Context, specialty string) ([]Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Doctor
	for _, d := range r.doctors {
		if !d.Active {
			continue
		}
		if specialty != "" && !strings.EqualFold(d.Specialty, specialty) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) UpsertSlots(_ context.Context, slots []Slot) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.upsertCalls++
	if r.failUpsertFrom > 0 && r.upsertCalls >= r.failUpsertFrom {
		return 0, r.failUpsertErr
	}

	created := 0
	for _, s := range slots {
		r.version++
		if cur, ok := r.slots[s.ID]; ok {
			cur.val.DoctorName = s.DoctorName
			cur.val.Specialty = s.Specialty
			cur.ver = r.version
			r.slots[s.ID] = cur
			continue
		}
		r.slots[s.ID] = versioned[Slot]{val: cloneSlot(s), ver: r.version}
		created++
	}
	return created, nil
}

func (r *MemoryRepository) ListOpenSlots(_ context.Context, q SlotQuery) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Slot
	for _, v := range r.slots {
		s := v.val
		if s.Status != SlotOpen {
			continue
		}
		if q.DoctorID != "" && s.DoctorID != q.DoctorID {
			continue
		}
		if q.Specialty != "" && !strings.EqualFold(s.Specialty, q.Specialty) {
			continue
		}
		if s.StartTime.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && s.StartTime.After(q.To) {
			continue
		}
		out = append(out, cloneSlot(s))
	}
	sortSlots(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListAppointmentsByPatient(_ context.Context, patientID string, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, v := range r.appts {
		if v.val.PatientID == patientID {
			out = append(out, cloneAppointment(v.val))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) UpsertPaymentRecord(_ context.Context, rec PaymentRecord) (PaymentRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rec.Provider + "|" + rec.OrderID
	now := time.Now()
	cur, ok := r.payments[key]
	if ok {
		cur.Status = rec.Status
		cur.UpdatedAt = now
		r.payments[key] = cur
		return cur, false, nil
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	r.payments[key] = rec
	return rec, true, nil
}

func (r *MemoryRepository) ListApprovedPayments(_ context.Context, patientID string) ([]PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []PaymentRecord
	for _, p := range r.payments {
		if p.PatientID == patientID && p.Status == PaymentApproved {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendEvent(ev)
	return nil
}

func (r *MemoryRepository) appendEvent(ev EventLog) {
	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
}

// memTx buffers writes until commit and serves its own writes back to reads.
type memTx struct {
	repo   *MemoryRepository
	reads  map[string]uint64
	slots  map[string]Slot
	appts  map[string]Appointment
	events []EventLog
}

func (t *memTx) observe(key string, ver uint64) {
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = ver
	}
}

func (t *memTx) GetSlot(_ context.Context, id string) (*Slot, error) {
	if s, ok := t.slots[id]; ok {
		c := cloneSlot(s)
		return &c, nil
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	v, ok := t.repo.slots[id]
	t.observe("slot:"+id, v.ver)
	if !ok {
		return nil, ErrSlotNotFound
	}
	c := cloneSlot(v.val)
	return &c, nil
}

func (t *memTx) GetAppointment(_ context.Context, id string) (*Appointment, error) {
	if a, ok := t.appts[id]; ok {
		c := cloneAppointment(a)
		return &c, nil
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	v, ok := t.repo.appts[id]
	t.observe("appt:"+id, v.ver)
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	c := cloneAppointment(v.val)
	return &c, nil
}

func (t *memTx) FindAppointmentBySlotAndPatient(_ context.Context, slotID, patientID string) (*Appointment, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	var best *versioned[Appointment]
	for _, v := range t.repo.appts {
		if v.val.SlotID != slotID || v.val.PatientID != patientID {
			continue
		}
		if best == nil || v.val.CreatedAt.Before(best.val.CreatedAt) ||
			(v.val.CreatedAt.Equal(best.val.CreatedAt) && v.val.ID < best.val.ID) {
			v := v
			best = &v
		}
	}
	if best == nil {
		return nil, ErrAppointmentNotFound
	}
	t.observe("appt:"+best.val.ID, best.ver)
	if a, ok := t.appts[best.val.ID]; ok {
		c := cloneAppointment(a)
		return &c, nil
	}
	c := cloneAppointment(best.val)
	return &c, nil
}

func (t *memTx) HasApprovedPayment(_ context.Context, appointmentID, patientID string) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, p := range t.repo.payments {
		if p.AppointmentRef == appointmentID && p.PatientID == patientID && p.Status == PaymentApproved {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) SaveSlot(_ context.Context, s *Slot) error {
	t.slots[s.ID] = cloneSlot(*s)
	return nil
}

func (t *memTx) SaveAppointment(_ context.Context, a *Appointment) error {
	t.appts[a.ID] = cloneAppointment(*a)
	return nil
}

func (t *memTx) InsertEvent(_ context.Context, ev EventLog) error {
	t.events = append(t.events, ev)
	return nil
}

func (t *memTx) commit() error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, seen := range t.reads {
		var cur uint64
		switch {
		case strings.HasPrefix(key, "slot:"):
			cur = r.slots[strings.TrimPrefix(key, "slot:")].ver
		case strings.HasPrefix(key, "appt:"):
			cur = r.appts[strings.TrimPrefix(key, "appt:")].ver
		}
		if cur != seen {
			return ErrTxConflict
		}
	}

	for id, s := range t.slots {
		r.version++
		r.slots[id] = versioned[Slot]{val: s, ver: r.version}
	}
	for id, a := range t.appts {
		r.version++
		r.appts[id] = versioned[Appointment]{val: a, ver: r.version}
	}
	for _, ev := range t.events {
		r.appendEvent(ev)
	}
	return nil
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].StartTime.Equal(slots[j].StartTime) {
			return slots[i].StartTime.Before(slots[j].StartTime)
		}
		return slots[i].ID < slots[j].ID
	})
}

func cloneSlot(s Slot) Slot {
	if s.PatientID != nil {
		s.PatientID = strPtr(*s.PatientID)
	}
	return s
}

func cloneAppointment(a Appointment) Appointment {
	if a.RebookBlocked != nil {
		a.RebookBlocked = boolPtr(*a.RebookBlocked)
	}
	if a.CancelledAt != nil {
		a.CancelledAt = timePtr(*a.CancelledAt)
	}
	if a.ConfirmedAt != nil {
		a.ConfirmedAt = timePtr(*a.ConfirmedAt)
	}
	return a
}
