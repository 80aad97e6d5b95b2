package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the subset of *pgxpool.Pool the repository uses.
type pgxPool interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is shared by the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool pgxPool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return &PgRepository{pool: pool}
}

func newPgRepositoryWithPool(pool pgxPool) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// classify maps serialization failures to ErrTxConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected) {
		return fmt.Errorf("%w: %s", ErrTxConflict, pgErr.Message)
	}
	return err
}

// InTx runs fn in a SERIALIZABLE transaction. Postgres aborts the loser of a
// read-write race with 40001, which surfaces as ErrTxConflict.
func (r *PgRepository) InTx(ctx context.Context, fn TxFunc) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// Helpers

const doctorColumns = `id, full_name, specialty, timezone, default_slot_mins, weekly_template, active, created_at, updated_at`

const paymentColumns = `id, patient_id, appointment_ref, provider, order_id, amount, status, created_at, updated_at`

const slotColumns = `id, doctor_id, doctor_name, specialty, start_time, end_time, status, patient_id, updated_at`

const appointmentColumns = `id, slot_id, patient_id, doctor_id, doctor_name, specialty, start_time, end_time, status,
	patient_name, paid, payment_status, payment_id, paid_by, refund_requested, refund_status, rebook_blocked,
	created_at, updated_at, cancelled_at, confirmed_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var weekly []byte

	err := row.Scan(
		&d.ID,
		&d.FullName,
		&d.Specialty,
		&d.Timezone,
		&d.DefaultSlotMinutes,
		&weekly,
		&d.Active,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	if len(weekly) > 0 {
		if err := json.Unmarshal(weekly, &d.WeeklyTemplate); err != nil {
			return nil, fmt.Errorf("decode weekly template for %s: %w", d.ID, err)
		}
	}
	return &d, nil
}

func scanPayment(row pgx.Row) (*PaymentRecord, error) {
	var p PaymentRecord
	var status string

	err := row.Scan(
		&p.ID,
		&p.PatientID,
		&p.AppointmentRef,
		&p.Provider,
		&p.OrderID,
		&p.Amount,
		&status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = PaymentStatus(status)
	return &p, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.DisplayName,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var status string
	var patientID *string

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.DoctorName,
		&s.Specialty,
		&s.StartTime,
		&s.EndTime,
		&status,
		&patientID,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Status = SlotStatus(status)
	s.PatientID = patientID
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	var rebookBlocked *bool
	var cancelledAt, confirmedAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.SlotID,
		&a.PatientID,
		&a.DoctorID,
		&a.DoctorName,
		&a.Specialty,
		&a.StartTime,
		&a.EndTime,
		&status,
		&a.PatientName,
		&a.Paid,
		&a.PaymentStatus,
		&a.PaymentID,
		&a.PaidBy,
		&a.RefundRequested,
		&a.RefundStatus,
		&rebookBlocked,
		&a.CreatedAt,
		&a.UpdatedAt,
		&cancelledAt,
		&confirmedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	a.RebookBlocked = rebookBlocked
	a.CancelledAt = cancelledAt
	a.ConfirmedAt = confirmedAt
	return &a, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Repository

func (r *PgRepository) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) SaveAvailability(ctx context.Context, tmpl AvailabilityTemplate) error {
	weekly, err := json.Marshal(tmpl.Weekly)
	if err != nil {
		return fmt.Errorf("encode weekly template: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE doctors
		SET timezone = $2,
		    default_slot_mins = $3,
		    weekly_template = $4,
		    updated_at = now()
		WHERE id = $1
	`, tmpl.DoctorID, tmpl.Timezone, tmpl.SlotMinutes, weekly)
	if err != nil {
		return fmt.Errorf("update doctor availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *PgRepository) GetPatient(ctx context.Context, id string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, display_name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) ListSpecialties(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT specialty
		FROM doctors
		WHERE active AND specialty <> ''
		ORDER BY specialty
	`)
	if err != nil {
		return nil, fmt.Errorf("query specialties: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgRepository) ListDoctors(ctx context.Context, specialty string) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE active
		  AND ($1 = '' OR lower(specialty) = lower($1))
		ORDER BY full_name, id
	`, specialty)
	if err != nil {
		return nil, fmt.Errorf("query doctors: %w", err)
	}
	return collect(rows, scanDoctor)
}

// UpsertSlots writes the batch in one statement. Existing rows only get the
// doctor snapshot refreshed; xmax = 0 identifies freshly inserted rows.
func (r *PgRepository) UpsertSlots(ctx context.Context, slots []Slot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}

	ids := make([]string, len(slots))
	doctorIDs := make([]string, len(slots))
	names := make([]string, len(slots))
	specialties := make([]string, len(slots))
	starts := make([]time.Time, len(slots))
	ends := make([]time.Time, len(slots))
	for i, s := range slots {
		ids[i] = s.ID
		doctorIDs[i] = s.DoctorID
		names[i] = s.DoctorName
		specialties[i] = s.Specialty
		starts[i] = s.StartTime
		ends[i] = s.EndTime
	}

	var created int
	err := r.pool.QueryRow(ctx, `
		WITH upserted AS (
			INSERT INTO doctor_slots (id, doctor_id, doctor_name, specialty, start_time, end_time, status, updated_at)
			SELECT id, doctor_id, doctor_name, specialty, start_time, end_time, 'open', now()
			FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::timestamptz[], $6::timestamptz[])
				AS t(id, doctor_id, doctor_name, specialty, start_time, end_time)
			ON CONFLICT (id) DO UPDATE
			SET doctor_name = EXCLUDED.doctor_name,
			    specialty = EXCLUDED.specialty
			RETURNING (xmax = 0) AS inserted
		)
		SELECT count(*) FILTER (WHERE inserted) FROM upserted
	`, ids, doctorIDs, names, specialties, starts, ends).Scan(&created)
	if err != nil {
		return 0, fmt.Errorf("upsert doctor slots: %w", err)
	}
	return created, nil
}

func (r *PgRepository) ListOpenSlots(ctx context.Context, q SlotQuery) ([]Slot, error) {
	var to *time.Time
	if !q.To.IsZero() {
		to = &q.To
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM doctor_slots
		WHERE status = 'open'
		  AND start_time >= $1
		  AND ($2::timestamptz IS NULL OR start_time <= $2)
		  AND ($3 = '' OR doctor_id = $3)
		  AND ($4 = '' OR lower(specialty) = lower($4))
		ORDER BY start_time, id
		LIMIT $5
	`, q.From, to, q.DoctorID, q.Specialty, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query open slots: %w", err)
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID string, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time DESC, id
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query patient appointments: %w", err)
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) UpsertPaymentRecord(ctx context.Context, rec PaymentRecord) (PaymentRecord, bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	var saved PaymentRecord
	var status string
	var created bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payments (id, patient_id, appointment_ref, provider, order_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (provider, order_id) DO UPDATE
		SET status = EXCLUDED.status,
		    updated_at = now()
		RETURNING id, patient_id, appointment_ref, provider, order_id, amount, status, created_at, updated_at, (xmax = 0)
	`, rec.ID, rec.PatientID, rec.AppointmentRef, rec.Provider, rec.OrderID, rec.Amount, string(rec.Status)).Scan(
		&saved.ID,
		&saved.PatientID,
		&saved.AppointmentRef,
		&saved.Provider,
		&saved.OrderID,
		&saved.Amount,
		&status,
		&saved.CreatedAt,
		&saved.UpdatedAt,
		&created,
	)
	if err != nil {
		return PaymentRecord{}, false, fmt.Errorf("upsert payment record: %w", err)
	}
	saved.Status = PaymentStatus(status)
	return saved, created, nil
}

func (r *PgRepository) ListApprovedPayments(ctx context.Context, patientID string) ([]PaymentRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE patient_id = $1 AND status = 'approved'
		ORDER BY created_at DESC, id
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query approved payments: %w", err)
	}
	return collect(rows, scanPayment)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	return insertEvent(ctx, r.pool, ev)
}

func insertEvent(ctx context.Context, q querier, ev EventLog) error {
	_, err := q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Transaction

type pgTx struct {
	q querier
}

func (t *pgTx) GetSlot(ctx context.Context, id string) (*Slot, error) {
	row := t.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM doctor_slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (t *pgTx) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (t *pgTx) FindAppointmentBySlotAndPatient(ctx context.Context, slotID, patientID string) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE slot_id = $1 AND patient_id = $2
		ORDER BY created_at, id
		LIMIT 1
	`, slotID, patientID)
	return scanAppointment(row)
}

func (t *pgTx) HasApprovedPayment(ctx context.Context, appointmentID, patientID string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payments
			WHERE appointment_ref = $1 AND patient_id = $2 AND status = 'approved'
		)
	`, appointmentID, patientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup approved payment: %w", err)
	}
	return exists, nil
}

func (t *pgTx) SaveSlot(ctx context.Context, s *Slot) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE doctor_slots
		SET status = $2,
		    patient_id = $3,
		    updated_at = $4
		WHERE id = $1
	`, s.ID, string(s.Status), s.PatientID, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (t *pgTx) SaveAppointment(ctx context.Context, a *Appointment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    patient_name = EXCLUDED.patient_name,
		    paid = EXCLUDED.paid,
		    payment_status = EXCLUDED.payment_status,
		    payment_id = EXCLUDED.payment_id,
		    paid_by = EXCLUDED.paid_by,
		    refund_requested = EXCLUDED.refund_requested,
		    refund_status = EXCLUDED.refund_status,
		    rebook_blocked = EXCLUDED.rebook_blocked,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at,
		    cancelled_at = EXCLUDED.cancelled_at,
		    confirmed_at = EXCLUDED.confirmed_at
	`,
		a.ID, a.SlotID, a.PatientID, a.DoctorID, a.DoctorName, a.Specialty, a.StartTime, a.EndTime, string(a.Status),
		a.PatientName, a.Paid, a.PaymentStatus, a.PaymentID, a.PaidBy, a.RefundRequested, a.RefundStatus, a.RebookBlocked,
		a.CreatedAt, a.UpdatedAt, a.CancelledAt, a.ConfirmedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert appointment: %w", err)
	}
	return nil
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	return insertEvent(ctx, t.q, ev)
}
