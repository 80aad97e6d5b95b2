package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, newPgRepositoryWithPool(mock)
}

// anyArgs matches n positional arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var serializationFailure = &pgconn.PgError{Code: "40001", Message: "could not serialize access due to read/write dependencies"}

func TestPgInTxCommit(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectExec("UPDATE doctor_slots").
		WithArgs("s1", "requested", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs(EventAppointmentRequested, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.SaveSlot(ctx, &Slot{ID: "s1", Status: SlotRequested, PatientID: strPtr("p1"), UpdatedAt: testNow}); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, newEvent(EventAppointmentRequested, "s1_p1", map[string]any{"slot_id": "s1"}, nil, testNow))
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInTxMapsSerializationFailure(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectExec("UPDATE doctor_slots").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit().WillReturnError(serializationFailure)

	err := repo.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.SaveSlot(ctx, &Slot{ID: "s1", Status: SlotOpen})
	})
	assert.ErrorIs(t, err, ErrTxConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInTxRollsBackOnError(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT (.+) FROM doctor_slots WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := repo.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.GetSlot(ctx, "missing")
		return err
	})
	assert.ErrorIs(t, err, ErrSlotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInTxMapsStatementConflict(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(anyArgs(21)...).
		WillReturnError(serializationFailure)
	mock.ExpectRollback()

	err := repo.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.SaveAppointment(ctx, &Appointment{ID: "s1_p1", Status: StatusRequested, CreatedAt: testNow, UpdatedAt: testNow})
	})
	assert.ErrorIs(t, err, ErrTxConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSaveSlotMissingRow(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectExec("UPDATE doctor_slots").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := repo.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.SaveSlot(ctx, &Slot{ID: "gone", Status: SlotOpen})
	})
	assert.ErrorIs(t, err, ErrSlotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgHasApprovedPayment(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("s1_p1", "p1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	var found bool
	err := repo.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		var err error
		found, err = tx.HasApprovedPayment(ctx, "s1_p1", "p1")
		return err
	})
	require.NoError(t, err)
	assert.True(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpsertSlotsCountsInserted(t *testing.T) {
	mock, repo := newMockRepo(t)
	start := time.Date(2026, 4, 6, 12, 0, 0, 0, time.UTC)
	slots := []Slot{
		{ID: SlotID("doc-1", start), DoctorID: "doc-1", StartTime: start, EndTime: start.Add(30 * time.Minute)},
		{ID: SlotID("doc-1", start.Add(30*time.Minute)), DoctorID: "doc-1", StartTime: start.Add(30 * time.Minute), EndTime: start.Add(time.Hour)},
	}

	mock.ExpectQuery("INSERT INTO doctor_slots").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	created, err := repo.UpsertSlots(context.Background(), slots)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	created, err = repo.UpsertSlots(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpsertSlotsError(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery("INSERT INTO doctor_slots").
		WithArgs(anyArgs(6)...).
		WillReturnError(errors.New("statement timeout"))

	_, err := repo.UpsertSlots(context.Background(), []Slot{{ID: "s1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert doctor slots")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSaveAvailabilityUnknownDoctor(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectExec("UPDATE doctors").
		WithArgs("ghost", "UTC", 30, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.SaveAvailability(context.Background(), AvailabilityTemplate{DoctorID: "ghost", Timezone: "UTC", SlotMinutes: 30})
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetDoctorNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery("FROM doctors").WithArgs("ghost").WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetDoctor(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(&pgconn.PgError{Code: "40P01"}), ErrTxConflict)
	other := &pgconn.PgError{Code: "23505"}
	assert.Same(t, other, classify(other))
}

func TestPgListSpecialties(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery("SELECT DISTINCT specialty").
		WillReturnRows(pgxmock.NewRows([]string{"specialty"}).AddRow("cardiologia").AddRow("pediatria"))

	specialties, err := repo.ListSpecialties(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cardiologia", "pediatria"}, specialties)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListDoctorsBySpecialty(t *testing.T) {
	mock, repo := newMockRepo(t)
	cols := []string{"id", "full_name", "specialty", "timezone", "default_slot_mins", "weekly_template", "active", "created_at", "updated_at"}
	mock.ExpectQuery("FROM doctors").
		WithArgs("pediatria").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("doc-2", "Dr. Andres Bravo", "pediatria", "America/Santiago", 30, []byte(`{}`), true, testNow, testNow).
			AddRow("doc-1", "Dr. Tomas Vidal", "pediatria", "America/Santiago", 20, []byte(`{}`), true, testNow, testNow))

	doctors, err := repo.ListDoctors(context.Background(), "pediatria")
	require.NoError(t, err)
	require.Len(t, doctors, 2)
	assert.Equal(t, "doc-2", doctors[0].ID)
	assert.Equal(t, 20, doctors[1].DefaultSlotMinutes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListApprovedPayments(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()
	cols := []string{"id", "patient_id", "appointment_ref", "provider", "order_id", "amount", "status", "created_at", "updated_at"}
	mock.ExpectQuery("FROM payments").
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(id, "p1", "s1_p1", "paypal", "O-1", int64(25000), "approved", testNow, testNow))

	payments, err := repo.ListApprovedPayments(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, id, payments[0].ID)
	assert.Equal(t, PaymentApproved, payments[0].Status)
	assert.Equal(t, int64(25000), payments[0].Amount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListApprovedPaymentsError(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery("FROM payments").WithArgs("p1").WillReturnError(errors.New("connection reset"))

	_, err := repo.ListApprovedPayments(context.Background(), "p1")
	assert.ErrorContains(t, err, "query approved payments")
	require.NoError(t, mock.ExpectationsWereMet())
}
