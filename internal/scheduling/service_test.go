package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-scheduling/internal/auth"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
)

// Wednesday noon UTC.
var testNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func testConfig() config.Config {
	return config.Config{
		BookingLeadTime:  2 * time.Hour,
		TxMaxAttempts:    5,
		TxBackoffInitial: time.Millisecond,
		TxBackoffMax:     5 * time.Millisecond,
		SlotBatchSize:    config.MaxSlotBatchSize,
		GenerateMaxDays:  120,
		PaymentProviders: []string{"paypal", "stripe"},
	}
}

func newTestService(t *testing.T, repo Repository) *Service {
	t.Helper()
	return newTestServiceWithConfig(t, repo, testConfig())
}

func newTestServiceWithConfig(t *testing.T, repo Repository, cfg config.Config) *Service {
	t.Helper()
	return NewService(repo, cfg, logging.Discard(), WithClock(func() time.Time { return testNow }))
}

func newTestServiceAt(t *testing.T, repo Repository, now time.Time) *Service {
	t.Helper()
	return NewService(repo, testConfig(), logging.Discard(), WithClock(func() time.Time { return now }))
}

func patient(id string) auth.Identity {
	return auth.Identity{UserID: id, Role: auth.RolePatient}
}

func seedDoctor(repo *MemoryRepository) Doctor {
	d := Doctor{
		ID:                 "doc-1",
		FullName:           "Dra. Camila Soto",
		Specialty:          "cardiologia",
		Timezone:           "America/Santiago",
		DefaultSlotMinutes: 30,
		Active:             true,
	}
	repo.PutDoctor(d)
	return d
}

func seedOpenSlot(repo *MemoryRepository, start time.Time) Slot {
	s := Slot{
		ID:         SlotID("doc-1", start),
		DoctorID:   "doc-1",
		DoctorName: "Dra. Camila Soto",
		Specialty:  "cardiologia",
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
		Status:     SlotOpen,
		UpdatedAt:  testNow,
	}
	repo.PutSlot(s)
	return s
}

// bookedFixture seeds an open slot a day ahead and books it for p1.
func bookedFixture(t *testing.T) (*MemoryRepository, *Service, Slot, string) {
	t.Helper()
	repo := NewMemoryRepository()
	seedDoctor(repo)
	repo.PutPatient(Patient{ID: "p1", DisplayName: "Ana Rojas"})
	slot := seedOpenSlot(repo, testNow.Add(24*time.Hour))
	svc := newTestService(t, repo)

	apptID, err := svc.BookSlot(context.Background(), patient("p1"), slot.ID)
	require.NoError(t, err)
	return repo, svc, slot, apptID
}

func eventTypes(repo *MemoryRepository) []string {
	var out []string
	for _, ev := range repo.Events() {
		out = append(out, ev.EventType)
	}
	return out
}

func countEvents(repo *MemoryRepository, eventType string) int {
	n := 0
	for _, ev := range repo.Events() {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

// interferingRepo runs interfere once, after the transaction body and before
// its commit, to simulate a concurrent writer.
type interferingRepo struct {
	*MemoryRepository
	interfere func()
	calls     int
}

func (r *interferingRepo) InTx(ctx context.Context, fn TxFunc) error {
	r.calls++
	return r.MemoryRepository.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if f := r.interfere; f != nil {
			r.interfere = nil
			f()
		}
		return nil
	})
}
