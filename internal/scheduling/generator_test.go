package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-scheduling/internal/auth"
)

var admin = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}

func startsOf(slots []Slot) []time.Time {
	out := make([]time.Time, len(slots))
	for i, s := range slots {
		out[i] = s.StartTime
	}
	return out
}

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestGenerateSlotsDSTWithinDay(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutDoctor(Doctor{
		ID:                 "doc-ny",
		FullName:           "Dr. Lee",
		Timezone:           "America/New_York",
		DefaultSlotMinutes: 30,
		WeeklyTemplate:     WeeklyTemplate{7: {{Start: "01:00", End: "04:00"}}},
		Active:             true,
	})
	svc := newTestServiceAt(t, repo, utc(2026, 1, 1, 0, 0))

	// 2026-03-08 is a Sunday; 02:00 EST jumps to 03:00 EDT.
	res, err := svc.GenerateSlots(context.Background(), admin, GenerateRequest{
		DoctorID: "doc-ny", FromDate: "2026-03-08", ToDate: "2026-03-08",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Created)

	assert.Equal(t, []time.Time{
		utc(2026, 3, 8, 6, 0),
		utc(2026, 3, 8, 6, 30),
		utc(2026, 3, 8, 7, 0),
		utc(2026, 3, 8, 7, 30),
	}, startsOf(repo.Slots()))
}

func TestGenerateSlotsDSTAcrossWeeks(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutDoctor(Doctor{
		ID:             "doc-ny",
		Timezone:       "America/New_York",
		WeeklyTemplate: WeeklyTemplate{1: {{Start: "09:00", End: "13:00"}}},
		Active:         true,
	})
	svc := newTestServiceAt(t, repo, utc(2026, 1, 1, 0, 0))

	res, err := svc.GenerateSlots(context.Background(), admin, GenerateRequest{
		DoctorID: "doc-ny", FromDate: "2026-03-02", ToDate: "2026-03-09", SlotMinutes: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, 16, res.Created)

	slots := repo.Slots()
	require.Len(t, slots, 16)
	assert.Equal(t, utc(2026, 3, 2, 14, 0), slots[0].StartTime, "EST is UTC-5")
	assert.Equal(t, utc(2026, 3, 2, 18, 0), slots[7].EndTime)
	assert.Equal(t, utc(2026, 3, 9, 13, 0), slots[8].StartTime, "EDT is UTC-4")
	assert.Equal(t, utc(2026, 3, 9, 17, 0), slots[15].EndTime)
}

func TestGenerateSlotsDefaultTemplateSantiago(t *testing.T) {
	repo := NewMemoryRepository()
	seedDoctor(repo)
	svc := newTestService(t, repo)

	_, err := svc.GenerateSlots(context.Background(), admin, GenerateRequest{
		DoctorID: "doc-1", FromDate: "2026-04-03", ToDate: "2026-04-06",
	})
	require.NoError(t, err)

	// Friday and Monday only, 16 slots each.
	slots := repo.Slots()
	require.Len(t, slots, 32)
	assert.Equal(t, utc(2026, 4, 3, 12, 0), slots[0].StartTime, "Friday is still on UTC-3")
	assert.Equal(t, utc(2026, 4, 6, 13, 0), slots[16].StartTime, "Monday is back on UTC-4")
	for _, s := range slots {
		assert.Equal(t, SlotOpen, s.Status)
		assert.Nil(t, s.PatientID)
		assert.Equal(t, "Dra. Camila Soto", s.DoctorName)
		assert.Equal(t, SlotID("doc-1", s.StartTime), s.ID)
	}
}

func TestGenerateSlotsIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	doctor := seedDoctor(repo)
	svc := newTestService(t, repo)
	req := GenerateRequest{DoctorID: "doc-1", FromDate: "2026-04-06", ToDate: "2026-04-10"}

	first, err := svc.GenerateSlots(context.Background(), admin, req)
	require.NoError(t, err)
	require.Equal(t, 80, first.Created)
	before := repo.Slots()

	held := before[3]
	held.Status = SlotRequested
	held.PatientID = strPtr("p1")
	repo.PutSlot(held)

	doctor.FullName = "Dra. Camila Soto Vera"
	repo.PutDoctor(doctor)

	second, err := svc.GenerateSlots(context.Background(), admin, req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)

	after := repo.Slots()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, "Dra. Camila Soto Vera", after[i].DoctorName)
	}
	got, _ := repo.Slot(held.ID)
	assert.Equal(t, SlotRequested, got.Status)
	require.NotNil(t, got.PatientID)
	assert.Equal(t, "p1", *got.PatientID)
}

func TestGenerateSlotsSkipsFinishedSlots(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutDoctor(Doctor{
		ID:             "doc-utc",
		Timezone:       "UTC",
		WeeklyTemplate: WeeklyTemplate{3: {{Start: "11:00", End: "13:00"}}},
		Active:         true,
	})
	svc := newTestService(t, repo)

	// testNow is Wednesday 12:00 UTC: 11:00 and 11:30 are over, 12:00 is not.
	res, err := svc.GenerateSlots(context.Background(), admin, GenerateRequest{
		DoctorID: "doc-utc", FromDate: "2026-04-01", ToDate: "2026-04-01", SlotMinutes: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, []time.Time{utc(2026, 4, 1, 12, 0), utc(2026, 4, 1, 12, 30)}, startsOf(repo.Slots()))
}

func TestGenerateSlotsDeduplicatesOverlappingBlocks(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutDoctor(Doctor{
		ID:       "doc-utc",
		Timezone: "UTC",
		WeeklyTemplate: WeeklyTemplate{1: {
			{Start: "09:00", End: "10:00"},
			{Start: "09:30", End: "10:30"},
		}},
		Active: true,
	})
	svc := newTestService(t, repo)

	res, err := svc.GenerateSlots(context.Background(), admin, GenerateRequest{
		DoctorID: "doc-utc", FromDate: "2026-04-06", ToDate: "2026-04-06", SlotMinutes: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)
}

func TestGenerateSlotsValidatesBeforeWriting(t *testing.T) {
	tests := []struct {
		name   string
		weekly WeeklyTemplate
		req    GenerateRequest
		want   error
		reason string
	}{
		{name: "bad date", req: GenerateRequest{DoctorID: "doc-1", FromDate: "06/04/2026", ToDate: "2026-04-10"}, reason: "invalid-date-range"},
		{name: "reversed range", req: GenerateRequest{DoctorID: "doc-1", FromDate: "2026-04-10", ToDate: "2026-04-06"}, reason: "invalid-date-range"},
		{name: "range too wide", req: GenerateRequest{DoctorID: "doc-1", FromDate: "2026-04-01", ToDate: "2027-04-01"}, reason: "invalid-date-range"},
		{name: "unknown doctor", req: GenerateRequest{DoctorID: "ghost", FromDate: "2026-04-06", ToDate: "2026-04-10"}, want: ErrUnknownDoctor},
		{name: "slot duration", req: GenerateRequest{DoctorID: "doc-1", FromDate: "2026-04-06", ToDate: "2026-04-10", SlotMinutes: 25}, reason: "invalid-slot-duration"},
		{
			name:   "inverted block",
			weekly: WeeklyTemplate{2: {{Start: "09:00", End: "12:00"}}, 3: {{Start: "10:00", End: "09:00"}}},
			req:    GenerateRequest{DoctorID: "doc-1", FromDate: "2026-04-06", ToDate: "2026-04-10"},
			reason: "invalid-block",
		},
		{
			name:   "malformed clock",
			weekly: WeeklyTemplate{1: {{Start: "9am", End: "12:00"}}},
			req:    GenerateRequest{DoctorID: "doc-1", FromDate: "2026-04-06", ToDate: "2026-04-10"},
			reason: "invalid-block",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemoryRepository()
			d := seedDoctor(repo)
			if tt.weekly != nil {
				d.WeeklyTemplate = tt.weekly
				repo.PutDoctor(d)
			}
			svc := newTestService(t, repo)

			_, err := svc.GenerateSlots(context.Background(), admin, tt.req)
			require.Error(t, err)
			assert.Equal(t, KindInvalidArgument, KindOf(err))
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			} else {
				assert.Equal(t, tt.reason, ReasonOf(err))
			}
			assert.Empty(t, repo.Slots())
		})
	}
}

func TestGenerateSlotsRejectsInactiveDoctor(t *testing.T) {
	repo := NewMemoryRepository()
	d := seedDoctor(repo)
	d.Active = false
	repo.PutDoctor(d)
	svc := newTestService(t, repo)

	_, err := svc.GenerateSlots(context.Background(), admin, GenerateRequest{DoctorID: "doc-1", FromDate: "2026-04-06", ToDate: "2026-04-06"})
	assert.ErrorIs(t, err, ErrDoctorProfileInvalid)
	assert.Equal(t, KindFailedPrecondition, KindOf(err))
}

func TestGenerateSlotsAuthorization(t *testing.T) {
	req := GenerateRequest{FromDate: "2026-04-06", ToDate: "2026-04-06"}

	tests := []struct {
		name     string
		caller   auth.Identity
		doctorID string
		want     error
	}{
		{name: "anonymous", caller: auth.Identity{}, doctorID: "doc-1", want: ErrUnauthenticated},
		{name: "patient", caller: patient("p1"), doctorID: "doc-1", want: ErrNotAllowed},
		{name: "reception", caller: auth.Identity{UserID: "r1", Role: auth.RoleReception}, doctorID: "doc-1", want: ErrNotAllowed},
		{name: "other doctor", caller: auth.Identity{UserID: "doc-2", Role: auth.RoleDoctor}, doctorID: "doc-1", want: ErrNotAllowed},
		{name: "doctor self implicit", caller: auth.Identity{UserID: "doc-1", Role: auth.RoleDoctor}},
		{name: "doctor self explicit", caller: auth.Identity{UserID: "doc-1", Role: auth.RoleDoctor}, doctorID: "doc-1"},
		{name: "admin", caller: admin, doctorID: "doc-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemoryRepository()
			seedDoctor(repo)
			svc := newTestService(t, repo)

			r := req
			r.DoctorID = tt.doctorID
			res, err := svc.GenerateSlots(context.Background(), tt.caller, r)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				assert.Empty(t, repo.Slots())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 16, res.Created)
		})
	}
}

func TestGenerateSlotsBatchFailureKeepsEarlierBatches(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutDoctor(Doctor{
		ID:             "doc-utc",
		Timezone:       "UTC",
		WeeklyTemplate: WeeklyTemplate{1: {{Start: "09:00", End: "14:00"}}},
		Active:         true,
	})
	cfg := testConfig()
	cfg.SlotBatchSize = 4
	svc := newTestServiceWithConfig(t, repo, cfg)
	req := GenerateRequest{DoctorID: "doc-utc", FromDate: "2026-04-06", ToDate: "2026-04-06", SlotMinutes: 30}

	errBoom := errors.New("write quota exceeded")
	repo.FailUpsertsFrom(2, errBoom)

	res, err := svc.GenerateSlots(context.Background(), admin, req)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 4, res.Created)
	assert.Len(t, repo.Slots(), 4)

	repo.FailUpsertsFrom(0, nil)
	res, err = svc.GenerateSlots(context.Background(), admin, req)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Created)
	assert.Len(t, repo.Slots(), 10)
}

func TestSlotAndAppointmentIDs(t *testing.T) {
	start := time.Date(2026, 4, 6, 9, 0, 0, 0, time.FixedZone("CLT", -4*3600))
	slotID := SlotID("doc-1", start)
	assert.Equal(t, "doc-1_20260406T1300Z", slotID)
	assert.Equal(t, "doc-1_20260406T1300Z_p1", AppointmentID(slotID, "p1"))
	assert.Equal(t, slotID, slotIDFromHint(AppointmentID(slotID, "p1"), "p1"))
	assert.Equal(t, "abc", slotIDFromHint("abc", ""))
}
