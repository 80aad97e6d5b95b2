package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/clinic-slot-scheduling/internal/auth"
)

const dateLayout = "2006-01-02"

type GenerateRequest struct {
	DoctorID    string // empty means the calling doctor
	FromDate    string // YYYY-MM-DD
	ToDate      string // YYYY-MM-DD, inclusive
	SlotMinutes int    // 0 means the template default
}

type GenerateResult struct {
	Created int `json:"created"`
}

// GenerateSlots expands the doctor's weekly template over the date range and
// upserts the result in bounded batches. Batches commit independently, so on
// error the returned result still reports what earlier batches created and
// re-running the same request is the recovery path.
func (s *Service) GenerateSlots(ctx context.Context, caller auth.Identity, req GenerateRequest) (GenerateResult, error) {
	if caller.UserID == "" {
		return GenerateResult{}, ErrUnauthenticated
	}

	doctorID := strings.TrimSpace(req.DoctorID)
	if doctorID == "" {
		if caller.Role != auth.RoleDoctor {
			return GenerateResult{}, invalidArgument("missing-doctor-id", "doctorId is required")
		}
		doctorID = caller.UserID
	}
	if !caller.IsAdmin() && !(caller.Role == auth.RoleDoctor && caller.UserID == doctorID) {
		return GenerateResult{}, ErrNotAllowed
	}

	from, to, err := parseDateRange(req.FromDate, req.ToDate, s.cfg.GenerateMaxDays)
	if err != nil {
		return GenerateResult{}, err
	}

	doctor, err := s.repo.GetDoctor(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return GenerateResult{}, ErrUnknownDoctor
		}
		return GenerateResult{}, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.Active {
		return GenerateResult{}, ErrDoctorProfileInvalid
	}

	tmpl := doctor.Availability()
	minutes := req.SlotMinutes
	if minutes == 0 {
		minutes = tmpl.SlotMinutes
	}
	if !ValidSlotMinutes(minutes) {
		return GenerateResult{}, invalidArgument("invalid-slot-duration", "slot duration %d is not one of 10, 15, 20, 30, 45, 60", minutes)
	}
	loc, err := time.LoadLocation(tmpl.Timezone)
	if err != nil {
		return GenerateResult{}, &Error{Kind: KindFailedPrecondition, Reason: ErrDoctorProfileInvalid.Reason,
			Message: fmt.Sprintf("doctor timezone %q: %v", tmpl.Timezone, err)}
	}

	slots, err := expandTemplate(doctor, tmpl.Weekly, loc, time.Duration(minutes)*time.Minute, from, to, s.now())
	if err != nil {
		return GenerateResult{}, err
	}

	var res GenerateResult
	batches := (len(slots) + s.cfg.SlotBatchSize - 1) / s.cfg.SlotBatchSize
	for i := 0; i < len(slots); i += s.cfg.SlotBatchSize {
		end := min(i+s.cfg.SlotBatchSize, len(slots))
		created, err := s.repo.UpsertSlots(ctx, slots[i:end])
		if err != nil {
			s.logger.Error("slot batch failed",
				"doctor_id", doctorID,
				"batch", i/s.cfg.SlotBatchSize+1,
				"batches", batches,
				"created_so_far", res.Created,
				"error", err,
			)
			s.metrics.AddSlotsCreated(res.Created)
			return res, fmt.Errorf("upsert slot batch %d/%d: %w", i/s.cfg.SlotBatchSize+1, batches, err)
		}
		res.Created += created
	}

	s.metrics.AddSlotsCreated(res.Created)
	s.logger.Info("slots generated",
		"doctor_id", doctorID,
		"from", req.FromDate,
		"to", req.ToDate,
		"candidates", len(slots),
		"created", res.Created,
	)
	return res, nil
}

func parseDateRange(fromRaw, toRaw string, maxDays int) (time.Time, time.Time, error) {
	from, err := time.ParseInLocation(dateLayout, strings.TrimSpace(fromRaw), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, invalidArgument("invalid-date-range", "fromDate %q is not YYYY-MM-DD", fromRaw)
	}
	to, err := time.ParseInLocation(dateLayout, strings.TrimSpace(toRaw), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, invalidArgument("invalid-date-range", "toDate %q is not YYYY-MM-DD", toRaw)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, invalidArgument("invalid-date-range", "toDate is before fromDate")
	}
	if days := int(to.Sub(from).Hours()/24) + 1; maxDays > 0 && days > maxDays {
		return time.Time{}, time.Time{}, invalidArgument("invalid-date-range", "range of %d days exceeds %d", days, maxDays)
	}
	return from, to, nil
}

// expandTemplate produces the candidate slots for every calendar date in
// [from, to]. Block boundaries are resolved against loc separately for each
// date; inside a block slots step in absolute time. Slots already over at now
// are skipped and duplicates from overlapping blocks are dropped.
func expandTemplate(doctor *Doctor, weekly WeeklyTemplate, loc *time.Location, step time.Duration, from, to, now time.Time) ([]Slot, error) {
	for wd, blocks := range weekly {
		if wd < 1 || wd > 7 {
			return nil, invalidArgument("invalid-weekday", "weekday %d out of range 1..7", wd)
		}
		for _, b := range blocks {
			if _, err := parseBlock(b); err != nil {
				return nil, invalidArgument("invalid-block", "weekday %d: %v", wd, err)
			}
		}
	}

	seen := make(map[string]struct{})
	var out []Slot
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		for _, b := range weekly[isoWeekday(day.Weekday())] {
			cr, _ := parseBlock(b)
			blockStart := time.Date(day.Year(), day.Month(), day.Day(), 0, cr.start, 0, 0, loc)
			blockEnd := time.Date(day.Year(), day.Month(), day.Day(), 0, cr.end, 0, 0, loc)

			for start := blockStart; !start.Add(step).After(blockEnd); start = start.Add(step) {
				end := start.Add(step)
				if !end.After(now) {
					continue
				}
				id := SlotID(doctor.ID, start)
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				out = append(out, Slot{
					ID:         id,
					DoctorID:   doctor.ID,
					DoctorName: doctor.FullName,
					Specialty:  doctor.Specialty,
					StartTime:  start.UTC(),
					EndTime:    end.UTC(),
					Status:     SlotOpen,
					UpdatedAt:  now,
				})
			}
		}
	}
	sortSlots(out)
	return out, nil
}
