package scheduling

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // timezone database for distroless images
)

const (
	DefaultTimezone    = "America/Santiago"
	DefaultSlotMinutes = 30
)

var allowedSlotMinutes = map[int]bool{10: true, 15: true, 20: true, 30: true, 45: true, 60: true}

// DefaultAvailability is the clinic's standard week: Monday to Friday,
// 09:00-13:00 and 14:00-18:00.
func DefaultAvailability(doctorID string) AvailabilityTemplate {
	weekly := make(WeeklyTemplate, 5)
	for wd := 1; wd <= 5; wd++ {
		weekly[wd] = []TimeBlock{{Start: "09:00", End: "13:00"}, {Start: "14:00", End: "18:00"}}
	}
	return AvailabilityTemplate{
		DoctorID:    doctorID,
		Timezone:    DefaultTimezone,
		SlotMinutes: DefaultSlotMinutes,
		Weekly:      weekly,
	}
}

func ValidSlotMinutes(m int) bool { return allowedSlotMinutes[m] }

// isoWeekday maps time.Weekday to 1 = Monday ... 7 = Sunday.
func isoWeekday(wd time.Weekday) int {
	if wd == time.Sunday {
		return 7
	}
	return int(wd)
}

// parseClock parses HH:MM into minutes after midnight. 24:00 is accepted.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return h*60 + m, nil
}

type clockRange struct{ start, end int }

func parseBlock(b TimeBlock) (clockRange, error) {
	start, err := parseClock(b.Start)
	if err != nil {
		return clockRange{}, err
	}
	end, err := parseClock(b.End)
	if err != nil {
		return clockRange{}, err
	}
	if end <= start {
		return clockRange{}, fmt.Errorf("block %s-%s ends before it starts", b.Start, b.End)
	}
	return clockRange{start: start, end: end}, nil
}

// ValidateTemplate checks a template before it is stored. Overlapping blocks
// within a day are rejected here even though generation would tolerate them.
func ValidateTemplate(tmpl AvailabilityTemplate) error {
	if _, err := time.LoadLocation(tmpl.Timezone); err != nil || tmpl.Timezone == "" {
		return invalidArgument("invalid-timezone", "unknown timezone %q", tmpl.Timezone)
	}
	if !ValidSlotMinutes(tmpl.SlotMinutes) {
		return invalidArgument("invalid-slot-duration", "slot duration %d is not one of 10, 15, 20, 30, 45, 60", tmpl.SlotMinutes)
	}
	for wd, blocks := range tmpl.Weekly {
		if wd < 1 || wd > 7 {
			return invalidArgument("invalid-weekday", "weekday %d out of range 1..7", wd)
		}
		ranges := make([]clockRange, 0, len(blocks))
		for _, b := range blocks {
			cr, err := parseBlock(b)
			if err != nil {
				return invalidArgument("invalid-block", "weekday %d: %v", wd, err)
			}
			ranges = append(ranges, cr)
		}
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })
		for i := 1; i < len(ranges); i++ {
			if ranges[i].start < ranges[i-1].end {
				return invalidArgument("overlapping-blocks", "weekday %d has overlapping blocks", wd)
			}
		}
	}
	return nil
}
