package scheduling

import (
	"strings"
	"time"
)

const slotTimeLayout = "20060102T1504Z"

// SlotID is deterministic in doctor and UTC start, so regenerating a range
// addresses the same documents.
func SlotID(doctorID string, start time.Time) string {
	return doctorID + "_" + start.UTC().Format(slotTimeLayout)
}

// AppointmentID allows at most one appointment per patient per slot.
func AppointmentID(slotID, patientID string) string {
	return slotID + "_" + patientID
}

// slotIDFromHint strips a trailing "_<patientID>" from a free-text appointment
// reference. Ids that themselves contain "_<patientID>" will be mis-split.
func slotIDFromHint(hint, patientID string) string {
	if patientID == "" {
		return hint
	}
	return strings.TrimSuffix(hint, "_"+patientID)
}
