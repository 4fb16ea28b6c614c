package pharma

import "errors"

var (
	// ErrActivityNotFound is returned when an activity id is unknown or inactive.
	ErrActivityNotFound = errors.New("pharma: activity not found")
	// ErrRepresentativeNotFound is returned when no representative matches.
	ErrRepresentativeNotFound = errors.New("pharma: representative not found")
	// ErrAppointmentNotFound is returned when an appointment id is unknown.
	ErrAppointmentNotFound = errors.New("pharma: appointment not found")
	// ErrStageNotFound is returned when an approval stage id is unknown.
	ErrStageNotFound = errors.New("pharma: approval stage not found")
	// ErrStateConflict is returned when a compare-and-set transition finds the row in another state.
	ErrStateConflict = errors.New("pharma: state conflict")
)
