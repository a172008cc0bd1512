package common

import "fmt"

// Status is the canonical order state. The only legal path is
// NEW -> PARTIALLY_FILLED -> FILLED|CANCELED; a venue may skip
// PARTIALLY_FILLED. FILLED and CANCELED are terminal.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled
}

// StatusTable maps one venue's raw status vocabulary to canonical statuses.
// Each venue package supplies its own finite table.
type StatusTable map[string]Status

// Normalize maps a raw venue status using the table. An unmapped value is a
// configuration error: the caller must reject the event rather than guess.
func (t StatusTable) Normalize(venueID, raw string) (Status, error) {
	s, ok := t[raw]
	if !ok {
		return "", fmt.Errorf("%w: venue %s reported unmapped status %q", ErrUnknownStatus, venueID, raw)
	}
	return s, nil
}
