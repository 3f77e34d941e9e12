// Package homework turns raw homework status payloads into notification text.
//
// Everything here is pure: no I/O and no logging, so the engine decides what
// to do with every error.
package homework

// Record is one submission's current review status.
//
// Presence is tracked separately from the value so that an absent field can be
// told apart from an empty one.
type Record struct {
	Name      string
	Status    string
	HasName   bool
	HasStatus bool
}

// Response is a validated status payload.
type Response struct {
	// Homeworks is ordered as returned by the API (most recent first).
	Homeworks []Record
	// CurrentDate is the server generation time, valid when HasCurrentDate is set.
	CurrentDate    int64
	HasCurrentDate bool
}

// Latest returns the most recent record, if any.
func (r Response) Latest() (Record, bool) {
	if len(r.Homeworks) == 0 {
		return Record{}, false
	}
	return r.Homeworks[0], true
}

// ValidateOptions tunes payload validation.
type ValidateOptions struct {
	// AllowEmpty treats an empty top-level object as "no updates" instead of
	// a malformed response.
	AllowEmpty bool
}
