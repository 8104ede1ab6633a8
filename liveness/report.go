package liveness

import (
	"sort"
	"time"
)

// ProcessID identifies a monitored process.
type ProcessID string

type ReportKind int

const (
	// NoRegistrations means no process registered within the grace period.
	NoRegistrations ReportKind = iota + 1
	// Missing means at least one registered process did not ping during the last interval.
	Missing
)

func (k ReportKind) String() string {
	switch k {
	case NoRegistrations:
		return "no-registrations"
	case Missing:
		return "missing"
	default:
		return "unknown"
	}
}

// Report describes a detected liveness failure. Missing is empty for
// NoRegistrations and sorted otherwise.
type Report struct {
	Kind       ReportKind
	Missing    []ProcessID
	DetectedAt time.Time
}

func newNoRegistrations(at time.Time) Report {
	return Report{Kind: NoRegistrations, DetectedAt: at}
}

func newMissing(ids []ProcessID, at time.Time) Report {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return Report{Kind: Missing, Missing: ids, DetectedAt: at}
}

// Contains reports whether id is listed as missing.
func (r Report) Contains(id ProcessID) bool {
	i := sort.Search(len(r.Missing), func(i int) bool { return r.Missing[i] >= id })
	return i < len(r.Missing) && r.Missing[i] == id
}

// FailureHandler receives liveness failures. NotifyFailure runs on the
// monitor's check timeline and must return quickly.
type FailureHandler interface {
	NotifyFailure(Report)
}

// FailureHandlerFunc adapts a function to FailureHandler.
type FailureHandlerFunc func(Report)

func (f FailureHandlerFunc) NotifyFailure(r Report) { f(r) }
