package models

// Status is the classification outcome of one media item
type Status string

const (
	StatusUnset      Status = ""           // Zero value = unset/unknown
	StatusSuccessful Status = "SUCCESSFUL" // Downloaded, awaiting classification (transient)
	StatusSkipped    Status = "SKIPPED"    // Never fetched (resolver verdict)
	StatusException  Status = "EXCEPTION"  // Fetch failed
	StatusUseful     Status = "USEFUL"     // Passed quality filter
	StatusFiltered   Status = "FILTERED"   // Failed dimension/aspect predicate
	StatusCorrupt    Status = "CORRUPT"    // File could not be decoded
	StatusMissing    Status = "MISSING"    // No record and no file anywhere
)

// String implements fmt.Stringer for logging
func (s Status) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known value
func (s Status) IsValid() bool {
	switch s {
	case StatusSuccessful, StatusSkipped, StatusException, StatusUseful,
		StatusFiltered, StatusCorrupt, StatusMissing:
		return true
	}
	return false
}

// IsTerminal reports whether no later stage will change the status.
// SUCCESSFUL is the only non-terminal status.
func (s Status) IsTerminal() bool {
	return s.IsValid() && s != StatusSuccessful
}

// HasFile reports whether items with this status own a file on disk.
func (s Status) HasFile() bool {
	switch s {
	case StatusSuccessful, StatusUseful, StatusFiltered, StatusCorrupt:
		return true
	}
	return false
}

// AllStatuses lists every valid status in reconciliation precedence order.
func AllStatuses() []Status {
	return []Status{
		StatusUseful, StatusSuccessful, StatusSkipped, StatusException,
		StatusFiltered, StatusCorrupt, StatusMissing,
	}
}
