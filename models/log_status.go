package models

import "fmt"

// LogStatus is the lifecycle state of a research log. It is stored and
// transmitted as its wire string, but all transition checks go through
// the typed constants below.
type LogStatus string

const (
	StatusDraft     LogStatus = "DRAFT"
	StatusSubmitted LogStatus = "SUBMITTED"
	StatusReturned  LogStatus = "RETURNED"
	StatusAccepted  LogStatus = "ACCEPTED"
	StatusDeclined  LogStatus = "DECLINED"
)

// ParseLogStatus converts a wire string into a LogStatus, rejecting
// anything outside the five defined states.
func ParseLogStatus(raw string) (LogStatus, error) {
	switch LogStatus(raw) {
	case StatusDraft, StatusSubmitted, StatusReturned, StatusAccepted, StatusDeclined:
		return LogStatus(raw), nil
	}
	return "", fmt.Errorf("unknown research log status %q", raw)
}

func (s LogStatus) String() string { return string(s) }

// Valid reports whether s is one of the five defined statuses.
func (s LogStatus) Valid() bool {
	_, err := ParseLogStatus(string(s))
	return err == nil
}

// Terminal reports whether no transition leaves s.
func (s LogStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusDeclined
}

// AllowedNext returns the statuses reachable from s. Terminal states
// return nil.
func (s LogStatus) AllowedNext() []LogStatus {
	switch s {
	case StatusDraft:
		return []LogStatus{StatusSubmitted}
	case StatusSubmitted:
		return []LogStatus{StatusReturned, StatusAccepted, StatusDeclined}
	case StatusReturned:
		return []LogStatus{StatusSubmitted}
	case StatusAccepted, StatusDeclined:
		return nil
	}
	return nil
}

// CanTransitionTo reports whether the edge s -> next exists in the
// lifecycle table.
func (s LogStatus) CanTransitionTo(next LogStatus) bool {
	for _, allowed := range s.AllowedNext() {
		if allowed == next {
			return true
		}
	}
	return false
}
