package store

import "fmt"

// NotFoundError is returned when a lookup misses.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*NotFoundError)
	return ok
}

// ConflictError is returned when a compare-and-swap on case status loses
// to a concurrent writer.
type ConflictError struct {
	CaseID   string
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("case %s status is %q, expected %q", e.CaseID, e.Actual, e.Expected)
}

// IsConflict returns true if the error indicates a lost status race.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ConflictError)
	return ok
}

// ClaimConflictError is returned when claiming an assignment that is
// already claimed.
type ClaimConflictError struct {
	AssignmentID string
	ClaimedBy    string
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("assignment %s already claimed by %s", e.AssignmentID, e.ClaimedBy)
}

// IsClaimConflict returns true if the error indicates a double claim.
func IsClaimConflict(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ClaimConflictError)
	return ok
}
