// Package job contains the bulk-indexing request model and its state machine.
package job

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a job.
// Values are persisted as ordinals: append new values, never reorder.
type Status int

const (
	StatusQueued Status = iota
	StatusRunning
	StatusSuspended
	StatusCompleted
	StatusAborted
	StatusError
	StatusDeleted
)

var statusNames = [...]string{
	StatusQueued:    "QUEUED",
	StatusRunning:   "RUNNING",
	StatusSuspended: "SUSPENDED",
	StatusCompleted: "COMPLETED",
	StatusAborted:   "ABORTED",
	StatusError:     "ERROR",
	StatusDeleted:   "DELETED",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Valid reports whether s is a known status ordinal.
func (s Status) Valid() bool {
	return s >= 0 && int(s) < len(statusNames)
}

// Terminal reports whether no further processing happens in this state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAborted, StatusError, StatusDeleted:
		return true
	}
	return false
}

// ParseStatus converts a status name to a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown job status %q", name)
}

// IdentifierType tells how each entry of a job's identifier list is resolved.
type IdentifierType string

const (
	// IdentifierMRN is a patient medical record number.
	IdentifierMRN IdentifierType = "MRN"
	// IdentifierPatientID is a FHIR Patient resource id.
	IdentifierPatientID IdentifierType = "PATID"
	// IdentifierDocumentID is a FHIR DocumentReference resource id.
	IdentifierDocumentID IdentifierType = "DOCID"
)

// ParseIdentifierType converts a case-insensitive name to an IdentifierType.
func ParseIdentifierType(name string) (IdentifierType, error) {
	switch t := IdentifierType(strings.ToUpper(strings.TrimSpace(name))); t {
	case IdentifierMRN, IdentifierPatientID, IdentifierDocumentID:
		return t, nil
	}
	return "", fmt.Errorf("unknown identifier type %q", name)
}

// Action is an externally requested state change.
type Action string

const (
	ActionDelete  Action = "DELETE"
	ActionResume  Action = "RESUME"
	ActionSuspend Action = "SUSPEND"
	ActionAbort   Action = "ABORT"
	ActionRestart Action = "RESTART"
)

// ParseAction converts a case-insensitive name to an Action.
func ParseAction(name string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(name))); a {
	case ActionDelete, ActionResume, ActionSuspend, ActionAbort, ActionRestart:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", name)
}
