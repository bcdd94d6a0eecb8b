package model

import (
	"fmt"
	"time"
)

// RequestType defines the direction of a flexibility request.
type RequestType int

const (
	RequestIncrease RequestType = iota
	RequestDecrease
	RequestShift
)

// String returns a human-readable representation of the request type.
func (t RequestType) String() string {
	switch t {
	case RequestIncrease:
		return "INCREASE"
	case RequestDecrease:
		return "DECREASE"
	case RequestShift:
		return "SHIFT"
	default:
		return "unknown"
	}
}

// ParseRequestType converts a wire representation into a RequestType.
func ParseRequestType(s string) (RequestType, error) {
	switch s {
	case "INCREASE":
		return RequestIncrease, nil
	case "DECREASE":
		return RequestDecrease, nil
	case "SHIFT":
		return RequestShift, nil
	default:
		return 0, fmt.Errorf("unknown request type %q", s)
	}
}

// Priority ranks requests and grid signals. The ordinal order matters:
// subscription filters compare priorities numerically.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns a human-readable representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "unknown"
	}
}

// ParsePriority converts a wire representation into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "LOW":
		return PriorityLow, nil
	case "MEDIUM":
		return PriorityMedium, nil
	case "HIGH":
		return PriorityHigh, nil
	case "CRITICAL":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// RequestStatus tracks a flexibility request through its lifecycle.
type RequestStatus int

const (
	StatusPending RequestStatus = iota
	StatusAccepted
	StatusRejected
	StatusInProgress
	StatusCompleted
	StatusCancelled
)

// String returns a human-readable representation of the status.
func (s RequestStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusAccepted:
		return "ACCEPTED"
	case StatusRejected:
		return "REJECTED"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "unknown"
	}
}

// ParseRequestStatus converts a wire representation into a RequestStatus.
func ParseRequestStatus(s string) (RequestStatus, error) {
	switch s {
	case "PENDING":
		return StatusPending, nil
	case "ACCEPTED":
		return StatusAccepted, nil
	case "REJECTED":
		return StatusRejected, nil
	case "IN_PROGRESS":
		return StatusInProgress, nil
	case "COMPLETED":
		return StatusCompleted, nil
	case "CANCELLED":
		return StatusCancelled, nil
	default:
		return 0, fmt.Errorf("unknown request status %q", s)
	}
}

// Terminal returns true once a request can no longer change state.
func (s RequestStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether moving to the given status is a legal
// state machine transition. No transition re-enters a prior state.
func (s RequestStatus) CanTransition(to RequestStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusAccepted || to == StatusRejected
	case StatusAccepted:
		return to == StatusInProgress || to == StatusCancelled
	case StatusInProgress:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}

// FlexibilityRequest is a time-bound instruction to move an asset toward
// a target power level.
type FlexibilityRequest struct {
	ID            string
	AssetID       string
	Type          RequestType
	TargetPowerKW float64
	StartTime     time.Time
	EndTime       time.Time
	Priority      Priority
	Status        RequestStatus
	Reason        string
	Metadata      map[string]string
}

// Duration returns the length of the request window.
func (r FlexibilityRequest) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Overlaps reports whether two request windows intersect.
func (r FlexibilityRequest) Overlaps(start, end time.Time) bool {
	return r.StartTime.Before(end) && start.Before(r.EndTime)
}
