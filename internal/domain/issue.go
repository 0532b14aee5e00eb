package domain

import "time"

// IssueStatus enumerates lifecycle states for issues.
type IssueStatus string

const (
	IssueStatusOpen       IssueStatus = "Open"
	IssueStatusInProgress IssueStatus = "In Progress"
	IssueStatusResolved   IssueStatus = "Resolved"
	IssueStatusClosed     IssueStatus = "Closed"
)

// AllStatuses lists every status in reporting order. Closed is not
// terminal: any status may transition to any other, which is a product
// decision carried over from the existing tracker.
var AllStatuses = []IssueStatus{
	IssueStatusOpen,
	IssueStatusInProgress,
	IssueStatusResolved,
	IssueStatusClosed,
}

// Valid reports whether the status is one of the enumerated values.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusOpen, IssueStatusInProgress, IssueStatusResolved, IssueStatusClosed:
		return true
	}
	return false
}

// IssuePriority enumerates urgency.
type IssuePriority string

const (
	IssuePriorityLow      IssuePriority = "Low"
	IssuePriorityMedium   IssuePriority = "Medium"
	IssuePriorityHigh     IssuePriority = "High"
	IssuePriorityCritical IssuePriority = "Critical"
)

// Valid reports whether the priority is one of the enumerated values.
func (p IssuePriority) Valid() bool {
	switch p {
	case IssuePriorityLow, IssuePriorityMedium, IssuePriorityHigh, IssuePriorityCritical:
		return true
	}
	return false
}

// IssueSeverity enumerates impact. Severity is optional on an issue.
type IssueSeverity string

const (
	IssueSeverityMinor    IssueSeverity = "Minor"
	IssueSeverityMajor    IssueSeverity = "Major"
	IssueSeverityCritical IssueSeverity = "Critical"
)

// Valid reports whether the severity is one of the enumerated values.
func (s IssueSeverity) Valid() bool {
	switch s {
	case IssueSeverityMinor, IssueSeverityMajor, IssueSeverityCritical:
		return true
	}
	return false
}

// Issue is the aggregate for tracked work items. OwnerName and
// OwnerEmail are denormalized from the users table on every read so
// responses can identify the owner without a second lookup.
type Issue struct {
	ID          string
	Title       string
	Description string
	Status      IssueStatus
	Priority    IssuePriority
	Severity    *IssueSeverity
	CreatedBy   string
	OwnerName   string
	OwnerEmail  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StatusCounts aggregates issues per status for one owner. Every
// enumerated status is present, zero or not.
type StatusCounts struct {
	Counts map[IssueStatus]int
	Total  int
}
