package dto

import (
	"time"

	"github.com/spec-kit/issue-tracker/internal/domain"
)

// CreateIssueRequest payload.
type CreateIssueRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Priority    string `json:"priority" validate:"required"`
	Severity    string `json:"severity"`
	Status      string `json:"status"`
}

// UpdateIssueRequest carries a partial update; absent fields stay nil.
type UpdateIssueRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	Severity    *string `json:"severity"`
	Status      *string `json:"status"`
}

// IssueOwner identifies the user an issue belongs to.
type IssueOwner struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// IssueResponse is the public shape of an issue; createdBy is the
// populated owner, not a bare id.
type IssueResponse struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Status      domain.IssueStatus    `json:"status"`
	Priority    domain.IssuePriority  `json:"priority"`
	Severity    *domain.IssueSeverity `json:"severity,omitempty"`
	CreatedBy   IssueOwner            `json:"createdBy"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

// StatusCountsResponse reports per-status totals; every enumerated
// status is present even at zero.
type StatusCountsResponse struct {
	Open       int `json:"Open"`
	InProgress int `json:"In Progress"`
	Resolved   int `json:"Resolved"`
	Closed     int `json:"Closed"`
	Total      int `json:"total"`
}

// NewIssueResponse maps the domain model.
func NewIssueResponse(issue *domain.Issue) IssueResponse {
	return IssueResponse{
		ID:          issue.ID,
		Title:       issue.Title,
		Description: issue.Description,
		Status:      issue.Status,
		Priority:    issue.Priority,
		Severity:    issue.Severity,
		CreatedBy:   IssueOwner{ID: issue.CreatedBy, Name: issue.OwnerName, Email: issue.OwnerEmail},
		CreatedAt:   issue.CreatedAt,
		UpdatedAt:   issue.UpdatedAt,
	}
}

// NewIssueResponses maps a slice, always returning a non-nil slice so
// empty pages serialize as [].
func NewIssueResponses(issues []domain.Issue) []IssueResponse {
	items := make([]IssueResponse, 0, len(issues))
	for i := range issues {
		items = append(items, NewIssueResponse(&issues[i]))
	}
	return items
}

// NewStatusCountsResponse maps the aggregate.
func NewStatusCountsResponse(counts *domain.StatusCounts) StatusCountsResponse {
	return StatusCountsResponse{
		Open:       counts.Counts[domain.IssueStatusOpen],
		InProgress: counts.Counts[domain.IssueStatusInProgress],
		Resolved:   counts.Counts[domain.IssueStatusResolved],
		Closed:     counts.Counts[domain.IssueStatusClosed],
		Total:      counts.Total,
	}
}
