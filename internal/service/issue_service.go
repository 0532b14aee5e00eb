package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/issue-tracker/internal/domain"
	"github.com/spec-kit/issue-tracker/internal/events"
	"github.com/spec-kit/issue-tracker/internal/repository"
	apperrors "github.com/spec-kit/issue-tracker/pkg/util"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	countsCacheTTL  = 30 * time.Second
)

// CountsCache caches status-count aggregates per owner. Implemented by
// persistence.Redis; may be nil, in which case every read hits the store.
type CountsCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// IssueCreateInput describes issue creation payload.
type IssueCreateInput struct {
	Title       string
	Description string
	Priority    string
	Severity    string
	Status      string
}

// IssueUpdateInput describes a partial update; nil fields are untouched.
type IssueUpdateInput struct {
	Title       *string
	Description *string
	Priority    *string
	Severity    *string
	Status      *string
}

// IssueListFilter carries raw listing parameters before domain
// validation.
type IssueListFilter struct {
	Search   string
	Status   string
	Priority string
	Severity string
	Page     int
	Limit    int
	SortBy   string
	Order    string
}

// Pagination describes the result envelope for a listing page.
type Pagination struct {
	Page         int  `json:"page"`
	TotalPages   int  `json:"totalPages"`
	TotalItems   int  `json:"totalItems"`
	ItemsPerPage int  `json:"itemsPerPage"`
	HasNextPage  bool `json:"hasNextPage"`
	HasPrevPage  bool `json:"hasPrevPage"`
}

// IssueService coordinates issue workflows.
type IssueService struct {
	issues     repository.IssueRepository
	cache      CountsCache
	dispatcher events.Dispatcher
}

// NewIssueService constructs the service.
func NewIssueService(issues repository.IssueRepository, cache CountsCache, dispatcher events.Dispatcher) *IssueService {
	return &IssueService{issues: issues, cache: cache, dispatcher: dispatcher}
}

// Create validates and persists a new issue owned by ownerID. Status
// defaults to Open when omitted.
func (s *IssueService) Create(ctx context.Context, ownerID string, input IssueCreateInput) (*domain.Issue, error) {
	issue := &domain.Issue{
		Title:       sanitize(input.Title),
		Description: sanitize(input.Description),
		Status:      domain.IssueStatusOpen,
		CreatedBy:   ownerID,
	}

	details := map[string]any{}
	if n := utf8.RuneCountInString(issue.Title); n < 3 || n > 200 {
		details["title"] = "title must be between 3 and 200 characters"
	}
	if utf8.RuneCountInString(issue.Description) < 10 {
		details["description"] = "description must be at least 10 characters"
	}
	priority := domain.IssuePriority(input.Priority)
	if !priority.Valid() {
		details["priority"] = "invalid priority value"
	}
	issue.Priority = priority
	if input.Severity != "" {
		severity := domain.IssueSeverity(input.Severity)
		if !severity.Valid() {
			details["severity"] = "invalid severity value"
		}
		issue.Severity = &severity
	}
	if input.Status != "" {
		status := domain.IssueStatus(input.Status)
		if !status.Valid() {
			details["status"] = "invalid status value"
		}
		issue.Status = status
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid issue payload", details)
	}

	if err := s.issues.Create(ctx, issue); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.invalidateCounts(ctx, ownerID)
	s.publish(ctx, events.Event{
		Type:    events.EventIssueCreated,
		IssueID: issue.ID,
		ActorID: ownerID,
		Payload: events.IssueCreatedPayload{
			Title:    issue.Title,
			Priority: issue.Priority,
			Status:   issue.Status,
		},
	})
	return issue, nil
}

// Get fetches one issue by id.
func (s *IssueService) Get(ctx context.Context, id string) (*domain.Issue, error) {
	return s.fetch(ctx, id)
}

// List returns one page of issues matching the filter, scoped to
// ownerID, together with pagination metadata. The page and the total
// count are fetched concurrently; a write landing between the two reads
// may skew the total by one entry, which is accepted.
func (s *IssueService) List(ctx context.Context, ownerID string, filter IssueListFilter) ([]domain.Issue, *Pagination, error) {
	repoFilter, page, limit, err := s.buildFilter(ownerID, filter)
	if err != nil {
		return nil, nil, err
	}

	var (
		issues []domain.Issue
		total  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		issues, err = s.issues.ListWithFilter(gctx, *repoFilter)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.issues.CountWithFilter(gctx, *repoFilter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, apperrors.MapError(err)
	}

	totalPages := (total + limit - 1) / limit
	meta := &Pagination{
		Page:         page,
		TotalPages:   totalPages,
		TotalItems:   total,
		ItemsPerPage: limit,
		HasNextPage:  page < totalPages,
		HasPrevPage:  page > 1,
	}
	return issues, meta, nil
}

// Update applies the supplied fields only. Owner and id are immutable
// through this path.
func (s *IssueService) Update(ctx context.Context, actorID, id string, input IssueUpdateInput) (*domain.Issue, error) {
	issue, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	details := map[string]any{}
	changed := []string{}
	oldStatus := issue.Status

	if input.Title != nil {
		title := sanitize(*input.Title)
		if n := utf8.RuneCountInString(title); n < 3 || n > 200 {
			details["title"] = "title must be between 3 and 200 characters"
		}
		issue.Title = title
		changed = append(changed, "title")
	}
	if input.Description != nil {
		description := sanitize(*input.Description)
		if utf8.RuneCountInString(description) < 10 {
			details["description"] = "description must be at least 10 characters"
		}
		issue.Description = description
		changed = append(changed, "description")
	}
	if input.Priority != nil {
		priority := domain.IssuePriority(*input.Priority)
		if !priority.Valid() {
			details["priority"] = "invalid priority value"
		}
		issue.Priority = priority
		changed = append(changed, "priority")
	}
	if input.Severity != nil {
		severity := domain.IssueSeverity(*input.Severity)
		if !severity.Valid() {
			details["severity"] = "invalid severity value"
		}
		issue.Severity = &severity
		changed = append(changed, "severity")
	}
	if input.Status != nil {
		status := domain.IssueStatus(*input.Status)
		if !status.Valid() {
			details["status"] = "invalid status value"
		}
		issue.Status = status
		changed = append(changed, "status")
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid issue payload", details)
	}

	if err := s.issues.Update(ctx, issue); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.invalidateCounts(ctx, issue.CreatedBy)
	if issue.Status != oldStatus {
		s.publish(ctx, events.Event{
			Type:    events.EventIssueStatusChanged,
			IssueID: issue.ID,
			ActorID: actorID,
			Payload: events.IssueStatusChangedPayload{OldStatus: oldStatus, NewStatus: issue.Status},
		})
	}
	s.publish(ctx, events.Event{
		Type:    events.EventIssueUpdated,
		IssueID: issue.ID,
		ActorID: actorID,
		Payload: events.IssueUpdatedPayload{Fields: changed},
	})
	return issue, nil
}

// Resolve sets status to Resolved regardless of the prior status.
func (s *IssueService) Resolve(ctx context.Context, actorID, id string) (*domain.Issue, error) {
	return s.transition(ctx, actorID, id, domain.IssueStatusResolved)
}

// Close sets status to Closed regardless of the prior status.
func (s *IssueService) Close(ctx context.Context, actorID, id string) (*domain.Issue, error) {
	return s.transition(ctx, actorID, id, domain.IssueStatusClosed)
}

// Delete permanently removes the issue.
func (s *IssueService) Delete(ctx context.Context, actorID, id string) error {
	issue, err := s.fetch(ctx, id)
	if err != nil {
		return err
	}
	if err := s.issues.Delete(ctx, issue.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("issue")
		}
		return apperrors.MapError(err)
	}

	s.invalidateCounts(ctx, issue.CreatedBy)
	s.publish(ctx, events.Event{
		Type:    events.EventIssueDeleted,
		IssueID: issue.ID,
		ActorID: actorID,
	})
	return nil
}

// StatusCounts aggregates issues per status for the owner. Every
// enumerated status is reported, zero included. Results are cached per
// owner and invalidated on every mutation for that owner.
func (s *IssueService) StatusCounts(ctx context.Context, ownerID string) (*domain.StatusCounts, error) {
	key := countsKey(ownerID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var cached domain.StatusCounts
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return &cached, nil
			}
		}
	}

	byStatus, err := s.issues.CountByStatus(ctx, ownerID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	result := &domain.StatusCounts{Counts: make(map[domain.IssueStatus]int, len(domain.AllStatuses))}
	for _, status := range domain.AllStatuses {
		result.Counts[status] = byStatus[status]
		result.Total += byStatus[status]
	}

	if s.cache != nil {
		if raw, err := json.Marshal(result); err == nil {
			_ = s.cache.Set(ctx, key, string(raw), countsCacheTTL)
		}
	}
	return result, nil
}

func (s *IssueService) transition(ctx context.Context, actorID, id string, target domain.IssueStatus) (*domain.Issue, error) {
	issue, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	oldStatus := issue.Status
	issue.Status = target
	if err := s.issues.Update(ctx, issue); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.invalidateCounts(ctx, issue.CreatedBy)
	s.publish(ctx, events.Event{
		Type:    events.EventIssueStatusChanged,
		IssueID: issue.ID,
		ActorID: actorID,
		Payload: events.IssueStatusChangedPayload{OldStatus: oldStatus, NewStatus: target},
	})
	return issue, nil
}

func (s *IssueService) fetch(ctx context.Context, id string) (*domain.Issue, error) {
	// A non-uuid id can never match a row; short-circuit before the
	// store rejects the cast.
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFound("issue")
	}
	issue, err := s.issues.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("issue")
		}
		return nil, apperrors.MapError(err)
	}
	return issue, nil
}

func (s *IssueService) buildFilter(ownerID string, filter IssueListFilter) (*repository.IssueFilter, int, int, error) {
	details := map[string]any{}
	repoFilter := repository.IssueFilter{CreatedBy: &ownerID}

	if filter.Status != "" {
		status := domain.IssueStatus(filter.Status)
		if !status.Valid() {
			details["status"] = "invalid status value"
		}
		repoFilter.Status = &status
	}
	if filter.Priority != "" {
		priority := domain.IssuePriority(filter.Priority)
		if !priority.Valid() {
			details["priority"] = "invalid priority value"
		}
		repoFilter.Priority = &priority
	}
	if filter.Severity != "" {
		severity := domain.IssueSeverity(filter.Severity)
		if !severity.Valid() {
			details["severity"] = "invalid severity value"
		}
		repoFilter.Severity = &severity
	}
	if len(details) > 0 {
		return nil, 0, 0, apperrors.NewValidationError("invalid filter values", details)
	}

	if filter.Search != "" {
		search := filter.Search
		repoFilter.Search = &search
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	repoFilter.SortBy = filter.SortBy
	repoFilter.Order = filter.Order
	repoFilter.Limit = limit
	repoFilter.Offset = (page - 1) * limit
	return &repoFilter, page, limit, nil
}

func (s *IssueService) invalidateCounts(ctx context.Context, ownerID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, countsKey(ownerID))
}

func (s *IssueService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func countsKey(ownerID string) string {
	return fmt.Sprintf("issue-counts:%s", ownerID)
}

var tagStripper = strings.NewReplacer("<", "", ">", "")

func sanitize(value string) string {
	return tagStripper.Replace(strings.TrimSpace(value))
}
