package service_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/issue-tracker/internal/domain"
	"github.com/spec-kit/issue-tracker/internal/repository"
	"github.com/spec-kit/issue-tracker/internal/service"
	apperrors "github.com/spec-kit/issue-tracker/pkg/util"
)

const ownerID = "3f2c8f9e-0000-4000-8000-000000000001"

func TestIssueServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults status to Open", func(t *testing.T) {
		repo := new(MockIssueRepository)
		repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Issue")).
			Run(func(args mock.Arguments) {
				issue := args.Get(1).(*domain.Issue)
				issue.ID = uuid.NewString()
			}).Return(nil).Once()

		svc := service.NewIssueService(repo, nil, nil)
		issue, err := svc.Create(ctx, ownerID, service.IssueCreateInput{
			Title:       "Login broken",
			Description: "Cannot log in with valid credentials",
			Priority:    "High",
		})
		require.NoError(t, err)

		assert.Equal(t, domain.IssueStatusOpen, issue.Status)
		assert.Equal(t, domain.IssuePriorityHigh, issue.Priority)
		assert.Nil(t, issue.Severity)
		assert.Equal(t, ownerID, issue.CreatedBy)
		repo.AssertExpectations(t)
	})

	t.Run("validation failures never reach the store", func(t *testing.T) {
		cases := map[string]service.IssueCreateInput{
			"short title":      {Title: "ab", Description: "long enough text", Priority: "High"},
			"short desc":       {Title: "valid title", Description: "short", Priority: "High"},
			"no priority":      {Title: "valid title", Description: "long enough text", Priority: ""},
			"bad priority":     {Title: "valid title", Description: "long enough text", Priority: "Urgent"},
			"bad severity":     {Title: "valid title", Description: "long enough text", Priority: "High", Severity: "Blocker"},
			"bad status":       {Title: "valid title", Description: "long enough text", Priority: "High", Status: "Pending"},
			"lowercase status": {Title: "valid title", Description: "long enough text", Priority: "High", Status: "open"},
		}
		for name, input := range cases {
			t.Run(name, func(t *testing.T) {
				repo := new(MockIssueRepository)
				svc := service.NewIssueService(repo, nil, nil)

				_, err := svc.Create(ctx, ownerID, input)
				require.Error(t, err)
				assert.Equal(t, "VALIDATION_FAILED", apperrors.ToDomainError(err).Code)
				repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("length bounds count runes, not bytes", func(t *testing.T) {
		repo := new(MockIssueRepository)
		repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Issue")).Return(nil).Twice()
		svc := service.NewIssueService(repo, nil, nil)

		// 200 two-byte runes: over the limit in bytes, exactly at it in runes.
		_, err := svc.Create(ctx, ownerID, service.IssueCreateInput{
			Title:       strings.Repeat("é", 200),
			Description: "Cannot log in with valid credentials",
			Priority:    "High",
		})
		require.NoError(t, err)

		// 10 two-byte runes meet the minimum even though bytes alone would too.
		_, err = svc.Create(ctx, ownerID, service.IssueCreateInput{
			Title:       "valid title",
			Description: strings.Repeat("é", 10),
			Priority:    "High",
		})
		require.NoError(t, err)

		// 2 two-byte runes: enough bytes, too few characters.
		_, err = svc.Create(ctx, ownerID, service.IssueCreateInput{
			Title:       strings.Repeat("é", 2),
			Description: "Cannot log in with valid credentials",
			Priority:    "High",
		})
		require.Error(t, err)
		assert.Equal(t, "VALIDATION_FAILED", apperrors.ToDomainError(err).Code)
		repo.AssertExpectations(t)
	})

	t.Run("explicit status and severity are kept", func(t *testing.T) {
		repo := new(MockIssueRepository)
		repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Issue")).Return(nil).Once()

		svc := service.NewIssueService(repo, nil, nil)
		issue, err := svc.Create(ctx, ownerID, service.IssueCreateInput{
			Title:       "  <b>Spaced title</b>  ",
			Description: "Cannot log in with valid credentials",
			Priority:    "Low",
			Severity:    "Major",
			Status:      "In Progress",
		})
		require.NoError(t, err)

		assert.Equal(t, "bSpaced title/b", issue.Title)
		assert.Equal(t, domain.IssueStatusInProgress, issue.Status)
		require.NotNil(t, issue.Severity)
		assert.Equal(t, domain.IssueSeverityMajor, *issue.Severity)
	})
}

func TestIssueServiceGet(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed id is not found", func(t *testing.T) {
		repo := new(MockIssueRepository)
		svc := service.NewIssueService(repo, nil, nil)

		_, err := svc.Get(ctx, "not-a-uuid")
		require.Error(t, err)
		assert.Equal(t, "NOT_FOUND", apperrors.ToDomainError(err).Code)
		repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	})

	t.Run("missing row is not found", func(t *testing.T) {
		id := uuid.NewString()
		repo := new(MockIssueRepository)
		repo.On("GetByID", mock.Anything, id).Return(nil, pgx.ErrNoRows).Once()

		svc := service.NewIssueService(repo, nil, nil)
		_, err := svc.Get(ctx, id)
		require.Error(t, err)
		assert.Equal(t, "NOT_FOUND", apperrors.ToDomainError(err).Code)
	})
}

func TestIssueServiceTransitions(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name   string
		target domain.IssueStatus
	}{
		{"resolve", domain.IssueStatusResolved},
		{"close", domain.IssueStatusClosed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			id := uuid.NewString()
			stored := &domain.Issue{
				ID: id, Title: "title", Description: "description..",
				Status: domain.IssueStatusClosed, Priority: domain.IssuePriorityLow,
				CreatedBy: ownerID,
			}
			repo := new(MockIssueRepository)
			repo.On("GetByID", mock.Anything, id).Return(stored, nil).Once()
			repo.On("Update", mock.Anything, mock.MatchedBy(func(issue *domain.Issue) bool {
				return issue.Status == tc.target
			})).Return(nil).Once()

			svc := service.NewIssueService(repo, nil, nil)
			var issue *domain.Issue
			var err error
			if tc.name == "resolve" {
				issue, err = svc.Resolve(ctx, ownerID, id)
			} else {
				issue, err = svc.Close(ctx, ownerID, id)
			}
			require.NoError(t, err)
			assert.Equal(t, tc.target, issue.Status)
			repo.AssertExpectations(t)
		})
	}
}

func TestIssueServiceUpdate(t *testing.T) {
	ctx := context.Background()
	id := uuid.NewString()

	newStored := func() *domain.Issue {
		return &domain.Issue{
			ID: id, Title: "original title", Description: "original description",
			Status: domain.IssueStatusOpen, Priority: domain.IssuePriorityMedium,
			CreatedBy: ownerID,
		}
	}

	t.Run("applies only supplied fields", func(t *testing.T) {
		repo := new(MockIssueRepository)
		repo.On("GetByID", mock.Anything, id).Return(newStored(), nil).Once()
		repo.On("Update", mock.Anything, mock.AnythingOfType("*domain.Issue")).Return(nil).Once()

		title := "changed title"
		svc := service.NewIssueService(repo, nil, nil)
		issue, err := svc.Update(ctx, ownerID, id, service.IssueUpdateInput{Title: &title})
		require.NoError(t, err)

		assert.Equal(t, "changed title", issue.Title)
		assert.Equal(t, "original description", issue.Description)
		assert.Equal(t, domain.IssuePriorityMedium, issue.Priority)
	})

	t.Run("reopening a closed issue is allowed", func(t *testing.T) {
		stored := newStored()
		stored.Status = domain.IssueStatusClosed
		repo := new(MockIssueRepository)
		repo.On("GetByID", mock.Anything, id).Return(stored, nil).Once()
		repo.On("Update", mock.Anything, mock.AnythingOfType("*domain.Issue")).Return(nil).Once()

		status := "Open"
		svc := service.NewIssueService(repo, nil, nil)
		issue, err := svc.Update(ctx, ownerID, id, service.IssueUpdateInput{Status: &status})
		require.NoError(t, err)
		assert.Equal(t, domain.IssueStatusOpen, issue.Status)
	})

	t.Run("invalid enum rejects before store write", func(t *testing.T) {
		repo := new(MockIssueRepository)
		repo.On("GetByID", mock.Anything, id).Return(newStored(), nil).Once()

		status := "Done"
		svc := service.NewIssueService(repo, nil, nil)
		_, err := svc.Update(ctx, ownerID, id, service.IssueUpdateInput{Status: &status})
		require.Error(t, err)
		assert.Equal(t, "VALIDATION_FAILED", apperrors.ToDomainError(err).Code)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}

func TestIssueServiceList(t *testing.T) {
	ctx := context.Background()

	t.Run("pagination metadata", func(t *testing.T) {
		repo := new(MockIssueRepository)
		repo.On("ListWithFilter", mock.Anything, mock.MatchedBy(func(f repository.IssueFilter) bool {
			return f.Limit == 10 && f.Offset == 10 && *f.CreatedBy == ownerID
		})).Return(make([]domain.Issue, 10), nil).Once()
		repo.On("CountWithFilter", mock.Anything, mock.Anything).Return(25, nil).Once()

		svc := service.NewIssueService(repo, nil, nil)
		issues, meta, err := svc.List(ctx, ownerID, service.IssueListFilter{Page: 2, Limit: 10})
		require.NoError(t, err)

		assert.Len(t, issues, 10)
		assert.Equal(t, 2, meta.Page)
		assert.Equal(t, 3, meta.TotalPages)
		assert.Equal(t, 25, meta.TotalItems)
		assert.Equal(t, 10, meta.ItemsPerPage)
		assert.True(t, meta.HasNextPage)
		assert.True(t, meta.HasPrevPage)
	})

	t.Run("last page has no next", func(t *testing.T) {
		repo := new(MockIssueRepository)
		repo.On("ListWithFilter", mock.Anything, mock.Anything).Return([]domain.Issue{}, nil).Once()
		repo.On("CountWithFilter", mock.Anything, mock.Anything).Return(25, nil).Once()

		svc := service.NewIssueService(repo, nil, nil)
		_, meta, err := svc.List(ctx, ownerID, service.IssueListFilter{Page: 3, Limit: 10})
		require.NoError(t, err)
		assert.False(t, meta.HasNextPage)
		assert.True(t, meta.HasPrevPage)
	})

	t.Run("limit is clamped", func(t *testing.T) {
		repo := new(MockIssueRepository)
		repo.On("ListWithFilter", mock.Anything, mock.MatchedBy(func(f repository.IssueFilter) bool {
			return f.Limit == 100
		})).Return([]domain.Issue{}, nil).Once()
		repo.On("CountWithFilter", mock.Anything, mock.Anything).Return(0, nil).Once()

		svc := service.NewIssueService(repo, nil, nil)
		_, _, err := svc.List(ctx, ownerID, service.IssueListFilter{Limit: 5000})
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("invalid filter enums fail validation, not empty result", func(t *testing.T) {
		repo := new(MockIssueRepository)
		svc := service.NewIssueService(repo, nil, nil)

		_, _, err := svc.List(ctx, ownerID, service.IssueListFilter{Status: "Unknown"})
		require.Error(t, err)
		assert.Equal(t, "VALIDATION_FAILED", apperrors.ToDomainError(err).Code)
		repo.AssertNotCalled(t, "ListWithFilter", mock.Anything, mock.Anything)
	})
}

func TestIssueServiceStatusCounts(t *testing.T) {
	ctx := context.Background()

	t.Run("zero-fills every status", func(t *testing.T) {
		repo := new(MockIssueRepository)
		repo.On("CountByStatus", mock.Anything, ownerID).
			Return(map[domain.IssueStatus]int{domain.IssueStatusOpen: 2, domain.IssueStatusClosed: 1}, nil).Once()

		svc := service.NewIssueService(repo, nil, nil)
		counts, err := svc.StatusCounts(ctx, ownerID)
		require.NoError(t, err)

		assert.Equal(t, 2, counts.Counts[domain.IssueStatusOpen])
		assert.Equal(t, 0, counts.Counts[domain.IssueStatusInProgress])
		assert.Equal(t, 0, counts.Counts[domain.IssueStatusResolved])
		assert.Equal(t, 1, counts.Counts[domain.IssueStatusClosed])
		assert.Equal(t, 3, counts.Total)
		assert.Len(t, counts.Counts, 4)
	})

	t.Run("cache hit skips the store", func(t *testing.T) {
		cached := domain.StatusCounts{
			Counts: map[domain.IssueStatus]int{domain.IssueStatusOpen: 5},
			Total:  5,
		}
		raw, err := json.Marshal(&cached)
		require.NoError(t, err)

		cache := new(MockCountsCache)
		cache.On("Get", mock.Anything, "issue-counts:"+ownerID).Return(string(raw), nil).Once()

		repo := new(MockIssueRepository)
		svc := service.NewIssueService(repo, cache, nil)
		counts, err := svc.StatusCounts(ctx, ownerID)
		require.NoError(t, err)

		assert.Equal(t, 5, counts.Total)
		repo.AssertNotCalled(t, "CountByStatus", mock.Anything, mock.Anything)
	})

	t.Run("miss populates cache", func(t *testing.T) {
		cache := new(MockCountsCache)
		cache.On("Get", mock.Anything, mock.Anything).Return("", assert.AnError).Once()
		cache.On("Set", mock.Anything, "issue-counts:"+ownerID, mock.Anything, mock.Anything).Return(nil).Once()

		repo := new(MockIssueRepository)
		repo.On("CountByStatus", mock.Anything, ownerID).
			Return(map[domain.IssueStatus]int{}, nil).Once()

		svc := service.NewIssueService(repo, cache, nil)
		counts, err := svc.StatusCounts(ctx, ownerID)
		require.NoError(t, err)
		assert.Equal(t, 0, counts.Total)
		cache.AssertExpectations(t)
	})
}

func TestIssueServiceDelete(t *testing.T) {
	ctx := context.Background()
	id := uuid.NewString()
	stored := &domain.Issue{ID: id, CreatedBy: ownerID, Status: domain.IssueStatusOpen}

	t.Run("success invalidates the counts cache", func(t *testing.T) {
		repo := new(MockIssueRepository)
		repo.On("GetByID", mock.Anything, id).Return(stored, nil).Once()
		repo.On("Delete", mock.Anything, id).Return(nil).Once()

		cache := new(MockCountsCache)
		cache.On("Del", mock.Anything, "issue-counts:"+ownerID).Return(nil).Once()

		svc := service.NewIssueService(repo, cache, nil)
		require.NoError(t, svc.Delete(ctx, ownerID, id))
		repo.AssertExpectations(t)
		cache.AssertExpectations(t)
	})

	t.Run("missing issue is not found", func(t *testing.T) {
		repo := new(MockIssueRepository)
		repo.On("GetByID", mock.Anything, id).Return(nil, pgx.ErrNoRows).Once()

		svc := service.NewIssueService(repo, nil, nil)
		err := svc.Delete(ctx, ownerID, id)
		require.Error(t, err)
		assert.Equal(t, "NOT_FOUND", apperrors.ToDomainError(err).Code)
	})
}
