package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/issue-tracker/internal/domain"
)

// IssueFilter captures listing parameters. All predicate fields are
// optional; provided fields combine as a conjunction.
type IssueFilter struct {
	Search    *string
	Status    *domain.IssueStatus
	Priority  *domain.IssuePriority
	Severity  *domain.IssueSeverity
	CreatedBy *string
	SortBy    string
	Order     string
	Limit     int
	Offset    int
}

// IssueRepository encapsulates issue persistence.
type IssueRepository interface {
	Create(ctx context.Context, issue *domain.Issue) error
	Update(ctx context.Context, issue *domain.Issue) error
	GetByID(ctx context.Context, id string) (*domain.Issue, error)
	Delete(ctx context.Context, id string) error
	ListWithFilter(ctx context.Context, filter IssueFilter) ([]domain.Issue, error)
	CountWithFilter(ctx context.Context, filter IssueFilter) (int, error)
	CountByStatus(ctx context.Context, ownerID string) (map[domain.IssueStatus]int, error)
}

type issueRepository struct {
	pool *pgxpool.Pool
}

// NewIssueRepository instantiates repository.
func NewIssueRepository(pool *pgxpool.Pool) IssueRepository {
	return &issueRepository{pool: pool}
}

const issueColumns = `i.id, i.title, i.description, i.status, i.priority, i.severity, i.created_by, u.name, u.email, i.created_at, i.updated_at`

const issueFrom = `issues i JOIN users u ON u.id = i.created_by`

func (r *issueRepository) Create(ctx context.Context, issue *domain.Issue) error {
	const query = `
        INSERT INTO issues (title, description, status, priority, severity, created_by)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at,
            (SELECT name FROM users WHERE id=$6),
            (SELECT email FROM users WHERE id=$6)`
	return r.pool.QueryRow(ctx, query,
		issue.Title,
		issue.Description,
		issue.Status,
		issue.Priority,
		issue.Severity,
		issue.CreatedBy,
	).Scan(&issue.ID, &issue.CreatedAt, &issue.UpdatedAt, &issue.OwnerName, &issue.OwnerEmail)
}

func (r *issueRepository) Update(ctx context.Context, issue *domain.Issue) error {
	const query = `
        UPDATE issues SET title=$1, description=$2, status=$3, priority=$4, severity=$5, updated_at=NOW()
        WHERE id=$6
        RETURNING updated_at`
	if err := r.pool.QueryRow(ctx, query,
		issue.Title,
		issue.Description,
		issue.Status,
		issue.Priority,
		issue.Severity,
		issue.ID,
	).Scan(&issue.UpdatedAt); err != nil {
		return err
	}
	return nil
}

func (r *issueRepository) GetByID(ctx context.Context, id string) (*domain.Issue, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE i.id=$1`, issueColumns, issueFrom)

	var issue domain.Issue
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&issue.ID,
		&issue.Title,
		&issue.Description,
		&issue.Status,
		&issue.Priority,
		&issue.Severity,
		&issue.CreatedBy,
		&issue.OwnerName,
		&issue.OwnerEmail,
		&issue.CreatedAt,
		&issue.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (r *issueRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM issues WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *issueRepository) ListWithFilter(ctx context.Context, filter IssueFilter) ([]domain.Issue, error) {
	where, args := buildIssueWhere(filter)
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT %d OFFSET %d`,
		issueColumns, issueFrom, where, buildIssueOrder(filter), filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIssues(rows)
}

func (r *issueRepository) CountWithFilter(ctx context.Context, filter IssueFilter) (int, error) {
	where, args := buildIssueWhere(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM issues i WHERE %s`, where)

	var total int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *issueRepository) CountByStatus(ctx context.Context, ownerID string) (map[domain.IssueStatus]int, error) {
	const query = `SELECT status, COUNT(*) FROM issues WHERE created_by=$1 GROUP BY status`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.IssueStatus]int)
	for rows.Next() {
		var status domain.IssueStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// buildIssueWhere composes the conjunction of all provided filter
// predicates. Count and list share the clause so the pair stays
// consistent modulo concurrent writes; columns carry the `i` alias
// because the list query joins users for the owner fields.
func buildIssueWhere(filter IssueFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatedBy != nil {
		args = append(args, *filter.CreatedBy)
		clauses = append(clauses, fmt.Sprintf("i.created_by=$%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("i.status=$%d", len(args)))
	}
	if filter.Priority != nil {
		args = append(args, *filter.Priority)
		clauses = append(clauses, fmt.Sprintf("i.priority=$%d", len(args)))
	}
	if filter.Severity != nil {
		args = append(args, *filter.Severity)
		clauses = append(clauses, fmt.Sprintf("i.severity=$%d", len(args)))
	}
	if filter.Search != nil && strings.TrimSpace(*filter.Search) != "" {
		args = append(args, strings.TrimSpace(*filter.Search))
		clauses = append(clauses, fmt.Sprintf(
			"to_tsvector('english', i.title || ' ' || i.description) @@ plainto_tsquery('english', $%d)", len(args)))
	}

	return strings.Join(clauses, " AND "), args
}

var issueSortColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"title":     "title",
	"status":    "status",
	"priority":  "priority",
}

// buildIssueOrder maps the requested sort onto whitelisted columns.
// A secondary id key keeps paging deterministic when sort keys collide.
func buildIssueOrder(filter IssueFilter) string {
	column, ok := issueSortColumns[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if strings.EqualFold(filter.Order, "asc") {
		direction = "ASC"
	}
	return fmt.Sprintf("i.%s %s, i.id ASC", column, direction)
}

func scanIssues(rows pgx.Rows) ([]domain.Issue, error) {
	var result []domain.Issue
	for rows.Next() {
		var issue domain.Issue
		if err := rows.Scan(
			&issue.ID,
			&issue.Title,
			&issue.Description,
			&issue.Status,
			&issue.Priority,
			&issue.Severity,
			&issue.CreatedBy,
			&issue.OwnerName,
			&issue.OwnerEmail,
			&issue.CreatedAt,
			&issue.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, issue)
	}
	return result, rows.Err()
}
