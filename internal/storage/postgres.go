// Package storage persists generated links and link groups in PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/domain"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/logger"
)

// Unique constraint names from the generated_links migration. Insert errors
// are dispatched on these so a tag conflict and a token collision fail
// differently.
const (
	tokenConstraint = "generated_links_token_key"
	tagConstraint   = "generated_links_activity_id_tag_key"
	groupConstraint = "generated_link_groups_activity_id_name_key"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

// linkColumns is the column list every link query selects, in scan order.
const linkColumns = `id, activity_id, group_id, tag, token, link_type, status,
	created_by, created_at, used_at, used_by_participant_id, response_id, expires_at`

// Store manages generated link and group rows.
type Store struct {
	db  *sql.DB
	log logger.Logger
}

// NewStore creates a Store over the given database handle.
func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{db: db, log: log}
}

// ListFilter narrows a link listing. Zero values mean "no filter".
type ListFilter struct {
	ActivityID string
	Status     domain.Status
	GroupID    string
	// Search matches a substring of the tag.
	Search string
	Limit  int
	Offset int
}

// CreateLink inserts a new link row. Unique violations surface as
// domain.ErrDuplicateTag or domain.ErrDuplicateToken so batch generation can
// retry tokens and report tag conflicts per item.
func (s *Store) CreateLink(ctx context.Context, link *domain.Link) error {
	query := `
		INSERT INTO generated_links (
			id, activity_id, group_id, tag, token, link_type, status,
			created_by, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.ExecContext(ctx, query,
		link.ID,
		link.ActivityID,
		link.GroupID,
		link.Tag,
		link.Token,
		link.LinkType,
		link.Status,
		link.CreatedBy,
		link.CreatedAt,
		link.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err, tagConstraint) {
			return domain.ErrDuplicateTag
		}
		if isUniqueViolation(err, tokenConstraint) {
			return domain.ErrDuplicateToken
		}
		return fmt.Errorf("insert link: %w", err)
	}

	return nil
}

// LinkByToken fetches a link by its public token.
func (s *Store) LinkByToken(ctx context.Context, token string) (*domain.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM generated_links WHERE token = $1`
	return s.scanLink(s.db.QueryRowContext(ctx, query, token))
}

// LinkByID fetches a link by id, scoped to an activity.
func (s *Store) LinkByID(ctx context.Context, activityID, linkID string) (*domain.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM generated_links WHERE id = $1 AND activity_id = $2`
	return s.scanLink(s.db.QueryRowContext(ctx, query, linkID, activityID))
}

// LinksByIDs fetches the subset of the given link ids that exist within an
// activity, ordered by tag.
func (s *Store) LinksByIDs(ctx context.Context, activityID string, ids []string) ([]domain.Link, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + linkColumns + `
		FROM generated_links
		WHERE activity_id = $1 AND id = ANY($2)
		ORDER BY tag
	`

	rows, err := s.db.QueryContext(ctx, query, activityID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query links by ids: %w", err)
	}
	defer rows.Close()

	return collectLinks(rows)
}

// MarkUsed transitions a link from unused to used exactly once. The
// check-and-write is a single conditional UPDATE guarded on status and the
// expiry deadline, so two concurrent redemptions of the same token cannot
// both succeed and a link whose deadline passed after validation cannot be
// redeemed either: the loser sees zero rows affected and gets a conflict
// error describing the current state.
func (s *Store) MarkUsed(ctx context.Context, token string, participantID int64, responseID string, now time.Time) error {
	query := `
		UPDATE generated_links
		SET status = $1, used_at = $2, used_by_participant_id = $3, response_id = $4
		WHERE token = $5 AND status = $6 AND (expires_at IS NULL OR expires_at > $2)
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.StatusUsed, now, participantID, responseID, token, domain.StatusUnused)
	if err != nil {
		return fmt.Errorf("mark link used: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// The guard failed. Re-read the row to report why. An unused row here
	// means the deadline guard rejected it.
	link, err := s.LinkByToken(ctx, token)
	if err != nil {
		return err
	}
	if link.Status == domain.StatusUsed {
		return domain.ErrAlreadyUsed
	}
	return domain.ErrLinkUnavailable
}

// UpdateStatus sets a link's status directly (administrative override).
// Resetting to unused clears the redemption fields so the unused invariant
// holds again.
func (s *Store) UpdateStatus(ctx context.Context, activityID, linkID string, status domain.Status) error {
	var query string
	if status == domain.StatusUnused {
		query = `
			UPDATE generated_links
			SET status = $1, used_at = NULL, used_by_participant_id = NULL, response_id = NULL
			WHERE id = $2 AND activity_id = $3
		`
	} else {
		query = `
			UPDATE generated_links
			SET status = $1
			WHERE id = $2 AND activity_id = $3
		`
	}

	result, err := s.db.ExecContext(ctx, query, status, linkID, activityID)
	if err != nil {
		return fmt.Errorf("update link status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// DeleteLink hard-deletes a link. Used links are refused so redemption
// records survive; disable them instead.
func (s *Store) DeleteLink(ctx context.Context, activityID, linkID string) error {
	query := `
		DELETE FROM generated_links
		WHERE id = $1 AND activity_id = $2 AND status <> $3
	`

	result, err := s.db.ExecContext(ctx, query, linkID, activityID, domain.StatusUsed)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Nothing deleted: either the link does not exist or it is used.
	link, err := s.LinkByID(ctx, activityID, linkID)
	if err != nil {
		return err
	}
	if link.Status == domain.StatusUsed {
		return domain.ErrLinkUsedDelete
	}
	return domain.ErrNotFound
}

// ListLinks returns a page of links matching the filter, ordered by tag,
// along with the total match count for pagination.
func (s *Store) ListLinks(ctx context.Context, filter ListFilter) ([]domain.Link, int, error) {
	where, args := buildListWhere(filter)

	countQuery := `SELECT COUNT(*) FROM generated_links ` + where

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count links: %w", err)
	}

	query := fmt.Sprintf(`SELECT `+linkColumns+` FROM generated_links %s ORDER BY tag LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	links, err := collectLinks(rows)
	if err != nil {
		return nil, 0, err
	}

	return links, total, nil
}

// buildListWhere assembles the WHERE clause and arguments for ListLinks.
func buildListWhere(filter ListFilter) (string, []any) {
	clauses := []string{"activity_id = $1"}
	args := []any{filter.ActivityID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.GroupID != "" {
		args = append(args, filter.GroupID)
		clauses = append(clauses, fmt.Sprintf("group_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		clauses = append(clauses, fmt.Sprintf("tag ILIKE $%d", len(args)))
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

// GetOrCreateGroup returns the group with the given name for the activity,
// creating it if absent. The upsert keeps concurrent creations of the same
// name from racing.
func (s *Store) GetOrCreateGroup(ctx context.Context, activityID, name string, description *string) (*domain.Group, error) {
	query := `
		INSERT INTO generated_link_groups (id, activity_id, name, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (activity_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, activity_id, name, description, created_at
	`

	var group domain.Group
	err := s.db.QueryRowContext(ctx, query,
		newID(), activityID, name, description, time.Now(),
	).Scan(&group.ID, &group.ActivityID, &group.Name, &group.Description, &group.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert group: %w", err)
	}

	return &group, nil
}

// GroupByID fetches a group by id.
func (s *Store) GroupByID(ctx context.Context, groupID string) (*domain.Group, error) {
	query := `
		SELECT id, activity_id, name, description, created_at
		FROM generated_link_groups
		WHERE id = $1
	`

	var group domain.Group
	err := s.db.QueryRowContext(ctx, query, groupID).Scan(
		&group.ID, &group.ActivityID, &group.Name, &group.Description, &group.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query group: %w", err)
	}

	return &group, nil
}

// ListGroups returns an activity's groups ordered by name, with link counts
// derived from the link rows. Counts are never stored, so they cannot drift
// from the links themselves.
func (s *Store) ListGroups(ctx context.Context, activityID string) ([]domain.GroupWithCounts, error) {
	query := `
		SELECT g.id, g.activity_id, g.name, g.description, g.created_at,
		       COUNT(l.id) AS total_links,
		       COUNT(l.id) FILTER (WHERE l.status = 'used') AS used_links
		FROM generated_link_groups g
		LEFT JOIN generated_links l ON l.group_id = g.id
		WHERE g.activity_id = $1
		GROUP BY g.id, g.activity_id, g.name, g.description, g.created_at
		ORDER BY g.name
	`

	rows, err := s.db.QueryContext(ctx, query, activityID)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.GroupWithCounts
	for rows.Next() {
		var g domain.GroupWithCounts
		if err := rows.Scan(&g.ID, &g.ActivityID, &g.Name, &g.Description,
			&g.CreatedAt, &g.TotalLinks, &g.UsedLinks); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}

	return groups, nil
}

// CountByStatus returns the four-way status split for an activity's links in
// a single aggregate query.
func (s *Store) CountByStatus(ctx context.Context, activityID string) (total, unused, used, expired, disabled int, err error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'unused'),
		       COUNT(*) FILTER (WHERE status = 'used'),
		       COUNT(*) FILTER (WHERE status = 'expired'),
		       COUNT(*) FILTER (WHERE status = 'disabled')
		FROM generated_links
		WHERE activity_id = $1
	`

	err = s.db.QueryRowContext(ctx, query, activityID).Scan(&total, &unused, &used, &expired, &disabled)
	if err != nil {
		err = fmt.Errorf("count links by status: %w", err)
	}
	return total, unused, used, expired, disabled, err
}

// GroupUsage returns per-group totals and used counts for an activity's
// grouped links, ordered by group name.
func (s *Store) GroupUsage(ctx context.Context, activityID string) ([]domain.GroupStats, error) {
	query := `
		SELECT l.group_id, g.name,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE l.status = 'used') AS used
		FROM generated_links l
		JOIN generated_link_groups g ON g.id = l.group_id
		WHERE l.activity_id = $1 AND l.group_id IS NOT NULL
		GROUP BY l.group_id, g.name
		ORDER BY g.name
	`

	rows, err := s.db.QueryContext(ctx, query, activityID)
	if err != nil {
		return nil, fmt.Errorf("query group usage: %w", err)
	}
	defer rows.Close()

	var stats []domain.GroupStats
	for rows.Next() {
		var gs domain.GroupStats
		if err := rows.Scan(&gs.GroupID, &gs.GroupName, &gs.Total, &gs.Used); err != nil {
			return nil, fmt.Errorf("scan group usage: %w", err)
		}
		gs.Unused = gs.Total - gs.Used
		gs.UsagePercentage = domain.UsagePercentage(gs.Used, gs.Total)
		stats = append(stats, gs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group usage: %w", err)
	}

	return stats, nil
}

// scanLink scans a single link row, mapping sql.ErrNoRows to
// domain.ErrNotFound.
func (s *Store) scanLink(row *sql.Row) (*domain.Link, error) {
	var link domain.Link
	err := row.Scan(
		&link.ID,
		&link.ActivityID,
		&link.GroupID,
		&link.Tag,
		&link.Token,
		&link.LinkType,
		&link.Status,
		&link.CreatedBy,
		&link.CreatedAt,
		&link.UsedAt,
		&link.UsedByParticipantID,
		&link.ResponseID,
		&link.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan link: %w", err)
	}

	return &link, nil
}

// collectLinks drains a multi-row link result set.
func collectLinks(rows *sql.Rows) ([]domain.Link, error) {
	var links []domain.Link
	for rows.Next() {
		var link domain.Link
		if err := rows.Scan(
			&link.ID,
			&link.ActivityID,
			&link.GroupID,
			&link.Tag,
			&link.Token,
			&link.LinkType,
			&link.Status,
			&link.CreatedBy,
			&link.CreatedAt,
			&link.UsedAt,
			&link.UsedByParticipantID,
			&link.ResponseID,
			&link.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}

	return links, nil
}

// newID returns a fresh UUID string for new rows.
func newID() string {
	return uuid.New().String()
}

// isUniqueViolation reports whether err is a unique constraint violation on
// the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && pqErr.Constraint == constraint
}
