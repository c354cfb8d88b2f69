package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/domain"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/logger"
)

const (
	testActivityID = "a0000000-0000-0000-0000-000000000001"
	testLinkID     = "l0000000-0000-0000-0000-000000000001"
	testToken      = "dGVzdC10b2tlbi1vcGFxdWUtdXJsLXNhZmUtc3RyaW5n"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewStore(db, logger.NewNop()), mock
}

func linkRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "activity_id", "group_id", "tag", "token", "link_type", "status",
		"created_by", "created_at", "used_at", "used_by_participant_id",
		"response_id", "expires_at",
	})
}

func TestMarkUsed_Success(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE generated_links")).
		WithArgs(domain.StatusUsed, now, int64(42), "resp-1", testToken, domain.StatusUnused).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkUsed(context.Background(), testToken, 42, "resp-1", now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkUsed_AlreadyUsed(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now()
	usedAt := now.Add(-time.Hour)

	// Conditional update misses because the status guard fails.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE generated_links")).
		WithArgs(domain.StatusUsed, now, int64(42), "resp-2", testToken, domain.StatusUnused).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// The follow-up read finds the link already used.
	mock.ExpectQuery(regexp.QuoteMeta("FROM generated_links WHERE token =")).
		WithArgs(testToken).
		WillReturnRows(linkRows().AddRow(
			testLinkID, testActivityID, nil, "SPR-0001", testToken,
			domain.TypeRegistration, domain.StatusUsed,
			int64(1), now.Add(-2*time.Hour), usedAt, int64(7), "resp-1", nil,
		))

	err := store.MarkUsed(context.Background(), testToken, 42, "resp-2", now)
	assert.ErrorIs(t, err, domain.ErrAlreadyUsed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkUsed_Disabled(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE generated_links")).
		WithArgs(domain.StatusUsed, now, int64(42), "resp-1", testToken, domain.StatusUnused).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(regexp.QuoteMeta("FROM generated_links WHERE token =")).
		WithArgs(testToken).
		WillReturnRows(linkRows().AddRow(
			testLinkID, testActivityID, nil, "SPR-0001", testToken,
			domain.TypeRegistration, domain.StatusDisabled,
			int64(1), now.Add(-2*time.Hour), nil, nil, nil, nil,
		))

	err := store.MarkUsed(context.Background(), testToken, 42, "resp-1", now)
	assert.ErrorIs(t, err, domain.ErrLinkUnavailable)
}

func TestMarkUsed_ExpiredDeadline(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now()
	expiresAt := now.Add(-time.Hour)

	// Conditional update misses because the deadline guard fails: the row
	// is still unused but expires_at has passed.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE generated_links")).
		WithArgs(domain.StatusUsed, now, int64(42), "resp-1", testToken, domain.StatusUnused).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(regexp.QuoteMeta("FROM generated_links WHERE token =")).
		WithArgs(testToken).
		WillReturnRows(linkRows().AddRow(
			testLinkID, testActivityID, nil, "SPR-0001", testToken,
			domain.TypeRegistration, domain.StatusUnused,
			int64(1), now.Add(-2*time.Hour), nil, nil, nil, expiresAt,
		))

	err := store.MarkUsed(context.Background(), testToken, 42, "resp-1", now)
	assert.ErrorIs(t, err, domain.ErrLinkUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkUsed_NotFound(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE generated_links")).
		WithArgs(domain.StatusUsed, now, int64(42), "resp-1", testToken, domain.StatusUnused).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(regexp.QuoteMeta("FROM generated_links WHERE token =")).
		WithArgs(testToken).
		WillReturnRows(linkRows())

	err := store.MarkUsed(context.Background(), testToken, 42, "resp-1", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateLink_DuplicateTag(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO generated_links")).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: tagConstraint})

	link := &domain.Link{
		ID:         testLinkID,
		ActivityID: testActivityID,
		Tag:        "SPR-0003",
		Token:      testToken,
		LinkType:   domain.TypeRegistration,
		Status:     domain.StatusUnused,
		CreatedBy:  1,
		CreatedAt:  time.Now(),
	}

	err := store.CreateLink(context.Background(), link)
	assert.ErrorIs(t, err, domain.ErrDuplicateTag)
}

func TestCreateLink_DuplicateToken(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO generated_links")).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: tokenConstraint})

	link := &domain.Link{
		ID:         testLinkID,
		ActivityID: testActivityID,
		Tag:        "SPR-0003",
		Token:      testToken,
		LinkType:   domain.TypeRegistration,
		Status:     domain.StatusUnused,
		CreatedBy:  1,
		CreatedAt:  time.Now(),
	}

	err := store.CreateLink(context.Background(), link)
	assert.ErrorIs(t, err, domain.ErrDuplicateToken)
}

func TestUpdateStatus_ResetClearsRedemptionFields(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("used_by_participant_id = NULL")).
		WithArgs(domain.StatusUnused, testLinkID, testActivityID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateStatus(context.Background(), testActivityID, testLinkID, domain.StatusUnused)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_NotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE generated_links")).
		WithArgs(domain.StatusDisabled, testLinkID, testActivityID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateStatus(context.Background(), testActivityID, testLinkID, domain.StatusDisabled)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteLink_RefusesUsedLink(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM generated_links")).
		WithArgs(testLinkID, testActivityID, domain.StatusUsed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(regexp.QuoteMeta("FROM generated_links WHERE id =")).
		WithArgs(testLinkID, testActivityID).
		WillReturnRows(linkRows().AddRow(
			testLinkID, testActivityID, nil, "SPR-0001", testToken,
			domain.TypeRegistration, domain.StatusUsed,
			int64(1), now, now, int64(7), "resp-1", nil,
		))

	err := store.DeleteLink(context.Background(), testActivityID, testLinkID)
	assert.ErrorIs(t, err, domain.ErrLinkUsedDelete)
}

func TestDeleteLink_Success(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM generated_links")).
		WithArgs(testLinkID, testActivityID, domain.StatusUsed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.DeleteLink(context.Background(), testActivityID, testLinkID)
	require.NoError(t, err)
}

func TestCountByStatus(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM generated_links")).
		WithArgs(testActivityID).
		WillReturnRows(sqlmock.NewRows([]string{"count", "unused", "used", "expired", "disabled"}).
			AddRow(10, 5, 3, 1, 1))

	total, unused, used, expired, disabled, err := store.CountByStatus(context.Background(), testActivityID)
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.Equal(t, 5, unused)
	assert.Equal(t, 3, used)
	assert.Equal(t, 1, expired)
	assert.Equal(t, 1, disabled)
}

func TestListLinks_FilterAndPage(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM generated_links")).
		WithArgs(testActivityID, domain.StatusUnused, "%SPR%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY tag")).
		WithArgs(testActivityID, domain.StatusUnused, "%SPR%", 50, 0).
		WillReturnRows(linkRows().AddRow(
			testLinkID, testActivityID, nil, "SPR-0001", testToken,
			domain.TypeRegistration, domain.StatusUnused,
			int64(1), now, nil, nil, nil, nil,
		))

	links, total, err := store.ListLinks(context.Background(), ListFilter{
		ActivityID: testActivityID,
		Status:     domain.StatusUnused,
		Search:     "SPR",
		Limit:      50,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, links, 1)
	assert.Equal(t, "SPR-0001", links[0].Tag)
}

func TestGroupUsage_DerivedCounts(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY l.group_id")).
		WithArgs(testActivityID).
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "name", "total", "used"}).
			AddRow("g-1", "Spring Cohort", 10, 3))

	stats, err := store.GroupUsage(context.Background(), testActivityID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "Spring Cohort", stats[0].GroupName)
	assert.Equal(t, 7, stats[0].Unused)
	assert.InDelta(t, 30.0, stats[0].UsagePercentage, 0.001)
}
