// Package service implements the generated-link operations: batch issuance,
// public token validation, exactly-once redemption, statistics, and the
// administrative reads.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/domain"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/logger"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/storage"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/token"
)

// maxTokenAttempts bounds the retry loop when a generated token collides
// with a stored one. Collisions at 32 bytes of entropy mean something is
// deeply wrong, so the bound is small and exhaustion fails only that item.
const maxTokenAttempts = 3

// tagPadWidth is the zero-pad width of the numeric part of a display tag
// (SPR-0001).
const tagPadWidth = 4

// maxPrefixLen bounds a tag prefix; tags fit varchar(50) with room for the
// numeric part.
const maxPrefixLen = 10

// maxExportRows caps a single export read.
const maxExportRows = 10000

// exportTimeFormat is the timestamp layout used in export rows.
const exportTimeFormat = "2006-01-02 15:04:05"

// Store is the persistence surface the service needs.
type Store interface {
	CreateLink(ctx context.Context, link *domain.Link) error
	LinkByToken(ctx context.Context, token string) (*domain.Link, error)
	LinkByID(ctx context.Context, activityID, linkID string) (*domain.Link, error)
	LinksByIDs(ctx context.Context, activityID string, ids []string) ([]domain.Link, error)
	MarkUsed(ctx context.Context, token string, participantID int64, responseID string, now time.Time) error
	UpdateStatus(ctx context.Context, activityID, linkID string, status domain.Status) error
	DeleteLink(ctx context.Context, activityID, linkID string) error
	ListLinks(ctx context.Context, filter storage.ListFilter) ([]domain.Link, int, error)
	GetOrCreateGroup(ctx context.Context, activityID, name string, description *string) (*domain.Group, error)
	GroupByID(ctx context.Context, groupID string) (*domain.Group, error)
	ListGroups(ctx context.Context, activityID string) ([]domain.GroupWithCounts, error)
	CountByStatus(ctx context.Context, activityID string) (total, unused, used, expired, disabled int, err error)
	GroupUsage(ctx context.Context, activityID string) ([]domain.GroupStats, error)
}

// Service owns the generated-link business rules.
type Service struct {
	store    Store
	tokens   *token.Generator
	log      logger.Logger
	baseURL  string
	maxBatch int
	pageSize int
}

// Config carries the service tunables.
type Config struct {
	// PublicBaseURL is the frontend origin used to build redemption URLs.
	PublicBaseURL string
	// MaxBatchSize caps the count of a single batch request.
	MaxBatchSize int
	// PageSize is the link listing page size.
	PageSize int
}

// New creates a Service.
func New(store Store, tokens *token.Generator, log logger.Logger, cfg Config) *Service {
	return &Service{
		store:    store,
		tokens:   tokens,
		log:      log,
		baseURL:  strings.TrimRight(cfg.PublicBaseURL, "/"),
		maxBatch: cfg.MaxBatchSize,
		pageSize: cfg.PageSize,
	}
}

// ValidationError reports a malformed request, rejected before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// BatchRequest describes one batch-generate call.
type BatchRequest struct {
	ActivityID  string
	Prefix      string
	StartNumber int
	Count       int
	// GroupID attaches links to an existing group. GroupName creates (or
	// reuses) a group by name instead; it wins over GroupID when both are
	// set.
	GroupID          string
	GroupName        string
	GroupDescription *string
	LinkType         domain.LinkType
	CreatedBy        int64
	// ExpiresAt applies to every link in the batch. The activity subsystem
	// derives it from the activity close date.
	ExpiresAt *time.Time
}

// BatchError describes one failed item of a batch.
type BatchError struct {
	Index   int    `json:"index"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// BatchResult is the partial-failure outcome of a batch-generate call.
type BatchResult struct {
	Generated    []domain.Link `json:"generated"`
	Errors       []BatchError  `json:"errors"`
	SuccessCount int           `json:"success_count"`
	ErrorCount   int           `json:"error_count"`
	GroupID      string        `json:"group_id,omitempty"`
}

// GenerateBatch creates a batch of links. Group resolution is all-or-nothing;
// individual link failures (tag conflicts, token collision exhaustion,
// storage errors on one row) are collected per item and the rest of the
// batch proceeds. Administrators generate hundreds of links at a time, and
// one tag collision must not discard the rest.
func (s *Service) GenerateBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if err := s.validateBatch(&req); err != nil {
		return nil, err
	}

	groupID, err := s.resolveGroup(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{GroupID: groupID}

	for i := 0; i < req.Count; i++ {
		tag := formatTag(req.Prefix, req.StartNumber+i)

		link, itemErr := s.createLinkWithRetry(ctx, req, groupID, tag)
		if itemErr != nil {
			result.Errors = append(result.Errors, BatchError{
				Index:   i,
				Tag:     tag,
				Message: itemErr.Error(),
			})
			continue
		}

		result.Generated = append(result.Generated, *link)
	}

	result.SuccessCount = len(result.Generated)
	result.ErrorCount = len(result.Errors)

	s.log.Info("Generated link batch",
		logger.String("activity_id", req.ActivityID),
		logger.String("prefix", req.Prefix),
		logger.Int("success", result.SuccessCount),
		logger.Int("errors", result.ErrorCount),
	)

	return result, nil
}

// validateBatch normalizes and bounds-checks a batch request.
func (s *Service) validateBatch(req *BatchRequest) error {
	req.Prefix = strings.ToUpper(strings.TrimSpace(req.Prefix))
	if req.Prefix == "" {
		return &ValidationError{Field: "prefix", Message: "is required"}
	}
	if len(req.Prefix) > maxPrefixLen {
		return &ValidationError{
			Field:   "prefix",
			Message: fmt.Sprintf("must not exceed %d characters", maxPrefixLen),
		}
	}
	if req.Count < 1 {
		return &ValidationError{Field: "count", Message: "must be at least 1"}
	}
	if req.Count > s.maxBatch {
		return &ValidationError{
			Field:   "count",
			Message: fmt.Sprintf("must not exceed %d", s.maxBatch),
		}
	}
	if req.StartNumber < 0 {
		return &ValidationError{Field: "start_number", Message: "must not be negative"}
	}
	if req.LinkType == "" {
		req.LinkType = domain.TypeRegistration
	}
	if !req.LinkType.Valid() {
		return &ValidationError{Field: "link_type", Message: "must be registration or anonymous"}
	}
	return nil
}

// resolveGroup returns the group id the batch should attach to, creating a
// group when a name is supplied. A failure here aborts the whole batch.
func (s *Service) resolveGroup(ctx context.Context, req BatchRequest) (string, error) {
	if req.GroupName != "" {
		group, err := s.store.GetOrCreateGroup(ctx, req.ActivityID, req.GroupName, req.GroupDescription)
		if err != nil {
			return "", fmt.Errorf("create group: %w", err)
		}
		return group.ID, nil
	}

	if req.GroupID != "" {
		group, err := s.store.GroupByID(ctx, req.GroupID)
		if err != nil {
			return "", err
		}
		return group.ID, nil
	}

	return "", nil
}

// createLinkWithRetry inserts one link, regenerating the token on collision
// up to maxTokenAttempts times.
func (s *Service) createLinkWithRetry(ctx context.Context, req BatchRequest, groupID, tag string) (*domain.Link, error) {
	var lastErr error

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		tok, err := s.tokens.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}

		link := &domain.Link{
			ID:         uuid.New().String(),
			ActivityID: req.ActivityID,
			Tag:        tag,
			Token:      tok,
			LinkType:   req.LinkType,
			Status:     domain.StatusUnused,
			CreatedBy:  req.CreatedBy,
			CreatedAt:  time.Now(),
			ExpiresAt:  req.ExpiresAt,
		}
		if groupID != "" {
			link.GroupID = &groupID
		}

		err = s.store.CreateLink(ctx, link)
		if err == nil {
			return link, nil
		}
		if errors.Is(err, domain.ErrDuplicateToken) {
			s.log.Warn("Token collision, regenerating",
				logger.String("tag", tag),
				logger.Int("attempt", attempt+1),
			)
			lastErr = err
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("token collision retries exhausted: %w", lastErr)
}

// formatTag builds the zero-padded display tag for a sequence number. The
// separator, if any, belongs to the prefix ("SPR-" yields SPR-0001).
func formatTag(prefix string, number int) string {
	return fmt.Sprintf("%s%0*d", prefix, tagPadWidth, number)
}

// ValidationData is the public payload for a usable link.
type ValidationData struct {
	ActivityID string          `json:"activity_id"`
	Tag        string          `json:"tag"`
	LinkType   domain.LinkType `json:"link_type"`
	Status     domain.Status   `json:"status"`
}

// ValidationResult answers "is this token currently usable?".
type ValidationResult struct {
	Valid bool `json:"valid"`
	// Reason explains an invalid result: "not_found", "expired", "used",
	// or "disabled". The public surface collapses these into one neutral
	// message; the distinction exists for logging and the admin UI.
	Reason string          `json:"-"`
	Data   *ValidationData `json:"data,omitempty"`
}

// Validate checks whether a token is currently redeemable. It is strictly
// read-only: a link past its expiry deadline is reported expired without
// writing the expired status back. A missing token is a normal negative
// result, not an error; only store failures return a non-nil error.
func (s *Service) Validate(ctx context.Context, tok string) (*ValidationResult, error) {
	link, err := s.store.LinkByToken(ctx, tok)
	if errors.Is(err, domain.ErrNotFound) {
		return &ValidationResult{Valid: false, Reason: "not_found"}, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if link.Status != domain.StatusUnused {
		return &ValidationResult{Valid: false, Reason: string(link.Status)}, nil
	}
	if link.ExpiredAt(now) {
		return &ValidationResult{Valid: false, Reason: "expired"}, nil
	}

	return &ValidationResult{
		Valid: true,
		Data: &ValidationData{
			ActivityID: link.ActivityID,
			Tag:        link.Tag,
			LinkType:   link.LinkType,
			Status:     link.Status,
		},
	}, nil
}

// MarkUsed redeems a token for a participant and response. The store's
// conditional update guarantees at most one caller succeeds per token and
// refuses links whose expiry deadline has passed.
func (s *Service) MarkUsed(ctx context.Context, tok string, participantID int64, responseID string) error {
	if err := s.store.MarkUsed(ctx, tok, participantID, responseID, time.Now()); err != nil {
		return err
	}

	s.log.Info("Link redeemed",
		logger.Int64("participant_id", participantID),
		logger.String("response_id", responseID),
	)
	return nil
}

// LinkView is a link enriched with its participant-facing URL.
type LinkView struct {
	domain.Link
	FullURL string `json:"full_url"`
}

// FullURL builds the participant-facing redemption URL for a link.
func (s *Service) FullURL(link *domain.Link) string {
	return fmt.Sprintf("%s/activities/take/%s?token=%s",
		s.baseURL, link.ActivityID, url.QueryEscape(link.Token))
}

// ListRequest filters a link listing.
type ListRequest struct {
	ActivityID string
	Status     domain.Status
	GroupID    string
	Search     string
	Page       int
}

// ListResult is one page of links plus the overall statistics the admin UI
// renders alongside.
type ListResult struct {
	Links      []LinkView    `json:"links"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	Statistics *domain.Stats `json:"statistics"`
}

// List returns a page of an activity's links ordered by tag, each with its
// full URL, plus overall usage statistics.
func (s *Service) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	if req.Page < 1 {
		req.Page = 1
	}

	links, total, err := s.store.ListLinks(ctx, storage.ListFilter{
		ActivityID: req.ActivityID,
		Status:     req.Status,
		GroupID:    req.GroupID,
		Search:     req.Search,
		Limit:      s.pageSize,
		Offset:     (req.Page - 1) * s.pageSize,
	})
	if err != nil {
		return nil, err
	}

	stats, err := s.Statistics(ctx, req.ActivityID)
	if err != nil {
		return nil, err
	}

	views := make([]LinkView, 0, len(links))
	for i := range links {
		views = append(views, LinkView{
			Link:    links[i],
			FullURL: s.FullURL(&links[i]),
		})
	}

	return &ListResult{
		Links:      views,
		Total:      total,
		Page:       req.Page,
		PageSize:   s.pageSize,
		Statistics: &stats.Overall,
	}, nil
}

// StatisticsResult is the overall summary plus the per-group breakdown.
type StatisticsResult struct {
	Overall domain.Stats        `json:"overall"`
	ByGroup []domain.GroupStats `json:"by_group"`
}

// Statistics recomputes usage counts from link rows on demand. Nothing is
// maintained incrementally, so the numbers cannot drift from the links.
func (s *Service) Statistics(ctx context.Context, activityID string) (*StatisticsResult, error) {
	total, unused, used, expired, disabled, err := s.store.CountByStatus(ctx, activityID)
	if err != nil {
		return nil, err
	}

	byGroup, err := s.store.GroupUsage(ctx, activityID)
	if err != nil {
		return nil, err
	}

	return &StatisticsResult{
		Overall: domain.Stats{
			Total:           total,
			Unused:          unused,
			Used:            used,
			Expired:         expired,
			Disabled:        disabled,
			UsagePercentage: domain.UsagePercentage(used, total),
		},
		ByGroup: byGroup,
	}, nil
}

// UpdateStatus applies an administrative status override. A link can be
// forced to unused, expired, or disabled; used is reserved for the
// redemption path.
func (s *Service) UpdateStatus(ctx context.Context, activityID, linkID string, status domain.Status) error {
	if !status.Valid() || status == domain.StatusUsed {
		return &ValidationError{Field: "status", Message: "must be unused, expired, or disabled"}
	}
	return s.store.UpdateStatus(ctx, activityID, linkID, status)
}

// Delete hard-deletes a link. Used links are refused.
func (s *Service) Delete(ctx context.Context, activityID, linkID string) error {
	return s.store.DeleteLink(ctx, activityID, linkID)
}

// CreateGroup creates (or returns) a named group within an activity.
func (s *Service) CreateGroup(ctx context.Context, activityID, name string, description *string) (*domain.Group, error) {
	return s.store.GetOrCreateGroup(ctx, activityID, name, description)
}

// ListGroups returns an activity's groups with derived counts.
func (s *Service) ListGroups(ctx context.Context, activityID string) ([]domain.GroupWithCounts, error) {
	return s.store.ListGroups(ctx, activityID)
}

// ResolveURLs returns the subset of the given link ids that exist within the
// activity, each with its full URL. The notification subsystem consumes this
// when emailing selected links.
func (s *Service) ResolveURLs(ctx context.Context, activityID string, linkIDs []string) ([]LinkView, error) {
	links, err := s.store.LinksByIDs(ctx, activityID, linkIDs)
	if err != nil {
		return nil, err
	}

	views := make([]LinkView, 0, len(links))
	for i := range links {
		views = append(views, LinkView{
			Link:    links[i],
			FullURL: s.FullURL(&links[i]),
		})
	}
	return views, nil
}

// ExportRow is one CSV-shaped export line.
type ExportRow struct {
	Tag           string `json:"tag"`
	URL           string `json:"url"`
	Group         string `json:"group"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UsedAt        string `json:"used_at"`
	ParticipantID string `json:"participant_id"`
}

// ExportResult is the export payload plus the suggested filename.
type ExportResult struct {
	Rows     []ExportRow `json:"data"`
	Filename string      `json:"filename"`
}

// Export returns every link matching the status/group filters as flat rows
// for CSV download, ordered by tag.
func (s *Service) Export(ctx context.Context, activityID string, status domain.Status, groupID string) (*ExportResult, error) {
	links, _, err := s.store.ListLinks(ctx, storage.ListFilter{
		ActivityID: activityID,
		Status:     status,
		GroupID:    groupID,
		Limit:      maxExportRows,
	})
	if err != nil {
		return nil, err
	}

	groupNames, err := s.groupNames(ctx, activityID)
	if err != nil {
		return nil, err
	}

	rows := make([]ExportRow, 0, len(links))
	for i := range links {
		link := &links[i]
		rows = append(rows, ExportRow{
			Tag:           link.Tag,
			URL:           s.FullURL(link),
			Group:         groupNameOf(link, groupNames),
			Status:        string(link.Status),
			CreatedAt:     link.CreatedAt.Format(exportTimeFormat),
			UsedAt:        formatOptionalTime(link.UsedAt),
			ParticipantID: formatOptionalID(link.UsedByParticipantID),
		})
	}

	return &ExportResult{
		Rows:     rows,
		Filename: fmt.Sprintf("generated_links_%s.csv", time.Now().Format("2006-01-02_150405")),
	}, nil
}

// groupNames maps group id to name for an activity.
func (s *Service) groupNames(ctx context.Context, activityID string) (map[string]string, error) {
	groups, err := s.store.ListGroups(ctx, activityID)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(groups))
	for _, g := range groups {
		names[g.ID] = g.Name
	}
	return names, nil
}

func groupNameOf(link *domain.Link, names map[string]string) string {
	if link.GroupID == nil {
		return "No Group"
	}
	if name, ok := names[*link.GroupID]; ok {
		return name
	}
	return "No Group"
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(exportTimeFormat)
}

func formatOptionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return fmt.Sprintf("%d", *id)
}
