package handler_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/domain"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/handler"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/logger"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/middleware"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/service"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/storage"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/token"
)

const (
	testActivity = "11111111-1111-1111-1111-111111111111"
	testBaseURL  = "https://surveys.test"
)

// memStore is an in-memory service.Store for handler tests. It mirrors the
// conditional-update semantics of the PostgreSQL store.
type memStore struct {
	mu     sync.Mutex
	links  map[string]*domain.Link
	groups map[string]*domain.Group
}

func newMemStore() *memStore {
	return &memStore{
		links:  make(map[string]*domain.Link),
		groups: make(map[string]*domain.Group),
	}
}

func (m *memStore) CreateLink(_ context.Context, link *domain.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.links[link.Token]; exists {
		return domain.ErrDuplicateToken
	}
	for _, l := range m.links {
		if l.ActivityID == link.ActivityID && l.Tag == link.Tag {
			return domain.ErrDuplicateTag
		}
	}
	cp := *link
	m.links[link.Token] = &cp
	return nil
}

func (m *memStore) LinkByToken(_ context.Context, tok string) (*domain.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[tok]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (m *memStore) LinkByID(_ context.Context, activityID, linkID string) (*domain.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.ID == linkID && l.ActivityID == activityID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) LinksByIDs(_ context.Context, activityID string, ids []string) ([]domain.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []domain.Link
	for _, l := range m.links {
		if l.ActivityID != activityID {
			continue
		}
		if _, ok := want[l.ID]; ok {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memStore) MarkUsed(_ context.Context, tok string, participantID int64, responseID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[tok]
	if !ok {
		return domain.ErrNotFound
	}
	if link.Status == domain.StatusUsed {
		return domain.ErrAlreadyUsed
	}
	if link.Status != domain.StatusUnused {
		return domain.ErrLinkUnavailable
	}
	if link.ExpiredAt(now) {
		return domain.ErrLinkUnavailable
	}
	link.Status = domain.StatusUsed
	link.UsedAt = &now
	link.UsedByParticipantID = &participantID
	link.ResponseID = &responseID
	return nil
}

func (m *memStore) UpdateStatus(_ context.Context, activityID, linkID string, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.ID == linkID && l.ActivityID == activityID {
			l.Status = status
			if status == domain.StatusUnused {
				l.UsedAt = nil
				l.UsedByParticipantID = nil
				l.ResponseID = nil
			}
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memStore) DeleteLink(_ context.Context, activityID, linkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tok, l := range m.links {
		if l.ID == linkID && l.ActivityID == activityID {
			if l.Status == domain.StatusUsed {
				return domain.ErrLinkUsedDelete
			}
			delete(m.links, tok)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memStore) ListLinks(_ context.Context, filter storage.ListFilter) ([]domain.Link, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Link
	for _, l := range m.links {
		if l.ActivityID != filter.ActivityID {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		if filter.GroupID != "" && (l.GroupID == nil || *l.GroupID != filter.GroupID) {
			continue
		}
		if filter.Search != "" && !strings.Contains(l.Tag, filter.Search) {
			continue
		}
		out = append(out, *l)
	}
	return out, len(out), nil
}

func (m *memStore) GetOrCreateGroup(_ context.Context, activityID, name string, description *string) (*domain.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		if g.ActivityID == activityID && g.Name == name {
			cp := *g
			return &cp, nil
		}
	}
	group := &domain.Group{
		ID:          "grp-" + name,
		ActivityID:  activityID,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now(),
	}
	m.groups[group.ID] = group
	cp := *group
	return &cp, nil
}

func (m *memStore) GroupByID(_ context.Context, groupID string) (*domain.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memStore) ListGroups(_ context.Context, activityID string) ([]domain.GroupWithCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GroupWithCounts
	for _, g := range m.groups {
		if g.ActivityID != activityID {
			continue
		}
		gc := domain.GroupWithCounts{Group: *g}
		for _, l := range m.links {
			if l.GroupID != nil && *l.GroupID == g.ID {
				gc.TotalLinks++
				if l.Status == domain.StatusUsed {
					gc.UsedLinks++
				}
			}
		}
		out = append(out, gc)
	}
	return out, nil
}

func (m *memStore) CountByStatus(_ context.Context, activityID string) (total, unused, used, expired, disabled int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.ActivityID != activityID {
			continue
		}
		total++
		switch l.Status {
		case domain.StatusUnused:
			unused++
		case domain.StatusUsed:
			used++
		case domain.StatusExpired:
			expired++
		case domain.StatusDisabled:
			disabled++
		}
	}
	return total, unused, used, expired, disabled, nil
}

func (m *memStore) GroupUsage(_ context.Context, activityID string) ([]domain.GroupStats, error) {
	groups, _ := m.ListGroups(context.Background(), activityID)
	var out []domain.GroupStats
	for _, g := range groups {
		if g.TotalLinks == 0 {
			continue
		}
		out = append(out, domain.GroupStats{
			GroupID:         g.ID,
			GroupName:       g.Name,
			Total:           g.TotalLinks,
			Used:            g.UsedLinks,
			Unused:          g.TotalLinks - g.UsedLinks,
			UsagePercentage: domain.UsagePercentage(g.UsedLinks, g.TotalLinks),
		})
	}
	return out, nil
}

// setupRouter wires both handlers onto a bare engine with the routes under
// test. No auth middleware: these tests exercise the handlers themselves.
func setupRouter(t *testing.T) (*gin.Engine, *memStore) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	if err := handler.RegisterValidators(); err != nil {
		t.Fatalf("register validators: %v", err)
	}

	store := newMemStore()
	svc := service.New(store, token.NewGenerator(token.DefaultBytes), logger.NewNop(), service.Config{
		PublicBaseURL: testBaseURL,
		MaxBatchSize:  1000,
		PageSize:      50,
	})

	r := gin.New()
	pub := handler.NewPublicHandler(svc, logger.NewNop())
	admin := handler.NewAdminHandler(svc, logger.NewNop())

	pubGroup := r.Group("/api/public/generated-link", middleware.BotFilter())
	pubGroup.GET("/validate/:token", pub.Validate)
	pubGroup.POST("/mark-used", pub.MarkUsed)

	g := r.Group("/api/activities/:id/generated-links")
	g.POST("", admin.Generate)
	g.GET("", admin.List)
	g.GET("/statistics", admin.Statistics)
	g.GET("/groups", admin.ListGroups)
	g.POST("/groups", admin.CreateGroup)
	g.GET("/export", admin.Export)
	g.POST("/urls", admin.ResolveURLs)
	g.PATCH("/:linkId", admin.UpdateStatus)
	g.DELETE("/:linkId", admin.Delete)

	return r, store
}

// seedLink inserts a link directly into the store.
func seedLink(t *testing.T, store *memStore, link domain.Link) {
	t.Helper()
	if link.LinkType == "" {
		link.LinkType = domain.TypeRegistration
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	if err := store.CreateLink(context.Background(), &link); err != nil {
		t.Fatalf("seed link %s: %v", link.Tag, err)
	}
}
