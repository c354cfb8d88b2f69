// Package domain defines the generated link entities and their lifecycle
// rules. A link is issued in a batch under an optional group, validated
// publicly by its token, and redeemed at most once when a survey response is
// saved.
package domain

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a generated link.
type Status string

// Link lifecycle states. A link starts unused and moves to exactly one of
// used, expired, or disabled. Only an administrative override can move it
// back.
const (
	StatusUnused   Status = "unused"
	StatusUsed     Status = "used"
	StatusExpired  Status = "expired"
	StatusDisabled Status = "disabled"
)

// Valid reports whether s is a known link status.
func (s Status) Valid() bool {
	switch s {
	case StatusUnused, StatusUsed, StatusExpired, StatusDisabled:
		return true
	}
	return false
}

// LinkType distinguishes links that collect participant registration from
// fully anonymous ones.
type LinkType string

// Supported link types.
const (
	TypeRegistration LinkType = "registration"
	TypeAnonymous    LinkType = "anonymous"
)

// Valid reports whether t is a known link type.
func (t LinkType) Valid() bool {
	return t == TypeRegistration || t == TypeAnonymous
}

// Domain errors returned by the storage and service layers. Handlers map
// these onto HTTP statuses; anything else is treated as an infrastructure
// failure.
var (
	// ErrNotFound indicates the token or link id has no stored record.
	ErrNotFound = errors.New("link not found")
	// ErrAlreadyUsed indicates a redemption attempt on an already used link.
	ErrAlreadyUsed = errors.New("link already used")
	// ErrLinkUnavailable indicates a redemption attempt on an expired or
	// disabled link.
	ErrLinkUnavailable = errors.New("link expired or disabled")
	// ErrGroupNotFound indicates the referenced link group does not exist.
	ErrGroupNotFound = errors.New("link group not found")
	// ErrDuplicateTag indicates the computed tag already exists for the
	// activity.
	ErrDuplicateTag = errors.New("tag already exists for activity")
	// ErrDuplicateToken indicates a generated token collided with a stored
	// one.
	ErrDuplicateToken = errors.New("token already exists")
	// ErrLinkUsedDelete indicates a delete attempt on a used link.
	ErrLinkUsedDelete = errors.New("used links cannot be deleted")
)

// Link is one generated event link. The token is the public, unguessable URL
// credential; the tag is the human-readable sequential label shown to
// administrators.
type Link struct {
	ID         string     `json:"id"`
	ActivityID string     `json:"activity_id"`
	GroupID    *string    `json:"group_id,omitempty"`
	Tag        string     `json:"tag"`
	Token      string     `json:"token"`
	LinkType   LinkType   `json:"link_type"`
	Status     Status     `json:"status"`
	CreatedBy  int64      `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	// UsedByParticipantID is recorded at redemption. The identity subsystem
	// owns participant validation; this service only stores what it is given.
	UsedByParticipantID *int64     `json:"used_by_participant_id,omitempty"`
	ResponseID          *string    `json:"response_id,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
}

// ExpiredAt reports whether the link's expiry deadline has passed at the
// given instant. Expiry is computed at read time and never written back by
// the read path.
func (l *Link) ExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// UsableAt reports whether the link can still be redeemed at the given
// instant: status unused and not past its expiry deadline.
func (l *Link) UsableAt(now time.Time) bool {
	return l.Status == StatusUnused && !l.ExpiredAt(now)
}

// Group is an administrator-defined collection of links used for batch
// organization and aggregate reporting. Usage counts are derived from link
// rows at read time, never maintained incrementally.
type Group struct {
	ID          string    `json:"id"`
	ActivityID  string    `json:"activity_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// GroupWithCounts is a group plus its derived link counts.
type GroupWithCounts struct {
	Group
	TotalLinks int `json:"total_links"`
	UsedLinks  int `json:"used_links"`
}

// Stats is the four-way status split over a set of links plus the derived
// usage percentage.
type Stats struct {
	Total           int     `json:"total"`
	Unused          int     `json:"unused"`
	Used            int     `json:"used"`
	Expired         int     `json:"expired"`
	Disabled        int     `json:"disabled"`
	UsagePercentage float64 `json:"usage_percentage"`
}

// GroupStats is the per-group usage breakdown.
type GroupStats struct {
	GroupID         string  `json:"group_id"`
	GroupName       string  `json:"group_name"`
	Total           int     `json:"total"`
	Used            int     `json:"used"`
	Unused          int     `json:"unused"`
	UsagePercentage float64 `json:"usage_percentage"`
}

// UsagePercentage computes used/total as a percentage rounded to two
// decimals, returning 0 for an empty set.
func UsagePercentage(used, total int) float64 {
	if total == 0 {
		return 0
	}
	pct := float64(used) / float64(total) * 100
	// Round to two decimals the way the reporting UI displays it.
	return float64(int(pct*100+0.5)) / 100
}
