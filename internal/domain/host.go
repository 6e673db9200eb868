package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by host lookups that match nothing.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyCheckedIn is returned when a check-in for today already exists.
	ErrAlreadyCheckedIn = errors.New("already checked in")
)

// Account is a site account as exposed by the host.
type Account struct {
	ID          int64  `json:"id"`
	Login       string `json:"login"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// Name returns the display name, falling back to the login.
func (a Account) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Login
}

// Post is a published piece of content.
type Post struct {
	ID           int64     `json:"id"`
	Type         string    `json:"type"` // post | forum_post
	Status       string    `json:"status"`
	Title        string    `json:"title"`
	Content      string    `json:"content,omitempty"`
	Permalink    string    `json:"permalink"`
	Section      string    `json:"section,omitempty"` // category or forum plate name
	ImageURL     string    `json:"image_url,omitempty"`
	AuthorID     int64     `json:"author_id,omitempty"`
	AuthorName   string    `json:"author_name,omitempty"`
	CommentCount int64     `json:"comment_count"`
	PublishedAt  time.Time `json:"published_at"`
}

// PostQuery selects posts for RecentPosts. Results are ordered by
// publish time, newest first.
type PostQuery struct {
	Type   string
	Status string
	Limit  int
}

// PointsMutation is one audited change to an account's point balance.
type PointsMutation struct {
	AccountID int64
	Delta     int64
	Token     string // correlation token shared by the legs of one transfer
	Type      string
	Note      string
}

// CheckInReward describes a check-in streak and what it paid out.
type CheckInReward struct {
	ContinuousDays int   `json:"continuous_day"`
	Points         int64 `json:"points"`
	Integral       int64 `json:"integral"`
}

// AccountStore looks up site accounts.
type AccountStore interface {
	AccountByEmail(ctx context.Context, email string) (*Account, error)
	AccountByID(ctx context.Context, id int64) (*Account, error)
}

// MetaStore is the host's per-account single-valued attribute store.
// FindAccountByMeta is a reverse lookup by value and is linear in the
// number of accounts unless the host indexes meta values.
type MetaStore interface {
	SetMeta(ctx context.Context, accountID int64, key, value string) error
	DeleteMeta(ctx context.Context, accountID int64, key string) (bool, error)
	FindAccountByMeta(ctx context.Context, key, value string) (int64, error)
	ListMeta(ctx context.Context, key string) (map[int64]string, error)
	DeleteMetaByKey(ctx context.Context, key string) (int64, error)
}

// ContentStore queries published content.
type ContentStore interface {
	RecentPosts(ctx context.Context, q PostQuery) ([]Post, error)
}

// PointsLedger reads and mutates point balances.
type PointsLedger interface {
	Balance(ctx context.Context, accountID int64) (int64, error)
	Mutate(ctx context.Context, m PointsMutation) error
}

// CheckInService is the host's daily check-in subsystem.
type CheckInService interface {
	Enabled() bool
	CheckedInToday(ctx context.Context, accountID int64) (bool, error)
	RewardPreview(ctx context.Context, accountID int64) (CheckInReward, error)
	CheckIn(ctx context.Context, accountID int64) (CheckInReward, error)
}

// Host bundles the host-site collaborators. Points and CheckIns may be
// nil when the host does not provide them.
type Host struct {
	Accounts AccountStore
	Meta     MetaStore
	Content  ContentStore
	Points   PointsLedger
	CheckIns CheckInService
}
