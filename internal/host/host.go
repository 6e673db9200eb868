// Package host is the reference implementation of the host-site contracts:
// accounts, account metadata, published content, a points ledger and daily
// check-ins. It runs on SQLite for single-node installs and on PostgreSQL
// when the site already lives there.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"qqbridge/internal/domain"
)

// Store is a complete host backend.
type Store interface {
	domain.AccountStore
	domain.MetaStore
	domain.ContentStore
	domain.PointsLedger
	domain.CheckInService

	CreateUser(ctx context.Context, acct domain.Account) (int64, error)
	CreatePost(ctx context.Context, post domain.Post) (int64, error)
	Close() error
}

// CheckInSettings configures the check-in subsystem.
type CheckInSettings struct {
	Enabled  bool
	Points   int64
	Integral int64
}

// Config selects and configures a backend.
type Config struct {
	Driver   string // "sqlite" | "postgres"
	DSN      string
	CheckIn  CheckInSettings
	Location *time.Location // calendar days for check-ins
	Now      func() time.Time
	Logger   *slog.Logger
}

// Open connects to the configured backend and applies its schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	switch cfg.Driver {
	case "", "sqlite":
		s, err := NewSQLite(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		p, err := NewPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown host driver %q", cfg.Driver)
	}
}

// Services exposes a store as the collaborators the handlers need.
func Services(s Store) domain.Host {
	return domain.Host{
		Accounts: s,
		Meta:     s,
		Content:  s,
		Points:   s,
		CheckIns: s,
	}
}

// calendar maps instants to check-in days in the site time zone.
type calendar struct {
	loc *time.Location
	now func() time.Time
}

func (c calendar) today() string {
	return c.now().In(c.loc).Format("2006-01-02")
}

func (c calendar) yesterday() string {
	return c.now().In(c.loc).AddDate(0, 0, -1).Format("2006-01-02")
}

func checkInToken(accountID int64, day string) string {
	return fmt.Sprintf("checkin_%d_%s", accountID, day)
}
