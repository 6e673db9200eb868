package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"qqbridge/internal/domain"
)

// SQLite is the embedded host backend.
type SQLite struct {
	db      *sql.DB
	checkIn CheckInSettings
	cal     calendar
	logger  *slog.Logger
}

// NewSQLite opens (creating if needed) the database file at cfg.DSN.
func NewSQLite(cfg Config) (*SQLite, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", cfg.DSN+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db, sqliteMigrations, cfg.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLite{
		db:      db,
		checkIn: cfg.CheckIn,
		cal:     calendar{loc: cfg.Location, now: cfg.Now},
		logger:  cfg.Logger,
	}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// Snapshot writes a consistent copy of the database to path, which must not
// exist yet.
func (s *SQLite) Snapshot(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("snapshot to %s: %w", path, err)
	}
	return nil
}

// --- Accounts ---

func (s *SQLite) CreateUser(ctx context.Context, acct domain.Account) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (login, email, display_name) VALUES (?, ?, ?)`,
		acct.Login, strings.TrimSpace(acct.Email), acct.DisplayName,
	)
	if err != nil {
		return 0, fmt.Errorf("create user %s: %w", acct.Login, err)
	}
	return res.LastInsertId()
}

func (s *SQLite) AccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, login, email, display_name FROM users WHERE email = ?`, strings.TrimSpace(email)))
}

func (s *SQLite) AccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, login, email, display_name FROM users WHERE id = ?`, id))
}

func (s *SQLite) scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Login, &a.Email, &a.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// --- Account metadata ---

func (s *SQLite) SetMeta(ctx context.Context, accountID int64, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usermeta (user_id, meta_key, meta_value) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, meta_key) DO UPDATE SET meta_value = excluded.meta_value`,
		accountID, key, value,
	)
	if err != nil {
		return fmt.Errorf("set meta %s for user %d: %w", key, accountID, err)
	}
	return nil
}

func (s *SQLite) DeleteMeta(ctx context.Context, accountID int64, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usermeta WHERE user_id = ? AND meta_key = ?`, accountID, key)
	if err != nil {
		return false, fmt.Errorf("delete meta %s for user %d: %w", key, accountID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLite) FindAccountByMeta(ctx context.Context, key, value string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM usermeta WHERE meta_key = ? AND meta_value = ? ORDER BY user_id LIMIT 1`,
		key, value,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	return id, err
}

func (s *SQLite) ListMeta(ctx context.Context, key string) (map[int64]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, meta_value FROM usermeta WHERE meta_key = ?`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var v string
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteMetaByKey(ctx context.Context, key string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usermeta WHERE meta_key = ?`, key)
	if err != nil {
		return 0, fmt.Errorf("delete meta %s: %w", key, err)
	}
	return res.RowsAffected()
}

// --- Content ---

func (s *SQLite) CreatePost(ctx context.Context, p domain.Post) (int64, error) {
	if p.Type == "" {
		p.Type = "post"
	}
	if p.Status == "" {
		p.Status = "publish"
	}
	if p.PublishedAt.IsZero() {
		p.PublishedAt = s.cal.now()
	}
	var author any
	if p.AuthorID != 0 {
		author = p.AuthorID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (type, status, title, content, permalink, section, image_url, author_id, comment_count, published_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Type, p.Status, p.Title, p.Content, p.Permalink, p.Section, p.ImageURL, author, p.CommentCount, p.PublishedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("create post %q: %w", p.Title, err)
	}
	return res.LastInsertId()
}

func (s *SQLite) RecentPosts(ctx context.Context, q domain.PostQuery) ([]domain.Post, error) {
	if q.Limit <= 0 {
		q.Limit = 5
	}
	if q.Status == "" {
		q.Status = "publish"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.type, p.status, p.title, p.content, p.permalink, p.section, p.image_url,
		        COALESCE(p.author_id, 0), COALESCE(NULLIF(u.display_name, ''), u.login, ''),
		        p.comment_count, p.published_at
		 FROM posts p LEFT JOIN users u ON u.id = p.author_id
		 WHERE (? = '' OR p.type = ?) AND p.status = ?
		 ORDER BY p.published_at DESC, p.id DESC
		 LIMIT ?`,
		q.Type, q.Type, q.Status, q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var p domain.Post
		if err := rows.Scan(&p.ID, &p.Type, &p.Status, &p.Title, &p.Content, &p.Permalink, &p.Section,
			&p.ImageURL, &p.AuthorID, &p.AuthorName, &p.CommentCount, &p.PublishedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// --- Points ---

func (s *SQLite) Balance(ctx context.Context, accountID int64) (int64, error) {
	if _, err := s.AccountByID(ctx, accountID); err != nil {
		return 0, err
	}
	var bal int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM points_ledger WHERE user_id = ?`, accountID,
	).Scan(&bal)
	return bal, err
}

func (s *SQLite) Mutate(ctx context.Context, m domain.PointsMutation) error {
	if _, err := s.AccountByID(ctx, m.AccountID); err != nil {
		return fmt.Errorf("mutate points for user %d: %w", m.AccountID, err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO points_ledger (user_id, delta, token, type, note) VALUES (?, ?, ?, ?, ?)`,
		m.AccountID, m.Delta, m.Token, m.Type, m.Note,
	)
	if err != nil {
		return fmt.Errorf("mutate points for user %d: %w", m.AccountID, err)
	}
	return nil
}

// --- Check-ins ---

func (s *SQLite) Enabled() bool { return s.checkIn.Enabled }

func (s *SQLite) CheckedInToday(ctx context.Context, accountID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkins WHERE user_id = ? AND day = ?`, accountID, s.cal.today(),
	).Scan(&n)
	return n > 0, err
}

func (s *SQLite) RewardPreview(ctx context.Context, accountID int64) (domain.CheckInReward, error) {
	streak, err := s.streakBefore(ctx, s.db, accountID)
	if err != nil {
		return domain.CheckInReward{}, err
	}
	return domain.CheckInReward{
		ContinuousDays: streak + 1,
		Points:         s.checkIn.Points,
		Integral:       s.checkIn.Integral,
	}, nil
}

func (s *SQLite) CheckIn(ctx context.Context, accountID int64) (domain.CheckInReward, error) {
	if _, err := s.AccountByID(ctx, accountID); err != nil {
		return domain.CheckInReward{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.CheckInReward{}, err
	}
	defer tx.Rollback()

	today := s.cal.today()
	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkins WHERE user_id = ? AND day = ?`, accountID, today,
	).Scan(&n); err != nil {
		return domain.CheckInReward{}, err
	}
	if n > 0 {
		return domain.CheckInReward{}, domain.ErrAlreadyCheckedIn
	}

	streak, err := s.streakBefore(ctx, tx, accountID)
	if err != nil {
		return domain.CheckInReward{}, err
	}
	reward := domain.CheckInReward{
		ContinuousDays: streak + 1,
		Points:         s.checkIn.Points,
		Integral:       s.checkIn.Integral,
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkins (user_id, day, streak, points, integral) VALUES (?, ?, ?, ?, ?)`,
		accountID, today, reward.ContinuousDays, reward.Points, reward.Integral,
	); err != nil {
		return domain.CheckInReward{}, fmt.Errorf("record check-in: %w", err)
	}
	if reward.Points != 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO points_ledger (user_id, delta, token, type, note) VALUES (?, ?, ?, ?, ?)`,
			accountID, reward.Points, checkInToken(accountID, today), "checkin", "每日签到",
		); err != nil {
			return domain.CheckInReward{}, fmt.Errorf("credit check-in points: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.CheckInReward{}, err
	}

	s.logger.Debug("check-in recorded", "user_id", accountID, "day", today, "streak", reward.ContinuousDays)
	return reward, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// streakBefore returns the streak reached yesterday, or 0 if the account
// did not check in yesterday.
func (s *SQLite) streakBefore(ctx context.Context, q queryRower, accountID int64) (int, error) {
	var streak int
	err := q.QueryRowContext(ctx,
		`SELECT streak FROM checkins WHERE user_id = ? AND day = ?`, accountID, s.cal.yesterday(),
	).Scan(&streak)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return streak, err
}
