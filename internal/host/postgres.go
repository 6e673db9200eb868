package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"qqbridge/internal/domain"
)

const pgUniqueViolation = "23505"

// Postgres is the host backend for sites that keep their data in PostgreSQL.
type Postgres struct {
	pool    *pgxpool.Pool
	checkIn CheckInSettings
	cal     calendar
	logger  *slog.Logger
}

// NewPostgres connects to cfg.DSN, pings it and creates missing tables.
func NewPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	p := &Postgres{
		pool:    pool,
		checkIn: cfg.CheckIn,
		cal:     calendar{loc: cfg.Location, now: cfg.Now},
		logger:  cfg.Logger,
	}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id           BIGSERIAL PRIMARY KEY,
		login        TEXT NOT NULL UNIQUE,
		email        TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (lower(email));

	CREATE TABLE IF NOT EXISTS usermeta (
		user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		meta_key   TEXT NOT NULL,
		meta_value TEXT NOT NULL,
		PRIMARY KEY (user_id, meta_key)
	);
	CREATE INDEX IF NOT EXISTS idx_usermeta_value ON usermeta (meta_key, meta_value);

	CREATE TABLE IF NOT EXISTS posts (
		id            BIGSERIAL PRIMARY KEY,
		type          TEXT NOT NULL DEFAULT 'post',
		status        TEXT NOT NULL DEFAULT 'publish',
		title         TEXT NOT NULL,
		content       TEXT NOT NULL DEFAULT '',
		permalink     TEXT NOT NULL DEFAULT '',
		section       TEXT NOT NULL DEFAULT '',
		image_url     TEXT NOT NULL DEFAULT '',
		author_id     BIGINT REFERENCES users(id),
		comment_count BIGINT NOT NULL DEFAULT 0,
		published_at  TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_recent ON posts (type, status, published_at DESC);

	CREATE TABLE IF NOT EXISTS points_ledger (
		id         BIGSERIAL PRIMARY KEY,
		user_id    BIGINT NOT NULL REFERENCES users(id),
		delta      BIGINT NOT NULL,
		token      TEXT NOT NULL,
		type       TEXT NOT NULL,
		note       TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (token, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_points_user ON points_ledger (user_id);

	CREATE TABLE IF NOT EXISTS checkins (
		user_id    BIGINT NOT NULL REFERENCES users(id),
		day        DATE NOT NULL,
		streak     INT NOT NULL,
		points     BIGINT NOT NULL,
		integral   BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, day)
	);
	`
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// --- Accounts ---

func (p *Postgres) CreateUser(ctx context.Context, acct domain.Account) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users (login, email, display_name) VALUES ($1, $2, $3) RETURNING id`,
		acct.Login, strings.TrimSpace(acct.Email), acct.DisplayName,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create user %s: %w", acct.Login, err)
	}
	return id, nil
}

func (p *Postgres) AccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return scanPgAccount(p.pool.QueryRow(ctx,
		`SELECT id, login, email, display_name FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email)))
}

func (p *Postgres) AccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	return scanPgAccount(p.pool.QueryRow(ctx,
		`SELECT id, login, email, display_name FROM users WHERE id = $1`, id))
}

func scanPgAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Login, &a.Email, &a.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// --- Account metadata ---

func (p *Postgres) SetMeta(ctx context.Context, accountID int64, key, value string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO usermeta (user_id, meta_key, meta_value) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`,
		accountID, key, value,
	)
	if err != nil {
		return fmt.Errorf("set meta %s for user %d: %w", key, accountID, err)
	}
	return nil
}

func (p *Postgres) DeleteMeta(ctx context.Context, accountID int64, key string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM usermeta WHERE user_id = $1 AND meta_key = $2`, accountID, key)
	if err != nil {
		return false, fmt.Errorf("delete meta %s for user %d: %w", key, accountID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) FindAccountByMeta(ctx context.Context, key, value string) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`SELECT user_id FROM usermeta WHERE meta_key = $1 AND meta_value = $2 ORDER BY user_id LIMIT 1`,
		key, value,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	return id, err
}

func (p *Postgres) ListMeta(ctx context.Context, key string) (map[int64]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT user_id, meta_value FROM usermeta WHERE meta_key = $1`, key)
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

func (p *Postgres) DeleteMetaByKey(ctx context.Context, key string) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM usermeta WHERE meta_key = $1`, key)
	if err != nil {
		return 0, fmt.Errorf("delete meta %s: %w", key, err)
	}
	return tag.RowsAffected(), nil
}

// --- Content ---

func (p *Postgres) CreatePost(ctx context.Context, post domain.Post) (int64, error) {
	if post.Type == "" {
		post.Type = "post"
	}
	if post.Status == "" {
		post.Status = "publish"
	}
	if post.PublishedAt.IsZero() {
		post.PublishedAt = p.cal.now()
	}
	var author *int64
	if post.AuthorID != 0 {
		author = &post.AuthorID
	}
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO posts (type, status, title, content, permalink, section, image_url, author_id, comment_count, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		post.Type, post.Status, post.Title, post.Content, post.Permalink, post.Section, post.ImageURL,
		author, post.CommentCount, post.PublishedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create post %q: %w", post.Title, err)
	}
	return id, nil
}

func (p *Postgres) RecentPosts(ctx context.Context, q domain.PostQuery) ([]domain.Post, error) {
	if q.Limit <= 0 {
		q.Limit = 5
	}
	if q.Status == "" {
		q.Status = "publish"
	}
	rows, err := p.pool.Query(ctx,
		`SELECT p.id, p.type, p.status, p.title, p.content, p.permalink, p.section, p.image_url,
		        COALESCE(p.author_id, 0), COALESCE(NULLIF(u.display_name, ''), u.login, ''),
		        p.comment_count, p.published_at
		 FROM posts p LEFT JOIN users u ON u.id = p.author_id
		 WHERE ($1 = '' OR p.type = $1) AND p.status = $2
		 ORDER BY p.published_at DESC, p.id DESC
		 LIMIT $3`,
		q.Type, q.Status, q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var post domain.Post
		if err := rows.Scan(&post.ID, &post.Type, &post.Status, &post.Title, &post.Content, &post.Permalink,
			&post.Section, &post.ImageURL, &post.AuthorID, &post.AuthorName, &post.CommentCount, &post.PublishedAt); err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// --- Points ---

func (p *Postgres) Balance(ctx context.Context, accountID int64) (int64, error) {
	var bal int64
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT SUM(delta) FROM points_ledger WHERE user_id = u.id), 0)::BIGINT
		 FROM users u WHERE u.id = $1`, accountID,
	).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	return bal, err
}

func (p *Postgres) Mutate(ctx context.Context, m domain.PointsMutation) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO points_ledger (user_id, delta, token, type, note)
		 SELECT id, $2, $3, $4, $5 FROM users WHERE id = $1`,
		m.AccountID, m.Delta, m.Token, m.Type, m.Note,
	)
	if err != nil {
		return fmt.Errorf("mutate points for user %d: %w", m.AccountID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mutate points for user %d: %w", m.AccountID, domain.ErrNotFound)
	}
	return nil
}

// --- Check-ins ---

func (p *Postgres) Enabled() bool { return p.checkIn.Enabled }

func (p *Postgres) CheckedInToday(ctx context.Context, accountID int64) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM checkins WHERE user_id = $1 AND day = $2::date)`,
		accountID, p.cal.today(),
	).Scan(&exists)
	return exists, err
}

func (p *Postgres) RewardPreview(ctx context.Context, accountID int64) (domain.CheckInReward, error) {
	streak, err := p.streakBefore(ctx, p.pool, accountID)
	if err != nil {
		return domain.CheckInReward{}, err
	}
	return domain.CheckInReward{
		ContinuousDays: streak + 1,
		Points:         p.checkIn.Points,
		Integral:       p.checkIn.Integral,
	}, nil
}

func (p *Postgres) CheckIn(ctx context.Context, accountID int64) (domain.CheckInReward, error) {
	if _, err := p.AccountByID(ctx, accountID); err != nil {
		return domain.CheckInReward{}, err
	}

	var reward domain.CheckInReward
	today := p.cal.today()
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		streak, err := p.streakBefore(ctx, tx, accountID)
		if err != nil {
			return err
		}
		reward = domain.CheckInReward{
			ContinuousDays: streak + 1,
			Points:         p.checkIn.Points,
			Integral:       p.checkIn.Integral,
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO checkins (user_id, day, streak, points, integral) VALUES ($1, $2::date, $3, $4, $5)`,
			accountID, today, reward.ContinuousDays, reward.Points, reward.Integral,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return domain.ErrAlreadyCheckedIn
			}
			return fmt.Errorf("record check-in: %w", err)
		}
		if reward.Points == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO points_ledger (user_id, delta, token, type, note) VALUES ($1, $2, $3, $4, $5)`,
			accountID, reward.Points, checkInToken(accountID, today), "checkin", "每日签到",
		); err != nil {
			return fmt.Errorf("credit check-in points: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.CheckInReward{}, err
	}

	p.logger.Debug("check-in recorded", "user_id", accountID, "day", today, "streak", reward.ContinuousDays)
	return reward, nil
}

type pgQueryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Postgres) streakBefore(ctx context.Context, q pgQueryRower, accountID int64) (int, error) {
	var streak int
	err := q.QueryRow(ctx,
		`SELECT streak FROM checkins WHERE user_id = $1 AND day = $2::date`, accountID, p.cal.yesterday(),
	).Scan(&streak)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return streak, err
}
