// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a PostgreSQL implementation of the [Store] interface.
type Postgres struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGINT PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL DEFAULT 'free',
	fetch_count INTEGER NOT NULL DEFAULT 0,
	last_fetch_day TEXT NOT NULL DEFAULT '',
	joined_at TIMESTAMPTZ NOT NULL,
	banned BOOLEAN NOT NULL DEFAULT FALSE,
	premium_until TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS schedules (
	id TEXT PRIMARY KEY,
	channel_id BIGINT NOT NULL,
	post_interval TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	last_post TIMESTAMPTZ,
	active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE TABLE IF NOT EXISTS sources (
	name TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	key TEXT NOT NULL DEFAULT '',
	added_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS reports (
	id TEXT PRIMARY KEY,
	user_id BIGINT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	maintenance BOOLEAN NOT NULL DEFAULT FALSE,
	bin_channel_id BIGINT NOT NULL DEFAULT 0,
	delay_minutes INTEGER NOT NULL DEFAULT 5,
	owners JSONB NOT NULL DEFAULT '[]'
);
`

// NewPostgres creates a new [Postgres] store and connects to the database.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// User retrieves a user by Telegram ID.
func (s *Postgres) User(ctx context.Context, id int64) (User, error) {
	var (
		u            User
		premiumUntil *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, first_name, tier, fetch_count, last_fetch_day, joined_at, banned, premium_until
		FROM users WHERE id = $1;
	`, id).Scan(&u.ID, &u.Username, &u.FirstName, &u.Tier, &u.FetchCount, &u.LastFetchDay, &u.JoinedAt, &u.Banned, &premiumUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if premiumUntil != nil {
		u.PremiumUntil = premiumUntil.UTC()
	}
	u.JoinedAt = u.JoinedAt.UTC()
	return u, nil
}

// SaveUser inserts or updates a user.
func (s *Postgres) SaveUser(ctx context.Context, u User) error {
	var premiumUntil *time.Time
	if !u.PremiumUntil.IsZero() {
		premiumUntil = &u.PremiumUntil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, first_name, tier, fetch_count, last_fetch_day, joined_at, banned, premium_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			tier = excluded.tier,
			fetch_count = excluded.fetch_count,
			last_fetch_day = excluded.last_fetch_day,
			banned = excluded.banned,
			premium_until = excluded.premium_until;
	`, u.ID, u.Username, u.FirstName, u.Tier, u.FetchCount, u.LastFetchDay, u.JoinedAt, u.Banned, premiumUntil)
	return err
}

// Users returns all users, ordered by join time.
func (s *Postgres) Users(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, first_name, tier, fetch_count, last_fetch_day, joined_at, banned, premium_until
		FROM users ORDER BY joined_at;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var (
			u            User
			premiumUntil *time.Time
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.FirstName, &u.Tier, &u.FetchCount, &u.LastFetchDay, &u.JoinedAt, &u.Banned, &premiumUntil); err != nil {
			return nil, err
		}
		if premiumUntil != nil {
			u.PremiumUntil = premiumUntil.UTC()
		}
		u.JoinedAt = u.JoinedAt.UTC()
		users = append(users, u)
	}
	return users, rows.Err()
}

// Schedules returns all channel schedules.
func (s *Postgres) Schedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel_id, post_interval, category, last_post, active FROM schedules;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		var (
			sc       Schedule
			lastPost *time.Time
		)
		if err := rows.Scan(&sc.ID, &sc.ChannelID, &sc.Interval, &sc.Category, &lastPost, &sc.Active); err != nil {
			return nil, err
		}
		if lastPost != nil {
			sc.LastPost = lastPost.UTC()
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

// SaveSchedule inserts or updates a schedule.
func (s *Postgres) SaveSchedule(ctx context.Context, sc Schedule) error {
	var lastPost *time.Time
	if !sc.LastPost.IsZero() {
		lastPost = &sc.LastPost
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO schedules (id, channel_id, post_interval, category, last_post, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			channel_id = excluded.channel_id,
			post_interval = excluded.post_interval,
			category = excluded.category,
			last_post = excluded.last_post,
			active = excluded.active;
	`, sc.ID, sc.ChannelID, sc.Interval, sc.Category, lastPost, sc.Active)
	return err
}

// DeleteSchedule removes a schedule by ID.
func (s *Postgres) DeleteSchedule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Sources returns all runtime-added wallpaper sources.
func (s *Postgres) Sources(ctx context.Context) ([]Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, url, key, added_at FROM sources ORDER BY added_at;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.Name, &src.URL, &src.Key, &src.AddedAt); err != nil {
			return nil, err
		}
		src.AddedAt = src.AddedAt.UTC()
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// SaveSource inserts or updates a source by name.
func (s *Postgres) SaveSource(ctx context.Context, src Source) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sources (name, url, key, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			url = excluded.url,
			key = excluded.key;
	`, src.Name, src.URL, src.Key, src.AddedAt)
	return err
}

// DeleteSource removes a source by name.
func (s *Postgres) DeleteSource(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE name = $1;`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveReport stores a report or feedback message.
func (s *Postgres) SaveReport(ctx context.Context, r Report) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reports (id, user_id, username, kind, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`, r.ID, r.UserID, r.Username, r.Kind, r.Text, r.CreatedAt)
	return err
}

// Reports returns all stored reports, ordered by creation time.
func (s *Postgres) Reports(ctx context.Context) ([]Report, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, username, kind, body, created_at FROM reports ORDER BY created_at;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.UserID, &r.Username, &r.Kind, &r.Text, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Settings retrieves the bot settings.
func (s *Postgres) Settings(ctx context.Context) (Settings, error) {
	var set Settings
	err := s.pool.QueryRow(ctx, `
		SELECT maintenance, bin_channel_id, delay_minutes, owners FROM settings WHERE id = 1;
	`).Scan(&set.Maintenance, &set.BinChannelID, &set.DelayMinutes, &set.Owners)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return set, nil
}

// SaveSettings replaces the bot settings.
func (s *Postgres) SaveSettings(ctx context.Context, set Settings) error {
	owners := set.Owners
	if owners == nil {
		owners = []int64{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (id, maintenance, bin_channel_id, delay_minutes, owners)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			maintenance = excluded.maintenance,
			bin_channel_id = excluded.bin_channel_id,
			delay_minutes = excluded.delay_minutes,
			owners = excluded.owners;
	`, set.Maintenance, set.BinChannelID, set.DelayMinutes, owners)
	return err
}

// Stats computes a summary of the stored data.
func (s *Postgres) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	today := time.Now().UTC().Format(time.DateOnly)
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE tier = 'premium'),
			(SELECT COUNT(*) FROM users WHERE banned),
			(SELECT COUNT(*) FROM users WHERE last_fetch_day = $1),
			(SELECT COUNT(*) FROM schedules WHERE active),
			(SELECT COUNT(*) FROM sources);
	`, today).Scan(&st.TotalUsers, &st.PremiumUsers, &st.BannedUsers, &st.ActiveToday, &st.ActiveSchedules, &st.Sources)
	return st, err
}

// Close closes the database connection.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
