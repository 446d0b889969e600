// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a SQLite implementation of the [Store] interface.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL DEFAULT 'free',
	fetch_count INTEGER NOT NULL DEFAULT 0,
	last_fetch_day TEXT NOT NULL DEFAULT '',
	joined_at INTEGER NOT NULL,
	banned INTEGER NOT NULL DEFAULT 0,
	premium_until INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS schedules (
	id TEXT PRIMARY KEY,
	channel_id INTEGER NOT NULL,
	post_interval TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	last_post INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS sources (
	name TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	key TEXT NOT NULL DEFAULT '',
	added_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS reports (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	maintenance INTEGER NOT NULL DEFAULT 0,
	bin_channel_id INTEGER NOT NULL DEFAULT 0,
	delay_minutes INTEGER NOT NULL DEFAULT 5,
	owners TEXT NOT NULL DEFAULT '[]'
);
`

// NewSQLite creates a new [SQLite] store and connects to the database.
func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// User retrieves a user by Telegram ID.
func (s *SQLite) User(ctx context.Context, id int64) (User, error) {
	var (
		u                     User
		joinedAt, premiumTill int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, first_name, tier, fetch_count, last_fetch_day, joined_at, banned, premium_until
		FROM users WHERE id = ?;
	`, id).Scan(&u.ID, &u.Username, &u.FirstName, &u.Tier, &u.FetchCount, &u.LastFetchDay, &joinedAt, &u.Banned, &premiumTill)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.JoinedAt = time.Unix(joinedAt, 0).UTC()
	if premiumTill != 0 {
		u.PremiumUntil = time.Unix(premiumTill, 0).UTC()
	}
	return u, nil
}

// SaveUser inserts or updates a user.
func (s *SQLite) SaveUser(ctx context.Context, u User) error {
	var premiumTill int64
	if !u.PremiumUntil.IsZero() {
		premiumTill = u.PremiumUntil.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, first_name, tier, fetch_count, last_fetch_day, joined_at, banned, premium_until)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			tier = excluded.tier,
			fetch_count = excluded.fetch_count,
			last_fetch_day = excluded.last_fetch_day,
			banned = excluded.banned,
			premium_until = excluded.premium_until;
	`, u.ID, u.Username, u.FirstName, u.Tier, u.FetchCount, u.LastFetchDay, u.JoinedAt.Unix(), u.Banned, premiumTill)
	return err
}

// Users returns all users, ordered by join time.
func (s *SQLite) Users(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
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
			u                     User
			joinedAt, premiumTill int64
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.FirstName, &u.Tier, &u.FetchCount, &u.LastFetchDay, &joinedAt, &u.Banned, &premiumTill); err != nil {
			return nil, err
		}
		u.JoinedAt = time.Unix(joinedAt, 0).UTC()
		if premiumTill != 0 {
			u.PremiumUntil = time.Unix(premiumTill, 0).UTC()
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Schedules returns all channel schedules.
func (s *SQLite) Schedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
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
			lastPost int64
		)
		if err := rows.Scan(&sc.ID, &sc.ChannelID, &sc.Interval, &sc.Category, &lastPost, &sc.Active); err != nil {
			return nil, err
		}
		if lastPost != 0 {
			sc.LastPost = time.Unix(lastPost, 0).UTC()
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

// SaveSchedule inserts or updates a schedule.
func (s *SQLite) SaveSchedule(ctx context.Context, sc Schedule) error {
	var lastPost int64
	if !sc.LastPost.IsZero() {
		lastPost = sc.LastPost.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, channel_id, post_interval, category, last_post, active)
		VALUES (?, ?, ?, ?, ?, ?)
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
func (s *SQLite) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?;`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Sources returns all runtime-added wallpaper sources.
func (s *SQLite) Sources(ctx context.Context) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, url, key, added_at FROM sources ORDER BY added_at;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var (
			src     Source
			addedAt int64
		)
		if err := rows.Scan(&src.Name, &src.URL, &src.Key, &addedAt); err != nil {
			return nil, err
		}
		src.AddedAt = time.Unix(addedAt, 0).UTC()
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// SaveSource inserts or updates a source by name.
func (s *SQLite) SaveSource(ctx context.Context, src Source) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (name, url, key, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			url = excluded.url,
			key = excluded.key;
	`, src.Name, src.URL, src.Key, src.AddedAt.Unix())
	return err
}

// DeleteSource removes a source by name.
func (s *SQLite) DeleteSource(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE name = ?;`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveReport stores a report or feedback message.
func (s *SQLite) SaveReport(ctx context.Context, r Report) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, user_id, username, kind, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, r.ID, r.UserID, r.Username, r.Kind, r.Text, r.CreatedAt.Unix())
	return err
}

// Reports returns all stored reports, ordered by creation time.
func (s *SQLite) Reports(ctx context.Context) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, username, kind, body, created_at FROM reports ORDER BY created_at;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var (
			r         Report
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Username, &r.Kind, &r.Text, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Settings retrieves the bot settings.
func (s *SQLite) Settings(ctx context.Context) (Settings, error) {
	var (
		set    Settings
		owners string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT maintenance, bin_channel_id, delay_minutes, owners FROM settings WHERE id = 1;
	`).Scan(&set.Maintenance, &set.BinChannelID, &set.DelayMinutes, &owners)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	if err := json.Unmarshal([]byte(owners), &set.Owners); err != nil {
		return Settings{}, err
	}
	return set, nil
}

// SaveSettings replaces the bot settings.
func (s *SQLite) SaveSettings(ctx context.Context, set Settings) error {
	owners, err := json.Marshal(set.Owners)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, maintenance, bin_channel_id, delay_minutes, owners)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			maintenance = excluded.maintenance,
			bin_channel_id = excluded.bin_channel_id,
			delay_minutes = excluded.delay_minutes,
			owners = excluded.owners;
	`, set.Maintenance, set.BinChannelID, set.DelayMinutes, string(owners))
	return err
}

// Stats computes a summary of the stored data.
func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	today := time.Now().UTC().Format(time.DateOnly)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE tier = 'premium'),
			(SELECT COUNT(*) FROM users WHERE banned),
			(SELECT COUNT(*) FROM users WHERE last_fetch_day = ?),
			(SELECT COUNT(*) FROM schedules WHERE active),
			(SELECT COUNT(*) FROM sources);
	`, today).Scan(&st.TotalUsers, &st.PremiumUsers, &st.BannedUsers, &st.ActiveToday, &st.ActiveSchedules, &st.Sources)
	return st, err
}

// Close closes the database connection.
func (s *SQLite) Close() error { return s.db.Close() }
