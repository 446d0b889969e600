// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package store persists users, channel schedules, wallpaper sources, user
// reports and bot settings, backed in-memory, by SQLite or by PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.astrophena.name/wallbot/internal/logger"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Tier is a subscription tier of a user.
type Tier string

// Available subscription tiers.
const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Interval is how often a channel schedule posts.
type Interval string

// Available schedule intervals.
const (
	IntervalHourly Interval = "hourly"
	IntervalDaily  Interval = "daily"
)

// Duration returns the time between consecutive posts of a schedule.
func (i Interval) Duration() time.Duration {
	if i == IntervalDaily {
		return 24 * time.Hour
	}
	return time.Hour
}

// Valid reports whether i is a known interval.
func (i Interval) Valid() bool { return i == IntervalHourly || i == IntervalDaily }

// User is a person who talked to the bot at least once.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	FirstName    string    `json:"first_name"`
	Tier         Tier      `json:"tier"`
	FetchCount   int       `json:"fetch_count"`
	LastFetchDay string    `json:"last_fetch_day"` // YYYY-MM-DD in UTC
	JoinedAt     time.Time `json:"joined_at"`
	Banned       bool      `json:"banned"`
	// PremiumUntil is when the premium tier expires. Zero means the
	// subscription doesn't expire.
	PremiumUntil time.Time `json:"premium_until"`
}

// EffectiveTier returns the user's tier at the given time, downgrading
// expired premium subscriptions to free.
func (u *User) EffectiveTier(now time.Time) Tier {
	if u.Tier == TierPremium && !u.PremiumUntil.IsZero() && now.After(u.PremiumUntil) {
		return TierFree
	}
	return u.Tier
}

// RemainingFetches returns how many wallpapers the user can still fetch
// today. Premium users are unlimited and always get -1.
func (u *User) RemainingFetches(now time.Time, dailyLimit int) int {
	if u.EffectiveTier(now) == TierPremium {
		return -1
	}
	if u.LastFetchDay != now.UTC().Format(time.DateOnly) {
		return dailyLimit
	}
	return max(dailyLimit-u.FetchCount, 0)
}

// CountFetch records one wallpaper fetch, resetting the counter on the
// first fetch of a new UTC day.
func (u *User) CountFetch(now time.Time) {
	day := now.UTC().Format(time.DateOnly)
	if u.LastFetchDay != day {
		u.LastFetchDay = day
		u.FetchCount = 0
	}
	u.FetchCount++
}

// Schedule periodically posts a wallpaper to a channel.
type Schedule struct {
	ID        string    `json:"id"` // UUID
	ChannelID int64     `json:"channel_id"`
	Interval  Interval  `json:"interval"`
	Category  string    `json:"category"`
	LastPost  time.Time `json:"last_post"`
	Active    bool      `json:"active"`
}

// Source is a wallpaper provider added at runtime, tried after the built-in
// providers.
type Source struct {
	Name    string    `json:"name"`
	URL     string    `json:"url"`
	Key     string    `json:"key"` // API key, may be empty
	AddedAt time.Time `json:"added_at"`
}

// Report is a bug report or feedback message sent by a user.
type Report struct {
	ID        string    `json:"id"` // UUID
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Kind      string    `json:"kind"` // "report" or "feedback"
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Settings are bot-wide settings adjustable by the owners.
type Settings struct {
	Maintenance  bool    `json:"maintenance"`
	BinChannelID int64   `json:"bin_channel_id"` // channel that archives every sent wallpaper
	DelayMinutes int     `json:"delay_minutes"`  // delay between scheduled channel posts
	Owners       []int64 `json:"owners"`
}

// DefaultSettings returns the settings used before the owners adjust
// anything.
func DefaultSettings() Settings {
	return Settings{DelayMinutes: 5}
}

// Stats is a summary of stored data for the /stats admin command.
type Stats struct {
	TotalUsers      int `json:"total_users"`
	PremiumUsers    int `json:"premium_users"`
	BannedUsers     int `json:"banned_users"`
	ActiveToday     int `json:"active_today"`
	ActiveSchedules int `json:"active_schedules"`
	Sources         int `json:"sources"`
}

// Store persists the bot state.
type Store interface {
	// User retrieves a user by Telegram ID. It returns ErrNotFound if
	// the user does not exist.
	User(ctx context.Context, id int64) (User, error)
	// SaveUser inserts or updates a user.
	SaveUser(ctx context.Context, u User) error
	// Users returns all users, ordered by join time.
	Users(ctx context.Context) ([]User, error)

	// Schedules returns all channel schedules.
	Schedules(ctx context.Context) ([]Schedule, error)
	// SaveSchedule inserts or updates a schedule.
	SaveSchedule(ctx context.Context, s Schedule) error
	// DeleteSchedule removes a schedule by ID. It returns ErrNotFound if
	// the schedule does not exist.
	DeleteSchedule(ctx context.Context, id string) error

	// Sources returns all runtime-added wallpaper sources.
	Sources(ctx context.Context) ([]Source, error)
	// SaveSource inserts or updates a source by name.
	SaveSource(ctx context.Context, s Source) error
	// DeleteSource removes a source by name. It returns ErrNotFound if
	// the source does not exist.
	DeleteSource(ctx context.Context, name string) error

	// SaveReport stores a report or feedback message.
	SaveReport(ctx context.Context, r Report) error
	// Reports returns all stored reports, ordered by creation time.
	Reports(ctx context.Context) ([]Report, error)

	// Settings retrieves the bot settings, returning defaults if none
	// were saved yet.
	Settings(ctx context.Context) (Settings, error)
	// SaveSettings replaces the bot settings.
	SaveSettings(ctx context.Context, s Settings) error

	// Stats computes a summary of the stored data.
	Stats(ctx context.Context) (Stats, error)

	// Close closes the store and releases any resources.
	Close() error
}

const (
	connectAttempts  = 5
	connectBaseDelay = time.Second
)

// Open connects to the store described by databaseURL (PostgreSQL) or
// dbPath (SQLite), preferring PostgreSQL when both are set. Connection
// failures are retried with exponential backoff before giving up.
func Open(ctx context.Context, logf logger.Logf, databaseURL, dbPath string) (Store, error) {
	open := func(ctx context.Context) (Store, error) { return NewSQLite(ctx, dbPath) }
	what := "SQLite database " + dbPath
	if databaseURL != "" {
		open = func(ctx context.Context) (Store, error) { return NewPostgres(ctx, databaseURL) }
		what = "PostgreSQL"
	}

	var lastErr error
	for attempt := range connectAttempts {
		if attempt > 0 {
			delay := connectBaseDelay << (attempt - 1)
			logf("Connecting to %s failed (attempt %d/%d), retrying in %v: %v", what, attempt, connectAttempts, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		s, err := open(ctx)
		if err == nil {
			return s, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("store: connecting to %s: %w", what, lastErr)
}
