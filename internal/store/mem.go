// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// Mem is an in-memory implementation of the [Store] interface, used in
// tests.
type Mem struct {
	mu        sync.RWMutex
	users     map[int64]User
	schedules map[string]Schedule
	sources   map[string]Source
	reports   map[string]Report
	settings  *Settings
}

// NewMem creates a new [Mem] store.
func NewMem() *Mem {
	return &Mem{
		users:     make(map[int64]User),
		schedules: make(map[string]Schedule),
		sources:   make(map[string]Source),
		reports:   make(map[string]Report),
	}
}

// User retrieves a user by Telegram ID.
func (s *Mem) User(_ context.Context, id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// SaveUser inserts or updates a user.
func (s *Mem) SaveUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

// Users returns all users, ordered by join time.
func (s *Mem) Users(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b User) int { return a.JoinedAt.Compare(b.JoinedAt) })
	return users, nil
}

// Schedules returns all channel schedules.
func (s *Mem) Schedules(_ context.Context) ([]Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schedules := make([]Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		schedules = append(schedules, sc)
	}
	slices.SortFunc(schedules, func(a, b Schedule) int { return strings.Compare(a.ID, b.ID) })
	return schedules, nil
}

// SaveSchedule inserts or updates a schedule.
func (s *Mem) SaveSchedule(_ context.Context, sc Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sc.ID] = sc
	return nil
}

// DeleteSchedule removes a schedule by ID.
func (s *Mem) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

// Sources returns all runtime-added wallpaper sources.
func (s *Mem) Sources(_ context.Context) ([]Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sources := make([]Source, 0, len(s.sources))
	for _, src := range s.sources {
		sources = append(sources, src)
	}
	slices.SortFunc(sources, func(a, b Source) int { return a.AddedAt.Compare(b.AddedAt) })
	return sources, nil
}

// SaveSource inserts or updates a source by name.
func (s *Mem) SaveSource(_ context.Context, src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.sources[src.Name]; ok {
		src.AddedAt = old.AddedAt
	}
	s.sources[src.Name] = src
	return nil
}

// DeleteSource removes a source by name.
func (s *Mem) DeleteSource(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[name]; !ok {
		return ErrNotFound
	}
	delete(s.sources, name)
	return nil
}

// SaveReport stores a report or feedback message.
func (s *Mem) SaveReport(_ context.Context, r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = r
	return nil
}

// Reports returns all stored reports, ordered by creation time.
func (s *Mem) Reports(_ context.Context) ([]Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reports := make([]Report, 0, len(s.reports))
	for _, r := range s.reports {
		reports = append(reports, r)
	}
	slices.SortFunc(reports, func(a, b Report) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return reports, nil
}

// Settings retrieves the bot settings.
func (s *Mem) Settings(_ context.Context) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return DefaultSettings(), nil
	}
	return *s.settings, nil
}

// SaveSettings replaces the bot settings.
func (s *Mem) SaveSettings(_ context.Context, set Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &set
	return nil
}

// Stats computes a summary of the stored data.
func (s *Mem) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		TotalUsers: len(s.users),
		Sources:    len(s.sources),
	}
	today := time.Now().UTC().Format(time.DateOnly)
	for _, u := range s.users {
		if u.Tier == TierPremium {
			st.PremiumUsers++
		}
		if u.Banned {
			st.BannedUsers++
		}
		if u.LastFetchDay == today {
			st.ActiveToday++
		}
	}
	for _, sc := range s.schedules {
		if sc.Active {
			st.ActiveSchedules++
		}
	}
	return st, nil
}

// Close is a no-op for the in-memory store.
func (s *Mem) Close() error { return nil }
