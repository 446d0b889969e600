// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.astrophena.name/wallbot/internal/store"
	"go.astrophena.name/wallbot/internal/telegram"
)

// handleAdminCommand dispatches owner-only commands. It returns false when
// cmd is not an admin command, so regular handling takes over.
func (b *Bot) handleAdminCommand(ctx context.Context, m *telegram.Message, settings store.Settings, cmd, args string) (handled bool, err error) {
	switch cmd {
	case "ban":
		return true, b.setBanned(ctx, m, args, true)
	case "unban":
		return true, b.setBanned(ctx, m, args, false)
	case "addpremium":
		return true, b.addPremium(ctx, m, args)
	case "removepremium":
		return true, b.removePremium(ctx, m, args)
	case "users":
		return true, b.listUsers(ctx, m, args)
	case "stats":
		return true, b.sendStats(ctx, m)
	case "db":
		return true, b.dumpDB(ctx, m, settings)
	case "maintenance":
		return true, b.setMaintenance(ctx, m, settings, args)
	case "broadcast":
		return true, b.runBroadcast(ctx, m, args)
	case "setbinchannel":
		return true, b.setBinChannel(ctx, m, settings, args)
	case "setdelay":
		return true, b.setDelay(ctx, m, settings, args)
	case "addsource":
		return true, b.addSource(ctx, m, args)
	case "removesource":
		return true, b.removeSource(ctx, m, args)
	case "sources":
		return true, b.listSources(ctx, m)
	case "schedule":
		return true, b.handleSchedule(ctx, m, args)
	}
	return false, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q doesn't look like a Telegram ID", s)
	}
	return id, nil
}

func (b *Bot) setBanned(ctx context.Context, m *telegram.Message, args string, banned bool) error {
	id, err := parseID(args)
	if err != nil {
		return b.send(ctx, m.Chat.ID, err.Error())
	}
	u, err := b.Store.User(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return b.send(ctx, m.Chat.ID, "I don't know this user.")
	}
	if err != nil {
		return b.reportError(ctx, err)
	}
	u.Banned = banned
	if err := b.Store.SaveUser(ctx, u); err != nil {
		return b.reportError(ctx, err)
	}
	if banned {
		return b.send(ctx, m.Chat.ID, fmt.Sprintf("Banned %d.", id))
	}
	return b.send(ctx, m.Chat.ID, fmt.Sprintf("Unbanned %d.", id))
}

// addPremium upgrades a user: "/addpremium <id> [days]". Without days the
// subscription doesn't expire.
func (b *Bot) addPremium(ctx context.Context, m *telegram.Message, args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return b.send(ctx, m.Chat.ID, "Usage: /addpremium <id> [days]")
	}
	id, err := parseID(fields[0])
	if err != nil {
		return b.send(ctx, m.Chat.ID, err.Error())
	}
	var until time.Time
	if len(fields) > 1 {
		days, err := strconv.Atoi(fields[1])
		if err != nil || days <= 0 {
			return b.send(ctx, m.Chat.ID, fmt.Sprintf("%q doesn't look like a number of days.", fields[1]))
		}
		until = time.Now().UTC().AddDate(0, 0, days)
	}

	u, err := b.Store.User(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return b.send(ctx, m.Chat.ID, "I don't know this user.")
	}
	if err != nil {
		return b.reportError(ctx, err)
	}
	u.Tier = store.TierPremium
	u.PremiumUntil = until
	if err := b.Store.SaveUser(ctx, u); err != nil {
		return b.reportError(ctx, err)
	}

	// Tell the user about the upgrade; failures here shouldn't fail the
	// command.
	if err := b.send(ctx, id, "You've got premium now. Enjoy unlimited wallpapers! 💎"); err != nil {
		b.logf("bot: notifying %d about premium: %v", id, err)
	}

	if until.IsZero() {
		return b.send(ctx, m.Chat.ID, fmt.Sprintf("%d is premium now, no expiration.", id))
	}
	return b.send(ctx, m.Chat.ID, fmt.Sprintf("%d is premium until %s.", id, until.Format(time.DateOnly)))
}

func (b *Bot) removePremium(ctx context.Context, m *telegram.Message, args string) error {
	id, err := parseID(args)
	if err != nil {
		return b.send(ctx, m.Chat.ID, err.Error())
	}
	u, err := b.Store.User(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return b.send(ctx, m.Chat.ID, "I don't know this user.")
	}
	if err != nil {
		return b.reportError(ctx, err)
	}
	u.Tier = store.TierFree
	u.PremiumUntil = time.Time{}
	if err := b.Store.SaveUser(ctx, u); err != nil {
		return b.reportError(ctx, err)
	}
	return b.send(ctx, m.Chat.ID, fmt.Sprintf("%d is back on the free plan.", id))
}

const maxListedUsers = 30

// listUsers lists the most recent users: "/users [free|premium|banned]".
func (b *Bot) listUsers(ctx context.Context, m *telegram.Message, args string) error {
	users, err := b.Store.Users(ctx)
	if err != nil {
		return b.reportError(ctx, err)
	}

	filter := strings.ToLower(strings.TrimSpace(args))
	now := time.Now()
	switch filter {
	case "":
	case "free", "premium":
		users = slices.DeleteFunc(users, func(u store.User) bool {
			return u.EffectiveTier(now) != store.Tier(filter)
		})
	case "banned":
		users = slices.DeleteFunc(users, func(u store.User) bool { return !u.Banned })
	default:
		return b.send(ctx, m.Chat.ID, "Usage: /users [free|premium|banned]")
	}
	if len(users) == 0 {
		if filter != "" {
			return b.send(ctx, m.Chat.ID, fmt.Sprintf("No %s users.", filter))
		}
		return b.send(ctx, m.Chat.ID, "No users yet.")
	}

	var sb strings.Builder
	if filter != "" {
		fmt.Fprintf(&sb, "%d %s users. Most recent:\n\n", len(users), filter)
	} else {
		fmt.Fprintf(&sb, "%d users total. Most recent:\n\n", len(users))
	}
	recent := users
	if len(recent) > maxListedUsers {
		recent = recent[len(recent)-maxListedUsers:]
	}
	for i := len(recent) - 1; i >= 0; i-- {
		u := recent[i]
		fmt.Fprintf(&sb, "%d", u.ID)
		if u.Username != "" {
			fmt.Fprintf(&sb, " (@%s)", u.Username)
		}
		fmt.Fprintf(&sb, " %s", u.Tier)
		if u.Banned {
			sb.WriteString(" banned")
		}
		sb.WriteString("\n")
	}
	return b.send(ctx, m.Chat.ID, sb.String())
}

func (b *Bot) sendStats(ctx context.Context, m *telegram.Message) error {
	st, err := b.Store.Stats(ctx)
	if err != nil {
		return b.reportError(ctx, err)
	}
	return b.send(ctx, m.Chat.ID, fmt.Sprintf(
		"Users: %d (%d premium, %d banned)\nActive today: %d\nActive schedules: %d\nCustom sources: %d",
		st.TotalUsers, st.PremiumUsers, st.BannedUsers, st.ActiveToday, st.ActiveSchedules, st.Sources,
	))
}

// dumpDB sends the stats and settings as indented JSON.
func (b *Bot) dumpDB(ctx context.Context, m *telegram.Message, settings store.Settings) error {
	st, err := b.Store.Stats(ctx)
	if err != nil {
		return b.reportError(ctx, err)
	}
	dump, err := json.MarshalIndent(struct {
		Stats    store.Stats    `json:"stats"`
		Settings store.Settings `json:"settings"`
	}{st, settings}, "", "  ")
	if err != nil {
		return b.reportError(ctx, err)
	}
	return b.send(ctx, m.Chat.ID, string(dump))
}

func (b *Bot) setMaintenance(ctx context.Context, m *telegram.Message, settings store.Settings, args string) error {
	switch strings.ToLower(args) {
	case "on":
		settings.Maintenance = true
	case "off":
		settings.Maintenance = false
	default:
		return b.send(ctx, m.Chat.ID, "Usage: /maintenance on|off")
	}
	if err := b.Store.SaveSettings(ctx, settings); err != nil {
		return b.reportError(ctx, err)
	}
	if settings.Maintenance {
		return b.send(ctx, m.Chat.ID, "Maintenance mode is on. Only admins can use the bot now.")
	}
	return b.send(ctx, m.Chat.ID, "Maintenance mode is off.")
}

// runBroadcast delivers a message to one of three kinds of destinations:
//
//	/broadcast group <message>                  all active schedule channels
//	/broadcast channel <ID[,ID...]> <message>   the listed channels
//	/broadcast dm [free|premium|all] <message>  users, optionally by tier
func (b *Bot) runBroadcast(ctx context.Context, m *telegram.Message, args string) error {
	const usage = "Usage:\n/broadcast group <message>\n/broadcast channel <ID[,ID...]> <message>\n/broadcast dm [free|premium|all] <message>"

	mode, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimSpace(rest)

	var (
		ids  []int64
		what string
		text string
	)
	switch strings.ToLower(mode) {
	case "group":
		if rest == "" {
			return b.send(ctx, m.Chat.ID, usage)
		}
		schedules, err := b.Store.Schedules(ctx)
		if err != nil {
			return b.reportError(ctx, err)
		}
		seen := make(map[int64]bool)
		for _, sc := range schedules {
			if sc.Active && !seen[sc.ChannelID] {
				seen[sc.ChannelID] = true
				ids = append(ids, sc.ChannelID)
			}
		}
		text, what = rest, "schedule channels"
	case "channel":
		list, msg, _ := strings.Cut(rest, " ")
		msg = strings.TrimSpace(msg)
		if list == "" || msg == "" {
			return b.send(ctx, m.Chat.ID, usage)
		}
		for _, s := range strings.Split(list, ",") {
			id, err := parseID(s)
			if err != nil {
				return b.send(ctx, m.Chat.ID, err.Error())
			}
			ids = append(ids, id)
		}
		text, what = msg, "channels"
	case "dm":
		tier, msg, _ := strings.Cut(rest, " ")
		msg = strings.TrimSpace(msg)
		switch strings.ToLower(tier) {
		case "free", "premium":
			tier = strings.ToLower(tier)
		case "all":
			tier = ""
		default:
			// No tier selector, the whole rest is the message.
			tier, msg = "", rest
		}
		if msg == "" {
			return b.send(ctx, m.Chat.ID, usage)
		}
		users, err := b.Store.Users(ctx)
		if err != nil {
			return b.reportError(ctx, err)
		}
		now := time.Now()
		for _, u := range users {
			if u.Banned {
				continue
			}
			if tier != "" && u.EffectiveTier(now) != store.Tier(tier) {
				continue
			}
			ids = append(ids, u.ID)
		}
		text, what = msg, "users"
	default:
		return b.send(ctx, m.Chat.ID, usage)
	}

	if err := b.send(ctx, m.Chat.ID, fmt.Sprintf("Broadcasting to %d %s...", len(ids), what)); err != nil {
		b.logf("bot: %v", err)
	}
	res := b.Broadcaster.Send(ctx, ids, func(ctx context.Context, chatID int64) error {
		return b.send(ctx, chatID, text)
	})
	return b.send(ctx, m.Chat.ID, fmt.Sprintf("Broadcast done: %d sent, %d failed.", res.Sent, res.Failed))
}

func (b *Bot) setBinChannel(ctx context.Context, m *telegram.Message, settings store.Settings, args string) error {
	id, err := parseID(args)
	if err != nil {
		return b.send(ctx, m.Chat.ID, "Usage: /setbinchannel <channel ID>, or 0 to disable.")
	}
	settings.BinChannelID = id
	if err := b.Store.SaveSettings(ctx, settings); err != nil {
		return b.reportError(ctx, err)
	}
	if id == 0 {
		return b.send(ctx, m.Chat.ID, "Bin channel disabled.")
	}
	return b.send(ctx, m.Chat.ID, fmt.Sprintf("Wallpapers will be archived to %d.", id))
}

func (b *Bot) setDelay(ctx context.Context, m *telegram.Message, settings store.Settings, args string) error {
	minutes, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || minutes < 0 {
		return b.send(ctx, m.Chat.ID, "Usage: /setdelay <minutes>")
	}
	settings.DelayMinutes = minutes
	if err := b.Store.SaveSettings(ctx, settings); err != nil {
		return b.reportError(ctx, err)
	}
	return b.send(ctx, m.Chat.ID, fmt.Sprintf("Delay between scheduled posts set to %d minutes.", minutes))
}

func (b *Bot) addSource(ctx context.Context, m *telegram.Message, args string) error {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return b.send(ctx, m.Chat.ID, "Usage: /addsource <name> <url> [key]\n\nThe URL may contain {query} and {key} placeholders.")
	}
	src := store.Source{
		Name:    fields[0],
		URL:     fields[1],
		AddedAt: time.Now().UTC(),
	}
	if len(fields) > 2 {
		src.Key = fields[2]
	}
	if err := b.Store.SaveSource(ctx, src); err != nil {
		return b.reportError(ctx, err)
	}
	return b.send(ctx, m.Chat.ID, fmt.Sprintf("Added source %q. It is tried after the built-in providers.", src.Name))
}

func (b *Bot) removeSource(ctx context.Context, m *telegram.Message, args string) error {
	name := strings.TrimSpace(args)
	if name == "" {
		return b.send(ctx, m.Chat.ID, "Usage: /removesource <name>")
	}
	err := b.Store.DeleteSource(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return b.send(ctx, m.Chat.ID, fmt.Sprintf("There is no source named %q.", name))
	}
	if err != nil {
		return b.reportError(ctx, err)
	}
	return b.send(ctx, m.Chat.ID, fmt.Sprintf("Removed source %q.", name))
}

func (b *Bot) listSources(ctx context.Context, m *telegram.Message) error {
	sources, err := b.Store.Sources(ctx)
	if err != nil {
		return b.reportError(ctx, err)
	}
	if len(sources) == 0 {
		return b.send(ctx, m.Chat.ID, "No custom sources. Add one with /addsource.")
	}
	var sb strings.Builder
	sb.WriteString("Custom sources:\n\n")
	for _, src := range sources {
		fmt.Fprintf(&sb, "%s: %s\n", src.Name, src.URL)
	}
	return b.send(ctx, m.Chat.ID, sb.String())
}

// handleSchedule manages channel posting schedules:
//
//	/schedule add <channel ID> <hourly|daily> [category]
//	/schedule remove <ID>
//	/schedule list
func (b *Bot) handleSchedule(ctx context.Context, m *telegram.Message, args string) error {
	const usage = "Usage:\n/schedule add <channel ID> <hourly|daily> [category]\n/schedule remove <ID>\n/schedule list"

	sub, rest, _ := strings.Cut(args, " ")
	switch sub {
	case "add":
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			return b.send(ctx, m.Chat.ID, usage)
		}
		channelID, err := parseID(fields[0])
		if err != nil {
			return b.send(ctx, m.Chat.ID, err.Error())
		}
		interval := store.Interval(fields[1])
		if !interval.Valid() {
			return b.send(ctx, m.Chat.ID, fmt.Sprintf("%q is not a valid interval, use hourly or daily.", fields[1]))
		}
		sc := store.Schedule{
			ID:        uuid.NewString(),
			ChannelID: channelID,
			Interval:  interval,
			Active:    true,
		}
		if len(fields) > 2 {
			sc.Category = strings.Join(fields[2:], " ")
		}
		if err := b.Store.SaveSchedule(ctx, sc); err != nil {
			return b.reportError(ctx, err)
		}
		if b.Scheduler != nil {
			b.Scheduler.Add(sc)
		}
		return b.send(ctx, m.Chat.ID, fmt.Sprintf("Scheduled %s posts to %d.\nID: %s", sc.Interval, sc.ChannelID, sc.ID))
	case "remove":
		id := strings.TrimSpace(rest)
		if id == "" {
			return b.send(ctx, m.Chat.ID, usage)
		}
		err := b.Store.DeleteSchedule(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return b.send(ctx, m.Chat.ID, "There is no schedule with this ID.")
		}
		if err != nil {
			return b.reportError(ctx, err)
		}
		if b.Scheduler != nil {
			b.Scheduler.Remove(id)
		}
		return b.send(ctx, m.Chat.ID, "Schedule removed.")
	case "list":
		schedules, err := b.Store.Schedules(ctx)
		if err != nil {
			return b.reportError(ctx, err)
		}
		if len(schedules) == 0 {
			return b.send(ctx, m.Chat.ID, "No schedules.")
		}
		var sb strings.Builder
		sb.WriteString("Schedules:\n\n")
		for _, sc := range schedules {
			category := sc.Category
			if category == "" {
				category = "random"
			}
			fmt.Fprintf(&sb, "%s: %s %s to %d", sc.ID, sc.Interval, category, sc.ChannelID)
			if !sc.Active {
				sb.WriteString(" (inactive)")
			}
			sb.WriteString("\n")
		}
		return b.send(ctx, m.Chat.ID, sb.String())
	}
	return b.send(ctx, m.Chat.ID, usage)
}
