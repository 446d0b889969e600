// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package bot routes Telegram updates to command handlers and enforces
// per-user limits.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/wallbot/internal/broadcast"
	"go.astrophena.name/wallbot/internal/fetch"
	"go.astrophena.name/wallbot/internal/logger"
	"go.astrophena.name/wallbot/internal/ratelimit"
	"go.astrophena.name/wallbot/internal/schedule"
	"go.astrophena.name/wallbot/internal/store"
	"go.astrophena.name/wallbot/internal/telegram"
)

const (
	// FreeDailyLimit is how many wallpapers a free user can fetch per UTC
	// day.
	FreeDailyLimit = 5
	// RateLimitInterval is the minimum time between two messages from the
	// same user.
	RateLimitInterval = 2 * time.Second
)

// Categories offered on the category keyboard. Any other text works as a
// free-form search query.
var Categories = []string{
	"nature", "space", "abstract", "minimal", "city",
	"mountains", "ocean", "forest", "flowers", "animals",
	"cars", "technology", "architecture", "art", "dark",
	"neon", "sky", "winter", "summer", "sunset",
}

// reactions is the emoji pool for reacting to fetch requests.
var reactions = []string{"👍", "❤", "🔥", "🥰", "👏", "🎉", "⚡", "💯"}

func randomReaction() string { return reactions[rand.IntN(len(reactions))] }

// Bot handles Telegram updates.
//
// All exported fields of Bot can't be modified after the first call to
// HandleUpdate or Poll.
type Bot struct {
	// Client talks to the Telegram Bot API. Must be set.
	Client *telegram.Client
	// Store persists users, schedules, sources and settings. Must be set.
	Store store.Store
	// Fetcher retrieves wallpapers. Must be set.
	Fetcher *fetch.Fetcher
	// Limiter throttles messages per user. Must be set.
	Limiter ratelimit.Limiter
	// Broadcaster delivers owner broadcasts.
	Broadcaster *broadcast.Broadcaster
	// Scheduler runs channel posting jobs. May be nil in tests.
	Scheduler *schedule.Scheduler
	// Logf specifies a logger to use. If nil, log.Printf is used.
	Logf logger.Logf

	// OwnerID is the Telegram ID of the bot owner. The owner is always an
	// admin and receives error reports.
	OwnerID int64
	// OwnerUsername is linked from the premium purchase keyboard.
	OwnerUsername string
	// PromoChannel is the channel advertised under sent wallpapers.
	PromoChannel string
}

func (b *Bot) logf(format string, args ...any) {
	if b.Logf == nil {
		b.Logf = log.Printf
	}
	b.Logf(format, args...)
}

// HandleUpdate processes a single update. Errors that concern only a
// particular user are reported to them directly and not returned.
func (b *Bot) HandleUpdate(ctx context.Context, u telegram.Update) error {
	switch {
	case u.CallbackQuery != nil:
		observeUpdate("callback_query")
		return b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		observeUpdate("message")
		return b.handleMessage(ctx, u.Message)
	}
	observeUpdate("other")
	return nil
}

func (b *Bot) handleMessage(ctx context.Context, m *telegram.Message) error {
	if m.From == nil || m.From.IsBot || m.Chat.Type != "private" {
		return nil
	}

	user, err := b.upsertUser(ctx, m.From)
	if err != nil {
		return b.reportError(ctx, fmt.Errorf("updating user %d: %w", m.From.ID, err))
	}

	if user.Banned {
		return nil
	}

	allowed, err := b.Limiter.Allow(ctx, strconv.FormatInt(user.ID, 10))
	if err != nil {
		b.logf("bot: rate limiter: %v", err)
		allowed = true // fail open
	}
	if !allowed {
		return nil
	}

	settings, err := b.Store.Settings(ctx)
	if err != nil {
		return b.reportError(ctx, fmt.Errorf("loading settings: %w", err))
	}
	admin := b.isAdmin(user.ID, settings)

	if settings.Maintenance && !admin {
		return b.send(ctx, m.Chat.ID, "The bot is under maintenance. Please try again later.")
	}

	cmd, args := splitCommand(m.Text)
	if cmd == "" {
		// Bare text works as a search query.
		return b.fetchWallpaper(ctx, m, &user, settings, m.Text)
	}

	if admin {
		if handled, err := b.handleAdminCommand(ctx, m, settings, cmd, args); handled {
			return err
		}
	}

	switch cmd {
	case "start":
		return b.handleStart(ctx, m)
	case "help":
		return b.sendMarkup(ctx, m.Chat.ID, helpText, mainMenuKeyboard())
	case "fetch":
		return b.fetchWallpaper(ctx, m, &user, settings, args)
	case "categories":
		return b.sendMarkup(ctx, m.Chat.ID, "Pick a category:", categoriesKeyboard())
	case "myplan":
		return b.send(ctx, m.Chat.ID, planText(&user, time.Now()))
	case "premium", "buy":
		return b.sendMarkup(ctx, m.Chat.ID, premiumText, b.premiumKeyboard())
	case "info":
		return b.send(ctx, m.Chat.ID, b.infoText())
	case "report", "feedback":
		return b.handleFeedback(ctx, m, cmd, args)
	default:
		return b.send(ctx, m.Chat.ID, "Unknown command. Send /help to see what I can do.")
	}
}

// splitCommand splits a message like "/fetch@wallbot nature sunset" into
// the command name and its arguments. It returns an empty command for
// non-command messages.
func splitCommand(text string) (cmd, args string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd, args, _ = strings.Cut(text[1:], " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

func (b *Bot) isAdmin(id int64, settings store.Settings) bool {
	if id == b.OwnerID {
		return true
	}
	for _, owner := range settings.Owners {
		if id == owner {
			return true
		}
	}
	return false
}

// upsertUser fetches the stored user, creating it on first contact and
// refreshing the name fields.
func (b *Bot) upsertUser(ctx context.Context, from *telegram.User) (store.User, error) {
	u, err := b.Store.User(ctx, from.ID)
	if errors.Is(err, store.ErrNotFound) {
		u = store.User{
			ID:       from.ID,
			Tier:     store.TierFree,
			JoinedAt: time.Now().UTC(),
		}
	} else if err != nil {
		return store.User{}, err
	}
	u.Username = from.Username
	u.FirstName = from.FirstName
	if err := b.Store.SaveUser(ctx, u); err != nil {
		return store.User{}, err
	}
	return u, nil
}

// parseMode is how bot-authored messages are formatted. Wallpaper
// captions stay plain: author names and URLs contain characters that
// Markdown treats as markup.
const parseMode = "Markdown"

// send sends a text message to the chat.
func (b *Bot) send(ctx context.Context, chatID int64, text string) error {
	_, err := b.Client.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: parseMode,
	})
	return err
}

// sendMarkup sends a text message with an inline keyboard attached.
func (b *Bot) sendMarkup(ctx context.Context, chatID int64, text string, kb telegram.InlineKeyboardMarkup) error {
	_, err := b.Client.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   parseMode,
		ReplyMarkup: &kb,
	})
	return err
}

// reportError logs the error and notifies the owner about it. The original
// error is returned so the update is retried by Telegram when running with
// a webhook.
func (b *Bot) reportError(ctx context.Context, err error) error {
	b.logf("bot: %v", err)
	if b.OwnerID != 0 {
		if serr := b.send(ctx, b.OwnerID, "⚠️ "+err.Error()); serr != nil {
			b.logf("bot: notifying owner: %v", serr)
		}
	}
	return err
}
