// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.astrophena.name/wallbot/internal/fetch"
	"go.astrophena.name/wallbot/internal/store"
	"go.astrophena.name/wallbot/internal/telegram"
	"go.astrophena.name/wallbot/internal/version"
)

const helpText = `I send you wallpapers in at least 1920×1080.

/fetch <query> fetches a random wallpaper, /categories shows the popular
categories. Any other message works as a search query too.

Free accounts get 5 wallpapers per day; /premium removes the limit.
/myplan shows where you stand.

Found a bug? /report it. Have an idea? Send /feedback.`

const premiumText = `Premium removes the daily limit and gets your requests
served first.

To buy premium, message the bot owner using the button below.`

func (b *Bot) handleStart(ctx context.Context, m *telegram.Message) error {
	text := fmt.Sprintf("Hi, %s! I fetch high-quality wallpapers for you.\n\nSend /fetch or pick a category to get started.", m.From.FirstName)
	return b.sendMarkup(ctx, m.Chat.ID, text, mainMenuKeyboard())
}

func (b *Bot) infoText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "wallbot %s\n\n", version.Version().Version)
	sb.WriteString("Wallpapers come from Unsplash, Pexels and Pixabay.\n")
	if b.PromoChannel != "" {
		fmt.Fprintf(&sb, "More wallpapers on %s.\n", b.PromoChannel)
	}
	return sb.String()
}

func planText(u *store.User, now time.Time) string {
	var sb strings.Builder
	switch u.EffectiveTier(now) {
	case store.TierPremium:
		sb.WriteString("Your plan: Premium 💎\n")
		if u.PremiumUntil.IsZero() {
			sb.WriteString("Expires: never\n")
		} else {
			fmt.Fprintf(&sb, "Expires: %s\n", u.PremiumUntil.Format("2 January 2006"))
		}
		sb.WriteString("Daily limit: unlimited")
	default:
		sb.WriteString("Your plan: Free\n")
		fmt.Fprintf(&sb, "Wallpapers left today: %d of %d\n\n", u.RemainingFetches(now, FreeDailyLimit), FreeDailyLimit)
		sb.WriteString("Send /premium to remove the limit.")
	}
	return sb.String()
}

// fetchWallpaper serves one wallpaper to the user, enforcing the daily
// limit for free accounts.
func (b *Bot) fetchWallpaper(ctx context.Context, m *telegram.Message, u *store.User, settings store.Settings, query string) error {
	now := time.Now()
	if u.RemainingFetches(now, FreeDailyLimit) == 0 {
		return b.sendMarkup(ctx, m.Chat.ID,
			fmt.Sprintf("You've used all %d wallpapers for today. The limit resets at midnight UTC, or /premium removes it entirely.", FreeDailyLimit),
			b.premiumKeyboard())
	}

	// Reaction failures are cosmetic.
	if err := b.Client.SetMessageReaction(ctx, m.Chat.ID, m.ID, randomReaction()); err != nil {
		b.logf("bot: setting reaction: %v", err)
	}
	if err := b.Client.SendChatAction(ctx, m.Chat.ID, "upload_photo"); err != nil {
		b.logf("bot: sending chat action: %v", err)
	}

	w, err := b.Fetcher.Fetch(ctx, query)
	if errors.Is(err, fetch.ErrNoWallpaper) {
		return b.send(ctx, m.Chat.ID, "Couldn't find a wallpaper for that, sorry. Try a different query.")
	}
	if err != nil {
		if rerr := b.reportError(ctx, fmt.Errorf("fetching wallpaper: %w", err)); rerr != nil {
			b.logf("bot: %v", rerr)
		}
		return b.send(ctx, m.Chat.ID, "Something went wrong on my side. Try again in a minute.")
	}

	if _, err := b.Client.SendPhoto(ctx, telegram.SendPhotoParams{
		ChatID:      m.Chat.ID,
		Photo:       w.URL,
		Caption:     w.Caption(),
		ReplyMarkup: ptr(b.premiumKeyboard()),
	}); err != nil {
		return b.reportError(ctx, fmt.Errorf("sending photo to %d: %w", m.Chat.ID, err))
	}

	// Archive a copy in the bin channel, if configured.
	if settings.BinChannelID != 0 {
		if _, err := b.Client.SendPhoto(ctx, telegram.SendPhotoParams{
			ChatID:  settings.BinChannelID,
			Photo:   w.URL,
			Caption: w.Caption(),
		}); err != nil {
			b.logf("bot: archiving to bin channel: %v", err)
		}
	}

	u.CountFetch(now)
	if err := b.Store.SaveUser(ctx, *u); err != nil {
		return b.reportError(ctx, fmt.Errorf("saving user %d: %w", u.ID, err))
	}

	if left := u.RemainingFetches(now, FreeDailyLimit); left >= 0 {
		return b.send(ctx, m.Chat.ID, fmt.Sprintf("%d wallpapers left today.", left))
	}
	return nil
}

func (b *Bot) handleFeedback(ctx context.Context, m *telegram.Message, kind, text string) error {
	if text == "" {
		return b.send(ctx, m.Chat.ID, fmt.Sprintf("Write your message after the command, like this: /%s the search is broken", kind))
	}
	r := store.Report{
		ID:        uuid.NewString(),
		UserID:    m.From.ID,
		Username:  m.From.Username,
		Kind:      kind,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.Store.SaveReport(ctx, r); err != nil {
		return b.reportError(ctx, fmt.Errorf("saving %s: %w", kind, err))
	}
	if b.OwnerID != 0 {
		from := m.From.FirstName
		if m.From.Username != "" {
			from += " (@" + m.From.Username + ")"
		}
		if err := b.send(ctx, b.OwnerID, fmt.Sprintf("New %s from %s (%s):\n\n%s", kind, from, r.ID, text)); err != nil {
			return b.reportError(ctx, fmt.Errorf("forwarding %s: %w", kind, err))
		}
	}
	return b.send(ctx, m.Chat.ID, "Thanks, passed it on! 🙏")
}

func ptr[T any](v T) *T { return &v }
