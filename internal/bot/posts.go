// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"context"
	"fmt"

	"go.astrophena.name/wallbot/internal/store"
	"go.astrophena.name/wallbot/internal/telegram"
)

// PostScheduled posts one wallpaper to the schedule's channel. It is the
// Poster wired into the scheduler.
func (b *Bot) PostScheduled(ctx context.Context, sc store.Schedule) error {
	w, err := b.Fetcher.Fetch(ctx, sc.Category)
	if err != nil {
		return fmt.Errorf("fetching for channel %d: %w", sc.ChannelID, err)
	}
	if _, err := b.Client.SendPhoto(ctx, telegram.SendPhotoParams{
		ChatID:      sc.ChannelID,
		Photo:       w.URL,
		Caption:     w.Caption(),
		ReplyMarkup: ptr(b.premiumKeyboard()),
	}); err != nil {
		return fmt.Errorf("posting to channel %d: %w", sc.ChannelID, err)
	}
	observeScheduledPost()
	return nil
}
