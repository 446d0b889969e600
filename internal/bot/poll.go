// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"context"
	"time"
)

const pollTimeout = 30 // seconds, Telegram long polling

// Poll receives updates with long polling and handles them until ctx is
// canceled. It is the counterpart of serving a webhook.
func (b *Bot) Poll(ctx context.Context) error {
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := b.Client.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logf("bot: polling: %v", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, u := range updates {
			if u.ID >= offset {
				offset = u.ID + 1
			}
			if err := b.HandleUpdate(ctx, u); err != nil {
				b.logf("bot: handling update %d: %v", u.ID, err)
			}
		}
	}
}
