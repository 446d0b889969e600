// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/wallbot/internal/telegram"
)

func (b *Bot) handleCallback(ctx context.Context, q *telegram.CallbackQuery) error {
	if q.Message == nil {
		return b.answerCallback(ctx, q.ID, "")
	}

	user, err := b.upsertUser(ctx, &q.From)
	if err != nil {
		return b.reportError(ctx, fmt.Errorf("updating user %d: %w", q.From.ID, err))
	}
	if user.Banned {
		return b.answerCallback(ctx, q.ID, "")
	}

	allowed, err := b.Limiter.Allow(ctx, strconv.FormatInt(user.ID, 10))
	if err != nil {
		b.logf("bot: rate limiter: %v", err)
		allowed = true // fail open
	}
	if !allowed {
		return b.answerCallback(ctx, q.ID, "")
	}

	settings, err := b.Store.Settings(ctx)
	if err != nil {
		return b.reportError(ctx, fmt.Errorf("loading settings: %w", err))
	}
	if settings.Maintenance && !b.isAdmin(user.ID, settings) {
		return b.answerCallback(ctx, q.ID, "The bot is under maintenance.")
	}

	chatID := q.Message.Chat.ID
	messageID := q.Message.ID

	if query, ok := strings.CutPrefix(q.Data, cbFetchPrefix); ok {
		if err := b.answerCallback(ctx, q.ID, ""); err != nil {
			b.logf("bot: answering callback: %v", err)
		}
		// Fetch behaves as if the user sent the query as a message.
		m := &telegram.Message{
			ID:   messageID,
			From: &q.From,
			Chat: q.Message.Chat,
		}
		return b.fetchWallpaper(ctx, m, &user, settings, query)
	}

	var (
		text string
		kb   telegram.InlineKeyboardMarkup
	)
	switch q.Data {
	case cbMainMenu:
		text, kb = "What's next?", mainMenuKeyboard()
	case cbFetchMenu:
		text, kb = "What kind of wallpaper?", fetchMenuKeyboard()
	case cbCategories:
		text, kb = "Pick a category:", categoriesKeyboard()
	case cbMyPlan:
		text, kb = planText(&user, time.Now()), mainMenuKeyboard()
	case cbPremium:
		text, kb = premiumText, b.premiumKeyboard()
	case cbHelp:
		text, kb = helpText, mainMenuKeyboard()
	default:
		return b.answerCallback(ctx, q.ID, "This button doesn't work anymore.")
	}

	if err := b.Client.EditMessageText(ctx, telegram.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   parseMode,
		ReplyMarkup: &kb,
	}); err != nil {
		b.logf("bot: editing message: %v", err)
	}
	return b.answerCallback(ctx, q.ID, "")
}

func (b *Bot) answerCallback(ctx context.Context, id, text string) error {
	if err := b.Client.AnswerCallbackQuery(ctx, telegram.AnswerCallbackQueryParams{
		CallbackQueryID: id,
		Text:            text,
	}); err != nil {
		b.logf("bot: answering callback: %v", err)
	}
	return nil
}
