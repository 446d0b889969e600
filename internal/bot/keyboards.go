// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"strings"

	"go.astrophena.name/wallbot/internal/telegram"
)

// Callback data prefixes and values understood by handleCallback.
const (
	cbMainMenu    = "main_menu"
	cbFetchMenu   = "fetch_menu"
	cbFetchPrefix = "fetch_"
	cbCategories  = "categories"
	cbMyPlan      = "myplan"
	cbPremium     = "premium_info"
	cbHelp        = "help"
)

func mainMenuKeyboard() telegram.InlineKeyboardMarkup {
	return telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{
				{Text: "🖼 Get a wallpaper", CallbackData: cbFetchMenu},
			},
			{
				{Text: "🗂 Categories", CallbackData: cbCategories},
				{Text: "📋 My plan", CallbackData: cbMyPlan},
			},
			{
				{Text: "💎 Premium", CallbackData: cbPremium},
				{Text: "❓ Help", CallbackData: cbHelp},
			},
		},
	}
}

func fetchMenuKeyboard() telegram.InlineKeyboardMarkup {
	return telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{
				{Text: "🎲 Surprise me", CallbackData: cbFetchPrefix + "wallpaper"},
			},
			{
				{Text: "🗂 Pick a category", CallbackData: cbCategories},
			},
			{
				{Text: "‹ Back", CallbackData: cbMainMenu},
			},
		},
	}
}

// categoriesKeyboard lays out Categories in rows of two, with a back
// button at the bottom.
func categoriesKeyboard() telegram.InlineKeyboardMarkup {
	var rows [][]telegram.InlineKeyboardButton
	for i := 0; i < len(Categories); i += 2 {
		row := []telegram.InlineKeyboardButton{
			{Text: title(Categories[i]), CallbackData: cbFetchPrefix + Categories[i]},
		}
		if i+1 < len(Categories) {
			row = append(row, telegram.InlineKeyboardButton{
				Text: title(Categories[i+1]), CallbackData: cbFetchPrefix + Categories[i+1],
			})
		}
		rows = append(rows, row)
	}
	rows = append(rows, []telegram.InlineKeyboardButton{
		{Text: "‹ Back", CallbackData: cbMainMenu},
	})
	return telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// premiumKeyboard links to the owner for purchases and to the promo
// channel, if set. It is also attached under every sent wallpaper.
func (b *Bot) premiumKeyboard() telegram.InlineKeyboardMarkup {
	var rows [][]telegram.InlineKeyboardButton
	if b.OwnerUsername != "" {
		rows = append(rows, []telegram.InlineKeyboardButton{
			{Text: "💎 Buy premium", URL: "https://t.me/" + strings.TrimPrefix(b.OwnerUsername, "@")},
		})
	}
	if b.PromoChannel != "" {
		rows = append(rows, []telegram.InlineKeyboardButton{
			{Text: "📣 More wallpapers", URL: "https://t.me/" + strings.TrimPrefix(b.PromoChannel, "@")},
		})
	}
	return telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}
