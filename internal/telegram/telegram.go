// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram implements a client for the subset of the Telegram Bot
// API used by wallbot.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.astrophena.name/wallbot/internal/request"
)

// DefaultAPI is the address of the Telegram Bot API used unless [Client.API]
// is set.
const DefaultAPI = "https://api.telegram.org"

const sendRetryLimit = 5 // N attempts to retry a rate-limited call

// Client makes requests to the Telegram Bot API.
//
// All fields of Client can't be modified after the first call.
type Client struct {
	// Token is the bot token, obtained from @BotFather.
	Token string
	// API is the address of the Bot API. If empty, DefaultAPI is used.
	API string
	// HTTPClient is an optional HTTP client to use for requests. If nil,
	// request.DefaultClient is used.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs the token and
	// other secrets from error messages.
	Scrubber *strings.Replacer

	// sleep is used in tests to avoid real waiting.
	sleep func(time.Duration)
}

func (c *Client) api() string {
	if c.API != "" {
		return c.API
	}
	return DefaultAPI
}

// Call invokes the Bot API method with the given arguments and unmarshals
// the result into Result. Calls rejected with HTTP 429 are retried a bounded
// number of times, honoring the retry_after duration Telegram reports.
func Call[Result any](ctx context.Context, c *Client, method string, args any) (Result, error) {
	var (
		res struct {
			OK          bool   `json:"ok"`
			Description string `json:"description"`
			Result      Result `json:"result"`
		}
		err error
	)
	for range sendRetryLimit {
		res, err = request.Make[struct {
			OK          bool   `json:"ok"`
			Description string `json:"description"`
			Result      Result `json:"result"`
		}](ctx, request.Params{
			Method:     http.MethodPost,
			URL:        c.api() + "/bot" + c.Token + "/" + method,
			Body:       args,
			HTTPClient: c.HTTPClient,
			Scrubber:   c.Scrubber,
		})
		if err == nil {
			break
		}
		retryable, wait := isRateLimited(err)
		if !retryable {
			break
		}
		if c.sleep != nil {
			c.sleep(wait)
		} else {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return res.Result, ctx.Err()
			}
		}
	}
	if err != nil {
		return res.Result, fmt.Errorf("telegram: %s: %w", method, err)
	}
	if !res.OK {
		return res.Result, fmt.Errorf("telegram: %s: %s", method, res.Description)
	}
	return res.Result, nil
}

func isRateLimited(err error) (retryable bool, wait time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}

	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil {
		return false, 0
	}

	return true, time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}

// GetMe returns basic information about the bot.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	return Call[User](ctx, c, "getMe", struct{}{})
}

// SendMessage sends a text message and returns it.
func (c *Client) SendMessage(ctx context.Context, m SendMessageParams) (Message, error) {
	return Call[Message](ctx, c, "sendMessage", m)
}

// SendPhoto sends a photo and returns the sent message.
func (c *Client) SendPhoto(ctx context.Context, p SendPhotoParams) (Message, error) {
	return Call[Message](ctx, c, "sendPhoto", p)
}

// SendChatAction tells the user that something is happening on the bot's
// side, e.g. "typing" or "upload_photo".
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	_, err := Call[bool](ctx, c, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  action,
	})
	return err
}

// EditMessageText edits the text of a previously sent message.
func (c *Client) EditMessageText(ctx context.Context, e EditMessageTextParams) error {
	// Telegram returns either the edited message or true here; we don't
	// care about both.
	_, err := Call[json.RawMessage](ctx, c, "editMessageText", e)
	return err
}

// AnswerCallbackQuery answers a callback query sent from an inline keyboard.
func (c *Client) AnswerCallbackQuery(ctx context.Context, a AnswerCallbackQueryParams) error {
	_, err := Call[bool](ctx, c, "answerCallbackQuery", a)
	return err
}

// SetMessageReaction sets an emoji reaction on a message. Telegram rejects
// reactions in chats where they are disabled; such failures are reported as
// errors and are safe to ignore.
func (c *Client) SetMessageReaction(ctx context.Context, chatID int64, messageID int64, emoji string) error {
	_, err := Call[bool](ctx, c, "setMessageReaction", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"reaction": []ReactionType{
			{Type: "emoji", Emoji: emoji},
		},
	})
	return err
}

// SetWebhook configures the webhook URL and secret token used to validate
// incoming updates.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	_, err := Call[bool](ctx, c, "setWebhook", map[string]string{
		"url":          url,
		"secret_token": secret,
	})
	return err
}

// DeleteWebhook removes the webhook, optionally dropping all pending
// updates.
func (c *Client) DeleteWebhook(ctx context.Context, dropPendingUpdates bool) error {
	_, err := Call[bool](ctx, c, "deleteWebhook", map[string]bool{
		"drop_pending_updates": dropPendingUpdates,
	})
	return err
}

// GetUpdates long-polls Telegram for updates, starting from offset. timeout
// is the long polling timeout in seconds.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	httpc := c.HTTPClient
	if httpc == nil {
		httpc = request.DefaultClient
	}
	// The HTTP client timeout must exceed the long polling timeout,
	// otherwise every empty poll is reported as an error.
	if httpc.Timeout > 0 && httpc.Timeout < time.Duration(timeout+5)*time.Second {
		clone := *httpc
		clone.Timeout = time.Duration(timeout+5) * time.Second
		httpc = &clone
	}
	res, err := request.Make[struct {
		OK     bool     `json:"ok"`
		Result []Update `json:"result"`
	}](ctx, request.Params{
		Method: http.MethodPost,
		URL:    c.api() + "/bot" + c.Token + "/getUpdates",
		Body: map[string]any{
			"offset":  offset,
			"timeout": timeout,
			"allowed_updates": []string{
				"message", "callback_query",
			},
		},
		HTTPClient: httpc,
		Scrubber:   c.Scrubber,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: getUpdates: %w", err)
	}
	return res.Result, nil
}
