// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Wallbot is a Telegram bot that sends high-quality wallpapers.

Wallpapers come from Unsplash, Pexels and Pixabay, tried in that order,
plus any sources the bot owners add at runtime. Every image is checked to
be at least 1920×1080 before it is sent. Free accounts get five wallpapers
per day; premium accounts are unlimited. The bot can also post wallpapers
to channels on an hourly or daily schedule.

By default wallbot receives updates with long polling. Pass -webhook (or
run on Render, where it is implied) to receive them with a webhook at
/telegram instead; HOST and TELEGRAM_SECRET must be set in that case.

# Configuration

Wallbot is configured with environment variables, also read from a .env
file in the current directory if one exists:

	TELEGRAM_TOKEN     bot token (required)
	TELEGRAM_SECRET    secret validating webhook requests
	HOST               public hostname used to register the webhook
	DATABASE_URL       PostgreSQL connection string
	DB_PATH            SQLite database path, used when DATABASE_URL is
	                   empty (default "wallbot.db")
	REDIS_URL          Redis URL for rate limiting shared between
	                   instances; in-memory when empty
	UNSPLASH_KEY       Unsplash API access key
	PEXELS_KEY         Pexels API key
	PIXABAY_KEY        Pixabay API key
	OWNER_ID           Telegram ID of the bot owner
	OWNER_USERNAME     username linked from the premium keyboard
	PROMO_CHANNEL      channel advertised under sent wallpapers
	ADDR               address to listen on (default "localhost:3000")

On Render, the RENDER and PORT variables are picked up automatically and
a self-ping goroutine keeps the service awake.

Logs are written to standard error and to bot.log in the logs directory,
and are streamed at /debug/log. Prometheus metrics are served at
/debug/metrics.

# Health checks

The /health endpoint reports the state of the bot's subsystems. The

	wallbot healthcheck

subcommand probes it and exits non-zero when the bot is unhealthy, which
is what the Docker HEALTHCHECK instruction runs.
*/
package main
