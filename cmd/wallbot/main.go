// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.astrophena.name/wallbot/internal/bot"
	"go.astrophena.name/wallbot/internal/broadcast"
	"go.astrophena.name/wallbot/internal/cli"
	"go.astrophena.name/wallbot/internal/fetch"
	"go.astrophena.name/wallbot/internal/httplogger"
	"go.astrophena.name/wallbot/internal/logger"
	"go.astrophena.name/wallbot/internal/ratelimit"
	"go.astrophena.name/wallbot/internal/request"
	"go.astrophena.name/wallbot/internal/schedule"
	"go.astrophena.name/wallbot/internal/store"
	"go.astrophena.name/wallbot/internal/syncx"
	"go.astrophena.name/wallbot/internal/telegram"
	"go.astrophena.name/wallbot/internal/version"
	"go.astrophena.name/wallbot/internal/web"
)

func main() { cli.Main(new(engine)) }

const (
	selfPingInterval = 10 * time.Minute
	broadcastDelay   = 100 * time.Millisecond
	logLines         = 300
)

var errNoToken = errors.New("TELEGRAM_TOKEN is not set")

type engine struct {
	webhook bool
	addr    string
	httpLog bool

	tgToken       string
	tgSecret      string
	host          string
	databaseURL   string
	dbPath        string
	redisURL      string
	unsplashKey   string
	pexelsKey     string
	pixabayKey    string
	ownerID       int64
	ownerUsername string
	promoChannel  string
	onRender      bool
	logsDir       string

	init      syncx.Lazy[error]
	httpc     *http.Client
	tgAPI     string // overridden in tests
	scrubber  *strings.Replacer
	logf      logger.Logf
	logStream logger.Streamer
	logFile   io.Closer

	tg        *telegram.Client
	store     store.Store
	limiter   ratelimit.Limiter
	fetcher   *fetch.Fetcher
	bot       *bot.Bot
	scheduler *schedule.Scheduler
	mux       *http.ServeMux

	// Used in tests.
	noServerStart bool
	ready         func()
}

func (e *engine) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&e.webhook, "webhook", false, "Receive updates with a webhook instead of long polling.")
	fs.StringVar(&e.addr, "addr", "", "Listen on `address`.")
	fs.BoolVar(&e.httpLog, "http-log", false, "Log outgoing HTTP requests.")
}

func (e *engine) Run(ctx context.Context, env *cli.Env) error {
	if len(env.Args) > 0 {
		switch env.Args[0] {
		case "healthcheck":
			return e.healthcheck(ctx, env)
		default:
			return fmt.Errorf("%w: unknown command %q", cli.ErrInvalidArgs, env.Args[0])
		}
	}

	// Load configuration from environment variables.
	e.tgToken = cmp.Or(e.tgToken, env.Getenv("TELEGRAM_TOKEN"))
	e.tgSecret = cmp.Or(e.tgSecret, env.Getenv("TELEGRAM_SECRET"))
	e.host = cmp.Or(e.host, env.Getenv("HOST"))
	e.databaseURL = cmp.Or(e.databaseURL, env.Getenv("DATABASE_URL"))
	e.dbPath = cmp.Or(e.dbPath, env.Getenv("DB_PATH"), "wallbot.db")
	e.redisURL = cmp.Or(e.redisURL, env.Getenv("REDIS_URL"))
	e.unsplashKey = cmp.Or(e.unsplashKey, env.Getenv("UNSPLASH_KEY"))
	e.pexelsKey = cmp.Or(e.pexelsKey, env.Getenv("PEXELS_KEY"))
	e.pixabayKey = cmp.Or(e.pixabayKey, env.Getenv("PIXABAY_KEY"))
	e.ownerID = cmp.Or(e.ownerID, parseInt(env.Getenv("OWNER_ID")))
	e.ownerUsername = cmp.Or(e.ownerUsername, env.Getenv("OWNER_USERNAME"))
	e.promoChannel = cmp.Or(e.promoChannel, env.Getenv("PROMO_CHANNEL"))
	e.logsDir = cmp.Or(e.logsDir, "logs")
	e.onRender = env.Getenv("RENDER") == "true"

	if e.tgToken == "" {
		return errNoToken
	}

	// Initialize internal state.
	if err := e.init.Get(func() error {
		return e.doInit(ctx, env)
	}); err != nil {
		return err
	}
	defer e.shutdown()

	// If running on Render, look up the port to listen on and start a
	// goroutine that prevents the service from sleeping.
	if e.onRender {
		e.logf("Running on Render: enabling webhook mode and starting self-ping goroutine.")
		e.webhook = true
		// https://docs.render.com/environment-variables#all-runtimes-1
		if port := env.Getenv("PORT"); port != "" {
			e.addr = ":" + port
		}
		go e.selfPing(ctx, env, selfPingInterval)
	}
	if e.addr == "" {
		e.addr = cmp.Or(env.Getenv("ADDR"), "localhost:3000")
	}

	if err := e.scheduler.Start(ctx); err != nil {
		return err
	}
	defer e.scheduler.Stop()

	if e.webhook {
		if err := e.setWebhook(ctx); err != nil {
			return err
		}
		e.logf("Receiving updates with a webhook.")
	} else {
		// Drop pending updates so a backlog accumulated while the bot was
		// down doesn't flood users on startup.
		if err := e.tg.DeleteWebhook(ctx, true); err != nil {
			e.logf("Deleting webhook: %v", err)
		}
		go func() {
			if err := e.bot.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logf("Polling stopped: %v", err)
			}
		}()
		e.logf("Receiving updates with long polling.")
	}

	// Used in tests.
	if e.noServerStart {
		if e.ready != nil {
			e.ready()
		}
		<-ctx.Done()
		return nil
	}

	return web.ListenAndServe(ctx, &web.ListenAndServeConfig{
		Addr:       e.addr,
		Mux:        e.mux,
		Logf:       e.logf,
		Debuggable: true,
		Ready:      e.ready,
	})
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (e *engine) doInit(ctx context.Context, env *cli.Env) error {
	// Write logs both to stderr and to a file, and keep the last lines
	// around for /debug/log.
	if err := os.MkdirAll(e.logsDir, 0o755); err != nil {
		return fmt.Errorf("creating logs directory: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(e.logsDir, "bot.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	e.logFile = logFile
	e.logStream = logger.NewStreamer(logLines)
	e.logf = log.New(io.MultiWriter(env.Stderr, logFile, e.logStream), "", log.LstdFlags).Printf

	e.logf("Starting wallbot %s...", version.Version().Version)

	// Don't leak secrets in logs and error messages.
	var scrubPairs []string
	for _, secret := range []string{e.tgToken, e.tgSecret, e.unsplashKey, e.pexelsKey, e.pixabayKey} {
		if secret != "" {
			scrubPairs = append(scrubPairs, secret, "[redacted]")
		}
	}
	e.scrubber = strings.NewReplacer(scrubPairs...)

	if e.httpc == nil {
		e.httpc = request.DefaultClient
	}
	if e.httpLog {
		c := *e.httpc
		c.Transport = httplogger.New(c.Transport, e.logf)
		e.httpc = &c
	}

	e.tg = &telegram.Client{
		Token:      e.tgToken,
		API:        e.tgAPI,
		HTTPClient: e.httpc,
		Scrubber:   e.scrubber,
	}

	e.store, err = store.Open(ctx, e.logf, e.databaseURL, e.dbPath)
	if err != nil {
		return err
	}

	if e.redisURL != "" {
		e.limiter, err = ratelimit.NewRedis(ctx, e.redisURL, bot.RateLimitInterval)
		if err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		e.logf("Rate limiting with Redis.")
	} else {
		e.limiter = ratelimit.NewMemory(bot.RateLimitInterval)
	}

	e.fetcher = e.newFetcher()
	if len(e.fetcher.Providers) == 0 {
		e.logf("No provider API keys are set; only runtime-added sources will work.")
	}

	settings, err := e.store.Settings(ctx)
	if err != nil {
		return err
	}

	e.bot = &bot.Bot{
		Client:  e.tg,
		Store:   e.store,
		Fetcher: e.fetcher,
		Limiter: e.limiter,
		Broadcaster: &broadcast.Broadcaster{
			Delay: broadcastDelay,
			Logf:  e.logf,
		},
		Logf:          e.logf,
		OwnerID:       e.ownerID,
		OwnerUsername: e.ownerUsername,
		PromoChannel:  e.promoChannel,
	}

	e.scheduler = &schedule.Scheduler{
		Store: e.store,
		Post:  e.scheduledPost(settings),
		Logf:  e.logf,
	}
	e.bot.Scheduler = e.scheduler

	e.initRoutes()
	return nil
}

// scheduledPost wraps the bot's channel poster with the delay between
// posts the owners configured.
func (e *engine) scheduledPost(settings store.Settings) schedule.Poster {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(ctx context.Context, sc store.Schedule) error {
		delay := time.Duration(settings.DelayMinutes) * time.Minute
		if delay > 0 {
			var wait time.Duration
			mu.Lock()
			now := time.Now()
			if since := now.Sub(last); since < delay {
				wait = delay - since
			}
			last = now.Add(wait)
			mu.Unlock()
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return e.bot.PostScheduled(ctx, sc)
	}
}

func (e *engine) newFetcher() *fetch.Fetcher {
	var providers []fetch.Provider
	if e.unsplashKey != "" {
		providers = append(providers, &fetch.Unsplash{
			Key:        e.unsplashKey,
			HTTPClient: e.httpc,
			Scrubber:   e.scrubber,
		})
	}
	if e.pexelsKey != "" {
		providers = append(providers, &fetch.Pexels{
			Key:        e.pexelsKey,
			HTTPClient: e.httpc,
			Scrubber:   e.scrubber,
		})
	}
	if e.pixabayKey != "" {
		providers = append(providers, &fetch.Pixabay{
			Key:        e.pixabayKey,
			HTTPClient: e.httpc,
			Scrubber:   e.scrubber,
		})
	}
	return &fetch.Fetcher{
		Providers:  providers,
		HTTPClient: e.httpc,
		Logf:       e.logf,
		Extra:      e.extraProviders,
	}
}

// extraProviders turns sources added by the owners into providers, tried
// after the built-in ones.
func (e *engine) extraProviders(ctx context.Context) []fetch.Provider {
	sources, err := e.store.Sources(ctx)
	if err != nil {
		e.logf("Loading custom sources: %v", err)
		return nil
	}
	var providers []fetch.Provider
	for _, src := range sources {
		providers = append(providers, &fetch.Custom{
			SourceName: src.Name,
			URL:        src.URL,
			Key:        src.Key,
			HTTPClient: e.httpc,
			Scrubber:   e.scrubber,
		})
	}
	return providers
}

func (e *engine) initRoutes() {
	e.mux = http.NewServeMux()

	e.mux.Handle("POST /telegram", telegram.Webhook(e.tgSecret, e.logf, e.bot.HandleUpdate))

	health := web.Health(e.mux)
	health.RegisterFunc("store", func() (status string, ok bool) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := e.store.Settings(ctx); err != nil {
			return err.Error(), false
		}
		return "ok", true
	})

	dbg := web.Debugger(e.logf, e.mux)
	dbg.KVFunc("Schedule jobs", func() any { return e.scheduler.Len() })
	dbg.Handle("log", "Logs", e.logStream)
	dbg.Handle("metrics", "Metrics", promhttp.Handler())
}

func (e *engine) setWebhook(ctx context.Context) error {
	if e.host == "" {
		return errors.New("HOST is not set; it is required in webhook mode")
	}
	return e.tg.SetWebhook(ctx, "https://"+e.host+"/telegram", e.tgSecret)
}

// selfPing continuously pings wallbot to prevent its Render app from
// sleeping.
func (e *engine) selfPing(ctx context.Context, env *cli.Env, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			url := env.Getenv("RENDER_EXTERNAL_URL")
			if url == "" {
				e.logf("selfPing: RENDER_EXTERNAL_URL is not set; are you really on Render?")
				return
			}
			health, err := request.Make[web.HealthResponse](ctx, request.Params{
				Method: http.MethodGet,
				URL:    url + "/health",
				Headers: map[string]string{
					"User-Agent": version.UserAgent(),
				},
				HTTPClient: e.httpc,
				Scrubber:   e.scrubber,
			})
			if err != nil {
				e.logf("selfPing: %v", err)
			}
			if !health.OK {
				e.logf("selfPing: unhealthy: %+v", health)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *engine) shutdown() {
	if e.limiter != nil {
		e.limiter.Close()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logf("Closing store: %v", err)
		}
	}
	if e.logFile != nil {
		e.logFile.Close()
	}
}
