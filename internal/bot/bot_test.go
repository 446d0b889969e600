// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.astrophena.name/wallbot/internal/broadcast"
	"go.astrophena.name/wallbot/internal/fetch"
	"go.astrophena.name/wallbot/internal/ratelimit"
	"go.astrophena.name/wallbot/internal/store"
	"go.astrophena.name/wallbot/internal/telegram"
	"go.astrophena.name/wallbot/internal/testutil"
)

// apiCall is one recorded request to the fake Bot API.
type apiCall struct {
	Method string
	Body   map[string]any
}

// testClient starts a fake Bot API that records all calls.
func testClient(t *testing.T) (*telegram.Client, func() []apiCall) {
	t.Helper()

	var (
		mu    sync.Mutex
		calls []apiCall
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /bot123/{method}", func(w http.ResponseWriter, r *http.Request) {
		method := r.PathValue("method")
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding %s body: %v", method, err)
		}
		mu.Lock()
		calls = append(calls, apiCall{Method: method, Body: body})
		mu.Unlock()

		switch method {
		case "sendMessage", "sendPhoto":
			w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
		default:
			w.Write([]byte(`{"ok":true,"result":true}`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &telegram.Client{Token: "123", API: srv.URL}, func() []apiCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]apiCall(nil), calls...)
	}
}

func testBot(t *testing.T) (*Bot, func() []apiCall) {
	t.Helper()
	client, calls := testClient(t)
	b := &Bot{
		Client:        client,
		Store:         store.NewMem(),
		Fetcher:       &fetch.Fetcher{Logf: t.Logf},
		Limiter:       ratelimit.NewMemory(0),
		Broadcaster:   &broadcast.Broadcaster{Logf: t.Logf},
		Logf:          t.Logf,
		OwnerID:       1,
		OwnerUsername: "owner",
		PromoChannel:  "@wallpapers",
	}
	return b, calls
}

func message(from int64, text string) telegram.Update {
	return telegram.Update{
		ID: 1,
		Message: &telegram.Message{
			ID:   2,
			From: &telegram.User{ID: from, FirstName: "Alice", Username: "alice"},
			Chat: telegram.Chat{ID: from, Type: "private"},
			Text: text,
		},
	}
}

// callsTo returns the recorded calls of the given method.
func callsTo(calls []apiCall, method string) []apiCall {
	var out []apiCall
	for _, c := range calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, cmd, args string
	}{
		{"/start", "start", ""},
		{"/fetch nature sunset", "fetch", "nature sunset"},
		{"/FETCH nature", "fetch", "nature"},
		{"/help@wallbot", "help", ""},
		{"nature", "", "nature"},
		{"", "", ""},
	}
	for _, tc := range cases {
		cmd, args := splitCommand(tc.in)
		testutil.AssertEqual(t, cmd, tc.cmd)
		testutil.AssertEqual(t, args, tc.args)
	}
}

func TestStartCreatesUser(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	ctx := context.Background()

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(100, "/start")))

	u, err := b.Store.User(ctx, 100)
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, u.Tier, store.TierFree)
	testutil.AssertEqual(t, u.Username, "alice")

	sent := callsTo(calls(), "sendMessage")
	testutil.AssertEqual(t, len(sent), 1)
	if text := sent[0].Body["text"].(string); !strings.Contains(text, "Hi, Alice!") {
		t.Fatalf("greeting %q doesn't mention the user", text)
	}
	if _, ok := sent[0].Body["reply_markup"]; !ok {
		t.Fatal("greeting has no keyboard attached")
	}
	testutil.AssertEqual(t, sent[0].Body["parse_mode"].(string), "Markdown")
}

func TestBannedUsersAreIgnored(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	ctx := context.Background()

	testutil.AssertNilError(t, b.Store.SaveUser(ctx, store.User{ID: 100, Tier: store.TierFree, Banned: true}))
	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(100, "/start")))
	testutil.AssertEqual(t, len(calls()), 0)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	b.Limiter = ratelimit.NewMemory(RateLimitInterval)
	ctx := context.Background()

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(100, "/help")))
	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(100, "/help")))

	// Only the first message within the interval gets a reply.
	testutil.AssertEqual(t, len(callsTo(calls(), "sendMessage")), 1)
}

func TestMaintenance(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	ctx := context.Background()

	testutil.AssertNilError(t, b.Store.SaveSettings(ctx, store.Settings{Maintenance: true}))

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(100, "/help")))
	sent := callsTo(calls(), "sendMessage")
	testutil.AssertEqual(t, len(sent), 1)
	if text := sent[0].Body["text"].(string); !strings.Contains(text, "maintenance") {
		t.Fatalf("want a maintenance notice, got %q", text)
	}

	// The owner still gets through.
	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/help")))
	sent = callsTo(calls(), "sendMessage")
	testutil.AssertEqual(t, len(sent), 2)
	if text := sent[1].Body["text"].(string); strings.Contains(text, "maintenance") {
		t.Fatalf("owner got the maintenance notice: %q", text)
	}
}

func TestDailyLimit(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	ctx := context.Background()

	testutil.AssertNilError(t, b.Store.SaveUser(ctx, store.User{
		ID:           100,
		Tier:         store.TierFree,
		FetchCount:   FreeDailyLimit,
		LastFetchDay: time.Now().UTC().Format(time.DateOnly),
		JoinedAt:     time.Now().UTC(),
	}))

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(100, "/fetch nature")))

	sent := callsTo(calls(), "sendMessage")
	testutil.AssertEqual(t, len(sent), 1)
	if text := sent[0].Body["text"].(string); !strings.Contains(text, "used all") {
		t.Fatalf("want a limit notice, got %q", text)
	}
	// No wallpaper was fetched or sent.
	testutil.AssertEqual(t, len(callsTo(calls(), "sendPhoto")), 0)
}

// imageServer serves a PNG of the given dimensions at /image.png.
func imageServer(t *testing.T, width, height int) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /image.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type stubProvider struct {
	name string
	w    fetch.Wallpaper
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Random(context.Context, string) (fetch.Wallpaper, error) {
	return s.w, nil
}

func TestFetchFlow(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	ctx := context.Background()

	srv := imageServer(t, 1920, 1080)
	b.Fetcher = &fetch.Fetcher{
		Providers: []fetch.Provider{&stubProvider{
			name: "test",
			w: fetch.Wallpaper{
				Source:  "test",
				Author:  "Bob",
				URL:     srv.URL + "/image.png",
				PageURL: srv.URL + "/image.png",
			},
		}},
		Logf: t.Logf,
	}
	testutil.AssertNilError(t, b.Store.SaveSettings(ctx, store.Settings{BinChannelID: -100999}))

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(100, "/fetch nature")))

	got := calls()
	testutil.AssertEqual(t, len(callsTo(got, "setMessageReaction")), 1)
	testutil.AssertEqual(t, len(callsTo(got, "sendChatAction")), 1)

	// One photo to the user, one archived to the bin channel.
	photos := callsTo(got, "sendPhoto")
	testutil.AssertEqual(t, len(photos), 2)
	testutil.AssertEqual(t, photos[0].Body["chat_id"].(float64), float64(100))
	testutil.AssertEqual(t, photos[1].Body["chat_id"].(float64), float64(-100999))
	if caption := photos[0].Body["caption"].(string); !strings.Contains(caption, "Photo by Bob on test") {
		t.Fatalf("caption %q has no attribution", caption)
	}

	// The fetch was counted.
	u, err := b.Store.User(ctx, 100)
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, u.FetchCount, 1)

	// The user was told how many fetches remain.
	sent := callsTo(got, "sendMessage")
	testutil.AssertEqual(t, len(sent), 1)
	if text := sent[0].Body["text"].(string); !strings.Contains(text, "4 wallpapers left") {
		t.Fatalf("want a remaining-fetches notice, got %q", text)
	}
}

func TestAdminBan(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	ctx := context.Background()

	testutil.AssertNilError(t, b.Store.SaveUser(ctx, store.User{ID: 100, Tier: store.TierFree, JoinedAt: time.Now()}))

	// Admin commands are rejected for regular users.
	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(100, "/ban 100")))
	sent := callsTo(calls(), "sendMessage")
	testutil.AssertEqual(t, len(sent), 1)
	if text := sent[0].Body["text"].(string); !strings.Contains(text, "Unknown command") {
		t.Fatalf("want an unknown command reply, got %q", text)
	}

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/ban 100")))
	u, err := b.Store.User(ctx, 100)
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, u.Banned, true)

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/unban 100")))
	u, err = b.Store.User(ctx, 100)
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, u.Banned, false)
}

func TestAdminPremium(t *testing.T) {
	t.Parallel()

	b, _ := testBot(t)
	ctx := context.Background()

	testutil.AssertNilError(t, b.Store.SaveUser(ctx, store.User{ID: 100, Tier: store.TierFree, JoinedAt: time.Now()}))

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/addpremium 100 30")))
	u, err := b.Store.User(ctx, 100)
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, u.Tier, store.TierPremium)
	if u.PremiumUntil.IsZero() {
		t.Fatal("premium with a day count must expire")
	}

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/removepremium 100")))
	u, err = b.Store.User(ctx, 100)
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, u.Tier, store.TierFree)
	testutil.AssertEqual(t, u.PremiumUntil.IsZero(), true)
}

func TestScheduleCommands(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	ctx := context.Background()

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/schedule add -100123 hourly nature")))

	schedules, err := b.Store.Schedules(ctx)
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, len(schedules), 1)
	testutil.AssertEqual(t, schedules[0].ChannelID, int64(-100123))
	testutil.AssertEqual(t, schedules[0].Interval, store.IntervalHourly)
	testutil.AssertEqual(t, schedules[0].Category, "nature")
	testutil.AssertEqual(t, schedules[0].Active, true)

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/schedule remove "+schedules[0].ID)))
	schedules, err = b.Store.Schedules(ctx)
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, len(schedules), 0)

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/schedule add -100123 weekly")))
	sent := callsTo(calls(), "sendMessage")
	if text := sent[len(sent)-1].Body["text"].(string); !strings.Contains(text, "not a valid interval") {
		t.Fatalf("want an invalid interval reply, got %q", text)
	}
}

// broadcastRecipients returns the chat IDs that received text.
func broadcastRecipients(calls []apiCall, text string) []int64 {
	var ids []int64
	for _, c := range callsTo(calls, "sendMessage") {
		if c.Body["text"] == text {
			ids = append(ids, int64(c.Body["chat_id"].(float64)))
		}
	}
	return ids
}

func TestBroadcastDM(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	ctx := context.Background()

	now := time.Now().UTC()
	testutil.AssertNilError(t, b.Store.SaveUser(ctx, store.User{ID: 100, Tier: store.TierFree, JoinedAt: now}))
	testutil.AssertNilError(t, b.Store.SaveUser(ctx, store.User{ID: 101, Tier: store.TierPremium, JoinedAt: now}))
	testutil.AssertNilError(t, b.Store.SaveUser(ctx, store.User{ID: 102, Tier: store.TierFree, Banned: true, JoinedAt: now}))

	// Without a tier selector everyone not banned gets the message,
	// including the whole rest of the arguments.
	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/broadcast dm hello everyone")))
	// Recipients plus the sender; banned users are skipped.
	testutil.AssertEqual(t, len(broadcastRecipients(calls(), "hello everyone")), 3)

	// A tier selector narrows the recipients.
	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/broadcast dm premium thanks for subscribing")))
	got := broadcastRecipients(calls(), "thanks for subscribing")
	testutil.AssertEqual(t, got, []int64{101})
}

func TestBroadcastGroup(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	ctx := context.Background()

	now := time.Now().UTC()
	testutil.AssertNilError(t, b.Store.SaveUser(ctx, store.User{ID: 200, Tier: store.TierFree, JoinedAt: now}))
	testutil.AssertNilError(t, b.Store.SaveSchedule(ctx, store.Schedule{ID: "a", ChannelID: -100500, Interval: store.IntervalDaily, Active: true}))
	testutil.AssertNilError(t, b.Store.SaveSchedule(ctx, store.Schedule{ID: "b", ChannelID: -100500, Interval: store.IntervalHourly, Active: true}))
	testutil.AssertNilError(t, b.Store.SaveSchedule(ctx, store.Schedule{ID: "c", ChannelID: -100600, Interval: store.IntervalDaily}))

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/broadcast group hello channels")))

	// Only the active schedule channel, once, and no user DMs.
	got := broadcastRecipients(calls(), "hello channels")
	testutil.AssertEqual(t, got, []int64{-100500})
}

func TestBroadcastChannelList(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	ctx := context.Background()

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/broadcast channel -100500,-100600 big news")))
	got := broadcastRecipients(calls(), "big news")
	testutil.AssertEqual(t, got, []int64{-100500, -100600})

	// A bad mode prints the usage.
	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/broadcast everywhere hi")))
	sent := callsTo(calls(), "sendMessage")
	if text := sent[len(sent)-1].Body["text"].(string); !strings.Contains(text, "Usage:") {
		t.Fatalf("want the usage reply, got %q", text)
	}
}

func TestUsersFilter(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	ctx := context.Background()

	now := time.Now().UTC()
	testutil.AssertNilError(t, b.Store.SaveUser(ctx, store.User{ID: 100, Username: "alice", Tier: store.TierFree, JoinedAt: now}))
	testutil.AssertNilError(t, b.Store.SaveUser(ctx, store.User{ID: 101, Username: "bob", Tier: store.TierPremium, JoinedAt: now}))
	testutil.AssertNilError(t, b.Store.SaveUser(ctx, store.User{ID: 102, Username: "carol", Tier: store.TierFree, Banned: true, JoinedAt: now}))

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/users premium")))
	sent := callsTo(calls(), "sendMessage")
	text := sent[len(sent)-1].Body["text"].(string)
	if !strings.Contains(text, "1 premium users") || !strings.Contains(text, "bob") {
		t.Fatalf("want only the premium user listed, got %q", text)
	}
	if strings.Contains(text, "alice") {
		t.Fatalf("free user leaked into the premium listing: %q", text)
	}

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/users banned")))
	sent = callsTo(calls(), "sendMessage")
	text = sent[len(sent)-1].Body["text"].(string)
	if !strings.Contains(text, "carol") {
		t.Fatalf("want the banned user listed, got %q", text)
	}

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(1, "/users whales")))
	sent = callsTo(calls(), "sendMessage")
	if text := sent[len(sent)-1].Body["text"].(string); !strings.Contains(text, "Usage: /users") {
		t.Fatalf("want the usage reply, got %q", text)
	}
}

func TestFeedbackSavesReport(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	ctx := context.Background()

	testutil.AssertNilError(t, b.HandleUpdate(ctx, message(100, "/report the search is broken")))

	reports, err := b.Store.Reports(ctx)
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, len(reports), 1)
	testutil.AssertEqual(t, reports[0].UserID, int64(100))
	testutil.AssertEqual(t, reports[0].Kind, "report")
	testutil.AssertEqual(t, reports[0].Text, "the search is broken")
	if reports[0].ID == "" {
		t.Fatal("report has no ID")
	}

	sent := callsTo(calls(), "sendMessage")
	testutil.AssertEqual(t, len(sent), 2)
	// The owner notification carries the report ID.
	owner := sent[0]
	testutil.AssertEqual(t, owner.Body["chat_id"].(float64), float64(1))
	if text := owner.Body["text"].(string); !strings.Contains(text, reports[0].ID) {
		t.Fatalf("owner notification %q doesn't mention the report ID", text)
	}
	if text := sent[1].Body["text"].(string); !strings.Contains(text, "Thanks") {
		t.Fatalf("want a thank-you reply, got %q", text)
	}
}

func TestCallbacks(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	ctx := context.Background()

	update := telegram.Update{
		ID: 1,
		CallbackQuery: &telegram.CallbackQuery{
			ID:   "q1",
			From: telegram.User{ID: 100, FirstName: "Alice"},
			Message: &telegram.Message{
				ID:   2,
				Chat: telegram.Chat{ID: 100, Type: "private"},
			},
			Data: cbMyPlan,
		},
	}
	testutil.AssertNilError(t, b.HandleUpdate(ctx, update))

	got := calls()
	edits := callsTo(got, "editMessageText")
	testutil.AssertEqual(t, len(edits), 1)
	if text := edits[0].Body["text"].(string); !strings.Contains(text, "Your plan: Free") {
		t.Fatalf("want the plan summary, got %q", text)
	}
	testutil.AssertEqual(t, len(callsTo(got, "answerCallbackQuery")), 1)
}

func TestCallbackRateLimit(t *testing.T) {
	t.Parallel()

	b, calls := testBot(t)
	b.Limiter = ratelimit.NewMemory(RateLimitInterval)
	ctx := context.Background()

	update := telegram.Update{
		ID: 1,
		CallbackQuery: &telegram.CallbackQuery{
			ID:   "q1",
			From: telegram.User{ID: 100, FirstName: "Alice"},
			Message: &telegram.Message{
				ID:   2,
				Chat: telegram.Chat{ID: 100, Type: "private"},
			},
			Data: cbMyPlan,
		},
	}
	testutil.AssertNilError(t, b.HandleUpdate(ctx, update))
	testutil.AssertNilError(t, b.HandleUpdate(ctx, update))

	got := calls()
	// The second press within the interval is answered but not served.
	testutil.AssertEqual(t, len(callsTo(got, "editMessageText")), 1)
	testutil.AssertEqual(t, len(callsTo(got, "answerCallbackQuery")), 2)
}

func TestPlanText(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	free := &store.User{Tier: store.TierFree}
	if got := planText(free, now); !strings.Contains(got, "5 of 5") {
		t.Fatalf("free plan summary %q doesn't show the limit", got)
	}

	premium := &store.User{Tier: store.TierPremium}
	if got := planText(premium, now); !strings.Contains(got, "unlimited") {
		t.Fatalf("premium plan summary %q doesn't say unlimited", got)
	}
}

func TestCategoriesKeyboard(t *testing.T) {
	t.Parallel()

	kb := categoriesKeyboard()
	var buttons int
	for _, row := range kb.InlineKeyboard {
		buttons += len(row)
	}
	// All categories plus the back button.
	testutil.AssertEqual(t, buttons, len(Categories)+1)

	for _, row := range kb.InlineKeyboard[:len(kb.InlineKeyboard)-1] {
		for _, btn := range row {
			if !strings.HasPrefix(btn.CallbackData, cbFetchPrefix) {
				t.Fatalf("button %q has unexpected callback data %q", btn.Text, btn.CallbackData)
			}
		}
	}
}
