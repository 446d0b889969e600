// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.astrophena.name/wallbot/internal/cli"
	"go.astrophena.name/wallbot/internal/testutil"
	"go.astrophena.name/wallbot/internal/web"
)

func testEnv(vars map[string]string) *cli.Env {
	return &cli.Env{
		Getenv: func(key string) string { return vars[key] },
		Stdin:  strings.NewReader(""),
		Stdout: io.Discard,
		Stderr: io.Discard,
	}
}

func TestRunWithoutToken(t *testing.T) {
	t.Parallel()

	e := new(engine)
	err := e.Run(context.Background(), testEnv(nil))
	if !errors.Is(err, errNoToken) {
		t.Fatalf("want errNoToken, got %v", err)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	t.Parallel()

	e := new(engine)
	env := testEnv(nil)
	env.Args = []string{"frobnicate"}
	err := e.Run(context.Background(), env)
	if !errors.Is(err, cli.ErrInvalidArgs) {
		t.Fatalf("want ErrInvalidArgs, got %v", err)
	}
}

// apiCall is one recorded request to the fake Bot API.
type apiCall struct {
	Method string
	Body   map[string]any
}

// fakeTelegram is a Bot API stub good enough for startup: it accepts
// webhook management calls, records them, and returns no updates.
func fakeTelegram(t *testing.T) (*httptest.Server, func() []apiCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []apiCall
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /bot123/{method}", func(w http.ResponseWriter, r *http.Request) {
		method := r.PathValue("method")
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls = append(calls, apiCall{Method: method, Body: body})
		mu.Unlock()

		switch method {
		case "getUpdates":
			// Pretend to long poll, so the polling loop doesn't spin.
			time.Sleep(50 * time.Millisecond)
			w.Write([]byte(`{"ok":true,"result":[]}`))
		default:
			w.Write([]byte(`{"ok":true,"result":true}`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, func() []apiCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]apiCall(nil), calls...)
	}
}

func TestStartup(t *testing.T) {
	t.Parallel()

	srv, calls := fakeTelegram(t)
	tmp := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := &engine{
		tgAPI:         srv.URL,
		dbPath:        filepath.Join(tmp, "wallbot.db"),
		logsDir:       filepath.Join(tmp, "logs"),
		noServerStart: true,
		ready:         cancel,
	}
	err := e.Run(ctx, testEnv(map[string]string{
		"TELEGRAM_TOKEN": "123",
	}))
	testutil.AssertNilError(t, err)

	// The logs directory and the log file were created.
	if _, err := os.Stat(filepath.Join(tmp, "logs", "bot.log")); err != nil {
		t.Fatalf("log file wasn't created: %v", err)
	}
	// The SQLite database was created.
	if _, err := os.Stat(filepath.Join(tmp, "wallbot.db")); err != nil {
		t.Fatalf("database wasn't created: %v", err)
	}

	// In polling mode the webhook is deleted together with any update
	// backlog accumulated while the bot was down.
	var deleted *apiCall
	for _, c := range calls() {
		if c.Method == "deleteWebhook" {
			deleted = &c
			break
		}
	}
	if deleted == nil {
		t.Fatal("deleteWebhook was never called")
	}
	testutil.AssertEqual(t, deleted.Body["drop_pending_updates"].(bool), true)
}

func TestHealthcheck(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	web.Health(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var out bytes.Buffer
	e := new(engine)
	env := testEnv(map[string]string{
		"ADDR": strings.TrimPrefix(srv.URL, "http://"),
	})
	env.Args = []string{"healthcheck"}
	env.Stdout = &out

	testutil.AssertNilError(t, e.Run(context.Background(), env))
	testutil.AssertEqual(t, strings.TrimSpace(out.String()), "ok")
}

func TestHealthcheckUnhealthy(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	web.Health(mux).RegisterFunc("store", func() (status string, ok bool) {
		return "connection refused", false
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := new(engine)
	env := testEnv(map[string]string{
		"ADDR": strings.TrimPrefix(srv.URL, "http://"),
	})
	env.Args = []string{"healthcheck"}

	err := e.Run(context.Background(), env)
	if err == nil {
		t.Fatal("want error, got nil")
	}
}
