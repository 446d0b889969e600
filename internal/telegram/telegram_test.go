// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.astrophena.name/wallbot/internal/request"
	"go.astrophena.name/wallbot/internal/testutil"
)

func TestGetMe(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /bot123/getMe", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"wallbot","username":"wallbot"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := &Client{Token: "123", API: srv.URL}
	me, err := c.GetMe(context.Background())
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, me, User{
		ID:        42,
		IsBot:     true,
		FirstName: "wallbot",
		Username:  "wallbot",
	})
}

func TestCallAPIError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /bot123/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := &Client{Token: "123", API: srv.URL}
	_, err := c.SendMessage(context.Background(), SendMessageParams{ChatID: 1, Text: "hi"})
	if err == nil {
		t.Fatal("want error, got nil")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("error %q doesn't mention the API description", err)
	}
}

func TestCallRetriesRateLimited(t *testing.T) {
	t.Parallel()

	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /bot123/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"parameters":{"retry_after":3}}`))
			return
		}
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var slept []time.Duration
	c := &Client{
		Token: "123",
		API:   srv.URL,
		sleep: func(d time.Duration) { slept = append(slept, d) },
	}

	m, err := c.SendMessage(context.Background(), SendMessageParams{ChatID: 1, Text: "hi"})
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, m.ID, int64(1))
	testutil.AssertEqual(t, calls, 2)
	testutil.AssertEqual(t, slept, []time.Duration{3 * time.Second})
}

func TestCallGivesUpAfterRetryLimit(t *testing.T) {
	t.Parallel()

	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /bot123/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"parameters":{"retry_after":1}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := &Client{
		Token: "123",
		API:   srv.URL,
		sleep: func(time.Duration) {},
	}

	_, err := c.SendMessage(context.Background(), SendMessageParams{ChatID: 1, Text: "hi"})
	if err == nil {
		t.Fatal("want error, got nil")
	}
	testutil.AssertEqual(t, calls, sendRetryLimit)
}

func TestWebhook(t *testing.T) {
	t.Parallel()

	var handled []Update
	h := Webhook("secret", t.Logf, func(_ context.Context, u Update) error {
		handled = append(handled, u)
		return nil
	})

	update := `{"update_id":1,"message":{"message_id":2,"chat":{"id":3,"type":"private"},"text":"hi"}}`

	cases := map[string]struct {
		secret     string
		body       string
		wantStatus int
	}{
		"valid": {
			secret:     "secret",
			body:       update,
			wantStatus: http.StatusOK,
		},
		"wrong secret": {
			secret:     "nope",
			body:       update,
			wantStatus: http.StatusUnauthorized,
		},
		"missing secret": {
			body:       update,
			wantStatus: http.StatusUnauthorized,
		},
		"bad JSON": {
			secret:     "secret",
			body:       "{",
			wantStatus: http.StatusBadRequest,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/telegram", bytes.NewBufferString(tc.body))
			if tc.secret != "" {
				r.Header.Set("X-Telegram-Bot-Api-Secret-Token", tc.secret)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			testutil.AssertEqual(t, w.Code, tc.wantStatus)
		})
	}

	testutil.AssertEqual(t, len(handled), 1)
	testutil.AssertEqual(t, handled[0].Message.Text, "hi")
}

func TestIsRateLimited(t *testing.T) {
	t.Parallel()

	retryable, _ := isRateLimited(context.Canceled)
	testutil.AssertEqual(t, retryable, false)

	se := &request.StatusError{
		StatusCode: http.StatusTooManyRequests,
		Body:       []byte(`{"ok":false,"parameters":{"retry_after":7}}`),
	}
	retryable, wait := isRateLimited(fmt.Errorf("sendMessage: %w", se))
	testutil.AssertEqual(t, retryable, true)
	testutil.AssertEqual(t, wait, 7*time.Second)
}
