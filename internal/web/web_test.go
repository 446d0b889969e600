// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.astrophena.name/wallbot/internal/testutil"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	h := Health(mux)

	// Registering on the same mux returns the same handler.
	testutil.AssertEqual(t, Health(mux) == h, true)

	h.RegisterFunc("store", func() (status string, ok bool) { return "ok", true })

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)

	testutil.AssertEqual(t, w.Code, http.StatusOK)
	testutil.AssertEqual(t, w.Header().Get("Content-Type"), "application/json")
	res := testutil.UnmarshalJSON[HealthResponse](t, w.Body.Bytes())
	testutil.AssertEqual(t, res.OK, true)
	testutil.AssertEqual(t, res.Checks["store"].Status, "ok")

	// A failing check flips the status code.
	h.RegisterFunc("telegram", func() (status string, ok bool) { return "timed out", false })
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, r)

	testutil.AssertEqual(t, w.Code, http.StatusInternalServerError)
	res = testutil.UnmarshalJSON[HealthResponse](t, w.Body.Bytes())
	testutil.AssertEqual(t, res.OK, false)
}

func TestHealthDuplicateCheckPanics(t *testing.T) {
	t.Parallel()

	h := Health(http.NewServeMux())
	h.RegisterFunc("store", func() (string, bool) { return "ok", true })

	defer func() {
		if recover() == nil {
			t.Fatal("want panic on duplicate registration")
		}
	}()
	h.RegisterFunc("store", func() (string, bool) { return "ok", true })
}

func TestRespondError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err        error
		wantStatus int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrBadRequest, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("wrapping: %w", ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("plain error"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		RespondError(t.Logf, w, tc.err)
		testutil.AssertEqual(t, w.Code, tc.wantStatus)
		if !strings.Contains(w.Body.String(), `"status": "error"`) {
			t.Fatalf("body %q is not an error response", w.Body.String())
		}
	}
}

func TestDebugger(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	dbg := Debugger(t.Logf, mux)

	// Registering on the same mux returns the same handler.
	testutil.AssertEqual(t, Debugger(t.Logf, mux) == dbg, true)

	dbg.KV("Pi", 3.14)
	dbg.HandleFunc("hello", "Hello", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "hello")
	})

	r := httptest.NewRequest(http.MethodGet, "/debug/", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)

	testutil.AssertEqual(t, w.Code, http.StatusOK)
	body := w.Body.String()
	for _, want := range []string{"Pi: 3.14", "/debug/hello", "Uptime"} {
		if !strings.Contains(body, want) {
			t.Fatalf("debug index %q doesn't contain %q", body, want)
		}
	}

	r = httptest.NewRequest(http.MethodGet, "/debug/hello", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	testutil.AssertEqual(t, w.Body.String(), "hello\n")
}
