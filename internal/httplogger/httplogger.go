// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger provides a http.RoundTripper that logs outgoing HTTP
// requests. It is wired into the bot's HTTP client with the -http-log flag
// and helps debugging misbehaving wallpaper providers.
package httplogger

import (
	"log"
	"net/http"
	"time"

	"go.astrophena.name/wallbot/internal/logger"
)

// New returns a http.RoundTripper that logs each request going through rt.
// If rt is nil, http.DefaultTransport is used. If logf is nil, log.Printf
// is used.
func New(rt http.RoundTripper, logf logger.Logf) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	if logf == nil {
		logf = log.Printf
	}
	return &transport{rt: rt, logf: logf}
}

type transport struct {
	rt   http.RoundTripper
	logf logger.Logf
}

func (t *transport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	res, err := t.rt.RoundTrip(r)
	dur := time.Since(start).Round(time.Millisecond)
	if err != nil {
		t.logf("HTTP: %s %s: %v (%v)", r.Method, r.URL.Redacted(), err, dur)
		return res, err
	}
	t.logf("HTTP: %s %s: %s (%v)", r.Method, r.URL.Redacted(), res.Status, dur)
	return res, nil
}
