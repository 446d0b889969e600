// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"net/url"
	"runtime"
	"slices"
	"sync"
	"time"

	"go.astrophena.name/wallbot/internal/logger"
	"go.astrophena.name/wallbot/internal/version"
)

// DebugHandler is an [http.Handler] that serves a debugging "homepage" at
// /debug/, and provides helpers to register more debug endpoints and
// reports.
//
// The rendered page consists of informational key/value pairs and links to
// other pages.
//
// Methods of DebugHandler can be safely called by multiple goroutines.
type DebugHandler struct {
	mux     *http.ServeMux // where this handler is registered
	logf    logger.Logf
	mu      sync.RWMutex // covers all fields below; mux is protected by its own mutex
	kvfuncs []kvfunc
	links   []link
}

type (
	kvfunc struct {
		k string
		v func() any
	}
	link struct{ url, desc string }
)

// Debugger returns the [DebugHandler] registered on mux at /debug/, creating
// it if necessary.
func Debugger(logf logger.Logf, mux *http.ServeMux) *DebugHandler {
	h, pat := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/"}})
	if d, ok := h.(*DebugHandler); ok && pat == "/debug/" {
		return d
	}
	ret := &DebugHandler{mux: mux, logf: logf}
	mux.Handle("/debug/", ret)

	ret.KVFunc("Version", func() any { return version.Version().Version })
	ret.KVFunc("Uptime", uptime)
	ret.Handle("pprof/", "pprof", http.HandlerFunc(pprof.Index))
	ret.Link("/debug/pprof/goroutine?debug=1", "Goroutines (collapsed)")
	ret.Handle("gc", "Force GC", http.HandlerFunc(serveGC))
	// The /pprof/ index already covers it, no need for another line of
	// output on the index page.
	mux.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))

	return ret
}

func serveGC(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Running GC...\n"))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	runtime.GC()
	w.Write([]byte("Done.\n"))
}

var timeStart = time.Now()

func uptime() any { return time.Since(timeStart).Round(time.Second).String() }

// ServeHTTP implements the [http.Handler] interface. It serves the debug
// index page as plain text.
func (d *DebugHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/debug/" {
		RespondError(d.logf, w, ErrNotFound)
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s debug\n\n", version.CmdName())
	for _, kv := range d.kvfuncs {
		fmt.Fprintf(w, "%s: %v\n", kv.k, kv.v())
	}
	fmt.Fprintln(w)
	for _, l := range d.links {
		fmt.Fprintf(w, "%s\t%s\n", l.url, l.desc)
	}
}

// KV adds a key/value pair to the debug index page.
func (d *DebugHandler) KV(k string, v any) {
	d.KVFunc(k, func() any { return v })
}

// KVFunc adds a key/value pair to the debug index page, where the value is
// computed on each page load.
func (d *DebugHandler) KVFunc(k string, v func() any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kvfuncs = append(d.kvfuncs, kvfunc{k, v})
}

// Link adds a link to the debug index page.
func (d *DebugHandler) Link(url, desc string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.links = append(d.links, link{url, desc})
	slices.SortFunc(d.links, func(a, b link) int {
		if a.desc < b.desc {
			return -1
		}
		if a.desc > b.desc {
			return 1
		}
		return 0
	})
}

// Handle registers handler at /debug/<slug> and adds a link to it on the
// debug index page with the provided description.
func (d *DebugHandler) Handle(slug, desc string, handler http.Handler) {
	href := "/debug/" + slug
	d.mux.Handle(href, handler)
	d.Link(href, desc)
}

// HandleFunc is like [DebugHandler.Handle], but accepts a function.
func (d *DebugHandler) HandleFunc(slug, desc string, handler http.HandlerFunc) {
	d.Handle(slug, desc, handler)
}
