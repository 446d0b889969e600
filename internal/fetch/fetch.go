// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package fetch retrieves random wallpapers from photo providers, falling
// back from one provider to the next until a valid image is found.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"go.astrophena.name/wallbot/internal/logger"
	"go.astrophena.name/wallbot/internal/request"
	"go.astrophena.name/wallbot/internal/version"

	// Image formats accepted for wallpapers.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Wallpaper quality requirements.
const (
	MinWidth  = 1920
	MinHeight = 1080
	MaxBytes  = 20 << 20 // 20 MB
)

// ErrNoWallpaper is returned when every provider failed to produce a valid
// wallpaper.
var ErrNoWallpaper = errors.New("fetch: no provider returned a valid wallpaper")

// Wallpaper is a single image returned by a provider.
type Wallpaper struct {
	Title     string
	Author    string
	AuthorURL string
	Source    string // provider name, e.g. "Unsplash"
	URL       string // direct image URL
	PageURL   string // page to link in the caption
	Width     int
	Height    int
}

// Caption formats the Telegram caption for a wallpaper.
func (w *Wallpaper) Caption() string {
	title := w.Title
	if title == "" {
		title = "Wallpaper"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s | %d×%d | Photo by %s on %s\n", title, w.Width, w.Height, w.Author, w.Source)
	fmt.Fprintf(&sb, "Download: %s", w.PageURL)
	return sb.String()
}

// Provider returns random wallpapers from a single photo API.
type Provider interface {
	// Name returns a human-readable provider name.
	Name() string
	// Random returns a random wallpaper matching the query. The returned
	// wallpaper is not yet validated.
	Random(ctx context.Context, query string) (Wallpaper, error)
}

// Fetcher tries providers in order until one returns a wallpaper that
// passes validation.
//
// All fields of Fetcher can't be modified after the first call to Fetch.
type Fetcher struct {
	// Providers are tried in order. At least one must be set.
	Providers []Provider
	// Extra optionally returns more providers to try after Providers,
	// e.g. sources added by the bot owners at runtime. It is called on
	// every Fetch.
	Extra func(ctx context.Context) []Provider
	// HTTPClient is used to download images for validation. If nil,
	// request.DefaultClient is used.
	HTTPClient *http.Client
	// Logf specifies a logger to use. If nil, log.Printf is used.
	Logf logger.Logf
}

func (f *Fetcher) logf(format string, args ...any) {
	if f.Logf == nil {
		f.Logf = log.Printf
	}
	f.Logf(format, args...)
}

// Fetch returns a validated random wallpaper for the query. Providers are
// tried in order; a provider error or an invalid image moves on to the next
// one.
func (f *Fetcher) Fetch(ctx context.Context, query string) (Wallpaper, error) {
	query = SanitizeQuery(query)
	providers := f.Providers
	if f.Extra != nil {
		providers = append(slices.Clone(providers), f.Extra(ctx)...)
	}
	for _, p := range providers {
		w, err := p.Random(ctx, query)
		if err != nil {
			f.logf("fetch: %s: %v", p.Name(), err)
			observeFetch(p.Name(), "error")
			continue
		}
		if err := f.validate(ctx, &w); err != nil {
			f.logf("fetch: %s returned an invalid image: %v", p.Name(), err)
			observeFetch(p.Name(), "invalid")
			continue
		}
		observeFetch(p.Name(), "ok")
		return w, nil
	}
	return Wallpaper{}, ErrNoWallpaper
}

// validate downloads the image and checks its format, size and dimensions,
// filling in Width and Height if the provider didn't report them.
func (f *Fetcher) validate(ctx context.Context, w *Wallpaper) error {
	if w.URL == "" {
		return errors.New("empty image URL")
	}
	if w.Width > 0 && w.Height > 0 && (w.Width < MinWidth || w.Height < MinHeight) {
		return fmt.Errorf("image is %d×%d, need at least %d×%d", w.Width, w.Height, MinWidth, MinHeight)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	httpc := f.HTTPClient
	if httpc == nil {
		httpc = request.DefaultClient
	}
	res, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading image: HTTP %d", res.StatusCode)
	}

	// Reject oversized images before downloading anything. Not every
	// server reports Content-Length, so the limited reader below still
	// backs this up.
	if res.ContentLength > MaxBytes {
		return fmt.Errorf("image is %d bytes, exceeds %d", res.ContentLength, MaxBytes)
	}

	b, err := io.ReadAll(io.LimitReader(res.Body, MaxBytes+1))
	if err != nil {
		return err
	}
	if len(b) > MaxBytes {
		return fmt.Errorf("image exceeds %d bytes", MaxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("decoding image: %v", err)
	}
	switch format {
	case "jpeg", "png", "webp":
	default:
		return fmt.Errorf("unsupported image format %q", format)
	}
	if cfg.Width < MinWidth || cfg.Height < MinHeight {
		return fmt.Errorf("image is %d×%d, need at least %d×%d", cfg.Width, cfg.Height, MinWidth, MinHeight)
	}

	w.Width = cfg.Width
	w.Height = cfg.Height
	return nil
}

var queryAllowed = regexp.MustCompile(`[^a-z0-9 _-]+`)

// DefaultCategory is the search query used when the user didn't provide
// one, or when sanitizing ate the whole query.
const DefaultCategory = "nature"

// SanitizeQuery normalizes a user-supplied search query, dropping
// characters that photo APIs choke on. An empty result falls back to
// [DefaultCategory].
func SanitizeQuery(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	q = queryAllowed.ReplaceAllString(q, "")
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > 50 {
		q = strings.TrimSpace(q[:50])
	}
	if q == "" {
		return DefaultCategory
	}
	return q
}
