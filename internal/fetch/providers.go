// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package fetch

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"

	"go.astrophena.name/wallbot/internal/request"
)

// Unsplash returns random wallpapers from the Unsplash API.
type Unsplash struct {
	Key        string
	API        string // if empty, https://api.unsplash.com
	HTTPClient *http.Client
	Scrubber   *strings.Replacer
}

// Name implements the [Provider] interface.
func (u *Unsplash) Name() string { return "Unsplash" }

// Random implements the [Provider] interface.
func (u *Unsplash) Random(ctx context.Context, query string) (Wallpaper, error) {
	api := u.API
	if api == "" {
		api = "https://api.unsplash.com"
	}

	type photo struct {
		Width          int    `json:"width"`
		Height         int    `json:"height"`
		Description    string `json:"description"`
		AltDescription string `json:"alt_description"`
		URLs           struct {
			Full string `json:"full"`
		} `json:"urls"`
		Links struct {
			HTML string `json:"html"`
		} `json:"links"`
		User struct {
			Name  string `json:"name"`
			Links struct {
				HTML string `json:"html"`
			} `json:"links"`
		} `json:"user"`
	}

	p, err := request.Make[photo](ctx, request.Params{
		Method: http.MethodGet,
		URL: api + "/photos/random?" + url.Values{
			"query":       {query},
			"orientation": {"landscape"},
		}.Encode(),
		Headers: map[string]string{
			"Authorization": "Client-ID " + u.Key,
		},
		HTTPClient: u.HTTPClient,
		Scrubber:   u.Scrubber,
	})
	if err != nil {
		return Wallpaper{}, err
	}

	title := p.Description
	if title == "" {
		title = p.AltDescription
	}
	return Wallpaper{
		Title:     title,
		Author:    p.User.Name,
		AuthorURL: p.User.Links.HTML,
		Source:    u.Name(),
		URL:       p.URLs.Full,
		PageURL:   p.Links.HTML,
		Width:     p.Width,
		Height:    p.Height,
	}, nil
}

// Pexels returns random wallpapers from the Pexels API.
type Pexels struct {
	Key        string
	API        string // if empty, https://api.pexels.com
	HTTPClient *http.Client
	Scrubber   *strings.Replacer
}

// Name implements the [Provider] interface.
func (p *Pexels) Name() string { return "Pexels" }

// Random implements the [Provider] interface.
func (p *Pexels) Random(ctx context.Context, query string) (Wallpaper, error) {
	api := p.API
	if api == "" {
		api = "https://api.pexels.com"
	}

	type photo struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		URL          string `json:"url"`
		Photographer string `json:"photographer"`
		Alt          string `json:"alt"`
		Src          struct {
			Original string `json:"original"`
		} `json:"src"`
	}
	type searchResponse struct {
		Photos []photo `json:"photos"`
	}

	res, err := request.Make[searchResponse](ctx, request.Params{
		Method: http.MethodGet,
		URL: api + "/v1/search?" + url.Values{
			"query":       {query},
			"per_page":    {"15"},
			"orientation": {"landscape"},
		}.Encode(),
		Headers: map[string]string{
			"Authorization": p.Key,
		},
		HTTPClient: p.HTTPClient,
		Scrubber:   p.Scrubber,
	})
	if err != nil {
		return Wallpaper{}, err
	}
	if len(res.Photos) == 0 {
		return Wallpaper{}, errors.New("no photos found")
	}

	ph := res.Photos[rand.IntN(len(res.Photos))]
	return Wallpaper{
		Title:   ph.Alt,
		Author:  ph.Photographer,
		Source:  p.Name(),
		URL:     ph.Src.Original,
		PageURL: ph.URL,
		Width:   ph.Width,
		Height:  ph.Height,
	}, nil
}

// Pixabay returns random wallpapers from the Pixabay API.
type Pixabay struct {
	Key        string
	API        string // if empty, https://pixabay.com
	HTTPClient *http.Client
	Scrubber   *strings.Replacer
}

// Name implements the [Provider] interface.
func (p *Pixabay) Name() string { return "Pixabay" }

// Random implements the [Provider] interface.
func (p *Pixabay) Random(ctx context.Context, query string) (Wallpaper, error) {
	api := p.API
	if api == "" {
		api = "https://pixabay.com"
	}

	type hit struct {
		PageURL       string `json:"pageURL"`
		Tags          string `json:"tags"`
		User          string `json:"user"`
		ImageWidth    int    `json:"imageWidth"`
		ImageHeight   int    `json:"imageHeight"`
		LargeImageURL string `json:"largeImageURL"`
	}
	type searchResponse struct {
		Hits []hit `json:"hits"`
	}

	res, err := request.Make[searchResponse](ctx, request.Params{
		Method: http.MethodGet,
		URL: api + "/api/?" + url.Values{
			"key":         {p.Key},
			"q":           {query},
			"image_type":  {"photo"},
			"orientation": {"horizontal"},
			"min_width":   {"1920"},
			"min_height":  {"1080"},
		}.Encode(),
		HTTPClient: p.HTTPClient,
		Scrubber:   p.Scrubber,
	})
	if err != nil {
		return Wallpaper{}, err
	}
	if len(res.Hits) == 0 {
		return Wallpaper{}, errors.New("no photos found")
	}

	h := res.Hits[rand.IntN(len(res.Hits))]
	return Wallpaper{
		Title:   h.Tags,
		Author:  h.User,
		Source:  p.Name(),
		URL:     h.LargeImageURL,
		PageURL: h.PageURL,
		Width:   h.ImageWidth,
		Height:  h.ImageHeight,
	}, nil
}

// Custom returns wallpapers from an API added by the bot owners at runtime.
//
// The API must respond to a GET request with a JSON object containing at
// least the image URL:
//
//	{"url": "...", "title": "...", "author": "...", "page_url": "...", "width": 0, "height": 0}
//
// The query replaces the {query} placeholder in the URL, and the key, if
// set, replaces {key}.
type Custom struct {
	SourceName string
	URL        string
	Key        string
	HTTPClient *http.Client
	Scrubber   *strings.Replacer
}

// Name implements the [Provider] interface.
func (c *Custom) Name() string { return c.SourceName }

// Random implements the [Provider] interface.
func (c *Custom) Random(ctx context.Context, query string) (Wallpaper, error) {
	u := strings.ReplaceAll(c.URL, "{query}", url.QueryEscape(query))
	u = strings.ReplaceAll(u, "{key}", url.QueryEscape(c.Key))

	type photo struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Author  string `json:"author"`
		PageURL string `json:"page_url"`
		Width   int    `json:"width"`
		Height  int    `json:"height"`
	}

	p, err := request.Make[photo](ctx, request.Params{
		Method:     http.MethodGet,
		URL:        u,
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
	if err != nil {
		return Wallpaper{}, err
	}
	if p.URL == "" {
		return Wallpaper{}, errors.New("response has no image URL")
	}

	pageURL := p.PageURL
	if pageURL == "" {
		pageURL = p.URL
	}
	return Wallpaper{
		Title:   p.Title,
		Author:  p.Author,
		Source:  c.SourceName,
		URL:     p.URL,
		PageURL: pageURL,
		Width:   p.Width,
		Height:  p.Height,
	}, nil
}
