// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.astrophena.name/wallbot/internal/cli"
	"go.astrophena.name/wallbot/internal/request"
	"go.astrophena.name/wallbot/internal/version"
	"go.astrophena.name/wallbot/internal/web"
)

const healthcheckTimeout = 10 * time.Second

// healthcheck probes the /health endpoint of a running wallbot and fails
// when it is unhealthy. Docker runs it as the container health check.
func (e *engine) healthcheck(ctx context.Context, env *cli.Env) error {
	addr := e.addr
	if addr == "" {
		if port := env.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = cmp.Or(env.Getenv("ADDR"), "localhost:3000")
		}
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	ctx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
	defer cancel()

	health, err := request.Make[web.HealthResponse](ctx, request.Params{
		Method: http.MethodGet,
		URL:    "http://" + addr + "/health",
		Headers: map[string]string{
			"User-Agent": version.UserAgent(),
		},
		HTTPClient: e.httpc,
	})
	if err != nil {
		// The health endpoint responds with HTTP 500 when any check
		// fails, which surfaces here as a status error with the JSON
		// body attached.
		return fmt.Errorf("healthcheck: %w", err)
	}
	if !health.OK {
		var failed []string
		for name, check := range health.Checks {
			if !check.OK {
				failed = append(failed, fmt.Sprintf("%s: %s", name, check.Status))
			}
		}
		return fmt.Errorf("healthcheck: unhealthy: %s", strings.Join(failed, "; "))
	}

	fmt.Fprintln(env.Stdout, "ok")
	return nil
}
